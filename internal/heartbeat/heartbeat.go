// Package heartbeat ingests device telemetry and hands back queued commands.
package heartbeat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/datatypes"

	"entitlement-backend/internal/metrics"
	"entitlement-backend/internal/model"
	"entitlement-backend/internal/store"
)

const (
	// OnlineWindow is how recent a heartbeat must be for a device to count as online.
	OnlineWindow = 24 * time.Hour

	// ClaimBatch caps the commands returned per heartbeat.
	ClaimBatch = 10
)

// IsOnline reports whether a device that last beat at last is online at now.
func IsOnline(last *time.Time, now time.Time) bool {
	return last != nil && now.Sub(*last) < OnlineWindow
}

// Beat is one heartbeat as sent by a device.
type Beat struct {
	PickupCode      string
	DeviceID        string
	DeviceModel     string
	AppVersion      string
	OSVersion       string
	LastPublishTime *time.Time
	ConfigSnapshot  json.RawMessage
	MonitorData     json.RawMessage
}

// Result is what the device gets back.
type Result struct {
	Accepted       bool
	DeviceMismatch bool
	ServerTime     time.Time
	Commands       []model.DeviceCommand
}

// Store is the slice of the credential store heartbeats touch.
type Store interface {
	GetBinding(ctx context.Context, code string) (*model.PickupCode, error)
	BindDevice(ctx context.Context, code, deviceID string) (bool, error)
	RecordHeartbeat(ctx context.Context, code string, t store.Telemetry, now time.Time) error
}

// Claimer hands out pending commands.
type Claimer interface {
	ClaimPending(ctx context.Context, code string, limit int) ([]model.DeviceCommand, error)
}

type Service struct {
	store   Store
	claimer Claimer
	now     func() time.Time
	logger  *slog.Logger
}

func NewService(s Store, claimer Claimer, logger *slog.Logger) *Service {
	return &Service{store: s, claimer: claimer, now: time.Now, logger: logger}
}

// Heartbeat records the beat and claims pending commands for the code. An
// unknown code yields Accepted=false; only store failures are errors.
func (s *Service) Heartbeat(ctx context.Context, b Beat) (*Result, error) {
	now := s.now()
	res := &Result{ServerTime: now}

	pc, err := s.store.GetBinding(ctx, b.PickupCode)
	if errors.Is(err, store.ErrNotFound) {
		metrics.HeartbeatsTotal.WithLabelValues("unknown_code").Inc()
		return res, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load pickup code %s: %w", b.PickupCode, err)
	}

	if b.DeviceID != "" {
		switch bound := pc.BoundDevice(); {
		case bound == "":
			if _, err := s.store.BindDevice(ctx, b.PickupCode, b.DeviceID); err != nil {
				return nil, err
			}
		case bound != b.DeviceID:
			res.DeviceMismatch = true
			metrics.DeviceMismatchTotal.Inc()
			s.logger.Warn("heartbeat from a device other than the bound one",
				"pickup_code", b.PickupCode, "bound_device", bound, "device_id", b.DeviceID)
		}
	}

	t := store.Telemetry{
		DeviceModel:     b.DeviceModel,
		AppVersion:      b.AppVersion,
		OSVersion:       b.OSVersion,
		MonitorData:     rawJSON(b.MonitorData),
		ConfigSnapshot:  rawJSON(b.ConfigSnapshot),
		LastPublishTime: b.LastPublishTime,
	}
	if err := s.store.RecordHeartbeat(ctx, b.PickupCode, t, now); err != nil {
		return nil, err
	}

	res.Commands, err = s.claimer.ClaimPending(ctx, b.PickupCode, ClaimBatch)
	if err != nil {
		return nil, err
	}
	res.Accepted = true

	metrics.HeartbeatsTotal.WithLabelValues("accepted").Inc()
	s.logger.Debug("heartbeat recorded", "pickup_code", b.PickupCode, "commands", len(res.Commands))
	return res, nil
}

// rawJSON maps an absent or null document to nil.
func rawJSON(raw json.RawMessage) datatypes.JSON {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return datatypes.JSON(raw)
}
