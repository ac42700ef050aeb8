// Package entitlement decides whether a pickup code may operate and mints the
// signed token the device caches for offline use.
package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/datatypes"

	"entitlement-backend/internal/metrics"
	"entitlement-backend/internal/model"
	"entitlement-backend/internal/store"
	"entitlement-backend/internal/token"
)

const dateLayout = "2006-01-02"

// Rejection reasons.
const (
	ReasonNotActive = "not_active"
	ReasonSuspended = "suspended"
)

var rejectionMessages = map[string]string{
	ReasonNotActive: "pickup code is invalid or deactivated",
	ReasonSuspended: "service suspended, contact the administrator",
}

// Decision is the outcome of evaluating one binding at one instant.
type Decision struct {
	Valid         bool
	Reason        string
	DaysRemaining int
	Status        GraceStatus
	Message       string
}

func reject(reason string) Decision {
	return Decision{Reason: reason, Message: rejectionMessages[reason]}
}

// Evaluate applies the state machine to a binding. A nil binding means the
// code is unknown. Suspension wins over any date arithmetic.
func Evaluate(pc *model.PickupCode, now time.Time, loc *time.Location) Decision {
	if pc == nil || !pc.IsActive {
		return reject(ReasonNotActive)
	}
	if pc.Customer.Suspended() {
		return reject(ReasonSuspended)
	}

	days := DaysBetween(pc.Customer.EndDate, now, loc)
	status := StatusFor(days)
	return Decision{
		Valid:         true,
		DaysRemaining: days,
		Status:        status,
		Message:       status.Message(),
	}
}

// Result is the full answer to an entitlement check.
type Result struct {
	Decision
	CustomerName   string
	Plan           string
	StartDate      string
	EndDate        string
	SignedToken    string
	ConfigSnapshot datatypes.JSON
}

// Store is the slice of the credential store the service needs.
type Store interface {
	GetBinding(ctx context.Context, code string) (*model.PickupCode, error)
	BindDevice(ctx context.Context, code, deviceID string) (bool, error)
}

type Service struct {
	store  Store
	codec  *token.Codec
	loc    *time.Location
	now    func() time.Time
	logger *slog.Logger
}

func NewService(s Store, codec *token.Codec, loc *time.Location, logger *slog.Logger) *Service {
	return &Service{store: s, codec: codec, loc: loc, now: time.Now, logger: logger}
}

// Check evaluates the code, binds deviceID on first use and signs a token for
// valid codes. Negative outcomes are values; only store failures are errors.
func (s *Service) Check(ctx context.Context, code, deviceID string) (*Result, error) {
	now := s.now()

	pc, err := s.store.GetBinding(ctx, code)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to load pickup code %s: %w", code, err)
	}

	d := Evaluate(pc, now, s.loc)
	if !d.Valid {
		metrics.EntitlementChecksTotal.WithLabelValues(d.Reason).Inc()
		return &Result{Decision: d}, nil
	}

	if deviceID != "" && pc.DeviceID == nil {
		bound, err := s.store.BindDevice(ctx, code, deviceID)
		if err != nil {
			return nil, err
		}
		if bound {
			s.logger.Info("device bound on entitlement check", "pickup_code", code, "device_id", deviceID)
		}
	}

	res := &Result{
		Decision:       d,
		CustomerName:   pc.Customer.Name,
		Plan:           pc.Customer.Plan,
		StartDate:      pc.Customer.StartDate.Format(dateLayout),
		EndDate:        pc.Customer.EndDate.Format(dateLayout),
		ConfigSnapshot: pc.ConfigSnapshot,
	}

	res.SignedToken, err = s.codec.IssueAt(token.Claims{
		PickupCode:   pc.Code,
		CustomerName: res.CustomerName,
		Plan:         res.Plan,
		EndDate:      res.EndDate,
		GraceStatus:  string(d.Status),
	}, now)
	if err != nil {
		return nil, fmt.Errorf("failed to sign entitlement token: %w", err)
	}

	metrics.EntitlementChecksTotal.WithLabelValues(string(d.Status)).Inc()
	return res, nil
}
