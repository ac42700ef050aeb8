// Package command queues operator intents for devices that only ever poll.
package command

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

var (
	ErrUnknownKind       = errors.New("unknown command type")
	ErrInvalidPayload    = errors.New("invalid command payload")
	ErrUnknownPickupCode = errors.New("unknown pickup code")
)

const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

// Store is the slice of the store the queue needs.
type Store interface {
	GetBinding(ctx context.Context, code string) (*model.PickupCode, error)
	EnqueueCommand(ctx context.Context, cmd *model.DeviceCommand) error
	ClaimPending(ctx context.Context, code string, limit int, now time.Time) ([]model.DeviceCommand, error)
	CommandHistory(ctx context.Context, code string, limit int) ([]model.DeviceCommand, error)
}

type Queue struct {
	store  Store
	now    func() time.Time
	logger *slog.Logger
}

func NewQueue(s Store, logger *slog.Logger) *Queue {
	return &Queue{store: s, now: time.Now, logger: logger}
}

// Enqueue validates and stores a pending command, returning its id.
func (q *Queue) Enqueue(ctx context.Context, code, kind string, payload json.RawMessage) (int64, error) {
	k, err := ParseKind(kind)
	if err != nil {
		return 0, err
	}
	body, err := NormalizePayload(k, payload)
	if err != nil {
		return 0, err
	}

	if _, err := q.store.GetBinding(ctx, code); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, ErrUnknownPickupCode
		}
		return 0, fmt.Errorf("failed to look up %s: %w", code, err)
	}

	cmd := &model.DeviceCommand{
		PickupCode:  code,
		CommandType: string(k),
		Payload:     datatypes.JSON(body),
		Status:      model.CommandPending,
		CreatedAt:   q.now(),
	}
	if err := q.store.EnqueueCommand(ctx, cmd); err != nil {
		return 0, err
	}

	metrics.CommandsEnqueuedTotal.WithLabelValues(string(k)).Inc()
	q.logger.Info("command enqueued", "pickup_code", code, "type", k, "id", cmd.ID)
	return cmd.ID, nil
}

// ClaimPending hands up to limit pending commands of code to the caller,
// oldest first. A command is handed out at most once.
func (q *Queue) ClaimPending(ctx context.Context, code string, limit int) ([]model.DeviceCommand, error) {
	cmds, err := q.store.ClaimPending(ctx, code, limit, q.now())
	if err != nil {
		return nil, err
	}
	metrics.CommandsClaimedTotal.Add(float64(len(cmds)))
	return cmds, nil
}

// History returns the latest commands of code, newest first. The limit
// defaults to 20 and is capped at 100.
func (q *Queue) History(ctx context.Context, code string, limit int) ([]model.DeviceCommand, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	return q.store.CommandHistory(ctx, code, limit)
}
