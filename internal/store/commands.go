package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"

	"entitlement-backend/internal/model"
)

// claimPendingSQL hands at most n pending commands of one code to a single
// caller. SKIP LOCKED lets concurrent pollers take disjoint rows instead of
// blocking; the outer status check rejects rows another transaction flipped
// in between.
const claimPendingSQL = `UPDATE device_commands SET status = 'sent', sent_at = ? ` +
	`WHERE id IN (SELECT id FROM device_commands WHERE pickup_code = ? AND status = 'pending' ` +
	`ORDER BY created_at, id LIMIT ? FOR UPDATE SKIP LOCKED) AND status = 'pending' ` +
	`RETURNING id, pickup_code, command_type, payload, status, created_at, sent_at`

func (s *gormStore) EnqueueCommand(ctx context.Context, cmd *model.DeviceCommand) error {
	if cmd.Status == "" {
		cmd.Status = model.CommandPending
	}
	if err := s.db.WithContext(ctx).Create(cmd).Error; err != nil {
		return fmt.Errorf("failed to enqueue %s command for %s: %w", cmd.CommandType, cmd.PickupCode, err)
	}
	return nil
}

// ClaimPending atomically flips up to limit pending commands of code to sent
// and returns them oldest first. A row is returned to at most one caller.
func (s *gormStore) ClaimPending(ctx context.Context, code string, limit int, now time.Time) ([]model.DeviceCommand, error) {
	if limit <= 0 {
		return nil, nil
	}

	var (
		claimed []model.DeviceCommand
		err     error
	)
	if s.db.Dialector.Name() == "postgres" {
		claimed, err = s.claimReturning(ctx, code, limit, now)
	} else {
		claimed, err = s.claimCompareAndSet(ctx, code, limit, now)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim commands for %s: %w", code, err)
	}

	// RETURNING does not preserve the subquery order.
	sort.Slice(claimed, func(i, j int) bool {
		if claimed[i].CreatedAt.Equal(claimed[j].CreatedAt) {
			return claimed[i].ID < claimed[j].ID
		}
		return claimed[i].CreatedAt.Before(claimed[j].CreatedAt)
	})
	return claimed, nil
}

func (s *gormStore) claimReturning(ctx context.Context, code string, limit int, now time.Time) ([]model.DeviceCommand, error) {
	var claimed []model.DeviceCommand
	if err := s.db.WithContext(ctx).Raw(claimPendingSQL, now, code, limit).Scan(&claimed).Error; err != nil {
		return nil, err
	}
	return claimed, nil
}

// claimCompareAndSet is the portable fallback: each candidate is flipped with
// its own conditional update and kept only if this caller won it. The whole
// claim is one transaction, so a failed update leaves every row pending.
func (s *gormStore) claimCompareAndSet(ctx context.Context, code string, limit int, now time.Time) ([]model.DeviceCommand, error) {
	var claimed []model.DeviceCommand
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var candidates []model.DeviceCommand
		err := tx.Where("pickup_code = ? AND status = ?", code, model.CommandPending).
			Order("created_at, id").
			Limit(limit).
			Find(&candidates).Error
		if err != nil {
			return err
		}

		claimed = make([]model.DeviceCommand, 0, len(candidates))
		for _, cmd := range candidates {
			res := tx.Model(&model.DeviceCommand{}).
				Where("id = ? AND status = ?", cmd.ID, model.CommandPending).
				Updates(map[string]any{"status": model.CommandSent, "sent_at": now})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 1 {
				sentAt := now
				cmd.Status = model.CommandSent
				cmd.SentAt = &sentAt
				claimed = append(claimed, cmd)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// CommandHistory returns the most recent commands of a code regardless of status.
func (s *gormStore) CommandHistory(ctx context.Context, code string, limit int) ([]model.DeviceCommand, error) {
	var cmds []model.DeviceCommand
	err := s.db.WithContext(ctx).
		Where("pickup_code = ?", code).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&cmds).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load command history for %s: %w", code, err)
	}
	return cmds, nil
}
