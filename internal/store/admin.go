package store

import (
	"context"
	"fmt"

	"gorm.io/gorm/clause"

	"entitlement-backend/internal/model"
)

func (s *gormStore) AppendAdminLog(ctx context.Context, entry *model.AdminLog) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to append admin log: %w", err)
	}
	return nil
}

// PutSubscription creates or refreshes an operator push subscription.
func (s *gormStore) PutSubscription(ctx context.Context, sub *model.OperatorSubscription) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth", "operator"}),
	}).Create(sub).Error
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return nil
}

func (s *gormStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	res := s.db.WithContext(ctx).Where("endpoint = ?", endpoint).Delete(&model.OperatorSubscription{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete subscription: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *gormStore) ListSubscriptions(ctx context.Context) ([]model.OperatorSubscription, error) {
	var subs []model.OperatorSubscription
	if err := s.db.WithContext(ctx).Order("created_at").Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return subs, nil
}
