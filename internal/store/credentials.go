package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"entitlement-backend/internal/model"
)

// GetBinding loads a pickup code together with its customer.
func (s *gormStore) GetBinding(ctx context.Context, code string) (*model.PickupCode, error) {
	var pc model.PickupCode
	err := s.db.WithContext(ctx).Preload("Customer").First(&pc, "pickup_code = ?", code).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &pc, nil
}

// BindDevice sets the device id of an unbound code. It reports false when the
// code was already bound; the existing binding is never overwritten.
func (s *gormStore) BindDevice(ctx context.Context, code, deviceID string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&model.PickupCode{}).
		Where("pickup_code = ? AND device_id IS NULL", code).
		Update("device_id", deviceID)
	if res.Error != nil {
		return false, fmt.Errorf("failed to bind device %s to %s: %w", deviceID, code, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// RecordHeartbeat replaces the telemetry columns of a code and stamps the
// heartbeat time.
func (s *gormStore) RecordHeartbeat(ctx context.Context, code string, t Telemetry, now time.Time) error {
	updates := map[string]any{
		"device_model":   t.DeviceModel,
		"app_version":    t.AppVersion,
		"os_version":     t.OSVersion,
		"monitor_data":   t.MonitorData,
		"last_heartbeat": now,
	}
	if t.ConfigSnapshot != nil {
		updates["config_snapshot"] = t.ConfigSnapshot
	}
	if t.LastPublishTime != nil {
		updates["last_publish_time"] = *t.LastPublishTime
	}

	res := s.db.WithContext(ctx).Model(&model.PickupCode{}).
		Where("pickup_code = ?", code).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to record heartbeat for %s: %w", code, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UnbindDevice clears the device binding so the next device may claim the code.
func (s *gormStore) UnbindDevice(ctx context.Context, code string) error {
	res := s.db.WithContext(ctx).Model(&model.PickupCode{}).
		Where("pickup_code = ?", code).
		Update("device_id", gorm.Expr("NULL"))
	if res.Error != nil {
		return fmt.Errorf("failed to unbind %s: %w", code, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *gormStore) UpdatePickupCode(ctx context.Context, code string, upd CodeUpdate) (*model.PickupCode, error) {
	updates := map[string]any{}
	if upd.IsActive != nil {
		updates["is_active"] = *upd.IsActive
	}
	if upd.DeviceAlias != nil {
		updates["device_alias"] = *upd.DeviceAlias
	}

	if len(updates) > 0 {
		res := s.db.WithContext(ctx).Model(&model.PickupCode{}).
			Where("pickup_code = ?", code).
			Updates(updates)
		if res.Error != nil {
			return nil, fmt.Errorf("failed to update %s: %w", code, res.Error)
		}
		if res.RowsAffected == 0 {
			return nil, ErrNotFound
		}
	}
	return s.GetBinding(ctx, code)
}

// CreatePickupCodes inserts freshly generated codes in one transaction.
func (s *gormStore) CreatePickupCodes(ctx context.Context, codes []model.PickupCode) error {
	if len(codes) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(&codes).Error; err != nil {
			return fmt.Errorf("failed to create pickup codes: %w", err)
		}
		return nil
	})
}

func (s *gormStore) GetCustomer(ctx context.Context, id int64) (*model.Customer, error) {
	var c model.Customer
	if err := s.db.WithContext(ctx).First(&c, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (s *gormStore) ListCustomerCodes(ctx context.Context, customerID int64) ([]model.PickupCode, error) {
	var codes []model.PickupCode
	err := s.db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("created_at, pickup_code").
		Find(&codes).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list codes of customer %d: %w", customerID, err)
	}
	return codes, nil
}

func (s *gormStore) GetDeviceToken(ctx context.Context, deviceID string) (*model.DeviceToken, error) {
	var tok model.DeviceToken
	if err := s.db.WithContext(ctx).First(&tok, "device_id = ?", deviceID).Error; err != nil {
		return nil, notFound(err)
	}
	return &tok, nil
}

// InsertDeviceToken stores a token unless one already exists for the device.
// It reports whether the row was inserted.
func (s *gormStore) InsertDeviceToken(ctx context.Context, tok *model.DeviceToken) (bool, error) {
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "device_id"}},
		DoNothing: true,
	}).Create(tok)
	if res.Error != nil {
		return false, fmt.Errorf("failed to insert device token for %s: %w", tok.DeviceID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ReplaceDeviceToken overwrites a stored token, used once the old one expired.
func (s *gormStore) ReplaceDeviceToken(ctx context.Context, tok *model.DeviceToken) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "device_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"token", "device_info", "expires_at", "updated_at"}),
	}).Create(tok).Error
	if err != nil {
		return fmt.Errorf("failed to replace device token for %s: %w", tok.DeviceID, err)
	}
	return nil
}
