package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/clause"

	"entitlement-backend/internal/model"
)

const incrementCounterSQL = `INSERT INTO rate_limit_counters (device_id, hour_bucket, request_count) VALUES (?, ?, 1) ` +
	`ON CONFLICT (device_id, hour_bucket) DO UPDATE SET request_count = rate_limit_counters.request_count + 1 ` +
	`RETURNING request_count`

// InsertReport writes the placeholder row of a report. It reports false when
// a report with the same request id already exists.
func (s *gormStore) InsertReport(ctx context.Context, rep *model.ErrorReport) (bool, error) {
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "request_id"}},
		DoNothing: true,
	}).Create(rep)
	if res.Error != nil {
		return false, fmt.Errorf("failed to insert report %s: %w", rep.RequestID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// FinishReport stores the body of an admitted report and marks it accepted.
func (s *gormStore) FinishReport(ctx context.Context, rep *model.ErrorReport) error {
	res := s.db.WithContext(ctx).Model(&model.ErrorReport{}).
		Where("request_id = ?", rep.RequestID).
		Updates(map[string]any{
			"status":             model.ReportAccepted,
			"reason":             "",
			"platform":           rep.Platform,
			"step":               rep.Step,
			"error_msg":          rep.ErrorMsg,
			"screenshot":         rep.Screenshot,
			"screenshot_omitted": rep.ScreenshotOmitted,
			"state":              rep.State,
			"ai_action":          rep.AIAction,
			"ai_result":          rep.AIResult,
			"extra":              rep.Extra,
			"client_timestamp":   rep.ClientTimestamp,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to finish report %s: %w", rep.RequestID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	rep.Status = model.ReportAccepted
	return nil
}

// MarkReport records why a report was not accepted.
func (s *gormStore) MarkReport(ctx context.Context, requestID string, status model.ReportStatus, reason string) error {
	err := s.db.WithContext(ctx).Model(&model.ErrorReport{}).
		Where("request_id = ?", requestID).
		Updates(map[string]any{"status": status, "reason": reason}).Error
	if err != nil {
		return fmt.Errorf("failed to mark report %s as %s: %w", requestID, status, err)
	}
	return nil
}

// ListReports returns one page of reports, newest first, without screenshots.
func (s *gormStore) ListReports(ctx context.Context, f ReportFilter) ([]model.ErrorReport, int64, error) {
	f = f.Normalize()

	q := s.db.WithContext(ctx).Model(&model.ErrorReport{})
	if f.DeviceID != "" {
		q = q.Where("device_id = ?", f.DeviceID)
	}
	if f.Platform != "" {
		q = q.Where("platform = ?", f.Platform)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count reports: %w", err)
	}

	var reports []model.ErrorReport
	err := q.Omit("screenshot").
		Order("created_at DESC, id DESC").
		Offset((f.Page - 1) * f.Limit).
		Limit(f.Limit).
		Find(&reports).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list reports: %w", err)
	}
	return reports, total, nil
}

// IncrementRateCounter bumps the counter of (device, bucket) and returns the
// value after the increment, in a single statement.
func (s *gormStore) IncrementRateCounter(ctx context.Context, deviceID string, bucket time.Time) (int, error) {
	var count int
	if err := s.db.WithContext(ctx).Raw(incrementCounterSQL, deviceID, bucket).Scan(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to increment rate counter for %s: %w", deviceID, err)
	}
	return count, nil
}

// PruneRateCounters deletes counters whose bucket started before the cutoff.
func (s *gormStore) PruneRateCounters(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("hour_bucket < ?", before).Delete(&model.RateLimitCounter{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to prune rate counters: %w", res.Error)
	}
	return res.RowsAffected, nil
}
