package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"entitlement-backend/internal/model"
)

// ErrNotFound is returned when the addressed row does not exist.
var ErrNotFound = errors.New("record not found")

// Store defines the interface for all database operations.
type Store interface {
	Ping(ctx context.Context) error

	// Credential store
	GetBinding(ctx context.Context, code string) (*model.PickupCode, error)
	BindDevice(ctx context.Context, code, deviceID string) (bool, error)
	RecordHeartbeat(ctx context.Context, code string, t Telemetry, now time.Time) error
	UnbindDevice(ctx context.Context, code string) error
	UpdatePickupCode(ctx context.Context, code string, upd CodeUpdate) (*model.PickupCode, error)
	CreatePickupCodes(ctx context.Context, codes []model.PickupCode) error
	GetCustomer(ctx context.Context, id int64) (*model.Customer, error)
	ListCustomerCodes(ctx context.Context, customerID int64) ([]model.PickupCode, error)
	GetDeviceToken(ctx context.Context, deviceID string) (*model.DeviceToken, error)
	InsertDeviceToken(ctx context.Context, tok *model.DeviceToken) (bool, error)
	ReplaceDeviceToken(ctx context.Context, tok *model.DeviceToken) error

	// Command queue
	EnqueueCommand(ctx context.Context, cmd *model.DeviceCommand) error
	ClaimPending(ctx context.Context, code string, limit int, now time.Time) ([]model.DeviceCommand, error)
	CommandHistory(ctx context.Context, code string, limit int) ([]model.DeviceCommand, error)

	// Error reports
	InsertReport(ctx context.Context, rep *model.ErrorReport) (bool, error)
	FinishReport(ctx context.Context, rep *model.ErrorReport) error
	MarkReport(ctx context.Context, requestID string, status model.ReportStatus, reason string) error
	ListReports(ctx context.Context, f ReportFilter) ([]model.ErrorReport, int64, error)
	IncrementRateCounter(ctx context.Context, deviceID string, bucket time.Time) (int, error)
	PruneRateCounters(ctx context.Context, before time.Time) (int64, error)

	// Operator side
	AppendAdminLog(ctx context.Context, entry *model.AdminLog) error
	PutSubscription(ctx context.Context, sub *model.OperatorSubscription) error
	DeleteSubscription(ctx context.Context, endpoint string) error
	ListSubscriptions(ctx context.Context) ([]model.OperatorSubscription, error)
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// notFound translates gorm's sentinel into the store's own.
func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
