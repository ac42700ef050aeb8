// Package roster implements the operator side of pickup codes and the
// customer self-service status view.
package roster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/datatypes"

	"entitlement-backend/internal/heartbeat"
	"entitlement-backend/internal/model"
	"entitlement-backend/internal/parse"
	"entitlement-backend/internal/store"
)

const MaxBatch = 100

var (
	ErrUnknownCustomer   = errors.New("unknown customer")
	ErrUnknownPickupCode = errors.New("unknown pickup code")
	ErrInvalidCount      = errors.New("count must be between 1 and 100")
	ErrInvalidPrefix     = errors.New("invalid prefix")
	ErrDeviceLimit       = errors.New("customer device limit reached")
)

// Store is the slice of the store the roster uses.
type Store interface {
	GetBinding(ctx context.Context, code string) (*model.PickupCode, error)
	UnbindDevice(ctx context.Context, code string) error
	UpdatePickupCode(ctx context.Context, code string, upd store.CodeUpdate) (*model.PickupCode, error)
	CreatePickupCodes(ctx context.Context, codes []model.PickupCode) error
	GetCustomer(ctx context.Context, id int64) (*model.Customer, error)
	ListCustomerCodes(ctx context.Context, customerID int64) ([]model.PickupCode, error)
	AppendAdminLog(ctx context.Context, entry *model.AdminLog) error
}

// History lists recent commands of a code.
type History interface {
	History(ctx context.Context, code string, limit int) ([]model.DeviceCommand, error)
}

type Service struct {
	store   Store
	history History
	now     func() time.Time
	logger  *slog.Logger
}

func NewService(s Store, history History, logger *slog.Logger) *Service {
	return &Service{store: s, history: history, now: time.Now, logger: logger}
}

// GenerateCodes creates count new codes for a customer, numbered after the
// highest code already carrying the prefix.
func (s *Service) GenerateCodes(ctx context.Context, operator string, customerID int64, count int, prefix string) ([]string, error) {
	if count < 1 || count > MaxBatch {
		return nil, ErrInvalidCount
	}
	prefix, err := parse.NormalizePrefix(prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrefix, err)
	}

	customer, err := s.store.GetCustomer(ctx, customerID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnknownCustomer
	}
	if err != nil {
		return nil, err
	}

	existing, err := s.store.ListCustomerCodes(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if customer.MaxDevices > 0 && len(existing)+count > customer.MaxDevices {
		return nil, fmt.Errorf("%w: %d of %d in use", ErrDeviceLimit, len(existing), customer.MaxDevices)
	}

	names := make([]string, 0, len(existing))
	for _, pc := range existing {
		names = append(names, pc.Code)
	}
	codes, err := parse.GenerateCodes(prefix, parse.NextSeq(prefix, names), count, nil)
	if err != nil {
		return nil, err
	}

	now := s.now()
	rows := make([]model.PickupCode, 0, len(codes))
	for _, c := range codes {
		rows = append(rows, model.PickupCode{Code: c, CustomerID: customerID, IsActive: true, CreatedAt: now})
	}
	if err := s.store.CreatePickupCodes(ctx, rows); err != nil {
		return nil, err
	}

	s.audit(ctx, operator, "generate_codes", "customer", fmt.Sprint(customerID),
		map[string]any{"count": count, "prefix": prefix, "codes": codes})
	return codes, nil
}

// Detail is everything an operator sees about one code.
type Detail struct {
	Code     *model.PickupCode
	IsOnline bool
	Commands []model.DeviceCommand
}

func (s *Service) Detail(ctx context.Context, code string) (*Detail, error) {
	pc, err := s.lookup(ctx, code)
	if err != nil {
		return nil, err
	}
	cmds, err := s.history.History(ctx, code, 0)
	if err != nil {
		return nil, err
	}
	return &Detail{Code: pc, IsOnline: heartbeat.IsOnline(pc.LastHeartbeat, s.now()), Commands: cmds}, nil
}

// UpdateCode activates, deactivates or renames a code.
func (s *Service) UpdateCode(ctx context.Context, operator, code string, upd store.CodeUpdate) (*model.PickupCode, error) {
	pc, err := s.store.UpdatePickupCode(ctx, code, upd)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnknownPickupCode
	}
	if err != nil {
		return nil, err
	}

	detail := map[string]any{}
	if upd.IsActive != nil {
		detail["isActive"] = *upd.IsActive
	}
	if upd.DeviceAlias != nil {
		detail["deviceAlias"] = *upd.DeviceAlias
	}
	s.audit(ctx, operator, "update_code", "pickup_code", code, detail)
	return pc, nil
}

// Unbind releases the device binding of a code so another device can claim it.
func (s *Service) Unbind(ctx context.Context, operator, code string) error {
	pc, err := s.lookup(ctx, code)
	if err != nil {
		return err
	}
	if err := s.store.UnbindDevice(ctx, code); err != nil {
		return err
	}
	s.audit(ctx, operator, "unbind_device", "pickup_code", code, map[string]any{"deviceId": pc.BoundDevice()})
	return nil
}

// LogCommand records an operator-issued command in the admin log.
func (s *Service) LogCommand(ctx context.Context, operator, code, kind string, id int64) {
	s.audit(ctx, operator, "send_command", "pickup_code", code, map[string]any{"type": kind, "commandId": id})
}

// DeviceStatus is one row of the customer status view.
type DeviceStatus struct {
	PickupCode    string     `json:"pickupCode"`
	DeviceAlias   string     `json:"deviceAlias"`
	DeviceModel   string     `json:"deviceModel"`
	IsOnline      bool       `json:"isOnline"`
	LastHeartbeat *time.Time `json:"lastHeartbeat"`
}

// CustomerStatus is what a customer sees after typing any of their codes.
type CustomerStatus struct {
	CustomerName string               `json:"customerName"`
	Plan         string               `json:"plan"`
	StartDate    string               `json:"startDate"`
	EndDate      string               `json:"endDate"`
	Status       model.CustomerStatus `json:"status"`
	Devices      []DeviceStatus       `json:"devices"`
}

func (s *Service) CustomerStatus(ctx context.Context, code string) (*CustomerStatus, error) {
	pc, err := s.lookup(ctx, code)
	if err != nil {
		return nil, err
	}
	codes, err := s.store.ListCustomerCodes(ctx, pc.CustomerID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	out := &CustomerStatus{
		CustomerName: pc.Customer.Name,
		Plan:         pc.Customer.Plan,
		StartDate:    pc.Customer.StartDate.Format("2006-01-02"),
		EndDate:      pc.Customer.EndDate.Format("2006-01-02"),
		Status:       pc.Customer.Status,
		Devices:      make([]DeviceStatus, 0, len(codes)),
	}
	for _, c := range codes {
		out.Devices = append(out.Devices, DeviceStatus{
			PickupCode:    c.Code,
			DeviceAlias:   c.DeviceAlias,
			DeviceModel:   c.DeviceModel,
			IsOnline:      heartbeat.IsOnline(c.LastHeartbeat, now),
			LastHeartbeat: c.LastHeartbeat,
		})
	}
	return out, nil
}

func (s *Service) lookup(ctx context.Context, code string) (*model.PickupCode, error) {
	pc, err := s.store.GetBinding(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnknownPickupCode
	}
	return pc, err
}

// audit writes an admin log entry. Failures are logged, never surfaced.
func (s *Service) audit(ctx context.Context, operator, action, targetType, targetID string, detail map[string]any) {
	raw, err := json.Marshal(detail)
	if err != nil {
		s.logger.Error("failed to encode admin log detail", "action", action, "error", err)
		return
	}
	entry := &model.AdminLog{
		Operator:   operator,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Detail:     datatypes.JSON(raw),
		CreatedAt:  s.now(),
	}
	if err := s.store.AppendAdminLog(ctx, entry); err != nil {
		s.logger.Error("failed to append admin log", "action", action, "error", err)
	}
}
