package roster

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"entitlement-backend/internal/command"
	"entitlement-backend/internal/model"
	"entitlement-backend/internal/parse"
	"entitlement-backend/internal/store"
	"entitlement-backend/internal/testutil"
)

var now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*Service, *gorm.DB, *model.Customer) {
	t.Helper()
	gormDB := testutil.NewSQLite(t)
	st := store.NewGormStore(gormDB)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(st, command.NewQueue(st, logger), logger)
	svc.now = func() time.Time { return now }

	c := testutil.SeedCustomer(t, gormDB, "Acme", testutil.Date(2027, 1, 1))
	return svc, gormDB, c
}

func TestService_GenerateCodes(t *testing.T) {
	svc, gormDB, c := newService(t)
	ctx := context.Background()
	testutil.SeedCode(t, gormDB, c.ID, "XN-ACME-04-ZZZZ")

	codes, err := svc.GenerateCodes(ctx, "alice", c.ID, 2, "acme")
	require.NoError(t, err)
	require.Len(t, codes, 2)

	first, err := parse.ParseCode(codes[0])
	require.NoError(t, err)
	assert.Equal(t, 5, first.Seq)

	var stored int64
	require.NoError(t, gormDB.Model(&model.PickupCode{}).Where("customer_id = ?", c.ID).Count(&stored).Error)
	assert.EqualValues(t, 3, stored)

	var entry model.AdminLog
	require.NoError(t, gormDB.First(&entry, "action = ?", "generate_codes").Error)
	assert.Equal(t, "alice", entry.Operator)
	var detail map[string]any
	require.NoError(t, json.Unmarshal(entry.Detail, &detail))
	assert.Equal(t, "ACME", detail["prefix"])
}

func TestService_GenerateCodesValidation(t *testing.T) {
	svc, _, c := newService(t)
	ctx := context.Background()

	_, err := svc.GenerateCodes(ctx, "alice", c.ID, 0, "")
	assert.ErrorIs(t, err, ErrInvalidCount)
	_, err = svc.GenerateCodes(ctx, "alice", c.ID, 101, "")
	assert.ErrorIs(t, err, ErrInvalidCount)
	_, err = svc.GenerateCodes(ctx, "alice", c.ID, 1, "bad prefix")
	assert.ErrorIs(t, err, ErrInvalidPrefix)
	_, err = svc.GenerateCodes(ctx, "alice", 9999, 1, "")
	assert.ErrorIs(t, err, ErrUnknownCustomer)
	_, err = svc.GenerateCodes(ctx, "alice", c.ID, 11, "")
	assert.ErrorIs(t, err, ErrDeviceLimit)
}

func TestService_UpdateAndUnbind(t *testing.T) {
	svc, gormDB, c := newService(t)
	ctx := context.Background()
	testutil.SeedCode(t, gormDB, c.ID, "XN-ACME-01-AB12")
	require.NoError(t, gormDB.Model(&model.PickupCode{}).Where("pickup_code = ?", "XN-ACME-01-AB12").
		Update("device_id", "dev-1").Error)

	inactive := false
	alias := "front desk"
	pc, err := svc.UpdateCode(ctx, "alice", "XN-ACME-01-AB12", store.CodeUpdate{IsActive: &inactive, DeviceAlias: &alias})
	require.NoError(t, err)
	assert.False(t, pc.IsActive)
	assert.Equal(t, "front desk", pc.DeviceAlias)

	require.NoError(t, svc.Unbind(ctx, "alice", "XN-ACME-01-AB12"))
	detail, err := svc.Detail(ctx, "XN-ACME-01-AB12")
	require.NoError(t, err)
	assert.Nil(t, detail.Code.DeviceID)
	assert.False(t, detail.IsOnline)

	_, err = svc.UpdateCode(ctx, "alice", "XN-NOPE-01-0000", store.CodeUpdate{DeviceAlias: &alias})
	assert.ErrorIs(t, err, ErrUnknownPickupCode)
	assert.ErrorIs(t, svc.Unbind(ctx, "alice", "XN-NOPE-01-0000"), ErrUnknownPickupCode)

	var actions []string
	require.NoError(t, gormDB.Model(&model.AdminLog{}).Order("id").Pluck("action", &actions).Error)
	assert.Equal(t, []string{"update_code", "unbind_device"}, actions)
}

func TestService_CustomerStatus(t *testing.T) {
	svc, gormDB, c := newService(t)
	ctx := context.Background()
	testutil.SeedCode(t, gormDB, c.ID, "XN-ACME-01-AB12")
	testutil.SeedCode(t, gormDB, c.ID, "XN-ACME-02-CD34")

	recent := now.Add(-time.Hour)
	require.NoError(t, gormDB.Model(&model.PickupCode{}).Where("pickup_code = ?", "XN-ACME-01-AB12").
		Update("last_heartbeat", recent).Error)

	status, err := svc.CustomerStatus(ctx, "XN-ACME-02-CD34")
	require.NoError(t, err)
	assert.Equal(t, "Acme", status.CustomerName)
	assert.Equal(t, "2027-01-01", status.EndDate)
	require.Len(t, status.Devices, 2)

	online := map[string]bool{}
	for _, d := range status.Devices {
		online[d.PickupCode] = d.IsOnline
	}
	assert.True(t, online["XN-ACME-01-AB12"])
	assert.False(t, online["XN-ACME-02-CD34"])

	_, err = svc.CustomerStatus(ctx, "XN-NOPE-01-0000")
	assert.ErrorIs(t, err, ErrUnknownPickupCode)
}
