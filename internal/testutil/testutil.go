// Package testutil builds throwaway databases and fixtures for package tests.
package testutil

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"entitlement-backend/internal/db"
	"entitlement-backend/internal/model"
)

var nameCleaner = strings.NewReplacer("/", "_", " ", "_", "#", "_", "'", "_")

// NewSQLite returns a migrated in-memory database private to the test.
func NewSQLite(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", nameCleaner.Replace(t.Name()))
	gormDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.Migrate(gormDB))
	return gormDB
}

// Date returns midnight UTC of the calendar day, the way DATE columns read back.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// SeedCustomer inserts an active customer whose service ends on end.
func SeedCustomer(t *testing.T, gormDB *gorm.DB, name string, end time.Time) *model.Customer {
	t.Helper()

	c := &model.Customer{
		Name:       name,
		Plan:       "standard",
		StartDate:  end.AddDate(-1, 0, 0),
		EndDate:    end,
		Status:     model.CustomerActive,
		MaxDevices: 10,
	}
	require.NoError(t, gormDB.Create(c).Error)
	return c
}

// SeedCode inserts an active, unbound pickup code for the customer.
func SeedCode(t *testing.T, gormDB *gorm.DB, customerID int64, code string) *model.PickupCode {
	t.Helper()

	pc := &model.PickupCode{Code: code, CustomerID: customerID, IsActive: true}
	require.NoError(t, gormDB.Omit("Customer").Create(pc).Error)
	return pc
}
