package model

import (
	"time"

	"gorm.io/datatypes"
)

// PickupCode is the capability a device presents on every heartbeat and
// entitlement check. It binds to one customer and at most one device.
type PickupCode struct {
	Code            string     `gorm:"column:pickup_code;primaryKey;size:50"`
	CustomerID      int64      `gorm:"index;not null"`
	DeviceID        *string    `gorm:"column:device_id;size:100;index"`
	IsActive        bool       `gorm:"not null;default:true"`
	DeviceAlias     string     `gorm:"size:50"`
	DeviceModel     string     `gorm:"size:100"`
	AppVersion      string     `gorm:"column:app_version;size:20"`
	OSVersion       string     `gorm:"column:os_version;size:50"`
	LastHeartbeat   *time.Time `gorm:"index"`
	LastPublishTime *time.Time
	ConfigSnapshot  datatypes.JSON
	MonitorData     datatypes.JSON
	CreatedAt       time.Time `gorm:"not null"`

	// Associations
	Customer Customer `gorm:"constraint:OnDelete:CASCADE"`
}

// BoundDevice returns the bound device identifier, or "" when unbound.
func (p PickupCode) BoundDevice() string {
	if p.DeviceID == nil {
		return ""
	}
	return *p.DeviceID
}
