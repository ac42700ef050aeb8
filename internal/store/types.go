package store

import (
	"time"

	"gorm.io/datatypes"
)

// Telemetry is the device-reported state written on every heartbeat.
// Nil ConfigSnapshot or LastPublishTime leave the stored values untouched.
type Telemetry struct {
	DeviceModel     string
	AppVersion      string
	OSVersion       string
	MonitorData     datatypes.JSON
	ConfigSnapshot  datatypes.JSON
	LastPublishTime *time.Time
}

// CodeUpdate carries the operator-editable fields of a pickup code.
type CodeUpdate struct {
	IsActive    *bool
	DeviceAlias *string
}

// ReportFilter selects a page of error reports.
type ReportFilter struct {
	DeviceID string
	Platform string
	Page     int
	Limit    int
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Normalize clamps paging to sane bounds.
func (f ReportFilter) Normalize() ReportFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = DefaultPageSize
	}
	if f.Limit > MaxPageSize {
		f.Limit = MaxPageSize
	}
	return f
}
