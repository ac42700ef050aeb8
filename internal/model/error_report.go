package model

import (
	"time"

	"gorm.io/datatypes"
)

// ReportStatus tracks how far an error report got through intake.
type ReportStatus string

const (
	ReportReceived    ReportStatus = "received"
	ReportAccepted    ReportStatus = "accepted"
	ReportRateLimited ReportStatus = "rate_limited"
	ReportRejected    ReportStatus = "rejected"
)

// ErrorReport is one device-submitted failure report, unique per request id.
type ErrorReport struct {
	ID                int64        `gorm:"primaryKey"`
	RequestID         string       `gorm:"size:128;uniqueIndex;not null"`
	DeviceID          string       `gorm:"size:100;index;not null"`
	Status            ReportStatus `gorm:"size:16;not null"`
	Reason            string       `gorm:"size:64"`
	Platform          string       `gorm:"size:50;index"`
	Step              string       `gorm:"size:100"`
	ErrorMsg          string       `gorm:"type:text"`
	Screenshot        string       `gorm:"type:text"`
	ScreenshotOmitted bool         `gorm:"not null;default:false"`
	State             string       `gorm:"type:text"`
	AIAction          string       `gorm:"column:ai_action;type:text"`
	AIResult          string       `gorm:"column:ai_result;type:text"`
	Extra             datatypes.JSON
	ClientTimestamp   *time.Time
	CreatedAt         time.Time `gorm:"not null;index"`
	UpdatedAt         time.Time `gorm:"not null"`
}
