package model

import (
	"time"

	"gorm.io/datatypes"
)

// DeviceToken is the long-lived bearer credential minted once per device id.
// It is keyed by device id, never by pickup code.
type DeviceToken struct {
	DeviceID   string `gorm:"primaryKey;size:100"`
	Token      string `gorm:"type:text;not null"`
	DeviceInfo datatypes.JSON
	ExpiresAt  time.Time `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`
}
