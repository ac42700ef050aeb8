package model

import (
	"time"

	"gorm.io/datatypes"
)

// AdminLog records one operator mutation.
type AdminLog struct {
	ID         int64  `gorm:"primaryKey"`
	Operator   string `gorm:"size:50;index"`
	Action     string `gorm:"size:50;not null"`
	TargetType string `gorm:"size:20"`
	TargetID   string `gorm:"size:100"`
	Detail     datatypes.JSON
	CreatedAt  time.Time `gorm:"not null;index"`
}
