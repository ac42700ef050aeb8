package model

import (
	"time"

	"gorm.io/datatypes"
)

// CommandStatus is the delivery state of a device command. Only the
// pending -> sent transition exists.
type CommandStatus string

const (
	CommandPending CommandStatus = "pending"
	CommandSent    CommandStatus = "sent"
)

// DeviceCommand is an operator intent addressed to one pickup code.
type DeviceCommand struct {
	ID          int64          `gorm:"primaryKey"`
	PickupCode  string         `gorm:"size:50;not null;index:idx_device_commands_claim,priority:1"`
	CommandType string         `gorm:"size:32;not null"`
	Payload     datatypes.JSON `gorm:"not null"`
	Status      CommandStatus  `gorm:"size:16;not null;default:pending;index:idx_device_commands_claim,priority:2"`
	CreatedAt   time.Time      `gorm:"not null;index:idx_device_commands_claim,priority:3"`
	SentAt      *time.Time
}
