package model

import "time"

// RateLimitCounter counts accepted requests for one device within one
// wall-clock hour.
type RateLimitCounter struct {
	DeviceID     string    `gorm:"primaryKey;size:100"`
	HourBucket   time.Time `gorm:"primaryKey"`
	RequestCount int       `gorm:"not null;default:0"`
}
