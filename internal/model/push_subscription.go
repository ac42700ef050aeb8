package model

import "time"

// OperatorSubscription holds a browser push subscription of an operator who
// wants to be alerted about incoming device error reports.
type OperatorSubscription struct {
	Endpoint  string    `gorm:"primaryKey"`
	P256DH    string    `gorm:"column:p256dh;not null"`
	Auth      string    `gorm:"not null"`
	Operator  string    `gorm:"size:50;index"`
	CreatedAt time.Time `gorm:"not null"`
}
