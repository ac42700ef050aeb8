package model

import "time"

// CustomerStatus is the operator-controlled service flag of a customer.
type CustomerStatus string

const (
	CustomerActive    CustomerStatus = "active"
	CustomerSuspended CustomerStatus = "suspended"
)

// Customer is the billing entity that owns one or more pickup codes.
type Customer struct {
	ID         int64          `gorm:"primaryKey"`
	Name       string         `gorm:"size:100;not null"`
	Contact    string         `gorm:"size:200"`
	Plan       string         `gorm:"size:20;not null;default:trial"`
	StartDate  time.Time      `gorm:"type:date;not null"`
	EndDate    time.Time      `gorm:"type:date;not null"`
	Status     CustomerStatus `gorm:"size:20;not null;default:active"`
	MaxDevices int            `gorm:"not null;default:10"`
	Notes      string         `gorm:"type:text"`
	CreatedAt  time.Time      `gorm:"not null"`
	UpdatedAt  time.Time      `gorm:"not null"`

	// Associations
	PickupCodes []PickupCode `gorm:"foreignKey:CustomerID"`
}

// Suspended reports whether the operator has suspended the customer.
func (c Customer) Suspended() bool {
	return c.Status == CustomerSuspended
}
