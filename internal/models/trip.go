package models

import (
	"time"

	"github.com/google/uuid"
)

// Trip is the catalog record a booking is made against. The catalog is owned
// by another service; the engine only reads it.
type Trip struct {
	ID        uuid.UUID `json:"id" db:"id"`
	VendorID  uuid.UUID `json:"vendor_id" db:"vendor_id"`
	Title     string    `json:"title" db:"title"`
	Category  string    `json:"category" db:"category"`
	UnitPrice int64     `json:"unit_price" db:"unit_price"`
	Currency  string    `json:"currency" db:"currency"`
	IsActive  bool      `json:"is_active" db:"is_active"`

	// Cancellation policy
	FullRefundDays          int `json:"full_refund_days" db:"full_refund_days"`
	PartialRefundDays       int `json:"partial_refund_days" db:"partial_refund_days"`
	PartialRefundPercentage int `json:"partial_refund_percentage" db:"partial_refund_percentage"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// CancellationPolicy returns the trip's refund tiers
func (t *Trip) CancellationPolicy() CancellationPolicy {
	return CancellationPolicy{
		FullRefundDays:          t.FullRefundDays,
		PartialRefundDays:       t.PartialRefundDays,
		PartialRefundPercentage: t.PartialRefundPercentage,
	}
}

// CancellationPolicy maps days-until-departure to a refund percentage
type CancellationPolicy struct {
	FullRefundDays          int `json:"full_refund_days"`
	PartialRefundDays       int `json:"partial_refund_days"`
	PartialRefundPercentage int `json:"partial_refund_percentage"`
}

// RefundPercentage returns the refund share for a cancellation daysUntil days
// before departure. Thresholds are inclusive.
func (p CancellationPolicy) RefundPercentage(daysUntil int) int {
	switch {
	case daysUntil >= p.FullRefundDays:
		return 100
	case daysUntil >= p.PartialRefundDays:
		return clampPercent(p.PartialRefundPercentage)
	default:
		return 0
	}
}

func clampPercent(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// Departure is a dated run of a trip with its own seat inventory
type Departure struct {
	ID             uuid.UUID `json:"id" db:"id"`
	TripID         uuid.UUID `json:"trip_id" db:"trip_id"`
	StartDate      time.Time `json:"start_date" db:"start_date"`
	EndDate        time.Time `json:"end_date" db:"end_date"`
	SeatsAvailable int       `json:"seats_available" db:"seats_available"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// HasDeparted reports whether the departure has already started at now
func (d *Departure) HasDeparted(now time.Time) bool {
	return !d.StartDate.After(now)
}
