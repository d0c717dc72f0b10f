package models

import (
	"time"

	"github.com/google/uuid"
)

// EntryType is the direction of a ledger entry
type EntryType string

const (
	EntryCredit EntryType = "credit"
	EntryDebit  EntryType = "debit"
)

// EscrowStatus gates when an entry counts toward the payable balance
type EscrowStatus string

const (
	EscrowHeld     EscrowStatus = "held"
	EscrowReleased EscrowStatus = "released"
	EscrowRefunded EscrowStatus = "refunded"
)

// EntryPayoutStatus tracks whether an entry has been swept into a payout
type EntryPayoutStatus string

const (
	EntryPayoutPending  EntryPayoutStatus = "pending"
	EntryPayoutIncluded EntryPayoutStatus = "included_in_payout"
)

// Ledger entry descriptions. The booking credit description backs the
// one-credit-per-booking unique index.
const (
	EntryDescBooking       = "booking"
	EntryDescRetained      = "retained after partial refund"
	EntryDescRefundReverse = "refund claw-back"
	EntryDescEarlyPayout   = "early payout fee"
)

// EscrowLedgerEntry is one money movement affecting a vendor's payable balance.
// Amount is always positive; Type gives the sign.
type EscrowLedgerEntry struct {
	ID           uuid.UUID         `json:"id" db:"id"`
	VendorID     uuid.UUID         `json:"vendor_id" db:"vendor_id"`
	BookingID    *uuid.UUID        `json:"booking_id,omitempty" db:"booking_id"`
	PayoutID     *uuid.UUID        `json:"payout_id,omitempty" db:"payout_id"`
	Type         EntryType         `json:"type" db:"type"`
	Amount       int64             `json:"amount" db:"amount"`
	Currency     string            `json:"currency" db:"currency"`
	EscrowStatus EscrowStatus      `json:"escrow_status" db:"escrow_status"`
	PayoutStatus EntryPayoutStatus `json:"payout_status" db:"payout_status"`
	ReleaseDate  time.Time         `json:"release_date" db:"release_date"`
	ReleasedAt   *time.Time        `json:"released_at,omitempty" db:"released_at"`
	Description  string            `json:"description" db:"description"`
	CreatedAt    time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at" db:"updated_at"`
}

// Signed returns the entry's contribution to a balance
func (e *EscrowLedgerEntry) Signed() int64 {
	if e.Type == EntryDebit {
		return -e.Amount
	}
	return e.Amount
}

// VendorBalance is the payable balance of a vendor
type VendorBalance struct {
	VendorID   uuid.UUID `json:"vendor_id" db:"vendor_id"`
	Amount     int64     `json:"amount" db:"amount"`
	EntryCount int       `json:"entry_count" db:"entry_count"`
	Currency   string    `json:"currency" db:"currency"`
}

// VendorStatement summarizes a vendor's ledger by stage
type VendorStatement struct {
	VendorID uuid.UUID `json:"vendor_id" db:"vendor_id"`
	Held     int64     `json:"held" db:"held"`
	Released int64     `json:"released" db:"released"`
	Paid     int64     `json:"paid" db:"paid"`
	Refunded int64     `json:"refunded" db:"refunded"`
}

// RefundPlan is the ledger change that brings a booking's entries in line
// with the vendor share left after a cumulative refund
type RefundPlan struct {
	// Void lists unpaid credits that stop counting toward the balance
	Void UUIDArray
	// ClawBack is the debit owed for credits already paid out and not yet reversed
	ClawBack int64
	// Retain is the retained credit to write, zero when an equal one already stands
	Retain int64
}

// IsEmpty reports whether the plan changes nothing
func (p RefundPlan) IsEmpty() bool {
	return len(p.Void) == 0 && p.ClawBack == 0 && p.Retain == 0
}

// PlanRefund compares a booking's ledger entries with retained, the vendor
// share that should survive the refund. Planning again over the applied
// result yields an empty plan, so a refund amount that grows only moves the
// difference.
func PlanRefund(entries []*EscrowLedgerEntry, retained int64) RefundPlan {
	var plan RefundPlan
	var paidOut, clawedBack int64
	kept := false

	for _, e := range entries {
		if e.EscrowStatus == EscrowRefunded {
			continue
		}
		switch {
		case e.Type == EntryCredit && (e.Description == EntryDescBooking || e.Description == EntryDescRetained):
			if e.Description == EntryDescRetained && !kept && retained > 0 && e.Amount == retained {
				kept = true
				continue
			}
			if e.PayoutStatus == EntryPayoutIncluded {
				paidOut += e.Amount
			} else {
				plan.Void = append(plan.Void, e.ID)
			}
		case e.Type == EntryDebit && e.Description == EntryDescRefundReverse:
			clawedBack += e.Amount
		}
	}

	if paidOut > clawedBack {
		plan.ClawBack = paidOut - clawedBack
	}
	if retained > 0 && !kept {
		plan.Retain = retained
	}
	return plan
}
