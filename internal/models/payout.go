package models

import (
	"time"

	"github.com/google/uuid"
)

// PayoutStatus represents the status of a vendor payout
type PayoutStatus string

const (
	PayoutStatusPending    PayoutStatus = "pending"
	PayoutStatusProcessing PayoutStatus = "processing"
	PayoutStatusInTransit  PayoutStatus = "in_transit"
	PayoutStatusCompleted  PayoutStatus = "completed"
	PayoutStatusFailed     PayoutStatus = "failed"
	PayoutStatusCancelled  PayoutStatus = "cancelled"
)

// ScheduleTag selects which vendors a payout batch covers
type ScheduleTag string

const (
	ScheduleAll     ScheduleTag = "all"
	ScheduleDaily   ScheduleTag = "daily"
	ScheduleWeekly  ScheduleTag = "weekly"
	ScheduleMonthly ScheduleTag = "monthly"
	ScheduleEarly   ScheduleTag = "early"
)

// ParseScheduleTag validates a batch tag
func ParseScheduleTag(s string) (ScheduleTag, bool) {
	switch ScheduleTag(s) {
	case ScheduleAll, ScheduleDaily, ScheduleWeekly, ScheduleMonthly:
		return ScheduleTag(s), true
	case "":
		return ScheduleAll, true
	}
	return "", false
}

// DueScheduleTags returns the vendor schedules whose batch is due on now's date:
// daily every day, weekly on Mondays, monthly on the 1st.
func DueScheduleTags(now time.Time) []ScheduleTag {
	tags := []ScheduleTag{ScheduleDaily}
	if now.Weekday() == time.Monday {
		tags = append(tags, ScheduleWeekly)
	}
	if now.Day() == 1 {
		tags = append(tags, ScheduleMonthly)
	}
	return tags
}

// Payout is a batched transfer of money to one vendor
type Payout struct {
	ID            uuid.UUID    `json:"id" db:"id"`
	VendorID      uuid.UUID    `json:"vendor_id" db:"vendor_id"`
	Amount        int64        `json:"amount" db:"amount"`
	Currency      string       `json:"currency" db:"currency"`
	EntryIDs      UUIDArray    `json:"entry_ids" db:"entry_ids"`
	BookingIDs    UUIDArray    `json:"booking_ids" db:"booking_ids"`
	Status        PayoutStatus `json:"status" db:"status"`
	ScheduleTag   ScheduleTag  `json:"schedule_tag" db:"schedule_tag"`
	ScheduledDate time.Time    `json:"scheduled_date" db:"scheduled_date"`
	PeriodStart   *time.Time   `json:"period_start,omitempty" db:"period_start"`
	PeriodEnd     *time.Time   `json:"period_end,omitempty" db:"period_end"`
	TransferID    *string      `json:"transfer_id,omitempty" db:"transfer_id"`
	FailureReason *string      `json:"failure_reason,omitempty" db:"failure_reason"`
	IsEarly       bool         `json:"is_early" db:"is_early"`
	EarlyFee      int64        `json:"early_fee" db:"early_fee"`
	CompletedAt   *time.Time   `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt     time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at" db:"updated_at"`
}

// PayoutBatchResult summarizes one batch run
type PayoutBatchResult struct {
	Tag       ScheduleTag `json:"tag"`
	Vendors   int         `json:"vendors"`
	Created   int         `json:"created"`
	Submitted int         `json:"submitted"`
	Failed    int         `json:"failed"`
	Skipped   int         `json:"skipped"`
	Total     int64       `json:"total_amount"`
}
