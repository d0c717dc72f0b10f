// Package notify publishes booking and payout side effects to downstream
// consumers. Delivery is fire-and-forget from the engine's point of view.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Event names. The part before the first dot selects the topic.
const (
	EventBookingConfirmed = "booking.confirmed"
	EventBookingCancelled = "booking.cancelled"
	EventPayoutProcessed  = "payout.processed"
)

// Notifier receives lifecycle side effects
type Notifier interface {
	BookingConfirmed(ctx context.Context, e BookingEvent) error
	BookingCancelled(ctx context.Context, e BookingEvent) error
	PayoutProcessed(ctx context.Context, e PayoutEvent) error
}

// BookingEvent describes a booking state change
type BookingEvent struct {
	BookingID     uuid.UUID `json:"booking_id"`
	BookingNumber string    `json:"booking_number"`
	TravelerID    uuid.UUID `json:"traveler_id"`
	VendorID      uuid.UUID `json:"vendor_id"`
	TripID        uuid.UUID `json:"trip_id"`
	TotalPrice    int64     `json:"total_price"`
	RefundAmount  int64     `json:"refund_amount,omitempty"`
	RefundStatus  string    `json:"refund_status,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	Currency      string    `json:"currency"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// PayoutEvent describes a completed vendor payout
type PayoutEvent struct {
	PayoutID   uuid.UUID `json:"payout_id"`
	VendorID   uuid.UUID `json:"vendor_id"`
	Amount     int64     `json:"amount"`
	Currency   string    `json:"currency"`
	TransferID string    `json:"transfer_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// LogNotifier writes events to the log only. Used when Kafka is disabled.
type LogNotifier struct {
	logger *logrus.Logger
}

// NewLogNotifier creates a new LogNotifier
func NewLogNotifier(logger *logrus.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) BookingConfirmed(ctx context.Context, e BookingEvent) error {
	n.logBooking(EventBookingConfirmed, e)
	return nil
}

func (n *LogNotifier) BookingCancelled(ctx context.Context, e BookingEvent) error {
	n.logBooking(EventBookingCancelled, e)
	return nil
}

func (n *LogNotifier) PayoutProcessed(ctx context.Context, e PayoutEvent) error {
	n.logger.WithFields(logrus.Fields{
		"event":       EventPayoutProcessed,
		"payout_id":   e.PayoutID,
		"vendor_id":   e.VendorID,
		"amount":      e.Amount,
		"transfer_id": e.TransferID,
	}).Info("Notification")
	return nil
}

func (n *LogNotifier) logBooking(name string, e BookingEvent) {
	n.logger.WithFields(logrus.Fields{
		"event":          name,
		"booking_id":     e.BookingID,
		"booking_number": e.BookingNumber,
		"refund_amount":  e.RefundAmount,
	}).Info("Notification")
}
