package models

import (
	"time"
)

// GatewayEventStatus is the processing state of a stored webhook event
type GatewayEventStatus string

const (
	GatewayEventReceived  GatewayEventStatus = "received"
	GatewayEventProcessed GatewayEventStatus = "processed"
	GatewayEventFailed    GatewayEventStatus = "failed"
	GatewayEventIgnored   GatewayEventStatus = "ignored"
)

// GatewayEvent is a verified webhook envelope kept for dedup and replay
type GatewayEvent struct {
	ID          string             `json:"id" db:"id"`
	Type        string             `json:"type" db:"type"`
	Payload     []byte             `json:"-" db:"payload"`
	Status      GatewayEventStatus `json:"status" db:"status"`
	Attempts    int                `json:"attempts" db:"attempts"`
	LastError   *string            `json:"last_error,omitempty" db:"last_error"`
	ReceivedAt  time.Time          `json:"received_at" db:"received_at"`
	ProcessedAt *time.Time         `json:"processed_at,omitempty" db:"processed_at"`
	UpdatedAt   time.Time          `json:"updated_at" db:"updated_at"`
}
