package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/tripmarket/marketplace-backend/internal/models"
)

// TripRepository reads trips and departures from the catalog tables
type TripRepository struct {
	db *sqlx.DB
}

// NewTripRepository creates a new TripRepository
func NewTripRepository(db *sqlx.DB) *TripRepository {
	return &TripRepository{db: db}
}

// GetTrip retrieves a trip by ID. Returns (nil, nil) when not found.
func (r *TripRepository) GetTrip(ctx context.Context, id uuid.UUID) (*models.Trip, error) {
	var trip models.Trip
	query := `
		SELECT id, vendor_id, title, category, unit_price, currency, is_active,
			full_refund_days, partial_refund_days, partial_refund_percentage,
			created_at, updated_at
		FROM trips
		WHERE id = $1`

	err := r.db.GetContext(ctx, &trip, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trip: %w", err)
	}
	return &trip, nil
}

// GetDeparture retrieves a departure by ID. Returns (nil, nil) when not found.
func (r *TripRepository) GetDeparture(ctx context.Context, id uuid.UUID) (*models.Departure, error) {
	var dep models.Departure
	query := `
		SELECT id, trip_id, start_date, end_date, seats_available, created_at, updated_at
		FROM departures
		WHERE id = $1`

	err := r.db.GetContext(ctx, &dep, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get departure: %w", err)
	}
	return &dep, nil
}
