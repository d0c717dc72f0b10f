package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/tripmarket/marketplace-backend/internal/models"
)

// GatewayEventRepository stores verified webhook events for dedup and replay
type GatewayEventRepository struct {
	db *sqlx.DB
}

// NewGatewayEventRepository creates a new GatewayEventRepository
func NewGatewayEventRepository(db *sqlx.DB) *GatewayEventRepository {
	return &GatewayEventRepository{db: db}
}

const gatewayEventColumns = `id, type, payload, status, attempts, last_error, received_at, processed_at, updated_at`

// Record stores a newly received event. If the id is already known the stored
// row is returned unchanged with inserted=false.
func (r *GatewayEventRepository) Record(ctx context.Context, ev *models.GatewayEvent) (stored *models.GatewayEvent, inserted bool, err error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO gateway_events (id, type, payload, status, attempts, received_at, updated_at)
		VALUES ($1, $2, $3, 'received', 0, $4, $4)
		ON CONFLICT (id) DO NOTHING`,
		ev.ID, ev.Type, string(ev.Payload), ev.ReceivedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to record gateway event: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		ev.Status = models.GatewayEventReceived
		return ev, true, nil
	}

	existing, err := r.GetByID(ctx, ev.ID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("gateway event %s vanished after conflict", ev.ID)
	}
	return existing, false, nil
}

// GetByID retrieves a stored event. Returns (nil, nil) when not found.
func (r *GatewayEventRepository) GetByID(ctx context.Context, id string) (*models.GatewayEvent, error) {
	var ev models.GatewayEvent
	err := r.db.GetContext(ctx, &ev, `SELECT `+gatewayEventColumns+` FROM gateway_events WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get gateway event: %w", err)
	}
	return &ev, nil
}

// MarkProcessed records a successful dispatch
func (r *GatewayEventRepository) MarkProcessed(ctx context.Context, id string, now time.Time) error {
	return r.finish(ctx, id, models.GatewayEventProcessed, nil, now)
}

// MarkIgnored records an event that was acknowledged without being applied
func (r *GatewayEventRepository) MarkIgnored(ctx context.Context, id string, reason string, now time.Time) error {
	return r.finish(ctx, id, models.GatewayEventIgnored, &reason, now)
}

// MarkFailed records a failed dispatch for later replay
func (r *GatewayEventRepository) MarkFailed(ctx context.Context, id string, cause string, now time.Time) error {
	return r.finish(ctx, id, models.GatewayEventFailed, &cause, now)
}

func (r *GatewayEventRepository) finish(ctx context.Context, id string, status models.GatewayEventStatus, lastError *string, now time.Time) error {
	var processedAt *time.Time
	if status != models.GatewayEventFailed {
		processedAt = &now
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE gateway_events
		SET status = $1, attempts = attempts + 1, last_error = $2, processed_at = $3, updated_at = $4
		WHERE id = $5 AND status <> 'processed'`,
		status, lastError, processedAt, now, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update gateway event: %w", err)
	}
	return nil
}

// ListReplayable returns failed events, and received events stuck for longer
// than staleAfter, that have not exhausted maxAttempts
func (r *GatewayEventRepository) ListReplayable(ctx context.Context, maxAttempts int, staleBefore time.Time, limit int) ([]*models.GatewayEvent, error) {
	var events []*models.GatewayEvent
	err := r.db.SelectContext(ctx, &events, `
		SELECT `+gatewayEventColumns+` FROM gateway_events
		WHERE attempts < $1
		  AND (status = 'failed' OR (status = 'received' AND updated_at < $2))
		ORDER BY received_at
		LIMIT $3`,
		maxAttempts, staleBefore, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list replayable events: %w", err)
	}
	return events, nil
}
