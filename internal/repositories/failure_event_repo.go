package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/mclarke-dev/aegis/internal/database"
	"github.com/mclarke-dev/aegis/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// FailureEventRepository is the event store: an append-only record of
// authentication failures, queryable by subject and time window.
type FailureEventRepository struct {
	db *database.DB
}

// NewFailureEventRepository creates a new FailureEventRepository
func NewFailureEventRepository(db *database.DB) *FailureEventRepository {
	return &FailureEventRepository{db: db}
}

// Record appends a failure event. Duplicate subjects are expected and
// normal; the only failure mode is a storage error.
func (r *FailureEventRepository) Record(ctx context.Context, event *models.FailureEvent) (string, error) {
	event.ID = uuid.New().String()

	query := `
		INSERT INTO failure_events (id, subject, source_ip, user_agent, occurred_at, reason, origin, flagged_at_insert)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		event.ID,
		event.Subject,
		event.SourceIP,
		event.UserAgent,
		event.OccurredAt,
		event.Reason,
		event.Origin,
		event.FlaggedAtInsert,
	)
	if err != nil {
		return "", database.MapPostgresError(err)
	}

	return event.ID, nil
}

// CountInWindow returns the number of failure events for a subject with
// occurred_at in [windowStart, windowEnd], inclusive on both ends. The count
// is origin-agnostic: locally recorded and provider-imported events are one
// population.
func (r *FailureEventRepository) CountInWindow(ctx context.Context, subject string, windowStart, windowEnd time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM failure_events
		WHERE subject = $1 AND occurred_at >= $2 AND occurred_at <= $3
	`

	var count int
	err := r.db.Pool.QueryRow(ctx, query, subject, windowStart, windowEnd).Scan(&count)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return count, nil
}

// Exists reports whether an event for (subject, occurredAt) is already
// recorded, within ±tolerance. Provider timestamps can differ in precision
// from locally recorded ones, so exact matching would double-count.
func (r *FailureEventRepository) Exists(ctx context.Context, subject string, occurredAt time.Time, tolerance time.Duration) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM failure_events
			WHERE subject = $1 AND occurred_at BETWEEN $2 AND $3
		)
	`

	var exists bool
	err := r.db.Pool.QueryRow(ctx, query, subject, occurredAt.Add(-tolerance), occurredAt.Add(tolerance)).Scan(&exists)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return exists, nil
}

// ListInWindow returns all failure events with occurred_at in
// [windowStart, windowEnd], across all subjects, oldest first.
func (r *FailureEventRepository) ListInWindow(ctx context.Context, windowStart, windowEnd time.Time) ([]*models.FailureEvent, error) {
	query := `
		SELECT id, subject, source_ip, user_agent, occurred_at, reason, origin, flagged_at_insert, created_at
		FROM failure_events
		WHERE occurred_at >= $1 AND occurred_at <= $2
		ORDER BY occurred_at ASC
	`

	rows, err := r.db.Pool.Query(ctx, query, windowStart, windowEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to query failure events: %w", err)
	}

	return scanFailureEventRows(rows)
}

// DeleteOlderThan removes events whose occurred_at predates the cutoff.
// Retention bookkeeping only; never part of a lockout decision.
func (r *FailureEventRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM failure_events WHERE occurred_at < $1`

	result, err := r.db.Pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}

func scanFailureEventRows(rows pgx.Rows) ([]*models.FailureEvent, error) {
	defer rows.Close()

	events := make([]*models.FailureEvent, 0)

	for rows.Next() {
		var event models.FailureEvent
		err := rows.Scan(
			&event.ID, &event.Subject, &event.SourceIP, &event.UserAgent,
			&event.OccurredAt, &event.Reason, &event.Origin,
			&event.FlaggedAtInsert, &event.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan failure event: %w", err)
		}
		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating failure event rows: %w", err)
	}

	return events, nil
}
