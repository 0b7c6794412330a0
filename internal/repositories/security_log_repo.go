package repositories

import (
	"context"
	"fmt"

	"github.com/mclarke-dev/aegis/internal/database"
	"github.com/mclarke-dev/aegis/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// SecurityLogRepository persists lock-state transitions for audit display.
type SecurityLogRepository struct {
	db *database.DB
}

// NewSecurityLogRepository creates a new SecurityLogRepository
func NewSecurityLogRepository(db *database.DB) *SecurityLogRepository {
	return &SecurityLogRepository{db: db}
}

// Create creates a new security log entry
func (r *SecurityLogRepository) Create(ctx context.Context, log *models.SecurityLog) (*models.SecurityLog, error) {
	log.ID = uuid.New().String()

	query := `
		INSERT INTO security_logs (id, event_type, subject, actor, reason, failure_count)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, event_type, subject, actor, reason, failure_count, created_at
	`

	var created models.SecurityLog
	err := r.db.Pool.QueryRow(ctx, query,
		log.ID, log.EventType, log.Subject, log.Actor, log.Reason, log.FailureCount,
	).Scan(
		&created.ID, &created.EventType, &created.Subject, &created.Actor,
		&created.Reason, &created.FailureCount, &created.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create security log: %w", err)
	}

	return &created, nil
}

// GetBySubject retrieves security log entries for a subject, newest first.
func (r *SecurityLogRepository) GetBySubject(ctx context.Context, subject string, limit, offset int) ([]*models.SecurityLog, error) {
	query := `
		SELECT id, event_type, subject, actor, reason, failure_count, created_at
		FROM security_logs
		WHERE subject = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool.Query(ctx, query, subject, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query security logs: %w", err)
	}

	return scanSecurityLogRows(rows)
}

func scanSecurityLogRows(rows pgx.Rows) ([]*models.SecurityLog, error) {
	defer rows.Close()

	logs := make([]*models.SecurityLog, 0)

	for rows.Next() {
		var log models.SecurityLog
		err := rows.Scan(
			&log.ID, &log.EventType, &log.Subject, &log.Actor,
			&log.Reason, &log.FailureCount, &log.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan security log: %w", err)
		}
		logs = append(logs, &log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating security log rows: %w", err)
	}

	return logs, nil
}
