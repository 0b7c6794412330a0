package repositories

import (
	"context"
	"time"

	"github.com/mclarke-dev/aegis/internal/database"
	"github.com/mclarke-dev/aegis/internal/models"
)

// AccountRepository is the account registry: the local system of record for
// lock state. Locked only ever transitions to false through SetUnlocked.
type AccountRepository struct {
	db *database.DB
}

// NewAccountRepository creates a new AccountRepository
func NewAccountRepository(db *database.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// rowScanner abstracts pgx.Row / pgx.Rows for the scan helpers
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccountRow(scanner rowScanner) (*models.Account, error) {
	var account models.Account
	var lockedAt *time.Time

	err := scanner.Scan(
		&account.Subject, &account.Email, &account.ProviderRef,
		&account.Locked, &lockedAt,
		&account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	account.LockedAt = lockedAt
	return &account, nil
}

func (r *AccountRepository) GetBySubject(ctx context.Context, subject string) (*models.Account, error) {
	query := `
		SELECT subject, email, provider_ref, locked, locked_at, created_at, updated_at
		FROM accounts WHERE subject = $1
	`

	return scanAccountRow(r.db.Pool.QueryRow(ctx, query, subject))
}

// ResolveByAlias looks an account up by subject first, then by email.
// Provider log entries reference users by email rather than subject ID.
func (r *AccountRepository) ResolveByAlias(ctx context.Context, alias string) (*models.Account, error) {
	query := `
		SELECT subject, email, provider_ref, locked, locked_at, created_at, updated_at
		FROM accounts WHERE subject = $1 OR email = $1
	`

	return scanAccountRow(r.db.Pool.QueryRow(ctx, query, alias))
}

func (r *AccountRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	now := time.Now()
	account.CreatedAt = now
	account.UpdatedAt = now

	query := `
		INSERT INTO accounts (subject, email, provider_ref, locked, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING subject, email, provider_ref, locked, locked_at, created_at, updated_at
	`

	return scanAccountRow(r.db.Pool.QueryRow(ctx, query,
		account.Subject, account.Email, account.ProviderRef, account.Locked,
		account.CreatedAt, account.UpdatedAt,
	))
}

// SetLocked marks the account locked. Idempotent: locking an already-locked
// account is a successful no-op, so racing threshold evaluations can both
// call it safely.
func (r *AccountRepository) SetLocked(ctx context.Context, subject string) error {
	query := `
		UPDATE accounts
		SET locked = TRUE,
		    locked_at = COALESCE(locked_at, NOW()),
		    updated_at = NOW()
		WHERE subject = $1
	`

	result, err := r.db.Pool.Exec(ctx, query, subject)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// SetUnlocked clears the lock. This is the only path by which locked
// returns to false; event processing never calls it.
func (r *AccountRepository) SetUnlocked(ctx context.Context, subject string) error {
	query := `
		UPDATE accounts
		SET locked = FALSE, locked_at = NULL, updated_at = NOW()
		WHERE subject = $1
	`

	result, err := r.db.Pool.Exec(ctx, query, subject)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}
