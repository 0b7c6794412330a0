package services

import (
	"context"
	"errors"
	"time"

	"github.com/mclarke-dev/aegis/internal/config"
	"github.com/mclarke-dev/aegis/internal/models"
)

// EventCounter is the slice of the event store the policy engine reads.
type EventCounter interface {
	CountInWindow(ctx context.Context, subject string, windowStart, windowEnd time.Time) (int, error)
}

// AccountReader fetches the current lock state for a subject.
type AccountReader interface {
	GetBySubject(ctx context.Context, subject string) (*models.Account, error)
}

// LockoutPolicy decides whether a subject is over the failure threshold.
// It has no side effects: every evaluation recounts from the event store and
// re-reads the account, never trusting a cached count or lock flag.
type LockoutPolicy struct {
	events   EventCounter
	accounts AccountReader
	config   config.LockoutConfig
}

// NewLockoutPolicy creates a new LockoutPolicy
func NewLockoutPolicy(events EventCounter, accounts AccountReader, cfg config.LockoutConfig) *LockoutPolicy {
	return &LockoutPolicy{
		events:   events,
		accounts: accounts,
		config:   cfg,
	}
}

// Evaluate counts the subject's failures in [now - Window, now] (inclusive
// on both boundaries) and compares against the configured threshold.
//
// Callers record before evaluating, so the event that crosses the threshold
// is the one that triggers the lock. IsNewLock is true only when shouldLock
// holds and the account exists and is not already locked; a subject with no
// account (alias-only tracking) can be flagged but never newly locked.
func (p *LockoutPolicy) Evaluate(ctx context.Context, subject string, now time.Time) (models.LockDecision, error) {
	windowStart := now.Add(-p.config.Window)

	count, err := p.events.CountInWindow(ctx, subject, windowStart, now)
	if err != nil {
		return models.LockDecision{}, err
	}

	decision := models.LockDecision{
		Subject:              subject,
		FailureCountInWindow: count,
		ShouldLock:           count >= p.config.MaxFailures,
	}

	if !decision.ShouldLock {
		return decision, nil
	}

	account, err := p.accounts.GetBySubject(ctx, subject)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// No account to lock; the caller tracks the alias only.
			return decision, nil
		}
		return models.LockDecision{}, err
	}

	decision.IsNewLock = !account.Locked

	return decision, nil
}
