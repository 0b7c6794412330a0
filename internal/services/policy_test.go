package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/mclarke-dev/aegis/internal/config"
	"github.com/mclarke-dev/aegis/internal/models"
	"github.com/mclarke-dev/aegis/internal/services"
	"github.com/stretchr/testify/assert"
)

func lockoutConfig() config.LockoutConfig {
	return config.LockoutConfig{
		MaxFailures:    3,
		Window:         24 * time.Hour,
		DedupTolerance: 1 * time.Second,
		Retention:      30 * 24 * time.Hour,
	}
}

func seedEvent(t *testing.T, store *services.MemEventStore, subject string, occurredAt time.Time) {
	t.Helper()
	_, err := store.Record(context.Background(), &models.FailureEvent{
		Subject:    subject,
		OccurredAt: occurredAt,
		Reason:     models.ReasonInvalidCredentials,
		Origin:     models.OriginLocal,
	})
	assert.NoError(t, err)
}

func TestLockoutPolicyEvaluate_UnderThreshold(t *testing.T) {
	events := services.NewMemEventStore()
	accounts := services.NewMemAccountStore()
	accounts.Put(services.NewTestAccount("user1", "user1@example.com", "auth0|user1"))

	now := time.Now()
	seedEvent(t, events, "user1", now.Add(-1*time.Hour))
	seedEvent(t, events, "user1", now.Add(-2*time.Hour))

	policy := services.NewLockoutPolicy(events, accounts, lockoutConfig())

	decision, err := policy.Evaluate(context.Background(), "user1", now)

	assert.NoError(t, err)
	assert.Equal(t, 2, decision.FailureCountInWindow)
	assert.False(t, decision.ShouldLock)
	assert.False(t, decision.IsNewLock)
}

func TestLockoutPolicyEvaluate_AtThreshold(t *testing.T) {
	events := services.NewMemEventStore()
	accounts := services.NewMemAccountStore()
	accounts.Put(services.NewTestAccount("user1", "user1@example.com", "auth0|user1"))

	now := time.Now()
	seedEvent(t, events, "user1", now.Add(-1*time.Hour))
	seedEvent(t, events, "user1", now.Add(-2*time.Hour))
	seedEvent(t, events, "user1", now.Add(-3*time.Hour))

	policy := services.NewLockoutPolicy(events, accounts, lockoutConfig())

	decision, err := policy.Evaluate(context.Background(), "user1", now)

	assert.NoError(t, err)
	assert.Equal(t, 3, decision.FailureCountInWindow)
	assert.True(t, decision.ShouldLock)
	assert.True(t, decision.IsNewLock)
}

func TestLockoutPolicyEvaluate_WindowBoundaryInclusive(t *testing.T) {
	events := services.NewMemEventStore()
	accounts := services.NewMemAccountStore()
	accounts.Put(services.NewTestAccount("user1", "user1@example.com", "auth0|user1"))

	now := time.Now()

	// Exactly on the window start: counted
	seedEvent(t, events, "user1", now.Add(-24*time.Hour))
	seedEvent(t, events, "user1", now.Add(-1*time.Hour))
	seedEvent(t, events, "user1", now)

	policy := services.NewLockoutPolicy(events, accounts, lockoutConfig())

	decision, err := policy.Evaluate(context.Background(), "user1", now)

	assert.NoError(t, err)
	assert.Equal(t, 3, decision.FailureCountInWindow)
	assert.True(t, decision.ShouldLock)
}

func TestLockoutPolicyEvaluate_EventOutsideWindowExcluded(t *testing.T) {
	events := services.NewMemEventStore()
	accounts := services.NewMemAccountStore()
	accounts.Put(services.NewTestAccount("user1", "user1@example.com", "auth0|user1"))

	now := time.Now()

	// One second past the window start: not counted
	seedEvent(t, events, "user1", now.Add(-24*time.Hour-1*time.Second))
	seedEvent(t, events, "user1", now.Add(-1*time.Hour))
	seedEvent(t, events, "user1", now)

	policy := services.NewLockoutPolicy(events, accounts, lockoutConfig())

	decision, err := policy.Evaluate(context.Background(), "user1", now)

	assert.NoError(t, err)
	assert.Equal(t, 2, decision.FailureCountInWindow)
	assert.False(t, decision.ShouldLock)
}

func TestLockoutPolicyEvaluate_AlreadyLockedIsNotNewLock(t *testing.T) {
	events := services.NewMemEventStore()
	accounts := services.NewMemAccountStore()

	locked := services.NewTestAccount("user1", "user1@example.com", "auth0|user1")
	locked.Locked = true
	lockedAt := time.Now().Add(-1 * time.Hour)
	locked.LockedAt = &lockedAt
	accounts.Put(locked)

	now := time.Now()
	seedEvent(t, events, "user1", now.Add(-1*time.Hour))
	seedEvent(t, events, "user1", now.Add(-2*time.Hour))
	seedEvent(t, events, "user1", now.Add(-3*time.Hour))

	policy := services.NewLockoutPolicy(events, accounts, lockoutConfig())

	decision, err := policy.Evaluate(context.Background(), "user1", now)

	assert.NoError(t, err)
	assert.True(t, decision.ShouldLock)
	assert.False(t, decision.IsNewLock)
}

func TestLockoutPolicyEvaluate_AliasOnlySubjectNeverNewLock(t *testing.T) {
	events := services.NewMemEventStore()
	accounts := services.NewMemAccountStore()

	now := time.Now()
	seedEvent(t, events, "ghost@example.com", now.Add(-1*time.Hour))
	seedEvent(t, events, "ghost@example.com", now.Add(-2*time.Hour))
	seedEvent(t, events, "ghost@example.com", now.Add(-3*time.Hour))

	policy := services.NewLockoutPolicy(events, accounts, lockoutConfig())

	decision, err := policy.Evaluate(context.Background(), "ghost@example.com", now)

	assert.NoError(t, err)
	assert.True(t, decision.ShouldLock)
	assert.False(t, decision.IsNewLock)
}

func TestLockoutPolicyEvaluate_CountsBothOrigins(t *testing.T) {
	events := services.NewMemEventStore()
	accounts := services.NewMemAccountStore()
	accounts.Put(services.NewTestAccount("user1", "user1@example.com", "auth0|user1"))

	now := time.Now()
	seedEvent(t, events, "user1", now.Add(-1*time.Hour))

	_, err := events.Record(context.Background(), &models.FailureEvent{
		Subject:    "user1",
		OccurredAt: now.Add(-2 * time.Hour),
		Reason:     models.ReasonInvalidCredentials,
		Origin:     models.OriginProviderSync,
	})
	assert.NoError(t, err)

	_, err = events.Record(context.Background(), &models.FailureEvent{
		Subject:    "user1",
		OccurredAt: now.Add(-3 * time.Hour),
		Reason:     models.ReasonAccountNotFound,
		Origin:     models.OriginProviderSync,
	})
	assert.NoError(t, err)

	policy := services.NewLockoutPolicy(events, accounts, lockoutConfig())

	decision, err := policy.Evaluate(context.Background(), "user1", now)

	assert.NoError(t, err)
	assert.Equal(t, 3, decision.FailureCountInWindow)
	assert.True(t, decision.ShouldLock)
}
