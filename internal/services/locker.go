package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/mclarke-dev/aegis/internal/models"
	"github.com/mclarke-dev/aegis/internal/notify"
	"github.com/mclarke-dev/aegis/internal/provider"
)

// AccountLocker is the slice of the account registry used to apply locks.
type AccountLocker interface {
	SetLocked(ctx context.Context, subject string) error
}

// SecurityLogWriter persists lock-transition records.
type SecurityLogWriter interface {
	Create(ctx context.Context, log *models.SecurityLog) (*models.SecurityLog, error)
}

// LockAlerter sends a human-facing alert when an account is newly locked.
type LockAlerter interface {
	SendLockAlert(ctx context.Context, subject, email string, failureCount int) error
}

// LockEnforcer applies a lock decision: flip the local flag, then mirror the
// lock outward on a best-effort basis. Local state is the source of truth;
// a failed gateway or notifier call is logged and never rolled back
// (fail-safe-locked, not fail-open). Ingestion and reconciliation share this
// so both channels converge on identical lock behavior.
type LockEnforcer struct {
	accounts           AccountLocker
	gateway            provider.IdentityProviderGateway
	notifier           notify.LockNotifier
	alerts             LockAlerter
	securityLogs       SecurityLogWriter
	logger             *slog.Logger
	propagationTimeout time.Duration
}

// NewLockEnforcer creates a new LockEnforcer. alerts may be nil when alert
// email is not configured.
func NewLockEnforcer(
	accounts AccountLocker,
	gateway provider.IdentityProviderGateway,
	notifier notify.LockNotifier,
	alerts LockAlerter,
	securityLogs SecurityLogWriter,
	logger *slog.Logger,
	propagationTimeout time.Duration,
) *LockEnforcer {
	return &LockEnforcer{
		accounts:           accounts,
		gateway:            gateway,
		notifier:           notifier,
		alerts:             alerts,
		securityLogs:       securityLogs,
		logger:             logger,
		propagationTimeout: propagationTimeout,
	}
}

// Apply locks the account and mirrors the lock. Only the local SetLocked can
// fail the call; everything downstream is fire-and-log.
func (e *LockEnforcer) Apply(ctx context.Context, account *models.Account, decision models.LockDecision, actor, reason string) error {
	if err := e.accounts.SetLocked(ctx, account.Subject); err != nil {
		return err
	}

	e.logger.Warn("account locked",
		slog.String("subject", account.Subject),
		slog.String("actor", actor),
		slog.Int("failure_count", decision.FailureCountInWindow))

	e.propagate(ctx, account)

	if err := e.notifier.NotifyLocked(ctx, notify.LockedEvent{
		Subject:      account.Subject,
		Email:        account.Email,
		FailureCount: decision.FailureCountInWindow,
		Actor:        actor,
		LockedAt:     time.Now().UTC(),
	}); err != nil {
		e.logger.Error("failed to notify session layer of lock",
			slog.String("subject", account.Subject),
			slog.Any("error", err))
	}

	if _, err := e.securityLogs.Create(ctx, &models.SecurityLog{
		EventType:    models.SecurityEventAccountLocked,
		Subject:      account.Subject,
		Actor:        actor,
		Reason:       reason,
		FailureCount: decision.FailureCountInWindow,
	}); err != nil {
		e.logger.Error("failed to write security log for lock",
			slog.String("subject", account.Subject),
			slog.Any("error", err))
	}

	if e.alerts != nil {
		if err := e.alerts.SendLockAlert(ctx, account.Subject, account.Email, decision.FailureCountInWindow); err != nil {
			e.logger.Error("failed to send lock alert",
				slog.String("subject", account.Subject),
				slog.Any("error", err))
		}
	}

	return nil
}

// propagate mirrors the lock to the identity provider with a bounded
// timeout. A slow or hung provider must not hang failure reporting.
func (e *LockEnforcer) propagate(ctx context.Context, account *models.Account) {
	if account.ProviderRef == "" {
		e.logger.Warn("account has no provider ref, skipping propagation",
			slog.String("subject", account.Subject))
		return
	}

	propCtx, cancel := context.WithTimeout(ctx, e.propagationTimeout)
	defer cancel()

	if err := e.gateway.SetBlocked(propCtx, account.ProviderRef, true); err != nil {
		// Local state wins: the account stays locked here and the mismatch
		// is left for manual reconciliation.
		e.logger.Error("failed to propagate lock to identity provider",
			slog.String("subject", account.Subject),
			slog.String("provider_ref", account.ProviderRef),
			slog.Any("error", err))
	}
}
