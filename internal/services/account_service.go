package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mclarke-dev/aegis/internal/config"
	"github.com/mclarke-dev/aegis/internal/models"
	"github.com/mclarke-dev/aegis/internal/provider"
	pkglogger "github.com/mclarke-dev/aegis/pkg/logger"
)

// AccountRegistry is the slice of the account store the account service uses.
type AccountRegistry interface {
	GetBySubject(ctx context.Context, subject string) (*models.Account, error)
	ResolveByAlias(ctx context.Context, alias string) (*models.Account, error)
	Create(ctx context.Context, account *models.Account) (*models.Account, error)
	SetUnlocked(ctx context.Context, subject string) error
}

// SecurityLogStore extends the writer with the read side used for the
// audit-history endpoint.
type SecurityLogStore interface {
	SecurityLogWriter
	GetBySubject(ctx context.Context, subject string, limit, offset int) ([]*models.SecurityLog, error)
}

// AccountService covers the non-automated account surface: registration,
// lock-status reads, and explicit administrative lock and unlock.
type AccountService struct {
	accounts           AccountRegistry
	events             EventCounter
	enforcer           *LockEnforcer
	gateway            provider.IdentityProviderGateway
	securityLogs       SecurityLogStore
	audit              *pkglogger.AuditLogger
	lockout            config.LockoutConfig
	propagationTimeout time.Duration
	logger             *slog.Logger
}

// NewAccountService creates a new AccountService
func NewAccountService(
	accounts AccountRegistry,
	events EventCounter,
	enforcer *LockEnforcer,
	gateway provider.IdentityProviderGateway,
	securityLogs SecurityLogStore,
	audit *pkglogger.AuditLogger,
	lockout config.LockoutConfig,
	propagationTimeout time.Duration,
	logger *slog.Logger,
) *AccountService {
	return &AccountService{
		accounts:           accounts,
		events:             events,
		enforcer:           enforcer,
		gateway:            gateway,
		securityLogs:       securityLogs,
		audit:              audit,
		lockout:            lockout,
		propagationTimeout: propagationTimeout,
		logger:             logger,
	}
}

// Register creates an account record for a newly-seen subject. The login
// flow calls this on a subject's first authentication, so a concurrent
// duplicate is expected and resolved by returning the existing row.
func (s *AccountService) Register(ctx context.Context, subject, email, providerRef string) (*models.Account, error) {
	subject = strings.ToLower(strings.TrimSpace(subject))
	if subject == "" {
		return nil, models.ErrBadRequest
	}

	account, err := s.accounts.Create(ctx, &models.Account{
		Subject:     subject,
		Email:       strings.ToLower(strings.TrimSpace(email)),
		ProviderRef: providerRef,
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			existing, lookupErr := s.accounts.GetBySubject(ctx, subject)
			if lookupErr != nil {
				if errors.Is(lookupErr, models.ErrNotFound) {
					// The collision is on the email, owned by a different
					// subject. That is a real conflict, not a re-register.
					return nil, models.ErrConflict
				}
				return nil, fmt.Errorf("failed to load existing account: %w", lookupErr)
			}
			return existing, nil
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	return account, nil
}

// GetLockStatus returns the account's current lock state. The caller gates
// authentication on this, so it always reads fresh from the registry.
func (s *AccountService) GetLockStatus(ctx context.Context, subjectOrAlias string) (*models.Account, error) {
	alias := strings.ToLower(strings.TrimSpace(subjectOrAlias))
	if alias == "" {
		return nil, models.ErrBadRequest
	}

	return s.accounts.ResolveByAlias(ctx, alias)
}

// AdminLock locks an account on an operator's authority, running the same
// lock sequence the threshold path runs. Locking an already-locked account
// is a no-op.
func (s *AccountService) AdminLock(ctx context.Context, subjectOrAlias, actor, reason string) (*models.Account, error) {
	account, err := s.resolve(ctx, subjectOrAlias)
	if err != nil {
		return nil, err
	}

	if account.Locked {
		return account, nil
	}

	now := time.Now()
	count, err := s.events.CountInWindow(ctx, account.Subject, now.Add(-s.lockout.Window), now)
	if err != nil {
		return nil, fmt.Errorf("failed to count failures: %w", err)
	}

	if reason == "" {
		reason = "administrative lock"
	}

	decision := models.LockDecision{
		Subject:              account.Subject,
		FailureCountInWindow: count,
		ShouldLock:           true,
		IsNewLock:            true,
	}

	if err := s.enforcer.Apply(ctx, account, decision, actor, reason); err != nil {
		return nil, fmt.Errorf("failed to apply lock: %w", err)
	}

	s.audit.LogAccountAction(models.SecurityEventAccountLocked, account.Subject, actor, map[string]string{
		"reason": reason,
	})

	return s.accounts.GetBySubject(ctx, account.Subject)
}

// AdminUnlock clears the lock. This is the only path back to unlocked; the
// automated channels never call it. The cleared state is mirrored to the
// provider on a best-effort basis, same as lock propagation.
func (s *AccountService) AdminUnlock(ctx context.Context, subjectOrAlias, actor, reason string) (*models.Account, error) {
	account, err := s.resolve(ctx, subjectOrAlias)
	if err != nil {
		return nil, err
	}

	if !account.Locked {
		return account, nil
	}

	if err := s.accounts.SetUnlocked(ctx, account.Subject); err != nil {
		return nil, fmt.Errorf("failed to unlock account: %w", err)
	}

	s.logger.Info("account unlocked",
		slog.String("subject", account.Subject),
		slog.String("actor", actor))

	if account.ProviderRef != "" {
		propCtx, cancel := context.WithTimeout(ctx, s.propagationTimeout)
		defer cancel()

		if err := s.gateway.SetBlocked(propCtx, account.ProviderRef, false); err != nil {
			s.logger.Error("failed to propagate unlock to identity provider",
				slog.String("subject", account.Subject),
				slog.String("provider_ref", account.ProviderRef),
				slog.Any("error", err))
		}
	}

	if reason == "" {
		reason = "administrative unlock"
	}

	if _, err := s.securityLogs.Create(ctx, &models.SecurityLog{
		EventType: models.SecurityEventAccountUnlocked,
		Subject:   account.Subject,
		Actor:     actor,
		Reason:    reason,
	}); err != nil {
		s.logger.Error("failed to write security log for unlock",
			slog.String("subject", account.Subject),
			slog.Any("error", err))
	}

	s.audit.LogAccountAction(models.SecurityEventAccountUnlocked, account.Subject, actor, map[string]string{
		"reason": reason,
	})

	return s.accounts.GetBySubject(ctx, account.Subject)
}

// SecurityHistory returns the lock-transition audit trail for a subject.
func (s *AccountService) SecurityHistory(ctx context.Context, subjectOrAlias string, limit, offset int) ([]*models.SecurityLog, error) {
	account, err := s.resolve(ctx, subjectOrAlias)
	if err != nil {
		return nil, err
	}

	return s.securityLogs.GetBySubject(ctx, account.Subject, limit, offset)
}

func (s *AccountService) resolve(ctx context.Context, subjectOrAlias string) (*models.Account, error) {
	alias := strings.ToLower(strings.TrimSpace(subjectOrAlias))
	if alias == "" {
		return nil, models.ErrBadRequest
	}

	return s.accounts.ResolveByAlias(ctx, alias)
}
