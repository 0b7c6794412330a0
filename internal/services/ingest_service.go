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
	pkglogger "github.com/mclarke-dev/aegis/pkg/logger"
)

// IngestEventStore is the slice of the event store the ingestion path uses.
type IngestEventStore interface {
	Record(ctx context.Context, event *models.FailureEvent) (string, error)
	CountInWindow(ctx context.Context, subject string, windowStart, windowEnd time.Time) (int, error)
}

// AccountResolver resolves a login identifier (subject ID or email alias)
// to an account.
type AccountResolver interface {
	ResolveByAlias(ctx context.Context, alias string) (*models.Account, error)
}

// PolicyEvaluator is the lockout decision engine.
type PolicyEvaluator interface {
	Evaluate(ctx context.Context, subject string, now time.Time) (models.LockDecision, error)
}

// ReportFailureInput describes one observed authentication failure.
type ReportFailureInput struct {
	SubjectOrAlias string
	Reason         models.FailureReason
	IPAddress      string
	UserAgent      string
	// OccurredAt defaults to now when zero.
	OccurredAt time.Time
}

// IngestResult is returned to the login flow for user-facing messaging.
type IngestResult struct {
	Flagged      bool `json:"flagged"`
	Locked       bool `json:"locked"`
	FailureCount int  `json:"failure_count"`
}

// IngestService is the synchronous entry point invoked on every observed
// authentication failure.
type IngestService struct {
	events   IngestEventStore
	accounts AccountResolver
	policy   PolicyEvaluator
	enforcer *LockEnforcer
	config   config.LockoutConfig
	logger   *slog.Logger
	audit    *pkglogger.AuditLogger
}

// NewIngestService creates a new IngestService
func NewIngestService(
	events IngestEventStore,
	accounts AccountResolver,
	policy PolicyEvaluator,
	enforcer *LockEnforcer,
	cfg config.LockoutConfig,
	logger *slog.Logger,
	audit *pkglogger.AuditLogger,
) *IngestService {
	return &IngestService{
		events:   events,
		accounts: accounts,
		policy:   policy,
		enforcer: enforcer,
		config:   cfg,
		logger:   logger,
		audit:    audit,
	}
}

// ReportFailure records the failure, evaluates the lockout policy against a
// fresh count, and applies the lock on an unlocked->locked transition.
//
// Storage errors are returned to the caller: a failed write must never be
// treated as "attempt not counted". Gateway, notifier and alert failures are
// caught downstream and logged, never surfaced here.
func (s *IngestService) ReportFailure(ctx context.Context, input ReportFailureInput) (*IngestResult, error) {
	alias := strings.ToLower(strings.TrimSpace(input.SubjectOrAlias))
	if alias == "" {
		return nil, models.ErrBadRequest
	}

	reason := input.Reason
	if !models.ValidFailureReason(reason) {
		reason = models.ReasonInvalidCredentials
	}

	now := time.Now()
	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = now
	}

	// An attacker probing non-existent accounts is still tracked under the
	// raw alias; there is just no account to lock.
	subject := alias
	account, err := s.accounts.ResolveByAlias(ctx, alias)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.Error("failed to resolve subject", slog.Any("error", err))
			return nil, fmt.Errorf("failed to resolve subject: %w", err)
		}
		account = nil
		s.logger.Info("failure reported for unresolvable subject, tracking by alias",
			slog.String("alias", pkglogger.SanitizedEmail(alias)))
	} else {
		subject = account.Subject
	}

	// Snapshot for the denormalized flagged_at_insert column. Not used for
	// the decision below, which always recounts after the write.
	priorCount, err := s.events.CountInWindow(ctx, subject, now.Add(-s.config.Window), now)
	if err != nil {
		return nil, fmt.Errorf("failed to count prior failures: %w", err)
	}

	event := &models.FailureEvent{
		Subject:         subject,
		SourceIP:        input.IPAddress,
		UserAgent:       input.UserAgent,
		OccurredAt:      occurredAt,
		Reason:          reason,
		Origin:          models.OriginLocal,
		FlaggedAtInsert: priorCount+1 >= s.config.MaxFailures,
	}

	if _, err := s.events.Record(ctx, event); err != nil {
		s.logger.Error("failed to record failure event",
			slog.String("subject", subject),
			slog.Any("error", err))
		return nil, fmt.Errorf("failed to record failure event: %w", err)
	}

	decision, err := s.policy.Evaluate(ctx, subject, now)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate lockout policy: %w", err)
	}

	s.audit.LogAuthFailure(pkglogger.AuditEvent{
		EventType:     "auth_failure_recorded",
		Subject:       subject,
		IPAddress:     input.IPAddress,
		UserAgent:     input.UserAgent,
		FailureReason: string(reason),
		Flagged:       decision.ShouldLock,
	})

	result := &IngestResult{
		Flagged:      decision.ShouldLock,
		FailureCount: decision.FailureCountInWindow,
	}

	if account == nil {
		return result, nil
	}

	result.Locked = account.Locked || decision.ShouldLock

	if decision.IsNewLock {
		if err := s.enforcer.Apply(ctx, account, decision, "system", "failure threshold exceeded"); err != nil {
			s.logger.Error("failed to apply lock",
				slog.String("subject", subject),
				slog.Any("error", err))
			return nil, fmt.Errorf("failed to apply lock: %w", err)
		}
	}

	return result, nil
}
