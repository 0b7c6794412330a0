package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mclarke-dev/aegis/internal/config"
	"github.com/mclarke-dev/aegis/internal/models"
	"github.com/mclarke-dev/aegis/internal/provider"
	pkglogger "github.com/mclarke-dev/aegis/pkg/logger"
)

// ReconcileEventStore is the slice of the event store reconciliation uses.
type ReconcileEventStore interface {
	Record(ctx context.Context, event *models.FailureEvent) (string, error)
	CountInWindow(ctx context.Context, subject string, windowStart, windowEnd time.Time) (int, error)
	Exists(ctx context.Context, subject string, occurredAt time.Time, tolerance time.Duration) (bool, error)
}

// providerReasonMap translates the provider's failure-type codes to the
// local reason enum. Unknown codes fall back to invalid_credentials.
var providerReasonMap = map[string]models.FailureReason{
	"f":        models.ReasonInvalidCredentials,
	"fp":       models.ReasonInvalidCredentials,
	"fu":       models.ReasonAccountNotFound,
	"limit_wc": models.ReasonAccountLocked,
}

func mapProviderReason(code string) models.FailureReason {
	if reason, ok := providerReasonMap[code]; ok {
		return reason
	}
	return models.ReasonInvalidCredentials
}

// ReconcileReport summarizes one reconciliation run.
type ReconcileReport struct {
	WindowStart     time.Time `json:"window_start"`
	WindowEnd       time.Time `json:"window_end"`
	Fetched         int       `json:"fetched"`
	Imported        int       `json:"imported"`
	Skipped         int       `json:"skipped"`
	Failed          int       `json:"failed"`
	SubjectsTouched int       `json:"subjects_touched"`
	NewLocks        int       `json:"new_locks"`
}

// ReconcileService imports failures the local path never observed (e.g.
// attempts made entirely inside the provider's login widget) and re-applies
// the lockout decision wherever the new information changes the outcome.
type ReconcileService struct {
	events   ReconcileEventStore
	accounts AccountResolver
	policy   PolicyEvaluator
	enforcer *LockEnforcer
	gateway  provider.IdentityProviderGateway
	lockout  config.LockoutConfig
	window   time.Duration
	logger   *slog.Logger

	running atomic.Bool
}

// NewReconcileService creates a new ReconcileService
func NewReconcileService(
	events ReconcileEventStore,
	accounts AccountResolver,
	policy PolicyEvaluator,
	enforcer *LockEnforcer,
	gateway provider.IdentityProviderGateway,
	lockout config.LockoutConfig,
	pullWindow time.Duration,
	logger *slog.Logger,
) *ReconcileService {
	return &ReconcileService{
		events:   events,
		accounts: accounts,
		policy:   policy,
		enforcer: enforcer,
		gateway:  gateway,
		lockout:  lockout,
		window:   pullWindow,
		logger:   logger,
	}
}

// Run executes one reconciliation pass. Concurrent runs are refused with
// ErrReconcileInProgress: two runs over the same window would race the dedup
// check and double-import.
//
// A provider fetch failure aborts the run before any write and is retried on
// the next schedule. Per-entry failures are logged and skipped; per-subject
// lock failures are logged and safely retried next run, since re-evaluating
// already-imported events is idempotent.
func (s *ReconcileService) Run(ctx context.Context) (*ReconcileReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, models.ErrReconcileInProgress
	}
	defer s.running.Store(false)

	now := time.Now()
	report := &ReconcileReport{
		WindowStart: now.Add(-s.window),
		WindowEnd:   now,
	}

	entries, err := s.gateway.FetchFailureLog(ctx, report.WindowStart, report.WindowEnd)
	if err != nil {
		s.logger.Error("provider log fetch failed, aborting reconciliation",
			slog.Any("error", err))
		return nil, fmt.Errorf("%w: %v", models.ErrReconcileFetchFailed, err)
	}

	report.Fetched = len(entries)

	touched := make(map[string]struct{})

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		subject, err := s.importEntry(ctx, entry, now)
		if err != nil {
			if errors.Is(err, errEntryAlreadyKnown) {
				report.Skipped++
				continue
			}
			s.logger.Warn("skipping provider log entry",
				slog.String("alias", pkglogger.SanitizedEmail(entry.SubjectAlias)),
				slog.Any("error", err))
			report.Failed++
			continue
		}

		report.Imported++
		touched[subject] = struct{}{}
	}

	report.SubjectsTouched = len(touched)

	// Only subjects with newly-imported events are re-evaluated; recounting
	// untouched subjects is wasted work on stale data.
	for subject := range touched {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		locked, err := s.reevaluate(ctx, subject, now)
		if err != nil {
			s.logger.Error("failed to re-evaluate subject after import",
				slog.String("subject", subject),
				slog.Any("error", err))
			continue
		}
		if locked {
			report.NewLocks++
		}
	}

	s.logger.Info("reconciliation run complete",
		slog.Int("fetched", report.Fetched),
		slog.Int("imported", report.Imported),
		slog.Int("skipped", report.Skipped),
		slog.Int("failed", report.Failed),
		slog.Int("subjects_touched", report.SubjectsTouched),
		slog.Int("new_locks", report.NewLocks))

	return report, nil
}

var errEntryAlreadyKnown = errors.New("entry already recorded")

// importEntry resolves, dedups and records a single provider log entry,
// returning the subject it was recorded under. The dedup check runs before
// any write: an event already counted via local ingestion (or a prior run)
// must never be imported again.
func (s *ReconcileService) importEntry(ctx context.Context, entry provider.ProviderLogEntry, now time.Time) (string, error) {
	alias := strings.ToLower(strings.TrimSpace(entry.SubjectAlias))
	if alias == "" {
		return "", fmt.Errorf("entry has no subject alias")
	}

	subject := alias
	account, err := s.accounts.ResolveByAlias(ctx, alias)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			return "", fmt.Errorf("failed to resolve subject: %w", err)
		}
	} else {
		subject = account.Subject
	}

	known, err := s.events.Exists(ctx, subject, entry.OccurredAt, s.lockout.DedupTolerance)
	if err != nil {
		return "", fmt.Errorf("dedup check failed: %w", err)
	}
	if known {
		return "", errEntryAlreadyKnown
	}

	priorCount, err := s.events.CountInWindow(ctx, subject, now.Add(-s.lockout.Window), now)
	if err != nil {
		return "", fmt.Errorf("failed to count prior failures: %w", err)
	}

	event := &models.FailureEvent{
		Subject:         subject,
		SourceIP:        entry.IPAddress,
		UserAgent:       entry.UserAgent,
		OccurredAt:      entry.OccurredAt,
		Reason:          mapProviderReason(entry.ReasonCode),
		Origin:          models.OriginProviderSync,
		FlaggedAtInsert: priorCount+1 >= s.lockout.MaxFailures,
	}

	if _, err := s.events.Record(ctx, event); err != nil {
		return "", fmt.Errorf("failed to record imported event: %w", err)
	}

	return subject, nil
}

// reevaluate runs the same policy + lock sequence the ingestion path uses.
// Returns true when the subject transitioned to locked.
func (s *ReconcileService) reevaluate(ctx context.Context, subject string, now time.Time) (bool, error) {
	decision, err := s.policy.Evaluate(ctx, subject, now)
	if err != nil {
		return false, err
	}

	if !decision.IsNewLock {
		return false, nil
	}

	account, err := s.accounts.ResolveByAlias(ctx, subject)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// Alias-only subject: flagged, but nothing to lock.
			return false, nil
		}
		return false, err
	}

	if err := s.enforcer.Apply(ctx, account, decision, "reconciler", "failure threshold exceeded after provider import"); err != nil {
		return false, err
	}

	return true, nil
}
