package background

import (
	"context"
	"log/slog"
	"time"

	"github.com/mclarke-dev/aegis/internal/repositories"
)

// RetentionManager periodically removes failure events older than the
// retention period. Events far outside the lockout window never affect a
// decision again; only the audit retention policy keeps them around.
type RetentionManager struct {
	events    *repositories.FailureEventRepository
	logger    *slog.Logger
	interval  time.Duration
	retention time.Duration
	stopCh    chan struct{}
}

// NewRetentionManager creates a new retention manager
func NewRetentionManager(
	events *repositories.FailureEventRepository,
	logger *slog.Logger,
	interval, retention time.Duration,
) *RetentionManager {
	return &RetentionManager{
		events:    events,
		logger:    logger,
		interval:  interval,
		retention: retention,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the periodic retention sweep
func (rm *RetentionManager) Start(ctx context.Context) {
	ticker := time.NewTicker(rm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	rm.runSweep(ctx)

	for {
		select {
		case <-ticker.C:
			rm.runSweep(ctx)
		case <-rm.stopCh:
			rm.logger.Info("retention manager stopped")
			return
		case <-ctx.Done():
			rm.logger.Info("retention manager context cancelled")
			return
		}
	}
}

// runSweep deletes failure events past the retention cutoff
func (rm *RetentionManager) runSweep(ctx context.Context) {
	rm.logger.Info("starting failure event retention sweep")

	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cutoff := time.Now().Add(-rm.retention)
	rowsDeleted, err := rm.events.DeleteOlderThan(sweepCtx, cutoff)
	if err != nil {
		rm.logger.Error("failed to sweep expired failure events", slog.Any("error", err))
		return
	}

	if rowsDeleted > 0 {
		rm.logger.Info("failure event retention sweep completed", slog.Int64("rows_deleted", rowsDeleted))
	}
}

// Stop signals the retention manager to stop
func (rm *RetentionManager) Stop() {
	close(rm.stopCh)
}
