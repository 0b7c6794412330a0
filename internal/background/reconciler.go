package background

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mclarke-dev/aegis/internal/models"
	"github.com/mclarke-dev/aegis/internal/services"
)

// ReconcileRunner periodically pulls the identity provider's failure log and
// feeds it through the reconciliation service.
type ReconcileRunner struct {
	reconcile *services.ReconcileService
	logger    *slog.Logger
	interval  time.Duration
	stopCh    chan struct{}
}

// NewReconcileRunner creates a new reconcile runner
func NewReconcileRunner(
	reconcile *services.ReconcileService,
	logger *slog.Logger,
	interval time.Duration,
) *ReconcileRunner {
	return &ReconcileRunner{
		reconcile: reconcile,
		logger:    logger,
		interval:  interval,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the periodic reconciliation task
func (rr *ReconcileRunner) Start(ctx context.Context) {
	ticker := time.NewTicker(rr.interval)
	defer ticker.Stop()

	// Run immediately on startup
	rr.runOnce(ctx)

	for {
		select {
		case <-ticker.C:
			rr.runOnce(ctx)
		case <-rr.stopCh:
			rr.logger.Info("reconcile runner stopped")
			return
		case <-ctx.Done():
			rr.logger.Info("reconcile runner context cancelled")
			return
		}
	}
}

func (rr *ReconcileRunner) runOnce(ctx context.Context) {
	rr.logger.Info("starting scheduled reconciliation")

	_, err := rr.reconcile.Run(ctx)
	if err != nil {
		// A manually-triggered run may already hold the slot; the next tick
		// covers the same window.
		if errors.Is(err, models.ErrReconcileInProgress) {
			rr.logger.Info("reconciliation already in progress, skipping scheduled run")
			return
		}
		// A run cut short by shutdown is routine; already-imported events are
		// deduped on the next run.
		if errors.Is(err, context.Canceled) {
			rr.logger.Info("reconciliation cancelled during shutdown")
			return
		}
		rr.logger.Error("scheduled reconciliation failed", slog.Any("error", err))
	}
}

// Stop signals the reconcile runner to stop
func (rr *ReconcileRunner) Stop() {
	close(rr.stopCh)
}
