package background_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mclarke-dev/aegis/internal/background"
	"github.com/mclarke-dev/aegis/internal/config"
	"github.com/mclarke-dev/aegis/internal/provider"
	"github.com/mclarke-dev/aegis/internal/services"
	"github.com/stretchr/testify/assert"
)

// capturingHandler records every log entry so tests can assert on levels.
type capturingHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *capturingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *capturingHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r)
	return nil
}

func (h *capturingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *capturingHandler) WithGroup(string) slog.Handler      { return h }

func (h *capturingHandler) messagesAt(level slog.Level) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []string
	for _, r := range h.records {
		if r.Level == level {
			out = append(out, r.Message)
		}
	}
	return out
}

func newTestReconcileService(logger *slog.Logger, gateway *services.MockGateway) *services.ReconcileService {
	cfg := config.LockoutConfig{
		MaxFailures:    3,
		Window:         24 * time.Hour,
		DedupTolerance: 1 * time.Second,
		Retention:      30 * 24 * time.Hour,
	}

	events := services.NewMemEventStore()
	accounts := services.NewMemAccountStore()
	policy := services.NewLockoutPolicy(events, accounts, cfg)
	enforcer := services.NewLockEnforcer(accounts, gateway, &services.MockNotifier{}, nil, &services.MockSecurityLogStore{}, logger, time.Second)

	return services.NewReconcileService(events, accounts, policy, enforcer, gateway, cfg, 24*time.Hour, logger)
}

func TestReconcileRunner_ShutdownCancellationIsNotAnError(t *testing.T) {
	handler := &capturingHandler{}
	logger := slog.New(handler)

	gateway := &services.MockGateway{
		Entries: []provider.ProviderLogEntry{
			{SubjectAlias: "user1@example.com", OccurredAt: time.Now(), ReasonCode: "f"},
		},
	}
	runner := background.NewReconcileRunner(newTestReconcileService(logger, gateway), logger, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		runner.Start(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop on context cancellation")
	}

	assert.Empty(t, handler.messagesAt(slog.LevelError))
	assert.Contains(t, handler.messagesAt(slog.LevelInfo), "reconciliation cancelled during shutdown")
}
