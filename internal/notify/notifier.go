package notify

import (
	"context"
	"log/slog"
	"time"
)

// LockedEvent is published whenever an account transitions to locked, so the
// session layer can invalidate the subject's active sessions.
type LockedEvent struct {
	Subject      string    `json:"subject"`
	Email        string    `json:"email,omitempty"`
	FailureCount int       `json:"failure_count"`
	Actor        string    `json:"actor"`
	LockedAt     time.Time `json:"locked_at"`
}

// LockNotifier is the session-invalidation hook. Implementations are
// best-effort: callers log failures and move on.
type LockNotifier interface {
	NotifyLocked(ctx context.Context, event LockedEvent) error
}

// LogNotifier logs lock events instead of publishing them. Used when no
// broker is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a new LogNotifier
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifyLocked(_ context.Context, event LockedEvent) error {
	n.logger.Info("account lock notification",
		slog.String("subject", event.Subject),
		slog.String("actor", event.Actor),
		slog.Int("failure_count", event.FailureCount),
	)
	return nil
}
