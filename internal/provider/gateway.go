package provider

import (
	"context"
	"fmt"
	"time"
)

// ProviderLogEntry is one failure-type entry from the identity provider's
// authentication log. SubjectAlias is usually an email; OccurredAt is the
// provider's own timestamp for the attempt.
type ProviderLogEntry struct {
	SubjectAlias string
	OccurredAt   time.Time
	ReasonCode   string
	IPAddress    string
	UserAgent    string
}

// IdentityProviderGateway abstracts the external identity provider. It is a
// collaborator, not owned logic: callers treat SetBlocked as best-effort and
// never roll back local state when it fails.
type IdentityProviderGateway interface {
	// FetchFailureLog returns the provider's failure-type log entries with
	// timestamps in [windowStart, windowEnd].
	FetchFailureLog(ctx context.Context, windowStart, windowEnd time.Time) ([]ProviderLogEntry, error)

	// SetBlocked mirrors a local lock decision to the provider.
	SetBlocked(ctx context.Context, providerRef string, blocked bool) error
}

// PropagationError wraps a failed call against the provider. Callers are
// expected to catch and log it, never to propagate it as their own failure.
type PropagationError struct {
	Op          string
	ProviderRef string
	Err         error
}

func (e *PropagationError) Error() string {
	if e.ProviderRef != "" {
		return fmt.Sprintf("provider %s failed for %s: %v", e.Op, e.ProviderRef, e.Err)
	}
	return fmt.Sprintf("provider %s failed: %v", e.Op, e.Err)
}

func (e *PropagationError) Unwrap() error {
	return e.Err
}
