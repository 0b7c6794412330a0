package models

import "time"

// FailureReason enumerates why an authentication attempt failed.
type FailureReason string

const (
	ReasonInvalidCredentials FailureReason = "invalid_credentials"
	ReasonAccountNotFound    FailureReason = "account_not_found"
	ReasonAccountLocked      FailureReason = "account_locked"
	ReasonInvalidToken       FailureReason = "invalid_token"
	ReasonExpiredToken       FailureReason = "expired_token"
)

// ValidFailureReason reports whether r is one of the known reasons.
func ValidFailureReason(r FailureReason) bool {
	switch r {
	case ReasonInvalidCredentials, ReasonAccountNotFound, ReasonAccountLocked,
		ReasonInvalidToken, ReasonExpiredToken:
		return true
	}
	return false
}

// EventOrigin identifies which channel produced a failure event. Provider-
// imported events must never be re-counted as fresh local attempts.
type EventOrigin string

const (
	OriginLocal        EventOrigin = "local"
	OriginProviderSync EventOrigin = "provider_sync"
)

// FailureEvent is a single recorded authentication failure. Events are
// immutable once written; OccurredAt is the time of the attempt itself,
// not the time it reached us (the dedup key depends on that).
type FailureEvent struct {
	ID              string        `db:"id"`
	Subject         string        `db:"subject"`
	SourceIP        string        `db:"source_ip"`
	UserAgent       string        `db:"user_agent"`
	OccurredAt      time.Time     `db:"occurred_at"`
	Reason          FailureReason `db:"reason"`
	Origin          EventOrigin   `db:"origin"`
	FlaggedAtInsert bool          `db:"flagged_at_insert"`
	CreatedAt       time.Time     `db:"created_at"`
}

// LockDecision is the Policy Engine's verdict for a subject at a point in
// time. It is never persisted; callers act on it immediately.
type LockDecision struct {
	Subject              string
	FailureCountInWindow int
	ShouldLock           bool
	// IsNewLock is true only on the unlocked->locked transition. Callers use
	// it to avoid redundant propagation calls.
	IsNewLock bool
}
