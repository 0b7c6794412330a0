package models

import "time"

// Security log event types
const (
	SecurityEventAccountLocked   = "account_locked"
	SecurityEventAccountUnlocked = "account_unlocked"
)

// SecurityLog is a durable record of a lock-state transition. The reason and
// count are typed columns rather than a free-form details blob so the audit
// trail stays queryable.
type SecurityLog struct {
	ID           string    `db:"id"`
	EventType    string    `db:"event_type"`
	Subject      string    `db:"subject"`
	Actor        string    `db:"actor"` // "system", "reconciler", or an admin identifier
	Reason       string    `db:"reason"`
	FailureCount int       `db:"failure_count"`
	CreatedAt    time.Time `db:"created_at"`
}
