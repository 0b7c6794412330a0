package models

import "time"

// Account is the local system of record for lock state. Locked is
// authoritative here even when the identity provider disagrees; the
// provider's block flag is best-effort mirrored, never read back.
type Account struct {
	Subject     string     `db:"subject"`
	Email       string     `db:"email"`
	ProviderRef string     `db:"provider_ref"`
	Locked      bool       `db:"locked"`
	LockedAt    *time.Time `db:"locked_at"`
	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
}
