package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Protection-core errors
	ErrAccountNotFound      = errors.New("account not found for subject or alias")
	ErrReconcileInProgress  = errors.New("reconciliation run already in progress")
	ErrReconcileFetchFailed = errors.New("provider log fetch failed")
)
