package settlement

import "errors"

// Sentinel errors shared by all store implementations.
var (
	// ErrDuplicateSettlement is returned by RevenueStore.Insert when a record
	// for the same (author, month) already exists. The engine treats it as
	// the idempotency signal, not a failure.
	ErrDuplicateSettlement = errors.New("settlement record already exists for author and month")

	// ErrRunInProgress is returned when a settlement run is triggered while
	// another run holds the run lock.
	ErrRunInProgress = errors.New("settlement run already in progress")

	// ErrNotFound is returned by Get-style lookups for missing rows.
	ErrNotFound = errors.New("not found")
)
