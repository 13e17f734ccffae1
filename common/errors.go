package common

import "errors"

// Sentinel errors shared across the engine. Callers compare with errors.Is;
// internal code returns these and never panics with them. The one
// deliberate panic in the engine is Page.Unpin's underflow check.
var (
	// ErrNotFound is returned when a key or record does not resolve to
	// anything live. Table-name lookups use ErrTableNotFound instead.
	ErrNotFound = errors.New("lstore: not found")

	// ErrConflict is returned when a transaction's lock request is denied
	// by the lock manager and the caller should abort and retry.
	ErrConflict = errors.New("lstore: lock conflict")

	// ErrCacheExhausted is returned by the page cache when every resident
	// page is pinned and none can be evicted to make room for a fetch.
	ErrCacheExhausted = errors.New("lstore: cache exhausted, all pages pinned")

	// ErrInvariantViolation marks a state the engine's own bookkeeping
	// should never produce. Table also returns it for malformed caller
	// input: a value slice whose length is not the table's column count,
	// or a CreateIndex column outside the table.
	ErrInvariantViolation = errors.New("lstore: invariant violation")

	// ErrClosed names a closed database. No operation in this module
	// returns it: after Database.Close the registry is empty and GetTable
	// reports ErrTableNotFound.
	ErrClosed = errors.New("lstore: database closed")

	// ErrColumnNotIndexed is returned by Table.DropIndex for a column that
	// carries no index. Lookups on unindexed columns fall back to a linear
	// scan instead of returning it.
	ErrColumnNotIndexed = errors.New("lstore: column not indexed")

	// ErrTableExists and ErrTableNotFound guard CreateTable/DropTable/GetTable.
	ErrTableExists   = errors.New("lstore: table already exists")
	ErrTableNotFound = errors.New("lstore: table not found")
)
