package lstore

import (
	"sync"

	"github.com/google/uuid"
)

// LockType is the strict-2PL lock mode a Transaction requests on a RID.
type LockType int

const (
	LockShared LockType = iota
	LockExclusive
)

type lockEntry struct {
	typ     LockType
	holders map[uuid.UUID]struct{}
}

// LockManager is the process-global record lock table of spec §4.G: it
// maps a RID to its current lock type and holder set. TryLock is
// non-blocking — a denied request signals the caller to abort and retry,
// never to wait.
//
// Locks are keyed on the bare RID, not (table, RID): this mirrors spec
// §4.G's description of a single global table and is only a concern for a
// Database with more than one Table sharing the same RID space, which
// spec.md does not flag as an issue to fix.
type LockManager struct {
	mu    sync.Mutex
	locks map[uint64]*lockEntry
}

// NewLockManager returns an empty lock table.
func NewLockManager() *LockManager {
	return &LockManager{locks: make(map[uint64]*lockEntry)}
}

var defaultLockManager = NewLockManager()

// TryLock attempts to grant txn a lock of type typ on rid, returning
// whether it succeeded. Rules: an absent lock is granted immediately; a
// SHARED lock admits more SHARED holders or upgrades to EXCLUSIVE only if
// txn is the sole holder; an EXCLUSIVE lock is only granted to its current
// sole holder.
func (lm *LockManager) TryLock(txn uuid.UUID, rid uint64, typ LockType) bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	entry, ok := lm.locks[rid]
	if !ok {
		lm.locks[rid] = &lockEntry{typ: typ, holders: map[uuid.UUID]struct{}{txn: {}}}
		return true
	}

	switch entry.typ {
	case LockShared:
		if typ == LockShared {
			entry.holders[txn] = struct{}{}
			return true
		}
		if lm.soleHolder(entry, txn) {
			entry.typ = LockExclusive
			return true
		}
		return false
	case LockExclusive:
		return lm.soleHolder(entry, txn)
	default:
		return false
	}
}

func (lm *LockManager) soleHolder(entry *lockEntry, txn uuid.UUID) bool {
	if len(entry.holders) != 1 {
		return false
	}
	_, ok := entry.holders[txn]
	return ok
}

// ReleaseAll drops every lock txn holds, deleting entries left with no
// holders.
func (lm *LockManager) ReleaseAll(txn uuid.UUID) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	for rid, entry := range lm.locks {
		delete(entry.holders, txn)
		if len(entry.holders) == 0 {
			delete(lm.locks, rid)
		}
	}
}
