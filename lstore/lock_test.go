package lstore

import (
	"testing"

	"github.com/google/uuid"
)

func TestLockManagerSharedSharedCompatible(t *testing.T) {
	lm := NewLockManager()
	a, b := uuid.New(), uuid.New()
	if !lm.TryLock(a, 1, LockShared) {
		t.Fatal("first shared lock should succeed")
	}
	if !lm.TryLock(b, 1, LockShared) {
		t.Fatal("second shared lock from a different txn should succeed")
	}
}

func TestLockManagerExclusiveExcludesOthers(t *testing.T) {
	lm := NewLockManager()
	a, b := uuid.New(), uuid.New()
	if !lm.TryLock(a, 1, LockExclusive) {
		t.Fatal("first exclusive lock should succeed")
	}
	if lm.TryLock(b, 1, LockShared) {
		t.Fatal("a different txn should not get a shared lock while exclusive is held")
	}
	if lm.TryLock(b, 1, LockExclusive) {
		t.Fatal("a different txn should not get an exclusive lock while exclusive is held")
	}
	if !lm.TryLock(a, 1, LockExclusive) {
		t.Fatal("the existing exclusive holder should be able to re-request it")
	}
}

func TestLockManagerUpgradeOnlyWhenSoleHolder(t *testing.T) {
	lm := NewLockManager()
	a, b := uuid.New(), uuid.New()
	lm.TryLock(a, 1, LockShared)
	lm.TryLock(b, 1, LockShared)
	if lm.TryLock(a, 1, LockExclusive) {
		t.Fatal("upgrade should fail while another txn holds a shared lock")
	}
	lm.ReleaseAll(b)
	if !lm.TryLock(a, 1, LockExclusive) {
		t.Fatal("upgrade should succeed once a is the sole shared holder")
	}
}

func TestLockManagerReleaseAllFreesLocks(t *testing.T) {
	lm := NewLockManager()
	a, b := uuid.New(), uuid.New()
	lm.TryLock(a, 1, LockExclusive)
	lm.ReleaseAll(a)
	if !lm.TryLock(b, 1, LockExclusive) {
		t.Fatal("lock should be free after ReleaseAll")
	}
}
