package lstore

import (
	"testing"
)

func TestTransactionCommitAppliesAllOps(t *testing.T) {
	tbl := NewTable("t", 2, 0)
	tx := NewTransactionWithLockManager(NewLockManager())
	tx.AddInsert(tbl, []int64{1, 100})
	if !tx.Run(DefaultRetryLimit) {
		t.Fatal("transaction should commit")
	}

	q := tbl.Query()
	recs, err := q.Select(1, 0, []bool{true, true})
	if err != nil || len(recs) != 1 || recs[0].Columns[1] != 100 {
		t.Fatalf("Select after commit: recs=%v err=%v", recs, err)
	}
}

func TestTransactionInsertFailsOnLockConflictThenSucceeds(t *testing.T) {
	tbl := NewTable("t", 2, 0)
	lm := NewLockManager()

	tx1 := NewTransactionWithLockManager(lm)
	tx1.AddInsert(tbl, []int64{1, 100})

	predicted := tbl.PeekNextRID()
	if !lm.TryLock(tx1.id, predicted, LockExclusive) {
		t.Fatal("setup lock should succeed")
	}

	tx2 := NewTransactionWithLockManager(lm)
	tx2.AddInsert(tbl, []int64{2, 200})
	// tx2 will predict the same RID as tx1 currently holds the lock for,
	// since tx1 never actually consumed it yet.
	if tx2.Run(1) {
		t.Fatal("tx2 should fail to acquire the lock tx1 is holding")
	}

	lm.ReleaseAll(tx1.id)
	if !tx2.Run(DefaultRetryLimit) {
		t.Fatal("tx2 should succeed once the conflicting lock is released")
	}
}

func TestTransactionBlockedUpdateLeavesRecordUnchanged(t *testing.T) {
	tbl := NewTable("t", 2, 0)
	tbl.InsertRecord([]int64{1, 100})
	lm := NewLockManager()

	// Hold an exclusive lock on the record's RID so the update inside the
	// transaction can never acquire it, forcing every retry to fail and
	// abort should leave state untouched.
	blocker := NewTransactionWithLockManager(lm)
	rid := tbl.index.Locate(0, 1)[0]
	lm.TryLock(blocker.id, rid, LockExclusive)

	tx := NewTransactionWithLockManager(lm)
	v := int64(999)
	tx.AddUpdate(tbl, 1, []*int64{nil, &v})
	if tx.Run(2) {
		t.Fatal("update should fail while blocker holds the lock")
	}

	lm.ReleaseAll(blocker.id)
	recs, _ := tbl.Query().Select(1, 0, []bool{true, true})
	if recs[0].Columns[1] != 100 {
		t.Fatalf("column should remain unchanged after abort, got %d", recs[0].Columns[1])
	}
}

func TestTransactionDeleteRollbackRevivesRecord(t *testing.T) {
	tbl := NewTable("t", 2, 0)
	tbl.CreateIndex(1)
	tbl.InsertRecord([]int64{1, 100})

	tx := NewTransactionWithLockManager(NewLockManager())
	rid := tbl.index.Locate(0, 1)[0]
	loc, indirection, schema, _ := tbl.baseMetadata(rid)
	oldValues := tbl.baseUserValues(loc)
	tombstoned, err := tbl.DeleteRecord(rid)
	if err != nil {
		t.Fatalf("DeleteRecord: %v", err)
	}

	// Directly exercise the rollback path Transaction.abort would run.
	tx.rollback = append(tx.rollback, rollbackEntry{
		kind: rollbackDelete, table: tbl, rid: rid,
		oldIndirection: indirection, oldSchema: schema,
		oldValues: oldValues, tombstonedTails: tombstoned,
	})
	tx.abort()

	recs, err := tbl.Query().Select(1, 0, []bool{true, true})
	if err != nil || len(recs) != 1 {
		t.Fatalf("record should be revived: recs=%v err=%v", recs, err)
	}
	if recs[0].Columns[1] != 100 {
		t.Fatalf("revived column 1 = %d, want 100", recs[0].Columns[1])
	}
	if got := tbl.index.Locate(1, 100); len(got) != 1 || got[0] != rid {
		t.Fatalf("index entry for revived value missing: got %v", got)
	}
}

func TestTransactionIncrementCommits(t *testing.T) {
	tbl := NewTable("t", 2, 0)
	tbl.InsertRecord([]int64{1, 5})

	tx := NewTransactionWithLockManager(NewLockManager())
	tx.AddIncrement(tbl, 1, 1)
	if !tx.Run(DefaultRetryLimit) {
		t.Fatal("increment transaction should commit")
	}

	recs, _ := tbl.Query().Select(1, 0, []bool{true, true})
	if recs[0].Columns[1] != 6 {
		t.Fatalf("column 1 after increment = %d, want 6", recs[0].Columns[1])
	}
}

func TestTransactionReadOperationsSucceed(t *testing.T) {
	tbl := NewTable("t", 2, 0)
	tbl.InsertRecord([]int64{1, 10})
	tbl.InsertRecord([]int64{2, 20})

	tx := NewTransactionWithLockManager(NewLockManager())
	tx.AddSum(tbl, 1, 2, 1)
	tx.AddSelect(tbl, 1, 0, []bool{true, true})
	if !tx.Run(DefaultRetryLimit) {
		t.Fatal("read-only transaction should commit")
	}
}
