package lstore

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/intellect4all/lstore/common"
)

// OpKind identifies the kind of operation a Transaction has queued.
type OpKind int

const (
	OpInsert OpKind = iota
	OpUpdate
	OpDelete
	OpSelect
	OpSelectVersion
	OpSum
	OpSumVersion
	OpIncrement
)

func (k OpKind) String() string {
	switch k {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	case OpSelect:
		return "select"
	case OpSelectVersion:
		return "select_version"
	case OpSum:
		return "sum"
	case OpSumVersion:
		return "sum_version"
	case OpIncrement:
		return "increment"
	default:
		return "unknown"
	}
}

// txnOp is one queued (query, table, args) tuple, in the shape spec §4.G
// describes, with a field per argument any of the Query operations need.
type txnOp struct {
	kind    OpKind
	table   *Table
	key     int64
	col     int
	mask    []bool
	values  []*int64 // update
	insert  []int64  // insert
	lo, hi  int64     // sum / sum_version
	version int       // select_version / sum_version: relativeVersion (<=0)
}

type rollbackKind int

const (
	rollbackInsert rollbackKind = iota
	rollbackUpdate
	rollbackDelete
)

// rollbackEntry captures enough pre-operation state to undo one write on
// abort. For deletes this includes the pre-delete column values and every
// tail RID the delete tombstoned, so the index can be correctly rebuilt —
// the Python original's rollback called a nonexistent index.add here and
// never captured this state at all (spec §9).
type rollbackEntry struct {
	kind            rollbackKind
	table           *Table
	rid             uint64
	oldIndirection  int64
	oldSchema       int64
	oldValues       []int64
	tombstonedTails []uint64
}

// DefaultRetryLimit is the number of attempts a Transaction.Run makes
// before giving up, matching the Python original's default of 10.
const DefaultRetryLimit = 10

// Transaction accumulates a sequence of queued operations and runs them
// as a single strict-2PL unit: every operation acquires its lock(s)
// through a shared LockManager before touching a Table, and any failure
// aborts the whole transaction, rolling back every write applied so far
// before retrying up to a bounded number of times with randomized
// backoff (spec §4.G).
type Transaction struct {
	id          uuid.UUID
	lockManager *LockManager

	ops      []txnOp
	rollback []rollbackEntry
	held     map[uint64]LockType
}

// NewTransaction returns a Transaction using the shared process-global
// lock manager. Its identity is a fresh UUID, minted once and kept across
// every retry of this logical transaction, rather than a Go pointer or
// counter that could collide with a RID (spec §9).
func NewTransaction() *Transaction {
	return NewTransactionWithLockManager(defaultLockManager)
}

// NewTransactionWithLockManager returns a Transaction using lm instead of
// the shared default, useful for isolating lock state between tests.
func NewTransactionWithLockManager(lm *LockManager) *Transaction {
	return &Transaction{id: uuid.New(), lockManager: lm, held: make(map[uint64]LockType)}
}

// ID returns the transaction's stable identity.
func (tx *Transaction) ID() uuid.UUID {
	return tx.id
}

func (tx *Transaction) AddInsert(table *Table, values []int64) {
	tx.ops = append(tx.ops, txnOp{kind: OpInsert, table: table, insert: values})
}

func (tx *Transaction) AddSelect(table *Table, key int64, searchCol int, mask []bool) {
	tx.ops = append(tx.ops, txnOp{kind: OpSelect, table: table, key: key, col: searchCol, mask: mask})
}

func (tx *Transaction) AddSelectVersion(table *Table, key int64, searchCol int, mask []bool, relativeVersion int) {
	tx.ops = append(tx.ops, txnOp{kind: OpSelectVersion, table: table, key: key, col: searchCol, mask: mask, version: relativeVersion})
}

func (tx *Transaction) AddUpdate(table *Table, key int64, newValues []*int64) {
	tx.ops = append(tx.ops, txnOp{kind: OpUpdate, table: table, key: key, values: newValues})
}

func (tx *Transaction) AddDelete(table *Table, key int64) {
	tx.ops = append(tx.ops, txnOp{kind: OpDelete, table: table, key: key})
}

func (tx *Transaction) AddSum(table *Table, lo, hi int64, aggCol int) {
	tx.ops = append(tx.ops, txnOp{kind: OpSum, table: table, lo: lo, hi: hi, col: aggCol})
}

func (tx *Transaction) AddSumVersion(table *Table, lo, hi int64, aggCol, relativeVersion int) {
	tx.ops = append(tx.ops, txnOp{kind: OpSumVersion, table: table, lo: lo, hi: hi, col: aggCol, version: relativeVersion})
}

func (tx *Transaction) AddIncrement(table *Table, key int64, col int) {
	tx.ops = append(tx.ops, txnOp{kind: OpIncrement, table: table, key: key, col: col})
}

// Run executes the queued operations, retrying the whole transaction from
// scratch on any abort up to retryLimit attempts. Returns whether it
// eventually committed.
func (tx *Transaction) Run(retryLimit int) bool {
	attempt := 0
	for {
		tx.rollback = tx.rollback[:0]
		tx.held = make(map[uint64]LockType)

		if err := tx.dispatch(); err != nil {
			tx.abort()
			attempt++
			if attempt >= retryLimit {
				return false
			}
			time.Sleep(backoff(attempt))
			continue
		}
		tx.commit()
		return true
	}
}

func backoff(attempt int) time.Duration {
	lo := time.Millisecond
	hi := time.Duration(attempt) * 10 * time.Millisecond
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rand.Int63n(int64(hi-lo)))
}

func (tx *Transaction) dispatch() error {
	for _, op := range tx.ops {
		var err error
		switch op.kind {
		case OpInsert:
			err = tx.handleInsert(op)
		case OpUpdate:
			err = tx.handleUpdate(op)
		case OpDelete:
			err = tx.handleDelete(op)
		case OpIncrement:
			err = tx.handleIncrement(op)
		default:
			err = tx.handleRead(op)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (tx *Transaction) acquireLock(rid uint64, typ LockType) bool {
	if held, ok := tx.held[rid]; ok {
		if held == LockExclusive || held == typ {
			return true
		}
	}
	if !tx.lockManager.TryLock(tx.id, rid, typ) {
		return false
	}
	tx.held[rid] = typ
	return true
}

func (tx *Transaction) handleInsert(op txnOp) error {
	unlock := op.table.LockInserts()
	defer unlock()

	predicted := op.table.PeekNextRID()
	if !tx.acquireLock(predicted, LockExclusive) {
		return fmt.Errorf("insert on rid %d: %w", predicted, common.ErrConflict)
	}
	rid, err := op.table.insertRecordLocked(op.insert)
	if err != nil {
		return err
	}
	tx.rollback = append(tx.rollback, rollbackEntry{kind: rollbackInsert, table: op.table, rid: rid})
	return nil
}

func (tx *Transaction) handleUpdate(op txnOp) error {
	rids := op.table.index.Locate(op.table.KeyCol, op.key)
	if len(rids) == 0 {
		return fmt.Errorf("update key %d: %w", op.key, common.ErrNotFound)
	}
	rid := rids[0]
	if !tx.acquireLock(rid, LockExclusive) {
		return fmt.Errorf("update on rid %d: %w", rid, common.ErrConflict)
	}
	_, oldIndirection, oldSchema, ok := op.table.baseMetadata(rid)
	if !ok {
		return common.ErrNotFound
	}
	if _, err := op.table.CreateTailRecord(rid, op.values); err != nil {
		return err
	}
	tx.rollback = append(tx.rollback, rollbackEntry{
		kind: rollbackUpdate, table: op.table, rid: rid,
		oldIndirection: oldIndirection, oldSchema: oldSchema,
	})
	return nil
}

func (tx *Transaction) handleDelete(op txnOp) error {
	rids := op.table.index.Locate(op.table.KeyCol, op.key)
	if len(rids) == 0 {
		return fmt.Errorf("delete key %d: %w", op.key, common.ErrNotFound)
	}
	rid := rids[0]
	if !tx.acquireLock(rid, LockExclusive) {
		return fmt.Errorf("delete on rid %d: %w", rid, common.ErrConflict)
	}
	loc, oldIndirection, oldSchema, ok := op.table.baseMetadata(rid)
	if !ok {
		return common.ErrNotFound
	}
	oldValues := op.table.baseUserValues(loc)
	tombstoned, err := op.table.DeleteRecord(rid)
	if err != nil {
		return err
	}
	tx.rollback = append(tx.rollback, rollbackEntry{
		kind: rollbackDelete, table: op.table, rid: rid,
		oldIndirection: oldIndirection, oldSchema: oldSchema,
		oldValues: oldValues, tombstonedTails: tombstoned,
	})
	return nil
}

// handleIncrement acquires an EXCLUSIVE lock and tracks rollback like an
// update, since Increment ultimately performs a create_tail_record. The
// Python original fell through to its read handler for "increment" (it
// only special-cases insert/update/delete by function name), which would
// acquire just a SHARED lock for a mutating operation; that is corrected
// here to keep increment's isolation guarantees consistent with update's.
func (tx *Transaction) handleIncrement(op txnOp) error {
	rids := op.table.index.Locate(op.table.KeyCol, op.key)
	if len(rids) == 0 {
		return fmt.Errorf("increment key %d: %w", op.key, common.ErrNotFound)
	}
	rid := rids[0]
	if !tx.acquireLock(rid, LockExclusive) {
		return fmt.Errorf("increment on rid %d: %w", rid, common.ErrConflict)
	}
	_, oldIndirection, oldSchema, ok := op.table.baseMetadata(rid)
	if !ok {
		return common.ErrNotFound
	}
	if err := op.table.Query().Increment(op.key, op.col); err != nil {
		return err
	}
	tx.rollback = append(tx.rollback, rollbackEntry{
		kind: rollbackUpdate, table: op.table, rid: rid,
		oldIndirection: oldIndirection, oldSchema: oldSchema,
	})
	return nil
}

func (tx *Transaction) handleRead(op txnOp) error {
	var rids []uint64
	switch op.kind {
	case OpSum, OpSumVersion:
		rids = op.table.index.LocateRange(op.table.KeyCol, op.lo, op.hi)
	default:
		rids = op.table.index.Locate(op.col, op.key)
	}
	for _, rid := range rids {
		if !tx.acquireLock(rid, LockShared) {
			return fmt.Errorf("%s on rid %d: %w", op.kind, rid, common.ErrConflict)
		}
	}
	return tx.execRead(op)
}

func (tx *Transaction) execRead(op txnOp) error {
	q := op.table.Query()
	switch op.kind {
	case OpSelect:
		_, err := q.Select(op.key, op.col, op.mask)
		return err
	case OpSelectVersion:
		_, err := q.SelectVersion(op.key, op.col, op.mask, op.version)
		return err
	case OpSum:
		_, err := q.Sum(op.lo, op.hi, op.col)
		return err
	case OpSumVersion:
		_, err := q.SumVersion(op.lo, op.hi, op.col, op.version)
		return err
	default:
		return nil
	}
}

// abort undoes every tracked write, newest first, then releases every
// lock the transaction held.
func (tx *Transaction) abort() {
	for i := len(tx.rollback) - 1; i >= 0; i-- {
		entry := tx.rollback[i]
		switch entry.kind {
		case rollbackInsert:
			entry.table.DeleteRecord(entry.rid)
		case rollbackUpdate:
			entry.table.restoreMetadata(entry.rid, entry.oldIndirection, entry.oldSchema)
		case rollbackDelete:
			entry.table.restoreMetadata(entry.rid, entry.oldIndirection, entry.oldSchema)
			entry.table.reviveBaseRID(entry.rid, entry.oldValues, entry.tombstonedTails)
		}
	}
	tx.releaseLocks()
}

func (tx *Transaction) commit() {
	tx.rollback = tx.rollback[:0]
	tx.releaseLocks()
}

func (tx *Transaction) releaseLocks() {
	if len(tx.held) == 0 {
		return
	}
	tx.lockManager.ReleaseAll(tx.id)
	tx.held = make(map[uint64]LockType)
}
