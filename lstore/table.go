package lstore

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/intellect4all/lstore/common"
)

// pageLoc is a page directory entry: which page in a column array, and
// which slot within it.
type pageLoc struct {
	pageIndex int
	slot      int
}

// Table owns one record type's columnar storage: a base page array per
// metadata+user column, an append-only tail page array of the same shape
// plus a base-RID backref column, a page directory mapping every live RID
// to its location, and the locks that keep concurrent inserts, updates,
// deletes and merges consistent. See spec §4.D.
type Table struct {
	Name    string
	NumCols int
	KeyCol  int

	index *Index

	// mergeMu is the table's merge lock. All base/tail page mutation and
	// all read traversal hold it (shared for reads, exclusive for
	// mutation and for the merge engine's switchover), per spec §4.E/F.
	mergeMu sync.RWMutex

	// insertLock serializes RID allocation across insert_record and
	// create_tail_record, and is the same lock a Transaction holds across
	// its "peek next RID, then insert" critical section (spec §4.G).
	insertLock sync.Mutex
	nextRID    uint64

	nextBasePos uint64
	nextTailPos uint64

	basePages [][]*Page // [baseMetaCols+NumCols][pages]
	tailPages [][]*Page // [tailMetaCols+NumCols][pages]

	pageDirectory map[uint64]pageLoc
	baseRIDs      map[uint64]struct{}

	updatesSinceMerge atomic.Int64
	mergeThreshold    int64
	mergeRunning      atomic.Bool
}

// NewTable constructs an empty table with numCols user columns, indexing
// keyCol by default, matching the Python Table constructor.
func NewTable(name string, numCols, keyCol int) *Table {
	t := &Table{
		Name:           name,
		NumCols:        numCols,
		KeyCol:         keyCol,
		index:          NewIndex(numCols, keyCol),
		pageDirectory:  make(map[uint64]pageLoc),
		baseRIDs:       make(map[uint64]struct{}),
		mergeThreshold: 10,
		basePages:      make([][]*Page, baseMetaCols+numCols),
		tailPages:      make([][]*Page, tailMetaCols+numCols),
	}
	return t
}

// SetMergeThreshold overrides the default updates-since-merge threshold of
// 10 that triggers a background merge.
func (t *Table) SetMergeThreshold(n int64) {
	t.mergeThreshold = n
}

// Index exposes the table's per-column index for Query and Transaction.
func (t *Table) Index() *Index {
	return t.index
}

// LockInserts acquires the table's insert lock and returns a function to
// release it. Transaction holds this across PeekNextRID and the matching
// InsertRecord call so the RID it predicts is the RID that gets used.
func (t *Table) LockInserts() func() {
	t.insertLock.Lock()
	return t.insertLock.Unlock
}

// PeekNextRID returns the RID the next insert will allocate. The caller
// must hold the insert lock (LockInserts) for the peek to stay valid.
func (t *Table) PeekNextRID() uint64 {
	return t.nextRID
}

// InsertRecord allocates a fresh RID and writes values as a new base
// record. Safe to call without holding the insert lock externally.
func (t *Table) InsertRecord(values []int64) (uint64, error) {
	unlock := t.LockInserts()
	defer unlock()
	return t.insertRecordLocked(values)
}

// insertRecordLocked assumes the insert lock is already held.
func (t *Table) insertRecordLocked(values []int64) (uint64, error) {
	if len(values) != t.NumCols {
		return 0, common.ErrInvariantViolation
	}
	rid := t.nextRID
	t.nextRID++

	t.mergeMu.Lock()
	defer t.mergeMu.Unlock()

	position := t.nextBasePos
	t.nextBasePos++
	pageIdx := int(position / SlotsPerPage)
	slot := int(position % SlotsPerPage)
	t.ensureBaseCapacity(pageIdx)

	t.basePages[colIndirection][pageIdx].Write(0)
	t.basePages[colRID][pageIdx].Write(int64(rid))
	t.basePages[colTimestamp][pageIdx].Write(time.Now().Unix())
	t.basePages[colSchema][pageIdx].Write(0)
	for i, v := range values {
		t.basePages[colUser0+i][pageIdx].Write(v)
	}

	t.pageDirectory[rid] = pageLoc{pageIdx, slot}
	t.baseRIDs[rid] = struct{}{}

	for col := 0; col < t.NumCols; col++ {
		if t.index.HasColumn(col) {
			t.index.InsertEntry(col, values[col], rid)
		}
	}
	return rid, nil
}

func (t *Table) ensureBaseCapacity(pageIdx int) {
	if pageIdx < len(t.basePages[colIndirection]) {
		return
	}
	for col := range t.basePages {
		t.basePages[col] = append(t.basePages[col], NewPage())
	}
}

func (t *Table) ensureTailCapacity(pageIdx int) {
	if pageIdx < len(t.tailPages[tailColIndirection]) {
		return
	}
	for col := range t.tailPages {
		t.tailPages[col] = append(t.tailPages[col], NewPage())
	}
}

// computeSchema returns the bitmask of non-nil positions in values.
func computeSchema(values []*int64) int64 {
	var schema int64
	for i, v := range values {
		if v != nil {
			schema |= 1 << uint(i)
		}
	}
	return schema
}

// CreateTailRecord appends a new versioned update for baseRID, chaining it
// onto the current indirection and bumping the base's schema bitmask.
// Columns left nil are not updated. Triggers a background merge once the
// per-table update threshold is reached (spec §4.D/E).
func (t *Table) CreateTailRecord(baseRID uint64, values []*int64) (uint64, error) {
	if len(values) != t.NumCols {
		return 0, common.ErrInvariantViolation
	}

	unlock := t.LockInserts()
	rid := t.nextRID
	t.nextRID++
	unlock()

	t.mergeMu.Lock()
	baseLoc, ok := t.pageDirectory[baseRID]
	if !ok {
		t.mergeMu.Unlock()
		return 0, common.ErrNotFound
	}
	if _, live := t.baseRIDs[baseRID]; !live {
		t.mergeMu.Unlock()
		return 0, common.ErrNotFound
	}

	prevTail := t.basePages[colIndirection][baseLoc.pageIndex].Read(baseLoc.slot)
	schema := computeSchema(values)
	timestamp := time.Now().Unix()

	position := t.nextTailPos
	t.nextTailPos++
	tailPageIdx := int(position / SlotsPerPage)
	tailSlot := int(position % SlotsPerPage)
	t.ensureTailCapacity(tailPageIdx)

	t.basePages[colIndirection][baseLoc.pageIndex].Update(baseLoc.slot, int64(rid))
	curSchema := t.basePages[colSchema][baseLoc.pageIndex].Read(baseLoc.slot)
	t.basePages[colSchema][baseLoc.pageIndex].Update(baseLoc.slot, curSchema|schema)

	t.tailPages[tailColIndirection][tailPageIdx].Write(prevTail)
	t.tailPages[tailColRID][tailPageIdx].Write(int64(rid))
	t.tailPages[tailColTimestamp][tailPageIdx].Write(timestamp)
	t.tailPages[tailColSchema][tailPageIdx].Write(schema)
	t.tailPages[tailColBaseRID][tailPageIdx].Write(int64(baseRID))
	for i, v := range values {
		col := tailColUser0 + i
		if v != nil {
			t.tailPages[col][tailPageIdx].Write(*v)
		} else {
			t.tailPages[col][tailPageIdx].Write(0)
		}
	}
	t.pageDirectory[rid] = pageLoc{tailPageIdx, tailSlot}
	t.updatesSinceMerge.Add(1)
	t.mergeMu.Unlock()

	t.TriggerMerge()
	return rid, nil
}

// DeleteRecord tombstones baseRID and every tail record reachable from its
// indirection chain, and removes it from every maintained index using its
// current (pre-delete) values. Returns the RIDs of the tail records it
// tombstoned, which a caller building a rollback log needs to undo the
// deletion later.
func (t *Table) DeleteRecord(rid uint64) ([]uint64, error) {
	t.mergeMu.Lock()
	defer t.mergeMu.Unlock()

	loc, ok := t.pageDirectory[rid]
	if !ok {
		return nil, common.ErrNotFound
	}
	if _, live := t.baseRIDs[rid]; !live {
		return nil, common.ErrNotFound
	}

	oldValues := make([]int64, t.NumCols)
	for col := 0; col < t.NumCols; col++ {
		oldValues[col] = t.basePages[colUser0+col][loc.pageIndex].Read(loc.slot)
	}

	var tombstoned []uint64
	currentTail := t.basePages[colIndirection][loc.pageIndex].Read(loc.slot)
	for currentTail != 0 {
		tailRID := uint64(currentTail)
		tailLoc, ok := t.pageDirectory[tailRID]
		if !ok {
			break
		}
		next := t.tailPages[tailColIndirection][tailLoc.pageIndex].Read(tailLoc.slot)
		t.tailPages[tailColRID][tailLoc.pageIndex].Update(tailLoc.slot, int64(TombstoneRID))
		tombstoned = append(tombstoned, tailRID)
		currentTail = next
	}

	t.basePages[colRID][loc.pageIndex].Update(loc.slot, int64(TombstoneRID))
	delete(t.baseRIDs, rid)

	for col := 0; col < t.NumCols; col++ {
		if t.index.HasColumn(col) {
			t.index.DeleteEntry(col, oldValues[col], rid)
		}
	}
	return tombstoned, nil
}

// restoreMetadata writes back a base record's indirection and schema
// columns, used to undo an update or a delete on transaction abort.
func (t *Table) restoreMetadata(rid uint64, indirection, schema int64) {
	t.mergeMu.Lock()
	defer t.mergeMu.Unlock()
	loc, ok := t.pageDirectory[rid]
	if !ok {
		return
	}
	t.basePages[colIndirection][loc.pageIndex].Update(loc.slot, indirection)
	t.basePages[colSchema][loc.pageIndex].Update(loc.slot, schema)
}

// reviveBaseRID undoes a delete: it un-tombstones the base RID column and
// every tail record tombstoned by that delete, re-adds rid to the live set
// and re-inserts it into every indexed column using oldValues (the values
// captured before the delete ran). The Python original's rollback path
// called a nonexistent index.add here; this is the corrected behavior spec
// §9 calls for.
func (t *Table) reviveBaseRID(rid uint64, oldValues []int64, tombstonedTails []uint64) {
	t.mergeMu.Lock()
	defer t.mergeMu.Unlock()

	if loc, ok := t.pageDirectory[rid]; ok {
		t.basePages[colRID][loc.pageIndex].Update(loc.slot, int64(rid))
	}
	for _, tailRID := range tombstonedTails {
		if loc, ok := t.pageDirectory[tailRID]; ok {
			t.tailPages[tailColRID][loc.pageIndex].Update(loc.slot, int64(tailRID))
		}
	}
	t.baseRIDs[rid] = struct{}{}
	for col := 0; col < t.NumCols; col++ {
		if t.index.HasColumn(col) {
			t.index.InsertEntry(col, oldValues[col], rid)
		}
	}
}

// baseMetadata reads a base record's current indirection and schema under
// the merge lock, for Transaction's pre-write rollback capture.
func (t *Table) baseMetadata(rid uint64) (loc pageLoc, indirection, schema int64, ok bool) {
	t.mergeMu.RLock()
	defer t.mergeMu.RUnlock()
	loc, ok = t.pageDirectory[rid]
	if !ok {
		return pageLoc{}, 0, 0, false
	}
	if _, live := t.baseRIDs[rid]; !live {
		return pageLoc{}, 0, 0, false
	}
	indirection = t.basePages[colIndirection][loc.pageIndex].Read(loc.slot)
	schema = t.basePages[colSchema][loc.pageIndex].Read(loc.slot)
	return loc, indirection, schema, true
}

// baseUserValues reads every current user-column value for a live base
// record, used to capture pre-delete state for rollback.
func (t *Table) baseUserValues(loc pageLoc) []int64 {
	t.mergeMu.RLock()
	defer t.mergeMu.RUnlock()
	values := make([]int64, t.NumCols)
	for col := 0; col < t.NumCols; col++ {
		values[col] = t.basePages[colUser0+col][loc.pageIndex].Read(loc.slot)
	}
	return values
}

// liveBaseLoc returns rid's page location if it is still a live base RID.
func (t *Table) liveBaseLoc(rid uint64) (pageLoc, bool) {
	if _, live := t.baseRIDs[rid]; !live {
		return pageLoc{}, false
	}
	loc, ok := t.pageDirectory[rid]
	return loc, ok
}

// resolveColumns walks the indirection chain from baseLoc's head, filling
// in each column in needed from the first (newest) tail record whose
// schema bit is set for it, skipping the newest `skip` tail hops before
// applying any of them (select_version's relative-version semantics).
// Any column never resolved by a tail comes from the base slot itself.
// Callers must hold at least a read lock on the table's merge lock.
func (t *Table) resolveColumns(baseLoc pageLoc, needed map[int]bool, skip int) map[int]int64 {
	result := make(map[int]int64, len(needed))
	remaining := make(map[int]bool, len(needed))
	for c := range needed {
		remaining[c] = true
	}

	tailRID := t.basePages[colIndirection][baseLoc.pageIndex].Read(baseLoc.slot)
	hop := 0
	for tailRID != 0 && len(remaining) > 0 {
		loc, ok := t.pageDirectory[uint64(tailRID)]
		if !ok {
			break
		}
		if hop >= skip {
			schema := t.tailPages[tailColSchema][loc.pageIndex].Read(loc.slot)
			for col := range remaining {
				if schema&(1<<uint(col)) != 0 {
					result[col] = t.tailPages[tailColUser0+col][loc.pageIndex].Read(loc.slot)
					delete(remaining, col)
				}
			}
		}
		tailRID = t.tailPages[tailColIndirection][loc.pageIndex].Read(loc.slot)
		hop++
	}
	for col := range remaining {
		result[col] = t.basePages[colUser0+col][baseLoc.pageIndex].Read(baseLoc.slot)
	}
	return result
}

// CreateIndex builds an index on col by scanning every live base RID and
// resolving its latest (tail-aware) value, not the base snapshot — spec
// §9's open question about the Python original's create_index reading raw
// base values resolved in favor of correctness.
func (t *Table) CreateIndex(col int) error {
	if col < 0 || col >= t.NumCols {
		return common.ErrInvariantViolation
	}
	t.mergeMu.RLock()
	defer t.mergeMu.RUnlock()

	t.index.newColumn(col)
	needed := map[int]bool{col: true}
	for rid := range t.baseRIDs {
		loc := t.pageDirectory[rid]
		values := t.resolveColumns(loc, needed, 0)
		t.index.InsertEntry(col, values[col], rid)
	}
	return nil
}

// DropIndex removes the index on col, if any.
func (t *Table) DropIndex(col int) error {
	if !t.index.HasColumn(col) {
		return common.ErrColumnNotIndexed
	}
	t.index.DropColumn(col)
	return nil
}

// TriggerMerge starts a background merge if enough tail records have
// accumulated since the last one and no merge is already running.
func (t *Table) TriggerMerge() {
	if t.updatesSinceMerge.Load() < t.mergeThreshold {
		return
	}
	if t.mergeRunning.CompareAndSwap(false, true) {
		go t.runMerge()
	}
}

// LiveRecordCount returns how many base RIDs are currently live, a cheap
// proxy for a table's logical size.
func (t *Table) LiveRecordCount() int {
	t.mergeMu.RLock()
	defer t.mergeMu.RUnlock()
	return len(t.baseRIDs)
}

// Query returns a fresh Query bound to this table.
func (t *Table) Query() *Query {
	return &Query{table: t}
}
