package lstore

import (
	"fmt"

	"github.com/intellect4all/lstore/common"
)

// Record is one projected result row: its RID, its primary-key value, and
// the user columns requested by the caller's mask (unrequested positions
// are left at their zero value). Key is read from the projected columns, so
// it holds the primary-key value only when the mask selects the key
// column; otherwise it is zero.
type Record struct {
	RID     uint64
	Key     int64
	Columns []int64
}

// Query implements the read/write operations of spec §4.F against a
// single Table. Every method converts internal failure (including a
// recovered panic) into an error return rather than unwinding into the
// caller, matching the "false-kind return, never unwinding" requirement
// of spec §6/§7.
type Query struct {
	table *Table
}

// NewQuery returns a Query bound to t.
func NewQuery(t *Table) *Query {
	return &Query{table: t}
}

func neededColumns(mask []bool) map[int]bool {
	needed := make(map[int]bool)
	for i, want := range mask {
		if want {
			needed[i] = true
		}
	}
	return needed
}

// candidateRIDs returns every RID whose column-col value equals key, via
// the index when col is indexed, or a linear scan over live base records
// otherwise.
func (t *Table) candidateRIDs(col int, key int64) []uint64 {
	if t.index.HasColumn(col) {
		return t.index.Locate(col, key)
	}
	var out []uint64
	for rid := range t.baseRIDs {
		loc := t.pageDirectory[rid]
		if t.basePages[colUser0+col][loc.pageIndex].Read(loc.slot) == key {
			out = append(out, rid)
		}
	}
	return out
}

// candidateRangeRIDs returns every RID whose column-col value falls in
// [lo, hi], via the index when col is indexed, or a linear scan otherwise.
func (t *Table) candidateRangeRIDs(col int, lo, hi int64) []uint64 {
	if t.index.HasColumn(col) {
		return t.index.LocateRange(col, lo, hi)
	}
	var out []uint64
	for rid := range t.baseRIDs {
		loc := t.pageDirectory[rid]
		v := t.basePages[colUser0+col][loc.pageIndex].Read(loc.slot)
		if v >= lo && v <= hi {
			out = append(out, rid)
		}
	}
	return out
}

func recoverToError(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("lstore: query panicked: %v", r)
	}
}

// Select finds every live record whose column searchCol equals key and
// projects the columns set in mask.
func (q *Query) Select(key int64, searchCol int, mask []bool) (records []Record, err error) {
	defer recoverToError(&err)
	t := q.table
	t.mergeMu.RLock()
	defer t.mergeMu.RUnlock()

	needed := neededColumns(mask)
	for _, rid := range t.candidateRIDs(searchCol, key) {
		loc, live := t.liveBaseLoc(rid)
		if !live {
			continue
		}
		values := t.resolveColumns(loc, needed, 0)
		cols := make([]int64, t.NumCols)
		for c, v := range values {
			cols[c] = v
		}
		records = append(records, Record{RID: rid, Key: cols[t.KeyCol], Columns: cols})
	}
	return records, nil
}

// SelectVersion is Select but resolved against an older snapshot:
// relativeVersion must be <= 0, where 0 is the latest version and -k skips
// the k newest tail records in the chain before resolving.
func (q *Query) SelectVersion(key int64, searchCol int, mask []bool, relativeVersion int) (records []Record, err error) {
	defer recoverToError(&err)
	t := q.table
	t.mergeMu.RLock()
	defer t.mergeMu.RUnlock()

	skip := 0
	if relativeVersion < 0 {
		skip = -relativeVersion
	}
	needed := neededColumns(mask)
	for _, rid := range t.candidateRIDs(searchCol, key) {
		loc, live := t.liveBaseLoc(rid)
		if !live {
			continue
		}
		values := t.resolveColumns(loc, needed, skip)
		cols := make([]int64, t.NumCols)
		for c, v := range values {
			cols[c] = v
		}
		records = append(records, Record{RID: rid, Key: cols[t.KeyCol], Columns: cols})
	}
	return records, nil
}

// Update locates the live base record with the given primary key and
// creates a new tail record carrying newValues (nil entries leave that
// column unchanged).
func (q *Query) Update(key int64, newValues []*int64) (err error) {
	defer recoverToError(&err)
	t := q.table
	rids := t.index.Locate(t.KeyCol, key)
	if len(rids) == 0 {
		return common.ErrNotFound
	}
	rid := rids[0]
	t.mergeMu.RLock()
	_, live := t.liveBaseLoc(rid)
	t.mergeMu.RUnlock()
	if !live {
		return common.ErrNotFound
	}
	_, err = t.CreateTailRecord(rid, newValues)
	return err
}

// Delete tombstones the live base record with the given primary key and
// every tail record in its indirection chain.
func (q *Query) Delete(key int64) (err error) {
	defer recoverToError(&err)
	t := q.table
	rids := t.index.Locate(t.KeyCol, key)
	if len(rids) == 0 {
		return common.ErrNotFound
	}
	rid := rids[0]
	t.mergeMu.RLock()
	_, live := t.liveBaseLoc(rid)
	t.mergeMu.RUnlock()
	if !live {
		return common.ErrNotFound
	}
	_, err = t.DeleteRecord(rid)
	return err
}

// Insert creates a new base record.
func (q *Query) Insert(values []int64) (rid uint64, err error) {
	defer recoverToError(&err)
	return q.table.InsertRecord(values)
}

// Sum totals column aggCol's latest value across every live record whose
// primary key falls in [startRange, endRange]. Returns ErrNotFound if no
// record falls in range.
func (q *Query) Sum(startRange, endRange int64, aggCol int) (total int64, err error) {
	defer recoverToError(&err)
	t := q.table
	t.mergeMu.RLock()
	defer t.mergeMu.RUnlock()

	found := false
	needed := map[int]bool{aggCol: true}
	for _, rid := range t.candidateRangeRIDs(t.KeyCol, startRange, endRange) {
		loc, live := t.liveBaseLoc(rid)
		if !live {
			continue
		}
		found = true
		values := t.resolveColumns(loc, needed, 0)
		total += values[aggCol]
	}
	if !found {
		return 0, common.ErrNotFound
	}
	return total, nil
}

// SumVersion is Sum but resolved against an older snapshot, with the same
// relativeVersion semantics as SelectVersion.
func (q *Query) SumVersion(startRange, endRange int64, aggCol, relativeVersion int) (total int64, err error) {
	defer recoverToError(&err)
	t := q.table
	t.mergeMu.RLock()
	defer t.mergeMu.RUnlock()

	skip := 0
	if relativeVersion < 0 {
		skip = -relativeVersion
	}
	found := false
	needed := map[int]bool{aggCol: true}
	for _, rid := range t.candidateRangeRIDs(t.KeyCol, startRange, endRange) {
		loc, live := t.liveBaseLoc(rid)
		if !live {
			continue
		}
		found = true
		values := t.resolveColumns(loc, needed, skip)
		total += values[aggCol]
	}
	if !found {
		return 0, common.ErrNotFound
	}
	return total, nil
}

// Increment reads the current value of col for key and writes back col+1.
// Composed from Select and Update exactly as the original query.py does.
func (q *Query) Increment(key int64, col int) (err error) {
	defer recoverToError(&err)
	t := q.table
	mask := make([]bool, t.NumCols)
	for i := range mask {
		mask[i] = true
	}
	recs, selErr := q.Select(key, t.KeyCol, mask)
	if selErr != nil {
		return selErr
	}
	if len(recs) == 0 {
		return common.ErrNotFound
	}
	v := recs[0].Columns[col] + 1
	newValues := make([]*int64, t.NumCols)
	newValues[col] = &v
	return q.Update(key, newValues)
}
