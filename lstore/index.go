package lstore

import (
	"sync"

	"github.com/google/btree"
)

// indexNode is one key in a column's ordered multimap: a value and every
// RID currently holding it, in insertion order.
type indexNode struct {
	value int64
	rids  []uint64
}

func indexNodeLess(a, b indexNode) bool {
	return a.value < b.value
}

// Index is the per-table collection of per-column ordered multimaps
// described by spec §4.C. Each indexed column gets its own btree.BTreeG
// keyed by column value; unindexed columns keep a nil entry and fall back
// to a linear scan at the Table/Query layer. The primary key column is
// indexed from construction; DropColumn removes it like any other column.
type Index struct {
	mu      sync.RWMutex
	numCols int
	columns []*btree.BTreeG[indexNode]
}

// NewIndex builds an Index for a table with numCols user columns, eagerly
// indexing the primary key column.
func NewIndex(numCols, keyCol int) *Index {
	idx := &Index{
		numCols: numCols,
		columns: make([]*btree.BTreeG[indexNode], numCols),
	}
	idx.columns[keyCol] = btree.NewG(32, indexNodeLess)
	return idx
}

// HasColumn reports whether col currently has a maintained index.
func (idx *Index) HasColumn(col int) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.columns[col] != nil
}

// Locate returns every RID currently holding value in column col, or nil
// if the column is unindexed or the value is absent.
func (idx *Index) Locate(col int, value int64) []uint64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	tree := idx.columns[col]
	if tree == nil {
		return nil
	}
	node, ok := tree.Get(indexNode{value: value})
	if !ok {
		return nil
	}
	out := make([]uint64, len(node.rids))
	copy(out, node.rids)
	return out
}

// LocateRange returns every RID whose column-col value falls in [lo, hi],
// in ascending key order.
func (idx *Index) LocateRange(col int, lo, hi int64) []uint64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	tree := idx.columns[col]
	if tree == nil {
		return nil
	}
	var out []uint64
	tree.AscendGreaterOrEqual(indexNode{value: lo}, func(item indexNode) bool {
		if item.value > hi {
			return false
		}
		out = append(out, item.rids...)
		return true
	})
	return out
}

// InsertEntry records that rid now holds value in column col. A no-op if
// col is not indexed.
func (idx *Index) InsertEntry(col int, value int64, rid uint64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	tree := idx.columns[col]
	if tree == nil {
		return
	}
	node, ok := tree.Get(indexNode{value: value})
	if !ok {
		node = indexNode{value: value}
	}
	node.rids = append(node.rids, rid)
	tree.ReplaceOrInsert(node)
}

// DeleteEntry removes rid from the entry for value in column col, dropping
// the entry entirely once its RID list empties.
func (idx *Index) DeleteEntry(col int, value int64, rid uint64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	tree := idx.columns[col]
	if tree == nil {
		return
	}
	node, ok := tree.Get(indexNode{value: value})
	if !ok {
		return
	}
	for i, r := range node.rids {
		if r == rid {
			node.rids = append(node.rids[:i], node.rids[i+1:]...)
			break
		}
	}
	if len(node.rids) == 0 {
		tree.Delete(node)
		return
	}
	tree.ReplaceOrInsert(node)
}

// newColumn resets col to a fresh, empty tree, ready for CreateIndex to
// populate it.
func (idx *Index) newColumn(col int) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.columns[col] = btree.NewG(32, indexNodeLess)
}

// DropColumn removes the index on col entirely; lookups on col fall back
// to a linear scan from then on.
func (idx *Index) DropColumn(col int) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.columns[col] = nil
}

// IndexedColumns returns every column currently carrying a maintained
// index, in ascending order. Used by Database to persist which indexes to
// rebuild on open.
func (idx *Index) IndexedColumns() []int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	var out []int
	for col, tree := range idx.columns {
		if tree != nil {
			out = append(out, col)
		}
	}
	return out
}
