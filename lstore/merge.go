package lstore

import "log"

// runMerge executes one merge pass in the background and logs failure,
// since there is no caller left to hand an error to by the time
// TriggerMerge's goroutine runs. Grounded in hashindex.HashIndex's
// compactionWorker pattern, generalized to a one-shot goroutine per merge
// rather than a persistent worker loop, since spec §4.D's trigger is
// threshold-driven rather than periodic.
func (t *Table) runMerge() {
	defer t.mergeRunning.Store(false)
	if err := t.merge(); err != nil {
		log.Printf("lstore: merge failed for table %s: %v", t.Name, err)
	}
}

// merge implements the seven-step consolidation algorithm of spec §4.E:
// snapshot a cutoff into the tail array, deep-copy the base pages, walk
// the tail positions below the cutoff newest-to-oldest collecting the
// first (i.e. newest) historical value per column per live base record,
// apply those values to the copied base pages, switch the table over to
// the new base pages under the merge lock (re-validating each live
// record's current indirection against what was actually merged), and
// finally compact the tail array down to only the records that survived.
func (t *Table) merge() error {
	t.mergeMu.Lock()
	cutoff := t.nextTailPos
	t.mergeMu.Unlock()
	if cutoff == 0 {
		return nil
	}

	t.mergeMu.RLock()
	newBase := cloneColumns(t.basePages)

	preservedTail := make(map[uint64]uint64, len(t.baseRIDs))
	for rid := range t.baseRIDs {
		loc := t.pageDirectory[rid]
		tailRID := uint64(t.basePages[colIndirection][loc.pageIndex].Read(loc.slot))
		if tailRID != 0 {
			preservedTail[rid] = tailRID
		}
	}

	recordUpdates := make(map[uint64]map[int]int64)
	mergedTails := make(map[uint64]bool)

	for pos := int64(cutoff) - 1; pos >= 0; pos-- {
		pageIdx := int(pos) / SlotsPerPage
		slot := int(pos) % SlotsPerPage
		if pageIdx >= len(t.tailPages[tailColRID]) {
			continue
		}
		tailRID := uint64(t.tailPages[tailColRID][pageIdx].Read(slot))
		if tailRID == TombstoneRID {
			continue
		}
		baseRID := uint64(t.tailPages[tailColBaseRID][pageIdx].Read(slot))
		if _, ok := t.pageDirectory[baseRID]; !ok {
			continue // orphaned: the base RID this tail pointed at is gone
		}
		if preservedTail[baseRID] == tailRID {
			continue // this is the live head of the chain, never merged
		}
		mergedTails[tailRID] = true

		schema := t.tailPages[tailColSchema][pageIdx].Read(slot)
		updates, ok := recordUpdates[baseRID]
		if !ok {
			updates = make(map[int]int64)
			recordUpdates[baseRID] = updates
		}
		for col := 0; col < t.NumCols; col++ {
			if _, already := updates[col]; already {
				continue
			}
			if schema&(1<<uint(col)) != 0 {
				updates[col] = t.tailPages[tailColUser0+col][pageIdx].Read(slot)
			}
		}
	}

	for baseRID, updates := range recordUpdates {
		loc, ok := t.pageDirectory[baseRID]
		if !ok {
			continue
		}
		for col, value := range updates {
			newBase[colUser0+col][loc.pageIndex].Update(loc.slot, value)
		}
		if preservedTail[baseRID] == 0 || mergedTails[preservedTail[baseRID]] {
			newBase[colIndirection][loc.pageIndex].Update(loc.slot, 0)
			newBase[colSchema][loc.pageIndex].Update(loc.slot, 0)
		}
	}
	t.mergeMu.RUnlock()

	t.mergeMu.Lock()
	defer t.mergeMu.Unlock()

	// Switchover: re-validate each live record's indirection against what
	// we actually merged. A concurrent create_tail_record may have moved
	// it on since the snapshot above; in that case copy its current,
	// still-live indirection/schema into the new base pages instead of
	// trusting the stale snapshot.
	for rid := range t.baseRIDs {
		loc, ok := t.pageDirectory[rid]
		if !ok {
			continue
		}
		currentTail := uint64(t.basePages[colIndirection][loc.pageIndex].Read(loc.slot))
		switch {
		case currentTail != 0 && mergedTails[currentTail]:
			newBase[colIndirection][loc.pageIndex].Update(loc.slot, 0)
			newBase[colSchema][loc.pageIndex].Update(loc.slot, 0)
		case currentTail != 0:
			currentSchema := t.basePages[colSchema][loc.pageIndex].Read(loc.slot)
			newBase[colIndirection][loc.pageIndex].Update(loc.slot, int64(currentTail))
			newBase[colSchema][loc.pageIndex].Update(loc.slot, currentSchema)
		}
	}
	t.basePages = newBase

	t.compactTailLocked(cutoff, mergedTails)
	t.updatesSinceMerge.Store(0)
	return nil
}

// compactTailLocked rebuilds the tail page array keeping only records that
// are neither tombstoned nor were materialized into the base pages by this
// merge (including any appended after cutoff by a racing create_tail_record,
// which by definition were never considered for merging). Must be called
// with the merge lock held exclusively.
func (t *Table) compactTailLocked(cutoff uint64, mergedTails map[uint64]bool) {
	currentNextTail := t.nextTailPos
	newTailPages := make([][]*Page, len(t.tailPages))
	for col := range newTailPages {
		newTailPages[col] = []*Page{}
	}

	newDir := make(map[uint64]pageLoc, len(t.pageDirectory))
	for rid := range t.baseRIDs {
		if loc, ok := t.pageDirectory[rid]; ok {
			newDir[rid] = loc
		}
	}

	var compactedCount uint64
	for pos := uint64(0); pos < currentNextTail; pos++ {
		pageIdx := int(pos / SlotsPerPage)
		slot := int(pos % SlotsPerPage)
		if pageIdx >= len(t.tailPages[tailColRID]) {
			break
		}
		tailRID := uint64(t.tailPages[tailColRID][pageIdx].Read(slot))
		if tailRID == TombstoneRID {
			continue
		}
		if pos < cutoff && mergedTails[tailRID] {
			continue
		}

		newPageIdx := int(compactedCount / SlotsPerPage)
		newSlot := int(compactedCount % SlotsPerPage)
		if newPageIdx >= len(newTailPages[tailColIndirection]) {
			for col := range newTailPages {
				newTailPages[col] = append(newTailPages[col], NewPage())
			}
		}

		indirection := t.tailPages[tailColIndirection][pageIdx].Read(slot)
		if indirection != 0 && mergedTails[uint64(indirection)] {
			indirection = 0
		}
		for col := 0; col < len(t.tailPages); col++ {
			var v int64
			if col == tailColIndirection {
				v = indirection
			} else {
				v = t.tailPages[col][pageIdx].Read(slot)
			}
			newTailPages[col][newPageIdx].Write(v)
		}
		newDir[tailRID] = pageLoc{newPageIdx, newSlot}
		compactedCount++
	}

	t.tailPages = newTailPages
	t.pageDirectory = newDir
	t.nextTailPos = compactedCount
}

func cloneColumns(pages [][]*Page) [][]*Page {
	out := make([][]*Page, len(pages))
	for col := range pages {
		out[col] = make([]*Page, len(pages[col]))
		for i, p := range pages[col] {
			out[col][i] = p.Clone()
		}
	}
	return out
}
