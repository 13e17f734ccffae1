package lstore

import (
	"sync"
	"testing"
	"time"
)

func TestMergeConsolidatesTailIntoBase(t *testing.T) {
	tbl := NewTable("t", 2, 0)
	tbl.SetMergeThreshold(3)
	rid, _ := tbl.InsertRecord([]int64{1, 0})

	for i := int64(1); i <= 3; i++ {
		v := i * 10
		if _, err := tbl.CreateTailRecord(rid, []*int64{nil, &v}); err != nil {
			t.Fatalf("CreateTailRecord: %v", err)
		}
	}

	waitForMergeIdle(t, tbl)

	loc, live := tbl.liveBaseLoc(rid)
	if !live {
		t.Fatal("record should still be live after merge")
	}
	values := tbl.resolveColumns(loc, map[int]bool{1: true}, 0)
	if values[1] != 30 {
		t.Fatalf("latest value after merge = %d, want 30", values[1])
	}
	if tbl.nextTailPos != 1 {
		t.Fatalf("tail array should be compacted to the one preserved head tail, nextTailPos=%d", tbl.nextTailPos)
	}
}

func TestMergePreservesLiveTailNotYetCoalesced(t *testing.T) {
	tbl := NewTable("t", 2, 0)
	rid, _ := tbl.InsertRecord([]int64{1, 0})
	v1 := int64(10)
	tbl.CreateTailRecord(rid, []*int64{nil, &v1})
	v2 := int64(20)
	tbl.CreateTailRecord(rid, []*int64{nil, &v2})

	// Manually run one merge pass synchronously (bypassing the
	// threshold/goroutine trigger). The second tail record is the head of
	// the chain, so only the first one is merged and the second stays live.
	if err := tbl.merge(); err != nil {
		t.Fatalf("merge: %v", err)
	}

	loc, _ := tbl.liveBaseLoc(rid)
	latest := tbl.resolveColumns(loc, map[int]bool{1: true}, 0)
	if latest[1] != 20 {
		t.Fatalf("live tail should still win, got %d", latest[1])
	}
}

func TestMergeDoesNotLoseConcurrentUpdates(t *testing.T) {
	tbl := NewTable("t", 2, 0)
	tbl.SetMergeThreshold(1 << 30) // disable auto-trigger; drive merge manually
	rid, _ := tbl.InsertRecord([]int64{1, 0})

	var wg sync.WaitGroup
	for i := int64(1); i <= 20; i++ {
		wg.Add(1)
		go func(v int64) {
			defer wg.Done()
			val := v
			tbl.CreateTailRecord(rid, []*int64{nil, &val})
		}(i)
	}
	wg.Wait()

	if err := tbl.merge(); err != nil {
		t.Fatalf("merge: %v", err)
	}

	loc, live := tbl.liveBaseLoc(rid)
	if !live {
		t.Fatal("record should still be live")
	}
	values := tbl.resolveColumns(loc, map[int]bool{1: true}, 0)
	if values[1] < 1 || values[1] > 20 {
		t.Fatalf("merged value %d out of expected range [1,20]", values[1])
	}
}

func waitForMergeIdle(t *testing.T, tbl *Table) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !tbl.mergeRunning.Load() && tbl.updatesSinceMerge.Load() == 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for background merge to finish")
}
