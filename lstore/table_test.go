package lstore

import "testing"

func TestTableInsertAndSelect(t *testing.T) {
	tbl := NewTable("grades", 3, 0)
	rid, err := tbl.InsertRecord([]int64{1, 90, 85})
	if err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}
	loc, live := tbl.liveBaseLoc(rid)
	if !live {
		t.Fatal("freshly inserted record should be live")
	}
	values := tbl.resolveColumns(loc, map[int]bool{0: true, 1: true, 2: true}, 0)
	if values[0] != 1 || values[1] != 90 || values[2] != 85 {
		t.Fatalf("resolved values = %v, want [1 90 85]", values)
	}
}

func TestTableCreateTailRecordUpdatesIndirection(t *testing.T) {
	tbl := NewTable("grades", 2, 0)
	rid, _ := tbl.InsertRecord([]int64{1, 50})
	updated := int64(99)
	tailRID, err := tbl.CreateTailRecord(rid, []*int64{nil, &updated})
	if err != nil {
		t.Fatalf("CreateTailRecord: %v", err)
	}
	if tailRID == rid {
		t.Fatal("tail RID should differ from base RID")
	}
	loc, _ := tbl.liveBaseLoc(rid)
	values := tbl.resolveColumns(loc, map[int]bool{0: true, 1: true}, 0)
	if values[0] != 1 {
		t.Fatalf("unedited column should fall back to base value, got %d", values[0])
	}
	if values[1] != 99 {
		t.Fatalf("edited column should reflect the tail update, got %d", values[1])
	}
}

func TestTableDeleteRemovesFromIndexAndBaseRIDs(t *testing.T) {
	tbl := NewTable("grades", 2, 0)
	rid, _ := tbl.InsertRecord([]int64{1, 50})
	if got := tbl.index.Locate(0, 1); len(got) != 1 {
		t.Fatalf("expected key 1 indexed to one rid, got %v", got)
	}
	tombstoned, err := tbl.DeleteRecord(rid)
	if err != nil {
		t.Fatalf("DeleteRecord: %v", err)
	}
	if len(tombstoned) != 0 {
		t.Fatalf("no tail records existed, expected no tombstones, got %v", tombstoned)
	}
	if _, live := tbl.liveBaseLoc(rid); live {
		t.Fatal("deleted record should no longer be live")
	}
	if got := tbl.index.Locate(0, 1); len(got) != 0 {
		t.Fatalf("expected key 1 removed from index, got %v", got)
	}
	if _, err := tbl.DeleteRecord(rid); err == nil {
		t.Fatal("deleting an already-deleted record should fail")
	}
}

func TestTableVersionChainRollsBackThroughTails(t *testing.T) {
	tbl := NewTable("grades", 2, 0)
	rid, _ := tbl.InsertRecord([]int64{1, 10})
	v1 := int64(20)
	tbl.CreateTailRecord(rid, []*int64{nil, &v1})
	v2 := int64(30)
	tbl.CreateTailRecord(rid, []*int64{nil, &v2})

	loc, _ := tbl.liveBaseLoc(rid)
	latest := tbl.resolveColumns(loc, map[int]bool{1: true}, 0)
	if latest[1] != 30 {
		t.Fatalf("latest value = %d, want 30", latest[1])
	}
	oneBack := tbl.resolveColumns(loc, map[int]bool{1: true}, 1)
	if oneBack[1] != 20 {
		t.Fatalf("one version back = %d, want 20", oneBack[1])
	}
	twoBack := tbl.resolveColumns(loc, map[int]bool{1: true}, 2)
	if twoBack[1] != 10 {
		t.Fatalf("two versions back = %d, want 10 (base)", twoBack[1])
	}
}

func TestTableCreateIndexResolvesLatestValue(t *testing.T) {
	tbl := NewTable("grades", 2, 0)
	rid, _ := tbl.InsertRecord([]int64{1, 10})
	v := int64(99)
	tbl.CreateTailRecord(rid, []*int64{nil, &v})

	if err := tbl.CreateIndex(1); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	got := tbl.index.Locate(1, 99)
	if len(got) != 1 || got[0] != rid {
		t.Fatalf("CreateIndex should resolve the latest tail value, got %v", got)
	}
	if got := tbl.index.Locate(1, 10); len(got) != 0 {
		t.Fatalf("CreateIndex should not index the stale base value, got %v", got)
	}
}
