package lstore

import (
	"testing"

	"github.com/intellect4all/lstore/common"
)

func TestDatabaseCreateGetDropTable(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(DefaultConfig(dir))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	tbl, err := db.CreateTable("grades", 5, 0)
	if err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	tbl.InsertRecord([]int64{1, 93, 85, 90, 88})

	if _, err := db.CreateTable("grades", 5, 0); err != common.ErrTableExists {
		t.Fatalf("re-creating should fail with ErrTableExists, got %v", err)
	}

	got, err := db.GetTable("grades")
	if err != nil || got != tbl {
		t.Fatalf("GetTable returned wrong table: got=%v err=%v", got, err)
	}

	if err := db.DropTable("grades"); err != nil {
		t.Fatalf("DropTable: %v", err)
	}
	if _, err := db.GetTable("grades"); err != common.ErrTableNotFound {
		t.Fatalf("GetTable after drop should fail, got %v", err)
	}
}

func TestDatabaseRoundTripsThroughCloseOpen(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(DefaultConfig(dir))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	tbl, _ := db.CreateTable("grades", 5, 0)
	tbl.CreateIndex(1)
	rid, _ := tbl.InsertRecord([]int64{906659671, 93, 85, 90, 88})
	v := int64(95)
	tbl.CreateTailRecord(rid, []*int64{nil, &v, nil, nil, nil})

	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(DefaultConfig(dir))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	grades, err := reopened.GetTable("grades")
	if err != nil {
		t.Fatalf("GetTable after reopen: %v", err)
	}
	recs, err := grades.Query().Select(906659671, 0, []bool{true, true, true, true, true})
	if err != nil {
		t.Fatalf("Select after reopen: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 record after reopen, got %d", len(recs))
	}
	want := []int64{906659671, 95, 85, 90, 88}
	for i, v := range want {
		if recs[0].Columns[i] != v {
			t.Fatalf("column %d = %d, want %d", i, recs[0].Columns[i], v)
		}
	}

	if got := grades.Index().Locate(1, 95); len(got) != 1 {
		t.Fatalf("rebuilt index on column 1 missing entry: %v", got)
	}
}

func TestDatabaseOpenOnEmptyDirStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(DefaultConfig(dir))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()
	if _, err := db.GetTable("nope"); err != common.ErrTableNotFound {
		t.Fatalf("expected ErrTableNotFound, got %v", err)
	}
}
