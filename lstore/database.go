package lstore

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/intellect4all/lstore/common"
)

// Config configures a Database's on-disk root, mirroring the teacher's
// DefaultConfig(dataDir) constructors (btree.DefaultConfig,
// hashindex.DefaultConfig).
type Config struct {
	DataDir string
}

// DefaultConfig returns a Config rooted at dataDir.
func DefaultConfig(dataDir string) Config {
	return Config{DataDir: dataDir}
}

// Database is the table registry and persistence boundary of spec §4.H: it
// owns every Table by name, and serializes/deserializes them to four files
// per table on Close/Open.
type Database struct {
	cfg Config

	mu     sync.Mutex
	tables map[string]*Table
}

// Open loads every table previously persisted under cfg.DataDir (each
// table found by its `<name>_meta.bin` file directly in that directory),
// or starts an empty registry if the directory doesn't exist yet.
func Open(cfg Config) (*Database, error) {
	db := &Database{cfg: cfg, tables: make(map[string]*Table)}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("lstore: open %s: %w", cfg.DataDir, err)
	}
	entries, err := os.ReadDir(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("lstore: open %s: %w", cfg.DataDir, err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), "_meta.bin") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), "_meta.bin")
		tbl, err := db.loadTable(name)
		if err != nil {
			return nil, fmt.Errorf("lstore: loading table %q: %w", name, err)
		}
		db.tables[name] = tbl
	}
	return db, nil
}

// Close persists every currently-open table to cfg.DataDir and clears the
// in-memory registry. A subsequent Open on the same DataDir round-trips
// every table's live state (spec §8 property 6).
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	for name, tbl := range db.tables {
		if err := db.saveTable(tbl); err != nil {
			return fmt.Errorf("lstore: saving table %q: %w", name, err)
		}
	}
	db.tables = make(map[string]*Table)
	return nil
}

// CreateTable registers a new empty table, failing if one by that name
// already exists (in memory or still on disk).
func (db *Database) CreateTable(name string, numCols, keyCol int) (*Table, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.tables[name]; ok {
		return nil, common.ErrTableExists
	}
	if _, err := os.Stat(db.metaPath(name)); err == nil {
		return nil, common.ErrTableExists
	}
	tbl := NewTable(name, numCols, keyCol)
	db.tables[name] = tbl
	return tbl, nil
}

// DropTable removes a table from the registry and deletes its on-disk
// files, if any.
func (db *Database) DropTable(name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.tables[name]; !ok {
		return common.ErrTableNotFound
	}
	delete(db.tables, name)
	for _, p := range []string{db.metaPath(name), db.basePath(name), db.tailPath(name), db.dirPath(name)} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("lstore: dropping table %q: %w", name, err)
		}
	}
	return nil
}

// GetTable returns the named table, or ErrTableNotFound.
func (db *Database) GetTable(name string) (*Table, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	tbl, ok := db.tables[name]
	if !ok {
		return nil, common.ErrTableNotFound
	}
	return tbl, nil
}

func (db *Database) metaPath(name string) string { return filepath.Join(db.cfg.DataDir, name+"_meta.bin") }
func (db *Database) basePath(name string) string  { return filepath.Join(db.cfg.DataDir, name+"_base.bin") }
func (db *Database) tailPath(name string) string  { return filepath.Join(db.cfg.DataDir, name+"_tail.bin") }
func (db *Database) dirPath(name string) string   { return filepath.Join(db.cfg.DataDir, name+"_dir.bin") }

// saveTable writes the four on-disk files for tbl per spec §6's layout:
// _meta.bin, _base.bin, _tail.bin, _dir.bin. Metadata header fields are
// little-endian; page payloads are written byte-for-byte as Page stores
// them.
func (db *Database) saveTable(tbl *Table) error {
	tbl.mergeMu.RLock()
	defer tbl.mergeMu.RUnlock()

	if err := writeFile(db.metaPath(tbl.Name), encodeMeta(tbl)); err != nil {
		return err
	}
	if err := writeFile(db.basePath(tbl.Name), encodePageArray(tbl.basePages)); err != nil {
		return err
	}
	if err := writeFile(db.tailPath(tbl.Name), encodePageArray(tbl.tailPages)); err != nil {
		return err
	}
	if err := writeFile(db.dirPath(tbl.Name), encodeDirectory(tbl.pageDirectory)); err != nil {
		return err
	}
	return nil
}

func writeFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0o644)
}

func encodeMeta(tbl *Table) []byte {
	var buf []byte
	buf = appendU32(buf, uint32(len(tbl.Name)))
	buf = append(buf, tbl.Name...)
	buf = appendU32(buf, uint32(tbl.NumCols))
	buf = appendU32(buf, uint32(tbl.KeyCol))
	buf = appendU32(buf, uint32(tbl.nextRID))
	buf = appendU32(buf, uint32(tbl.nextBasePos))
	buf = appendU32(buf, uint32(tbl.nextTailPos))

	rids := make([]uint64, 0, len(tbl.baseRIDs))
	for rid := range tbl.baseRIDs {
		rids = append(rids, rid)
	}
	sort.Slice(rids, func(i, j int) bool { return rids[i] < rids[j] })
	buf = appendU32(buf, uint32(len(rids)))
	for _, rid := range rids {
		buf = appendU64(buf, rid)
	}

	cols := tbl.index.IndexedColumns()
	buf = appendU32(buf, uint32(len(cols)))
	for _, c := range cols {
		buf = appendU32(buf, uint32(c))
	}
	return buf
}

func encodePageArray(pages [][]*Page) []byte {
	var buf []byte
	buf = appendU32(buf, uint32(len(pages)))
	for _, col := range pages {
		buf = appendU32(buf, uint32(len(col)))
		for _, p := range col {
			buf = appendU32(buf, uint32(p.NumRecords()))
			buf = append(buf, p.data[:]...)
		}
	}
	return buf
}

func encodeDirectory(dir map[uint64]pageLoc) []byte {
	var buf []byte
	buf = appendU32(buf, uint32(len(dir)))
	rids := make([]uint64, 0, len(dir))
	for rid := range dir {
		rids = append(rids, rid)
	}
	sort.Slice(rids, func(i, j int) bool { return rids[i] < rids[j] })
	for _, rid := range rids {
		loc := dir[rid]
		buf = appendU64(buf, rid)
		buf = appendU32(buf, uint32(loc.pageIndex))
		buf = appendU32(buf, uint32(loc.slot))
	}
	return buf
}

func appendU32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendU64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

// loadTable reconstructs a table from its four on-disk files.
func (db *Database) loadTable(name string) (*Table, error) {
	meta, err := os.ReadFile(db.metaPath(name))
	if err != nil {
		return nil, err
	}
	r := &byteReader{buf: meta}
	nameLen := r.u32()
	storedName := string(r.bytes(int(nameLen)))
	numCols := int(r.u32())
	keyCol := int(r.u32())
	nextRID := r.u64From32()
	nextBasePos := r.u64From32()
	nextTailPos := r.u64From32()
	nBaseRIDs := r.u32()
	baseRIDs := make(map[uint64]struct{}, nBaseRIDs)
	for i := uint32(0); i < nBaseRIDs; i++ {
		baseRIDs[r.u64()] = struct{}{}
	}
	nIndexed := r.u32()
	indexedCols := make([]int, nIndexed)
	for i := range indexedCols {
		indexedCols[i] = int(r.u32())
	}
	if r.err != nil {
		return nil, r.err
	}

	tbl := NewTable(storedName, numCols, keyCol)
	tbl.nextRID = nextRID
	tbl.nextBasePos = nextBasePos
	tbl.nextTailPos = nextTailPos
	tbl.baseRIDs = baseRIDs

	baseRaw, err := os.ReadFile(db.basePath(name))
	if err != nil {
		return nil, err
	}
	tbl.basePages, err = decodePageArray(baseRaw)
	if err != nil {
		return nil, err
	}

	tailRaw, err := os.ReadFile(db.tailPath(name))
	if err != nil {
		return nil, err
	}
	tbl.tailPages, err = decodePageArray(tailRaw)
	if err != nil {
		return nil, err
	}

	dirRaw, err := os.ReadFile(db.dirPath(name))
	if err != nil {
		return nil, err
	}
	tbl.pageDirectory, err = decodeDirectory(dirRaw)
	if err != nil {
		return nil, err
	}

	for _, col := range indexedCols {
		if err := tbl.CreateIndex(col); err != nil {
			return nil, err
		}
	}
	return tbl, nil
}

func decodePageArray(raw []byte) ([][]*Page, error) {
	r := &byteReader{buf: raw}
	numCols := r.u32()
	pages := make([][]*Page, numCols)
	for c := range pages {
		nPages := r.u32()
		col := make([]*Page, nPages)
		for i := range col {
			numRecords := r.u32()
			payload := r.bytes(PageBytes)
			if r.err != nil {
				return nil, r.err
			}
			p := &Page{numRecords: uint64(numRecords)}
			copy(p.data[:], payload)
			col[i] = p
		}
		pages[c] = col
	}
	if r.err != nil {
		return nil, r.err
	}
	return pages, nil
}

func decodeDirectory(raw []byte) (map[uint64]pageLoc, error) {
	r := &byteReader{buf: raw}
	n := r.u32()
	dir := make(map[uint64]pageLoc, n)
	for i := uint32(0); i < n; i++ {
		rid := r.u64()
		pageIdx := int(r.u32())
		slot := int(r.u32())
		dir[rid] = pageLoc{pageIdx, slot}
	}
	if r.err != nil {
		return nil, r.err
	}
	return dir, nil
}

// byteReader is a small little-endian cursor over an in-memory buffer,
// used only by Database's load path; it records the first short-read as
// err rather than panicking, since a truncated file is an io error, not a
// programmer error.
type byteReader struct {
	buf []byte
	pos int
	err error
}

func (r *byteReader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if r.pos+n > len(r.buf) {
		r.err = fmt.Errorf("lstore: truncated file at offset %d, need %d more bytes", r.pos, n)
		return false
	}
	return true
}

func (r *byteReader) u32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v
}

func (r *byteReader) u64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v
}

// u64From32 reads a u32 metadata field that stores a counter wider than 32
// bits in memory (next_rid etc., per spec §6's _meta.bin layout).
func (r *byteReader) u64From32() uint64 {
	return uint64(r.u32())
}

func (r *byteReader) bytes(n int) []byte {
	if !r.need(n) {
		return nil
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b
}
