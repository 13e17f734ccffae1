package lstore

import "encoding/binary"

// SlotsPerPage and PageBytes fix the on-disk and in-memory page geometry:
// 512 eight-byte slots, matching the teacher's 4096-byte page convention.
const (
	SlotsPerPage    = 512
	PageBytes       = SlotsPerPage * 8
	pageHeaderBytes = 8
)

// Page is a single fixed-width column segment: up to 512 signed 64-bit
// values, big-endian encoded, preceded on disk by an 8-byte record count.
// A Page tracks its own pin count so the cache can tell a hot page from
// one safe to evict, and a dirty flag so eviction only flushes pages that
// actually changed.
type Page struct {
	numRecords uint64
	data       [PageBytes]byte
	pinCount   int
	dirty      bool
}

// NewPage returns an empty page ready to accept writes.
func NewPage() *Page {
	return &Page{}
}

// HasCapacity reports whether the page has room for one more record.
func (p *Page) HasCapacity() bool {
	return p.numRecords < SlotsPerPage
}

// NumRecords returns how many slots have been written.
func (p *Page) NumRecords() uint64 {
	return p.numRecords
}

// Write appends a value to the next free slot, marking the page dirty.
func (p *Page) Write(value int64) {
	binary.BigEndian.PutUint64(p.data[p.numRecords*8:], uint64(value))
	p.numRecords++
	p.dirty = true
}

// Read returns the value at slot i.
func (p *Page) Read(i int) int64 {
	return int64(binary.BigEndian.Uint64(p.data[i*8:]))
}

// Update overwrites the value at slot i, marking the page dirty.
func (p *Page) Update(i int, value int64) {
	binary.BigEndian.PutUint64(p.data[i*8:], uint64(value))
	p.dirty = true
}

// Pin increments the page's pin count, making it ineligible for eviction.
func (p *Page) Pin() {
	p.pinCount++
}

// Unpin decrements the page's pin count. Unpinning a page that is not
// pinned is a caller bug, not a recoverable condition: the cache's pin
// bookkeeping would otherwise silently go negative and later evict a page
// still in use, so this terminates the process rather than limp on.
func (p *Page) Unpin() {
	if p.pinCount == 0 {
		panic("lstore: unpin of page with zero pin count")
	}
	p.pinCount--
}

// Evictable reports whether the page currently holds no pins.
func (p *Page) Evictable() bool {
	return p.pinCount == 0
}

// IsDirty reports whether the page has unflushed writes.
func (p *Page) IsDirty() bool {
	return p.dirty
}

// ClearDirty marks the page as flushed.
func (p *Page) ClearDirty() {
	p.dirty = false
}

// Clone returns a deep copy, used by the merge engine to snapshot base
// pages before computing the next generation.
func (p *Page) Clone() *Page {
	np := &Page{numRecords: p.numRecords}
	np.data = p.data
	return np
}

// Serialize returns the on-disk representation: an 8-byte big-endian
// record count followed by the raw 4096-byte payload.
func (p *Page) Serialize() []byte {
	buf := make([]byte, pageHeaderBytes+PageBytes)
	binary.BigEndian.PutUint64(buf[:pageHeaderBytes], p.numRecords)
	copy(buf[pageHeaderBytes:], p.data[:])
	return buf
}

// DeserializePage reconstructs a page from its on-disk bytes.
func DeserializePage(raw []byte) *Page {
	p := &Page{}
	if len(raw) < pageHeaderBytes {
		return p
	}
	p.numRecords = binary.BigEndian.Uint64(raw[:pageHeaderBytes])
	copy(p.data[:], raw[pageHeaderBytes:])
	return p
}
