package lstore

import (
	"container/list"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/intellect4all/lstore/common"
)

// CacheKey identifies one column segment of one page within one table,
// mirroring the Python bufferpool's (table, range, segment, page, column)
// key tuple.
type CacheKey struct {
	Table   string
	Range   uint32
	Segment uint32
	Page    uint32
	Column  uint32
}

func (k CacheKey) path(root string) string {
	return filepath.Join(root, k.Table,
		fmt.Sprintf("r%d", k.Range),
		fmt.Sprintf("s%d", k.Segment),
		fmt.Sprintf("p%d_c%d.dat", k.Page, k.Column))
}

type cacheEntry struct {
	key  CacheKey
	page *Page
}

// CacheStats mirrors the teacher's atomic-stats-struct-plus-accessor idiom
// (BTree.stats, HashIndex.stats) for observability into cache behavior.
type CacheStats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Writes    int64
}

// PageCache is a pin-aware, write-back LRU cache over disk-backed pages,
// per spec §4.B. It is capped at MaxPages resident pages; fetching past
// that cap evicts the least-recently-used unpinned page, flushing it to
// disk first if dirty. If every resident page is pinned, Fetch returns
// ErrCacheExhausted rather than growing unbounded.
type PageCache struct {
	mu       sync.Mutex
	root     string
	maxPages int

	entries map[CacheKey]*list.Element
	lru     *list.List // front = most recently used

	hits, misses, evictions, writes atomic.Int64
}

// NewPageCache builds a cache rooted at dir, holding at most maxPages
// resident pages at a time.
func NewPageCache(dir string, maxPages int) *PageCache {
	return &PageCache{
		root:     dir,
		maxPages: maxPages,
		entries:  make(map[CacheKey]*list.Element),
		lru:      list.New(),
	}
}

// Fetch returns the page for key, pinning it. Callers must call Release
// with the same key once done. A cache miss loads the page from disk if
// present; a missing or unreadable file yields a fresh empty page rather
// than an error, matching the cache-load fallback in spec §7.
func (c *PageCache) Fetch(key CacheKey) (*Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		c.lru.MoveToFront(elem)
		entry := elem.Value.(*cacheEntry)
		entry.page.Pin()
		c.hits.Add(1)
		return entry.page, nil
	}

	c.misses.Add(1)
	if len(c.entries) >= c.maxPages {
		if !c.evictLocked() {
			return nil, common.ErrCacheExhausted
		}
	}

	page := c.loadFromDisk(key)
	page.Pin()
	entry := &cacheEntry{key: key, page: page}
	elem := c.lru.PushFront(entry)
	c.entries[key] = elem
	return page, nil
}

// Release unpins the page for key. A released page becomes the most
// recently used entry, giving it one more cycle of protection from
// eviction before it can actually be reclaimed.
func (c *PageCache) Release(key CacheKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.entries[key]
	if !ok {
		return
	}
	entry := elem.Value.(*cacheEntry)
	entry.page.Unpin()
	c.lru.MoveToFront(elem)
}

// evictLocked removes the least-recently-used evictable page, flushing it
// first if dirty. Reports whether it found one to evict.
func (c *PageCache) evictLocked() bool {
	for elem := c.lru.Back(); elem != nil; elem = elem.Prev() {
		entry := elem.Value.(*cacheEntry)
		if !entry.page.Evictable() {
			continue
		}
		if entry.page.IsDirty() {
			if err := c.writeToDisk(entry.key, entry.page); err != nil {
				// Can't evict a dirty page we failed to persist; try the
				// next candidate instead of losing data.
				continue
			}
		}
		c.lru.Remove(elem)
		delete(c.entries, entry.key)
		c.evictions.Add(1)
		return true
	}
	return false
}

// Flush writes key's page to disk if dirty and resident.
func (c *PageCache) Flush(key CacheKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.entries[key]
	if !ok {
		return nil
	}
	entry := elem.Value.(*cacheEntry)
	if !entry.page.IsDirty() {
		return nil
	}
	return c.writeToDisk(entry.key, entry.page)
}

// FlushAll writes every dirty resident page to disk.
func (c *PageCache) FlushAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for elem := c.lru.Front(); elem != nil; elem = elem.Next() {
		entry := elem.Value.(*cacheEntry)
		if entry.page.IsDirty() {
			if err := c.writeToDisk(entry.key, entry.page); err != nil {
				return err
			}
		}
	}
	return nil
}

// DropTable evicts every resident page belonging to table, failing if any
// of them are still pinned.
func (c *PageCache) DropTable(table string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var toRemove []*list.Element
	for elem := c.lru.Front(); elem != nil; elem = elem.Next() {
		entry := elem.Value.(*cacheEntry)
		if entry.key.Table != table {
			continue
		}
		if !entry.page.Evictable() {
			return fmt.Errorf("lstore: cannot drop table %q: a page is still pinned", table)
		}
		toRemove = append(toRemove, elem)
	}
	for _, elem := range toRemove {
		entry := elem.Value.(*cacheEntry)
		c.lru.Remove(elem)
		delete(c.entries, entry.key)
	}
	return nil
}

func (c *PageCache) loadFromDisk(key CacheKey) *Page {
	raw, err := os.ReadFile(key.path(c.root))
	if err != nil {
		return NewPage()
	}
	return DeserializePage(raw)
}

func (c *PageCache) writeToDisk(key CacheKey, page *Page) error {
	path := key.path(c.root)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, page.Serialize(), 0o644); err != nil {
		return err
	}
	page.ClearDirty()
	c.writes.Add(1)
	return nil
}

// Stats returns a snapshot of the cache's running counters.
func (c *PageCache) Stats() CacheStats {
	return CacheStats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Writes:    c.writes.Load(),
	}
}

func (s CacheStats) String() string {
	total := s.Hits + s.Misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(s.Hits) / float64(total) * 100
	}
	return fmt.Sprintf("hits=%d misses=%d hit_rate=%.1f%% evictions=%d writes=%d",
		s.Hits, s.Misses, hitRate, s.Evictions, s.Writes)
}
