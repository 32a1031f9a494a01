package httpcache

import (
	"container/list"
	"strings"
	"sync"
	"time"
)

// cacheableStatuses is the admission status allow-list.
var cacheableStatuses = map[int]bool{
	200: true, 203: true, 204: true, 206: true,
	300: true, 301: true,
	404: true, 405: true, 410: true, 414: true, 501: true,
}

// Outcome is the cache-status outcome recorded on the observation record.
type Outcome string

const (
	Hit    Outcome = "HIT"
	Miss   Outcome = "MISS"
	Bypass Outcome = "BYPASS"
)

type entry struct {
	value    *Response
	cachedAt time.Time
	elem     *list.Element
}

// Cache is a bounded, TTL-aware, approximately-LRU cache from fingerprint to
// cached HTTP response. It is safe for concurrent use; the read path never
// blocks a concurrent write to a different key for long since both hold the
// same mutex only for the O(1) map/list operation itself.
type Cache struct {
	mu sync.Mutex

	capacity int
	ttl      time.Duration
	maxBody  int64

	lru  *list.List
	data map[string]*entry

	evictions int64
	hits      int64
	misses    int64
}

// New creates a Cache with the given capacity, TTL, and max admissible body size.
func New(capacity int, ttl time.Duration, maxBodySize int64) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	return &Cache{
		capacity: capacity,
		ttl:      ttl,
		maxBody:  maxBodySize,
		lru:      list.New(),
		data:     map[string]*entry{},
	}
}

// Get returns a clone of the cached response for fingerprint, iff present and
// unexpired. Stale entries are evicted lazily on encounter.
func (c *Cache) Get(fingerprint string) (*Response, bool) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.data[fingerprint]
	if !ok {
		c.misses++
		return nil, false
	}
	if now.Sub(e.cachedAt) > c.ttl {
		c.removeLocked(fingerprint, e)
		c.misses++
		return nil, false
	}

	c.lru.MoveToBack(e.elem)
	c.hits++
	return e.value.Clone(), true
}

// Admit applies the admission rules for (method, status, body length)
// and, if admission succeeds, stores resp under fingerprint. It returns the
// resulting outcome (Miss on successful admission, Bypass otherwise).
func (c *Cache) Admit(fingerprint, method string, resp *Response) Outcome {
	if !cacheableMethod(method) {
		return Bypass
	}
	if !cacheableStatuses[resp.Status] {
		return Bypass
	}
	if int64(len(resp.Body)) > c.maxBody {
		return Bypass
	}

	headers := StripHopByHop(resp.Headers)
	// X-Cache-Status reflects the serving proxy's own decision and is set
	// fresh at emission; an upstream peer's copy is never stored.
	kept := headers[:0]
	for _, h := range headers {
		if strings.EqualFold(h.Name, "X-Cache-Status") {
			continue
		}
		kept = append(kept, h)
	}

	stored := &Response{
		Status:  resp.Status,
		Headers: kept,
		Body:    resp.Body,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.data[fingerprint]; ok {
		existing.value = stored
		existing.cachedAt = time.Now()
		c.lru.MoveToBack(existing.elem)
		return Miss
	}

	e := &entry{value: stored, cachedAt: time.Now()}
	e.elem = c.lru.PushBack(fingerprint)
	c.data[fingerprint] = e
	c.evictOldestLocked()
	return Miss
}

func cacheableMethod(method string) bool {
	return method == "GET" || method == "HEAD"
}

func (c *Cache) removeLocked(key string, e *entry) {
	c.lru.Remove(e.elem)
	delete(c.data, key)
}

func (c *Cache) evictOldestLocked() {
	for len(c.data) > c.capacity {
		front := c.lru.Front()
		if front == nil {
			return
		}
		key := front.Value.(string)
		c.lru.Remove(front)
		delete(c.data, key)
		c.evictions++
	}
}

// Len returns the number of entries currently stored (including not-yet-lazily-evicted stale ones).
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Entries   int
	Hits      int64
	Misses    int64
	Evictions int64
}

// Snapshot returns current cache counters.
func (c *Cache) Snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:   len(c.data),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}
