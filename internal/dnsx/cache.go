package dnsx

import (
	"container/list"
	"sync"
)

// lruCache stores lookup outcomes (records or error) per domain under a hard
// entry bound, evicting least recently used domains. In-flight lookups are
// deduplicated: followers block on the leader's done channel.
type lruCache struct {
	mu      sync.Mutex
	cap     int
	entries map[string]*list.Element
	order   *list.List // front = most recently used
}

type cacheEntry struct {
	domain  string
	records []MXRecord
	err     error
	done    chan struct{}
}

func newLRUCache(capacity int) *lruCache {
	if capacity <= 0 {
		capacity = 2048
	}
	return &lruCache{
		cap:     capacity,
		entries: make(map[string]*list.Element, capacity),
		order:   list.New(),
	}
}

// getOrClaim returns the cached outcome for the domain, or claims the
// leader slot for it. leader=true means the caller must resolve and call
// fill; otherwise the returned values are the settled outcome (waiting for
// an in-flight leader when necessary).
func (c *lruCache) getOrClaim(domain string) (records []MXRecord, err error, leader bool) {
	c.mu.Lock()
	if el, ok := c.entries[domain]; ok {
		e := el.Value.(*cacheEntry)
		c.order.MoveToFront(el)
		c.mu.Unlock()
		<-e.done
		return copyRecords(e.records), e.err, false
	}

	e := &cacheEntry{domain: domain, done: make(chan struct{})}
	el := c.order.PushFront(e)
	c.entries[domain] = el
	c.evictLocked()
	c.mu.Unlock()
	return nil, nil, true
}

// fill settles the leader's entry and wakes all waiters.
func (c *lruCache) fill(domain string, records []MXRecord, err error) {
	c.mu.Lock()
	el, ok := c.entries[domain]
	c.mu.Unlock()
	if !ok {
		return
	}
	e := el.Value.(*cacheEntry)
	e.records = records
	e.err = err
	close(e.done)
}

// evictLocked drops settled entries from the tail until within capacity.
// In-flight entries are skipped so waiters are never orphaned.
func (c *lruCache) evictLocked() {
	for c.order.Len() > c.cap {
		el := c.order.Back()
		if el == nil {
			return
		}
		e := el.Value.(*cacheEntry)
		select {
		case <-e.done:
			c.order.Remove(el)
			delete(c.entries, e.domain)
		default:
			return
		}
	}
}

// len reports the entry count (diagnostics).
func (c *lruCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func copyRecords(records []MXRecord) []MXRecord {
	if records == nil {
		return nil
	}
	out := make([]MXRecord, len(records))
	copy(out, records)
	return out
}
