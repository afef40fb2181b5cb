// ABOUTME: Thread-safe TTL cache of responses keyed by Idempotency-Key.
// ABOUTME: Lets the HTTP layer replay the first outcome of a retried POST.

package dedupe

import (
	"container/list"
	"net/http"
	"sync"
	"time"
)

// Claim is the outcome of claiming an idempotency key.
type Claim int

const (
	// ClaimNew means the caller owns the key and must Complete or Release it.
	ClaimNew Claim = iota
	// ClaimPending means another request with the key is still running.
	ClaimPending
	// ClaimDone means a stored response is available for replay.
	ClaimDone
)

// Response is a recorded HTTP response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// cacheEntry stores the timestamp, list element and outcome for a key.
type cacheEntry struct {
	timestamp time.Time
	element   *list.Element
	done      bool
	response  Response
}

// Cache provides a thread-safe, TTL-based, size-limited store of responses.
// Uses a doubly-linked list to maintain insertion order for O(1) eviction.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*cacheEntry
	order   *list.List // keys in insertion order (oldest at front)
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a cache with the specified TTL and maximum size.
// A background goroutine periodically cleans up expired entries.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		seen:    make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Claim atomically looks up key and, when it is unknown or expired, reserves
// it for the caller. On ClaimDone the stored response is returned.
func (c *Cache) Claim(key string) (Response, Claim) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.seen[key]
	if ok && c.now().Sub(entry.timestamp) < c.ttl {
		if entry.done {
			return entry.response.clone(), ClaimDone
		}
		return Response{}, ClaimPending
	}

	c.markLocked(key)
	return Response{}, ClaimNew
}

// Complete stores the response for a claimed key. The TTL restarts.
func (c *Cache) Complete(key string, resp Response) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := c.markLocked(key)
	entry.done = true
	entry.response = resp.clone()
}

// Release forgets a claimed key so a retry runs again. Used for outcomes that
// should not be replayed, such as server errors.
func (c *Cache) Release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.seen[key]; ok && !entry.done {
		c.order.Remove(entry.element)
		delete(c.seen, key)
	}
}

// Len returns the number of tracked keys, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// markLocked records key as seen now. Must be called with mu held.
func (c *Cache) markLocked(key string) *cacheEntry {
	now := c.now()

	// Existing key: reset to pending and move to back
	if entry, exists := c.seen[key]; exists {
		entry.timestamp = now
		entry.done = false
		entry.response = Response{}
		c.order.MoveToBack(entry.element)
		return entry
	}

	// Evict oldest if at capacity
	if c.maxSize > 0 && len(c.seen) >= c.maxSize {
		c.evictOldest()
	}

	entry := &cacheEntry{
		timestamp: now,
		element:   c.order.PushBack(key),
	}
	c.seen[key] = entry
	return entry
}

// evictOldest removes the oldest entry from the cache.
// Must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}

	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, key)
}

// cleanup runs in a background goroutine, periodically removing expired entries.
func (c *Cache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runCleanup()
		case <-c.done:
			return
		}
	}
}

// runCleanup removes all expired entries from the cache.
func (c *Cache) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, entry := range c.seen {
		if now.Sub(entry.timestamp) > c.ttl {
			c.order.Remove(entry.element)
			delete(c.seen, key)
		}
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}

func (r Response) clone() Response {
	out := Response{Status: r.Status, Header: r.Header.Clone()}
	if r.Body != nil {
		out.Body = append([]byte(nil), r.Body...)
	}
	return out
}
