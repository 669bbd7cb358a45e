// Package cache provides small in-memory caching primitives shared across
// agentcore's runtime: right now a single time-windowed dedupe cache, used by
// internal/contextmgr to drop repeated pending-input submissions.
package cache

import (
	"sync"
	"time"
)

// DedupeCache remembers keys it has seen within a sliding TTL window, so a
// caller can ask "have I already handled this?" without keeping the full
// history of everything that passed through.
type DedupeCache struct {
	mu      sync.Mutex
	seen    map[string]int64 // key -> last-seen unix-ms
	ttl     time.Duration
	maxSize int
}

// DedupeCacheOptions configures a DedupeCache. A zero TTL disables
// expiration (entries live until evicted by MaxSize); a zero or negative
// MaxSize disables the entry-count cap.
type DedupeCacheOptions struct {
	TTL     time.Duration
	MaxSize int
}

// NewDedupeCache builds a cache per opts.
func NewDedupeCache(opts DedupeCacheOptions) *DedupeCache {
	ttl := opts.TTL
	if ttl < 0 {
		ttl = 0
	}
	maxSize := opts.MaxSize
	if maxSize < 0 {
		maxSize = 0
	}

	return &DedupeCache{
		seen:    make(map[string]int64),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// Check reports whether key was already seen within the TTL window, and
// records key as seen now regardless of the outcome.
func (c *DedupeCache) Check(key string) bool {
	return c.CheckAt(key, time.Now())
}

// CheckAt is Check with an explicit timestamp, for deterministic tests.
func (c *DedupeCache) CheckAt(key string, now time.Time) bool {
	if key == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	nowMs := now.UnixMilli()

	if last, ok := c.seen[key]; ok && (c.ttl <= 0 || nowMs-last < c.ttl.Milliseconds()) {
		c.touch(key, nowMs)
		return true
	}

	c.touch(key, nowMs)
	c.prune(nowMs)
	return false
}

// touch records key's last-seen time, re-inserting it so eviction order
// (oldest-touched first) stays meaningful.
func (c *DedupeCache) touch(key string, timestampMs int64) {
	delete(c.seen, key)
	c.seen[key] = timestampMs
}

// prune drops TTL-expired entries, then evicts the oldest entries until the
// cache is back at maxSize. A non-positive maxSize leaves the entry count
// uncapped.
func (c *DedupeCache) prune(nowMs int64) {
	if c.ttl > 0 {
		cutoff := nowMs - c.ttl.Milliseconds()
		for key, ts := range c.seen {
			if ts < cutoff {
				delete(c.seen, key)
			}
		}
	}

	if c.maxSize <= 0 {
		return
	}

	for len(c.seen) > c.maxSize {
		var oldestKey string
		oldestTs := int64(1<<63 - 1)
		for k, ts := range c.seen {
			if ts < oldestTs {
				oldestTs = ts
				oldestKey = k
			}
		}
		if oldestKey == "" {
			break
		}
		delete(c.seen, oldestKey)
	}
}

// Clear removes every entry.
func (c *DedupeCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = make(map[string]int64)
}

// Size reports the current entry count.
func (c *DedupeCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// Contains reports whether key is present and unexpired, without refreshing
// its timestamp.
func (c *DedupeCache) Contains(key string) bool {
	return c.ContainsAt(key, time.Now())
}

// ContainsAt is Contains with an explicit timestamp.
func (c *DedupeCache) ContainsAt(key string, now time.Time) bool {
	if key == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	last, ok := c.seen[key]
	if !ok {
		return false
	}
	if c.ttl <= 0 {
		return true
	}
	return now.UnixMilli()-last < c.ttl.Milliseconds()
}

// Remove drops key if present.
func (c *DedupeCache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.seen, key)
}

// Keys returns every currently-cached key, in no particular order.
func (c *DedupeCache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.seen))
	for k := range c.seen {
		keys = append(keys, k)
	}
	return keys
}

// PendingInputDedupeKey builds the key contextmgr.Manager.PushPendingInput
// checks a submission against: the call ID when one is present (a resent
// tool-output submission), otherwise a kind+text composite so two identical
// plain-text resubmissions collapse to the same key.
func PendingInputDedupeKey(kind, callID, text string) string {
	if callID != "" {
		return callID
	}
	return kind + ":" + text
}
