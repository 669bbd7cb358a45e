// Package ratelimit implements a token-bucket limiter, used by
// internal/sandbox to cap command-spawn attempts per conversation and by
// internal/mcp to cap tool-call attempts per server.
package ratelimit

import (
	"strings"
	"sync"
	"time"
)

// Config configures a Bucket or Limiter.
type Config struct {
	RequestsPerSecond float64
	BurstSize         int
	Enabled           bool
}

// DefaultConfig returns a conservative default: 10 req/s, burst of 20.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 10.0,
		BurstSize:         20,
		Enabled:           true,
	}
}

// Bucket is a single token bucket.
type Bucket struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

// NewBucket creates a token bucket from cfg, filled to capacity. A
// non-positive RequestsPerSecond falls back to 10/s; a non-positive
// BurstSize falls back to 2x the refill rate.
func NewBucket(cfg Config) *Bucket {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10.0
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = int(cfg.RequestsPerSecond * 2)
	}

	return &Bucket{
		tokens:     float64(cfg.BurstSize),
		maxTokens:  float64(cfg.BurstSize),
		refillRate: cfg.RequestsPerSecond,
		lastRefill: time.Now(),
	}
}

// Allow consumes one token if available.
func (b *Bucket) Allow() bool {
	return b.AllowN(1)
}

// AllowN consumes n tokens if all are available. n <= 0 is always allowed.
func (b *Bucket) AllowN(n int) bool {
	if n <= 0 {
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()

	if b.tokens >= float64(n) {
		b.tokens -= float64(n)
		return true
	}
	return false
}

// refill tops up tokens for time elapsed since the last refill. Caller must
// hold b.mu.
func (b *Bucket) refill() {
	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.lastRefill = now

	b.tokens += elapsed * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
}

// Tokens reports the current token count after refilling.
func (b *Bucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	return b.tokens
}

// WaitTime reports how long until the next token is available, or 0 if one
// already is.
func (b *Bucket) WaitTime() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()

	if b.tokens >= 1 {
		return 0
	}

	needed := 1 - b.tokens
	seconds := needed / b.refillRate
	return time.Duration(seconds * float64(time.Second))
}

// Limiter fans a single Config out across many keys, each with its own
// Bucket — one key per MCP server ID, for instance.
type Limiter struct {
	mu      sync.RWMutex
	buckets map[string]*Bucket
	config  Config
	maxKeys int
}

// NewLimiter creates a Limiter that allocates a fresh Bucket per key,
// capping the number of live keys at 10000 to bound memory under an
// unbounded key space.
func NewLimiter(config Config) *Limiter {
	return &Limiter{
		buckets: make(map[string]*Bucket),
		config:  config,
		maxKeys: 10000,
	}
}

// Allow reports whether key has a token available, always true when the
// limiter is disabled.
func (l *Limiter) Allow(key string) bool {
	if !l.config.Enabled {
		return true
	}
	return l.getBucket(key).Allow()
}

// AllowN is Allow for n tokens at once.
func (l *Limiter) AllowN(key string, n int) bool {
	if !l.config.Enabled {
		return true
	}
	return l.getBucket(key).AllowN(n)
}

func (l *Limiter) getBucket(key string) *Bucket {
	l.mu.RLock()
	bucket, exists := l.buckets[key]
	l.mu.RUnlock()
	if exists {
		return bucket
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if bucket, exists = l.buckets[key]; exists {
		return bucket
	}

	if len(l.buckets) >= l.maxKeys {
		l.pruneIdle()
	}

	bucket = NewBucket(l.config)
	l.buckets[key] = bucket
	return bucket
}

// pruneIdle drops buckets sitting near full capacity — a cheap proxy for
// "hasn't been used in a while" without tracking last-access time
// per-bucket. Caller must hold l.mu for writing.
func (l *Limiter) pruneIdle() {
	for key, bucket := range l.buckets {
		if bucket.Tokens() >= bucket.maxTokens*0.9 {
			delete(l.buckets, key)
		}
	}
}

// WaitTime reports how long until key's next token is available.
func (l *Limiter) WaitTime(key string) time.Duration {
	if !l.config.Enabled {
		return 0
	}
	return l.getBucket(key).WaitTime()
}

// Reset drops key's bucket entirely, as if it had never been seen.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

// Status is a point-in-time snapshot of one key's rate-limit state.
type Status struct {
	Key             string        `json:"key"`
	AllowedNow      bool          `json:"allowed_now"`
	TokensRemaining float64       `json:"tokens_remaining"`
	WaitTime        time.Duration `json:"wait_time"`
}

// GetStatus reports key's current rate-limit status without consuming a
// token.
func (l *Limiter) GetStatus(key string) Status {
	if !l.config.Enabled {
		return Status{Key: key, AllowedNow: true, TokensRemaining: l.config.RequestsPerSecond}
	}

	bucket := l.getBucket(key)
	tokens := bucket.Tokens()
	return Status{
		Key:             key,
		AllowedNow:      tokens >= 1,
		TokensRemaining: tokens,
		WaitTime:        bucket.WaitTime(),
	}
}

// CompositeKey joins parts into a single rate-limit key, e.g.
// CompositeKey(serverID, toolName) for a per-tool-per-server limit.
func CompositeKey(parts ...string) string {
	return strings.Join(parts, ":")
}

// MultiLimiter requires every wrapped Limiter to allow a request.
type MultiLimiter struct {
	limiters []*Limiter
}

// NewMultiLimiter wraps limiters, all of which must allow a key for
// MultiLimiter to allow it.
func NewMultiLimiter(limiters ...*Limiter) *MultiLimiter {
	return &MultiLimiter{limiters: limiters}
}

// Allow reports whether every wrapped limiter allows key.
func (m *MultiLimiter) Allow(key string) bool {
	for _, l := range m.limiters {
		if !l.Allow(key) {
			return false
		}
	}
	return true
}

// WaitTime reports the longest wait among the wrapped limiters.
func (m *MultiLimiter) WaitTime(key string) time.Duration {
	var maxWait time.Duration
	for _, l := range m.limiters {
		if wait := l.WaitTime(key); wait > maxWait {
			maxWait = wait
		}
	}
	return maxWait
}
