// Package ratelimit provides token-bucket rate limiting for tool calls,
// keyed per user and tool.
package ratelimit

import (
	"strings"
	"sync"
	"time"
)

// Config configures rate limiting behavior.
type Config struct {
	// RequestsPerSecond is the sustained rate allowed per key.
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	// BurstSize is the maximum number of requests allowed in a burst.
	BurstSize int `yaml:"burst_size" json:"burst_size"`
	// Enabled controls whether rate limiting is active.
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// DefaultConfig returns the default rate limit configuration.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 5.0,
		BurstSize:         10,
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
	now        func() time.Time
}

// NewBucket creates a token bucket from the config, applying defaults for
// non-positive values.
func NewBucket(config Config) *Bucket {
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = DefaultConfig().RequestsPerSecond
	}
	if config.BurstSize <= 0 {
		config.BurstSize = int(config.RequestsPerSecond * 2)
	}
	return &Bucket{
		tokens:     float64(config.BurstSize),
		maxTokens:  float64(config.BurstSize),
		refillRate: config.RequestsPerSecond,
		lastRefill: time.Now(),
		now:        time.Now,
	}
}

// Allow consumes a token if one is available.
func (b *Bucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// refill adds tokens based on elapsed time. Caller holds the lock.
func (b *Bucket) refill() {
	now := b.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.lastRefill = now

	b.tokens += elapsed * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
}

// WaitTime reports how long until the next request would be allowed.
func (b *Bucket) WaitTime() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	if b.tokens >= 1 {
		return 0
	}
	needed := 1 - b.tokens
	return time.Duration(needed / b.refillRate * float64(time.Second))
}

// Limiter manages one bucket per key.
type Limiter struct {
	mu      sync.RWMutex
	buckets map[string]*Bucket
	config  Config
	maxKeys int
}

// NewLimiter creates a rate limiter.
func NewLimiter(config Config) *Limiter {
	return &Limiter{
		buckets: make(map[string]*Bucket),
		config:  config,
		maxKeys: 10000,
	}
}

// Allow reports whether a request for key should proceed now.
func (l *Limiter) Allow(key string) bool {
	if !l.config.Enabled {
		return true
	}
	return l.getBucket(key).Allow()
}

// WaitTime reports how long until a request for key would be allowed.
func (l *Limiter) WaitTime(key string) time.Duration {
	if !l.config.Enabled {
		return 0
	}
	return l.getBucket(key).WaitTime()
}

// Reset clears the bucket for a key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
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
		l.prune()
	}

	bucket = NewBucket(l.config)
	l.buckets[key] = bucket
	return bucket
}

// prune removes near-full buckets, which belong to inactive keys.
// Caller holds the write lock.
func (l *Limiter) prune() {
	for key, bucket := range l.buckets {
		bucket.mu.Lock()
		bucket.refill()
		idle := bucket.tokens >= bucket.maxTokens*0.9
		bucket.mu.Unlock()
		if idle {
			delete(l.buckets, key)
		}
	}
}

// CompositeKey joins key parts with ":", e.g. CompositeKey(userID, toolName).
func CompositeKey(parts ...string) string {
	return strings.Join(parts, ":")
}
