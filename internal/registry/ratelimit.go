package registry

import (
	"sync"
	"time"
)

const (
	// restRateLimitPerSec and restBurstLimit implement the spec's "30
	// requests per minute per source IP" as a token bucket refilling
	// continuously rather than resetting once per minute, so a client
	// that has been quiet is not penalized at the top of a new window.
	restRateLimitPerSec = 30.0 / 60.0
	restBurstLimit       = 10.0
	rateLimiterCleanupAge = 5 * time.Minute

	// rateLimiterShards controls how many independent shards the rate
	// limiter uses. Each shard has its own mutex, which drastically
	// reduces lock contention under concurrent requests from distinct IPs.
	rateLimiterShards = 16
)

type bucket struct {
	tokens    float64
	lastCheck time.Time
}

// RateLimiter implements a sharded per-key token-bucket rate limiter,
// keying on source IP for the /rooms* REST surface. Keys are mapped to one
// of [rateLimiterShards] independent shards via FNV hashing so concurrent
// allow() calls on different keys rarely contend on the same mutex.
type RateLimiter struct {
	shards [rateLimiterShards]rateLimiterShard
}

type rateLimiterShard struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

// NewRateLimiter returns a rate limiter enforcing the spec's REST limit.
func NewRateLimiter() *RateLimiter {
	rl := &RateLimiter{}
	for i := range rl.shards {
		rl.shards[i].buckets = make(map[string]*bucket)
	}
	return rl
}

func (rl *RateLimiter) shard(key string) *rateLimiterShard {
	return &rl.shards[shardIndex(key)]
}

func shardIndex(key string) int {
	const (
		fnvOffset32 = uint32(2166136261)
		fnvPrime32  = uint32(16777619)
	)
	h := fnvOffset32
	for i := 0; i < len(key); i++ {
		h ^= uint32(key[i])
		h *= fnvPrime32
	}
	return int(h % uint32(rateLimiterShards))
}

// Allow reports whether key (a source IP) may proceed, and the number of
// tokens remaining in its bucket for the caller to surface as a
// X-RateLimit-Remaining header.
func (rl *RateLimiter) Allow(key string) (bool, int) {
	s := rl.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{tokens: restBurstLimit, lastCheck: now}
		s.buckets[key] = b
	}

	elapsed := now.Sub(b.lastCheck).Seconds()
	b.tokens += elapsed * restRateLimitPerSec
	if b.tokens > restBurstLimit {
		b.tokens = restBurstLimit
	}
	b.lastCheck = now

	if b.tokens < 1.0 {
		return false, 0
	}
	b.tokens--
	return true, int(b.tokens)
}

// Cleanup evicts rate-limit buckets idle for longer than
// rateLimiterCleanupAge across all shards; the hot Allow path never
// iterates or evicts. No code in the server calls Cleanup on a schedule, so
// buckets accumulate until it is called.
func (rl *RateLimiter) Cleanup() {
	now := time.Now()
	for i := range rl.shards {
		s := &rl.shards[i]
		s.mu.Lock()
		for k, v := range s.buckets {
			if now.Sub(v.lastCheck) > rateLimiterCleanupAge {
				delete(s.buckets, k)
			}
		}
		s.mu.Unlock()
	}
}
