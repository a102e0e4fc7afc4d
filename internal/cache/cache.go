// Package cache provides short-TTL memoization for expensive lookups.
//
// The cache is a pure acceleration layer: a cold cache recomputes the same
// answer, so correctness never depends on a hit. Capacity is bounded with
// least-recently-used eviction.
package cache

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultTTL is the lifetime of entries whose callers do not choose one.
const DefaultTTL = 5 * time.Minute

// DefaultCapacity is the default maximum entry count.
const DefaultCapacity = 1024

type entry struct {
	value     any
	expiresAt time.Time
}

// Cache is a capacity-bounded TTL cache safe for concurrent use.
type Cache struct {
	lru *lru.Cache[string, entry]
	now func() time.Time
}

// New creates a Cache holding at most capacity entries.
func New(capacity int) (*Cache, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	inner, err := lru.New[string, entry](capacity)
	if err != nil {
		return nil, fmt.Errorf("creating lru: %w", err)
	}
	return &Cache{lru: inner, now: time.Now}, nil
}

// Get returns the cached value for key, or (nil, false) when absent or
// expired. Expired entries are removed on read.
func (c *Cache) Get(key string) (any, bool) {
	e, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	if c.now().After(e.expiresAt) {
		c.lru.Remove(key)
		return nil, false
	}
	return e.value, true
}

// Set stores value under key for ttl (DefaultTTL when ttl <= 0).
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c.lru.Add(key, entry{value: value, expiresAt: c.now().Add(ttl)})
}

// Invalidate removes key from the cache.
func (c *Cache) Invalidate(key string) {
	c.lru.Remove(key)
}

// Len returns the number of entries currently held, expired or not.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// UserScoreKey is the cache key for a user's computed score.
func UserScoreKey(userID string) string {
	return "user_score:" + userID
}

// CurrentTrackKey is the cache key for a membership's current track.
func CurrentTrackKey(memberID string) string {
	return "current_track:" + memberID
}

// GroupKey is the cache key for a group detail view.
func GroupKey(groupID string) string {
	return "group:" + groupID
}
