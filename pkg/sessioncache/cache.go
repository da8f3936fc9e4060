package sessioncache

import (
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"
)

// DefaultTTL is applied when Put is called with a non-positive ttl.
const DefaultTTL = 30 * time.Minute

const shardCount = 32

// ErrNotFound is returned for unknown and expired keys.
var ErrNotFound = errors.New("session not found or expired")

// TempOrderKey builds the staging key for a checkout submission.
func TempOrderKey(userID, id string) string {
	return fmt.Sprintf("temp_order:%s:%s", userID, id)
}

// Record is a snapshot of a stored session.
type Record struct {
	Key       string
	Payload   []byte
	CreatedAt time.Time
	ExpiresAt time.Time
}

type entry struct {
	payload   []byte
	createdAt time.Time
	expiresAt time.Time
}

// expired reports whether the entry is past its deadline. An entry is still
// readable at exactly expiresAt.
func (e *entry) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

type shard struct {
	mu    sync.RWMutex
	items map[string]*entry
}

// Cache is an in-process TTL store for staged checkout payloads.
// It is safe for concurrent use; locking is per shard.
type Cache struct {
	shards [shardCount]*shard
	now    func() time.Time
}

type Option func(*Cache)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

func New(opts ...Option) *Cache {
	c := &Cache{now: time.Now}
	for i := range c.shards {
		c.shards[i] = &shard{items: make(map[string]*entry)}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return c.shards[h.Sum32()%shardCount]
}

// Put stores payload under key, replacing any previous value.
func (c *Cache) Put(key string, payload []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := c.now()
	e := &entry{
		payload:   append([]byte(nil), payload...),
		createdAt: now,
		expiresAt: now.Add(ttl),
	}

	s := c.shardFor(key)
	s.mu.Lock()
	s.items[key] = e
	s.mu.Unlock()
}

// Get returns a copy of the payload. Expired entries are removed on the way out.
func (c *Cache) Get(key string) ([]byte, error) {
	rec, err := c.Record(key)
	if err != nil {
		return nil, err
	}
	return rec.Payload, nil
}

// Record returns the stored payload together with its timestamps.
func (c *Cache) Record(key string) (Record, error) {
	s := c.shardFor(key)
	now := c.now()

	s.mu.RLock()
	e, ok := s.items[key]
	if ok && !e.expired(now) {
		rec := Record{
			Key:       key,
			Payload:   append([]byte(nil), e.payload...),
			CreatedAt: e.createdAt,
			ExpiresAt: e.expiresAt,
		}
		s.mu.RUnlock()
		return rec, nil
	}
	s.mu.RUnlock()

	if ok {
		c.evictIfExpired(s, key, now)
	}
	return Record{}, ErrNotFound
}

// IsValid reports whether key holds an unexpired entry.
func (c *Cache) IsValid(key string) bool {
	s := c.shardFor(key)
	now := c.now()

	s.mu.RLock()
	e, ok := s.items[key]
	valid := ok && !e.expired(now)
	s.mu.RUnlock()

	if ok && !valid {
		c.evictIfExpired(s, key, now)
	}
	return valid
}

// Remove deletes key. Removing a missing key is a no-op.
func (c *Cache) Remove(key string) {
	s := c.shardFor(key)
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
}

// Consume returns the payload and deletes the entry in one step.
func (c *Cache) Consume(key string) ([]byte, error) {
	s := c.shardFor(key)
	now := c.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.items[key]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.items, key)
	if e.expired(now) {
		return nil, ErrNotFound
	}
	return e.payload, nil
}

// Len counts stored entries, including expired ones not yet swept.
func (c *Cache) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.RLock()
		n += len(s.items)
		s.mu.RUnlock()
	}
	return n
}

// Sweep removes every entry whose deadline is strictly before now and returns
// how many were removed. Keys are collected first, then the affected shards are
// locked together and the batch is deleted in one step. A key refreshed by Put
// between the two phases is left alone.
func (c *Cache) Sweep(now time.Time) int {
	var batch [shardCount][]string
	for i, s := range c.shards {
		s.mu.RLock()
		for k, e := range s.items {
			if e.expiresAt.Before(now) {
				batch[i] = append(batch[i], k)
			}
		}
		s.mu.RUnlock()
	}

	// Lock in index order so concurrent sweeps cannot deadlock.
	for i, keys := range batch {
		if len(keys) > 0 {
			c.shards[i].mu.Lock()
		}
	}
	removed := 0
	for i, keys := range batch {
		s := c.shards[i]
		for _, k := range keys {
			if e, ok := s.items[k]; ok && e.expiresAt.Before(now) {
				delete(s.items, k)
				removed++
			}
		}
	}
	for i, keys := range batch {
		if len(keys) > 0 {
			c.shards[i].mu.Unlock()
		}
	}
	return removed
}

func (c *Cache) evictIfExpired(s *shard, key string, now time.Time) {
	s.mu.Lock()
	if e, ok := s.items[key]; ok && e.expired(now) {
		delete(s.items, key)
	}
	s.mu.Unlock()
}
