package data

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// memoryStoreSize caps the number of live keys so the fallback cannot grow
// without bound under a spoofed-identifier flood.
const memoryStoreSize = 100_000

// memoryStoreMaxTTL is the cache-wide eviction horizon. Individual entries
// carry their own shorter expiry checked on read.
const memoryStoreMaxTTL = 2 * time.Hour

// memoryEntry is one stored value with its own expiry.
type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryStore implements biz.FallbackStore: the process-local counter map
// used when the shared store is unreachable or not configured. It is owned
// exclusively by this process and its contents die with it.
//
// The backing expirable LRU bounds memory; the mutex makes increments
// atomic, so per-key ordering holds within the process.
type MemoryStore struct {
	mu     sync.Mutex
	cache  *expirable.LRU[string, memoryEntry]
	logger *log.Helper
}

// NewMemoryStore creates a new in-process fallback store.
func NewMemoryStore(logger log.Logger) *MemoryStore {
	return &MemoryStore{
		cache:  expirable.NewLRU[string, memoryEntry](memoryStoreSize, nil, memoryStoreMaxTTL),
		logger: log.NewHelper(logger),
	}
}

// Available always reports true: the fallback is always usable.
func (s *MemoryStore) Available() bool {
	return true
}

// IncrementWithTTL atomically increments the counter under key, creating
// it with the given TTL.
func (s *MemoryStore) IncrementWithTTL(_ context.Context, key string, ttl time.Duration) (int64, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	if entry, ok := s.cache.Get(key); ok && now.Before(entry.expiresAt) {
		parsed, err := strconv.ParseInt(entry.value, 10, 64)
		if err != nil {
			s.logger.Warnf("corrupt fallback counter %s: %v (resetting)", key, err)
			parsed = 0
		}
		count = parsed + 1
		// Preserve the original window expiry across increments.
		s.cache.Add(key, memoryEntry{value: strconv.FormatInt(count, 10), expiresAt: entry.expiresAt})
		return count, nil
	}

	count = 1
	s.cache.Add(key, memoryEntry{value: "1", expiresAt: now.Add(ttl)})
	return count, nil
}

// Get returns the value stored under key, honoring per-entry expiry.
func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.cache.Get(key)
	if !ok || !time.Now().Before(entry.expiresAt) {
		return "", false, nil
	}
	return entry.value, true, nil
}

// SetWithTTL stores value under key with the given TTL.
func (s *MemoryStore) SetWithTTL(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.Add(key, memoryEntry{value: value, expiresAt: time.Now().Add(ttl)})
	return nil
}

// Delete removes key.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.Remove(key)
	return nil
}

// Len returns the number of live keys, for load reporting.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Len()
}
