package storage

import (
	"sort"
	"sync"
	"time"

	"github.com/google/btree"
)

// Store is the shared keyspace. A single exclusive lock guards every field;
// the methods below assume the caller holds it (see Lock) unless stated
// otherwise. The command engine takes the lock once per command, once per
// transaction and once per script, which makes those units atomic.
type Store struct {
	mu sync.Mutex

	data    map[string]*Value
	expires *btree.BTreeG[expiryItem]
	waiters map[string][]*Waiter

	now func() time.Time

	// Replication bookkeeping
	sentOffset int64
	recvOffset int64

	// Statistics
	expiredKeys int64
	dirty       int64

	cleanupInterval time.Duration
	cleanupStop     chan struct{}
	cleanupDone     chan struct{}
	closeOnce       sync.Once
}

// StoreOption configures a Store
type StoreOption func(*Store)

// WithCleanupInterval sets how often expired keys are actively removed.
// Zero disables the background sweep; keys still expire lazily on access.
func WithCleanupInterval(d time.Duration) StoreOption {
	return func(s *Store) {
		if d >= 0 {
			s.cleanupInterval = d
		}
	}
}

// WithClock replaces the time source, mainly for tests
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore creates an empty store and starts its background expiry sweep
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		data:            make(map[string]*Value),
		expires:         btree.NewG[expiryItem](32, expiryLess),
		waiters:         make(map[string][]*Waiter),
		now:             time.Now,
		cleanupInterval: 100 * time.Millisecond,
		cleanupStop:     make(chan struct{}),
		cleanupDone:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.cleanupInterval > 0 {
		go s.cleanupExpiredKeys()
	} else {
		close(s.cleanupDone)
	}

	return s
}

// Lock acquires the store lock
func (s *Store) Lock() {
	s.mu.Lock()
}

// Unlock releases the store lock
func (s *Store) Unlock() {
	s.mu.Unlock()
}

// Close stops the background sweep. It is safe to call more than once.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		close(s.cleanupStop)
	})
	<-s.cleanupDone
	return nil
}

// Now returns the store's current time
func (s *Store) Now() time.Time {
	return s.now()
}

// cleanupExpiredKeys runs the periodic sweep until Close
func (s *Store) cleanupExpiredKeys() {
	defer close(s.cleanupDone)

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.cleanupStop:
			return
		case <-ticker.C:
			s.Lock()
			s.RemoveExpired()
			s.Unlock()
		}
	}
}

// Lookup returns the live value stored at key. An expired value is
// removed and reported as missing.
func (s *Store) Lookup(key string) (*Value, bool) {
	v, ok := s.data[key]
	if !ok {
		return nil, false
	}
	if v.IsExpired(s.now()) {
		s.remove(key, v)
		s.expiredKeys++
		return nil, false
	}
	return v, true
}

// Put stores v at key, replacing any previous value. The expiry index
// follows v.ExpireAt.
func (s *Store) Put(key string, v *Value) {
	if old, ok := s.data[key]; ok && old.HasExpiry() {
		s.expires.Delete(expiryItem{at: old.ExpireAt, key: key})
	}
	s.data[key] = v
	if v.HasExpiry() {
		s.expires.ReplaceOrInsert(expiryItem{at: v.ExpireAt, key: key})
	}
	s.dirty++
	s.Notify(key)
}

// Delete removes keys and returns how many existed
func (s *Store) Delete(keys ...string) int {
	removed := 0
	for _, key := range keys {
		if v, ok := s.Lookup(key); ok {
			s.remove(key, v)
			s.dirty++
			removed++
		}
	}
	return removed
}

func (s *Store) remove(key string, v *Value) {
	if v.HasExpiry() {
		s.expires.Delete(expiryItem{at: v.ExpireAt, key: key})
	}
	delete(s.data, key)
}

// Exists counts how many of keys exist; repeated keys count repeatedly
func (s *Store) Exists(keys ...string) int {
	n := 0
	for _, key := range keys {
		if _, ok := s.Lookup(key); ok {
			n++
		}
	}
	return n
}

// Type returns the type name of key, or "none"
func (s *Store) Type(key string) string {
	v, ok := s.Lookup(key)
	if !ok {
		return "none"
	}
	return v.Type.String()
}

// Keys returns the live keys matching a glob pattern, sorted
func (s *Store) Keys(pattern string) []string {
	now := s.now()
	keys := make([]string, 0)
	for key, v := range s.data {
		if v.IsExpired(now) {
			continue
		}
		if pattern == "*" || MatchPattern(key, pattern) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// Range calls fn for every live key in unspecified order until fn
// returns false. fn must not modify the store.
func (s *Store) Range(fn func(key string, v *Value) bool) {
	now := s.now()
	for key, v := range s.data {
		if v.IsExpired(now) {
			continue
		}
		if !fn(key, v) {
			return
		}
	}
}

// Len returns the number of keys, including expired keys not yet removed
func (s *Store) Len() int {
	return len(s.data)
}

// ExpiringLen returns the number of keys with an expiry set
func (s *Store) ExpiringLen() int {
	return s.expires.Len()
}

// Flush removes every key
func (s *Store) Flush() {
	for key := range s.data {
		s.Notify(key)
	}
	s.data = make(map[string]*Value)
	s.expires.Clear(false)
	s.dirty++
}

// Touch marks key as modified in place, waking any waiters
func (s *Store) Touch(key string) {
	s.dirty++
	s.Notify(key)
}

// DeleteIfEmpty removes a collection key that has no elements left
func (s *Store) DeleteIfEmpty(key string) {
	if v, ok := s.data[key]; ok && v.empty() {
		s.remove(key, v)
	}
}

// Stats is a snapshot of store counters
type Stats struct {
	Keys        int
	Expires     int
	ExpiredKeys int64
	Changes     int64
	SentOffset  int64
	RecvOffset  int64
}

// Stats returns store counters
func (s *Store) Stats() Stats {
	return Stats{
		Keys:        len(s.data),
		Expires:     s.expires.Len(),
		ExpiredKeys: s.expiredKeys,
		Changes:     s.dirty,
		SentOffset:  s.sentOffset,
		RecvOffset:  s.recvOffset,
	}
}

// Changes returns a counter bumped by every mutation. Comparing it before
// and after a command tells whether the command changed the keyspace.
func (s *Store) Changes() int64 {
	return s.dirty
}

// AddSentOffset advances the count of bytes propagated to replicas
func (s *Store) AddSentOffset(n int) int64 {
	s.sentOffset += int64(n)
	return s.sentOffset
}

// SentOffset returns the count of bytes propagated to replicas
func (s *Store) SentOffset() int64 {
	return s.sentOffset
}

// AddRecvOffset advances the count of bytes received from the primary
func (s *Store) AddRecvOffset(n int) int64 {
	s.recvOffset += int64(n)
	return s.recvOffset
}

// RecvOffset returns the count of bytes received from the primary
func (s *Store) RecvOffset() int64 {
	return s.recvOffset
}

// SetRecvOffset resets the received byte count, used after a full resync
func (s *Store) SetRecvOffset(n int64) {
	s.recvOffset = n
}
