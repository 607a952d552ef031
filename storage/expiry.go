package storage

import "time"

// expiryItem orders the expiry index by instant, then key
type expiryItem struct {
	at  time.Time
	key string
}

func expiryLess(a, b expiryItem) bool {
	if a.at.Equal(b.at) {
		return a.key < b.key
	}
	return a.at.Before(b.at)
}

// SetExpiry sets an absolute expiry on an existing key. An instant that
// is not in the future deletes the key immediately.
func (s *Store) SetExpiry(key string, at time.Time) bool {
	v, ok := s.Lookup(key)
	if !ok {
		return false
	}
	if !at.After(s.now()) {
		s.remove(key, v)
		s.dirty++
		return true
	}
	if v.HasExpiry() {
		s.expires.Delete(expiryItem{at: v.ExpireAt, key: key})
	}
	v.ExpireAt = at
	s.expires.ReplaceOrInsert(expiryItem{at: at, key: key})
	s.dirty++
	return true
}

// Persist clears the expiry of key and reports whether one was set
func (s *Store) Persist(key string) bool {
	v, ok := s.Lookup(key)
	if !ok || !v.HasExpiry() {
		return false
	}
	s.expires.Delete(expiryItem{at: v.ExpireAt, key: key})
	v.ExpireAt = time.Time{}
	s.dirty++
	return true
}

// TTL returns the remaining time to live of key. It returns -2 when the
// key does not exist and -1 when it has no expiry, mirroring Redis.
func (s *Store) TTL(key string) time.Duration {
	v, ok := s.Lookup(key)
	if !ok {
		return -2
	}
	if !v.HasExpiry() {
		return -1
	}
	return v.ExpireAt.Sub(s.now())
}

// ExpireAt returns the expiry instant of key, zero if none
func (s *Store) ExpireAt(key string) time.Time {
	if v, ok := s.Lookup(key); ok {
		return v.ExpireAt
	}
	return time.Time{}
}

// RemoveExpired deletes every key whose expiry instant is at or before
// now, earliest first, and returns how many were removed.
func (s *Store) RemoveExpired() int {
	now := s.now()
	removed := 0
	for {
		item, ok := s.expires.Min()
		if !ok || item.at.After(now) {
			return removed
		}
		s.expires.DeleteMin()
		if v, ok := s.data[item.key]; ok && v.ExpireAt.Equal(item.at) {
			delete(s.data, item.key)
			s.expiredKeys++
			removed++
		}
	}
}
