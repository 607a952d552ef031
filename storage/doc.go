// Package storage holds the server keyspace.
//
// A Store maps keys to typed values (string, list, hash, set, sorted set,
// stream) and keeps an expiry index ordered by (instant, key). One mutex
// guards the whole store; callers bracket work with Lock and Unlock and
// every other method assumes the lock is held.
//
// Basic usage:
//
//	st := storage.NewStore()
//	defer st.Close()
//
//	st.Lock()
//	st.SetString("key", []byte("value"), time.Time{})
//	v, ok, err := st.String("key")
//	st.Unlock()
//
// Blocking readers use Watch to register for the next write to a key
// before releasing the lock, then wait on the returned Waiter.
package storage
