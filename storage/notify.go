package storage

// Waiter is a one-shot wake-up signal registered on one or more keys.
// C is closed by the first Notify on any of them.
type Waiter struct {
	C     chan struct{}
	keys  []string
	fired bool
}

// Watch registers a waiter on keys. It must be called with the lock held,
// in the same critical section that observed the condition being waited
// for, so no write can slip in between.
func (s *Store) Watch(keys ...string) *Waiter {
	w := &Waiter{C: make(chan struct{}), keys: keys}
	for _, key := range keys {
		s.waiters[key] = append(s.waiters[key], w)
	}
	return w
}

// Unwatch removes w from every key it was registered on
func (s *Store) Unwatch(w *Waiter) {
	for _, key := range w.keys {
		list := s.waiters[key]
		for i, other := range list {
			if other == w {
				list = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(list) == 0 {
			delete(s.waiters, key)
		} else {
			s.waiters[key] = list
		}
	}
}

// Notify wakes every waiter registered on key
func (s *Store) Notify(key string) {
	list, ok := s.waiters[key]
	if !ok {
		return
	}
	delete(s.waiters, key)
	for _, w := range list {
		if !w.fired {
			w.fired = true
			close(w.C)
		}
	}
}

// Waiting returns the number of waiters registered on key
func (s *Store) Waiting(key string) int {
	return len(s.waiters[key])
}
