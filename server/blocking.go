package server

import (
	"time"

	"github.com/raniellyferreira/redis-inmemory-server/protocol"
	"github.com/raniellyferreira/redis-inmemory-server/storage"
)

// block runs try until it reports success, the timeout elapses or the
// session ends. try runs with the store lock held; between attempts the
// lock is released and the goroutine parks on a waiter registered for
// keys in the same critical section as the failed attempt, so a write
// cannot slip in unnoticed. A zero timeout waits forever.
//
// Inside a transaction or script try runs exactly once.
func (c *call) block(keys []string, timeout time.Duration, try func() (protocol.Value, bool)) (protocol.Value, bool) {
	if c.nested {
		return try()
	}

	store := c.srv.store
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	var w *storage.Waiter
	for {
		store.Lock()
		if w != nil {
			store.Unwatch(w)
		}
		before := store.Changes()
		if v, ok := try(); ok {
			c.commit(before)
			store.Unlock()
			return v, true
		}
		w = store.Watch(keys...)
		store.Unlock()

		select {
		case <-w.C:
		case <-deadline:
			c.cancelWait(w)
			return protocol.Value{}, false
		case <-c.sess.ctx.Done():
			c.cancelWait(w)
			return protocol.Value{}, false
		}
	}
}

func (c *call) cancelWait(w *storage.Waiter) {
	c.srv.store.Lock()
	c.srv.store.Unwatch(w)
	c.srv.store.Unlock()
}
