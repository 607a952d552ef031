package replication

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/raniellyferreira/redis-inmemory-server/protocol"
)

// Feed is the ordered queue of encoded commands waiting to be written to
// one replica. Pushing never blocks, so propagation can happen while the
// store lock is held.
type Feed struct {
	mu      sync.Mutex
	pending [][]byte
	signal  chan struct{}
	closed  bool
}

func newFeed() *Feed {
	return &Feed{signal: make(chan struct{}, 1)}
}

func (f *Feed) push(frame []byte) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.pending = append(f.pending, frame)
	f.mu.Unlock()

	select {
	case f.signal <- struct{}{}:
	default:
	}
}

// Next waits for queued frames and returns them in propagation order. It
// returns ErrFeedClosed once the feed is closed and drained.
func (f *Feed) Next(ctx context.Context) ([][]byte, error) {
	for {
		f.mu.Lock()
		if len(f.pending) > 0 {
			batch := f.pending
			f.pending = nil
			f.mu.Unlock()
			return batch, nil
		}
		closed := f.closed
		f.mu.Unlock()

		if closed {
			return nil, ErrFeedClosed
		}

		select {
		case <-f.signal:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Len returns the number of frames not yet taken by Next
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

func (f *Feed) close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()

	select {
	case f.signal <- struct{}{}:
	default:
	}
}

// Replica is a connected replica as seen by the primary
type Replica struct {
	ID            uint64
	Addr          string
	ListeningPort int

	feed      *Feed
	ackOffset atomic.Int64
	lastAck   atomic.Int64 // unix milliseconds
}

// Feed returns the queue of commands to write to this replica
func (r *Replica) Feed() *Feed {
	return r.feed
}

// AckOffset returns the last offset the replica acknowledged
func (r *Replica) AckOffset() int64 {
	return r.ackOffset.Load()
}

// ReplicaInfo describes a replica for INFO replication
type ReplicaInfo struct {
	ID            uint64
	Addr          string
	ListeningPort int
	Offset        int64
	LastAck       time.Time
}

// Master tracks the replicas attached to a primary, fans write commands
// out to them and collects their acknowledged offsets.
type Master struct {
	replID   string
	replicas *xsync.MapOf[uint64, *Replica]
	nextID   atomic.Uint64

	// acked is closed and replaced whenever a replica acknowledges
	ackMu sync.Mutex
	acked chan struct{}
}

// NewMaster creates a primary with the given replication id. An empty id
// is replaced with a random one.
func NewMaster(replID string) *Master {
	if replID == "" {
		replID = NewReplID()
	}
	return &Master{
		replID:   replID,
		replicas: xsync.NewMapOf[uint64, *Replica](),
		acked:    make(chan struct{}),
	}
}

// NewReplID returns a random 40 character replication id
func NewReplID() string {
	var b [20]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b[:])
}

// ReplID returns the replication id announced in FULLRESYNC
func (m *Master) ReplID() string {
	return m.replID
}

// AddReplica registers a replica whose stream starts at offset. Commands
// propagated after this call are queued on its feed. The caller holds the
// store lock so no write falls between the snapshot and the registration.
func (m *Master) AddReplica(addr string, listeningPort int, offset int64) *Replica {
	r := &Replica{
		ID:            m.nextID.Add(1),
		Addr:          addr,
		ListeningPort: listeningPort,
		feed:          newFeed(),
	}
	r.ackOffset.Store(offset)
	r.lastAck.Store(time.Now().UnixMilli())
	m.replicas.Store(r.ID, r)
	return r
}

// RemoveReplica detaches a replica and closes its feed
func (m *Master) RemoveReplica(r *Replica) {
	if _, ok := m.replicas.LoadAndDelete(r.ID); ok {
		r.feed.close()
	}
	m.notifyAck()
}

// Count returns the number of attached replicas
func (m *Master) Count() int {
	return m.replicas.Size()
}

// Propagate queues a command on every replica feed and returns its encoded
// length, which is also the amount the sent offset must advance. Callers
// hold the store lock so every replica sees commands in execution order.
func (m *Master) Propagate(cmd protocol.Value) int {
	frame := protocol.AppendValue(nil, cmd, protocol.RESP2)
	m.replicas.Range(func(_ uint64, r *Replica) bool {
		r.feed.push(frame)
		return true
	})
	return len(frame)
}

// Ack records the offset acknowledged by a replica
func (m *Master) Ack(r *Replica, offset int64) {
	for {
		cur := r.ackOffset.Load()
		if offset <= cur || r.ackOffset.CompareAndSwap(cur, offset) {
			break
		}
	}
	r.lastAck.Store(time.Now().UnixMilli())
	m.notifyAck()
}

func (m *Master) notifyAck() {
	m.ackMu.Lock()
	close(m.acked)
	m.acked = make(chan struct{})
	m.ackMu.Unlock()
}

func (m *Master) ackChan() <-chan struct{} {
	m.ackMu.Lock()
	defer m.ackMu.Unlock()
	return m.acked
}

// Acked counts the replicas that acknowledged at least offset
func (m *Master) Acked(offset int64) int {
	n := 0
	m.replicas.Range(func(_ uint64, r *Replica) bool {
		if r.ackOffset.Load() >= offset {
			n++
		}
		return true
	})
	return n
}

// Wait blocks until numReplicas replicas acknowledged offset, the timeout
// elapses or ctx is done, and returns how many had acknowledged. A zero
// timeout waits without limit.
func (m *Master) Wait(ctx context.Context, numReplicas int, offset int64, timeout time.Duration) int {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		// Take the channel before counting so an ack in between is not lost
		ch := m.ackChan()
		n := m.Acked(offset)
		if n >= numReplicas {
			return n
		}
		select {
		case <-ch:
		case <-deadline:
			return m.Acked(offset)
		case <-ctx.Done():
			return m.Acked(offset)
		}
	}
}

// Replicas lists the attached replicas ordered by id
func (m *Master) Replicas() []ReplicaInfo {
	var out []ReplicaInfo
	m.replicas.Range(func(_ uint64, r *Replica) bool {
		out = append(out, ReplicaInfo{
			ID:            r.ID,
			Addr:          r.Addr,
			ListeningPort: r.ListeningPort,
			Offset:        r.ackOffset.Load(),
			LastAck:       time.UnixMilli(r.lastAck.Load()),
		})
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Close detaches every replica
func (m *Master) Close() {
	m.replicas.Range(func(_ uint64, r *Replica) bool {
		m.RemoveReplica(r)
		return true
	})
}
