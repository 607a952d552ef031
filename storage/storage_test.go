package storage_test

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/raniellyferreira/redis-inmemory-server/storage"
)

// fakeClock is a settable time source
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestStore(t *testing.T) (*storage.Store, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
	s := storage.NewStore(storage.WithClock(clock.Now), storage.WithCleanupInterval(0))
	t.Cleanup(func() { _ = s.Close() })
	return s, clock
}

func TestStoreStrings(t *testing.T) {
	s, _ := newTestStore(t)

	s.SetString("key1", []byte("value1"), time.Time{})

	value, ok, err := s.String("key1")
	if err != nil || !ok {
		t.Fatalf("String() = %v, %v; want value", ok, err)
	}
	if string(value) != "value1" {
		t.Errorf("String() = %s, want value1", value)
	}

	if _, ok, _ := s.String("nonexistent"); ok {
		t.Error("Expected key to not exist")
	}

	if got := s.Type("key1"); got != "string" {
		t.Errorf("Type() = %s, want string", got)
	}
	if got := s.Type("nonexistent"); got != "none" {
		t.Errorf("Type() = %s, want none", got)
	}
}

func TestStoreIncr(t *testing.T) {
	s, _ := newTestStore(t)

	for want := int64(1); want <= 3; want++ {
		got, err := s.IncrBy("counter", 1)
		if err != nil {
			t.Fatalf("IncrBy() error = %v", err)
		}
		if got != want {
			t.Errorf("IncrBy() = %d, want %d", got, want)
		}
	}

	s.SetString("text", []byte("abc"), time.Time{})
	if _, err := s.IncrBy("text", 1); !errors.Is(err, storage.ErrNotInteger) {
		t.Errorf("IncrBy(text) error = %v, want ErrNotInteger", err)
	}

	s.SetString("max", []byte("9223372036854775807"), time.Time{})
	if _, err := s.IncrBy("max", 1); !errors.Is(err, storage.ErrOverflow) {
		t.Errorf("IncrBy(max) error = %v, want ErrOverflow", err)
	}
}

func TestStoreWrongType(t *testing.T) {
	s, _ := newTestStore(t)

	s.SetString("str", []byte("v"), time.Time{})
	if _, err := s.ListPush("str", false, []byte("x")); !errors.Is(err, storage.ErrWrongType) {
		t.Errorf("ListPush on string error = %v, want ErrWrongType", err)
	}
	if _, err := s.StreamAdd("str", "*", nil, storage.StreamAddOptions{}); !errors.Is(err, storage.ErrWrongType) {
		t.Errorf("StreamAdd on string error = %v, want ErrWrongType", err)
	}

	// The failed operations must not replace the value
	if got := s.Type("str"); got != "string" {
		t.Errorf("Type() = %s after failed writes, want string", got)
	}
}

func TestStoreLists(t *testing.T) {
	s, _ := newTestStore(t)

	n, err := s.ListPush("list", false, []byte("a"), []byte("b"))
	if err != nil || n != 2 {
		t.Fatalf("ListPush(right) = %d, %v", n, err)
	}
	n, _ = s.ListPush("list", true, []byte("x"), []byte("y"))
	if n != 4 {
		t.Fatalf("ListPush(left) = %d, want 4", n)
	}

	l, _ := s.List("list")
	want := []string{"y", "x", "a", "b"}
	for i, w := range want {
		if string(l.Elements[i]) != w {
			t.Errorf("Elements[%d] = %s, want %s", i, l.Elements[i], w)
		}
	}

	popped, _ := s.ListPop("list", true, 10)
	if len(popped) != 4 {
		t.Fatalf("ListPop() returned %d elements, want 4", len(popped))
	}
	if s.Exists("list") != 0 {
		t.Error("empty list should be removed")
	}
}

func TestStoreExpiry(t *testing.T) {
	s, clock := newTestStore(t)

	s.SetString("short", []byte("v"), clock.Now().Add(10*time.Millisecond))
	s.SetString("long", []byte("v"), clock.Now().Add(time.Second))
	s.SetString("forever", []byte("v"), time.Time{})

	if got := s.ExpiringLen(); got != 2 {
		t.Fatalf("ExpiringLen() = %d, want 2", got)
	}

	clock.Advance(10 * time.Millisecond)
	if removed := s.RemoveExpired(); removed != 1 {
		t.Errorf("RemoveExpired() = %d, want 1", removed)
	}
	if s.Exists("short") != 0 {
		t.Error("short should have expired")
	}
	if s.Exists("long", "forever") != 2 {
		t.Error("long and forever should still exist")
	}

	// Overwriting without expiry drops the index entry
	s.SetString("long", []byte("v2"), time.Time{})
	if got := s.ExpiringLen(); got != 0 {
		t.Errorf("ExpiringLen() = %d after overwrite, want 0", got)
	}
	clock.Advance(time.Hour)
	s.RemoveExpired()
	if s.Exists("long") != 1 {
		t.Error("overwritten key must not expire")
	}
}

func TestStoreLazyExpiry(t *testing.T) {
	s, clock := newTestStore(t)

	s.SetString("k", []byte("v"), clock.Now().Add(time.Second))
	if ttl := s.TTL("k"); ttl != time.Second {
		t.Errorf("TTL() = %v, want 1s", ttl)
	}

	clock.Advance(time.Second)
	if _, ok, _ := s.String("k"); ok {
		t.Error("expired key returned by String()")
	}
	if s.ExpiringLen() != 0 {
		t.Error("lazy expiry should clean the index")
	}
	if ttl := s.TTL("k"); ttl != -2 {
		t.Errorf("TTL() = %v, want -2", ttl)
	}
}

func TestStorePersist(t *testing.T) {
	s, clock := newTestStore(t)

	s.SetString("k", []byte("v"), time.Time{})
	if !s.SetExpiry("k", clock.Now().Add(time.Minute)) {
		t.Fatal("SetExpiry() = false")
	}
	if !s.Persist("k") {
		t.Fatal("Persist() = false")
	}
	if ttl := s.TTL("k"); ttl != -1 {
		t.Errorf("TTL() = %v, want -1", ttl)
	}
	if s.ExpiringLen() != 0 {
		t.Error("Persist should remove index entry")
	}
}

func TestStoreBackgroundCleanup(t *testing.T) {
	s := storage.NewStore(storage.WithCleanupInterval(5 * time.Millisecond))
	defer s.Close()

	s.Lock()
	s.SetString("k", []byte("v"), time.Now().Add(10*time.Millisecond))
	s.Unlock()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.Lock()
		n := s.Len()
		s.Unlock()
		if n == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("background sweep did not remove the expired key")
}

func TestStoreKeys(t *testing.T) {
	s, _ := newTestStore(t)

	for _, k := range []string{"user:1", "user:2", "config:app"} {
		s.SetString(k, []byte("v"), time.Time{})
	}

	got := s.Keys("user:*")
	if fmt.Sprint(got) != "[user:1 user:2]" {
		t.Errorf("Keys(user:*) = %v", got)
	}
	if got := s.Keys("*"); len(got) != 3 {
		t.Errorf("Keys(*) = %v", got)
	}
}

func TestStreamAddIDModes(t *testing.T) {
	s, clock := newTestStore(t)
	nowMs := uint64(clock.Now().UnixMilli())

	id, err := s.StreamAdd("st", "*", [][]byte{[]byte("f"), []byte("v")}, storage.StreamAddOptions{})
	if err != nil {
		t.Fatalf("StreamAdd(*) error = %v", err)
	}
	if id != (storage.StreamID{Ms: nowMs, Seq: 0}) {
		t.Errorf("StreamAdd(*) = %v, want %d-0", id, nowMs)
	}

	// Same millisecond increments the sequence
	id, _ = s.StreamAdd("st", "*", nil, storage.StreamAddOptions{})
	if id != (storage.StreamID{Ms: nowMs, Seq: 1}) {
		t.Errorf("second StreamAdd(*) = %v, want %d-1", id, nowMs)
	}

	// Clock going backwards still yields increasing ids
	clock.Advance(-time.Second)
	id, _ = s.StreamAdd("st", "*", nil, storage.StreamAddOptions{})
	if id != (storage.StreamID{Ms: nowMs, Seq: 2}) {
		t.Errorf("StreamAdd(*) with clock skew = %v, want %d-2", id, nowMs)
	}

	id, err = s.StreamAdd("st", fmt.Sprintf("%d-*", nowMs+5), nil, storage.StreamAddOptions{})
	if err != nil || id != (storage.StreamID{Ms: nowMs + 5}) {
		t.Errorf("StreamAdd(ms-*) = %v, %v", id, err)
	}
	id, _ = s.StreamAdd("st", fmt.Sprintf("%d-*", nowMs+5), nil, storage.StreamAddOptions{})
	if id != (storage.StreamID{Ms: nowMs + 5, Seq: 1}) {
		t.Errorf("StreamAdd(ms-*) same ms = %v", id)
	}
}

func TestStreamAddZeroMillisAutoSeq(t *testing.T) {
	s, _ := newTestStore(t)

	id, err := s.StreamAdd("st", "0-*", nil, storage.StreamAddOptions{})
	if err != nil {
		t.Fatalf("StreamAdd(0-*) error = %v", err)
	}
	if id != (storage.StreamID{Ms: 0, Seq: 1}) {
		t.Errorf("StreamAdd(0-*) = %v, want 0-1", id)
	}
}

func TestStreamAddErrors(t *testing.T) {
	s, _ := newTestStore(t)

	if _, err := s.StreamAdd("st", "0-0", nil, storage.StreamAddOptions{}); !errors.Is(err, storage.ErrStreamIDZero) {
		t.Errorf("StreamAdd(0-0) error = %v, want ErrStreamIDZero", err)
	}
	if s.Exists("st") != 0 {
		t.Error("rejected XADD must not create the stream")
	}

	if _, err := s.StreamAdd("st", "5-3", nil, storage.StreamAddOptions{}); err != nil {
		t.Fatalf("StreamAdd(5-3) error = %v", err)
	}
	for _, spec := range []string{"5-3", "5-2", "4-9", "5"} {
		if _, err := s.StreamAdd("st", spec, nil, storage.StreamAddOptions{}); !errors.Is(err, storage.ErrStreamIDTooSmall) {
			t.Errorf("StreamAdd(%s) error = %v, want ErrStreamIDTooSmall", spec, err)
		}
	}
	if _, err := s.StreamAdd("st", "abc", nil, storage.StreamAddOptions{}); !errors.Is(err, storage.ErrInvalidStreamID) {
		t.Errorf("StreamAdd(abc) error = %v, want ErrInvalidStreamID", err)
	}

	if _, err := s.StreamAdd("missing", "*", nil, storage.StreamAddOptions{NoMkStream: true}); !errors.Is(err, storage.ErrNoStream) {
		t.Errorf("StreamAdd NOMKSTREAM error = %v, want ErrNoStream", err)
	}
}

func TestStreamRangeMatchesLinearScan(t *testing.T) {
	sv := &storage.StreamValue{}
	rng := rand.New(rand.NewSource(1))

	var ms uint64 = 1
	for i := 0; i < 500; i++ {
		ms += uint64(rng.Intn(3))
		id, _ := sv.NextID(fmt.Sprintf("%d-*", ms), time.Time{})
		if err := sv.Add(id, nil); err != nil {
			t.Fatalf("Add(%v) error = %v", id, err)
		}
	}

	for trial := 0; trial < 200; trial++ {
		a := storage.StreamID{Ms: uint64(rng.Intn(int(ms) + 2)), Seq: uint64(rng.Intn(4))}
		b := storage.StreamID{Ms: uint64(rng.Intn(int(ms) + 2)), Seq: uint64(rng.Intn(4))}

		var want []storage.StreamID
		for _, e := range sv.Entries {
			if !e.ID.Less(a) && !b.Less(e.ID) {
				want = append(want, e.ID)
			}
		}

		got := sv.Range(a, b, 0)
		if len(got) != len(want) {
			t.Fatalf("Range(%v, %v) returned %d entries, want %d", a, b, len(got), len(want))
		}
		for i := range got {
			if got[i].ID != want[i] {
				t.Fatalf("Range(%v, %v)[%d] = %v, want %v", a, b, i, got[i].ID, want[i])
			}
		}
	}
}

func TestStreamRangeCountAndAfter(t *testing.T) {
	sv := &storage.StreamValue{}
	for i := uint64(1); i <= 5; i++ {
		_ = sv.Add(storage.StreamID{Ms: i}, nil)
	}

	got := sv.Range(storage.MinStreamID, storage.MaxStreamID, 2)
	if len(got) != 2 || got[1].ID.Ms != 2 {
		t.Errorf("Range with count = %v", got)
	}

	after := sv.After(storage.StreamID{Ms: 3}, 0)
	if len(after) != 2 || after[0].ID.Ms != 4 {
		t.Errorf("After(3-0) = %v", after)
	}

	rev := sv.RevRange(storage.MaxStreamID, storage.MinStreamID, 1)
	if len(rev) != 1 || rev[0].ID.Ms != 5 {
		t.Errorf("RevRange = %v", rev)
	}

	if n := sv.Delete(storage.StreamID{Ms: 2}, storage.StreamID{Ms: 9}); n != 1 {
		t.Errorf("Delete() = %d, want 1", n)
	}
	if sv.LastID.Ms != 5 || sv.Len() != 4 {
		t.Errorf("after Delete: last=%v len=%d", sv.LastID, sv.Len())
	}
}

func TestStreamMaxLen(t *testing.T) {
	s, _ := newTestStore(t)

	for i := 1; i <= 5; i++ {
		_, err := s.StreamAdd("st", fmt.Sprintf("%d-0", i), nil, storage.StreamAddOptions{HasMaxLen: true, MaxLen: 3})
		if err != nil {
			t.Fatalf("StreamAdd() error = %v", err)
		}
	}
	sv, _ := s.Stream("st")
	if sv.Len() != 3 || sv.Entries[0].ID.Ms != 3 {
		t.Errorf("trimmed stream = %v", sv.Entries)
	}
}

func TestWaiterWakesOnWrite(t *testing.T) {
	s, _ := newTestStore(t)

	w := s.Watch("a", "b")
	if s.Waiting("a") != 1 {
		t.Fatal("waiter not registered")
	}

	if _, err := s.ListPush("b", false, []byte("x")); err != nil {
		t.Fatal(err)
	}

	select {
	case <-w.C:
	default:
		t.Fatal("waiter not signalled by write")
	}

	// A second write on the other key must not close the channel again
	_, _ = s.ListPush("a", false, []byte("y"))
	s.Unwatch(w)
	if s.Waiting("a") != 0 || s.Waiting("b") != 0 {
		t.Error("Unwatch left registrations behind")
	}
}

func TestZSet(t *testing.T) {
	z := storage.NewZSetValue()

	if !z.Add("a", 1) || !z.Add("b", 2) || !z.Add("c", 2) {
		t.Fatal("Add() should report new members")
	}
	if z.Add("a", 3) {
		t.Error("Add() of existing member should report false")
	}

	rank, ok := z.Rank("a")
	if !ok || rank != 2 {
		t.Errorf("Rank(a) = %d, %v; want 2", rank, ok)
	}

	members := z.Range(0, 1)
	if len(members) != 2 || members[0].Member != "b" || members[1].Member != "c" {
		t.Errorf("Range(0,1) = %v", members)
	}

	n := z.Count(storage.ScoreBound{Value: 2, Exclusive: true}, storage.ScoreBound{Value: 3})
	if n != 1 {
		t.Errorf("Count((2, 3]) = %d, want 1", n)
	}

	if !z.Remove("b") || z.Len() != 2 {
		t.Error("Remove(b) failed")
	}
}
