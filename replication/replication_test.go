package replication

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/raniellyferreira/redis-inmemory-server/protocol"
)

func TestIsWriteCommand(t *testing.T) {
	writes := []string{"SET", "DEL", "INCR", "RPUSH", "LPUSH", "LPOP", "BLPOP", "XADD", "XDEL",
		"EXPIRE", "FLUSHALL", "HSET", "SADD", "ZADD", "GEOADD"}
	for _, name := range writes {
		if !IsWriteCommand(name) {
			t.Errorf("%s should be a write command", name)
		}
	}

	reads := []string{"GET", "PING", "LRANGE", "XRANGE", "XREAD", "KEYS", "TYPE", "WAIT",
		"REPLCONF", "PSYNC", "PUBLISH", "SUBSCRIBE", "MULTI", "EXEC", "set"}
	for _, name := range reads {
		if IsWriteCommand(name) {
			t.Errorf("%s should not be a write command", name)
		}
	}
}

func TestMasterPropagateOrder(t *testing.T) {
	m := NewMaster("")
	if len(m.ReplID()) != 40 {
		t.Fatalf("replid %q is not 40 characters", m.ReplID())
	}

	r := m.AddReplica("127.0.0.1:1", 6380, 0)
	defer m.RemoveReplica(r)

	var want []string
	total := 0
	for i := 0; i < 100; i++ {
		cmd := protocol.NewCommand("SET", "k", strconv.Itoa(i)).Value()
		n := m.Propagate(cmd)
		if n != protocol.EncodedLen(cmd) {
			t.Fatalf("Propagate returned %d, encoded length is %d", n, protocol.EncodedLen(cmd))
		}
		total += n
		want = append(want, string(protocol.Encode(cmd)))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	batch, err := r.Feed().Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if len(batch) != len(want) {
		t.Fatalf("got %d frames, want %d", len(batch), len(want))
	}
	got := 0
	for i, frame := range batch {
		if string(frame) != want[i] {
			t.Fatalf("frame %d out of order: %q", i, frame)
		}
		got += len(frame)
	}
	if got != total {
		t.Errorf("feed carried %d bytes, propagated %d", got, total)
	}
}

func TestFeedClose(t *testing.T) {
	m := NewMaster("abc")
	r := m.AddReplica("x", 0, 0)
	m.RemoveReplica(r)

	if m.Count() != 0 {
		t.Fatalf("Count = %d after removal", m.Count())
	}
	if _, err := r.Feed().Next(context.Background()); !errors.Is(err, ErrFeedClosed) {
		t.Fatalf("expected ErrFeedClosed, got %v", err)
	}
	// Propagating with no replicas still reports the frame size
	if n := m.Propagate(protocol.NewCommand("DEL", "k").Value()); n == 0 {
		t.Error("Propagate returned 0")
	}
}

func TestMasterWait(t *testing.T) {
	m := NewMaster("")
	r1 := m.AddReplica("a", 0, 10)
	r2 := m.AddReplica("b", 0, 10)

	// Already acknowledged
	if n := m.Wait(context.Background(), 2, 10, time.Second); n != 2 {
		t.Fatalf("Wait = %d, want 2", n)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		m.Ack(r1, 50)
		time.Sleep(20 * time.Millisecond)
		m.Ack(r2, 50)
	}()

	start := time.Now()
	if n := m.Wait(context.Background(), 2, 50, 0); n != 2 {
		t.Fatalf("Wait = %d, want 2", n)
	}
	if time.Since(start) > time.Second {
		t.Error("Wait did not wake on ack")
	}

	// Timeout returns the partial count
	if n := m.Wait(context.Background(), 2, 100, 30*time.Millisecond); n != 0 {
		t.Errorf("Wait = %d, want 0", n)
	}

	// Acks never move backwards
	m.Ack(r1, 20)
	if r1.AckOffset() != 50 {
		t.Errorf("AckOffset = %d, want 50", r1.AckOffset())
	}

	infos := m.Replicas()
	if len(infos) != 2 || infos[0].Addr != "a" || infos[1].Offset != 50 {
		t.Errorf("unexpected replicas %+v", infos)
	}
	m.Close()
	if m.Count() != 0 {
		t.Error("Close left replicas attached")
	}
}

// recordingApplier collects applied commands
type recordingApplier struct {
	mu       sync.Mutex
	snapshot []byte
	offset   int64
	commands []string
	applied  chan string
}

func newRecordingApplier() *recordingApplier {
	return &recordingApplier{applied: make(chan string, 16)}
}

func (a *recordingApplier) LoadSnapshot(data []byte, offset int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.snapshot = data
	a.offset = offset
	return nil
}

func (a *recordingApplier) Apply(cmd *protocol.Command, size int) error {
	a.mu.Lock()
	a.offset += int64(size)
	a.commands = append(a.commands, cmd.String())
	a.mu.Unlock()
	a.applied <- cmd.String()
	return nil
}

func (a *recordingApplier) Offset() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.offset
}

// fakePrimary accepts one replica and walks it through the handshake
type fakePrimary struct {
	ln       net.Listener
	received chan string
	conn     chan net.Conn
}

func startFakePrimary(t *testing.T, pong string) *fakePrimary {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	p := &fakePrimary{ln: ln, received: make(chan string, 16), conn: make(chan net.Conn, 1)}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		r := protocol.NewReader(conn)
		w := protocol.NewWriter(conn)
		for {
			v, err := r.ReadNext()
			if err != nil {
				return
			}
			cmd, err := protocol.ParseCommand(v)
			if err != nil {
				return
			}
			p.received <- cmd.String()
			switch cmd.Name {
			case "PING":
				w.WriteSimpleString(pong)
			case "REPLCONF":
				w.WriteValue(protocol.OK)
			case "PSYNC":
				w.WriteSimpleString("FULLRESYNC 0123456789012345678901234567890123456789 100")
				payload := []byte("REDIS0011-fake")
				w.WriteRaw([]byte("$" + strconv.Itoa(len(payload)) + "\r\n"))
				w.WriteRaw(payload)
				w.Flush()
				p.conn <- conn
				// The test drives the stream from here; keep reading ACKs
				for {
					v, err := r.ReadNext()
					if err != nil {
						return
					}
					if cmd, err := protocol.ParseCommand(v); err == nil {
						p.received <- cmd.String()
					}
				}
			}
			w.Flush()
		}
	}()
	return p
}

func expectReceived(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("received %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %q", want)
	}
}

func TestClientHandshakeAndStream(t *testing.T) {
	primary := startFakePrimary(t, "PONG")
	applier := newRecordingApplier()

	client := NewClient(primary.ln.Addr().String(), applier)
	client.SetListeningPort(6380)
	client.SetSyncTimeout(2 * time.Second)
	if err := client.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer client.Stop()

	expectReceived(t, primary.received, "PING ")
	expectReceived(t, primary.received, "REPLCONF listening-port 6380")
	expectReceived(t, primary.received, "REPLCONF capa psync2")
	expectReceived(t, primary.received, "PSYNC ? -1")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.WaitForSync(ctx); err != nil {
		t.Fatalf("WaitForSync: %v", err)
	}
	if applier.Offset() != 100 || string(applier.snapshot) != "REDIS0011-fake" {
		t.Fatalf("snapshot not loaded: offset=%d payload=%q", applier.Offset(), applier.snapshot)
	}

	conn := <-primary.conn
	set := protocol.Encode(protocol.NewCommand("SET", "foo", "bar").Value())
	getack := protocol.Encode(protocol.NewCommand("REPLCONF", "GETACK", "*").Value())
	if _, err := conn.Write(append(append([]byte{}, set...), getack...)); err != nil {
		t.Fatal(err)
	}

	expectReceived(t, applier.applied, "SET foo bar")
	expectReceived(t, applier.applied, "REPLCONF GETACK *")

	// The ACK counts the SET but not the GETACK itself
	want := "REPLCONF ACK " + strconv.Itoa(100+len(set))
	expectReceived(t, primary.received, want)

	if got := applier.Offset(); got != int64(100+len(set)+len(getack)) {
		t.Errorf("offset = %d, want %d", got, 100+len(set)+len(getack))
	}

	deadline := time.Now().Add(time.Second)
	for client.Stats().CommandsProcessed < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	stats := client.Stats()
	if !stats.InitialSyncCompleted || stats.MasterReplID == "" || stats.CommandsProcessed != 2 {
		t.Errorf("unexpected stats: synced=%v replid=%q commands=%d",
			stats.InitialSyncCompleted, stats.MasterReplID, stats.CommandsProcessed)
	}
}

func TestClientRejectsBadPong(t *testing.T) {
	primary := startFakePrimary(t, "NOPE")
	client := NewClient(primary.ln.Addr().String(), newRecordingApplier())
	client.SetBackoff(time.Hour, time.Hour)
	if err := client.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	expectReceived(t, primary.received, "PING ")
	select {
	case cmd := <-primary.received:
		t.Fatalf("handshake continued after bad PONG: %q", cmd)
	case <-time.After(100 * time.Millisecond):
	}

	if err := client.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := client.WaitForSync(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("WaitForSync after stop = %v", err)
	}
}

func TestClientLowercasePong(t *testing.T) {
	primary := startFakePrimary(t, "pong")
	client := NewClient(primary.ln.Addr().String(), newRecordingApplier())
	if err := client.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer client.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.WaitForSync(ctx); err != nil {
		t.Fatalf("WaitForSync: %v", err)
	}
}
