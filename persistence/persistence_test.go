package persistence

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/raniellyferreira/redis-inmemory-server/storage"
)

func TestCRC64Jones(t *testing.T) {
	if got := crc64Update(0, []byte("123456789")); got != 0xe9c6d914c4b8d9ca {
		t.Fatalf("crc64 = %#x, want 0xe9c6d914c4b8d9ca", got)
	}
	// Incremental updates must equal a single pass
	if crc64Update(crc64Update(0, []byte("1234")), []byte("56789")) != 0xe9c6d914c4b8d9ca {
		t.Fatal("incremental crc64 differs")
	}
}

func TestLZFDecompression(t *testing.T) {
	tests := []struct {
		name            string
		compressed      []byte
		uncompressedLen int
		expected        []byte
		shouldError     bool
	}{
		{
			name:            "empty data",
			compressed:      []byte{},
			uncompressedLen: 0,
			expected:        []byte{},
		},
		{
			name:            "simple literal",
			compressed:      []byte{0x05, 'h', 'e', 'l', 'l', 'o', '!'},
			uncompressedLen: 6,
			expected:        []byte("hello!"),
		},
		{
			name:            "overlapping back reference",
			compressed:      []byte{0x02, 'a', 'b', 'c', 0x80, 0x02},
			uncompressedLen: 9,
			expected:        []byte("abcabcabc"),
		},
		{
			name:            "truncated literal",
			compressed:      []byte{0x05, 'h', 'e', 'l'},
			uncompressedLen: 6,
			shouldError:     true,
		},
		{
			name:            "reference before start",
			compressed:      []byte{0x00, 'a', 0x20, 0x05},
			uncompressedLen: 4,
			shouldError:     true,
		},
		{
			name:            "short output",
			compressed:      []byte{0x01, 'a', 'b'},
			uncompressedLen: 3,
			shouldError:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := lzfDecompress(tt.compressed, tt.uncompressedLen)
			if tt.shouldError {
				if err == nil {
					t.Errorf("Expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if !bytes.Equal(result, tt.expected) {
				t.Errorf("got %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestEmptySnapshot(t *testing.T) {
	data := EmptySnapshot()
	if !bytes.HasPrefix(data, []byte("REDIS0011")) {
		t.Fatalf("unexpected header %q", data[:9])
	}

	h := &recordingHandler{}
	p := NewParser(bytes.NewReader(data), h)
	if err := p.Parse(); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Version() != 11 {
		t.Errorf("version = %d, want 11", p.Version())
	}
	if !h.ended {
		t.Error("OnEnd not called")
	}
	if len(h.keys) != 0 {
		t.Errorf("empty snapshot produced %d keys", len(h.keys))
	}
	if h.aux["redis-ver"] != RedisVersion || h.aux["redis-bits"] != "64" {
		t.Errorf("unexpected aux fields: %v", h.aux)
	}
}

func TestChecksumMismatch(t *testing.T) {
	data := EmptySnapshot()
	data[len(data)-1] ^= 0xFF
	if err := ParseRDB(bytes.NewReader(data), &recordingHandler{}); !errors.Is(err, ErrChecksum) {
		t.Fatalf("expected ErrChecksum, got %v", err)
	}

	// A zero checksum disables verification
	binary.LittleEndian.PutUint64(data[len(data)-8:], 0)
	if err := ParseRDB(bytes.NewReader(data), &recordingHandler{}); err != nil {
		t.Fatalf("zero checksum rejected: %v", err)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"bad magic", []byte("RUBIS0011\xff")},
		{"future version", []byte("REDIS0099\xff")},
		{"truncated header", []byte("REDIS")},
		{"missing eof", []byte("REDIS0011")},
		{"unknown type", []byte("REDIS0011\x63\x01k")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ParseRDB(bytes.NewReader(tt.data), &recordingHandler{}); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

var testNow = time.Unix(1_700_000_000, 0)

func newTestStore() *storage.Store {
	return storage.NewStore(
		storage.WithCleanupInterval(0),
		storage.WithClock(func() time.Time { return testNow }),
	)
}

func TestLoadSnapshot(t *testing.T) {
	store := newTestStore()
	defer store.Close()

	n, err := LoadSnapshot(store, bytes.NewReader(buildTestRDB()))
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if n != 12 {
		t.Errorf("loaded %d keys, want 12", n)
	}

	store.Lock()
	defer store.Unlock()

	if v, ok, _ := store.String("foo"); !ok || string(v) != "bar" {
		t.Errorf("foo = %q, %v", v, ok)
	}
	if v, _, _ := store.String("num"); string(v) != "-5" {
		t.Errorf("num = %q, want -5", v)
	}
	if v, _, _ := store.String("lzf"); string(v) != "abcabcabc" {
		t.Errorf("lzf = %q", v)
	}
	if store.ExpireAt("ttl").IsZero() {
		t.Error("ttl key lost its expiry")
	}
	if store.Exists("gone") != 0 {
		t.Error("expired key was loaded")
	}
	if store.Exists("other-db") != 0 {
		t.Error("key from database 1 was loaded")
	}

	list, _ := store.List("list")
	if list == nil || len(list.Elements) != 2 || string(list.Elements[1]) != "b" {
		t.Errorf("unexpected list %+v", list)
	}

	set, _ := store.Set("ints")
	if set == nil || len(set.Members) != 3 {
		t.Fatalf("unexpected intset %+v", set)
	}
	if _, ok := set.Members["-2"]; !ok {
		t.Error("intset missing -2")
	}

	hash, _ := store.Hash("lphash")
	if hash == nil || string(hash.Fields["f"]) != "v" || string(hash.Fields["n"]) != "7" {
		t.Errorf("unexpected listpack hash %+v", hash)
	}

	zs, _ := store.ZSet("zs")
	if zs == nil || zs.Len() != 2 {
		t.Fatalf("unexpected zset %+v", zs)
	}
	if score, _ := zs.Score("b"); score != 2.5 {
		t.Errorf("score(b) = %v", score)
	}

	ql, _ := store.List("ql")
	if ql == nil || len(ql.Elements) != 3 || string(ql.Elements[2]) != "z" {
		t.Errorf("unexpected quicklist %+v", ql)
	}

	lps, _ := store.Set("lpset")
	if lps == nil || len(lps.Members) != 2 {
		t.Errorf("unexpected listpack set %+v", lps)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Dir: dir, DBFilename: "dump.rdb"}

	store := newTestStore()
	defer store.Close()

	n, err := Load(store, cfg)
	if err != nil || n != 0 {
		t.Fatalf("missing file: n=%d err=%v", n, err)
	}

	if err := os.WriteFile(filepath.Join(dir, "dump.rdb"), buildTestRDB(), 0o600); err != nil {
		t.Fatal(err)
	}
	n, err = Load(store, cfg)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if n != 12 {
		t.Errorf("loaded %d keys", n)
	}
}

func TestConfig(t *testing.T) {
	cfg := Config{Dir: "/tmp/redis", DBFilename: "x.rdb"}
	if cfg.Path() != filepath.Join("/tmp/redis", "x.rdb") {
		t.Errorf("Path = %q", cfg.Path())
	}
	if v, ok := cfg.Get("DIR"); !ok || v != "/tmp/redis" {
		t.Errorf("Get(DIR) = %q, %v", v, ok)
	}
	if _, ok := cfg.Get("maxmemory"); ok {
		t.Error("unknown parameter reported as present")
	}
	if DefaultConfig().Path() != filepath.Join(".", "dump.rdb") {
		t.Errorf("default path = %q", DefaultConfig().Path())
	}
}

func TestDecodeListpack(t *testing.T) {
	lp := listpack(
		lpString("hello"),
		[]byte{0x05},             // 7-bit uint
		[]byte{0xDF, 0xFF},       // 13-bit int: -1
		[]byte{0xF1, 0x00, 0x80}, // int16: -32768
		[]byte{0xF2, 0x01, 0x00, 0x00},
	)
	entries, err := decodeListpack(lp)
	if err != nil {
		t.Fatalf("decodeListpack: %v", err)
	}
	want := []string{"hello", "5", "-1", "-32768", "1"}
	if len(entries) != len(want) {
		t.Fatalf("got %d entries, want %d", len(entries), len(want))
	}
	for i, w := range want {
		if string(entries[i]) != w {
			t.Errorf("entry %d = %q, want %q", i, entries[i], w)
		}
	}

	if _, err := decodeListpack(lp[:len(lp)-1]); err == nil {
		t.Error("truncated listpack accepted")
	}
}

// recordingHandler collects parser callbacks
type recordingHandler struct {
	keys  []string
	aux   map[string]string
	ended bool
}

func (h *recordingHandler) OnDatabase(int) error { return nil }

func (h *recordingHandler) OnKey(key []byte, _ interface{}, _ time.Time) error {
	h.keys = append(h.keys, string(key))
	return nil
}

func (h *recordingHandler) OnAux(key, value []byte) error {
	if h.aux == nil {
		h.aux = make(map[string]string)
	}
	h.aux[string(key)] = string(value)
	return nil
}

func (h *recordingHandler) OnEnd() error {
	h.ended = true
	return nil
}

// rdbBuilder writes RDB opcodes for tests
type rdbBuilder struct {
	bytes.Buffer
}

func (b *rdbBuilder) str(s string) {
	writeString(&b.Buffer, s)
}

func (b *rdbBuilder) key(typ byte, key string) {
	b.WriteByte(typ)
	b.str(key)
}

func (b *rdbBuilder) finish() []byte {
	b.WriteByte(RDBOpcodeEOF)
	var sum [8]byte
	binary.LittleEndian.PutUint64(sum[:], crc64Update(0, b.Bytes()))
	b.Write(sum[:])
	return b.Bytes()
}

func lpString(s string) []byte {
	return append([]byte{0x80 | byte(len(s))}, s...)
}

// listpack wraps small entries (under 128 bytes each) into a listpack blob
func listpack(entries ...[]byte) []byte {
	var body []byte
	for _, e := range entries {
		body = append(body, e...)
		body = append(body, byte(len(e)))
	}
	out := make([]byte, 6, 6+len(body)+1)
	binary.LittleEndian.PutUint32(out[0:4], uint32(6+len(body)+1))
	binary.LittleEndian.PutUint16(out[4:6], uint16(len(entries)))
	out = append(out, body...)
	return append(out, listpackEnd)
}

func buildTestRDB() []byte {
	var b rdbBuilder
	b.WriteString("REDIS0011")
	b.WriteByte(RDBOpcodeAux)
	b.str("redis-ver")
	b.str("7.2.0")
	b.WriteByte(RDBOpcodeDB)
	b.WriteByte(0)
	b.Write([]byte{RDBOpcodeResizeDB, 10, 1})

	b.key(RDBTypeString, "foo")
	b.str("bar")

	b.key(RDBTypeString, "num")
	b.Write([]byte{0xC0, 0xFB}) // int8 -5

	b.key(RDBTypeString, "lzf")
	b.Write([]byte{0xC3, 6, 9, 0x02, 'a', 'b', 'c', 0x80, 0x02})

	var ms [8]byte
	binary.LittleEndian.PutUint64(ms[:], uint64(testNow.Add(time.Hour).UnixMilli()))
	b.WriteByte(RDBOpcodeExpiryMs)
	b.Write(ms[:])
	b.key(RDBTypeString, "ttl")
	b.str("v")

	var secs [4]byte
	binary.LittleEndian.PutUint32(secs[:], uint32(testNow.Add(-time.Hour).Unix()))
	b.WriteByte(RDBOpcodeExpiry)
	b.Write(secs[:])
	b.key(RDBTypeString, "gone")
	b.str("v")

	b.key(RDBTypeList, "list")
	b.WriteByte(2)
	b.str("a")
	b.str("b")

	b.key(RDBTypeSet, "set")
	b.WriteByte(1)
	b.str("m")

	b.key(RDBTypeHash, "hash")
	b.WriteByte(1)
	b.str("field")
	b.str("value")

	intset := make([]byte, 8+3*2)
	binary.LittleEndian.PutUint32(intset[0:], 2)
	binary.LittleEndian.PutUint32(intset[4:], 3)
	for i, v := range []int16{-2, 1, 300} {
		binary.LittleEndian.PutUint16(intset[8+i*2:], uint16(v))
	}
	b.key(RDBTypeSetIntset, "ints")
	b.str(string(intset))

	b.key(RDBTypeHashListpack, "lphash")
	b.str(string(listpack(lpString("f"), lpString("v"), lpString("n"), []byte{7})))

	b.key(RDBTypeZSet2, "zs")
	b.WriteByte(2)
	for _, m := range []struct {
		name  string
		score float64
	}{{"a", 1}, {"b", 2.5}} {
		b.str(m.name)
		var f [8]byte
		binary.LittleEndian.PutUint64(f[:], math.Float64bits(m.score))
		b.Write(f[:])
	}

	b.key(RDBTypeListQuicklist2, "ql")
	b.WriteByte(2)
	b.WriteByte(1) // plain node
	b.str("x")
	b.WriteByte(2) // packed node
	b.str(string(listpack(lpString("y"), lpString("z"))))

	b.key(RDBTypeSetListpack, "lpset")
	b.str(string(listpack(lpString("p"), lpString("q"))))

	b.WriteByte(RDBOpcodeDB)
	b.WriteByte(1)
	b.key(RDBTypeString, "other-db")
	b.str("x")

	return b.finish()
}

func TestSnapshotRoundTrip(t *testing.T) {
	src := storage.NewStore(storage.WithCleanupInterval(0))
	defer src.Close()

	src.Lock()
	src.SetString("s", []byte("hello"), time.Time{})
	src.SetString("ttl", []byte("soon"), time.Now().Add(time.Hour))
	src.ListPush("l", false, []byte("a"), []byte("b"), []byte("c"))
	src.SetAdd("set", "x", "y")
	src.HashSet("h", []byte("f"), []byte("v"))
	z, _ := src.ZSetFor("z")
	z.Add("one", 1)
	z.Add("half", 0.5)
	src.StreamAdd("stream", "1-1", [][]byte{[]byte("f"), []byte("v")}, storage.StreamAddOptions{})
	data, n := Snapshot(src)
	src.Unlock()

	if n != 7 {
		t.Fatalf("Snapshot wrote %d keys, want 7", n)
	}

	dst := storage.NewStore(storage.WithCleanupInterval(0))
	defer dst.Close()
	loaded, err := LoadSnapshot(dst, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if loaded != 7 {
		t.Fatalf("loaded %d keys, want 7", loaded)
	}

	dst.Lock()
	defer dst.Unlock()
	if s, _, _ := dst.String("s"); string(s) != "hello" {
		t.Errorf("s = %q", s)
	}
	if dst.ExpireAt("ttl").IsZero() {
		t.Error("ttl lost its expiry")
	}
	if l, _ := dst.List("l"); l == nil || len(l.Elements) != 3 || string(l.Elements[2]) != "c" {
		t.Errorf("unexpected list %v", l)
	}
	if set, _ := dst.Set("set"); set == nil || len(set.Members) != 2 {
		t.Errorf("unexpected set %v", set)
	}
	if h, _ := dst.Hash("h"); h == nil || string(h.Fields["f"]) != "v" {
		t.Errorf("unexpected hash %v", h)
	}
	if zs, _ := dst.ZSet("z"); zs == nil || zs.Len() != 2 {
		t.Errorf("unexpected zset %v", zs)
	} else if score, _ := zs.Score("half"); score != 0.5 {
		t.Errorf("score = %v, want 0.5", score)
	}
	if st, _ := dst.Stream("stream"); st == nil || st.Len() != 1 || st.LastID.String() != "1-1" {
		t.Errorf("unexpected stream %v", st)
	}
}

func TestListpackBuilder(t *testing.T) {
	ints := []int64{0, 127, 128, -1, -4096, 4095, 4096, math.MinInt16, math.MaxInt16,
		-1 << 23, 1<<23 - 1, 1 << 23, math.MinInt32, math.MaxInt32, math.MaxInt32 + 1,
		math.MinInt64, math.MaxInt64}
	strs := []string{"", "x", strings.Repeat("a", 63), strings.Repeat("b", 64),
		strings.Repeat("c", 4095), strings.Repeat("d", 4096), strings.Repeat("e", 20000)}

	lp := newListpackBuilder()
	var want []string
	for _, v := range ints {
		lp.appendInt(v)
		want = append(want, strconv.FormatInt(v, 10))
	}
	for _, s := range strs {
		lp.appendString([]byte(s))
		want = append(want, s)
	}

	entries, err := decodeListpack(lp.bytes())
	if err != nil {
		t.Fatalf("decodeListpack: %v", err)
	}
	if len(entries) != len(want) {
		t.Fatalf("got %d entries, want %d", len(entries), len(want))
	}
	for i, w := range want {
		if string(entries[i]) != w {
			t.Errorf("entry %d = %.20q, want %.20q", i, entries[i], w)
		}
	}
}

func TestStreamSnapshotRoundTrip(t *testing.T) {
	src := storage.NewStore(storage.WithCleanupInterval(0))
	defer src.Close()

	src.Lock()
	add := func(id string, fields ...string) {
		args := make([][]byte, len(fields))
		for i, f := range fields {
			args[i] = []byte(f)
		}
		if _, err := src.StreamAdd("events", id, args, storage.StreamAddOptions{}); err != nil {
			t.Fatalf("StreamAdd(%s): %v", id, err)
		}
	}
	add("1-5", "temp", "20", "unit", "c")
	add("2-0", "temp", "21", "unit", "c")
	add("1700000000000-3", "other", "field")
	for i := 0; i < 240; i++ {
		add(fmt.Sprintf("1700000000001-%d", i), "temp", strconv.Itoa(i), "unit", "f")
	}
	add("1700000000002-0", "big", strings.Repeat("z", 5000))
	add("1700000000003-0", "last", "one")
	sv, _ := src.Stream("events")
	sv.Delete(storage.StreamID{Ms: 2}, storage.StreamID{Ms: 1700000000003})

	src.StreamAdd("empty", "5-5", [][]byte{[]byte("f"), []byte("v")}, storage.StreamAddOptions{})
	empty, _ := src.Stream("empty")
	empty.Delete(storage.StreamID{Ms: 5, Seq: 5})

	data, n := Snapshot(src)
	want := *sv
	src.Unlock()
	if n != 2 {
		t.Fatalf("Snapshot wrote %d keys, want 2", n)
	}

	dst := storage.NewStore(storage.WithCleanupInterval(0))
	defer dst.Close()
	if _, err := LoadSnapshot(dst, bytes.NewReader(data)); err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}

	dst.Lock()
	defer dst.Unlock()
	got, err := dst.Stream("events")
	if err != nil || got == nil {
		t.Fatalf("Stream(events) = %v, %v", got, err)
	}
	if !reflect.DeepEqual(got.Entries, want.Entries) {
		t.Errorf("entries differ: got %d, want %d", len(got.Entries), len(want.Entries))
	}
	if got.LastID != want.LastID || got.Added != want.Added {
		t.Errorf("LastID/Added = %v/%d, want %v/%d", got.LastID, got.Added, want.LastID, want.Added)
	}

	e, _ := dst.Stream("empty")
	if e == nil || e.Len() != 0 || e.LastID.String() != "5-5" {
		t.Errorf("unexpected empty stream %v", e)
	}
	if err := e.Add(storage.StreamID{Ms: 5, Seq: 5}, nil); !errors.Is(err, storage.ErrStreamIDTooSmall) {
		t.Errorf("re-adding the last id: err = %v, want ErrStreamIDTooSmall", err)
	}
}

func TestParseStreamWithConsumerGroups(t *testing.T) {
	lpInt := func(v byte) []byte { return []byte{v} }

	var b rdbBuilder
	b.WriteString("REDIS0011")
	b.WriteByte(RDBOpcodeDB)
	b.WriteByte(0)

	b.key(RDBTypeStreamListpacks3, "s")
	b.WriteByte(1) // nodes
	b.str(string(streamNodeKey(storage.StreamID{Ms: 5})))
	b.str(string(listpack(
		lpInt(2), lpInt(1), lpInt(1), lpString("f"), lpInt(0), // master entry
		lpInt(streamItemSameFields), lpInt(0), lpInt(0), lpString("a"), lpInt(4),
		lpInt(streamItemSameFields|streamItemDeleted), lpInt(0), lpInt(1), lpString("b"), lpInt(4),
		lpInt(0), lpInt(1), lpInt(0), lpInt(1), lpString("g"), lpString("c"), lpInt(6),
	)))
	b.Write([]byte{2, 6, 0}) // length, last id
	b.Write([]byte{5, 0, 5, 1, 3})

	b.WriteByte(1) // groups
	b.str("grp")
	b.Write([]byte{6, 0, 2}) // last id, entries read
	b.WriteByte(1)           // pending entries
	b.Write(streamNodeKey(storage.StreamID{Ms: 6}))
	b.Write(make([]byte, 8)) // delivery time
	b.WriteByte(1)           // delivery count
	b.WriteByte(1)           // consumers
	b.str("alice")
	b.Write(make([]byte, 16)) // seen and active time
	b.WriteByte(1)
	b.Write(streamNodeKey(storage.StreamID{Ms: 6}))

	b.key(RDBTypeString, "after")
	b.str("ok")
	data := b.finish()

	store := storage.NewStore(storage.WithCleanupInterval(0))
	defer store.Close()
	n, err := LoadSnapshot(store, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if n != 2 {
		t.Fatalf("loaded %d keys, want 2", n)
	}

	store.Lock()
	defer store.Unlock()
	st, _ := store.Stream("s")
	want := []storage.StreamEntry{
		{ID: storage.StreamID{Ms: 5}, Fields: [][]byte{[]byte("f"), []byte("a")}},
		{ID: storage.StreamID{Ms: 6}, Fields: [][]byte{[]byte("g"), []byte("c")}},
	}
	if st == nil || !reflect.DeepEqual(st.Entries, want) {
		t.Fatalf("entries = %v, want %v", st, want)
	}
	if st.LastID.String() != "6-0" || st.Added != 3 {
		t.Errorf("LastID/Added = %v/%d, want 6-0/3", st.LastID, st.Added)
	}
	if v, _, _ := store.String("after"); string(v) != "ok" {
		t.Errorf("after = %q, want ok", v)
	}
}

func TestSave(t *testing.T) {
	store := storage.NewStore(storage.WithCleanupInterval(0))
	defer store.Close()
	store.Lock()
	store.SetString("k", []byte("v"), time.Time{})
	store.Unlock()

	cfg := Config{Dir: t.TempDir(), DBFilename: "saved.rdb"}
	if n, err := Save(store, cfg); err != nil || n != 1 {
		t.Fatalf("Save = %d, %v", n, err)
	}

	other := storage.NewStore(storage.WithCleanupInterval(0))
	defer other.Close()
	if n, err := Load(other, cfg); err != nil || n != 1 {
		t.Fatalf("Load = %d, %v", n, err)
	}
}
