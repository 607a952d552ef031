package persistence

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/raniellyferreira/redis-inmemory-server/storage"
)

// snapshotVersion is the RDB version of generated snapshots
const snapshotVersion = 11

// RedisVersion is advertised in the aux fields of generated snapshots
const RedisVersion = "7.2.0"

// EmptySnapshot returns an RDB file holding no keys
func EmptySnapshot() []byte {
	var buf bytes.Buffer
	writeHeader(&buf)
	return finishSnapshot(&buf)
}

// Snapshot encodes every live key of database 0 as an RDB file and returns
// it with the number of keys written. The caller holds the store lock.
func Snapshot(store *storage.Store) ([]byte, int) {
	var buf bytes.Buffer
	writeHeader(&buf)

	keys := make([]string, 0, store.Len())
	values := make(map[string]*storage.Value, store.Len())
	store.Range(func(key string, v *storage.Value) bool {
		keys = append(keys, key)
		values[key] = v
		return true
	})
	sort.Strings(keys)

	if len(keys) > 0 {
		buf.WriteByte(RDBOpcodeDB)
		writeLength(&buf, 0)
		buf.WriteByte(RDBOpcodeResizeDB)
		writeLength(&buf, uint64(len(keys)))
		writeLength(&buf, uint64(store.ExpiringLen()))
	}

	for _, key := range keys {
		v := values[key]
		if v.HasExpiry() {
			buf.WriteByte(RDBOpcodeExpiryMs)
			var ms [8]byte
			binary.LittleEndian.PutUint64(ms[:], uint64(v.ExpireAt.UnixMilli()))
			buf.Write(ms[:])
		}
		writeValue(&buf, key, v)
	}

	return finishSnapshot(&buf), len(keys)
}

// Save writes the snapshot of store to the file described by cfg. It
// takes the store lock only while encoding.
func Save(store *storage.Store, cfg Config) (int, error) {
	store.Lock()
	data, n := Snapshot(store)
	store.Unlock()

	if err := WriteFile(cfg, data); err != nil {
		return 0, err
	}
	return n, nil
}

// WriteFile replaces the snapshot file described by cfg with data
// atomically, through a temporary file in the same directory.
func WriteFile(cfg Config, data []byte) error {
	path := cfg.Path()
	tmp, err := os.CreateTemp(filepath.Dir(path), "temp-*.rdb")
	if err != nil {
		return fmt.Errorf("create snapshot file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

func writeHeader(buf *bytes.Buffer) {
	fmt.Fprintf(buf, "REDIS%04d", snapshotVersion)

	buf.WriteByte(RDBOpcodeAux)
	writeString(buf, "redis-ver")
	writeString(buf, RedisVersion)

	buf.WriteByte(RDBOpcodeAux)
	writeString(buf, "redis-bits")
	buf.Write([]byte{0xC0 | rdbEncInt8, 64})
}

// finishSnapshot appends the EOF opcode and the CRC64 of everything before it
func finishSnapshot(buf *bytes.Buffer) []byte {
	buf.WriteByte(RDBOpcodeEOF)
	var sum [8]byte
	binary.LittleEndian.PutUint64(sum[:], crc64Update(0, buf.Bytes()))
	buf.Write(sum[:])
	return buf.Bytes()
}

func writeValue(buf *bytes.Buffer, key string, v *storage.Value) {
	switch d := v.Data.(type) {
	case *storage.StringValue:
		buf.WriteByte(RDBTypeString)
		writeString(buf, key)
		writeBytes(buf, d.Data)

	case *storage.ListValue:
		buf.WriteByte(RDBTypeList)
		writeString(buf, key)
		writeLength(buf, uint64(len(d.Elements)))
		for _, e := range d.Elements {
			writeBytes(buf, e)
		}

	case *storage.SetValue:
		members := make([]string, 0, len(d.Members))
		for m := range d.Members {
			members = append(members, m)
		}
		sort.Strings(members)
		buf.WriteByte(RDBTypeSet)
		writeString(buf, key)
		writeLength(buf, uint64(len(members)))
		for _, m := range members {
			writeString(buf, m)
		}

	case *storage.HashValue:
		fields := make([]string, 0, len(d.Fields))
		for f := range d.Fields {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		buf.WriteByte(RDBTypeHash)
		writeString(buf, key)
		writeLength(buf, uint64(len(fields)))
		for _, f := range fields {
			writeString(buf, f)
			writeBytes(buf, d.Fields[f])
		}

	case *storage.ZSetValue:
		members := d.Members()
		buf.WriteByte(RDBTypeZSet2)
		writeString(buf, key)
		writeLength(buf, uint64(len(members)))
		for _, m := range members {
			writeString(buf, m.Member)
			var score [8]byte
			binary.LittleEndian.PutUint64(score[:], math.Float64bits(m.Score))
			buf.Write(score[:])
		}

	case *storage.StreamValue:
		writeStream(buf, key, d)
	}
}

func writeString(buf *bytes.Buffer, s string) {
	writeLength(buf, uint64(len(s)))
	buf.WriteString(s)
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	writeLength(buf, uint64(len(b)))
	buf.Write(b)
}

func writeLength(buf *bytes.Buffer, n uint64) {
	switch {
	case n < 1<<6:
		buf.WriteByte(byte(n))
	case n < 1<<14:
		buf.WriteByte(0x40 | byte(n>>8))
		buf.WriteByte(byte(n))
	case n <= 0xFFFFFFFF:
		buf.WriteByte(0x80)
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(n))
		buf.Write(b[:])
	default:
		buf.WriteByte(0x81)
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], n)
		buf.Write(b[:])
	}
}
