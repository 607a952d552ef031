package persistence

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"

	"github.com/raniellyferreira/redis-inmemory-server/storage"
)

// Stream value types. Each version appends metadata to the previous one.
const (
	RDBTypeStreamListpacks  = 15
	RDBTypeStreamListpacks2 = 19
	RDBTypeStreamListpacks3 = 21
)

const (
	streamItemDeleted    = 1
	streamItemSameFields = 2

	// streamNodeMaxEntries matches the stream-node-max-entries default
	streamNodeMaxEntries = 100
)

var errStreamCorrupt = errors.New("rdb: corrupt stream")

// writeStream encodes s as a listpack-backed stream. Each node holds up to
// streamNodeMaxEntries entries keyed by the id of its first entry; entries
// whose fields match the node's first entry store only their values.
func writeStream(buf *bytes.Buffer, key string, s *storage.StreamValue) {
	buf.WriteByte(RDBTypeStreamListpacks3)
	writeString(buf, key)

	nodes := (len(s.Entries) + streamNodeMaxEntries - 1) / streamNodeMaxEntries
	writeLength(buf, uint64(nodes))
	for start := 0; start < len(s.Entries); start += streamNodeMaxEntries {
		chunk := s.Entries[start:min(start+streamNodeMaxEntries, len(s.Entries))]
		writeBytes(buf, streamNodeKey(chunk[0].ID))
		writeBytes(buf, encodeStreamNode(chunk))
	}

	var first storage.StreamID
	if len(s.Entries) > 0 {
		first = s.Entries[0].ID
	}
	writeLength(buf, uint64(len(s.Entries)))
	writeLength(buf, s.LastID.Ms)
	writeLength(buf, s.LastID.Seq)
	writeLength(buf, first.Ms)
	writeLength(buf, first.Seq)
	writeLength(buf, 0) // max deleted id, not tracked
	writeLength(buf, 0)
	writeLength(buf, s.Added)
	writeLength(buf, 0) // consumer groups
}

func streamNodeKey(id storage.StreamID) []byte {
	key := make([]byte, 16)
	binary.BigEndian.PutUint64(key[:8], id.Ms)
	binary.BigEndian.PutUint64(key[8:], id.Seq)
	return key
}

func encodeStreamNode(entries []storage.StreamEntry) []byte {
	master := entries[0].ID
	masterFields := make([][]byte, 0, len(entries[0].Fields)/2)
	for i := 0; i+1 < len(entries[0].Fields); i += 2 {
		masterFields = append(masterFields, entries[0].Fields[i])
	}

	lp := newListpackBuilder()
	lp.appendInt(int64(len(entries)))
	lp.appendInt(0)
	lp.appendInt(int64(len(masterFields)))
	for _, f := range masterFields {
		lp.appendString(f)
	}
	lp.appendInt(0)

	for _, e := range entries {
		n := len(e.Fields) / 2
		same := sameFieldNames(e.Fields, masterFields)

		flags := int64(0)
		if same {
			flags = streamItemSameFields
		}
		lp.appendInt(flags)
		lp.appendInt(int64(e.ID.Ms - master.Ms))
		lp.appendInt(int64(e.ID.Seq - master.Seq))

		if same {
			for i := 1; i < len(e.Fields); i += 2 {
				lp.appendString(e.Fields[i])
			}
			lp.appendInt(int64(n + 3))
			continue
		}
		lp.appendInt(int64(n))
		for i := 0; i+1 < len(e.Fields); i += 2 {
			lp.appendString(e.Fields[i])
			lp.appendString(e.Fields[i+1])
		}
		lp.appendInt(int64(2*n + 4))
	}
	return lp.bytes()
}

func sameFieldNames(fields, names [][]byte) bool {
	if len(fields)/2 != len(names) {
		return false
	}
	for i, name := range names {
		if !bytes.Equal(fields[2*i], name) {
			return false
		}
	}
	return true
}

// readStream reads any of the listpack stream encodings. Consumer groups
// are read and discarded.
func (p *Parser) readStream(valueType byte) (*storage.StreamValue, error) {
	nodes, err := p.readLength()
	if err != nil {
		return nil, err
	}

	s := &storage.StreamValue{}
	for i := uint64(0); i < nodes; i++ {
		key, err := p.readString()
		if err != nil {
			return nil, err
		}
		if len(key) != 16 {
			return nil, fmt.Errorf("%w: node key of %d bytes", errStreamCorrupt, len(key))
		}
		master := storage.StreamID{
			Ms:  binary.BigEndian.Uint64(key[:8]),
			Seq: binary.BigEndian.Uint64(key[8:]),
		}
		items, err := p.readListpack()
		if err != nil {
			return nil, err
		}
		entries, err := decodeStreamNode(master, items)
		if err != nil {
			return nil, err
		}
		s.Entries = append(s.Entries, entries...)
	}

	// length, last id
	meta, err := p.readLengths(3)
	if err != nil {
		return nil, err
	}
	s.LastID = storage.StreamID{Ms: meta[1], Seq: meta[2]}
	s.Added = uint64(len(s.Entries))

	if valueType >= RDBTypeStreamListpacks2 {
		// first id, max deleted id, entries added
		meta, err := p.readLengths(5)
		if err != nil {
			return nil, err
		}
		s.Added = meta[4]
	}

	groups, err := p.readLength()
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < groups; i++ {
		if err := p.skipConsumerGroup(valueType); err != nil {
			return nil, fmt.Errorf("consumer group: %w", err)
		}
	}
	return s, nil
}

func (p *Parser) readLengths(n int) ([]uint64, error) {
	out := make([]uint64, n)
	for i := range out {
		v, err := p.readLength()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (p *Parser) skipConsumerGroup(valueType byte) error {
	if _, err := p.readString(); err != nil {
		return err
	}
	idFields := 2
	if valueType >= RDBTypeStreamListpacks2 {
		idFields = 3 // entries read
	}
	if _, err := p.readLengths(idFields); err != nil {
		return err
	}

	// Pending entries: raw id, delivery time, delivery count
	pending, err := p.readLength()
	if err != nil {
		return err
	}
	var raw [24]byte
	for i := uint64(0); i < pending; i++ {
		if err := p.readFull(raw[:24]); err != nil {
			return err
		}
		if _, err := p.readLength(); err != nil {
			return err
		}
	}

	consumers, err := p.readLength()
	if err != nil {
		return err
	}
	for i := uint64(0); i < consumers; i++ {
		if _, err := p.readString(); err != nil {
			return err
		}
		times := 8
		if valueType >= RDBTypeStreamListpacks3 {
			times = 16 // seen and active time
		}
		if err := p.readFull(raw[:times]); err != nil {
			return err
		}
		owned, err := p.readLength()
		if err != nil {
			return err
		}
		for j := uint64(0); j < owned; j++ {
			if err := p.readFull(raw[:16]); err != nil {
				return err
			}
		}
	}
	return nil
}

// decodeStreamNode expands the listpack of one stream node. Entries
// flagged deleted are dropped.
func decodeStreamNode(master storage.StreamID, items [][]byte) ([]storage.StreamEntry, error) {
	pos := 0
	next := func() ([]byte, error) {
		if pos >= len(items) {
			return nil, errStreamCorrupt
		}
		pos++
		return items[pos-1], nil
	}
	nextInt := func() (int64, error) {
		b, err := next()
		if err != nil {
			return 0, err
		}
		v, err := strconv.ParseInt(string(b), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not an integer", errStreamCorrupt, b)
		}
		return v, nil
	}

	header := make([]int64, 3)
	for i := range header {
		v, err := nextInt()
		if err != nil {
			return nil, err
		}
		header[i] = v
	}
	count, deleted, numFields := header[0], header[1], header[2]
	if count < 0 || deleted < 0 || numFields < 0 || int(numFields) > len(items) {
		return nil, errStreamCorrupt
	}

	masterFields := make([][]byte, numFields)
	for i := range masterFields {
		f, err := next()
		if err != nil {
			return nil, err
		}
		masterFields[i] = f
	}
	if _, err := next(); err != nil { // master entry terminator
		return nil, err
	}

	entries := make([]storage.StreamEntry, 0, count)
	for i := int64(0); i < count+deleted; i++ {
		flags, err := nextInt()
		if err != nil {
			return nil, err
		}
		msDiff, err := nextInt()
		if err != nil {
			return nil, err
		}
		seqDiff, err := nextInt()
		if err != nil {
			return nil, err
		}

		var fields [][]byte
		if flags&streamItemSameFields != 0 {
			fields = make([][]byte, 0, 2*len(masterFields))
			for _, f := range masterFields {
				v, err := next()
				if err != nil {
					return nil, err
				}
				fields = append(fields, f, v)
			}
		} else {
			n, err := nextInt()
			if err != nil {
				return nil, err
			}
			if n < 0 || int(n) > len(items) {
				return nil, errStreamCorrupt
			}
			fields = make([][]byte, 0, 2*n)
			for j := int64(0); j < 2*n; j++ {
				b, err := next()
				if err != nil {
					return nil, err
				}
				fields = append(fields, b)
			}
		}
		if _, err := next(); err != nil { // lp-count
			return nil, err
		}

		if flags&streamItemDeleted != 0 {
			continue
		}
		entries = append(entries, storage.StreamEntry{
			ID:     storage.StreamID{Ms: master.Ms + uint64(msDiff), Seq: master.Seq + uint64(seqDiff)},
			Fields: fields,
		})
	}
	return entries, nil
}
