package storage

import (
	"errors"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrStreamIDZero is returned when XADD resolves to 0-0
	ErrStreamIDZero = errors.New("ERR The ID specified in XADD must be greater than 0-0")

	// ErrStreamIDTooSmall is returned when XADD resolves to an id not above the stream top
	ErrStreamIDTooSmall = errors.New("ERR The ID specified in XADD is equal or smaller than the target stream top item")

	// ErrInvalidStreamID is returned for ids that cannot be parsed
	ErrInvalidStreamID = errors.New("ERR Invalid stream ID specified as stream command argument")

	// ErrNoStream is returned by StreamAdd with NoMkStream when the key is missing
	ErrNoStream = errors.New("no such stream")
)

// StreamID identifies a stream entry: milliseconds, then a sequence
// number within that millisecond.
type StreamID struct {
	Ms  uint64
	Seq uint64
}

// MinStreamID and MaxStreamID bound every id
var (
	MinStreamID = StreamID{}
	MaxStreamID = StreamID{Ms: math.MaxUint64, Seq: math.MaxUint64}
)

// String formats the id as ms-seq
func (id StreamID) String() string {
	return strconv.FormatUint(id.Ms, 10) + "-" + strconv.FormatUint(id.Seq, 10)
}

// Less reports whether id sorts before other
func (id StreamID) Less(other StreamID) bool {
	if id.Ms != other.Ms {
		return id.Ms < other.Ms
	}
	return id.Seq < other.Seq
}

// IsZero reports whether id is 0-0
func (id StreamID) IsZero() bool {
	return id.Ms == 0 && id.Seq == 0
}

// Next returns the smallest id greater than id
func (id StreamID) Next() (StreamID, bool) {
	switch {
	case id.Seq < math.MaxUint64:
		return StreamID{Ms: id.Ms, Seq: id.Seq + 1}, true
	case id.Ms < math.MaxUint64:
		return StreamID{Ms: id.Ms + 1}, true
	}
	return id, false
}

// Prev returns the largest id smaller than id
func (id StreamID) Prev() (StreamID, bool) {
	switch {
	case id.Seq > 0:
		return StreamID{Ms: id.Ms, Seq: id.Seq - 1}, true
	case id.Ms > 0:
		return StreamID{Ms: id.Ms - 1, Seq: math.MaxUint64}, true
	}
	return id, false
}

// ParseStreamID parses "ms-seq", or "ms" with the given default sequence
func ParseStreamID(s string, defaultSeq uint64) (StreamID, error) {
	msPart, seqPart, hasSeq := strings.Cut(s, "-")
	ms, err := strconv.ParseUint(msPart, 10, 64)
	if err != nil {
		return StreamID{}, ErrInvalidStreamID
	}
	if !hasSeq {
		return StreamID{Ms: ms, Seq: defaultSeq}, nil
	}
	seq, err := strconv.ParseUint(seqPart, 10, 64)
	if err != nil {
		return StreamID{}, ErrInvalidStreamID
	}
	return StreamID{Ms: ms, Seq: seq}, nil
}

// ParseRangeID parses an XRANGE bound: "-", "+", "ms" or "ms-seq". A bare
// millisecond value takes defaultSeq as its sequence.
func ParseRangeID(s string, defaultSeq uint64) (StreamID, error) {
	switch s {
	case "-":
		return MinStreamID, nil
	case "+":
		return MaxStreamID, nil
	}
	return ParseStreamID(s, defaultSeq)
}

// StreamEntry is one stream record. Fields holds field/value pairs in
// insertion order.
type StreamEntry struct {
	ID     StreamID
	Fields [][]byte
}

// StreamValue is an append-only log ordered by id
type StreamValue struct {
	Entries []StreamEntry
	LastID  StreamID
	Added   uint64
}

// Len returns the number of entries
func (sv *StreamValue) Len() int {
	return len(sv.Entries)
}

// NextID resolves an XADD id argument: "*" for an automatic id,
// "<ms>-*" for an automatic sequence, or an explicit id. The result is
// not validated against the stream top; Add does that.
func (sv *StreamValue) NextID(spec string, now time.Time) (StreamID, error) {
	if spec == "*" {
		ms := uint64(now.UnixMilli())
		if ms <= sv.LastID.Ms {
			if sv.LastID.Seq == math.MaxUint64 {
				return StreamID{}, ErrStreamIDTooSmall
			}
			return StreamID{Ms: sv.LastID.Ms, Seq: sv.LastID.Seq + 1}, nil
		}
		return StreamID{Ms: ms}, nil
	}

	if msPart, ok := strings.CutSuffix(spec, "-*"); ok {
		ms, err := strconv.ParseUint(msPart, 10, 64)
		if err != nil {
			return StreamID{}, ErrInvalidStreamID
		}
		if ms == sv.LastID.Ms {
			if sv.LastID.Seq == math.MaxUint64 {
				return StreamID{}, ErrStreamIDTooSmall
			}
			return StreamID{Ms: ms, Seq: sv.LastID.Seq + 1}, nil
		}
		return StreamID{Ms: ms}, nil
	}

	return ParseStreamID(spec, 0)
}

// Add appends an entry. The id must be greater than 0-0 and greater than
// the last id ever added.
func (sv *StreamValue) Add(id StreamID, fields [][]byte) error {
	if id.IsZero() {
		return ErrStreamIDZero
	}
	if !sv.LastID.Less(id) {
		return ErrStreamIDTooSmall
	}
	sv.Entries = append(sv.Entries, StreamEntry{ID: id, Fields: fields})
	sv.LastID = id
	sv.Added++
	return nil
}

// search returns the index of the first entry with id >= target
func (sv *StreamValue) search(target StreamID) int {
	return sort.Search(len(sv.Entries), func(i int) bool {
		return !sv.Entries[i].ID.Less(target)
	})
}

// Range returns entries with start <= id <= end, oldest first. A positive
// count limits the result.
func (sv *StreamValue) Range(start, end StreamID, count int) []StreamEntry {
	if end.Less(start) {
		return nil
	}
	lo := sv.search(start)
	hi := sort.Search(len(sv.Entries), func(i int) bool {
		return end.Less(sv.Entries[i].ID)
	})
	if lo >= hi {
		return nil
	}
	if count > 0 && hi-lo > count {
		hi = lo + count
	}
	out := make([]StreamEntry, hi-lo)
	copy(out, sv.Entries[lo:hi])
	return out
}

// RevRange returns entries with start <= id <= end, newest first
func (sv *StreamValue) RevRange(end, start StreamID, count int) []StreamEntry {
	entries := sv.Range(start, end, 0)
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	if count > 0 && len(entries) > count {
		entries = entries[:count]
	}
	return entries
}

// After returns entries with id strictly greater than after
func (sv *StreamValue) After(after StreamID, count int) []StreamEntry {
	start, ok := after.Next()
	if !ok {
		return nil
	}
	return sv.Range(start, MaxStreamID, count)
}

// Delete removes entries by id and returns how many existed
func (sv *StreamValue) Delete(ids ...StreamID) int {
	removed := 0
	for _, id := range ids {
		i := sv.search(id)
		if i < len(sv.Entries) && sv.Entries[i].ID == id {
			sv.Entries = append(sv.Entries[:i], sv.Entries[i+1:]...)
			removed++
		}
	}
	return removed
}

// Trim drops the oldest entries until at most maxLen remain
func (sv *StreamValue) Trim(maxLen int) int {
	if maxLen < 0 || len(sv.Entries) <= maxLen {
		return 0
	}
	drop := len(sv.Entries) - maxLen
	sv.Entries = append([]StreamEntry(nil), sv.Entries[drop:]...)
	return drop
}

// StreamAddOptions are the XADD modifiers
type StreamAddOptions struct {
	NoMkStream bool
	HasMaxLen  bool
	MaxLen     int
}

// StreamAdd resolves idSpec against the stream at key and appends an
// entry. A rejected id leaves the keyspace untouched, including not
// creating the stream.
func (s *Store) StreamAdd(key, idSpec string, fields [][]byte, opts StreamAddOptions) (StreamID, error) {
	sv, err := s.Stream(key)
	if err != nil {
		return StreamID{}, err
	}
	if sv == nil && opts.NoMkStream {
		return StreamID{}, ErrNoStream
	}

	target := sv
	if target == nil {
		target = &StreamValue{}
	}

	id, err := target.NextID(idSpec, s.now())
	if err != nil {
		return StreamID{}, err
	}
	if err := target.Add(id, fields); err != nil {
		return StreamID{}, err
	}
	if opts.HasMaxLen {
		target.Trim(opts.MaxLen)
	}

	if sv == nil {
		s.Put(key, &Value{Type: ValueTypeStream, Data: target})
	} else {
		s.Touch(key)
	}
	return id, nil
}
