package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strconv"
)

const (
	// CRLF is the Redis protocol line terminator
	CRLF = "\r\n"

	// maxBulkSize is the maximum size for bulk strings (512MB, proto-max-bulk-len)
	maxBulkSize = 512 * 1024 * 1024

	// maxArraySize is the maximum number of elements in an aggregate
	maxArraySize = 1024 * 1024

	// maxLineSize bounds a header or simple line that has no terminator yet
	maxLineSize = 64 * 1024

	// maxDepth bounds aggregate nesting
	maxDepth = 128
)

var crlfBytes = []byte(CRLF)

// ErrIncomplete is returned when the buffer ends before a complete frame.
// The caller should read more bytes and decode again from the same offset.
var ErrIncomplete = errors.New("protocol: incomplete frame")

// Error is a malformed-input error. The stream cannot be resynchronized
// after one, so connections should be closed.
type Error struct {
	Msg string
}

func (e *Error) Error() string {
	return "protocol error: " + e.Msg
}

func protoErrorf(format string, args ...interface{}) error {
	return &Error{Msg: fmt.Sprintf(format, args...)}
}

// Decode parses exactly one frame from the start of buf and returns it
// with the number of bytes it occupied. Data in the returned value never
// aliases buf.
//
// Decode returns ErrIncomplete if buf holds only a prefix of a frame, and
// an *Error if the input is malformed.
func Decode(buf []byte) (Value, int, error) {
	d := decoder{buf: buf}
	v, err := d.value(0)
	if err != nil {
		return Value{}, 0, err
	}
	return v, d.pos, nil
}

// DecodeInline parses a telnet style inline command terminated by LF or
// CRLF into an array of bulk strings. An empty line yields an empty array.
func DecodeInline(buf []byte) (Value, int, error) {
	i := bytes.IndexByte(buf, '\n')
	if i < 0 {
		if len(buf) > maxLineSize {
			return Value{}, 0, protoErrorf("too big inline request")
		}
		return Value{}, 0, ErrIncomplete
	}
	line := bytes.TrimSuffix(buf[:i], []byte{'\r'})
	fields := bytes.Fields(line)
	items := make([]Value, len(fields))
	for j, f := range fields {
		items[j] = BulkBytes(append([]byte(nil), f...))
	}
	return Array(items...), i + 1, nil
}

// IsTypeByte reports whether b starts a RESP frame
func IsTypeByte(b byte) bool {
	switch ValueType(b) {
	case TypeSimpleString, TypeError, TypeInteger, TypeBulkString, TypeArray,
		TypeNull, TypeBoolean, TypeDouble, TypeBigNumber, TypeBulkError,
		TypeVerbatim, TypeMap, TypeAttribute, TypeSet, TypePush:
		return true
	}
	return false
}

type decoder struct {
	buf []byte
	pos int
}

func (d *decoder) line() ([]byte, error) {
	rest := d.buf[d.pos:]
	i := bytes.Index(rest, crlfBytes)
	if i < 0 {
		if len(rest) > maxLineSize {
			return nil, protoErrorf("line exceeds %d bytes without CRLF", maxLineSize)
		}
		return nil, ErrIncomplete
	}
	d.pos += i + 2
	return rest[:i], nil
}

func (d *decoder) length() (int64, error) {
	line, err := d.line()
	if err != nil {
		return 0, err
	}
	n, err := parseInt64(line)
	if err != nil {
		return 0, protoErrorf("invalid length %q", line)
	}
	return n, nil
}

func (d *decoder) value(depth int) (Value, error) {
	if depth > maxDepth {
		return Value{}, protoErrorf("aggregate nesting exceeds %d", maxDepth)
	}
	if d.pos >= len(d.buf) {
		return Value{}, ErrIncomplete
	}

	t := ValueType(d.buf[d.pos])
	d.pos++

	switch t {
	case TypeSimpleString, TypeError:
		line, err := d.line()
		if err != nil {
			return Value{}, err
		}
		return Value{Type: t, Data: append([]byte{}, line...)}, nil

	case TypeInteger:
		line, err := d.line()
		if err != nil {
			return Value{}, err
		}
		n, err := parseInt64(line)
		if err != nil {
			return Value{}, protoErrorf("invalid integer %q", line)
		}
		return Integer(n), nil

	case TypeBigNumber:
		line, err := d.line()
		if err != nil {
			return Value{}, err
		}
		if !isBigNumber(line) {
			return Value{}, protoErrorf("invalid big number %q", line)
		}
		return Value{Type: t, Data: append([]byte{}, line...)}, nil

	case TypeNull:
		line, err := d.line()
		if err != nil {
			return Value{}, err
		}
		if len(line) != 0 {
			return Value{}, protoErrorf("invalid null %q", line)
		}
		return Null(), nil

	case TypeBoolean:
		line, err := d.line()
		if err != nil {
			return Value{}, err
		}
		switch string(line) {
		case "t":
			return Boolean(true), nil
		case "f":
			return Boolean(false), nil
		}
		return Value{}, protoErrorf("invalid boolean %q", line)

	case TypeDouble:
		line, err := d.line()
		if err != nil {
			return Value{}, err
		}
		f, err := strconv.ParseFloat(string(line), 64)
		if err != nil {
			return Value{}, protoErrorf("invalid double %q", line)
		}
		return Double(f), nil

	case TypeBulkString, TypeBulkError, TypeVerbatim:
		return d.blob(t)

	case TypeArray, TypeSet, TypePush:
		return d.aggregate(t, 1, depth)

	case TypeMap, TypeAttribute:
		return d.aggregate(t, 2, depth)

	default:
		return Value{}, protoErrorf("unknown type byte %q", byte(t))
	}
}

func (d *decoder) blob(t ValueType) (Value, error) {
	n, err := d.length()
	if err != nil {
		return Value{}, err
	}
	if n == -1 && t == TypeBulkString {
		return NullBulk(), nil
	}
	if n < 0 || n > maxBulkSize {
		return Value{}, protoErrorf("invalid bulk length %d", n)
	}

	size := int(n)
	if len(d.buf)-d.pos < size+2 {
		return Value{}, ErrIncomplete
	}
	if d.buf[d.pos+size] != '\r' || d.buf[d.pos+size+1] != '\n' {
		return Value{}, protoErrorf("bulk payload not terminated by CRLF")
	}
	data := append([]byte{}, d.buf[d.pos:d.pos+size]...)
	d.pos += size + 2

	if t == TypeVerbatim {
		if len(data) < 4 || data[3] != ':' {
			return Value{}, protoErrorf("invalid verbatim string")
		}
		return Value{Type: t, Format: string(data[:3]), Data: data[4:]}, nil
	}
	return Value{Type: t, Data: data}, nil
}

func (d *decoder) aggregate(t ValueType, per int64, depth int) (Value, error) {
	n, err := d.length()
	if err != nil {
		return Value{}, err
	}
	if n == -1 && t == TypeArray {
		return NullArray(), nil
	}
	if n < 0 || n > maxArraySize {
		return Value{}, protoErrorf("invalid aggregate length %d", n)
	}

	total := int(n * per)
	// Headers may arrive long before their elements.
	items := make([]Value, 0, min(total, 1024))
	for i := 0; i < total; i++ {
		item, err := d.value(depth + 1)
		if err != nil {
			return Value{}, err
		}
		items = append(items, item)
	}
	return Value{Type: t, Array: items}, nil
}

func isBigNumber(b []byte) bool {
	if len(b) > 0 && (b[0] == '-' || b[0] == '+') {
		b = b[1:]
	}
	if len(b) == 0 {
		return false
	}
	for _, c := range b {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// parseInt64 parses an int64 from a byte slice without allocation
func parseInt64(b []byte) (int64, error) {
	if len(b) == 0 {
		return 0, strconv.ErrSyntax
	}

	var neg bool
	var i int

	switch b[0] {
	case '-':
		neg = true
		i = 1
	case '+':
		i = 1
	}

	if i >= len(b) {
		return 0, strconv.ErrSyntax
	}

	limit := uint64(math.MaxInt64)
	if neg {
		limit++
	}

	var n uint64
	for ; i < len(b); i++ {
		if b[i] < '0' || b[i] > '9' {
			return 0, strconv.ErrSyntax
		}
		d := uint64(b[i] - '0')
		if n > (limit-d)/10 {
			return 0, strconv.ErrRange
		}
		n = n*10 + d
	}

	if neg {
		return int64(-n), nil
	}
	return int64(n), nil
}
