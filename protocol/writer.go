package protocol

import (
	"bufio"
	"io"
	"math"
	"strconv"
)

// Writer provides efficient writing of RESP protocol messages. Values are
// encoded for the negotiated protocol version; RESP3-only types are
// downgraded when the peer speaks RESP2.
type Writer struct {
	bw      *bufio.Writer
	proto   int
	scratch []byte
}

// NewWriter creates a new RESP protocol writer speaking RESP2
func NewWriter(w io.Writer) *Writer {
	return &Writer{
		bw:    bufio.NewWriter(w),
		proto: RESP2,
	}
}

// SetProtocol selects the encoding used for subsequent values
func (w *Writer) SetProtocol(version int) {
	w.proto = version
}

// Protocol returns the encoding version in use
func (w *Writer) Protocol() int {
	return w.proto
}

// WriteValue writes a RESP value to the output stream
func (w *Writer) WriteValue(v Value) error {
	w.scratch = AppendValue(w.scratch[:0], v, w.proto)
	_, err := w.bw.Write(w.scratch)
	return err
}

// WriteRaw writes pre-encoded bytes
func (w *Writer) WriteRaw(b []byte) error {
	_, err := w.bw.Write(b)
	return err
}

// WriteSimpleString writes a simple string
func (w *Writer) WriteSimpleString(s string) error {
	return w.WriteValue(SimpleString(s))
}

// WriteError writes an error message
func (w *Writer) WriteError(msg string) error {
	return w.WriteValue(ErrorValue(msg))
}

// WriteInteger writes an integer
func (w *Writer) WriteInteger(n int64) error {
	return w.WriteValue(Integer(n))
}

// WriteBulkString writes a bulk string
func (w *Writer) WriteBulkString(data []byte) error {
	return w.WriteValue(BulkBytes(data))
}

// WriteArray writes an array of values
func (w *Writer) WriteArray(values []Value) error {
	return w.WriteValue(Array(values...))
}

// WriteCommand writes a Redis command as a RESP array of bulk strings
func (w *Writer) WriteCommand(cmd string, args ...string) error {
	items := make([]Value, 0, len(args)+1)
	items = append(items, Bulk(cmd))
	for _, arg := range args {
		items = append(items, Bulk(arg))
	}
	return w.WriteValue(Array(items...))
}

// Flush flushes any buffered data to the underlying writer
func (w *Writer) Flush() error {
	return w.bw.Flush()
}

// Buffered returns the number of bytes waiting to be flushed
func (w *Writer) Buffered() int {
	return w.bw.Buffered()
}

// Reset resets the writer to write to a new underlying writer
func (w *Writer) Reset(writer io.Writer) {
	w.bw.Reset(writer)
}

// Encode returns the RESP3 encoding of v. Null bulk strings and null
// arrays keep their RESP2 form, so Decode(Encode(v)) reproduces v.
func Encode(v Value) []byte {
	return appendValue(nil, v, RESP3, true)
}

// EncodedLen returns the number of bytes Encode would produce
func EncodedLen(v Value) int {
	return len(Encode(v))
}

// AppendValue appends the encoding of v for the given protocol version.
// Under RESP3 every null variant is written as the RESP3 null.
func AppendValue(dst []byte, v Value, proto int) []byte {
	return appendValue(dst, v, proto, false)
}

func appendValue(dst []byte, v Value, proto int, exact bool) []byte {
	resp3 := proto >= RESP3

	switch v.Type {
	case TypeSimpleString, TypeError:
		dst = append(dst, byte(v.Type))
		dst = append(dst, v.Data...)
		return append(dst, CRLF...)

	case TypeInteger:
		dst = append(dst, byte(TypeInteger))
		dst = strconv.AppendInt(dst, v.Integer, 10)
		return append(dst, CRLF...)

	case TypeBulkString:
		if v.IsNull {
			if resp3 && !exact {
				return append(dst, "_\r\n"...)
			}
			return append(dst, "$-1\r\n"...)
		}
		return appendBlob(dst, TypeBulkString, v.Data)

	case TypeArray:
		if v.IsNull {
			if resp3 && !exact {
				return append(dst, "_\r\n"...)
			}
			return append(dst, "*-1\r\n"...)
		}
		return appendAggregate(dst, TypeArray, v.Array, len(v.Array), proto, exact)

	case TypeNull:
		if resp3 {
			return append(dst, "_\r\n"...)
		}
		return append(dst, "$-1\r\n"...)

	case TypeBoolean:
		if !resp3 {
			n := int64(0)
			if v.Bool {
				n = 1
			}
			return appendValue(dst, Integer(n), proto, exact)
		}
		if v.Bool {
			return append(dst, "#t\r\n"...)
		}
		return append(dst, "#f\r\n"...)

	case TypeDouble:
		s := formatDouble(v.Double)
		if !resp3 {
			return appendBlob(dst, TypeBulkString, []byte(s))
		}
		dst = append(dst, byte(TypeDouble))
		dst = append(dst, s...)
		return append(dst, CRLF...)

	case TypeBigNumber:
		if !resp3 {
			return appendBlob(dst, TypeBulkString, v.Data)
		}
		dst = append(dst, byte(TypeBigNumber))
		dst = append(dst, v.Data...)
		return append(dst, CRLF...)

	case TypeBulkError:
		if !resp3 {
			return appendValue(dst, ErrorValue(string(v.Data)), proto, exact)
		}
		return appendBlob(dst, TypeBulkError, v.Data)

	case TypeVerbatim:
		if !resp3 {
			return appendBlob(dst, TypeBulkString, v.Data)
		}
		payload := make([]byte, 0, len(v.Data)+4)
		payload = append(payload, v.Format...)
		payload = append(payload, ':')
		payload = append(payload, v.Data...)
		return appendBlob(dst, TypeVerbatim, payload)

	case TypeMap, TypeAttribute:
		if !resp3 {
			return appendAggregate(dst, TypeArray, v.Array, len(v.Array), proto, exact)
		}
		return appendAggregate(dst, v.Type, v.Array, len(v.Array)/2, proto, exact)

	case TypeSet, TypePush:
		if !resp3 {
			return appendAggregate(dst, TypeArray, v.Array, len(v.Array), proto, exact)
		}
		return appendAggregate(dst, v.Type, v.Array, len(v.Array), proto, exact)
	}

	return append(dst, "-ERR unsupported reply type\r\n"...)
}

func appendBlob(dst []byte, t ValueType, data []byte) []byte {
	dst = append(dst, byte(t))
	dst = strconv.AppendInt(dst, int64(len(data)), 10)
	dst = append(dst, CRLF...)
	dst = append(dst, data...)
	return append(dst, CRLF...)
}

func appendAggregate(dst []byte, t ValueType, items []Value, count int, proto int, exact bool) []byte {
	dst = append(dst, byte(t))
	dst = strconv.AppendInt(dst, int64(count), 10)
	dst = append(dst, CRLF...)
	for _, item := range items {
		dst = appendValue(dst, item, proto, exact)
	}
	return dst
}

func formatDouble(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return "nan"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
