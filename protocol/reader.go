package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

const (
	defaultReadSize = 16 * 1024
)

// Reader is a streaming RESP reader. Bytes that arrive beyond the end of a
// frame stay buffered for the next call, so a frame split across reads and
// several frames in one read are both handled.
type Reader struct {
	rd    io.Reader
	buf   []byte
	start int
}

// NewReader creates a new streaming RESP reader
func NewReader(r io.Reader) *Reader {
	return &Reader{
		rd:  r,
		buf: make([]byte, 0, defaultReadSize),
	}
}

// ReadNext reads the next RESP value from the stream
func (r *Reader) ReadNext() (Value, error) {
	v, _, err := r.ReadFrame()
	return v, err
}

// ReadFrame reads the next RESP value and reports its exact encoded size
func (r *Reader) ReadFrame() (Value, int, error) {
	return r.read(Decode)
}

// ReadRequest reads the next client request. Lines that do not start with
// a RESP type byte are parsed as inline commands.
func (r *Reader) ReadRequest() (Value, int, error) {
	return r.read(func(buf []byte) (Value, int, error) {
		if len(buf) > 0 && !IsTypeByte(buf[0]) {
			return DecodeInline(buf)
		}
		return Decode(buf)
	})
}

func (r *Reader) read(decode func([]byte) (Value, int, error)) (Value, int, error) {
	for {
		if pending := r.buf[r.start:]; len(pending) > 0 {
			v, n, err := decode(pending)
			if err == nil {
				r.start += n
				return v, n, nil
			}
			if !errors.Is(err, ErrIncomplete) {
				return Value{}, 0, err
			}
		}
		if err := r.fill(); err != nil {
			return Value{}, 0, err
		}
	}
}

// ReadSnapshot reads a replication snapshot payload, framed as a bulk
// string header followed by the raw bytes with no trailing CRLF. It returns
// the payload and the number of bytes consumed.
func (r *Reader) ReadSnapshot() ([]byte, int, error) {
	for {
		pending := r.buf[r.start:]
		if i := bytes.Index(pending, crlfBytes); i >= 0 {
			if pending[0] != byte(TypeBulkString) {
				return nil, 0, protoErrorf("expected snapshot bulk header, got %q", pending[0])
			}
			n, err := parseInt64(pending[1:i])
			if err != nil || n < 0 || n > maxBulkSize {
				return nil, 0, protoErrorf("invalid snapshot length %q", pending[1:i])
			}
			total := i + 2 + int(n)
			if len(pending) >= total {
				payload := append([]byte(nil), pending[i+2:total]...)
				r.start += total
				return payload, total, nil
			}
		} else if len(pending) > maxLineSize {
			return nil, 0, protoErrorf("snapshot header too long")
		}
		if err := r.fill(); err != nil {
			return nil, 0, err
		}
	}
}

// Buffered returns the number of bytes read from the source but not yet
// consumed by a frame
func (r *Reader) Buffered() int {
	return len(r.buf) - r.start
}

// fill reads at least one more byte from the source, compacting or
// growing the buffer as needed
func (r *Reader) fill() error {
	if r.start > 0 {
		n := copy(r.buf, r.buf[r.start:])
		r.buf = r.buf[:n]
		r.start = 0
	}
	if len(r.buf) == cap(r.buf) {
		grown := make([]byte, len(r.buf), 2*cap(r.buf)+defaultReadSize)
		copy(grown, r.buf)
		r.buf = grown
	}

	for {
		n, err := r.rd.Read(r.buf[len(r.buf):cap(r.buf)])
		r.buf = r.buf[:len(r.buf)+n]
		if n > 0 {
			return nil
		}
		if err != nil {
			if err == io.EOF && len(r.buf) > 0 {
				return fmt.Errorf("reading frame: %w", io.ErrUnexpectedEOF)
			}
			return err
		}
	}
}

// Reset discards buffered data and switches to a new source
func (r *Reader) Reset(rd io.Reader) {
	r.rd = rd
	r.buf = r.buf[:0]
	r.start = 0
}
