package persistence

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
)

var errListpackCorrupt = errors.New("rdb: corrupt listpack")

const listpackEnd = 0xFF

// decodeListpack returns the entries of a serialized listpack. Integer
// entries are returned in their decimal form.
func decodeListpack(b []byte) ([][]byte, error) {
	if len(b) < 7 {
		return nil, errListpackCorrupt
	}
	total := binary.LittleEndian.Uint32(b[0:4])
	if int(total) != len(b) {
		return nil, fmt.Errorf("%w: size %d, header says %d", errListpackCorrupt, len(b), total)
	}

	var out [][]byte
	pos := 6
	for {
		if pos >= len(b) {
			return nil, errListpackCorrupt
		}
		if b[pos] == listpackEnd {
			return out, nil
		}
		entry, n, err := decodeListpackEntry(b[pos:])
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
		pos += n + backlenSize(n)
	}
}

// decodeListpackEntry decodes the entry at the start of b and returns it
// with the length of its encoding and data, excluding the backlen.
func decodeListpackEntry(b []byte) ([]byte, int, error) {
	need := func(n int) error {
		if len(b) < n {
			return errListpackCorrupt
		}
		return nil
	}
	itoa := func(v int64) []byte { return strconv.AppendInt(nil, v, 10) }

	c := b[0]
	switch {
	case c&0x80 == 0:
		return itoa(int64(c & 0x7F)), 1, nil

	case c&0xC0 == 0x80:
		n := int(c & 0x3F)
		if err := need(1 + n); err != nil {
			return nil, 0, err
		}
		return append([]byte(nil), b[1:1+n]...), 1 + n, nil

	case c&0xE0 == 0xC0:
		if err := need(2); err != nil {
			return nil, 0, err
		}
		v := int64(c&0x1F)<<8 | int64(b[1])
		if v >= 1<<12 {
			v -= 1 << 13
		}
		return itoa(v), 2, nil

	case c&0xF0 == 0xE0:
		if err := need(2); err != nil {
			return nil, 0, err
		}
		n := int(c&0x0F)<<8 | int(b[1])
		if err := need(2 + n); err != nil {
			return nil, 0, err
		}
		return append([]byte(nil), b[2:2+n]...), 2 + n, nil
	}

	switch c {
	case 0xF0:
		if err := need(5); err != nil {
			return nil, 0, err
		}
		n := int(binary.LittleEndian.Uint32(b[1:5]))
		if n < 0 || len(b)-5 < n {
			return nil, 0, errListpackCorrupt
		}
		return append([]byte(nil), b[5:5+n]...), 5 + n, nil
	case 0xF1:
		if err := need(3); err != nil {
			return nil, 0, err
		}
		return itoa(int64(int16(binary.LittleEndian.Uint16(b[1:3])))), 3, nil
	case 0xF2:
		if err := need(4); err != nil {
			return nil, 0, err
		}
		v := int32(uint32(b[1])<<8|uint32(b[2])<<16|uint32(b[3])<<24) >> 8
		return itoa(int64(v)), 4, nil
	case 0xF3:
		if err := need(5); err != nil {
			return nil, 0, err
		}
		return itoa(int64(int32(binary.LittleEndian.Uint32(b[1:5])))), 5, nil
	case 0xF4:
		if err := need(9); err != nil {
			return nil, 0, err
		}
		return itoa(int64(binary.LittleEndian.Uint64(b[1:9]))), 9, nil
	}
	return nil, 0, fmt.Errorf("%w: unknown encoding 0x%02x", errListpackCorrupt, c)
}

// backlenSize returns how many bytes encode an entry length of n
func backlenSize(n int) int {
	switch {
	case n <= 127:
		return 1
	case n < 16383:
		return 2
	case n < 2097151:
		return 3
	case n < 268435455:
		return 4
	}
	return 5
}

func appendBacklen(dst []byte, n int) []byte {
	switch backlenSize(n) {
	case 1:
		return append(dst, byte(n))
	case 2:
		return append(dst, byte(n>>7), byte(n&127)|128)
	case 3:
		return append(dst, byte(n>>14), byte((n>>7)&127)|128, byte(n&127)|128)
	case 4:
		return append(dst, byte(n>>21), byte((n>>14)&127)|128, byte((n>>7)&127)|128, byte(n&127)|128)
	}
	return append(dst, byte(n>>28), byte((n>>21)&127)|128, byte((n>>14)&127)|128, byte((n>>7)&127)|128, byte(n&127)|128)
}

// listpackBuilder serializes entries in the listpack format
type listpackBuilder struct {
	buf   []byte
	count int
}

func newListpackBuilder() *listpackBuilder {
	return &listpackBuilder{buf: make([]byte, 6, 256)}
}

// appendInt adds v using the smallest integer encoding that holds it
func (lp *listpackBuilder) appendInt(v int64) {
	start := len(lp.buf)
	switch {
	case v >= 0 && v <= 127:
		lp.buf = append(lp.buf, byte(v))
	case v >= -4096 && v <= 4095:
		u := uint16(v) & 0x1FFF
		lp.buf = append(lp.buf, byte(u>>8)|0xC0, byte(u))
	case v >= math.MinInt16 && v <= math.MaxInt16:
		lp.buf = append(lp.buf, 0xF1, byte(v), byte(v>>8))
	case v >= -1<<23 && v < 1<<23:
		lp.buf = append(lp.buf, 0xF2, byte(v), byte(v>>8), byte(v>>16))
	case v >= math.MinInt32 && v <= math.MaxInt32:
		lp.buf = binary.LittleEndian.AppendUint32(append(lp.buf, 0xF3), uint32(v))
	default:
		lp.buf = binary.LittleEndian.AppendUint64(append(lp.buf, 0xF4), uint64(v))
	}
	lp.finishEntry(start)
}

func (lp *listpackBuilder) appendString(b []byte) {
	start := len(lp.buf)
	n := len(b)
	switch {
	case n < 64:
		lp.buf = append(lp.buf, 0x80|byte(n))
	case n < 4096:
		lp.buf = append(lp.buf, 0xE0|byte(n>>8), byte(n))
	default:
		lp.buf = binary.LittleEndian.AppendUint32(append(lp.buf, 0xF0), uint32(n))
	}
	lp.buf = append(lp.buf, b...)
	lp.finishEntry(start)
}

func (lp *listpackBuilder) finishEntry(start int) {
	lp.buf = appendBacklen(lp.buf, len(lp.buf)-start)
	lp.count++
}

// bytes terminates the listpack and fills in its header
func (lp *listpackBuilder) bytes() []byte {
	lp.buf = append(lp.buf, listpackEnd)
	binary.LittleEndian.PutUint32(lp.buf[0:4], uint32(len(lp.buf)))
	binary.LittleEndian.PutUint16(lp.buf[4:6], uint16(min(lp.count, math.MaxUint16)))
	return lp.buf
}

// decodeIntset returns the integers of a serialized intset
func decodeIntset(b []byte) ([]int64, error) {
	if len(b) < 8 {
		return nil, errors.New("rdb: corrupt intset")
	}
	width := int(binary.LittleEndian.Uint32(b[0:4]))
	count := int(binary.LittleEndian.Uint32(b[4:8]))
	if width != 2 && width != 4 && width != 8 {
		return nil, fmt.Errorf("rdb: invalid intset encoding %d", width)
	}
	if count < 0 || len(b)-8 != count*width {
		return nil, errors.New("rdb: corrupt intset")
	}

	out := make([]int64, count)
	for i := range out {
		p := b[8+i*width:]
		switch width {
		case 2:
			out[i] = int64(int16(binary.LittleEndian.Uint16(p)))
		case 4:
			out[i] = int64(int32(binary.LittleEndian.Uint32(p)))
		case 8:
			out[i] = int64(binary.LittleEndian.Uint64(p))
		}
	}
	return out, nil
}
