package persistence

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/raniellyferreira/redis-inmemory-server/storage"
)

// RDB format constants
const (
	MaxSupportedRDBVersion = 12

	RDBOpcodeFunction2    = 0xF5
	RDBOpcodeModuleAux    = 0xF7
	RDBOpcodeIdle         = 0xF8
	RDBOpcodeFreq         = 0xF9
	RDBOpcodeAux          = 0xFA
	RDBOpcodeResizeDB     = 0xFB
	RDBOpcodeExpiryMs     = 0xFC
	RDBOpcodeExpiry       = 0xFD
	RDBOpcodeDB           = 0xFE
	RDBOpcodeEOF          = 0xFF
	RDBTypeString         = 0
	RDBTypeList           = 1
	RDBTypeSet            = 2
	RDBTypeZSet           = 3
	RDBTypeHash           = 4
	RDBTypeZSet2          = 5
	RDBTypeSetIntset      = 11
	RDBTypeListQuicklist  = 14
	RDBTypeHashListpack   = 16
	RDBTypeZSetListpack   = 17
	RDBTypeListQuicklist2 = 18
	RDBTypeSetListpack    = 20

	rdbEncInt8  = 0
	rdbEncInt16 = 1
	rdbEncInt32 = 2
	rdbEncLZF   = 3

	maxStringLen = 512 * 1024 * 1024
)

// ErrChecksum is returned when the trailing CRC64 does not match
var ErrChecksum = errors.New("rdb: checksum mismatch")

// Handler receives decoded entries. Values are []byte for strings,
// [][]byte for lists, map[string]struct{} for sets, map[string][]byte for
// hashes, []storage.ZSetMember for sorted sets and *storage.StreamValue
// for streams.
type Handler interface {
	// OnDatabase is called when switching to a new database
	OnDatabase(index int) error

	// OnKey is called for each key-value pair. expireAt is zero when the
	// key has no expiry.
	OnKey(key []byte, value interface{}, expireAt time.Time) error

	// OnAux is called for auxiliary fields
	OnAux(key, value []byte) error

	// OnEnd is called when parsing is complete
	OnEnd() error
}

// Parser decodes an RDB stream
type Parser struct {
	br      *bufio.Reader
	handler Handler
	crc     uint64
	version int
}

// NewParser creates a parser over r
func NewParser(r io.Reader, handler Handler) *Parser {
	return &Parser{
		br:      bufio.NewReader(r),
		handler: handler,
	}
}

// Version returns the RDB version read from the header
func (p *Parser) Version() int {
	return p.version
}

// Parse decodes the whole stream, calling the handler for each entry
func (p *Parser) Parse() error {
	header := make([]byte, 9)
	if err := p.readFull(header); err != nil {
		return fmt.Errorf("failed to read RDB header: %w", err)
	}
	if string(header[:5]) != "REDIS" {
		return fmt.Errorf("invalid RDB magic: %q", header[:5])
	}
	version, err := strconv.Atoi(string(header[5:]))
	if err != nil {
		return fmt.Errorf("invalid RDB version: %q", header[5:])
	}
	if version > MaxSupportedRDBVersion {
		return fmt.Errorf("unsupported RDB version: %d (max supported: %d)", version, MaxSupportedRDBVersion)
	}
	p.version = version

	var expireAt time.Time
	for {
		opcode, err := p.readByte()
		if err != nil {
			return fmt.Errorf("failed to read opcode: %w", err)
		}

		switch opcode {
		case RDBOpcodeEOF:
			return p.finish()

		case RDBOpcodeDB:
			db, err := p.readLength()
			if err != nil {
				return fmt.Errorf("failed to read database number: %w", err)
			}
			if err := p.handler.OnDatabase(int(db)); err != nil {
				return err
			}

		case RDBOpcodeExpiry:
			var buf [4]byte
			if err := p.readFull(buf[:]); err != nil {
				return fmt.Errorf("failed to read expiry: %w", err)
			}
			expireAt = time.Unix(int64(binary.LittleEndian.Uint32(buf[:])), 0)

		case RDBOpcodeExpiryMs:
			var buf [8]byte
			if err := p.readFull(buf[:]); err != nil {
				return fmt.Errorf("failed to read expiry: %w", err)
			}
			expireAt = time.UnixMilli(int64(binary.LittleEndian.Uint64(buf[:])))

		case RDBOpcodeResizeDB:
			if _, err := p.readLength(); err != nil {
				return err
			}
			if _, err := p.readLength(); err != nil {
				return err
			}

		case RDBOpcodeAux:
			key, err := p.readString()
			if err != nil {
				return fmt.Errorf("failed to read aux key: %w", err)
			}
			value, err := p.readString()
			if err != nil {
				return fmt.Errorf("failed to read aux value for key %s: %w", key, err)
			}
			if err := p.handler.OnAux(key, value); err != nil {
				return err
			}

		case RDBOpcodeIdle:
			if _, err := p.readLength(); err != nil {
				return err
			}

		case RDBOpcodeFreq:
			if _, err := p.readByte(); err != nil {
				return err
			}

		case RDBOpcodeModuleAux, RDBOpcodeFunction2:
			return fmt.Errorf("unsupported RDB opcode 0x%02x", opcode)

		default:
			key, err := p.readString()
			if err != nil {
				return fmt.Errorf("failed to read key: %w", err)
			}
			value, err := p.readValue(opcode)
			if err != nil {
				return fmt.Errorf("failed to read value for key %s: %w", key, err)
			}
			if err := p.handler.OnKey(key, value, expireAt); err != nil {
				return err
			}
			expireAt = time.Time{}
		}
	}
}

// finish verifies the trailing checksum. Version 5 and later append one;
// a zero checksum means it was disabled when the file was written.
func (p *Parser) finish() error {
	if p.version >= 5 {
		expected := p.crc
		var buf [8]byte
		if _, err := io.ReadFull(p.br, buf[:]); err != nil {
			return fmt.Errorf("failed to read checksum: %w", err)
		}
		if sum := binary.LittleEndian.Uint64(buf[:]); sum != 0 && sum != expected {
			return ErrChecksum
		}
	}
	return p.handler.OnEnd()
}

func (p *Parser) readByte() (byte, error) {
	b, err := p.br.ReadByte()
	if err != nil {
		return 0, err
	}
	p.crc = crc64Update(p.crc, []byte{b})
	return b, nil
}

func (p *Parser) readFull(buf []byte) error {
	if _, err := io.ReadFull(p.br, buf); err != nil {
		return err
	}
	p.crc = crc64Update(p.crc, buf)
	return nil
}

// readLength reads a length-encoded integer. The second result reports a
// special string encoding, in which case the first is the encoding type.
func (p *Parser) readLengthOrEncoding() (uint64, bool, error) {
	b, err := p.readByte()
	if err != nil {
		return 0, false, err
	}

	switch b >> 6 {
	case 0:
		return uint64(b & 0x3F), false, nil
	case 1:
		b2, err := p.readByte()
		if err != nil {
			return 0, false, err
		}
		return uint64(b&0x3F)<<8 | uint64(b2), false, nil
	case 2:
		switch b {
		case 0x80:
			var buf [4]byte
			if err := p.readFull(buf[:]); err != nil {
				return 0, false, err
			}
			return uint64(binary.BigEndian.Uint32(buf[:])), false, nil
		case 0x81:
			var buf [8]byte
			if err := p.readFull(buf[:]); err != nil {
				return 0, false, err
			}
			return binary.BigEndian.Uint64(buf[:]), false, nil
		}
		return 0, false, fmt.Errorf("invalid length encoding 0x%02x", b)
	default:
		return uint64(b & 0x3F), true, nil
	}
}

func (p *Parser) readLength() (uint64, error) {
	n, encoded, err := p.readLengthOrEncoding()
	if err != nil {
		return 0, err
	}
	if encoded {
		return 0, fmt.Errorf("unexpected string encoding %d where a length was expected", n)
	}
	return n, nil
}

func (p *Parser) readString() ([]byte, error) {
	n, encoded, err := p.readLengthOrEncoding()
	if err != nil {
		return nil, err
	}

	if !encoded {
		if n > maxStringLen {
			return nil, fmt.Errorf("string length too large: %d", n)
		}
		data := make([]byte, n)
		if err := p.readFull(data); err != nil {
			return nil, fmt.Errorf("failed to read string data: %w", err)
		}
		return data, nil
	}

	switch n {
	case rdbEncInt8:
		b, err := p.readByte()
		if err != nil {
			return nil, err
		}
		return strconv.AppendInt(nil, int64(int8(b)), 10), nil
	case rdbEncInt16:
		var buf [2]byte
		if err := p.readFull(buf[:]); err != nil {
			return nil, err
		}
		return strconv.AppendInt(nil, int64(int16(binary.LittleEndian.Uint16(buf[:]))), 10), nil
	case rdbEncInt32:
		var buf [4]byte
		if err := p.readFull(buf[:]); err != nil {
			return nil, err
		}
		return strconv.AppendInt(nil, int64(int32(binary.LittleEndian.Uint32(buf[:]))), 10), nil
	case rdbEncLZF:
		clen, err := p.readLength()
		if err != nil {
			return nil, err
		}
		ulen, err := p.readLength()
		if err != nil {
			return nil, err
		}
		if clen > maxStringLen || ulen > maxStringLen {
			return nil, fmt.Errorf("compressed string too large: %d/%d", clen, ulen)
		}
		compressed := make([]byte, clen)
		if err := p.readFull(compressed); err != nil {
			return nil, err
		}
		return lzfDecompress(compressed, int(ulen))
	}
	return nil, fmt.Errorf("invalid special string encoding: %d", n)
}

func (p *Parser) readBinaryDouble() (float64, error) {
	var buf [8]byte
	if err := p.readFull(buf[:]); err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(buf[:])), nil
}

// readStringDouble reads the length-prefixed ASCII score of RDB_TYPE_ZSET
func (p *Parser) readStringDouble() (float64, error) {
	n, err := p.readByte()
	if err != nil {
		return 0, err
	}
	switch n {
	case 253:
		return math.NaN(), nil
	case 254:
		return math.Inf(1), nil
	case 255:
		return math.Inf(-1), nil
	}
	buf := make([]byte, n)
	if err := p.readFull(buf); err != nil {
		return 0, err
	}
	return strconv.ParseFloat(string(buf), 64)
}

// readValue reads a value based on its type
func (p *Parser) readValue(valueType byte) (interface{}, error) {
	switch valueType {
	case RDBTypeString:
		return p.readString()

	case RDBTypeList:
		n, err := p.readLength()
		if err != nil {
			return nil, err
		}
		list := make([][]byte, 0, min(n, 1024))
		for i := uint64(0); i < n; i++ {
			element, err := p.readString()
			if err != nil {
				return nil, err
			}
			list = append(list, element)
		}
		return list, nil

	case RDBTypeSet:
		n, err := p.readLength()
		if err != nil {
			return nil, err
		}
		set := make(map[string]struct{})
		for i := uint64(0); i < n; i++ {
			member, err := p.readString()
			if err != nil {
				return nil, err
			}
			set[string(member)] = struct{}{}
		}
		return set, nil

	case RDBTypeZSet, RDBTypeZSet2:
		n, err := p.readLength()
		if err != nil {
			return nil, err
		}
		members := make([]storage.ZSetMember, 0, min(n, 1024))
		for i := uint64(0); i < n; i++ {
			member, err := p.readString()
			if err != nil {
				return nil, err
			}
			var score float64
			if valueType == RDBTypeZSet2 {
				score, err = p.readBinaryDouble()
			} else {
				score, err = p.readStringDouble()
			}
			if err != nil {
				return nil, err
			}
			members = append(members, storage.ZSetMember{Member: string(member), Score: score})
		}
		return members, nil

	case RDBTypeHash:
		n, err := p.readLength()
		if err != nil {
			return nil, err
		}
		hash := make(map[string][]byte)
		for i := uint64(0); i < n; i++ {
			field, err := p.readString()
			if err != nil {
				return nil, err
			}
			value, err := p.readString()
			if err != nil {
				return nil, err
			}
			hash[string(field)] = value
		}
		return hash, nil

	case RDBTypeSetIntset:
		blob, err := p.readString()
		if err != nil {
			return nil, err
		}
		ints, err := decodeIntset(blob)
		if err != nil {
			return nil, err
		}
		set := make(map[string]struct{}, len(ints))
		for _, v := range ints {
			set[strconv.FormatInt(v, 10)] = struct{}{}
		}
		return set, nil

	case RDBTypeSetListpack:
		entries, err := p.readListpack()
		if err != nil {
			return nil, err
		}
		set := make(map[string]struct{}, len(entries))
		for _, e := range entries {
			set[string(e)] = struct{}{}
		}
		return set, nil

	case RDBTypeHashListpack:
		entries, err := p.readListpack()
		if err != nil {
			return nil, err
		}
		if len(entries)%2 != 0 {
			return nil, errors.New("hash listpack with odd number of entries")
		}
		hash := make(map[string][]byte, len(entries)/2)
		for i := 0; i < len(entries); i += 2 {
			hash[string(entries[i])] = entries[i+1]
		}
		return hash, nil

	case RDBTypeZSetListpack:
		entries, err := p.readListpack()
		if err != nil {
			return nil, err
		}
		if len(entries)%2 != 0 {
			return nil, errors.New("zset listpack with odd number of entries")
		}
		members := make([]storage.ZSetMember, 0, len(entries)/2)
		for i := 0; i < len(entries); i += 2 {
			score, err := strconv.ParseFloat(string(entries[i+1]), 64)
			if err != nil {
				return nil, fmt.Errorf("invalid zset score %q", entries[i+1])
			}
			members = append(members, storage.ZSetMember{Member: string(entries[i]), Score: score})
		}
		return members, nil

	case RDBTypeListQuicklist2:
		return p.readQuicklist2()

	case RDBTypeStreamListpacks, RDBTypeStreamListpacks2, RDBTypeStreamListpacks3:
		return p.readStream(valueType)
	}

	return nil, fmt.Errorf("unsupported RDB value type %d", valueType)
}

func (p *Parser) readListpack() ([][]byte, error) {
	blob, err := p.readString()
	if err != nil {
		return nil, err
	}
	return decodeListpack(blob)
}

// readQuicklist2 reads a list stored as a sequence of nodes, each either a
// plain element (container 1) or a listpack (container 2)
func (p *Parser) readQuicklist2() (interface{}, error) {
	nodes, err := p.readLength()
	if err != nil {
		return nil, err
	}
	var list [][]byte
	for i := uint64(0); i < nodes; i++ {
		container, err := p.readLength()
		if err != nil {
			return nil, err
		}
		blob, err := p.readString()
		if err != nil {
			return nil, err
		}
		switch container {
		case 1:
			list = append(list, blob)
		case 2:
			entries, err := decodeListpack(blob)
			if err != nil {
				return nil, err
			}
			list = append(list, entries...)
		default:
			return nil, fmt.Errorf("unknown quicklist container %d", container)
		}
	}
	return list, nil
}

// ParseRDB is a convenience function to parse an RDB stream
func ParseRDB(r io.Reader, handler Handler) error {
	return NewParser(r, handler).Parse()
}
