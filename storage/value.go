package storage

import (
	"errors"
	"time"
)

// ValueType represents the Redis data type
type ValueType int

const (
	ValueTypeString ValueType = iota
	ValueTypeList
	ValueTypeSet
	ValueTypeZSet
	ValueTypeHash
	ValueTypeStream
)

// String returns the Redis-compatible type name
func (vt ValueType) String() string {
	switch vt {
	case ValueTypeString:
		return "string"
	case ValueTypeList:
		return "list"
	case ValueTypeSet:
		return "set"
	case ValueTypeZSet:
		return "zset"
	case ValueTypeHash:
		return "hash"
	case ValueTypeStream:
		return "stream"
	default:
		return "none"
	}
}

var (
	// ErrWrongType is returned when a key holds a different kind of value
	ErrWrongType = errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")

	// ErrNotInteger is returned when a string value cannot be used as an integer
	ErrNotInteger = errors.New("ERR value is not an integer or out of range")

	// ErrOverflow is returned when an increment would overflow
	ErrOverflow = errors.New("ERR increment or decrement would overflow")
)

// Value represents a stored value with metadata. Data holds one of
// *StringValue, *ListValue, *SetValue, *ZSetValue, *HashValue or
// *StreamValue according to Type.
type Value struct {
	Type     ValueType
	Data     interface{}
	ExpireAt time.Time // zero means no expiry
}

// HasExpiry reports whether an expiry instant is set
func (v *Value) HasExpiry() bool {
	return !v.ExpireAt.IsZero()
}

// IsExpired returns true if the value has expired at now
func (v *Value) IsExpired(now time.Time) bool {
	return v.HasExpiry() && !v.ExpireAt.After(now)
}

// StringValue represents a string value
type StringValue struct {
	Data []byte
}

// ListValue represents a list value
type ListValue struct {
	Elements [][]byte
}

// SetValue represents a set value
type SetValue struct {
	Members map[string]struct{}
}

// HashValue represents a hash value
type HashValue struct {
	Fields map[string][]byte
}

// NewString returns a string value
func NewString(data []byte) *Value {
	return &Value{Type: ValueTypeString, Data: &StringValue{Data: data}}
}

func newList() *Value {
	return &Value{Type: ValueTypeList, Data: &ListValue{}}
}

func newSet() *Value {
	return &Value{Type: ValueTypeSet, Data: &SetValue{Members: make(map[string]struct{})}}
}

func newHash() *Value {
	return &Value{Type: ValueTypeHash, Data: &HashValue{Fields: make(map[string][]byte)}}
}

func newZSet() *Value {
	return &Value{Type: ValueTypeZSet, Data: NewZSetValue()}
}

func newStream() *Value {
	return &Value{Type: ValueTypeStream, Data: &StreamValue{}}
}

// empty reports whether a collection value has no elements left
func (v *Value) empty() bool {
	switch d := v.Data.(type) {
	case *ListValue:
		return len(d.Elements) == 0
	case *SetValue:
		return len(d.Members) == 0
	case *HashValue:
		return len(d.Fields) == 0
	case *ZSetValue:
		return d.Len() == 0
	}
	return false
}
