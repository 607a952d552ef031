package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// ValueType represents the type of a RESP value
type ValueType byte

const (
	// RESP2 value types
	TypeSimpleString ValueType = '+'
	TypeError        ValueType = '-'
	TypeInteger      ValueType = ':'
	TypeBulkString   ValueType = '$'
	TypeArray        ValueType = '*'

	// RESP3 value types
	TypeNull      ValueType = '_'
	TypeBoolean   ValueType = '#'
	TypeDouble    ValueType = ','
	TypeBigNumber ValueType = '('
	TypeBulkError ValueType = '!'
	TypeVerbatim  ValueType = '='
	TypeMap       ValueType = '%'
	TypeAttribute ValueType = '|'
	TypeSet       ValueType = '~'
	TypePush      ValueType = '>'
)

// Protocol versions negotiated with HELLO
const (
	RESP2 = 2
	RESP3 = 3
)

// Value represents a parsed RESP value.
//
// Map and attribute values keep their entries flattened in Array as
// key, value, key, value. Verbatim strings keep the three byte format
// in Format and the text in Data.
type Value struct {
	Type    ValueType
	Data    []byte
	Integer int64
	Double  float64
	Bool    bool
	Format  string
	Array   []Value
	IsNull  bool
}

var (
	// OK is the +OK reply
	OK = SimpleString("OK")

	// Pong is the +PONG reply
	Pong = SimpleString("PONG")
)

// SimpleString returns a simple string value
func SimpleString(s string) Value {
	return Value{Type: TypeSimpleString, Data: []byte(s)}
}

// Errorf returns an error value with a formatted message
func Errorf(format string, args ...interface{}) Value {
	return Value{Type: TypeError, Data: []byte(fmt.Sprintf(format, args...))}
}

// ErrorValue returns an error value
func ErrorValue(msg string) Value {
	return Value{Type: TypeError, Data: []byte(msg)}
}

// Integer returns an integer value
func Integer(n int64) Value {
	return Value{Type: TypeInteger, Integer: n}
}

// Bulk returns a bulk string value
func Bulk(s string) Value {
	return Value{Type: TypeBulkString, Data: []byte(s)}
}

// BulkBytes returns a bulk string value holding b
func BulkBytes(b []byte) Value {
	if b == nil {
		b = []byte{}
	}
	return Value{Type: TypeBulkString, Data: b}
}

// NullBulk returns the RESP2 null bulk string
func NullBulk() Value {
	return Value{Type: TypeBulkString, IsNull: true}
}

// NullArray returns the RESP2 null array
func NullArray() Value {
	return Value{Type: TypeArray, IsNull: true}
}

// Null returns the RESP3 null value
func Null() Value {
	return Value{Type: TypeNull, IsNull: true}
}

// Boolean returns a RESP3 boolean
func Boolean(b bool) Value {
	return Value{Type: TypeBoolean, Bool: b}
}

// Double returns a RESP3 double
func Double(f float64) Value {
	return Value{Type: TypeDouble, Double: f}
}

// BigNumber returns a RESP3 big number from its decimal digits
func BigNumber(digits string) Value {
	return Value{Type: TypeBigNumber, Data: []byte(digits)}
}

// BulkError returns a RESP3 bulk error
func BulkError(msg string) Value {
	return Value{Type: TypeBulkError, Data: []byte(msg)}
}

// Verbatim returns a RESP3 verbatim string. format must be three bytes.
func Verbatim(format, text string) Value {
	return Value{Type: TypeVerbatim, Format: format, Data: []byte(text)}
}

// Array returns an array of the given values
func Array(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{Type: TypeArray, Array: items}
}

// Map returns a RESP3 map built from alternating keys and values
func Map(pairs ...Value) Value {
	if pairs == nil {
		pairs = []Value{}
	}
	return Value{Type: TypeMap, Array: pairs}
}

// Set returns a RESP3 set
func Set(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{Type: TypeSet, Array: items}
}

// Push returns a RESP3 out-of-band push value
func Push(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{Type: TypePush, Array: items}
}

// StringArray returns an array of bulk strings
func StringArray(items ...string) Value {
	out := make([]Value, len(items))
	for i, s := range items {
		out[i] = Bulk(s)
	}
	return Array(out...)
}

// BytesArray returns an array of bulk strings
func BytesArray(items [][]byte) Value {
	out := make([]Value, len(items))
	for i, b := range items {
		out[i] = BulkBytes(b)
	}
	return Array(out...)
}

// String returns a string representation of the value
func (v Value) String() string {
	switch v.Type {
	case TypeSimpleString, TypeError, TypeBulkError, TypeBigNumber, TypeVerbatim:
		return string(v.Data)
	case TypeInteger:
		return strconv.FormatInt(v.Integer, 10)
	case TypeBulkString:
		if v.IsNull {
			return "(nil)"
		}
		return string(v.Data)
	case TypeNull:
		return "(nil)"
	case TypeBoolean:
		return strconv.FormatBool(v.Bool)
	case TypeDouble:
		return formatDouble(v.Double)
	case TypeArray, TypeSet, TypePush, TypeMap, TypeAttribute:
		if v.IsNull {
			return "(nil)"
		}
		parts := make([]string, len(v.Array))
		for i, item := range v.Array {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return fmt.Sprintf("unknown type %c", v.Type)
	}
}

// Bytes returns the byte representation of the value
func (v Value) Bytes() []byte {
	return v.Data
}

// Int returns the integer value, or 0 if not an integer
func (v Value) Int() int64 {
	return v.Integer
}

// IsError returns true if this is an error value
func (v Value) IsError() bool {
	return v.Type == TypeError || v.Type == TypeBulkError
}

// Error returns the error message if this is an error value
func (v Value) Error() string {
	if v.IsError() {
		return string(v.Data)
	}
	return ""
}

// IsNil reports whether the value is any of the null encodings
func (v Value) IsNil() bool {
	return v.Type == TypeNull || v.IsNull
}

// IsAggregate reports whether the value is array shaped
func (v Value) IsAggregate() bool {
	switch v.Type {
	case TypeArray, TypeSet, TypePush, TypeMap, TypeAttribute:
		return !v.IsNull
	}
	return false
}

// Command represents a Redis command parsed from a RESP array
type Command struct {
	Name string
	Args [][]byte
}

// ParseCommand parses a RESP array value into a Command
func ParseCommand(v Value) (*Command, error) {
	if v.Type != TypeArray || len(v.Array) == 0 {
		return nil, fmt.Errorf("invalid command format")
	}

	cmd := &Command{
		Args: make([][]byte, len(v.Array)-1),
	}

	// First element is the command name
	if !isStringLike(v.Array[0].Type) {
		return nil, fmt.Errorf("command name must be bulk string")
	}
	cmd.Name = strings.ToUpper(string(v.Array[0].Data))

	for i := 1; i < len(v.Array); i++ {
		if !isStringLike(v.Array[i].Type) {
			return nil, fmt.Errorf("command arguments must be bulk strings")
		}
		cmd.Args[i-1] = v.Array[i].Data
	}

	return cmd, nil
}

func isStringLike(t ValueType) bool {
	return t == TypeBulkString || t == TypeSimpleString
}

// NewCommand builds a command from a name and string arguments
func NewCommand(name string, args ...string) *Command {
	cmd := &Command{Name: strings.ToUpper(name), Args: make([][]byte, len(args))}
	for i, a := range args {
		cmd.Args[i] = []byte(a)
	}
	return cmd
}

// Value returns the command as a RESP array of bulk strings, preserving
// the name as given.
func (c *Command) Value() Value {
	items := make([]Value, 0, len(c.Args)+1)
	items = append(items, Bulk(c.Name))
	for _, a := range c.Args {
		items = append(items, BulkBytes(a))
	}
	return Array(items...)
}

// String returns a string representation of the command
func (c *Command) String() string {
	args := make([]string, len(c.Args))
	for i, arg := range c.Args {
		args[i] = string(arg)
	}
	return c.Name + " " + strings.Join(args, " ")
}
