package server

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/raniellyferreira/redis-inmemory-server/protocol"
)

// Shared error replies
var (
	errSyntax      = protocol.ErrorValue("ERR syntax error")
	errNotInteger  = protocol.ErrorValue("ERR value is not an integer or out of range")
	errNotFloat    = protocol.ErrorValue("ERR value is not a valid float")
	errTimeout     = protocol.ErrorValue("ERR timeout is not a float or out of range")
	errNegTimeout  = protocol.ErrorValue("ERR timeout is negative")
	errExpireTime  = protocol.ErrorValue("ERR invalid expire time in 'set' command")
	errNotPositive = protocol.ErrorValue("ERR value is out of range, must be positive")
)

// errorReply renders err as an error reply, adding the generic ERR prefix
// when the message does not carry an error code already
func errorReply(err error) protocol.Value {
	msg := err.Error()
	if code, _, ok := strings.Cut(msg, " "); !ok || !isErrorCode(code) {
		msg = "ERR " + msg
	}
	return protocol.ErrorValue(msg)
}

func isErrorCode(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

func parseInt(b []byte) (int64, bool) {
	n, err := strconv.ParseInt(string(b), 10, 64)
	return n, err == nil
}

// parseFloat accepts the spellings Redis does for infinities
func parseFloat(b []byte) (float64, bool) {
	switch strings.ToLower(string(b)) {
	case "inf", "+inf":
		return math.Inf(1), true
	case "-inf":
		return math.Inf(-1), true
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// parseTimeout parses a blocking timeout given in seconds, possibly
// fractional. Zero means wait forever.
func parseTimeout(b []byte) (time.Duration, protocol.Value, bool) {
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errTimeout, false
	}
	if f < 0 {
		return 0, errNegTimeout, false
	}
	return time.Duration(f * float64(time.Second)), protocol.Value{}, true
}

// formatFloat formats a score the way Redis replies with it
func formatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// floatReply is a double in RESP3 and a bulk string in RESP2
func floatReply(c *call, f float64) protocol.Value {
	if c.sess.proto >= protocol.RESP3 {
		return protocol.Double(f)
	}
	return protocol.Bulk(formatFloat(f))
}

// normalizeRange converts Redis start/stop indexes, which may be negative,
// to a [start, stop] slice range within length. ok is false when the range
// is empty.
func normalizeRange(start, stop int64, length int) (int, int, bool) {
	n := int64(length)
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return 0, 0, false
	}
	return int(start), int(stop), true
}

func equalFold(b []byte, s string) bool {
	return strings.EqualFold(string(b), s)
}
