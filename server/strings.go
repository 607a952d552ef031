package server

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/raniellyferreira/redis-inmemory-server/protocol"
)

// setCommand implements SET key value [NX|XX] [GET]
// [EX s|PX ms|EXAT ts|PXAT ms-ts|KEEPTTL]
func setCommand(c *call) protocol.Value {
	store := c.srv.store
	key := c.arg(0)
	value := c.args[1]

	var (
		nx, xx, get, keepTTL bool
		expiry               string
		at                   time.Time
	)
	for i := 2; i < len(c.args); i++ {
		opt := c.args[i]
		switch {
		case equalFold(opt, "NX") && !xx:
			nx = true
		case equalFold(opt, "XX") && !nx:
			xx = true
		case equalFold(opt, "GET"):
			get = true
		case equalFold(opt, "KEEPTTL") && expiry == "":
			keepTTL = true
		case (equalFold(opt, "EX") || equalFold(opt, "PX") || equalFold(opt, "EXAT") || equalFold(opt, "PXAT")) &&
			expiry == "" && !keepTTL && i+1 < len(c.args):
			expiry = strings.ToUpper(string(opt))
			n, ok := parseInt(c.args[i+1])
			if !ok {
				return errNotInteger
			}
			if n <= 0 {
				return errExpireTime
			}
			var overflow bool
			if at, overflow = expiryInstant(expiry, n, store.Now()); overflow {
				return errExpireTime
			}
			i++
		default:
			return errSyntax
		}
	}

	var old protocol.Value
	if get {
		data, ok, err := store.String(key)
		switch {
		case err != nil:
			return errorReply(err)
		case ok:
			old = protocol.BulkBytes(data)
		default:
			old = protocol.NullBulk()
		}
	}

	current, exists := store.Lookup(key)
	if (nx && exists) || (xx && !exists) {
		if get {
			return old
		}
		return protocol.NullBulk()
	}

	if keepTTL && exists {
		at = current.ExpireAt
	}
	store.SetString(key, value, at)

	if at.IsZero() {
		c.rewrite = protocol.NewCommand("SET", key, string(value)).Value()
	} else {
		c.rewrite = protocol.NewCommand("SET", key, string(value), "PXAT", strconv.FormatInt(at.UnixMilli(), 10)).Value()
	}

	if get {
		return old
	}
	return protocol.OK
}

// expiryInstant converts a SET expiry option to an absolute instant. The
// bool result reports overflow.
func expiryInstant(unit string, n int64, now time.Time) (time.Time, bool) {
	switch unit {
	case "EX":
		if n > (math.MaxInt64-now.UnixMilli())/1000 {
			return time.Time{}, true
		}
		return time.UnixMilli(now.UnixMilli() + n*1000), false
	case "PX":
		if n > math.MaxInt64-now.UnixMilli() {
			return time.Time{}, true
		}
		return time.UnixMilli(now.UnixMilli() + n), false
	case "EXAT":
		if n > math.MaxInt64/1000 {
			return time.Time{}, true
		}
		return time.UnixMilli(n * 1000), false
	}
	return time.UnixMilli(n), false
}

func getCommand(c *call) protocol.Value {
	data, ok, err := c.srv.store.String(c.arg(0))
	if err != nil {
		return errorReply(err)
	}
	if !ok {
		return protocol.NullBulk()
	}
	return protocol.BulkBytes(data)
}

// mgetCommand replies null for keys that are missing or not strings
func mgetCommand(c *call) protocol.Value {
	out := make([]protocol.Value, len(c.args))
	for i := range c.args {
		data, ok, err := c.srv.store.String(c.arg(i))
		if err != nil || !ok {
			out[i] = protocol.NullBulk()
			continue
		}
		out[i] = protocol.BulkBytes(data)
	}
	return protocol.Array(out...)
}

func msetCommand(c *call) protocol.Value {
	if len(c.args)%2 != 0 {
		return c.wrongArgs()
	}
	for i := 0; i < len(c.args); i += 2 {
		c.srv.store.SetString(c.arg(i), c.args[i+1], time.Time{})
	}
	return protocol.OK
}

// incrCommand implements INCR, INCRBY, DECR and DECRBY
func incrCommand(c *call) protocol.Value {
	delta := int64(1)
	if len(c.args) == 2 {
		n, ok := parseInt(c.args[1])
		if !ok {
			return errNotInteger
		}
		delta = n
	}
	if c.name == "decr" || c.name == "decrby" {
		if delta == math.MinInt64 {
			return protocol.ErrorValue("ERR decrement would overflow")
		}
		delta = -delta
	}

	n, err := c.srv.store.IncrBy(c.arg(0), delta)
	if err != nil {
		return errorReply(err)
	}
	return protocol.Integer(n)
}

func appendCommand(c *call) protocol.Value {
	n, err := c.srv.store.Append(c.arg(0), c.args[1])
	if err != nil {
		return errorReply(err)
	}
	return protocol.Integer(int64(n))
}

func strlenCommand(c *call) protocol.Value {
	data, _, err := c.srv.store.String(c.arg(0))
	if err != nil {
		return errorReply(err)
	}
	return protocol.Integer(int64(len(data)))
}
