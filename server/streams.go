package server

import (
	"errors"
	"math"
	"strconv"
	"time"

	"github.com/raniellyferreira/redis-inmemory-server/protocol"
	"github.com/raniellyferreira/redis-inmemory-server/storage"
)

// xaddCommand implements XADD key [NOMKSTREAM] [MAXLEN [=|~] n] id
// field value [field value ...]. The resolved id is what replicas see.
func xaddCommand(c *call) protocol.Value {
	var opts storage.StreamAddOptions
	i := 1
options:
	for ; i < len(c.args); i++ {
		switch {
		case equalFold(c.args[i], "NOMKSTREAM"):
			opts.NoMkStream = true
		case equalFold(c.args[i], "MAXLEN") && i+1 < len(c.args):
			i++
			if string(c.args[i]) == "=" || string(c.args[i]) == "~" {
				i++
				if i >= len(c.args) {
					return errSyntax
				}
			}
			n, ok := parseInt(c.args[i])
			if !ok || n < 0 {
				return protocol.ErrorValue("ERR The MAXLEN argument must be >= 0.")
			}
			opts.HasMaxLen = true
			opts.MaxLen = int(n)
		default:
			break options
		}
	}
	rest := c.args[i:]
	if len(rest) < 3 || len(rest)%2 != 1 {
		return c.wrongArgs()
	}

	key := c.arg(0)
	id, err := c.srv.store.StreamAdd(key, string(rest[0]), rest[1:], opts)
	if errors.Is(err, storage.ErrNoStream) {
		return protocol.NullBulk()
	}
	if err != nil {
		return errorReply(err)
	}

	args := []string{key}
	if opts.HasMaxLen {
		args = append(args, "MAXLEN", strconv.Itoa(opts.MaxLen))
	}
	args = append(args, id.String())
	for _, f := range rest[1:] {
		args = append(args, string(f))
	}
	c.rewrite = protocol.NewCommand("XADD", args...).Value()
	return protocol.Bulk(id.String())
}

func xdelCommand(c *call) protocol.Value {
	ids := make([]storage.StreamID, len(c.args)-1)
	for i, a := range c.args[1:] {
		id, err := storage.ParseStreamID(string(a), 0)
		if err != nil {
			return errorReply(err)
		}
		ids[i] = id
	}
	store := c.srv.store
	key := c.arg(0)
	sv, err := store.Stream(key)
	if err != nil {
		return errorReply(err)
	}
	if sv == nil {
		return protocol.Integer(0)
	}
	n := sv.Delete(ids...)
	if n > 0 {
		store.Touch(key)
	}
	return protocol.Integer(int64(n))
}

func xlenCommand(c *call) protocol.Value {
	sv, err := c.srv.store.Stream(c.arg(0))
	if err != nil {
		return errorReply(err)
	}
	if sv == nil {
		return protocol.Integer(0)
	}
	return protocol.Integer(int64(sv.Len()))
}

// parseRangeBound parses an XRANGE bound. A '(' prefix makes it
// exclusive, which is turned into the adjacent inclusive id. ok is false
// when the exclusive bound leaves nothing to return.
func parseRangeBound(s string, start bool) (id storage.StreamID, ok bool, err error) {
	defSeq := uint64(0)
	if !start {
		defSeq = math.MaxUint64
	}
	if len(s) > 0 && s[0] == '(' {
		if s == "(-" || s == "(+" {
			return id, false, storage.ErrInvalidStreamID
		}
		id, err = storage.ParseStreamID(s[1:], defSeq)
		if err != nil {
			return id, false, err
		}
		if start {
			id, ok = id.Next()
		} else {
			id, ok = id.Prev()
		}
		return id, ok, nil
	}
	id, err = storage.ParseRangeID(s, defSeq)
	return id, err == nil, err
}

// xrangeCommand implements XRANGE key start end [COUNT n] and XREVRANGE
// key end start [COUNT n]
func xrangeCommand(c *call) protocol.Value {
	rev := c.name == "xrevrange"
	startArg, endArg := c.arg(1), c.arg(2)
	if rev {
		startArg, endArg = endArg, startArg
	}

	count := -1
	switch {
	case len(c.args) == 3:
	case len(c.args) == 5 && equalFold(c.args[3], "COUNT"):
		n, ok := parseInt(c.args[4])
		if !ok {
			return errNotInteger
		}
		count = int(max(n, 0))
	default:
		return errSyntax
	}

	start, ok1, err := parseRangeBound(startArg, true)
	if err != nil {
		return errorReply(err)
	}
	end, ok2, err := parseRangeBound(endArg, false)
	if err != nil {
		return errorReply(err)
	}

	sv, err := c.srv.store.Stream(c.arg(0))
	if err != nil {
		return errorReply(err)
	}
	if sv == nil || !ok1 || !ok2 || count == 0 {
		return protocol.Array()
	}

	limit := max(count, 0)
	var entries []storage.StreamEntry
	if rev {
		entries = sv.RevRange(end, start, limit)
	} else {
		entries = sv.Range(start, end, limit)
	}
	return entriesReply(entries)
}

func entriesReply(entries []storage.StreamEntry) protocol.Value {
	out := make([]protocol.Value, len(entries))
	for i, e := range entries {
		out[i] = protocol.Array(protocol.Bulk(e.ID.String()), protocol.BytesArray(e.Fields))
	}
	return protocol.Array(out...)
}

// xreadCommand implements XREAD [COUNT n] [BLOCK ms] STREAMS key ... id ...
// An id of $ means entries added after the call started.
func xreadCommand(c *call) protocol.Value {
	count := 0
	var (
		blocking bool
		timeout  time.Duration
	)
	i := 0
	for ; i < len(c.args); i++ {
		switch {
		case equalFold(c.args[i], "COUNT") && i+1 < len(c.args):
			n, ok := parseInt(c.args[i+1])
			if !ok {
				return errNotInteger
			}
			count = int(max(n, 0))
			i++
			continue
		case equalFold(c.args[i], "BLOCK") && i+1 < len(c.args):
			ms, ok := parseInt(c.args[i+1])
			if !ok {
				return protocol.ErrorValue("ERR timeout is not an integer or out of range")
			}
			if ms < 0 {
				return errNegTimeout
			}
			blocking = true
			timeout = time.Duration(ms) * time.Millisecond
			i++
			continue
		case equalFold(c.args[i], "STREAMS"):
		default:
			return errSyntax
		}
		break
	}
	if i >= len(c.args) {
		return errSyntax
	}
	streams := c.args[i+1:]
	if len(streams) == 0 || len(streams)%2 != 0 {
		return protocol.ErrorValue("ERR Unbalanced 'xread' list of streams: for each stream key an ID or '$' must be specified.")
	}
	n := len(streams) / 2
	keys := make([]string, n)
	for j := range keys {
		keys[j] = string(streams[j])
	}

	// Ids are resolved once, so $ keeps meaning "after this call started"
	// across wake-ups
	ids := make([]storage.StreamID, n)
	resolved := c.withLock(func() protocol.Value {
		for j, key := range keys {
			spec := string(streams[n+j])
			if spec == "$" {
				sv, err := c.srv.store.Stream(key)
				if err != nil {
					return errorReply(err)
				}
				if sv != nil {
					ids[j] = sv.LastID
				}
				continue
			}
			id, err := storage.ParseStreamID(spec, 0)
			if err != nil {
				return errorReply(err)
			}
			ids[j] = id
		}
		return noReply
	})
	if !isNoReply(resolved) {
		return resolved
	}

	try := func() (protocol.Value, bool) {
		var results []protocol.Value
		for j, key := range keys {
			sv, err := c.srv.store.Stream(key)
			if err != nil {
				return errorReply(err), true
			}
			if sv == nil {
				continue
			}
			entries := sv.After(ids[j], count)
			if len(entries) == 0 {
				continue
			}
			results = append(results, protocol.Bulk(key), entriesReply(entries))
		}
		if len(results) == 0 {
			return protocol.Value{}, false
		}
		return streamsReply(c, results), true
	}

	if !blocking {
		v := c.withLock(func() protocol.Value {
			if v, ok := try(); ok {
				return v
			}
			return protocol.NullArray()
		})
		return v
	}

	v, ok := c.block(keys, timeout, try)
	if !ok {
		return protocol.NullArray()
	}
	return v
}

// streamsReply groups key/entries pairs as a map in RESP3 and as an array
// of two element arrays in RESP2
func streamsReply(c *call, pairs []protocol.Value) protocol.Value {
	if c.sess.proto >= protocol.RESP3 {
		return protocol.Map(pairs...)
	}
	out := make([]protocol.Value, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, protocol.Array(pairs[i], pairs[i+1]))
	}
	return protocol.Array(out...)
}
