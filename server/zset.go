package server

import (
	"math"

	"github.com/raniellyferreira/redis-inmemory-server/protocol"
	"github.com/raniellyferreira/redis-inmemory-server/storage"
)

var errNaNScore = protocol.ErrorValue("ERR resulting score is not a number (NaN)")

// zaddCommand implements ZADD key [NX|XX] [GT|LT] [CH] [INCR] score member ...
func zaddCommand(c *call) protocol.Value {
	var nx, xx, gt, lt, ch, incr bool
	i := 1
options:
	for ; i < len(c.args); i++ {
		switch {
		case equalFold(c.args[i], "NX"):
			nx = true
		case equalFold(c.args[i], "XX"):
			xx = true
		case equalFold(c.args[i], "GT"):
			gt = true
		case equalFold(c.args[i], "LT"):
			lt = true
		case equalFold(c.args[i], "CH"):
			ch = true
		case equalFold(c.args[i], "INCR"):
			incr = true
		default:
			break options
		}
	}
	pairs := c.args[i:]
	if len(pairs) == 0 || len(pairs)%2 != 0 {
		return errSyntax
	}
	if nx && xx {
		return protocol.ErrorValue("ERR XX and NX options at the same time are not compatible")
	}
	if (gt && lt) || (nx && (gt || lt)) {
		return protocol.ErrorValue("ERR GT, LT, and/or NX options at the same time are not compatible")
	}
	if incr && len(pairs) > 2 {
		return protocol.ErrorValue("ERR INCR option supports a single increment-element pair")
	}

	scores := make([]float64, len(pairs)/2)
	for j := range scores {
		f, ok := parseFloat(pairs[2*j])
		if !ok {
			return errNotFloat
		}
		scores[j] = f
	}

	store := c.srv.store
	key := c.arg(0)
	z, err := store.ZSetFor(key)
	if err != nil {
		return errorReply(err)
	}

	added, changed := 0, 0
	var last float64
	skipped := false
	for j, score := range scores {
		member := string(pairs[2*j+1])
		old, exists := z.Score(member)
		if (nx && exists) || (xx && !exists) {
			skipped = true
			continue
		}
		if incr && exists {
			score += old
			if math.IsNaN(score) {
				store.DeleteIfEmpty(key)
				return errNaNScore
			}
		}
		if exists && ((gt && score <= old) || (lt && score >= old)) {
			skipped = true
			continue
		}
		last = score
		if !exists {
			z.Add(member, score)
			added++
		} else if old != score {
			z.Add(member, score)
			changed++
		}
	}

	if added+changed > 0 {
		store.Touch(key)
	}
	store.DeleteIfEmpty(key)

	if incr {
		if skipped {
			return protocol.Null()
		}
		return floatReply(c, last)
	}
	if ch {
		return protocol.Integer(int64(added + changed))
	}
	return protocol.Integer(int64(added))
}

func zincrbyCommand(c *call) protocol.Value {
	delta, ok := parseFloat(c.args[1])
	if !ok {
		return errNotFloat
	}
	store := c.srv.store
	key := c.arg(0)
	z, err := store.ZSetFor(key)
	if err != nil {
		return errorReply(err)
	}
	member := c.arg(2)
	score, _ := z.Score(member)
	score += delta
	if math.IsNaN(score) {
		store.DeleteIfEmpty(key)
		return errNaNScore
	}
	z.Add(member, score)
	store.Touch(key)
	return floatReply(c, score)
}

func zcardCommand(c *call) protocol.Value {
	z, err := c.srv.store.ZSet(c.arg(0))
	if err != nil {
		return errorReply(err)
	}
	if z == nil {
		return protocol.Integer(0)
	}
	return protocol.Integer(int64(z.Len()))
}

// parseScoreBound parses a ZRANGEBYSCORE style bound: a float, an
// infinity, or either prefixed with '(' for an exclusive bound
func parseScoreBound(b []byte) (storage.ScoreBound, bool) {
	var bound storage.ScoreBound
	if len(b) > 0 && b[0] == '(' {
		bound.Exclusive = true
		b = b[1:]
	}
	f, ok := parseFloat(b)
	if !ok {
		return bound, false
	}
	bound.Value = f
	return bound, true
}

var errScoreBound = protocol.ErrorValue("ERR min or max is not a float")

func zcountCommand(c *call) protocol.Value {
	lo, ok1 := parseScoreBound(c.args[1])
	hi, ok2 := parseScoreBound(c.args[2])
	if !ok1 || !ok2 {
		return errScoreBound
	}
	z, err := c.srv.store.ZSet(c.arg(0))
	if err != nil {
		return errorReply(err)
	}
	if z == nil {
		return protocol.Integer(0)
	}
	return protocol.Integer(int64(z.Count(lo, hi)))
}

// zrankCommand implements ZRANK key member [WITHSCORE]
func zrankCommand(c *call) protocol.Value {
	withScore := false
	switch {
	case len(c.args) == 3 && equalFold(c.args[2], "WITHSCORE"):
		withScore = true
	case len(c.args) != 2:
		return errSyntax
	}
	z, err := c.srv.store.ZSet(c.arg(0))
	if err != nil {
		return errorReply(err)
	}
	if z == nil {
		return protocol.Null()
	}
	rank, ok := z.Rank(c.arg(1))
	if !ok {
		return protocol.Null()
	}
	if withScore {
		score, _ := z.Score(c.arg(1))
		return protocol.Array(protocol.Integer(int64(rank)), floatReply(c, score))
	}
	return protocol.Integer(int64(rank))
}

// zrangeCommand implements ZRANGE key start stop [BYSCORE] [REV]
// [LIMIT offset count] [WITHSCORES]
func zrangeCommand(c *call) protocol.Value {
	var byScore, rev, withScores, hasLimit bool
	var offset, count int64
	for i := 3; i < len(c.args); i++ {
		switch {
		case equalFold(c.args[i], "BYSCORE"):
			byScore = true
		case equalFold(c.args[i], "REV"):
			rev = true
		case equalFold(c.args[i], "WITHSCORES"):
			withScores = true
		case equalFold(c.args[i], "LIMIT") && i+2 < len(c.args):
			var ok1, ok2 bool
			offset, ok1 = parseInt(c.args[i+1])
			count, ok2 = parseInt(c.args[i+2])
			if !ok1 || !ok2 {
				return errNotInteger
			}
			hasLimit = true
			i += 2
		default:
			return errSyntax
		}
	}
	if hasLimit && !byScore {
		return protocol.ErrorValue("ERR syntax error, LIMIT is only supported in combination with either BYSCORE or BYLEX")
	}

	z, err := c.srv.store.ZSet(c.arg(0))
	if err != nil {
		return errorReply(err)
	}

	var members []storage.ZSetMember
	if byScore {
		lo, ok1 := parseScoreBound(c.args[1])
		hi, ok2 := parseScoreBound(c.args[2])
		if !ok1 || !ok2 {
			return errScoreBound
		}
		if rev {
			lo, hi = hi, lo
		}
		if z != nil {
			members = z.RangeByScore(lo, hi)
		}
		if rev {
			reverseMembers(members)
		}
		if hasLimit {
			members = applyLimit(members, offset, count)
		}
	} else {
		start, ok1 := parseInt(c.args[1])
		stop, ok2 := parseInt(c.args[2])
		if !ok1 || !ok2 {
			return errNotInteger
		}
		if z != nil {
			if lo, hi, ok := normalizeRange(start, stop, z.Len()); ok {
				if rev {
					n := z.Len()
					lo, hi = n-1-hi, n-1-lo
				}
				members = z.Range(lo, hi)
				if rev {
					reverseMembers(members)
				}
			}
		}
	}

	return memberReply(c, members, withScores)
}

func reverseMembers(m []storage.ZSetMember) {
	for i, j := 0, len(m)-1; i < j; i, j = i+1, j-1 {
		m[i], m[j] = m[j], m[i]
	}
}

func applyLimit(m []storage.ZSetMember, offset, count int64) []storage.ZSetMember {
	if offset < 0 || offset >= int64(len(m)) {
		return nil
	}
	m = m[offset:]
	if count >= 0 && count < int64(len(m)) {
		m = m[:count]
	}
	return m
}

// memberReply renders members, with scores as [member, score] pairs in
// RESP3 and interleaved in RESP2
func memberReply(c *call, members []storage.ZSetMember, withScores bool) protocol.Value {
	items := make([]protocol.Value, 0, len(members))
	for _, m := range members {
		switch {
		case !withScores:
			items = append(items, protocol.Bulk(m.Member))
		case c.sess.proto >= protocol.RESP3:
			items = append(items, protocol.Array(protocol.Bulk(m.Member), protocol.Double(m.Score)))
		default:
			items = append(items, protocol.Bulk(m.Member), protocol.Bulk(formatFloat(m.Score)))
		}
	}
	return protocol.Array(items...)
}

func zremCommand(c *call) protocol.Value {
	store := c.srv.store
	key := c.arg(0)
	z, err := store.ZSet(key)
	if err != nil {
		return errorReply(err)
	}
	if z == nil {
		return protocol.Integer(0)
	}
	removed := 0
	for _, m := range c.args[1:] {
		if z.Remove(string(m)) {
			removed++
		}
	}
	if removed > 0 {
		store.Touch(key)
		store.DeleteIfEmpty(key)
	}
	return protocol.Integer(int64(removed))
}

func zscoreCommand(c *call) protocol.Value {
	z, err := c.srv.store.ZSet(c.arg(0))
	if err != nil {
		return errorReply(err)
	}
	if z == nil {
		return protocol.NullBulk()
	}
	score, ok := z.Score(c.arg(1))
	if !ok {
		return protocol.NullBulk()
	}
	return floatReply(c, score)
}
