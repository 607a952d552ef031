package server

import (
	"sort"

	"github.com/raniellyferreira/redis-inmemory-server/protocol"
)

func hsetCommand(c *call) protocol.Value {
	if len(c.args)%2 != 1 {
		return c.wrongArgs()
	}
	n, err := c.srv.store.HashSet(c.arg(0), c.args[1:]...)
	if err != nil {
		return errorReply(err)
	}
	return protocol.Integer(int64(n))
}

func hgetCommand(c *call) protocol.Value {
	h, err := c.srv.store.Hash(c.arg(0))
	if err != nil {
		return errorReply(err)
	}
	if h == nil {
		return protocol.NullBulk()
	}
	v, ok := h.Fields[c.arg(1)]
	if !ok {
		return protocol.NullBulk()
	}
	return protocol.BulkBytes(v)
}

func hdelCommand(c *call) protocol.Value {
	n, err := c.srv.store.HashDelete(c.arg(0), c.stringArgs(1)...)
	if err != nil {
		return errorReply(err)
	}
	return protocol.Integer(int64(n))
}

// hgetallCommand replies with a map in RESP3, a flat array in RESP2.
// Fields are sorted so replies are stable.
func hgetallCommand(c *call) protocol.Value {
	h, err := c.srv.store.Hash(c.arg(0))
	if err != nil {
		return errorReply(err)
	}
	if h == nil {
		return protocol.Map()
	}
	fields := make([]string, 0, len(h.Fields))
	for f := range h.Fields {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	pairs := make([]protocol.Value, 0, 2*len(fields))
	for _, f := range fields {
		pairs = append(pairs, protocol.Bulk(f), protocol.BulkBytes(h.Fields[f]))
	}
	return protocol.Map(pairs...)
}

func hlenCommand(c *call) protocol.Value {
	h, err := c.srv.store.Hash(c.arg(0))
	if err != nil {
		return errorReply(err)
	}
	if h == nil {
		return protocol.Integer(0)
	}
	return protocol.Integer(int64(len(h.Fields)))
}

func hexistsCommand(c *call) protocol.Value {
	h, err := c.srv.store.Hash(c.arg(0))
	if err != nil {
		return errorReply(err)
	}
	if h == nil {
		return protocol.Integer(0)
	}
	if _, ok := h.Fields[c.arg(1)]; ok {
		return protocol.Integer(1)
	}
	return protocol.Integer(0)
}

func saddCommand(c *call) protocol.Value {
	n, err := c.srv.store.SetAdd(c.arg(0), c.stringArgs(1)...)
	if err != nil {
		return errorReply(err)
	}
	return protocol.Integer(int64(n))
}

func sremCommand(c *call) protocol.Value {
	n, err := c.srv.store.SetRemove(c.arg(0), c.stringArgs(1)...)
	if err != nil {
		return errorReply(err)
	}
	return protocol.Integer(int64(n))
}

// smembersCommand replies with a set in RESP3, an array in RESP2, sorted
func smembersCommand(c *call) protocol.Value {
	set, err := c.srv.store.Set(c.arg(0))
	if err != nil {
		return errorReply(err)
	}
	if set == nil {
		return protocol.Set()
	}
	members := make([]string, 0, len(set.Members))
	for m := range set.Members {
		members = append(members, m)
	}
	sort.Strings(members)

	items := make([]protocol.Value, len(members))
	for i, m := range members {
		items[i] = protocol.Bulk(m)
	}
	return protocol.Set(items...)
}

func sismemberCommand(c *call) protocol.Value {
	set, err := c.srv.store.Set(c.arg(0))
	if err != nil {
		return errorReply(err)
	}
	if set == nil {
		return protocol.Integer(0)
	}
	if _, ok := set.Members[c.arg(1)]; ok {
		return protocol.Integer(1)
	}
	return protocol.Integer(0)
}

func scardCommand(c *call) protocol.Value {
	set, err := c.srv.store.Set(c.arg(0))
	if err != nil {
		return errorReply(err)
	}
	if set == nil {
		return protocol.Integer(0)
	}
	return protocol.Integer(int64(len(set.Members)))
}
