package server

import (
	"github.com/raniellyferreira/redis-inmemory-server/protocol"
)

func pushCommand(c *call) protocol.Value {
	n, err := c.srv.store.ListPush(c.arg(0), c.name == "lpush", c.args[1:]...)
	if err != nil {
		return errorReply(err)
	}
	return protocol.Integer(int64(n))
}

// popCommand implements LPOP and RPOP. With a count the reply is an
// array, null when the key does not exist.
func popCommand(c *call) protocol.Value {
	if len(c.args) > 2 {
		return c.wrongArgs()
	}
	store := c.srv.store
	key := c.arg(0)
	left := c.name == "lpop"

	if len(c.args) == 1 {
		items, err := store.ListPop(key, left, 1)
		if err != nil {
			return errorReply(err)
		}
		if len(items) == 0 {
			return protocol.NullBulk()
		}
		return protocol.BulkBytes(items[0])
	}

	count, ok := parseInt(c.args[1])
	if !ok || count < 0 {
		return errNotPositive
	}
	list, err := store.List(key)
	if err != nil {
		return errorReply(err)
	}
	if list == nil {
		return protocol.NullArray()
	}
	if count == 0 {
		return protocol.Array()
	}
	items, _ := store.ListPop(key, left, int(min(count, int64(len(list.Elements)))))
	return protocol.BytesArray(items)
}

// blpopCommand pops from the first non-empty list among its keys, waiting
// for one to be pushed to when all are empty. It propagates as LPOP.
func blpopCommand(c *call) protocol.Value {
	keys := c.stringArgs(0)
	keys = keys[:len(keys)-1]
	timeout, errReply, ok := parseTimeout(c.args[len(c.args)-1])
	if !ok {
		return errReply
	}

	v, ok := c.block(keys, timeout, func() (protocol.Value, bool) {
		store := c.srv.store
		for _, key := range keys {
			list, err := store.List(key)
			if err != nil {
				return errorReply(err), true
			}
			if list == nil || len(list.Elements) == 0 {
				continue
			}
			items, _ := store.ListPop(key, true, 1)
			c.rewrite = protocol.NewCommand("LPOP", key).Value()
			return protocol.Array(protocol.Bulk(key), protocol.BulkBytes(items[0])), true
		}
		return protocol.Value{}, false
	})
	if !ok {
		return protocol.NullArray()
	}
	return v
}

func lrangeCommand(c *call) protocol.Value {
	start, ok1 := parseInt(c.args[1])
	stop, ok2 := parseInt(c.args[2])
	if !ok1 || !ok2 {
		return errNotInteger
	}
	list, err := c.srv.store.List(c.arg(0))
	if err != nil {
		return errorReply(err)
	}
	if list == nil {
		return protocol.Array()
	}
	lo, hi, ok := normalizeRange(start, stop, len(list.Elements))
	if !ok {
		return protocol.Array()
	}
	return protocol.BytesArray(list.Elements[lo : hi+1])
}

func llenCommand(c *call) protocol.Value {
	list, err := c.srv.store.List(c.arg(0))
	if err != nil {
		return errorReply(err)
	}
	if list == nil {
		return protocol.Integer(0)
	}
	return protocol.Integer(int64(len(list.Elements)))
}
