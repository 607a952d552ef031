package server

import (
	"github.com/raniellyferreira/redis-inmemory-server/protocol"
)

func multiCommand(c *call) protocol.Value {
	if c.sess.inMulti {
		return protocol.ErrorValue("ERR MULTI calls can not be nested")
	}
	c.sess.inMulti = true
	c.sess.queue = nil
	return protocol.OK
}

// execCommand runs the queued commands in order while holding the store
// lock. A failing command puts its error in the reply array and the rest
// still run; nothing is rolled back.
func execCommand(c *call) protocol.Value {
	sess := c.sess
	if !sess.inMulti {
		return protocol.ErrorValue("ERR EXEC without MULTI")
	}
	queue := sess.queue
	sess.inMulti = false
	sess.queue = nil

	results := make([]protocol.Value, len(queue))
	for i, cmd := range queue {
		results[i] = c.nestedCall(cmd)
	}
	return protocol.Array(results...)
}

func discardCommand(c *call) protocol.Value {
	if !c.sess.inMulti {
		return protocol.ErrorValue("ERR DISCARD without MULTI")
	}
	c.sess.inMulti = false
	c.sess.queue = nil
	return protocol.OK
}
