package server

import (
	"sort"
	"strings"

	"github.com/raniellyferreira/redis-inmemory-server/protocol"
	"github.com/raniellyferreira/redis-inmemory-server/pubsub"
)

var errSubscribeNested = protocol.ErrorValue("ERR Command not allowed inside a transaction")

// subscribeCommand implements SUBSCRIBE and PSUBSCRIBE. Each channel is
// confirmed with its own push frame, so the handler writes its replies
// itself.
func subscribeCommand(c *call) protocol.Value {
	if c.nested {
		return errSubscribeNested
	}
	sess := c.sess
	pattern := c.name == "psubscribe"
	kind, registry := "subscribe", sess.channels
	if pattern {
		kind, registry = "psubscribe", sess.patterns
	}

	for _, name := range c.stringArgs(0) {
		if _, ok := registry[name]; !ok {
			if pattern {
				registry[name] = c.srv.broker.PSubscribe(name, sess)
			} else {
				registry[name] = c.srv.broker.Subscribe(name, sess)
			}
		}
		confirm := protocol.Push(protocol.Bulk(kind), protocol.Bulk(name), protocol.Integer(int64(sess.subscriptions())))
		if !sess.send(reply{value: confirm}) {
			break
		}
	}
	return noReply
}

// unsubscribeCommand implements UNSUBSCRIBE and PUNSUBSCRIBE. Without
// arguments every channel (or pattern) is dropped.
func unsubscribeCommand(c *call) protocol.Value {
	if c.nested {
		return errSubscribeNested
	}
	sess := c.sess
	kind, registry := "unsubscribe", sess.channels
	if c.name == "punsubscribe" {
		kind, registry = "punsubscribe", sess.patterns
	}

	names := c.stringArgs(0)
	if len(names) == 0 {
		for name := range registry {
			names = append(names, name)
		}
		sort.Strings(names)
	}
	if len(names) == 0 {
		sess.send(reply{value: protocol.Push(protocol.Bulk(kind), protocol.Null(), protocol.Integer(int64(sess.subscriptions())))})
		return noReply
	}

	for _, name := range names {
		if sub, ok := registry[name]; ok {
			c.srv.broker.Unsubscribe(sub)
			delete(registry, name)
		}
		confirm := protocol.Push(protocol.Bulk(kind), protocol.Bulk(name), protocol.Integer(int64(sess.subscriptions())))
		if !sess.send(reply{value: confirm}) {
			break
		}
	}
	return noReply
}

func publishCommand(c *call) protocol.Value {
	return protocol.Integer(int64(c.srv.broker.Publish(c.arg(0), c.args[1])))
}

func pubsubCommand(c *call) protocol.Value {
	broker := c.srv.broker
	switch strings.ToLower(c.arg(0)) {
	case "channels":
		if len(c.args) > 2 {
			return c.wrongArgs()
		}
		pattern := ""
		if len(c.args) == 2 {
			pattern = c.arg(1)
		}
		return protocol.StringArray(broker.Channels(pattern)...)

	case "numsub":
		pairs := make([]protocol.Value, 0, 2*(len(c.args)-1))
		for _, name := range c.stringArgs(1) {
			pairs = append(pairs, protocol.Bulk(name), protocol.Integer(int64(broker.NumSub(name))))
		}
		return protocol.Map(pairs...)

	case "numpat":
		return protocol.Integer(int64(broker.NumPat()))
	}
	return protocol.Errorf("ERR unknown subcommand '%s'. Try PUBSUB HELP.", c.arg(0))
}

var _ pubsub.Subscriber = (*Session)(nil)
