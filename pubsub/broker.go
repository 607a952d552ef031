// Package pubsub routes published messages to channel and pattern
// subscribers.
//
// Delivery never blocks the publisher. Each Subscriber decides what to do
// when it cannot accept a message; the server disconnects such clients.
package pubsub

import (
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/raniellyferreira/redis-inmemory-server/protocol"
	"github.com/raniellyferreira/redis-inmemory-server/storage"
)

const shardCount = 16

// Subscriber receives push frames
type Subscriber interface {
	// ID uniquely identifies the subscriber
	ID() uint64
	// Deliver queues a frame without blocking
	Deliver(v protocol.Value) bool
}

// Subscription is one channel or pattern registration. It is the handle
// Unsubscribe takes; a newer registration of the same subscriber and name
// replaces it.
type Subscription struct {
	Name    string
	Pattern bool

	sub Subscriber
}

type shard struct {
	mu       sync.RWMutex
	channels map[string]map[uint64]*Subscription
}

// Broker holds every subscription. Channel registrations are sharded by
// channel hash; pattern registrations share one map since each publish
// has to scan all of them anyway.
type Broker struct {
	shards [shardCount]shard

	pmu      sync.RWMutex
	patterns map[string]map[uint64]*Subscription
}

// NewBroker returns an empty broker
func NewBroker() *Broker {
	b := &Broker{patterns: make(map[string]map[uint64]*Subscription)}
	for i := range b.shards {
		b.shards[i].channels = make(map[string]map[uint64]*Subscription)
	}
	return b
}

func (b *Broker) shardFor(channel string) *shard {
	return &b.shards[xxhash.Sum64String(channel)&(shardCount-1)]
}

// Subscribe registers sub on channel
func (b *Broker) Subscribe(channel string, sub Subscriber) *Subscription {
	s := &Subscription{Name: channel, sub: sub}
	sh := b.shardFor(channel)

	sh.mu.Lock()
	subs, ok := sh.channels[channel]
	if !ok {
		subs = make(map[uint64]*Subscription)
		sh.channels[channel] = subs
	}
	subs[sub.ID()] = s
	sh.mu.Unlock()

	return s
}

// PSubscribe registers sub on a glob pattern
func (b *Broker) PSubscribe(pattern string, sub Subscriber) *Subscription {
	s := &Subscription{Name: pattern, Pattern: true, sub: sub}

	b.pmu.Lock()
	subs, ok := b.patterns[pattern]
	if !ok {
		subs = make(map[uint64]*Subscription)
		b.patterns[pattern] = subs
	}
	subs[sub.ID()] = s
	b.pmu.Unlock()

	return s
}

// Unsubscribe removes s. A subscription already replaced is ignored.
func (b *Broker) Unsubscribe(s *Subscription) {
	id := s.sub.ID()
	if s.Pattern {
		b.pmu.Lock()
		removeSub(b.patterns, s.Name, id, s)
		b.pmu.Unlock()
	} else {
		sh := b.shardFor(s.Name)
		sh.mu.Lock()
		removeSub(sh.channels, s.Name, id, s)
		sh.mu.Unlock()
	}
}

func removeSub(m map[string]map[uint64]*Subscription, name string, id uint64, s *Subscription) {
	subs, ok := m[name]
	if !ok || subs[id] != s {
		return
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(m, name)
	}
}

// Publish delivers message to every subscriber of channel and every
// matching pattern subscriber. It returns the number of receivers.
func (b *Broker) Publish(channel string, message []byte) int {
	receivers := 0

	sh := b.shardFor(channel)
	sh.mu.RLock()
	if subs, ok := sh.channels[channel]; ok {
		frame := protocol.Push(protocol.Bulk("message"), protocol.Bulk(channel), protocol.BulkBytes(message))
		for _, s := range subs {
			s.sub.Deliver(frame)
			receivers++
		}
	}
	sh.mu.RUnlock()

	b.pmu.RLock()
	for pattern, subs := range b.patterns {
		if !storage.MatchPattern(channel, pattern) {
			continue
		}
		frame := protocol.Push(protocol.Bulk("pmessage"), protocol.Bulk(pattern),
			protocol.Bulk(channel), protocol.BulkBytes(message))
		for _, s := range subs {
			s.sub.Deliver(frame)
			receivers++
		}
	}
	b.pmu.RUnlock()

	return receivers
}

// Channels returns the active channels matching pattern, sorted. An empty
// pattern matches every channel.
func (b *Broker) Channels(pattern string) []string {
	out := make([]string, 0)
	for i := range b.shards {
		sh := &b.shards[i]
		sh.mu.RLock()
		for name := range sh.channels {
			if pattern == "" || storage.MatchPattern(name, pattern) {
				out = append(out, name)
			}
		}
		sh.mu.RUnlock()
	}
	sort.Strings(out)
	return out
}

// NumSub returns the number of subscribers of channel
func (b *Broker) NumSub(channel string) int {
	sh := b.shardFor(channel)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return len(sh.channels[channel])
}

// NumPat returns the number of pattern registrations
func (b *Broker) NumPat() int {
	b.pmu.RLock()
	defer b.pmu.RUnlock()
	n := 0
	for _, subs := range b.patterns {
		n += len(subs)
	}
	return n
}
