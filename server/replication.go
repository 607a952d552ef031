package server

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/raniellyferreira/redis-inmemory-server/persistence"
	"github.com/raniellyferreira/redis-inmemory-server/protocol"
	"github.com/raniellyferreira/redis-inmemory-server/replication"
)

func replconfCommand(c *call) protocol.Value {
	if len(c.args) == 0 {
		return c.wrongArgs()
	}
	switch strings.ToLower(c.arg(0)) {
	case "listening-port":
		if len(c.args) != 2 {
			return errSyntax
		}
		port, ok := parseInt(c.args[1])
		if !ok || port < 0 || port > 65535 {
			return errNotInteger
		}
		c.sess.listeningPort = int(port)
		return protocol.OK

	case "capa":
		return protocol.OK

	case "ack":
		// Acknowledgements are never answered
		if len(c.args) >= 2 && c.sess.replica != nil {
			if offset, ok := parseInt(c.args[1]); ok {
				c.srv.master.Ack(c.sess.replica, offset)
			}
		}
		return noReply

	case "getack":
		// Answered by the replication client, which knows the offset
		// before this command
		return noReply
	}
	return protocol.ErrorValue("ERR Unrecognized REPLCONF option")
}

// psyncCommand turns the connection into a replica feed. The snapshot and
// the offset it corresponds to are taken in the same critical section
// that registers the replica, so every later write reaches the feed.
func psyncCommand(c *call) protocol.Value {
	sess := c.sess
	srv := c.srv
	if sess.link || sess.out == nil {
		return protocol.ErrorValue("ERR PSYNC is not allowed on this connection")
	}
	if sess.replica != nil {
		return protocol.ErrorValue("ERR Replica already attached")
	}

	srv.store.Lock()
	data, keys := persistence.Snapshot(srv.store)
	offset := srv.store.SentOffset()
	r := srv.master.AddReplica(sess.addr, sess.listeningPort, offset)
	srv.store.Unlock()

	sess.replica = r
	srv.logger.Info("Replica attached",
		"addr", sess.addr, "listening_port", sess.listeningPort,
		"offset", offset, "keys", keys, "snapshot_bytes", len(data))

	header := fmt.Sprintf("FULLRESYNC %s %d", srv.master.ReplID(), offset)
	if !sess.send(reply{value: protocol.SimpleString(header)}) {
		return noReply
	}
	payload := append([]byte(fmt.Sprintf("$%d\r\n", len(data))), data...)
	if !sess.send(reply{raw: payload}) {
		return noReply
	}

	sess.group.Go(func() error {
		return srv.pumpReplica(sess, r)
	})
	return noReply
}

// pumpReplica writes propagated commands to a replica connection in the
// order they were executed
func (s *Server) pumpReplica(sess *Session, r *replication.Replica) error {
	for {
		frames, err := r.Feed().Next(sess.ctx)
		if err != nil {
			if errors.Is(err, replication.ErrFeedClosed) {
				return nil
			}
			return err
		}
		for _, frame := range frames {
			if !sess.send(reply{raw: frame}) {
				return sess.ctx.Err()
			}
		}
	}
}

// waitCommand implements WAIT numreplicas timeout. When replicas are
// behind, a REPLCONF GETACK is propagated so they report their offsets.
func waitCommand(c *call) protocol.Value {
	num, ok1 := parseInt(c.args[0])
	ms, ok2 := parseInt(c.args[1])
	if !ok1 || !ok2 {
		return errNotInteger
	}
	if ms < 0 {
		return errNegTimeout
	}
	srv := c.srv
	if c.sess.replica != nil || c.sess.link {
		return protocol.ErrorValue("ERR WAIT cannot be used with replica instances.")
	}
	if c.nested {
		return protocol.Integer(int64(srv.master.Acked(srv.store.SentOffset())))
	}

	srv.store.Lock()
	target := srv.store.SentOffset()
	if srv.master.Acked(target) < int(num) {
		getack := protocol.NewCommand("REPLCONF", "GETACK", "*").Value()
		srv.store.AddSentOffset(srv.master.Propagate(getack))
	}
	srv.store.Unlock()

	n := srv.master.Wait(c.sess.ctx, int(num), target, time.Duration(ms)*time.Millisecond)
	return protocol.Integer(int64(n))
}

// Applier returns the hook the replication client uses to load the
// primary's snapshot and apply its command stream to this server
func (s *Server) Applier() replication.Applier {
	return &applier{srv: s}
}

type applier struct {
	srv *Server
}

func (a *applier) LoadSnapshot(data []byte, offset int64) error {
	store := a.srv.store
	store.Lock()
	defer store.Unlock()

	store.Flush()
	if err := persistence.ParseRDB(bytes.NewReader(data), persistence.NewStoreHandler(store)); err != nil {
		return err
	}
	store.SetRecvOffset(offset)
	return nil
}

// Apply runs a command from the primary through the engine on the link
// session, whose replies are dropped
func (a *applier) Apply(cmd *protocol.Command, size int) error {
	result := a.srv.execute(a.srv.linkSession(), cmd)

	a.srv.store.Lock()
	a.srv.store.AddRecvOffset(size)
	a.srv.store.Unlock()

	if result.IsError() {
		return fmt.Errorf("%s: %s", cmd.Name, result.Error())
	}
	return nil
}

func (a *applier) Offset() int64 {
	a.srv.store.Lock()
	defer a.srv.store.Unlock()
	return a.srv.store.RecvOffset()
}
