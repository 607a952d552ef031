package server

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/raniellyferreira/redis-inmemory-server/acl"
	"github.com/raniellyferreira/redis-inmemory-server/protocol"
	"github.com/raniellyferreira/redis-inmemory-server/pubsub"
	"github.com/raniellyferreira/redis-inmemory-server/replication"
)

// errClientClosed ends a connection after QUIT or a protocol error
var errClientClosed = errors.New("client connection closed")

// reply is one item of a session's outbound queue
type reply struct {
	value protocol.Value
	raw   []byte
	proto int  // encoding for this and later replies, 0 keeps the current one
	close bool // close the connection once written
}

// Session is the state of one client connection. Everything except the
// outbound queue is owned by the connection's reader task.
type Session struct {
	id        uint64
	conn      net.Conn
	addr      string
	name      string
	createdAt time.Time

	proto         int
	user          string
	authenticated bool

	inMulti bool
	queue   []*protocol.Command

	channels map[string]*pubsub.Subscription
	patterns map[string]*pubsub.Subscription

	// replica is set once the peer issued PSYNC
	replica       *replication.Replica
	listeningPort int

	// link marks the session applying the stream from our own primary;
	// it has no connection and its replies are dropped
	link bool
	quit bool

	out    chan reply
	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
}

func (s *Server) newSession(conn net.Conn) *Session {
	ctx, cancel := context.WithCancel(s.ctx)
	return &Session{
		id:        s.nextID.Add(1),
		conn:      conn,
		addr:      conn.RemoteAddr().String(),
		createdAt: time.Now(),
		proto:     protocol.RESP2,
		user:      acl.DefaultUser,
		channels:  make(map[string]*pubsub.Subscription),
		patterns:  make(map[string]*pubsub.Subscription),
		out:       make(chan reply, s.outputBuffer),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// linkSession returns the session commands from the primary run in
func (s *Server) linkSession() *Session {
	s.linkOnce.Do(func() {
		s.link = &Session{
			id:            s.nextID.Add(1),
			addr:          "master",
			createdAt:     time.Now(),
			proto:         protocol.RESP2,
			user:          acl.DefaultUser,
			authenticated: true,
			link:          true,
			channels:      make(map[string]*pubsub.Subscription),
			patterns:      make(map[string]*pubsub.Subscription),
			ctx:           s.ctx,
			cancel:        func() {},
		}
	})
	return s.link
}

// ID implements pubsub.Subscriber
func (sess *Session) ID() uint64 {
	return sess.id
}

// Deliver implements pubsub.Subscriber. A client that cannot keep up with
// its queue is disconnected rather than stalling the publisher.
func (sess *Session) Deliver(v protocol.Value) bool {
	if sess.out == nil {
		return false
	}
	select {
	case sess.out <- reply{value: v}:
		return true
	default:
		sess.cancel()
		return false
	}
}

// send queues a reply, waiting for room unless the connection goes away
func (sess *Session) send(r reply) bool {
	if sess.out == nil {
		return true
	}
	select {
	case sess.out <- r:
		return true
	case <-sess.ctx.Done():
		return false
	}
}

func (sess *Session) close() {
	sess.cancel()
	if sess.conn != nil {
		sess.conn.Close()
	}
}

// authorized reports whether the session may run commands
func (sess *Session) authorized(users *acl.Registry) bool {
	return sess.authenticated || sess.link || users.NoPass(sess.user)
}

// subscriptions returns the number of channels and patterns subscribed to
func (sess *Session) subscriptions() int {
	return len(sess.channels) + len(sess.patterns)
}

func (sess *Session) unsubscribeAll(broker *pubsub.Broker) {
	for name, sub := range sess.channels {
		broker.Unsubscribe(sub)
		delete(sess.channels, name)
	}
	for name, sub := range sess.patterns {
		broker.Unsubscribe(sub)
		delete(sess.patterns, name)
	}
}

// readLoop decodes requests and executes them in arrival order
func (s *Server) readLoop(sess *Session) error {
	reader := protocol.NewReader(sess.conn)

	for {
		if s.readTimeout > 0 && sess.replica == nil && sess.subscriptions() == 0 {
			sess.conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		} else {
			sess.conn.SetReadDeadline(time.Time{})
		}

		value, n, err := reader.ReadRequest()
		if err != nil {
			var perr *protocol.Error
			if errors.As(err, &perr) {
				s.protocolError(sess, perr.Msg)
				return nil
			}
			return err
		}
		if s.metrics != nil {
			s.metrics.RecordNetworkBytes(int64(n))
		}

		if value.Type == protocol.TypeArray && len(value.Array) == 0 {
			continue // empty inline line
		}
		cmd, err := protocol.ParseCommand(value)
		if err != nil {
			s.protocolError(sess, err.Error())
			return nil
		}

		result := s.execute(sess, cmd)
		if isNoReply(result) && !sess.quit {
			continue
		}
		if !sess.send(reply{value: result, proto: sess.proto, close: sess.quit}) {
			return sess.ctx.Err()
		}
		if sess.quit {
			return nil
		}
	}
}

func (s *Server) protocolError(sess *Session, msg string) {
	s.errorCount.Add(1)
	if s.metrics != nil {
		s.metrics.RecordError("protocol")
	}
	sess.send(reply{value: protocol.Errorf("ERR Protocol error: %s", msg), close: true})
}

// writeLoop owns the write half of the connection. Replies already queued
// are written together and flushed once.
func (s *Server) writeLoop(sess *Session) error {
	w := protocol.NewWriter(sess.conn)

	for {
		var r reply
		select {
		case <-sess.ctx.Done():
			return nil
		case r = <-sess.out:
		}

	batch:
		for {
			if r.proto != 0 {
				w.SetProtocol(r.proto)
			}
			var err error
			if r.raw != nil {
				err = w.WriteRaw(r.raw)
			} else if !isNoReply(r.value) {
				err = w.WriteValue(r.value)
			}
			if err != nil {
				return err
			}
			if r.close {
				w.Flush()
				return errClientClosed
			}

			select {
			case r = <-sess.out:
			default:
				break batch
			}
		}

		if err := w.Flush(); err != nil {
			return err
		}
	}
}

// isDisconnect reports errors that just mean the peer or server went away
func isDisconnect(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, errClientClosed)
}
