package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/errgroup"

	"github.com/raniellyferreira/redis-inmemory-server/acl"
	"github.com/raniellyferreira/redis-inmemory-server/lua"
	"github.com/raniellyferreira/redis-inmemory-server/persistence"
	"github.com/raniellyferreira/redis-inmemory-server/pubsub"
	"github.com/raniellyferreira/redis-inmemory-server/replication"
	"github.com/raniellyferreira/redis-inmemory-server/storage"
)

// DefaultOutputBufferSize is the number of replies a session may have
// queued before a pub/sub publisher disconnects it
const DefaultOutputBufferSize = 1024

// Logger interface for server logging
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// MetricsCollector interface for server metrics
type MetricsCollector interface {
	RecordCommandProcessed(cmd string, duration time.Duration)
	RecordNetworkBytes(bytes int64)
	RecordError(errorType string)
	RecordConnection(delta int)
}

// ReplicaStatus describes the link to a primary, reported by INFO when the
// server runs as a replica
type ReplicaStatus struct {
	MasterHost     string
	MasterPort     int
	LinkUp         bool
	SyncInProgress bool
	LastIO         time.Time
}

// Server provides Redis protocol server functionality
type Server struct {
	store   *storage.Store
	lua     *lua.Engine
	acl     *acl.Registry
	broker  *pubsub.Broker
	master  *replication.Master
	logger  Logger
	metrics MetricsCollector

	// Server configuration
	addr         string
	readOnly     bool
	readTimeout  time.Duration
	outputBuffer int
	replicaOf    func() ReplicaStatus

	// persistence is read and written under the store lock
	persistence persistence.Config

	// Connection management
	listener net.Listener
	clients  *xsync.MapOf[uint64, *Session]
	nextID   atomic.Uint64
	link     *Session
	linkOnce sync.Once

	// Control
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startTime time.Time

	// Metrics
	connCount    atomic.Int64
	commandCount atomic.Int64
	errorCount   atomic.Int64
}

// NewServer creates a new Redis protocol server over store
func NewServer(addr string, store *storage.Store) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		store:        store,
		lua:          lua.NewEngine(),
		acl:          acl.NewRegistry(),
		broker:       pubsub.NewBroker(),
		master:       replication.NewMaster(""),
		logger:       &defaultLogger{},
		addr:         addr,
		outputBuffer: DefaultOutputBufferSize,
		persistence:  persistence.DefaultConfig(),
		clients:      xsync.NewMapOf[uint64, *Session](),
		ctx:          ctx,
		cancel:       cancel,
		startTime:    time.Now(),
	}
}

// SetPassword sets the password of the default user. An empty password
// lets unauthenticated sessions run commands.
func (s *Server) SetPassword(password string) {
	s.acl.RequirePass(password)
}

// SetReadOnly makes the server refuse writes from clients. Commands
// received from the primary are still applied.
func (s *Server) SetReadOnly(readOnly bool) {
	s.readOnly = readOnly
}

// SetReplicaOf marks the server as a replica; status is called by INFO to
// describe the link to the primary.
func (s *Server) SetReplicaOf(status func() ReplicaStatus) {
	s.replicaOf = status
}

// SetPersistence sets the dir and dbfilename reported by CONFIG GET and
// used by SAVE
func (s *Server) SetPersistence(cfg persistence.Config) {
	s.store.Lock()
	s.persistence = cfg
	s.store.Unlock()
}

// SetReadTimeout closes client connections idle for longer than timeout.
// Zero disables the limit.
func (s *Server) SetReadTimeout(timeout time.Duration) {
	s.readTimeout = timeout
}

// SetOutputBufferSize sets how many replies may wait for a slow client
func (s *Server) SetOutputBufferSize(n int) {
	if n > 0 {
		s.outputBuffer = n
	}
}

// SetLogger sets the logger
func (s *Server) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetMetrics sets the metrics collector
func (s *Server) SetMetrics(metrics MetricsCollector) {
	s.metrics = metrics
}

// ACL returns the user registry
func (s *Server) ACL() *acl.Registry {
	return s.acl
}

// Master returns the primary-side replication state
func (s *Server) Master() *replication.Master {
	return s.master
}

// Start starts the Redis server
func (s *Server) Start() error {
	var err error
	s.listener, err = net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.logger.Info("Server listening", "addr", s.listener.Addr().String())

	s.wg.Add(1)
	go s.acceptConnections()

	return nil
}

// Stop stops the Redis server and disconnects every client
func (s *Server) Stop() error {
	s.cancel()

	if s.listener != nil {
		s.listener.Close()
	}

	s.clients.Range(func(_ uint64, sess *Session) bool {
		sess.close()
		return true
	})
	s.master.Close()

	s.wg.Wait()
	return nil
}

// Addr returns the server's listening address
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Port returns the TCP port the server listens on, 0 before Start
func (s *Server) Port() int {
	if s.listener == nil {
		return 0
	}
	_, port, err := net.SplitHostPort(s.listener.Addr().String())
	if err != nil {
		return 0
	}
	n, _ := strconv.Atoi(port)
	return n
}

// Stats returns server statistics
func (s *Server) Stats() map[string]interface{} {
	return map[string]interface{}{
		"connected_clients": s.clients.Size(),
		"total_commands":    s.commandCount.Load(),
		"total_errors":      s.errorCount.Load(),
		"total_connections": s.connCount.Load(),
		"connected_slaves":  s.master.Count(),
	}
}

// acceptConnections accepts new client connections
func (s *Server) acceptConnections() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return // Server is shutting down
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			s.logger.Error("Accept failed", "error", err)
			return
		}

		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

// serveConn runs the reader and writer tasks of one connection until
// either of them stops
func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()

	sess := s.newSession(conn)
	g, ctx := errgroup.WithContext(sess.ctx)
	sess.ctx = ctx
	sess.group = g

	s.clients.Store(sess.id, sess)
	s.connCount.Add(1)
	if s.metrics != nil {
		s.metrics.RecordConnection(1)
	}

	defer func() {
		s.releaseSession(sess)
		s.clients.Delete(sess.id)
		if s.metrics != nil {
			s.metrics.RecordConnection(-1)
		}
	}()

	g.Go(func() error { return s.readLoop(sess) })
	g.Go(func() error { return s.writeLoop(sess) })
	g.Go(func() error {
		<-ctx.Done()
		return conn.Close()
	})

	if err := g.Wait(); err != nil && !isDisconnect(err) {
		s.logger.Debug("Connection closed", "client", sess.id, "error", err)
	}
}

// releaseSession drops everything a closed session registered
func (s *Server) releaseSession(sess *Session) {
	sess.cancel()
	sess.unsubscribeAll(s.broker)
	if sess.replica != nil {
		s.master.RemoveReplica(sess.replica)
		s.logger.Info("Replica disconnected", "addr", sess.replica.Addr)
	}
}

// defaultLogger discards everything
type defaultLogger struct{}

func (l *defaultLogger) Debug(msg string, fields ...interface{}) {}

func (l *defaultLogger) Info(msg string, fields ...interface{}) {}

func (l *defaultLogger) Error(msg string, fields ...interface{}) {}
