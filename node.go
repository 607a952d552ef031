package redisserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/raniellyferreira/redis-inmemory-server/metrics"
	"github.com/raniellyferreira/redis-inmemory-server/persistence"
	"github.com/raniellyferreira/redis-inmemory-server/replication"
	"github.com/raniellyferreira/redis-inmemory-server/server"
	"github.com/raniellyferreira/redis-inmemory-server/storage"
)

// keyCountInterval is how often the key count gauge is refreshed
const keyCountInterval = time.Second

// SyncStatus represents the state of a replica's link to its primary
type SyncStatus struct {
	InitialSyncCompleted bool
	Connected            bool
	MasterHost           string
	MasterReplID         string
	ReplicationOffset    int64
	LastSyncTime         time.Time
	LastIOTime           time.Time
	BytesReceived        int64
	CommandsProcessed    int64
	ReconnectCount       int64
}

// Node is an in-memory Redis server, running as a primary or as a replica
type Node struct {
	config *config

	// Components
	store     *storage.Store
	server    *server.Server
	client    *replication.Client
	admin     *http.Server
	adminAddr string

	// State
	mu      sync.RWMutex
	started bool
	closed  bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// New creates a new Node with the given options
//
// The node is created but not started. Use Start() to load the snapshot,
// listen and begin replication.
//
// Example:
//
//	node, err := redisserver.New(
//		redisserver.WithAddr(":6380"),
//		redisserver.WithReplicaOf("localhost:6379"),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
func New(opts ...Option) (*Node, error) {
	cfg := defaultConfig()

	// Apply options
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	store := storage.NewStore(storage.WithCleanupInterval(cfg.cleanupInterval))

	srv := server.NewServer(cfg.addr, store)
	srv.SetLogger(&loggerAdapter{logger: cfg.logger})
	if cfg.metrics != nil {
		srv.SetMetrics(&metricsAdapter{metrics: cfg.metrics})
	}
	srv.SetPassword(cfg.password)
	srv.SetPersistence(persistence.Config{Dir: cfg.dir, DBFilename: cfg.dbFilename})
	srv.SetReadTimeout(cfg.readTimeout)
	srv.SetOutputBufferSize(cfg.outputBufferSize)

	node := &Node{
		config: cfg,
		store:  store,
		server: srv,
		stop:   make(chan struct{}),
	}

	if cfg.replicaOf != "" {
		client := replication.NewClient(cfg.replicaOf, srv.Applier())
		if cfg.masterPassword != "" {
			client.SetAuth(cfg.masterUser, cfg.masterPassword)
		}
		if cfg.masterTLS != nil {
			client.SetTLS(cfg.masterTLS)
		}
		client.SetLogger(&loggerAdapter{logger: cfg.logger})
		if cfg.metrics != nil {
			client.SetMetrics(&metricsAdapter{metrics: cfg.metrics, prefix: "replication_"})
		}
		client.SetSyncTimeout(cfg.syncTimeout)
		client.SetConnectTimeout(cfg.connectTimeout)
		client.SetWriteTimeout(cfg.writeTimeout)

		node.client = client
		srv.SetReplicaOf(node.replicaStatus)
		srv.SetReadOnly(cfg.readOnly)
	}

	return node, nil
}

// Start loads the snapshot file, starts the listener and, for a replica,
// begins replication in the background. Use WaitForSync() to wait for the
// initial synchronization.
//
// Example:
//
//	if err := node.Start(context.Background()); err != nil {
//		log.Fatal(err)
//	}
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrClosed
	}
	if n.started {
		return nil // Already started
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	logger := n.config.logger
	snapshot := persistence.Config{Dir: n.config.dir, DBFilename: n.config.dbFilename}
	keys, err := persistence.Load(n.store, snapshot)
	if err != nil {
		return &SyncError{Phase: "load", Err: err}
	}
	if keys > 0 {
		logger.Info("Snapshot loaded", Field{Key: "path", Value: snapshot.Path()}, Field{Key: "keys", Value: keys})
	}

	if err := n.server.Start(); err != nil {
		logger.Error("Failed to start server", Field{Key: "error", Value: err}, Field{Key: "addr", Value: n.config.addr})
		return &ConnectionError{Addr: n.config.addr, Err: err}
	}
	logger.Info("Server listening", Field{Key: "addr", Value: n.server.Addr()}, Field{Key: "role", Value: n.Role()})

	if n.client != nil {
		n.client.SetListeningPort(n.server.Port())
		if err := n.client.Start(context.Background()); err != nil {
			n.server.Stop()
			return &ConnectionError{Addr: n.config.replicaOf, Err: err}
		}
	}

	if n.config.adminAddr != "" {
		if err := n.startAdmin(); err != nil {
			n.shutdown()
			return &ConnectionError{Addr: n.config.adminAddr, Err: err}
		}
	}

	if n.config.metrics != nil {
		n.wg.Add(1)
		go n.recordKeyCount()
	}

	n.started = true
	return nil
}

// startAdmin serves the admin HTTP API. Metrics come from the configured
// collector when it is a *metrics.Collector.
func (n *Node) startAdmin() error {
	collector, ok := n.config.metrics.(*metrics.Collector)
	if !ok {
		collector = metrics.NewCollector("redis")
	}

	ln, err := net.Listen("tcp", n.config.adminAddr)
	if err != nil {
		return err
	}
	n.adminAddr = ln.Addr().String()
	n.admin = &http.Server{
		Handler:           metrics.NewAdminHandler(collector, n),
		ReadHeaderTimeout: 5 * time.Second,
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.admin.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			n.config.logger.Error("Admin server failed", Field{Key: "error", Value: err})
		}
	}()
	n.config.logger.Info("Admin server listening", Field{Key: "addr", Value: ln.Addr().String()})
	return nil
}

func (n *Node) recordKeyCount() {
	defer n.wg.Done()
	ticker := time.NewTicker(keyCountInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.stop:
			return
		case <-ticker.C:
			n.store.Lock()
			count := n.store.Len()
			n.store.Unlock()
			n.config.metrics.RecordKeyCount(int64(count))
		}
	}
}

// WaitForSync blocks until a replica completed its first synchronization
// or ctx is done. It returns immediately for a primary.
//
// Example:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
//	defer cancel()
//	if err := node.WaitForSync(ctx); err != nil {
//		log.Fatal(err)
//	}
func (n *Node) WaitForSync(ctx context.Context) error {
	if !n.isStarted() {
		return ErrNotConnected
	}
	if n.client == nil {
		return nil
	}
	if err := n.client.WaitForSync(ctx); err != nil {
		return &SyncError{Phase: "sync", Err: err}
	}
	return nil
}

// OnSyncComplete registers a callback for when a replica's initial
// synchronization completes. It is never called on a primary.
func (n *Node) OnSyncComplete(fn func()) {
	if n.client != nil {
		n.client.OnSyncComplete(fn)
	}
}

// SyncStatus returns the state of the replication link. The zero value is
// returned for a primary.
func (n *Node) SyncStatus() SyncStatus {
	if n.client == nil {
		return SyncStatus{}
	}
	stats := n.client.Stats()

	n.store.Lock()
	offset := n.store.RecvOffset()
	n.store.Unlock()

	return SyncStatus{
		InitialSyncCompleted: stats.InitialSyncCompleted,
		Connected:            stats.Connected,
		MasterHost:           stats.MasterAddr,
		MasterReplID:         stats.MasterReplID,
		ReplicationOffset:    offset,
		LastSyncTime:         stats.LastSyncTime,
		LastIOTime:           stats.LastIOTime,
		BytesReceived:        stats.BytesReceived,
		CommandsProcessed:    stats.CommandsProcessed,
		ReconnectCount:       stats.ReconnectCount,
	}
}

// replicaStatus describes the link to the primary for INFO replication
func (n *Node) replicaStatus() server.ReplicaStatus {
	stats := n.client.Stats()
	host, portStr, _ := net.SplitHostPort(n.config.replicaOf)
	port, _ := strconv.Atoi(portStr)
	return server.ReplicaStatus{
		MasterHost:     host,
		MasterPort:     port,
		LinkUp:         stats.Connected && stats.InitialSyncCompleted,
		SyncInProgress: stats.Connected && !stats.InitialSyncCompleted,
		LastIO:         stats.LastIOTime,
	}
}

// Role returns "master" or "replica"
func (n *Node) Role() string {
	if n.client != nil {
		return "replica"
	}
	return "master"
}

// Addr returns the address clients connect to
func (n *Node) Addr() string {
	return n.server.Addr()
}

// AdminAddr returns the address of the admin HTTP API, empty when it is
// not served
func (n *Node) AdminAddr() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.adminAddr
}

// Store returns the keyspace. Callers must hold its lock while using it.
func (n *Node) Store() *storage.Store {
	return n.store
}

// Info returns the INFO text for the given sections, all when none is named
func (n *Node) Info(sections ...string) string {
	return n.server.Info(sections...)
}

// Healthy returns nil when the node serves requests with current data: it
// is started and, for a replica, linked to its synchronized primary
func (n *Node) Healthy() error {
	n.mu.RLock()
	started, closed := n.started, n.closed
	n.mu.RUnlock()

	switch {
	case closed:
		return ErrClosed
	case !started:
		return ErrNotConnected
	case n.client != nil:
		if st := n.replicaStatus(); !st.LinkUp {
			return ErrNotConnected
		}
	}
	return nil
}

// Close stops replication, the listeners and the background tasks
//
// Example:
//
//	defer node.Close()
func (n *Node) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil
	}
	n.closed = true
	return n.shutdown()
}

// shutdown releases everything Start acquired. n.mu must be held.
func (n *Node) shutdown() error {
	var errs []error

	if n.client != nil {
		if err := n.client.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if n.admin != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := n.admin.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		cancel()
	}
	if err := n.server.Stop(); err != nil {
		errs = append(errs, err)
	}

	select {
	case <-n.stop:
	default:
		close(n.stop)
	}
	n.wg.Wait()

	if err := n.store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// isStarted returns true if the node is started (thread-safe)
func (n *Node) isStarted() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.started && !n.closed
}
