package replication

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/raniellyferreira/redis-inmemory-server/protocol"
)

// Applier is the local server as seen by the replication stream
type Applier interface {
	// LoadSnapshot replaces the dataset with an RDB payload and sets the
	// received offset to offset.
	LoadSnapshot(data []byte, offset int64) error

	// Apply executes one command received from the primary without
	// replying, then advances the received offset by size.
	Apply(cmd *protocol.Command, size int) error

	// Offset returns the received offset
	Offset() int64
}

// Client implements the replica side of Redis replication
type Client struct {
	// Configuration
	masterAddr     string
	masterUser     string
	masterPassword string
	tlsConfig      *tls.Config
	applier        Applier
	listeningPort  int

	// Connection state
	mu        sync.RWMutex
	conn      net.Conn
	reader    *protocol.Reader
	writer    *protocol.Writer
	connected bool

	// Replication state
	replID string

	// Control channels
	stopChan chan struct{}
	doneChan chan struct{}
	started  int32
	stopped  int32

	syncedOnce sync.Once
	syncedChan chan struct{}

	// Statistics
	stats *ReplicationStats

	// Callbacks
	onSyncComplete []func()

	logger         Logger
	metrics        MetricsCollector
	syncTimeout    time.Duration
	connectTimeout time.Duration
	writeTimeout   time.Duration
	minBackoff     time.Duration
	maxBackoff     time.Duration
}

// ReplicationStats tracks replication statistics
type ReplicationStats struct {
	mu sync.RWMutex

	Connected         bool
	MasterAddr        string
	MasterReplID      string
	LastSyncTime      time.Time
	LastIOTime        time.Time
	BytesReceived     int64
	CommandsProcessed int64
	ReconnectCount    int64

	InitialSyncCompleted bool
}

// Logger interface for replication logging
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// MetricsCollector interface for replication metrics
type MetricsCollector interface {
	RecordSyncDuration(duration time.Duration)
	RecordCommandProcessed(cmd string, duration time.Duration)
	RecordNetworkBytes(bytes int64)
	RecordReconnection()
	RecordError(errorType string)
}

// NewClient creates a new replication client
func NewClient(masterAddr string, applier Applier) *Client {
	return &Client{
		masterAddr:     masterAddr,
		applier:        applier,
		stopChan:       make(chan struct{}),
		doneChan:       make(chan struct{}),
		syncedChan:     make(chan struct{}),
		stats:          &ReplicationStats{MasterAddr: masterAddr},
		syncTimeout:    30 * time.Second,
		connectTimeout: 5 * time.Second,
		writeTimeout:   10 * time.Second,
		minBackoff:     100 * time.Millisecond,
		maxBackoff:     5 * time.Second,
		logger:         &defaultLogger{},
	}
}

// SetAuth configures authentication against the primary. An empty user
// authenticates as the default user.
func (c *Client) SetAuth(user, password string) {
	c.masterUser = user
	c.masterPassword = password
}

// SetTLS configures TLS
func (c *Client) SetTLS(config *tls.Config) {
	c.tlsConfig = config
}

// SetLogger sets the logger
func (c *Client) SetLogger(logger Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// SetMetrics sets the metrics collector
func (c *Client) SetMetrics(metrics MetricsCollector) {
	c.metrics = metrics
}

// SetListeningPort sets the port announced with REPLCONF listening-port
func (c *Client) SetListeningPort(port int) {
	c.listeningPort = port
}

// SetSyncTimeout bounds the handshake and snapshot transfer
func (c *Client) SetSyncTimeout(timeout time.Duration) {
	c.syncTimeout = timeout
}

// SetConnectTimeout sets the dial timeout
func (c *Client) SetConnectTimeout(timeout time.Duration) {
	c.connectTimeout = timeout
}

// SetWriteTimeout sets the write timeout for network operations
func (c *Client) SetWriteTimeout(timeout time.Duration) {
	c.writeTimeout = timeout
}

// SetBackoff sets the reconnect delay bounds
func (c *Client) SetBackoff(min, max time.Duration) {
	if min > 0 {
		c.minBackoff = min
	}
	if max >= c.minBackoff {
		c.maxBackoff = max
	}
}

// Start begins replication in the background. It returns once the loop is
// running; use WaitForSync to wait for the initial synchronization.
func (c *Client) Start(ctx context.Context) error {
	if err := c.validateTimeoutConfiguration(); err != nil {
		return err
	}
	if atomic.LoadInt32(&c.stopped) == 1 {
		return ErrStopped
	}
	if !atomic.CompareAndSwapInt32(&c.started, 0, 1) {
		return fmt.Errorf("replication client already started")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.logger.Info("Starting replication client", "master", c.masterAddr)
	go c.run()
	return nil
}

// WaitForSync blocks until the first full synchronization completed
func (c *Client) WaitForSync(ctx context.Context) error {
	select {
	case <-c.syncedChan:
		return nil
	case <-c.doneChan:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop stops replication and waits for the loop to exit
func (c *Client) Stop() error {
	if !atomic.CompareAndSwapInt32(&c.stopped, 0, 1) {
		return nil
	}

	c.logger.Info("Stopping replication client")
	close(c.stopChan)

	if atomic.LoadInt32(&c.started) == 0 {
		close(c.doneChan)
		return nil
	}

	// Unblock a pending read; the loop itself clears the connection
	c.mu.RLock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.mu.RUnlock()

	select {
	case <-c.doneChan:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("stop timeout")
	}
}

// Stats returns current replication statistics
func (c *Client) Stats() ReplicationStats {
	c.stats.mu.RLock()
	defer c.stats.mu.RUnlock()

	return ReplicationStats{
		Connected:            c.stats.Connected,
		MasterAddr:           c.stats.MasterAddr,
		MasterReplID:         c.stats.MasterReplID,
		LastSyncTime:         c.stats.LastSyncTime,
		LastIOTime:           c.stats.LastIOTime,
		BytesReceived:        c.stats.BytesReceived,
		CommandsProcessed:    c.stats.CommandsProcessed,
		ReconnectCount:       c.stats.ReconnectCount,
		InitialSyncCompleted: c.stats.InitialSyncCompleted,
	}
}

// MasterAddr returns the primary address
func (c *Client) MasterAddr() string {
	return c.masterAddr
}

// OnSyncComplete registers a callback for sync completion
func (c *Client) OnSyncComplete(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSyncComplete = append(c.onSyncComplete, fn)
}

func (c *Client) stopping() bool {
	select {
	case <-c.stopChan:
		return true
	default:
		return false
	}
}

// run is the main replication loop
func (c *Client) run() {
	defer close(c.doneChan)

	backoff := c.minBackoff
	for !c.stopping() {
		err := c.session()
		c.disconnect()
		if c.stopping() {
			return
		}

		var se *SyncError
		phase := "streaming"
		if errors.As(err, &se) {
			phase = se.Phase
		}
		c.logger.Error("Replication failed", "phase", phase, "error", err)
		c.recordMetricError(phase)

		// A session that got as far as streaming resets the backoff
		if phase == "streaming" {
			backoff = c.minBackoff
		}

		select {
		case <-time.After(backoff):
		case <-c.stopChan:
			return
		}
		backoff *= 2
		if backoff > c.maxBackoff {
			backoff = c.maxBackoff
		}
	}
}

// session runs one connection to the primary until it fails
func (c *Client) session() error {
	if err := c.connect(); err != nil {
		return syncErr("connect", err)
	}
	if err := c.handshake(); err != nil {
		return syncErr("handshake", err)
	}
	if err := c.performSync(); err != nil {
		return syncErr("snapshot", err)
	}
	return syncErr("streaming", c.streamCommands())
}

// connect establishes connection to master
func (c *Client) connect() error {
	c.logger.Debug("Connecting to master", "addr", c.masterAddr)

	dialer := &net.Dialer{Timeout: c.connectTimeout}

	var conn net.Conn
	var err error
	if c.tlsConfig != nil {
		conn, err = tls.DialWithDialer(dialer, "tcp", c.masterAddr, c.tlsConfig)
	} else {
		conn, err = dialer.Dial("tcp", c.masterAddr)
	}
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	c.mu.Lock()
	if c.stopping() {
		c.mu.Unlock()
		conn.Close()
		return ErrStopped
	}
	c.conn = conn
	c.reader = protocol.NewReader(conn)
	c.writer = protocol.NewWriter(conn)
	c.connected = true
	c.mu.Unlock()

	c.updateStats(func(s *ReplicationStats) {
		s.Connected = true
		s.ReconnectCount++
	})
	if c.metrics != nil {
		c.metrics.RecordReconnection()
	}

	c.logger.Info("Connected to master", "addr", c.masterAddr)
	return nil
}

// disconnect closes the connection
func (c *Client) disconnect() {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connected = false
	c.mu.Unlock()

	c.updateStats(func(s *ReplicationStats) {
		s.Connected = false
	})
}

// roundTrip sends a command and reads one reply within the sync timeout
func (c *Client) roundTrip(name string, args ...string) (protocol.Value, error) {
	if c.syncTimeout > 0 {
		c.conn.SetDeadline(time.Now().Add(c.syncTimeout))
	}
	if err := c.writer.WriteCommand(name, args...); err != nil {
		return protocol.Value{}, err
	}
	if err := c.writer.Flush(); err != nil {
		return protocol.Value{}, err
	}
	v, n, err := c.reader.ReadFrame()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return protocol.Value{}, fmt.Errorf("%s: connection closed by master", name)
		}
		return protocol.Value{}, err
	}
	c.recordBytes(n)
	return v, nil
}

// handshake authenticates and announces this replica. The primary must
// answer PING with PONG before anything else is sent.
func (c *Client) handshake() error {
	if c.masterPassword != "" {
		args := []string{c.masterPassword}
		if c.masterUser != "" {
			args = []string{c.masterUser, c.masterPassword}
		}
		reply, err := c.roundTrip("AUTH", args...)
		if err != nil {
			return err
		}
		if reply.IsError() {
			return fmt.Errorf("auth failed: %s", reply.Error())
		}
	}

	reply, err := c.roundTrip("PING")
	if err != nil {
		return err
	}
	if reply.IsError() || !strings.EqualFold(reply.String(), "PONG") {
		return fmt.Errorf("unexpected PING reply: %q", reply.String())
	}

	if c.listeningPort > 0 {
		reply, err = c.roundTrip("REPLCONF", "listening-port", strconv.Itoa(c.listeningPort))
		if err != nil {
			return err
		}
		if reply.IsError() {
			return fmt.Errorf("REPLCONF listening-port: %s", reply.Error())
		}
	}

	reply, err = c.roundTrip("REPLCONF", "capa", "psync2")
	if err != nil {
		return err
	}
	if reply.IsError() {
		// Older primaries reject capabilities they do not know
		c.logger.Debug("REPLCONF capa rejected", "reply", reply.Error())
	}
	return nil
}

// performSync requests a full resynchronization and loads the snapshot
func (c *Client) performSync() error {
	c.logger.Info("Starting initial synchronization")
	startTime := time.Now()

	response, err := c.roundTrip("PSYNC", "?", "-1")
	if err != nil {
		return fmt.Errorf("PSYNC failed: %w", err)
	}
	if response.IsError() {
		return fmt.Errorf("PSYNC error: %s", response.Error())
	}

	parts := strings.Fields(response.String())
	if len(parts) < 3 || parts[0] != "FULLRESYNC" {
		return fmt.Errorf("unsupported PSYNC response: %s", response.String())
	}
	offset, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid offset: %s", parts[2])
	}
	c.replID = parts[1]

	payload, n, err := c.reader.ReadSnapshot()
	if err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	c.recordBytes(n)
	c.logger.Debug("Snapshot received", "size", len(payload))

	if err := c.applier.LoadSnapshot(payload, offset); err != nil {
		return fmt.Errorf("failed to load snapshot: %w", err)
	}

	syncDuration := time.Since(startTime)
	if c.metrics != nil {
		c.metrics.RecordSyncDuration(syncDuration)
	}
	c.updateStats(func(s *ReplicationStats) {
		s.MasterReplID = c.replID
		s.InitialSyncCompleted = true
		s.LastSyncTime = time.Now()
	})

	c.mu.RLock()
	callbacks := make([]func(), len(c.onSyncComplete))
	copy(callbacks, c.onSyncComplete)
	c.mu.RUnlock()
	for _, callback := range callbacks {
		callback()
	}
	c.syncedOnce.Do(func() { close(c.syncedChan) })

	c.logger.Info("Initial synchronization completed", "duration", syncDuration, "replid", c.replID, "offset", offset)
	return nil
}

// streamCommands applies the command stream until the connection fails
func (c *Client) streamCommands() error {
	c.logger.Debug("Starting command streaming")
	c.conn.SetDeadline(time.Time{})

	for {
		value, size, err := c.reader.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("connection closed")
			}
			return fmt.Errorf("read command failed: %w", err)
		}
		c.recordBytes(size)

		cmd, err := protocol.ParseCommand(value)
		if err != nil {
			return fmt.Errorf("parse command failed: %w", err)
		}

		if err := c.processCommand(cmd, size); err != nil {
			return err
		}
	}
}

// processCommand applies one command. GETACK is answered with the offset
// reached before the GETACK itself.
func (c *Client) processCommand(cmd *protocol.Command, size int) error {
	if cmd.Name == "REPLCONF" && len(cmd.Args) > 0 && strings.EqualFold(string(cmd.Args[0]), "GETACK") {
		if err := c.sendAck(c.applier.Offset()); err != nil {
			return fmt.Errorf("send ACK: %w", err)
		}
	}

	startTime := time.Now()
	if err := c.applier.Apply(cmd, size); err != nil {
		c.logger.Error("Command processing failed", "command", cmd.Name, "error", err)
	}

	if c.metrics != nil {
		c.metrics.RecordCommandProcessed(cmd.Name, time.Since(startTime))
	}
	c.updateStats(func(s *ReplicationStats) {
		s.CommandsProcessed++
	})
	return nil
}

func (c *Client) sendAck(offset int64) error {
	if c.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if err := c.writer.WriteCommand("REPLCONF", "ACK", strconv.FormatInt(offset, 10)); err != nil {
		return err
	}
	return c.writer.Flush()
}

// updateStats atomically updates statistics
func (c *Client) updateStats(fn func(*ReplicationStats)) {
	c.stats.mu.Lock()
	defer c.stats.mu.Unlock()
	fn(c.stats)
}

func (c *Client) recordBytes(n int) {
	c.updateStats(func(s *ReplicationStats) {
		s.BytesReceived += int64(n)
		s.LastIOTime = time.Now()
	})
	if c.metrics != nil {
		c.metrics.RecordNetworkBytes(int64(n))
	}
}

// recordMetricError records an error metric
func (c *Client) recordMetricError(errorType string) {
	if c.metrics != nil {
		c.metrics.RecordError(errorType)
	}
}

// validateTimeoutConfiguration validates all timeout settings
func (c *Client) validateTimeoutConfiguration() error {
	if c.connectTimeout > 0 {
		if c.connectTimeout < 100*time.Millisecond {
			return fmt.Errorf("connect timeout too small: %v (minimum: 100ms)", c.connectTimeout)
		}
		if c.connectTimeout > 5*time.Minute {
			return fmt.Errorf("connect timeout too large: %v (maximum: 5m)", c.connectTimeout)
		}
	}

	if c.syncTimeout > 0 {
		if c.syncTimeout < 100*time.Millisecond {
			return fmt.Errorf("sync timeout too small: %v (minimum: 100ms)", c.syncTimeout)
		}
		if c.syncTimeout > time.Hour {
			return fmt.Errorf("sync timeout too large: %v (maximum: 1h)", c.syncTimeout)
		}
	}

	if c.writeTimeout > 0 && c.writeTimeout < time.Millisecond {
		return fmt.Errorf("write timeout too small: %v (minimum: 1ms)", c.writeTimeout)
	}
	return nil
}

// defaultLogger discards everything
type defaultLogger struct{}

func (l *defaultLogger) Debug(msg string, fields ...interface{}) {}

func (l *defaultLogger) Info(msg string, fields ...interface{}) {}

func (l *defaultLogger) Error(msg string, fields ...interface{}) {}
