package redisserver

import (
	"crypto/tls"
	"net"
	"strings"
	"time"

	"github.com/raniellyferreira/redis-inmemory-server/persistence"
)

// config holds the configuration for a Node
type config struct {
	// Listener settings
	addr      string
	adminAddr string
	password  string

	// Replication settings, replicaOf is empty for a primary
	replicaOf      string
	masterUser     string
	masterPassword string
	masterTLS      *tls.Config

	// Persistence
	dir        string
	dbFilename string

	// Timeouts and limits
	syncTimeout      time.Duration
	connectTimeout   time.Duration
	readTimeout      time.Duration
	writeTimeout     time.Duration
	cleanupInterval  time.Duration
	outputBufferSize int

	// Observability
	logger  Logger
	metrics MetricsCollector

	readOnly bool
}

// defaultConfig returns a configuration with sensible defaults
func defaultConfig() *config {
	defaults := persistence.DefaultConfig()
	return &config{
		addr:             ":6379",
		dir:              defaults.Dir,
		dbFilename:       defaults.DBFilename,
		syncTimeout:      30 * time.Second,
		connectTimeout:   5 * time.Second,
		writeTimeout:     10 * time.Second,
		cleanupInterval:  100 * time.Millisecond,
		outputBufferSize: 1024,
		readOnly:         true,
		logger:           &defaultLogger{},
	}
}

// Option represents a configuration option for a Node
type Option func(*config) error

// WithAddr sets the address the server listens on
//
// Example:
//
//	WithAddr(":6379")
//	WithAddr("127.0.0.1:0")
func WithAddr(addr string) Option {
	return func(c *config) error {
		if addr == "" {
			return ErrInvalidConfig
		}
		c.addr = addr
		return nil
	}
}

// WithReplicaOf makes the node a replica of the primary at addr. Both
// "host:port" and the "host port" form of the replicaof directive are
// accepted.
//
// Example:
//
//	WithReplicaOf("localhost:6379")
//	WithReplicaOf("localhost 6379")
func WithReplicaOf(addr string) Option {
	return func(c *config) error {
		if fields := strings.Fields(addr); len(fields) == 2 {
			addr = net.JoinHostPort(fields[0], fields[1])
		}
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return &ConnectionError{Addr: addr, Err: ErrInvalidConfig}
		}
		c.replicaOf = addr
		return nil
	}
}

// WithMasterAuth sets the credentials used to authenticate with the
// primary. An empty user authenticates as the default user.
func WithMasterAuth(user, password string) Option {
	return func(c *config) error {
		c.masterUser = user
		c.masterPassword = password
		return nil
	}
}

// WithMasterTLS configures TLS for the connection to the primary
func WithMasterTLS(tlsConfig *tls.Config) Option {
	return func(c *config) error {
		c.masterTLS = tlsConfig
		return nil
	}
}

// WithPassword sets the password clients authenticate with as the default
// user
//
// Example:
//
//	WithPassword("secret")
func WithPassword(password string) Option {
	return func(c *config) error {
		c.password = password
		return nil
	}
}

// WithDir sets the directory the snapshot file is loaded from and saved to
func WithDir(dir string) Option {
	return func(c *config) error {
		if dir == "" {
			return ErrInvalidConfig
		}
		c.dir = dir
		return nil
	}
}

// WithDBFilename sets the snapshot file name inside the directory
func WithDBFilename(name string) Option {
	return func(c *config) error {
		if name == "" || strings.ContainsAny(name, `/\`) {
			return ErrInvalidConfig
		}
		c.dbFilename = name
		return nil
	}
}

// WithReadOnly sets whether a replica refuses writes from its clients
// (default: true). It has no effect on a primary.
//
// Example:
//
//	WithReadOnly(false) // Allow local writes on a replica
func WithReadOnly(readOnly bool) Option {
	return func(c *config) error {
		c.readOnly = readOnly
		return nil
	}
}

// WithSyncTimeout sets how long a full synchronization with the primary
// may take
func WithSyncTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout <= 0 {
			return ErrInvalidConfig
		}
		c.syncTimeout = timeout
		return nil
	}
}

// WithConnectTimeout sets the timeout for dialing the primary
func WithConnectTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout <= 0 {
			return ErrInvalidConfig
		}
		c.connectTimeout = timeout
		return nil
	}
}

// WithReadTimeout closes client connections idle for longer than timeout.
// Zero, the default, keeps idle clients forever.
func WithReadTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout < 0 {
			return ErrInvalidConfig
		}
		c.readTimeout = timeout
		return nil
	}
}

// WithWriteTimeout sets the write timeout on the connection to the primary
func WithWriteTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout <= 0 {
			return ErrInvalidConfig
		}
		c.writeTimeout = timeout
		return nil
	}
}

// WithCleanupInterval sets how often expired keys are removed in the
// background. Zero leaves expiry to lookups.
func WithCleanupInterval(interval time.Duration) Option {
	return func(c *config) error {
		if interval < 0 {
			return ErrInvalidConfig
		}
		c.cleanupInterval = interval
		return nil
	}
}

// WithOutputBufferSize sets how many replies may be queued for a client
// before a publisher disconnects it
func WithOutputBufferSize(n int) Option {
	return func(c *config) error {
		if n <= 0 {
			return ErrInvalidConfig
		}
		c.outputBufferSize = n
		return nil
	}
}

// WithLogger sets a custom logger
//
// Example:
//
//	WithLogger(myCustomLogger)
func WithLogger(logger Logger) Option {
	return func(c *config) error {
		if logger == nil {
			return ErrInvalidConfig
		}
		c.logger = logger
		return nil
	}
}

// WithMetrics enables metrics collection with the provided collector
//
// Example:
//
//	WithMetrics(metrics.NewCollector("redis"))
func WithMetrics(collector MetricsCollector) Option {
	return func(c *config) error {
		c.metrics = collector
		return nil
	}
}

// WithAdminAddr serves /metrics, /healthz and /info on addr. Metrics are
// exported only when the collector is a *metrics.Collector.
func WithAdminAddr(addr string) Option {
	return func(c *config) error {
		c.adminAddr = addr
		return nil
	}
}
