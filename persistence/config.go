package persistence

import (
	"path/filepath"
	"strings"
)

// Defaults used when nothing is configured
const (
	DefaultDir        = "."
	DefaultDBFilename = "dump.rdb"
)

// Config locates the snapshot file. It is the source of the "dir" and
// "dbfilename" values reported by CONFIG GET.
type Config struct {
	Dir        string
	DBFilename string
}

// DefaultConfig returns the default snapshot location
func DefaultConfig() Config {
	return Config{Dir: DefaultDir, DBFilename: DefaultDBFilename}
}

// Path returns the full snapshot file path
func (c Config) Path() string {
	dir, name := c.Dir, c.DBFilename
	if dir == "" {
		dir = DefaultDir
	}
	if name == "" {
		name = DefaultDBFilename
	}
	return filepath.Join(dir, name)
}

// Params returns the configuration parameters in CONFIG GET order
func (c Config) Params() [][2]string {
	return [][2]string{
		{"dir", c.Dir},
		{"dbfilename", c.DBFilename},
	}
}

// Get returns the value of a single parameter, matched case-insensitively
func (c Config) Get(name string) (string, bool) {
	for _, p := range c.Params() {
		if strings.EqualFold(p[0], name) {
			return p[1], true
		}
	}
	return "", false
}
