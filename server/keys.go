package server

import (
	"math"
	"strconv"
	"time"

	"github.com/raniellyferreira/redis-inmemory-server/persistence"
	"github.com/raniellyferreira/redis-inmemory-server/protocol"
	"github.com/raniellyferreira/redis-inmemory-server/storage"
)

func delCommand(c *call) protocol.Value {
	return protocol.Integer(int64(c.srv.store.Delete(c.stringArgs(0)...)))
}

func existsCommand(c *call) protocol.Value {
	return protocol.Integer(int64(c.srv.store.Exists(c.stringArgs(0)...)))
}

// expireCommand implements EXPIRE, PEXPIRE, EXPIREAT and PEXPIREAT with
// the NX, XX, GT and LT conditions. Every variant propagates as PEXPIREAT
// so replicas expire the key at the same instant.
func expireCommand(c *call) protocol.Value {
	store := c.srv.store
	key := c.arg(0)

	n, ok := parseInt(c.args[1])
	if !ok {
		return errNotInteger
	}

	var nx, xx, gt, lt bool
	for _, opt := range c.args[2:] {
		switch {
		case equalFold(opt, "NX"):
			nx = true
		case equalFold(opt, "XX"):
			xx = true
		case equalFold(opt, "GT"):
			gt = true
		case equalFold(opt, "LT"):
			lt = true
		default:
			return protocol.Errorf("ERR Unsupported option %s", opt)
		}
	}
	if nx && (xx || gt || lt) {
		return protocol.ErrorValue("ERR NX and XX, GT or LT options at the same time are not compatible")
	}
	if gt && lt {
		return protocol.ErrorValue("ERR GT and LT options at the same time are not compatible")
	}

	var ms int64
	switch c.name {
	case "expire", "expireat":
		if n > math.MaxInt64/1000 || n < math.MinInt64/1000 {
			return protocol.Errorf("ERR invalid expire time in '%s' command", c.name)
		}
		ms = n * 1000
	default:
		ms = n
	}
	if c.name == "expire" || c.name == "pexpire" {
		now := store.Now().UnixMilli()
		if (ms > 0 && now > math.MaxInt64-ms) || (ms < 0 && now < math.MinInt64-ms) {
			return protocol.Errorf("ERR invalid expire time in '%s' command", c.name)
		}
		ms += now
	}
	at := time.UnixMilli(ms)

	if _, ok := store.Lookup(key); !ok {
		return protocol.Integer(0)
	}
	current := store.ExpireAt(key)
	switch {
	case nx && !current.IsZero():
		return protocol.Integer(0)
	case xx && current.IsZero():
		return protocol.Integer(0)
	// No expiry counts as an infinite TTL for GT and LT
	case gt && (current.IsZero() || !at.After(current)):
		return protocol.Integer(0)
	case lt && !current.IsZero() && !at.Before(current):
		return protocol.Integer(0)
	}

	store.SetExpiry(key, at)
	c.rewrite = protocol.NewCommand("PEXPIREAT", key, strconv.FormatInt(ms, 10)).Value()
	return protocol.Integer(1)
}

func ttlCommand(c *call) protocol.Value {
	d := c.srv.store.TTL(c.arg(0))
	if d < 0 {
		return protocol.Integer(int64(d))
	}
	if c.name == "pttl" {
		return protocol.Integer(d.Milliseconds())
	}
	return protocol.Integer(int64((d + 500*time.Millisecond) / time.Second))
}

func persistCommand(c *call) protocol.Value {
	if c.srv.store.Persist(c.arg(0)) {
		return protocol.Integer(1)
	}
	return protocol.Integer(0)
}

func typeCommand(c *call) protocol.Value {
	return protocol.SimpleString(c.srv.store.Type(c.arg(0)))
}

func keysCommand(c *call) protocol.Value {
	return protocol.StringArray(c.srv.store.Keys(c.arg(0))...)
}

func dbsizeCommand(c *call) protocol.Value {
	n := 0
	c.srv.store.Range(func(string, *storage.Value) bool {
		n++
		return true
	})
	return protocol.Integer(int64(n))
}

func flushCommand(c *call) protocol.Value {
	if len(c.args) > 1 || (len(c.args) == 1 && !equalFold(c.args[0], "ASYNC") && !equalFold(c.args[0], "SYNC")) {
		return errSyntax
	}
	c.srv.store.Flush()
	return protocol.OK
}

// saveCommand encodes the keyspace under the lock and writes the file
// after releasing it
func saveCommand(c *call) protocol.Value {
	var (
		data []byte
		cfg  persistence.Config
	)
	c.withLock(func() protocol.Value {
		data, _ = persistence.Snapshot(c.srv.store)
		cfg = c.srv.persistence
		return noReply
	})
	if err := persistence.WriteFile(cfg, data); err != nil {
		c.srv.logger.Error("Snapshot save failed", "path", cfg.Path(), "error", err)
		return protocol.Errorf("ERR %v", err)
	}
	c.srv.logger.Info("DB saved on disk", "path", cfg.Path())
	return protocol.OK
}
