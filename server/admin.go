package server

import (
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/raniellyferreira/redis-inmemory-server/persistence"
	"github.com/raniellyferreira/redis-inmemory-server/protocol"
	"github.com/raniellyferreira/redis-inmemory-server/storage"
)

// configParams lists the CONFIG GET parameters in reply order
func (s *Server) configParams() [][2]string {
	params := s.persistence.Params()
	params = append(params,
		[2]string{"port", fmt.Sprint(s.Port())},
		[2]string{"appendonly", "no"},
		[2]string{"save", ""},
	)
	return params
}

func configCommand(c *call) protocol.Value {
	switch strings.ToLower(c.arg(0)) {
	case "get":
		if len(c.args) < 2 {
			return c.wrongArgs()
		}
		var pairs []protocol.Value
		seen := make(map[string]bool)
		for _, pattern := range c.stringArgs(1) {
			pattern = strings.ToLower(pattern)
			for _, p := range c.srv.configParams() {
				if seen[p[0]] || !storage.MatchPattern(p[0], pattern) {
					continue
				}
				seen[p[0]] = true
				pairs = append(pairs, protocol.Bulk(p[0]), protocol.Bulk(p[1]))
			}
		}
		return protocol.Map(pairs...)

	case "set":
		if len(c.args) < 3 || len(c.args)%2 != 1 {
			return c.wrongArgs()
		}
		cfg := c.srv.persistence
		for i := 1; i < len(c.args); i += 2 {
			name, value := strings.ToLower(c.arg(i)), c.arg(i+1)
			switch name {
			case "dir":
				if info, err := os.Stat(value); err != nil || !info.IsDir() {
					return protocol.ErrorValue("ERR CONFIG SET failed (possibly related to argument 'dir') - No such file or directory")
				}
				cfg.Dir = value
			case "dbfilename":
				if value == "" || strings.ContainsAny(value, `/\`) {
					return protocol.ErrorValue("ERR CONFIG SET failed (possibly related to argument 'dbfilename') - dbfilename can't be a path, just a filename")
				}
				cfg.DBFilename = value
			default:
				return protocol.Errorf("ERR Unknown option or number of arguments for CONFIG SET - '%s'", c.arg(i))
			}
		}
		c.srv.persistence = cfg
		return protocol.OK

	case "resetstat":
		c.srv.commandCount.Store(0)
		c.srv.errorCount.Store(0)
		return protocol.OK
	}
	return protocol.Errorf("ERR unknown subcommand '%s'. Try CONFIG HELP.", c.arg(0))
}

var infoSections = []string{"server", "clients", "replication", "stats", "keyspace"}

// infoCommand renders INFO [section ...]. The store lock is held, so the
// keyspace figures are consistent.
func infoCommand(c *call) protocol.Value {
	return protocol.Verbatim("txt", c.srv.info(c.stringArgs(0)))
}

// Info returns the INFO text for the given sections, every section when
// none is named
func (s *Server) Info(sections ...string) string {
	s.store.Lock()
	defer s.store.Unlock()
	return s.info(sections)
}

func (s *Server) info(sections []string) string {
	wanted := make(map[string]bool)
	for _, name := range sections {
		name = strings.ToLower(name)
		if name == "all" || name == "default" || name == "everything" {
			for _, sec := range infoSections {
				wanted[sec] = true
			}
			continue
		}
		wanted[name] = true
	}
	if len(wanted) == 0 {
		for _, sec := range infoSections {
			wanted[sec] = true
		}
	}

	var b strings.Builder
	for _, section := range infoSections {
		if !wanted[section] {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\r\n")
		}
		s.writeInfoSection(&b, section)
	}
	return b.String()
}

func (s *Server) writeInfoSection(b *strings.Builder, section string) {
	line := func(key string, value interface{}) {
		fmt.Fprintf(b, "%s:%v\r\n", key, value)
	}

	switch section {
	case "server":
		b.WriteString("# Server\r\n")
		line("redis_version", persistence.RedisVersion)
		line("redis_mode", "standalone")
		line("os", runtime.GOOS)
		line("arch_bits", 64)
		line("go_version", runtime.Version())
		line("process_id", os.Getpid())
		line("run_id", s.master.ReplID())
		line("tcp_port", s.Port())
		uptime := time.Since(s.startTime)
		line("uptime_in_seconds", int64(uptime.Seconds()))
		line("uptime_in_days", int64(uptime.Hours()/24))

	case "clients":
		b.WriteString("# Clients\r\n")
		line("connected_clients", s.clients.Size())
		line("maxclients", 10000)

	case "stats":
		stats := s.store.Stats()
		b.WriteString("# Stats\r\n")
		line("total_connections_received", s.connCount.Load())
		line("total_commands_processed", s.commandCount.Load())
		line("total_error_replies", s.errorCount.Load())
		line("expired_keys", stats.ExpiredKeys)
		line("pubsub_channels", len(s.broker.Channels("")))
		line("pubsub_patterns", s.broker.NumPat())

	case "replication":
		b.WriteString("# Replication\r\n")
		if s.replicaOf != nil {
			st := s.replicaOf()
			link := "down"
			if st.LinkUp {
				link = "up"
			}
			lastIO := -1
			if !st.LastIO.IsZero() {
				lastIO = int(time.Since(st.LastIO).Seconds())
			}
			line("role", "slave")
			line("master_host", st.MasterHost)
			line("master_port", st.MasterPort)
			line("master_link_status", link)
			line("master_last_io_seconds_ago", lastIO)
			line("master_sync_in_progress", boolInt(st.SyncInProgress))
			line("slave_read_repl_offset", s.store.RecvOffset())
			line("slave_repl_offset", s.store.RecvOffset())
			line("slave_read_only", boolInt(s.readOnly))
		} else {
			line("role", "master")
		}
		replicas := s.master.Replicas()
		line("connected_slaves", len(replicas))
		for i, r := range replicas {
			host := r.Addr
			if h, _, ok := strings.Cut(r.Addr, ":"); ok {
				host = h
			}
			lag := int64(time.Since(r.LastAck).Seconds())
			line(fmt.Sprintf("slave%d", i), fmt.Sprintf("ip=%s,port=%d,state=online,offset=%d,lag=%d",
				host, r.ListeningPort, r.Offset, lag))
		}
		line("master_replid", s.master.ReplID())
		line("master_repl_offset", s.store.SentOffset())

	case "keyspace":
		b.WriteString("# Keyspace\r\n")
		keys, expires := 0, 0
		s.store.Range(func(_ string, v *storage.Value) bool {
			keys++
			if v.HasExpiry() {
				expires++
			}
			return true
		})
		if keys > 0 {
			line("db0", fmt.Sprintf("keys=%d,expires=%d,avg_ttl=0", keys, expires))
		}
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// commandCommand implements COMMAND [COUNT|LIST|INFO name ...]
func commandCommand(c *call) protocol.Value {
	if len(c.args) == 0 {
		names := sortedCommandNames()
		out := make([]protocol.Value, len(names))
		for i, name := range names {
			out[i] = commandInfo(commands[name])
		}
		return protocol.Array(out...)
	}

	switch strings.ToLower(c.arg(0)) {
	case "count":
		return protocol.Integer(int64(len(commands)))
	case "list":
		return protocol.StringArray(sortedCommandNames()...)
	case "info":
		out := make([]protocol.Value, 0, len(c.args)-1)
		for _, name := range c.stringArgs(1) {
			if def, ok := commands[strings.ToLower(name)]; ok {
				out = append(out, commandInfo(def))
			} else {
				out = append(out, protocol.NullArray())
			}
		}
		return protocol.Array(out...)
	}
	return protocol.Errorf("ERR unknown subcommand '%s'. Try COMMAND HELP.", c.arg(0))
}

func sortedCommandNames() []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func commandInfo(def *command) protocol.Value {
	var flags []protocol.Value
	if def.flags&flagWrite != 0 {
		flags = append(flags, protocol.SimpleString("write"))
	} else {
		flags = append(flags, protocol.SimpleString("readonly"))
	}
	if def.flags&flagNoScript != 0 {
		flags = append(flags, protocol.SimpleString("noscript"))
	}
	if def.flags&flagPubSub != 0 {
		flags = append(flags, protocol.SimpleString("pubsub"))
	}
	if def.flags&flagNoAuth != 0 {
		flags = append(flags, protocol.SimpleString("no_auth"))
	}
	return protocol.Array(
		protocol.Bulk(def.name),
		protocol.Integer(int64(def.arity)),
		protocol.Set(flags...),
		protocol.Integer(0),
		protocol.Integer(0),
		protocol.Integer(0),
	)
}
