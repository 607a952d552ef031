package server

import (
	"strings"
	"time"

	"github.com/raniellyferreira/redis-inmemory-server/protocol"
	"github.com/raniellyferreira/redis-inmemory-server/replication"
)

// cmdFlags describe how the engine treats a command
type cmdFlags uint16

const (
	// flagWrite commands are propagated to replicas when they change the
	// keyspace and refused by a read-only replica
	flagWrite cmdFlags = 1 << iota
	// flagNoLock handlers take the store lock themselves, or never need it
	flagNoLock
	// flagNoAuth commands run before the session is authenticated
	flagNoAuth
	// flagPubSub commands are allowed in subscriber mode
	flagPubSub
	// flagNoMulti commands run immediately inside MULTI instead of queueing
	flagNoMulti
	// flagNoScript commands cannot be called from scripts
	flagNoScript
)

type handlerFunc func(c *call) protocol.Value

type command struct {
	name  string
	arity int // Redis convention: negative means at least -arity
	flags cmdFlags
	fn    handlerFunc
}

func (cmd *command) checkArity(argc int) bool {
	if cmd.arity >= 0 {
		return argc == cmd.arity
	}
	return argc >= -cmd.arity
}

// commands is the dispatch table keyed by lower-case name. It is filled
// in init because handlers such as EXEC refer back to it.
var commands map[string]*command

func init() {
	commands = make(map[string]*command)
	for _, cmd := range commandTable() {
		if replication.IsWriteCommand(strings.ToUpper(cmd.name)) {
			cmd.flags |= flagWrite
		}
		commands[cmd.name] = cmd
	}
}

// noReply is returned by handlers whose reply is sent some other way or
// not at all
var noReply = protocol.Value{}

func isNoReply(v protocol.Value) bool {
	return v.Type == 0
}

// call is one command invocation
type call struct {
	srv  *Server
	sess *Session
	cmd  *protocol.Command
	def  *command
	name string
	args [][]byte

	// nested calls run inside EXEC or a script; the store lock is held by
	// the outer call and blocking commands do not block
	nested bool
	script bool

	// effects collects the commands to propagate for the outermost call
	effects *[]protocol.Value

	// rewrite replaces the command when it is propagated
	rewrite protocol.Value
}

// execute runs one request through the session state machine: auth gate,
// subscriber gate, transaction queueing, then dispatch
func (s *Server) execute(sess *Session, cmd *protocol.Command) protocol.Value {
	start := time.Now()
	s.commandCount.Add(1)

	name := strings.ToLower(cmd.Name)
	def := commands[name]

	result := s.dispatch(sess, cmd, name, def)

	if sess.subscriptions() > 0 && !isNoReply(result) && !result.IsAggregate() && !result.IsError() {
		result = protocol.Array(protocol.Bulk("pong"), protocol.Bulk(""))
	}
	if result.IsError() {
		s.errorCount.Add(1)
		if s.metrics != nil {
			s.metrics.RecordError("command")
		}
	}
	if s.metrics != nil && def != nil {
		s.metrics.RecordCommandProcessed(name, time.Since(start))
	}
	return result
}

func (s *Server) dispatch(sess *Session, cmd *protocol.Command, name string, def *command) protocol.Value {
	if !sess.authorized(s.acl) && (def == nil || def.flags&flagNoAuth == 0) {
		return protocol.ErrorValue("NOAUTH Authentication required.")
	}

	if sess.subscriptions() > 0 && (def == nil || def.flags&flagPubSub == 0) {
		return protocol.Errorf("ERR Can't execute '%s': only (P|S)SUBSCRIBE / (P|S)UNSUBSCRIBE / PING / QUIT / RESET are allowed in this context", name)
	}

	if sess.inMulti && (def == nil || def.flags&flagNoMulti == 0) {
		sess.queue = append(sess.queue, cmd)
		return protocol.SimpleString("QUEUED")
	}

	if def == nil {
		return protocol.Null()
	}
	if !def.checkArity(len(cmd.Args) + 1) {
		return protocol.Errorf("ERR wrong number of arguments for '%s' command", name)
	}
	if def.flags&flagWrite != 0 && s.readOnly && !sess.link {
		return protocol.ErrorValue("READONLY You can't write against a read only replica.")
	}

	var effects []protocol.Value
	c := &call{srv: s, sess: sess, cmd: cmd, def: def, name: name, args: cmd.Args, effects: &effects}

	if def.flags&flagNoLock != 0 {
		return def.fn(c)
	}

	s.store.Lock()
	defer s.store.Unlock()
	before := s.store.Changes()
	result := def.fn(c)
	c.commit(before)
	return result
}

// nestedCall runs cmd inside a transaction or script. The store lock is
// already held and propagated effects join the outer call's.
func (c *call) nestedCall(cmd *protocol.Command) protocol.Value {
	name := strings.ToLower(cmd.Name)
	def := commands[name]
	if def == nil {
		return protocol.Null()
	}
	if c.script && def.flags&flagNoScript != 0 {
		return protocol.ErrorValue("ERR This Redis command is not allowed from script")
	}
	if !def.checkArity(len(cmd.Args) + 1) {
		return protocol.Errorf("ERR wrong number of arguments for '%s' command", name)
	}
	if def.flags&flagWrite != 0 && c.srv.readOnly && !c.sess.link {
		return protocol.ErrorValue("READONLY You can't write against a read only replica.")
	}

	nc := &call{
		srv:     c.srv,
		sess:    c.sess,
		cmd:     cmd,
		def:     def,
		name:    name,
		args:    cmd.Args,
		nested:  true,
		script:  c.script,
		effects: c.effects,
	}
	before := c.srv.store.Changes()
	result := def.fn(nc)
	nc.commit(before)
	if isNoReply(result) {
		return protocol.Null()
	}
	return result
}

// commit records the call for propagation if it changed the keyspace and,
// for the outermost call, sends everything recorded to the replicas. The
// store lock must be held.
func (c *call) commit(before int64) {
	if c.def.flags&flagWrite != 0 && c.srv.store.Changes() != before {
		v := c.rewrite
		if isNoReply(v) {
			v = c.cmd.Value()
		}
		*c.effects = append(*c.effects, v)
	}
	if !c.nested {
		c.srv.propagate(*c.effects)
		*c.effects = (*c.effects)[:0]
	}
}

// propagate feeds write commands to the replicas and advances the sent
// offset by their encoded size. Several commands from one transaction or
// script are wrapped in MULTI/EXEC. The store lock must be held.
func (s *Server) propagate(effects []protocol.Value) {
	if len(effects) == 0 {
		return
	}
	if len(effects) > 1 {
		wrapped := make([]protocol.Value, 0, len(effects)+2)
		wrapped = append(wrapped, protocol.NewCommand("MULTI").Value())
		wrapped = append(wrapped, effects...)
		wrapped = append(wrapped, protocol.NewCommand("EXEC").Value())
		effects = wrapped
	}
	for _, v := range effects {
		s.store.AddSentOffset(s.master.Propagate(v))
	}
}

// withLock runs fn holding the store lock unless an outer call holds it
func (c *call) withLock(fn func() protocol.Value) protocol.Value {
	if c.nested {
		return fn()
	}
	c.srv.store.Lock()
	defer c.srv.store.Unlock()
	return fn()
}

// arg returns argument i as a string
func (c *call) arg(i int) string {
	return string(c.args[i])
}

// stringArgs returns the arguments from index i on as strings
func (c *call) stringArgs(i int) []string {
	out := make([]string, len(c.args)-i)
	for j := range out {
		out[j] = string(c.args[i+j])
	}
	return out
}

// wrongArgs is the arity error for the current command
func (c *call) wrongArgs() protocol.Value {
	return protocol.Errorf("ERR wrong number of arguments for '%s' command", c.name)
}

// commandTable lists every command the server implements
func commandTable() []*command {
	return []*command{
		// connection
		{"ping", -1, flagNoAuth | flagPubSub, pingCommand},
		{"echo", 2, 0, echoCommand},
		{"auth", -2, flagNoAuth | flagNoScript | flagNoLock, authCommand},
		{"hello", -1, flagNoAuth | flagNoScript | flagNoLock, helloCommand},
		{"client", -2, flagNoScript | flagNoLock, clientCommand},
		{"reset", 1, flagNoAuth | flagPubSub | flagNoMulti | flagNoScript | flagNoLock, resetCommand},
		{"quit", -1, flagNoAuth | flagPubSub | flagNoMulti | flagNoScript | flagNoLock, quitCommand},
		{"select", 2, 0, selectCommand},

		// keyspace
		{"del", -2, 0, delCommand},
		{"unlink", -2, 0, delCommand},
		{"exists", -2, 0, existsCommand},
		{"expire", -3, 0, expireCommand},
		{"pexpire", -3, 0, expireCommand},
		{"expireat", -3, 0, expireCommand},
		{"pexpireat", -3, 0, expireCommand},
		{"ttl", 2, 0, ttlCommand},
		{"pttl", 2, 0, ttlCommand},
		{"persist", 2, 0, persistCommand},
		{"type", 2, 0, typeCommand},
		{"keys", 2, 0, keysCommand},
		{"dbsize", 1, 0, dbsizeCommand},
		{"flushall", -1, 0, flushCommand},
		{"flushdb", -1, 0, flushCommand},
		{"save", 1, flagNoScript | flagNoLock, saveCommand},

		// strings
		{"set", -3, 0, setCommand},
		{"get", 2, 0, getCommand},
		{"mget", -2, 0, mgetCommand},
		{"mset", -3, 0, msetCommand},
		{"incr", 2, 0, incrCommand},
		{"incrby", 3, 0, incrCommand},
		{"decr", 2, 0, incrCommand},
		{"decrby", 3, 0, incrCommand},
		{"append", 3, 0, appendCommand},
		{"strlen", 2, 0, strlenCommand},

		// lists
		{"rpush", -3, 0, pushCommand},
		{"lpush", -3, 0, pushCommand},
		{"lpop", -2, 0, popCommand},
		{"rpop", -2, 0, popCommand},
		{"blpop", -3, flagNoLock, blpopCommand},
		{"lrange", 4, 0, lrangeCommand},
		{"llen", 2, 0, llenCommand},

		// hashes
		{"hset", -4, 0, hsetCommand},
		{"hget", 3, 0, hgetCommand},
		{"hdel", -3, 0, hdelCommand},
		{"hgetall", 2, 0, hgetallCommand},
		{"hlen", 2, 0, hlenCommand},
		{"hexists", 3, 0, hexistsCommand},

		// sets
		{"sadd", -3, 0, saddCommand},
		{"srem", -3, 0, sremCommand},
		{"smembers", 2, 0, smembersCommand},
		{"sismember", 3, 0, sismemberCommand},
		{"scard", 2, 0, scardCommand},

		// sorted sets
		{"zadd", -4, 0, zaddCommand},
		{"zincrby", 4, 0, zincrbyCommand},
		{"zcard", 2, 0, zcardCommand},
		{"zcount", 4, 0, zcountCommand},
		{"zrank", 3, 0, zrankCommand},
		{"zrange", -4, 0, zrangeCommand},
		{"zrem", -3, 0, zremCommand},
		{"zscore", 3, 0, zscoreCommand},

		// geo
		{"geoadd", -5, 0, geoaddCommand},
		{"geopos", -2, 0, geoposCommand},
		{"geodist", -4, 0, geodistCommand},
		{"geosearch", -7, 0, geosearchCommand},

		// streams
		{"xadd", -5, 0, xaddCommand},
		{"xdel", -3, 0, xdelCommand},
		{"xlen", 2, 0, xlenCommand},
		{"xrange", -4, 0, xrangeCommand},
		{"xrevrange", -4, 0, xrangeCommand},
		{"xread", -4, flagNoLock, xreadCommand},

		// transactions
		{"multi", 1, flagNoMulti | flagNoScript | flagNoLock, multiCommand},
		{"exec", 1, flagNoMulti | flagNoScript, execCommand},
		{"discard", 1, flagNoMulti | flagNoScript | flagNoLock, discardCommand},

		// replication
		{"replconf", -1, flagNoScript | flagNoLock, replconfCommand},
		{"psync", -3, flagNoScript | flagNoMulti | flagNoLock, psyncCommand},
		{"wait", 3, flagNoScript | flagNoLock, waitCommand},

		// pub/sub
		{"subscribe", -2, flagPubSub | flagNoScript | flagNoLock, subscribeCommand},
		{"unsubscribe", -1, flagPubSub | flagNoScript | flagNoLock, unsubscribeCommand},
		{"psubscribe", -2, flagPubSub | flagNoScript | flagNoLock, subscribeCommand},
		{"punsubscribe", -1, flagPubSub | flagNoScript | flagNoLock, unsubscribeCommand},
		{"publish", 3, flagNoLock, publishCommand},
		{"pubsub", -2, flagNoLock, pubsubCommand},

		// server
		{"config", -2, 0, configCommand},
		{"info", -1, 0, infoCommand},
		{"command", -1, flagNoLock, commandCommand},
		{"acl", -2, flagNoScript | flagNoLock, aclCommand},

		// scripting
		{"eval", -3, flagNoScript, evalCommand},
		{"evalsha", -3, flagNoScript, evalCommand},
		{"script", -2, flagNoScript | flagNoLock, scriptCommand},
	}
}
