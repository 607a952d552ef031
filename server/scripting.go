package server

import (
	"strings"

	"github.com/raniellyferreira/redis-inmemory-server/lua"
	"github.com/raniellyferreira/redis-inmemory-server/protocol"
)

// scriptExecutor runs redis.call from a script through the dispatch
// table. The script's call already holds the store lock.
type scriptExecutor struct {
	call *call
}

func (e scriptExecutor) Call(cmd *protocol.Command) protocol.Value {
	return e.call.nestedCall(cmd)
}

// evalCommand implements EVAL and EVALSHA script|sha numkeys key... arg...
func evalCommand(c *call) protocol.Value {
	numKeys, ok := parseInt(c.args[1])
	if !ok {
		return errNotInteger
	}
	if numKeys < 0 {
		return protocol.ErrorValue("ERR Number of keys can't be negative")
	}
	if numKeys > int64(len(c.args)-2) {
		return protocol.ErrorValue("ERR Number of keys can't be greater than number of args")
	}
	keys := c.stringArgs(2)[:numKeys]
	args := c.stringArgs(2 + int(numKeys))

	exec := scriptExecutor{call: &call{
		srv:     c.srv,
		sess:    c.sess,
		cmd:     c.cmd,
		def:     c.def,
		name:    c.name,
		args:    c.args,
		nested:  true,
		script:  true,
		effects: c.effects,
	}}

	var (
		result protocol.Value
		err    error
	)
	if c.name == "evalsha" {
		result, err = c.srv.lua.EvalSHA(c.sess.ctx, exec, c.arg(0), keys, args)
	} else {
		result, err = c.srv.lua.Eval(c.sess.ctx, exec, c.arg(0), keys, args)
	}
	if err != nil {
		return errorReply(err)
	}
	return result
}

// scriptCommand implements SCRIPT LOAD|EXISTS|FLUSH
func scriptCommand(c *call) protocol.Value {
	engine := c.srv.lua
	switch strings.ToLower(c.arg(0)) {
	case "load":
		if len(c.args) != 2 {
			return c.wrongArgs()
		}
		return protocol.Bulk(engine.LoadScript(c.arg(1)))

	case "exists":
		if len(c.args) < 2 {
			return c.wrongArgs()
		}
		found := engine.ScriptExists(c.stringArgs(1))
		out := make([]protocol.Value, len(found))
		for i, ok := range found {
			out[i] = protocol.Integer(int64(boolInt(ok)))
		}
		return protocol.Array(out...)

	case "flush":
		if len(c.args) > 2 || (len(c.args) == 2 && !equalFold(c.args[1], "ASYNC") && !equalFold(c.args[1], "SYNC")) {
			return errSyntax
		}
		engine.ScriptFlush()
		return protocol.OK
	}
	return protocol.Errorf("ERR unknown subcommand '%s'. Try SCRIPT HELP.", c.arg(0))
}

var _ lua.Executor = scriptExecutor{}
