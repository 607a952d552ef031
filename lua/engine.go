package lua

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/raniellyferreira/redis-inmemory-server/protocol"
)

// ErrNoScript is returned by EvalSHA for an unknown digest
var ErrNoScript = errors.New("NOSCRIPT No matching script. Please use EVAL.")

// Executor runs a command issued by redis.call or redis.pcall. The store
// lock is already held for the whole script, so implementations must not
// take it again and must not block.
type Executor interface {
	Call(cmd *protocol.Command) protocol.Value
}

// Engine provides Redis-compatible Lua script execution
type Engine struct {
	scripts sync.Map // SHA1 -> script source
}

// NewEngine creates a new Lua execution engine
func NewEngine() *Engine {
	return &Engine{}
}

// SHA1 returns the hex digest scripts are cached under
func SHA1(script string) string {
	sum := sha1.Sum([]byte(script))
	return hex.EncodeToString(sum[:])
}

// Eval runs script with KEYS and ARGV set and converts its return value to
// a reply. The script is cached so EVALSHA can find it afterwards. Errors
// raised by the script are returned as error replies; the error result is
// reserved for cancellation.
func (e *Engine) Eval(ctx context.Context, exec Executor, script string, keys, args []string) (protocol.Value, error) {
	e.scripts.Store(SHA1(script), script)

	L := lua.NewState()
	defer L.Close()
	if ctx != nil {
		L.SetContext(ctx)
	}

	run := &scriptRun{exec: exec}
	run.setupRedisAPI(L, keys, args)

	fn, err := L.LoadString(script)
	if err != nil {
		return protocol.Errorf("ERR Error compiling script (new function): %s", err.Error()), nil
	}
	L.Push(fn)
	if err := L.PCall(0, 1, nil); err != nil {
		if ctx != nil && ctx.Err() != nil {
			return protocol.Value{}, ctx.Err()
		}
		if run.callErr != nil {
			return *run.callErr, nil
		}
		return protocol.Errorf("ERR Error running script: %s", scriptErrorText(err)), nil
	}

	return toReply(L.Get(-1)), nil
}

// EvalSHA executes a previously loaded script by its SHA1 hash
func (e *Engine) EvalSHA(ctx context.Context, exec Executor, digest string, keys, args []string) (protocol.Value, error) {
	script, exists := e.scripts.Load(strings.ToLower(digest))
	if !exists {
		return protocol.Value{}, ErrNoScript
	}
	return e.Eval(ctx, exec, script.(string), keys, args)
}

// LoadScript caches a script and returns its SHA1 hash
func (e *Engine) LoadScript(script string) string {
	hash := SHA1(script)
	e.scripts.Store(hash, script)
	return hash
}

// ScriptExists checks if scripts with given SHA1 hashes exist
func (e *Engine) ScriptExists(hashes []string) []bool {
	results := make([]bool, len(hashes))
	for i, hash := range hashes {
		_, results[i] = e.scripts.Load(strings.ToLower(hash))
	}
	return results
}

// ScriptFlush removes all cached scripts
func (e *Engine) ScriptFlush() {
	e.scripts.Range(func(key, _ interface{}) bool {
		e.scripts.Delete(key)
		return true
	})
}

// scriptRun is the state of one script execution
type scriptRun struct {
	exec Executor

	// callErr is the error reply that made redis.call raise
	callErr *protocol.Value
}

// setupRedisAPI configures the Lua state with Redis-compatible functions
func (r *scriptRun) setupRedisAPI(L *lua.LState, keys, args []string) {
	keysTable := L.NewTable()
	for i, key := range keys {
		keysTable.RawSetInt(i+1, lua.LString(key))
	}
	L.SetGlobal("KEYS", keysTable)

	argvTable := L.NewTable()
	for i, arg := range args {
		argvTable.RawSetInt(i+1, lua.LString(arg))
	}
	L.SetGlobal("ARGV", argvTable)

	redisTable := L.NewTable()
	L.SetFuncs(redisTable, map[string]lua.LGFunction{
		"call":         r.redisCall,
		"pcall":        r.redisPCall,
		"error_reply":  errorReply,
		"status_reply": statusReply,
		"sha1hex":      sha1hex,
	})
	L.SetGlobal("redis", redisTable)
}

// redisCall implements redis.call(); an error reply raises a Lua error
func (r *scriptRun) redisCall(L *lua.LState) int {
	reply, err := r.executeRedisCommand(L)
	if err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}
	if reply.IsError() {
		r.callErr = &reply
		L.RaiseError("%s", reply.Error())
		return 0
	}
	L.Push(toLua(L, reply))
	return 1
}

// redisPCall implements redis.pcall(); errors come back as {err=...}
func (r *scriptRun) redisPCall(L *lua.LState) int {
	reply, err := r.executeRedisCommand(L)
	if err != nil {
		reply = protocol.ErrorValue(err.Error())
	}
	L.Push(toLua(L, reply))
	return 1
}

// executeRedisCommand builds a command from the Lua arguments and runs it
func (r *scriptRun) executeRedisCommand(L *lua.LState) (protocol.Value, error) {
	argc := L.GetTop()
	if argc == 0 {
		return protocol.Value{}, fmt.Errorf("ERR Please specify at least one argument for this redis lib call")
	}

	items := make([]protocol.Value, argc)
	for i := 1; i <= argc; i++ {
		switch v := L.Get(i).(type) {
		case lua.LString:
			items[i-1] = protocol.Bulk(string(v))
		case lua.LNumber:
			items[i-1] = protocol.Bulk(v.String())
		default:
			return protocol.Value{}, fmt.Errorf("ERR Lua redis lib command arguments must be strings or integers")
		}
	}

	cmd, err := protocol.ParseCommand(protocol.Array(items...))
	if err != nil {
		return protocol.Value{}, fmt.Errorf("ERR %s", err.Error())
	}
	return r.exec.Call(cmd), nil
}

func errorReply(L *lua.LState) int {
	t := L.NewTable()
	t.RawSetString("err", lua.LString(L.CheckString(1)))
	L.Push(t)
	return 1
}

func statusReply(L *lua.LState) int {
	t := L.NewTable()
	t.RawSetString("ok", lua.LString(L.CheckString(1)))
	L.Push(t)
	return 1
}

func sha1hex(L *lua.LState) int {
	L.Push(lua.LString(SHA1(L.CheckString(1))))
	return 1
}

// toLua converts a reply to a Lua value using the Redis conversion rules:
// integers become numbers, nulls become false, status replies become
// {ok=...} and error replies become {err=...}.
func toLua(L *lua.LState, v protocol.Value) lua.LValue {
	switch v.Type {
	case protocol.TypeInteger:
		return lua.LNumber(float64(v.Integer))
	case protocol.TypeBulkString, protocol.TypeVerbatim:
		if v.IsNull {
			return lua.LFalse
		}
		return lua.LString(string(v.Data))
	case protocol.TypeSimpleString:
		t := L.NewTable()
		t.RawSetString("ok", lua.LString(string(v.Data)))
		return t
	case protocol.TypeError, protocol.TypeBulkError:
		t := L.NewTable()
		t.RawSetString("err", lua.LString(string(v.Data)))
		return t
	case protocol.TypeNull:
		return lua.LFalse
	case protocol.TypeBoolean:
		return lua.LBool(v.Bool)
	case protocol.TypeDouble:
		return lua.LNumber(v.Double)
	case protocol.TypeBigNumber:
		return lua.LString(string(v.Data))
	case protocol.TypeArray, protocol.TypeSet, protocol.TypePush, protocol.TypeMap:
		if v.IsNull {
			return lua.LFalse
		}
		t := L.NewTable()
		for i, item := range v.Array {
			t.RawSetInt(i+1, toLua(L, item))
		}
		return t
	}
	return lua.LNil
}

// toReply converts a script result to a reply. Numbers are truncated to
// integers, true becomes 1, false and nil become a null bulk string, and
// array conversion stops at the first nil.
func toReply(lv lua.LValue) protocol.Value {
	switch v := lv.(type) {
	case lua.LBool:
		if v {
			return protocol.Integer(1)
		}
		return protocol.NullBulk()
	case lua.LString:
		return protocol.Bulk(string(v))
	case lua.LNumber:
		return protocol.Integer(int64(v))
	case *lua.LTable:
		if errVal, ok := v.RawGetString("err").(lua.LString); ok {
			return protocol.ErrorValue(string(errVal))
		}
		if okVal, ok := v.RawGetString("ok").(lua.LString); ok {
			return protocol.SimpleString(string(okVal))
		}
		var items []protocol.Value
		for i := 1; ; i++ {
			item := v.RawGetInt(i)
			if item == lua.LNil {
				break
			}
			items = append(items, toReply(item))
		}
		return protocol.Array(items...)
	}
	return protocol.NullBulk()
}

// scriptErrorText strips the Lua stack traceback from a script error
func scriptErrorText(err error) string {
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) && apiErr.Object != nil {
		return apiErr.Object.String()
	}
	msg := err.Error()
	if i := strings.Index(msg, "\nstack traceback:"); i >= 0 {
		msg = msg[:i]
	}
	return msg
}
