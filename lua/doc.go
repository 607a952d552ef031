// Package lua runs Redis scripts with gopher-lua.
//
// A script sees KEYS and ARGV and reaches the keyspace through
// redis.call and redis.pcall, which hand commands to an Executor. The
// caller holds the store lock for the whole script, so a script is atomic
// with respect to every other client.
//
// Values convert the way Redis converts them: integer replies become Lua
// numbers, nulls become false, status and error replies become tables with
// an ok or err field, and the script result is turned back into a reply
// with numbers truncated to integers.
package lua
