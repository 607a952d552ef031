package replication

// writeCommands holds every command that can modify the keyspace. A
// command listed here is propagated to replicas after it succeeds and is
// refused by a read-only replica. Commands the server does not implement
// are listed too so the classification stays complete as handlers are
// added.
var writeCommands = map[string]struct{}{
	// strings
	"SET": {}, "SETNX": {}, "SETEX": {}, "PSETEX": {}, "MSET": {}, "MSETNX": {},
	"GETSET": {}, "GETDEL": {}, "GETEX": {}, "APPEND": {}, "SETRANGE": {},
	"INCR": {}, "DECR": {}, "INCRBY": {}, "DECRBY": {}, "INCRBYFLOAT": {},

	// generic keyspace
	"DEL": {}, "UNLINK": {}, "EXPIRE": {}, "PEXPIRE": {}, "EXPIREAT": {},
	"PEXPIREAT": {}, "PERSIST": {}, "RENAME": {}, "RENAMENX": {}, "COPY": {},
	"MOVE": {}, "RESTORE": {}, "FLUSHDB": {}, "FLUSHALL": {}, "SWAPDB": {},

	// lists
	"LPUSH": {}, "RPUSH": {}, "LPUSHX": {}, "RPUSHX": {}, "LPOP": {}, "RPOP": {},
	"BLPOP": {}, "BRPOP": {}, "LMPOP": {}, "BLMPOP": {}, "LMOVE": {}, "BLMOVE": {},
	"RPOPLPUSH": {}, "BRPOPLPUSH": {}, "LSET": {}, "LTRIM": {}, "LREM": {},
	"LINSERT": {},

	// hashes
	"HSET": {}, "HSETNX": {}, "HMSET": {}, "HDEL": {}, "HINCRBY": {},
	"HINCRBYFLOAT": {},

	// sets
	"SADD": {}, "SREM": {}, "SPOP": {}, "SMOVE": {}, "SINTERSTORE": {},
	"SUNIONSTORE": {}, "SDIFFSTORE": {},

	// sorted sets
	"ZADD": {}, "ZINCRBY": {}, "ZREM": {}, "ZPOPMIN": {}, "ZPOPMAX": {},
	"BZPOPMIN": {}, "BZPOPMAX": {}, "ZMPOP": {}, "BZMPOP": {},
	"ZREMRANGEBYRANK": {}, "ZREMRANGEBYSCORE": {}, "ZREMRANGEBYLEX": {},
	"ZRANGESTORE": {}, "ZINTERSTORE": {}, "ZUNIONSTORE": {}, "ZDIFFSTORE": {},

	// streams
	"XADD": {}, "XDEL": {}, "XTRIM": {}, "XGROUP": {}, "XACK": {},
	"XCLAIM": {}, "XAUTOCLAIM": {}, "XSETID": {},

	// geo
	"GEOADD": {}, "GEOSEARCHSTORE": {}, "GEORADIUS": {}, "GEORADIUSBYMEMBER": {},

	// bitmaps and hyperloglog
	"SETBIT": {}, "BITOP": {}, "BITFIELD": {}, "PFADD": {}, "PFMERGE": {},
}

// IsWriteCommand reports whether the upper-case command name can modify data
func IsWriteCommand(name string) bool {
	_, ok := writeCommands[name]
	return ok
}
