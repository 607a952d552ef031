// Package server implements the Redis protocol front end of the in-memory
// server.
//
// Each connection runs a reader task that decodes requests and executes
// them in order, and a writer task that owns the socket's write half.
// Requests pass through the session state machine before dispatch: the
// auth gate, the subscriber gate and MULTI queueing. Unknown commands
// reply with null.
//
// Handlers run holding the store lock unless their command is flagged
// otherwise. Blocking commands (BLPOP, XREAD BLOCK) release the lock while
// they wait on per-key waiters. Writes that changed the keyspace are
// propagated to attached replicas, and a replica applies its primary's
// stream through Applier.
//
// The server is compatible with Redis clients like github.com/redis/go-redis.
package server
