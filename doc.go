// Package redisserver provides an in-memory, Redis-compatible server that
// can run as a primary or as a replica of another Redis primary.
//
// A Node owns the keyspace, the RESP listener and, for replicas, the
// replication link. Clients such as github.com/redis/go-redis talk to it
// like to any Redis server.
//
// Basic usage:
//
//	node, err := redisserver.New(
//		redisserver.WithAddr(":6379"),
//		redisserver.WithDir("/var/lib/redis"),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer node.Close()
//
//	if err := node.Start(context.Background()); err != nil {
//		log.Fatal(err)
//	}
//
// A replica follows a primary and serves reads:
//
//	replica, err := redisserver.New(
//		redisserver.WithAddr(":6380"),
//		redisserver.WithReplicaOf("localhost:6379"),
//	)
//	...
//	if err := replica.WaitForSync(ctx); err != nil {
//		log.Fatal(err)
//	}
//
// The server supports:
//
//   - RESP2 and RESP3 (negotiated with HELLO)
//   - strings, lists, hashes, sets, sorted sets, geo and streams
//   - expiry, MULTI/EXEC, pub/sub and Lua scripting
//   - blocking BLPOP and XREAD BLOCK
//   - primary and replica replication, including WAIT
//   - RDB snapshots loaded at start and written by SAVE
package redisserver
