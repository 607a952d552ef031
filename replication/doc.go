// Package replication implements both sides of Redis replication.
//
// On a primary, Master keeps one ordered Feed per attached replica.
// Every successful write is encoded once and queued on each feed while
// the store lock is held, and replicas report progress with REPLCONF ACK,
// which WAIT observes.
//
// On a replica, Client performs the handshake:
//
//	PING                       -> PONG
//	REPLCONF listening-port N  -> OK
//	REPLCONF capa psync2       -> OK
//	PSYNC ? -1                 -> FULLRESYNC <replid> <offset>, snapshot
//
// and then applies the command stream through an Applier, answering
// REPLCONF GETACK with the offset processed so far.
//
// IsWriteCommand classifies commands that modify the keyspace.
package replication
