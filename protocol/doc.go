// Package protocol implements the Redis Serialization Protocol (RESP)
// for parsing and writing Redis protocol messages.
//
// Decode is a pure function over a byte slice: it returns one frame and
// the exact number of bytes it occupied, or ErrIncomplete when more input
// is needed. Reader wraps Decode for streams and keeps any bytes that
// arrive after a frame for the next call.
//
// Basic usage:
//
//	reader := protocol.NewReader(conn)
//	for {
//		value, n, err := reader.ReadFrame()
//		if err != nil {
//			break
//		}
//		// Process value; n is its encoded size
//	}
//
// All RESP2 and RESP3 types are supported. Writer encodes for the
// negotiated protocol version and downgrades RESP3 types for RESP2 peers.
package protocol
