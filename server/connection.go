package server

import (
	"fmt"
	"strings"
	"time"

	"github.com/raniellyferreira/redis-inmemory-server/acl"
	"github.com/raniellyferreira/redis-inmemory-server/persistence"
	"github.com/raniellyferreira/redis-inmemory-server/protocol"
)

func pingCommand(c *call) protocol.Value {
	if len(c.args) > 1 {
		return c.wrongArgs()
	}
	// Subscribers get array replies, with an empty payload by default
	if c.sess.subscriptions() > 0 {
		payload := ""
		if len(c.args) == 1 {
			payload = c.arg(0)
		}
		return protocol.Array(protocol.Bulk("pong"), protocol.Bulk(payload))
	}
	if len(c.args) == 1 {
		return protocol.BulkBytes(c.args[0])
	}
	return protocol.Pong
}

func echoCommand(c *call) protocol.Value {
	return protocol.BulkBytes(c.args[0])
}

func authCommand(c *call) protocol.Value {
	var user, password string
	switch len(c.args) {
	case 1:
		if c.srv.acl.NoPass(acl.DefaultUser) {
			return protocol.ErrorValue("ERR AUTH <password> called without any password configured for the default user. Are you sure your configuration is correct?")
		}
		user, password = acl.DefaultUser, c.arg(0)
	case 2:
		user, password = c.arg(0), c.arg(1)
	default:
		return errSyntax
	}

	if !c.srv.acl.Authenticate(user, password) {
		c.srv.logger.Debug("Authentication failed", "client", c.sess.addr, "user", user)
		return protocol.ErrorValue("WRONGPASS invalid username-password pair or user is disabled.")
	}
	c.sess.user = user
	c.sess.authenticated = true
	return protocol.OK
}

// helloCommand negotiates the protocol version and optionally
// authenticates and names the connection in one round trip
func helloCommand(c *call) protocol.Value {
	proto := c.sess.proto
	i := 0
	if len(c.args) > 0 {
		v, ok := parseInt(c.args[0])
		if !ok {
			return protocol.ErrorValue("ERR Protocol version is not an integer or out of range")
		}
		if v != protocol.RESP2 && v != protocol.RESP3 {
			return protocol.ErrorValue("NOPROTO unsupported protocol version")
		}
		proto = int(v)
		i = 1
	}

	var user, password, name string
	var hasAuth, hasName bool
	for i < len(c.args) {
		switch {
		case equalFold(c.args[i], "AUTH") && i+2 < len(c.args):
			user, password = c.arg(i+1), c.arg(i+2)
			hasAuth = true
			i += 3
		case equalFold(c.args[i], "SETNAME") && i+1 < len(c.args):
			name = c.arg(i + 1)
			hasName = true
			i += 2
		default:
			return protocol.Errorf("ERR Syntax error in HELLO option '%s'", c.arg(i))
		}
	}

	if hasAuth {
		if !c.srv.acl.Authenticate(user, password) {
			return protocol.ErrorValue("WRONGPASS invalid username-password pair or user is disabled.")
		}
		c.sess.user = user
		c.sess.authenticated = true
	}
	if !c.sess.authorized(c.srv.acl) {
		return protocol.ErrorValue("NOAUTH HELLO must be called with the client already authenticated, otherwise the HELLO <proto> AUTH <user> <pass> option can be used to authenticate the client and select the RESP protocol version at the same time")
	}
	if hasName {
		if !validClientName(name) {
			return errClientName
		}
		c.sess.name = name
	}
	c.sess.proto = proto

	role := "master"
	if c.srv.replicaOf != nil {
		role = "replica"
	}
	return protocol.Map(
		protocol.Bulk("server"), protocol.Bulk("redis"),
		protocol.Bulk("version"), protocol.Bulk(persistence.RedisVersion),
		protocol.Bulk("proto"), protocol.Integer(int64(proto)),
		protocol.Bulk("id"), protocol.Integer(int64(c.sess.id)),
		protocol.Bulk("mode"), protocol.Bulk("standalone"),
		protocol.Bulk("role"), protocol.Bulk(role),
		protocol.Bulk("modules"), protocol.Array(),
	)
}

var errClientName = protocol.ErrorValue("ERR Client names cannot contain spaces, newlines or special characters.")

func validClientName(name string) bool {
	for _, r := range name {
		if r <= ' ' || r > '~' {
			return false
		}
	}
	return true
}

func clientCommand(c *call) protocol.Value {
	sub := strings.ToLower(c.arg(0))
	switch sub {
	case "id":
		return protocol.Integer(int64(c.sess.id))

	case "setname":
		if len(c.args) != 2 {
			return c.wrongArgs()
		}
		if !validClientName(c.arg(1)) {
			return errClientName
		}
		c.sess.name = c.arg(1)
		return protocol.OK

	case "getname":
		if c.sess.name == "" {
			return protocol.NullBulk()
		}
		return protocol.Bulk(c.sess.name)

	case "setinfo":
		if len(c.args) != 3 {
			return c.wrongArgs()
		}
		return protocol.OK

	case "info":
		return protocol.Verbatim("txt", clientLine(c.sess, c.sess.name))

	case "list":
		var b strings.Builder
		c.srv.clients.Range(func(_ uint64, other *Session) bool {
			name := ""
			if other == c.sess {
				name = c.sess.name
			}
			b.WriteString(clientLine(other, name))
			return true
		})
		return protocol.Verbatim("txt", b.String())
	}
	return protocol.Errorf("ERR unknown subcommand '%s'. Try CLIENT HELP.", c.arg(0))
}

// clientLine renders the fields of a session that never change after it
// was created, so other connections can be listed without locking them
func clientLine(sess *Session, name string) string {
	return fmt.Sprintf("id=%d addr=%s name=%s age=%d db=0\n",
		sess.id, sess.addr, name, int64(time.Since(sess.createdAt).Seconds()))
}

// resetCommand returns the connection to its initial state
func resetCommand(c *call) protocol.Value {
	sess := c.sess
	sess.inMulti = false
	sess.queue = nil
	sess.unsubscribeAll(c.srv.broker)
	sess.proto = protocol.RESP2
	sess.name = ""
	sess.user = acl.DefaultUser
	sess.authenticated = false
	return protocol.SimpleString("RESET")
}

func quitCommand(c *call) protocol.Value {
	c.sess.quit = true
	return protocol.OK
}

func selectCommand(c *call) protocol.Value {
	n, ok := parseInt(c.args[0])
	if !ok {
		return errNotInteger
	}
	if n != 0 {
		return protocol.ErrorValue("ERR DB index is out of range")
	}
	return protocol.OK
}
