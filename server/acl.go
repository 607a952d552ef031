package server

import (
	"strings"

	"github.com/raniellyferreira/redis-inmemory-server/protocol"
)

// aclCommand implements ACL WHOAMI|USERS|LIST|GETUSER|SETUSER|DELUSER
func aclCommand(c *call) protocol.Value {
	users := c.srv.acl
	switch strings.ToLower(c.arg(0)) {
	case "whoami":
		return protocol.Bulk(c.sess.user)

	case "users":
		return protocol.StringArray(users.Users()...)

	case "list":
		var lines []string
		for _, name := range users.Users() {
			if u, ok := users.Get(name); ok {
				lines = append(lines, u.Describe())
			}
		}
		return protocol.StringArray(lines...)

	case "getuser":
		if len(c.args) != 2 {
			return c.wrongArgs()
		}
		u, ok := users.Get(c.arg(1))
		if !ok {
			return protocol.Null()
		}
		return protocol.Map(
			protocol.Bulk("flags"), protocol.StringArray(u.Flags()...),
			protocol.Bulk("passwords"), protocol.StringArray(u.Passwords...),
			protocol.Bulk("commands"), protocol.Bulk("+@all"),
			protocol.Bulk("keys"), protocol.Bulk("~*"),
			protocol.Bulk("channels"), protocol.Bulk("&*"),
		)

	case "setuser":
		if len(c.args) < 2 {
			return c.wrongArgs()
		}
		if err := users.SetUser(c.arg(1), c.stringArgs(2)...); err != nil {
			return errorReply(err)
		}
		return protocol.OK

	case "deluser":
		if len(c.args) < 2 {
			return c.wrongArgs()
		}
		n, err := users.DeleteUser(c.stringArgs(1)...)
		if err != nil {
			return errorReply(err)
		}
		return protocol.Integer(int64(n))
	}
	return protocol.Errorf("ERR unknown subcommand '%s'. Try ACL HELP.", c.arg(0))
}
