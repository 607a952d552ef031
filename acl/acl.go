// Package acl keeps the server's user registry.
//
// Every registry starts with a "default" user that is enabled and has the
// nopass flag, so unauthenticated sessions may run commands until a
// password is configured for it.
package acl

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// DefaultUser is the user every new session starts as
const DefaultUser = "default"

// Flag names reported by ACL GETUSER
const (
	FlagOn     = "on"
	FlagOff    = "off"
	FlagNoPass = "nopass"
)

var (
	// ErrUnknownUser is returned for operations on a missing user
	ErrUnknownUser = errors.New("ERR User does not exist")

	// ErrDeleteDefault is returned when deleting the default user
	ErrDeleteDefault = errors.New("ERR The 'default' user cannot be removed")
)

// User is a snapshot of one registry entry
type User struct {
	Name      string
	Enabled   bool
	NoPass    bool
	Passwords []string // sha256 hex digests
}

// Flags returns the user's flags in Redis order
func (u User) Flags() []string {
	flags := make([]string, 0, 2)
	if u.Enabled {
		flags = append(flags, FlagOn)
	} else {
		flags = append(flags, FlagOff)
	}
	if u.NoPass {
		flags = append(flags, FlagNoPass)
	}
	return flags
}

// HasFlag reports whether the user carries flag
func (u User) HasFlag(flag string) bool {
	for _, f := range u.Flags() {
		if f == flag {
			return true
		}
	}
	return false
}

// Describe renders the user as an ACL LIST line
func (u User) Describe() string {
	parts := append([]string{"user", u.Name}, u.Flags()...)
	for _, p := range u.Passwords {
		parts = append(parts, "#"+p)
	}
	parts = append(parts, "~*", "&*", "+@all")
	return strings.Join(parts, " ")
}

type entry struct {
	enabled   bool
	nopass    bool
	passwords map[string]struct{}
}

// Registry is a concurrency-safe set of users
type Registry struct {
	mu    sync.RWMutex
	users map[string]*entry
}

// NewRegistry returns a registry holding only the default user
func NewRegistry() *Registry {
	return &Registry{
		users: map[string]*entry{
			DefaultUser: {enabled: true, nopass: true, passwords: make(map[string]struct{})},
		},
	}
}

// HashPassword returns the hex sha256 digest stored for a password
func HashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// RequirePass replaces the default user's passwords with password and
// clears its nopass flag, as the requirepass setting does. An empty
// password restores nopass.
func (r *Registry) RequirePass(password string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u := r.users[DefaultUser]
	u.passwords = make(map[string]struct{})
	if password == "" {
		u.nopass = true
		return
	}
	u.nopass = false
	u.passwords[HashPassword(password)] = struct{}{}
}

// Get returns a snapshot of the named user
func (r *Registry) Get(name string) (User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[name]
	if !ok {
		return User{}, false
	}
	out := User{Name: name, Enabled: u.enabled, NoPass: u.nopass}
	for p := range u.passwords {
		out.Passwords = append(out.Passwords, p)
	}
	sort.Strings(out.Passwords)
	return out, true
}

// NoPass reports whether the named user may act without authenticating
func (r *Registry) NoPass(name string) bool {
	u, ok := r.Get(name)
	return ok && u.Enabled && u.NoPass
}

// Authenticate checks a password for the named user
func (r *Registry) Authenticate(name, password string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[name]
	if !ok || !u.enabled {
		return false
	}
	if u.nopass {
		return true
	}
	digest := HashPassword(password)
	for p := range u.passwords {
		if subtle.ConstantTimeCompare([]byte(p), []byte(digest)) == 1 {
			return true
		}
	}
	return false
}

// SetUser creates or modifies a user by applying ACL rules in order.
// Supported rules: on, off, nopass, resetpass, reset, >password,
// <password, #digest, !digest. Permission rules (~, &, +, -) are
// accepted and ignored.
func (r *Registry) SetUser(name string, rules ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[name]
	if !ok {
		u = &entry{passwords: make(map[string]struct{})}
	}
	// Work on a copy so a bad rule leaves the user unchanged
	next := &entry{enabled: u.enabled, nopass: u.nopass, passwords: make(map[string]struct{}, len(u.passwords))}
	for p := range u.passwords {
		next.passwords[p] = struct{}{}
	}

	for _, rule := range rules {
		lower := strings.ToLower(rule)
		switch {
		case lower == "on":
			next.enabled = true
		case lower == "off":
			next.enabled = false
		case lower == "nopass":
			next.nopass = true
			next.passwords = make(map[string]struct{})
		case lower == "resetpass":
			next.nopass = false
			next.passwords = make(map[string]struct{})
		case lower == "reset":
			next = &entry{passwords: make(map[string]struct{})}
		case strings.HasPrefix(rule, ">"):
			next.passwords[HashPassword(rule[1:])] = struct{}{}
			next.nopass = false
		case strings.HasPrefix(rule, "<"):
			delete(next.passwords, HashPassword(rule[1:]))
		case strings.HasPrefix(rule, "#"):
			digest := strings.ToLower(rule[1:])
			if _, err := hex.DecodeString(digest); err != nil || len(digest) != 64 {
				return fmt.Errorf("ERR Error in ACL SETUSER modifier '%s': The password hash must be exactly 64 characters and contain only lowercase hexadecimal characters", rule)
			}
			next.passwords[digest] = struct{}{}
			next.nopass = false
		case strings.HasPrefix(rule, "!"):
			delete(next.passwords, strings.ToLower(rule[1:]))
		case lower == "allkeys", lower == "allchannels", lower == "allcommands", lower == "nocommands",
			strings.HasPrefix(rule, "~"), strings.HasPrefix(rule, "&"),
			strings.HasPrefix(rule, "+"), strings.HasPrefix(rule, "-"):
		default:
			return fmt.Errorf("ERR Error in ACL SETUSER modifier '%s': Syntax error", rule)
		}
	}

	r.users[name] = next
	return nil
}

// DeleteUser removes users and returns how many existed
func (r *Registry) DeleteUser(names ...string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range names {
		if name == DefaultUser {
			return 0, ErrDeleteDefault
		}
	}
	removed := 0
	for _, name := range names {
		if _, ok := r.users[name]; ok {
			delete(r.users, name)
			removed++
		}
	}
	return removed, nil
}

// Users returns every user name, sorted
func (r *Registry) Users() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.users))
	for name := range r.users {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
