package acl

import "testing"

func TestDefaultUserNoPass(t *testing.T) {
	r := NewRegistry()

	if !r.NoPass(DefaultUser) {
		t.Fatal("default user should start with nopass")
	}
	u, _ := r.Get(DefaultUser)
	if !u.HasFlag(FlagNoPass) || !u.HasFlag(FlagOn) {
		t.Errorf("Flags() = %v, want on nopass", u.Flags())
	}
}

func TestRequirePass(t *testing.T) {
	r := NewRegistry()
	r.RequirePass("secret")

	if r.NoPass(DefaultUser) {
		t.Error("requirepass should clear nopass")
	}
	if r.Authenticate(DefaultUser, "wrong") {
		t.Error("Authenticate() accepted a wrong password")
	}
	if !r.Authenticate(DefaultUser, "secret") {
		t.Error("Authenticate() rejected the right password")
	}

	r.RequirePass("")
	if !r.NoPass(DefaultUser) {
		t.Error("empty requirepass should restore nopass")
	}
}

func TestSetUser(t *testing.T) {
	r := NewRegistry()

	if err := r.SetUser("alice", "on", ">pw1", "~*", "+@all"); err != nil {
		t.Fatalf("SetUser() error = %v", err)
	}
	if !r.Authenticate("alice", "pw1") {
		t.Error("alice should authenticate with pw1")
	}

	if err := r.SetUser("alice", "off"); err != nil {
		t.Fatal(err)
	}
	if r.Authenticate("alice", "pw1") {
		t.Error("disabled user must not authenticate")
	}

	if err := r.SetUser("alice", "on", "bogus"); err == nil {
		t.Error("SetUser() with unknown rule should fail")
	}
	if u, _ := r.Get("alice"); u.Enabled {
		t.Error("failed SetUser must leave the user unchanged")
	}

	if err := r.SetUser("bob", "on", "#"+HashPassword("pw")); err != nil {
		t.Fatal(err)
	}
	if !r.Authenticate("bob", "pw") {
		t.Error("bob should authenticate with hashed password rule")
	}
}

func TestDeleteUser(t *testing.T) {
	r := NewRegistry()
	_ = r.SetUser("alice", "on", "nopass")

	if _, err := r.DeleteUser(DefaultUser); err != ErrDeleteDefault {
		t.Errorf("DeleteUser(default) error = %v", err)
	}
	n, err := r.DeleteUser("alice", "ghost")
	if err != nil || n != 1 {
		t.Errorf("DeleteUser() = %d, %v; want 1", n, err)
	}
	if got := r.Users(); len(got) != 1 || got[0] != DefaultUser {
		t.Errorf("Users() = %v", got)
	}
}
