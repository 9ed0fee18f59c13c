package broker

import (
	"strings"
	"testing"
)

func TestAuthTableDisabledByDefault(t *testing.T) {
	a := NewAuthTable()
	if a.Enabled() {
		t.Fatalf("fresh AuthTable should not be enabled")
	}
	if !a.Check("anyone", "anything") {
		t.Errorf("disabled AuthTable should accept any credentials")
	}
}

func TestLoadAuthChecksUsernameAndPassword(t *testing.T) {
	a, err := LoadAuth(strings.NewReader("users: alice, bob\npassword: hunter2\n"))
	if err != nil {
		t.Fatalf("LoadAuth: %v", err)
	}
	if !a.Enabled() {
		t.Fatalf("loaded AuthTable should be enabled")
	}
	if !a.Check("alice", "hunter2") {
		t.Errorf("alice with correct password should be accepted")
	}
	if a.Check("alice", "wrong") {
		t.Errorf("alice with wrong password should be rejected")
	}
	if a.Check("eve", "hunter2") {
		t.Errorf("unlisted user should be rejected")
	}
}

func TestLoadAuthRequiresBothKeys(t *testing.T) {
	if _, err := LoadAuth(strings.NewReader("users: alice\n")); err == nil {
		t.Errorf("want error when 'password' is missing")
	}
	if _, err := LoadAuth(strings.NewReader("password: x\n")); err == nil {
		t.Errorf("want error when 'users' is missing")
	}
}
