package auth

import "testing"

func TestBasicAuthenticate(t *testing.T) {
	b := NewBasic(map[string]string{"alice": "secret"})

	if !b.Authenticate("alice", "secret") {
		t.Error("expected valid credentials to authenticate")
	}
	if b.Authenticate("alice", "wrong") {
		t.Error("expected wrong password to fail")
	}
	if b.Authenticate("bob", "secret") {
		t.Error("expected unknown user to fail")
	}
}

func TestBasicAuthenticateCopiesCredentials(t *testing.T) {
	creds := map[string]string{"alice": "secret"}
	b := NewBasic(creds)
	creds["alice"] = "changed"

	if !b.Authenticate("alice", "secret") {
		t.Error("expected NewBasic to copy the credential map rather than alias it")
	}
}
