package dashboard

import (
	"path/filepath"
	"testing"
	"time"
)

func TestAuthenticatorLoginAndSessionCheck(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret")
	auth, err := NewAuthenticator(path, "hunter2", nil)
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}
	defer auth.Close()

	if auth.Public() {
		t.Fatal("expected private mode with a seeded password")
	}

	if _, ok := auth.Login("wrong"); ok {
		t.Fatal("expected wrong password to fail login")
	}

	token, ok := auth.Login("hunter2")
	if !ok || token == "" {
		t.Fatal("expected correct password to issue a session token")
	}
	if !auth.CheckSession(token) {
		t.Fatal("expected issued token to check out")
	}
	if auth.CheckSession("bogus") {
		t.Fatal("expected a bogus token to fail")
	}
}

func TestAuthenticatorPublicModeAllowsEverything(t *testing.T) {
	auth, err := NewAuthenticator("", "", nil)
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}
	defer auth.Close()

	if !auth.Public() {
		t.Fatal("expected public mode with no path and no seed")
	}
	if !auth.CheckSession("anything") {
		t.Fatal("expected public mode to accept any session token")
	}
	if _, ok := auth.Login("whatever"); !ok {
		t.Fatal("expected public mode login to always succeed")
	}
}

func TestAuthenticatorHotReloadsPasswordFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret")
	auth, err := NewAuthenticator(path, "first", nil)
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}
	defer auth.Close()

	if err := auth.writeSecret("second"); err != nil {
		t.Fatalf("writeSecret: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := auth.Login("second"); ok {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for password reload to take effect")
		}
		time.Sleep(20 * time.Millisecond)
	}
}
