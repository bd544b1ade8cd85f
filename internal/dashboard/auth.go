package dashboard

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/crypto/bcrypt"
)

// Authenticator holds the dashboard's shared secret, bcrypt-hashed on
// disk, and reloads it when the file changes so a password rotation is
// honored at the next request without a restart.
type Authenticator struct {
	mu         sync.RWMutex
	hash       []byte
	sessionSum [32]byte // sha256 of the current session token, compared in constant time
	hasSession bool
	path       string
	log        *slog.Logger
	watcher    *fsnotify.Watcher
	stopCh     chan struct{}
	disabled   bool // public mode: no secret configured, every request passes
}

// NewAuthenticator loads the bcrypt hash stored at path. If path does
// not exist and plaintext is non-empty, it hashes and writes plaintext
// there. An empty path (whatever plaintext is), or a missing file with
// no plaintext, puts the dashboard in public mode, where every request
// is allowed through unauthenticated.
func NewAuthenticator(path, plaintext string, log *slog.Logger) (*Authenticator, error) {
	if log == nil {
		log = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	a := &Authenticator{path: path, log: log, stopCh: make(chan struct{})}

	if path == "" {
		a.disabled = true
		return a, nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if plaintext == "" {
			a.disabled = true
			return a, nil
		}
		if err := a.writeSecret(plaintext); err != nil {
			return nil, err
		}
	}

	if err := a.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("dashboard: watch password file: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("dashboard: watch password file: %w", err)
	}
	a.watcher = watcher
	go a.watchLoop()
	return a, nil
}

func (a *Authenticator) writeSecret(plaintext string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("dashboard: hash password: %w", err)
	}
	return os.WriteFile(a.path, hash, 0600)
}

func (a *Authenticator) reload() error {
	data, err := os.ReadFile(a.path)
	if err != nil {
		return fmt.Errorf("dashboard: read password file: %w", err)
	}
	a.mu.Lock()
	a.hash = []byte(strings.TrimSpace(string(data)))
	a.mu.Unlock()
	return nil
}

func (a *Authenticator) watchLoop() {
	for {
		select {
		case ev, ok := <-a.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if err := a.reload(); err != nil {
					a.log.Warn("dashboard: password reload failed", "err", err)
				} else {
					a.log.Info("dashboard: password reloaded")
				}
			}
		case err, ok := <-a.watcher.Errors:
			if !ok {
				return
			}
			a.log.Warn("dashboard: password watcher error", "err", err)
		case <-a.stopCh:
			return
		}
	}
}

// Close stops the file watcher, if any.
func (a *Authenticator) Close() {
	close(a.stopCh)
	if a.watcher != nil {
		a.watcher.Close()
	}
}

// Login verifies the submitted password against the bcrypt hash and,
// on success, mints a fresh session token. Subsequent requests present
// that token and are checked with CheckSession, which compares digests
// with crypto/subtle.ConstantTimeCompare to avoid a timing oracle on
// the live session secret; bcrypt's own comparison already guards the
// password-verification step itself.
func (a *Authenticator) Login(password string) (string, bool) {
	if a.disabled {
		return "", true
	}
	a.mu.RLock()
	hash := a.hash
	a.mu.RUnlock()
	if len(hash) == 0 || bcrypt.CompareHashAndPassword(hash, []byte(password)) != nil {
		return "", false
	}

	token := newSessionToken()
	sum := sha256.Sum256([]byte(token))
	a.mu.Lock()
	a.sessionSum = sum
	a.hasSession = true
	a.mu.Unlock()
	return token, true
}

// CheckSession reports whether token matches the current session,
// comparing digests in constant time.
func (a *Authenticator) CheckSession(token string) bool {
	if a.disabled {
		return true
	}
	if token == "" {
		return false
	}
	a.mu.RLock()
	sum, ok := a.sessionSum, a.hasSession
	a.mu.RUnlock()
	if !ok {
		return false
	}
	candidate := sha256.Sum256([]byte(token))
	return subtle.ConstantTimeCompare(sum[:], candidate[:]) == 1
}

// Public reports whether the dashboard has no configured secret.
func (a *Authenticator) Public() bool {
	return a.disabled
}

func newSessionToken() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failures are effectively unrecoverable; panic
		// rather than silently issuing a predictable session token.
		panic(fmt.Sprintf("dashboard: read random session token: %v", err))
	}
	return hex.EncodeToString(buf)
}
