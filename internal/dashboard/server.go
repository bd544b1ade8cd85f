// Package dashboard is an HTTP/WS façade layered over the core
// supervisor, capture, and autorun packages, giving a browser a
// read/write view onto otherwise headless sessions.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/jonhardwick-spec/wrangler/internal/autorun"
	"github.com/jonhardwick-spec/wrangler/internal/events"
	"github.com/jonhardwick-spec/wrangler/internal/session"
)

// Config configures a Server.
type Config struct {
	ProjectPath  string
	PasswordPath string // bcrypt hash file; empty means public mode
	PasswordSeed string // initial plaintext, written hashed if PasswordPath doesn't exist
	LoginRate    float64
	LoginBurst   int
}

// Runner starts an autonomous run; the CLI's autorun.Controller
// satisfies this, narrowed to avoid a direct dashboard->autorun
// struct dependency beyond what's needed to trigger a run.
type Runner interface {
	Run(ctx context.Context, projectPath, prompt string, deadline time.Duration) (autorun.Report, error)
}

// Server is the dashboard HTTP/WS façade.
type Server struct {
	cfg        Config
	sup        *session.Supervisor
	runner     Runner
	store      *Store
	bus        *events.Bus
	auth       *Authenticator
	limiter    *loginLimiter
	log        *slog.Logger
	mux        *http.ServeMux

	connMu sync.Mutex
	conns  map[*websocket.Conn]struct{}
}

// New constructs a Server. store/bus must be non-nil; sup and runner
// may be nil in tests that only exercise auth/health.
func New(cfg Config, sup *session.Supervisor, runner Runner, store *Store, bus *events.Bus, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	auth, err := NewAuthenticator(cfg.PasswordPath, cfg.PasswordSeed, log)
	if err != nil {
		return nil, fmt.Errorf("dashboard: init auth: %w", err)
	}
	rate := cfg.LoginRate
	if rate <= 0 {
		rate = 5
	}
	burst := cfg.LoginBurst
	if burst <= 0 {
		burst = 5
	}

	s := &Server{
		cfg:     cfg,
		sup:     sup,
		runner:  runner,
		store:   store,
		bus:     bus,
		auth:    auth,
		limiter: newLoginLimiter(rate, burst),
		log:     log,
		mux:     http.NewServeMux(),
		conns:   make(map[*websocket.Conn]struct{}),
	}

	s.mux.HandleFunc("POST /login", s.handleLogin)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /sessions", s.withAuth(s.handleListSessions))
	s.mux.HandleFunc("GET /sessions/{name}/messages", s.withAuth(s.handleListMessages))
	s.mux.HandleFunc("POST /sessions/{name}/command", s.withAuth(s.handleTriggerCommand))
	s.mux.HandleFunc("POST /runs", s.withAuth(s.handleTriggerRun))
	s.mux.HandleFunc("GET /ws", s.withAuth(s.handleWS))

	if bus != nil {
		go s.pump()
	}
	return s, nil
}

// Close releases the authenticator's file watcher.
func (s *Server) Close() {
	s.auth.Close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("Authorization")
		if len(token) > 7 && token[:7] == "Bearer " {
			token = token[7:]
		}
		if !s.auth.CheckSession(token) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.allow(clientIP(r)) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}
	var body struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	token, ok := s.auth.Login(body.Password)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid password")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "time": time.Now().UTC()})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePage(r)
	rows, err := s.store.ListSessions(limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": rows})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	limit, offset := parsePage(r)
	rows, err := s.store.ListMessages(name, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": rows})
}

func (s *Server) handleTriggerCommand(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var body struct {
		Text       string `json:"text"`
		PressEnter bool   `json:"pressEnter"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if s.sup == nil {
		writeError(w, http.StatusServiceUnavailable, "supervisor not configured")
		return
	}
	if err := s.sup.Driver.Send(r.Context(), name, body.Text, body.PressEnter); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	_ = s.store.AppendMessage(name, "command", body.Text)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ProjectPath string `json:"projectPath"`
		Prompt      string `json:"prompt"`
		DurationMin int    `json:"durationMinutes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if s.runner == nil {
		writeError(w, http.StatusServiceUnavailable, "runner not configured")
		return
	}
	projectPath := body.ProjectPath
	if projectPath == "" {
		projectPath = s.cfg.ProjectPath
	}
	deadline := time.Duration(body.DurationMin) * time.Minute
	if deadline <= 0 {
		deadline = 30 * time.Minute
	}

	go func() {
		ctx := context.Background()
		report, err := s.runner.Run(ctx, projectPath, body.Prompt, deadline)
		if err != nil {
			s.log.Warn("dashboard: triggered run failed", "err", err)
			return
		}
		s.log.Info("dashboard: triggered run finished", "reason", report.ExitReason)
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}
	defer conn.CloseNow()

	s.trackConn(conn)
	defer s.untrackConn(conn)

	ctx := conn.CloseRead(r.Context())
	<-ctx.Done()
}

func (s *Server) trackConn(c *websocket.Conn) {
	s.connMu.Lock()
	s.conns[c] = struct{}{}
	s.connMu.Unlock()
}

func (s *Server) untrackConn(c *websocket.Conn) {
	s.connMu.Lock()
	delete(s.conns, c)
	s.connMu.Unlock()
}

// wsMessage is the envelope every event is wrapped in before broadcast.
type wsMessage struct {
	Type      events.Type `json:"type"`
	Data      any         `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

// pump subscribes to the event bus and broadcasts every event to all
// connected WebSocket clients for as long as the server runs.
func (s *Server) pump() {
	sub := s.bus.Subscribe()
	defer sub.Close()
	for ev := range sub.Events() {
		msg := wsMessage{Type: ev.Type, Data: ev.Data, Timestamp: ev.Timestamp.UnixMilli()}
		data, err := json.Marshal(msg)
		if err != nil {
			continue
		}

		s.connMu.Lock()
		conns := make([]*websocket.Conn, 0, len(s.conns))
		for c := range s.conns {
			conns = append(conns, c)
		}
		s.connMu.Unlock()

		for _, c := range conns {
			writeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_ = c.Write(writeCtx, websocket.MessageText, data)
			cancel()
		}
	}
}

func parsePage(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	return clampPage(limit, offset)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
