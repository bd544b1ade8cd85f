package dashboard

import (
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the dashboard's own SQLite-backed cache: a session listing
// mirror and a message/command log. The server appends to the message
// log when a command is triggered; nothing in this package writes the
// session mirror (UpsertSession/RemoveSession have no caller here),
// so it is not refreshed from the event bus or the supervisor. It
// lives entirely inside the dashboard package; the
// core supervisor, capture, autorun, and rpcbridge packages persist
// nothing and never touch this database.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if absent) the SQLite database at dsn and
// applies any unapplied migrations.
func OpenStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open dashboard db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate dashboard db: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		var applied int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", f).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", f, err)
		}
		if applied > 0 {
			continue
		}
		content, err := migrationsFS.ReadFile("migrations/" + f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx for %s: %w", f, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", f, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", f); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", f, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", f, err)
		}
	}
	return nil
}

// SessionRow mirrors one supervised session for the listing endpoint.
type SessionRow struct {
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	PID       int       `json:"pid"`
	Status    string    `json:"status"`
	StartedAt time.Time `json:"startedAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// UpsertSession records or refreshes one session's listing row.
func (s *Store) UpsertSession(row SessionRow) error {
	_, err := s.db.Exec(`INSERT INTO sessions (name, role, pid, status, started_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			role=excluded.role, pid=excluded.pid, status=excluded.status, updated_at=excluded.updated_at`,
		row.Name, row.Role, row.PID, row.Status, row.StartedAt, row.UpdatedAt)
	return err
}

// RemoveSession drops a session's listing row (e.g. on stop).
func (s *Store) RemoveSession(name string) error {
	_, err := s.db.Exec("DELETE FROM sessions WHERE name = ?", name)
	return err
}

// ListSessions returns a page of the session mirror, newest first.
func (s *Store) ListSessions(limit, offset int) ([]SessionRow, error) {
	limit, offset = clampPage(limit, offset)
	rows, err := s.db.Query(`SELECT name, role, pid, status, started_at, updated_at
		FROM sessions ORDER BY updated_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SessionRow
	for rows.Next() {
		var r SessionRow
		if err := rows.Scan(&r.Name, &r.Role, &r.PID, &r.Status, &r.StartedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// MessageRow is one entry in a session's command/event history log.
type MessageRow struct {
	ID        int64     `json:"id"`
	Session   string    `json:"session"`
	Kind      string    `json:"kind"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

// AppendMessage logs one entry to a session's history.
func (s *Store) AppendMessage(session, kind, body string) error {
	_, err := s.db.Exec(`INSERT INTO messages (session, kind, body, created_at) VALUES (?, ?, ?, ?)`,
		session, kind, body, time.Now())
	return err
}

// ListMessages returns a page of a session's history, oldest first.
func (s *Store) ListMessages(session string, limit, offset int) ([]MessageRow, error) {
	limit, offset = clampPage(limit, offset)
	rows, err := s.db.Query(`SELECT id, session, kind, body, created_at FROM messages
		WHERE session = ? ORDER BY id ASC LIMIT ? OFFSET ?`, session, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MessageRow
	for rows.Next() {
		var r MessageRow
		if err := rows.Scan(&r.ID, &r.Session, &r.Kind, &r.Body, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// clampPage enforces sane pagination bounds (limit<=500, offset>=0).
func clampPage(limit, offset int) (int, int) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
