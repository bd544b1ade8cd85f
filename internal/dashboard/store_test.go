package dashboard

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dashboard.db")
	s, err := OpenStore(path)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreSessionUpsertListRemove(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	if err := s.UpsertSession(SessionRow{Name: "proj-agent", Role: "agent", PID: 1, Status: "detached", StartedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("UpsertSession: %v", err)
	}
	if err := s.UpsertSession(SessionRow{Name: "proj-console", Role: "console", PID: 2, Status: "detached", StartedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("UpsertSession: %v", err)
	}

	rows, err := s.ListSessions(10, 0)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2", len(rows))
	}

	if err := s.RemoveSession("proj-console"); err != nil {
		t.Fatalf("RemoveSession: %v", err)
	}
	rows, err = s.ListSessions(10, 0)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(rows) != 1 || rows[0].Name != "proj-agent" {
		t.Fatalf("rows = %+v, want only proj-agent", rows)
	}
}

func TestStoreMessagesPagination(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 5; i++ {
		if err := s.AppendMessage("proj-agent", "event", "line"); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}
	page, err := s.ListMessages("proj-agent", 2, 1)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("len(page) = %d, want 2", len(page))
	}
	if page[0].ID != 2 {
		t.Fatalf("page[0].ID = %d, want 2 (offset 1 from id 1)", page[0].ID)
	}
}

func TestClampPageEnforcesSpecBounds(t *testing.T) {
	limit, offset := clampPage(10000, -5)
	if limit != 100 {
		t.Fatalf("limit = %d, want fallback 100 for an out-of-range request", limit)
	}
	if offset != 0 {
		t.Fatalf("offset = %d, want 0 for a negative request", offset)
	}

	limit, offset = clampPage(500, 20)
	if limit != 500 || offset != 20 {
		t.Fatalf("clampPage(500, 20) = (%d, %d), want (500, 20)", limit, offset)
	}
}
