package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/chatstream/relay/internal/turnstore"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "turns.db"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndQueryBySession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	recs := []turnstore.Record{
		{TurnID: "t1", SessionID: "sess-1", Role: "assistant", Content: "first", Provider: "openai", Model: "gpt-4o", Timestamp: base},
		{TurnID: "t2", SessionID: "sess-1", Role: "assistant", Content: "second", Provider: "openai", Model: "gpt-4o", Timestamp: base.Add(time.Minute)},
		{TurnID: "t3", SessionID: "sess-2", Role: "assistant", Content: "other", Provider: "ollama", Model: "llama3.1", Timestamp: base},
	}
	for _, rec := range recs {
		if err := s.Save(ctx, rec); err != nil {
			t.Fatalf("Save(%s) error = %v", rec.TurnID, err)
		}
	}

	got, err := s.BySession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("BySession() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].TurnID != "t1" || got[1].TurnID != "t2" {
		t.Errorf("order = %s, %s, want t1, t2", got[0].TurnID, got[1].TurnID)
	}
	if got[0].Content != "first" || got[0].Provider != "openai" {
		t.Errorf("record = %+v", got[0])
	}
}

func TestDuplicateTurnIDRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := turnstore.Record{
		TurnID: "t1", SessionID: "sess-1", Role: "assistant",
		Content: "once", Provider: "loopback", Model: "echo", Timestamp: time.Now(),
	}
	if err := s.Save(ctx, rec); err != nil {
		t.Fatalf("first Save() error = %v", err)
	}
	if err := s.Save(ctx, rec); err == nil {
		t.Fatal("second Save() with the same turn_id should fail")
	}
}

func TestEmptySession(t *testing.T) {
	s := newTestStore(t)
	got, err := s.BySession(context.Background(), "nope")
	if err != nil {
		t.Fatalf("BySession() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("len = %d, want 0", len(got))
	}
}
