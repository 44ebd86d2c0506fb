package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/mnemohq/mnemo-go-sdk/core"
	"github.com/mnemohq/mnemo-go-sdk/session"
	"github.com/mnemohq/mnemo-go-sdk/session/store/sqlite"
)

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(sqlite.Config{Path: filepath.Join(t.TempDir(), "sessions.db")})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	sess := &session.Session{
		ID:         "s-1",
		UserID:     "user-1",
		Summary:    "talked about travel",
		CreatedAt:  now,
		LastActive: now,
		TTL:        time.Hour,
		Messages: []session.Message{
			session.NewMessage(session.RoleUser, "book a flight to Oslo", now),
			session.NewMessage(session.RoleAgent, "which dates work for you?", now.Add(time.Second)),
		},
	}
	sess.Recount()

	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Load(ctx, "s-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.UserID != sess.UserID || got.Summary != sess.Summary || got.TokenCount != sess.TokenCount {
		t.Errorf("loaded header mismatch: %+v", got)
	}
	if got.TTL != time.Hour {
		t.Errorf("TTL = %v, want 1h", got.TTL)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(got.Messages))
	}
	for i := range sess.Messages {
		want, have := sess.Messages[i], got.Messages[i]
		if have.ID != want.ID || have.Role != want.Role || have.Content != want.Content || have.Tokens != want.Tokens {
			t.Errorf("message %d mismatch: %+v vs %+v", i, have, want)
		}
		if !have.Timestamp.Equal(want.Timestamp) {
			t.Errorf("message %d timestamp = %v, want %v", i, have.Timestamp, want.Timestamp)
		}
	}
}

func TestStore_SaveRewritesWindow(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	now := time.Now()

	sess := &session.Session{ID: "s-1", UserID: "u", CreatedAt: now, LastActive: now, TTL: time.Hour}
	for i := 0; i < 4; i++ {
		sess.Messages = append(sess.Messages, session.NewMessage(session.RoleUser, "msg", now))
	}
	sess.Recount()
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Compaction shrinks the window; a re-save must not leave orphan rows.
	sess.Summary = "compacted"
	sess.Messages = sess.Messages[3:]
	sess.Recount()
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("re-Save: %v", err)
	}

	got, err := store.Load(ctx, "s-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got.Messages) != 1 {
		t.Errorf("got %d messages after rewrite, want 1", len(got.Messages))
	}
	if got.Summary != "compacted" {
		t.Errorf("summary = %q", got.Summary)
	}
}

func TestStore_LoadMissing(t *testing.T) {
	store := openStore(t)
	_, err := store.Load(context.Background(), "absent")
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("Load missing = %v, want ErrNotFound", err)
	}
}

func TestStore_DeleteAbsentIsNoOp(t *testing.T) {
	store := openStore(t)
	if err := store.Delete(context.Background(), "absent"); err != nil {
		t.Fatalf("Delete absent: %v", err)
	}
}

func TestStore_ExpiredIDs(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	stale := &session.Session{ID: "stale", UserID: "u", CreatedAt: base, LastActive: base, TTL: time.Hour}
	fresh := &session.Session{ID: "fresh", UserID: "u", CreatedAt: base, LastActive: base.Add(2 * time.Hour), TTL: time.Hour}
	for _, s := range []*session.Session{stale, fresh} {
		if err := store.Save(ctx, s); err != nil {
			t.Fatalf("Save %s: %v", s.ID, err)
		}
	}

	ids, err := store.ExpiredIDs(ctx, base.Add(90*time.Minute))
	if err != nil {
		t.Fatalf("ExpiredIDs: %v", err)
	}
	if len(ids) != 1 || ids[0] != "stale" {
		t.Errorf("ExpiredIDs = %v, want [stale]", ids)
	}
}

func TestOpen_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sessions.db")

	store, err := sqlite.Open(sqlite.Config{Path: path})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	now := time.Now()
	sess := &session.Session{ID: "s-1", UserID: "u", CreatedAt: now, LastActive: now, TTL: time.Hour}
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopen exercises the idempotent migration and durability.
	store, err = sqlite.Open(sqlite.Config{Path: path})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = store.Close() }()
	if _, err := store.Load(ctx, "s-1"); err != nil {
		t.Fatalf("Load after reopen: %v", err)
	}
}
