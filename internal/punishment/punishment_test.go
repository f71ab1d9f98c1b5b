package punishment

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"modbot/internal/apperr"
	"modbot/internal/storage"

	"go.uber.org/zap"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	store, err := storage.New(filepath.Join(t.TempDir(), "modbot.db"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewHandler(store, zap.NewNop())
}

func TestAddAndGet(t *testing.T) {
	h := newTestHandler(t)
	ctx := context.Background()

	number, err := h.Add(ctx, Punishment{GuildID: "g1", Type: Ban, UserID: "u1", ModeratorID: "m1", Reason: "raid"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	got, err := h.Get(ctx, "g1", number)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Type != Ban || got.Reason != "raid" || !got.Permanent() || got.CreatedAt.IsZero() {
		t.Fatalf("unexpected punishment %+v", got)
	}

	_, err = h.Get(ctx, "g1", 42)
	if !apperr.IsKind(err, apperr.NotFound) || !apperr.IsUser(err) {
		t.Fatalf("expected user NotFound, got %v", err)
	}
}

func TestAddRejectsUnknownType(t *testing.T) {
	h := newTestHandler(t)
	_, err := h.Add(context.Background(), Punishment{GuildID: "g1", Type: "jail", UserID: "u1"})
	if !apperr.IsKind(err, apperr.InvalidValue) {
		t.Fatalf("expected InvalidValue, got %v", err)
	}
}

func TestEditAndExpired(t *testing.T) {
	h := newTestHandler(t)
	ctx := context.Background()
	now := time.Now()
	past := now.Add(-time.Minute)

	number, err := h.Add(ctx, Punishment{GuildID: "g1", Type: Ban, UserID: "u1", ModeratorID: "m1", ExpiresAt: &past})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := h.Add(ctx, Punishment{GuildID: "g1", Type: Warn, UserID: "u1", ModeratorID: "m1"}); err != nil {
		t.Fatalf("add warn: %v", err)
	}

	due, err := h.Expired(ctx, now, Ban)
	if err != nil || len(due) != 1 || due[0].Case != number {
		t.Fatalf("expired: %+v err=%v", due, err)
	}

	reason := "appeal accepted"
	undone := true
	edited, err := h.Edit(ctx, "g1", number, Changes{Reason: &reason, Undone: &undone})
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if edited.Reason != reason || !edited.Undone || edited.ExpiresAt == nil {
		t.Fatalf("unexpected edit %+v", edited)
	}
	if due, _ := h.Expired(ctx, now, Ban); len(due) != 0 {
		t.Fatalf("undone bans are not due")
	}
	if _, err := h.Edit(ctx, "g1", 99, Changes{Reason: &reason}); !apperr.IsKind(err, apperr.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}

	history, err := h.UserPunishments(ctx, "g1", "u1")
	if err != nil || len(history) != 2 || history[1].Type != Warn {
		t.Fatalf("history: %+v err=%v", history, err)
	}
}

func TestParseCaseAndType(t *testing.T) {
	if n, err := ParseCase(" #12 "); err != nil || n != 12 {
		t.Fatalf("parse case: %d %v", n, err)
	}
	for _, raw := range []string{"", "abc", "0", "-3"} {
		if _, err := ParseCase(raw); !apperr.IsUser(err) {
			t.Fatalf("expected user error for %q, got %v", raw, err)
		}
	}
	if typ, err := ParseType("MUTE"); err != nil || typ != Mute {
		t.Fatalf("parse type: %v %v", typ, err)
	}
}
