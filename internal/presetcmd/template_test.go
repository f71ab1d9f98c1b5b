package presetcmd

import (
	"context"
	"errors"
	"testing"
	"time"

	"modbot/internal/apperr"
	"modbot/internal/lockfile"
	"modbot/internal/preset"

	"go.uber.org/zap"
)

type fakeActivator struct {
	running map[string]preset.Preset
	fail    error
}

func (f *fakeActivator) Start(ctx context.Context, p preset.Preset) error {
	if f.fail != nil {
		return f.fail
	}
	f.running[p.Name] = p
	return nil
}

func (f *fakeActivator) Stop(name string) {
	delete(f.running, name)
}

func newTemplate(t *testing.T) (*Template, *fakeActivator) {
	t.Helper()
	dir := t.TempDir()
	locker := lockfile.New(lockfile.Options{Retries: 3, MinTimeout: time.Millisecond, MaxTimeout: 5 * time.Millisecond})
	handler := preset.NewHandler(dir, "autoreport", locker, zap.NewNop())
	bowl := preset.NewDataBowl(dir, "autoreport", handler, locker, zap.NewNop())
	activator := &fakeActivator{running: map[string]preset.Preset{}}
	initial := func() map[string]any {
		return map[string]any{"alreadyReported": []any{}, "messages": []any{}}
	}
	return New(handler, bowl, activator, initial, zap.NewNop()), activator
}

func TestNewCreatesPresetAndBowl(t *testing.T) {
	tmpl, activator := newTemplate(t)
	ctx := context.Background()

	created, err := tmpl.New(ctx, "report1", map[string]any{"chatID": "123"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	bowl, err := tmpl.Bowl().Get(ctx, created.UUID, preset.ByUUID)
	if err != nil {
		t.Fatalf("bowl: %v", err)
	}
	if bowl.Name != "report1" {
		t.Fatalf("unexpected bowl name %s", bowl.Name)
	}
	if _, ok := bowl.Data["messages"]; !ok {
		t.Fatalf("bowl missing initial data: %#v", bowl.Data)
	}
	if _, ok := activator.running["report1"]; !ok {
		t.Fatalf("preset should be started")
	}
}

func TestNewRejectsReservedPrefix(t *testing.T) {
	tmpl, _ := newTemplate(t)
	if _, err := tmpl.New(context.Background(), "old_thing", map[string]any{"chatID": "1"}); !apperr.IsKind(err, apperr.InvalidValue) {
		t.Fatalf("expected InvalidValue, got %v", err)
	}
}

func TestEditMergesAndRenames(t *testing.T) {
	tmpl, activator := newTemplate(t)
	ctx := context.Background()
	created, err := tmpl.New(ctx, "report1", map[string]any{"chatID": "1", "emoji": "🔥"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	updated, err := tmpl.Edit(ctx, "report1", map[string]any{"chatID": nil, "emoji": "👀"}, "report2")
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if updated.Name != "report2" || updated.UUID != created.UUID {
		t.Fatalf("unexpected edited preset %#v", updated)
	}
	if updated.Data["chatID"] != "1" || updated.Data["emoji"] != "👀" {
		t.Fatalf("unexpected data %#v", updated.Data)
	}
	bowl, err := tmpl.Bowl().Get(ctx, created.UUID, preset.ByUUID)
	if err != nil || bowl.Name != "report2" {
		t.Fatalf("bowl not renamed: %v %#v", err, bowl)
	}
	if _, ok := activator.running["report1"]; ok {
		t.Fatalf("old name should be stopped")
	}
	if _, ok := activator.running["report2"]; !ok {
		t.Fatalf("new name should be running")
	}
}

func TestEditGuards(t *testing.T) {
	tmpl, _ := newTemplate(t)
	ctx := context.Background()
	if _, err := tmpl.New(ctx, "report1", map[string]any{"chatID": "1"}); err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := tmpl.Edit(ctx, "report1", map[string]any{"chatID": nil}, ""); !apperr.IsKind(err, apperr.NotEnoughArgs) {
		t.Fatalf("expected NotEnoughArgs, got %v", err)
	}
	if _, err := tmpl.Edit(ctx, "old_report1", map[string]any{"chatID": "2"}, ""); !apperr.IsKind(err, apperr.GhostEditing) {
		t.Fatalf("expected GhostEditing, got %v", err)
	}
	if _, err := tmpl.Edit(ctx, "report1", nil, "old_x"); !apperr.IsKind(err, apperr.InvalidValue) {
		t.Fatalf("expected InvalidValue, got %v", err)
	}
}

func TestRemovePartialThenFull(t *testing.T) {
	tmpl, activator := newTemplate(t)
	ctx := context.Background()
	created, err := tmpl.New(ctx, "report1", map[string]any{"chatID": "1"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	renamed, err := tmpl.Remove(ctx, "report1", false)
	if err != nil {
		t.Fatalf("partial remove: %v", err)
	}
	if renamed != "old_report1" {
		t.Fatalf("unexpected soft deleted name %s", renamed)
	}
	if _, ok := activator.running["report1"]; ok {
		t.Fatalf("removed preset should be stopped")
	}
	bowl, err := tmpl.Bowl().Get(ctx, created.UUID, preset.ByUUID)
	if err != nil || bowl.Name != "old_report1" {
		t.Fatalf("bowl not soft deleted: %v %#v", err, bowl)
	}

	active, err := tmpl.List(ctx, false)
	if err != nil || len(active) != 0 {
		t.Fatalf("expected no active presets: %v %#v", err, active)
	}
	all, err := tmpl.List(ctx, true)
	if err != nil || len(all) != 1 {
		t.Fatalf("expected soft deleted preset in full listing: %v %#v", err, all)
	}

	if _, err := tmpl.Remove(ctx, "old_report1", false); !apperr.IsKind(err, apperr.BlockedAction) {
		t.Fatalf("expected BlockedAction, got %v", err)
	}
	if _, err := tmpl.Remove(ctx, "old_report1", true); err != nil {
		t.Fatalf("full remove: %v", err)
	}
	if _, err := tmpl.Presets().Get(ctx, created.UUID, preset.ByUUID); !apperr.IsKind(err, apperr.NotFound) {
		t.Fatalf("preset should be gone, got %v", err)
	}
	if _, err := tmpl.Bowl().Get(ctx, created.UUID, preset.ByUUID); !apperr.IsKind(err, apperr.NotFound) {
		t.Fatalf("bowl should be gone, got %v", err)
	}
}

func TestSoftDeleteTwiceWithSameName(t *testing.T) {
	tmpl, _ := newTemplate(t)
	ctx := context.Background()
	if _, err := tmpl.New(ctx, "report1", map[string]any{"chatID": "1"}); err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := tmpl.Remove(ctx, "report1", false); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := tmpl.New(ctx, "report1", map[string]any{"chatID": "2"}); err != nil {
		t.Fatalf("recreate: %v", err)
	}
	renamed, err := tmpl.Remove(ctx, "report1", false)
	if err != nil {
		t.Fatalf("second remove: %v", err)
	}
	if renamed != "old_report1_2" {
		t.Fatalf("unexpected name %s", renamed)
	}
}

func TestNames(t *testing.T) {
	tmpl, _ := newTemplate(t)
	ctx := context.Background()
	for i, name := range []string{"rules", "Reports", "memes"} {
		if _, err := tmpl.New(ctx, name, map[string]any{"n": i}); err != nil {
			t.Fatalf("new: %v", err)
		}
	}
	names, err := tmpl.Names(ctx, "r", false)
	if err != nil {
		t.Fatalf("names: %v", err)
	}
	if len(names) != 2 || names[0] != "Reports" || names[1] != "rules" {
		t.Fatalf("unexpected names %v", names)
	}
}

func TestEditedData(t *testing.T) {
	got := EditedData(map[string]any{"a": "1", "b": "2"}, map[string]any{"a": nil, "b": "3", "c": true})
	if got["a"] != "1" || got["b"] != "3" || got["c"] != true {
		t.Fatalf("unexpected merge %#v", got)
	}
}

func TestNewRollsBackWhenStartFails(t *testing.T) {
	tmpl, activator := newTemplate(t)
	ctx := context.Background()

	activator.fail = errors.New("listener refused")
	if _, err := tmpl.New(ctx, "report1", map[string]any{"chatID": "123"}); err == nil {
		t.Fatalf("expected the start error")
	}
	if entries, err := tmpl.Presets().List(ctx); err != nil || len(entries) != 0 {
		t.Fatalf("preset should be rolled back, got %v (%v)", entries, err)
	}
	if entries, err := tmpl.Bowl().List(ctx); err != nil || len(entries) != 0 {
		t.Fatalf("bowl should be rolled back, got %v (%v)", entries, err)
	}

	activator.fail = nil
	if _, err := tmpl.New(ctx, "report1", map[string]any{"chatID": "123"}); err != nil {
		t.Fatalf("retry after rollback: %v", err)
	}
}
