package permission

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"modbot/internal/apperr"
	"modbot/internal/lockfile"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

var guildRoles = []*discordgo.Role{
	{ID: "admins", Permissions: discordgo.PermissionAdministrator},
	{ID: "mods", Permissions: discordgo.PermissionBanMembers},
	{ID: "helpers"},
}

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName)
	return NewHandler(path, lockfile.New(lockfile.DefaultOptions()), time.Minute, zap.NewNop())
}

func TestEnsureCommandsDefaultsToPrivate(t *testing.T) {
	h := newTestHandler(t)
	ctx := context.Background()

	added, err := h.EnsureCommands(ctx, "g1", "Cafe", []string{"ban", "warn"})
	if err != nil || added != 2 {
		t.Fatalf("ensure: added=%d err=%v", added, err)
	}
	added, err = h.EnsureCommands(ctx, "g1", "Cafe", []string{"ban", "warn", "kick"})
	if err != nil || added != 1 {
		t.Fatalf("second ensure: added=%d err=%v", added, err)
	}

	raw, err := os.ReadFile(h.Path())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var doc map[string]map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc["g1"]["name"] != "Cafe" {
		t.Fatalf("unexpected document %s", raw)
	}
	if !strings.Contains(string(raw), `"allowed": "private"`) || !strings.Contains(string(raw), `"minViewer": "private"`) {
		t.Fatalf("expected private defaults, got %s", raw)
	}
}

func TestCheck(t *testing.T) {
	h := newTestHandler(t)
	ctx := context.Background()
	if _, err := h.EnsureCommands(ctx, "g1", "Cafe", []string{"ban", "warn", "autoreport"}); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := h.SetAllowed(ctx, "g1", "warn", Allowed{Roles: []string{"mods", "helpers"}}); err != nil {
		t.Fatalf("set warn: %v", err)
	}
	if err := h.SetAllowed(ctx, "g1", "autoreport", Allowed{Mode: Public}); err != nil {
		t.Fatalf("set autoreport: %v", err)
	}

	admin := &discordgo.Member{Roles: []string{"admins"}}
	mod := &discordgo.Member{Roles: []string{"mods"}}
	nobody := &discordgo.Member{}
	owner := &discordgo.Member{Permissions: discordgo.PermissionAdministrator}

	cases := []struct {
		command string
		member  *discordgo.Member
		allowed bool
	}{
		{"ban", admin, true},
		{"ban", owner, true},
		{"ban", mod, false},
		{"warn", mod, true},
		{"warn", nobody, false},
		{"autoreport", nobody, true},
	}
	for _, tc := range cases {
		err := h.Check(ctx, "g1", tc.command, tc.member, guildRoles)
		if tc.allowed && err != nil {
			t.Fatalf("%s should be allowed for %v: %v", tc.command, tc.member.Roles, err)
		}
		if !tc.allowed && (!apperr.IsKind(err, apperr.BlockedAction) || !apperr.IsUser(err)) {
			t.Fatalf("%s should be blocked for %v, got %v", tc.command, tc.member.Roles, err)
		}
	}

	if err := h.Check(ctx, "g1", "missing", nobody, guildRoles); !apperr.IsKind(err, apperr.NotFound) {
		t.Fatalf("expected NotFound for unknown commands, got %v", err)
	}
}

func TestSetAllowedInvalidatesCache(t *testing.T) {
	h := newTestHandler(t)
	ctx := context.Background()
	if _, err := h.EnsureCommands(ctx, "g1", "Cafe", []string{"kick"}); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	mod := &discordgo.Member{Roles: []string{"mods"}}
	if err := h.Check(ctx, "g1", "kick", mod, guildRoles); err == nil {
		t.Fatalf("kick starts private")
	}
	if err := h.SetAllowed(ctx, "g1", "kick", Allowed{Roles: []string{"mods"}}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := h.Check(ctx, "g1", "kick", mod, guildRoles); err != nil {
		t.Fatalf("cached rule should be dropped on write: %v", err)
	}
}

func TestMinViewerPermissions(t *testing.T) {
	h := newTestHandler(t)
	ctx := context.Background()
	if _, err := h.EnsureCommands(ctx, "g1", "Cafe", []string{"ban"}); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	bits, err := h.MinViewerPermissions(ctx, "g1", "ban", guildRoles)
	if err != nil || bits != discordgo.PermissionAdministrator {
		t.Fatalf("private viewers need admin: %d %v", bits, err)
	}
}

func TestParseAllowList(t *testing.T) {
	allowed, err := ParseAllowList("mods, <@&helpers>, ghost", guildRoles)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if allowed.Mode != "" || len(allowed.Roles) != 2 || allowed.Roles[1] != "helpers" {
		t.Fatalf("unexpected allowed %+v", allowed)
	}
	allowed, err = ParseAllowList("mods,PUBLIC,helpers", guildRoles)
	if err != nil || allowed.Mode != Public {
		t.Fatalf("public should win: %+v %v", allowed, err)
	}
	if _, err := ParseAllowList("ghost", guildRoles); !apperr.IsKind(err, apperr.InvalidValue) {
		t.Fatalf("expected InvalidValue, got %v", err)
	}
}

func TestAllowedJSON(t *testing.T) {
	var rule Rule
	if err := json.Unmarshal([]byte(`{"roles":{"allowed":["r1","r2"],"minViewer":"public"}}`), &rule); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rule.Roles.Allowed.Roles) != 2 || rule.Roles.MinViewer != Public {
		t.Fatalf("unexpected rule %+v", rule)
	}
	if err := json.Unmarshal([]byte(`{"roles":{"allowed":"everyone"}}`), &rule); !apperr.IsKind(err, apperr.InvalidValue) {
		t.Fatalf("expected InvalidValue, got %v", err)
	}
	if err := json.Unmarshal([]byte(`{"roles":{"allowed":5}}`), &rule); !apperr.IsKind(err, apperr.TypeError) {
		t.Fatalf("expected TypeError, got %v", err)
	}
}

func TestCorruptedDocument(t *testing.T) {
	h := newTestHandler(t)
	if err := os.WriteFile(h.Path(), []byte(`{"g1":{"commands":{"ban":{"roles":{"allowed":7}}}}}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := h.Rule(context.Background(), "g1", "ban"); !apperr.IsKind(err, apperr.CorruptedFile) {
		t.Fatalf("expected CorruptedFile, got %v", err)
	}
}
