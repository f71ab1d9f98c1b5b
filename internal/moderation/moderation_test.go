package moderation

import (
	"context"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"modbot/internal/apperr"
	"modbot/internal/i18n"
	"modbot/internal/modules/audit"
	"modbot/internal/punishment"
	"modbot/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

type fakeDiscord struct {
	mu        sync.Mutex
	bans      map[string]string
	timeouts  map[string]*time.Time
	kicked    []string
	members   map[string]bool
	dms       []string
	banErr    error
	unbanErrs map[string]error
}

func newFakeDiscord() *fakeDiscord {
	return &fakeDiscord{
		bans:      map[string]string{},
		timeouts:  map[string]*time.Time{},
		members:   map[string]bool{"u1": true, "u2": true},
		unbanErrs: map[string]error{},
	}
}

func restError(status int) error {
	return &discordgo.RESTError{Response: &http.Response{StatusCode: status}}
}

func (f *fakeDiscord) UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	return &discordgo.Channel{ID: "dm-" + recipientID}, nil
}

func (f *fakeDiscord) ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dms = append(f.dms, content)
	return &discordgo.Message{}, nil
}

func (f *fakeDiscord) GuildBanCreateWithReason(guildID, userID, reason string, days int, options ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.banErr != nil {
		return f.banErr
	}
	f.bans[userID] = reason
	return nil
}

func (f *fakeDiscord) GuildBanDelete(guildID, userID string, options ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.unbanErrs[userID]; err != nil {
		return err
	}
	if _, ok := f.bans[userID]; !ok {
		return restError(http.StatusNotFound)
	}
	delete(f.bans, userID)
	return nil
}

func (f *fakeDiscord) GuildMemberDeleteWithReason(guildID, userID, reason string, options ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kicked = append(f.kicked, userID)
	return nil
}

func (f *fakeDiscord) GuildMemberTimeout(guildID, userID string, until *time.Time, options ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timeouts[userID] = until
	return nil
}

func (f *fakeDiscord) GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.members[userID] {
		return nil, restError(http.StatusNotFound)
	}
	return &discordgo.Member{User: &discordgo.User{ID: userID}}, nil
}

func newTestService(t *testing.T) (*Service, *fakeDiscord) {
	t.Helper()
	store, err := storage.New(filepath.Join(t.TempDir(), "moderation.db"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	messages, err := i18n.Load("en")
	if err != nil {
		t.Fatalf("locales: %v", err)
	}
	discord := newFakeDiscord()
	logger := zap.NewNop()
	service := NewService(discord, punishment.NewHandler(store, logger), audit.NewLogger(store, logger), messages, func() string { return "bot" }, logger)
	return service, discord
}

func TestBanTemporaryAndSweep(t *testing.T) {
	service, discord := newTestService(t)
	ctx := context.Background()

	p, err := service.Ban(ctx, Request{GuildID: "g1", ModeratorID: "mod", TargetID: "u1", Reason: "raid", Limit: "1h"})
	if err != nil {
		t.Fatalf("ban: %v", err)
	}
	if p.Case != 1 || p.ExpiresAt == nil {
		t.Fatalf("unexpected punishment %+v", p)
	}
	if discord.bans["u1"] != "raid (by mod)" {
		t.Fatalf("unexpected audit reason %q", discord.bans["u1"])
	}

	sweeper := NewSweeper(service, zap.NewNop())
	if lifted, err := sweeper.Sweep(ctx, time.Now()); err != nil || lifted != 0 {
		t.Fatalf("nothing is due yet: lifted=%d err=%v", lifted, err)
	}
	lifted, err := sweeper.Sweep(ctx, time.Now().Add(2*time.Hour))
	if err != nil || lifted != 1 {
		t.Fatalf("sweep: lifted=%d err=%v", lifted, err)
	}
	if _, banned := discord.bans["u1"]; banned {
		t.Fatalf("ban should be lifted")
	}
	got, err := service.Punishments().Get(ctx, "g1", p.Case)
	if err != nil || !got.Undone {
		t.Fatalf("case should be undone: %+v err=%v", got, err)
	}
}

func TestSweepRetriesFailedUnban(t *testing.T) {
	service, discord := newTestService(t)
	ctx := context.Background()
	if _, err := service.Ban(ctx, Request{GuildID: "g1", ModeratorID: "mod", TargetID: "u1", Limit: "1min"}); err != nil {
		t.Fatalf("ban: %v", err)
	}
	discord.unbanErrs["u1"] = restError(http.StatusInternalServerError)

	sweeper := NewSweeper(service, zap.NewNop())
	if _, err := sweeper.Sweep(ctx, time.Now().Add(time.Hour)); err == nil {
		t.Fatalf("expected the failed unban to be reported")
	}
	delete(discord.unbanErrs, "u1")
	if lifted, err := sweeper.Sweep(ctx, time.Now().Add(time.Hour)); err != nil || lifted != 1 {
		t.Fatalf("retry: lifted=%d err=%v", lifted, err)
	}
}

func TestTargetChecks(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()
	if _, err := service.Kick(ctx, Request{GuildID: "g1", ModeratorID: "mod", TargetID: "mod"}); !apperr.IsKind(err, apperr.BlockedAction) {
		t.Fatalf("expected BlockedAction for self, got %v", err)
	}
	if _, err := service.Kick(ctx, Request{GuildID: "g1", ModeratorID: "mod", TargetID: "bot"}); !apperr.IsKind(err, apperr.BlockedAction) {
		t.Fatalf("expected BlockedAction for the bot, got %v", err)
	}
	if _, err := service.Ban(ctx, Request{GuildID: "g1", ModeratorID: "mod", TargetID: "u1", DeleteDays: 9}); !apperr.IsKind(err, apperr.InvalidValue) {
		t.Fatalf("expected InvalidValue for delete days, got %v", err)
	}
}

func TestMuteLimits(t *testing.T) {
	service, discord := newTestService(t)
	ctx := context.Background()

	if _, err := service.Mute(ctx, Request{GuildID: "g1", ModeratorID: "mod", TargetID: "u1"}); !apperr.IsKind(err, apperr.InvalidValue) || !apperr.IsUser(err) {
		t.Fatalf("a mute needs a limit, got %v", err)
	}
	if _, err := service.Mute(ctx, Request{GuildID: "g1", ModeratorID: "mod", TargetID: "u1", Limit: "29d"}); !apperr.IsKind(err, apperr.InvalidValue) {
		t.Fatalf("expected InvalidValue over 28 days, got %v", err)
	}
	p, err := service.Mute(ctx, Request{GuildID: "g1", ModeratorID: "mod", TargetID: "u1", Limit: "2h"})
	if err != nil {
		t.Fatalf("mute: %v", err)
	}
	if discord.timeouts["u1"] == nil || p.ExpiresAt == nil {
		t.Fatalf("timeout should be set")
	}

	if _, err := service.Undo(ctx, "g1", "mod", p.Case); err != nil {
		t.Fatalf("undo: %v", err)
	}
	if discord.timeouts["u1"] != nil {
		t.Fatalf("timeout should be cleared")
	}
	if _, err := service.Undo(ctx, "g1", "mod", p.Case); !apperr.IsKind(err, apperr.BlockedAction) {
		t.Fatalf("second undo should be blocked, got %v", err)
	}
}

func TestWarnAndUndoRules(t *testing.T) {
	service, discord := newTestService(t)
	ctx := context.Background()

	if _, err := service.Warn(ctx, Request{GuildID: "g1", ModeratorID: "mod", TargetID: "ghost"}); !apperr.IsKind(err, apperr.NotFound) || !apperr.IsUser(err) {
		t.Fatalf("expected user NotFound for non members, got %v", err)
	}
	p, err := service.Warn(ctx, Request{GuildID: "g1", GuildName: "Cafe", ModeratorID: "mod", TargetID: "u2", Reason: "spam"})
	if err != nil {
		t.Fatalf("warn: %v", err)
	}
	if len(discord.dms) != 1 || discord.dms[0] != "You were warned in **Cafe**: spam" {
		t.Fatalf("unexpected dms %v", discord.dms)
	}
	if _, err := service.Undo(ctx, "g1", "mod", p.Case); !apperr.IsKind(err, apperr.BlockedAction) {
		t.Fatalf("warns can not be undone, got %v", err)
	}

	edited, err := service.EditReason(ctx, "g1", "mod", p.Case, "  flooding  ")
	if err != nil || edited.Reason != "flooding" {
		t.Fatalf("edit reason: %+v err=%v", edited, err)
	}
	if _, err := service.EditReason(ctx, "g1", "mod", p.Case, " "); !apperr.IsKind(err, apperr.EmptyValue) {
		t.Fatalf("expected EmptyValue, got %v", err)
	}
}

func TestDiscordErrorsMapToUser(t *testing.T) {
	service, discord := newTestService(t)
	discord.banErr = restError(http.StatusForbidden)
	_, err := service.Ban(context.Background(), Request{GuildID: "g1", ModeratorID: "mod", TargetID: "u1"})
	if !apperr.IsKind(err, apperr.BlockedAction) || !apperr.IsUser(err) {
		t.Fatalf("expected user BlockedAction, got %v", err)
	}
	discord.banErr = restError(http.StatusBadGateway)
	_, err = service.Ban(context.Background(), Request{GuildID: "g1", ModeratorID: "mod", TargetID: "u1"})
	if apperr.OriginOf(err) != apperr.External {
		t.Fatalf("expected external error, got %v", err)
	}
}
