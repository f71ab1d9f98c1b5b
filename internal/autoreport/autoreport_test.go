package autoreport

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"modbot/internal/apperr"
	"modbot/internal/dialog"
	"modbot/internal/embed"
	"modbot/internal/i18n"
	"modbot/internal/listener"
	"modbot/internal/lockfile"
	"modbot/internal/preset"
	"modbot/internal/presetcmd"
	"modbot/internal/utils"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

type fakeAdder struct {
	mu       sync.Mutex
	attached int
}

func (f *fakeAdder) AddHandler(handler interface{}) func() {
	f.mu.Lock()
	f.attached++
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.attached--
		f.mu.Unlock()
	}
}

type fakeDiscord struct {
	mu        sync.Mutex
	waiter    *dialog.Waiter
	replies   []string
	reactions []string
	embeds    map[string][]*discordgo.MessageEmbed
	dms       []string
	messages  map[string]*discordgo.Message
	closedDMs bool
}

func newFakeDiscord(waiter *dialog.Waiter) *fakeDiscord {
	return &fakeDiscord{waiter: waiter, embeds: map[string][]*discordgo.MessageEmbed{}, messages: map[string]*discordgo.Message{}}
}

func (f *fakeDiscord) UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closedDMs {
		return nil, errors.New("HTTP 403 Forbidden, Cannot send messages to this user")
	}
	return &discordgo.Channel{ID: "dm-" + recipientID}, nil
}

// The reason question is answered with the next scripted reply.
func (f *fakeDiscord) ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	f.dms = append(f.dms, content)
	var reply string
	answer := strings.HasPrefix(content, "Why are you reporting") && len(f.replies) > 0
	if answer {
		reply = f.replies[0]
		f.replies = f.replies[1:]
	}
	f.mu.Unlock()
	if answer {
		f.waiter.Deliver(&discordgo.MessageCreate{Message: &discordgo.Message{
			ChannelID: channelID,
			Content:   reply,
			Author:    &discordgo.User{ID: strings.TrimPrefix(channelID, "dm-")},
		}})
	}
	return &discordgo.Message{}, nil
}

func (f *fakeDiscord) MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactions = append(f.reactions, messageID+" "+emojiID)
	return nil
}

func (f *fakeDiscord) ChannelMessageSendEmbed(channelID string, e *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.embeds[channelID] = append(f.embeds[channelID], e)
	return &discordgo.Message{}, nil
}

func (f *fakeDiscord) ChannelMessage(channelID, messageID string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if message, ok := f.messages[messageID]; ok {
		return message, nil
	}
	return &discordgo.Message{ID: messageID, ChannelID: channelID, Author: &discordgo.User{ID: "author"}}, nil
}

func (f *fakeDiscord) lastDM() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.dms) == 0 {
		return ""
	}
	return f.dms[len(f.dms)-1]
}

type fixture struct {
	runtime  *Runtime
	template *presetcmd.Template
	discord  *fakeDiscord
	adder    *fakeAdder
	bowl     *preset.DataBowl
	registry *listener.Registry
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	dir := t.TempDir()
	locker := lockfile.New(lockfile.DefaultOptions())
	logger := zap.NewNop()
	messages, err := i18n.Load("en")
	if err != nil {
		t.Fatalf("load locales: %v", err)
	}
	handler := preset.NewHandler(dir, Command, locker, logger)
	bowl := preset.NewDataBowl(dir, Command, handler, locker, logger)
	waiter := dialog.NewWaiter()
	discord := newFakeDiscord(waiter)
	adder := &fakeAdder{}
	registry := listener.NewRegistry(adder, logger)
	if cfg.ReasonTimeout == 0 {
		cfg.ReasonTimeout = time.Second
	}
	if cfg.SelfID == nil {
		cfg.SelfID = func() string { return "bot" }
	}
	runtime := NewRuntime(Deps{
		Discord:   discord,
		Listeners: registry,
		Bowl:      bowl,
		Waiter:    waiter,
		Embeds:    embed.MustDefault(),
		Messages:  messages,
	}, cfg, logger)
	t.Cleanup(runtime.Close)
	return &fixture{
		runtime:  runtime,
		template: presetcmd.New(handler, bowl, runtime, InitialBowl, logger),
		discord:  discord,
		adder:    adder,
		bowl:     bowl,
		registry: registry,
	}
}

func (f *fixture) create(t *testing.T, name string) (preset.Preset, Params) {
	t.Helper()
	data, err := BuildParams("100000", "200000", "🔥")
	if err != nil {
		t.Fatalf("build params: %v", err)
	}
	created, err := f.template.New(context.Background(), name, data)
	if err != nil {
		t.Fatalf("new preset: %v", err)
	}
	params, err := ParseParams(created.Data)
	if err != nil {
		t.Fatalf("parse params: %v", err)
	}
	return created, params
}

func newMessage(id, channelID, authorID string) *discordgo.MessageCreate {
	return &discordgo.MessageCreate{Message: &discordgo.Message{ID: id, ChannelID: channelID, Author: &discordgo.User{ID: authorID}}}
}

func newReaction(messageID, channelID, userID, emojiName string) *discordgo.MessageReactionAdd {
	return &discordgo.MessageReactionAdd{MessageReaction: &discordgo.MessageReaction{
		UserID:    userID,
		MessageID: messageID,
		ChannelID: channelID,
		GuildID:   "guild",
		Emoji:     discordgo.Emoji{Name: emojiName},
	}}
}

func bowlLists(t *testing.T, bowl *preset.DataBowl, name string) ([]string, []string) {
	t.Helper()
	entry, err := bowl.Get(context.Background(), name, preset.ByName)
	if err != nil {
		t.Fatalf("get bowl: %v", err)
	}
	messages, err := stringList(entry.Data, bowlMessages)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	reported, err := stringList(entry.Data, bowlAlreadyReported)
	if err != nil {
		t.Fatalf("alreadyReported: %v", err)
	}
	return messages, reported
}

func TestStartAndStopListeners(t *testing.T) {
	f := newFixture(t, Config{})
	f.create(t, "general")

	if !f.registry.Has("MessageCreate-general") || !f.registry.Has("MessageReactionAdd-general") {
		t.Fatalf("expected both listeners, have %v", f.registry.Names())
	}
	if _, err := f.template.Remove(context.Background(), "general", false); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(f.registry.Names()) != 0 || f.adder.attached != 0 {
		t.Fatalf("listeners should be detached, have %v", f.registry.Names())
	}
	if len(f.runtime.Active()) != 0 {
		t.Fatalf("runtime should have no active presets")
	}
}

func TestMessageIsReactedAndWatched(t *testing.T) {
	f := newFixture(t, Config{})
	p, params := f.create(t, "general")

	f.runtime.handleMessage(p.UUID, params, newMessage("m1", "100000", "ana"))
	f.runtime.handleMessage(p.UUID, params, newMessage("m2", "999999", "ana"))
	bot := newMessage("m3", "100000", "bot")
	bot.Author.Bot = true
	f.runtime.handleMessage(p.UUID, params, bot)

	if len(f.discord.reactions) != 1 || f.discord.reactions[0] != "m1 🔥" {
		t.Fatalf("unexpected reactions %v", f.discord.reactions)
	}
	messages, reported := bowlLists(t, f.bowl, "general")
	if len(messages) != 1 || messages[0] != "m1" || len(reported) != 0 {
		t.Fatalf("unexpected bowl messages=%v reported=%v", messages, reported)
	}
}

func TestReactionSendsReport(t *testing.T) {
	f := newFixture(t, Config{MaxReasonLength: 50})
	p, params := f.create(t, "general")
	f.discord.messages["m1"] = &discordgo.Message{ID: "m1", Content: "free nitro at https://WWW.Scam.example/claim?utm_source=x", Author: &discordgo.User{ID: "spammer"}}
	f.discord.replies = []string{"scam link"}

	f.runtime.handleMessage(p.UUID, params, newMessage("m1", "100000", "spammer"))
	f.runtime.handleReaction(p.UUID, params, newReaction("m1", "100000", "ana", "🔥"))

	reports := f.discord.embeds["200000"]
	if len(reports) != 1 {
		t.Fatalf("expected one report, got %d", len(reports))
	}
	var reason, links string
	for _, field := range reports[0].Fields {
		switch field.Name {
		case "Reason":
			reason = field.Value
		case "Links":
			links = field.Value
		}
	}
	if reason != "scam link" {
		t.Fatalf("unexpected reason %q", reason)
	}
	if !strings.Contains(links, "scam.example") {
		t.Fatalf("expected normalized link, got %q", links)
	}
	if !strings.Contains(reports[0].URL, "/guild/100000/m1") {
		t.Fatalf("unexpected message url %q", reports[0].URL)
	}
	if f.discord.lastDM() != "Thanks! The moderators got your report." {
		t.Fatalf("unexpected last dm %q", f.discord.lastDM())
	}
	messages, reported := bowlLists(t, f.bowl, "general")
	if len(messages) != 0 || len(reported) != 1 || reported[0] != "m1" {
		t.Fatalf("message should move to alreadyReported, messages=%v reported=%v", messages, reported)
	}

	f.runtime.handleReaction(p.UUID, params, newReaction("m1", "100000", "bob", "🔥"))
	if len(f.discord.embeds["200000"]) != 1 {
		t.Fatalf("a reported message must not be reported twice")
	}
	if f.discord.lastDM() != "That message was already reported." {
		t.Fatalf("unexpected last dm %q", f.discord.lastDM())
	}
}

func TestReactionIgnoredCases(t *testing.T) {
	f := newFixture(t, Config{})
	p, params := f.create(t, "general")
	f.runtime.handleMessage(p.UUID, params, newMessage("m1", "100000", "ana"))

	f.runtime.handleReaction(p.UUID, params, newReaction("m1", "100000", "bot", "🔥"))
	f.runtime.handleReaction(p.UUID, params, newReaction("m1", "100000", "ana", "👍"))
	f.runtime.handleReaction(p.UUID, params, newReaction("m1", "555555", "ana", "🔥"))
	f.runtime.handleReaction(p.UUID, params, newReaction("unknown", "100000", "ana", "🔥"))

	if len(f.discord.embeds) != 0 || len(f.discord.dms) != 0 {
		t.Fatalf("nothing should happen, embeds=%v dms=%v", f.discord.embeds, f.discord.dms)
	}
}

func TestCanceledReportStillClaims(t *testing.T) {
	f := newFixture(t, Config{})
	p, params := f.create(t, "general")
	f.discord.replies = []string{"cancel"}
	f.runtime.handleMessage(p.UUID, params, newMessage("m1", "100000", "ana"))
	f.runtime.handleReaction(p.UUID, params, newReaction("m1", "100000", "bob", "🔥"))

	if len(f.discord.embeds) != 0 {
		t.Fatalf("a canceled report must not be sent")
	}
	_, reported := bowlLists(t, f.bowl, "general")
	if len(reported) != 1 {
		t.Fatalf("canceled report should still claim the message, got %v", reported)
	}
}

func TestUnreachableReporterLeavesMessageReportable(t *testing.T) {
	f := newFixture(t, Config{})
	p, params := f.create(t, "general")
	f.runtime.handleMessage(p.UUID, params, newMessage("m1", "100000", "ana"))

	f.discord.closedDMs = true
	f.runtime.handleReaction(p.UUID, params, newReaction("m1", "100000", "bob", "🔥"))

	messages, reported := bowlLists(t, f.bowl, "general")
	if len(messages) != 1 || messages[0] != "m1" || len(reported) != 0 {
		t.Fatalf("message should stay watched, messages=%v reported=%v", messages, reported)
	}

	f.discord.closedDMs = false
	f.discord.replies = []string{"spam"}
	f.runtime.handleReaction(p.UUID, params, newReaction("m1", "100000", "carl", "🔥"))
	if len(f.discord.embeds["200000"]) != 1 {
		t.Fatalf("another reporter should still be able to report")
	}
}

func TestBusyReporterIsToldAndMessageKept(t *testing.T) {
	f := newFixture(t, Config{})
	p, params := f.create(t, "general")
	f.runtime.handleMessage(p.UUID, params, newMessage("m1", "100000", "ana"))

	pending, err := f.discord.waiter.Expect("bob", "dm-bob")
	if err != nil {
		t.Fatalf("expect: %v", err)
	}
	defer pending.Close()

	f.runtime.handleReaction(p.UUID, params, newReaction("m1", "100000", "bob", "🔥"))

	messages, reported := bowlLists(t, f.bowl, "general")
	if len(messages) != 1 || len(reported) != 0 {
		t.Fatalf("message should stay watched, messages=%v reported=%v", messages, reported)
	}
	if f.discord.lastDM() != "Finish answering my previous question first!" {
		t.Fatalf("busy reporter should be told, last dm %q", f.discord.lastDM())
	}
}

func TestReporterThrottle(t *testing.T) {
	f := newFixture(t, Config{ReportsPerWindow: 1, Window: time.Hour})
	p, params := f.create(t, "general")
	f.discord.replies = []string{"one", "two"}
	f.runtime.handleMessage(p.UUID, params, newMessage("m1", "100000", "ana"))
	f.runtime.handleMessage(p.UUID, params, newMessage("m2", "100000", "ana"))

	f.runtime.handleReaction(p.UUID, params, newReaction("m1", "100000", "bob", "🔥"))
	f.runtime.handleReaction(p.UUID, params, newReaction("m2", "100000", "bob", "🔥"))

	if len(f.discord.embeds["200000"]) != 1 {
		t.Fatalf("second report should be throttled")
	}
	if f.discord.lastDM() != "You are reporting too fast, wait a bit." {
		t.Fatalf("unexpected last dm %q", f.discord.lastDM())
	}
}

func TestEditRestartsListeners(t *testing.T) {
	f := newFixture(t, Config{})
	f.create(t, "general")
	changes, err := Changes("", "300000", "")
	if err != nil {
		t.Fatalf("changes: %v", err)
	}
	if _, err := f.template.Edit(context.Background(), "general", changes, "lobby"); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if f.registry.Has("MessageCreate-general") || !f.registry.Has("MessageCreate-lobby") {
		t.Fatalf("listeners should follow the rename, have %v", f.registry.Names())
	}
	if got := f.runtime.Active()["lobby"].LogChatID; got != "300000" {
		t.Fatalf("expected new log channel, got %q", got)
	}
}

func TestRestoreAllSkipsRemoved(t *testing.T) {
	f := newFixture(t, Config{})
	f.create(t, "general")
	f.create2(t)
	if _, err := f.template.Remove(context.Background(), "general", false); err != nil {
		t.Fatalf("remove: %v", err)
	}
	f.runtime.Close()

	dir := filepath.Dir(filepath.Dir(f.template.Presets().Path()))
	fresh := newFixture(t, Config{})
	err := preset.InitializeAll(context.Background(), dir, []preset.Restorer{fresh.runtime}, lockfile.New(lockfile.DefaultOptions()), zap.NewNop())
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	active := fresh.runtime.Active()
	if len(active) != 1 {
		t.Fatalf("only the active preset should be restored, got %v", active)
	}
	if _, ok := active["memes"]; !ok {
		t.Fatalf("expected memes to be restored, got %v", active)
	}
}

func (f *fixture) create2(t *testing.T) {
	t.Helper()
	data, err := BuildParams("100001", "200000", "<:pepe:123456789>")
	if err != nil {
		t.Fatalf("build params: %v", err)
	}
	if _, err := f.template.New(context.Background(), "memes", data); err != nil {
		t.Fatalf("new preset: %v", err)
	}
}

func TestParseParamsErrors(t *testing.T) {
	cases := []struct {
		name string
		data map[string]any
		kind apperr.Kind
	}{
		{"missing chat", map[string]any{"logChatID": "200000", "emoji": "🔥"}, apperr.MissingParam},
		{"number chat", map[string]any{"chatID": 100000, "logChatID": "200000", "emoji": "🔥"}, apperr.TypeError},
		{"bad chat", map[string]any{"chatID": "general", "logChatID": "200000", "emoji": "🔥"}, apperr.InvalidValue},
		{"custom without id", map[string]any{"chatID": "100000", "logChatID": "200000", "emoji": "pepe", "customEmoji": true}, apperr.MissingParam},
		{"not an emoji", map[string]any{"chatID": "100000", "logChatID": "200000", "emoji": "fire"}, apperr.InvalidValue},
		{"custom flag type", map[string]any{"chatID": "100000", "logChatID": "200000", "emoji": "🔥", "customEmoji": "yes"}, apperr.TypeError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseParams(tc.data); !apperr.IsKind(err, tc.kind) {
				t.Fatalf("expected %v, got %v", tc.kind, err)
			}
		})
	}
}

func TestBuildParamsCustomEmoji(t *testing.T) {
	data, err := BuildParams("100000", "200000", "<a:party:987654321>")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	params, err := ParseParams(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if params.Emoji.APIName() != "party:987654321" {
		t.Fatalf("unexpected emoji %q", params.Emoji.APIName())
	}
	if _, err := BuildParams("100000", "200000", "not an emoji"); !apperr.IsUser(err) {
		t.Fatalf("expected a user error, got %v", err)
	}
}

func TestFlagLinks(t *testing.T) {
	content := "see https://docs.example.com/a and http://Scam.example/claim"
	if got := flagLinks(content, utils.LinkFilter{}); len(got) != 2 || strings.HasPrefix(got[1], "⚠️") {
		t.Fatalf("without domains nothing is flagged: %v", got)
	}

	blocked := flagLinks(content, utils.LinkFilter{Mode: utils.Exclusion, Domains: []string{"scam.example"}})
	if strings.HasPrefix(blocked[0], "⚠️") || !strings.HasPrefix(blocked[1], "⚠️ http://scam.example") {
		t.Fatalf("unexpected exclusion flags %v", blocked)
	}

	trusted := flagLinks(content, utils.LinkFilter{Mode: utils.Inclusion, Domains: []string{"example.com"}})
	if strings.HasPrefix(trusted[0], "⚠️") || !strings.HasPrefix(trusted[1], "⚠️") {
		t.Fatalf("unexpected inclusion flags %v", trusted)
	}
}
