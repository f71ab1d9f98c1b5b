package autoreport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"modbot/internal/apperr"
	"modbot/internal/dialog"
	"modbot/internal/embed"
	"modbot/internal/i18n"
	"modbot/internal/limit"
	"modbot/internal/listener"
	"modbot/internal/preset"
	"modbot/internal/utils"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// Discord is the part of *discordgo.Session the runtime talks to.
type Discord interface {
	dialog.Sender
	MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessage(channelID, messageID string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

type Config struct {
	ReasonTimeout    time.Duration
	MaxReasonLength  int
	ReportsPerWindow int
	Window           time.Duration
	Language         string
	// SelfID returns the bot user id so its own reactions are ignored.
	SelfID func() string
	// Links flags the links of a reported message the filter rejects.
	// Without domains nothing is flagged.
	Links utils.LinkFilter
}

type Deps struct {
	Discord   Discord
	Listeners *listener.Registry
	Bowl      *preset.DataBowl
	Waiter    *dialog.Waiter
	Embeds    *embed.Catalog
	Messages  *i18n.Catalog
}

// Runtime runs the listeners of every active autoreport preset.
type Runtime struct {
	deps     Deps
	cfg      Config
	throttle *utils.KeyedWindow
	logger   *zap.Logger
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	active map[string]Params
}

func NewRuntime(deps Deps, cfg Config, logger *zap.Logger) *Runtime {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ReasonTimeout <= 0 {
		cfg.ReasonTimeout = 2 * time.Minute
	}
	if cfg.Window <= 0 {
		cfg.Window = 10 * time.Minute
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runtime{
		deps:     deps,
		cfg:      cfg,
		throttle: utils.NewKeyedWindow(cfg.Window, cfg.ReportsPerWindow),
		logger:   logger.Named("autoreport"),
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		active:   make(map[string]Params),
	}
}

func (r *Runtime) Command() string {
	return Command
}

// Restore brings a stored preset back after a restart.
func (r *Runtime) Restore(ctx context.Context, p preset.Preset) error {
	return r.Start(ctx, p)
}

func (r *Runtime) Start(_ context.Context, p preset.Preset) error {
	params, err := ParseParams(p.Data)
	if err != nil {
		return err
	}
	uuid, name := p.UUID, p.Name
	onMessage := func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		r.handleMessage(uuid, params, m)
	}
	onReaction := func(_ *discordgo.Session, e *discordgo.MessageReactionAdd) {
		r.handleReaction(uuid, params, e)
	}
	if err := r.deps.Listeners.Add(messageListener(name), onMessage); err != nil {
		return err
	}
	if err := r.deps.Listeners.Add(reactionListener(name), onReaction); err != nil {
		r.deps.Listeners.Remove(messageListener(name))
		return err
	}
	r.mu.Lock()
	r.active[name] = params
	r.mu.Unlock()
	r.logger.Info("autoreport started", zap.String("preset", name), zap.String("channel", params.ChatID))
	return nil
}

func (r *Runtime) Stop(name string) {
	removed := r.deps.Listeners.Remove(messageListener(name))
	removed = r.deps.Listeners.Remove(reactionListener(name)) || removed
	r.mu.Lock()
	delete(r.active, name)
	r.mu.Unlock()
	if removed {
		r.logger.Info("autoreport stopped", zap.String("preset", name))
	}
}

// Active returns the params of every running preset by name.
func (r *Runtime) Active() map[string]Params {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Params, len(r.active))
	for name, params := range r.active {
		out[name] = params
	}
	return out
}

// Close stops every preset and aborts open conversations.
func (r *Runtime) Close() {
	r.cancel()
	for name := range r.Active() {
		r.Stop(name)
	}
}

func messageListener(name string) string {
	return "MessageCreate-" + name
}

func reactionListener(name string) string {
	return "MessageReactionAdd-" + name
}

func (r *Runtime) handleMessage(uuid string, params Params, m *discordgo.MessageCreate) {
	if m == nil || m.Message == nil || m.ChannelID != params.ChatID {
		return
	}
	if m.Author == nil || m.Author.Bot {
		return
	}
	logger := r.logger.With(zap.String("message", m.ID), zap.String("channel", m.ChannelID))
	if err := r.deps.Discord.MessageReactionAdd(m.ChannelID, m.ID, params.Emoji.APIName()); err != nil {
		logger.Warn("autoreport reaction failed", zap.Error(err))
		return
	}
	err := r.deps.Bowl.UpdateByUUID(r.ctx, uuid, func(data map[string]any) error {
		messages, err := stringList(data, bowlMessages)
		if err != nil {
			return err
		}
		if contains(messages, m.ID) {
			return nil
		}
		data[bowlMessages] = toAny(append(messages, m.ID))
		return nil
	})
	if err != nil {
		logger.Error("autoreport bowl update failed", zap.Error(err))
	}
}

type bowlState int

const (
	stateUnknown bowlState = iota
	stateWatched
	stateReported
)

func (r *Runtime) messageState(uuid, messageID string) (bowlState, error) {
	bowl, err := r.deps.Bowl.Get(r.ctx, uuid, preset.ByUUID)
	if err != nil {
		return stateUnknown, err
	}
	reported, err := stringList(bowl.Data, bowlAlreadyReported)
	if err != nil {
		return stateUnknown, err
	}
	if contains(reported, messageID) {
		return stateReported, nil
	}
	messages, err := stringList(bowl.Data, bowlMessages)
	if err != nil {
		return stateUnknown, err
	}
	if contains(messages, messageID) {
		return stateWatched, nil
	}
	return stateUnknown, nil
}

// claim moves messageID from messages to alreadyReported. It reports false
// when somebody else claimed it first.
func (r *Runtime) claim(uuid, messageID string) (bool, error) {
	claimed := false
	err := r.deps.Bowl.UpdateByUUID(r.ctx, uuid, func(data map[string]any) error {
		messages, err := stringList(data, bowlMessages)
		if err != nil {
			return err
		}
		reported, err := stringList(data, bowlAlreadyReported)
		if err != nil {
			return err
		}
		kept := messages[:0]
		for _, id := range messages {
			if id == messageID {
				claimed = true
				continue
			}
			kept = append(kept, id)
		}
		if !claimed {
			return nil
		}
		data[bowlMessages] = toAny(kept)
		data[bowlAlreadyReported] = toAny(append(reported, messageID))
		return nil
	})
	return claimed, err
}

func (r *Runtime) handleReaction(uuid string, params Params, e *discordgo.MessageReactionAdd) {
	if e == nil || e.MessageReaction == nil || e.ChannelID != params.ChatID {
		return
	}
	if !params.Emoji.Matches(e.Emoji.ID, e.Emoji.Name) {
		return
	}
	if r.cfg.SelfID != nil && e.UserID == r.cfg.SelfID() {
		return
	}
	if e.Member != nil && e.Member.User != nil && e.Member.User.Bot {
		return
	}
	logger := r.logger.With(zap.String("message", e.MessageID), zap.String("reporter", e.UserID))

	state, err := r.messageState(uuid, e.MessageID)
	if err != nil {
		logger.Error("autoreport bowl read failed", zap.Error(err))
		return
	}
	switch state {
	case stateUnknown:
		return
	case stateReported:
		r.dm(e.UserID, r.t("report_already", nil))
		return
	}

	if !r.throttle.Allow(e.UserID, r.now()) {
		r.dm(e.UserID, r.t("report_slow_down", nil))
		return
	}

	reason, askErr := dialog.Ask(r.ctx, r.deps.Discord, r.deps.Waiter, e.UserID, dialog.Prompt{
		Question:  r.t("report_prompt", map[string]any{"timeout": limit.Format(r.cfg.ReasonTimeout)}),
		TooLong:   r.t("report_too_long", map[string]any{"max": r.cfg.MaxReasonLength}),
		Canceled:  r.t("report_canceled", nil),
		MaxLength: r.cfg.MaxReasonLength,
		Timeout:   r.cfg.ReasonTimeout,
	})

	if askErr != nil && (apperr.IsKind(askErr, apperr.NotSent) || apperr.IsKind(askErr, apperr.BlockedAction)) {
		// The question never reached the reporter, so the message stays
		// reportable.
		if apperr.IsUser(askErr) {
			r.dm(e.UserID, apperr.Message(askErr))
		} else {
			logger.Info("reporter unreachable", zap.Error(askErr))
		}
		return
	}

	claimed, err := r.claim(uuid, e.MessageID)
	if err != nil {
		logger.Error("autoreport bowl update failed", zap.Error(err))
		return
	}
	if askErr != nil {
		if !apperr.IsUser(askErr) {
			logger.Warn("autoreport dialog failed", zap.Error(askErr))
		}
		return
	}
	if !claimed {
		r.dm(e.UserID, r.t("report_already", nil))
		return
	}

	if err := r.sendReport(params, e, reason); err != nil {
		logger.Error("autoreport report failed", zap.Error(err))
		return
	}
	r.dm(e.UserID, r.t("report_thanks", nil))
	logger.Info("message reported")
}

func (r *Runtime) sendReport(params Params, e *discordgo.MessageReactionAdd, reason string) error {
	message, err := r.deps.Discord.ChannelMessage(e.ChannelID, e.MessageID)
	if err != nil {
		return apperr.Wrap(err, apperr.External, apperr.NotFound, "fetch reported message")
	}
	guildID := e.GuildID
	if guildID == "" {
		guildID = message.GuildID
	}
	vars := map[string]any{
		"reporter":    "<@" + e.UserID + ">",
		"author":      "<@" + authorID(message) + ">",
		"channel":     e.ChannelID,
		"message_url": fmt.Sprintf("https://discord.com/channels/%s/%s/%s", guildID, e.ChannelID, e.MessageID),
		"content":     message.Content,
		"reason":      reason,
	}
	if links := flagLinks(message.Content, r.cfg.Links); len(links) > 0 {
		vars["links"] = links
	}
	report, err := r.deps.Embeds.Mount("report", vars)
	if err != nil {
		return err
	}
	if _, err := r.deps.Discord.ChannelMessageSendEmbed(params.LogChatID, report); err != nil {
		return apperr.Wrap(err, apperr.External, apperr.NotSent, "send report")
	}
	return nil
}

// flagLinks normalizes the links of content and marks the ones filter
// rejects.
func flagLinks(content string, filter utils.LinkFilter) []string {
	links := utils.NormalizedLinks(content)
	if len(filter.Domains) == 0 {
		return links
	}
	for i, link := range links {
		if !filter.Allowed(link) {
			links[i] = "⚠️ " + link
		}
	}
	return links
}

func authorID(message *discordgo.Message) string {
	if message.Author == nil {
		return "0"
	}
	return message.Author.ID
}

func (r *Runtime) dm(userID, content string) {
	channel, err := r.deps.Discord.UserChannelCreate(userID)
	if err != nil {
		r.logger.Debug("dm channel failed", zap.String("user", userID), zap.Error(err))
		return
	}
	if _, err := r.deps.Discord.ChannelMessageSend(channel.ID, content); err != nil {
		r.logger.Debug("dm failed", zap.String("user", userID), zap.Error(err))
	}
}

func (r *Runtime) t(key string, vars map[string]any) string {
	if r.deps.Messages == nil {
		return key
	}
	return r.deps.Messages.T(r.cfg.Language, key, vars)
}
