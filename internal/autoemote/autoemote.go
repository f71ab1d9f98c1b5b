// Package autoemote reacts with a fixed emoji to every new message in a
// channel, one preset per channel and emoji.
package autoemote

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"modbot/internal/apperr"
	"modbot/internal/emoji"
	"modbot/internal/listener"
	"modbot/internal/preset"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const Command = "autoemote"

const (
	paramChatID      = "chatID"
	paramEmoji       = "emoji"
	paramEmojiID     = "emojiID"
	paramCustomEmoji = "customEmoji"
)

var snowflake = regexp.MustCompile(`^\d{5,25}$`)

type Params struct {
	ChatID string
	Emoji  emoji.Emoji
}

func ParseParams(data map[string]any) (Params, error) {
	chatID, _ := data[paramChatID].(string)
	if !snowflake.MatchString(chatID) {
		return Params{}, apperr.Newf(apperr.Internal, apperr.InvalidValue, "Param %s is not a channel id!", paramChatID)
	}
	name, _ := data[paramEmoji].(string)
	if name == "" {
		return Params{}, apperr.Newf(apperr.Internal, apperr.MissingParam, "Param %s is missing!", paramEmoji)
	}
	if custom, _ := data[paramCustomEmoji].(bool); custom {
		id, _ := data[paramEmojiID].(string)
		if !snowflake.MatchString(id) {
			return Params{}, apperr.Newf(apperr.Internal, apperr.InvalidValue, "Param %s is not an id!", paramEmojiID)
		}
		return Params{ChatID: chatID, Emoji: emoji.Emoji{Name: name, ID: id, Format: emoji.FormatCustom}}, nil
	}
	parsed, err := emoji.Parse(name)
	if err != nil || parsed.Format != emoji.FormatUnicode {
		return Params{}, apperr.Newf(apperr.Internal, apperr.InvalidValue, "Param %s is not a unicode emoji!", paramEmoji)
	}
	return Params{ChatID: chatID, Emoji: parsed}, nil
}

func (p Params) Data() map[string]any {
	return map[string]any{
		paramChatID:      p.ChatID,
		paramEmoji:       p.Emoji.Name,
		paramEmojiID:     p.Emoji.ID,
		paramCustomEmoji: p.Emoji.Format == emoji.FormatCustom,
	}
}

func BuildParams(chatID, rawEmoji string) (map[string]any, error) {
	if chatID == "" || strings.TrimSpace(rawEmoji) == "" {
		return nil, apperr.Userf(apperr.MissingParam, "I need the channel and the emoji!")
	}
	parsed, err := emoji.Parse(rawEmoji)
	if err != nil {
		return nil, err
	}
	return Params{ChatID: chatID, Emoji: parsed}.Data(), nil
}

// Changes leaves empty options nil so the stored values survive an edit.
func Changes(chatID, rawEmoji string) (map[string]any, error) {
	changes := map[string]any{
		paramChatID:      nil,
		paramEmoji:       nil,
		paramEmojiID:     nil,
		paramCustomEmoji: nil,
	}
	if chatID != "" {
		changes[paramChatID] = chatID
	}
	if strings.TrimSpace(rawEmoji) != "" {
		parsed, err := emoji.Parse(rawEmoji)
		if err != nil {
			return nil, err
		}
		changes[paramEmoji] = parsed.Name
		changes[paramEmojiID] = parsed.ID
		changes[paramCustomEmoji] = parsed.Format == emoji.FormatCustom
	}
	return changes, nil
}

// InitialBowl is empty: reactions leave no state behind.
func InitialBowl() map[string]any {
	return map[string]any{}
}

// Reactor is the part of *discordgo.Session the runtime talks to.
type Reactor interface {
	MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error
}

type Runtime struct {
	discord   Reactor
	listeners *listener.Registry
	logger    *zap.Logger

	mu     sync.Mutex
	active map[string]Params
}

func NewRuntime(discord Reactor, listeners *listener.Registry, logger *zap.Logger) *Runtime {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runtime{discord: discord, listeners: listeners, logger: logger.Named("autoemote"), active: make(map[string]Params)}
}

func (r *Runtime) Command() string {
	return Command
}

func (r *Runtime) Restore(ctx context.Context, p preset.Preset) error {
	return r.Start(ctx, p)
}

func (r *Runtime) Start(_ context.Context, p preset.Preset) error {
	params, err := ParseParams(p.Data)
	if err != nil {
		return err
	}
	onMessage := func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		r.handleMessage(params, m)
	}
	if err := r.listeners.Add(listenerName(p.Name), onMessage); err != nil {
		return err
	}
	r.mu.Lock()
	r.active[p.Name] = params
	r.mu.Unlock()
	r.logger.Info("autoemote started", zap.String("preset", p.Name), zap.String("channel", params.ChatID))
	return nil
}

func (r *Runtime) Stop(name string) {
	removed := r.listeners.Remove(listenerName(name))
	r.mu.Lock()
	delete(r.active, name)
	r.mu.Unlock()
	if removed {
		r.logger.Info("autoemote stopped", zap.String("preset", name))
	}
}

func (r *Runtime) Active() map[string]Params {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Params, len(r.active))
	for name, params := range r.active {
		out[name] = params
	}
	return out
}

func (r *Runtime) Close() {
	for name := range r.Active() {
		r.Stop(name)
	}
}

// Listener names carry the command so presets of different commands may
// share a name.
func listenerName(name string) string {
	return Command + ":MessageCreate-" + name
}

func (r *Runtime) handleMessage(params Params, m *discordgo.MessageCreate) {
	if m == nil || m.Message == nil || m.ChannelID != params.ChatID {
		return
	}
	if m.Author == nil || m.Author.Bot {
		return
	}
	if err := r.discord.MessageReactionAdd(m.ChannelID, m.ID, params.Emoji.APIName()); err != nil {
		r.logger.Warn("autoemote reaction failed", zap.String("message", m.ID), zap.String("channel", m.ChannelID), zap.Error(err))
	}
}
