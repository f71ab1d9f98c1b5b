package autoreport

import (
	"regexp"
	"strings"

	"modbot/internal/apperr"
	"modbot/internal/emoji"
)

const Command = "autoreport"

const (
	paramChatID      = "chatID"
	paramLogChatID   = "logChatID"
	paramEmoji       = "emoji"
	paramEmojiID     = "emojiID"
	paramCustomEmoji = "customEmoji"

	bowlMessages        = "messages"
	bowlAlreadyReported = "alreadyReported"
)

var snowflake = regexp.MustCompile(`^\d{5,25}$`)

// Params is the configuration of one autoreport preset.
type Params struct {
	ChatID    string
	LogChatID string
	Emoji     emoji.Emoji
}

// ParseParams reads the params stored in a preset.
func ParseParams(data map[string]any) (Params, error) {
	chatID, err := channelParam(data, paramChatID)
	if err != nil {
		return Params{}, err
	}
	logChatID, err := channelParam(data, paramLogChatID)
	if err != nil {
		return Params{}, err
	}
	name, err := stringParam(data, paramEmoji, true)
	if err != nil {
		return Params{}, err
	}
	emojiID, err := stringParam(data, paramEmojiID, false)
	if err != nil {
		return Params{}, err
	}
	customEmoji := false
	if raw, ok := data[paramCustomEmoji]; ok && raw != nil {
		typed, ok := raw.(bool)
		if !ok {
			return Params{}, apperr.Newf(apperr.Internal, apperr.TypeError, "Param %s must be a boolean!", paramCustomEmoji)
		}
		customEmoji = typed
	}

	params := Params{ChatID: chatID, LogChatID: logChatID}
	if customEmoji {
		if emojiID == "" {
			return Params{}, apperr.Newf(apperr.Internal, apperr.MissingParam, "Param %s is required for custom emojis!", paramEmojiID)
		}
		if !snowflake.MatchString(emojiID) {
			return Params{}, apperr.Newf(apperr.Internal, apperr.InvalidValue, "Param %s is not an id!", paramEmojiID)
		}
		params.Emoji = emoji.Emoji{Name: name, ID: emojiID, Format: emoji.FormatCustom}
		return params, nil
	}
	parsed := emoji.Sanitize(name)
	if parsed.Format != emoji.FormatUnicode {
		return Params{}, apperr.Newf(apperr.Internal, apperr.InvalidValue, "Param %s is not a unicode emoji!", paramEmoji)
	}
	params.Emoji = parsed
	return params, nil
}

// Data is the inverse of ParseParams.
func (p Params) Data() map[string]any {
	return map[string]any{
		paramChatID:      p.ChatID,
		paramLogChatID:   p.LogChatID,
		paramEmoji:       p.Emoji.Name,
		paramEmojiID:     p.Emoji.ID,
		paramCustomEmoji: p.Emoji.Format == emoji.FormatCustom,
	}
}

// BuildParams turns slash command options into preset params.
func BuildParams(chatID, logChatID, rawEmoji string) (map[string]any, error) {
	if chatID == "" || logChatID == "" || strings.TrimSpace(rawEmoji) == "" {
		return nil, apperr.Userf(apperr.MissingParam, "I need the watched channel, the log channel and the emoji!")
	}
	parsed, err := emoji.Parse(rawEmoji)
	if err != nil {
		return nil, err
	}
	return Params{ChatID: chatID, LogChatID: logChatID, Emoji: parsed}.Data(), nil
}

// Changes turns optional edit options into the change set presetcmd
// merges. Options left empty stay nil and keep the stored value.
func Changes(chatID, logChatID, rawEmoji string) (map[string]any, error) {
	changes := map[string]any{
		paramChatID:      nil,
		paramLogChatID:   nil,
		paramEmoji:       nil,
		paramEmojiID:     nil,
		paramCustomEmoji: nil,
	}
	if chatID != "" {
		changes[paramChatID] = chatID
	}
	if logChatID != "" {
		changes[paramLogChatID] = logChatID
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

// InitialBowl is the payload every new preset starts with.
func InitialBowl() map[string]any {
	return map[string]any{
		bowlAlreadyReported: []any{},
		bowlMessages:        []any{},
	}
}

func channelParam(data map[string]any, key string) (string, error) {
	value, err := stringParam(data, key, true)
	if err != nil {
		return "", err
	}
	if !snowflake.MatchString(value) {
		return "", apperr.Newf(apperr.Internal, apperr.InvalidValue, "Param %s is not a channel id!", key)
	}
	return value, nil
}

func stringParam(data map[string]any, key string, required bool) (string, error) {
	raw, ok := data[key]
	if !ok || raw == nil {
		if required {
			return "", apperr.Newf(apperr.Internal, apperr.MissingParam, "Param %s is missing!", key)
		}
		return "", nil
	}
	value, ok := raw.(string)
	if !ok {
		return "", apperr.Newf(apperr.Internal, apperr.TypeError, "Param %s must be a string!", key)
	}
	if required && value == "" {
		return "", apperr.Newf(apperr.Internal, apperr.MissingParam, "Param %s is missing!", key)
	}
	return value, nil
}

// stringList reads a bowl list. Values decoded from disk come back as []any.
func stringList(data map[string]any, key string) ([]string, error) {
	raw, ok := data[key]
	if !ok || raw == nil {
		return nil, nil
	}
	switch typed := raw.(type) {
	case []string:
		return append([]string(nil), typed...), nil
	case []any:
		out := make([]string, 0, len(typed))
		for _, item := range typed {
			value, ok := item.(string)
			if !ok {
				return nil, apperr.Newf(apperr.Internal, apperr.TypeError, "Bowl list %s holds a non string value!", key)
			}
			out = append(out, value)
		}
		return out, nil
	default:
		return nil, apperr.Newf(apperr.Internal, apperr.TypeError, "Bowl entry %s is not a list!", key)
	}
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, value := range values {
		out[i] = value
	}
	return out
}

func contains(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}
