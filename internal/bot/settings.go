package bot

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"modbot/internal/apperr"
	"modbot/internal/modules/audit"
	"modbot/internal/permission"

	"github.com/bwmarrin/discordgo"
)

func (b *Bot) handleConfig(ctx context.Context, c *commandContext) (*discordgo.MessageEmbed, error) {
	if c.sub == "command-permissions" {
		return b.configPermissions(ctx, c)
	}

	settings := b.guildSettings(ctx, c.guildID)
	var description string
	switch c.sub {
	case "log-channel":
		settings.LogChannel = c.opts.ID("channel")
		description = b.t(c.lang, "config_log_channel", map[string]any{"channel": settings.LogChannel})
	case "language":
		lang := c.opts.String("value")
		if !slices.Contains(b.messages.Languages(), lang) {
			return nil, apperr.Userf(apperr.InvalidValue, "%s", b.t(c.lang, "config_language_unknown", map[string]any{"language": lang}))
		}
		settings.Language = lang
		// Confirm in the language just picked.
		c.lang = lang
		description = b.t(c.lang, "config_language", map[string]any{"language": lang})
	case "retention":
		days := int(c.opts.Int("days"))
		if days < 1 {
			return nil, apperr.Userf(apperr.InvalidValue, "Retention must be at least one day!")
		}
		settings.RetentionDays = days
		description = b.t(c.lang, "config_retention", map[string]any{"days": days})
	default:
		return nil, unknownSubcommand(c.sub)
	}

	if err := b.store.UpsertGuildSettings(ctx, settings); err != nil {
		return nil, apperr.Wrap(err, apperr.External, apperr.Other, "Could not save the guild settings!")
	}
	b.audit.Log(ctx, audit.LevelInfo, c.guildID, c.userID, audit.EventSettings, c.sub+" changed")
	return b.simpleEmbed(c, b.t(c.lang, "config_title", nil), description)
}

func (b *Bot) configPermissions(ctx context.Context, c *commandContext) (*discordgo.MessageEmbed, error) {
	command := c.opts.String("command")
	if !slices.Contains(commandNames(), command) {
		return nil, apperr.Userf(apperr.InvalidValue, "`%s` is not one of my commands!", command)
	}
	allowed, err := permission.ParseAllowList(c.opts.String("allowed"), b.guildRoles(c.guildID))
	if err != nil {
		return nil, err
	}
	if err := b.permissions.SetAllowed(ctx, c.guildID, command, allowed); err != nil {
		return nil, err
	}
	b.audit.Log(ctx, audit.LevelWarn, c.guildID, c.userID, audit.EventPermissions, command+" allowed: "+allowed.String())
	return b.simpleEmbed(c, b.t(c.lang, "permissions_title", nil), b.t(c.lang, "permissions_updated", map[string]any{
		"command": command,
		"allowed": allowed.String(),
	}))
}

func (b *Bot) handleActivity(ctx context.Context, c *commandContext) (*discordgo.MessageEmbed, error) {
	period := c.opts.String("period")
	window := 24 * time.Hour
	switch period {
	case "day":
	case "week":
		window = 7 * 24 * time.Hour
	default:
		return nil, apperr.Userf(apperr.InvalidValue, "The period must be day or week!")
	}

	report, err := b.analytics.Report(ctx, c.guildID, time.Now().Add(-window))
	if err != nil {
		return nil, err
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: b.t(c.lang, "field_level", nil), Value: countLines(report.ByLevel, b.t(c.lang, "value_none", nil)), Inline: true},
		{Name: b.t(c.lang, "field_event", nil), Value: countLines(report.ByEvent, b.t(c.lang, "value_none", nil)), Inline: true},
	}
	description := b.t(c.lang, "activity_desc", map[string]any{
		"period": b.t(c.lang, "period_"+period, nil),
		"total":  report.Total,
	})
	return b.commandEmbed(b.t(c.lang, "activity_title", nil), description, b.cfg.EmbedColors.Action, fields), nil
}

// countLines renders counts largest first, ties by name.
func countLines(counts map[string]int, empty string) string {
	if len(counts) == 0 {
		return empty
	}
	keys := make([]string, 0, len(counts))
	for key := range counts {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	lines := make([]string, 0, len(keys))
	for _, key := range keys {
		lines = append(lines, fmt.Sprintf("%s: %d", key, counts[key]))
	}
	return strings.Join(lines, "\n")
}
