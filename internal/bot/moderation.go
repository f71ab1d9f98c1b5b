package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"modbot/internal/moderation"
	"modbot/internal/punishment"

	"github.com/bwmarrin/discordgo"
)

// maxHistoryLines keeps the cases field under the embed field limit.
const maxHistoryLines = 10

func (b *Bot) moderationRequest(c *commandContext) moderation.Request {
	req := moderation.Request{
		GuildID:     c.guildID,
		ModeratorID: c.userID,
		TargetID:    c.opts.ID("user"),
		Reason:      c.opts.String("reason"),
		Limit:       c.opts.String("limit"),
		DeleteDays:  int(c.opts.Int("delete_days")),
		Language:    c.lang,
	}
	if b.session.State != nil {
		if guild, err := b.session.State.Guild(c.guildID); err == nil {
			req.GuildName = guild.Name
		}
	}
	return req
}

func (b *Bot) handleBan(ctx context.Context, c *commandContext) (*discordgo.MessageEmbed, error) {
	p, err := b.moderation.Ban(ctx, b.moderationRequest(c))
	if err != nil {
		return nil, err
	}
	return b.punishmentApplied(c, p)
}

func (b *Bot) handleKick(ctx context.Context, c *commandContext) (*discordgo.MessageEmbed, error) {
	p, err := b.moderation.Kick(ctx, b.moderationRequest(c))
	if err != nil {
		return nil, err
	}
	return b.punishmentApplied(c, p)
}

func (b *Bot) handleMute(ctx context.Context, c *commandContext) (*discordgo.MessageEmbed, error) {
	p, err := b.moderation.Mute(ctx, b.moderationRequest(c))
	if err != nil {
		return nil, err
	}
	return b.punishmentApplied(c, p)
}

func (b *Bot) handleWarn(ctx context.Context, c *commandContext) (*discordgo.MessageEmbed, error) {
	p, err := b.moderation.Warn(ctx, b.moderationRequest(c))
	if err != nil {
		return nil, err
	}
	return b.punishmentApplied(c, p)
}

func (b *Bot) punishmentApplied(c *commandContext, p punishment.Punishment) (*discordgo.MessageEmbed, error) {
	expires := discordTime(p.ExpiresAt)
	if p.Type == punishment.Ban && p.Permanent() {
		expires = b.t(c.lang, "value_permanent", nil)
	}
	return b.embeds.Mount("punishment_applied", map[string]any{
		"action":     b.t(c.lang, "action_"+string(p.Type), nil),
		"user":       "<@" + p.UserID + ">",
		"case":       p.Case,
		"moderator":  c.userName,
		"reason":     b.reasonOrNone(c.lang, p.Reason),
		"expires_at": expires,
	})
}

func (b *Bot) handleCase(ctx context.Context, c *commandContext) (*discordgo.MessageEmbed, error) {
	caseNumber := c.opts.Int("case")
	switch c.sub {
	case "view":
		p, err := b.moderation.Punishments().Get(ctx, c.guildID, caseNumber)
		if err != nil {
			return nil, err
		}
		return b.caseEmbed(c, p)
	case "undo":
		p, err := b.moderation.Undo(ctx, c.guildID, c.userID, caseNumber)
		if err != nil {
			return nil, err
		}
		return b.simpleEmbed(c, b.t(c.lang, "case_undone_title", nil), b.t(c.lang, "case_undone", map[string]any{"case": p.Case}))
	case "reason":
		p, err := b.moderation.EditReason(ctx, c.guildID, c.userID, caseNumber, c.opts.String("reason"))
		if err != nil {
			return nil, err
		}
		return b.simpleEmbed(c, b.t(c.lang, "case_reason_title", nil), b.t(c.lang, "case_reason_updated", map[string]any{
			"case":   p.Case,
			"reason": p.Reason,
		}))
	}
	return nil, unknownSubcommand(c.sub)
}

func (b *Bot) caseEmbed(c *commandContext, p punishment.Punishment) (*discordgo.MessageEmbed, error) {
	undone := ""
	if p.Undone {
		undone = b.t(c.lang, "value_yes", nil)
	}
	vars := map[string]any{
		"case":       p.Case,
		"type":       b.t(c.lang, "action_"+string(p.Type), nil),
		"user":       p.UserID,
		"moderator":  p.ModeratorID,
		"created_at": discordTime(&p.CreatedAt),
		"expires_at": discordTime(p.ExpiresAt),
		"undone":     undone,
		"reason":     b.reasonOrNone(c.lang, p.Reason),
	}
	if user := resolvedUser(c.interaction, p.UserID); user != nil {
		vars["avatar"] = user.AvatarURL("128")
	}
	return b.embeds.Mount("punishment_case", vars)
}

func (b *Bot) handlePunishments(ctx context.Context, c *commandContext) (*discordgo.MessageEmbed, error) {
	userID := c.opts.ID("user")
	report, err := b.analytics.UserReport(ctx, c.guildID, userID, time.Now())
	if err != nil {
		return nil, err
	}

	userName := userID
	if user := resolvedUser(c.interaction, userID); user != nil {
		userName = user.Username
	}
	vars := map[string]any{"user_name": userName, "cases": ""}
	if report.Total == 0 {
		vars["summary"] = b.t(c.lang, "history_empty", map[string]any{"user": userID})
		return b.embeds.Mount("user_punishments", vars)
	}

	vars["summary"] = b.t(c.lang, "history_summary", map[string]any{
		"total":  report.Total,
		"active": report.Active,
		"ban":    report.ByType[punishment.Ban],
		"kick":   report.ByType[punishment.Kick],
		"mute":   report.ByType[punishment.Mute],
		"warn":   report.ByType[punishment.Warn],
	})
	vars["cases"] = b.historyLines(c.lang, report.Cases)
	return b.embeds.Mount("user_punishments", vars)
}

// historyLines lists the newest cases first.
func (b *Bot) historyLines(lang string, cases []punishment.Punishment) string {
	lines := make([]string, 0, maxHistoryLines)
	for i := len(cases) - 1; i >= 0 && len(lines) < maxHistoryLines; i-- {
		p := cases[i]
		line := fmt.Sprintf("`#%d` %s • %s • %s", p.Case, b.t(lang, "action_"+string(p.Type), nil), discordTime(&p.CreatedAt), b.reasonOrNone(lang, p.Reason))
		if p.Undone {
			line = "~~" + line + "~~"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (b *Bot) reasonOrNone(lang, reason string) string {
	if strings.TrimSpace(reason) == "" {
		return b.t(lang, "reason_none", nil)
	}
	return reason
}

// discordTime renders a timestamp the client localizes. Nil renders empty
// so optional template fields are skipped.
func discordTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return fmt.Sprintf("<t:%d:f>", t.Unix())
}

func resolvedUser(interaction *discordgo.InteractionCreate, userID string) *discordgo.User {
	if interaction == nil || interaction.Type != discordgo.InteractionApplicationCommand {
		return nil
	}
	resolved := interaction.ApplicationCommandData().Resolved
	if resolved == nil || resolved.Users == nil {
		return nil
	}
	return resolved.Users[userID]
}
