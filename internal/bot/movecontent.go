package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"modbot/internal/apperr"
	"modbot/internal/modules/audit"
	"modbot/internal/movecontent"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// moveSteps are the checklist lines of the progress embed, one per stage
// before StageDone.
var moveSteps = []string{
	"move_step_fetch",
	"move_step_filter",
	"move_step_count",
	"move_step_plan",
	"move_step_send",
}

func (b *Bot) handlePing(_ context.Context, c *commandContext) (*discordgo.MessageEmbed, error) {
	latency := b.session.HeartbeatLatency().Round(time.Millisecond)
	return b.simpleEmbed(c, b.t(c.lang, "ping_title", nil), b.t(c.lang, "ping_pong", map[string]any{"latency": latency.String()}))
}

// handleMovecontent answers with the progress embed itself and leaves the
// copy to a background job, which outlives the command timeout.
func (b *Bot) handleMovecontent(ctx context.Context, c *commandContext) (*discordgo.MessageEmbed, error) {
	originID := c.opts.ID("origin-chat")
	destinationID := c.opts.ID("destination-chat")
	if originID == "" || destinationID == "" {
		return nil, apperr.Userf(apperr.MissingParam, "I need the origin and the destination channels!")
	}
	if originID == destinationID {
		return nil, apperr.Userf(apperr.InvalidValue, "The origin and the destination must be different channels!")
	}
	for _, id := range []string{originID, destinationID} {
		if err := movecontent.CheckChannel(b.channel(id)); err != nil {
			return nil, err
		}
	}

	b.editProgress(c, movecontent.Progress{})
	b.audit.Log(ctx, audit.LevelWarn, c.guildID, c.userID, audit.EventMoveContent,
		fmt.Sprintf("<#%s> -> <#%s> started", originID, destinationID))

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.runMove(c, originID, destinationID)
	}()
	return nil, nil
}

func (b *Bot) runMove(c *commandContext, originID, destinationID string) {
	logger := b.logger.With(zap.String("guild_id", c.guildID), zap.String("user_id", c.userID))
	p, err := b.mover.Move(b.ctx, originID, destinationID, func(p movecontent.Progress) {
		b.editProgress(c, p)
	})
	if err != nil {
		logger.Warn("move stopped", zap.Int("lot", p.Lot), zap.Int("lots", p.Lots), zap.Error(err))
		b.handleError(b.ctx, b.session, c, err, true)
		return
	}
	b.audit.Log(b.ctx, audit.LevelInfo, c.guildID, c.userID, audit.EventMoveContent,
		fmt.Sprintf("<#%s> -> <#%s> finished: %d files in %d lots", originID, destinationID, p.Files, p.Lots))

	content := b.t(c.lang, "move_finished", map[string]any{"user": c.userID})
	if _, err := b.session.FollowupMessageCreate(c.interaction.Interaction, true, &discordgo.WebhookParams{Content: content}); err != nil {
		logger.Warn("move followup failed", zap.Error(err))
	}
}

func (b *Bot) editProgress(c *commandContext, p movecontent.Progress) {
	embed, err := b.simpleEmbed(c, b.t(c.lang, "move_title", nil), b.moveChecklist(c.lang, p))
	if err != nil {
		b.logger.Warn("move embed failed", zap.Error(err))
		return
	}
	embeds := []*discordgo.MessageEmbed{embed}
	if _, err := b.session.InteractionResponseEdit(c.interaction.Interaction, &discordgo.WebhookEdit{Embeds: &embeds}); err != nil {
		b.logger.Debug("move progress not shown", zap.Error(err))
	}
}

func (b *Bot) moveChecklist(lang string, p movecontent.Progress) string {
	eta := "-"
	if !p.ETA.IsZero() {
		eta = fmt.Sprintf("<t:%d:R>", p.ETA.Unix())
	}
	details := []string{
		strconv.Itoa(p.Messages),
		strconv.Itoa(p.WithFiles),
		strconv.Itoa(p.Files),
		b.t(lang, "move_plan_detail", map[string]any{"lots": p.Lots, "eta": eta}),
		fmt.Sprintf("%d / %d", p.Lot, p.Lots),
	}

	lines := make([]string, 0, len(moveSteps))
	for i, key := range moveSteps {
		step := movecontent.Stage(i)
		text := b.t(lang, key, nil)
		switch {
		case step < p.Stage:
			lines = append(lines, fmt.Sprintf("✅ ~~%s~~ (%s)", text, details[i]))
		case step == p.Stage && step == movecontent.StageSend:
			lines = append(lines, fmt.Sprintf("▶️ **%s** (%s)", text, details[i]))
		case step == p.Stage:
			lines = append(lines, "▶️ **"+text+"**")
		default:
			lines = append(lines, "⏳ "+text)
		}
	}
	return strings.Join(lines, "\n")
}

// channel reads the state cache first.
func (b *Bot) channel(id string) *discordgo.Channel {
	if b.session.State != nil {
		if ch, err := b.session.State.Channel(id); err == nil {
			return ch
		}
	}
	ch, err := b.session.Channel(id)
	if err != nil {
		b.logger.Debug("channel lookup failed", zap.String("channel_id", id), zap.Error(err))
		return nil
	}
	return ch
}
