package bot

import (
	"context"
	"strconv"
	"strings"
	"time"

	"modbot/internal/apperr"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const commandTimeout = time.Minute

type commandHandler func(ctx context.Context, c *commandContext) (*discordgo.MessageEmbed, error)

type commandContext struct {
	interaction *discordgo.InteractionCreate
	command     string
	sub         string
	opts        options
	guildID     string
	userID      string
	userName    string
	lang        string
	ephemeral   bool
}

// options indexes the leaf options of an interaction by name.
type options map[string]*discordgo.ApplicationCommandInteractionDataOption

// parseOptions descends into a subcommand group and subcommand, returning
// the subcommand path and its options.
func parseOptions(raw []*discordgo.ApplicationCommandInteractionDataOption) (string, options) {
	var path []string
	for len(raw) == 1 && (raw[0].Type == discordgo.ApplicationCommandOptionSubCommand || raw[0].Type == discordgo.ApplicationCommandOptionSubCommandGroup) {
		path = append(path, raw[0].Name)
		raw = raw[0].Options
	}
	out := make(options, len(raw))
	for _, opt := range raw {
		out[opt.Name] = opt
	}
	return strings.Join(path, " "), out
}

func (o options) String(name string) string {
	opt, ok := o[name]
	if !ok {
		return ""
	}
	if value, ok := opt.Value.(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func (o options) Int(name string) int64 {
	opt, ok := o[name]
	if !ok {
		return 0
	}
	switch value := opt.Value.(type) {
	case float64:
		return int64(value)
	case int64:
		return value
	case int:
		return int64(value)
	case string:
		n, _ := strconv.ParseInt(value, 10, 64)
		return n
	}
	return 0
}

func (o options) Bool(name string, fallback bool) bool {
	opt, ok := o[name]
	if !ok {
		return fallback
	}
	if value, ok := opt.Value.(bool); ok {
		return value
	}
	return fallback
}

// ID reads user, channel and role options, which arrive as snowflakes.
func (o options) ID(name string) string {
	return o.String(name)
}

func (b *Bot) commandHandlers() map[string]commandHandler {
	return map[string]commandHandler{
		commandBan:         b.handleBan,
		commandKick:        b.handleKick,
		commandMute:        b.handleMute,
		commandWarn:        b.handleWarn,
		commandCase:        b.handleCase,
		commandPunishments: b.handlePunishments,
		commandAutoreport:  b.handlePreset,
		commandAutoemote:   b.handlePreset,
		commandConfig:      b.handleConfig,
		commandActivity:    b.handleActivity,
		commandMovecontent: b.handleMovecontent,
		commandPing:        b.handlePing,
	}
}

func (b *Bot) onInteractionCreate(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	switch interaction.Type {
	case discordgo.InteractionApplicationCommand:
		b.handleCommand(session, interaction)
	case discordgo.InteractionApplicationCommandAutocomplete:
		b.handleAutocomplete(session, interaction)
	}
}

func newCommandContext(interaction *discordgo.InteractionCreate) *commandContext {
	data := interaction.ApplicationCommandData()
	sub, opts := parseOptions(data.Options)
	c := &commandContext{
		interaction: interaction,
		command:     data.Name,
		sub:         sub,
		opts:        opts,
		guildID:     interaction.GuildID,
		ephemeral:   opts.Bool("ephemeral", true),
	}
	user := interaction.User
	if interaction.Member != nil && interaction.Member.User != nil {
		user = interaction.Member.User
	}
	if user != nil {
		c.userID = user.ID
		c.userName = user.Username
	}
	return c
}

func (b *Bot) handleCommand(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	c := newCommandContext(interaction)
	c.lang = b.cfg.DefaultLanguage
	if c.guildID == "" {
		b.respondText(session, interaction, b.t(c.lang, "error_only_guild", nil))
		return
	}
	c.lang = b.guildSettings(ctx, c.guildID).Language

	handler, ok := b.handlers[c.command]
	if !ok {
		b.respondText(session, interaction, b.t(c.lang, "error_unknown_subcommand", nil))
		return
	}
	if err := b.cooldown.Allow(c.userID, c.command, time.Now()); err != nil {
		b.respondText(session, interaction, apperr.Message(err))
		return
	}
	if err := b.checkPermission(ctx, c); err != nil {
		if apperr.IsUser(err) {
			b.respondText(session, interaction, apperr.Message(err))
			return
		}
		b.handleError(ctx, session, c, err, false)
		return
	}

	var flags discordgo.MessageFlags
	if c.ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	if err := session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: flags},
	}); err != nil {
		b.logger.Warn("interaction defer failed", zap.String("command", c.command), zap.Error(err))
		return
	}

	embed, err := handler(ctx, c)
	if err != nil {
		b.handleError(ctx, session, c, err, true)
		return
	}
	if embed == nil {
		// The handler answered on its own.
		return
	}
	embeds := []*discordgo.MessageEmbed{embed}
	if _, err := session.InteractionResponseEdit(interaction.Interaction, &discordgo.WebhookEdit{Embeds: &embeds}); err != nil {
		b.logger.Warn("interaction edit failed", zap.String("command", c.command), zap.Error(err))
	}
}

// checkPermission fills in default rules for a guild the bot has not
// seen yet and checks again.
func (b *Bot) checkPermission(ctx context.Context, c *commandContext) error {
	roles := b.guildRoles(c.guildID)
	err := b.permissions.Check(ctx, c.guildID, c.command, c.interaction.Member, roles)
	if err == nil || apperr.IsUser(err) || !apperr.IsKind(err, apperr.NotFound) {
		return err
	}
	if _, err := b.permissions.EnsureCommands(ctx, c.guildID, "", commandNames()); err != nil {
		return err
	}
	return b.permissions.Check(ctx, c.guildID, c.command, c.interaction.Member, roles)
}

// handleError answers user errors with their message. Anything else gets
// an incident id that is logged and sent to the developer.
func (b *Bot) handleError(ctx context.Context, session *discordgo.Session, c *commandContext, err error, deferred bool) {
	content := apperr.Message(err)
	if !apperr.IsUser(err) {
		incident := uuid.NewString()
		b.logger.Error("command failed",
			zap.String("incident", incident),
			zap.String("command", c.command),
			zap.String("subcommand", c.sub),
			zap.String("guild_id", c.guildID),
			zap.String("user_id", c.userID),
			zap.String("kind", string(apperr.KindOf(err))),
			zap.String("origin", string(apperr.OriginOf(err))),
			zap.Error(err),
		)
		b.notifyDeveloper(session, c, incident, err)
		content = b.t(c.lang, "error_generic", map[string]any{"incident": incident})
	}

	if !deferred {
		b.respondText(session, c.interaction, content)
		return
	}
	if c.ephemeral {
		if _, err := session.InteractionResponseEdit(c.interaction.Interaction, &discordgo.WebhookEdit{Content: &content}); err != nil {
			b.logger.Warn("interaction edit failed", zap.Error(err))
		}
		return
	}
	// A public deferred answer cannot turn ephemeral, so replace it.
	if err := session.InteractionResponseDelete(c.interaction.Interaction); err != nil {
		b.logger.Warn("interaction delete failed", zap.Error(err))
	}
	if _, err := session.FollowupMessageCreate(c.interaction.Interaction, true, &discordgo.WebhookParams{
		Content: content,
		Flags:   discordgo.MessageFlagsEphemeral,
	}); err != nil {
		b.logger.Warn("interaction followup failed", zap.Error(err))
	}
}

func (b *Bot) notifyDeveloper(session *discordgo.Session, c *commandContext, incident string, err error) {
	if b.cfg.DeveloperID == "" {
		return
	}
	command := c.command
	if c.sub != "" {
		command += " " + c.sub
	}
	embed, mountErr := b.embeds.Mount("developer_error", map[string]any{
		"incident": incident,
		"message":  err.Error(),
		"kind":     string(apperr.KindOf(err)),
		"origin":   string(apperr.OriginOf(err)),
		"command":  command,
		"user":     c.userID,
	})
	if mountErr != nil {
		b.logger.Warn("developer embed failed", zap.Error(mountErr))
		return
	}
	channel, chErr := session.UserChannelCreate(b.cfg.DeveloperID)
	if chErr != nil {
		b.logger.Warn("developer dm failed", zap.String("incident", incident), zap.Error(chErr))
		return
	}
	if _, sendErr := session.ChannelMessageSendEmbed(channel.ID, embed); sendErr != nil {
		b.logger.Warn("developer dm failed", zap.String("incident", incident), zap.Error(sendErr))
	}
}

func (b *Bot) handleAutocomplete(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	data := interaction.ApplicationCommandData()
	pc, ok := b.presets[data.Name]
	if !ok || interaction.GuildID == "" {
		return
	}
	sub, opts := parseOptions(data.Options)
	focused, ok := opts["name"]
	if !ok || !focused.Focused {
		return
	}
	prefix, _ := focused.Value.(string)

	ctx, cancel := context.WithTimeout(b.ctx, 3*time.Second)
	defer cancel()
	// Soft deleted presets can only be erased, so only remove offers them.
	names, err := pc.template.Names(ctx, strings.TrimSpace(prefix), sub == "remove")
	if err != nil {
		b.logger.Warn("autocomplete failed", zap.Error(err))
	}
	choices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(names))
	for _, name := range names {
		if len(choices) == 25 {
			break
		}
		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{Name: name, Value: name})
	}
	if err := session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionApplicationCommandAutocompleteResult,
		Data: &discordgo.InteractionResponseData{Choices: choices},
	}); err != nil {
		b.logger.Debug("autocomplete response failed", zap.Error(err))
	}
}

func (b *Bot) respondText(session *discordgo.Session, interaction *discordgo.InteractionCreate, content string) {
	if err := session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	}); err != nil {
		b.logger.Warn("interaction response failed", zap.Error(err))
	}
}

func (b *Bot) guildRoles(guildID string) []*discordgo.Role {
	if b.session.State != nil {
		if guild, err := b.session.State.Guild(guildID); err == nil && len(guild.Roles) > 0 {
			return guild.Roles
		}
	}
	roles, err := b.session.GuildRoles(guildID)
	if err != nil {
		b.logger.Warn("guild roles unavailable", zap.String("guild_id", guildID), zap.Error(err))
		return nil
	}
	return roles
}

// simpleEmbed fills the simple_response template, signed by the caller.
func (b *Bot) simpleEmbed(c *commandContext, title, description string) (*discordgo.MessageEmbed, error) {
	return b.embeds.Mount("simple_response", map[string]any{
		"title":       title,
		"description": description,
		"username":    c.userName,
		"createdAt":   time.Now().UTC().Format("2006-01-02 15:04 UTC"),
	})
}

func (b *Bot) commandEmbed(title, description string, color int, fields []*discordgo.MessageEmbedField) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
		Fields:      fields,
		Timestamp:   time.Now().Format(time.RFC3339),
	}
}

func unknownSubcommand(sub string) error {
	return apperr.Userf(apperr.InvalidValue, "I do not know the subcommand `%s`!", sub)
}
