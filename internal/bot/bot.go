package bot

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"modbot/internal/analytics"
	"modbot/internal/autoemote"
	"modbot/internal/autoreport"
	"modbot/internal/config"
	"modbot/internal/cooldown"
	"modbot/internal/dialog"
	"modbot/internal/embed"
	"modbot/internal/i18n"
	"modbot/internal/listener"
	"modbot/internal/lockfile"
	"modbot/internal/moderation"
	"modbot/internal/modules/audit"
	"modbot/internal/movecontent"
	"modbot/internal/permission"
	"modbot/internal/preset"
	"modbot/internal/presetcmd"
	"modbot/internal/punishment"
	"modbot/internal/storage"
	"modbot/internal/utils"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// Services are the long lived pieces main builds before the bot.
type Services struct {
	Store       *storage.Store
	Locker      *lockfile.Locker
	Audit       *audit.Logger
	Punishments *punishment.Handler
	Analytics   *analytics.Service
	Messages    *i18n.Catalog
	Embeds      *embed.Catalog
}

// PresetCommands are the commands whose presets live on disk.
var PresetCommands = []string{autoreport.Command, autoemote.Command}

type Bot struct {
	cfg         config.Config
	logger      *zap.Logger
	store       *storage.Store
	locker      *lockfile.Locker
	audit       *audit.Logger
	analytics   *analytics.Service
	messages    *i18n.Catalog
	embeds      *embed.Catalog
	session     *discordgo.Session
	waiter      *dialog.Waiter
	listeners   *listener.Registry
	moderation  *moderation.Service
	sweeper     *moderation.Sweeper
	autoreport  *autoreport.Runtime
	autoemote   *autoemote.Runtime
	reports     *presetcmd.Template
	emotes      *presetcmd.Template
	mover       *movecontent.Mover
	presets     map[string]*presetCommand
	permissions *permission.Handler
	cooldown    *cooldown.Limiter
	handlers    map[string]commandHandler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	auditAgg   map[string]*auditAggregate
	auditAggMu sync.Mutex
}

type auditAggregate struct {
	channelID string
	messageID string
	count     int
	lastAt    time.Time
}

func New(cfg config.Config, logger *zap.Logger, services Services) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, err
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildBans |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bot{
		cfg:       cfg,
		logger:    logger,
		store:     services.Store,
		locker:    services.Locker,
		audit:     services.Audit,
		analytics: services.Analytics,
		messages:  services.Messages,
		embeds:    services.Embeds,
		session:   session,
		waiter:    dialog.NewWaiter(),
		cooldown:  cooldown.New(cfg.Cooldown.Every, cfg.Cooldown.Burst),
		ctx:       ctx,
		cancel:    cancel,
		auditAgg:  make(map[string]*auditAggregate),
	}

	b.embeds.SetColor("punishment_applied", cfg.EmbedColors.Action)
	b.embeds.SetColor("report", cfg.EmbedColors.Warning)
	b.embeds.SetColor("developer_error", cfg.EmbedColors.Error)

	b.listeners = listener.NewRegistry(session, logger)
	b.moderation = moderation.NewService(session, services.Punishments, services.Audit, services.Messages, b.selfID, logger)
	b.sweeper = moderation.NewSweeper(b.moderation, logger)
	b.permissions = permission.NewHandler(filepath.Join(cfg.DataDir, permission.FileName), services.Locker, cfg.Permissions.CacheTTL, logger)

	reportPresets := preset.NewHandler(cfg.PresetsDir, autoreport.Command, services.Locker, logger)
	reportBowl := preset.NewDataBowl(cfg.PresetsDir, autoreport.Command, reportPresets, services.Locker, logger)
	b.autoreport = autoreport.NewRuntime(autoreport.Deps{
		Discord:   session,
		Listeners: b.listeners,
		Bowl:      reportBowl,
		Waiter:    b.waiter,
		Embeds:    services.Embeds,
		Messages:  services.Messages,
	}, autoreport.Config{
		ReasonTimeout:    cfg.Autoreport.ReasonTimeout,
		MaxReasonLength:  cfg.Autoreport.MaxReasonLength,
		ReportsPerWindow: cfg.Autoreport.ReportsPerWindow,
		Window:           cfg.Autoreport.Window,
		Language:         cfg.DefaultLanguage,
		SelfID:           b.selfID,
		Links:            utils.LinkFilter{
			Mode:    utils.FilterMode(cfg.Autoreport.LinkFilterMode),
			Domains: cfg.Autoreport.LinkDomains,
		},
	}, logger)
	b.reports = presetcmd.New(reportPresets, reportBowl, b.autoreport, autoreport.InitialBowl, logger)

	emotePresets := preset.NewHandler(cfg.PresetsDir, autoemote.Command, services.Locker, logger)
	emoteBowl := preset.NewDataBowl(cfg.PresetsDir, autoemote.Command, emotePresets, services.Locker, logger)
	b.autoemote = autoemote.NewRuntime(session, b.listeners, logger)
	b.emotes = presetcmd.New(emotePresets, emoteBowl, b.autoemote, autoemote.InitialBowl, logger)

	moveOpts := movecontent.DefaultOptions()
	if cfg.MoveContent.MessagesPerLot > 0 {
		moveOpts.MessagesPerLot = cfg.MoveContent.MessagesPerLot
	}
	if cfg.MoveContent.LotDelay > 0 {
		moveOpts.LotDelay = cfg.MoveContent.LotDelay
	}
	b.mover = movecontent.New(session, session.Client, moveOpts, logger)

	b.presets = b.presetCommands()
	b.handlers = b.commandHandlers()

	if b.audit != nil {
		b.audit.SetNotifier(func(ctx context.Context, entry storage.AuditLog) {
			if !b.cfg.Audit.ToChannel {
				return
			}
			b.notifyAudit(ctx, entry)
		})
	}

	return b, nil
}

func (b *Bot) Start() error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onGuildCreate)
	b.session.AddHandler(b.onInteractionCreate)
	b.session.AddHandler(b.waiter.OnMessageCreate)

	if err := preset.EnsureDataExistence(b.ctx, b.cfg.PresetsDir, PresetCommands, b.locker, b.logger); err != nil {
		return err
	}

	if err := b.session.Open(); err != nil {
		return err
	}

	if err := b.registerCommands(); err != nil {
		return err
	}

	// A preset that fails to restore is logged and skipped.
	if err := preset.InitializeAll(b.ctx, b.cfg.PresetsDir, []preset.Restorer{b.autoreport, b.autoemote}, b.locker, b.logger); err != nil {
		b.logger.Warn("some presets were not restored", zap.Error(err))
	}

	b.wg.Add(2)
	go func() {
		defer b.wg.Done()
		b.sweeper.Run(b.ctx, b.cfg.Punishments.SweepInterval)
	}()
	go func() {
		defer b.wg.Done()
		b.runMaintenance(b.ctx)
	}()

	return nil
}

func (b *Bot) Close(ctx context.Context) {
	b.cancel()
	b.autoreport.Close()
	b.autoemote.Close()
	b.listeners.RemoveAll()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		b.logger.Warn("background jobs did not stop in time")
	}

	if b.session != nil {
		_ = b.session.Close()
	}
}

func (b *Bot) onReady(session *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("discord ready", zap.String("user", event.User.Username), zap.Int("guilds", len(event.Guilds)))
}

// onGuildCreate runs for every guild after connecting and for every guild
// joined later, so each one gets default permissions for every command.
func (b *Bot) onGuildCreate(session *discordgo.Session, event *discordgo.GuildCreate) {
	if event.Guild == nil || event.Unavailable {
		return
	}
	ctx, cancel := context.WithTimeout(b.ctx, 30*time.Second)
	defer cancel()
	if _, err := b.permissions.EnsureCommands(ctx, event.ID, event.Name, commandNames()); err != nil {
		b.logger.Error("permission defaults failed", zap.String("guild_id", event.ID), zap.Error(err))
		return
	}
	if b.cfg.GuildID == event.ID {
		b.applyViewerPermissions(ctx, event.ID, event.Roles)
	}
}

func (b *Bot) selfID() string {
	if b.session == nil || b.session.State == nil || b.session.State.User == nil {
		return ""
	}
	return b.session.State.User.ID
}

// runMaintenance drops audit entries past each guild's retention once per
// cleanup interval.
func (b *Bot) runMaintenance(ctx context.Context) {
	interval := b.cfg.Audit.CleanupInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.cleanupAuditLogs(ctx)
		}
	}
}

func (b *Bot) cleanupAuditLogs(ctx context.Context) {
	if b.session == nil || b.session.State == nil {
		return
	}
	for _, guild := range b.session.State.Guilds {
		if guild == nil {
			continue
		}
		settings := b.guildSettings(ctx, guild.ID)
		if err := b.audit.CleanupGuild(ctx, guild.ID, settings.RetentionDays); err != nil {
			b.logger.Warn("audit cleanup failed", zap.String("guild_id", guild.ID), zap.Error(err))
		}
	}
}

// notifyAudit posts an entry to the guild log channel. Identical entries
// within ten minutes bump a counter on the previous message instead.
func (b *Bot) notifyAudit(ctx context.Context, entry storage.AuditLog) {
	settings := b.guildSettings(ctx, entry.GuildID)
	channelID := settings.LogChannel
	if channelID == "" {
		return
	}
	lang := settings.Language

	key := entry.GuildID + "|" + entry.Level + "|" + entry.Event + "|" + entry.Details + "|" + entry.UserID
	window := 10 * time.Minute

	b.auditAggMu.Lock()
	agg := b.auditAgg[key]
	if agg != nil && agg.channelID == channelID && time.Since(agg.lastAt) <= window {
		agg.count++
		agg.lastAt = time.Now()
		count := agg.count
		messageID := agg.messageID
		b.auditAggMu.Unlock()
		if _, err := b.session.ChannelMessageEditEmbed(channelID, messageID, b.buildAuditEmbed(lang, entry, count)); err == nil {
			return
		}
		b.auditAggMu.Lock()
		delete(b.auditAgg, key)
	}
	b.auditAggMu.Unlock()

	msg, err := b.session.ChannelMessageSendEmbed(channelID, b.buildAuditEmbed(lang, entry, 1))
	if err != nil || msg == nil {
		b.logger.Warn("audit notification failed", zap.String("guild_id", entry.GuildID), zap.Error(err))
		return
	}
	b.auditAggMu.Lock()
	b.auditAgg[key] = &auditAggregate{channelID: channelID, messageID: msg.ID, count: 1, lastAt: time.Now()}
	b.auditAggMu.Unlock()
}

func (b *Bot) buildAuditEmbed(lang string, entry storage.AuditLog, count int) *discordgo.MessageEmbed {
	userValue := "<@" + entry.UserID + ">"
	if entry.UserID == "" {
		userValue = b.t(lang, "value_system", nil)
	}
	fields := []*discordgo.MessageEmbedField{
		{Name: b.t(lang, "field_event", nil), Value: entry.Event, Inline: true},
		{Name: b.t(lang, "field_level", nil), Value: entry.Level, Inline: true},
		{Name: b.t(lang, "field_user", nil), Value: userValue, Inline: true},
	}
	if count > 1 {
		fields = append(fields, &discordgo.MessageEmbedField{Name: b.t(lang, "field_count", nil), Value: fmt.Sprintf("%d", count), Inline: true})
	}
	fields = append(fields, &discordgo.MessageEmbedField{Name: b.t(lang, "field_details", nil), Value: entry.Details, Inline: false})
	return &discordgo.MessageEmbed{
		Title:     b.t(lang, "audit_title", nil),
		Color:     b.cfg.EmbedColors.Action,
		Timestamp: entry.CreatedAt.Format(time.RFC3339),
		Fields:    fields,
	}
}

func (b *Bot) guildSettings(ctx context.Context, guildID string) storage.GuildSettings {
	defaults := storage.GuildSettings{
		GuildID:       guildID,
		Language:      b.cfg.DefaultLanguage,
		RetentionDays: b.cfg.Audit.RetentionDays,
	}
	settings, err := b.store.GetGuildSettings(ctx, guildID, defaults)
	if err != nil {
		b.logger.Warn("guild settings fallback", zap.Error(err))
		return defaults
	}
	return settings
}

func (b *Bot) t(lang, key string, vars map[string]any) string {
	return b.messages.T(lang, key, vars)
}
