package audit

import (
	"context"
	"fmt"
	"time"

	"modbot/internal/storage"

	"go.uber.org/zap"
)

const (
	LevelInfo = "INFO"
	LevelWarn = "WARN"
	LevelCrit = "CRIT"
)

// Events written by the moderation layer.
const (
	EventBan          = "ban"
	EventKick         = "kick"
	EventMute         = "mute"
	EventWarn         = "warn"
	EventUndo         = "undo"
	EventReasonEdit   = "reason_edit"
	EventBanExpired   = "ban_expired"
	EventPermissions  = "permissions"
	EventPresetChange = "preset_change"
	EventSettings     = "settings"
	EventMoveContent  = "move_content"
)

type Logger struct {
	store  *storage.Store
	logger *zap.Logger
	notify func(context.Context, storage.AuditLog)
	now    func() time.Time
}

func NewLogger(store *storage.Store, logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{store: store, logger: logger.Named("audit"), now: time.Now}
}

// SetNotifier registers a callback run after each entry is stored, usually
// posting it to the guild's log channel.
func (l *Logger) SetNotifier(notify func(context.Context, storage.AuditLog)) {
	l.notify = notify
}

func (l *Logger) Log(ctx context.Context, level, guildID, userID, event, details string) {
	entry := storage.AuditLog{
		GuildID:   guildID,
		UserID:    userID,
		Level:     level,
		Event:     event,
		Details:   details,
		CreatedAt: l.now(),
	}
	if l.store != nil {
		if err := l.store.AddAuditLog(ctx, entry); err != nil {
			l.logger.Warn("audit write failed", zap.String("event", event), zap.Error(err))
		}
	}
	if l.notify != nil {
		l.notify(ctx, entry)
	}
	l.logger.Info("audit", zap.String("level", level), zap.String("guild_id", guildID), zap.String("user_id", userID), zap.String("event", event), zap.String("details", details))
}

// Action records a moderator acting on a target.
func (l *Logger) Action(ctx context.Context, guildID, moderatorID, targetID, event string, caseNumber int64, reason string) {
	details := fmt.Sprintf("case #%d by <@%s>", caseNumber, moderatorID)
	if reason != "" {
		details += ": " + reason
	}
	level := LevelInfo
	if event == EventBan || event == EventKick {
		level = LevelWarn
	}
	l.Log(ctx, level, guildID, targetID, event, details)
}

// Cleanup drops entries older than retentionDays.
func (l *Logger) Cleanup(ctx context.Context, retentionDays int) error {
	if l.store == nil || retentionDays <= 0 {
		return nil
	}
	removed, err := l.store.CleanupAuditLogs(ctx, retentionDays)
	if err != nil {
		return err
	}
	if removed > 0 {
		l.logger.Info("audit logs cleaned", zap.Int64("removed", removed), zap.Int("retention_days", retentionDays))
	}
	return nil
}

func (l *Logger) CleanupGuild(ctx context.Context, guildID string, retentionDays int) error {
	if l.store == nil || retentionDays <= 0 {
		return nil
	}
	removed, err := l.store.CleanupGuildAuditLogs(ctx, guildID, retentionDays)
	if err != nil {
		return err
	}
	if removed > 0 {
		l.logger.Info("audit logs cleaned", zap.String("guild_id", guildID), zap.Int64("removed", removed), zap.Int("retention_days", retentionDays))
	}
	return nil
}
