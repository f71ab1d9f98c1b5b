package moderation

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"modbot/internal/apperr"
	"modbot/internal/dialog"
	"modbot/internal/i18n"
	"modbot/internal/limit"
	"modbot/internal/modules/audit"
	"modbot/internal/punishment"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// MaxMute is the longest timeout Discord accepts.
const MaxMute = 28 * limit.Day

// Discord is the part of *discordgo.Session used to punish members.
type Discord interface {
	dialog.Sender
	GuildBanCreateWithReason(guildID, userID, reason string, days int, options ...discordgo.RequestOption) error
	GuildBanDelete(guildID, userID string, options ...discordgo.RequestOption) error
	GuildMemberDeleteWithReason(guildID, userID, reason string, options ...discordgo.RequestOption) error
	GuildMemberTimeout(guildID, userID string, until *time.Time, options ...discordgo.RequestOption) error
	GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)
}

type Request struct {
	GuildID     string
	GuildName   string
	ModeratorID string
	TargetID    string
	Reason      string
	// Limit is a duration like "1d+12h". Empty means permanent.
	Limit      string
	DeleteDays int
	Language   string
}

type Service struct {
	discord     Discord
	punishments *punishment.Handler
	audit       *audit.Logger
	messages    *i18n.Catalog
	selfID      func() string
	logger      *zap.Logger
	now         func() time.Time
}

func NewService(discord Discord, punishments *punishment.Handler, auditLogger *audit.Logger, messages *i18n.Catalog, selfID func() string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if selfID == nil {
		selfID = func() string { return "" }
	}
	return &Service{
		discord:     discord,
		punishments: punishments,
		audit:       auditLogger,
		messages:    messages,
		selfID:      selfID,
		logger:      logger.Named("moderation"),
		now:         time.Now,
	}
}

func (s *Service) Punishments() *punishment.Handler {
	return s.punishments
}

func (s *Service) Ban(ctx context.Context, req Request) (punishment.Punishment, error) {
	if err := s.checkTarget(req); err != nil {
		return punishment.Punishment{}, err
	}
	if req.DeleteDays < 0 || req.DeleteDays > 7 {
		return punishment.Punishment{}, apperr.Userf(apperr.InvalidValue, "I can only delete between 0 and 7 days of messages!")
	}
	expiresAt, err := s.expiry(req.Limit, false, 0)
	if err != nil {
		return punishment.Punishment{}, err
	}
	if err := s.discord.GuildBanCreateWithReason(req.GuildID, req.TargetID, auditReason(req), req.DeleteDays); err != nil {
		return punishment.Punishment{}, discordError(err, "ban")
	}
	return s.record(ctx, req, punishment.Ban, expiresAt, audit.EventBan)
}

func (s *Service) Kick(ctx context.Context, req Request) (punishment.Punishment, error) {
	if err := s.checkTarget(req); err != nil {
		return punishment.Punishment{}, err
	}
	if err := s.discord.GuildMemberDeleteWithReason(req.GuildID, req.TargetID, auditReason(req)); err != nil {
		return punishment.Punishment{}, discordError(err, "kick")
	}
	return s.record(ctx, req, punishment.Kick, nil, audit.EventKick)
}

func (s *Service) Mute(ctx context.Context, req Request) (punishment.Punishment, error) {
	if err := s.checkTarget(req); err != nil {
		return punishment.Punishment{}, err
	}
	expiresAt, err := s.expiry(req.Limit, true, MaxMute)
	if err != nil {
		return punishment.Punishment{}, err
	}
	if err := s.discord.GuildMemberTimeout(req.GuildID, req.TargetID, expiresAt); err != nil {
		return punishment.Punishment{}, discordError(err, "mute")
	}
	return s.record(ctx, req, punishment.Mute, expiresAt, audit.EventMute)
}

// Warn records a warning and tells the member by DM when their DMs are open.
func (s *Service) Warn(ctx context.Context, req Request) (punishment.Punishment, error) {
	if err := s.checkTarget(req); err != nil {
		return punishment.Punishment{}, err
	}
	if _, err := s.discord.GuildMember(req.GuildID, req.TargetID); err != nil {
		if isStatus(err, http.StatusNotFound) {
			return punishment.Punishment{}, apperr.Userf(apperr.NotFound, "<@%s> is not a member of this server!", req.TargetID)
		}
		return punishment.Punishment{}, discordError(err, "warn")
	}
	p, err := s.record(ctx, req, punishment.Warn, nil, audit.EventWarn)
	if err != nil {
		return punishment.Punishment{}, err
	}
	s.notifyWarn(req)
	return p, nil
}

// Undo reverts a ban or a mute and marks its case undone.
func (s *Service) Undo(ctx context.Context, guildID, moderatorID string, caseNumber int64) (punishment.Punishment, error) {
	p, err := s.punishments.Get(ctx, guildID, caseNumber)
	if err != nil {
		return punishment.Punishment{}, err
	}
	if p.Undone {
		return punishment.Punishment{}, apperr.Userf(apperr.BlockedAction, "Case #%d was already undone!", caseNumber)
	}
	switch p.Type {
	case punishment.Ban:
		if err := s.discord.GuildBanDelete(guildID, p.UserID); err != nil && !isStatus(err, http.StatusNotFound) {
			return punishment.Punishment{}, discordError(err, "unban")
		}
	case punishment.Mute:
		if err := s.discord.GuildMemberTimeout(guildID, p.UserID, nil); err != nil && !isStatus(err, http.StatusNotFound) {
			return punishment.Punishment{}, discordError(err, "unmute")
		}
	default:
		return punishment.Punishment{}, apperr.Userf(apperr.BlockedAction, "A %s can not be undone!", p.Type)
	}
	undone := true
	edited, err := s.punishments.Edit(ctx, guildID, caseNumber, punishment.Changes{Undone: &undone})
	if err != nil {
		return punishment.Punishment{}, err
	}
	if s.audit != nil {
		s.audit.Action(ctx, guildID, moderatorID, p.UserID, audit.EventUndo, caseNumber, string(p.Type))
	}
	return edited, nil
}

func (s *Service) EditReason(ctx context.Context, guildID, moderatorID string, caseNumber int64, reason string) (punishment.Punishment, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return punishment.Punishment{}, apperr.Userf(apperr.EmptyValue, "The new reason can not be empty!")
	}
	edited, err := s.punishments.Edit(ctx, guildID, caseNumber, punishment.Changes{Reason: &reason})
	if err != nil {
		return punishment.Punishment{}, err
	}
	if s.audit != nil {
		s.audit.Action(ctx, guildID, moderatorID, edited.UserID, audit.EventReasonEdit, caseNumber, reason)
	}
	return edited, nil
}

func (s *Service) checkTarget(req Request) error {
	if req.TargetID == "" {
		return apperr.Userf(apperr.MissingParam, "Tell me who to punish!")
	}
	if req.TargetID == req.ModeratorID {
		return apperr.Userf(apperr.BlockedAction, "You can not punish yourself!")
	}
	if self := s.selfID(); self != "" && req.TargetID == self {
		return apperr.Userf(apperr.BlockedAction, "I can not punish myself!")
	}
	return nil
}

func (s *Service) expiry(raw string, required bool, max time.Duration) (*time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		if required {
			return nil, apperr.Userf(apperr.InvalidValue, "This punishment needs a duration, like `1h` or `2d+12h`!")
		}
		return nil, nil
	}
	d, err := limit.Parse(raw)
	if err != nil {
		return nil, err
	}
	if max > 0 && d > max {
		return nil, apperr.Userf(apperr.InvalidValue, "The duration can be at most %s!", limit.Format(max))
	}
	expires := s.now().Add(d)
	return &expires, nil
}

func (s *Service) record(ctx context.Context, req Request, t punishment.Type, expiresAt *time.Time, event string) (punishment.Punishment, error) {
	p := punishment.Punishment{
		GuildID:     req.GuildID,
		Type:        t,
		UserID:      req.TargetID,
		ModeratorID: req.ModeratorID,
		Reason:      strings.TrimSpace(req.Reason),
		CreatedAt:   s.now(),
		ExpiresAt:   expiresAt,
	}
	number, err := s.punishments.Add(ctx, p)
	if err != nil {
		return punishment.Punishment{}, err
	}
	p.Case = number
	if s.audit != nil {
		s.audit.Action(ctx, req.GuildID, req.ModeratorID, req.TargetID, event, number, p.Reason)
	}
	return p, nil
}

func (s *Service) notifyWarn(req Request) {
	reason := strings.TrimSpace(req.Reason)
	guild := req.GuildName
	if guild == "" {
		guild = req.GuildID
	}
	content := "You were warned in " + guild + ": " + reason
	if s.messages != nil {
		if reason == "" {
			reason = s.messages.T(req.Language, "reason_none", nil)
		}
		content = s.messages.T(req.Language, "warn_dm", map[string]any{"guild": guild, "reason": reason})
	}
	channel, err := s.discord.UserChannelCreate(req.TargetID)
	if err != nil {
		s.logger.Debug("warn dm channel failed", zap.String("user_id", req.TargetID), zap.Error(err))
		return
	}
	if _, err := s.discord.ChannelMessageSend(channel.ID, content); err != nil {
		s.logger.Debug("warn dm failed", zap.String("user_id", req.TargetID), zap.Error(err))
	}
}

func auditReason(req Request) string {
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return "by " + req.ModeratorID
	}
	return reason + " (by " + req.ModeratorID + ")"
}

func isStatus(err error, status int) bool {
	var restErr *discordgo.RESTError
	return errors.As(err, &restErr) && restErr.Response != nil && restErr.Response.StatusCode == status
}

// discordError turns missing permissions into a user facing error and
// keeps everything else external.
func discordError(err error, action string) error {
	if isStatus(err, http.StatusForbidden) {
		return apperr.Userf(apperr.BlockedAction, "I am not allowed to %s this member! Check my role position and permissions.", action)
	}
	if isStatus(err, http.StatusNotFound) {
		return apperr.Userf(apperr.NotFound, "I could not find that member to %s!", action)
	}
	return apperr.Wrap(err, apperr.External, apperr.NotSent, "discord "+action)
}
