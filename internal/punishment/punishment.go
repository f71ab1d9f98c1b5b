package punishment

import (
	"context"
	"strconv"
	"strings"
	"time"

	"modbot/internal/apperr"
	"modbot/internal/storage"

	"go.uber.org/zap"
)

type Type string

const (
	Ban  Type = "ban"
	Kick Type = "kick"
	Mute Type = "mute"
	Warn Type = "warn"
)

var Types = []Type{Ban, Kick, Mute, Warn}

func ParseType(raw string) (Type, error) {
	for _, t := range Types {
		if strings.EqualFold(raw, string(t)) {
			return t, nil
		}
	}
	return "", apperr.Userf(apperr.InvalidValue, "**%s** is not a punishment type!", raw)
}

type Punishment struct {
	GuildID     string     `json:"guildID"`
	Case        int64      `json:"case"`
	Type        Type       `json:"type"`
	UserID      string     `json:"userID"`
	ModeratorID string     `json:"moderatorID"`
	Reason      string     `json:"reason"`
	CreatedAt   time.Time  `json:"createdAt"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	Undone      bool       `json:"undone"`
}

// Permanent reports whether the punishment has no expiry.
func (p Punishment) Permanent() bool {
	return p.ExpiresAt == nil
}

// Changes edits a case. Nil fields are left alone.
type Changes struct {
	Reason    *string
	ExpiresAt *time.Time
	Undone    *bool
}

type Handler struct {
	store  *storage.Store
	logger *zap.Logger
	now    func() time.Time
}

func NewHandler(store *storage.Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, logger: logger.Named("punishment"), now: time.Now}
}

// Add records p and returns its case number.
func (h *Handler) Add(ctx context.Context, p Punishment) (int64, error) {
	if p.GuildID == "" || p.UserID == "" {
		return 0, apperr.New(apperr.Internal, apperr.MissingParam, "A punishment needs a guild and a user!")
	}
	if _, err := ParseType(string(p.Type)); err != nil {
		return 0, apperr.Newf(apperr.Internal, apperr.InvalidValue, "Unknown punishment type %q!", p.Type)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = h.now()
	}
	number, err := h.store.InsertPunishment(ctx, toRecord(p))
	if err != nil {
		return 0, apperr.Wrap(err, apperr.Internal, apperr.NotSent, "store punishment")
	}
	h.logger.Info("punishment recorded",
		zap.String("guild_id", p.GuildID),
		zap.Int64("case", number),
		zap.String("type", string(p.Type)),
		zap.String("user_id", p.UserID),
	)
	return number, nil
}

func (h *Handler) Get(ctx context.Context, guildID string, caseNumber int64) (Punishment, error) {
	record, found, err := h.store.GetPunishment(ctx, guildID, caseNumber)
	if err != nil {
		return Punishment{}, apperr.Wrap(err, apperr.Internal, apperr.NotFound, "load punishment")
	}
	if !found {
		return Punishment{}, notFound(caseNumber)
	}
	return fromRecord(record), nil
}

func (h *Handler) UserPunishments(ctx context.Context, guildID, userID string) ([]Punishment, error) {
	records, err := h.store.ListPunishments(ctx, guildID, userID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.Internal, apperr.NotFound, "list punishments")
	}
	out := make([]Punishment, 0, len(records))
	for _, record := range records {
		out = append(out, fromRecord(record))
	}
	return out, nil
}

func (h *Handler) Edit(ctx context.Context, guildID string, caseNumber int64, changes Changes) (Punishment, error) {
	record, found, err := h.store.EditPunishment(ctx, guildID, caseNumber, func(p *storage.Punishment) error {
		if changes.Reason != nil {
			p.Reason = *changes.Reason
		}
		if changes.ExpiresAt != nil {
			expires := *changes.ExpiresAt
			p.ExpiresAt = &expires
		}
		if changes.Undone != nil {
			p.Undone = *changes.Undone
		}
		return nil
	})
	if err != nil {
		return Punishment{}, apperr.Wrap(err, apperr.Internal, apperr.NotSent, "edit punishment")
	}
	if !found {
		return Punishment{}, notFound(caseNumber)
	}
	return fromRecord(record), nil
}

// Expired returns the active punishments of type t due at now.
func (h *Handler) Expired(ctx context.Context, now time.Time, t Type) ([]Punishment, error) {
	records, err := h.store.ListExpired(ctx, string(t), now)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.Internal, apperr.NotFound, "list expired punishments")
	}
	out := make([]Punishment, 0, len(records))
	for _, record := range records {
		out = append(out, fromRecord(record))
	}
	return out, nil
}

// ParseCase reads a case number typed by a user, with or without a leading #.
func ParseCase(raw string) (int64, error) {
	number, err := strconv.ParseInt(strings.TrimPrefix(strings.TrimSpace(raw), "#"), 10, 64)
	if err != nil || number <= 0 {
		return 0, apperr.Userf(apperr.InvalidValue, "**%s** is not a case number!", raw)
	}
	return number, nil
}

func notFound(caseNumber int64) error {
	return apperr.Userf(apperr.NotFound, "Case #%d does not exist!", caseNumber)
}

func toRecord(p Punishment) storage.Punishment {
	return storage.Punishment{
		GuildID:     p.GuildID,
		CaseNumber:  p.Case,
		Type:        string(p.Type),
		UserID:      p.UserID,
		ModeratorID: p.ModeratorID,
		Reason:      p.Reason,
		CreatedAt:   p.CreatedAt,
		ExpiresAt:   p.ExpiresAt,
		Undone:      p.Undone,
	}
}

func fromRecord(r storage.Punishment) Punishment {
	return Punishment{
		GuildID:     r.GuildID,
		Case:        r.CaseNumber,
		Type:        Type(r.Type),
		UserID:      r.UserID,
		ModeratorID: r.ModeratorID,
		Reason:      r.Reason,
		CreatedAt:   r.CreatedAt,
		ExpiresAt:   r.ExpiresAt,
		Undone:      r.Undone,
	}
}
