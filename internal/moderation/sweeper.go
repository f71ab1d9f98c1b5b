package moderation

import (
	"context"
	"net/http"
	"time"

	"modbot/internal/modules/audit"
	"modbot/internal/punishment"

	"go.uber.org/zap"
)

// Sweeper lifts temporary bans once they expire.
type Sweeper struct {
	service *Service
	logger  *zap.Logger
}

func NewSweeper(service *Service, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{service: service, logger: logger.Named("sweeper")}
}

// Run sweeps once right away and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	s.sweepAndLog(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepAndLog(ctx)
		}
	}
}

func (s *Sweeper) sweepAndLog(ctx context.Context) {
	lifted, err := s.Sweep(ctx, s.service.now())
	if err != nil {
		s.logger.Warn("sweep failed", zap.Int("lifted", lifted), zap.Error(err))
		return
	}
	if lifted > 0 {
		s.logger.Info("expired bans lifted", zap.Int("count", lifted))
	}
}

// Sweep lifts every ban due at now and returns how many were lifted. A ban
// that fails to lift stays due and is retried on the next sweep.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (int, error) {
	due, err := s.service.punishments.Expired(ctx, now, punishment.Ban)
	if err != nil {
		return 0, err
	}
	lifted := 0
	var firstErr error
	for _, p := range due {
		if ctx.Err() != nil {
			return lifted, ctx.Err()
		}
		if err := s.service.discord.GuildBanDelete(p.GuildID, p.UserID); err != nil && !isStatus(err, http.StatusNotFound) {
			s.logger.Warn("unban failed", zap.String("guild_id", p.GuildID), zap.Int64("case", p.Case), zap.Error(err))
			if firstErr == nil {
				firstErr = discordError(err, "unban")
			}
			continue
		}
		undone := true
		if _, err := s.service.punishments.Edit(ctx, p.GuildID, p.Case, punishment.Changes{Undone: &undone}); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if s.service.audit != nil {
			s.service.audit.Action(ctx, p.GuildID, s.service.selfID(), p.UserID, audit.EventBanExpired, p.Case, p.Reason)
		}
		lifted++
	}
	return lifted, firstErr
}
