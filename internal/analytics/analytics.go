package analytics

import (
	"context"
	"time"

	"modbot/internal/punishment"
	"modbot/internal/storage"
)

type Service struct {
	store       *storage.Store
	punishments *punishment.Handler
}

func New(store *storage.Store, punishments *punishment.Handler) *Service {
	return &Service{store: store, punishments: punishments}
}

type Report struct {
	Total   int            `json:"total"`
	ByLevel map[string]int `json:"byLevel"`
	ByEvent map[string]int `json:"byEvent"`
}

// Report summarizes a guild's audit trail since a point in time.
func (s *Service) Report(ctx context.Context, guildID string, since time.Time) (Report, error) {
	logs, err := s.store.ListAuditLogs(ctx, guildID, since)
	if err != nil {
		return Report{}, err
	}

	report := Report{ByLevel: make(map[string]int), ByEvent: make(map[string]int)}
	for _, log := range logs {
		report.Total++
		report.ByLevel[log.Level]++
		report.ByEvent[log.Event]++
	}
	return report, nil
}

type UserReport struct {
	Total  int                     `json:"total"`
	Active int                     `json:"active"`
	ByType map[punishment.Type]int `json:"byType"`
	Cases  []punishment.Punishment `json:"cases"`
}

// UserReport counts a member's punishments by type. Active counts cases
// that are neither undone nor expired.
func (s *Service) UserReport(ctx context.Context, guildID, userID string, now time.Time) (UserReport, error) {
	cases, err := s.punishments.UserPunishments(ctx, guildID, userID)
	if err != nil {
		return UserReport{}, err
	}
	report := UserReport{ByType: make(map[punishment.Type]int), Cases: cases}
	for _, p := range cases {
		report.Total++
		report.ByType[p.Type]++
		if !p.Undone && (p.ExpiresAt == nil || p.ExpiresAt.After(now)) && p.Type != punishment.Kick && p.Type != punishment.Warn {
			report.Active++
		}
	}
	return report, nil
}
