package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type Punishment struct {
	GuildID     string
	CaseNumber  int64
	Type        string
	UserID      string
	ModeratorID string
	Reason      string
	CreatedAt   time.Time
	ExpiresAt   *time.Time
	Undone      bool
}

const punishmentColumns = `guild_id, case_number, type, user_id, moderator_id, reason, created_at, expires_at, undone`

// InsertPunishment stores p under the next case number of its guild.
func (s *Store) InsertPunishment(ctx context.Context, p Punishment) (caseNumber int64, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	row := tx.QueryRowContext(ctx, s.rebind(`
		INSERT INTO case_counters (guild_id, last_case) VALUES (?, 1)
		ON CONFLICT(guild_id) DO UPDATE SET last_case = case_counters.last_case + 1
		RETURNING last_case
	`), p.GuildID)
	if err = row.Scan(&caseNumber); err != nil {
		return 0, err
	}

	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO punishments (`+punishmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), p.GuildID, caseNumber, p.Type, p.UserID, p.ModeratorID, p.Reason, p.CreatedAt.Unix(), unixOrNil(p.ExpiresAt), p.Undone)
	if err != nil {
		return 0, err
	}
	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return caseNumber, nil
}

// GetPunishment reports false when the case does not exist.
func (s *Store) GetPunishment(ctx context.Context, guildID string, caseNumber int64) (Punishment, bool, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT `+punishmentColumns+` FROM punishments
		WHERE guild_id = ? AND case_number = ?
	`), guildID, caseNumber)
	p, err := scanPunishment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Punishment{}, false, nil
		}
		return Punishment{}, false, err
	}
	return p, true, nil
}

func (s *Store) ListPunishments(ctx context.Context, guildID, userID string) ([]Punishment, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT `+punishmentColumns+` FROM punishments
		WHERE guild_id = ? AND user_id = ?
		ORDER BY case_number
	`), guildID, userID)
	if err != nil {
		return nil, err
	}
	return collectPunishments(rows)
}

// ListExpired returns active punishments of a type whose expiry is due.
func (s *Store) ListExpired(ctx context.Context, punishmentType string, now time.Time) ([]Punishment, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT `+punishmentColumns+` FROM punishments
		WHERE type = ? AND undone = ? AND expires_at IS NOT NULL AND expires_at <= ?
		ORDER BY expires_at
	`), punishmentType, false, now.Unix())
	if err != nil {
		return nil, err
	}
	return collectPunishments(rows)
}

// EditPunishment runs fn on a case inside a transaction and stores the
// reason, expiry and undone flag it leaves behind. It reports false when
// the case does not exist.
func (s *Store) EditPunishment(ctx context.Context, guildID string, caseNumber int64, fn func(*Punishment) error) (edited Punishment, found bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Punishment{}, false, err
	}
	defer func() {
		if err != nil || !found {
			_ = tx.Rollback()
		}
	}()

	row := tx.QueryRowContext(ctx, s.rebind(`
		SELECT `+punishmentColumns+` FROM punishments
		WHERE guild_id = ? AND case_number = ?
	`), guildID, caseNumber)
	edited, err = scanPunishment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Punishment{}, false, nil
		}
		return Punishment{}, false, err
	}
	found = true
	if err = fn(&edited); err != nil {
		return Punishment{}, true, err
	}
	_, err = tx.ExecContext(ctx, s.rebind(`
		UPDATE punishments SET reason = ?, expires_at = ?, undone = ?
		WHERE guild_id = ? AND case_number = ?
	`), edited.Reason, unixOrNil(edited.ExpiresAt), edited.Undone, guildID, caseNumber)
	if err != nil {
		return Punishment{}, true, err
	}
	if err = tx.Commit(); err != nil {
		return Punishment{}, true, err
	}
	return edited, true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPunishment(row rowScanner) (Punishment, error) {
	var (
		p         Punishment
		createdAt int64
		expiresAt sql.NullInt64
	)
	if err := row.Scan(&p.GuildID, &p.CaseNumber, &p.Type, &p.UserID, &p.ModeratorID, &p.Reason, &createdAt, &expiresAt, &p.Undone); err != nil {
		return Punishment{}, err
	}
	p.CreatedAt = time.Unix(createdAt, 0)
	if expiresAt.Valid {
		value := time.Unix(expiresAt.Int64, 0)
		p.ExpiresAt = &value
	}
	return p, nil
}

func collectPunishments(rows *sql.Rows) ([]Punishment, error) {
	defer rows.Close()
	var out []Punishment
	for rows.Next() {
		p, err := scanPunishment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func unixOrNil(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.Unix()
}
