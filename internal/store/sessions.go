package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/betbot/copybot/internal/domain"
)

const sessionColumns = `id,follower_id,master_id,status,initial_balance,current_balance,operations,wins,losses,profit,end_reason,created_at,updated_at,ended_at`

// InsertSession persists a new copy session. The partial unique index
// on live sessions rejects a second non-ended session per follower.
func (s *Store) InsertSession(ctx context.Context, sess domain.FollowerSession) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO copy_sessions (`+sessionColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
`, sess.ID, sess.FollowerID, sess.MasterID, string(sess.Status), sess.InitialBalance, sess.CurrentBalance,
		sess.Operations, sess.Wins, sess.Losses, sess.Profit, sess.EndReason,
		fmtTime(sess.CreatedAt), fmtTime(sess.UpdatedAt), nullableTime(sess.EndedAt))
	return err
}

// GetSession returns a session by id, nil when missing.
func (s *Store) GetSession(ctx context.Context, id string) (*domain.FollowerSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM copy_sessions WHERE id=?`, id)
	return scanSession(row)
}

// GetLiveSession returns the follower's non-ended session, nil when
// none exists.
func (s *Store) GetLiveSession(ctx context.Context, followerID string) (*domain.FollowerSession, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+sessionColumns+` FROM copy_sessions WHERE follower_id=? AND status != 'ended'
`, followerID)
	return scanSession(row)
}

// UpdateSessionStatus moves a session between active and paused.
func (s *Store) UpdateSessionStatus(ctx context.Context, id string, status domain.SessionStatus) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE copy_sessions SET status=?, updated_at=? WHERE id=?
`, string(status), fmtTime(time.Now()), id)
	return err
}

// EndSession marks a session ended with a reason. Ended is terminal.
func (s *Store) EndSession(ctx context.Context, id string, reason string) error {
	now := fmtTime(time.Now())
	_, err := s.db.ExecContext(ctx, `
UPDATE copy_sessions SET status='ended', end_reason=?, updated_at=?, ended_at=? WHERE id=? AND status != 'ended'
`, reason, now, now, id)
	return err
}

// ApplySessionSettlement folds one settled operation into the
// session's running totals.
func (s *Store) ApplySessionSettlement(ctx context.Context, id string, profit float64, win bool) error {
	wins, losses := 0, 1
	if win {
		wins, losses = 1, 0
	}
	_, err := s.db.ExecContext(ctx, `
UPDATE copy_sessions SET
  current_balance = current_balance + ?,
  operations = operations + 1,
  wins = wins + ?,
  losses = losses + ?,
  profit = profit + ?,
  updated_at = ?
WHERE id=?
`, profit, wins, losses, profit, fmtTime(time.Now()), id)
	return err
}

func scanSession(row *sql.Row) (*domain.FollowerSession, error) {
	var (
		sess             domain.FollowerSession
		status           string
		created, updated string
		ended            sql.NullString
	)
	if err := row.Scan(&sess.ID, &sess.FollowerID, &sess.MasterID, &status, &sess.InitialBalance, &sess.CurrentBalance,
		&sess.Operations, &sess.Wins, &sess.Losses, &sess.Profit, &sess.EndReason, &created, &updated, &ended); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	sess.Status = domain.SessionStatus(status)
	sess.CreatedAt = parseTime(created)
	sess.UpdatedAt = parseTime(updated)
	if ended.Valid {
		t := parseTime(ended.String)
		sess.EndedAt = &t
	}
	return &sess, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}
