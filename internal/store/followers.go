package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/betbot/copybot/internal/domain"
)

// UpsertFollowerConfig inserts or replaces the follower's live config
// row.
func (s *Store) UpsertFollowerConfig(ctx context.Context, cfg domain.FollowerConfig) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO follower_configs (follower_id,master_id,allocation_type,allocation_value,allocation_percentage,leverage,stop_loss,take_profit,active,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(follower_id) DO UPDATE SET
  master_id=excluded.master_id,
  allocation_type=excluded.allocation_type,
  allocation_value=excluded.allocation_value,
  allocation_percentage=excluded.allocation_percentage,
  leverage=excluded.leverage,
  stop_loss=excluded.stop_loss,
  take_profit=excluded.take_profit,
  active=excluded.active,
  updated_at=excluded.updated_at
`, cfg.FollowerID, cfg.MasterID, string(cfg.AllocationType), cfg.AllocationValue, cfg.AllocationPercentage,
		cfg.Leverage, cfg.StopLoss, cfg.TakeProfit, boolToInt(cfg.Active), fmtTime(now), fmtTime(now))
	return err
}

// GetFollowerConfig returns the follower's config, or nil when none
// exists.
func (s *Store) GetFollowerConfig(ctx context.Context, followerID string) (*domain.FollowerConfig, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT follower_id,master_id,allocation_type,allocation_value,allocation_percentage,leverage,stop_loss,take_profit,active,created_at,updated_at
FROM follower_configs WHERE follower_id=?
`, followerID)
	return scanFollowerConfig(row)
}

// SetFollowerActive flips the config's active flag.
func (s *Store) SetFollowerActive(ctx context.Context, followerID string, active bool) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE follower_configs SET active=?, updated_at=? WHERE follower_id=?
`, boolToInt(active), fmtTime(time.Now()), followerID)
	return err
}

// ListActiveFollowers returns every active config bound to any of the
// given master ids, joined with the follower's balance.
func (s *Store) ListActiveFollowers(ctx context.Context, masterIDs []string) ([]domain.Copier, error) {
	if len(masterIDs) == 0 {
		return nil, nil
	}
	placeholders := "?"
	args := make([]any, 0, len(masterIDs))
	args = append(args, masterIDs[0])
	for _, id := range masterIDs[1:] {
		placeholders += ",?"
		args = append(args, id)
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT c.follower_id,c.master_id,c.allocation_type,c.allocation_value,c.allocation_percentage,c.leverage,c.stop_loss,c.take_profit,c.active,c.created_at,c.updated_at,
       COALESCE(b.balance, 0)
FROM follower_configs c
LEFT JOIN follower_balances b ON b.follower_id = c.follower_id
WHERE c.active = 1 AND c.master_id IN (`+placeholders+`)
ORDER BY c.created_at
`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Copier
	for rows.Next() {
		var (
			cp               domain.Copier
			allocType        string
			active           int
			created, updated string
		)
		if err := rows.Scan(&cp.FollowerID, &cp.MasterID, &allocType, &cp.AllocationValue, &cp.AllocationPercentage,
			&cp.Leverage, &cp.StopLoss, &cp.TakeProfit, &active, &created, &updated, &cp.Balance); err != nil {
			return nil, err
		}
		cp.AllocationType = domain.AllocationType(allocType)
		cp.Active = active != 0
		cp.CreatedAt = parseTime(created)
		cp.UpdatedAt = parseTime(updated)
		out = append(out, cp)
	}
	return out, rows.Err()
}

// MasterIDsFor resolves a master id to itself plus every alias that
// maps onto it. When the given id is itself an alias, the canonical id
// it points at is included too.
func (s *Store) MasterIDsFor(ctx context.Context, masterID string) ([]string, error) {
	ids := map[string]struct{}{masterID: {}}

	row := s.db.QueryRowContext(ctx, `SELECT master_id FROM master_aliases WHERE alias_id=?`, masterID)
	var canonical string
	if err := row.Scan(&canonical); err == nil {
		ids[canonical] = struct{}{}
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	for id := range ids {
		rows, err := s.db.QueryContext(ctx, `SELECT alias_id FROM master_aliases WHERE master_id=?`, id)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var alias string
			if err := rows.Scan(&alias); err != nil {
				rows.Close()
				return nil, err
			}
			ids[alias] = struct{}{}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}

	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	return out, nil
}

// AddMasterAlias records that aliasID refers to masterID.
func (s *Store) AddMasterAlias(ctx context.Context, aliasID, masterID string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO master_aliases (alias_id, master_id) VALUES (?,?)
ON CONFLICT(alias_id) DO UPDATE SET master_id=excluded.master_id
`, aliasID, masterID)
	return err
}

// SetFollowerBalance upserts the follower's tracked balance.
func (s *Store) SetFollowerBalance(ctx context.Context, followerID string, balance float64, currency string) error {
	if currency == "" {
		currency = "USD"
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO follower_balances (follower_id, balance, currency, updated_at) VALUES (?,?,?,?)
ON CONFLICT(follower_id) DO UPDATE SET balance=excluded.balance, currency=excluded.currency, updated_at=excluded.updated_at
`, followerID, balance, currency, fmtTime(time.Now()))
	return err
}

// AdjustFollowerBalance applies a settlement delta to the follower's
// tracked balance.
func (s *Store) AdjustFollowerBalance(ctx context.Context, followerID string, delta float64) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE follower_balances SET balance = balance + ?, updated_at=? WHERE follower_id=?
`, delta, fmtTime(time.Now()), followerID)
	return err
}

// GetFollowerBalance returns the tracked balance, 0 when untracked.
func (s *Store) GetFollowerBalance(ctx context.Context, followerID string) (float64, error) {
	row := s.db.QueryRowContext(ctx, `SELECT balance FROM follower_balances WHERE follower_id=?`, followerID)
	var balance float64
	if err := row.Scan(&balance); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return balance, nil
}

func scanFollowerConfig(row *sql.Row) (*domain.FollowerConfig, error) {
	var (
		cfg              domain.FollowerConfig
		allocType        string
		active           int
		created, updated string
	)
	if err := row.Scan(&cfg.FollowerID, &cfg.MasterID, &allocType, &cfg.AllocationValue, &cfg.AllocationPercentage,
		&cfg.Leverage, &cfg.StopLoss, &cfg.TakeProfit, &active, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	cfg.AllocationType = domain.AllocationType(allocType)
	cfg.Active = active != 0
	cfg.CreatedAt = parseTime(created)
	cfg.UpdatedAt = parseTime(updated)
	return &cfg, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
