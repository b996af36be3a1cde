package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/betbot/copybot/internal/domain"
)

const operationColumns = `id,session_id,follower_id,master_operation_id,external_order_id,instrument,contract_type,stake,result,profit,created_at,settled_at`

// InsertOperation persists a replicated operation (created pending).
func (s *Store) InsertOperation(ctx context.Context, op domain.ReplicatedOperation) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO replicated_operations (`+operationColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
`, op.ID, op.SessionID, op.FollowerID, op.MasterOperationID, op.ExternalOrderID, op.Instrument, op.ContractType,
		op.Stake, string(op.Result), op.Profit, fmtTime(op.CreatedAt), nullableTime(op.SettledAt))
	return err
}

// SetOperationExternalID records the venue contract id once execution
// succeeds.
func (s *Store) SetOperationExternalID(ctx context.Context, id, externalOrderID string) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE replicated_operations SET external_order_id=? WHERE id=?
`, externalOrderID, id)
	return err
}

// GetOperation returns an operation by id, nil when missing.
func (s *Store) GetOperation(ctx context.Context, id string) (*domain.ReplicatedOperation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+operationColumns+` FROM replicated_operations WHERE id=?`, id)
	return scanOperation(row)
}

// ListPendingOperations returns every pending operation referencing
// the given master operation id.
func (s *Store) ListPendingOperations(ctx context.Context, masterOperationID string) ([]domain.ReplicatedOperation, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+operationColumns+` FROM replicated_operations
WHERE master_operation_id=? AND result='pending'
ORDER BY created_at
`, masterOperationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ReplicatedOperation
	for rows.Next() {
		var (
			op      domain.ReplicatedOperation
			result  string
			created string
			settled sql.NullString
		)
		if err := rows.Scan(&op.ID, &op.SessionID, &op.FollowerID, &op.MasterOperationID, &op.ExternalOrderID,
			&op.Instrument, &op.ContractType, &op.Stake, &result, &op.Profit, &created, &settled); err != nil {
			return nil, err
		}
		op.Result = domain.OperationResult(result)
		op.CreatedAt = parseTime(created)
		if settled.Valid {
			t := parseTime(settled.String)
			op.SettledAt = &t
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

// SettleOperation transitions a pending operation to win or loss
// exactly once. Returns false when the operation was already settled
// (the guard makes reconciliation idempotent per operation).
func (s *Store) SettleOperation(ctx context.Context, id string, result domain.OperationResult, profit float64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE replicated_operations SET result=?, profit=?, settled_at=?
WHERE id=? AND result='pending'
`, string(result), profit, fmtTime(time.Now()), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func scanOperation(row *sql.Row) (*domain.ReplicatedOperation, error) {
	var (
		op      domain.ReplicatedOperation
		result  string
		created string
		settled sql.NullString
	)
	if err := row.Scan(&op.ID, &op.SessionID, &op.FollowerID, &op.MasterOperationID, &op.ExternalOrderID,
		&op.Instrument, &op.ContractType, &op.Stake, &result, &op.Profit, &created, &settled); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	op.Result = domain.OperationResult(result)
	op.CreatedAt = parseTime(created)
	if settled.Valid {
		t := parseTime(settled.String)
		op.SettledAt = &t
	}
	return &op, nil
}
