package domain

import "time"

// OperationResult is the settlement outcome of a replicated operation.
type OperationResult string

const (
	ResultPending OperationResult = "pending"
	ResultWin     OperationResult = "win"
	ResultLoss    OperationResult = "loss"
)

// ReplicatedOperation records one follower-side order derived from a
// master order. Created pending; transitions exactly once to win or
// loss on reconciliation and never reverts.
type ReplicatedOperation struct {
	ID                string
	SessionID         string
	FollowerID        string
	MasterOperationID string
	ExternalOrderID   string // venue contract id; empty when execution failed
	Instrument        string
	ContractType      string
	Stake             float64
	Result            OperationResult
	Profit            float64
	CreatedAt         time.Time
	SettledAt         *time.Time
}

// IsSettled reports whether the operation already carries a final
// result.
func (o *ReplicatedOperation) IsSettled() bool {
	return o.Result == ResultWin || o.Result == ResultLoss
}
