package copier

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/copybot/internal/domain"
	"github.com/betbot/copybot/internal/session"
	"github.com/betbot/copybot/internal/store"
)

var reconcileLog = logrus.WithField("component", "reconciler")

// SettlementResult is the per-operation outcome of one settlement
// fan-out.
type SettlementResult struct {
	OperationID  string
	FollowerID   string
	Profit       float64
	AlreadyDone  bool   // the operation had been settled before this pass
	SessionEnded string // end reason when a risk limit fired, else ""
	Err          error
}

// Reconciler applies a master order's final outcome to every pending
// replicated operation derived from it, scaling profit by stake ratio
// and folding the result into session totals and balances.
type Reconciler struct {
	store   *store.Store
	tracker *session.Tracker
}

func NewReconciler(st *store.Store, tracker *session.Tracker) *Reconciler {
	return &Reconciler{store: st, tracker: tracker}
}

// Settle fans settlement out to the pending operations referencing its
// master operation id. One operation failing never aborts the rest;
// re-delivering the same settlement is a no-op per operation.
func (r *Reconciler) Settle(ctx context.Context, settlement domain.MasterSettlement) ([]SettlementResult, error) {
	ops, err := r.store.ListPendingOperations(ctx, settlement.MasterOperationID)
	if err != nil {
		return nil, errors.Wrap(err, "list pending operations")
	}

	results := make([]SettlementResult, 0, len(ops))
	for _, op := range ops {
		results = append(results, r.settleOne(ctx, settlement, op))
	}
	reconcileLog.Infof("settled master operation %s: result=%s operations=%d",
		settlement.MasterOperationID, settlement.Result, len(results))
	return results, nil
}

func (r *Reconciler) settleOne(ctx context.Context, settlement domain.MasterSettlement, op domain.ReplicatedOperation) SettlementResult {
	res := SettlementResult{OperationID: op.ID, FollowerID: op.FollowerID}
	res.Profit = FollowerProfit(settlement.Profit, settlement.Stake, op.Stake)

	ok, err := r.store.SettleOperation(ctx, op.ID, settlement.Result, res.Profit)
	if err != nil {
		res.Err = errors.Wrap(err, "settle operation")
		return res
	}
	if !ok {
		res.AlreadyDone = true
		return res
	}

	win := settlement.Result == domain.ResultWin
	if err := r.store.ApplySessionSettlement(ctx, op.SessionID, res.Profit, win); err != nil {
		res.Err = errors.Wrap(err, "apply session settlement")
		return res
	}
	if err := r.store.AdjustFollowerBalance(ctx, op.FollowerID, res.Profit); err != nil {
		res.Err = errors.Wrap(err, "adjust balance")
		return res
	}

	reason, err := r.tracker.EvaluateRisk(ctx, op.SessionID)
	if err != nil {
		res.Err = errors.Wrap(err, "evaluate risk")
		return res
	}
	res.SessionEnded = reason
	return res
}

// FollowerProfit scales the master's realized profit by the
// follower-to-master stake ratio, rounded to cents. A zero master
// stake falls back to the master's profit unscaled.
func FollowerProfit(masterProfit, masterStake, followerStake float64) float64 {
	if masterStake == 0 {
		return masterProfit
	}
	p := decimal.NewFromFloat(masterProfit).
		Mul(decimal.NewFromFloat(followerStake)).
		Div(decimal.NewFromFloat(masterStake)).
		Round(2)
	f, _ := p.Float64()
	return f
}
