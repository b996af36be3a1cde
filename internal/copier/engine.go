package copier

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/copybot/internal/domain"
	"github.com/betbot/copybot/internal/store"
	"github.com/betbot/copybot/pkg/secretstore"
)

var copierLog = logrus.WithField("component", "copier")

// Executor places one follower-side trade and returns the venue
// contract id. Satisfied by execution.Adapter.
type Executor interface {
	ExecuteTrade(ctx context.Context, token string, order domain.MasterOrder, stake float64) (string, error)
}

// FollowerResult is the per-follower outcome of one replication
// fan-out. Exactly one of the terminal fields is meaningful: Skipped
// names why no trade was attempted, Err carries an attempted trade's
// failure, otherwise ExternalOrderID identifies the placed contract.
type FollowerResult struct {
	FollowerID      string
	OperationID     string
	ExternalOrderID string
	Stake           float64
	Skipped         string
	Err             error
}

// OK reports whether a trade was placed for this follower.
func (r FollowerResult) OK() bool {
	return r.Err == nil && r.Skipped == ""
}

// Engine fans a master order out to every eligible follower, sizing
// each stake from the follower's allocation policy.
type Engine struct {
	store    *store.Store
	secrets  *secretstore.Store
	executor Executor
	minStake float64
}

// NewEngine builds the replication engine. minStake is the venue's
// minimum contract stake; computed stakes are clamped up to it.
func NewEngine(st *store.Store, secrets *secretstore.Store, executor Executor, minStake float64) *Engine {
	return &Engine{store: st, secrets: secrets, executor: executor, minStake: minStake}
}

// GetCopiers resolves a master id (and every alias of it) to the active
// followers bound to it, annotated with credential presence.
func (e *Engine) GetCopiers(ctx context.Context, masterID string) ([]domain.Copier, error) {
	ids, err := e.store.MasterIDsFor(ctx, masterID)
	if err != nil {
		return nil, errors.Wrap(err, "resolve master aliases")
	}
	copiers, err := e.store.ListActiveFollowers(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "list followers")
	}
	for i := range copiers {
		ok, err := e.secrets.HasToken(copiers[i].FollowerID)
		if err != nil {
			return nil, errors.Wrapf(err, "check token for %s", copiers[i].FollowerID)
		}
		copiers[i].HasToken = ok
	}
	return copiers, nil
}

// Replicate fans order out to every eligible follower concurrently and
// returns one result per copier. A failure for one follower never
// blocks or aborts the others.
func (e *Engine) Replicate(ctx context.Context, order domain.MasterOrder) ([]FollowerResult, error) {
	copiers, err := e.GetCopiers(ctx, order.MasterID)
	if err != nil {
		return nil, err
	}
	if len(copiers) == 0 {
		return nil, nil
	}

	results := make([]FollowerResult, len(copiers))
	var wg sync.WaitGroup
	for i, cp := range copiers {
		wg.Add(1)
		go func(i int, cp domain.Copier) {
			defer wg.Done()
			results[i] = e.replicateOne(ctx, cp, order)
		}(i, cp)
	}
	wg.Wait()

	placed := 0
	for _, r := range results {
		if r.OK() {
			placed++
		}
	}
	copierLog.Infof("replicated master order %s: followers=%d placed=%d", order.ID, len(copiers), placed)
	return results, nil
}

func (e *Engine) replicateOne(ctx context.Context, cp domain.Copier, order domain.MasterOrder) FollowerResult {
	res := FollowerResult{FollowerID: cp.FollowerID}

	if !cp.HasToken {
		res.Skipped = "no token"
		return res
	}
	sess, err := e.store.GetLiveSession(ctx, cp.FollowerID)
	if err != nil {
		res.Err = err
		return res
	}
	if sess == nil {
		res.Skipped = "no session"
		return res
	}
	if sess.Status != domain.SessionActive {
		res.Skipped = "session " + string(sess.Status)
		return res
	}

	res.Stake = e.stakeFor(cp, order)
	op := domain.ReplicatedOperation{
		ID:                uuid.NewString(),
		SessionID:         sess.ID,
		FollowerID:        cp.FollowerID,
		MasterOperationID: order.ID,
		Instrument:        order.Instrument,
		ContractType:      order.ContractType,
		Stake:             res.Stake,
		Result:            domain.ResultPending,
		CreatedAt:         time.Now(),
	}
	if err := e.store.InsertOperation(ctx, op); err != nil {
		res.Err = errors.Wrap(err, "insert operation")
		return res
	}
	res.OperationID = op.ID

	token, ok, err := e.secrets.Token(cp.FollowerID)
	if err != nil || !ok {
		e.voidOperation(ctx, op.ID)
		if err == nil {
			err = errors.New("token vanished")
		}
		res.Err = err
		return res
	}

	extID, err := e.executor.ExecuteTrade(ctx, token, order, res.Stake)
	if err != nil {
		// Take the failed attempt out of the pending set so settlement
		// fan-out never pays out a trade that was never placed.
		e.voidOperation(ctx, op.ID)
		res.Err = err
		return res
	}
	if err := e.store.SetOperationExternalID(ctx, op.ID, extID); err != nil {
		copierLog.Warnf("record external id for %s: %v", op.ID, err)
	}
	res.ExternalOrderID = extID
	return res
}

// voidOperation retires an operation whose trade never reached the
// venue. Session totals are untouched.
func (e *Engine) voidOperation(ctx context.Context, id string) {
	if _, err := e.store.SettleOperation(ctx, id, domain.ResultLoss, 0); err != nil {
		copierLog.Warnf("void operation %s: %v", id, err)
	}
}

// stakeFor sizes the follower's stake. Fixed allocation multiplies the
// configured amount by the leverage multiplier; proportional allocation
// applies the master's balance percentage to the follower's tracked
// balance, then leverage. Stakes are rounded to cents and clamped up to
// the venue minimum. Proportional sizing deliberately does not verify
// the follower holds the resulting stake; the venue rejects the buy
// when funds are short.
func (e *Engine) stakeFor(cp domain.Copier, order domain.MasterOrder) float64 {
	mult := decimal.NewFromInt(int64(domain.LeverageMultiplier(cp.Leverage)))

	var stake decimal.Decimal
	switch cp.AllocationType {
	case domain.AllocationProportional:
		pct := decimal.NewFromFloat(order.PercentOfBalance()).Div(decimal.NewFromInt(100))
		stake = pct.Mul(decimal.NewFromFloat(cp.Balance)).Mul(mult)
	default:
		stake = decimal.NewFromFloat(cp.AllocationValue).Mul(mult)
	}

	stake = stake.Round(2)
	if min := decimal.NewFromFloat(e.minStake); stake.LessThan(min) {
		stake = min
	}
	f, _ := stake.Float64()
	return f
}
