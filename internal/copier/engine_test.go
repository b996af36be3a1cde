package copier

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/betbot/copybot/internal/domain"
	"github.com/betbot/copybot/internal/session"
	"github.com/betbot/copybot/internal/store"
	"github.com/betbot/copybot/pkg/secretstore"
)

type execCall struct {
	token string
	stake float64
}

type fakeExecutor struct {
	mu      sync.Mutex
	calls   []execCall
	failFor map[string]error // token -> forced failure
}

func (f *fakeExecutor) ExecuteTrade(_ context.Context, token string, _ domain.MasterOrder, stake float64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failFor[token]; ok {
		return "", err
	}
	f.calls = append(f.calls, execCall{token: token, stake: stake})
	return "contract-" + token, nil
}

type fixture struct {
	store    *store.Store
	secrets  *secretstore.Store
	tracker  *session.Tracker
	executor *fakeExecutor
	engine   *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	secrets, err := secretstore.Open(secretstore.OpenOptions{Path: filepath.Join(dir, "secrets")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = secrets.Close() })

	executor := &fakeExecutor{failFor: map[string]error{}}
	return &fixture{
		store:    st,
		secrets:  secrets,
		tracker:  session.NewTracker(st, nil),
		executor: executor,
		engine:   NewEngine(st, secrets, executor, 0.35),
	}
}

// addFollower activates a follower with a token, a tracked balance, and
// an open session.
func (f *fixture) addFollower(t *testing.T, followerID string, cfg domain.FollowerConfig, balance float64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.secrets.SetToken(followerID, "token-"+followerID))
	require.NoError(t, f.store.SetFollowerBalance(ctx, followerID, balance, ""))
	_, err := f.tracker.Activate(ctx, followerID, cfg)
	require.NoError(t, err)
}

func fixedConfig(leverage string, amount float64) domain.FollowerConfig {
	return domain.FollowerConfig{
		MasterID:        "master-1",
		AllocationType:  domain.AllocationFixed,
		AllocationValue: amount,
		Leverage:        leverage,
	}
}

func proportionalConfig(leverage string) domain.FollowerConfig {
	return domain.FollowerConfig{
		MasterID:       "master-1",
		AllocationType: domain.AllocationProportional,
		Leverage:       leverage,
	}
}

func masterOrder(stake, balance float64) domain.MasterOrder {
	return domain.MasterOrder{
		ID:            "m-op-1",
		MasterID:      "master-1",
		Instrument:    "R_100",
		ContractType:  "CALL",
		Duration:      5,
		DurationUnit:  "t",
		Stake:         stake,
		MasterBalance: balance,
	}
}

func TestStakeFixedWithLeverage(t *testing.T) {
	f := newFixture(t)
	cp := domain.Copier{FollowerConfig: fixedConfig("3x", 5)}
	require.Equal(t, 15.0, f.engine.stakeFor(cp, masterOrder(10, 1000)))
}

func TestStakeProportionalWithLeverage(t *testing.T) {
	f := newFixture(t)
	// Master used 40% of a $500 balance; follower holds $500 at 2x.
	cp := domain.Copier{FollowerConfig: proportionalConfig("2x"), Balance: 500}
	require.Equal(t, 400.0, f.engine.stakeFor(cp, masterOrder(200, 500)))
}

func TestStakeClampedToVenueMinimum(t *testing.T) {
	f := newFixture(t)
	cp := domain.Copier{FollowerConfig: fixedConfig("", 0.10)}
	require.Equal(t, 0.35, f.engine.stakeFor(cp, masterOrder(10, 1000)))

	// Proportional sizing against an unknown master balance collapses to
	// zero and gets the same floor.
	prop := domain.Copier{FollowerConfig: proportionalConfig("2x"), Balance: 500}
	require.Equal(t, 0.35, f.engine.stakeFor(prop, masterOrder(10, 0)))
}

func TestGetCopiersResolvesAliasesAndTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addFollower(t, "f1", fixedConfig("2x", 5), 100)

	cfg := fixedConfig("1x", 3)
	cfg.MasterID = "CR99" // bound via alias
	require.NoError(t, f.store.UpsertFollowerConfig(ctx, domain.FollowerConfig{
		FollowerID:      "f2",
		MasterID:        cfg.MasterID,
		AllocationType:  cfg.AllocationType,
		AllocationValue: cfg.AllocationValue,
		Active:          true,
	}))
	require.NoError(t, f.store.AddMasterAlias(ctx, "CR99", "master-1"))

	copiers, err := f.engine.GetCopiers(ctx, "master-1")
	require.NoError(t, err)
	require.Len(t, copiers, 2)

	byID := map[string]domain.Copier{}
	for _, cp := range copiers {
		byID[cp.FollowerID] = cp
	}
	require.True(t, byID["f1"].HasToken)
	require.False(t, byID["f2"].HasToken)
}

func TestReplicateFanOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addFollower(t, "f1", fixedConfig("3x", 5), 100)

	// f2 is active but has no stored token.
	require.NoError(t, f.store.SetFollowerBalance(ctx, "f2", 100, ""))
	_, err := f.tracker.Activate(ctx, "f2", fixedConfig("1x", 5))
	require.NoError(t, err)

	results, err := f.engine.Replicate(ctx, masterOrder(10, 1000))
	require.NoError(t, err)
	require.Len(t, results, 2)

	byID := map[string]FollowerResult{}
	for _, r := range results {
		byID[r.FollowerID] = r
	}

	placed := byID["f1"]
	require.True(t, placed.OK())
	require.Equal(t, 15.0, placed.Stake)
	require.Equal(t, "contract-token-f1", placed.ExternalOrderID)

	skipped := byID["f2"]
	require.Equal(t, "no token", skipped.Skipped)
	require.Empty(t, skipped.OperationID)

	// Exactly one pending operation was recorded, carrying the venue id.
	pending, err := f.store.ListPendingOperations(ctx, "m-op-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "f1", pending[0].FollowerID)
	require.Equal(t, "contract-token-f1", pending[0].ExternalOrderID)
	require.Equal(t, 15.0, pending[0].Stake)
}

func TestReplicateSkipsPausedSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addFollower(t, "f1", fixedConfig("1x", 5), 100)
	require.NoError(t, f.tracker.Pause(ctx, "f1"))

	results, err := f.engine.Replicate(ctx, masterOrder(10, 1000))
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "session paused", results[0].Skipped)
	require.Empty(t, f.executor.calls)
}

func TestReplicateIsolatesExecutionFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addFollower(t, "f1", fixedConfig("1x", 5), 100)
	f.addFollower(t, "f2", fixedConfig("1x", 5), 100)
	f.executor.failFor["token-f1"] = errors.New("insufficient funds")

	results, err := f.engine.Replicate(ctx, masterOrder(10, 1000))
	require.NoError(t, err)
	require.Len(t, results, 2)

	byID := map[string]FollowerResult{}
	for _, r := range results {
		byID[r.FollowerID] = r
	}
	require.Error(t, byID["f1"].Err)
	require.True(t, byID["f2"].OK())

	// The failed attempt must not linger in the pending set, or a later
	// settlement would pay out a trade that was never placed.
	pending, err := f.store.ListPendingOperations(ctx, "m-op-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "f2", pending[0].FollowerID)

	failed, err := f.store.GetOperation(ctx, byID["f1"].OperationID)
	require.NoError(t, err)
	require.True(t, failed.IsSettled())
	require.Equal(t, 0.0, failed.Profit)
}

func TestReplicateNoFollowers(t *testing.T) {
	f := newFixture(t)
	results, err := f.engine.Replicate(context.Background(), masterOrder(10, 1000))
	require.NoError(t, err)
	require.Empty(t, results)
}
