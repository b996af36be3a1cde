package session

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/betbot/copybot/internal/domain"
	"github.com/betbot/copybot/internal/store"
)

type recordingNotifier struct {
	events []string
}

func (n *recordingNotifier) SessionEnded(_ context.Context, sess domain.FollowerSession, reason string) {
	n.events = append(n.events, sess.FollowerID+":"+reason)
}

func newTestTracker(t *testing.T) (*Tracker, *store.Store, *recordingNotifier) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	notifier := &recordingNotifier{}
	return NewTracker(st, notifier), st, notifier
}

func baseConfig() domain.FollowerConfig {
	return domain.FollowerConfig{
		MasterID:        "master-1",
		AllocationType:  domain.AllocationFixed,
		AllocationValue: 5,
		Leverage:        "3x",
	}
}

func TestActivateOpensFreshSession(t *testing.T) {
	tr, st, _ := newTestTracker(t)
	ctx := context.Background()

	if err := st.SetFollowerBalance(ctx, "f1", 500, ""); err != nil {
		t.Fatalf("set balance: %v", err)
	}
	sess, err := tr.Activate(ctx, "f1", baseConfig())
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if sess.Status != domain.SessionActive || sess.InitialBalance != 500 || sess.MasterID != "master-1" {
		t.Fatalf("session: %+v", sess)
	}

	cfg, _ := st.GetFollowerConfig(ctx, "f1")
	if cfg == nil || !cfg.Active {
		t.Fatalf("config after activate: %+v", cfg)
	}

	// Re-activating ends the prior session and opens a new one.
	again, err := tr.Activate(ctx, "f1", baseConfig())
	if err != nil {
		t.Fatalf("re-activate: %v", err)
	}
	if again.ID == sess.ID {
		t.Fatal("re-activate reused the old session")
	}
	old, _ := st.GetSession(ctx, sess.ID)
	if old.Status != domain.SessionEnded || old.EndReason != domain.EndReasonManual {
		t.Fatalf("prior session: %+v", old)
	}
}

func TestPauseAndResume(t *testing.T) {
	tr, st, _ := newTestTracker(t)
	ctx := context.Background()

	if err := tr.Pause(ctx, "f1"); err == nil {
		t.Fatal("pause without session succeeded")
	}

	sess, err := tr.Activate(ctx, "f1", baseConfig())
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := tr.Pause(ctx, "f1"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	got, _ := st.GetSession(ctx, sess.ID)
	if got.Status != domain.SessionPaused {
		t.Fatalf("status after pause: %s", got.Status)
	}

	// Pausing a paused session is rejected.
	if err := tr.Pause(ctx, "f1"); err == nil {
		t.Fatal("double pause succeeded")
	}

	resumed, err := tr.Resume(ctx, "f1")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.ID != sess.ID || resumed.Status != domain.SessionActive {
		t.Fatalf("resumed session: %+v", resumed)
	}
}

func TestResumeWithoutLiveSessionOpensFresh(t *testing.T) {
	tr, st, _ := newTestTracker(t)
	ctx := context.Background()

	if _, err := tr.Resume(ctx, "f1"); err == nil {
		t.Fatal("resume without config succeeded")
	}

	sess, err := tr.Activate(ctx, "f1", baseConfig())
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := st.EndSession(ctx, sess.ID, domain.EndReasonManual); err != nil {
		t.Fatalf("end: %v", err)
	}

	fresh, err := tr.Resume(ctx, "f1")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if fresh.ID == sess.ID || fresh.Status != domain.SessionActive {
		t.Fatalf("fresh session: %+v", fresh)
	}
}

func TestEvaluateRiskStopLoss(t *testing.T) {
	tr, st, notifier := newTestTracker(t)
	ctx := context.Background()

	cfg := baseConfig()
	cfg.StopLoss = 50
	sess, err := tr.Activate(ctx, "f1", cfg)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}

	// Below the limit nothing fires.
	if err := st.ApplySessionSettlement(ctx, sess.ID, -49.99, false); err != nil {
		t.Fatalf("apply: %v", err)
	}
	reason, err := tr.EvaluateRisk(ctx, sess.ID)
	if err != nil || reason != "" {
		t.Fatalf("below limit: reason=%q err=%v", reason, err)
	}

	// Crossing the limit ends the session and deactivates the config.
	if err := st.ApplySessionSettlement(ctx, sess.ID, -0.01, false); err != nil {
		t.Fatalf("apply: %v", err)
	}
	reason, err = tr.EvaluateRisk(ctx, sess.ID)
	if err != nil || reason != domain.EndReasonStopLoss {
		t.Fatalf("at limit: reason=%q err=%v", reason, err)
	}

	got, _ := st.GetSession(ctx, sess.ID)
	if got.Status != domain.SessionEnded || got.EndReason != domain.EndReasonStopLoss {
		t.Fatalf("session after stop loss: %+v", got)
	}
	followerCfg, _ := st.GetFollowerConfig(ctx, "f1")
	if followerCfg.Active {
		t.Fatal("config still active after stop loss")
	}
	if len(notifier.events) != 1 || notifier.events[0] != "f1:stop_loss" {
		t.Fatalf("notifier events: %v", notifier.events)
	}

	// Evaluating an ended session is a no-op.
	reason, err = tr.EvaluateRisk(ctx, sess.ID)
	if err != nil || reason != "" {
		t.Fatalf("re-evaluate: reason=%q err=%v", reason, err)
	}
}

func TestEvaluateRiskTakeProfit(t *testing.T) {
	tr, st, notifier := newTestTracker(t)
	ctx := context.Background()

	cfg := baseConfig()
	cfg.TakeProfit = 100
	sess, err := tr.Activate(ctx, "f1", cfg)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}

	if err := st.ApplySessionSettlement(ctx, sess.ID, 100, true); err != nil {
		t.Fatalf("apply: %v", err)
	}
	reason, err := tr.EvaluateRisk(ctx, sess.ID)
	if err != nil || reason != domain.EndReasonTakeProfit {
		t.Fatalf("reason=%q err=%v", reason, err)
	}
	if len(notifier.events) != 1 || notifier.events[0] != "f1:take_profit" {
		t.Fatalf("notifier events: %v", notifier.events)
	}
}

func TestEvaluateRiskDisabledLimits(t *testing.T) {
	tr, st, _ := newTestTracker(t)
	ctx := context.Background()

	// Zero limits disable both rules regardless of results.
	sess, err := tr.Activate(ctx, "f1", baseConfig())
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := st.ApplySessionSettlement(ctx, sess.ID, -10000, false); err != nil {
		t.Fatalf("apply: %v", err)
	}
	reason, err := tr.EvaluateRisk(ctx, sess.ID)
	if err != nil || reason != "" {
		t.Fatalf("disabled limits fired: reason=%q err=%v", reason, err)
	}
}
