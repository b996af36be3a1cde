package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/betbot/copybot/internal/domain"
	"github.com/betbot/copybot/internal/store"
)

var trackerLog = logrus.WithField("component", "session_tracker")

// Notifier receives session termination events. Best-effort; failures
// are the notifier's problem.
type Notifier interface {
	SessionEnded(ctx context.Context, sess domain.FollowerSession, reason string)
}

// Tracker owns the follower session state machine (active, paused,
// ended) and enforces stop-loss/take-profit limits on settlement
// updates.
type Tracker struct {
	store    *store.Store
	notifier Notifier
}

func NewTracker(st *store.Store, notifier Notifier) *Tracker {
	return &Tracker{store: st, notifier: notifier}
}

// Activate upserts the follower's config, closes any prior non-ended
// session, and opens a fresh active session with zeroed totals.
func (t *Tracker) Activate(ctx context.Context, followerID string, cfg domain.FollowerConfig) (*domain.FollowerSession, error) {
	cfg.FollowerID = followerID
	cfg.Active = true
	if cfg.AllocationType == "" {
		cfg.AllocationType = domain.AllocationFixed
	}
	if err := t.store.UpsertFollowerConfig(ctx, cfg); err != nil {
		return nil, fmt.Errorf("upsert follower config: %w", err)
	}

	if prior, err := t.store.GetLiveSession(ctx, followerID); err != nil {
		return nil, err
	} else if prior != nil {
		if err := t.store.EndSession(ctx, prior.ID, domain.EndReasonManual); err != nil {
			return nil, fmt.Errorf("end prior session: %w", err)
		}
		trackerLog.Infof("closed prior session %s for follower %s", prior.ID, followerID)
	}

	balance, err := t.store.GetFollowerBalance(ctx, followerID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	sess := domain.FollowerSession{
		ID:             uuid.NewString(),
		FollowerID:     followerID,
		MasterID:       cfg.MasterID,
		Status:         domain.SessionActive,
		InitialBalance: balance,
		CurrentBalance: balance,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := t.store.InsertSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	trackerLog.Infof("session %s activated: follower=%s master=%s", sess.ID, followerID, cfg.MasterID)
	return &sess, nil
}

// Pause marks the follower's active session paused without closing it.
func (t *Tracker) Pause(ctx context.Context, followerID string) error {
	sess, err := t.store.GetLiveSession(ctx, followerID)
	if err != nil {
		return err
	}
	if sess == nil || sess.Status != domain.SessionActive {
		return fmt.Errorf("no active session for follower %s", followerID)
	}
	return t.store.UpdateSessionStatus(ctx, sess.ID, domain.SessionPaused)
}

// Resume reactivates a paused session in place, or opens a fresh
// active session when none is paused.
func (t *Tracker) Resume(ctx context.Context, followerID string) (*domain.FollowerSession, error) {
	sess, err := t.store.GetLiveSession(ctx, followerID)
	if err != nil {
		return nil, err
	}
	if sess != nil {
		if sess.Status == domain.SessionPaused {
			if err := t.store.UpdateSessionStatus(ctx, sess.ID, domain.SessionActive); err != nil {
				return nil, err
			}
			sess.Status = domain.SessionActive
		}
		return sess, nil
	}

	cfg, err := t.store.GetFollowerConfig(ctx, followerID)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, fmt.Errorf("no config for follower %s", followerID)
	}
	return t.Activate(ctx, followerID, *cfg)
}

// Deactivate marks the follower's config inactive. The current session
// is left as-is.
func (t *Tracker) Deactivate(ctx context.Context, followerID string, reason string) error {
	if err := t.store.SetFollowerActive(ctx, followerID, false); err != nil {
		return err
	}
	trackerLog.Infof("follower %s deactivated: %s", followerID, reason)
	return nil
}

// GetActiveSession returns the follower's live session, nil when the
// follower is not copying.
func (t *Tracker) GetActiveSession(ctx context.Context, followerID string) (*domain.FollowerSession, error) {
	return t.store.GetLiveSession(ctx, followerID)
}

// EvaluateRisk applies the stop-loss/take-profit rule after a
// settlement has been folded into the session totals. At most one of
// the two conditions can fire per update. Ending a session also
// deactivates the owning config and stamps the reason.
func (t *Tracker) EvaluateRisk(ctx context.Context, sessionID string) (string, error) {
	sess, err := t.store.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if sess == nil || !sess.IsLive() {
		return "", nil
	}
	cfg, err := t.store.GetFollowerConfig(ctx, sess.FollowerID)
	if err != nil {
		return "", err
	}
	if cfg == nil {
		return "", nil
	}

	reason := ""
	switch {
	case cfg.StopLoss > 0 && sess.AccumulatedLoss() >= cfg.StopLoss:
		reason = domain.EndReasonStopLoss
	case cfg.TakeProfit > 0 && sess.Profit >= cfg.TakeProfit:
		reason = domain.EndReasonTakeProfit
	default:
		return "", nil
	}

	if err := t.store.EndSession(ctx, sessionID, reason); err != nil {
		return "", fmt.Errorf("end session: %w", err)
	}
	if err := t.store.SetFollowerActive(ctx, sess.FollowerID, false); err != nil {
		return "", fmt.Errorf("deactivate config: %w", err)
	}
	trackerLog.Infof("session %s ended: follower=%s reason=%s profit=%.2f", sessionID, sess.FollowerID, reason, sess.Profit)

	if t.notifier != nil {
		ended := *sess
		ended.Status = domain.SessionEnded
		ended.EndReason = reason
		t.notifier.SessionEnded(ctx, ended, reason)
	}
	return reason, nil
}
