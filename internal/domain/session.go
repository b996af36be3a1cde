package domain

import "time"

// SessionStatus is the lifecycle state of a copy session.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionPaused SessionStatus = "paused"
	SessionEnded  SessionStatus = "ended" // terminal
)

// Session end reasons stamped when risk limits fire or the owner stops
// copying.
const (
	EndReasonStopLoss   = "stop_loss"
	EndReasonTakeProfit = "take_profit"
	EndReasonManual     = "manual"
)

// FollowerSession is a bounded interval of active replication between
// one follower and one master. At most one session per follower may be
// in a non-ended status at any time.
type FollowerSession struct {
	ID             string
	FollowerID     string
	MasterID       string
	Status         SessionStatus
	InitialBalance float64
	CurrentBalance float64
	Operations     int
	Wins           int
	Losses         int
	Profit         float64 // running net profit; negative means loss
	EndReason      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	EndedAt        *time.Time
}

// AccumulatedLoss returns the session's running loss as a positive
// number, 0 when the session is in profit.
func (s *FollowerSession) AccumulatedLoss() float64 {
	if s.Profit >= 0 {
		return 0
	}
	return -s.Profit
}

// IsLive reports whether the session still accepts replicated orders
// or settlements.
func (s *FollowerSession) IsLive() bool {
	return s.Status == SessionActive || s.Status == SessionPaused
}
