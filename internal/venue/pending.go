package venue

import "time"

// outcome is the terminal state of a pending request: exactly one of
// msg or err, delivered exactly once.
type outcome struct {
	msg *Message
	err error
}

// pendingRequest tracks one correlatable one-shot call from submission
// until its response, timeout, or connection failure.
type pendingRequest struct {
	reqID   int64
	payload map[string]any
	done    chan outcome
	timer   *time.Timer
	sent    bool
}

func newPendingRequest(reqID int64, payload map[string]any) *pendingRequest {
	return &pendingRequest{
		reqID:   reqID,
		payload: payload,
		done:    make(chan outcome, 1),
	}
}

// resolve delivers the outcome. The buffered channel makes delivery
// non-blocking; callers guarantee resolve is reached at most once by
// removing the request from bookkeeping first.
func (p *pendingRequest) resolve(msg *Message, err error) {
	if p.timer != nil {
		p.timer.Stop()
	}
	p.done <- outcome{msg: msg, err: err}
}
