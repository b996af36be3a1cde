package venue

// SubscriptionHandler receives every stream message for a
// subscription, including venue error frames (inspect msg.Error).
type SubscriptionHandler func(msg *Message)

// Subscription is a long-lived stream registered under a caller-chosen
// id. The venue assigns its own id asynchronously; once learned it is
// aliased against the caller id so either resolves the stream.
type Subscription struct {
	CallerID string
	VenueID  string // learned from the first stream message; may be empty

	token   string
	reqID   int64
	payload map[string]any
	handler SubscriptionHandler
	mux     *Multiplexer
}

// Forget unsubscribes at the venue and releases local bookkeeping.
func (s *Subscription) Forget() error {
	return s.mux.Forget(s.token, s.CallerID)
}

// Remove releases local bookkeeping only, never contacting the venue.
func (s *Subscription) Remove() {
	s.mux.RemoveSubscription(s.token, s.CallerID)
}
