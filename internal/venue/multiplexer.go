package venue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var muxLog = logrus.WithField("component", "venue_mux")

var (
	// ErrTimeout is returned when a request's client-side timeout fires
	// before a matching response arrives.
	ErrTimeout = errors.New("venue request timed out")
	// ErrConnClosed is returned for requests pending on a connection
	// that errored, closed, or failed authorization.
	ErrConnClosed = errors.New("venue connection closed")
	// ErrMuxClosed is returned once the multiplexer has been shut down.
	ErrMuxClosed = errors.New("venue multiplexer closed")
)

// Config tunes the multiplexer. Zero values fall back to defaults.
type Config struct {
	URL            string
	DialTimeout    time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration // default per-request timeout
}

func (c *Config) applyDefaults() {
	if c.DialTimeout == 0 {
		c.DialTimeout = 30 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 20 * time.Second
	}
}

// Multiplexer multiplexes request/response calls and streaming
// subscriptions over one persistent socket per credential token.
// Different tokens proceed fully concurrently on independent sockets;
// this layer performs no automatic reconnect.
type Multiplexer struct {
	cfg Config

	mu     sync.Mutex
	conns  map[string]*conn
	closed bool
}

// NewMultiplexer creates a multiplexer. Connections are opened lazily
// on first use per token.
func NewMultiplexer(cfg Config) *Multiplexer {
	cfg.applyDefaults()
	return &Multiplexer{
		cfg:   cfg,
		conns: make(map[string]*conn),
	}
}

// getConn returns the live connection for token or opens one. The dial
// happens outside the registry lock so slow handshakes on one token
// never stall traffic on another.
func (m *Multiplexer) getConn(token string) (*conn, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrMuxClosed
	}
	if c, ok := m.conns[token]; ok {
		m.mu.Unlock()
		return c, nil
	}
	m.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: m.cfg.DialTimeout}
	ws, _, err := dialer.Dial(m.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial venue: %w", err)
	}

	c := newConn(m, token, ws)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = ws.Close()
		return nil, ErrMuxClosed
	}
	if existing, ok := m.conns[token]; ok {
		// Lost a connect race; keep the established one.
		m.mu.Unlock()
		_ = ws.Close()
		return existing, nil
	}
	m.conns[token] = c
	m.mu.Unlock()

	if err := c.start(); err != nil {
		return nil, err
	}
	muxLog.WithField("token_tail", tokenTail(token)).Info("venue connection opened")
	return c, nil
}

func (m *Multiplexer) removeConn(token string, c *conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.conns[token]; ok && cur == c {
		delete(m.conns, token)
	}
}

// SendRequest issues a correlatable one-shot call on token's
// connection and blocks until a matching response arrives, the timeout
// elapses, or ctx is done. A zero timeout uses the configured default.
func (m *Multiplexer) SendRequest(ctx context.Context, token string, payload map[string]any, timeout time.Duration) (*Message, error) {
	if timeout <= 0 {
		timeout = m.cfg.RequestTimeout
	}
	c, err := m.getConn(token)
	if err != nil {
		return nil, err
	}
	p, err := c.request(payload, timeout, nil)
	if err != nil {
		return nil, err
	}
	select {
	case out := <-p.done:
		return out.msg, out.err
	case <-ctx.Done():
		if c.drop(p) {
			// Local cancellation only; no cancel frame goes to the venue.
			return nil, ctx.Err()
		}
		out := <-p.done
		return out.msg, out.err
	}
}

// Subscribe registers handler under callerID before sending the
// subscribe payload, so the first inbound message carrying the venue's
// subscription id can be captured and aliased. Blocks until the venue
// acknowledges the subscribe call.
func (m *Multiplexer) Subscribe(ctx context.Context, token string, payload map[string]any, callerID string, handler SubscriptionHandler, timeout time.Duration) (*Subscription, error) {
	if timeout <= 0 {
		timeout = m.cfg.RequestTimeout
	}
	c, err := m.getConn(token)
	if err != nil {
		return nil, err
	}

	sub := &Subscription{
		CallerID: callerID,
		token:    token,
		payload:  payload,
		handler:  handler,
		mux:      m,
	}

	p, err := c.request(payload, timeout, sub)
	if err != nil {
		return nil, err
	}

	select {
	case out := <-p.done:
		if out.err != nil {
			c.removeSubscription(callerID)
			return nil, out.err
		}
		return sub, nil
	case <-ctx.Done():
		c.removeSubscription(callerID)
		c.drop(p)
		return nil, ctx.Err()
	}
}

// Forget removes the subscription's local bookkeeping (caller id and
// any learned venue alias) and sends an unsubscribe frame. The local
// removal happens regardless of the venue's reply.
func (m *Multiplexer) Forget(token, id string) error {
	m.mu.Lock()
	c, ok := m.conns[token]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	sub := c.removeSubscription(id)
	if sub == nil {
		return nil
	}
	venueID := sub.VenueID
	if venueID == "" {
		venueID = sub.CallerID
	}
	p, err := c.request(map[string]any{"forget": venueID}, m.cfg.RequestTimeout, nil)
	if err != nil {
		return err
	}
	go func() {
		// The reply is irrelevant; drain it so it never logs as a stray.
		if out := <-p.done; out.err != nil && !errors.Is(out.err, ErrConnClosed) {
			muxLog.Debugf("forget %s: %v", venueID, out.err)
		}
	}()
	return nil
}

// RemoveSubscription removes local bookkeeping only, never contacting
// the venue.
func (m *Multiplexer) RemoveSubscription(token, id string) {
	m.mu.Lock()
	c, ok := m.conns[token]
	m.mu.Unlock()
	if !ok {
		return
	}
	c.removeSubscription(id)
}

// Close tears down every connection, rejecting all pending calls.
func (m *Multiplexer) Close() {
	m.mu.Lock()
	m.closed = true
	conns := make([]*conn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	for _, c := range conns {
		c.fail(ErrMuxClosed)
	}
}
