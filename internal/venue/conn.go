package venue

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var connLog = logrus.WithField("component", "venue_conn")

// conn owns one live socket for one credential token. Outbound traffic
// other than the authorize frame is buffered until authorization
// succeeds. All bookkeeping mutation is guarded by mu; the socket
// writer is guarded separately by writeMu (gorilla allows one
// concurrent writer).
type conn struct {
	token string
	ws    *websocket.Conn
	mux   *Multiplexer

	writeMu sync.Mutex

	mu         sync.Mutex
	authorized bool
	closed     bool
	nextReqID  int64
	authReqID  int64
	queue      []*pendingRequest         // FIFO, buffered until authorized
	pending    map[int64]*pendingRequest // sent or queued, keyed by req_id
	subs       map[string]*Subscription  // caller id -> subscription
	subAlias   map[string]string         // venue id -> caller id
	subByReq   map[int64]*Subscription   // req_id -> subscription
}

func newConn(mux *Multiplexer, token string, ws *websocket.Conn) *conn {
	return &conn{
		token:    token,
		ws:       ws,
		mux:      mux,
		pending:  make(map[int64]*pendingRequest),
		subs:     make(map[string]*Subscription),
		subAlias: make(map[string]string),
		subByReq: make(map[int64]*Subscription),
	}
}

// start sends the authorize frame immediately (bypassing the queue)
// and begins reading. A rejected authorization fails the entire
// buffered queue and tears the connection down.
func (c *conn) start() error {
	c.mu.Lock()
	c.nextReqID++
	reqID := c.nextReqID
	c.authReqID = reqID
	auth := newPendingRequest(reqID, map[string]any{"authorize": c.token, "req_id": reqID})
	auth.sent = true
	c.pending[reqID] = auth
	c.mu.Unlock()

	if err := c.write(auth.payload); err != nil {
		c.fail(fmt.Errorf("send authorize: %w", err))
		return err
	}

	go c.readLoop()
	go c.awaitAuthorize(auth)
	return nil
}

func (c *conn) awaitAuthorize(auth *pendingRequest) {
	out := <-auth.done
	if out.err != nil {
		connLog.WithField("token_tail", tokenTail(c.token)).Warnf("authorization rejected: %v", out.err)
		c.fail(fmt.Errorf("authorization rejected: %w", out.err))
		return
	}
	if out.msg.Authorize != nil {
		connLog.Infof("authorized loginid=%s currency=%s", out.msg.Authorize.LoginID, out.msg.Authorize.Currency)
	}
	c.flushQueue()
}

// flushQueue delivers everything buffered before authorization, in
// original submission order.
func (c *conn) flushQueue() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.authorized = true
	queued := c.queue
	c.queue = nil
	for _, p := range queued {
		p.sent = true
	}
	c.mu.Unlock()

	for _, p := range queued {
		if err := c.write(p.payload); err != nil {
			c.fail(fmt.Errorf("flush queued request: %w", err))
			return
		}
	}
}

// request registers a correlatable one-shot call. Queued until the
// connection is authorized, written immediately afterwards. When sub
// is non-nil it is registered in the same critical section, before the
// frame can hit the wire.
func (c *conn) request(payload map[string]any, timeout time.Duration, sub *Subscription) (*pendingRequest, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrConnClosed
	}
	c.nextReqID++
	reqID := c.nextReqID

	body := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		body[k] = v
	}
	body["req_id"] = reqID

	p := newPendingRequest(reqID, body)
	c.pending[reqID] = p
	if sub != nil {
		sub.reqID = reqID
		c.subs[sub.CallerID] = sub
		c.subByReq[reqID] = sub
	}
	writeNow := c.authorized
	if writeNow {
		p.sent = true
	} else {
		c.queue = append(c.queue, p)
	}
	if timeout > 0 {
		p.timer = time.AfterFunc(timeout, func() { c.expire(p) })
	}
	c.mu.Unlock()

	if writeNow {
		if err := c.write(body); err != nil {
			c.fail(fmt.Errorf("write request: %w", err))
			return nil, err
		}
	}
	return p, nil
}

// expire fires on the client-side timeout. Cancellation is purely
// local: no cancel frame is sent, and a late venue answer becomes an
// unmatched stray.
func (c *conn) expire(p *pendingRequest) {
	if !c.drop(p) {
		return
	}
	p.resolve(nil, ErrTimeout)
}

// drop removes a request from bookkeeping, reporting whether the
// caller now owns its resolution.
func (c *conn) drop(p *pendingRequest) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[p.reqID]; !ok {
		return false
	}
	delete(c.pending, p.reqID)
	for i, q := range c.queue {
		if q == p {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			break
		}
	}
	return true
}

func (c *conn) write(payload any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.mux.cfg.WriteTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.mux.cfg.WriteTimeout))
	}
	return c.ws.WriteJSON(payload)
}

func (c *conn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.fail(fmt.Errorf("socket read: %w", err))
			return
		}
		msg, err := decodeMessage(data)
		if err != nil {
			connLog.Warnf("unparsable venue frame (len=%d): %v", len(data), err)
			continue
		}
		c.route(msg)
	}
}

// route matches an inbound frame to its pending request by req_id,
// else to a subscription by venue id or originating req_id, else logs
// it as a stray.
func (c *conn) route(msg *Message) {
	var (
		p   *pendingRequest
		sub *Subscription
	)

	c.mu.Lock()
	if msg.ReqID != 0 {
		if match, ok := c.pending[msg.ReqID]; ok {
			p = match
			delete(c.pending, msg.ReqID)
		}
		if s, ok := c.subByReq[msg.ReqID]; ok {
			sub = s
		}
	}
	if sub == nil && msg.Subscription != nil {
		if callerID, ok := c.subAlias[msg.Subscription.ID]; ok {
			sub = c.subs[callerID]
		}
	}
	// Learn the venue-assigned id the first time it appears and alias
	// it against the caller id.
	if sub != nil && msg.Subscription != nil && sub.VenueID == "" {
		sub.VenueID = msg.Subscription.ID
		c.subAlias[msg.Subscription.ID] = sub.CallerID
	}
	c.mu.Unlock()

	if p != nil {
		if msg.Error != nil {
			p.resolve(nil, msg.Error)
		} else {
			p.resolve(msg, nil)
		}
	}
	if sub != nil {
		sub.handler(msg)
		return
	}
	if p == nil {
		connLog.WithFields(logrus.Fields{
			"msg_type": msg.MsgType,
			"req_id":   msg.ReqID,
		}).Warn("stray venue message dropped")
	}
}

// removeSubscription deletes local bookkeeping for the caller id or a
// learned venue alias. Returns the subscription, if any.
func (c *conn) removeSubscription(id string) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	callerID := id
	if aliased, ok := c.subAlias[id]; ok {
		callerID = aliased
	}
	sub, ok := c.subs[callerID]
	if !ok {
		return nil
	}
	delete(c.subs, callerID)
	delete(c.subByReq, sub.reqID)
	if sub.VenueID != "" {
		delete(c.subAlias, sub.VenueID)
	}
	return sub
}

// fail tears the connection down: every queued and in-flight request
// is rejected exactly once, the subscription registry is cleared, and
// the connection entry is removed so the next call opens a fresh one.
func (c *conn) fail(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	rejected := make([]*pendingRequest, 0, len(c.pending))
	for _, p := range c.pending {
		rejected = append(rejected, p)
	}
	c.pending = make(map[int64]*pendingRequest)
	c.queue = nil
	c.subs = make(map[string]*Subscription)
	c.subAlias = make(map[string]string)
	c.subByReq = make(map[int64]*Subscription)
	c.mu.Unlock()

	c.mux.removeConn(c.token, c)
	_ = c.ws.Close()

	for _, p := range rejected {
		p.resolve(nil, fmt.Errorf("%w: %v", ErrConnClosed, cause))
	}
	connLog.WithField("token_tail", tokenTail(c.token)).Infof("connection torn down: %v", cause)
}

// tokenTail keeps credentials out of logs.
func tokenTail(token string) string {
	if len(token) <= 4 {
		return "****"
	}
	return "..." + token[len(token)-4:]
}
