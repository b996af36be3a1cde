package notify

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/copybot/internal/domain"
)

var notifyLog = logrus.WithField("component", "notify")

// Webhook posts session lifecycle events to an operator-configured URL.
// Delivery is best-effort with retries; failures are logged, never
// propagated into the replication path.
type Webhook struct {
	client *resty.Client
	url    string
}

// NewWebhook builds a notifier. An empty url yields a notifier whose
// calls are no-ops.
func NewWebhook(url string) *Webhook {
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(10 * time.Second)
	return &Webhook{client: client, url: url}
}

type sessionEndedEvent struct {
	Event      string    `json:"event"`
	SessionID  string    `json:"session_id"`
	FollowerID string    `json:"follower_id"`
	MasterID   string    `json:"master_id"`
	Reason     string    `json:"reason"`
	Profit     float64   `json:"profit"`
	Operations int       `json:"operations"`
	Wins       int       `json:"wins"`
	Losses     int       `json:"losses"`
	At         time.Time `json:"at"`
}

// SessionEnded notifies that a copy session terminated and why.
func (w *Webhook) SessionEnded(ctx context.Context, sess domain.FollowerSession, reason string) {
	if w == nil || w.url == "" {
		return
	}
	event := sessionEndedEvent{
		Event:      "session_ended",
		SessionID:  sess.ID,
		FollowerID: sess.FollowerID,
		MasterID:   sess.MasterID,
		Reason:     reason,
		Profit:     sess.Profit,
		Operations: sess.Operations,
		Wins:       sess.Wins,
		Losses:     sess.Losses,
		At:         time.Now().UTC(),
	}
	go func() {
		if err := w.post(event); err != nil {
			notifyLog.Warnf("session_ended webhook failed for %s: %v", sess.ID, err)
		}
	}()
}

func (w *Webhook) post(body any) error {
	resp, err := w.client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(w.url)
	if err != nil {
		return errors.Wrap(err, "post webhook")
	}
	if resp.IsError() {
		return errors.Errorf("webhook returned %d", resp.StatusCode())
	}
	return nil
}
