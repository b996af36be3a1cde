package venue

import (
	"encoding/json"
	"fmt"
)

// APIError is a venue-reported protocol error carried in an inbound
// frame's "error" object.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("venue error %s: %s", e.Code, e.Message)
}

// SubscriptionInfo is the venue-assigned identity of a stream, present
// on every message belonging to that stream.
type SubscriptionInfo struct {
	ID string `json:"id"`
}

// AuthorizeInfo carries the account identity returned by a successful
// authorize call. Used for logging only.
type AuthorizeInfo struct {
	LoginID  string  `json:"loginid"`
	Currency string  `json:"currency"`
	Balance  float64 `json:"balance"`
}

// Message is a decoded inbound venue frame. Raw retains the full frame
// so callers can decode the msg_type-specific body themselves.
type Message struct {
	MsgType      string            `json:"msg_type"`
	ReqID        int64             `json:"req_id,omitempty"`
	Error        *APIError         `json:"error,omitempty"`
	Subscription *SubscriptionInfo `json:"subscription,omitempty"`
	Authorize    *AuthorizeInfo    `json:"authorize,omitempty"`

	Raw json.RawMessage `json:"-"`
}

func decodeMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	msg.Raw = json.RawMessage(data)
	return &msg, nil
}

// Decode unmarshals the full frame into out.
func (m *Message) Decode(out any) error {
	return json.Unmarshal(m.Raw, out)
}

// Err returns the frame's error object as an error, or nil.
func (m *Message) Err() error {
	if m.Error != nil {
		return m.Error
	}
	return nil
}
