package jobs

import (
	"encoding/json"
	"time"
)

// UserWelcomePayload is enqueued in the registration transaction. Keep
// payloads minimal and ID-based; the worker loads details from the DB.
type UserWelcomePayload struct {
	UserID      string    `json:"userId"`
	Email       string    `json:"email"`
	RequestedAt time.Time `json:"requestedAt"`
	RequestID   string    `json:"requestId,omitempty"`
}

func (p UserWelcomePayload) JSON() (json.RawMessage, error) {
	b, err := json.Marshal(p)

	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

// TaskDigestPayload asks the worker to summarize a user's open tasks.
type TaskDigestPayload struct {
	UserID      string    `json:"userId"`
	Email       string    `json:"email"`
	RequestedAt time.Time `json:"requestedAt"`
	RequestID   string    `json:"requestId,omitempty"`
}

func (p TaskDigestPayload) JSON() (json.RawMessage, error) {
	b, err := json.Marshal(p)

	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}
