// Package publisher defines the event publishing contract.
package publisher

import (
	"context"
	"time"
)

// Publisher delivers an event payload to a named topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// SyncCompletedEvent is emitted after every reconciliation cycle.
type SyncCompletedEvent struct {
	CompletedAt time.Time `json:"completed_at"`
	Success     bool      `json:"success"`
	Created     int       `json:"created"`
	Updated     int       `json:"updated"`
	Errors      int       `json:"errors"`
}
