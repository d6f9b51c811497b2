// Package webhooks implements the webhook delivery engine: event fan-out,
// signed HTTP delivery with retry scheduling, and a durable work queue.
package webhooks

import (
	"time"

	"github.com/gobwas/glob"
)

// DeliveryStatus is the lifecycle state of a Delivery.
type DeliveryStatus string

const (
	// StatusCreated means the delivery row exists but no attempt has run yet.
	StatusCreated DeliveryStatus = "created"
	// StatusDelivered means the receiver acknowledged with a 2xx response.
	StatusDelivered DeliveryStatus = "delivered"
	// StatusFailed means the last attempt failed and a retry is scheduled.
	StatusFailed DeliveryStatus = "failed"
	// StatusExhausted means all attempts failed; no further automatic retries.
	StatusExhausted DeliveryStatus = "exhausted"
)

const (
	// DefaultMaxAttempts is the fixed attempt budget per delivery.
	DefaultMaxAttempts = 7

	// MaxResponseBodyBytes caps the stored receiver response body.
	MaxResponseBodyBytes = 1024

	// EventWildcard subscribes a webhook to every event type.
	EventWildcard = "*"
)

// Webhook is a tenant's subscription configuration. Secrets are write-only:
// they are surfaced to the caller only at creation and rotation time.
type Webhook struct {
	ID          string    `json:"id"`
	OrgID       string    `json:"org_id"`
	URL         string    `json:"url"`
	Secret      string    `json:"-"`
	Events      []string  `json:"events"`
	Filter      string    `json:"filter,omitempty"`
	Active      bool      `json:"active"`
	Description string    `json:"description,omitempty"`
	CreatedBy   string    `json:"created_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Subscribes reports whether the webhook's event patterns cover eventType.
// Patterns are matched as dot-separated globs, so "user.*" covers
// "user.created", and the bare wildcard covers everything.
func (w *Webhook) Subscribes(eventType string) bool {
	for _, pattern := range w.Events {
		if pattern == EventWildcard || pattern == eventType {
			return true
		}
		g, err := glob.Compile(pattern, '.')
		if err != nil {
			continue
		}
		if g.Match(eventType) {
			return true
		}
	}
	return false
}

// Delivery is one attempted-or-pending notification of one event to one
// webhook. Rows are append-only audit records and are never deleted by the
// engine. OrgID is denormalized from the webhook so store operations can
// assert tenant scope even though workers only carry a delivery ID.
type Delivery struct {
	ID           string         `json:"id"`
	OrgID        string         `json:"org_id"`
	WebhookID    string         `json:"webhook_id"`
	EventID      string         `json:"event_id"`
	EventType    string         `json:"event_type"`
	Payload      []byte         `json:"payload"`
	Status       DeliveryStatus `json:"status"`
	StatusCode   *int           `json:"status_code,omitempty"`
	ResponseBody *string        `json:"response_body,omitempty"`
	Error        *string        `json:"error,omitempty"`
	Attempts     int            `json:"attempts"`
	MaxAttempts  int            `json:"max_attempts"`
	NextRetryAt  *time.Time     `json:"next_retry_at,omitempty"`
	DeliveredAt  *time.Time     `json:"delivered_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Retryable reports whether a manual retry is allowed for the delivery.
func (d *Delivery) Retryable() bool {
	return d.Status == StatusFailed || d.Status == StatusExhausted
}
