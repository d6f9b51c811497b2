package webhooks

import (
	"context"
	"time"
)

// DeliveryFilter narrows ListDeliveries results. Zero values mean "any".
type DeliveryFilter struct {
	WebhookID string
	EventType string
	Status    DeliveryStatus
	Limit     int
}

// Store is the persistence boundary of the delivery engine. The engine only
// reads webhook rows; registration writes go through the same interface so a
// standalone deployment is self-contained, but the delivery path never
// mutates webhooks.
//
// GetDelivery and GetWebhook are deliberately unscoped: workers only carry a
// delivery ID. Tenant-scoped variants exist for the management surface.
type Store interface {
	// Webhook registration and lookup.
	CreateWebhook(ctx context.Context, w *Webhook) error
	GetWebhook(ctx context.Context, id string) (*Webhook, error)
	GetWebhookScoped(ctx context.Context, orgID, id string) (*Webhook, error)
	ListWebhooks(ctx context.Context, orgID string) ([]*Webhook, error)
	UpdateWebhook(ctx context.Context, w *Webhook) error
	DeactivateWebhook(ctx context.Context, orgID, id string) error
	RotateSecret(ctx context.Context, orgID, id, newSecret string) error

	// ActiveSubscribers returns active webhooks in the org whose event
	// patterns cover eventType (including the wildcard).
	ActiveSubscribers(ctx context.Context, orgID, eventType string) ([]*Webhook, error)

	// Delivery lifecycle. MarkFailed increments attempts and transitions to
	// failed, or to exhausted when nextRetryAt is nil; attempts never exceed
	// MaxAttempts. MarkDelivered sets delivered_at and the final status code.
	CreateDelivery(ctx context.Context, d *Delivery) error
	GetDelivery(ctx context.Context, id string) (*Delivery, error)
	ListDeliveries(ctx context.Context, orgID string, f DeliveryFilter) ([]*Delivery, error)
	MarkDelivered(ctx context.Context, id string, statusCode int) error
	MarkFailed(ctx context.Context, id string, statusCode *int, responseBody *string, errMsg string, nextRetryAt *time.Time) error

	// ResetForRetry puts a failed or exhausted delivery back into the failed
	// state with an immediate next_retry_at, for manual operator retries.
	// Attempts are intentionally not reset.
	ResetForRetry(ctx context.Context, id string) error

	// DueRetries returns failed deliveries whose next_retry_at has arrived.
	// Exhausted deliveries are never returned.
	DueRetries(ctx context.Context, now time.Time) ([]*Delivery, error)

	// StaleCreated returns deliveries stuck in the created state since
	// before olderThan, covering jobs lost between dispatch and enqueue.
	StaleCreated(ctx context.Context, olderThan time.Time) ([]*Delivery, error)
}
