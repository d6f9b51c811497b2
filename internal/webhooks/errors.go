package webhooks

import "errors"

var (
	// ErrWebhookNotFound is returned when a webhook row does not exist.
	ErrWebhookNotFound = errors.New("webhook not found")
	// ErrDeliveryNotFound is returned when a delivery row does not exist.
	ErrDeliveryNotFound = errors.New("delivery not found")
	// ErrInvalidURLScheme is returned for webhook URLs that are not https.
	ErrInvalidURLScheme = errors.New("webhook url must use https")
	// ErrInvalidEventType is returned for empty or unparsable event patterns.
	ErrInvalidEventType = errors.New("invalid event type pattern")
	// ErrInvalidFilter is returned when a payload filter fails to compile.
	ErrInvalidFilter = errors.New("invalid filter expression")
	// ErrRetryNotAllowed is returned when a manual retry is requested for a
	// delivery that is not in a failed or exhausted state.
	ErrRetryNotAllowed = errors.New("delivery is not retryable")
)
