package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// APIVersion is stamped into every envelope's metadata.
const APIVersion = "v1"

// Headers attached to every outbound delivery request.
const (
	HeaderWebhookID = "X-Webhook-ID"
	HeaderTimestamp = "X-Webhook-Timestamp"
	HeaderSignature = "X-Webhook-Signature"
)

// Envelope is the immutable JSON structure sent as the delivery body. It is
// built once at dispatch time and re-signed on every attempt with a fresh
// timestamp; the payload bytes themselves never change.
type Envelope struct {
	ID        string           `json:"id"`
	Type      string           `json:"type"`
	CreatedAt time.Time        `json:"created_at"`
	Data      map[string]any   `json:"data"`
	Metadata  EnvelopeMetadata `json:"metadata"`
}

// EnvelopeMetadata carries tenant and versioning context for receivers.
type EnvelopeMetadata struct {
	TenantID   string `json:"tenant_id"`
	APIVersion string `json:"api_version"`
}

// NewEnvelope builds an envelope for a fresh event ID.
func NewEnvelope(eventType, orgID string, data map[string]any) *Envelope {
	return &Envelope{
		ID:        "evt_" + uuid.New().String(),
		Type:      eventType,
		CreatedAt: time.Now().UTC(),
		Data:      data,
		Metadata: EnvelopeMetadata{
			TenantID:   orgID,
			APIVersion: APIVersion,
		},
	}
}

// Sign computes the delivery signature: HMAC-SHA256 over the UTF-8 string
// "{timestamp}.{payload}", formatted as "sha256=<hex>". The signature is
// deterministic for a given (secret, timestamp, payload) triple.
func Sign(secret string, timestamp int64, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
