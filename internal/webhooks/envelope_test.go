package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelope(t *testing.T) {
	env := NewEnvelope("user.created", "org_1", map[string]any{"plan": "pro"})

	assert.True(t, strings.HasPrefix(env.ID, "evt_"), "envelope ID should carry the evt_ prefix")
	assert.Equal(t, "user.created", env.Type)
	assert.Equal(t, "org_1", env.Metadata.TenantID)
	assert.Equal(t, APIVersion, env.Metadata.APIVersion)
	assert.Equal(t, "pro", env.Data["plan"])
	assert.False(t, env.CreatedAt.IsZero())
}

func TestSignFormat(t *testing.T) {
	sig := Sign("whsec_test", 1700000000, []byte(`{"hello":"world"}`))

	require.True(t, strings.HasPrefix(sig, "sha256="))
	hexPart := strings.TrimPrefix(sig, "sha256=")
	assert.Len(t, hexPart, 64)
	_, err := hex.DecodeString(hexPart)
	assert.NoError(t, err)
}

func TestSignMatchesReferenceComputation(t *testing.T) {
	secret := "whsec_abc123"
	ts := int64(1700000000)
	payload := []byte(`{"id":"evt_1"}`)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10) + "." + string(payload)))
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	assert.Equal(t, want, Sign(secret, ts, payload))
}

func TestSignDeterministic(t *testing.T) {
	payload := []byte(`{"a":1}`)

	first := Sign("s1", 42, payload)
	second := Sign("s1", 42, payload)
	assert.Equal(t, first, second)

	// Any input change must change the signature.
	assert.NotEqual(t, first, Sign("s2", 42, payload))
	assert.NotEqual(t, first, Sign("s1", 43, payload))
	assert.NotEqual(t, first, Sign("s1", 42, []byte(`{"a":2}`)))
}
