package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteSuccess(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	var received struct {
		id        string
		timestamp string
		signature string
		body      []byte
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.id = r.Header.Get(HeaderWebhookID)
		received.timestamp = r.Header.Get(HeaderTimestamp)
		received.signature = r.Header.Get(HeaderSignature)
		received.body, _ = io.ReadAll(r.Body)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := createTestWebhook(t, store, func(w *Webhook) { w.URL = srv.URL })
	d := createTestDelivery(t, store, w)

	exec := NewExecutor(store, ExecutorConfig{})
	out := exec.Execute(ctx, d.ID)

	require.True(t, out.Success)
	assert.Equal(t, http.StatusOK, out.StatusCode)
	assert.Empty(t, out.Err)
	assert.Nil(t, out.Retry)

	// The receiver can verify the signature from the raw body and headers.
	assert.Equal(t, d.EventID, received.id)
	ts, err := strconv.ParseInt(received.timestamp, 10, 64)
	require.NoError(t, err)
	assert.Equal(t, Sign(w.Secret, ts, received.body), received.signature)
	assert.Equal(t, d.Payload, received.body)

	got, err := store.GetDelivery(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, got.Status)
	assert.NotNil(t, got.DeliveredAt)
}

func TestExecuteFailureSchedulesRetry(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("upstream broke"))
	}))
	defer srv.Close()

	w := createTestWebhook(t, store, func(w *Webhook) { w.URL = srv.URL })
	d := createTestDelivery(t, store, w)

	exec := NewExecutor(store, ExecutorConfig{})
	out := exec.Execute(ctx, d.ID)

	require.False(t, out.Success)
	assert.Equal(t, http.StatusInternalServerError, out.StatusCode)
	assert.Equal(t, "HTTP 500", out.Err)
	require.NotNil(t, out.Retry, "first failure should schedule a retry")

	got, err := store.GetDelivery(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.ResponseBody)
	assert.Equal(t, "upstream broke", *got.ResponseBody)
	require.NotNil(t, got.NextRetryAt)
	assert.WithinDuration(t, time.Now().UTC().Add(time.Minute), *got.NextRetryAt, 5*time.Second)
}

func TestExecuteExhaustsAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	w := createTestWebhook(t, store, func(w *Webhook) { w.URL = srv.URL })
	d := createTestDelivery(t, store, w)

	exec := NewExecutor(store, ExecutorConfig{})

	var out Outcome
	for i := 0; i < DefaultMaxAttempts; i++ {
		out = exec.Execute(ctx, d.ID)
		require.False(t, out.Success)
	}

	assert.Nil(t, out.Retry, "last attempt must not schedule a retry")

	got, err := store.GetDelivery(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExhausted, got.Status)
	assert.Equal(t, DefaultMaxAttempts, got.Attempts)
	assert.Nil(t, got.NextRetryAt)
}

func TestExecuteTimeout(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	w := createTestWebhook(t, store, func(w *Webhook) { w.URL = srv.URL })
	d := createTestDelivery(t, store, w)

	exec := NewExecutor(store, ExecutorConfig{Timeout: 50 * time.Millisecond})
	out := exec.Execute(ctx, d.ID)

	require.False(t, out.Success)
	assert.Contains(t, out.Err, "timeout")

	got, err := store.GetDelivery(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, 1, got.Attempts)
}

func TestExecuteCapsResponseBody(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(strings.Repeat("z", MaxResponseBodyBytes*4)))
	}))
	defer srv.Close()

	w := createTestWebhook(t, store, func(w *Webhook) { w.URL = srv.URL })
	d := createTestDelivery(t, store, w)

	exec := NewExecutor(store, ExecutorConfig{})
	out := exec.Execute(ctx, d.ID)

	require.False(t, out.Success)
	assert.Len(t, out.ResponseBody, MaxResponseBodyBytes)
}

// missingWebhookStore simulates a webhook row vanishing between dispatch
// and execution.
type missingWebhookStore struct {
	Store
}

func (s *missingWebhookStore) GetWebhook(ctx context.Context, id string) (*Webhook, error) {
	return nil, ErrWebhookNotFound
}

func TestExecuteWebhookVanishedIsTerminal(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	w := createTestWebhook(t, store)
	d := createTestDelivery(t, store, w)

	exec := NewExecutor(&missingWebhookStore{Store: store}, ExecutorConfig{})
	out := exec.Execute(ctx, d.ID)

	require.False(t, out.Success)
	assert.Equal(t, ErrWebhookNotFound.Error(), out.Err)

	got, err := store.GetDelivery(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExhausted, got.Status, "no webhook means no retry can ever succeed")
	assert.Nil(t, got.NextRetryAt)
}

func TestExecuteUnknownDelivery(t *testing.T) {
	store := newTestStore(t)
	exec := NewExecutor(store, ExecutorConfig{})

	out := exec.Execute(context.Background(), "missing")
	assert.False(t, out.Success)
	assert.Equal(t, ErrDeliveryNotFound.Error(), out.Err)
}

func TestExecuteDirect(t *testing.T) {
	store := newTestStore(t)

	var received []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := validWebhook()
	w.URL = srv.URL

	env := NewEnvelope("test.ping", w.OrgID, map[string]any{"hello": "world"})
	exec := NewExecutor(store, ExecutorConfig{})
	out := exec.ExecuteDirect(context.Background(), w, env)

	require.True(t, out.Success)
	assert.Equal(t, http.StatusNoContent, out.StatusCode)

	var decoded Envelope
	require.NoError(t, json.Unmarshal(received, &decoded))
	assert.Equal(t, env.ID, decoded.ID)
	assert.Equal(t, "test.ping", decoded.Type)
	assert.Equal(t, w.OrgID, decoded.Metadata.TenantID)

	// Direct deliveries leave no audit record behind.
	deliveries, err := store.ListDeliveries(context.Background(), w.OrgID, DeliveryFilter{})
	require.NoError(t, err)
	assert.Empty(t, deliveries)
}

func TestRotatedSecretSignsRetries(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	var signatures []string
	var bodies [][]byte
	var timestamps []int64

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		ts, _ := strconv.ParseInt(r.Header.Get(HeaderTimestamp), 10, 64)
		signatures = append(signatures, r.Header.Get(HeaderSignature))
		bodies = append(bodies, body)
		timestamps = append(timestamps, ts)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	w := createTestWebhook(t, store, func(w *Webhook) { w.URL = srv.URL })
	d := createTestDelivery(t, store, w)

	exec := NewExecutor(store, ExecutorConfig{})
	exec.Execute(ctx, d.ID)

	newSecret := NewSecret()
	require.NoError(t, store.RotateSecret(ctx, w.OrgID, w.ID, newSecret))

	exec.Execute(ctx, d.ID)

	require.Len(t, signatures, 2)
	assert.Equal(t, Sign(w.Secret, timestamps[0], bodies[0]), signatures[0])
	assert.Equal(t, Sign(newSecret, timestamps[1], bodies[1]), signatures[1],
		"retry after rotation must be signed with the new secret")
	assert.Equal(t, bodies[0], bodies[1], "payload bytes never change across attempts")
}

func TestOutcomeEncodesDurationAsMillis(t *testing.T) {
	raw, err := json.Marshal(Outcome{
		Success:    true,
		StatusCode: 200,
		Duration:   1500 * time.Millisecond,
	})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, float64(1500), decoded["duration_ms"])
	assert.Equal(t, true, decoded["success"])
	assert.Equal(t, float64(200), decoded["status_code"])
}
