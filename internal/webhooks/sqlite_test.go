package webhooks

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookmill/hookmill/internal/config"
	"github.com/hookmill/hookmill/internal/database"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()

	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "test.db")

	db, err := database.Open(&cfg.Database)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return db
}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	return NewSQLiteStore(newTestDB(t))
}

func createTestWebhook(t *testing.T, store *SQLiteStore, mutate ...func(*Webhook)) *Webhook {
	t.Helper()

	w := validWebhook()
	for _, fn := range mutate {
		fn(w)
	}
	require.NoError(t, store.CreateWebhook(context.Background(), w))
	return w
}

func createTestDelivery(t *testing.T, store *SQLiteStore, w *Webhook) *Delivery {
	t.Helper()

	d := &Delivery{
		OrgID:     w.OrgID,
		WebhookID: w.ID,
		EventID:   "evt_test",
		EventType: "user.created",
		Payload:   []byte(`{"id":"evt_test"}`),
	}
	require.NoError(t, store.CreateDelivery(context.Background(), d))
	return d
}

func TestWebhookCRUD(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	w := createTestWebhook(t, store)
	assert.NotEmpty(t, w.ID)

	got, err := store.GetWebhook(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, w.URL, got.URL)
	assert.Equal(t, w.Events, got.Events)
	assert.Equal(t, w.Secret, got.Secret)
	assert.True(t, got.Active)

	got.Description = "updated"
	got.Events = []string{"order.*"}
	require.NoError(t, store.UpdateWebhook(ctx, got))

	got, err = store.GetWebhook(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, "updated", got.Description)
	assert.Equal(t, []string{"order.*"}, got.Events)

	list, err := store.ListWebhooks(ctx, w.OrgID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, store.DeactivateWebhook(ctx, w.OrgID, w.ID))
	got, err = store.GetWebhook(ctx, w.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
}

func TestWebhookScoping(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	w := createTestWebhook(t, store)

	_, err := store.GetWebhookScoped(ctx, "other_org", w.ID)
	assert.ErrorIs(t, err, ErrWebhookNotFound)

	err = store.DeactivateWebhook(ctx, "other_org", w.ID)
	assert.ErrorIs(t, err, ErrWebhookNotFound)

	err = store.RotateSecret(ctx, "other_org", w.ID, NewSecret())
	assert.ErrorIs(t, err, ErrWebhookNotFound)
}

func TestRotateSecret(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	w := createTestWebhook(t, store)
	newSecret := NewSecret()
	require.NoError(t, store.RotateSecret(ctx, w.OrgID, w.ID, newSecret))

	got, err := store.GetWebhook(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, newSecret, got.Secret)
}

func TestActiveSubscribers(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	userHook := createTestWebhook(t, store, func(w *Webhook) { w.Events = []string{"user.*"} })
	createTestWebhook(t, store, func(w *Webhook) { w.Events = []string{"order.*"} })
	wildcard := createTestWebhook(t, store, func(w *Webhook) { w.Events = []string{"*"} })
	inactive := createTestWebhook(t, store, func(w *Webhook) { w.Events = []string{"user.*"} })
	require.NoError(t, store.DeactivateWebhook(ctx, inactive.OrgID, inactive.ID))

	subs, err := store.ActiveSubscribers(ctx, userHook.OrgID, "user.created")
	require.NoError(t, err)

	ids := make([]string, 0, len(subs))
	for _, s := range subs {
		ids = append(ids, s.ID)
	}
	assert.ElementsMatch(t, []string{userHook.ID, wildcard.ID}, ids)
}

func TestDeliveryLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	w := createTestWebhook(t, store)
	d := createTestDelivery(t, store, w)

	assert.Equal(t, StatusCreated, d.Status)
	assert.Equal(t, DefaultMaxAttempts, d.MaxAttempts)
	assert.Equal(t, w.OrgID, d.OrgID)

	require.NoError(t, store.MarkDelivered(ctx, d.ID, 200))

	got, err := store.GetDelivery(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, got.Status)
	require.NotNil(t, got.StatusCode)
	assert.Equal(t, 200, *got.StatusCode)
	assert.NotNil(t, got.DeliveredAt)
	assert.Nil(t, got.Error)
}

func TestMarkFailedSchedulesRetry(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	w := createTestWebhook(t, store)
	d := createTestDelivery(t, store, w)

	code := 500
	body := "upstream broke"
	retryAt := time.Now().UTC().Add(time.Minute)
	require.NoError(t, store.MarkFailed(ctx, d.ID, &code, &body, "HTTP 500", &retryAt))

	got, err := store.GetDelivery(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.StatusCode)
	assert.Equal(t, 500, *got.StatusCode)
	require.NotNil(t, got.ResponseBody)
	assert.Equal(t, body, *got.ResponseBody)
	require.NotNil(t, got.Error)
	assert.Equal(t, "HTTP 500", *got.Error)
	require.NotNil(t, got.NextRetryAt)
	assert.WithinDuration(t, retryAt, *got.NextRetryAt, time.Second)
}

func TestMarkFailedExhaustion(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	w := createTestWebhook(t, store)
	d := createTestDelivery(t, store, w)

	// A nil retry time means no further attempts: exhausted.
	require.NoError(t, store.MarkFailed(ctx, d.ID, nil, nil, "connection refused", nil))

	got, err := store.GetDelivery(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExhausted, got.Status)
	assert.Nil(t, got.NextRetryAt)
	assert.Nil(t, got.StatusCode)
}

func TestMarkFailedClearsDeliveredAt(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	w := createTestWebhook(t, store)
	d := createTestDelivery(t, store, w)

	// Duplicate-execution race: one worker succeeds, another fails the same
	// delivery afterwards. delivered_at must not survive onto the failed row.
	require.NoError(t, store.MarkDelivered(ctx, d.ID, 200))

	retryAt := time.Now().UTC().Add(time.Minute)
	require.NoError(t, store.MarkFailed(ctx, d.ID, nil, nil, "HTTP 500", &retryAt))

	got, err := store.GetDelivery(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Nil(t, got.DeliveredAt)
}

func TestMarkFailedClampsAttempts(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	w := createTestWebhook(t, store)
	d := createTestDelivery(t, store, w)

	for i := 0; i < DefaultMaxAttempts+3; i++ {
		require.NoError(t, store.MarkFailed(ctx, d.ID, nil, nil, "boom", nil))
	}

	got, err := store.GetDelivery(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxAttempts, got.Attempts, "attempts must never exceed max_attempts")
}

func TestMarkFailedTruncatesResponseBody(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	w := createTestWebhook(t, store)
	d := createTestDelivery(t, store, w)

	huge := make([]byte, MaxResponseBodyBytes*3)
	for i := range huge {
		huge[i] = 'x'
	}
	body := string(huge)
	require.NoError(t, store.MarkFailed(ctx, d.ID, nil, &body, "HTTP 500", nil))

	got, err := store.GetDelivery(ctx, d.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ResponseBody)
	assert.Len(t, *got.ResponseBody, MaxResponseBodyBytes)
}

func TestResetForRetry(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	w := createTestWebhook(t, store)

	t.Run("created not retryable", func(t *testing.T) {
		d := createTestDelivery(t, store, w)
		assert.ErrorIs(t, store.ResetForRetry(ctx, d.ID), ErrRetryNotAllowed)
	})

	t.Run("delivered not retryable", func(t *testing.T) {
		d := createTestDelivery(t, store, w)
		require.NoError(t, store.MarkDelivered(ctx, d.ID, 200))
		assert.ErrorIs(t, store.ResetForRetry(ctx, d.ID), ErrRetryNotAllowed)
	})

	t.Run("exhausted keeps attempts", func(t *testing.T) {
		d := createTestDelivery(t, store, w)
		for i := 0; i < DefaultMaxAttempts; i++ {
			require.NoError(t, store.MarkFailed(ctx, d.ID, nil, nil, "boom", nil))
		}

		require.NoError(t, store.ResetForRetry(ctx, d.ID))

		got, err := store.GetDelivery(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, got.Status)
		assert.Equal(t, DefaultMaxAttempts, got.Attempts, "manual retry must not reset attempts")
		require.NotNil(t, got.NextRetryAt)
		assert.False(t, got.NextRetryAt.After(time.Now().UTC().Add(time.Second)))
	})

	t.Run("unknown delivery", func(t *testing.T) {
		assert.ErrorIs(t, store.ResetForRetry(ctx, "nope"), ErrDeliveryNotFound)
	})
}

func TestDueRetries(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	w := createTestWebhook(t, store)
	now := time.Now().UTC()

	past := createTestDelivery(t, store, w)
	pastAt := now.Add(-time.Minute)
	require.NoError(t, store.MarkFailed(ctx, past.ID, nil, nil, "boom", &pastAt))

	future := createTestDelivery(t, store, w)
	futureAt := now.Add(time.Hour)
	require.NoError(t, store.MarkFailed(ctx, future.ID, nil, nil, "boom", &futureAt))

	exhausted := createTestDelivery(t, store, w)
	require.NoError(t, store.MarkFailed(ctx, exhausted.ID, nil, nil, "boom", nil))

	due, err := store.DueRetries(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, past.ID, due[0].ID)
}

func TestStaleCreated(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	w := createTestWebhook(t, store)

	old := createTestDelivery(t, store, w)
	fresh := createTestDelivery(t, store, w)
	_ = fresh

	// Only rows created before the cutoff count as stale.
	stale, err := store.StaleCreated(ctx, time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, stale, 2)

	stale, err = store.StaleCreated(ctx, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, stale)

	require.NoError(t, store.MarkDelivered(ctx, old.ID, 200))
	stale, err = store.StaleCreated(ctx, time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, stale, 1)
}

func TestListDeliveriesFilters(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	w1 := createTestWebhook(t, store)
	w2 := createTestWebhook(t, store)

	d1 := createTestDelivery(t, store, w1)
	d2 := createTestDelivery(t, store, w2)
	require.NoError(t, store.MarkDelivered(ctx, d2.ID, 200))

	all, err := store.ListDeliveries(ctx, w1.OrgID, DeliveryFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	byHook, err := store.ListDeliveries(ctx, w1.OrgID, DeliveryFilter{WebhookID: w1.ID})
	require.NoError(t, err)
	require.Len(t, byHook, 1)
	assert.Equal(t, d1.ID, byHook[0].ID)

	byStatus, err := store.ListDeliveries(ctx, w1.OrgID, DeliveryFilter{Status: StatusDelivered})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, d2.ID, byStatus[0].ID)

	otherOrg, err := store.ListDeliveries(ctx, "other_org", DeliveryFilter{})
	require.NoError(t, err)
	assert.Empty(t, otherOrg)
}

func TestGetDeliveryNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetDelivery(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrDeliveryNotFound)

	_, err = store.GetWebhook(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrWebhookNotFound)
}
