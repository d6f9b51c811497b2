package webhooks

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hookmill/hookmill/internal/database"
)

// SQLiteStore implements Store on top of the embedded SQLite database.
type SQLiteStore struct {
	db *database.DB
}

// NewSQLiteStore creates a SQLite-backed delivery store.
func NewSQLiteStore(db *database.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

var _ Store = (*SQLiteStore)(nil)

func (s *SQLiteStore) CreateWebhook(ctx context.Context, w *Webhook) error {
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	w.UpdatedAt = now

	eventsJSON, err := json.Marshal(w.Events)
	if err != nil {
		return fmt.Errorf("marshaling events: %w", err)
	}

	query := `
		INSERT INTO webhooks (id, org_id, url, secret, events, filter, active, description, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		w.ID,
		w.OrgID,
		w.URL,
		w.Secret,
		string(eventsJSON),
		w.Filter,
		boolToInt(w.Active),
		w.Description,
		w.CreatedBy,
		w.CreatedAt.Format(time.RFC3339),
		w.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting webhook: %w", database.ClassifyError(err))
	}

	return nil
}

func (s *SQLiteStore) GetWebhook(ctx context.Context, id string) (*Webhook, error) {
	row := s.db.QueryRowContext(ctx, selectWebhook+` WHERE id = ?`, id)
	return scanWebhookRow(row)
}

func (s *SQLiteStore) GetWebhookScoped(ctx context.Context, orgID, id string) (*Webhook, error) {
	row := s.db.QueryRowContext(ctx, selectWebhook+` WHERE id = ? AND org_id = ?`, id, orgID)
	return scanWebhookRow(row)
}

func (s *SQLiteStore) ListWebhooks(ctx context.Context, orgID string) ([]*Webhook, error) {
	rows, err := s.db.QueryContext(ctx, selectWebhook+` WHERE org_id = ? ORDER BY created_at ASC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("querying webhooks: %w", err)
	}
	defer rows.Close()

	return scanWebhooks(rows)
}

func (s *SQLiteStore) UpdateWebhook(ctx context.Context, w *Webhook) error {
	eventsJSON, err := json.Marshal(w.Events)
	if err != nil {
		return fmt.Errorf("marshaling events: %w", err)
	}

	w.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE webhooks
		SET url = ?, events = ?, filter = ?, active = ?, description = ?, updated_at = ?
		WHERE id = ? AND org_id = ?
	`

	res, err := s.db.ExecContext(ctx, query,
		w.URL,
		string(eventsJSON),
		w.Filter,
		boolToInt(w.Active),
		w.Description,
		w.UpdatedAt.Format(time.RFC3339),
		w.ID,
		w.OrgID,
	)
	if err != nil {
		return fmt.Errorf("updating webhook: %w", err)
	}

	return requireRow(res, ErrWebhookNotFound)
}

func (s *SQLiteStore) DeactivateWebhook(ctx context.Context, orgID, id string) error {
	query := `UPDATE webhooks SET active = 0, updated_at = ? WHERE id = ? AND org_id = ?`

	res, err := s.db.ExecContext(ctx, query, database.Now(), id, orgID)
	if err != nil {
		return fmt.Errorf("deactivating webhook: %w", err)
	}

	return requireRow(res, ErrWebhookNotFound)
}

func (s *SQLiteStore) RotateSecret(ctx context.Context, orgID, id, newSecret string) error {
	query := `UPDATE webhooks SET secret = ?, updated_at = ? WHERE id = ? AND org_id = ?`

	res, err := s.db.ExecContext(ctx, query, newSecret, database.Now(), id, orgID)
	if err != nil {
		return fmt.Errorf("rotating webhook secret: %w", err)
	}

	return requireRow(res, ErrWebhookNotFound)
}

// ActiveSubscribers loads active webhooks for the org and matches event
// patterns in Go; glob patterns cannot be pushed into SQL.
func (s *SQLiteStore) ActiveSubscribers(ctx context.Context, orgID, eventType string) ([]*Webhook, error) {
	rows, err := s.db.QueryContext(ctx, selectWebhook+` WHERE org_id = ? AND active = 1`, orgID)
	if err != nil {
		return nil, fmt.Errorf("querying subscribers: %w", err)
	}
	defer rows.Close()

	hooks, err := scanWebhooks(rows)
	if err != nil {
		return nil, err
	}

	var matched []*Webhook
	for _, w := range hooks {
		if w.Subscribes(eventType) {
			matched = append(matched, w)
		}
	}
	return matched, nil
}

func (s *SQLiteStore) CreateDelivery(ctx context.Context, d *Delivery) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.Status == "" {
		d.Status = StatusCreated
	}
	if d.MaxAttempts == 0 {
		d.MaxAttempts = DefaultMaxAttempts
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO deliveries (id, org_id, webhook_id, event_id, event_type, payload, status, attempts, max_attempts, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		d.ID,
		d.OrgID,
		d.WebhookID,
		d.EventID,
		d.EventType,
		string(d.Payload),
		string(d.Status),
		d.Attempts,
		d.MaxAttempts,
		d.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting delivery: %w", database.ClassifyError(err))
	}

	return nil
}

func (s *SQLiteStore) GetDelivery(ctx context.Context, id string) (*Delivery, error) {
	row := s.db.QueryRowContext(ctx, selectDelivery+` WHERE id = ?`, id)
	return scanDeliveryRow(row)
}

func (s *SQLiteStore) ListDeliveries(ctx context.Context, orgID string, f DeliveryFilter) ([]*Delivery, error) {
	query := selectDelivery + ` WHERE org_id = ?`
	args := []any{orgID}

	if f.WebhookID != "" {
		query += ` AND webhook_id = ?`
		args = append(args, f.WebhookID)
	}
	if f.EventType != "" {
		query += ` AND event_type = ?`
		args = append(args, f.EventType)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}

	query += ` ORDER BY created_at DESC`

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying deliveries: %w", err)
	}
	defer rows.Close()

	return scanDeliveries(rows)
}

func (s *SQLiteStore) MarkDelivered(ctx context.Context, id string, statusCode int) error {
	query := `
		UPDATE deliveries
		SET status = ?, status_code = ?, delivered_at = ?, error = NULL
		WHERE id = ?
	`

	res, err := s.db.ExecContext(ctx, query, string(StatusDelivered), statusCode, database.Now(), id)
	if err != nil {
		return fmt.Errorf("marking delivery succeeded: %w", err)
	}

	return requireRow(res, ErrDeliveryNotFound)
}

func (s *SQLiteStore) MarkFailed(ctx context.Context, id string, statusCode *int, responseBody *string, errMsg string, nextRetryAt *time.Time) error {
	status := StatusFailed
	var nextRetry any
	if nextRetryAt != nil {
		nextRetry = nextRetryAt.UTC().Format(time.RFC3339)
	} else {
		status = StatusExhausted
	}

	var code any
	if statusCode != nil {
		code = *statusCode
	}

	var body any
	if responseBody != nil {
		body = truncate(*responseBody, MaxResponseBodyBytes)
	}

	// MIN keeps the attempts <= max_attempts invariant even when a manual
	// retry re-fails an already exhausted delivery. delivered_at is cleared
	// so a duplicate job failing after a concurrent success cannot leave a
	// failed row that still claims a delivery time.
	query := `
		UPDATE deliveries
		SET attempts = MIN(attempts + 1, max_attempts),
		    status = ?, status_code = ?, response_body = ?, error = ?, next_retry_at = ?,
		    delivered_at = NULL
		WHERE id = ?
	`

	res, err := s.db.ExecContext(ctx, query, string(status), code, body, errMsg, nextRetry, id)
	if err != nil {
		return fmt.Errorf("marking delivery failed: %w", err)
	}

	return requireRow(res, ErrDeliveryNotFound)
}

func (s *SQLiteStore) ResetForRetry(ctx context.Context, id string) error {
	query := `
		UPDATE deliveries
		SET status = ?, next_retry_at = ?
		WHERE id = ? AND status IN (?, ?)
	`

	res, err := s.db.ExecContext(ctx, query,
		string(StatusFailed),
		database.Now(),
		id,
		string(StatusFailed),
		string(StatusExhausted),
	)
	if err != nil {
		return fmt.Errorf("resetting delivery for retry: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		if _, getErr := s.GetDelivery(ctx, id); getErr != nil {
			return getErr
		}
		return ErrRetryNotAllowed
	}
	return nil
}

func (s *SQLiteStore) DueRetries(ctx context.Context, now time.Time) ([]*Delivery, error) {
	query := selectDelivery + `
		WHERE status = ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?
		ORDER BY next_retry_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, string(StatusFailed), now.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("querying due retries: %w", err)
	}
	defer rows.Close()

	return scanDeliveries(rows)
}

func (s *SQLiteStore) StaleCreated(ctx context.Context, olderThan time.Time) ([]*Delivery, error) {
	query := selectDelivery + `
		WHERE status = ? AND created_at <= ?
		ORDER BY created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, string(StatusCreated), olderThan.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("querying stale deliveries: %w", err)
	}
	defer rows.Close()

	return scanDeliveries(rows)
}

const selectWebhook = `
	SELECT id, org_id, url, secret, events, filter, active, description, created_by, created_at, updated_at
	FROM webhooks`

const selectDelivery = `
	SELECT id, org_id, webhook_id, event_id, event_type, payload, status, status_code, response_body, error,
	       attempts, max_attempts, next_retry_at, delivered_at, created_at
	FROM deliveries`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWebhook(sc rowScanner) (*Webhook, error) {
	var w Webhook
	var eventsJSON string
	var filter, description, createdBy sql.NullString
	var active int
	var createdAt, updatedAt string

	err := sc.Scan(
		&w.ID,
		&w.OrgID,
		&w.URL,
		&w.Secret,
		&eventsJSON,
		&filter,
		&active,
		&description,
		&createdBy,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(eventsJSON), &w.Events); err != nil {
		return nil, fmt.Errorf("unmarshaling events: %w", err)
	}

	w.Filter = filter.String
	w.Description = description.String
	w.CreatedBy = createdBy.String
	w.Active = active == 1

	if w.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if w.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &w, nil
}

func scanWebhookRow(row *sql.Row) (*Webhook, error) {
	w, err := scanWebhook(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrWebhookNotFound
		}
		return nil, fmt.Errorf("getting webhook: %w", err)
	}
	return w, nil
}

func scanWebhooks(rows *sql.Rows) ([]*Webhook, error) {
	var hooks []*Webhook
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning webhook row: %w", err)
		}
		hooks = append(hooks, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating webhook rows: %w", err)
	}
	return hooks, nil
}

func scanDelivery(sc rowScanner) (*Delivery, error) {
	var d Delivery
	var payload string
	var status string
	var statusCode sql.NullInt64
	var responseBody, errMsg, nextRetryAt, deliveredAt sql.NullString
	var createdAt string

	err := sc.Scan(
		&d.ID,
		&d.OrgID,
		&d.WebhookID,
		&d.EventID,
		&d.EventType,
		&payload,
		&status,
		&statusCode,
		&responseBody,
		&errMsg,
		&d.Attempts,
		&d.MaxAttempts,
		&nextRetryAt,
		&deliveredAt,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	d.Payload = []byte(payload)
	d.Status = DeliveryStatus(status)

	if statusCode.Valid {
		code := int(statusCode.Int64)
		d.StatusCode = &code
	}
	if responseBody.Valid {
		body := responseBody.String
		d.ResponseBody = &body
	}
	if errMsg.Valid && errMsg.String != "" {
		msg := errMsg.String
		d.Error = &msg
	}
	if nextRetryAt.Valid {
		t, parseErr := time.Parse(time.RFC3339, nextRetryAt.String)
		if parseErr != nil {
			return nil, fmt.Errorf("parsing next_retry_at: %w", parseErr)
		}
		d.NextRetryAt = &t
	}
	if deliveredAt.Valid {
		t, parseErr := time.Parse(time.RFC3339, deliveredAt.String)
		if parseErr != nil {
			return nil, fmt.Errorf("parsing delivered_at: %w", parseErr)
		}
		d.DeliveredAt = &t
	}
	if d.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &d, nil
}

func scanDeliveryRow(row *sql.Row) (*Delivery, error) {
	d, err := scanDelivery(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeliveryNotFound
		}
		return nil, fmt.Errorf("getting delivery: %w", err)
	}
	return d, nil
}

func scanDeliveries(rows *sql.Rows) ([]*Delivery, error) {
	var deliveries []*Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning delivery row: %w", err)
		}
		deliveries = append(deliveries, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating delivery rows: %w", err)
	}
	return deliveries, nil
}

func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
