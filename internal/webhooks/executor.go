package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/hookmill/hookmill/internal/metrics"
)

// Outcome is the result of a single delivery attempt. Transport and store
// errors are captured here; the executor never propagates them.
type Outcome struct {
	Success      bool          `json:"success"`
	StatusCode   int           `json:"status_code,omitempty"`
	Duration     time.Duration `json:"-"`
	ResponseBody string        `json:"response_body,omitempty"`
	Retry        *time.Time    `json:"retry,omitempty"`
	Err          string        `json:"error,omitempty"`
}

// MarshalJSON reports the measured duration in milliseconds under
// duration_ms rather than as raw nanoseconds.
func (o Outcome) MarshalJSON() ([]byte, error) {
	type outcome Outcome
	return json.Marshal(struct {
		outcome
		DurationMs int64 `json:"duration_ms"`
	}{outcome(o), o.Duration.Milliseconds()})
}

// ExecutorConfig holds tunables for outbound delivery attempts.
type ExecutorConfig struct {
	// Timeout bounds a single HTTP attempt (default 10s).
	Timeout time.Duration
	// RatePerHost limits outbound requests per destination host in
	// requests per second. Zero disables rate limiting.
	RatePerHost float64
	// RateBurst is the limiter burst size (default 1 when limiting).
	RateBurst int
}

// Executor performs one signed HTTP delivery attempt and records the result
// on the delivery row. Each attempt signs the stored payload with the
// webhook's current secret and a fresh timestamp, so a rotated secret takes
// effect for in-flight retries immediately.
type Executor struct {
	store  Store
	client *http.Client
	cfg    ExecutorConfig

	limiters   map[string]*rate.Limiter
	limitersMu sync.Mutex
}

// NewExecutor creates an executor backed by the given store.
func NewExecutor(store Store, cfg ExecutorConfig) *Executor {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 1
	}

	return &Executor{
		store:    store,
		client:   &http.Client{Timeout: cfg.Timeout},
		cfg:      cfg,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Execute runs one delivery attempt for a persisted delivery. Exactly one
// outbound HTTP call and one store mutation happen per invocation, except
// when the delivery or webhook row has vanished, which is terminal.
func (e *Executor) Execute(ctx context.Context, deliveryID string) Outcome {
	d, err := e.store.GetDelivery(ctx, deliveryID)
	if err != nil {
		if errors.Is(err, ErrDeliveryNotFound) {
			log.Error().Str("delivery_id", deliveryID).Msg("Delivery vanished before execution")
			return Outcome{Err: ErrDeliveryNotFound.Error()}
		}
		log.Error().Err(err).Str("delivery_id", deliveryID).Msg("Loading delivery failed")
		return Outcome{Err: err.Error()}
	}

	w, err := e.store.GetWebhook(ctx, d.WebhookID)
	if err != nil {
		if errors.Is(err, ErrWebhookNotFound) {
			// Terminal: nothing to sign against, so no retry is scheduled.
			if markErr := e.store.MarkFailed(ctx, d.ID, nil, nil, ErrWebhookNotFound.Error(), nil); markErr != nil {
				log.Error().Err(markErr).Str("delivery_id", d.ID).Msg("Recording terminal failure failed")
			}
			metrics.RecordDelivery(d.EventType, string(StatusExhausted), 0)
			return Outcome{Err: ErrWebhookNotFound.Error()}
		}
		log.Error().Err(err).Str("delivery_id", deliveryID).Msg("Loading webhook failed")
		return Outcome{Err: err.Error()}
	}

	out := e.attempt(ctx, w, d.EventID, d.Payload)

	if out.Success {
		if err := e.store.MarkDelivered(ctx, d.ID, out.StatusCode); err != nil {
			log.Error().Err(err).Str("delivery_id", d.ID).Msg("Recording delivery success failed")
		}
		metrics.RecordDelivery(d.EventType, string(StatusDelivered), out.Duration)

		log.Info().
			Str("delivery_id", d.ID).
			Str("webhook_id", w.ID).
			Str("event_type", d.EventType).
			Int("status", out.StatusCode).
			Dur("duration", out.Duration).
			Int("attempt", d.Attempts+1).
			Msg("Webhook delivered")
		return out
	}

	out.Retry = NextRetryAt(d.Attempts+1, d.MaxAttempts, time.Now().UTC())

	var codePtr *int
	if out.StatusCode != 0 {
		codePtr = &out.StatusCode
	}
	var bodyPtr *string
	if out.ResponseBody != "" {
		bodyPtr = &out.ResponseBody
	}

	if err := e.store.MarkFailed(ctx, d.ID, codePtr, bodyPtr, out.Err, out.Retry); err != nil {
		log.Error().Err(err).Str("delivery_id", d.ID).Msg("Recording delivery failure failed")
	}

	status := StatusFailed
	if out.Retry == nil {
		status = StatusExhausted
	}
	metrics.RecordDelivery(d.EventType, string(status), out.Duration)

	evt := log.Warn().
		Str("delivery_id", d.ID).
		Str("webhook_id", w.ID).
		Str("event_type", d.EventType).
		Str("error", out.Err).
		Int("attempt", d.Attempts+1).
		Int("max_attempts", d.MaxAttempts)
	if out.Retry != nil {
		evt = evt.Time("next_retry", *out.Retry)
	}
	evt.Msg("Webhook delivery failed")

	return out
}

// ExecuteDirect performs a one-off signed delivery with no store
// interaction, for synchronous "send a test event" flows.
func (e *Executor) ExecuteDirect(ctx context.Context, w *Webhook, env *Envelope) Outcome {
	payload, err := json.Marshal(env)
	if err != nil {
		return Outcome{Err: fmt.Sprintf("encoding envelope: %v", err)}
	}
	return e.attempt(ctx, w, env.ID, payload)
}

// attempt issues the signed HTTP POST and classifies the result. The
// response body is truncated to MaxResponseBodyBytes before it leaves here.
func (e *Executor) attempt(ctx context.Context, w *Webhook, envelopeID string, payload []byte) Outcome {
	if err := e.waitForHost(ctx, w.URL); err != nil {
		return Outcome{Err: err.Error()}
	}

	ts := time.Now().Unix()
	signature := Sign(w.Secret, ts, payload)

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(payload))
	if err != nil {
		return Outcome{Err: fmt.Sprintf("creating request: %v", err)}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderWebhookID, envelopeID)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(HeaderSignature, signature)

	start := time.Now()
	resp, err := e.client.Do(req)
	duration := time.Since(start)

	if err != nil {
		msg := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			msg = "request timeout"
		}
		return Outcome{Duration: duration, Err: msg}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBodyBytes))

	out := Outcome{
		StatusCode:   resp.StatusCode,
		Duration:     duration,
		ResponseBody: string(body),
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		out.Success = true
		return out
	}

	out.Err = fmt.Sprintf("HTTP %d", resp.StatusCode)
	return out
}

// waitForHost applies the per-destination-host rate limit.
func (e *Executor) waitForHost(ctx context.Context, rawURL string) error {
	if e.cfg.RatePerHost <= 0 {
		return nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parsing destination url: %w", err)
	}

	e.limitersMu.Lock()
	limiter, ok := e.limiters[u.Host]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(e.cfg.RatePerHost), e.cfg.RateBurst)
		e.limiters[u.Host] = limiter
	}
	e.limitersMu.Unlock()

	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}
