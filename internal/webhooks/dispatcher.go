package webhooks

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/hookmill/hookmill/internal/metrics"
)

// EventInput is one event submitted for dispatch.
type EventInput struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// Dispatcher fans an event out to every matching webhook in the org: one
// persisted Delivery plus one queued job per subscriber.
type Dispatcher struct {
	store   Store
	queue   *Queue
	filters *FilterEngine
}

// NewDispatcher creates a dispatcher over the given store and queue.
func NewDispatcher(store Store, queue *Queue, filters *FilterEngine) *Dispatcher {
	return &Dispatcher{store: store, queue: queue, filters: filters}
}

// Dispatch creates deliveries for every active subscriber of eventType in
// the org and returns the created delivery IDs. Each subscriber gets its own
// envelope with a fresh event ID, so a receiver can deduplicate per webhook.
// Dispatch never returns an error: emitting an event must not fail the
// caller's own transaction, so every problem is logged and the affected
// webhook skipped. A webhook whose filter cannot be evaluated still receives
// the event.
func (dp *Dispatcher) Dispatch(ctx context.Context, orgID, eventType string, data map[string]any) []string {
	subs, err := dp.store.ActiveSubscribers(ctx, orgID, eventType)
	if err != nil {
		log.Error().
			Err(err).
			Str("org_id", orgID).
			Str("event_type", eventType).
			Msg("Loading event subscribers failed")
		return nil
	}

	var ids []string
	for _, w := range subs {
		if w.Filter != "" {
			matched, err := dp.filters.Match(w.Filter, eventType, data)
			if err != nil {
				// Fail open: a broken filter must not silently drop events.
				log.Warn().
					Err(err).
					Str("webhook_id", w.ID).
					Str("event_type", eventType).
					Msg("Filter evaluation failed, delivering anyway")
			} else if !matched {
				continue
			}
		}

		env := NewEnvelope(eventType, orgID, data)
		payload, err := json.Marshal(env)
		if err != nil {
			log.Error().
				Err(err).
				Str("webhook_id", w.ID).
				Str("event_type", eventType).
				Msg("Encoding event envelope failed")
			continue
		}

		d := &Delivery{
			ID:          uuid.New().String(),
			OrgID:       w.OrgID,
			WebhookID:   w.ID,
			EventID:     env.ID,
			EventType:   eventType,
			Payload:     payload,
			Status:      StatusCreated,
			MaxAttempts: DefaultMaxAttempts,
		}

		if err := dp.store.CreateDelivery(ctx, d); err != nil {
			log.Error().
				Err(err).
				Str("webhook_id", w.ID).
				Str("event_type", eventType).
				Msg("Creating delivery failed")
			continue
		}

		if _, err := dp.queue.Enqueue(ctx, d.ID, nil); err != nil {
			// The row exists in the created state; the sweep re-enqueues it.
			log.Error().
				Err(err).
				Str("delivery_id", d.ID).
				Msg("Enqueueing delivery failed")
		}

		ids = append(ids, d.ID)
	}

	metrics.RecordDispatch(eventType, len(ids))

	log.Debug().
		Str("org_id", orgID).
		Str("event_type", eventType).
		Int("deliveries", len(ids)).
		Msg("Event dispatched")

	return ids
}

// DispatchMany dispatches a batch of events in order and returns all created
// delivery IDs. Each event gets its own envelope and fan-out.
func (dp *Dispatcher) DispatchMany(ctx context.Context, orgID string, events []EventInput) []string {
	var ids []string
	for _, evt := range events {
		ids = append(ids, dp.Dispatch(ctx, orgID, evt.Type, evt.Data)...)
	}
	return ids
}
