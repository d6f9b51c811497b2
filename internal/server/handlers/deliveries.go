package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/hookmill/hookmill/internal/webhooks"
)

// DeliveryHandlers exposes the delivery audit log and manual retries.
type DeliveryHandlers struct {
	store webhooks.Store
	queue *webhooks.Queue
}

// NewDeliveryHandlers creates new delivery handlers.
func NewDeliveryHandlers(store webhooks.Store, queue *webhooks.Queue) *DeliveryHandlers {
	return &DeliveryHandlers{store: store, queue: queue}
}

// List handles GET /api/deliveries.
func (h *DeliveryHandlers) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}

	filter := webhooks.DeliveryFilter{
		WebhookID: r.URL.Query().Get("webhook_id"),
		EventType: r.URL.Query().Get("event_type"),
		Status:    webhooks.DeliveryStatus(r.URL.Query().Get("status")),
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			BadRequest(w, "Invalid limit")
			return
		}
		filter.Limit = limit
	}

	deliveries, err := h.store.ListDeliveries(ctx, orgID, filter)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list deliveries")
		InternalError(w, "Failed to list deliveries")
		return
	}

	JSON(w, http.StatusOK, map[string]any{
		"deliveries": deliveries,
		"count":      len(deliveries),
	})
}

// Get handles GET /api/deliveries/{id}.
func (h *DeliveryHandlers) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}

	d, err := h.store.GetDelivery(ctx, id)
	if err != nil || d.OrgID != orgID {
		if err != nil && !errors.Is(err, webhooks.ErrDeliveryNotFound) {
			log.Error().Err(err).Str("id", id).Msg("Failed to get delivery")
			InternalError(w, "Failed to get delivery")
			return
		}
		NotFound(w, "Delivery not found")
		return
	}

	JSON(w, http.StatusOK, d)
}

// Retry handles POST /api/deliveries/{id}/retry. Only failed and exhausted
// deliveries can be retried; the attempt counter is not reset, so a retried
// exhausted delivery that fails again goes straight back to exhausted.
func (h *DeliveryHandlers) Retry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}

	d, err := h.store.GetDelivery(ctx, id)
	if err != nil || d.OrgID != orgID {
		if err != nil && !errors.Is(err, webhooks.ErrDeliveryNotFound) {
			log.Error().Err(err).Str("id", id).Msg("Failed to get delivery")
			InternalError(w, "Failed to get delivery")
			return
		}
		NotFound(w, "Delivery not found")
		return
	}

	if err := h.store.ResetForRetry(ctx, id); err != nil {
		if errors.Is(err, webhooks.ErrRetryNotAllowed) {
			Conflict(w, "Only failed or exhausted deliveries can be retried")
			return
		}
		log.Error().Err(err).Str("id", id).Msg("Failed to reset delivery for retry")
		InternalError(w, "Failed to retry delivery")
		return
	}

	jobID, err := h.queue.Enqueue(ctx, id, nil)
	if err != nil {
		log.Error().Err(err).Str("id", id).Msg("Failed to enqueue retry")
		InternalError(w, "Failed to retry delivery")
		return
	}

	JSON(w, http.StatusAccepted, map[string]string{
		"delivery_id": id,
		"job_id":      jobID,
	})
}
