package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/hookmill/hookmill/internal/webhooks"
)

// EventHandlers accepts events for fan-out to subscribed webhooks.
type EventHandlers struct {
	dispatcher *webhooks.Dispatcher
}

// NewEventHandlers creates new event handlers.
func NewEventHandlers(dispatcher *webhooks.Dispatcher) *EventHandlers {
	return &EventHandlers{dispatcher: dispatcher}
}

// DispatchBatchRequest is the request body for POST /api/events/batch.
type DispatchBatchRequest struct {
	Events []webhooks.EventInput `json:"events"`
}

// Dispatch handles POST /api/events.
func (h *EventHandlers) Dispatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}

	var req webhooks.EventInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "Invalid JSON body: "+err.Error())
		return
	}
	if req.Type == "" {
		BadRequest(w, "Event type is required")
		return
	}

	ids := h.dispatcher.Dispatch(ctx, orgID, req.Type, req.Data)

	JSON(w, http.StatusAccepted, map[string]any{
		"delivery_ids": ids,
		"count":        len(ids),
	})
}

// DispatchBatch handles POST /api/events/batch.
func (h *EventHandlers) DispatchBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}

	var req DispatchBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "Invalid JSON body: "+err.Error())
		return
	}
	if len(req.Events) == 0 {
		BadRequest(w, "At least one event is required")
		return
	}
	for _, evt := range req.Events {
		if evt.Type == "" {
			BadRequest(w, "Event type is required for every event")
			return
		}
	}

	ids := h.dispatcher.DispatchMany(ctx, orgID, req.Events)

	JSON(w, http.StatusAccepted, map[string]any{
		"delivery_ids": ids,
		"count":        len(ids),
	})
}
