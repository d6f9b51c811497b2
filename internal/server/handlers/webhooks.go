package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/hookmill/hookmill/internal/requestctx"
	"github.com/hookmill/hookmill/internal/webhooks"
)

// WebhookHandlers handles webhook registration and management.
type WebhookHandlers struct {
	store    webhooks.Store
	filters  *webhooks.FilterEngine
	executor *webhooks.Executor
}

// NewWebhookHandlers creates new webhook handlers.
func NewWebhookHandlers(store webhooks.Store, filters *webhooks.FilterEngine, executor *webhooks.Executor) *WebhookHandlers {
	return &WebhookHandlers{store: store, filters: filters, executor: executor}
}

// CreateWebhookRequest is the request body for registering a webhook.
type CreateWebhookRequest struct {
	URL         string   `json:"url"`
	Events      []string `json:"events"`
	Filter      string   `json:"filter,omitempty"`
	Description string   `json:"description,omitempty"`
	CreatedBy   string   `json:"created_by,omitempty"`
}

// UpdateWebhookRequest is the request body for updating a webhook.
type UpdateWebhookRequest struct {
	URL         *string   `json:"url,omitempty"`
	Events      *[]string `json:"events,omitempty"`
	Filter      *string   `json:"filter,omitempty"`
	Active      *bool     `json:"active,omitempty"`
	Description *string   `json:"description,omitempty"`
}

// TestWebhookRequest is the request body for a synchronous test delivery.
type TestWebhookRequest struct {
	EventType string         `json:"event_type"`
	Data      map[string]any `json:"data,omitempty"`
}

// webhookWithSecret is returned only at creation and rotation time; the
// Webhook type never serializes its secret otherwise.
type webhookWithSecret struct {
	*webhooks.Webhook
	Secret string `json:"secret"`
}

func requireOrg(w http.ResponseWriter, r *http.Request) (string, bool) {
	orgID := requestctx.OrgID(r.Context())
	if orgID == "" {
		BadRequest(w, "X-Org-ID header is required")
		return "", false
	}
	return orgID, true
}

// List handles GET /api/webhooks.
func (h *WebhookHandlers) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}

	hooks, err := h.store.ListWebhooks(ctx, orgID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list webhooks")
		InternalError(w, "Failed to list webhooks")
		return
	}

	JSON(w, http.StatusOK, map[string]any{
		"webhooks": hooks,
		"count":    len(hooks),
	})
}

// Get handles GET /api/webhooks/{id}.
func (h *WebhookHandlers) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}

	hook, err := h.store.GetWebhookScoped(ctx, orgID, id)
	if err != nil {
		if errors.Is(err, webhooks.ErrWebhookNotFound) {
			NotFound(w, "Webhook not found")
			return
		}
		log.Error().Err(err).Str("id", id).Msg("Failed to get webhook")
		InternalError(w, "Failed to get webhook")
		return
	}

	JSON(w, http.StatusOK, hook)
}

// Create handles POST /api/webhooks.
func (h *WebhookHandlers) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}

	var req CreateWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "Invalid JSON body: "+err.Error())
		return
	}

	hook := &webhooks.Webhook{
		OrgID:       orgID,
		URL:         req.URL,
		Secret:      webhooks.NewSecret(),
		Events:      req.Events,
		Filter:      req.Filter,
		Active:      true,
		Description: req.Description,
		CreatedBy:   req.CreatedBy,
	}

	if err := webhooks.ValidateWebhook(hook, h.filters); err != nil {
		BadRequest(w, err.Error())
		return
	}

	if err := h.store.CreateWebhook(ctx, hook); err != nil {
		log.Error().Err(err).Msg("Failed to create webhook")
		InternalError(w, "Failed to create webhook")
		return
	}

	JSON(w, http.StatusCreated, webhookWithSecret{Webhook: hook, Secret: hook.Secret})
}

// Update handles PATCH /api/webhooks/{id}.
func (h *WebhookHandlers) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}

	hook, err := h.store.GetWebhookScoped(ctx, orgID, id)
	if err != nil {
		if errors.Is(err, webhooks.ErrWebhookNotFound) {
			NotFound(w, "Webhook not found")
			return
		}
		log.Error().Err(err).Str("id", id).Msg("Failed to get webhook")
		InternalError(w, "Failed to get webhook")
		return
	}

	var req UpdateWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "Invalid JSON body: "+err.Error())
		return
	}

	if req.URL != nil {
		hook.URL = *req.URL
	}
	if req.Events != nil {
		hook.Events = *req.Events
	}
	if req.Filter != nil {
		hook.Filter = *req.Filter
	}
	if req.Active != nil {
		hook.Active = *req.Active
	}
	if req.Description != nil {
		hook.Description = *req.Description
	}

	if err := webhooks.ValidateWebhook(hook, h.filters); err != nil {
		BadRequest(w, err.Error())
		return
	}

	if err := h.store.UpdateWebhook(ctx, hook); err != nil {
		log.Error().Err(err).Str("id", id).Msg("Failed to update webhook")
		InternalError(w, "Failed to update webhook")
		return
	}

	JSON(w, http.StatusOK, hook)
}

// Deactivate handles DELETE /api/webhooks/{id}. Webhook rows are kept for
// delivery history; deletion just stops future deliveries.
func (h *WebhookHandlers) Deactivate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}

	if err := h.store.DeactivateWebhook(ctx, orgID, id); err != nil {
		if errors.Is(err, webhooks.ErrWebhookNotFound) {
			NotFound(w, "Webhook not found")
			return
		}
		log.Error().Err(err).Str("id", id).Msg("Failed to deactivate webhook")
		InternalError(w, "Failed to deactivate webhook")
		return
	}

	JSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Webhook deactivated",
	})
}

// RotateSecret handles POST /api/webhooks/{id}/rotate-secret. Pending
// retries pick up the new secret on their next attempt.
func (h *WebhookHandlers) RotateSecret(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}

	secret := webhooks.NewSecret()

	if err := h.store.RotateSecret(ctx, orgID, id, secret); err != nil {
		if errors.Is(err, webhooks.ErrWebhookNotFound) {
			NotFound(w, "Webhook not found")
			return
		}
		log.Error().Err(err).Str("id", id).Msg("Failed to rotate webhook secret")
		InternalError(w, "Failed to rotate webhook secret")
		return
	}

	JSON(w, http.StatusOK, map[string]string{
		"id":     id,
		"secret": secret,
	})
}

// Test handles POST /api/webhooks/{id}/test: a synchronous signed delivery
// that leaves no delivery record behind.
func (h *WebhookHandlers) Test(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	orgID, ok := requireOrg(w, r)
	if !ok {
		return
	}

	hook, err := h.store.GetWebhookScoped(ctx, orgID, id)
	if err != nil {
		if errors.Is(err, webhooks.ErrWebhookNotFound) {
			NotFound(w, "Webhook not found")
			return
		}
		log.Error().Err(err).Str("id", id).Msg("Failed to get webhook")
		InternalError(w, "Failed to get webhook")
		return
	}

	req := TestWebhookRequest{EventType: "test.ping"}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			BadRequest(w, "Invalid JSON body: "+err.Error())
			return
		}
		if req.EventType == "" {
			req.EventType = "test.ping"
		}
	}

	env := webhooks.NewEnvelope(req.EventType, orgID, req.Data)
	outcome := h.executor.ExecuteDirect(ctx, hook, env)

	JSON(w, http.StatusOK, outcome)
}
