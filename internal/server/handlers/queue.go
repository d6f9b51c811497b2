package handlers

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/hookmill/hookmill/internal/webhooks"
)

// QueueHandlers exposes delivery queue observability.
type QueueHandlers struct {
	queue *webhooks.Queue
}

// NewQueueHandlers creates new queue handlers.
func NewQueueHandlers(queue *webhooks.Queue) *QueueHandlers {
	return &QueueHandlers{queue: queue}
}

// Stats handles GET /api/queue/stats.
func (h *QueueHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queue.Stats(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to read queue stats")
		InternalError(w, "Failed to read queue stats")
		return
	}

	JSON(w, http.StatusOK, stats)
}
