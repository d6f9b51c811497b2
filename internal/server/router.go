package server

import (
	"net/http"

	"github.com/hookmill/hookmill/internal/metrics"
	"github.com/hookmill/hookmill/internal/server/handlers"
)

type Router struct {
	server      *Server
	mux         *http.ServeMux
	middlewares []Middleware
}

type Middleware func(http.Handler) http.Handler

func NewRouter(srv *Server) *Router {
	r := &Router{
		server: srv,
		mux:    http.NewServeMux(),
	}

	r.setupMiddleware()
	r.setupRoutes()

	return r
}

func (r *Router) setupMiddleware() {
	r.Use(RecoveryMiddleware)
	r.Use(RequestIDMiddleware)
	r.Use(OrgMiddleware)
	r.Use(LoggingMiddleware)
	r.Use(MetricsMiddleware)
	r.Use(MaxBodySizeMiddleware(r.server.cfg.Server.MaxBodySize))
}

func (r *Router) Use(mw Middleware) {
	r.middlewares = append(r.middlewares, mw)
}

func (r *Router) setupRoutes() {
	health := handlers.NewHealthHandlers(r.server.DB(), Version)
	r.mux.HandleFunc("GET /health", health.Health)
	r.mux.HandleFunc("GET /health/live", health.Liveness)
	r.mux.HandleFunc("GET /health/ready", health.Readiness)
	r.mux.HandleFunc("GET /stats", health.Stats)

	wh := handlers.NewWebhookHandlers(r.server.Store(), r.server.Filters(), r.server.Executor())
	r.mux.HandleFunc("GET /api/webhooks", wh.List)
	r.mux.HandleFunc("POST /api/webhooks", wh.Create)
	r.mux.HandleFunc("GET /api/webhooks/{id}", wh.Get)
	r.mux.HandleFunc("PATCH /api/webhooks/{id}", wh.Update)
	r.mux.HandleFunc("DELETE /api/webhooks/{id}", wh.Deactivate)
	r.mux.HandleFunc("POST /api/webhooks/{id}/rotate-secret", wh.RotateSecret)
	r.mux.HandleFunc("POST /api/webhooks/{id}/test", wh.Test)

	dh := handlers.NewDeliveryHandlers(r.server.Store(), r.server.Queue())
	r.mux.HandleFunc("GET /api/deliveries", dh.List)
	r.mux.HandleFunc("GET /api/deliveries/{id}", dh.Get)
	r.mux.HandleFunc("POST /api/deliveries/{id}/retry", dh.Retry)

	eh := handlers.NewEventHandlers(r.server.Dispatcher())
	r.mux.HandleFunc("POST /api/events", eh.Dispatch)
	r.mux.HandleFunc("POST /api/events/batch", eh.DispatchBatch)

	qh := handlers.NewQueueHandlers(r.server.Queue())
	r.mux.HandleFunc("GET /api/queue/stats", qh.Stats)

	r.mux.Handle("GET /metrics", metrics.Handler())
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	handler := http.Handler(r.mux)

	for i := len(r.middlewares) - 1; i >= 0; i-- {
		handler = r.middlewares[i](handler)
	}

	handler.ServeHTTP(w, req)
}

// Version is stamped at build time via -ldflags.
var Version = "dev"
