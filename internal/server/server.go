// Package server provides the HTTP management surface and wires the
// delivery engine together.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/hookmill/hookmill/internal/config"
	"github.com/hookmill/hookmill/internal/database"
	"github.com/hookmill/hookmill/internal/webhooks"
)

type Server struct {
	cfg        *config.Config
	db         *database.DB
	store      webhooks.Store
	filters    *webhooks.FilterEngine
	executor   *webhooks.Executor
	queue      *webhooks.Queue
	dispatcher *webhooks.Dispatcher
	httpServer *http.Server
	router     *Router
}

func New(cfg *config.Config, db *database.DB) (*Server, error) {
	filters, err := webhooks.NewFilterEngine()
	if err != nil {
		return nil, fmt.Errorf("creating filter engine: %w", err)
	}

	store := webhooks.NewSQLiteStore(db)

	executor := webhooks.NewExecutor(store, webhooks.ExecutorConfig{
		Timeout:     cfg.Delivery.Timeout,
		RatePerHost: cfg.Delivery.RatePerHost,
		RateBurst:   cfg.Delivery.RateBurst,
	})

	queue := webhooks.NewQueue(db, store, executor, webhooks.QueueConfig{
		Concurrency:       cfg.Delivery.Concurrency,
		PollInterval:      cfg.Delivery.PollInterval,
		SweepInterval:     cfg.Delivery.SweepInterval,
		StaleCreatedAfter: cfg.Delivery.StaleCreatedAfter,
	})

	srv := &Server{
		cfg:        cfg,
		db:         db,
		store:      store,
		filters:    filters,
		executor:   executor,
		queue:      queue,
		dispatcher: webhooks.NewDispatcher(store, queue, filters),
	}

	srv.router = NewRouter(srv)
	srv.httpServer = &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      srv.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return srv, nil
}

func (s *Server) Start(ctx context.Context) error {
	log.Info().
		Str("addr", s.cfg.Server.Address()).
		Msg("Starting server")

	if err := s.queue.Start(); err != nil {
		return fmt.Errorf("starting delivery queue: %w", err)
	}

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down server")

	s.queue.Stop()

	return s.httpServer.Shutdown(ctx)
}

func (s *Server) DB() *database.DB {
	return s.db
}

func (s *Server) Config() *config.Config {
	return s.cfg
}

func (s *Server) Store() webhooks.Store {
	return s.store
}

func (s *Server) Filters() *webhooks.FilterEngine {
	return s.filters
}

func (s *Server) Executor() *webhooks.Executor {
	return s.executor
}

func (s *Server) Queue() *webhooks.Queue {
	return s.queue
}

func (s *Server) Dispatcher() *webhooks.Dispatcher {
	return s.dispatcher
}
