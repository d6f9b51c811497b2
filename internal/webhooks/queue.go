package webhooks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/hookmill/hookmill/internal/database"
	"github.com/hookmill/hookmill/internal/metrics"
)

// Job states in the delivery_jobs table.
const (
	jobPending   = "pending"
	jobActive    = "active"
	jobCompleted = "completed"
	jobFailed    = "failed"
)

// QueueConfig holds worker pool and sweep tunables.
type QueueConfig struct {
	// Concurrency is the number of jobs executed in parallel (default 5).
	Concurrency int
	// PollInterval is how often workers look for due jobs (default 1s).
	PollInterval time.Duration
	// SweepInterval is how often the safety-net sweep runs (default 30s).
	SweepInterval time.Duration
	// StaleCreatedAfter is the age at which a delivery still in the created
	// state is considered lost and re-enqueued by the sweep (default 5m).
	StaleCreatedAfter time.Duration
}

// QueueStats is an observability snapshot; it carries no behavioral contract.
type QueueStats struct {
	Pending   int `json:"pending"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Queue is the durable delivery work queue. Jobs are rows in SQLite, claimed
// with a conditional update so only one worker wins a job even when the
// sweep and a scheduled retry race. Delivery remains at-least-once: the same
// delivery can legitimately be executed twice across process boundaries.
type Queue struct {
	db    *database.DB
	store Store
	exec  *Executor
	cfg   QueueConfig

	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type queuedJob struct {
	ID         string
	DeliveryID string
}

// NewQueue creates a queue over the given database and executor.
func NewQueue(db *database.DB, store Store, exec *Executor, cfg QueueConfig) *Queue {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	if cfg.StaleCreatedAfter <= 0 {
		cfg.StaleCreatedAfter = 5 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Queue{
		db:     db,
		store:  store,
		exec:   exec,
		cfg:    cfg,
		cron:   cron.New(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Enqueue submits a durable job for a delivery. A nil notBefore means
// immediately. Enqueue is idempotent per (deliveryID, notBefore): a
// duplicate submission returns the existing job ID.
func (q *Queue) Enqueue(ctx context.Context, deliveryID string, notBefore *time.Time) (string, error) {
	nb := time.Now().UTC()
	if notBefore != nil {
		nb = notBefore.UTC()
	}
	nbStr := nb.Format(time.RFC3339)

	jobID := uuid.New().String()
	now := database.Now()

	query := `
		INSERT INTO delivery_jobs (id, delivery_id, not_before, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (delivery_id, not_before) DO NOTHING
	`

	res, err := q.db.ExecContext(ctx, query, jobID, deliveryID, nbStr, jobPending, now, now)
	if err != nil {
		return "", fmt.Errorf("enqueueing delivery job: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		var existing string
		err := q.db.QueryRowContext(ctx,
			`SELECT id FROM delivery_jobs WHERE delivery_id = ? AND not_before = ?`,
			deliveryID, nbStr,
		).Scan(&existing)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("looking up duplicate job: %w", err)
		}
		log.Debug().
			Str("delivery_id", deliveryID).
			Str("job_id", existing).
			Msg("Duplicate enqueue collapsed")
		return existing, nil
	}

	log.Debug().
		Str("delivery_id", deliveryID).
		Str("job_id", jobID).
		Time("not_before", nb).
		Msg("Delivery job enqueued")

	return jobID, nil
}

// Start launches the worker pool and the periodic sweep.
func (q *Queue) Start() error {
	spec := fmt.Sprintf("@every %s", q.cfg.SweepInterval)
	if _, err := q.cron.AddFunc(spec, q.sweep); err != nil {
		return fmt.Errorf("scheduling sweep: %w", err)
	}
	q.cron.Start()

	q.wg.Add(1)
	go q.run()

	log.Info().
		Int("concurrency", q.cfg.Concurrency).
		Dur("poll_interval", q.cfg.PollInterval).
		Dur("sweep_interval", q.cfg.SweepInterval).
		Msg("Delivery queue started")

	return nil
}

// Stop halts intake of new jobs and waits for in-flight attempts, which are
// bounded by the executor timeout.
func (q *Queue) Stop() {
	cronCtx := q.cron.Stop()
	q.cancel()
	q.wg.Wait()
	<-cronCtx.Done()
	log.Info().Msg("Delivery queue stopped")
}

// Stats returns current job counts by state.
func (q *Queue) Stats(ctx context.Context) (QueueStats, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM delivery_jobs GROUP BY status`)
	if err != nil {
		return QueueStats{}, fmt.Errorf("querying queue stats: %w", err)
	}
	defer rows.Close()

	var stats QueueStats
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return QueueStats{}, fmt.Errorf("scanning stats row: %w", err)
		}
		switch status {
		case jobPending:
			stats.Pending = count
		case jobActive:
			stats.Active = count
		case jobCompleted:
			stats.Completed = count
		case jobFailed:
			stats.Failed = count
		}
	}
	if err := rows.Err(); err != nil {
		return QueueStats{}, fmt.Errorf("iterating stats rows: %w", err)
	}

	return stats, nil
}

func (q *Queue) run() {
	defer q.wg.Done()

	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			if err := q.ProcessBatch(q.ctx); err != nil {
				log.Error().Err(err).Msg("Processing delivery batch failed")
			}
		}
	}
}

// ProcessBatch claims and executes up to Concurrency due jobs. Exported for
// tests and catch-up tooling; the worker loop calls it on every poll tick.
func (q *Queue) ProcessBatch(ctx context.Context) error {
	jobs, err := q.claimDue(ctx, q.cfg.Concurrency)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return nil
	}

	g := new(errgroup.Group)
	g.SetLimit(q.cfg.Concurrency)

	for _, job := range jobs {
		g.Go(func() error {
			q.runJob(ctx, job)
			return nil
		})
	}

	return g.Wait()
}

// claimDue selects due pending jobs and claims each with a conditional
// update; losing a claim race is not an error.
func (q *Queue) claimDue(ctx context.Context, limit int) ([]queuedJob, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	rows, err := q.db.QueryContext(ctx, `
		SELECT id, delivery_id FROM delivery_jobs
		WHERE status = ? AND not_before <= ?
		ORDER BY not_before ASC
		LIMIT ?
	`, jobPending, now, limit)
	if err != nil {
		return nil, fmt.Errorf("querying due jobs: %w", err)
	}
	defer rows.Close()

	var candidates []queuedJob
	for rows.Next() {
		var j queuedJob
		if err := rows.Scan(&j.ID, &j.DeliveryID); err != nil {
			return nil, fmt.Errorf("scanning job row: %w", err)
		}
		candidates = append(candidates, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating job rows: %w", err)
	}

	var claimed []queuedJob
	for _, j := range candidates {
		res, err := q.db.ExecContext(ctx,
			`UPDATE delivery_jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
			jobActive, database.Now(), j.ID, jobPending,
		)
		if err != nil {
			return nil, fmt.Errorf("claiming job: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			claimed = append(claimed, j)
		}
	}

	return claimed, nil
}

func (q *Queue) runJob(ctx context.Context, job queuedJob) {
	out := q.exec.Execute(ctx, job.DeliveryID)

	status := jobCompleted
	if !out.Success {
		status = jobFailed
	}
	q.finishJob(ctx, job.ID, status)

	// Schedule the retry as a new deferred job. Exhausted and terminal
	// outcomes carry no retry instant and end here.
	if !out.Success && out.Retry != nil {
		if _, err := q.Enqueue(ctx, job.DeliveryID, out.Retry); err != nil {
			// The sweep will pick the delivery up from its failed state.
			log.Error().
				Err(err).
				Str("delivery_id", job.DeliveryID).
				Msg("Scheduling retry job failed")
		}
	}
}

func (q *Queue) finishJob(ctx context.Context, jobID, status string) {
	_, err := q.db.ExecContext(ctx,
		`UPDATE delivery_jobs SET status = ?, updated_at = ? WHERE id = ?`,
		status, database.Now(), jobID,
	)
	if err != nil {
		log.Error().Err(err).Str("job_id", jobID).Msg("Finishing job failed")
	}
}

// sweep re-enqueues failed deliveries whose retry time has arrived and
// deliveries stuck in the created state, covering jobs lost between the
// scheduling decision and queue submission.
func (q *Queue) sweep() {
	ctx := q.ctx
	now := time.Now().UTC()
	requeued := 0

	due, err := q.store.DueRetries(ctx, now)
	if err != nil {
		log.Error().Err(err).Msg("Sweep: querying due retries failed")
	} else {
		for _, d := range due {
			if _, err := q.Enqueue(ctx, d.ID, nil); err != nil {
				log.Error().Err(err).Str("delivery_id", d.ID).Msg("Sweep: enqueue failed")
				continue
			}
			requeued++
		}
	}

	stale, err := q.store.StaleCreated(ctx, now.Add(-q.cfg.StaleCreatedAfter))
	if err != nil {
		log.Error().Err(err).Msg("Sweep: querying stale deliveries failed")
	} else {
		for _, d := range stale {
			if _, err := q.Enqueue(ctx, d.ID, nil); err != nil {
				log.Error().Err(err).Str("delivery_id", d.ID).Msg("Sweep: enqueue failed")
				continue
			}
			requeued++
		}
	}

	if requeued > 0 {
		log.Info().Int("count", requeued).Msg("Sweep re-enqueued deliveries")
	}
	metrics.RecordSweep(requeued)

	if stats, err := q.Stats(ctx); err == nil {
		metrics.UpdateQueueStats(stats.Pending, stats.Active, stats.Completed, stats.Failed)
	}

	dbStats := q.db.Stats()
	metrics.UpdateDBStats(dbStats.OpenConnections, dbStats.InUse, dbStats.Idle)
}
