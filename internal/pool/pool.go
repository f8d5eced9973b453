package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/developingchet/shieldon-filestore/internal/metrics"
	"github.com/developingchet/shieldon-filestore/internal/storage"
	"github.com/rs/zerolog"
)

const (
	maxWorkers        = 64
	defaultQueueDepth = 1024
	defaultRetryBase  = 500 * time.Millisecond
	maxBackoff        = 5 * time.Minute
)

// Job is a unit of eviction work: one record to remove.
type Job struct {
	Table storage.TableType
	ID    string
	Age   time.Duration // age at selection time, for logging
}

// fields tags e with the record the job targets.
func (j Job) fields(e *zerolog.Event) *zerolog.Event {
	return e.Str("table", string(j.Table)).Str(j.Table.LogKey(), j.ID).Dur("age", j.Age)
}

// JobHandler removes the record named by a Job. A non-nil error schedules a retry.
type JobHandler func(ctx context.Context, job Job) error

// Config holds eviction pool settings.
type Config struct {
	Workers    int
	QueueDepth int
	MaxRetries int // retries after the first attempt
	RetryBase  time.Duration
}

// Pool runs evictions off the janitor's sweep so a slow filesystem does not
// stall the next tick. Failed deletes are retried in place with exponential
// backoff, never re-queued, so Stop can close the queue safely.
type Pool struct {
	cfg      Config
	queue    chan Job
	handler  JobHandler
	log      zerolog.Logger
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New validates cfg and returns a Pool that is not yet running.
func New(cfg Config, handler JobHandler, log zerolog.Logger) (*Pool, error) {
	if cfg.Workers < 1 || cfg.Workers > maxWorkers {
		return nil, fmt.Errorf("POOL_WORKERS must be 1–%d, got %d", maxWorkers, cfg.Workers)
	}
	if handler == nil {
		return nil, fmt.Errorf("pool: nil eviction handler")
	}
	if cfg.QueueDepth < 1 {
		cfg.QueueDepth = defaultQueueDepth
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = defaultRetryBase
	}
	return &Pool{
		cfg:     cfg,
		queue:   make(chan Job, cfg.QueueDepth),
		handler: handler,
		log:     log,
	}, nil
}

// Start launches the workers. They exit when ctx is done or Stop drains the queue.
func (p *Pool) Start(ctx context.Context) {
	p.wg.Add(p.cfg.Workers)
	for i := 0; i < p.cfg.Workers; i++ {
		go p.worker(ctx, p.log.With().Int("worker_id", i).Logger())
	}
}

// Enqueue hands job to a worker without blocking. A full queue drops the job
// and returns false; the record is still stale and the next sweep selects it again.
func (p *Pool) Enqueue(job Job) bool {
	select {
	case p.queue <- job:
		metrics.JobsEnqueued.Inc()
		return true
	default:
	}
	metrics.JobsDropped.WithLabelValues("buffer_full").Inc()
	job.fields(p.log.Warn()).Int("queue_depth", p.cfg.QueueDepth).Msg("eviction dropped: queue full")
	return false
}

// Stop closes the queue and waits for queued evictions to finish.
// Enqueue must not be called after Stop.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.queue) })
	p.wg.Wait()
}

// Depth returns the number of evictions waiting for a worker.
func (p *Pool) Depth() int {
	return len(p.queue)
}

func (p *Pool) worker(ctx context.Context, log zerolog.Logger) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.queue:
			if !ok {
				return
			}
			metrics.WorkerQueueDepth.Set(float64(len(p.queue)))
			metrics.JobsProcessed.WithLabelValues(p.evict(ctx, job, log)).Inc()
		}
	}
}

// evict runs the handler until it succeeds, retries run out or ctx ends, and
// returns the final outcome label. Every failed attempt but the last counts
// as "retried".
func (p *Pool) evict(ctx context.Context, job Job, log zerolog.Logger) string {
	var err error
	for attempt := 0; ; attempt++ {
		if err = p.handler(ctx, job); err == nil {
			return "success"
		}
		if attempt == p.cfg.MaxRetries {
			break
		}
		metrics.JobsProcessed.WithLabelValues("retried").Inc()
		wait := p.backoff(attempt)
		job.fields(log.Warn()).Err(err).Int("attempt", attempt+1).Dur("backoff", wait).
			Msg("delete failed, retrying eviction")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			job.fields(log.Warn()).Msg("eviction abandoned: shutting down")
			return "error"
		case <-timer.C:
		}
	}
	job.fields(log.Error()).Err(err).Int("max_retries", p.cfg.MaxRetries).
		Msg("eviction failed: record left for the next sweep")
	return "error"
}

// backoff returns RetryBase doubled n times, capped at five minutes.
func (p *Pool) backoff(n int) time.Duration {
	d := p.cfg.RetryBase
	for i := 0; i < n; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}
