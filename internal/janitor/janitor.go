package janitor

import (
	"context"
	"time"

	"github.com/developingchet/shieldon-filestore/internal/metrics"
	"github.com/developingchet/shieldon-filestore/internal/pool"
	"github.com/developingchet/shieldon-filestore/internal/storage"
	"github.com/rs/zerolog"
)

// TTLs sets the eviction age per table. Zero keeps records forever.
type TTLs struct {
	Filter  time.Duration
	Rule    time.Duration
	Session time.Duration
}

func (t TTLs) of(table storage.TableType) time.Duration {
	switch table {
	case storage.TableFilter:
		return t.Filter
	case storage.TableRule:
		return t.Rule
	case storage.TableSession:
		return t.Session
	}
	return 0
}

// Janitor performs periodic housekeeping: evicting stale records, updating gauges.
type Janitor struct {
	store      storage.Store
	workerPool *pool.Pool
	interval   time.Duration
	ttls       TTLs
	now        func() time.Time
	log        zerolog.Logger
}

// NewJanitor creates a Janitor. With a nil pool, stale records are deleted inline.
func NewJanitor(store storage.Store, workerPool *pool.Pool, interval time.Duration, ttls TTLs, log zerolog.Logger) *Janitor {
	return &Janitor{
		store:      store,
		workerPool: workerPool,
		interval:   interval,
		ttls:       ttls,
		now:        time.Now,
		log:        log,
	}
}

// Handler returns the pool job handler that performs one eviction. A record
// already gone by the time the job runs is not counted.
func Handler(store storage.Store) pool.JobHandler {
	return func(_ context.Context, job pool.Job) error {
		ok, err := store.Delete(job.Table, job.ID)
		if err != nil {
			return err
		}
		if ok {
			metrics.Evictions.WithLabelValues(string(job.Table)).Inc()
		}
		return nil
	}
}

// Run executes the janitor loop until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	// Run immediately on start
	j.tick()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			j.tick()
		}
	}
}

// tick sweeps every table with a TTL and returns how many records it selected.
func (j *Janitor) tick() int {
	now := j.now()
	selected := 0

	for _, table := range storage.Tables {
		if ttl := j.ttls.of(table); ttl > 0 {
			for _, e := range j.store.FetchAll(table) {
				age := now.Sub(lastActive(e))
				if age <= ttl {
					continue
				}
				selected++
				j.evict(pool.Job{Table: table, ID: e.ID, Age: age})
			}
		}
		metrics.Records.WithLabelValues(string(table)).Set(float64(j.store.Count(table)))
	}

	size, err := j.store.SizeBytes()
	if err != nil {
		j.log.Warn().Err(err).Msg("janitor: read store size failed")
	} else {
		metrics.SizeBytes.Set(float64(size))
	}

	if j.workerPool != nil {
		metrics.WorkerQueueDepth.Set(float64(j.workerPool.Depth()))
	}

	if selected > 0 {
		j.log.Info().Int("count", selected).Msg("janitor: evicting stale records")
	}
	j.log.Debug().Msg("janitor: tick complete")
	return selected
}

func (j *Janitor) evict(job pool.Job) {
	if j.workerPool != nil {
		j.workerPool.Enqueue(job)
		return
	}
	ok, err := j.store.Delete(job.Table, job.ID)
	if err != nil {
		j.log.Warn().Err(err).Str("table", string(job.Table)).Str(job.Table.LogKey(), job.ID).
			Msg("janitor: evict failed")
		return
	}
	if ok {
		metrics.Evictions.WithLabelValues(string(job.Table)).Inc()
	}
}

// lastActive converts an entry's ordering stamp back to a time. Sessions
// without a usable microtimesamp fall back to the write time.
func lastActive(e storage.Entry) time.Time {
	if e.Stamp > 0 {
		return time.UnixMicro(e.Stamp)
	}
	return e.ModTime
}
