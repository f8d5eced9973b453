package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/developingchet/shieldon-filestore/internal/config"
	"github.com/developingchet/shieldon-filestore/internal/janitor"
	"github.com/developingchet/shieldon-filestore/internal/pool"
	"github.com/developingchet/shieldon-filestore/internal/storage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Daemon wires together the store, eviction pool, janitor, and HTTP endpoints.
type Daemon struct {
	cfg     *config.Config
	store   storage.Store
	pool    *pool.Pool
	janitor *janitor.Janitor
	log     zerolog.Logger
}

// New constructs a fully wired Daemon.
func New(cfg *config.Config, store storage.Store, log zerolog.Logger) (*Daemon, error) {
	p, err := pool.New(pool.Config{
		Workers:    cfg.PoolWorkers,
		QueueDepth: cfg.PoolQueueDepth,
		MaxRetries: cfg.PoolMaxRetries,
		RetryBase:  cfg.PoolRetryBase,
	}, janitor.Handler(store), log)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	j := janitor.NewJanitor(store, p, cfg.JanitorInterval, janitor.TTLs{
		Filter:  cfg.FilterTTL,
		Rule:    cfg.RuleTTL,
		Session: cfg.SessionTTL,
	}, log)

	return &Daemon{
		cfg:     cfg,
		store:   store,
		pool:    p,
		janitor: j,
		log:     log,
	}, nil
}

// Run bootstraps the store, starts all goroutines and blocks until ctx is
// cancelled or a fatal error occurs.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.store.Initialize(); err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	d.pool.Start(gctx)

	g.Go(func() error {
		return d.janitor.Run(gctx)
	})

	if d.cfg.MetricsEnabled {
		g.Go(func() error {
			return d.serveMetrics(gctx)
		})
	}

	g.Go(func() error {
		return d.serveHealth(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	d.pool.Stop()
	return nil
}

// serveMetrics runs the Prometheus HTTP server.
func (d *Daemon) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return d.serve(ctx, "metrics", d.cfg.MetricsAddr, mux)
}

// serveHealth runs the health endpoint.
func (d *Daemon) serveHealth(ctx context.Context) error {
	return d.serve(ctx, "health", d.cfg.HealthAddr, d.healthMux())
}

func (d *Daemon) healthMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	// ready once the bootstrap marker exists; a rebuild in progress or an
	// external wipe of the base directory flips this to 503
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if !d.store.Ready() {
			http.Error(w, "not ready: store not initialized", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	return mux
}

func (d *Daemon) serve(ctx context.Context, name, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	d.log.Info().Str("addr", addr).Msgf("%s server started", name)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server: %w", name, err)
	}
	return nil
}
