package pool

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/developingchet/shieldon-filestore/internal/metrics"
	"github.com/developingchet/shieldon-filestore/internal/storage"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

func nopHandler(_ context.Context, _ Job) error {
	return nil
}

func filterJob(ip string) Job {
	return Job{Table: storage.TableFilter, ID: ip}
}

func TestPoolBasicEnqueueProcess(t *testing.T) {
	var processed int64
	handler := func(_ context.Context, job Job) error {
		atomic.AddInt64(&processed, 1)
		return nil
	}

	p, err := New(Config{Workers: 4, QueueDepth: 100, MaxRetries: 3, RetryBase: time.Millisecond}, handler, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	p.Start(context.Background())
	for i := 0; i < 50; i++ {
		p.Enqueue(filterJob("1.2.3.4"))
	}
	p.Stop()

	if got := atomic.LoadInt64(&processed); got != 50 {
		t.Errorf("expected 50 processed, got %d", got)
	}
}

func TestPool64Workers(t *testing.T) {
	var processed int64
	handler := func(_ context.Context, _ Job) error {
		atomic.AddInt64(&processed, 1)
		return nil
	}
	p, err := New(Config{Workers: 64, QueueDepth: 10000, MaxRetries: 0, RetryBase: time.Millisecond}, handler, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	p.Start(context.Background())

	for i := 0; i < 1000; i++ {
		p.Enqueue(Job{Table: storage.TableSession, ID: "sid"})
	}
	p.Stop()

	if got := atomic.LoadInt64(&processed); got != 1000 {
		t.Errorf("expected 1000 processed, got %d", got)
	}
}

func TestPoolDropOnFullBuffer(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	handler := func(ctx context.Context, _ Job) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	}
	p, err := New(Config{Workers: 1, QueueDepth: 2, MaxRetries: 0, RetryBase: time.Millisecond}, handler, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	p.Start(context.Background())

	before := testutil.ToFloat64(metrics.JobsDropped.WithLabelValues("buffer_full"))

	if !p.Enqueue(filterJob("1.1.1.1")) {
		t.Fatal("first job should be accepted")
	}
	<-started // worker holds job 1, queue is empty again

	if !p.Enqueue(filterJob("2.2.2.2")) || !p.Enqueue(filterJob("3.3.3.3")) {
		t.Fatal("queue should accept two jobs")
	}
	if p.Depth() != 2 {
		t.Errorf("Depth: got %d, want 2", p.Depth())
	}
	if p.Enqueue(filterJob("4.4.4.4")) {
		t.Error("fourth job should be dropped")
	}
	if got := testutil.ToFloat64(metrics.JobsDropped.WithLabelValues("buffer_full")) - before; got != 1 {
		t.Errorf("dropped counter delta: got %v, want 1", got)
	}

	close(release)
	p.Stop()
}

func TestPoolStopDrains(t *testing.T) {
	var processed int64
	handler := func(_ context.Context, _ Job) error {
		atomic.AddInt64(&processed, 1)
		return nil
	}
	p, err := New(Config{Workers: 2, QueueDepth: 100, MaxRetries: 0}, handler, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	p.Start(context.Background())

	for i := 0; i < 10; i++ {
		p.Enqueue(filterJob("1.2.3.4"))
	}
	p.Stop()
	p.Stop() // second call is a no-op

	if got := atomic.LoadInt64(&processed); got != 10 {
		t.Errorf("Stop() should drain all jobs, processed=%d", got)
	}
}

func TestPoolRetryLogic(t *testing.T) {
	var attempts int64
	handler := func(_ context.Context, _ Job) error {
		if atomic.AddInt64(&attempts, 1) < 3 {
			return errors.New("transient")
		}
		return nil
	}

	p, err := New(Config{Workers: 1, QueueDepth: 100, MaxRetries: 5, RetryBase: time.Millisecond}, handler, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	before := testutil.ToFloat64(metrics.JobsProcessed.WithLabelValues("retried"))

	p.Start(context.Background())
	p.Enqueue(filterJob("1.2.3.4"))
	p.Stop()

	if got := atomic.LoadInt64(&attempts); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
	if got := testutil.ToFloat64(metrics.JobsProcessed.WithLabelValues("retried")) - before; got != 2 {
		t.Errorf("retried counter delta: got %v, want 2", got)
	}
}

func TestPoolMaxRetriesExceeded(t *testing.T) {
	var attempts int64
	handler := func(_ context.Context, _ Job) error {
		atomic.AddInt64(&attempts, 1)
		return errors.New("always fail")
	}

	// MaxRetries=2 → initial attempt + 2 retries
	p, err := New(Config{Workers: 1, QueueDepth: 100, MaxRetries: 2, RetryBase: time.Millisecond}, handler, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	p.Start(context.Background())
	p.Enqueue(filterJob("1.2.3.4"))
	p.Stop()

	if got := atomic.LoadInt64(&attempts); got != 3 {
		t.Errorf("expected 3 total attempts, got %d", got)
	}
}

func TestPoolFailureLogNamesRecord(t *testing.T) {
	var buf bytes.Buffer
	handler := func(_ context.Context, _ Job) error {
		return errors.New("permission denied")
	}
	p, err := New(Config{Workers: 1, QueueDepth: 4, MaxRetries: 1, RetryBase: time.Millisecond}, handler, zerolog.New(&buf))
	if err != nil {
		t.Fatal(err)
	}
	p.Start(context.Background())
	p.Enqueue(Job{Table: storage.TableSession, ID: "abc123", Age: 90 * time.Minute})
	p.Stop()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected a retry line and a failure line, got %q", buf.String())
	}
	for _, want := range []string{`"table":"session"`, `"session_id":"abc123"`, `"age":`, `"error":"permission denied"`} {
		for _, line := range lines {
			if !strings.Contains(line, want) {
				t.Errorf("log line %s missing %s", line, want)
			}
		}
	}
	if !strings.Contains(lines[0], `"level":"warn"`) || !strings.Contains(lines[1], `"level":"error"`) {
		t.Errorf("levels: %q", lines)
	}
}

func TestPoolInvalidConfig(t *testing.T) {
	if _, err := New(Config{Workers: 0}, nopHandler, zerolog.Nop()); err == nil {
		t.Error("expected error for 0 workers")
	}
	if _, err := New(Config{Workers: 65}, nopHandler, zerolog.Nop()); err == nil {
		t.Error("expected error for 65 workers")
	}
	if _, err := New(Config{Workers: 1}, nil, zerolog.Nop()); err == nil {
		t.Error("expected error for nil handler")
	}
}

func TestPoolMaxRetriesZero(t *testing.T) {
	var calls int64
	handler := func(_ context.Context, _ Job) error {
		atomic.AddInt64(&calls, 1)
		return errors.New("fail once")
	}

	p, err := New(Config{Workers: 1, QueueDepth: 100, MaxRetries: 0, RetryBase: time.Millisecond}, handler, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	p.Start(context.Background())
	p.Enqueue(filterJob("1.2.3.4"))
	p.Stop()

	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Errorf("MaxRetries=0: expected exactly 1 handler call, got %d", got)
	}
}

// Cancelling the context while a worker sleeps in backoff aborts the retry.
func TestPoolContextCancelDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var calls int64
	handler := func(_ context.Context, _ Job) error {
		atomic.AddInt64(&calls, 1)
		cancel()
		return errors.New("trigger retry")
	}

	p, err := New(Config{Workers: 1, QueueDepth: 10, MaxRetries: 5, RetryBase: 200 * time.Millisecond}, handler, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	p.Start(ctx)
	p.Enqueue(filterJob("9.9.9.9"))

	time.Sleep(50 * time.Millisecond)
	p.Stop()

	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Errorf("context cancel during backoff: expected 1 handler call, got %d", got)
	}
}

func TestBackoffCapped(t *testing.T) {
	p, err := New(Config{Workers: 1, RetryBase: time.Second}, nopHandler, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if got := p.backoff(0); got != time.Second {
		t.Errorf("backoff(0): got %s", got)
	}
	if got := p.backoff(3); got != 8*time.Second {
		t.Errorf("backoff(3): got %s", got)
	}
	if got := p.backoff(20); got != 5*time.Minute {
		t.Errorf("backoff(20): got %s, want cap", got)
	}
}

func TestPoolEvictsFromStore(t *testing.T) {
	s, err := storage.NewFileStore(afero.NewMemMapFs(), storage.FileConfig{Dir: "/srv/shieldon"}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Initialize(); err != nil {
		t.Fatal(err)
	}
	for _, ip := range []string{"192.0.2.1", "192.0.2.2"} {
		if _, err := s.Save(storage.TableFilter, ip, storage.Record{"hits": 1}); err != nil {
			t.Fatal(err)
		}
	}

	handler := func(_ context.Context, job Job) error {
		_, err := s.Delete(job.Table, job.ID)
		return err
	}
	p, err := New(Config{Workers: 2, QueueDepth: 8}, handler, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	p.Start(context.Background())
	p.Enqueue(filterJob("192.0.2.1"))
	p.Enqueue(filterJob("192.0.2.2"))
	p.Stop()

	if n := s.Count(storage.TableFilter); n != 0 {
		t.Errorf("expected empty filter table, got %d", n)
	}
}
