package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/skypro1111/echo-recorder/internal/metrics"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func fastConfig() Config {
	return Config{
		Workers:        2,
		QueueSize:      4,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     4 * time.Millisecond,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func TestDispatcherRunsJob(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	d := NewDispatcher(fastConfig(), testLogger(), m)

	var got Job
	done := make(chan struct{})
	d.Register(KindTranscribe, HandlerFunc(func(ctx context.Context, job Job) error {
		got = job
		close(done)
		return nil
	}))
	d.Start(context.Background())
	defer d.Stop()

	d.EnqueueTranscription("abc", 4, "/tmp/abc_00004.wav")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Job did not run")
	}
	if got.Key != "transcribe:abc:4" || got.SegmentIndex != 4 || got.Path != "/tmp/abc_00004.wav" {
		t.Errorf("Unexpected job %+v", got)
	}

	waitFor(t, "completion", func() bool { return d.Stats().Completed == 1 })
	if d.IsPending(got.Key) {
		t.Error("Expected key released after completion")
	}
	if v := testutil.ToFloat64(m.JobsCompleted.WithLabelValues("transcribe")); v != 1 {
		t.Errorf("Expected 1 completed metric, got %v", v)
	}
	if v := testutil.ToFloat64(m.JobsPending); v != 0 {
		t.Errorf("Expected 0 pending metric, got %v", v)
	}
}

func TestDispatcherKeepsExistingKey(t *testing.T) {
	d := NewDispatcher(fastConfig(), testLogger(), nil)

	if !d.Enqueue(Job{Kind: KindSummary, Key: SummaryKey("s1"), SessionID: "s1"}) {
		t.Fatal("Expected first enqueue accepted")
	}
	if d.Enqueue(Job{Kind: KindSummary, Key: SummaryKey("s1"), SessionID: "s1"}) {
		t.Error("Expected duplicate key rejected")
	}
	if !d.Enqueue(Job{Kind: KindSummary, Key: SummaryKey("s2"), SessionID: "s2"}) {
		t.Error("Expected different key accepted")
	}

	var runs atomic.Int32
	d.Register(KindSummary, HandlerFunc(func(ctx context.Context, job Job) error {
		runs.Add(1)
		return nil
	}))
	d.Start(context.Background())
	defer d.Stop()

	waitFor(t, "both jobs", func() bool { return d.Stats().Completed == 2 })
	if runs.Load() != 2 {
		t.Errorf("Expected 2 runs, got %d", runs.Load())
	}

	// Once finished the key may be enqueued again.
	if !d.Enqueue(Job{Kind: KindSummary, Key: SummaryKey("s1"), SessionID: "s1"}) {
		t.Error("Expected key accepted after completion")
	}
}

func TestDispatcherRetriesUntilSuccess(t *testing.T) {
	d := NewDispatcher(fastConfig(), testLogger(), nil)

	var mu sync.Mutex
	var attempts []int
	d.Register(KindTranscribe, HandlerFunc(func(ctx context.Context, job Job) error {
		mu.Lock()
		attempts = append(attempts, job.Attempt)
		n := len(attempts)
		mu.Unlock()
		if n < 3 {
			return errors.New("temporary")
		}
		return nil
	}))
	d.Start(context.Background())
	defer d.Stop()

	d.EnqueueTranscription("abc", 0, "p")
	waitFor(t, "completion", func() bool { return d.Stats().Completed == 1 })

	mu.Lock()
	defer mu.Unlock()
	if len(attempts) != 3 || attempts[0] != 0 || attempts[2] != 2 {
		t.Errorf("Expected attempts [0 1 2], got %v", attempts)
	}
	if got := d.Stats().Retried; got != 2 {
		t.Errorf("Expected 2 retries, got %d", got)
	}
}

func TestDispatcherDuplicateBlockedDuringRetry(t *testing.T) {
	cfg := fastConfig()
	cfg.InitialBackoff = time.Hour
	cfg.MaxBackoff = time.Hour
	d := NewDispatcher(cfg, testLogger(), nil)

	d.Register(KindTranscribe, HandlerFunc(func(ctx context.Context, job Job) error {
		return errors.New("temporary")
	}))
	d.Start(context.Background())
	defer d.Stop()

	d.EnqueueTranscription("abc", 1, "p")
	waitFor(t, "retry scheduled", func() bool { return d.Stats().Retried == 1 })

	if d.Enqueue(Job{Kind: KindTranscribe, Key: TranscribeKey("abc", 1)}) {
		t.Error("Expected duplicate rejected while waiting for retry")
	}
}

func TestDispatcherPermanentFailure(t *testing.T) {
	d := NewDispatcher(fastConfig(), testLogger(), nil)

	var runs atomic.Int32
	d.Register(KindTranscribe, HandlerFunc(func(ctx context.Context, job Job) error {
		runs.Add(1)
		return Permanent(errors.New("missing record"))
	}))
	d.Start(context.Background())
	defer d.Stop()

	d.EnqueueTranscription("abc", 0, "p")
	waitFor(t, "failure", func() bool { return d.Stats().Failed == 1 })

	if runs.Load() != 1 {
		t.Errorf("Expected a single run, got %d", runs.Load())
	}
	if d.Stats().Retried != 0 {
		t.Error("Expected no retries for permanent failure")
	}
}

func TestDispatcherAbandonsAfterMaxAttempts(t *testing.T) {
	d := NewDispatcher(fastConfig(), testLogger(), nil)

	var runs atomic.Int32
	d.Register(KindTranscribe, HandlerFunc(func(ctx context.Context, job Job) error {
		runs.Add(1)
		return errors.New("still failing")
	}))
	d.Start(context.Background())
	defer d.Stop()

	d.EnqueueTranscription("abc", 0, "p")
	waitFor(t, "abandon", func() bool { return d.Stats().Failed == 1 })

	if runs.Load() != 3 {
		t.Errorf("Expected 3 runs, got %d", runs.Load())
	}
	if d.IsPending(TranscribeKey("abc", 0)) {
		t.Error("Expected key released after abandon")
	}
}

func TestDispatcherUnregisteredKind(t *testing.T) {
	d := NewDispatcher(fastConfig(), testLogger(), nil)
	d.Start(context.Background())
	defer d.Stop()

	d.EnqueueSummary("abc")
	waitFor(t, "drop", func() bool { return d.Stats().Failed == 1 })
}

func TestDispatcherOverflowQueue(t *testing.T) {
	cfg := fastConfig()
	cfg.QueueSize = 1
	d := NewDispatcher(cfg, testLogger(), nil)

	var runs atomic.Int32
	d.Register(KindTranscribe, HandlerFunc(func(ctx context.Context, job Job) error {
		runs.Add(1)
		return nil
	}))

	for i := 0; i < 10; i++ {
		d.EnqueueTranscription("abc", i, "p")
	}
	d.Start(context.Background())
	defer d.Stop()

	waitFor(t, "all jobs", func() bool { return runs.Load() == 10 })
}

func TestDispatcherStop(t *testing.T) {
	d := NewDispatcher(fastConfig(), testLogger(), nil)

	started := make(chan struct{})
	d.Register(KindTranscribe, HandlerFunc(func(ctx context.Context, job Job) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))
	d.Start(context.Background())
	d.EnqueueTranscription("abc", 0, "p")
	<-started

	stopped := make(chan struct{})
	go func() {
		d.Stop()
		d.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}

	if d.Stats().Retried != 0 {
		t.Error("Expected no retry for a job cancelled by Stop")
	}
	if d.Enqueue(Job{Kind: KindTranscribe, Key: "late"}) {
		t.Error("Expected enqueue rejected after Stop")
	}
}

func TestDispatcherBackoff(t *testing.T) {
	d := NewDispatcher(Config{InitialBackoff: time.Second, MaxBackoff: 5 * time.Second}, testLogger(), nil)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 5 * time.Second},
		{10, 5 * time.Second},
	}
	for _, tt := range tests {
		if got := d.backoff(tt.attempt); got != tt.want {
			t.Errorf("Attempt %d: expected %v, got %v", tt.attempt, tt.want, got)
		}
	}
}
