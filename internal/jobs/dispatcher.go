package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/skypro1111/echo-recorder/internal/metrics"
)

// Kind names a job handler.
type Kind string

const (
	KindTranscribe Kind = "transcribe"
	KindSummary    Kind = "summary"
)

// ErrPermanent marks a handler failure that must not be retried.
var ErrPermanent = errors.New("permanent job failure")

// Permanent wraps err so the dispatcher drops the job instead of retrying it.
func Permanent(err error) error {
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// Job is one unit of background work. Key identifies the job for deduplication.
type Job struct {
	Kind         Kind
	Key          string
	SessionID    string
	SegmentIndex int
	Path         string
	Attempt      int
}

// TranscribeKey is the unique key of the transcription job for one segment.
func TranscribeKey(sessionID string, index int) string {
	return fmt.Sprintf("transcribe:%s:%d", sessionID, index)
}

// SummaryKey is the unique key of the summary job for one session.
func SummaryKey(sessionID string) string {
	return "summary:" + sessionID
}

// Handler executes jobs of one kind. Returning nil completes the job, an
// error schedules a retry and an error wrapping ErrPermanent drops it.
type Handler interface {
	Handle(ctx context.Context, job Job) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job Job) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, job Job) error {
	return f(ctx, job)
}

// Config contains dispatcher configuration
type Config struct {
	Workers        int
	QueueSize      int
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultConfig returns the dispatcher defaults.
func DefaultConfig() Config {
	return Config{
		Workers:        2,
		QueueSize:      64,
		MaxAttempts:    5,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     2 * time.Minute,
	}
}

// Stats is a snapshot of dispatcher counters.
type Stats struct {
	Pending   int    `json:"pending"`
	Enqueued  uint64 `json:"enqueued"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
	Retried   uint64 `json:"retried"`
}

// Dispatcher runs keyed jobs on a fixed worker pool. A key stays reserved from
// Enqueue until the job completes or is abandoned, so duplicates are dropped
// while the first is queued, running or waiting for a retry.
type Dispatcher struct {
	config   Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	queue    chan Job
	handlers map[Kind]Handler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	pending map[string]struct{}
	timers  map[string]*time.Timer
	started bool
	stopped bool

	enqueued  uint64
	completed uint64
	failed    uint64
	retried   uint64
}

// NewDispatcher creates a dispatcher. Jobs may be enqueued before Start; they
// run once workers are started. m may be nil.
func NewDispatcher(config Config, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	defaults := DefaultConfig()
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = defaults.InitialBackoff
	}
	if config.MaxBackoff < config.InitialBackoff {
		config.MaxBackoff = config.InitialBackoff
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		config:   config,
		logger:   logger,
		metrics:  m,
		queue:    make(chan Job, config.QueueSize),
		handlers: make(map[Kind]Handler),
		ctx:      ctx,
		cancel:   cancel,
		pending:  make(map[string]struct{}),
		timers:   make(map[string]*time.Timer),
	}
}

// Register sets the handler for a job kind. Call before Start.
func (d *Dispatcher) Register(kind Kind, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[kind] = h
}

// Enqueue schedules a job. It returns false when a job with the same key is
// already pending or the dispatcher is stopped.
func (d *Dispatcher) Enqueue(job Job) bool {
	if job.Key == "" {
		job.Key = string(job.Kind) + ":" + job.SessionID
	}
	job.Attempt = 0

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return false
	}
	if _, dup := d.pending[job.Key]; dup {
		d.mu.Unlock()
		d.logger.Debug("Job already pending", slog.String("key", job.Key))
		return false
	}
	d.pending[job.Key] = struct{}{}
	d.enqueued++
	d.mu.Unlock()

	d.metrics.RecordJobEnqueued(string(job.Kind))
	d.logger.Debug("Job enqueued", slog.String("key", job.Key))
	d.deliver(job)
	return true
}

// EnqueueTranscription schedules transcription of a closed segment.
func (d *Dispatcher) EnqueueTranscription(sessionID string, index int, path string) {
	d.Enqueue(Job{
		Kind:         KindTranscribe,
		Key:          TranscribeKey(sessionID, index),
		SessionID:    sessionID,
		SegmentIndex: index,
		Path:         path,
	})
}

// EnqueueSummary schedules summary generation for a session.
func (d *Dispatcher) EnqueueSummary(sessionID string) {
	d.Enqueue(Job{
		Kind:      KindSummary,
		Key:       SummaryKey(sessionID),
		SessionID: sessionID,
	})
}

// deliver hands the job to the queue without blocking the caller. The audio
// path enqueues transcriptions, so a full queue is drained from a goroutine.
func (d *Dispatcher) deliver(job Job) {
	select {
	case d.queue <- job:
		return
	default:
	}

	go func() {
		select {
		case d.queue <- job:
		case <-d.ctx.Done():
		}
	}()
}

// Start launches the worker pool. Workers stop when ctx is cancelled or Stop is called.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if d.started || d.stopped {
		d.mu.Unlock()
		return
	}
	d.started = true
	d.mu.Unlock()

	for i := 0; i < d.config.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}

	d.logger.Info("Job dispatcher started",
		slog.Int("workers", d.config.Workers),
		slog.Int("queue_size", d.config.QueueSize),
		slog.Int("max_attempts", d.config.MaxAttempts))
}

// Stop cancels running jobs and pending retries and waits for the workers.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	for key, t := range d.timers {
		t.Stop()
		delete(d.timers, key)
	}
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()

	stats := d.Stats()
	d.logger.Info("Job dispatcher stopped",
		slog.Int("pending", stats.Pending),
		slog.Uint64("completed", stats.Completed),
		slog.Uint64("failed", stats.Failed))
}

// Stats returns current counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		Pending:   len(d.pending),
		Enqueued:  d.enqueued,
		Completed: d.completed,
		Failed:    d.failed,
		Retried:   d.retried,
	}
}

// IsPending reports whether a job with key is queued, running or awaiting retry.
func (d *Dispatcher) IsPending(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pending[key]
	return ok
}

func (d *Dispatcher) worker(ctx context.Context, id int) {
	defer d.wg.Done()

	d.logger.Debug("Job worker started", slog.Int("worker_id", id))
	defer d.logger.Debug("Job worker stopped", slog.Int("worker_id", id))

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.ctx.Done():
			return
		case job := <-d.queue:
			d.run(job)
		}
	}
}

func (d *Dispatcher) run(job Job) {
	d.mu.Lock()
	h, ok := d.handlers[job.Kind]
	d.mu.Unlock()

	if !ok {
		d.logger.Error("No handler registered for job",
			slog.String("key", job.Key),
			slog.String("kind", string(job.Kind)))
		d.finish(job, false)
		return
	}

	start := time.Now()
	err := h.Handle(d.ctx, job)
	if err == nil {
		d.logger.Debug("Job completed",
			slog.String("key", job.Key),
			slog.Int("attempt", job.Attempt+1),
			slog.Duration("duration", time.Since(start)))
		d.finish(job, true)
		return
	}

	switch {
	case errors.Is(err, ErrPermanent):
		d.logger.Warn("Job failed permanently",
			slog.String("key", job.Key),
			slog.String("error", err.Error()))
		d.finish(job, false)
	case d.ctx.Err() != nil:
		// Stopped mid-run. The key is released and the job is picked up by
		// the startup requeue on the next run.
		d.finish(job, false)
	case job.Attempt+1 >= d.config.MaxAttempts:
		d.logger.Error("Job abandoned after max attempts",
			slog.String("key", job.Key),
			slog.Int("attempts", job.Attempt+1),
			slog.String("error", err.Error()))
		d.finish(job, false)
	default:
		d.retry(job, err)
	}
}

func (d *Dispatcher) retry(job Job, cause error) {
	job.Attempt++
	delay := d.backoff(job.Attempt)

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		d.finish(job, false)
		return
	}
	d.retried++
	d.timers[job.Key] = time.AfterFunc(delay, func() {
		d.mu.Lock()
		delete(d.timers, job.Key)
		stopped := d.stopped
		d.mu.Unlock()
		if !stopped {
			d.deliver(job)
		}
	})
	d.mu.Unlock()

	d.metrics.RecordJobRetried(string(job.Kind))
	d.logger.Warn("Job failed, retrying",
		slog.String("key", job.Key),
		slog.Int("attempt", job.Attempt),
		slog.Duration("backoff", delay),
		slog.String("error", cause.Error()))
}

// backoff doubles InitialBackoff for every attempt after the first retry, capped at MaxBackoff.
func (d *Dispatcher) backoff(attempt int) time.Duration {
	delay := d.config.InitialBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= d.config.MaxBackoff {
			return d.config.MaxBackoff
		}
	}
	return delay
}

func (d *Dispatcher) finish(job Job, ok bool) {
	d.mu.Lock()
	delete(d.pending, job.Key)
	if ok {
		d.completed++
	} else {
		d.failed++
	}
	d.mu.Unlock()

	if ok {
		d.metrics.RecordJobCompleted(string(job.Kind))
	} else {
		d.metrics.RecordJobFailed(string(job.Kind))
	}
}
