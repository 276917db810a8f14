package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/skypro1111/echo-recorder/internal/audio"
	"github.com/skypro1111/echo-recorder/internal/capture"
	"github.com/skypro1111/echo-recorder/internal/metrics"
	"github.com/skypro1111/echo-recorder/internal/store"
	"github.com/skypro1111/echo-recorder/internal/vad"
)

var (
	// ErrAudioSource marks failures of the capture device.
	ErrAudioSource = errors.New("audio source failure")
	// ErrStorage marks failures writing audio, recovery state or repository records.
	ErrStorage = errors.New("storage failure")
	// ErrInvalidTransition is returned by Start while a session is paused.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// Repository is the subset of the store the controller writes to.
type Repository interface {
	CreateSession(ctx context.Context) (store.Session, error)
	AddSegment(ctx context.Context, seg store.Segment) error
	UpdateSessionStatus(ctx context.Context, sessionID string, status store.SessionStatus) error
	FinishSession(ctx context.Context, sessionID string) error
}

// SummaryEnqueuer schedules summary generation for a finished session.
type SummaryEnqueuer interface {
	EnqueueSummary(sessionID string)
}

// Chunker is the segment writer driven by the controller.
type Chunker interface {
	Start(sessionID string, startIndex int) error
	OnData(p []byte) error
	Stop() error
	SetSegmentListener(listener audio.SegmentListener)
}

// SilenceDetector reports sustained silence in the captured audio.
type SilenceDetector interface {
	OnData(p []byte) vad.SilenceEvent
	Reset()
}

// Options configures a Controller. Source, Chunker, Detector, Repository and
// States are required.
type Options struct {
	Source     capture.Source
	Chunker    Chunker
	Detector   SilenceDetector
	Repository Repository
	States     StateStore
	Summaries  SummaryEnqueuer
	Metrics    *metrics.Metrics
	Logger     *slog.Logger

	// Realtime reads the millisecond clock behind elapsed time. It should not
	// step with wall-clock adjustments. When nil it is derived from Clock if
	// set, otherwise the boot clock is used.
	Realtime        func() int64
	Clock           func() time.Time
	TickInterval    time.Duration
	SegmentDuration time.Duration
	// DataDir must be writable before a new session is started. Empty skips the check.
	DataDir string
}

// Info is a point-in-time view of the controller.
type Info struct {
	Status         Status
	SessionID      string
	StartedAt      time.Time
	Elapsed        time.Duration
	LastChunkIndex int
	Capturing      bool
}

// Controller owns one recording session at a time.
//
// Control operations are serialized by gate. Short field updates, including
// every status change, happen under mu so the audio callback never waits on a
// control operation.
type Controller struct {
	source     capture.Source
	chunker    Chunker
	detector   SilenceDetector
	repo       Repository
	states     StateStore
	summaries  SummaryEnqueuer
	metrics    *metrics.Metrics
	logger     *slog.Logger
	realtime   func() int64
	tick       time.Duration
	segmentSec int
	dataDir    string

	gate       sync.Mutex
	tickCancel context.CancelFunc
	tickDone   chan struct{}

	mu             sync.Mutex
	sessionID      string
	sessionStarted time.Time
	startRealtime  int64
	accumulated    int64
	lastResumed    *int64
	lastChunkIndex int
	capturing      bool
	chunkerOpen    bool
	failed         bool
	lastErr        error
	generation     uint64

	status  *Value[Status]
	elapsed *Value[int64]
}

// NewController creates a controller and restores any persisted session.
func NewController(opts Options) (*Controller, error) {
	if opts.Source == nil {
		return nil, fmt.Errorf("audio source is required")
	}
	if opts.Chunker == nil {
		return nil, fmt.Errorf("chunker is required")
	}
	if opts.Detector == nil {
		return nil, fmt.Errorf("silence detector is required")
	}
	if opts.Repository == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if opts.States == nil {
		return nil, fmt.Errorf("state store is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Realtime == nil {
		if opts.Clock != nil {
			clock := opts.Clock
			opts.Realtime = func() int64 { return clock().UnixMilli() }
		} else {
			opts.Realtime = bootClockMs
		}
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = 100 * time.Millisecond
	}
	if opts.SegmentDuration <= 0 {
		opts.SegmentDuration = 30 * time.Second
	}

	c := &Controller{
		source:         opts.Source,
		chunker:        opts.Chunker,
		detector:       opts.Detector,
		repo:           opts.Repository,
		states:         opts.States,
		summaries:      opts.Summaries,
		metrics:        opts.Metrics,
		logger:         opts.Logger,
		realtime:       opts.Realtime,
		tick:           opts.TickInterval,
		segmentSec:     int(opts.SegmentDuration / time.Second),
		dataDir:        opts.DataDir,
		lastChunkIndex: -1,
		status:         NewValue(StatusStopped()),
		elapsed:        NewValue(int64(0)),
	}
	c.chunker.SetSegmentListener(c)

	c.recover()

	return c, nil
}

func (c *Controller) recover() {
	state, err := c.states.Load()
	if err != nil {
		c.logger.Warn("Discarding unreadable recovery state", slog.String("error", err.Error()))
		if err := c.states.Clear(); err != nil {
			c.logger.Warn("Failed to clear recovery state", slog.String("error", err.Error()))
		}
		return
	}
	if state == nil {
		return
	}
	if state.SessionID == "" || (state.Status != RecoveryRecording && state.Status != RecoveryPaused) {
		c.logger.Warn("Discarding incomplete recovery state", slog.String("status", state.Status))
		if err := c.states.Clear(); err != nil {
			c.logger.Warn("Failed to clear recovery state", slog.String("error", err.Error()))
		}
		return
	}

	c.mu.Lock()
	c.sessionID = state.SessionID
	c.sessionStarted = time.UnixMilli(state.StartedAtMs)
	c.startRealtime = state.StartRealtimeMs
	c.accumulated = state.AccumulatedMs
	c.lastChunkIndex = state.LastChunkIndex
	if state.Status == RecoveryRecording {
		resumed := c.nowMs()
		if state.LastResumedRealtime != nil {
			resumed = *state.LastResumedRealtime
		}
		c.lastResumed = &resumed
		c.setStatusLocked(StatusRecording())
	} else {
		c.lastResumed = nil
		c.setStatusLocked(StatusPaused(PauseProcessRestart))
	}
	c.mu.Unlock()

	c.detector.Reset()
	c.publishElapsed()

	if state.Status == RecoveryRecording {
		c.gate.Lock()
		c.startTicker()
		c.gate.Unlock()
	}

	c.logger.Info("Recovered recording session",
		slog.String("session_id", state.SessionID),
		slog.String("status", c.status.Get().String()),
		slog.Int64("elapsed_ms", c.elapsed.Get()),
		slog.Int("last_chunk_index", state.LastChunkIndex))
}

// Status returns the observable recorder status.
func (c *Controller) Status() *Value[Status] {
	return c.status
}

// ElapsedMillis returns the observable elapsed time, refreshed every tick.
func (c *Controller) ElapsedMillis() *Value[int64] {
	return c.elapsed
}

// Elapsed computes the recorded time of the current session now.
func (c *Controller) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Duration(c.elapsedLocked(c.nowMs())) * time.Millisecond
}

// Err returns the failure behind the current Error status, or nil.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// SessionID returns the current session id, or "" when stopped.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Info returns a consistent snapshot of the controller.
func (c *Controller) Info() Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Info{
		Status:         c.status.Get(),
		SessionID:      c.sessionID,
		StartedAt:      c.sessionStarted,
		Elapsed:        time.Duration(c.elapsedLocked(c.nowMs())) * time.Millisecond,
		LastChunkIndex: c.lastChunkIndex,
		Capturing:      c.capturing,
	}
}

// Start begins a new session. When a recovered session is in the Recording
// state, Start re-attaches the audio source to it instead.
func (c *Controller) Start(ctx context.Context) error {
	c.gate.Lock()
	defer c.gate.Unlock()

	c.mu.Lock()
	st := c.status.Get()
	capturing := c.capturing
	hasSession := c.sessionID != ""
	c.mu.Unlock()

	switch st.State {
	case Recording, Warning:
		if capturing {
			return nil
		}
		c.logger.Info("Re-attaching audio source to recovered session", slog.String("session_id", c.SessionID()))
		return c.attachLocked()
	case Paused:
		return fmt.Errorf("%w: session is paused, resume it instead", ErrInvalidTransition)
	case Error:
		if hasSession {
			if err := c.stopLocked(ctx); err != nil {
				return err
			}
		}
	}

	return c.startLocked(ctx)
}

func (c *Controller) startLocked(ctx context.Context) error {
	if err := c.checkStorage(); err != nil {
		return err
	}

	sess, err := c.repo.CreateSession(ctx)
	if err != nil {
		return fmt.Errorf("%w: create session: %w", ErrStorage, err)
	}

	now := c.nowMs()
	resumed := now
	state := RecoveryState{
		SessionID:           sess.ID,
		StartedAtMs:         sess.StartedAt.UnixMilli(),
		LastChunkIndex:      -1,
		Status:              RecoveryRecording,
		StartRealtimeMs:     now,
		AccumulatedMs:       0,
		LastResumedRealtime: &resumed,
	}
	if err := c.states.Save(state); err != nil {
		return fmt.Errorf("%w: save recovery state: %w", ErrStorage, err)
	}

	c.mu.Lock()
	c.sessionID = sess.ID
	c.sessionStarted = sess.StartedAt
	c.startRealtime = now
	c.accumulated = 0
	c.lastResumed = &resumed
	c.lastChunkIndex = -1
	c.setStatusLocked(StatusRecording())
	c.mu.Unlock()
	c.publishElapsed()

	c.logger.Info("Recording started", slog.String("session_id", sess.ID))

	return c.attachLocked()
}

// Pause freezes elapsed time and releases the audio source. The open segment
// stays open and continues when the session resumes.
func (c *Controller) Pause(ctx context.Context, reason PauseReason) error {
	c.gate.Lock()
	defer c.gate.Unlock()

	c.mu.Lock()
	if !c.status.Get().Active() {
		st := c.status.Get()
		c.mu.Unlock()
		c.logger.Debug("Ignoring pause", slog.String("status", st.String()))
		return nil
	}
	c.accumulated = c.elapsedLocked(c.nowMs())
	c.lastResumed = nil
	snapshot := c.snapshotLocked(RecoveryPaused)
	c.setStatusLocked(StatusPaused(reason))
	c.mu.Unlock()

	saveErr := c.states.Save(snapshot)
	if err := c.detachLocked(false); err != nil {
		c.logger.Warn("Error while detaching audio", slog.String("error", err.Error()))
	}
	c.publishElapsed()
	c.markSession(ctx, snapshot.SessionID, store.SessionPaused)

	c.logger.Info("Recording paused",
		slog.String("session_id", snapshot.SessionID),
		slog.String("reason", reason.String()),
		slog.Int64("elapsed_ms", snapshot.AccumulatedMs))

	if saveErr != nil {
		return fmt.Errorf("%w: save recovery state: %w", ErrStorage, saveErr)
	}
	return nil
}

// Resume continues a paused session.
func (c *Controller) Resume(ctx context.Context) error {
	c.gate.Lock()
	defer c.gate.Unlock()

	c.mu.Lock()
	prev := c.status.Get()
	if prev.State != Paused {
		c.mu.Unlock()
		c.logger.Debug("Ignoring resume", slog.String("status", prev.String()))
		return nil
	}
	now := c.nowMs()
	c.lastResumed = &now
	snapshot := c.snapshotLocked(RecoveryRecording)
	c.setStatusLocked(StatusRecording())
	c.mu.Unlock()

	if err := c.states.Save(snapshot); err != nil {
		c.mu.Lock()
		c.lastResumed = nil
		c.setStatusLocked(prev)
		c.mu.Unlock()
		return fmt.Errorf("%w: save recovery state: %w", ErrStorage, err)
	}
	c.markSession(ctx, snapshot.SessionID, store.SessionRecording)

	c.logger.Info("Recording resumed",
		slog.String("session_id", snapshot.SessionID),
		slog.String("paused_for", prev.PauseReason.String()))

	return c.attachLocked()
}

// Stop ends the current session. Stopping with no session is a no-op.
func (c *Controller) Stop(ctx context.Context) error {
	c.gate.Lock()
	defer c.gate.Unlock()
	return c.stopLocked(ctx)
}

func (c *Controller) stopLocked(ctx context.Context) error {
	c.mu.Lock()
	id := c.sessionID
	if id == "" {
		if c.status.Get().State != Stopped {
			c.setStatusLocked(StatusStopped())
		}
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.detachLocked(true); err != nil {
		c.logger.Warn("Error while finalizing audio", slog.String("session_id", id), slog.String("error", err.Error()))
	}

	c.mu.Lock()
	c.accumulated = c.elapsedLocked(c.nowMs())
	c.lastResumed = nil
	elapsed := c.accumulated
	c.mu.Unlock()

	// Audio is already torn down, so finalize even if the caller has gone away.
	if err := c.repo.FinishSession(context.WithoutCancel(ctx), id); err != nil && !errors.Is(err, store.ErrNotFound) {
		err = fmt.Errorf("%w: finish session %s: %w", ErrStorage, id, err)
		c.mu.Lock()
		c.failed = true
		c.lastErr = err
		snapshot := c.snapshotLocked(RecoveryPaused)
		c.setStatusLocked(StatusError("Failed to finalize session"))
		c.mu.Unlock()
		if saveErr := c.states.Save(snapshot); saveErr != nil {
			c.logger.Warn("Failed to save recovery state", slog.String("error", saveErr.Error()))
		}
		return err
	}

	if c.summaries != nil {
		c.summaries.EnqueueSummary(id)
	}

	clearErr := c.states.Clear()
	c.detector.Reset()

	c.mu.Lock()
	c.sessionID = ""
	c.sessionStarted = time.Time{}
	c.startRealtime = 0
	c.accumulated = 0
	c.lastResumed = nil
	c.lastChunkIndex = -1
	c.failed = false
	c.lastErr = nil
	c.setStatusLocked(StatusStopped())
	c.mu.Unlock()
	c.publishElapsed()

	c.logger.Info("Recording stopped",
		slog.String("session_id", id),
		slog.Int64("elapsed_ms", elapsed))

	if clearErr != nil {
		return fmt.Errorf("%w: clear recovery state: %w", ErrStorage, clearErr)
	}
	return nil
}

// Close releases the audio source and finalizes the open segment without
// ending the session, so it can be recovered by the next process.
func (c *Controller) Close() error {
	c.gate.Lock()
	defer c.gate.Unlock()

	err := c.detachLocked(true)

	c.mu.Lock()
	var snapshot *RecoveryState
	if c.sessionID != "" {
		s := c.snapshotLocked(recoveryStatusFor(c.status.Get()))
		snapshot = &s
	}
	c.mu.Unlock()

	if snapshot != nil {
		if saveErr := c.states.Save(*snapshot); saveErr != nil {
			err = errors.Join(err, fmt.Errorf("%w: save recovery state: %w", ErrStorage, saveErr))
		}
	}
	return err
}

// OnSegmentClosed records a finalized segment and advances lastChunkIndex.
func (c *Controller) OnSegmentClosed(seg audio.ClosedSegment) {
	c.mu.Lock()
	current := seg.SessionID == c.sessionID
	var snapshot *RecoveryState
	if current {
		if seg.Index > c.lastChunkIndex {
			c.lastChunkIndex = seg.Index
		}
		if st := c.status.Get(); st.State != Stopped {
			s := c.snapshotLocked(recoveryStatusFor(st))
			snapshot = &s
		}
	}
	c.mu.Unlock()

	if !current {
		c.logger.Warn("Segment closed for inactive session",
			slog.String("session_id", seg.SessionID),
			slog.Int("index", seg.Index))
	}
	if snapshot != nil {
		if err := c.states.Save(*snapshot); err != nil {
			c.logger.Warn("Failed to save recovery state", slog.String("error", err.Error()))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.repo.AddSegment(ctx, store.Segment{
		SessionID:   seg.SessionID,
		Index:       seg.Index,
		Path:        seg.Path,
		DurationSec: c.segmentSec,
		CreatedAt:   seg.ClosedAt,
	}); err != nil {
		c.logger.Error("Failed to record segment",
			slog.String("session_id", seg.SessionID),
			slog.Int("index", seg.Index),
			slog.String("error", err.Error()))
	}

	c.metrics.RecordSegmentClosed(seg.DataBytes + audio.WAVHeaderSize)
}

// attachLocked opens the chunker if needed and starts the timer and source.
func (c *Controller) attachLocked() error {
	c.mu.Lock()
	id := c.sessionID
	next := c.lastChunkIndex + 1
	open := c.chunkerOpen
	c.failed = false
	c.lastErr = nil
	c.generation++
	gen := c.generation
	c.mu.Unlock()

	if !open {
		if err := c.chunker.Start(id, next); err != nil {
			return c.failLocked("Failed to open audio segment", fmt.Errorf("%w: start chunker: %w", ErrStorage, err))
		}
		c.mu.Lock()
		c.chunkerOpen = true
		c.mu.Unlock()
	}

	c.detector.Reset()
	c.startTicker()

	onError := func(err error) {
		c.handleFailure(gen, "Audio engine failed", fmt.Errorf("%w: %w", ErrAudioSource, err))
	}
	if err := c.source.Start(c.handleAudio, onError); err != nil {
		return c.failLocked("Audio engine failed", fmt.Errorf("%w: %w", ErrAudioSource, err))
	}

	c.mu.Lock()
	c.capturing = true
	c.metrics.RecordStateTransition(c.status.Get().State.String(), true)
	c.mu.Unlock()

	return nil
}

// detachLocked stops the source and timer, and the chunker when closeChunker is set.
func (c *Controller) detachLocked(closeChunker bool) error {
	c.mu.Lock()
	capturing := c.capturing
	open := c.chunkerOpen
	c.capturing = false
	c.generation++
	c.mu.Unlock()

	var errs []error
	if capturing {
		if err := c.source.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("%w: stop: %w", ErrAudioSource, err))
		}
	}
	c.stopTicker()

	if closeChunker && open {
		err := c.chunker.Stop()
		c.mu.Lock()
		c.chunkerOpen = false
		c.mu.Unlock()
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: finalize segment: %w", ErrStorage, err))
		}
	}
	return errors.Join(errs...)
}

// failLocked moves to Error after a control operation could not bring audio
// up. The session stays open and is persisted as paused.
func (c *Controller) failLocked(msg string, cause error) error {
	c.mu.Lock()
	c.accumulated = c.elapsedLocked(c.nowMs())
	c.lastResumed = nil
	c.failed = true
	c.lastErr = cause
	c.setStatusLocked(StatusError(msg))
	c.mu.Unlock()

	if err := c.detachLocked(true); err != nil {
		c.logger.Warn("Error while detaching audio", slog.String("error", err.Error()))
	}
	c.publishElapsed()

	c.mu.Lock()
	snapshot := c.snapshotLocked(RecoveryPaused)
	c.mu.Unlock()
	if err := c.states.Save(snapshot); err != nil {
		c.logger.Warn("Failed to save recovery state", slog.String("error", err.Error()))
	}

	c.metrics.RecordCaptureFailure()
	c.logger.Error("Recording failed",
		slog.String("session_id", snapshot.SessionID),
		slog.String("error", cause.Error()))

	return cause
}

func (c *Controller) handleAudio(p []byte) {
	c.mu.Lock()
	failed := c.failed
	gen := c.generation
	c.mu.Unlock()
	if failed {
		return
	}

	if err := c.chunker.OnData(p); err != nil {
		c.handleFailure(gen, "Failed to write audio", fmt.Errorf("%w: write segment: %w", ErrAudioSource, err))
		return
	}

	switch c.detector.OnData(p) {
	case vad.SilentFor10s:
		c.mu.Lock()
		if c.status.Get().State == Recording {
			c.setStatusLocked(StatusWarning(SilenceWarningMessage))
			c.metrics.RecordSilenceWarning()
		}
		c.mu.Unlock()
	case vad.SoundResumed:
		c.mu.Lock()
		if c.status.Get().State == Warning {
			c.setStatusLocked(StatusRecording())
		}
		c.mu.Unlock()
	}
}

// handleFailure runs on the audio path. It flips the status at once and leaves
// releasing the source to a goroutine that can wait for the gate.
func (c *Controller) handleFailure(gen uint64, msg string, cause error) {
	c.mu.Lock()
	if c.failed || gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.failed = true
	c.lastErr = cause
	c.accumulated = c.elapsedLocked(c.nowMs())
	c.lastResumed = nil
	c.setStatusLocked(StatusError(msg))
	id := c.sessionID
	c.mu.Unlock()

	c.metrics.RecordCaptureFailure()
	c.logger.Error("Recording failed",
		slog.String("session_id", id),
		slog.String("error", cause.Error()))

	go c.teardownAfterFailure(gen)
}

func (c *Controller) teardownAfterFailure(gen uint64) {
	c.gate.Lock()
	defer c.gate.Unlock()

	c.mu.Lock()
	stale := gen != c.generation
	c.mu.Unlock()
	if stale {
		return
	}

	if err := c.detachLocked(true); err != nil {
		c.logger.Warn("Error while detaching audio", slog.String("error", err.Error()))
	}

	c.mu.Lock()
	var snapshot *RecoveryState
	if c.sessionID != "" {
		s := c.snapshotLocked(RecoveryPaused)
		snapshot = &s
	}
	c.mu.Unlock()

	if snapshot != nil {
		if err := c.states.Save(*snapshot); err != nil {
			c.logger.Warn("Failed to save recovery state", slog.String("error", err.Error()))
		}
	}
	c.publishElapsed()
}

func (c *Controller) startTicker() {
	if c.tickCancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.tickCancel = cancel
	c.tickDone = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(c.tick)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.publishElapsed()
			}
		}
	}()
}

func (c *Controller) stopTicker() {
	if c.tickCancel == nil {
		return
	}
	c.tickCancel()
	<-c.tickDone
	c.tickCancel = nil
	c.tickDone = nil
}

func (c *Controller) publishElapsed() {
	c.mu.Lock()
	ms := c.elapsedLocked(c.nowMs())
	c.mu.Unlock()

	c.elapsed.Set(ms)
	c.metrics.SetElapsed(float64(ms) / 1000)
}

func (c *Controller) setStatusLocked(st Status) {
	prev := c.status.Get()
	if prev == st {
		return
	}
	c.status.Set(st)
	c.metrics.RecordStateTransition(st.State.String(), c.capturing && st.Active())
	c.logger.Debug("Status changed",
		slog.String("from", prev.String()),
		slog.String("to", st.String()))
}

// elapsedLocked never runs backwards if the wall clock steps back.
func (c *Controller) elapsedLocked(now int64) int64 {
	e := c.accumulated
	if c.lastResumed != nil {
		if d := now - *c.lastResumed; d > 0 {
			e += d
		}
	}
	return e
}

func (c *Controller) snapshotLocked(status string) RecoveryState {
	s := RecoveryState{
		SessionID:       c.sessionID,
		StartedAtMs:     c.sessionStarted.UnixMilli(),
		LastChunkIndex:  c.lastChunkIndex,
		Status:          status,
		StartRealtimeMs: c.startRealtime,
		AccumulatedMs:   c.accumulated,
	}
	if status == RecoveryRecording && c.lastResumed != nil {
		resumed := *c.lastResumed
		s.LastResumedRealtime = &resumed
	}
	return s
}

func recoveryStatusFor(st Status) string {
	if st.Active() {
		return RecoveryRecording
	}
	return RecoveryPaused
}

func (c *Controller) nowMs() int64 {
	return c.realtime()
}

// markSession mirrors pause and resume into the session record. The recovery
// state is authoritative, so failures are only logged.
func (c *Controller) markSession(ctx context.Context, id string, status store.SessionStatus) {
	err := c.repo.UpdateSessionStatus(context.WithoutCancel(ctx), id, status)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		c.logger.Warn("Failed to update session status",
			slog.String("session_id", id),
			slog.String("status", string(status)),
			slog.String("error", err.Error()))
	}
}

// checkStorage verifies the data directory accepts new files.
func (c *Controller) checkStorage() error {
	if c.dataDir == "" {
		return nil
	}
	if err := os.MkdirAll(c.dataDir, 0o755); err != nil {
		return fmt.Errorf("%w: data directory %s: %w", ErrStorage, c.dataDir, err)
	}
	probe, err := os.CreateTemp(c.dataDir, ".write-check-*")
	if err != nil {
		return fmt.Errorf("%w: data directory %s is not writable: %w", ErrStorage, c.dataDir, err)
	}
	probe.Close()
	os.Remove(probe.Name())
	return nil
}
