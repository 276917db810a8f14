package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/echo-recorder/internal/config"
	"github.com/skypro1111/echo-recorder/internal/jobs"
	"github.com/skypro1111/echo-recorder/internal/metrics"
	"github.com/skypro1111/echo-recorder/internal/recorder"
	"github.com/skypro1111/echo-recorder/internal/store"
	"github.com/skypro1111/echo-recorder/internal/transcription"
)

// Recorder is the recording control surface exposed over HTTP.
type Recorder interface {
	Start(ctx context.Context) error
	Pause(ctx context.Context, reason recorder.PauseReason) error
	Resume(ctx context.Context) error
	Stop(ctx context.Context) error
	Info() recorder.Info
	Status() *recorder.Value[recorder.Status]
}

// Sessions is the part of the repository the API reads and deletes from.
type Sessions interface {
	ListSessions(ctx context.Context) ([]store.SessionWithSegments, error)
	GetSession(ctx context.Context, sessionID string) (*store.SessionWithSegments, error)
	TranscriptLines(ctx context.Context, sessionID string) ([]store.TranscriptLine, error)
	GetSummary(ctx context.Context, sessionID string) (*store.Summary, error)
	WatchSummary(sessionID string) (<-chan store.Summary, func())
	DeleteSession(ctx context.Context, sessionID string) error
}

// SummaryEnqueuer schedules summary generation.
type SummaryEnqueuer interface {
	EnqueueSummary(sessionID string)
}

// JobStats reports work queue counters.
type JobStats interface {
	Stats() jobs.Stats
}

// TranscriptionStats reports upload counters.
type TranscriptionStats interface {
	GetStats() transcription.ClientStats
}

// Options wires the HTTP server to the rest of the service. Recorder and
// Sessions are required. Jobs and Transcription only feed /health.
type Options struct {
	Recorder      Recorder
	Sessions      Sessions
	Summaries     SummaryEnqueuer
	Jobs          JobStats
	Transcription TranscriptionStats
	Metrics       *metrics.Metrics
	Gatherer      prometheus.Gatherer
	Logger        *slog.Logger
}

// HTTPServer provides the control and monitoring API
type HTTPServer struct {
	server *http.Server
	router *gin.Engine
	opts   Options
	logger *slog.Logger

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg config.HTTPConfig, opts Options) *HTTPServer {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	h := &HTTPServer{
		router:    router,
		opts:      opts,
		logger:    opts.Logger,
		startTime: time.Now(),
	}

	router.Use(gin.Recovery(), h.requestLogger())
	h.setupRoutes()

	h.server = &http.Server{
		Addr:         cfg.ListenAddress(),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // status stream is long-lived
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// Handler returns the routed handler.
func (h *HTTPServer) Handler() http.Handler {
	return h.router
}

func (h *HTTPServer) setupRoutes() {
	r := h.router

	r.GET("/health", h.withMetrics(h.handleHealth))
	r.GET("/status", h.withMetrics(h.handleStatus))
	r.GET("/status/stream", h.handleStatusStream)

	rec := r.Group("/recording")
	{
		rec.POST("/start", h.withMetrics(h.handleStart))
		rec.POST("/pause", h.withMetrics(h.handlePause))
		rec.POST("/resume", h.withMetrics(h.handleResume))
		rec.POST("/stop", h.withMetrics(h.handleStop))
	}

	sessions := r.Group("/sessions")
	{
		sessions.GET("", h.withMetrics(h.handleListSessions))
		sessions.GET("/:id", h.withMetrics(h.handleGetSession))
		sessions.DELETE("/:id", h.withMetrics(h.handleDeleteSession))
		sessions.GET("/:id/transcript", h.withMetrics(h.handleTranscript))
		sessions.GET("/:id/summary", h.withMetrics(h.handleGetSummary))
		sessions.POST("/:id/summary", h.withMetrics(h.handleGenerateSummary))
		sessions.GET("/:id/summary/stream", h.handleSummaryStream)
	}

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.opts.Gatherer, promhttp.HandlerOpts{})))
}

// withMetrics wraps a handler with request metrics, labelled by route pattern.
func (h *HTTPServer) withMetrics(handler gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		handler(c)

		endpoint := c.FullPath()
		status := c.Writer.Status()
		h.opts.Metrics.RecordHTTPRequest(c.Request.Method, endpoint, strconv.Itoa(status), time.Since(startTime).Seconds())

		if status >= 400 {
			errorType := "client_error"
			if status >= 500 {
				errorType = "server_error"
			}
			h.opts.Metrics.RecordHTTPError(c.Request.Method, endpoint, errorType)
		}
	}
}

// requestLogger logs each request at debug level and failures at warn.
func (h *HTTPServer) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := slog.LevelDebug
		if status >= 500 {
			level = slog.LevelWarn
		}
		h.logger.Log(c.Request.Context(), level, "HTTP request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", status),
			slog.Duration("latency", time.Since(start)),
			slog.String("client_ip", c.ClientIP()))
	}
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// statusResponse is the JSON form of recorder.Info.
type statusResponse struct {
	State          string     `json:"state"`
	Reason         string     `json:"reason,omitempty"`
	Message        string     `json:"message,omitempty"`
	SessionID      string     `json:"session_id,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	ElapsedMs      int64      `json:"elapsed_ms"`
	LastChunkIndex int        `json:"last_chunk_index"`
	Capturing      bool       `json:"capturing"`
}

func newStatusResponse(info recorder.Info) statusResponse {
	resp := statusResponse{
		State:          info.Status.State.String(),
		Message:        info.Status.Message,
		SessionID:      info.SessionID,
		ElapsedMs:      info.Elapsed.Milliseconds(),
		LastChunkIndex: info.LastChunkIndex,
		Capturing:      info.Capturing,
	}
	if info.Status.State == recorder.Paused {
		resp.Reason = info.Status.PauseReason.String()
	}
	if !info.StartedAt.IsZero() {
		started := info.StartedAt.UTC()
		resp.StartedAt = &started
	}
	return resp
}

func (h *HTTPServer) handleHealth(c *gin.Context) {
	components := gin.H{
		"recorder": gin.H{
			"status": h.opts.Recorder.Info().Status.String(),
		},
	}
	if h.opts.Jobs != nil {
		components["jobs"] = h.opts.Jobs.Stats()
	}
	if h.opts.Transcription != nil {
		components["transcription"] = h.opts.Transcription.GetStats()
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "healthy",
		"timestamp":  time.Now().UTC(),
		"uptime":     time.Since(h.startTime).String(),
		"service":    gin.H{"name": "echo-recorder", "version": "1.0.0"},
		"components": components,
	})
}

func (h *HTTPServer) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, newStatusResponse(h.opts.Recorder.Info()))
}

// handleStatusStream pushes the recorder status as server-sent events until
// the client disconnects.
func (h *HTTPServer) handleStatusStream(c *gin.Context) {
	updates, cancel := h.opts.Recorder.Status().Subscribe()
	defer cancel()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case _, ok := <-updates:
			if !ok {
				return false
			}
			c.SSEvent("status", newStatusResponse(h.opts.Recorder.Info()))
			return true
		}
	})
}

func (h *HTTPServer) control(c *gin.Context, op string, fn func(ctx context.Context) error) {
	if err := fn(c.Request.Context()); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, recorder.ErrInvalidTransition):
			status = http.StatusConflict
		case errors.Is(err, recorder.ErrAudioSource):
			status = http.StatusServiceUnavailable
		}
		h.logger.Warn("Recording control failed",
			slog.String("operation", op),
			slog.String("error", err.Error()))
		c.JSON(status, gin.H{
			"error":  err.Error(),
			"status": newStatusResponse(h.opts.Recorder.Info()),
		})
		return
	}
	c.JSON(http.StatusOK, newStatusResponse(h.opts.Recorder.Info()))
}

func (h *HTTPServer) handleStart(c *gin.Context) {
	h.control(c, "start", h.opts.Recorder.Start)
}

func (h *HTTPServer) handlePause(c *gin.Context) {
	reason, err := recorder.ParsePauseReason(c.Query("reason"))
	if err == nil && reason == recorder.PauseProcessRestart {
		err = fmt.Errorf("pause reason %q is reserved for recovery", reason)
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.control(c, "pause", func(ctx context.Context) error {
		return h.opts.Recorder.Pause(ctx, reason)
	})
}

func (h *HTTPServer) handleResume(c *gin.Context) {
	h.control(c, "resume", h.opts.Recorder.Resume)
}

func (h *HTTPServer) handleStop(c *gin.Context) {
	h.control(c, "stop", h.opts.Recorder.Stop)
}

func (h *HTTPServer) handleListSessions(c *gin.Context) {
	sessions, err := h.opts.Sessions.ListSessions(c.Request.Context())
	if err != nil {
		h.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"total_sessions": len(sessions),
		"sessions":       sessions,
	})
}

func (h *HTTPServer) handleGetSession(c *gin.Context) {
	session, err := h.opts.Sessions.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// handleDeleteSession removes a session and its segment files. The session
// held by the recorder cannot be deleted.
func (h *HTTPServer) handleDeleteSession(c *gin.Context) {
	id := c.Param("id")
	if h.opts.Recorder.Info().SessionID == id {
		c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("session %s is the current recording", id)})
		return
	}

	ctx := c.Request.Context()
	session, err := h.opts.Sessions.GetSession(ctx, id)
	if err != nil {
		h.storeError(c, err)
		return
	}
	if err := h.opts.Sessions.DeleteSession(ctx, id); err != nil {
		h.storeError(c, err)
		return
	}

	for _, seg := range session.Segments {
		if err := os.Remove(seg.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			h.logger.Warn("Failed to remove segment file",
				slog.String("session_id", id),
				slog.String("path", seg.Path),
				slog.String("error", err.Error()))
		}
	}

	h.logger.Info("Session deleted",
		slog.String("session_id", id),
		slog.Int("segments", len(session.Segments)))
	c.Status(http.StatusNoContent)
}

func (h *HTTPServer) handleTranscript(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()
	if _, err := h.opts.Sessions.GetSession(ctx, id); err != nil {
		h.storeError(c, err)
		return
	}
	lines, err := h.opts.Sessions.TranscriptLines(ctx, id)
	if err != nil {
		h.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": id,
		"lines":      lines,
	})
}

func (h *HTTPServer) handleGetSummary(c *gin.Context) {
	summary, err := h.opts.Sessions.GetSummary(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusOK, store.Summary{SessionID: c.Param("id"), Status: store.SummaryIdle})
		return
	}
	if err != nil {
		h.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// handleSummaryStream pushes the summary of a session as server-sent events
// on every change until the client disconnects.
func (h *HTTPServer) handleSummaryStream(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()
	if _, err := h.opts.Sessions.GetSession(ctx, id); err != nil {
		h.storeError(c, err)
		return
	}

	updates, cancel := h.opts.Sessions.WatchSummary(id)
	defer cancel()

	if _, err := h.opts.Sessions.GetSummary(ctx, id); errors.Is(err, store.ErrNotFound) {
		c.SSEvent("summary", store.Summary{SessionID: id, Status: store.SummaryIdle})
		c.Writer.Flush()
	}

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case summary, ok := <-updates:
			if !ok {
				return false
			}
			c.SSEvent("summary", summary)
			return true
		}
	})
}

func (h *HTTPServer) handleGenerateSummary(c *gin.Context) {
	id := c.Param("id")
	session, err := h.opts.Sessions.GetSession(c.Request.Context(), id)
	if err != nil {
		h.storeError(c, err)
		return
	}
	if session.Status != store.SessionStopped {
		c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("session %s is still %s", id, session.Status)})
		return
	}
	if h.opts.Summaries == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "summary generation is not available"})
		return
	}
	h.opts.Summaries.EnqueueSummary(id)
	c.JSON(http.StatusAccepted, gin.H{"session_id": id, "status": "queued"})
}

func (h *HTTPServer) storeError(c *gin.Context, err error) {
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	h.logger.Error("Repository query failed",
		slog.String("path", c.Request.URL.Path),
		slog.String("error", err.Error()))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
