package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/skypro1111/echo-recorder/internal/config"
	"github.com/skypro1111/echo-recorder/internal/metrics"
	"github.com/skypro1111/echo-recorder/internal/recorder"
	"github.com/skypro1111/echo-recorder/internal/store"
)

type fakeRecorder struct {
	status    *recorder.Value[recorder.Status]
	sessionID string
	lastPause recorder.PauseReason
	startErr  error
	calls     []string
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{status: recorder.NewValue(recorder.StatusStopped())}
}

func (f *fakeRecorder) Start(ctx context.Context) error {
	f.calls = append(f.calls, "start")
	if f.startErr != nil {
		return f.startErr
	}
	f.sessionID = "s1"
	f.status.Set(recorder.StatusRecording())
	return nil
}

func (f *fakeRecorder) Pause(ctx context.Context, reason recorder.PauseReason) error {
	f.calls = append(f.calls, "pause")
	f.lastPause = reason
	f.status.Set(recorder.StatusPaused(reason))
	return nil
}

func (f *fakeRecorder) Resume(ctx context.Context) error {
	f.calls = append(f.calls, "resume")
	f.status.Set(recorder.StatusRecording())
	return nil
}

func (f *fakeRecorder) Stop(ctx context.Context) error {
	f.calls = append(f.calls, "stop")
	f.sessionID = ""
	f.status.Set(recorder.StatusStopped())
	return nil
}

func (f *fakeRecorder) Info() recorder.Info {
	return recorder.Info{
		Status:         f.status.Get(),
		SessionID:      f.sessionID,
		Elapsed:        1500 * time.Millisecond,
		LastChunkIndex: -1,
	}
}

func (f *fakeRecorder) Status() *recorder.Value[recorder.Status] {
	return f.status
}

type summaryQueue struct {
	ids []string
}

func (q *summaryQueue) EnqueueSummary(sessionID string) {
	q.ids = append(q.ids, sessionID)
}

type testEnv struct {
	server    *HTTPServer
	recorder  *fakeRecorder
	repo      *store.MemoryRepository
	summaries *summaryQueue
	metrics   *metrics.Metrics
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	reg := prometheus.NewRegistry()
	env := &testEnv{
		recorder:  newFakeRecorder(),
		repo:      store.NewMemoryRepository(time.Now),
		summaries: &summaryQueue{},
		metrics:   metrics.NewMetrics(reg),
	}
	env.server = NewHTTPServer(config.HTTPConfig{Enabled: true, Address: "127.0.0.1", Port: 0}, Options{
		Recorder:  env.recorder,
		Sessions:  env.repo,
		Summaries: env.summaries,
		Metrics:   env.metrics,
		Gatherer:  reg,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError})),
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("Failed to decode %q: %v", w.Body.String(), err)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/health")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var body map[string]any
	decode(t, w, &body)
	if body["status"] != "healthy" {
		t.Errorf("Expected healthy, got %v", body["status"])
	}
}

func TestRecordingControl(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/recording/start")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var st statusResponse
	decode(t, w, &st)
	if st.State != "recording" || st.SessionID != "s1" || st.ElapsedMs != 1500 {
		t.Errorf("Unexpected status %+v", st)
	}

	w = env.do(t, http.MethodPost, "/recording/pause?reason=phone_call")
	decode(t, w, &st)
	if st.State != "paused" || st.Reason != "phone_call" {
		t.Errorf("Expected paused(phone_call), got %+v", st)
	}
	if env.recorder.lastPause != recorder.PausePhoneCall {
		t.Errorf("Expected phone call reason, got %v", env.recorder.lastPause)
	}

	w = env.do(t, http.MethodPost, "/recording/resume")
	decode(t, w, &st)
	if st.State != "recording" || st.Reason != "" {
		t.Errorf("Expected recording, got %+v", st)
	}

	w = env.do(t, http.MethodPost, "/recording/stop")
	decode(t, w, &st)
	if st.State != "stopped" {
		t.Errorf("Expected stopped, got %+v", st)
	}

	want := "start,pause,resume,stop"
	if got := strings.Join(env.recorder.calls, ","); got != want {
		t.Errorf("Expected calls %s, got %s", want, got)
	}

	if v := testutil.ToFloat64(env.metrics.HTTPRequests.WithLabelValues("POST", "/recording/start", "200")); v != 1 {
		t.Errorf("Expected 1 recorded start request, got %v", v)
	}
}

func TestPauseRejectsUnknownReason(t *testing.T) {
	for _, reason := range []string{"coffee", "process_restart"} {
		t.Run(reason, func(t *testing.T) {
			env := newTestEnv(t)
			w := env.do(t, http.MethodPost, "/recording/pause?reason="+reason)
			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected 400, got %d", w.Code)
			}
			if len(env.recorder.calls) != 0 {
				t.Errorf("Expected no recorder calls, got %v", env.recorder.calls)
			}
		})
	}
}

func TestControlErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: paused", recorder.ErrInvalidTransition), http.StatusConflict},
		{fmt.Errorf("%w: no mic", recorder.ErrAudioSource), http.StatusServiceUnavailable},
		{fmt.Errorf("%w: disk full", recorder.ErrStorage), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		env := newTestEnv(t)
		env.recorder.startErr = tt.err
		w := env.do(t, http.MethodPost, "/recording/start")
		if w.Code != tt.want {
			t.Errorf("%v: expected %d, got %d", tt.err, tt.want, w.Code)
		}
		var body map[string]any
		decode(t, w, &body)
		if body["error"] == nil || body["status"] == nil {
			t.Errorf("Expected error and status in body, got %v", body)
		}
	}
}

func TestSessionQueries(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	s, _ := env.repo.CreateSession(ctx)
	env.repo.AddSegment(ctx, store.Segment{SessionID: s.ID, Index: 0, Path: "a.wav", DurationSec: 30})
	env.repo.InsertTranscriptLines(ctx, []store.TranscriptLine{
		{ID: "2", SessionID: s.ID, ChunkIndex: 0, OffsetMs: 900, Text: "world"},
		{ID: "1", SessionID: s.ID, ChunkIndex: 0, OffsetMs: 100, Text: "hello"},
	})

	w := env.do(t, http.MethodGet, "/sessions")
	var list struct {
		Total    int                         `json:"total_sessions"`
		Sessions []store.SessionWithSegments `json:"sessions"`
	}
	decode(t, w, &list)
	if list.Total != 1 || len(list.Sessions[0].Segments) != 1 {
		t.Errorf("Unexpected session list %+v", list)
	}

	w = env.do(t, http.MethodGet, "/sessions/"+s.ID)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	w = env.do(t, http.MethodGet, "/sessions/"+s.ID+"/transcript")
	var transcript struct {
		Lines []store.TranscriptLine `json:"lines"`
	}
	decode(t, w, &transcript)
	if len(transcript.Lines) != 2 || transcript.Lines[0].Text != "hello" {
		t.Errorf("Unexpected transcript %+v", transcript.Lines)
	}

	if w := env.do(t, http.MethodGet, "/sessions/missing"); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for missing session, got %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/sessions/missing/transcript"); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for missing transcript, got %d", w.Code)
	}
}

func TestSummaryEndpoints(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	s, _ := env.repo.CreateSession(ctx)

	w := env.do(t, http.MethodGet, "/sessions/"+s.ID+"/summary")
	var summary store.Summary
	decode(t, w, &summary)
	if summary.Status != store.SummaryIdle {
		t.Errorf("Expected idle summary, got %s", summary.Status)
	}

	if w := env.do(t, http.MethodPost, "/sessions/"+s.ID+"/summary"); w.Code != http.StatusConflict {
		t.Errorf("Expected 409 while recording, got %d", w.Code)
	}

	env.repo.FinishSession(ctx, s.ID)
	if w := env.do(t, http.MethodPost, "/sessions/"+s.ID+"/summary"); w.Code != http.StatusAccepted {
		t.Errorf("Expected 202, got %d", w.Code)
	}
	if len(env.summaries.ids) != 1 || env.summaries.ids[0] != s.ID {
		t.Errorf("Expected summary enqueued for %s, got %v", s.ID, env.summaries.ids)
	}

	env.repo.UpsertSummary(ctx, store.Summary{SessionID: s.ID, Title: "T", Status: store.SummaryDone})
	w = env.do(t, http.MethodGet, "/sessions/"+s.ID+"/summary")
	decode(t, w, &summary)
	if summary.Status != store.SummaryDone || summary.Title != "T" {
		t.Errorf("Unexpected summary %+v", summary)
	}

	if w := env.do(t, http.MethodPost, "/sessions/missing/summary"); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/status")

	w := env.do(t, http.MethodGet, "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "echo_http_requests_total") {
		t.Error("Expected HTTP request metrics in output")
	}
}

func TestStatusStream(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/status/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Stream request failed: %v", err)
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	readData := func() statusResponse {
		t.Helper()
		var st statusResponse
		readEvent(t, reader, &st)
		return st
	}

	if st := readData(); st.State != "stopped" {
		t.Errorf("Expected initial stopped event, got %+v", st)
	}

	env.recorder.status.Set(recorder.StatusWarning(recorder.SilenceWarningMessage))
	if st := readData(); st.State != "warning" || st.Message != recorder.SilenceWarningMessage {
		t.Errorf("Expected warning event, got %+v", st)
	}
}

// readEvent decodes the data line of the next server-sent event.
func readEvent(t *testing.T, reader *bufio.Reader, v any) {
	t.Helper()
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("Failed to read event: %v", err)
		}
		if data, ok := strings.CutPrefix(line, "data:"); ok {
			if err := json.Unmarshal([]byte(strings.TrimSpace(data)), v); err != nil {
				t.Fatalf("Bad event payload %q: %v", data, err)
			}
			return
		}
	}
}

func TestSummaryStream(t *testing.T) {
	env := newTestEnv(t)
	s, _ := env.repo.CreateSession(context.Background())
	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/sessions/missing/summary/stream")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for missing session, got %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/sessions/"+s.ID+"/summary/stream", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Stream request failed: %v", err)
	}
	defer resp.Body.Close()
	reader := bufio.NewReader(resp.Body)

	var summary store.Summary
	readEvent(t, reader, &summary)
	if summary.Status != store.SummaryIdle || summary.SessionID != s.ID {
		t.Errorf("Expected idle summary first, got %+v", summary)
	}

	env.repo.UpsertSummary(context.Background(), store.Summary{SessionID: s.ID, Status: store.SummaryGenerating})
	readEvent(t, reader, &summary)
	if summary.Status != store.SummaryGenerating {
		t.Errorf("Expected generating summary, got %+v", summary)
	}

	env.repo.UpsertSummary(context.Background(), store.Summary{SessionID: s.ID, Title: "Standup", Status: store.SummaryDone})
	readEvent(t, reader, &summary)
	if summary.Status != store.SummaryDone || summary.Title != "Standup" {
		t.Errorf("Expected done summary, got %+v", summary)
	}
}

func TestDeleteSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	dir := t.TempDir()
	path := filepath.Join(dir, "seg_00000.wav")
	if err := os.WriteFile(path, []byte("RIFF"), 0o644); err != nil {
		t.Fatalf("Failed to write segment: %v", err)
	}
	s, _ := env.repo.CreateSession(ctx)
	env.repo.AddSegment(ctx, store.Segment{SessionID: s.ID, Index: 0, Path: path, DurationSec: 30})
	env.repo.AddSegment(ctx, store.Segment{SessionID: s.ID, Index: 1, Path: filepath.Join(dir, "gone.wav"), DurationSec: 30})
	env.repo.FinishSession(ctx, s.ID)

	w := env.do(t, http.MethodDelete, "/sessions/"+s.ID)
	if w.Code != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d: %s", w.Code, w.Body.String())
	}
	if _, err := env.repo.GetSession(ctx, s.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected session removed, got %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected segment file removed, got %v", err)
	}

	if w := env.do(t, http.MethodDelete, "/sessions/"+s.ID); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 on second delete, got %d", w.Code)
	}
}

func TestDeleteCurrentSessionConflicts(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/recording/start")

	w := env.do(t, http.MethodDelete, "/sessions/"+env.recorder.sessionID)
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409, got %d", w.Code)
	}
}
