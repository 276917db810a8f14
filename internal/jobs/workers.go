package jobs

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/skypro1111/echo-recorder/internal/audio"
	"github.com/skypro1111/echo-recorder/internal/store"
	"github.com/skypro1111/echo-recorder/internal/transcription"
)

// Transcriber turns a segment file into timestamped lines.
type Transcriber interface {
	Transcribe(ctx context.Context, request *transcription.Request) (*transcription.Response, error)
}

// SegmentStore is the repository surface used by the transcribe worker.
type SegmentStore interface {
	GetSession(ctx context.Context, sessionID string) (*store.SessionWithSegments, error)
	InsertTranscriptLines(ctx context.Context, lines []store.TranscriptLine) error
	UpdateSegmentFlags(ctx context.Context, sessionID string, index int, uploaded, transcribed bool) error
}

// TranscribeHandler uploads one closed segment and stores its transcript.
type TranscribeHandler struct {
	repo        SegmentStore
	transcriber Transcriber
	language    string
	logger      *slog.Logger
}

// NewTranscribeHandler creates the handler for KindTranscribe jobs.
func NewTranscribeHandler(repo SegmentStore, transcriber Transcriber, language string, logger *slog.Logger) *TranscribeHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TranscribeHandler{repo: repo, transcriber: transcriber, language: language, logger: logger}
}

// Handle runs one transcription attempt.
func (h *TranscribeHandler) Handle(ctx context.Context, job Job) error {
	session, err := h.repo.GetSession(ctx, job.SessionID)
	if errors.Is(err, store.ErrNotFound) {
		return Permanent(err)
	}
	if err != nil {
		return fmt.Errorf("failed to load session %s: %w", job.SessionID, err)
	}

	var seg *store.Segment
	for i := range session.Segments {
		if session.Segments[i].Index == job.SegmentIndex {
			seg = &session.Segments[i]
			break
		}
	}
	if seg == nil {
		return Permanent(fmt.Errorf("segment %s/%d: %w", job.SessionID, job.SegmentIndex, store.ErrNotFound))
	}
	if seg.Transcribed {
		return nil
	}

	path := seg.Path
	if path == "" {
		path = job.Path
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("segment file unavailable: %w", err)
	}

	info, err := audio.InspectSegment(path)
	if err != nil {
		return Permanent(err)
	}

	resp, err := h.transcriber.Transcribe(ctx, &transcription.Request{
		SessionID:  job.SessionID,
		ChunkIndex: job.SegmentIndex,
		FilePath:   path,
		Language:   h.language,
		RequestID:  job.Key,
	})
	if err != nil {
		var httpErr *transcription.HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 &&
			httpErr.StatusCode != http.StatusTooManyRequests {
			return Permanent(err)
		}
		return err
	}

	lines := make([]store.TranscriptLine, 0, len(resp.Lines))
	for _, l := range resp.Lines {
		text := strings.TrimSpace(l.Text)
		if text == "" {
			continue
		}
		lines = append(lines, store.TranscriptLine{
			ID:         TranscriptLineID(job.SessionID, job.SegmentIndex, l.OffsetMs, text),
			SessionID:  job.SessionID,
			ChunkIndex: job.SegmentIndex,
			OffsetMs:   l.OffsetMs,
			Text:       text,
		})
	}

	if err := h.repo.InsertTranscriptLines(ctx, lines); err != nil {
		return fmt.Errorf("failed to store transcript lines: %w", err)
	}
	if err := h.repo.UpdateSegmentFlags(ctx, job.SessionID, job.SegmentIndex, true, true); err != nil {
		return fmt.Errorf("failed to mark segment transcribed: %w", err)
	}

	h.logger.Info("Segment transcribed",
		slog.String("session_id", job.SessionID),
		slog.Int("segment_index", job.SegmentIndex),
		slog.Duration("audio_duration", info.Duration),
		slog.Int("lines", len(lines)))
	return nil
}

// TranscriptLineID derives a stable line id so a repeated upload upserts
// instead of duplicating lines.
func TranscriptLineID(sessionID string, index, offsetMs int, text string) string {
	h := fnv.New32a()
	h.Write([]byte(text))
	return fmt.Sprintf("%s_%d_%d_%08x", sessionID, index, offsetMs, h.Sum32())
}

// SummaryContent is the generated part of a summary.
type SummaryContent struct {
	Title       string
	Text        string
	ActionItems []string
	KeyPoints   []string
}

// Summarizer produces a summary from transcript text.
type Summarizer interface {
	Summarize(ctx context.Context, sessionID string, lines []string) (SummaryContent, error)
}

const (
	defaultSummaryTitle = "Session Summary"
	emptySummaryText    = "No transcript is available for this session yet."
	maxTitleRunes       = 80
	maxSummaryLines     = 12
)

// ExtractiveSummarizer builds a summary from the leading transcript lines.
type ExtractiveSummarizer struct{}

// Summarize uses the first non-blank line as title and the first twelve as text.
func (ExtractiveSummarizer) Summarize(ctx context.Context, sessionID string, lines []string) (SummaryContent, error) {
	if err := ctx.Err(); err != nil {
		return SummaryContent{}, err
	}

	var kept []string
	for _, l := range lines {
		if t := strings.TrimSpace(l); t != "" {
			kept = append(kept, t)
		}
	}

	content := SummaryContent{Title: defaultSummaryTitle, ActionItems: []string{}, KeyPoints: []string{}}
	if len(kept) > 0 {
		title := []rune(kept[0])
		if len(title) > maxTitleRunes {
			title = title[:maxTitleRunes]
		}
		content.Title = string(title)
	}
	if len(kept) > maxSummaryLines {
		kept = kept[:maxSummaryLines]
	}
	content.Text = strings.Join(kept, "\n")
	return content, nil
}

// SummaryStore is the repository surface used by the summary worker.
type SummaryStore interface {
	TranscriptLines(ctx context.Context, sessionID string) ([]store.TranscriptLine, error)
	UpsertSummary(ctx context.Context, summary store.Summary) error
}

// SummaryHandler generates the summary of a finished session.
type SummaryHandler struct {
	repo       SummaryStore
	summarizer Summarizer
	logger     *slog.Logger
}

// NewSummaryHandler creates the handler for KindSummary jobs. A nil
// summarizer selects ExtractiveSummarizer.
func NewSummaryHandler(repo SummaryStore, summarizer Summarizer, logger *slog.Logger) *SummaryHandler {
	if summarizer == nil {
		summarizer = ExtractiveSummarizer{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SummaryHandler{repo: repo, summarizer: summarizer, logger: logger}
}

// Handle generates and stores the summary. Generation failures are recorded
// on the summary and not retried.
func (h *SummaryHandler) Handle(ctx context.Context, job Job) error {
	if err := h.repo.UpsertSummary(ctx, store.Summary{
		SessionID:   job.SessionID,
		ActionItems: []string{},
		KeyPoints:   []string{},
		Status:      store.SummaryGenerating,
	}); err != nil {
		return fmt.Errorf("failed to mark summary generating: %w", err)
	}

	summary, err := h.generate(ctx, job.SessionID)
	if err != nil {
		h.logger.Error("Summary generation failed",
			slog.String("session_id", job.SessionID),
			slog.String("error", err.Error()))
		if uerr := h.repo.UpsertSummary(ctx, store.Summary{
			SessionID:   job.SessionID,
			ActionItems: []string{},
			KeyPoints:   []string{},
			Status:      store.SummaryError,
			Error:       err.Error(),
		}); uerr != nil {
			return fmt.Errorf("failed to record summary error: %w", uerr)
		}
		return Permanent(err)
	}

	if err := h.repo.UpsertSummary(ctx, summary); err != nil {
		return fmt.Errorf("failed to store summary: %w", err)
	}

	h.logger.Info("Summary generated", slog.String("session_id", job.SessionID))
	return nil
}

func (h *SummaryHandler) generate(ctx context.Context, sessionID string) (store.Summary, error) {
	lines, err := h.repo.TranscriptLines(ctx, sessionID)
	if err != nil {
		return store.Summary{}, fmt.Errorf("failed to load transcript: %w", err)
	}

	if len(lines) == 0 {
		return store.Summary{
			SessionID:   sessionID,
			Title:       defaultSummaryTitle,
			Text:        emptySummaryText,
			ActionItems: []string{},
			KeyPoints:   []string{},
			Status:      store.SummaryDone,
		}, nil
	}

	texts := make([]string, len(lines))
	for i, l := range lines {
		texts[i] = l.Text
	}
	content, err := h.summarizer.Summarize(ctx, sessionID, texts)
	if err != nil {
		return store.Summary{}, err
	}

	return store.Summary{
		SessionID:   sessionID,
		Title:       content.Title,
		Text:        content.Text,
		ActionItems: content.ActionItems,
		KeyPoints:   content.KeyPoints,
		Status:      store.SummaryDone,
	}, nil
}

// PendingSegments lists segments still waiting for a transcript.
type PendingSegments interface {
	UntranscribedSegments(ctx context.Context, sessionID string) ([]store.Segment, error)
}

// TranscriptionEnqueuer accepts transcription jobs.
type TranscriptionEnqueuer interface {
	EnqueueTranscription(sessionID string, index int, path string)
}

// Requeue schedules transcription for every untranscribed segment of every
// session. Run once at process start.
func Requeue(ctx context.Context, repo PendingSegments, enqueuer TranscriptionEnqueuer, logger *slog.Logger) (int, error) {
	segs, err := repo.UntranscribedSegments(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("failed to list untranscribed segments: %w", err)
	}
	for _, seg := range segs {
		enqueuer.EnqueueTranscription(seg.SessionID, seg.Index, seg.Path)
	}
	if logger != nil && len(segs) > 0 {
		logger.Info("Requeued untranscribed segments", slog.Int("count", len(segs)))
	}
	return len(segs), nil
}
