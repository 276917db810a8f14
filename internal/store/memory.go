package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a session or summary does not exist.
var ErrNotFound = errors.New("not found")

// MemoryRepository keeps all recording data in process memory.
type MemoryRepository struct {
	now func() time.Time

	sessions  map[string]*Session
	segments  map[string][]Segment
	lines     map[string]map[string]TranscriptLine
	summaries map[string]Summary
	watchers  map[string]map[int]chan Summary
	nextWatch int

	mu sync.RWMutex
}

// NewMemoryRepository creates an empty repository. now may be nil.
func NewMemoryRepository(now func() time.Time) *MemoryRepository {
	if now == nil {
		now = time.Now
	}
	return &MemoryRepository{
		now:       now,
		sessions:  make(map[string]*Session),
		segments:  make(map[string][]Segment),
		lines:     make(map[string]map[string]TranscriptLine),
		summaries: make(map[string]Summary),
		watchers:  make(map[string]map[int]chan Summary),
	}
}

// CreateSession starts a new session in the Recording state.
func (r *MemoryRepository) CreateSession(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}

	started := r.now()
	s := &Session{
		ID:        uuid.NewString(),
		Title:     "Recording " + started.Format("2006-01-02 15:04"),
		StartedAt: started,
		Status:    SessionRecording,
	}

	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()

	return *s, nil
}

// AddSegment records a closed segment. A segment with the same index replaces the old one.
func (r *MemoryRepository) AddSegment(ctx context.Context, seg Segment) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[seg.SessionID]; !ok {
		return fmt.Errorf("session %s: %w", seg.SessionID, ErrNotFound)
	}
	if seg.CreatedAt.IsZero() {
		seg.CreatedAt = r.now()
	}

	segs := r.segments[seg.SessionID]
	if i := segmentPos(segs, seg.Index); i >= 0 {
		segs[i] = seg
		return nil
	}
	segs = append(segs, seg)
	sort.Slice(segs, func(i, j int) bool { return segs[i].Index < segs[j].Index })
	r.segments[seg.SessionID] = segs
	return nil
}

// FinishSession marks a session stopped and records its duration. Finishing
// an already stopped session changes nothing.
func (r *MemoryRepository) FinishSession(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if s.Status == SessionStopped {
		return nil
	}

	ended := r.now()
	s.EndedAt = &ended
	s.Duration = ended.Sub(s.StartedAt).Truncate(time.Second)
	s.Status = SessionStopped
	return nil
}

// UpdateSessionStatus moves an unfinished session between Recording and
// Paused. Stopped sessions are left untouched; use FinishSession to stop one.
func (r *MemoryRepository) UpdateSessionStatus(ctx context.Context, sessionID string, status SessionStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if status != SessionRecording && status != SessionPaused {
		return fmt.Errorf("cannot set session status %q", status)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if s.Status != SessionStopped {
		s.Status = status
	}
	return nil
}

// ListSessions returns all sessions, most recent first.
func (r *MemoryRepository) ListSessions(ctx context.Context) ([]SessionWithSegments, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]SessionWithSegments, 0, len(r.sessions))
	for id, s := range r.sessions {
		out = append(out, SessionWithSegments{Session: *s, Segments: slices.Clone(r.segments[id])})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

// GetSession returns a session with its segments.
func (r *MemoryRepository) GetSession(ctx context.Context, sessionID string) (*SessionWithSegments, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return &SessionWithSegments{Session: *s, Segments: slices.Clone(r.segments[sessionID])}, nil
}

// UpdateSegmentFlags sets both flags of a segment.
func (r *MemoryRepository) UpdateSegmentFlags(ctx context.Context, sessionID string, index int, uploaded, transcribed bool) error {
	return r.updateSegment(ctx, sessionID, index, func(seg *Segment) {
		seg.Uploaded = uploaded
		seg.Transcribed = transcribed
	})
}

func (r *MemoryRepository) updateSegment(ctx context.Context, sessionID string, index int, fn func(*Segment)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	segs := r.segments[sessionID]
	i := segmentPos(segs, index)
	if i < 0 {
		return fmt.Errorf("segment %s/%d: %w", sessionID, index, ErrNotFound)
	}
	fn(&segs[i])
	return nil
}

// UntranscribedSegments returns segments of a session not yet transcribed, by
// index. An empty sessionID matches every session.
func (r *MemoryRepository) UntranscribedSegments(ctx context.Context, sessionID string) ([]Segment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Segment
	for id, segs := range r.segments {
		if sessionID != "" && id != sessionID {
			continue
		}
		for _, seg := range segs {
			if !seg.Transcribed {
				out = append(out, seg)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SessionID != out[j].SessionID {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].Index < out[j].Index
	})
	return out, nil
}

// InsertTranscriptLines upserts lines by ID.
func (r *MemoryRepository) InsertTranscriptLines(ctx context.Context, lines []TranscriptLine) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, line := range lines {
		if line.ID == "" {
			line.ID = uuid.NewString()
		}
		bySession, ok := r.lines[line.SessionID]
		if !ok {
			bySession = make(map[string]TranscriptLine)
			r.lines[line.SessionID] = bySession
		}
		bySession[line.ID] = line
	}
	return nil
}

// TranscriptLines returns a session transcript ordered by segment then offset.
func (r *MemoryRepository) TranscriptLines(ctx context.Context, sessionID string) ([]TranscriptLine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]TranscriptLine, 0, len(r.lines[sessionID]))
	for _, line := range r.lines[sessionID] {
		out = append(out, line)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ChunkIndex != out[j].ChunkIndex {
			return out[i].ChunkIndex < out[j].ChunkIndex
		}
		if out[i].OffsetMs != out[j].OffsetMs {
			return out[i].OffsetMs < out[j].OffsetMs
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// UpsertSummary stores a summary and notifies watchers of that session.
func (r *MemoryRepository) UpsertSummary(ctx context.Context, summary Summary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if summary.UpdatedAt.IsZero() {
		summary.UpdatedAt = r.now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.summaries[summary.SessionID] = summary
	for _, ch := range r.watchers[summary.SessionID] {
		// Drop the stale value so a slow watcher always sees the latest.
		select {
		case <-ch:
		default:
		}
		ch <- summary
	}
	return nil
}

// GetSummary returns the stored summary of a session.
func (r *MemoryRepository) GetSummary(ctx context.Context, sessionID string) (*Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.summaries[sessionID]
	if !ok {
		return nil, fmt.Errorf("summary %s: %w", sessionID, ErrNotFound)
	}
	return &s, nil
}

// WatchSummary returns a channel that receives the summary on every upsert,
// starting with the current value if one exists. Call cancel to stop watching.
func (r *MemoryRepository) WatchSummary(sessionID string) (<-chan Summary, func()) {
	ch := make(chan Summary, 1)

	r.mu.Lock()
	id := r.nextWatch
	r.nextWatch++
	if r.watchers[sessionID] == nil {
		r.watchers[sessionID] = make(map[int]chan Summary)
	}
	r.watchers[sessionID][id] = ch
	if s, ok := r.summaries[sessionID]; ok {
		ch <- s
	}
	r.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.watchers[sessionID], id)
			if len(r.watchers[sessionID]) == 0 {
				delete(r.watchers, sessionID)
			}
			r.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// DeleteSession removes a session and everything attached to it.
func (r *MemoryRepository) DeleteSession(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[sessionID]; !ok {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	delete(r.sessions, sessionID)
	delete(r.segments, sessionID)
	delete(r.lines, sessionID)
	delete(r.summaries, sessionID)
	return nil
}

func segmentPos(segs []Segment, index int) int {
	for i := range segs {
		if segs[i].Index == index {
			return i
		}
	}
	return -1
}
