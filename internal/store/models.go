package store

import "time"

// SessionStatus is the lifecycle state of a recording session.
type SessionStatus string

const (
	SessionRecording SessionStatus = "recording"
	SessionPaused    SessionStatus = "paused"
	SessionStopped   SessionStatus = "stopped"
)

// Session represents a recording session.
type Session struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   *time.Time    `json:"ended_at,omitempty"`
	Duration  time.Duration `json:"duration"`
	Status    SessionStatus `json:"status"`
}

// Segment represents a closed audio segment file of a session.
type Segment struct {
	SessionID   string    `json:"session_id"`
	Index       int       `json:"index"`
	Path        string    `json:"path"`
	DurationSec int       `json:"duration_sec"`
	Uploaded    bool      `json:"uploaded"`
	Transcribed bool      `json:"transcribed"`
	CreatedAt   time.Time `json:"created_at"`
}

// TranscriptLine is one timestamped line returned for a segment.
type TranscriptLine struct {
	ID         string `json:"id"`
	SessionID  string `json:"session_id"`
	ChunkIndex int    `json:"chunk_index"`
	OffsetMs   int    `json:"offset_ms"`
	Text       string `json:"text"`
}

// SummaryStatus is the generation state of a session summary.
type SummaryStatus string

const (
	SummaryIdle       SummaryStatus = "idle"
	SummaryGenerating SummaryStatus = "generating"
	SummaryDone       SummaryStatus = "done"
	SummaryError      SummaryStatus = "error"
)

// Summary represents a generated session summary.
type Summary struct {
	SessionID   string        `json:"session_id"`
	Title       string        `json:"title"`
	Text        string        `json:"text"`
	ActionItems []string      `json:"action_items"`
	KeyPoints   []string      `json:"key_points"`
	Status      SummaryStatus `json:"status"`
	Error       string        `json:"error,omitempty"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// SessionWithSegments is a session together with its segments ordered by index.
type SessionWithSegments struct {
	Session
	Segments []Segment `json:"segments"`
}
