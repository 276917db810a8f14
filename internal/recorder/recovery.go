package recorder

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Recovery status values persisted in RecoveryState.Status.
const (
	RecoveryRecording = "recording"
	RecoveryPaused    = "paused"
)

// RecoveryState is the durable snapshot that lets a session survive a
// process restart. Timestamps are Unix milliseconds.
type RecoveryState struct {
	SessionID           string `json:"session_id"`
	StartedAtMs         int64  `json:"started_at_ms"`
	LastChunkIndex      int    `json:"last_chunk_index"`
	Status              string `json:"status"`
	StartRealtimeMs     int64  `json:"start_realtime_ms"`
	AccumulatedMs       int64  `json:"accumulated_elapsed_ms"`
	LastResumedRealtime *int64 `json:"last_resumed_realtime_ms,omitempty"`
}

// StateStore persists the recovery snapshot. Load returns nil, nil when no
// snapshot exists.
type StateStore interface {
	Load() (*RecoveryState, error)
	Save(state RecoveryState) error
	Clear() error
}

// FileStateStore keeps the snapshot as a JSON file, replaced atomically on save.
type FileStateStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStateStore creates a store at path. The directory is created on first save.
func NewFileStateStore(path string) *FileStateStore {
	return &FileStateStore{path: path}
}

// Path returns the snapshot file location.
func (s *FileStateStore) Path() string {
	return s.path
}

// Load reads the snapshot.
func (s *FileStateStore) Load() (*RecoveryState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read recovery state %s: %w", s.path, err)
	}

	var state RecoveryState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse recovery state %s: %w", s.path, err)
	}
	return &state, nil
}

// Save writes the snapshot through a temporary file and rename.
func (s *FileStateStore) Save(state RecoveryState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode recovery state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write recovery state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync recovery state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close recovery state: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace recovery state: %w", err)
	}
	return nil
}

// Clear removes the snapshot. Clearing a missing snapshot is not an error.
func (s *FileStateStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to clear recovery state: %w", err)
	}
	return nil
}
