package recorder

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileStateStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStateStore(filepath.Join(dir, "nested", "state.json"))

	if got, err := s.Load(); got != nil || err != nil {
		t.Fatalf("Expected nil, nil for missing state, got %v, %v", got, err)
	}

	resumed := int64(1700000005000)
	want := RecoveryState{
		SessionID:           "abc",
		StartedAtMs:         1700000000000,
		LastChunkIndex:      3,
		Status:              RecoveryRecording,
		StartRealtimeMs:     1700000000000,
		AccumulatedMs:       1234,
		LastResumedRealtime: &resumed,
	}
	if err := s.Save(want); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.SessionID != want.SessionID || got.LastChunkIndex != 3 || got.AccumulatedMs != 1234 {
		t.Errorf("Unexpected state %+v", got)
	}
	if got.LastResumedRealtime == nil || *got.LastResumedRealtime != resumed {
		t.Errorf("Expected last resumed %d, got %v", resumed, got.LastResumedRealtime)
	}

	entries, _ := os.ReadDir(filepath.Join(dir, "nested"))
	if len(entries) != 1 {
		t.Errorf("Expected only the state file, found %d entries", len(entries))
	}

	if err := s.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("Second Clear failed: %v", err)
	}
	if got, _ := s.Load(); got != nil {
		t.Errorf("Expected no state after clear, got %+v", got)
	}
}

func TestFileStateStorePausedOmitsResume(t *testing.T) {
	s := NewFileStateStore(filepath.Join(t.TempDir(), "state.json"))
	if err := s.Save(RecoveryState{SessionID: "x", Status: RecoveryPaused, LastChunkIndex: -1}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	raw, _ := os.ReadFile(s.Path())
	if string(raw) == "" {
		t.Fatal("Expected state file content")
	}
	got, _ := s.Load()
	if got.LastResumedRealtime != nil {
		t.Errorf("Expected no resume time for paused state, got %v", *got.LastResumedRealtime)
	}
}

func TestValueSubscribe(t *testing.T) {
	v := NewValue(1)
	ch, cancel := v.Subscribe()

	if got := <-ch; got != 1 {
		t.Fatalf("Expected initial value 1, got %d", got)
	}

	v.Set(2)
	v.Set(2)
	v.Set(3)
	select {
	case got := <-ch:
		if got != 3 {
			t.Errorf("Expected latest value 3, got %d", got)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for value")
	}

	select {
	case got := <-ch:
		t.Errorf("Expected no further values, got %d", got)
	default:
	}

	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Error("Expected channel closed after cancel")
	}
	v.Set(4)
	if v.Get() != 4 {
		t.Errorf("Expected 4, got %d", v.Get())
	}
}

func TestStatusStrings(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusStopped(), "stopped"},
		{StatusRecording(), "recording"},
		{StatusPaused(PausePhoneCall), "paused(phone_call)"},
		{StatusWarning("quiet"), "warning(quiet)"},
		{StatusError("boom"), "error(boom)"},
	}
	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("Expected %q, got %q", tt.want, got)
		}
	}
}
