package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestRepository() (*MemoryRepository, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	return NewMemoryRepository(clock.Now), clock
}

func TestCreateAndFinishSession(t *testing.T) {
	repo, clock := newTestRepository()
	ctx := context.Background()

	s, err := repo.CreateSession(ctx)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if s.ID == "" {
		t.Fatal("Expected generated session id")
	}
	if s.Status != SessionRecording {
		t.Errorf("Expected status %s, got %s", SessionRecording, s.Status)
	}

	clock.Advance(95*time.Second + 400*time.Millisecond)
	if err := repo.FinishSession(ctx, s.ID); err != nil {
		t.Fatalf("FinishSession failed: %v", err)
	}

	got, err := repo.GetSession(ctx, s.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.Status != SessionStopped {
		t.Errorf("Expected status %s, got %s", SessionStopped, got.Status)
	}
	if got.Duration != 95*time.Second {
		t.Errorf("Expected duration 95s, got %v", got.Duration)
	}
	if got.EndedAt == nil {
		t.Fatal("Expected end time to be set")
	}

	// Finishing twice keeps the original end time.
	ended := *got.EndedAt
	clock.Advance(time.Hour)
	if err := repo.FinishSession(ctx, s.ID); err != nil {
		t.Fatalf("Second FinishSession failed: %v", err)
	}
	again, _ := repo.GetSession(ctx, s.ID)
	if !again.EndedAt.Equal(ended) {
		t.Errorf("Expected end time unchanged, got %v", again.EndedAt)
	}
}

func TestFinishUnknownSession(t *testing.T) {
	repo, _ := newTestRepository()
	err := repo.FinishSession(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestUpdateSessionStatus(t *testing.T) {
	repo, _ := newTestRepository()
	ctx := context.Background()
	s, _ := repo.CreateSession(ctx)

	if err := repo.UpdateSessionStatus(ctx, s.ID, SessionPaused); err != nil {
		t.Fatalf("UpdateSessionStatus failed: %v", err)
	}
	got, _ := repo.GetSession(ctx, s.ID)
	if got.Status != SessionPaused {
		t.Errorf("Expected %s, got %s", SessionPaused, got.Status)
	}

	if err := repo.UpdateSessionStatus(ctx, s.ID, SessionStopped); err == nil {
		t.Error("Expected stopping through UpdateSessionStatus to fail")
	}

	repo.FinishSession(ctx, s.ID)
	if err := repo.UpdateSessionStatus(ctx, s.ID, SessionRecording); err != nil {
		t.Fatalf("UpdateSessionStatus on stopped session failed: %v", err)
	}
	got, _ = repo.GetSession(ctx, s.ID)
	if got.Status != SessionStopped {
		t.Errorf("Expected stopped session to stay stopped, got %s", got.Status)
	}

	if err := repo.UpdateSessionStatus(ctx, "missing", SessionPaused); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSegmentsOrderedAndFlags(t *testing.T) {
	repo, _ := newTestRepository()
	ctx := context.Background()
	s, _ := repo.CreateSession(ctx)

	for _, idx := range []int{2, 0, 1} {
		if err := repo.AddSegment(ctx, Segment{SessionID: s.ID, Index: idx, Path: "p", DurationSec: 30}); err != nil {
			t.Fatalf("AddSegment failed: %v", err)
		}
	}

	got, _ := repo.GetSession(ctx, s.ID)
	if len(got.Segments) != 3 {
		t.Fatalf("Expected 3 segments, got %d", len(got.Segments))
	}
	for i, seg := range got.Segments {
		if seg.Index != i {
			t.Errorf("Expected index %d at position %d, got %d", i, i, seg.Index)
		}
	}

	if err := repo.UpdateSegmentFlags(ctx, s.ID, 1, true, true); err != nil {
		t.Fatalf("UpdateSegmentFlags failed: %v", err)
	}

	pending, _ := repo.UntranscribedSegments(ctx, s.ID)
	if len(pending) != 2 || pending[0].Index != 0 || pending[1].Index != 2 {
		t.Errorf("Expected untranscribed segments 0 and 2, got %+v", pending)
	}

	if err := repo.UpdateSegmentFlags(ctx, s.ID, 1, false, false); err != nil {
		t.Fatalf("UpdateSegmentFlags failed: %v", err)
	}
	pending, _ = repo.UntranscribedSegments(ctx, "")
	if len(pending) != 3 {
		t.Errorf("Expected 3 untranscribed segments, got %d", len(pending))
	}

	if err := repo.UpdateSegmentFlags(ctx, s.ID, 9, true, true); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown segment, got %v", err)
	}
}

func TestAddSegmentUnknownSession(t *testing.T) {
	repo, _ := newTestRepository()
	err := repo.AddSegment(context.Background(), Segment{SessionID: "nope", Index: 0})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestTranscriptLinesUpsert(t *testing.T) {
	repo, _ := newTestRepository()
	ctx := context.Background()
	s, _ := repo.CreateSession(ctx)

	lines := []TranscriptLine{
		{ID: "b", SessionID: s.ID, ChunkIndex: 1, OffsetMs: 0, Text: "second chunk"},
		{ID: "a", SessionID: s.ID, ChunkIndex: 0, OffsetMs: 500, Text: "later"},
		{ID: "c", SessionID: s.ID, ChunkIndex: 0, OffsetMs: 0, Text: "first"},
	}
	if err := repo.InsertTranscriptLines(ctx, lines); err != nil {
		t.Fatalf("InsertTranscriptLines failed: %v", err)
	}
	if err := repo.InsertTranscriptLines(ctx, []TranscriptLine{{ID: "a", SessionID: s.ID, ChunkIndex: 0, OffsetMs: 500, Text: "later, fixed"}}); err != nil {
		t.Fatalf("InsertTranscriptLines failed: %v", err)
	}

	got, _ := repo.TranscriptLines(ctx, s.ID)
	want := []string{"first", "later, fixed", "second chunk"}
	if len(got) != len(want) {
		t.Fatalf("Expected %d lines, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i].Text != want[i] {
			t.Errorf("Line %d: expected %q, got %q", i, want[i], got[i].Text)
		}
	}
}

func TestWatchSummary(t *testing.T) {
	repo, _ := newTestRepository()
	ctx := context.Background()

	ch, cancel := repo.WatchSummary("s1")
	defer cancel()

	if err := repo.UpsertSummary(ctx, Summary{SessionID: "s1", Status: SummaryGenerating}); err != nil {
		t.Fatalf("UpsertSummary failed: %v", err)
	}
	if err := repo.UpsertSummary(ctx, Summary{SessionID: "s1", Status: SummaryDone, Title: "t"}); err != nil {
		t.Fatalf("UpsertSummary failed: %v", err)
	}

	select {
	case s := <-ch:
		if s.Status != SummaryDone {
			t.Errorf("Expected latest status %s, got %s", SummaryDone, s.Status)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for summary")
	}

	late, cancelLate := repo.WatchSummary("s1")
	defer cancelLate()
	select {
	case s := <-late:
		if s.Title != "t" {
			t.Errorf("Expected current summary on subscribe, got %+v", s)
		}
	default:
		t.Error("Expected current summary to be delivered immediately")
	}
}

func TestDeleteSession(t *testing.T) {
	repo, _ := newTestRepository()
	ctx := context.Background()
	s, _ := repo.CreateSession(ctx)
	repo.AddSegment(ctx, Segment{SessionID: s.ID, Index: 0})
	repo.UpsertSummary(ctx, Summary{SessionID: s.ID, Status: SummaryDone})

	if err := repo.DeleteSession(ctx, s.ID); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	if _, err := repo.GetSession(ctx, s.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
	if _, err := repo.GetSummary(ctx, s.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected summary removed, got %v", err)
	}
}

func TestListSessionsNewestFirst(t *testing.T) {
	repo, clock := newTestRepository()
	ctx := context.Background()

	first, _ := repo.CreateSession(ctx)
	clock.Advance(time.Minute)
	second, _ := repo.CreateSession(ctx)

	list, err := repo.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(list) != 2 || list[0].ID != second.ID || list[1].ID != first.ID {
		t.Errorf("Expected newest session first, got %+v", list)
	}
}
