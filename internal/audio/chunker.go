package audio

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ClosedSegment describes a segment file that was finalized on disk.
type ClosedSegment struct {
	SessionID string
	Index     int
	Path      string
	ClosedAt  time.Time
	DataBytes int
}

// SegmentListener is notified once per finalized segment, after the file is closed.
type SegmentListener interface {
	OnSegmentClosed(seg ClosedSegment)
}

// TranscriptionEnqueuer schedules background transcription of a segment file.
type TranscriptionEnqueuer interface {
	EnqueueTranscription(sessionID string, index int, path string)
}

// ChunkerConfig contains configuration for the segmenting process
type ChunkerConfig struct {
	DataDir         string
	SampleRate      int
	Channels        int
	BitsPerSample   int
	SegmentDuration time.Duration
	OverlapDuration time.Duration
}

// DefaultChunkerConfig returns 30 s segments with a 2 s overlap of 16 kHz mono PCM16.
func DefaultChunkerConfig(dataDir string) ChunkerConfig {
	return ChunkerConfig{
		DataDir:         dataDir,
		SampleRate:      16000,
		Channels:        1,
		BitsPerSample:   16,
		SegmentDuration: 30 * time.Second,
		OverlapDuration: 2 * time.Second,
	}
}

func (c ChunkerConfig) bytesPerSecond() int {
	return c.SampleRate * c.Channels * c.BitsPerSample / 8
}

// SegmentBytes is the number of new audio bytes that completes a segment.
func (c ChunkerConfig) SegmentBytes() int {
	return int(int64(c.bytesPerSecond()) * int64(c.SegmentDuration) / int64(time.Second))
}

// OverlapBytes is the number of trailing bytes carried into the next segment.
func (c ChunkerConfig) OverlapBytes() int {
	return int(int64(c.bytesPerSecond()) * int64(c.OverlapDuration) / int64(time.Second))
}

// Validate checks the chunker configuration
func (c ChunkerConfig) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data directory is required")
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", c.Channels)
	}
	if c.BitsPerSample != 16 {
		return fmt.Errorf("bits per sample must be 16, got %d", c.BitsPerSample)
	}
	if c.SegmentBytes() <= 0 {
		return fmt.Errorf("segment duration must be positive, got %v", c.SegmentDuration)
	}
	if c.OverlapBytes() < 0 || c.OverlapBytes() >= c.SegmentBytes() {
		return fmt.Errorf("overlap duration must be in [0, %v), got %v", c.SegmentDuration, c.OverlapDuration)
	}
	return nil
}

// SegmentPath returns the on-disk location of a segment.
func SegmentPath(dataDir, sessionID string, index int) string {
	return filepath.Join(dataDir, "audio", sessionID, fmt.Sprintf("%s_%05d.wav", sessionID, index))
}

// Chunker splits a continuous PCM stream into WAV segment files. Each segment
// after the first starts with the last overlap bytes of its predecessor.
type Chunker struct {
	config       ChunkerConfig
	segmentBytes int
	overlapBytes int
	listener     SegmentListener
	enqueuer     TranscriptionEnqueuer
	logger       *slog.Logger
	now          func() time.Time

	active    bool
	sessionID string
	index     int

	file       *os.File
	path       string
	dataBytes  int // bytes in the current file after the header, overlap prefix included
	freshBytes int // caller bytes in the current file

	ring     []byte
	ringPos  int
	ringFill int

	// Statistics
	segmentsClosed    uint64
	segmentsDiscarded uint64
	bytesReceived     uint64

	mu sync.Mutex
}

// ChunkerStats represents chunker statistics
type ChunkerStats struct {
	Active            bool   `json:"active"`
	SessionID         string `json:"session_id,omitempty"`
	CurrentIndex      int    `json:"current_index"`
	CurrentBytes      int    `json:"current_segment_bytes"`
	SegmentsClosed    uint64 `json:"segments_closed"`
	SegmentsDiscarded uint64 `json:"segments_discarded"`
	BytesReceived     uint64 `json:"bytes_received"`
}

// NewChunker creates a new segment chunker. listener and enqueuer may be nil.
func NewChunker(config ChunkerConfig, listener SegmentListener, enqueuer TranscriptionEnqueuer, logger *slog.Logger) (*Chunker, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid chunker config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Chunker{
		config:       config,
		segmentBytes: config.SegmentBytes(),
		overlapBytes: config.OverlapBytes(),
		listener:     listener,
		enqueuer:     enqueuer,
		logger:       logger,
		now:          time.Now,
		ring:         make([]byte, config.OverlapBytes()),
	}, nil
}

// SetSegmentListener replaces the registered listener.
func (c *Chunker) SetSegmentListener(listener SegmentListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listener = listener
}

// Start begins a session at startIndex and opens its first segment file.
// Any previously active session is stopped first.
func (c *Chunker) Start(sessionID string, startIndex int) error {
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	if startIndex < 0 {
		return fmt.Errorf("start index must be non-negative, got %d", startIndex)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active {
		if err := c.closeSegment(); err != nil {
			c.logger.Warn("Failed to close segment of previous session",
				slog.String("session_id", c.sessionID),
				slog.String("error", err.Error()))
		}
	}

	dir := filepath.Join(c.config.DataDir, "audio", sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create session directory %s: %w", dir, err)
	}

	c.sessionID = sessionID
	c.index = startIndex
	c.ringPos = 0
	c.ringFill = 0
	clear(c.ring)
	c.active = true

	if err := c.openSegment(false); err != nil {
		c.active = false
		return err
	}

	c.logger.Debug("Chunker started",
		slog.String("session_id", sessionID),
		slog.Int("start_index", startIndex))

	return nil
}

// OnData appends caller audio, rolling over to a new segment each time
// SegmentBytes of new audio have been written.
func (c *Chunker) OnData(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active {
		return nil
	}
	c.bytesReceived += uint64(len(p))

	for len(p) > 0 {
		if c.file == nil {
			if err := c.openSegment(true); err != nil {
				return err
			}
		}

		n := min(len(p), c.segmentBytes-c.freshBytes)
		if _, err := c.file.Write(p[:n]); err != nil {
			return fmt.Errorf("failed to write segment %d: %w", c.index, err)
		}
		c.pushRing(p[:n])
		c.freshBytes += n
		c.dataBytes += n
		p = p[n:]

		if c.freshBytes >= c.segmentBytes {
			if err := c.closeSegment(); err != nil {
				return err
			}
			c.index++
			if err := c.openSegment(true); err != nil {
				return err
			}
		}
	}

	return nil
}

// Stop finalizes the current segment and resets the chunker. A segment that
// holds no audio beyond its overlap prefix is deleted instead of emitted.
func (c *Chunker) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active {
		return nil
	}

	err := c.closeSegment()

	c.active = false
	c.sessionID = ""
	c.index = 0
	c.ringPos = 0
	c.ringFill = 0

	return err
}

// Stats returns chunker statistics
func (c *Chunker) Stats() ChunkerStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return ChunkerStats{
		Active:            c.active,
		SessionID:         c.sessionID,
		CurrentIndex:      c.index,
		CurrentBytes:      c.dataBytes,
		SegmentsClosed:    c.segmentsClosed,
		SegmentsDiscarded: c.segmentsDiscarded,
		BytesReceived:     c.bytesReceived,
	}
}

func (c *Chunker) openSegment(withOverlap bool) error {
	path := SegmentPath(c.config.DataDir, c.sessionID, c.index)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create segment %s: %w", path, err)
	}

	header := NewPCMHeader(c.config.SampleRate, c.config.Channels, c.config.BitsPerSample, 0)
	if err := WriteWAVHeader(f, header); err != nil {
		f.Close()
		return err
	}

	c.file = f
	c.path = path
	c.dataBytes = 0
	c.freshBytes = 0

	if withOverlap && c.ringFill > 0 {
		overlap := c.readRing()
		if _, err := f.Write(overlap); err != nil {
			return fmt.Errorf("failed to write overlap to segment %d: %w", c.index, err)
		}
		c.dataBytes = len(overlap)
	}

	return nil
}

func (c *Chunker) closeSegment() error {
	if c.file == nil {
		return nil
	}

	f, path, index := c.file, c.path, c.index
	dataBytes, fresh := c.dataBytes, c.freshBytes
	c.file = nil
	c.path = ""

	if fresh == 0 {
		f.Close()
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove empty segment %s: %w", path, err)
		}
		c.segmentsDiscarded++
		return nil
	}

	if err := BackfillWAVSizes(f, uint32(dataBytes)); err != nil {
		f.Close()
		return fmt.Errorf("segment %d: %w", index, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close segment %s: %w", path, err)
	}
	c.segmentsClosed++

	c.logger.Debug("Segment closed",
		slog.String("session_id", c.sessionID),
		slog.Int("index", index),
		slog.Int("data_bytes", dataBytes))

	if c.listener != nil {
		c.listener.OnSegmentClosed(ClosedSegment{
			SessionID: c.sessionID,
			Index:     index,
			Path:      path,
			ClosedAt:  c.now(),
			DataBytes: dataBytes,
		})
	}
	if c.enqueuer != nil {
		c.enqueuer.EnqueueTranscription(c.sessionID, index, path)
	}

	return nil
}

// pushRing keeps the most recent overlapBytes of caller audio.
func (c *Chunker) pushRing(p []byte) {
	size := len(c.ring)
	if size == 0 {
		return
	}
	if len(p) >= size {
		copy(c.ring, p[len(p)-size:])
		c.ringPos = 0
		c.ringFill = size
		return
	}

	n := copy(c.ring[c.ringPos:], p)
	if n < len(p) {
		copy(c.ring, p[n:])
	}
	c.ringPos = (c.ringPos + len(p)) % size
	c.ringFill = min(size, c.ringFill+len(p))
}

// readRing returns the buffered overlap oldest byte first.
func (c *Chunker) readRing() []byte {
	out := make([]byte, 0, c.ringFill)
	if c.ringFill < len(c.ring) {
		return append(out, c.ring[:c.ringFill]...)
	}
	out = append(out, c.ring[c.ringPos:]...)
	return append(out, c.ring[:c.ringPos]...)
}
