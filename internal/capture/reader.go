package capture

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// ReaderConfig contains configuration for replaying raw PCM
type ReaderConfig struct {
	Format Format
	Frame  time.Duration // audio delivered per callback
	Paced  bool          // deliver frames in real time instead of as fast as possible
}

// ReaderSource replays headerless PCM16 from an io.Reader. A stopped source
// resumes from where it left off when started again.
type ReaderSource struct {
	config ReaderConfig
	reader io.Reader
	logger *slog.Logger

	running bool
	quit    chan struct{}
	done    chan struct{}

	mu sync.Mutex
}

// NewReaderSource creates a replay source over r
func NewReaderSource(r io.Reader, config ReaderConfig, logger *slog.Logger) (*ReaderSource, error) {
	if r == nil {
		return nil, fmt.Errorf("reader is required")
	}
	if config.Format.BytesPerSecond() <= 0 {
		return nil, fmt.Errorf("invalid format: %+v", config.Format)
	}
	if config.Frame <= 0 {
		config.Frame = 100 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &ReaderSource{config: config, reader: r, logger: logger}, nil
}

func (s *ReaderSource) frameBytes() int {
	n := int(int64(s.config.Format.BytesPerSecond()) * int64(s.config.Frame) / int64(time.Second))
	if n%2 == 1 {
		n++
	}
	return max(n, 2)
}

// Start begins delivering frames from the reader.
func (s *ReaderSource) Start(onData DataFunc, onError ErrorFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("replay already running")
	}

	s.running = true
	s.quit = make(chan struct{})
	s.done = make(chan struct{})
	go s.run(s.quit, s.done, onData, onError)

	return nil
}

func (s *ReaderSource) run(quit, done chan struct{}, onData DataFunc, onError ErrorFunc) {
	defer close(done)

	var tick <-chan time.Time
	if s.config.Paced {
		ticker := time.NewTicker(s.config.Frame)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		if tick != nil {
			select {
			case <-quit:
				return
			case <-tick:
			}
		} else {
			select {
			case <-quit:
				return
			default:
			}
		}

		frame := make([]byte, s.frameBytes())
		n, err := io.ReadFull(s.reader, frame)
		if n > 0 {
			onData(frame[:n])
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			s.logger.Info("Replay input exhausted")
			return
		}
		if err != nil {
			if onError != nil {
				onError(fmt.Errorf("read replay input: %w", err))
			}
			return
		}
	}
}

// Stop halts delivery and waits for the replay goroutine to exit.
func (s *ReaderSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	close(s.quit)
	<-s.done
	s.running = false
	return nil
}
