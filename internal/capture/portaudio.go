package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// PortAudioConfig contains configuration for microphone capture
type PortAudioConfig struct {
	Format          Format
	FramesPerBuffer int
}

// DefaultPortAudioConfig returns 16 kHz mono capture in 1024-frame buffers.
func DefaultPortAudioConfig() PortAudioConfig {
	return PortAudioConfig{
		Format:          Format{SampleRate: 16000, Channels: 1},
		FramesPerBuffer: 1024,
	}
}

// PortAudioSource reads the default input device.
type PortAudioSource struct {
	config PortAudioConfig
	logger *slog.Logger

	stream *portaudio.Stream
	buffer []int16
	quit   chan struct{}
	done   chan struct{}

	mu sync.Mutex
}

// NewPortAudioSource creates a microphone source
func NewPortAudioSource(config PortAudioConfig, logger *slog.Logger) (*PortAudioSource, error) {
	if config.Format.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", config.Format.SampleRate)
	}
	if config.Format.Channels <= 0 {
		return nil, fmt.Errorf("channels must be positive, got %d", config.Format.Channels)
	}
	if config.FramesPerBuffer <= 0 {
		return nil, fmt.Errorf("frames per buffer must be positive, got %d", config.FramesPerBuffer)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &PortAudioSource{config: config, logger: logger}, nil
}

// Start opens the default input stream and begins delivering audio.
func (s *PortAudioSource) Start(onData DataFunc, onError ErrorFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stream != nil {
		return fmt.Errorf("capture already running")
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize portaudio: %w", err)
	}

	buffer := make([]int16, s.config.FramesPerBuffer*s.config.Format.Channels)
	stream, err := portaudio.OpenDefaultStream(
		s.config.Format.Channels,
		0,
		float64(s.config.Format.SampleRate),
		s.config.FramesPerBuffer,
		buffer,
	)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("failed to open input stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("failed to start input stream: %w", err)
	}

	s.stream = stream
	s.buffer = buffer
	s.quit = make(chan struct{})
	s.done = make(chan struct{})

	go s.readLoop(stream, buffer, s.quit, s.done, onData, onError)

	s.logger.Info("Microphone capture started",
		slog.Int("sample_rate", s.config.Format.SampleRate),
		slog.Int("frames_per_buffer", s.config.FramesPerBuffer))

	return nil
}

// inputStream is the blocking read half of a PortAudio stream.
type inputStream interface {
	Read() error
}

func (s *PortAudioSource) readLoop(stream inputStream, buffer []int16, quit, done chan struct{}, onData DataFunc, onError ErrorFunc) {
	defer close(done)

	for {
		select {
		case <-quit:
			return
		default:
		}

		if err := stream.Read(); err != nil {
			// An overflow still fills the buffer; only the device side lost frames.
			if !errors.Is(err, portaudio.InputOverflowed) {
				select {
				case <-quit:
				default:
					if onError != nil {
						onError(fmt.Errorf("read input stream: %w", err))
					}
				}
				return
			}
			s.logger.Warn("Input overflowed, device dropped samples")
		}

		onData(samplesToBytes(buffer))
	}
}

// samplesToBytes encodes samples as little-endian PCM16.
func samplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, sample := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(sample))
	}
	return out
}

// Stop halts capture and waits for the read loop to exit.
func (s *PortAudioSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stream == nil {
		return nil
	}

	close(s.quit)
	// Stopping the stream unblocks a pending Read.
	stopErr := s.stream.Stop()
	<-s.done
	closeErr := s.stream.Close()
	termErr := portaudio.Terminate()

	s.stream = nil
	s.buffer = nil

	s.logger.Info("Microphone capture stopped")

	return errors.Join(stopErr, closeErr, termErr)
}
