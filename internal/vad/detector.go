package vad

import (
	"fmt"
	"math"
	"slices"
	"sync"
	"time"
)

// SilenceEvent is the outcome of feeding audio to a SilenceDetector.
type SilenceEvent int

const (
	NoChange SilenceEvent = iota
	SilentFor10s
	SoundResumed
)

func (e SilenceEvent) String() string {
	switch e {
	case SilentFor10s:
		return "silent_for_10s"
	case SoundResumed:
		return "sound_resumed"
	default:
		return "no_change"
	}
}

// SilenceConfig contains configuration for silence detection
type SilenceConfig struct {
	SampleRate        int
	Window            time.Duration
	CalibrationWindow int     // windows used to estimate the noise floor
	MinNoiseFloor     float64 // lower bound applied to the calibrated floor
	FloorFactor       float64 // threshold = max(floor*FloorFactor, MinThreshold)
	MinThreshold      float64
	SilenceDuration   time.Duration // continuous silence before SilentFor10s fires
}

// DefaultSilenceConfig returns the detector defaults for 16 kHz audio.
func DefaultSilenceConfig() SilenceConfig {
	return SilenceConfig{
		SampleRate:        16000,
		Window:            200 * time.Millisecond,
		CalibrationWindow: 10,
		MinNoiseFloor:     50,
		FloorFactor:       1.15,
		MinThreshold:      150,
		SilenceDuration:   10 * time.Second,
	}
}

// WindowSamples is the number of samples per analysis window.
func (c SilenceConfig) WindowSamples() int {
	return int(int64(c.SampleRate) * int64(c.Window) / int64(time.Second))
}

// Validate checks the detector configuration
func (c SilenceConfig) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}
	if c.WindowSamples() <= 0 {
		return fmt.Errorf("window must hold at least one sample, got %v", c.Window)
	}
	if c.CalibrationWindow <= 0 {
		return fmt.Errorf("calibration windows must be positive, got %d", c.CalibrationWindow)
	}
	if c.FloorFactor <= 0 {
		return fmt.Errorf("floor factor must be positive, got %f", c.FloorFactor)
	}
	if c.SilenceDuration <= 0 {
		return fmt.Errorf("silence duration must be positive, got %v", c.SilenceDuration)
	}
	return nil
}

// SilenceDetector consumes PCM16 little-endian mono audio and reports
// debounced transitions between sound and sustained silence.
type SilenceDetector struct {
	config        SilenceConfig
	windowSamples int

	samples    []int16
	carry      byte
	hasCarry   bool
	calibRMS   []float64
	noiseFloor float64
	threshold  float64
	calibrated bool
	silentFor  time.Duration
	warned     bool
	lastRMS    float64

	// Statistics
	totalWindows  uint64
	silentWindows uint64
	warnings      uint64

	mu sync.Mutex
}

// DetectorStats represents silence detector statistics
type DetectorStats struct {
	Calibrated     bool          `json:"calibrated"`
	NoiseFloor     float64       `json:"noise_floor"`
	Threshold      float64       `json:"threshold"`
	LastRMS        float64       `json:"last_rms"`
	SilentFor      time.Duration `json:"silent_for"`
	Warning        bool          `json:"warning"`
	TotalWindows   uint64        `json:"total_windows"`
	SilentWindows  uint64        `json:"silent_windows"`
	WarningsRaised uint64        `json:"warnings_raised"`
}

// NewSilenceDetector creates a new silence detector
func NewSilenceDetector(config SilenceConfig) (*SilenceDetector, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid silence config: %w", err)
	}

	return &SilenceDetector{
		config:        config,
		windowSamples: config.WindowSamples(),
		calibRMS:      make([]float64, 0, config.CalibrationWindow),
	}, nil
}

// OnData feeds raw PCM16 bytes. Complete windows are analysed in order and
// the event of the last state change in this call is returned.
func (d *SilenceDetector) OnData(p []byte) SilenceEvent {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(p) == 0 {
		return NoChange
	}

	if d.hasCarry {
		d.samples = append(d.samples, int16(uint16(d.carry)|uint16(p[0])<<8))
		d.hasCarry = false
		p = p[1:]
	}
	for len(p) >= 2 {
		d.samples = append(d.samples, int16(uint16(p[0])|uint16(p[1])<<8))
		p = p[2:]
	}
	if len(p) == 1 {
		d.carry = p[0]
		d.hasCarry = true
	}

	event := NoChange
	off := 0
	for len(d.samples)-off >= d.windowSamples {
		if ev := d.processWindow(d.samples[off : off+d.windowSamples]); ev != NoChange {
			event = ev
		}
		off += d.windowSamples
	}
	n := copy(d.samples, d.samples[off:])
	d.samples = d.samples[:n]

	return event
}

func (d *SilenceDetector) processWindow(window []int16) SilenceEvent {
	rms := computeRMS(window)
	d.lastRMS = rms
	d.totalWindows++

	if !d.calibrated {
		d.calibRMS = append(d.calibRMS, rms)
		if len(d.calibRMS) >= d.config.CalibrationWindow {
			d.noiseFloor = math.Max(median(d.calibRMS), d.config.MinNoiseFloor)
			d.threshold = math.Max(d.noiseFloor*d.config.FloorFactor, d.config.MinThreshold)
			d.calibrated = true
		}
		return NoChange
	}

	if rms < d.threshold {
		d.silentWindows++
		d.silentFor += d.config.Window
		if !d.warned && d.silentFor >= d.config.SilenceDuration {
			d.warned = true
			d.warnings++
			return SilentFor10s
		}
		return NoChange
	}

	d.silentFor = 0
	if d.warned {
		d.warned = false
		return SoundResumed
	}
	return NoChange
}

// Reset returns the detector to the uncalibrated state.
func (d *SilenceDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.samples = d.samples[:0]
	d.hasCarry = false
	d.calibRMS = d.calibRMS[:0]
	d.noiseFloor = 0
	d.threshold = 0
	d.calibrated = false
	d.silentFor = 0
	d.warned = false
	d.lastRMS = 0
}

// Stats returns detector statistics
func (d *SilenceDetector) Stats() DetectorStats {
	d.mu.Lock()
	defer d.mu.Unlock()

	return DetectorStats{
		Calibrated:     d.calibrated,
		NoiseFloor:     d.noiseFloor,
		Threshold:      d.threshold,
		LastRMS:        d.lastRMS,
		SilentFor:      d.silentFor,
		Warning:        d.warned,
		TotalWindows:   d.totalWindows,
		SilentWindows:  d.silentWindows,
		WarningsRaised: d.warnings,
	}
}

// computeRMS returns the root mean square amplitude of a window
func computeRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var energy float64
	for _, s := range samples {
		energy += float64(s) * float64(s)
	}
	return math.Sqrt(energy / float64(len(samples)))
}

// median of an even count is the mean of the two middle values.
func median(values []float64) float64 {
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
