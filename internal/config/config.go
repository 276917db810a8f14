package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Storage       StorageConfig       `yaml:"storage"`
	Audio         AudioConfig         `yaml:"audio"`
	Silence       SilenceConfig       `yaml:"silence"`
	Recorder      RecorderConfig      `yaml:"recorder"`
	Jobs          JobsConfig          `yaml:"jobs"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	HTTP          HTTPConfig          `yaml:"http"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// StorageConfig contains on-disk locations
type StorageConfig struct {
	DataDir   string `yaml:"data_dir"`
	StateFile string `yaml:"state_file"` // defaults to <data_dir>/recording_state.json
}

// AudioConfig contains capture and segmenting parameters
type AudioConfig struct {
	SampleRate      int     `yaml:"sample_rate"`
	Channels        int     `yaml:"channels"`
	BitDepth        int     `yaml:"bit_depth"`
	SegmentDuration float64 `yaml:"segment_duration"` // seconds
	OverlapDuration float64 `yaml:"overlap_duration"` // seconds
	FramesPerBuffer int     `yaml:"frames_per_buffer"`
}

// SilenceConfig contains silence detection parameters
type SilenceConfig struct {
	WindowMs         int     `yaml:"window_ms"`
	CalibrationMs    int     `yaml:"calibration_ms"`
	SilenceMs        int     `yaml:"silence_ms"`
	MinThreshold     float64 `yaml:"min_threshold"`
	CalibrationFloor float64 `yaml:"calibration_floor"`
	FloorFactor      float64 `yaml:"floor_factor"`
}

// RecorderConfig contains recording controller parameters
type RecorderConfig struct {
	TickIntervalMs int `yaml:"tick_interval_ms"`
}

// JobsConfig contains background job dispatcher parameters
type JobsConfig struct {
	Workers          int `yaml:"workers"`
	QueueSize        int `yaml:"queue_size"`
	MaxAttempts      int `yaml:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms"`
}

// TranscriptionConfig contains transcription API configuration
type TranscriptionConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Endpoint      string `yaml:"endpoint"`
	APIKey        string `yaml:"api_key"`
	Timeout       int    `yaml:"timeout"`     // seconds
	MaxRetries    int    `yaml:"max_retries"` // in-request retries; each job attempt repeats them
	MaxConcurrent int    `yaml:"max_concurrent"`
	Language      string `yaml:"language"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Environment variables that override file values.
const (
	EnvTranscriptionAPIKey = "ECHO_TRANSCRIPTION_API_KEY"
	EnvDataDir             = "ECHO_DATA_DIR"
	EnvHTTPAddress         = "ECHO_HTTP_ADDRESS"
	EnvLogLevel            = "ECHO_LOG_LEVEL"
)

// Default returns the configuration used for keys missing from the file.
func Default() Config {
	return Config{
		Storage: StorageConfig{
			DataDir: "./data",
		},
		Audio: AudioConfig{
			SampleRate:      16000,
			Channels:        1,
			BitDepth:        16,
			SegmentDuration: 30,
			OverlapDuration: 2,
			FramesPerBuffer: 1024,
		},
		Silence: SilenceConfig{
			WindowMs:         200,
			CalibrationMs:    2000,
			SilenceMs:        10000,
			MinThreshold:     150,
			CalibrationFloor: 50,
			FloorFactor:      1.15,
		},
		Recorder: RecorderConfig{
			TickIntervalMs: 100,
		},
		Jobs: JobsConfig{
			Workers:          2,
			QueueSize:        64,
			MaxAttempts:      5,
			InitialBackoffMs: 2000,
			MaxBackoffMs:     120000,
		},
		Transcription: TranscriptionConfig{
			Enabled:       false,
			Endpoint:      "http://localhost:8090/v1/transcribe",
			Timeout:       60,
			MaxRetries:    0,
			MaxConcurrent: 2,
		},
		HTTP: HTTPConfig{
			Enabled: true,
			Address: "127.0.0.1",
			Port:    8080,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Loader reads the configuration file and applies environment overrides.
// Tests can override Lookup to inject deterministic values.
type Loader struct {
	Lookup func(string) (string, bool)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	return Loader{}.Load(path)
}

// Load reads path on top of Default, applies environment overrides and
// validates the result. An empty path uses defaults only.
func (l Loader) Load(path string) (*Config, error) {
	if l.Lookup == nil {
		l.Lookup = os.LookupEnv
	}

	config := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	config.applyEnv(l.Lookup)

	if config.Storage.StateFile == "" {
		config.Storage.StateFile = filepath.Join(config.Storage.DataDir, "recording_state.json")
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	override := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	override(EnvTranscriptionAPIKey, &c.Transcription.APIKey)
	override(EnvDataDir, &c.Storage.DataDir)
	override(EnvHTTPAddress, &c.HTTP.Address)
	override(EnvLogLevel, &c.Logging.Level)
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Silence.Validate(); err != nil {
		return fmt.Errorf("silence config: %w", err)
	}

	if err := c.Recorder.Validate(); err != nil {
		return fmt.Errorf("recorder config: %w", err)
	}

	if err := c.Jobs.Validate(); err != nil {
		return fmt.Errorf("jobs config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates storage configuration
func (s *StorageConfig) Validate() error {
	if s.DataDir == "" {
		return fmt.Errorf("data_dir cannot be empty")
	}
	if s.StateFile == "" {
		return fmt.Errorf("state_file cannot be empty")
	}
	return nil
}

// Validate validates audio configuration. Segment files are always 16 kHz
// mono PCM16.
func (a *AudioConfig) Validate() error {
	if a.SampleRate != 16000 {
		return fmt.Errorf("sample_rate must be 16000 Hz, got %d", a.SampleRate)
	}

	if a.Channels != 1 {
		return fmt.Errorf("channels must be 1 (mono), got %d", a.Channels)
	}

	if a.BitDepth != 16 {
		return fmt.Errorf("bit_depth must be 16, got %d", a.BitDepth)
	}

	if a.SegmentDuration != 30 {
		return fmt.Errorf("segment_duration must be 30 seconds, got %g", a.SegmentDuration)
	}

	if a.OverlapDuration != 2 {
		return fmt.Errorf("overlap_duration must be 2 seconds, got %g", a.OverlapDuration)
	}

	if a.FramesPerBuffer < 64 || a.FramesPerBuffer > 16384 {
		return fmt.Errorf("frames_per_buffer must be between 64 and 16384, got %d", a.FramesPerBuffer)
	}

	return nil
}

// Validate validates silence detection configuration
func (s *SilenceConfig) Validate() error {
	if s.WindowMs < 10 {
		return fmt.Errorf("window_ms must be at least 10, got %d", s.WindowMs)
	}

	if s.CalibrationMs < s.WindowMs {
		return fmt.Errorf("calibration_ms (%d) must cover at least one window (%d)", s.CalibrationMs, s.WindowMs)
	}

	if s.SilenceMs < s.WindowMs {
		return fmt.Errorf("silence_ms (%d) must cover at least one window (%d)", s.SilenceMs, s.WindowMs)
	}

	if s.MinThreshold < 0 {
		return fmt.Errorf("min_threshold cannot be negative, got %f", s.MinThreshold)
	}

	if s.CalibrationFloor < 0 {
		return fmt.Errorf("calibration_floor cannot be negative, got %f", s.CalibrationFloor)
	}

	if s.FloorFactor <= 0 {
		return fmt.Errorf("floor_factor must be positive, got %f", s.FloorFactor)
	}

	return nil
}

// Validate validates recorder configuration
func (r *RecorderConfig) Validate() error {
	if r.TickIntervalMs < 10 || r.TickIntervalMs > 1000 {
		return fmt.Errorf("tick_interval_ms must be between 10 and 1000, got %d", r.TickIntervalMs)
	}
	return nil
}

// Validate validates job dispatcher configuration
func (j *JobsConfig) Validate() error {
	if j.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", j.Workers)
	}

	if j.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", j.QueueSize)
	}

	if j.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", j.MaxAttempts)
	}

	if j.InitialBackoffMs < 1 {
		return fmt.Errorf("initial_backoff_ms must be positive, got %d", j.InitialBackoffMs)
	}

	if j.MaxBackoffMs < j.InitialBackoffMs {
		return fmt.Errorf("max_backoff_ms (%d) must not be less than initial_backoff_ms (%d)",
			j.MaxBackoffMs, j.InitialBackoffMs)
	}

	return nil
}

// Validate validates transcription configuration. Nothing is checked while disabled.
func (t *TranscriptionConfig) Validate() error {
	if !t.Enabled {
		return nil
	}

	if t.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if !strings.HasPrefix(t.Endpoint, "http://") && !strings.HasPrefix(t.Endpoint, "https://") {
		return fmt.Errorf("endpoint must be an http(s) URL, got '%s'", t.Endpoint)
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	if t.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", t.MaxRetries)
	}

	if t.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", t.MaxConcurrent)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Anything other than stdout or stderr is treated as a file path.
	if l.Output == "" {
		return fmt.Errorf("output cannot be empty")
	}

	return nil
}

// GetSegmentDuration returns the segment length as a time.Duration
func (a *AudioConfig) GetSegmentDuration() time.Duration {
	return time.Duration(a.SegmentDuration * float64(time.Second))
}

// GetOverlapDuration returns the overlap length as a time.Duration
func (a *AudioConfig) GetOverlapDuration() time.Duration {
	return time.Duration(a.OverlapDuration * float64(time.Second))
}

// GetWindowDuration returns the analysis window as a time.Duration
func (s *SilenceConfig) GetWindowDuration() time.Duration {
	return time.Duration(s.WindowMs) * time.Millisecond
}

// GetSilenceDuration returns the silence warning delay as a time.Duration
func (s *SilenceConfig) GetSilenceDuration() time.Duration {
	return time.Duration(s.SilenceMs) * time.Millisecond
}

// CalibrationWindows returns how many analysis windows calibration spans.
func (s *SilenceConfig) CalibrationWindows() int {
	return s.CalibrationMs / s.WindowMs
}

// GetTickInterval returns the elapsed publishing interval as a time.Duration
func (r *RecorderConfig) GetTickInterval() time.Duration {
	return time.Duration(r.TickIntervalMs) * time.Millisecond
}

// GetInitialBackoff returns the first retry delay as a time.Duration
func (j *JobsConfig) GetInitialBackoff() time.Duration {
	return time.Duration(j.InitialBackoffMs) * time.Millisecond
}

// GetMaxBackoff returns the retry delay cap as a time.Duration
func (j *JobsConfig) GetMaxBackoff() time.Duration {
	return time.Duration(j.MaxBackoffMs) * time.Millisecond
}

// GetTimeoutDuration returns the transcription timeout as a time.Duration
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// ListenAddress returns the HTTP listen address in host:port form.
func (h *HTTPConfig) ListenAddress() string {
	return fmt.Sprintf("%s:%d", h.Address, h.Port)
}
