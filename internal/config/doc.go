// Package config provides configuration loading and validation for the recorder.
// It reads a YAML file over built-in defaults, applies ECHO_* environment
// overrides and validates every section. The audio section is fixed to the
// segment format: 16 kHz mono PCM16, 30 second segments with 2 seconds of overlap.
package config
