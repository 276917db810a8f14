// Package vad detects sustained silence in a PCM16 stream using RMS energy
// against a noise floor calibrated from the first windows after a reset.
package vad
