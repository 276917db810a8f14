// Package audio splits a live PCM stream into overlapping WAV segment files.
// It writes a placeholder RIFF header when a segment opens, backfills the
// sizes when it closes, and can inspect finished segments on disk.
package audio
