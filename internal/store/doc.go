// Package store holds the recording domain models and the repository the
// recorder and background jobs use to persist sessions, segments,
// transcript lines and summaries.
package store
