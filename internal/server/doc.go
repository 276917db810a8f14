// Package server implements the HTTP control and monitoring API of the recorder.
// It exposes recording control (start, pause, resume, stop), the current status
// as JSON and as a server-sent event stream, session, transcript and summary
// queries with a live summary stream, session deletion, and Prometheus metrics.
package server
