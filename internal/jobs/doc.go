// Package jobs runs background work for finished recordings.
//
// A Dispatcher executes keyed jobs on a fixed worker pool with at-least-once
// semantics: a key is reserved until its job completes or is abandoned, failed
// jobs are retried with exponential backoff and jobs that fail with
// ErrPermanent are dropped. Handlers are provided for segment transcription
// and session summaries, and Requeue re-enqueues untranscribed segments at
// startup.
package jobs
