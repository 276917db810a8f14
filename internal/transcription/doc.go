// Package transcription implements the HTTP client for the transcription API.
// It uploads finished segment files as multipart form data with the session
// id and chunk index, and retries transient failures with exponential backoff.
package transcription
