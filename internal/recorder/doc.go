// Package recorder implements the recording state machine. It drives an
// audio source into the segment chunker and silence detector, keeps elapsed
// time across pauses and process restarts, and publishes status and elapsed
// time as observable values.
package recorder
