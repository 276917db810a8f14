// Package capture provides audio sources that deliver 16-bit little-endian
// PCM to a callback: the default microphone through PortAudio, and a
// paced replay of raw PCM from any reader.
package capture
