package capture

// DataFunc receives a chunk of PCM16 little-endian audio. The slice is owned
// by the callee once delivered.
type DataFunc func(p []byte)

// ErrorFunc is called at most once when a source fails after Start.
type ErrorFunc func(err error)

// Source is a capture device. Stop is synchronous: once it returns no
// further callbacks are made.
type Source interface {
	Start(onData DataFunc, onError ErrorFunc) error
	Stop() error
}

// Format describes the PCM stream a source produces.
type Format struct {
	SampleRate int
	Channels   int
}

// BytesPerSecond of 16-bit PCM in this format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}
