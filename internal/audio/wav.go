package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	gowav "github.com/go-audio/wav"
)

// WAVHeaderSize is the size of the canonical PCM RIFF header.
const WAVHeaderSize = 44

// Byte offsets of the two size fields rewritten when a segment is closed.
const (
	riffSizeOffset = 4
	dataSizeOffset = 40
)

// WAVHeader represents the header structure of a WAV file
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16  // Number of channels
	SampleRate    uint32  // Sample rate
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16  // Bits per sample
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// NewPCMHeader builds a header for uncompressed PCM with dataSize bytes of payload.
func NewPCMHeader(sampleRate, channels, bitsPerSample int, dataSize uint32) WAVHeader {
	numChannels := uint16(channels)
	bits := uint16(bitsPerSample)

	return WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   numChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(numChannels) * uint32(bits) / 8,
		BlockAlign:    numChannels * bits / 8,
		BitsPerSample: bits,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}
}

// WriteWAVHeader writes h in little-endian order.
func WriteWAVHeader(w io.Writer, h WAVHeader) error {
	if err := binary.Write(w, binary.LittleEndian, h); err != nil {
		return fmt.Errorf("failed to write WAV header: %w", err)
	}
	return nil
}

// BackfillWAVSizes rewrites the RIFF and data chunk sizes of a file whose
// header was written with placeholder sizes.
func BackfillWAVSizes(w io.WriterAt, dataSize uint32) error {
	var field [4]byte

	binary.LittleEndian.PutUint32(field[:], 36+dataSize)
	if _, err := w.WriteAt(field[:], riffSizeOffset); err != nil {
		return fmt.Errorf("failed to write RIFF size: %w", err)
	}

	binary.LittleEndian.PutUint32(field[:], dataSize)
	if _, err := w.WriteAt(field[:], dataSizeOffset); err != nil {
		return fmt.Errorf("failed to write data size: %w", err)
	}

	return nil
}

// ReadWAVHeader reads and validates a canonical 44-byte PCM header.
func ReadWAVHeader(r io.Reader) (*WAVHeader, error) {
	raw := make([]byte, WAVHeaderSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("WAV data too short: %w", err)
	}

	if err := ValidateWAV(raw); err != nil {
		return nil, err
	}

	var header WAVHeader
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read WAV header: %w", err)
	}

	if header.AudioFormat != 1 {
		return nil, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", header.AudioFormat)
	}

	return &header, nil
}

// ValidateWAV validates a WAV file format without decoding the entire audio data
func ValidateWAV(data []byte) error {
	if len(data) < WAVHeaderSize {
		return fmt.Errorf("WAV data too short: need at least %d bytes, got %d", WAVHeaderSize, len(data))
	}

	if string(data[0:4]) != "RIFF" {
		return fmt.Errorf("invalid WAV file: missing RIFF header")
	}

	if string(data[8:12]) != "WAVE" {
		return fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	if string(data[12:16]) != "fmt " {
		return fmt.Errorf("invalid WAV file: missing fmt chunk")
	}

	if string(data[36:40]) != "data" {
		return fmt.Errorf("invalid WAV file: missing data chunk")
	}

	return nil
}

// SegmentInfo describes a closed segment file on disk.
type SegmentInfo struct {
	Path          string        `json:"path"`
	SampleRate    uint32        `json:"sample_rate"`
	Channels      uint16        `json:"channels"`
	BitsPerSample uint16        `json:"bits_per_sample"`
	DataSize      uint32        `json:"data_size_bytes"`
	FileSize      int64         `json:"file_size_bytes"`
	Duration      time.Duration `json:"duration"`
}

// InspectSegment opens a segment file, checks it decodes as PCM WAV and
// that the header sizes agree with the file length.
func InspectSegment(path string) (*SegmentInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open segment %s: %w", path, err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat segment %s: %w", path, err)
	}

	decoder := gowav.NewDecoder(f)
	if !decoder.IsValidFile() {
		return nil, fmt.Errorf("segment %s is not a valid WAV file", path)
	}
	if decoder.WavAudioFormat != 1 {
		return nil, fmt.Errorf("segment %s: unsupported audio format %d", path, decoder.WavAudioFormat)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind segment %s: %w", path, err)
	}
	header, err := ReadWAVHeader(f)
	if err != nil {
		return nil, fmt.Errorf("segment %s: %w", path, err)
	}

	if int64(header.Subchunk2Size)+WAVHeaderSize != stat.Size() {
		return nil, fmt.Errorf("segment %s: header declares %d data bytes but file holds %d",
			path, header.Subchunk2Size, stat.Size()-WAVHeaderSize)
	}

	info := &SegmentInfo{
		Path:          path,
		SampleRate:    decoder.SampleRate,
		Channels:      decoder.NumChans,
		BitsPerSample: decoder.BitDepth,
		DataSize:      header.Subchunk2Size,
		FileSize:      stat.Size(),
	}
	if header.ByteRate > 0 {
		info.Duration = time.Duration(header.Subchunk2Size) * time.Second / time.Duration(header.ByteRate)
	}

	return info, nil
}
