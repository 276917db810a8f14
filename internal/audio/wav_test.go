package audio

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// sineBytes renders a 440Hz tone as little-endian PCM16.
func sineBytes(sampleRate int, duration time.Duration) []byte {
	numSamples := int(int64(sampleRate) * int64(duration) / int64(time.Second))
	out := make([]byte, 0, numSamples*2)
	for i := 0; i < numSamples; i++ {
		t := float64(i) / float64(sampleRate)
		s := int16(16383.0 * math.Sin(2*math.Pi*440*t))
		out = append(out, byte(s), byte(s>>8))
	}
	return out
}

func writeSegmentFile(t *testing.T, path string, pcm []byte, declared uint32) {
	t.Helper()
	var buf bytes.Buffer
	if err := WriteWAVHeader(&buf, NewPCMHeader(16000, 1, 16, declared)); err != nil {
		t.Fatalf("WriteWAVHeader failed: %v", err)
	}
	buf.Write(pcm)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
}

func TestWriteWAVHeader(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteWAVHeader(&buf, NewPCMHeader(16000, 1, 16, 0)); err != nil {
		t.Fatalf("WriteWAVHeader failed: %v", err)
	}

	if buf.Len() != WAVHeaderSize {
		t.Fatalf("Expected %d byte header, got %d", WAVHeaderSize, buf.Len())
	}
	if err := ValidateWAV(buf.Bytes()); err != nil {
		t.Errorf("Header is invalid: %v", err)
	}

	header, err := ReadWAVHeader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("ReadWAVHeader failed: %v", err)
	}
	if header.SampleRate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", header.SampleRate)
	}
	if header.ByteRate != 32000 {
		t.Errorf("Expected byte rate 32000, got %d", header.ByteRate)
	}
	if header.BlockAlign != 2 {
		t.Errorf("Expected block align 2, got %d", header.BlockAlign)
	}
	if header.ChunkSize != 36 {
		t.Errorf("Expected placeholder RIFF size 36, got %d", header.ChunkSize)
	}
}

func TestBackfillWAVSizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seg.wav")
	pcm := sineBytes(16000, 250*time.Millisecond)
	writeSegmentFile(t, path, pcm, 0)

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := BackfillWAVSizes(f, uint32(len(pcm))); err != nil {
		t.Fatalf("BackfillWAVSizes failed: %v", err)
	}
	f.Close()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	header, err := ReadWAVHeader(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("ReadWAVHeader failed: %v", err)
	}
	if int(header.Subchunk2Size) != len(pcm) {
		t.Errorf("Expected data size %d, got %d", len(pcm), header.Subchunk2Size)
	}
	if int(header.ChunkSize) != len(raw)-8 {
		t.Errorf("Expected RIFF size %d, got %d", len(raw)-8, header.ChunkSize)
	}
}

func TestValidateWAV(t *testing.T) {
	var good bytes.Buffer
	WriteWAVHeader(&good, NewPCMHeader(16000, 1, 16, 0))

	tests := []struct {
		name      string
		data      []byte
		expectErr bool
	}{
		{name: "valid header", data: good.Bytes(), expectErr: false},
		{name: "too short", data: []byte("RIFF"), expectErr: true},
		{name: "bad riff", data: append([]byte("RIFX"), good.Bytes()[4:]...), expectErr: true},
		{name: "bad data tag", data: append(append([]byte{}, good.Bytes()[:36]...), []byte("junk\x00\x00\x00\x00")...), expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateWAV(tt.data)
			if tt.expectErr && err == nil {
				t.Error("Expected error but got none")
			}
			if !tt.expectErr && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}

func TestInspectSegment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seg.wav")
	pcm := sineBytes(16000, 500*time.Millisecond)
	writeSegmentFile(t, path, pcm, uint32(len(pcm)))

	info, err := InspectSegment(path)
	if err != nil {
		t.Fatalf("InspectSegment failed: %v", err)
	}
	if info.SampleRate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", info.SampleRate)
	}
	if info.Channels != 1 {
		t.Errorf("Expected 1 channel, got %d", info.Channels)
	}
	if info.BitsPerSample != 16 {
		t.Errorf("Expected 16 bits per sample, got %d", info.BitsPerSample)
	}
	if int(info.DataSize) != len(pcm) {
		t.Errorf("Expected data size %d, got %d", len(pcm), info.DataSize)
	}
	if info.Duration != 500*time.Millisecond {
		t.Errorf("Expected duration 500ms, got %v", info.Duration)
	}
}

func TestInspectSegmentSizeMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seg.wav")
	pcm := sineBytes(16000, 100*time.Millisecond)
	writeSegmentFile(t, path, pcm, uint32(len(pcm)+100))

	if _, err := InspectSegment(path); err == nil {
		t.Error("Expected error for header that disagrees with file length")
	}
}

func TestInspectSegmentMissingFile(t *testing.T) {
	if _, err := InspectSegment(filepath.Join(t.TempDir(), "missing.wav")); err == nil {
		t.Error("Expected error for missing file")
	}
}
