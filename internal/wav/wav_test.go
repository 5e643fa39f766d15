package wav

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestEncodeGoldenHeader(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	got := Encode(pcm, 16000, 1, 16)

	want := []byte{
		'R', 'I', 'F', 'F',
		0x28, 0x00, 0x00, 0x00, // 4 + 36
		'W', 'A', 'V', 'E',
		'f', 'm', 't', ' ',
		0x10, 0x00, 0x00, 0x00, // fmt chunk size
		0x01, 0x00, // PCM
		0x01, 0x00, // mono
		0x80, 0x3e, 0x00, 0x00, // 16000
		0x00, 0x7d, 0x00, 0x00, // 32000 bytes/s
		0x02, 0x00, // block align
		0x10, 0x00, // 16 bits
		'd', 'a', 't', 'a',
		0x04, 0x00, 0x00, 0x00,
		0x01, 0x02, 0x03, 0x04,
	}

	if !bytes.Equal(got, want) {
		t.Errorf("Encode mismatch\n got: % x\nwant: % x", got, want)
	}
}

func TestEncodeSize(t *testing.T) {
	pcm := make([]byte, 3*640)
	got := Encode(pcm, 16000, 1, 16)
	if len(got) != HeaderSize+3*640 {
		t.Errorf("Expected %d bytes, got %d", HeaderSize+3*640, len(got))
	}
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name       string
		sampleRate int
		channels   int
		bits       int
	}{
		{"16k mono 16bit", 16000, 1, 16},
		{"48k stereo 16bit", 48000, 2, 16},
		{"8k mono 8bit", 8000, 1, 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pcm := make([]byte, 1000)
			for i := range pcm {
				pcm[i] = byte(i * 7)
			}

			h, payload, err := Decode(Encode(pcm, tt.sampleRate, tt.channels, tt.bits))
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if int(h.SampleRate) != tt.sampleRate {
				t.Errorf("Expected sample rate %d, got %d", tt.sampleRate, h.SampleRate)
			}
			if int(h.Channels) != tt.channels {
				t.Errorf("Expected %d channels, got %d", tt.channels, h.Channels)
			}
			if int(h.BitsPerSample) != tt.bits {
				t.Errorf("Expected %d bits, got %d", tt.bits, h.BitsPerSample)
			}
			if !bytes.Equal(payload, pcm) {
				t.Error("Payload did not survive the round trip")
			}
		})
	}
}

func TestParseHeaderRejectsBadMagic(t *testing.T) {
	good := Encode(nil, 16000, 1, 16)

	tests := []struct {
		name   string
		offset int
	}{
		{"RIFF", 0},
		{"WAVE", 8},
		{"fmt", 12},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bad := append([]byte(nil), good...)
			bad[tt.offset] = 'X'
			if _, err := ParseHeader(bad); !errors.Is(err, ErrInvalidHeader) {
				t.Errorf("Expected ErrInvalidHeader, got %v", err)
			}
		})
	}
}

func TestParseHeaderShort(t *testing.T) {
	if _, err := ParseHeader(make([]byte, 10)); !errors.Is(err, ErrInvalidHeader) {
		t.Errorf("Expected ErrInvalidHeader, got %v", err)
	}
	if _, err := ReadHeader(bytes.NewReader(make([]byte, 10))); !errors.Is(err, ErrInvalidHeader) {
		t.Errorf("Expected ErrInvalidHeader from ReadHeader, got %v", err)
	}
}

func TestConvertFile(t *testing.T) {
	tmpDir := t.TempDir()
	pcmPath := filepath.Join(tmpDir, "audio.pcm")
	wavPath := filepath.Join(tmpDir, "out", "audio.wav")

	pcm := bytes.Repeat([]byte{0xAA, 0x55}, 640)
	if err := os.WriteFile(pcmPath, pcm, 0644); err != nil {
		t.Fatalf("Failed to write pcm: %v", err)
	}

	if err := ConvertFile(pcmPath, wavPath, 16000, 1, 16); err != nil {
		t.Fatalf("ConvertFile failed: %v", err)
	}

	data, err := os.ReadFile(wavPath)
	if err != nil {
		t.Fatalf("Failed to read wav: %v", err)
	}

	if !bytes.Equal(data, Encode(pcm, 16000, 1, 16)) {
		t.Error("ConvertFile output differs from Encode")
	}
}

func TestConvertFileMatchesEncode(t *testing.T) {
	tests := []struct {
		name       string
		sampleRate int
		channels   int
		bits       int
		size       int
	}{
		{"empty", 16000, 1, 16, 0},
		{"16k mono 16bit", 16000, 1, 16, 3 * 640},
		{"multiple chunks", 16000, 1, 16, 5000 * 2},
		{"48k stereo 16bit", 48000, 2, 16, 4 * 480 * 2},
		{"8k mono 8bit", 8000, 1, 8, 999},
		{"24bit mono", 48000, 1, 24, 300 * 3},
		{"32bit stereo", 44100, 2, 32, 100 * 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			pcmPath := filepath.Join(tmpDir, "audio.pcm")
			wavPath := filepath.Join(tmpDir, "audio.wav")

			pcm := make([]byte, tt.size)
			for i := range pcm {
				pcm[i] = byte(i*31 + 7)
			}
			if err := os.WriteFile(pcmPath, pcm, 0644); err != nil {
				t.Fatalf("Failed to write pcm: %v", err)
			}

			if err := ConvertFile(pcmPath, wavPath, tt.sampleRate, tt.channels, tt.bits); err != nil {
				t.Fatalf("ConvertFile failed: %v", err)
			}

			data, err := os.ReadFile(wavPath)
			if err != nil {
				t.Fatalf("Failed to read wav: %v", err)
			}
			want := Encode(pcm, tt.sampleRate, tt.channels, tt.bits)
			if !bytes.Equal(data, want) {
				n := len(data)
				if n > HeaderSize {
					n = HeaderSize
				}
				t.Errorf("ConvertFile output differs from Encode: %d vs %d bytes\n got: % x\nwant: % x",
					len(data), len(want), data[:n], want[:HeaderSize])
			}
		})
	}
}

func TestConvertFileDropsPartialFrame(t *testing.T) {
	tmpDir := t.TempDir()
	pcmPath := filepath.Join(tmpDir, "audio.pcm")
	wavPath := filepath.Join(tmpDir, "audio.wav")

	pcm := bytes.Repeat([]byte{0x12, 0x34}, 10)
	if err := os.WriteFile(pcmPath, append(pcm, 0x56), 0644); err != nil {
		t.Fatalf("Failed to write pcm: %v", err)
	}

	if err := ConvertFile(pcmPath, wavPath, 16000, 1, 16); err != nil {
		t.Fatalf("ConvertFile failed: %v", err)
	}

	data, _ := os.ReadFile(wavPath)
	if !bytes.Equal(data, Encode(pcm, 16000, 1, 16)) {
		t.Error("Expected the trailing odd byte to be dropped")
	}
}

func TestConvertFileUnsupportedDepth(t *testing.T) {
	tmpDir := t.TempDir()
	pcmPath := filepath.Join(tmpDir, "audio.pcm")
	os.WriteFile(pcmPath, make([]byte, 12), 0644)

	if err := ConvertFile(pcmPath, filepath.Join(tmpDir, "a.wav"), 16000, 1, 12); err == nil {
		t.Error("Expected error for 12-bit samples")
	}
	if err := ConvertFile(pcmPath, filepath.Join(tmpDir, "b.wav"), 16000, 0, 16); err == nil {
		t.Error("Expected error for zero channels")
	}
}

func TestConvertFileMissingInput(t *testing.T) {
	tmpDir := t.TempDir()
	err := ConvertFile(filepath.Join(tmpDir, "missing.pcm"), filepath.Join(tmpDir, "x.wav"), 16000, 1, 16)
	if err == nil {
		t.Error("Expected error for missing pcm file")
	}
}
