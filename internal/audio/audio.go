package audio

import (
	"errors"
	"fmt"
)

var (
	// ErrPermissionDenied is returned when microphone access is not granted
	ErrPermissionDenied = errors.New("microphone permission denied")
	// ErrDeviceUnavailable is returned when no usable input device exists
	ErrDeviceUnavailable = errors.New("audio device unavailable")
)

// Device represents an audio input device
type Device struct {
	ID        int
	Name      string
	IsDefault bool
}

// LatencyMode defines the latency priority
type LatencyMode int

const (
	// LowLatency prioritizes low latency (real-time)
	LowLatency LatencyMode = iota
	// HighStability prioritizes stability (larger buffer)
	HighStability
)

// Format describes raw PCM layout
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// BytesPerSample returns the byte width of one sample of one channel
func (f Format) BytesPerSample() int {
	return f.BitsPerSample / 8
}

// FrameBytes returns the byte length of a frame of the given sample count
func (f Format) FrameBytes(frameSamples int) int {
	return frameSamples * f.BytesPerSample() * f.Channels
}

// Validate checks that the format can be framed
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate: %d", f.SampleRate)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("invalid channel count: %d", f.Channels)
	}
	if f.BitsPerSample <= 0 || f.BitsPerSample%8 != 0 {
		return fmt.Errorf("invalid bits per sample: %d", f.BitsPerSample)
	}
	return nil
}

// PCM16Mono16k is the frame format expected by the classifier
var PCM16Mono16k = Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16}

// Config holds audio configuration
type Config struct {
	DeviceID         int
	SampleRate       int
	Channels         int
	FrameSizeSamples int
	Latency          LatencyMode
}

// DefaultConfig returns the default audio configuration
// Sample rate: 16kHz, mono, 512-sample frames
func DefaultConfig() Config {
	return Config{
		DeviceID:         -1, // -1 means use default device
		SampleRate:       16000,
		Channels:         1,
		FrameSizeSamples: 512,
		Latency:          HighStability,
	}
}

// Format returns the 16-bit PCM format described by the config
func (c Config) Format() Format {
	return Format{SampleRate: c.SampleRate, Channels: c.Channels, BitsPerSample: 16}
}

// FrameSource supplies fixed-size PCM frames.
//
// ReadFrame blocks until one full frame is available. It returns io.EOF
// once the stream is exhausted; callers treat any other error, or an
// empty frame, as the end of the stream as well. The returned slice is
// owned by the caller.
type FrameSource interface {
	Format() Format
	FrameSize() int
	ReadFrame() ([]byte, error)
	Close() error
}
