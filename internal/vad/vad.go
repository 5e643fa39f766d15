// Package vad defines the frame classifier used to split audio into speech
// and silence.
//
// A Classifier is opened from an Engine with a fixed sample rate and frame
// size. Every frame passed to Classify must have exactly that size; the
// capture pipeline checks this once at setup so Classify never sees a
// mismatched frame in practice. Classifiers are not safe for concurrent
// use.
package vad

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrFrameSize is returned by Classify for a frame of the wrong length
	ErrFrameSize = errors.New("frame size does not match classifier configuration")
	// ErrFrameSizeMismatch is returned at pipeline setup when the classifier
	// and the capture source disagree on the frame size
	ErrFrameSizeMismatch = errors.New("classifier frame size does not match capture frame size")
	// ErrClosed is returned by Classify after Close
	ErrClosed = errors.New("classifier closed")
	// ErrUnknownBackend is returned by New for an unregistered backend name
	ErrUnknownBackend = errors.New("unknown vad backend")
)

// Mode is the detector sensitivity. Higher modes reject more frames as silence.
type Mode int

const (
	ModeNormal Mode = iota
	ModeLowBitrate
	ModeAggressive
	ModeVeryAggressive
)

// String returns the configuration name of the mode
func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeLowBitrate:
		return "low_bitrate"
	case ModeAggressive:
		return "aggressive"
	case ModeVeryAggressive:
		return "very_aggressive"
	default:
		return "unknown"
	}
}

// ParseMode converts a configuration name to a Mode
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "normal", "":
		return ModeNormal, nil
	case "low_bitrate":
		return ModeLowBitrate, nil
	case "aggressive":
		return ModeAggressive, nil
	case "very_aggressive":
		return ModeVeryAggressive, nil
	default:
		return ModeNormal, fmt.Errorf("invalid vad mode: %s", s)
	}
}

// Config holds the parameters a classifier is opened with
type Config struct {
	// SampleRate in Hz of the 16-bit mono PCM passed to Classify
	SampleRate int
	// FrameSizeSamples is the exact number of samples per frame
	FrameSizeSamples int
	Mode             Mode
}

// FrameBytes returns the expected byte length of a frame (16-bit mono)
func (c Config) FrameBytes() int {
	return c.FrameSizeSamples * 2
}

// Classifier labels fixed-size frames as speech or silence
type Classifier interface {
	// Classify reports whether frame contains speech
	Classify(frame []byte) (bool, error)
	// FrameSize returns the configured frame size in samples
	FrameSize() int
	// Close releases model resources. Safe to call more than once.
	Close() error
}

// Engine opens classifiers
type Engine interface {
	Open(cfg Config) (Classifier, error)
}

var engines = map[string]Engine{
	"energy": EnergyEngine{},
}

// New returns the engine registered under backend
func New(backend string) (Engine, error) {
	e, ok := engines[strings.ToLower(backend)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
	return e, nil
}

// Backends returns the registered backend names in sorted order
func Backends() []string {
	names := make([]string, 0, len(engines))
	for name := range engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
