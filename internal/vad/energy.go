package vad

import (
	"encoding/binary"
	"fmt"
	"math"
)

// energyThresholds maps each mode to the normalized RMS level at or above
// which a frame counts as speech.
var energyThresholds = map[Mode]float64{
	ModeNormal:         0.010,
	ModeLowBitrate:     0.015,
	ModeAggressive:     0.022,
	ModeVeryAggressive: 0.030,
}

var supportedSampleRates = map[int]bool{
	8000:  true,
	16000: true,
	32000: true,
	48000: true,
}

// EnergyEngine opens RMS energy classifiers. It has no model state, so a
// classifier's result depends on the current frame only.
type EnergyEngine struct{}

// Open validates cfg and returns a classifier for it
func (EnergyEngine) Open(cfg Config) (Classifier, error) {
	if !supportedSampleRates[cfg.SampleRate] {
		return nil, fmt.Errorf("unsupported sample rate: %d", cfg.SampleRate)
	}
	if cfg.FrameSizeSamples <= 0 {
		return nil, fmt.Errorf("invalid frame size: %d", cfg.FrameSizeSamples)
	}
	threshold, ok := energyThresholds[cfg.Mode]
	if !ok {
		return nil, fmt.Errorf("invalid vad mode: %d", cfg.Mode)
	}

	return &energyClassifier{cfg: cfg, threshold: threshold}, nil
}

type energyClassifier struct {
	cfg       Config
	threshold float64
	closed    bool
}

func (c *energyClassifier) Classify(frame []byte) (bool, error) {
	if c.closed {
		return false, ErrClosed
	}
	if len(frame) != c.cfg.FrameBytes() {
		return false, fmt.Errorf("%w: got %d bytes, want %d", ErrFrameSize, len(frame), c.cfg.FrameBytes())
	}
	return RMS(frame) >= c.threshold, nil
}

func (c *energyClassifier) FrameSize() int {
	return c.cfg.FrameSizeSamples
}

func (c *energyClassifier) Close() error {
	c.closed = true
	return nil
}

// RMS returns the root mean square of 16-bit little-endian samples,
// normalized to [0, 1].
func RMS(frame []byte) float64 {
	n := len(frame) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(frame[i*2:]))) / 32768.0
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}
