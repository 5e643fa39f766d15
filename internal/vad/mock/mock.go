// Package mock provides test doubles for the vad package interfaces.
//
// Classifier replays a scripted sequence of speech decisions and records
// every frame it was asked to classify. Engine hands out a preconfigured
// Classifier and records the Config it was opened with.
//
// Example:
//
//	cls := mock.NewClassifier(320, false, false, true, true, false)
//	eng := &mock.Engine{Classifier: cls}
package mock

import (
	"sync"

	"github.com/yok-tottii/EzEcho/internal/vad"
)

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Classifier is returned by Open. If nil, Open returns a classifier
	// that always reports silence.
	Classifier *Classifier

	// OpenErr, if non-nil, is returned as the error from Open.
	OpenErr error

	// OpenCalls records the Config of every Open call in order.
	OpenCalls []vad.Config
}

// Open records the call and returns Classifier, OpenErr.
func (e *Engine) Open(cfg vad.Config) (vad.Classifier, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.OpenCalls = append(e.OpenCalls, cfg)
	if e.OpenErr != nil {
		return nil, e.OpenErr
	}
	if e.Classifier != nil {
		return e.Classifier, nil
	}
	return NewClassifier(cfg.FrameSizeSamples), nil
}

// Ensure Engine implements vad.Engine at compile time.
var _ vad.Engine = (*Engine)(nil)

// Classifier is a mock implementation of vad.Classifier.
type Classifier struct {
	mu sync.Mutex

	frameSize int
	script    []bool

	// Default is returned once the script is exhausted.
	Default bool

	// ClassifyErr, if non-nil, is returned by every Classify call.
	ClassifyErr error

	// Frames records a copy of every frame passed to Classify.
	Frames [][]byte

	// CloseCount is the number of times Close was called.
	CloseCount int
}

// NewClassifier returns a classifier for frameSize-sample frames that
// answers Classify with script in order.
func NewClassifier(frameSize int, script ...bool) *Classifier {
	return &Classifier{frameSize: frameSize, script: script}
}

// Classify records the frame and returns the next scripted decision.
func (c *Classifier) Classify(frame []byte) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Frames = append(c.Frames, append([]byte(nil), frame...))
	if c.ClassifyErr != nil {
		return false, c.ClassifyErr
	}
	i := len(c.Frames) - 1
	if i < len(c.script) {
		return c.script[i], nil
	}
	return c.Default, nil
}

// FrameSize returns the configured frame size.
func (c *Classifier) FrameSize() int {
	return c.frameSize
}

// Close records the call.
func (c *Classifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CloseCount++
	return nil
}

// CallCount returns the number of Classify calls so far. Thread-safe.
func (c *Classifier) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Frames)
}

// Closes returns the number of Close calls so far. Thread-safe.
func (c *Classifier) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CloseCount
}

// Ensure Classifier implements vad.Classifier at compile time.
var _ vad.Classifier = (*Classifier)(nil)
