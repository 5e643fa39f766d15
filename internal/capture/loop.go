// Package capture runs the frame pull loop that feeds the voice activity
// detector.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/yok-tottii/EzEcho/internal/audio"
	"github.com/yok-tottii/EzEcho/internal/logger"
	"github.com/yok-tottii/EzEcho/internal/metrics"
	"github.com/yok-tottii/EzEcho/internal/vad"
)

// ErrUnsupportedFormat is returned by NewLoop when the source does not
// produce 16-bit mono PCM
var ErrUnsupportedFormat = errors.New("capture source must be 16-bit mono PCM")

// Options holds optional collaborators of a Loop
type Options struct {
	// PreRollFrames is the pre-roll capacity; 0 disables it
	PreRollFrames int
	// SuspendOnVoiceEnd ends the loop right after an utterance ends,
	// before the next frame is read
	SuspendOnVoiceEnd bool
	Logger            *logger.Logger
	Metrics           *metrics.Metrics
}

// Loop pulls frames from a source, classifies them and drives a Detector.
// A Loop runs at most once.
type Loop struct {
	source     audio.FrameSource
	classifier vad.Classifier
	detector   *Detector
	suspend    bool
	log        *logger.Logger
	metrics    *metrics.Metrics

	mu        sync.Mutex
	started   bool
	cancel    context.CancelFunc
	done      chan struct{}
	err       error
	ended     bool
	suspended bool
}

// NewLoop validates that source and classifier agree on the frame layout.
// On error nothing has been classified and the caller still owns source
// and classifier. On success the loop owns both and closes them when it
// ends.
func NewLoop(source audio.FrameSource, classifier vad.Classifier, listener Listener, opts Options) (*Loop, error) {
	if classifier.FrameSize() != source.FrameSize() {
		return nil, fmt.Errorf("%w: classifier %d samples, source %d samples",
			vad.ErrFrameSizeMismatch, classifier.FrameSize(), source.FrameSize())
	}
	if f := source.Format(); f.Channels != 1 || f.BitsPerSample != 16 {
		return nil, fmt.Errorf("%w: got %d channels, %d bits", ErrUnsupportedFormat, f.Channels, f.BitsPerSample)
	}

	return &Loop{
		source:     source,
		classifier: classifier,
		detector:   NewDetector(listener, opts.PreRollFrames),
		suspend:    opts.SuspendOnVoiceEnd,
		log:        opts.Logger,
		metrics:    opts.Metrics,
		done:       make(chan struct{}),
	}, nil
}

// Start launches the loop goroutine. Calling Start more than once, or
// after Stop, has no effect.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.started {
		return
	}
	l.started = true

	ctx, l.cancel = context.WithCancel(ctx)
	go l.run(ctx)
}

// Stop cancels the loop and waits until it has finalized the current
// utterance and released the classifier and the source.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.started {
		// Never ran: release resources here
		l.started = true
		l.mu.Unlock()
		l.release()
		close(l.done)
		return
	}
	cancel := l.cancel
	l.mu.Unlock()

	cancel()
	<-l.done
}

// Done is closed once the loop has fully terminated
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Err returns the read or classification error that ended the loop.
// It is nil for end of stream and cancellation.
func (l *Loop) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// StreamEnded reports whether the loop terminated because the stream
// ended or failed, as opposed to Stop or context cancellation.
func (l *Loop) StreamEnded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ended
}

// Suspended reports whether the loop ended itself after an utterance
func (l *Loop) Suspended() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.suspended
}

// DetectorState returns the detector state. Only meaningful after Done.
func (l *Loop) DetectorState() State {
	select {
	case <-l.done:
		return l.detector.State()
	default:
		return Unvoiced
	}
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)
	defer l.release()

	l.metrics.CaptureStarted(ctx)
	defer l.metrics.CaptureStopped(context.WithoutCancel(ctx))

	l.log.Debug("Capture loop started (frame size %d)", l.source.FrameSize())

	for {
		if ctx.Err() != nil {
			l.log.Debug("Capture loop cancelled")
			return
		}

		frame, err := l.source.ReadFrame()

		if ctx.Err() != nil {
			l.log.Debug("Capture loop cancelled during read")
			return
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				l.log.Info("Capture source reached end of stream")
				l.endStream(nil)
			} else {
				l.log.Warn("Capture read failed, ending stream: %v", err)
				l.endStream(err)
			}
			return
		}
		if len(frame) == 0 {
			l.log.Info("Capture source returned an empty frame, ending stream")
			l.endStream(nil)
			return
		}

		speech, err := l.classifier.Classify(frame)
		if err != nil {
			l.log.Error("Classification failed: %v", err)
			l.endStream(fmt.Errorf("failed to classify frame: %w", err))
			return
		}
		l.metrics.RecordFrame(ctx, speech)

		before := l.detector.State()
		l.detector.Feed(frame, speech)
		after := l.detector.State()
		if before == Unvoiced && after == Voiced {
			l.metrics.RecordVoiceSegment(ctx)
		}
		if l.suspend && before == Voiced && after == Unvoiced {
			l.log.Debug("Capture suspended after utterance")
			l.mu.Lock()
			l.suspended = true
			l.mu.Unlock()
			return
		}
	}
}

// release finalizes the detector before closing the classifier and the
// source, so a trailing utterance is always delivered.
func (l *Loop) release() {
	l.detector.Finish()

	if err := l.classifier.Close(); err != nil {
		l.log.Warn("Failed to close classifier: %v", err)
	}
	if err := l.source.Close(); err != nil {
		l.log.Warn("Failed to close capture source: %v", err)
	}
	l.log.Debug("Capture loop released")
}

func (l *Loop) endStream(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ended = true
	l.err = err
}
