// Package pipeline wires capture, recording, encoding and playback into the
// UNVOICED, VOICED and PLAYING state machine.
//
// All state writes and mic start/stop actions happen on a single worker
// goroutine. Inputs (user requests, detector callbacks, playback results,
// capture termination) are appended to an ordered queue; the worker folds
// everything pending into the latest (request, state) pair and then runs
// a level-triggered reconciliation against it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/yok-tottii/EzEcho/internal/audio"
	"github.com/yok-tottii/EzEcho/internal/capture"
	"github.com/yok-tottii/EzEcho/internal/journal"
	"github.com/yok-tottii/EzEcho/internal/logger"
	"github.com/yok-tottii/EzEcho/internal/metrics"
	"github.com/yok-tottii/EzEcho/internal/playback"
	"github.com/yok-tottii/EzEcho/internal/recorder"
	"github.com/yok-tottii/EzEcho/internal/vad"
)

var (
	// ErrCaptureStart wraps failures to start the microphone
	ErrCaptureStart = errors.New("failed to start capture")
	// ErrCaptureEnded wraps the error that ended a capture loop
	ErrCaptureEnded = errors.New("capture ended")
	// ErrRecord wraps failures to open a recording; the utterance is lost
	ErrRecord = errors.New("failed to start recording")
	// ErrEncode wraps failures to turn a recording into a clip
	ErrEncode = errors.New("failed to encode clip")
	// ErrPlayback wraps playback failures
	ErrPlayback = errors.New("playback failed")
)

// DefaultMicStartDelay is the pause before capture starts after a request
const DefaultMicStartDelay = 300 * time.Millisecond

// SourceFunc opens a capture source. It returns audio.ErrPermissionDenied
// or audio.ErrDeviceUnavailable (possibly wrapped) when capture is not
// possible.
type SourceFunc func() (audio.FrameSource, error)

// ClipJournal records clips and their playback outcome. Prune is called
// after every appended clip to enforce retention.
type ClipJournal interface {
	AppendClip(ctx context.Context, clip journal.Clip) error
	MarkPlayed(ctx context.Context, id string, playErr error) error
	Prune(ctx context.Context) (int, error)
}

// Config holds pipeline tuning
type Config struct {
	// VADMode is passed to the classifier
	VADMode vad.Mode
	// ClassifierFrameSize is the classifier frame size in samples; 0 uses
	// the source frame size
	ClassifierFrameSize int
	// PreRollFrames is the pre-roll capacity; 0 disables it
	PreRollFrames int
	// MicStartDelay is waited before each capture start
	MicStartDelay time.Duration
	// KeepRaw keeps the .pcm file next to the .wav clip
	KeepRaw bool
}

// Deps holds the collaborators of an Orchestrator. Journal, Observer,
// Logger and Metrics are optional.
type Deps struct {
	Source   SourceFunc
	Engine   vad.Engine
	Recorder *recorder.Recorder
	Player   playback.Player
	Journal  ClipJournal
	Observer Observer
	Logger   *logger.Logger
	Metrics  *metrics.Metrics
}

// Orchestrator owns the pipeline state machine
type Orchestrator struct {
	cfg         Config
	source      SourceFunc
	engine      vad.Engine
	recorder    *recorder.Recorder
	coordinator *playback.Coordinator
	journal     ClipJournal
	observer    Observer
	log         *logger.Logger
	metrics     *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	// queue
	qmu     sync.Mutex
	pending []event
	wake    chan struct{}

	// observable values, written only by the worker
	mu       sync.RWMutex
	state    State
	request  bool
	running  bool
	lastClip string
	lastSnap Snapshot

	// worker-owned
	loop *capture.Loop

	// utterance bookkeeping shared with the capture and playback goroutines
	smu      sync.Mutex
	busy     bool
	ignoring bool
	format   audio.Format
	clip     *playback.Clip

	quit       chan struct{}
	workerDone chan struct{}
	closeOnce  sync.Once
}

// New creates an orchestrator and starts its worker. The mic starts
// disabled.
func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.MicStartDelay < 0 {
		cfg.MicStartDelay = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:        cfg,
		source:     deps.Source,
		engine:     deps.Engine,
		recorder:   deps.Recorder,
		journal:    deps.Journal,
		observer:   deps.Observer,
		log:        deps.Logger,
		metrics:    deps.Metrics,
		ctx:        ctx,
		cancel:     cancel,
		wake:       make(chan struct{}, 1),
		quit:       make(chan struct{}),
		workerDone: make(chan struct{}),
	}
	o.coordinator = playback.NewCoordinator(deps.Player, o, playback.Options{
		Logger:  deps.Logger,
		Metrics: deps.Metrics,
	})

	go o.worker()
	return o
}

// RequestMicInput records the user's intent to have the microphone on or off
func (o *Orchestrator) RequestMicInput(enabled bool) {
	o.enqueue(requestChanged{enabled: enabled})
}

// State returns the current pipeline state
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// MicRunning reports whether a capture loop is active
func (o *Orchestrator) MicRunning() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.running
}

// MicRequested reports the user's mic intent
func (o *Orchestrator) MicRequested() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.request
}

// Snapshot returns state, request and running status together
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.snapshotLocked()
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	return Snapshot{
		State:        o.state,
		MicRequested: o.request,
		MicRunning:   o.running,
		LastClip:     o.lastClip,
	}
}

// Close stops the worker, then the capture loop, then any playback
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		close(o.quit)
		<-o.workerDone

		o.stopMic()
		o.coordinator.Stop()
		o.cancel()
	})
}

func (o *Orchestrator) enqueue(ev event) {
	o.qmu.Lock()
	o.pending = append(o.pending, ev)
	o.qmu.Unlock()
	o.signal()
}

func (o *Orchestrator) signal() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *Orchestrator) takePending() []event {
	o.qmu.Lock()
	defer o.qmu.Unlock()
	events := o.pending
	o.pending = nil
	return events
}

func (o *Orchestrator) worker() {
	defer close(o.workerDone)

	for {
		select {
		case <-o.quit:
			return
		case <-o.wake:
		}

		events := o.takePending()
		if len(events) == 0 {
			continue
		}
		for _, ev := range events {
			o.apply(ev)
		}
		o.publish()
		o.reconcile()
		o.publish()
	}
}

// apply folds one event into the latest values
func (o *Orchestrator) apply(ev event) {
	switch e := ev.(type) {
	case requestChanged:
		o.mu.Lock()
		o.request = e.enabled
		o.mu.Unlock()

	case stateChanged:
		if e.state == Playing {
			// capture is suspended before Playing becomes visible
			o.stopMic()
		}
		o.mu.Lock()
		from := o.state
		o.state = e.state
		o.mu.Unlock()
		if from != e.state {
			o.log.Debug("State %s -> %s", from, e.state)
			o.metrics.RecordTransition(o.ctx, from.String(), e.state.String())
		}

	case captureEnded:
		if o.loop != e.loop {
			// Already handled by stopMic
			return
		}
		o.loop = nil
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
		o.loopEnded(e.loop)
	}
}

// loopEnded clears the mic request when the stream ended on its own, so a
// finished file or a failed device is not restarted automatically.
func (o *Orchestrator) loopEnded(loop *capture.Loop) {
	if !loop.StreamEnded() {
		return
	}

	o.mu.Lock()
	o.request = false
	o.mu.Unlock()

	if err := loop.Err(); err != nil {
		o.log.Warn("Capture ended with error: %v", err)
		o.report(fmt.Errorf("%w: %w", ErrCaptureEnded, err))
		return
	}
	o.log.Info("Capture source finished")
}

// reconcile performs the action required by the current (request, state)
// pair. It may run any number of times for the same pair.
func (o *Orchestrator) reconcile() {
	o.mu.RLock()
	state, request := o.state, o.request
	o.mu.RUnlock()

	switch state {
	case Unvoiced:
		if !request {
			o.stopMic()
			return
		}
		if o.loop != nil {
			return
		}
		if !o.waitStartDelay() {
			return
		}
		o.startMic()

	case Voiced:
		// capture continues

	case Playing:
		o.stopMic()
		o.startPlayback()
	}
}

// waitStartDelay waits MicStartDelay. It gives up when a new event
// arrives or the orchestrator closes.
func (o *Orchestrator) waitStartDelay() bool {
	if o.cfg.MicStartDelay == 0 {
		return true
	}

	timer := time.NewTimer(o.cfg.MicStartDelay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-o.wake:
		// Hand the wake-up back to the worker loop
		o.signal()
		return false
	case <-o.quit:
		return false
	}
}

func (o *Orchestrator) startMic() {
	if o.loop != nil {
		return
	}

	src, err := o.source()
	if err != nil {
		o.log.Error("Failed to open capture source: %v", err)
		o.report(fmt.Errorf("%w: %w", ErrCaptureStart, err))
		return
	}

	frameSize := o.cfg.ClassifierFrameSize
	if frameSize == 0 {
		frameSize = src.FrameSize()
	}
	cls, err := o.engine.Open(vad.Config{
		SampleRate:       src.Format().SampleRate,
		FrameSizeSamples: frameSize,
		Mode:             o.cfg.VADMode,
	})
	if err != nil {
		src.Close()
		o.log.Error("Failed to open classifier: %v", err)
		o.report(fmt.Errorf("%w: %w", ErrCaptureStart, err))
		return
	}

	loop, err := capture.NewLoop(src, cls, o, capture.Options{
		PreRollFrames: o.cfg.PreRollFrames,
		// the loop must not read past an utterance that will be played
		SuspendOnVoiceEnd: true,
		Logger:            o.log,
		Metrics:           o.metrics,
	})
	if err != nil {
		cls.Close()
		src.Close()
		o.log.Error("Capture setup rejected: %v", err)
		o.report(fmt.Errorf("%w: %w", ErrCaptureStart, err))
		return
	}

	o.smu.Lock()
	o.format = src.Format()
	o.smu.Unlock()

	o.loop = loop
	o.mu.Lock()
	o.running = true
	o.mu.Unlock()

	loop.Start(o.ctx)
	go func() {
		<-loop.Done()
		o.enqueue(captureEnded{loop: loop})
	}()

	o.log.Info("Microphone started (%d Hz, %d samples/frame)", src.Format().SampleRate, src.FrameSize())
}

func (o *Orchestrator) stopMic() {
	loop := o.loop
	if loop == nil {
		return
	}
	o.loop = nil

	loop.Stop()

	o.mu.Lock()
	o.running = false
	o.mu.Unlock()
	o.log.Info("Microphone stopped")

	o.loopEnded(loop)
}

func (o *Orchestrator) startPlayback() {
	o.smu.Lock()
	clip := o.clip
	o.clip = nil
	o.smu.Unlock()

	if clip == nil {
		return
	}

	o.mu.Lock()
	o.lastClip = clip.Path
	o.mu.Unlock()

	if err := o.coordinator.Play(*clip); err != nil {
		o.log.Error("Failed to start playback: %v", err)
		o.report(fmt.Errorf("%w: %w", ErrPlayback, err))
		o.endSession()
		o.enqueue(stateChanged{state: Unvoiced})
	}
}

// publish notifies the observer when the snapshot changed
func (o *Orchestrator) publish() {
	o.mu.Lock()
	snap := o.snapshotLocked()
	changed := snap != o.lastSnap
	o.lastSnap = snap
	o.mu.Unlock()

	if changed && o.observer != nil {
		o.observer.OnStateChange(snap)
	}
}

func (o *Orchestrator) report(err error) {
	if o.observer != nil {
		o.observer.OnError(err)
	}
}
