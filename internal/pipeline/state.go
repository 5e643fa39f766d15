package pipeline

import "github.com/yok-tottii/EzEcho/internal/capture"

// State is the pipeline-level state. Voiced mirrors the detector while an
// utterance is recorded; Playing overlays it while the clip is played back
// with capture suspended.
type State int

const (
	// Unvoiced means listening (or idle) with no utterance in progress
	Unvoiced State = iota
	// Voiced means an utterance is being recorded
	Voiced
	// Playing means the last utterance is being played back
	Playing
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case Unvoiced:
		return "UNVOICED"
	case Voiced:
		return "VOICED"
	case Playing:
		return "PLAYING"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the state by name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Snapshot is a consistent view of the pipeline for observers
type Snapshot struct {
	State        State  `json:"state"`
	MicRequested bool   `json:"mic_requested"`
	MicRunning   bool   `json:"mic_running"`
	LastClip     string `json:"last_clip,omitempty"`
}

// Observer receives pipeline updates. Calls arrive on pipeline goroutines
// and must not block.
type Observer interface {
	// OnStateChange is called whenever the snapshot changes
	OnStateChange(s Snapshot)
	// OnError reports a non-fatal failure: capture start, capture read,
	// encoding or playback. Use errors.Is to classify it.
	OnError(err error)
}

// event is one entry of the worker queue
type event interface {
	isEvent()
}

// requestChanged carries the user's mic intent
type requestChanged struct {
	enabled bool
}

// stateChanged carries a new pipeline state
type stateChanged struct {
	state State
}

// captureEnded reports that a capture loop has terminated
type captureEnded struct {
	loop *capture.Loop
}

func (requestChanged) isEvent() {}
func (stateChanged) isEvent()   {}
func (captureEnded) isEvent()   {}
