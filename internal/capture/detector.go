package capture

// State is the detector-level voice state
type State int

const (
	// Unvoiced means no speech is in progress
	Unvoiced State = iota
	// Voiced means an utterance is being captured
	Voiced
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case Unvoiced:
		return "UNVOICED"
	case Voiced:
		return "VOICED"
	default:
		return "UNKNOWN"
	}
}

// Listener receives utterance boundaries and frames from a Detector.
// All calls arrive on the capture goroutine, in order.
type Listener interface {
	// OnVoiceStart is called when speech is first detected
	OnVoiceStart()
	// OnVoiceFrames delivers frames belonging to the current utterance,
	// oldest first. The pre-roll arrives together with the triggering frame.
	OnVoiceFrames(frames [][]byte)
	// OnVoiceEnd is called when the utterance is over
	OnVoiceEnd()
}

// Detector turns per-frame speech decisions into utterance events
type Detector struct {
	listener Listener
	preRoll  *PreRollBuffer
	state    State
}

// NewDetector creates a detector starting in Unvoiced with a pre-roll
// of preRollFrames frames.
func NewDetector(listener Listener, preRollFrames int) *Detector {
	return &Detector{
		listener: listener,
		preRoll:  NewPreRollBuffer(preRollFrames),
		state:    Unvoiced,
	}
}

// Feed advances the state machine with one classified frame
func (d *Detector) Feed(frame []byte, speech bool) {
	switch d.state {
	case Unvoiced:
		if !speech {
			d.preRoll.Push(frame)
			return
		}
		d.state = Voiced
		d.listener.OnVoiceStart()
		d.listener.OnVoiceFrames(append(d.preRoll.Drain(), frame))
		d.preRoll.Clear()

	case Voiced:
		if speech {
			d.listener.OnVoiceFrames([][]byte{frame})
			return
		}
		d.state = Unvoiced
		d.listener.OnVoiceEnd()
		d.preRoll.Clear()
	}
}

// Finish ends an utterance still in progress and resets the detector.
// It must run before the capture source is released.
func (d *Detector) Finish() {
	if d.state == Voiced {
		d.state = Unvoiced
		d.listener.OnVoiceEnd()
	}
	d.preRoll.Clear()
}

// State returns the current detector state
func (d *Detector) State() State {
	return d.state
}

// PreRoll exposes the pre-roll buffer for inspection
func (d *Detector) PreRoll() *PreRollBuffer {
	return d.preRoll
}
