package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/yok-tottii/EzEcho/internal/capture"
	"github.com/yok-tottii/EzEcho/internal/journal"
	"github.com/yok-tottii/EzEcho/internal/playback"
	"github.com/yok-tottii/EzEcho/internal/recorder"
	"github.com/yok-tottii/EzEcho/internal/wav"
)

var (
	_ capture.Listener  = (*Orchestrator)(nil)
	_ playback.Listener = (*Orchestrator)(nil)
)

// OnVoiceStart opens a recording unless an utterance or clip is already in
// flight, in which case the whole utterance is ignored.
func (o *Orchestrator) OnVoiceStart() {
	o.smu.Lock()
	if o.busy {
		o.ignoring = true
		o.smu.Unlock()
		o.log.Debug("Voice start ignored: session in flight")
		return
	}

	session, err := o.recorder.Start()
	if err != nil {
		o.ignoring = true
		o.smu.Unlock()
		o.log.Error("Failed to start recording: %v", err)
		o.report(fmt.Errorf("%w: %w", ErrRecord, err))
		return
	}

	o.busy = true
	o.ignoring = false
	o.smu.Unlock()

	o.log.Info("Voice detected, recording %s", session.Path)
	o.enqueue(stateChanged{state: Voiced})
}

// OnVoiceFrames appends frames to the open recording
func (o *Orchestrator) OnVoiceFrames(frames [][]byte) {
	o.smu.Lock()
	ignoring := o.ignoring
	o.smu.Unlock()
	if ignoring {
		return
	}

	for _, frame := range frames {
		if err := o.recorder.Write(frame); err != nil {
			o.log.Error("Failed to write frame: %v", err)
			return
		}
	}
}

// OnVoiceEnd closes the recording, encodes it and queues playback
func (o *Orchestrator) OnVoiceEnd() {
	o.smu.Lock()
	if o.ignoring {
		o.ignoring = false
		o.smu.Unlock()
		return
	}
	format := o.format
	o.smu.Unlock()

	session, err := o.recorder.Stop()
	if err != nil {
		if errors.Is(err, recorder.ErrNotRecording) {
			return
		}
		o.log.Error("Failed to stop recording: %v", err)
		o.failSession(fmt.Errorf("%w: %w", ErrEncode, err))
		return
	}

	wavPath := strings.TrimSuffix(session.Path, ".pcm") + ".wav"
	if err := wav.ConvertFile(session.Path, wavPath, format.SampleRate, format.Channels, format.BitsPerSample); err != nil {
		o.log.Error("Failed to convert %s: %v", session.Path, err)
		o.failSession(fmt.Errorf("%w: %w", ErrEncode, err))
		return
	}

	if !o.cfg.KeepRaw {
		if err := os.Remove(session.Path); err != nil {
			o.log.Warn("Failed to remove raw recording: %v", err)
		}
	}

	clip := playback.Clip{
		ID:         session.ID,
		Path:       wavPath,
		Bytes:      session.Bytes + wav.HeaderSize,
		RecordedAt: session.StartedAt,
	}

	if o.journal != nil {
		err := o.journal.AppendClip(o.ctx, journal.Clip{
			ID:         clip.ID,
			Path:       clip.Path,
			Bytes:      clip.Bytes,
			Duration:   session.Duration(),
			RecordedAt: session.StartedAt,
		})
		if err != nil {
			o.log.Warn("Failed to journal clip: %v", err)
		} else if _, err := o.journal.Prune(o.ctx); err != nil {
			o.log.Warn("Failed to prune journal: %v", err)
		}
	}

	o.log.Info("Voice ended, %d bytes recorded", session.Bytes)

	o.smu.Lock()
	o.clip = &clip
	o.smu.Unlock()
	o.enqueue(stateChanged{state: Playing})
}

func (o *Orchestrator) failSession(err error) {
	o.report(err)
	o.endSession()
	o.enqueue(stateChanged{state: Unvoiced})
}

// endSession releases the one-utterance guard
func (o *Orchestrator) endSession() {
	o.smu.Lock()
	o.busy = false
	o.smu.Unlock()
}

// OnPlaybackStart implements playback.Listener
func (o *Orchestrator) OnPlaybackStart(clip playback.Clip) {
	o.log.Debug("Playback started: %s", clip.ID)
}

// OnPlaybackComplete resumes listening
func (o *Orchestrator) OnPlaybackComplete(clip playback.Clip) {
	o.markPlayed(clip, nil)
	o.endSession()
	o.enqueue(stateChanged{state: Unvoiced})
}

// OnPlaybackError is handled like completion so the pipeline never stays
// in Playing
func (o *Orchestrator) OnPlaybackError(clip playback.Clip, err error) {
	o.markPlayed(clip, err)
	o.report(fmt.Errorf("%w: %w", ErrPlayback, err))
	o.endSession()
	o.enqueue(stateChanged{state: Unvoiced})
}

func (o *Orchestrator) markPlayed(clip playback.Clip, playErr error) {
	if o.journal == nil {
		return
	}
	if err := o.journal.MarkPlayed(context.WithoutCancel(o.ctx), clip.ID, playErr); err != nil {
		o.log.Warn("Failed to journal playback: %v", err)
	}
}
