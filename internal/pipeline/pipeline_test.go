package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/yok-tottii/EzEcho/internal/audio"
	"github.com/yok-tottii/EzEcho/internal/journal"
	"github.com/yok-tottii/EzEcho/internal/recorder"
	"github.com/yok-tottii/EzEcho/internal/vad"
	"github.com/yok-tottii/EzEcho/internal/vad/mock"
	"github.com/yok-tottii/EzEcho/internal/wav"
)

// fakeSource yields `scripted` frames, then either io.EOF (file-like) or
// an endless stream of silent frames (mic-like).
type fakeSource struct {
	frameSize int
	scripted  int
	eof       bool

	mu     sync.Mutex
	reads  int
	closed bool
}

func (s *fakeSource) Format() audio.Format { return audio.PCM16Mono16k }
func (s *fakeSource) FrameSize() int       { return s.frameSize }

func (s *fakeSource) ReadFrame() ([]byte, error) {
	time.Sleep(time.Millisecond)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.New("source closed")
	}
	if s.reads >= s.scripted && s.eof {
		return nil, io.EOF
	}
	s.reads++
	return make([]byte, s.frameSize*2), nil
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSource) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type sourceFactory struct {
	mu        sync.Mutex
	frameSize int
	scripted  int
	eof       bool
	err       error
	opened    []*fakeSource
}

func (f *sourceFactory) open() (audio.FrameSource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	scripted := 0
	if len(f.opened) == 0 {
		scripted = f.scripted
	}
	src := &fakeSource{frameSize: f.frameSize, scripted: scripted, eof: f.eof}
	f.opened = append(f.opened, src)
	return src, nil
}

func (f *sourceFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.opened)
}

func (f *sourceFactory) source(i int) *fakeSource {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened[i]
}

// gatePlayer blocks each Play until the test releases it
type gatePlayer struct {
	mu      sync.Mutex
	paths   []string
	release chan error
}

func newGatePlayer() *gatePlayer {
	return &gatePlayer{release: make(chan error, 4)}
}

func (p *gatePlayer) Play(ctx context.Context, path string) error {
	p.mu.Lock()
	p.paths = append(p.paths, path)
	p.mu.Unlock()

	select {
	case err := <-p.release:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *gatePlayer) played() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.paths...)
}

type recordingObserver struct {
	mu        sync.Mutex
	snapshots []Snapshot
	errs      []error
}

func (r *recordingObserver) OnStateChange(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, s)
}

func (r *recordingObserver) OnError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recordingObserver) errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func (r *recordingObserver) sawPlayingWithMic() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.snapshots {
		if s.State == Playing && s.MicRunning {
			return true
		}
	}
	return false
}

type fakeJournal struct {
	mu     sync.Mutex
	clips  []journal.Clip
	played map[string]error
	prunes int
}

func (j *fakeJournal) AppendClip(_ context.Context, clip journal.Clip) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.clips = append(j.clips, clip)
	return nil
}

func (j *fakeJournal) Prune(context.Context) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.prunes++
	return 0, nil
}

func (j *fakeJournal) MarkPlayed(_ context.Context, id string, playErr error) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.played == nil {
		j.played = make(map[string]error)
	}
	j.played[id] = playErr
	return nil
}

type harness struct {
	o        *Orchestrator
	factory  *sourceFactory
	cls      *mock.Classifier
	player   *gatePlayer
	observer *recordingObserver
	journal  *fakeJournal
	recorder *recorder.Recorder
	dir      string
}

func newHarness(t *testing.T, cfg Config, factory *sourceFactory, cls *mock.Classifier) *harness {
	t.Helper()
	h := newHarnessWith(t, cfg, factory.open, cls, nil)
	h.factory = factory
	return h
}

// newHarnessWith lets a test replace collaborators before the
// orchestrator starts
func newHarnessWith(t *testing.T, cfg Config, open SourceFunc, cls *mock.Classifier, adjust func(*Deps)) *harness {
	t.Helper()

	dir := t.TempDir()
	h := &harness{
		cls:      cls,
		player:   newGatePlayer(),
		observer: &recordingObserver{},
		journal:  &fakeJournal{},
		recorder: recorder.New(recorder.Config{Dir: dir}, nil),
		dir:      dir,
	}
	if cfg.MicStartDelay == 0 {
		cfg.MicStartDelay = time.Millisecond
	}
	deps := Deps{
		Source:   open,
		Engine:   &mock.Engine{Classifier: cls},
		Recorder: h.recorder,
		Player:   h.player,
		Journal:  h.journal,
		Observer: h.observer,
	}
	if adjust != nil {
		adjust(&deps)
	}
	h.recorder = deps.Recorder
	h.o = New(cfg, deps)
	t.Cleanup(h.o.Close)
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{Unvoiced, "UNVOICED"},
		{Voiced, "VOICED"},
		{Playing, "PLAYING"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.state.String(); got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestMicSuspendedWhilePlaying(t *testing.T) {
	factory := &sourceFactory{frameSize: 320, scripted: 5}
	cls := mock.NewClassifier(320, false, false, true, true, false)
	h := newHarness(t, Config{PreRollFrames: 1}, factory, cls)

	h.o.RequestMicInput(true)

	waitFor(t, "playback to start", func() bool { return len(h.player.played()) == 1 })

	snap := h.o.Snapshot()
	if snap.State != Playing {
		t.Errorf("Expected PLAYING, got %v", snap.State)
	}
	if snap.MicRunning {
		t.Error("Mic must not run while playing")
	}
	if !snap.MicRequested {
		t.Error("Mic request should survive playback")
	}
	if !factory.source(0).isClosed() {
		t.Error("Capture source should be released while playing")
	}

	h.player.release <- nil

	waitFor(t, "mic to resume", func() bool {
		s := h.o.Snapshot()
		return s.State == Unvoiced && s.MicRunning
	})

	if factory.count() != 2 {
		t.Errorf("Expected a second capture source after playback, got %d", factory.count())
	}
	if h.observer.sawPlayingWithMic() {
		t.Error("Observer saw PLAYING with the mic running")
	}
}

func TestCapacityOneClipSize(t *testing.T) {
	factory := &sourceFactory{frameSize: 320, scripted: 5}
	cls := mock.NewClassifier(320, false, false, true, true, false)
	h := newHarness(t, Config{PreRollFrames: 1}, factory, cls)

	h.o.RequestMicInput(true)
	waitFor(t, "playback to start", func() bool { return len(h.player.played()) == 1 })

	clipPath := h.player.played()[0]
	info, err := os.Stat(clipPath)
	if err != nil {
		t.Fatalf("Clip missing: %v", err)
	}
	if want := int64(wav.HeaderSize + 3*640); info.Size() != want {
		t.Errorf("Clip size = %d, want %d", info.Size(), want)
	}

	data, _ := os.ReadFile(clipPath)
	h2, _, err := wav.Decode(data)
	if err != nil {
		t.Fatalf("Clip is not a valid wav: %v", err)
	}
	if h2.SampleRate != 16000 || h2.Channels != 1 || h2.BitsPerSample != 16 {
		t.Errorf("Unexpected clip format %+v", h2)
	}

	raw := strings.TrimSuffix(clipPath, ".wav") + ".pcm"
	if _, err := os.Stat(raw); !os.IsNotExist(err) {
		t.Error("Raw recording should be removed after conversion")
	}

	h.journal.mu.Lock()
	if len(h.journal.clips) != 1 || h.journal.clips[0].Bytes != info.Size() {
		t.Errorf("Journal did not record the clip: %+v", h.journal.clips)
	}
	h.journal.mu.Unlock()

	if got := h.o.Snapshot().LastClip; got != clipPath {
		t.Errorf("LastClip = %q, want %q", got, clipPath)
	}

	h.player.release <- nil
}

func TestKeepRaw(t *testing.T) {
	factory := &sourceFactory{frameSize: 320, scripted: 3}
	cls := mock.NewClassifier(320, true, true, false)
	h := newHarness(t, Config{KeepRaw: true}, factory, cls)

	h.o.RequestMicInput(true)
	waitFor(t, "playback to start", func() bool { return len(h.player.played()) == 1 })

	raw := strings.TrimSuffix(h.player.played()[0], ".wav") + ".pcm"
	info, err := os.Stat(raw)
	if err != nil {
		t.Fatalf("Raw recording should be kept: %v", err)
	}
	if info.Size() != 2*640 {
		t.Errorf("Raw size = %d, want %d", info.Size(), 2*640)
	}

	h.player.release <- nil
}

func TestPlaybackErrorResumesMic(t *testing.T) {
	factory := &sourceFactory{frameSize: 320, scripted: 3}
	cls := mock.NewClassifier(320, true, true, false)
	h := newHarness(t, Config{}, factory, cls)

	h.o.RequestMicInput(true)
	waitFor(t, "playback to start", func() bool { return len(h.player.played()) == 1 })

	h.player.release <- errors.New("output device lost")

	waitFor(t, "mic to resume", func() bool {
		s := h.o.Snapshot()
		return s.State == Unvoiced && s.MicRunning
	})

	errs := h.observer.errors()
	if len(errs) != 1 || !errors.Is(errs[0], ErrPlayback) {
		t.Errorf("Expected one playback error, got %v", errs)
	}

	h.journal.mu.Lock()
	defer h.journal.mu.Unlock()
	for _, err := range h.journal.played {
		if err == nil {
			t.Error("Journal should record the playback error")
		}
	}
}

func TestPermissionDenied(t *testing.T) {
	factory := &sourceFactory{frameSize: 320, err: fmt.Errorf("microphone check: %w", audio.ErrPermissionDenied)}
	h := newHarness(t, Config{}, factory, mock.NewClassifier(320))

	h.o.RequestMicInput(true)
	waitFor(t, "capture error", func() bool { return len(h.observer.errors()) == 1 })

	err := h.observer.errors()[0]
	if !errors.Is(err, audio.ErrPermissionDenied) || !errors.Is(err, ErrCaptureStart) {
		t.Errorf("Unexpected error: %v", err)
	}

	snap := h.o.Snapshot()
	if snap.State != Unvoiced || snap.MicRunning {
		t.Errorf("State should be unchanged, got %+v", snap)
	}
	if !snap.MicRequested {
		t.Error("A failed start should not clear the request")
	}
}

func TestRequestMicInputIdempotent(t *testing.T) {
	factory := &sourceFactory{frameSize: 320}
	h := newHarness(t, Config{}, factory, mock.NewClassifier(320))

	h.o.RequestMicInput(true)
	h.o.RequestMicInput(true)
	waitFor(t, "mic to start", h.o.MicRunning)

	h.o.RequestMicInput(true)
	time.Sleep(20 * time.Millisecond)

	if factory.count() != 1 {
		t.Errorf("Expected exactly one capture source, got %d", factory.count())
	}

	h.o.RequestMicInput(false)
	h.o.RequestMicInput(false)
	waitFor(t, "mic to stop", func() bool { return !h.o.MicRunning() })

	if !factory.source(0).isClosed() {
		t.Error("Capture source should be closed after disable")
	}
	if h.o.MicRequested() {
		t.Error("MicRequested should be false")
	}
}

func TestStartDelayAbandonedByNewerRequest(t *testing.T) {
	factory := &sourceFactory{frameSize: 320}
	h := newHarness(t, Config{MicStartDelay: 200 * time.Millisecond}, factory, mock.NewClassifier(320))

	h.o.RequestMicInput(true)
	time.Sleep(20 * time.Millisecond)
	h.o.RequestMicInput(false)
	time.Sleep(300 * time.Millisecond)

	if factory.count() != 0 {
		t.Errorf("Capture should not start after the request was withdrawn, opened %d", factory.count())
	}
}

func TestFrameSizeMismatchRejected(t *testing.T) {
	factory := &sourceFactory{frameSize: 512}
	cls := mock.NewClassifier(320)
	h := newHarness(t, Config{ClassifierFrameSize: 320}, factory, cls)

	h.o.RequestMicInput(true)
	waitFor(t, "setup error", func() bool { return len(h.observer.errors()) == 1 })

	if err := h.observer.errors()[0]; !errors.Is(err, vad.ErrFrameSizeMismatch) {
		t.Errorf("Expected ErrFrameSizeMismatch, got %v", err)
	}
	if cls.CallCount() != 0 {
		t.Errorf("Classify called %d times", cls.CallCount())
	}
	if !factory.source(0).isClosed() {
		t.Error("Rejected source should be closed")
	}
	if h.o.MicRunning() {
		t.Error("Mic should not be running")
	}
}

func TestFileSourceEndClearsRequest(t *testing.T) {
	factory := &sourceFactory{frameSize: 320, scripted: 3, eof: true}
	cls := mock.NewClassifier(320, false, true, true)
	h := newHarness(t, Config{PreRollFrames: 5}, factory, cls)

	h.o.RequestMicInput(true)
	waitFor(t, "forced voice end to play", func() bool { return len(h.player.played()) == 1 })

	info, err := os.Stat(h.player.played()[0])
	if err != nil {
		t.Fatalf("Clip missing: %v", err)
	}
	if want := int64(wav.HeaderSize + 3*640); info.Size() != want {
		t.Errorf("Clip size = %d, want %d", info.Size(), want)
	}

	h.player.release <- nil

	waitFor(t, "pipeline to settle", func() bool {
		s := h.o.Snapshot()
		return s.State == Unvoiced && !s.MicRequested && !s.MicRunning
	})

	time.Sleep(20 * time.Millisecond)
	if factory.count() != 1 {
		t.Errorf("Finished source should not be reopened, opened %d", factory.count())
	}
}

func TestVoiceStartIgnoredWhileClipInFlight(t *testing.T) {
	factory := &sourceFactory{frameSize: 320}
	h := newHarness(t, Config{}, factory, mock.NewClassifier(320))

	h.o.smu.Lock()
	h.o.format = audio.PCM16Mono16k
	h.o.smu.Unlock()

	frame := make([]byte, 640)

	h.o.OnVoiceStart()
	h.o.OnVoiceFrames([][]byte{frame})
	h.o.OnVoiceEnd()

	waitFor(t, "playback to start", func() bool { return len(h.player.played()) == 1 })

	h.o.OnVoiceStart()
	if h.recorder.GetState() != recorder.Idle {
		t.Error("A second session must not start while a clip is playing")
	}
	h.o.OnVoiceFrames([][]byte{frame})
	h.o.OnVoiceEnd()

	h.player.release <- nil
	waitFor(t, "return to UNVOICED", func() bool { return h.o.State() == Unvoiced })

	time.Sleep(20 * time.Millisecond)
	if n := len(h.player.played()); n != 1 {
		t.Errorf("Ignored utterance produced a clip, played %d", n)
	}

	entries, _ := os.ReadDir(h.dir)
	var wavs int
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".wav" {
			wavs++
		}
	}
	if wavs != 1 {
		t.Errorf("Expected one clip on disk, got %d", wavs)
	}

	h.o.OnVoiceStart()
	if h.recorder.GetState() != recorder.Recording {
		t.Error("Recording should be possible again after playback")
	}
	h.o.OnVoiceEnd()
	waitFor(t, "second playback", func() bool { return len(h.player.played()) == 2 })
	h.player.release <- nil
}

func TestCloseStopsEverything(t *testing.T) {
	factory := &sourceFactory{frameSize: 320}
	h := newHarness(t, Config{}, factory, mock.NewClassifier(320))

	h.o.RequestMicInput(true)
	waitFor(t, "mic to start", h.o.MicRunning)

	h.o.Close()
	h.o.Close()

	if !factory.source(0).isClosed() {
		t.Error("Close should release the capture source")
	}
	if h.o.MicRunning() {
		t.Error("Mic should not be running after Close")
	}
}

// sharedSource hands the same stream to every capture start and ignores
// Close, the way file input resumes after playback
type sharedSource struct {
	*fakeSource
	mu    sync.Mutex
	opens int
}

func newSharedSource(frames int) *sharedSource {
	return &sharedSource{fakeSource: &fakeSource{frameSize: 320, scripted: frames, eof: true}}
}

func (s *sharedSource) open() (audio.FrameSource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens++
	return s, nil
}

func (s *sharedSource) Close() error { return nil }

// twoUtterances is 12 frames holding a 2-frame and a 4-frame utterance
func twoUtterances() *mock.Classifier {
	return mock.NewClassifier(320,
		true, true, false,
		false, false, false,
		true, true, true, true, false,
		false)
}

func TestSharedSourceKeepsEveryUtterance(t *testing.T) {
	src := newSharedSource(12)
	cls := twoUtterances()
	h := newHarnessWith(t, Config{PreRollFrames: 2}, src.open, cls, nil)

	h.o.RequestMicInput(true)

	waitFor(t, "first clip", func() bool { return len(h.player.played()) == 1 })
	// capture stops at the silence that ended the utterance
	if n := cls.CallCount(); n != 3 {
		t.Errorf("Classified %d frames while the first clip was pending, want 3", n)
	}
	h.player.release <- nil

	waitFor(t, "second clip", func() bool { return len(h.player.played()) == 2 })
	h.player.release <- nil

	waitFor(t, "input to finish", func() bool {
		s := h.o.Snapshot()
		return s.State == Unvoiced && !s.MicRequested && !s.MicRunning
	})

	if n := cls.CallCount(); n != 12 {
		t.Errorf("Classified %d frames, want 12", n)
	}

	played := h.player.played()
	// second clip carries two pre-roll frames
	for i, frames := range []int{2, 6} {
		info, err := os.Stat(played[i])
		if err != nil {
			t.Fatalf("Clip %d missing: %v", i, err)
		}
		if want := int64(wav.HeaderSize + frames*640); info.Size() != want {
			t.Errorf("Clip %d size = %d, want %d", i, info.Size(), want)
		}
	}

	h.journal.mu.Lock()
	if h.journal.prunes != 2 {
		t.Errorf("Expected a prune after each clip, got %d", h.journal.prunes)
	}
	h.journal.mu.Unlock()
}

func TestJournalRetentionWhileRunning(t *testing.T) {
	store, err := journal.Open(context.Background(), journal.Config{
		Path:          filepath.Join(t.TempDir(), "journal.db"),
		RetentionMode: journal.RetentionPersistent,
		MaxClips:      1,
	}, nil)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	src := newSharedSource(12)
	h := newHarnessWith(t, Config{PreRollFrames: 2}, src.open, twoUtterances(), func(d *Deps) {
		d.Journal = store
	})

	h.o.RequestMicInput(true)
	waitFor(t, "first clip", func() bool { return len(h.player.played()) == 1 })
	h.player.release <- nil
	waitFor(t, "second clip", func() bool { return len(h.player.played()) == 2 })
	h.player.release <- nil

	played := h.player.played()
	waitFor(t, "first clip to be pruned", func() bool {
		_, err := os.Stat(played[0])
		return os.IsNotExist(err)
	})
	if _, err := os.Stat(played[1]); err != nil {
		t.Errorf("Newest clip should remain: %v", err)
	}

	clips, err := store.ListRecent(context.Background(), 10)
	if err != nil {
		t.Fatalf("list clips: %v", err)
	}
	if len(clips) != 1 || clips[0].Path != played[1] {
		t.Errorf("Expected only the newest clip in the journal, got %+v", clips)
	}
}

func TestRecordingStartFailureReported(t *testing.T) {
	blocked := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(blocked, nil, 0644); err != nil {
		t.Fatalf("Failed to create file: %v", err)
	}

	factory := &sourceFactory{frameSize: 320}
	h := newHarnessWith(t, Config{}, factory.open, mock.NewClassifier(320), func(d *Deps) {
		d.Recorder = recorder.New(recorder.Config{Dir: filepath.Join(blocked, "recordings")}, nil)
	})

	h.o.OnVoiceStart()
	h.o.OnVoiceFrames([][]byte{make([]byte, 640)})
	h.o.OnVoiceEnd()

	errs := h.observer.errors()
	if len(errs) != 1 || !errors.Is(errs[0], ErrRecord) {
		t.Fatalf("Expected one recording error, got %v", errs)
	}

	time.Sleep(20 * time.Millisecond)
	if n := len(h.player.played()); n != 0 {
		t.Errorf("No clip should be played, got %d", n)
	}
	if h.o.State() != Unvoiced {
		t.Errorf("State should stay UNVOICED, got %v", h.o.State())
	}
}
