package recorder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yok-tottii/EzEcho/internal/metrics"
)

var (
	// ErrAlreadyRecording is returned by Start while a session is open
	ErrAlreadyRecording = errors.New("recording already in progress")
	// ErrNotRecording is returned by Stop when no session is open
	ErrNotRecording = errors.New("not recording")
)

// State represents the current recording state
type State int

const (
	// Idle means not recording
	Idle State = iota
	// Recording means a raw PCM file is open
	Recording
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Recording:
		return "Recording"
	default:
		return "Unknown"
	}
}

// Session describes one raw PCM recording
type Session struct {
	ID        string
	Path      string
	Bytes     int64
	StartedAt time.Time
	StoppedAt time.Time
}

// Duration returns the wall-clock length of a stopped session
func (s Session) Duration() time.Duration {
	if s.StoppedAt.IsZero() {
		return 0
	}
	return s.StoppedAt.Sub(s.StartedAt)
}

// Config holds configuration for the recorder
type Config struct {
	// Dir is where raw PCM files are created
	Dir string
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return Config{
		Dir: filepath.Join(homeDir, "Library", "Application Support", "EzEcho", "recordings"),
	}
}

// Recorder writes frames of one utterance at a time to a raw PCM file
type Recorder struct {
	dir     string
	metrics *metrics.Metrics
	now     func() time.Time

	mu      sync.Mutex
	file    *os.File
	writer  *bufio.Writer
	session *Session
}

// New creates a recorder. m may be nil.
func New(config Config, m *metrics.Metrics) *Recorder {
	return &Recorder{
		dir:     config.Dir,
		metrics: m,
		now:     time.Now,
	}
}

// Start opens a new raw PCM file named audio_<yyyyMMdd_HHmmss>_<id>.pcm.
// While a session is open it returns that session and ErrAlreadyRecording
// without creating a file.
func (r *Recorder) Start() (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session != nil {
		return *r.session, ErrAlreadyRecording
	}

	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return Session{}, fmt.Errorf("failed to create recordings directory: %w", err)
	}

	started := r.now()
	id := uuid.NewString()
	name := fmt.Sprintf("audio_%s_%s.pcm", started.Format("20060102_150405"), id[:8])
	path := filepath.Join(r.dir, name)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return Session{}, fmt.Errorf("failed to create recording file: %w", err)
	}

	r.file = file
	r.writer = bufio.NewWriter(file)
	r.session = &Session{ID: id, Path: path, StartedAt: started}

	return *r.session, nil
}

// Write appends frame to the open session. Frames arriving while idle are
// dropped.
func (r *Recorder) Write(frame []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session == nil {
		return nil
	}

	n, err := r.writer.Write(frame)
	r.session.Bytes += int64(n)
	r.metrics.AddRecordedBytes(context.Background(), n)
	if err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// Stop flushes and closes the open session and returns it
func (r *Recorder) Stop() (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session == nil {
		return Session{}, ErrNotRecording
	}

	session := *r.session
	session.StoppedAt = r.now()

	flushErr := r.writer.Flush()
	closeErr := r.file.Close()

	r.session = nil
	r.writer = nil
	r.file = nil

	if flushErr != nil {
		return session, fmt.Errorf("failed to flush recording: %w", flushErr)
	}
	if closeErr != nil {
		return session, fmt.Errorf("failed to close recording: %w", closeErr)
	}
	return session, nil
}

// GetState returns the current recording state
func (r *Recorder) GetState() State {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session != nil {
		return Recording
	}
	return Idle
}

// Active returns the open session, if any
func (r *Recorder) Active() (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session == nil {
		return Session{}, false
	}
	return *r.session, true
}

// Dir returns the recordings directory
func (r *Recorder) Dir() string {
	return r.dir
}
