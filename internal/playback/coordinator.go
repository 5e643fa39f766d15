// Package playback plays recorded clips on the output device, one at a
// time, and reports the outcome to a single listener.
package playback

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/yok-tottii/EzEcho/internal/logger"
	"github.com/yok-tottii/EzEcho/internal/metrics"
)

// ErrBusy is returned by Play while another clip is playing
var ErrBusy = errors.New("playback already in progress")

// Clip is an encoded recording ready to be played
type Clip struct {
	ID         string
	Path       string
	Bytes      int64
	RecordedAt time.Time
}

// Player renders a clip file. Play blocks until the clip has finished or
// ctx is cancelled, and must release its device on every return path.
type Player interface {
	Play(ctx context.Context, path string) error
}

// Listener receives playback progress. For each accepted clip
// OnPlaybackStart is called first, followed by exactly one of
// OnPlaybackComplete or OnPlaybackError. Calls arrive on the playback
// goroutine and must not block.
type Listener interface {
	OnPlaybackStart(clip Clip)
	OnPlaybackComplete(clip Clip)
	OnPlaybackError(clip Clip, err error)
}

// Options holds optional collaborators of a Coordinator
type Options struct {
	Logger  *logger.Logger
	Metrics *metrics.Metrics
}

// Coordinator serializes clip playback
type Coordinator struct {
	player   Player
	listener Listener
	log      *logger.Logger
	metrics  *metrics.Metrics

	mu      sync.Mutex
	current *Clip
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewCoordinator creates a coordinator reporting to listener
func NewCoordinator(player Player, listener Listener, opts Options) *Coordinator {
	return &Coordinator{
		player:   player,
		listener: listener,
		log:      opts.Logger,
		metrics:  opts.Metrics,
	}
}

// Play starts clip on its own goroutine and returns immediately
func (c *Coordinator) Play(clip Clip) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		return ErrBusy
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.current = &clip
	c.cancel = cancel
	c.done = done

	go c.run(ctx, clip, done)
	return nil
}

func (c *Coordinator) run(ctx context.Context, clip Clip, done chan struct{}) {
	defer close(done)

	c.log.Info("Playing clip %s", clip.Path)
	c.listener.OnPlaybackStart(clip)

	started := time.Now()
	err := c.player.Play(ctx, clip.Path)
	elapsed := time.Since(started)

	// A stopped playback counts as finished
	if err != nil && errors.Is(err, context.Canceled) && ctx.Err() != nil {
		err = nil
	}
	c.metrics.RecordPlayback(context.Background(), elapsed, err)

	c.mu.Lock()
	c.current = nil
	c.cancel = nil
	c.mu.Unlock()

	if err != nil {
		c.log.Error("Playback failed for %s: %v", clip.Path, err)
		c.listener.OnPlaybackError(clip, err)
		return
	}
	c.log.Info("Playback finished (%v)", elapsed.Round(time.Millisecond))
	c.listener.OnPlaybackComplete(clip)
}

// Stop cancels the current playback, if any, and waits until the player
// has released the device and the listener has been notified.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Playing reports whether a clip is currently playing
func (c *Coordinator) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

// Current returns the clip being played, if any
func (c *Coordinator) Current() (Clip, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return Clip{}, false
	}
	return *c.current, true
}
