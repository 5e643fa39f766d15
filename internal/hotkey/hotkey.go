package hotkey

import (
	"fmt"
	"sync"

	"golang.design/x/hotkey"

	"github.com/yok-tottii/EzEcho/internal/config"
)

// Mode defines how key presses map onto the mic request
type Mode int

const (
	// Toggle flips the mic request on every press
	Toggle Mode = iota
	// PushToTalk requests the mic while the key is held down
	PushToTalk
)

// ParseMode converts a config value into a Mode
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "toggle":
		return Toggle, nil
	case "push-to-talk":
		return PushToTalk, nil
	default:
		return Toggle, fmt.Errorf("unknown hotkey mode: %q", s)
	}
}

// EventType represents the type of hotkey event
type EventType int

const (
	// Pressed indicates the hotkey was pressed
	Pressed EventType = iota
	// Released indicates the hotkey was released
	Released
)

// Event represents a hotkey event
type Event struct {
	Type EventType
}

// Config holds hotkey configuration
type Config struct {
	Modifiers []hotkey.Modifier
	Key       hotkey.Key
	Mode      Mode
}

// FromConfig converts the persisted hotkey settings
func FromConfig(c config.HotkeyConfig) (Config, error) {
	mode, err := ParseMode(c.Mode)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Modifiers: ModifiersFromConfig(c),
		Key:       KeyFromString(c.Key),
		Mode:      mode,
	}, nil
}

// MicIntent maps a hotkey event onto a mic request given whether the mic
// is currently requested. ok is false when the event changes nothing.
func MicIntent(mode Mode, ev Event, requested bool) (enabled bool, ok bool) {
	switch mode {
	case PushToTalk:
		return ev.Type == Pressed, true
	default:
		if ev.Type != Pressed {
			return requested, false
		}
		return !requested, true
	}
}

// Manager manages global hotkey registration and events
type Manager struct {
	hk        *hotkey.Hotkey
	config    Config
	eventChan chan Event
	stopChan  chan struct{}
	wg        sync.WaitGroup
	mu        sync.Mutex
	running   bool
}

// New creates a new hotkey manager with default configuration
// Default: Ctrl+Option+Space, toggle
func New() *Manager {
	return &Manager{
		config: Config{
			Modifiers: []hotkey.Modifier{hotkey.ModCtrl, hotkey.ModOption},
			Key:       hotkey.KeySpace,
			Mode:      Toggle,
		},
		eventChan: make(chan Event, 10),
		stopChan:  make(chan struct{}),
	}
}

// Register registers the hotkey with the system
func (m *Manager) Register(config Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("hotkey is already running, call Close() first")
	}

	m.config = config

	// Channels may have been closed by a previous Close()
	m.stopChan = make(chan struct{})
	m.eventChan = make(chan Event, 10)

	hk := hotkey.New(m.config.Modifiers, m.config.Key)
	if err := hk.Register(); err != nil {
		return fmt.Errorf("failed to register hotkey: %w", err)
	}

	m.hk = hk
	m.running = true

	m.wg.Add(1)
	go m.listen(hk, m.eventChan, m.stopChan)

	return nil
}

// Reload replaces a running registration with config
func (m *Manager) Reload(config Config) error {
	if err := m.Close(); err != nil {
		return err
	}
	return m.Register(config)
}

// listen forwards key transitions until stop is closed
func (m *Manager) listen(hk *hotkey.Hotkey, events chan<- Event, stop <-chan struct{}) {
	defer m.wg.Done()

	send := func(ev Event) {
		select {
		case events <- ev:
		case <-stop:
		}
	}

	for {
		select {
		case <-hk.Keydown():
			send(Event{Type: Pressed})
		case <-hk.Keyup():
			send(Event{Type: Released})
		case <-stop:
			return
		}
	}
}

// Events returns the event channel for receiving hotkey events
func (m *Manager) Events() <-chan Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.eventChan
}

// Close unregisters the hotkey and stops listening
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}

	var unregisterErr error

	close(m.stopChan)
	m.wg.Wait()

	// Cleanup continues even when Unregister fails
	if m.hk != nil {
		if err := m.hk.Unregister(); err != nil {
			unregisterErr = fmt.Errorf("failed to unregister hotkey: %w", err)
		}
	}

	// Consumers see the closed channel as shutdown
	close(m.eventChan)

	// running is cleared regardless so that Register can be retried
	m.running = false

	return unregisterErr
}

// IsRunning returns whether the hotkey is currently registered and running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// GetConfig returns a deep copy of the current hotkey configuration
func (m *Manager) GetConfig() Config {
	m.mu.Lock()
	defer m.mu.Unlock()

	configCopy := m.config
	if m.config.Modifiers != nil {
		configCopy.Modifiers = make([]hotkey.Modifier, len(m.config.Modifiers))
		copy(configCopy.Modifiers, m.config.Modifiers)
	}

	return configCopy
}
