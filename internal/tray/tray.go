package tray

import (
	"context"
	"sync"

	"github.com/getlantern/systray"

	"github.com/yok-tottii/EzEcho/internal/i18n"
	"github.com/yok-tottii/EzEcho/internal/pipeline"
)

// State represents what the tray icon shows
type State int

const (
	// StateOff means the mic is not requested
	StateOff State = iota
	// StateListening means capture is waiting for speech
	StateListening
	// StateRecording means an utterance is being recorded
	StateRecording
	// StatePlaying means the last utterance is being played back
	StatePlaying
)

// StateFromSnapshot maps a pipeline snapshot onto the tray state
func StateFromSnapshot(s pipeline.Snapshot) State {
	switch s.State {
	case pipeline.Voiced:
		return StateRecording
	case pipeline.Playing:
		return StatePlaying
	}
	if s.MicRequested {
		return StateListening
	}
	return StateOff
}

// statusKey is the translation key for the tooltip and status line
func (s State) statusKey() string {
	switch s {
	case StateListening:
		return "status.unvoiced"
	case StateRecording:
		return "status.voiced"
	case StatePlaying:
		return "status.playing"
	default:
		return "status.off"
	}
}

// Manager manages the system tray icon and menu
type Manager struct {
	stateMutex   sync.RWMutex
	state        State
	micRequested bool
	ready        bool

	translator      *i18n.Translator
	onReadyCallback func()
	onToggleMic     func()
	onSettings      func()
	onDeviceChange  func(deviceID int) // Called when user selects a device
	onQuit          func()

	menuStatus        *systray.MenuItem
	menuMic           *systray.MenuItem
	menuDevices       *systray.MenuItem // Parent menu for device selection
	menuSettings      *systray.MenuItem
	menuQuit          *systray.MenuItem
	deviceMenuItems   []*systray.MenuItem
	deviceCancelFuncs []context.CancelFunc

	icons map[State][]byte
}

// Config holds tray manager configuration
type Config struct {
	Translator     *i18n.Translator
	OnReady        func() // Called when systray is ready for initialization
	OnToggleMic    func()
	OnSettings     func()
	OnDeviceChange func(deviceID int)
	OnQuit         func()
}

// NewManager creates a new tray manager
func NewManager(config Config) *Manager {
	translator := config.Translator
	if translator == nil {
		translator = i18n.NewDefaultTranslator(i18n.LanguageEnglish)
	}

	return &Manager{
		state:           StateOff,
		translator:      translator,
		onReadyCallback: config.OnReady,
		onToggleMic:     config.OnToggleMic,
		onSettings:      config.OnSettings,
		onDeviceChange:  config.OnDeviceChange,
		onQuit:          config.OnQuit,
		icons:           stateIcons(),
	}
}

// Run starts the system tray (blocking call)
func (m *Manager) Run() {
	systray.Run(m.onReady, m.onExit)
}

// onReady is called when systray is ready
func (m *Manager) onReady() {
	t := m.translator.Translate

	m.menuStatus = systray.AddMenuItem("", "")
	m.menuStatus.Disable()
	m.menuMic = systray.AddMenuItem(t("menu.mic_on"), "Toggle microphone input")
	systray.AddSeparator()
	m.menuDevices = systray.AddMenuItem(t("menu.devices"), "Select input device")
	m.menuSettings = systray.AddMenuItem(t("menu.settings"), "Open settings page")
	systray.AddSeparator()
	m.menuQuit = systray.AddMenuItem(t("menu.quit"), "Quit the application")

	m.stateMutex.Lock()
	m.ready = true
	m.render()
	m.stateMutex.Unlock()

	go m.handleMenuEvents()

	if m.onReadyCallback != nil {
		m.onReadyCallback()
	}
}

func (m *Manager) onExit() {}

// handleMenuEvents handles menu item clicks
func (m *Manager) handleMenuEvents() {
	for {
		select {
		case <-m.menuMic.ClickedCh:
			if m.onToggleMic != nil {
				m.onToggleMic()
			}
		case <-m.menuSettings.ClickedCh:
			if m.onSettings != nil {
				m.onSettings()
			}
		case <-m.menuQuit.ClickedCh:
			if m.onQuit != nil {
				m.onQuit()
			}
			systray.Quit()
			return
		}
	}
}

// Update reflects a pipeline snapshot in the icon and menu
func (m *Manager) Update(s pipeline.Snapshot) {
	m.stateMutex.Lock()
	defer m.stateMutex.Unlock()

	m.state = StateFromSnapshot(s)
	m.micRequested = s.MicRequested
	if m.ready {
		m.render()
	}
}

// State returns the state currently shown
func (m *Manager) State() State {
	m.stateMutex.RLock()
	defer m.stateMutex.RUnlock()
	return m.state
}

// render must be called with stateMutex held and the tray ready
func (m *Manager) render() {
	status := m.translator.Translate(m.state.statusKey())

	systray.SetIcon(m.icons[m.state])
	systray.SetTooltip("EzEcho - " + status)
	m.menuStatus.SetTitle(status)
	if m.micRequested {
		m.menuMic.SetTitle(m.translator.Translate("menu.mic_off"))
	} else {
		m.menuMic.SetTitle(m.translator.Translate("menu.mic_on"))
	}
}

// Device represents an audio device for the menu
type Device struct {
	ID        int
	Name      string
	IsDefault bool
	IsCurrent bool
}

// deviceLabel is the submenu title for d
func deviceLabel(d Device) string {
	if d.IsCurrent {
		return "✓ " + d.Name
	}
	return d.Name
}

// UpdateDeviceMenu replaces the device submenu with devices
func (m *Manager) UpdateDeviceMenu(devices []Device) {
	for _, cancel := range m.deviceCancelFuncs {
		cancel()
	}
	m.deviceCancelFuncs = nil

	// systray cannot remove items, only hide them
	for _, item := range m.deviceMenuItems {
		item.Hide()
	}
	m.deviceMenuItems = nil

	for _, device := range devices {
		tooltip := ""
		if device.IsDefault {
			tooltip = "System default device"
		}

		menuItem := m.menuDevices.AddSubMenuItem(deviceLabel(device), tooltip)
		m.deviceMenuItems = append(m.deviceMenuItems, menuItem)

		ctx, cancel := context.WithCancel(context.Background())
		m.deviceCancelFuncs = append(m.deviceCancelFuncs, cancel)

		go func(ctx context.Context, id int, item *systray.MenuItem) {
			for {
				select {
				case <-ctx.Done():
					return
				case <-item.ClickedCh:
					if m.onDeviceChange != nil {
						m.onDeviceChange(id)
					}
				}
			}
		}(ctx, device.ID, menuItem)
	}
}

// Quit quits the system tray
func (m *Manager) Quit() {
	systray.Quit()
}
