package wizard

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// SetupWizard tracks the first-run flow: the config file is written,
// microphone access is settled and a hotkey is chosen.
type SetupWizard struct {
	configDir     string
	configPath    string
	setupFlagFile string
	mu            sync.RWMutex
}

// NewSetupWizard creates a wizard for the config file at configPath
func NewSetupWizard(configPath string) (*SetupWizard, error) {
	configDir := filepath.Dir(configPath)

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	return &SetupWizard{
		configDir:     configDir,
		configPath:    configPath,
		setupFlagFile: filepath.Join(configDir, ".setup_completed"),
	}, nil
}

// IsFirstRun reports whether no config file has been written yet
func (w *SetupWizard) IsFirstRun() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	_, err := os.Stat(w.configPath)
	return os.IsNotExist(err)
}

// IsSetupCompleted checks if the setup has been marked completed
func (w *SetupWizard) IsSetupCompleted() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	_, err := os.Stat(w.setupFlagFile)
	return err == nil
}

// MarkSetupCompleted records that setup has finished
func (w *SetupWizard) MarkSetupCompleted() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	file, err := os.Create(w.setupFlagFile)
	if err != nil {
		return fmt.Errorf("failed to create setup flag file: %w", err)
	}
	return file.Close()
}

// ShouldShowWizard is true on first run or while setup is incomplete
func (w *SetupWizard) ShouldShowWizard() bool {
	return w.IsFirstRun() || !w.IsSetupCompleted()
}

// SetupProgress is the completion state of each setup step
type SetupProgress struct {
	ConfigSaved      bool `json:"config_saved"`
	PermissionsSetup bool `json:"permissions_setup"`
	HotkeyConfigured bool `json:"hotkey_configured"`
	Completed        bool `json:"completed"`
}

// Inputs the wizard cannot observe on its own
type StepState struct {
	MicrophoneAuthorized bool
	HotkeyRegistered     bool
}

// GetProgress combines the on-disk state with st
func (w *SetupWizard) GetProgress(st StepState) SetupProgress {
	return SetupProgress{
		ConfigSaved:      !w.IsFirstRun(),
		PermissionsSetup: st.MicrophoneAuthorized,
		HotkeyConfigured: st.HotkeyRegistered,
		Completed:        w.IsSetupCompleted(),
	}
}

// ResetSetup clears the completed flag
func (w *SetupWizard) ResetSetup() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.Remove(w.setupFlagFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove setup flag file: %w", err)
	}
	return nil
}

// GetConfigDir returns the configuration directory
func (w *SetupWizard) GetConfigDir() string {
	return w.configDir
}

// GetConfigPath returns the configuration file path
func (w *SetupWizard) GetConfigPath() string {
	return w.configPath
}
