package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	Hotkey          HotkeyConfig  `json:"hotkey" yaml:"hotkey"`
	AudioDeviceID   int           `json:"audio_device_id" yaml:"audio_device_id"`
	SampleRate      int           `json:"sample_rate" yaml:"sample_rate"`
	FrameSize       int           `json:"frame_size" yaml:"frame_size"` // samples per frame
	Latency         string        `json:"latency" yaml:"latency"`       // "low" or "stable"
	VAD             VADConfig     `json:"vad" yaml:"vad"`
	PreRollFrames   int           `json:"pre_roll_frames" yaml:"pre_roll_frames"`
	MicStartDelayMs int           `json:"mic_start_delay_ms" yaml:"mic_start_delay_ms"`
	MicOnStart      bool          `json:"mic_on_start" yaml:"mic_on_start"`
	RecordingsDir   string        `json:"recordings_dir" yaml:"recordings_dir"`
	KeepRaw         bool          `json:"keep_raw" yaml:"keep_raw"`
	UILanguage      string        `json:"ui_language" yaml:"ui_language"` // "ja" or "en"
	ServerPort      int           `json:"server_port" yaml:"server_port"`
	Journal         JournalConfig `json:"journal" yaml:"journal"`
	LogLevel        string        `json:"log_level" yaml:"log_level"`
	mu              sync.RWMutex
}

// HotkeyConfig holds the mic toggle hotkey
type HotkeyConfig struct {
	Ctrl  bool   `json:"ctrl" yaml:"ctrl"`
	Shift bool   `json:"shift" yaml:"shift"`
	Alt   bool   `json:"alt" yaml:"alt"`
	Cmd   bool   `json:"cmd" yaml:"cmd"`
	Key   string `json:"key" yaml:"key"`   // e.g., "Space"
	Mode  string `json:"mode" yaml:"mode"` // "toggle" or "push-to-talk"
}

// VADConfig selects the classifier backend
type VADConfig struct {
	Backend string `json:"backend" yaml:"backend"`
	Mode    string `json:"mode" yaml:"mode"`
	// FrameSize is the classifier frame size in samples; 0 follows the capture frame size
	FrameSize int `json:"frame_size" yaml:"frame_size"`
}

// JournalConfig controls the clip journal
type JournalConfig struct {
	Path          string `json:"path" yaml:"path"`
	RetentionMode string `json:"retention_mode" yaml:"retention_mode"` // "persistent" or "ephemeral"
	RetentionDays int    `json:"retention_days" yaml:"retention_days"`
	MaxClips      int    `json:"max_clips" yaml:"max_clips"`
}

var (
	validLatencies  = map[string]bool{"low": true, "stable": true}
	validVADModes   = map[string]bool{"normal": true, "low_bitrate": true, "aggressive": true, "very_aggressive": true}
	validLogLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validRetention  = map[string]bool{"persistent": true, "ephemeral": true}
	validHotkeyMode = map[string]bool{"toggle": true, "push-to-talk": true}
)

// AppDir returns the application support directory
func AppDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, "Library", "Application Support", "EzEcho")
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Hotkey: HotkeyConfig{
			Ctrl: true,
			Alt:  true,
			Key:  "Space",
			Mode: "toggle",
		},
		AudioDeviceID: -1, // -1 means use system default device
		SampleRate:    16000,
		FrameSize:     512,
		Latency:       "stable",
		VAD: VADConfig{
			Backend: "energy",
			Mode:    "normal",
		},
		PreRollFrames:   5,
		MicStartDelayMs: 300,
		RecordingsDir:   filepath.Join(AppDir(), "recordings"),
		UILanguage:      "ja",
		ServerPort:      18765,
		Journal: JournalConfig{
			Path:          filepath.Join(AppDir(), "journal.db"),
			RetentionMode: "persistent",
			RetentionDays: 7,
			MaxClips:      200,
		},
		LogLevel: "info",
	}
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Load loads configuration from the specified path. Files ending in .yaml
// or .yml are parsed as YAML, everything else as JSON. Missing fields keep
// their default values.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if isYAML(path) {
		err = yaml.Unmarshal(data, config)
	} else {
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if config.Hotkey.Key == "" {
		config.Hotkey.Key = "Space"
	}
	if config.Hotkey.Mode == "" {
		config.Hotkey.Mode = "toggle"
	}

	return config, nil
}

// Save saves configuration to the specified path, as YAML or JSON
// depending on the extension
func (c *Config) Save(path string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	return filepath.Join(AppDir(), "config.json")
}

// Update updates configuration fields from a decoded JSON object.
// Values are validated before anything is applied.
func (c *Config) Update(updates map[string]interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.copyLocked()

	for key, value := range updates {
		switch key {
		case "audio_device_id":
			if v, ok := value.(float64); ok {
				next.AudioDeviceID = int(v)
			}
		case "latency":
			if v, ok := value.(string); ok {
				if !validLatencies[v] {
					return fmt.Errorf("invalid latency: %s", v)
				}
				next.Latency = v
			}
		case "vad_mode":
			if v, ok := value.(string); ok {
				if !validVADModes[v] {
					return fmt.Errorf("invalid vad_mode: %s", v)
				}
				next.VAD.Mode = v
			}
		case "pre_roll_frames":
			if v, ok := value.(float64); ok {
				if v < 0 || v > 50 {
					return fmt.Errorf("invalid pre_roll_frames: %v", v)
				}
				next.PreRollFrames = int(v)
			}
		case "mic_start_delay_ms":
			if v, ok := value.(float64); ok {
				if v < 0 || v > 5000 {
					return fmt.Errorf("invalid mic_start_delay_ms: %v", v)
				}
				next.MicStartDelayMs = int(v)
			}
		case "mic_on_start":
			if v, ok := value.(bool); ok {
				next.MicOnStart = v
			}
		case "keep_raw":
			if v, ok := value.(bool); ok {
				next.KeepRaw = v
			}
		case "ui_language":
			if v, ok := value.(string); ok {
				if v != "ja" && v != "en" {
					return fmt.Errorf("invalid ui_language: %s", v)
				}
				next.UILanguage = v
			}
		case "log_level":
			if v, ok := value.(string); ok {
				if !validLogLevels[strings.ToLower(v)] {
					return fmt.Errorf("invalid log_level: %s", v)
				}
				next.LogLevel = strings.ToLower(v)
			}
		case "hotkey":
			if v, ok := value.(map[string]interface{}); ok {
				if ctrl, ok := v["ctrl"].(bool); ok {
					next.Hotkey.Ctrl = ctrl
				}
				if shift, ok := v["shift"].(bool); ok {
					next.Hotkey.Shift = shift
				}
				if alt, ok := v["alt"].(bool); ok {
					next.Hotkey.Alt = alt
				}
				if cmd, ok := v["cmd"].(bool); ok {
					next.Hotkey.Cmd = cmd
				}
				if key, ok := v["key"].(string); ok {
					next.Hotkey.Key = key
				}
				if mode, ok := v["mode"].(string); ok {
					if !validHotkeyMode[mode] {
						return fmt.Errorf("invalid hotkey mode: %s", mode)
					}
					next.Hotkey.Mode = mode
				}
			}
		default:
			return fmt.Errorf("unknown or read-only setting: %s", key)
		}
	}

	c.applyLocked(next)
	return nil
}

func (c *Config) copyLocked() *Config {
	return &Config{
		Hotkey:          c.Hotkey,
		AudioDeviceID:   c.AudioDeviceID,
		SampleRate:      c.SampleRate,
		FrameSize:       c.FrameSize,
		Latency:         c.Latency,
		VAD:             c.VAD,
		PreRollFrames:   c.PreRollFrames,
		MicStartDelayMs: c.MicStartDelayMs,
		MicOnStart:      c.MicOnStart,
		RecordingsDir:   c.RecordingsDir,
		KeepRaw:         c.KeepRaw,
		UILanguage:      c.UILanguage,
		ServerPort:      c.ServerPort,
		Journal:         c.Journal,
		LogLevel:        c.LogLevel,
	}
}

func (c *Config) applyLocked(n *Config) {
	c.Hotkey = n.Hotkey
	c.AudioDeviceID = n.AudioDeviceID
	c.SampleRate = n.SampleRate
	c.FrameSize = n.FrameSize
	c.Latency = n.Latency
	c.VAD = n.VAD
	c.PreRollFrames = n.PreRollFrames
	c.MicStartDelayMs = n.MicStartDelayMs
	c.MicOnStart = n.MicOnStart
	c.RecordingsDir = n.RecordingsDir
	c.KeepRaw = n.KeepRaw
	c.UILanguage = n.UILanguage
	c.ServerPort = n.ServerPort
	c.Journal = n.Journal
	c.LogLevel = n.LogLevel
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.copyLocked()
}

// MicStartDelay returns the start delay as a duration
func (c *Config) MicStartDelay() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return time.Duration(c.MicStartDelayMs) * time.Millisecond
}

// ExpandPath expands ~ to home directory in file paths
func ExpandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}

	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(homeDir, path[2:]), nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	return absPath, nil
}

// GetRecordingsDir returns the expanded recordings directory
func (c *Config) GetRecordingsDir() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return ExpandPath(c.RecordingsDir)
}

// Validate validates all configuration fields
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !validHotkeyMode[c.Hotkey.Mode] {
		return fmt.Errorf("invalid hotkey mode: %s (must be 'toggle' or 'push-to-talk')", c.Hotkey.Mode)
	}

	switch c.SampleRate {
	case 8000, 16000, 32000, 48000:
	default:
		return fmt.Errorf("invalid sample_rate: %d (must be 8000, 16000, 32000 or 48000)", c.SampleRate)
	}

	if c.FrameSize <= 0 || c.FrameSize&(c.FrameSize-1) != 0 && c.FrameSize%160 != 0 {
		return fmt.Errorf("invalid frame_size: %d (must be a power of two or a multiple of 160)", c.FrameSize)
	}

	if !validLatencies[c.Latency] {
		return fmt.Errorf("invalid latency: %s (must be 'low' or 'stable')", c.Latency)
	}

	if c.VAD.Backend == "" {
		return fmt.Errorf("vad backend cannot be empty")
	}
	if !validVADModes[c.VAD.Mode] {
		return fmt.Errorf("invalid vad mode: %s", c.VAD.Mode)
	}
	if c.VAD.FrameSize < 0 {
		return fmt.Errorf("invalid vad frame_size: %d", c.VAD.FrameSize)
	}

	if c.PreRollFrames < 0 || c.PreRollFrames > 50 {
		return fmt.Errorf("invalid pre_roll_frames: %d (must be between 0 and 50)", c.PreRollFrames)
	}

	if c.MicStartDelayMs < 0 || c.MicStartDelayMs > 5000 {
		return fmt.Errorf("invalid mic_start_delay_ms: %d (must be between 0 and 5000)", c.MicStartDelayMs)
	}

	if c.RecordingsDir == "" {
		return fmt.Errorf("recordings_dir cannot be empty")
	}

	if c.UILanguage != "ja" && c.UILanguage != "en" {
		return fmt.Errorf("invalid ui_language: %s (must be 'ja' or 'en')", c.UILanguage)
	}

	if c.ServerPort < 0 || c.ServerPort > 65535 {
		return fmt.Errorf("invalid server_port: %d", c.ServerPort)
	}

	if !validRetention[c.Journal.RetentionMode] {
		return fmt.Errorf("invalid journal retention_mode: %s (must be 'persistent' or 'ephemeral')", c.Journal.RetentionMode)
	}
	if c.Journal.RetentionMode == "persistent" && c.Journal.Path == "" {
		return fmt.Errorf("journal path cannot be empty in persistent mode")
	}

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("invalid log_level: %s", c.LogLevel)
	}

	return nil
}
