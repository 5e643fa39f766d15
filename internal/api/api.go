// Package api exposes the local control surface of the echo pipeline
// over HTTP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/yok-tottii/EzEcho/internal/audio"
	"github.com/yok-tottii/EzEcho/internal/config"
	"github.com/yok-tottii/EzEcho/internal/hotkey"
	"github.com/yok-tottii/EzEcho/internal/journal"
	"github.com/yok-tottii/EzEcho/internal/logger"
	"github.com/yok-tottii/EzEcho/internal/pipeline"
	"github.com/yok-tottii/EzEcho/internal/wizard"
)

// Controller is the part of the pipeline the API drives
type Controller interface {
	Snapshot() pipeline.Snapshot
	RequestMicInput(enabled bool)
}

// ClipLister returns recently played clips, newest first
type ClipLister interface {
	ListRecent(ctx context.Context, limit int) ([]journal.Clip, error)
}

// PermissionReporter reports system permission state by name
type PermissionReporter interface {
	CheckAllPermissions() map[string]bool
}

// DeviceLister enumerates capture devices
type DeviceLister func() ([]audio.Device, error)

// Options wires the handler to the running application. Nil members
// disable the corresponding endpoints' data and they answer with
// defaults.
type Options struct {
	// ConfigPath is where PUT /api/settings persists; empty keeps changes in memory
	ConfigPath      string
	Controller      Controller
	Clips           ClipLister
	Permissions     PermissionReporter
	Devices         DeviceLister
	Metrics         http.Handler
	OnHotkeyChanged func() error // reloads the hotkey in the running app
	Setup           *wizard.SetupWizard
	SetupState      func() wizard.StepState
	Logger          *logger.Logger
}

// Handler manages API endpoints
type Handler struct {
	config *config.Config
	opts   Options
	log    *logger.Logger
}

// New creates a new API handler
func New(cfg *config.Config, opts Options) *Handler {
	return &Handler{
		config: cfg,
		opts:   opts,
		log:    opts.Logger,
	}
}

// RegisterRoutes registers all API routes on the given mux
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/state", h.handleState)
	mux.HandleFunc("/api/mic", h.handleMic)
	mux.HandleFunc("/api/settings", h.handleSettings)
	mux.HandleFunc("/api/hotkey/validate", h.handleHotkeyValidate)
	mux.HandleFunc("/api/hotkey/register", h.handleHotkeyRegister)
	mux.HandleFunc("/api/devices", h.handleDevices)
	mux.HandleFunc("/api/clips", h.handleClips)
	mux.HandleFunc("/api/permissions", h.handlePermissions)
	if h.opts.Setup != nil {
		mux.HandleFunc("/api/setup", h.handleSetup)
	}
	if h.opts.Metrics != nil {
		mux.Handle("/metrics", h.opts.Metrics)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// handleState handles GET /api/state
func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.opts.Controller == nil {
		http.Error(w, "Pipeline not available", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, h.opts.Controller.Snapshot())
}

// MicRequest is the body of POST /api/mic
type MicRequest struct {
	Enabled *bool `json:"enabled"`
}

// handleMic handles POST /api/mic
func (h *Handler) handleMic(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.opts.Controller == nil {
		http.Error(w, "Pipeline not available", http.StatusServiceUnavailable)
		return
	}

	var req MicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	h.log.Info("Mic input %s via API", onOff(*req.Enabled))
	h.opts.Controller.RequestMicInput(*req.Enabled)

	// The request is applied asynchronously
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status":        "accepted",
		"mic_requested": *req.Enabled,
	})
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// handleSettings handles GET and PUT /api/settings
func (h *Handler) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.config.Clone())
	case http.MethodPut:
		h.putSettings(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// putSettings updates the configuration
func (h *Handler) putSettings(w http.ResponseWriter, r *http.Request) {
	var updates map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.config.Update(updates); err != nil {
		http.Error(w, fmt.Sprintf("Failed to update config: %v", err), http.StatusBadRequest)
		return
	}

	if h.opts.ConfigPath != "" {
		if err := h.config.Save(h.opts.ConfigPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to save config: %v", err), http.StatusInternalServerError)
			return
		}
	}

	if _, ok := updates["hotkey"]; ok {
		h.reloadHotkey()
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "success",
	})
}

func (h *Handler) reloadHotkey() error {
	if h.opts.OnHotkeyChanged == nil {
		return nil
	}
	if err := h.opts.OnHotkeyChanged(); err != nil {
		h.log.Warn("Failed to reload hotkey: %v", err)
		return err
	}
	return nil
}

// handleHotkeyValidate handles POST /api/hotkey/validate
func (h *Handler) handleHotkeyValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var request config.HotkeyConfig
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	mods := hotkey.ModifiersFromConfig(request)
	key := hotkey.KeyFromString(request.Key)

	conflictNames := []string{}
	for _, c := range hotkey.CheckConflicts(mods, key) {
		conflictNames = append(conflictNames, c.Name)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"hotkey":    hotkey.FormatHotkey(mods, key),
		"conflicts": conflictNames,
	})
}

// handleHotkeyRegister handles POST /api/hotkey/register
func (h *Handler) handleHotkeyRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var hk config.HotkeyConfig
	if err := json.NewDecoder(r.Body).Decode(&hk); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if hk.Key == "" {
		http.Error(w, "Key cannot be empty", http.StatusBadRequest)
		return
	}

	if !hk.Ctrl && !hk.Shift && !hk.Alt && !hk.Cmd {
		http.Error(w, "At least one modifier key (Ctrl/Shift/Alt/Cmd) is required", http.StatusBadRequest)
		return
	}

	if hk.Mode == "" {
		hk.Mode = "toggle"
	}

	update := map[string]interface{}{
		"hotkey": map[string]interface{}{
			"ctrl":  hk.Ctrl,
			"shift": hk.Shift,
			"alt":   hk.Alt,
			"cmd":   hk.Cmd,
			"key":   hk.Key,
			"mode":  hk.Mode,
		},
	}
	if err := h.config.Update(update); err != nil {
		http.Error(w, fmt.Sprintf("Invalid hotkey: %v", err), http.StatusBadRequest)
		return
	}

	if h.opts.ConfigPath != "" {
		if err := h.config.Save(h.opts.ConfigPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to save config: %v", err), http.StatusInternalServerError)
			return
		}
	}

	if err := h.reloadHotkey(); err != nil {
		// Saved but not applied
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "partial",
			"message": fmt.Sprintf("Hotkey saved but reload failed: %v. Please restart the application.", err),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "Hotkey registered and applied successfully",
	})
}

// Device represents an audio device
type Device struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	IsDefault bool   `json:"is_default"`
}

// systemDefault stands in when enumeration is unavailable
var systemDefault = Device{ID: -1, Name: "System Default", IsDefault: true}

// handleDevices handles GET /api/devices
func (h *Handler) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	devices := []Device{systemDefault}
	if h.opts.Devices != nil {
		audioDevices, err := h.opts.Devices()
		if err != nil {
			h.log.Warn("Failed to list audio devices: %v", err)
		} else {
			for _, dev := range audioDevices {
				devices = append(devices, Device{
					ID:        dev.ID,
					Name:      dev.Name,
					IsDefault: dev.IsDefault,
				})
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"devices":  devices,
		"selected": h.config.Clone().AudioDeviceID,
	})
}

// ClipInfo describes a journaled clip
type ClipInfo struct {
	ID         string     `json:"id"`
	Path       string     `json:"path"`
	Size       string     `json:"size"`
	DurationMs int64      `json:"duration_ms"`
	RecordedAt time.Time  `json:"recorded_at"`
	PlayedAt   *time.Time `json:"played_at,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// handleClips handles GET /api/clips?limit=N
func (h *Handler) handleClips(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	clips := []ClipInfo{}
	if h.opts.Clips != nil {
		recent, err := h.opts.Clips.ListRecent(r.Context(), limit)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to list clips: %v", err), http.StatusInternalServerError)
			return
		}
		for _, c := range recent {
			info := ClipInfo{
				ID:         c.ID,
				Path:       c.Path,
				Size:       formatSize(c.Bytes),
				DurationMs: c.Duration.Milliseconds(),
				RecordedAt: c.RecordedAt,
				Error:      c.Error,
			}
			if !c.PlayedAt.IsZero() {
				played := c.PlayedAt
				info.PlayedAt = &played
			}
			clips = append(clips, info)
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"clips": clips,
	})
}

// formatSize formats bytes to human-readable size
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// Permission represents a system permission status
type Permission struct {
	Granted bool `json:"granted"`
}

// handlePermissions handles GET /api/permissions
func (h *Handler) handlePermissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	permissions := map[string]Permission{}
	if h.opts.Permissions != nil {
		for name, granted := range h.opts.Permissions.CheckAllPermissions() {
			permissions[name] = Permission{Granted: granted}
		}
	}

	writeJSON(w, http.StatusOK, permissions)
}

// handleSetup handles GET and POST /api/setup.
// POST marks the first-run setup completed.
func (h *Handler) handleSetup(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		if err := h.opts.Setup.MarkSetupCompleted(); err != nil {
			h.log.Error("Failed to complete setup: %v", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		h.log.Info("First-run setup completed")
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var st wizard.StepState
	if h.opts.SetupState != nil {
		st = h.opts.SetupState()
	}
	writeJSON(w, http.StatusOK, h.opts.Setup.GetProgress(st))
}
