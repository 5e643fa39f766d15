package notification

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/yok-tottii/EzEcho/internal/audio"
	"github.com/yok-tottii/EzEcho/internal/i18n"
	"github.com/yok-tottii/EzEcho/internal/pipeline"
)

// NotificationType represents the type of notification
type NotificationType string

const (
	// TypeInfo is an informational notification
	TypeInfo NotificationType = "info"
	// TypeWarning is a warning notification
	TypeWarning NotificationType = "warning"
	// TypeError is an error notification
	TypeError NotificationType = "error"
)

// Notification represents a desktop notification
type Notification struct {
	Title   string
	Message string
	Type    NotificationType
}

// Sender delivers a notification to the desktop
type Sender func(n *Notification) error

// NotificationManager turns pipeline events into localized notifications
type NotificationManager struct {
	translator *i18n.Translator
	send       Sender
}

// NewNotificationManager creates a manager that posts through the macOS
// notification center
func NewNotificationManager(translator *i18n.Translator) *NotificationManager {
	return NewWithSender(translator, osascriptSender)
}

// NewWithSender creates a manager that posts through send
func NewWithSender(translator *i18n.Translator, send Sender) *NotificationManager {
	return &NotificationManager{
		translator: translator,
		send:       send,
	}
}

// escapeAppleScript quotes s for use inside an AppleScript string literal
func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	s = strings.ReplaceAll(s, "\r", `\r`)
	return strings.ReplaceAll(s, "\t", `\t`)
}

func osascriptSender(n *Notification) error {
	script := fmt.Sprintf(
		`display notification "%s" with title "%s"`,
		escapeAppleScript(n.Message),
		escapeAppleScript(n.Title),
	)

	cmd := exec.Command("osascript", "-e", script)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	return nil
}

// Send sends a notification to the user
func (nm *NotificationManager) Send(notification *Notification) error {
	if notification == nil {
		return fmt.Errorf("notification cannot be nil")
	}
	if notification.Title == "" {
		notification.Title = nm.translator.Translate("notification.title")
	}
	return nm.send(notification)
}

func (nm *NotificationManager) sendKey(typ NotificationType, key string, detail string) error {
	return nm.Send(&Notification{
		Message: nm.translator.TranslateWithFormat(key, map[string]string{"detail": detail}),
		Type:    typ,
	})
}

// MicrophonePermissionDenied sends a notification that microphone permission is denied
func (nm *NotificationManager) MicrophonePermissionDenied() error {
	return nm.sendKey(TypeError, "error.mic_permission_denied", "")
}

// InputEnded sends a notification that a file input has been played through
func (nm *NotificationManager) InputEnded() error {
	return nm.sendKey(TypeInfo, "notification.input_ended", "")
}

// messageKey picks the catalog entry for a pipeline error
func messageKey(err error) (NotificationType, string) {
	switch {
	case errors.Is(err, audio.ErrPermissionDenied):
		return TypeError, "error.mic_permission_denied"
	case errors.Is(err, audio.ErrDeviceUnavailable):
		return TypeError, "error.device_unavailable"
	case errors.Is(err, pipeline.ErrCaptureStart):
		return TypeError, "error.capture_start_failed"
	case errors.Is(err, pipeline.ErrCaptureEnded):
		return TypeWarning, "error.capture_ended"
	case errors.Is(err, pipeline.ErrRecord):
		return TypeError, "error.record_failed"
	case errors.Is(err, pipeline.ErrEncode):
		return TypeError, "error.encode_failed"
	case errors.Is(err, pipeline.ErrPlayback):
		return TypeWarning, "error.playback_failed"
	default:
		return TypeError, ""
	}
}

// PipelineError notifies the user about a pipeline failure. Errors that
// are not classified are not surfaced.
func (nm *NotificationManager) PipelineError(err error) error {
	if err == nil {
		return nil
	}
	typ, key := messageKey(err)
	if key == "" {
		return nil
	}
	return nm.sendKey(typ, key, err.Error())
}
