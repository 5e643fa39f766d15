package permissions

import (
	"fmt"

	"github.com/yok-tottii/EzEcho/internal/audio"
)

// PermissionStatus represents the status of a system permission
type PermissionStatus int

const (
	// PermissionNotDetermined means the user hasn't been asked yet
	PermissionNotDetermined PermissionStatus = 0
	// PermissionRestricted means the permission is restricted by parental controls
	PermissionRestricted PermissionStatus = 1
	// PermissionDenied means the user has explicitly denied the permission
	PermissionDenied PermissionStatus = 2
	// PermissionAuthorized means the user has authorized the permission
	PermissionAuthorized PermissionStatus = 3
)

// PermissionChecker reports the microphone privacy state
type PermissionChecker struct {
	status func() PermissionStatus
}

// NewPermissionChecker creates a checker backed by the operating system
func NewPermissionChecker() *PermissionChecker {
	return &PermissionChecker{status: microphoneStatus}
}

// NewStaticChecker creates a checker that always reports status
func NewStaticChecker(status PermissionStatus) *PermissionChecker {
	return &PermissionChecker{status: func() PermissionStatus { return status }}
}

// CheckMicrophonePermission returns the current microphone permission status
func (pc *PermissionChecker) CheckMicrophonePermission() PermissionStatus {
	return pc.status()
}

// IsMicrophoneAuthorized returns whether microphone permission is granted
func (pc *PermissionChecker) IsMicrophoneAuthorized() bool {
	return pc.CheckMicrophonePermission() == PermissionAuthorized
}

// RequireMicrophone returns audio.ErrPermissionDenied unless capture may
// proceed. NotDetermined is let through: opening the device is what
// triggers the system prompt.
func (pc *PermissionChecker) RequireMicrophone() error {
	switch status := pc.CheckMicrophonePermission(); status {
	case PermissionDenied, PermissionRestricted:
		return fmt.Errorf("%w: %s", audio.ErrPermissionDenied, status)
	default:
		return nil
	}
}

// RequestMicrophonePermission opens system settings for microphone permission
func (pc *PermissionChecker) RequestMicrophonePermission() error {
	return openMicrophoneSettings()
}

// PermissionStatus string representation
func (ps PermissionStatus) String() string {
	switch ps {
	case PermissionNotDetermined:
		return "NotDetermined"
	case PermissionRestricted:
		return "Restricted"
	case PermissionDenied:
		return "Denied"
	case PermissionAuthorized:
		return "Authorized"
	default:
		return "Unknown"
	}
}

// CheckAllPermissions reports every permission the application depends on
func (pc *PermissionChecker) CheckAllPermissions() map[string]bool {
	return map[string]bool{
		"microphone": pc.IsMicrophoneAuthorized(),
	}
}

// GetPermissionStatusMessage returns a human-readable message for a permission status
func GetPermissionStatusMessage(status PermissionStatus) string {
	switch status {
	case PermissionNotDetermined:
		return "Permission not yet determined"
	case PermissionRestricted:
		return "Permission restricted by parental controls"
	case PermissionDenied:
		return "Permission denied"
	case PermissionAuthorized:
		return "Permission authorized"
	default:
		return "Unknown permission status"
	}
}
