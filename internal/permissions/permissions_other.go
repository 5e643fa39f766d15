//go:build !darwin

package permissions

import "errors"

// Platforms without a microphone privacy gate report access as authorized.
func microphoneStatus() PermissionStatus {
	return PermissionAuthorized
}

func openMicrophoneSettings() error {
	return errors.New("opening privacy settings is only supported on macOS")
}
