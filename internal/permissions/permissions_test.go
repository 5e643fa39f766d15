package permissions

import (
	"errors"
	"testing"

	"github.com/yok-tottii/EzEcho/internal/audio"
)

func TestCheckMicrophonePermission(t *testing.T) {
	pc := NewPermissionChecker()

	status := pc.CheckMicrophonePermission()

	if status < PermissionNotDetermined || status > PermissionAuthorized {
		t.Errorf("Expected valid permission status, got %d", status)
	}
}

func TestRequireMicrophone(t *testing.T) {
	tests := []struct {
		status  PermissionStatus
		denied  bool
		granted bool
	}{
		{PermissionNotDetermined, false, false},
		{PermissionRestricted, true, false},
		{PermissionDenied, true, false},
		{PermissionAuthorized, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			pc := NewStaticChecker(tt.status)

			err := pc.RequireMicrophone()
			if got := errors.Is(err, audio.ErrPermissionDenied); got != tt.denied {
				t.Errorf("RequireMicrophone() = %v, want denied=%v", err, tt.denied)
			}
			if pc.IsMicrophoneAuthorized() != tt.granted {
				t.Errorf("IsMicrophoneAuthorized() = %v, want %v", pc.IsMicrophoneAuthorized(), tt.granted)
			}
		})
	}
}

func TestCheckAllPermissions(t *testing.T) {
	perms := NewStaticChecker(PermissionDenied).CheckAllPermissions()

	granted, ok := perms["microphone"]
	if !ok {
		t.Fatal("Expected microphone entry")
	}
	if granted {
		t.Error("Expected microphone to be reported as not granted")
	}
}

func TestPermissionStatusString(t *testing.T) {
	tests := []struct {
		status   PermissionStatus
		expected string
	}{
		{PermissionNotDetermined, "NotDetermined"},
		{PermissionRestricted, "Restricted"},
		{PermissionDenied, "Denied"},
		{PermissionAuthorized, "Authorized"},
		{PermissionStatus(99), "Unknown"},
	}

	for _, tt := range tests {
		if got := tt.status.String(); got != tt.expected {
			t.Errorf("Expected %s, got %s", tt.expected, got)
		}
	}
}

func TestGetPermissionStatusMessage(t *testing.T) {
	if msg := GetPermissionStatusMessage(PermissionDenied); msg != "Permission denied" {
		t.Errorf("Unexpected message: %s", msg)
	}
	if msg := GetPermissionStatusMessage(PermissionStatus(42)); msg != "Unknown permission status" {
		t.Errorf("Unexpected message: %s", msg)
	}
}
