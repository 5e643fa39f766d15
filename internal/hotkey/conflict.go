package hotkey

import (
	"golang.design/x/hotkey"

	"github.com/yok-tottii/EzEcho/internal/config"
)

// ConflictInfo represents information about a known shortcut conflict
type ConflictInfo struct {
	Name        string
	Description string
	Modifiers   []hotkey.Modifier
	Key         hotkey.Key
}

// knownConflicts contains a list of known macOS shortcuts that might conflict
var knownConflicts = []ConflictInfo{
	{
		Name:        "Spotlight",
		Description: "macOS Spotlight search",
		Modifiers:   []hotkey.Modifier{hotkey.ModCmd},
		Key:         hotkey.KeySpace,
	},
	{
		Name:        "Input Sources",
		Description: "Select next input source",
		Modifiers:   []hotkey.Modifier{hotkey.ModCtrl},
		Key:         hotkey.KeySpace,
	},
	{
		Name:        "Character Viewer",
		Description: "Emoji and symbols palette",
		Modifiers:   []hotkey.Modifier{hotkey.ModCtrl, hotkey.ModCmd},
		Key:         hotkey.KeySpace,
	},
	{
		Name:        "Mute (video calls)",
		Description: "Common mute shortcut in conferencing apps",
		Modifiers:   []hotkey.Modifier{hotkey.ModCmd, hotkey.ModShift},
		Key:         hotkey.KeyA,
	},
	{
		Name:        "Force Quit",
		Description: "macOS Force Quit",
		Modifiers:   []hotkey.Modifier{hotkey.ModCmd, hotkey.ModOption},
		Key:         hotkey.KeyEscape,
	},
}

// CheckConflicts checks if the given hotkey conflicts with known system shortcuts
func CheckConflicts(modifiers []hotkey.Modifier, key hotkey.Key) []ConflictInfo {
	var conflicts []ConflictInfo

	for _, known := range knownConflicts {
		if hotkeyMatches(modifiers, key, known.Modifiers, known.Key) {
			conflicts = append(conflicts, known)
		}
	}

	return conflicts
}

// hotkeyMatches checks if two hotkey combinations are identical
func hotkeyMatches(mods1 []hotkey.Modifier, key1 hotkey.Key, mods2 []hotkey.Modifier, key2 hotkey.Key) bool {
	if key1 != key2 {
		return false
	}

	if len(mods1) != len(mods2) {
		return false
	}

	// Create maps for comparison
	modMap1 := make(map[hotkey.Modifier]bool)
	modMap2 := make(map[hotkey.Modifier]bool)

	for _, mod := range mods1 {
		modMap1[mod] = true
	}

	for _, mod := range mods2 {
		modMap2[mod] = true
	}

	// Check if all modifiers match
	for mod := range modMap1 {
		if !modMap2[mod] {
			return false
		}
	}

	return true
}

// FormatHotkey returns a human-readable string representation of the hotkey
func FormatHotkey(modifiers []hotkey.Modifier, key hotkey.Key) string {
	result := ""

	for _, mod := range modifiers {
		switch mod {
		case hotkey.ModCtrl:
			result += "⌃"
		case hotkey.ModShift:
			result += "⇧"
		case hotkey.ModOption:
			result += "⌥"
		case hotkey.ModCmd:
			result += "⌘"
		}
	}

	result += keyToString(key)
	return result
}

// keyToString converts a hotkey.Key to a display string
func keyToString(key hotkey.Key) string {
	switch key {
	case hotkey.KeySpace:
		return "Space"
	case hotkey.KeyEscape:
		return "Esc"
	case hotkey.KeyReturn:
		return "Return"
	case hotkey.KeyTab:
		return "Tab"
	}

	for i, k := range letterKeys {
		if k == key {
			return string(rune('A' + i))
		}
	}
	for i, k := range digitKeys {
		if k == key {
			return string(rune('0' + i))
		}
	}

	return "Unknown"
}

// ModifiersFromConfig converts persisted modifier flags
func ModifiersFromConfig(c config.HotkeyConfig) []hotkey.Modifier {
	var mods []hotkey.Modifier
	if c.Ctrl {
		mods = append(mods, hotkey.ModCtrl)
	}
	if c.Shift {
		mods = append(mods, hotkey.ModShift)
	}
	if c.Alt {
		mods = append(mods, hotkey.ModOption)
	}
	if c.Cmd {
		mods = append(mods, hotkey.ModCmd)
	}
	return mods
}

// KeyFromString converts a key name to a key code. Unknown names fall
// back to Space.
func KeyFromString(s string) hotkey.Key {
	// macOS IMEs may deliver the space key as NBSP
	if s == "\u00a0" || s == "" {
		return hotkey.KeySpace
	}

	switch s {
	case "Space":
		return hotkey.KeySpace
	case "Escape":
		return hotkey.KeyEscape
	case "Return":
		return hotkey.KeyReturn
	case "Tab":
		return hotkey.KeyTab
	}

	if len(s) == 1 {
		c := s[0]
		switch {
		case c >= 'A' && c <= 'Z':
			return letterKeys[c-'A']
		case c >= 'a' && c <= 'z':
			return letterKeys[c-'a']
		case c >= '0' && c <= '9':
			return digitKeys[c-'0']
		}
	}

	return hotkey.KeySpace
}

// Key codes are not contiguous, so letters and digits are tabulated.
var letterKeys = [26]hotkey.Key{
	hotkey.KeyA, hotkey.KeyB, hotkey.KeyC, hotkey.KeyD, hotkey.KeyE, hotkey.KeyF,
	hotkey.KeyG, hotkey.KeyH, hotkey.KeyI, hotkey.KeyJ, hotkey.KeyK, hotkey.KeyL,
	hotkey.KeyM, hotkey.KeyN, hotkey.KeyO, hotkey.KeyP, hotkey.KeyQ, hotkey.KeyR,
	hotkey.KeyS, hotkey.KeyT, hotkey.KeyU, hotkey.KeyV, hotkey.KeyW, hotkey.KeyX,
	hotkey.KeyY, hotkey.KeyZ,
}

var digitKeys = [10]hotkey.Key{
	hotkey.Key0, hotkey.Key1, hotkey.Key2, hotkey.Key3, hotkey.Key4,
	hotkey.Key5, hotkey.Key6, hotkey.Key7, hotkey.Key8, hotkey.Key9,
}
