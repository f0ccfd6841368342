package capture

import "strings"

// capturedKeys are the navigation and control keys recorded as key steps.
// Everything else typed into a field is captured by the input handler.
var capturedKeys = map[string]bool{
	"Enter":      true,
	"Tab":        true,
	"Escape":     true,
	"ArrowUp":    true,
	"ArrowDown":  true,
	"ArrowLeft":  true,
	"ArrowRight": true,
	"Home":       true,
	"End":        true,
	"PageUp":     true,
	"PageDown":   true,
	"Backspace":  true,
	"Delete":     true,
}

// shortcutPrefix marks a Ctrl or Cmd chord so replays work on any platform.
const shortcutPrefix = "CmdOrCtrl+"

// KeyName returns the recorded name of a keydown, or "" when the key is not
// recorded. Ctrl/Cmd chords with a single letter or digit become
// "CmdOrCtrl+<KEY>".
func KeyName(key string, ctrl, meta bool) string {
	if (ctrl || meta) && isAlphanumeric(key) {
		return shortcutPrefix + strings.ToUpper(key)
	}
	if capturedKeys[key] {
		return key
	}
	return ""
}

func isAlphanumeric(key string) bool {
	if len(key) != 1 {
		return false
	}
	c := key[0]
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
