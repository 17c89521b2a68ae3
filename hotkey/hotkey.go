// Package hotkey listens for a global key combination and turns presses
// into session control gestures.
package hotkey

import (
	"fmt"
	"strings"
)

type Hotkey interface {
	Register() error
	Unregister()
	Keydown() <-chan struct{}
	Keyup() <-chan struct{}
}

// DefaultBinding is used when no -hotkey flag is given.
const DefaultBinding = "ctrl+shift+space"

// Binding is a key plus the modifiers that must be held with it.
type Binding struct {
	Ctrl  bool
	Shift bool
	Key   string
}

// ParseBinding reads combinations such as "ctrl+shift+space" or "shift+f9".
// Key names are the ones both backends understand.
func ParseBinding(s string) (Binding, error) {
	var b Binding
	parts := strings.Split(strings.ToLower(strings.TrimSpace(s)), "+")
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if i < len(parts)-1 {
			switch p {
			case "ctrl", "control":
				b.Ctrl = true
			case "shift":
				b.Shift = true
			default:
				return Binding{}, fmt.Errorf("unknown modifier %q in %q", p, s)
			}
			continue
		}
		if !knownKey(p) {
			return Binding{}, fmt.Errorf("unknown key %q in %q", p, s)
		}
		b.Key = p
	}
	return b, nil
}

func (b Binding) String() string {
	var parts []string
	if b.Ctrl {
		parts = append(parts, "ctrl")
	}
	if b.Shift {
		parts = append(parts, "shift")
	}
	return strings.Join(append(parts, b.Key), "+")
}

func knownKey(name string) bool {
	switch name {
	case "space", "enter":
		return true
	}
	if len(name) == 1 && name[0] >= 'a' && name[0] <= 'z' {
		return true
	}
	var n int
	if _, err := fmt.Sscanf(name, "f%d", &n); err == nil && n >= 1 && n <= 12 && name == fmt.Sprintf("f%d", n) {
		return true
	}
	return false
}
