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

const DefaultChord = "ctrl+shift+space"

// Chord is a modifier combination plus one key, written like "ctrl+shift+f9".
type Chord struct {
	Ctrl  bool
	Shift bool
	Key   string
}

var keyNames = []string{"space", "f1", "f2", "f3", "f4", "f5", "f6", "f7", "f8", "f9", "f10", "f11", "f12"}

func ParseChord(s string) (Chord, error) {
	var c Chord
	parts := strings.Split(strings.ToLower(strings.ReplaceAll(s, " ", "")), "+")
	for i, p := range parts {
		last := i == len(parts)-1
		switch {
		case p == "ctrl" && !last:
			c.Ctrl = true
		case p == "shift" && !last:
			c.Shift = true
		case last && validKey(p):
			c.Key = p
		default:
			return Chord{}, fmt.Errorf("hotkey %q: unsupported part %q", s, p)
		}
	}
	if !c.Ctrl && !c.Shift {
		return Chord{}, fmt.Errorf("hotkey %q: needs ctrl or shift", s)
	}
	return c, nil
}

func validKey(k string) bool {
	for _, n := range keyNames {
		if n == k {
			return true
		}
	}
	return false
}

func (c Chord) String() string {
	var b strings.Builder
	if c.Ctrl {
		b.WriteString("ctrl+")
	}
	if c.Shift {
		b.WriteString("shift+")
	}
	b.WriteString(c.Key)
	return b.String()
}
