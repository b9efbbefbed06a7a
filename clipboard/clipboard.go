// Package clipboard copies finished turns to the system clipboard.
package clipboard

import (
	"errors"
	"strings"
	"sync"

	cb "github.com/atotto/clipboard"
)

var ErrUnsupported = errors.New("clipboard: no clipboard utility found")

type Board interface {
	Copy(text string) error
	Read() (string, error)
}

// System is the OS clipboard.
type System struct{}

func (System) Copy(text string) error {
	if cb.Unsupported {
		return ErrUnsupported
	}
	return cb.WriteAll(text)
}

func (System) Read() (string, error) {
	if cb.Unsupported {
		return "", ErrUnsupported
	}
	return cb.ReadAll()
}

// Available reports whether a clipboard backend was found at startup.
func Available() bool { return !cb.Unsupported }

// FormatTurn renders one exchange as plain text. Empty sides are omitted.
func FormatTurn(user, assistant string) string {
	var lines []string
	if u := strings.TrimSpace(user); u != "" {
		lines = append(lines, "You: "+u)
	}
	if a := strings.TrimSpace(assistant); a != "" {
		lines = append(lines, "Refuge: "+a)
	}
	return strings.Join(lines, "\n")
}

type Fake struct {
	Err error

	mu   sync.Mutex
	text string
}

func (f *Fake) Copy(text string) error {
	if f.Err != nil {
		return f.Err
	}
	f.mu.Lock()
	f.text = text
	f.mu.Unlock()
	return nil
}

func (f *Fake) Read() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.text, f.Err
}
