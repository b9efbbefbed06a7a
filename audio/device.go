package audio

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// ErrPickerCanceled is returned when the user aborts the device picker.
var ErrPickerCanceled = errors.New("device selection canceled")

// FindDevice returns the capture device whose name contains name,
// case-insensitively. An empty name selects the system default (nil).
func FindDevice(ctx Context, name string) (*DeviceInfo, error) {
	if name == "" {
		return nil, nil
	}
	devices, err := ctx.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}
	want := strings.ToLower(name)
	for i, d := range devices {
		if strings.Contains(strings.ToLower(d.Name), want) {
			return &devices[i], nil
		}
	}
	return nil, fmt.Errorf("microphone %q: %w", name, ErrNoDevice)
}

// SelectDevice runs an interactive picker on the terminal. With a single
// device it returns that device without prompting.
func SelectDevice(ctx Context) (*DeviceInfo, error) {
	devices, err := ctx.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}
	switch len(devices) {
	case 0:
		return nil, ErrNoDevice
	case 1:
		return &devices[0], nil
	}

	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("setting raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	p := picker{devices: devices}
	fmt.Print(p.render())

	buf := make([]byte, 3)
	for {
		n, err := os.Stdin.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("reading input: %w", err)
		}
		done, canceled := p.key(buf[:n])
		if canceled {
			fmt.Print("\r\n")
			return nil, ErrPickerCanceled
		}
		if done {
			fmt.Print("\r\n")
			return &devices[p.cursor], nil
		}
		fmt.Printf("\x1b[%dA", len(devices)+2)
		fmt.Print(p.render())
	}
}

type picker struct {
	devices []DeviceInfo
	cursor  int
}

func (p *picker) key(b []byte) (done, canceled bool) {
	switch {
	case len(b) == 1 && b[0] == 13:
		return true, false
	case len(b) == 1 && (b[0] == 3 || b[0] == 'q'):
		return false, true
	case len(b) == 1 && b[0] == 'j', len(b) == 3 && b[0] == 0x1b && b[1] == '[' && b[2] == 'B':
		if p.cursor < len(p.devices)-1 {
			p.cursor++
		}
	case len(b) == 1 && b[0] == 'k', len(b) == 3 && b[0] == 0x1b && b[1] == '[' && b[2] == 'A':
		if p.cursor > 0 {
			p.cursor--
		}
	}
	return false, false
}

func (p *picker) render() string {
	var sb strings.Builder
	sb.WriteString("\r\x1b[J")
	sb.WriteString("Select microphone (↑/↓, Enter to confirm):\r\n\r\n")
	for i, d := range p.devices {
		tag := ""
		if IsBluetooth(d.Name) {
			tag = " \x1b[33m[hands-free profile, lower quality]\x1b[0m"
		}
		if i == p.cursor {
			fmt.Fprintf(&sb, "  \x1b[1;36m▶ %s%s\x1b[0m\r\n", d.Name, tag)
		} else {
			fmt.Fprintf(&sb, "    %s%s\r\n", d.Name, tag)
		}
	}
	return sb.String()
}
