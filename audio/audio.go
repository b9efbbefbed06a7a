package audio

import "strings"

const WAVHeaderSize = 44

var btKeywords = []string{
	"airpods", "beats", "bose", "wh-1000", "wf-1000",
	"jabra", "galaxy buds", "pixel buds", "powerbeats",
	"jbl ", "sennheiser momentum", "plantronics",
	"bluetooth", " bt ", " bt)", " bt]",
}

// IsBluetooth guesses from the device name whether the mic is a headset
// running in low-bandwidth hands-free mode.
func IsBluetooth(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range btKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// DataCallback receives one block of mono float32 capture samples in [-1, 1].
type DataCallback func(samples []float32)

// RenderCallback fills out with the next block of mono output samples.
type RenderCallback func(out []float32)

type Config struct {
	SampleRate uint32
	Channels   uint32
}

type DeviceInfo struct {
	ID   string // opaque platform-specific identifier
	Name string
}

// Context is one connection to the platform audio server. Contexts are
// independent: closing one never affects devices opened from another.
type Context interface {
	Devices() ([]DeviceInfo, error)
	NewCapture(device *DeviceInfo, config Config) (CaptureDevice, error)
	NewPlayback(config Config) (PlaybackDevice, error)
	Close() error
}

type CaptureDevice interface {
	Start() error
	Stop()
	Close()
	SetCallback(cb DataCallback)
	ClearCallback()
	DeviceName() string
}

type PlaybackDevice interface {
	Start() error
	Stop()
	Close()
	SetRenderer(r RenderCallback)
	ClearRenderer()
}
