//go:build !linux

package audio

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

type malgoContext struct {
	ctx *malgo.AllocatedContext
}

func NewContext() (Context, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, Classify("malgo init", err)
	}
	return &malgoContext{ctx: ctx}, nil
}

func (m *malgoContext) Devices() ([]DeviceInfo, error) {
	devices, err := m.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("malgo devices: %w", err)
	}
	var result []DeviceInfo
	for _, d := range devices {
		result = append(result, DeviceInfo{
			ID:   hex.EncodeToString(d.ID.Pointer()[:]),
			Name: d.Name(),
		})
	}
	return result, nil
}

func (m *malgoContext) NewCapture(device *DeviceInfo, config Config) (CaptureDevice, error) {
	c := &malgoCapture{name: "system default"}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = config.Channels
	deviceConfig.SampleRate = config.SampleRate

	if device != nil {
		idBytes, err := hex.DecodeString(device.ID)
		if err != nil {
			return nil, &DeviceError{Op: "capture", Err: fmt.Errorf("invalid device ID: %w", err)}
		}
		var devID malgo.DeviceID
		copy(devID[:], idBytes)
		deviceConfig.Capture.DeviceID = devID.Pointer()
		c.name = device.Name
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, frameCount uint32) {
			cb := c.callback.Load()
			if cb == nil {
				return
			}
			(*cb)(bytesToFloats(input, int(frameCount*config.Channels)))
		},
	}

	dev, err := malgo.InitDevice(m.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return nil, Classify("capture", err)
	}
	c.device = dev
	return c, nil
}

func (m *malgoContext) NewPlayback(config Config) (PlaybackDevice, error) {
	p := &malgoPlayback{}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatF32
	deviceConfig.Playback.Channels = config.Channels
	deviceConfig.SampleRate = config.SampleRate

	callbacks := malgo.DeviceCallbacks{
		Data: func(output, _ []byte, frameCount uint32) {
			buf := make([]float32, int(frameCount*config.Channels))
			if r := p.renderer.Load(); r != nil {
				(*r)(buf)
			}
			for i, s := range buf {
				if (i+1)*4 > len(output) {
					break
				}
				binary.LittleEndian.PutUint32(output[i*4:], math.Float32bits(s))
			}
		},
	}

	dev, err := malgo.InitDevice(m.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return nil, Classify("playback", err)
	}
	p.device = dev
	return p, nil
}

func (m *malgoContext) Close() error {
	if err := m.ctx.Uninit(); err != nil {
		m.ctx.Free()
		return err
	}
	m.ctx.Free()
	return nil
}

func bytesToFloats(data []byte, n int) []float32 {
	if n*4 > len(data) {
		n = len(data) / 4
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out
}

type malgoCapture struct {
	device   *malgo.Device
	name     string
	callback atomic.Pointer[DataCallback]
}

func (c *malgoCapture) Start() error {
	if err := c.device.Start(); err != nil {
		return Classify("capture start", err)
	}
	return nil
}

func (c *malgoCapture) Stop()  { c.device.Stop() }
func (c *malgoCapture) Close() { c.device.Uninit() }

func (c *malgoCapture) SetCallback(cb DataCallback) { c.callback.Store(&cb) }
func (c *malgoCapture) ClearCallback()              { c.callback.Store(nil) }
func (c *malgoCapture) DeviceName() string          { return c.name }

type malgoPlayback struct {
	device   *malgo.Device
	renderer atomic.Pointer[RenderCallback]
}

func (p *malgoPlayback) Start() error {
	if err := p.device.Start(); err != nil {
		return Classify("playback start", err)
	}
	return nil
}

func (p *malgoPlayback) Stop()  { p.device.Stop() }
func (p *malgoPlayback) Close() { p.device.Uninit() }

func (p *malgoPlayback) SetRenderer(r RenderCallback) { p.renderer.Store(&r) }
func (p *malgoPlayback) ClearRenderer()               { p.renderer.Store(nil) }
