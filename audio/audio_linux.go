//go:build linux

package audio

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/jfreymuth/pulse"
)

type pulseContext struct {
	client *pulse.Client
}

func NewContext() (Context, error) {
	c, err := pulse.NewClient(pulse.ClientApplicationName("refuge"))
	if err != nil {
		return nil, Classify("pulse connect", err)
	}
	return &pulseContext{client: c}, nil
}

func (p *pulseContext) Devices() ([]DeviceInfo, error) {
	sources, err := p.client.ListSources()
	if err != nil {
		return nil, fmt.Errorf("pulse list sources: %w", err)
	}
	var devices []DeviceInfo
	for _, s := range sources {
		devices = append(devices, DeviceInfo{
			ID:   s.ID(),
			Name: s.Name(),
		})
	}
	return devices, nil
}

func (p *pulseContext) NewCapture(device *DeviceInfo, config Config) (CaptureDevice, error) {
	return &pulseCapture{
		client: p.client,
		device: device,
		config: config,
	}, nil
}

func (p *pulseContext) NewPlayback(config Config) (PlaybackDevice, error) {
	return &pulsePlayback{client: p.client, config: config}, nil
}

func (p *pulseContext) Close() error {
	p.client.Close()
	return nil
}

// runner owns the goroutine that keeps a pulse stream alive between
// Start and Stop.
type runner struct {
	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func (r *runner) run(start, stop func()) {
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	go func(stopCh, done chan struct{}) {
		defer close(done)
		start()
		<-stopCh
		stop()
	}(r.stop, r.done)
}

func (r *runner) halt() {
	if r.stop == nil {
		return
	}
	select {
	case <-r.stop:
	default:
		close(r.stop)
	}
	<-r.done
}

type pulseCapture struct {
	client   *pulse.Client
	device   *DeviceInfo
	config   Config
	callback atomic.Pointer[DataCallback]
	r        runner
}

func (c *pulseCapture) Start() error {
	c.r.mu.Lock()
	defer c.r.mu.Unlock()

	writer := pulse.Float32Writer(func(buf []float32) (int, error) {
		if cb := c.callback.Load(); cb != nil && len(buf) > 0 {
			block := make([]float32, len(buf))
			copy(block, buf)
			(*cb)(block)
		}
		return len(buf), nil
	})

	opts := []pulse.RecordOption{
		pulse.RecordMono,
		pulse.RecordSampleRate(int(c.config.SampleRate)),
		pulse.RecordLatency(0.05),
	}
	if c.device != nil {
		source, err := c.client.SourceByID(c.device.ID)
		if err == nil && source != nil {
			opts = append(opts, pulse.RecordSource(source))
		}
	}

	stream, err := c.client.NewRecord(writer, opts...)
	if err != nil {
		return Classify("pulse record", err)
	}
	c.r.run(stream.Start, func() {
		stream.Stop()
		stream.Close()
	})
	return nil
}

func (c *pulseCapture) Stop() {
	c.r.mu.Lock()
	defer c.r.mu.Unlock()
	c.r.halt()
}

func (c *pulseCapture) Close() { c.Stop() }

func (c *pulseCapture) SetCallback(cb DataCallback) { c.callback.Store(&cb) }

func (c *pulseCapture) ClearCallback() { c.callback.Store(nil) }

func (c *pulseCapture) DeviceName() string {
	if c.device != nil {
		return c.device.Name
	}
	return "system default"
}

type pulsePlayback struct {
	client   *pulse.Client
	config   Config
	renderer atomic.Pointer[RenderCallback]
	r        runner
}

func (p *pulsePlayback) Start() error {
	p.r.mu.Lock()
	defer p.r.mu.Unlock()

	reader := pulse.Float32Reader(func(buf []float32) (int, error) {
		clear(buf)
		if r := p.renderer.Load(); r != nil {
			(*r)(buf)
		}
		return len(buf), nil
	})

	stream, err := p.client.NewPlayback(reader,
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(int(p.config.SampleRate)),
		pulse.PlaybackLatency(0.08),
	)
	if err != nil {
		return Classify("pulse playback", err)
	}
	p.r.run(stream.Start, func() {
		stream.Stop()
		stream.Close()
	})
	return nil
}

func (p *pulsePlayback) Stop() {
	p.r.mu.Lock()
	defer p.r.mu.Unlock()
	p.r.halt()
}

func (p *pulsePlayback) Close() { p.Stop() }

func (p *pulsePlayback) SetRenderer(r RenderCallback) { p.renderer.Store(&r) }

func (p *pulsePlayback) ClearRenderer() { p.renderer.Store(nil) }
