package audio

import (
	"encoding/binary"
	"os"
	"sync"
	"time"
)

const fakeFrameSize = 1024

// FakeContext is an in-memory Context. Devices it hands out record their
// lifecycle so tests can check that nothing leaks.
type FakeContext struct {
	CaptureErr  error // returned by NewCapture
	StartErr    error // returned by FakeCapture.Start
	PlaybackErr error // returned by NewPlayback
	DeviceList  []DeviceInfo

	pcm      []float32
	realtime bool

	mu        sync.Mutex
	closed    bool
	captures  []*FakeCapture
	playbacks []*FakePlayback
}

func NewFakeContext() *FakeContext { return &FakeContext{} }

// NewWAVContext returns a FakeContext whose captures replay the 16-bit mono
// PCM in wavPath and then emit silence. With realtime set, blocks are paced
// at the capture sample rate.
func NewWAVContext(wavPath string, realtime bool) (*FakeContext, error) {
	data, err := os.ReadFile(wavPath)
	if err != nil {
		return nil, err
	}
	if len(data) > WAVHeaderSize {
		data = data[WAVHeaderSize:]
	}
	pcm := make([]float32, len(data)/2)
	for i := range pcm {
		pcm[i] = float32(int16(binary.LittleEndian.Uint16(data[i*2:]))) / 32768
	}
	return &FakeContext{pcm: pcm, realtime: realtime}, nil
}

func (f *FakeContext) Devices() ([]DeviceInfo, error) { return f.DeviceList, nil }

func (f *FakeContext) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *FakeContext) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *FakeContext) NewCapture(device *DeviceInfo, config Config) (CaptureDevice, error) {
	if f.CaptureErr != nil {
		return nil, f.CaptureErr
	}
	name := "fake"
	if device != nil {
		name = device.Name
	}
	c := &FakeCapture{name: name, config: config, pcm: f.pcm, realtime: f.realtime, startErr: f.StartErr}
	f.mu.Lock()
	f.captures = append(f.captures, c)
	f.mu.Unlock()
	return c, nil
}

func (f *FakeContext) NewPlayback(config Config) (PlaybackDevice, error) {
	if f.PlaybackErr != nil {
		return nil, f.PlaybackErr
	}
	p := &FakePlayback{config: config}
	f.mu.Lock()
	f.playbacks = append(f.playbacks, p)
	f.mu.Unlock()
	return p, nil
}

func (f *FakeContext) Captures() []*FakeCapture {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeCapture(nil), f.captures...)
}

func (f *FakeContext) Playbacks() []*FakePlayback {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakePlayback(nil), f.playbacks...)
}

type FakeCapture struct {
	name     string
	config   Config
	pcm      []float32
	realtime bool
	startErr error

	mu       sync.Mutex
	cb       DataCallback
	started  bool
	closed   bool
	stopCh   chan struct{}
	feedDone chan struct{}
}

func (f *FakeCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *FakeCapture) DeviceName() string { return f.name }

func (f *FakeCapture) Config() Config { return f.config }

// Emit delivers samples to the callback as if the device produced them.
// It reports whether a started device with a callback received them.
func (f *FakeCapture) Emit(samples []float32) bool {
	f.mu.Lock()
	cb := f.cb
	live := f.started
	f.mu.Unlock()
	if cb == nil || !live {
		return false
	}
	cb(samples)
	return true
}

func (f *FakeCapture) Start() error {
	if f.startErr != nil {
		return f.startErr
	}
	f.mu.Lock()
	f.started = true
	f.stopCh = make(chan struct{})
	f.feedDone = make(chan struct{})
	stopCh, feedDone := f.stopCh, f.feedDone
	f.mu.Unlock()

	if len(f.pcm) == 0 {
		close(feedDone)
		return nil
	}
	go f.feed(stopCh, feedDone)
	return nil
}

func (f *FakeCapture) feed(stopCh, done chan struct{}) {
	defer close(done)
	interval := time.Millisecond
	if f.realtime && f.config.SampleRate > 0 {
		interval = time.Duration(fakeFrameSize) * time.Second / time.Duration(f.config.SampleRate)
	}
	silence := make([]float32, fakeFrameSize)
	pos := 0
	for {
		select {
		case <-stopCh:
			return
		case <-time.After(interval):
		}
		if pos < len(f.pcm) {
			end := min(pos+fakeFrameSize, len(f.pcm))
			block := make([]float32, end-pos)
			copy(block, f.pcm[pos:end])
			if f.Emit(block) {
				pos = end
			}
			continue
		}
		f.Emit(silence)
	}
}

func (f *FakeCapture) Stop() {
	f.mu.Lock()
	stopCh, feedDone := f.stopCh, f.feedDone
	f.started = false
	f.mu.Unlock()
	if stopCh == nil {
		return
	}
	select {
	case <-stopCh:
	default:
		close(stopCh)
	}
	<-feedDone
}

func (f *FakeCapture) Close() {
	f.Stop()
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *FakeCapture) Started() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

func (f *FakeCapture) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type FakePlayback struct {
	config Config

	mu       sync.Mutex
	renderer RenderCallback
	started  bool
	closed   bool
}

func (f *FakePlayback) Start() error {
	f.mu.Lock()
	f.started = true
	f.mu.Unlock()
	return nil
}

func (f *FakePlayback) Stop() {
	f.mu.Lock()
	f.started = false
	f.mu.Unlock()
}

func (f *FakePlayback) Close() {
	f.mu.Lock()
	f.started = false
	f.closed = true
	f.mu.Unlock()
}

func (f *FakePlayback) SetRenderer(r RenderCallback) {
	f.mu.Lock()
	f.renderer = r
	f.mu.Unlock()
}

func (f *FakePlayback) ClearRenderer() {
	f.mu.Lock()
	f.renderer = nil
	f.mu.Unlock()
}

// Pull asks the renderer for n samples, as the device's output thread would.
func (f *FakePlayback) Pull(n int) []float32 {
	out := make([]float32, n)
	f.mu.Lock()
	r := f.renderer
	live := f.started
	f.mu.Unlock()
	if r != nil && live {
		r(out)
	}
	return out
}

func (f *FakePlayback) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
