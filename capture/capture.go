// Package capture turns microphone audio into fixed-size PCM16 frames and
// forwards them to the live link from a single writer goroutine.
package capture

import (
	"fmt"
	"sync"
	"sync/atomic"

	"refuge/audio"
	"refuge/codec"
	"refuge/encoder"
	"refuge/metrics"
)

const (
	SampleRate = 16000
	FrameSize  = 4096
	MIMEType   = "audio/pcm;rate=16000"
	QueueSize  = 32
)

// Sink receives encoded frames. live.Conn satisfies it.
type Sink interface {
	SendAudio(mimeType, data string) error
}

type Logger interface {
	Debugf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any) {}

type Frame struct {
	MIMEType string
	Data     string // base64 PCM16
	samples  []int16
}

// SendError is one frame the sink refused. It is logged, never raised.
type SendError struct {
	Err error
}

func (e *SendError) Error() string { return fmt.Sprintf("send audio frame: %v", e.Err) }

func (e *SendError) Unwrap() error { return e.Err }

type Options struct {
	Tap     encoder.Encoder // receives every forwarded frame
	Metrics *metrics.Metrics
	Logger  Logger
}

type Pipeline struct {
	dev  audio.CaptureDevice
	opts Options

	live func() bool

	mu       sync.Mutex
	pending  []float32
	queue    chan Frame
	done     chan struct{}
	attached bool
	detached bool

	detachOnce sync.Once

	sent     atomic.Int64
	dropped  atomic.Int64
	sendErrs atomic.Int64
}

// Open acquires and starts the microphone. Samples are discarded until
// Attach. Failures are *audio.PermissionError or *audio.DeviceError.
func Open(ctx audio.Context, dev *audio.DeviceInfo, opts Options) (*Pipeline, error) {
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}
	d, err := ctx.NewCapture(dev, audio.Config{SampleRate: SampleRate, Channels: 1})
	if err != nil {
		return nil, audio.Classify("open microphone", err)
	}
	if err := d.Start(); err != nil {
		d.Close()
		return nil, audio.Classify("start microphone", err)
	}
	return &Pipeline{dev: d, opts: opts}, nil
}

func (p *Pipeline) DeviceName() string { return p.dev.DeviceName() }

// Attach starts framing samples and forwarding them to sink while live
// reports true. It does nothing after Detach or when already attached.
func (p *Pipeline) Attach(sink Sink, live func() bool) {
	p.mu.Lock()
	if p.attached || p.detached {
		p.mu.Unlock()
		return
	}
	p.attached = true
	p.live = live
	p.queue = make(chan Frame, QueueSize)
	p.done = make(chan struct{})
	queue, done := p.queue, p.done
	p.mu.Unlock()

	go p.writer(sink, live, queue, done)
	p.dev.SetCallback(p.process)
}

// process frames samples captured while live and queues them for the
// writer. Samples captured while not live are discarded, never buffered.
func (p *Pipeline) process(samples []float32) {
	p.mu.Lock()
	live := p.live
	p.mu.Unlock()
	if live == nil || !live() {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.detached || p.queue == nil {
		return
	}

	p.pending = append(p.pending, samples...)
	for len(p.pending) >= FrameSize {
		pcm := codec.FloatToPCM16(p.pending[:FrameSize])
		n := copy(p.pending, p.pending[FrameSize:])
		p.pending = p.pending[:n]

		f := Frame{MIMEType: MIMEType, Data: codec.EncodeBinary(pcm), samples: codec.Int16s(pcm)}
		select {
		case p.queue <- f:
		default:
			p.dropped.Add(1)
			p.opts.Metrics.FrameDropped()
			p.opts.Logger.Debugf("capture queue full, dropping frame")
		}
	}
}

func (p *Pipeline) writer(sink Sink, live func() bool, queue <-chan Frame, done chan<- struct{}) {
	defer close(done)
	for f := range queue {
		if !live() {
			continue
		}
		if err := sink.SendAudio(f.MIMEType, f.Data); err != nil {
			p.sendErrs.Add(1)
			p.opts.Metrics.SendError()
			p.opts.Logger.Debugf("%v", &SendError{Err: err})
			continue
		}
		p.sent.Add(1)
		p.opts.Metrics.FrameSent()
		if p.opts.Tap != nil {
			if err := p.opts.Tap.EncodeBlock(f.samples); err != nil {
				p.opts.Logger.Debugf("record frame: %v", err)
			}
		}
	}
}

// Detach disconnects the frame processor, drains and joins the writer,
// then stops and releases the microphone. Safe to call more than once.
func (p *Pipeline) Detach() {
	p.detachOnce.Do(func() {
		p.dev.ClearCallback()

		p.mu.Lock()
		p.detached = true
		p.pending = nil
		if p.queue != nil {
			close(p.queue)
		}
		done := p.done
		p.mu.Unlock()

		if done != nil {
			<-done
		}
		p.dev.Stop()
		p.dev.Close()
	})
}

func (p *Pipeline) Sent() int       { return int(p.sent.Load()) }
func (p *Pipeline) Dropped() int    { return int(p.dropped.Load()) }
func (p *Pipeline) SendErrors() int { return int(p.sendErrs.Load()) }
