package playback

import (
	"sync"
	"sync/atomic"

	"refuge/audio"
)

// Output drives an audio.PlaybackDevice from a Scheduler. Its clock is the
// number of frames the device has pulled, so scheduling follows what was
// actually heard rather than wall time.
type Output struct {
	dev    audio.PlaybackDevice
	rate   int
	frames atomic.Int64

	closeOnce sync.Once
}

func NewOutput(dev audio.PlaybackDevice, sampleRate int) *Output {
	return &Output{dev: dev, rate: sampleRate}
}

func (o *Output) Now() float64 {
	return float64(o.frames.Load()) / float64(o.rate)
}

// Start installs the render callback for sched and starts the device.
func (o *Output) Start(sched *Scheduler) error {
	o.dev.SetRenderer(func(out []float32) {
		sched.Render(out, o.Now(), o.rate)
		for i, v := range out {
			if v > 1 {
				out[i] = 1
			} else if v < -1 {
				out[i] = -1
			}
		}
		o.frames.Add(int64(len(out)))
	})
	return o.dev.Start()
}

// Close stops and releases the device. Safe to call more than once.
func (o *Output) Close() {
	o.closeOnce.Do(func() {
		o.dev.ClearRenderer()
		o.dev.Stop()
		o.dev.Close()
	})
}
