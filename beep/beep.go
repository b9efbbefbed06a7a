// Package beep plays short chimes when the voice link changes state.
package beep

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"refuge/audio"
)

const sampleRate = 24000

type Chime int

const (
	Connect Chime = iota
	Disconnect
	Error
)

const (
	// Connect: high pitch, short
	connectFreq   = 1200
	connectVolume = 0.5
	connectDecay  = 60

	// Disconnect: medium pitch, slightly longer
	disconnectFreq   = 900
	disconnectVolume = 0.5
	disconnectDecay  = 40

	// Error: low pitch double-beep
	errorFreq   = 350
	errorVolume = 0.6
	errorDecay  = 30
)

var (
	sounds    map[Chime][]float32
	soundOnce sync.Once
)

func initSound() {
	sounds = map[Chime][]float32{
		Connect:    generateTick(sampleRate, connectFreq, 0.2, connectVolume, connectDecay),
		Disconnect: generateTick(sampleRate, disconnectFreq, 0.2, disconnectVolume, disconnectDecay),
		Error:      generateDoubleBeep(sampleRate, errorFreq, 0.08, 0.05, errorVolume, errorDecay),
	}
}

// Samples returns the mono waveform of c at 24 kHz.
func Samples(c Chime) []float32 {
	soundOnce.Do(initSound)
	return sounds[c]
}

func generateTick(sampleRate int, freq, duration, volume, decay float64) []float32 {
	n := int(float64(sampleRate) * duration)
	samples := make([]float32, n)
	for i := range samples {
		t := float64(i) / float64(sampleRate)
		envelope := math.Exp(-t * decay)
		samples[i] = float32(math.Sin(2*math.Pi*freq*t) * volume * envelope)
	}
	return samples
}

func generateDoubleBeep(sampleRate int, freq, beepDur, gapDur, volume, decay float64) []float32 {
	beep := generateTick(sampleRate, freq, beepDur, volume, decay)
	gap := make([]float32, int(float64(sampleRate)*gapDur))
	result := make([]float32, 0, len(beep)*2+len(gap))
	result = append(result, beep...)
	result = append(result, gap...)
	result = append(result, beep...)
	return result
}

// Player opens a short-lived playback device per chime so it never
// competes with the session's own output stream.
type Player struct {
	open     func() (audio.Context, error)
	disabled atomic.Bool
	// Grace is added to the chime length before the device is closed anyway.
	Grace time.Duration
}

func NewPlayer(open func() (audio.Context, error)) *Player {
	if open == nil {
		open = audio.NewContext
	}
	return &Player{open: open, Grace: 300 * time.Millisecond}
}

func (p *Player) Disable() { p.disabled.Store(true) }

// Play starts c in the background. The returned channel is closed once the
// device has been released.
func (p *Player) Play(c Chime) <-chan struct{} {
	done := make(chan struct{})
	if p == nil || p.disabled.Load() {
		close(done)
		return done
	}
	go func() {
		defer close(done)
		p.play(Samples(c))
	}()
	return done
}

func (p *Player) play(samples []float32) {
	ctx, err := p.open()
	if err != nil {
		return
	}
	defer ctx.Close()

	dev, err := ctx.NewPlayback(audio.Config{SampleRate: sampleRate, Channels: 1})
	if err != nil {
		return
	}
	defer dev.Close()

	var pos int
	drained := make(chan struct{})
	var once sync.Once
	dev.SetRenderer(func(buf []float32) {
		n := copy(buf, samples[min(pos, len(samples)):])
		pos += n
		if pos >= len(samples) {
			once.Do(func() { close(drained) })
		}
	})
	defer dev.ClearRenderer()
	if err := dev.Start(); err != nil {
		return
	}
	defer dev.Stop()

	length := time.Duration(len(samples)) * time.Second / sampleRate
	select {
	case <-drained:
	case <-time.After(length + p.Grace):
	}
}
