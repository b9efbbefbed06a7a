// Package playback schedules decoded response audio back to back on the
// output clock and mixes it into the output device.
package playback

import (
	"math"
	"sync"

	"refuge/codec"
)

// Clock reports the current output time in seconds.
type Clock interface {
	Now() float64
}

// Segment is one buffer placed on the output timeline.
type Segment struct {
	Start float64
	buf   *codec.Buffer
	done  chan struct{}
	once  sync.Once
}

func (s *Segment) End() float64 { return s.Start + s.buf.Duration() }

// Done is closed when the segment finished playing or was discarded.
func (s *Segment) Done() <-chan struct{} { return s.done }

func (s *Segment) finish() { s.once.Do(func() { close(s.done) }) }

// Scheduler keeps consecutive segments gapless and in arrival order.
// The cursor is the end time of the last scheduled segment; it only moves
// forward until Interrupt resets it to zero.
type Scheduler struct {
	mu     sync.Mutex
	clock  Clock
	cursor float64
	active []*Segment
}

func NewScheduler(clock Clock) *Scheduler {
	return &Scheduler{clock: clock}
}

// SetClock rebinds the scheduler to a new output. A nil clock reads as zero.
func (s *Scheduler) SetClock(clock Clock) {
	s.mu.Lock()
	s.clock = clock
	s.mu.Unlock()
}

func (s *Scheduler) now() float64 {
	if s.clock == nil {
		return 0
	}
	return s.clock.Now()
}

// Schedule places buf at max(cursor, now) and advances the cursor past it.
func (s *Scheduler) Schedule(buf *codec.Buffer) *Segment {
	if buf == nil {
		buf = &codec.Buffer{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	start := math.Max(s.cursor, s.now())
	seg := &Segment{Start: start, buf: buf, done: make(chan struct{})}
	s.cursor = start + buf.Duration()
	s.active = append(s.active, seg)
	return seg
}

// Interrupt discards every scheduled segment and resets the cursor.
// It returns the number of segments that were cut off.
func (s *Scheduler) Interrupt() int {
	s.mu.Lock()
	active := s.active
	s.active = nil
	s.cursor = 0
	s.mu.Unlock()

	for _, seg := range active {
		seg.finish()
	}
	return len(active)
}

func (s *Scheduler) Cursor() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Starts returns the start times of the active segments in schedule order.
func (s *Scheduler) Starts() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]float64, len(s.active))
	for i, seg := range s.active {
		out[i] = seg.Start
	}
	return out
}

// Render adds the active segments overlapping [at, at+len(dst)/sampleRate)
// into dst and retires the ones that end inside the window. Multi-channel
// segments are downmixed to mono.
func (s *Scheduler) Render(dst []float32, at float64, sampleRate int) {
	if sampleRate <= 0 || len(dst) == 0 {
		return
	}
	end := at + float64(len(dst))/float64(sampleRate)

	s.mu.Lock()
	var finished []*Segment
	kept := s.active[:0]
	for _, seg := range s.active {
		if seg.Start < end {
			mix(dst, seg, at, sampleRate)
		}
		if seg.End() <= end {
			finished = append(finished, seg)
			continue
		}
		kept = append(kept, seg)
	}
	clear(s.active[len(kept):])
	s.active = kept
	s.mu.Unlock()

	for _, seg := range finished {
		seg.finish()
	}
}

func mix(dst []float32, seg *Segment, at float64, sampleRate int) {
	frames := seg.buf.Frames()
	if frames == 0 {
		return
	}
	chans := seg.buf.Channels
	ratio := float64(seg.buf.SampleRate) / float64(sampleRate)
	// Index of dst[0] in the segment's own sample grid.
	origin := (at - seg.Start) * float64(seg.buf.SampleRate)
	for i := range dst {
		pos := origin + float64(i)*ratio
		if pos < -1e-6 {
			continue
		}
		j := int(math.Round(pos))
		if j >= frames {
			break
		}
		var v float32
		for _, ch := range chans {
			v += ch[j]
		}
		dst[i] += v / float32(len(chans))
	}
}
