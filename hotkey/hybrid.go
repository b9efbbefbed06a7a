package hotkey

import (
	"context"
	"sync/atomic"
	"time"
)

type Mode string

const (
	ModeHold   Mode = "hold"
	ModeToggle Mode = "toggle"
)

type Action int

const (
	ActionStart Action = iota
	ActionStop
)

// Event asks the caller to open or close the voice link.
type Event struct {
	Action Action
	Mode   Mode
}

// Hybrid turns one chord into two gestures. A tap opens the link and the
// next tap closes it. Holding past longPress keeps the link open only
// while the chord is held.
type Hybrid struct {
	events chan Event
	toggle atomic.Bool
	done   chan struct{}
}

// NewHybrid runs the controller until ctx ends.
func NewHybrid(ctx context.Context, hk Hotkey, longPress time.Duration) *Hybrid {
	h := &Hybrid{
		events: make(chan Event, 2),
		done:   make(chan struct{}),
	}
	go h.run(ctx, hk, longPress)
	return h
}

func (h *Hybrid) Events() <-chan Event { return h.events }

// IsToggle reports whether the current link was opened by a tap.
func (h *Hybrid) IsToggle() bool { return h.toggle.Load() }

// Done is closed once the controller has exited.
func (h *Hybrid) Done() <-chan struct{} { return h.done }

func (h *Hybrid) emit(ctx context.Context, ev Event) bool {
	select {
	case h.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func wait(ctx context.Context, ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	case <-ctx.Done():
		return false
	}
}

func (h *Hybrid) run(ctx context.Context, hk Hotkey, longPress time.Duration) {
	defer close(h.done)
	for {
		// the link opens on press; hold time only decides how it closes
		if !wait(ctx, hk.Keydown()) {
			return
		}
		h.toggle.Store(false)
		if !h.emit(ctx, Event{Action: ActionStart, Mode: ModeHold}) {
			return
		}

		timer := time.NewTimer(longPress)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if !wait(ctx, hk.Keyup()) {
				return
			}
			if !h.emit(ctx, Event{Action: ActionStop, Mode: ModeHold}) {
				return
			}
			continue
		case <-hk.Keyup():
			timer.Stop()
			h.toggle.Store(true)
		}

		if !wait(ctx, hk.Keydown()) || !wait(ctx, hk.Keyup()) {
			return
		}
		h.toggle.Store(false)
		if !h.emit(ctx, Event{Action: ActionStop, Mode: ModeToggle}) {
			return
		}
	}
}
