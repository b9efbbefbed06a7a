package session

import (
	"context"
	"sync"
)

// guard admits one teardown at a time. Callers that lose the race to
// acquire it return immediately; wait blocks until the holder is done.
type guard struct {
	mu   sync.Mutex
	busy bool
	idle chan struct{}
}

func newGuard() *guard {
	g := &guard{idle: make(chan struct{})}
	close(g.idle)
	return g
}

func (g *guard) acquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.busy {
		return false
	}
	g.busy = true
	g.idle = make(chan struct{})
	return true
}

func (g *guard) release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.busy {
		return
	}
	g.busy = false
	close(g.idle)
}

func (g *guard) held() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.busy
}

func (g *guard) wait(ctx context.Context) error {
	g.mu.Lock()
	idle := g.idle
	g.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
