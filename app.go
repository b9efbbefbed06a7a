package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"refuge/beep"
	"refuge/clipboard"
	"refuge/encoder"
	"refuge/log"
	"refuge/session"
)

var errNothingToCopy = errors.New("no completed turn yet")

// app connects the session manager to the display, chimes and clipboard.
type app struct {
	mgr      *session.Manager
	settings session.Settings
	chimes   *beep.Player
	board    clipboard.Board

	mu       sync.Mutex
	sink     EventSink
	lastTurn [2]string
	turns    chan struct{}
	active   chan bool
}

func newApp(settings session.Settings, chimes *beep.Player, board clipboard.Board) *app {
	return &app{
		settings: settings,
		chimes:   chimes,
		board:    board,
		turns:    make(chan struct{}, 16),
		active:   make(chan bool, 16),
	}
}

// setSink switches where events go. Events before the first sink are dropped.
func (a *app) setSink(s EventSink) {
	a.mu.Lock()
	a.sink = s
	a.mu.Unlock()
}

func (a *app) events() EventSink {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sink
}

func (a *app) callbacks() session.Callbacks {
	return session.Callbacks{
		OnTranscription: func(text string, role session.Role) {
			if s := a.events(); s != nil {
				s.Transcript(text, role)
			}
		},
		OnTurnComplete: func(user, assistant string) {
			a.mu.Lock()
			a.lastTurn = [2]string{user, assistant}
			a.mu.Unlock()
			if s := a.events(); s != nil {
				s.TurnComplete(user, assistant)
			}
			notify(a.turns, struct{}{})
		},
		OnLog: func(msg string, level session.Level) {
			if level == session.LevelError {
				a.chimes.Play(beep.Error)
			}
			if s := a.events(); s != nil {
				s.Log(msg, level)
			}
		},
		OnStateChange: func(active bool) {
			if active {
				a.chimes.Play(beep.Connect)
			} else {
				a.chimes.Play(beep.Disconnect)
			}
			if s := a.events(); s != nil {
				s.LinkState(active)
			}
			notify(a.active, active)
		},
	}
}

func notify[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
	}
}

func (a *app) start(ctx context.Context) error {
	err := a.mgr.Start(ctx, a.settings)
	if errors.Is(err, session.ErrStartCanceled) {
		return nil
	}
	return err
}

func (a *app) stop() { a.mgr.Stop() }

// toggle opens the link when idle and closes it otherwise.
func (a *app) toggle(ctx context.Context) error {
	if a.mgr.State() == session.Idle {
		return a.start(ctx)
	}
	a.stop()
	return nil
}

// copyLast puts the most recent completed turn on the clipboard.
func (a *app) copyLast() error {
	a.mu.Lock()
	user, assistant := a.lastTurn[0], a.lastTurn[1]
	a.mu.Unlock()

	text := clipboard.FormatTurn(user, assistant)
	var err error
	if text == "" {
		err = errNothingToCopy
	} else {
		err = a.board.Copy(text)
	}
	if s := a.events(); s != nil {
		s.Copied(err)
	}
	return err
}

// recorder returns a Config.Record func writing one FLAC file per link
// into dir, or nil when recording is off.
func recorder(dir string) func(id string) (encoder.Encoder, error) {
	if dir == "" {
		return nil
	}
	return func(id string) (encoder.Encoder, error) {
		name := time.Now().Format("20060102-150405") + "-" + id[:8] + ".flac"
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		enc, err := encoder.CreateFile(path)
		if err != nil {
			return nil, err
		}
		log.Infof("recording link %s to %s", id, path)
		return enc, nil
	}
}
