package main

import (
	"fmt"
	"io"
	"sync"

	"refuge/session"
)

// EventSink abstracts the display layer so the TUI and the headless
// line mode receive the same link events.
type EventSink interface {
	LinkState(active bool)
	Transcript(text string, role session.Role)
	TurnComplete(user, assistant string)
	Log(msg string, level session.Level)
	Copied(err error)
}

// lineSink writes one line per event, for headless and test runs.
type lineSink struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *lineSink) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, format+"\n", args...)
}

func (s *lineSink) LinkState(active bool) {
	if active {
		s.printf("STATE active")
	} else {
		s.printf("STATE idle")
	}
}

func (s *lineSink) Transcript(text string, role session.Role) {
	s.printf("PARTIAL %s %s", role, text)
}

func (s *lineSink) TurnComplete(user, assistant string) {
	s.printf("TURN user=%q assistant=%q", user, assistant)
}

func (s *lineSink) Log(msg string, level session.Level) {
	s.printf("LOG %s %s", level, msg)
}

func (s *lineSink) Copied(err error) {
	if err != nil {
		s.printf("COPY failed: %v", err)
		return
	}
	s.printf("COPY ok")
}
