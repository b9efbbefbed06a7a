// Package session owns one realtime voice link at a time: the microphone
// pipeline, the websocket link and the playback schedule, with a start and
// stop lifecycle that tolerates overlapping calls.
package session

import (
	"context"
	"errors"

	"refuge/audio"
	"refuge/encoder"
	"refuge/live"
	"refuge/metrics"
)

type State int

const (
	Idle State = iota
	Starting
	Active
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Active:
		return "active"
	case Stopping:
		return "stopping"
	}
	return "unknown"
}

type (
	Settings = live.Settings
	Voice    = live.Voice
	Mode     = live.Mode
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Level string

const (
	LevelInfo    Level = "info"
	LevelError   Level = "error"
	LevelSuccess Level = "success"
)

// ErrStartCanceled is returned by Start when Stop ran while it was
// acquiring resources.
var ErrStartCanceled = errors.New("session: start canceled by stop")

// Callbacks are invoked without any manager lock held, from the goroutine
// that produced the event. Nil fields are skipped. OnStateChange(true) runs
// inside Start, so it must not call Start itself.
type Callbacks struct {
	OnTranscription func(text string, role Role)
	OnTurnComplete  func(user, assistant string)
	OnLog           func(msg string, level Level)
	OnStateChange   func(active bool)
}

func (c Callbacks) transcription(text string, role Role) {
	if c.OnTranscription != nil {
		c.OnTranscription(text, role)
	}
}

func (c Callbacks) turnComplete(user, assistant string) {
	if c.OnTurnComplete != nil {
		c.OnTurnComplete(user, assistant)
	}
}

func (c Callbacks) log(msg string, level Level) {
	if c.OnLog != nil {
		c.OnLog(msg, level)
	}
}

func (c Callbacks) stateChange(active bool) {
	if c.OnStateChange != nil {
		c.OnStateChange(active)
	}
}

type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// Dialer opens links. *live.Dialer and *live.FakeDialer implement it.
type Dialer interface {
	Validate() error
	Dial(ctx context.Context, s live.Settings) (live.Conn, error)
}

type Config struct {
	Dialer Dialer
	// NewAudio opens an audio context. Each session opens two, one for the
	// microphone and one for playback. Defaults to audio.NewContext.
	NewAudio  func() (audio.Context, error)
	Device    *audio.DeviceInfo
	Callbacks Callbacks
	Logger    Logger
	Metrics   *metrics.Metrics
	Model     string
	// Record, when set, opens a recorder for the outgoing microphone audio
	// of the session with the given id.
	Record func(id string) (encoder.Encoder, error)
}
