package live

import (
	"errors"
	"fmt"
)

var (
	ErrMissingAPIKey = errors.New("API key missing")
	// ErrClosed is returned by Recv and SendAudio after a local Close.
	ErrClosed = errors.New("live: connection closed")
)

// ConnectionError reports a failure to open the link or an abnormal close.
type ConnectionError struct {
	Op     string // dial, setup, read, write
	Status int    // HTTP status of a rejected handshake
	Code   int    // websocket close code
	Reason string
	Err    error
}

func (e *ConnectionError) Error() string {
	msg := "live " + e.Op
	if e.Status != 0 {
		msg += fmt.Sprintf(" (http %d)", e.Status)
	}
	if e.Code != 0 {
		msg += fmt.Sprintf(" (close %d %s)", e.Code, e.Reason)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// MessageError is a server frame that could not be parsed. The link is
// still usable.
type MessageError struct {
	Size int
	Err  error
}

func (e *MessageError) Error() string {
	return fmt.Sprintf("malformed %d byte server message: %v", e.Size, e.Err)
}

func (e *MessageError) Unwrap() error { return e.Err }
