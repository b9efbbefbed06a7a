package audio

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"
)

// PermissionError means the platform refused access to the microphone.
type PermissionError struct {
	Op  string
	Err error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("%s: microphone access denied: %v", e.Op, e.Err)
}

func (e *PermissionError) Unwrap() error { return e.Err }

// DeviceError means the audio device or server could not be opened.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// ErrNoDevice is returned when no capture device is present.
var ErrNoDevice = errors.New("no capture device available")

// Classify wraps err as a *PermissionError or *DeviceError unless it
// already is one.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PermissionError
	var de *DeviceError
	if errors.As(err, &pe) || errors.As(err, &de) {
		return err
	}
	if errors.Is(err, fs.ErrPermission) || errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EPERM) {
		return &PermissionError{Op: op, Err: err}
	}
	return &DeviceError{Op: op, Err: err}
}
