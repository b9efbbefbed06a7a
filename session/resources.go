package session

import (
	"refuge/audio"
	"refuge/capture"
	"refuge/encoder"
	"refuge/playback"
)

// resources is the audio bundle of one session. Fields are filled in as
// Start acquires them and released together.
type resources struct {
	input    audio.Context
	capture  *capture.Pipeline
	output   audio.Context
	speaker  *playback.Output
	recorder encoder.Encoder
}

// release tears down whatever was acquired, capture first so no frame
// is produced against a closed input context.
func (r *resources) release(step func(name string, fn func() error)) {
	if r == nil {
		return
	}
	if r.capture != nil {
		step("detach capture", func() error { r.capture.Detach(); return nil })
	}
	if r.input != nil {
		step("close input context", r.input.Close)
	}
	if r.speaker != nil {
		step("close output device", func() error { r.speaker.Close(); return nil })
	}
	if r.output != nil {
		step("close output context", r.output.Close)
	}
	if r.recorder != nil {
		step("close recorder", r.recorder.Close)
	}
}
