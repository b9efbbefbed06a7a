package encoder

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"
)

type FlacEncoder struct {
	enc         *flac.Encoder
	file        *os.File
	totalFrames uint64
	closed      bool
	mu          sync.Mutex
}

// NewFlac encodes into w. When w is also an io.Seeker the stream header
// is rewritten with the final sample count on Close.
func NewFlac(w io.Writer) (*FlacEncoder, error) {
	info := &meta.StreamInfo{
		BlockSizeMin:  16,
		BlockSizeMax:  BlockSize,
		SampleRate:    SampleRate,
		NChannels:     Channels,
		BitsPerSample: BitsPerSample,
	}
	enc, err := flac.NewEncoder(w, info)
	if err != nil {
		return nil, fmt.Errorf("creating flac encoder: %w", err)
	}
	enc.EnablePredictionAnalysis(true)
	return &FlacEncoder{enc: enc}, nil
}

// CreateFile records into a new file at path, replacing any existing one.
func CreateFile(path string) (*FlacEncoder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating recording: %w", err)
	}
	e, err := NewFlac(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	e.file = f
	return e, nil
}

func (e *FlacEncoder) EncodeBlock(block []int16) error {
	if len(block) == 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return fmt.Errorf("flac encoder closed")
	}

	for len(block) > 0 {
		n := min(len(block), BlockSize)
		if err := e.writeFrame(block[:n]); err != nil {
			return err
		}
		block = block[n:]
	}
	return nil
}

func (e *FlacEncoder) writeFrame(block []int16) error {
	samples := make([]int32, len(block))
	for i, s := range block {
		samples[i] = int32(s)
	}
	f := &frame.Frame{
		Header: frame.Header{
			BlockSize:     uint16(len(block)),
			SampleRate:    SampleRate,
			Channels:      frame.ChannelsMono,
			BitsPerSample: BitsPerSample,
		},
		Subframes: []*frame.Subframe{{
			SubHeader: frame.SubHeader{Pred: frame.PredVerbatim},
			Samples:   samples,
			NSamples:  len(block),
		}},
	}
	if err := e.enc.WriteFrame(f); err != nil {
		return fmt.Errorf("writing flac frame: %w", err)
	}
	e.totalFrames += uint64(len(block))
	return nil
}

// Close flushes the stream and closes the file opened by CreateFile.
// Calls after the first are no-ops.
func (e *FlacEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	err := e.enc.Close()
	if e.file != nil {
		// flac.Encoder may already have closed it.
		if cerr := e.file.Close(); err == nil && !errors.Is(cerr, os.ErrClosed) {
			err = cerr
		}
	}
	return err
}

func (e *FlacEncoder) TotalFrames() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalFrames
}

func (e *FlacEncoder) Duration() time.Duration {
	return time.Duration(e.TotalFrames()) * time.Second / SampleRate
}
