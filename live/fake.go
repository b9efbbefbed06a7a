package live

import (
	"context"
	"io"
	"sync"

	"refuge/codec"
)

// FakeDialer hands out FakeConns. With Gate set, Dial blocks until the
// gate is closed or ctx ends.
type FakeDialer struct {
	ValidateErr error
	DialErr     error
	Gate        chan struct{}

	mu       sync.Mutex
	conns    []*FakeConn
	settings []Settings
	dialing  chan struct{}
}

func (d *FakeDialer) Validate() error { return d.ValidateErr }

func (d *FakeDialer) Dial(ctx context.Context, s Settings) (Conn, error) {
	d.mu.Lock()
	d.settings = append(d.settings, s)
	if d.dialing != nil {
		close(d.dialing)
		d.dialing = nil
	}
	d.mu.Unlock()

	if d.Gate != nil {
		select {
		case <-d.Gate:
		case <-ctx.Done():
			return nil, &ConnectionError{Op: "dial", Err: ctx.Err()}
		}
	}
	if d.DialErr != nil {
		return nil, d.DialErr
	}
	c := NewFakeConn()
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c, nil
}

// Dialing returns a channel closed when the next Dial call begins.
func (d *FakeDialer) Dialing() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dialing == nil {
		d.dialing = make(chan struct{})
	}
	return d.dialing
}

func (d *FakeDialer) Conns() []*FakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*FakeConn(nil), d.conns...)
}

// Last returns the most recent connection, or nil.
func (d *FakeDialer) Last() *FakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func (d *FakeDialer) Settings() []Settings {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Settings(nil), d.settings...)
}

type fakeEvent struct {
	msg *ServerMessage
	err error
}

// FakeConn delivers pushed messages and errors to Recv in order.
type FakeConn struct {
	SendErr error

	events  chan fakeEvent
	closeCh chan struct{}

	mu         sync.Mutex
	sent       []Blob
	closeCalls int
}

func NewFakeConn() *FakeConn {
	return &FakeConn{
		events:  make(chan fakeEvent, 256),
		closeCh: make(chan struct{}),
	}
}

func (c *FakeConn) SendAudio(mimeType, data string) error {
	select {
	case <-c.closeCh:
		return ErrClosed
	default:
	}
	if c.SendErr != nil {
		return c.SendErr
	}
	c.mu.Lock()
	c.sent = append(c.sent, Blob{MIMEType: mimeType, Data: data})
	c.mu.Unlock()
	return nil
}

func (c *FakeConn) Recv() (*ServerMessage, error) {
	select {
	case <-c.closeCh:
		return nil, ErrClosed
	default:
	}
	select {
	case ev := <-c.events:
		return ev.msg, ev.err
	case <-c.closeCh:
		return nil, ErrClosed
	}
}

func (c *FakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCalls++
	if c.closeCalls == 1 {
		close(c.closeCh)
	}
	return nil
}

func (c *FakeConn) Push(msg *ServerMessage) { c.events <- fakeEvent{msg: msg} }

// Fail makes the next Recv return err after pending messages.
func (c *FakeConn) Fail(err error) { c.events <- fakeEvent{err: err} }

// ServerClose simulates a normal close initiated by the server.
func (c *FakeConn) ServerClose() { c.Fail(io.EOF) }

func (c *FakeConn) Sent() []Blob {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Blob(nil), c.sent...)
}

func (c *FakeConn) CloseCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCalls
}

func (c *FakeConn) Closed() bool { return c.CloseCalls() > 0 }

func InputText(text string) *ServerMessage {
	return &ServerMessage{ServerContent: &ServerContent{InputTranscription: &Transcription{Text: text}}}
}

func OutputText(text string) *ServerMessage {
	return &ServerMessage{ServerContent: &ServerContent{OutputTranscription: &Transcription{Text: text}}}
}

// AudioMessage wraps raw 24 kHz PCM16 as a model turn.
func AudioMessage(pcm []byte) *ServerMessage {
	return &ServerMessage{ServerContent: &ServerContent{ModelTurn: &ModelTurn{
		Parts: []Part{{InlineData: &Blob{MIMEType: "audio/pcm;rate=24000", Data: codec.EncodeBinary(pcm)}}},
	}}}
}

func TurnComplete() *ServerMessage {
	return &ServerMessage{ServerContent: &ServerContent{TurnComplete: true}}
}

func Interrupted() *ServerMessage {
	return &ServerMessage{ServerContent: &ServerContent{Interrupted: true}}
}
