package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	DefaultEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	defaultHandshakeTimeout = 15 * time.Second
	writeTimeout            = 5 * time.Second
)

// Conn is an open link. Recv is called from a single goroutine; SendAudio
// and Close may be called from any.
type Conn interface {
	SendAudio(mimeType, data string) error
	Recv() (*ServerMessage, error)
	Close() error
}

type Dialer struct {
	Endpoint         string
	APIKey           string
	Model            string
	SystemPrompt     string
	HandshakeTimeout time.Duration
}

// Validate reports configuration problems that make Dial pointless.
func (d *Dialer) Validate() error {
	if d.APIKey == "" {
		return ErrMissingAPIKey
	}
	return nil
}

func (d *Dialer) endpoint() string {
	if d.Endpoint != "" {
		return d.Endpoint
	}
	return DefaultEndpoint
}

func (d *Dialer) model() string {
	if d.Model != "" {
		return d.Model
	}
	return DefaultModel
}

func (d *Dialer) handshakeTimeout() time.Duration {
	if d.HandshakeTimeout > 0 {
		return d.HandshakeTimeout
	}
	return defaultHandshakeTimeout
}

// Dial opens the websocket, sends the setup for s and returns once the
// server confirms it with setupComplete.
func (d *Dialer) Dial(ctx context.Context, s Settings) (Conn, error) {
	if err := d.Validate(); err != nil {
		return nil, &ConnectionError{Op: "dial", Err: err}
	}
	timeout := d.handshakeTimeout()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ws := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}
	header := http.Header{}
	header.Set("x-goog-api-key", d.APIKey)

	raw, resp, err := ws.DialContext(ctx, d.endpoint(), header)
	if err != nil {
		ce := &ConnectionError{Op: "dial", Err: err}
		if resp != nil {
			ce.Status = resp.StatusCode
			resp.Body.Close()
		}
		return nil, ce
	}

	c := newConn(raw)
	if err := c.writeJSON(clientMessage{Setup: BuildSetup(d.model(), d.SystemPrompt, s)}); err != nil {
		c.Close()
		return nil, &ConnectionError{Op: "setup", Err: err}
	}
	if err := c.awaitSetup(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

type wsConn struct {
	conn *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
}

func newConn(raw *websocket.Conn) *wsConn {
	return &wsConn{conn: raw}
}

func (c *wsConn) awaitSetup(ctx context.Context) error {
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetReadDeadline(deadline)
	}
	// Unblock the read if ctx is canceled before its deadline.
	stop := context.AfterFunc(ctx, func() { c.conn.SetReadDeadline(time.Now()) })
	defer stop()

	for {
		msg, err := c.Recv()
		if err != nil {
			var me *MessageError
			if errors.As(err, &me) {
				continue
			}
			if ctx.Err() != nil {
				return &ConnectionError{Op: "setup", Err: ctx.Err()}
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return &ConnectionError{Op: "setup", Err: context.DeadlineExceeded}
			}
			var ce *ConnectionError
			if errors.As(err, &ce) {
				ce.Op = "setup"
				return ce
			}
			return &ConnectionError{Op: "setup", Err: err}
		}
		if msg.SetupComplete != nil {
			c.conn.SetReadDeadline(time.Time{})
			return nil
		}
	}
}

func (c *wsConn) SendAudio(mimeType, data string) error {
	return c.writeJSON(clientMessage{RealtimeInput: &RealtimeInput{
		Audio: &Blob{MIMEType: mimeType, Data: data},
	}})
}

func (c *wsConn) writeJSON(v any) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}

// Recv blocks for the next server message. A normal close by the server
// yields io.EOF; any other close or read failure a *ConnectionError.
func (c *wsConn) Recv() (*ServerMessage, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		if c.closed.Load() {
			return nil, ErrClosed
		}
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, io.EOF
		}
		ce := &ConnectionError{Op: "read", Err: err}
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) {
			ce.Code = closeErr.Code
			ce.Reason = closeErr.Text
		}
		return nil, ce
	}

	var msg ServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, &MessageError{Size: len(data), Err: err}
	}
	return &msg, nil
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		if cerr := c.conn.Close(); cerr != nil {
			err = fmt.Errorf("close websocket: %w", cerr)
		}
	})
	return err
}
