package websocket

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

// State tracks the session connection lifecycle.
type State uint8

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	default:
		return "DISCONNECTED"
	}
}

// Conn is the subset of a websocket connection the session drives.
// *gorilla/websocket.Conn satisfies it; tests supply fakes.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Dialer opens one websocket connection.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

type gorillaDialer struct {
	handshakeTimeout time.Duration
}

// NewDialer returns the default gorilla-backed dialer.
func NewDialer(handshakeTimeout time.Duration) Dialer {
	if handshakeTimeout <= 0 {
		handshakeTimeout = 10 * time.Second
	}
	return &gorillaDialer{handshakeTimeout: handshakeTimeout}
}

func (d *gorillaDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout:  d.handshakeTimeout,
		EnableCompression: true,
	}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, nil
}

// Handler receives session lifecycle and inbound frames.
//
// OnConnected runs on every transition into CONNECTED, first connect and
// reconnect alike. Adapters use it to authenticate, pull their open-orders
// snapshot and subscribe venue channels; returning an error tears the
// connection down and schedules a retry.
//
// Process is invoked for every inbound data frame, strictly in arrival
// order, and may overlap with a still-running OnConnected: the read pump
// is live while the handler reconciles, since some venues answer auth and
// snapshot requests on the socket itself. Compressed binary frames are
// inflated before dispatch.
type Handler interface {
	OnConnected(ctx context.Context, s *Session) error
	Process(ctx context.Context, payload []byte) error
}
