package websocket

import (
	"bytes"
	"compress/flate"
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/yanun0323/logs"

	"tradecore/pkg/exception"
)

// Option configures a Session.
type Option struct {
	// URL is the websocket endpoint. Ignored when URLFunc is set.
	URL string
	// URLFunc resolves the endpoint before every (re)connect. Venues
	// with expiring listen keys mint a fresh URL here.
	URLFunc func(ctx context.Context) (string, error)

	Dialer  Dialer
	Handler Handler

	// PingInterval is the heartbeat period. Zero disables heartbeats.
	PingInterval time.Duration
	// PingText, when non-empty, is sent as a text frame instead of a
	// websocket ping control frame ("ping"/"pong" venues).
	PingText string
	// PongGrace is how long past a heartbeat the session tolerates
	// silence before forcing a reconnect.
	PongGrace time.Duration

	Backoff Backoff
}

// Session is a reconnecting websocket wrapper. One goroutine owns the
// read loop, so Handler.Process invocations for a session never overlap
// and message ordering is preserved.
type Session struct {
	opt    Option
	state  atomic.Uint32
	cancel context.CancelFunc
	done   chan struct{}

	writeMu sync.Mutex
	conn    Conn
	connMu  sync.RWMutex

	running atomic.Bool
}

// New validates the option set and builds a session.
func New(opt Option) (*Session, error) {
	if opt.Handler == nil {
		return nil, exception.ErrNilInstance
	}
	if opt.URL == "" && opt.URLFunc == nil {
		return nil, exception.ErrInvalidArgument
	}
	if opt.Dialer == nil {
		opt.Dialer = NewDialer(0)
	}
	if opt.PingInterval > 0 && opt.PongGrace <= 0 {
		opt.PongGrace = opt.PingInterval
	}
	return &Session{opt: opt, done: make(chan struct{})}, nil
}

// State returns the current connection state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Start launches the connect/read loop. It returns immediately; the
// loop reconnects until the context is canceled or Close is called.
func (s *Session) Start(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go func() {
		defer close(s.done)
		s.run(ctx)
	}()
}

// Close stops the session and waits for the loop to exit. Idempotent.
func (s *Session) Close() {
	if s == nil || !s.running.Load() {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	<-s.done
}

// SendJSON marshals v and writes it as a text frame.
func (s *Session) SendJSON(v any) error {
	payload, err := sonic.Marshal(v)
	if err != nil {
		return err
	}
	return s.write(websocket.TextMessage, payload)
}

// SendText writes a raw text frame.
func (s *Session) SendText(payload string) error {
	return s.write(websocket.TextMessage, []byte(payload))
}

func (s *Session) write(messageType int, payload []byte) error {
	s.connMu.RLock()
	conn := s.conn
	s.connMu.RUnlock()
	if conn == nil || s.State() != StateConnected {
		return exception.ErrWebSocketNotConnected
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteMessage(messageType, payload)
}

func (s *Session) run(ctx context.Context) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			s.state.Store(uint32(StateDisconnected))
			return
		}

		s.state.Store(uint32(StateConnecting))
		conn, err := s.dial(ctx)
		if err != nil {
			s.state.Store(uint32(StateDisconnected))
			attempt++
			logs.Warnf("websocket dial failed, retrying, attempt: %d, err: %+v", attempt, err)
			s.sleepBackoff(ctx, attempt)
			continue
		}

		s.setConn(conn)
		s.state.Store(uint32(StateConnected))

		// The read pump starts before OnConnected finishes: handlers
		// doing request/response over the socket (JSON-RPC venues) need
		// their replies pumped while they reconcile.
		serveErr := make(chan error, 1)
		go func() { serveErr <- s.serve(ctx, conn) }()

		if err := s.opt.Handler.OnConnected(ctx, s); err != nil {
			logs.Errorf("websocket connected callback failed, err: %+v", err)
			s.teardown(conn)
			<-serveErr
			attempt++
			s.sleepBackoff(ctx, attempt)
			continue
		}

		attempt = 0
		err = <-serveErr
		s.teardown(conn)
		if ctx.Err() != nil {
			return
		}
		attempt++
		logs.Warnf("websocket session ended, reconnecting, err: %+v", err)
		s.sleepBackoff(ctx, attempt)
	}
}

func (s *Session) sleepBackoff(ctx context.Context, attempt int) {
	timer := time.NewTimer(s.opt.Backoff.Next(attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (s *Session) dial(ctx context.Context) (Conn, error) {
	url := s.opt.URL
	if s.opt.URLFunc != nil {
		resolved, err := s.opt.URLFunc(ctx)
		if err != nil {
			return nil, err
		}
		url = resolved
	}
	return s.opt.Dialer.Dial(ctx, url)
}

func (s *Session) setConn(conn Conn) {
	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
}

func (s *Session) teardown(conn Conn) {
	s.state.Store(uint32(StateDisconnected))
	s.setConn(nil)
	_ = conn.Close()
}

// serve drives the heartbeat timer and the serialized read loop until
// the connection dies or the context is canceled.
func (s *Session) serve(ctx context.Context, conn Conn) error {
	readCtx, cancelRead := context.WithCancel(ctx)
	defer cancelRead()

	deadline := func() time.Time {
		if s.opt.PingInterval <= 0 {
			return time.Time{}
		}
		return time.Now().Add(s.opt.PingInterval + s.opt.PongGrace)
	}
	_ = conn.SetReadDeadline(deadline())
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(deadline())
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.readLoop(readCtx, conn, deadline)
	}()

	var heartbeat <-chan time.Time
	if s.opt.PingInterval > 0 {
		ticker := time.NewTicker(s.opt.PingInterval)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		case <-heartbeat:
			if err := s.ping(conn); err != nil {
				return err
			}
		}
	}
}

func (s *Session) ping(conn Conn) error {
	if s.opt.PingText != "" {
		return s.write(websocket.TextMessage, []byte(s.opt.PingText))
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
}

func (s *Session) readLoop(ctx context.Context, conn Conn, deadline func() time.Time) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(deadline())

		switch messageType {
		case websocket.TextMessage:
		case websocket.BinaryMessage:
			payload, err = inflate(payload)
			if err != nil {
				logs.Errorf("websocket inflate binary frame failed, err: %+v", err)
				continue
			}
		default:
			continue
		}

		// A protocol error inside Process skips the frame and keeps the
		// session alive; prior state stays untouched.
		if err := s.opt.Handler.Process(ctx, payload); err != nil {
			logs.Errorf("websocket process message failed, err: %+v", err)
		}
	}
}

// inflate decompresses a raw-deflate frame (no zlib header), the format
// okex-style venues push on their binary channel.
func inflate(payload []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(payload))
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, err
	}
	return out, nil
}
