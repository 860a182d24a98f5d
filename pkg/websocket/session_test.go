package websocket

import (
	"bytes"
	"compress/flate"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	frames chan fakeFrame

	mu     sync.Mutex
	wrote  [][]byte
	closed bool
}

type fakeFrame struct {
	messageType int
	payload     []byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan fakeFrame, 16)}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	frame, ok := <-c.frames
	if !ok {
		return 0, nil, websocket.ErrCloseSent
	}
	return frame.messageType, frame.payload, nil
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wrote = append(c.wrote, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) WriteControl(int, []byte, time.Time) error { return nil }
func (c *fakeConn) SetReadDeadline(time.Time) error           { return nil }
func (c *fakeConn) SetPongHandler(func(string) error)         {}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.frames)
	}
	return nil
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	dials int
}

func (d *fakeDialer) Dial(context.Context, string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	conn := newFakeConn()
	d.conns = append(d.conns, conn)
	d.dials++
	return conn, nil
}

type recordingHandler struct {
	mu        sync.Mutex
	connected int
	payloads  []string
	onConnect func(ctx context.Context, s *Session) error
}

func (h *recordingHandler) OnConnected(ctx context.Context, s *Session) error {
	h.mu.Lock()
	h.connected++
	h.mu.Unlock()
	if h.onConnect != nil {
		return h.onConnect(ctx, s)
	}
	return nil
}

func (h *recordingHandler) Process(_ context.Context, payload []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.payloads = append(h.payloads, string(payload))
	return nil
}

func (h *recordingHandler) snapshot() (int, []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connected, append([]string(nil), h.payloads...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestSessionProcessesFramesInOrder(t *testing.T) {
	dialer := &fakeDialer{}
	handler := &recordingHandler{}
	s, err := New(Option{
		URL:     "wss://example.test/ws",
		Dialer:  dialer,
		Handler: handler,
		Backoff: Backoff{Min: time.Millisecond, Max: time.Millisecond},
	})
	require.NoError(t, err)

	s.Start(context.Background())
	defer s.Close()

	waitFor(t, func() bool {
		dialer.mu.Lock()
		defer dialer.mu.Unlock()
		return len(dialer.conns) == 1
	})
	conn := dialer.conns[0]
	for _, msg := range []string{"one", "two", "three"} {
		conn.frames <- fakeFrame{websocket.TextMessage, []byte(msg)}
	}

	waitFor(t, func() bool {
		_, payloads := handler.snapshot()
		return len(payloads) == 3
	})
	connected, payloads := handler.snapshot()
	assert.Equal(t, 1, connected)
	assert.Equal(t, []string{"one", "two", "three"}, payloads)
	assert.Equal(t, StateConnected, s.State())
}

func TestSessionReconnectsAndRerunsConnectedCallback(t *testing.T) {
	dialer := &fakeDialer{}
	handler := &recordingHandler{}
	s, err := New(Option{
		URL:     "wss://example.test/ws",
		Dialer:  dialer,
		Handler: handler,
		Backoff: Backoff{Min: time.Millisecond, Max: time.Millisecond},
	})
	require.NoError(t, err)

	s.Start(context.Background())
	defer s.Close()

	waitFor(t, func() bool {
		connected, _ := handler.snapshot()
		return connected == 1
	})

	// Kill the first connection; the loop must dial again and rerun
	// the connected callback before streaming resumes.
	dialer.mu.Lock()
	first := dialer.conns[0]
	dialer.mu.Unlock()
	_ = first.Close()

	waitFor(t, func() bool {
		connected, _ := handler.snapshot()
		return connected == 2
	})
	dialer.mu.Lock()
	dials := dialer.dials
	dialer.mu.Unlock()
	assert.GreaterOrEqual(t, dials, 2)
}

func TestSessionRetriesWhenConnectedCallbackFails(t *testing.T) {
	dialer := &fakeDialer{}
	handler := &recordingHandler{}
	failures := 2
	handler.onConnect = func(context.Context, *Session) error {
		if failures > 0 {
			failures--
			return assert.AnError
		}
		return nil
	}
	s, err := New(Option{
		URL:     "wss://example.test/ws",
		Dialer:  dialer,
		Handler: handler,
		Backoff: Backoff{Min: time.Millisecond, Max: time.Millisecond},
	})
	require.NoError(t, err)

	s.Start(context.Background())
	defer s.Close()

	waitFor(t, func() bool {
		connected, _ := handler.snapshot()
		return connected == 3
	})
	assert.Equal(t, StateConnected, s.State())
}

func TestSessionInflatesBinaryFrames(t *testing.T) {
	dialer := &fakeDialer{}
	handler := &recordingHandler{}
	s, err := New(Option{
		URL:     "wss://example.test/ws",
		Dialer:  dialer,
		Handler: handler,
		Backoff: Backoff{Min: time.Millisecond, Max: time.Millisecond},
	})
	require.NoError(t, err)

	s.Start(context.Background())
	defer s.Close()

	waitFor(t, func() bool {
		dialer.mu.Lock()
		defer dialer.mu.Unlock()
		return len(dialer.conns) == 1
	})

	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	require.NoError(t, err)
	_, err = w.Write([]byte(`{"table":"spot/order"}`))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	dialer.conns[0].frames <- fakeFrame{websocket.BinaryMessage, buf.Bytes()}

	waitFor(t, func() bool {
		_, payloads := handler.snapshot()
		return len(payloads) == 1
	})
	_, payloads := handler.snapshot()
	assert.Equal(t, `{"table":"spot/order"}`, payloads[0])
}

func TestSendTextRequiresConnection(t *testing.T) {
	handler := &recordingHandler{}
	s, err := New(Option{URL: "wss://example.test/ws", Handler: handler})
	require.NoError(t, err)
	assert.Error(t, s.SendText("ping"))
}

func TestNewRejectsBadOptions(t *testing.T) {
	if _, err := New(Option{URL: "wss://x"}); err == nil {
		t.Fatal("expected error for nil handler")
	}
	if _, err := New(Option{Handler: &recordingHandler{}}); err == nil {
		t.Fatal("expected error for missing url")
	}
}
