package exception

import "errors"

// WS errors
var (
	ErrWebSocketProtocol     = errors.New("websocket: protocol error")
	ErrWebSocketNotConnected = errors.New("websocket: not connected")
	ErrWebSocketAuthFailed   = errors.New("websocket: authentication failed")
)
