package exception

import "errors"

var (
	ErrEventNotConnected  = errors.New("event: broker not connected")
	ErrEventFormat        = errors.New("event: malformed envelope")
	ErrEventNilCallback   = errors.New("event: nil callback")
	ErrEventEmptyExchange = errors.New("event: empty exchange name")
)
