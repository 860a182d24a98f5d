package exception

import "errors"

var (
	ErrOrderUnsupportedAction   = errors.New("order: unsupported action")
	ErrOrderUnsupportedType     = errors.New("order: unsupported type")
	ErrOrderUnknownStatus       = errors.New("order: unknown venue status")
	ErrOrderInvalidOrderNo      = errors.New("order: invalid order no")
	ErrOrderUnsupportedPlatform = errors.New("order: unsupported platform")
)
