package exception

import "errors"

// General errors
var (
	ErrNilInstance       = errors.New("nil instance")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrMissingCredential = errors.New("missing credential")
)
