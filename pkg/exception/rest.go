package exception

import "errors"

var (
	ErrRestBadStatus     = errors.New("rest: non-2xx response status")
	ErrRestBodyNotJSON   = errors.New("rest: response body is not json")
	ErrRestResponseError = errors.New("rest: there is an error in response error field")
	ErrRestUnknownMethod = errors.New("rest: unsupported http method")
)
