package exception

import "errors"

var (
	ErrStorageNotFound = errors.New("storage: document not found")
)
