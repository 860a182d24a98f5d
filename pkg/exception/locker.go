package exception

import "errors"

var (
	// ErrLockTimeout reports a distributed lock that could not be
	// acquired within the bounded wait. Distinct from transport errors
	// so callers can tell contention from a dead redis.
	ErrLockTimeout  = errors.New("locker: acquire timeout")
	ErrLockNotHeld  = errors.New("locker: lock not held by this owner")
	ErrLockBadOwner = errors.New("locker: empty lock owner token")
)
