package textstore

import (
	"errors"
	"fmt"
)

// Protocol errors. Callers compare with errors.Is; the text store wraps them
// with context.
var (
	// ErrLockConflict is returned when a lock is requested while the
	// document is incompatibly locked, or a call needs a lock that is not
	// held.
	ErrLockConflict = errors.New("document lock conflict")
	// ErrInvalidArgument is returned for malformed ranges, points and flags.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrOutOfRange is returned for offsets past the end of the content.
	ErrOutOfRange = errors.New("offset out of range")
	// ErrNoSelection is returned when the document has no selection.
	ErrNoSelection = errors.New("no selection")
	// ErrLayoutNotReady is returned by rect and hit-test queries while the
	// layout of the queried offsets is stale.
	ErrLayoutNotReady = errors.New("layout not ready")
	// ErrUnavailable is returned when the sink, document or composition a
	// call needs is missing or the store was destroyed.
	ErrUnavailable = errors.New("unavailable")
)

// ErrNoLock is a lock conflict raised by calls made without the lock level
// they need.
var ErrNoLock = fmt.Errorf("%w: required lock not held", ErrLockConflict)
