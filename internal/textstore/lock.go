package textstore

import "fmt"

// LockLevel is the access a lock session grants.
type LockLevel uint8

const (
	LockNone LockLevel = iota
	LockRead
	LockReadWrite
)

// String returns the level name.
func (l LockLevel) String() string {
	switch l {
	case LockRead:
		return "read"
	case LockReadWrite:
		return "read-write"
	default:
		return "none"
	}
}

// LockFlags is a lock request.
type LockFlags struct {
	Level LockLevel
	// Async lets a read-write request wait for the current read session to
	// end instead of failing.
	Async bool
}

// LockStatus says how a successful request was served.
type LockStatus uint8

const (
	// LockGranted means the session ran before RequestLock returned.
	LockGranted LockStatus = iota
	// LockQueued means the session runs when the current one ends.
	LockQueued
)

// RequestLock runs a lock session. When the document is unlocked the sink's
// OnLockGranted runs synchronously and its error is returned. While a read
// session is active a single asynchronous read-write upgrade can be queued;
// every other overlapping request fails with ErrLockConflict.
func (s *TextStore) RequestLock(flags LockFlags) (LockStatus, error) {
	if flags.Level != LockRead && flags.Level != LockReadWrite {
		return 0, fmt.Errorf("%w: lock level %s", ErrInvalidArgument, flags.Level)
	}
	if s.sink == nil {
		s.svc.Metrics.LockRejected()
		return 0, fmt.Errorf("%w: no sink advised", ErrUnavailable)
	}
	// A destroyed store still serves sessions that need to finish a commit
	// from what is cached.
	if s.destroyed && (s.content == nil || s.sel == nil) {
		s.svc.Metrics.LockRejected()
		return 0, fmt.Errorf("%w: store destroyed", ErrUnavailable)
	}

	if s.lock == LockNone {
		return LockGranted, s.runLockSession(flags.Level)
	}

	if s.lock == LockRead && flags.Level == LockReadWrite && flags.Async {
		if s.queuedLock != LockNone {
			s.svc.Metrics.LockRejected()
			return 0, fmt.Errorf("%w: an upgrade is already queued", ErrLockConflict)
		}
		s.queuedLock = LockReadWrite
		s.svc.Metrics.LockQueued()
		s.log.Debug("lock upgrade queued")
		return LockQueued, nil
	}

	s.svc.Metrics.LockRejected()
	s.log.Debug("lock request rejected", "held", s.lock, "requested", flags.Level, "async", flags.Async)
	return 0, fmt.Errorf("%w: %s lock held", ErrLockConflict, s.lock)
}

func (s *TextStore) runLockSession(level LockLevel) error {
	sink := s.sink
	s.lock = level
	s.svc.Metrics.LockGranted()
	err := sink.OnLockGranted(level)
	s.didLockGranted()

	for s.queuedLock != LockNone {
		s.lock = s.queuedLock
		s.queuedLock = LockNone
		s.svc.Metrics.LockGranted()
		if s.sink != nil {
			if qerr := s.sink.OnLockGranted(s.lock); qerr != nil {
				s.log.Warn("queued lock session failed", "level", s.lock, "error", qerr)
			}
		}
		s.didLockGranted()
	}

	s.lock = LockNone
	if s.destroyed {
		s.pending.selection = nil
		s.hasReturnedNoLayout = false
	}
	s.maybeFlushPendingNotifications()
	s.maybeRelease()
	return err
}

// didLockGranted runs after each session. Actions are only sent to the
// document after a read-write session; a read session leaves them queued.
func (s *TextStore) didLockGranted() {
	if s.lock != LockReadWrite {
		return
	}
	s.completeLastActionIfIncomplete()
	s.flushPendingActions()
}

func (s *TextStore) isReadLocked() bool {
	return s.lock != LockNone
}

func (s *TextStore) isReadWriteLocked() bool {
	return s.lock == LockReadWrite
}

// canRecord reports whether actions may be appended right now.
func (s *TextStore) canRecord() bool {
	return s.lock != LockNone || s.recordingWithoutLock
}
