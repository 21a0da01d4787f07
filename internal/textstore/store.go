// Package textstore adapts an editable document to an input-method service.
//
// A TextStore answers the service's lock, query and edit requests from a
// cached copy of the document, records the resulting composition and
// selection changes as pending actions, and replays them to the document
// once the service releases its lock. Changes reported back by the document
// are batched into text, selection and layout notifications for the
// service.
//
// A TextStore is not safe for concurrent use. Every call, including the
// document's and the service's callbacks, happens on one thread and may
// re-enter the store.
package textstore

import (
	"fmt"
	"log/slog"

	"gioui.org/io/key"

	"tsfbridge/internal/mouse"
)

type deferredCommit uint8

const (
	deferNone deferredCommit = iota
	deferCommit
	deferCancel
)

// TextStore is the adapter between one document and the input service.
type TextStore struct {
	id  StoreID
	doc Document
	ctx InputContext
	svc *Services
	log *slog.Logger

	sink     Sink
	sinkMask SinkMask

	lock                 LockLevel
	queuedLock           LockLevel
	recordingWithoutLock bool

	cache   cacheState
	content *content
	partial *content
	sel     *selectionState
	comp    *composition
	actions []PendingAction

	pending     pendingNotifications
	awaitingAck bool
	deferred    deferredCommit

	hasReturnedNoLayout  bool
	waitingQueryLayout   bool
	notifyingLayout      bool
	layoutRetryScheduled bool
	layoutRetries        int

	keys keyState

	mouse mouse.Registry
	attrs InputAttributes

	destroyed bool
	released  bool
}

type keyState struct {
	depth     int
	current   *key.Event
	forwarded bool
}

// New creates a store for doc. ctx may be nil when the service offers no
// input context; svc may be nil to use defaults.
func New(doc Document, ctx InputContext, svc *Services) (*TextStore, error) {
	if doc == nil {
		return nil, fmt.Errorf("%w: nil document", ErrInvalidArgument)
	}
	svc = svc.withDefaults()
	s := &TextStore{
		doc: doc,
		ctx: ctx,
		svc: svc,
	}
	s.id = svc.Registry.register(s)
	s.log = svc.Logger.With(slog.Uint64("store", uint64(s.id)))
	svc.Metrics.StoreCreated()
	s.log.Debug("text store created", "remote", doc.Remote())
	return s, nil
}

// ID returns the store's registry ID.
func (s *TextStore) ID() StoreID {
	return s.id
}

// AdviseSink installs the service's sink. Advising the installed sink again
// only updates its mask.
func (s *TextStore) AdviseSink(sink Sink, mask SinkMask) error {
	if sink == nil {
		return fmt.Errorf("%w: nil sink", ErrInvalidArgument)
	}
	if s.released {
		return ErrUnavailable
	}
	if s.sink != nil && s.sink != sink {
		return fmt.Errorf("%w: a sink is already advised", ErrInvalidArgument)
	}
	s.sink = sink
	s.sinkMask = mask
	return nil
}

// UnadviseSink removes the sink installed by AdviseSink.
func (s *TextStore) UnadviseSink(sink Sink) error {
	if s.sink == nil || s.sink != sink {
		return fmt.Errorf("%w: sink is not advised", ErrInvalidArgument)
	}
	s.sink = nil
	s.sinkMask = 0
	return nil
}

func (s *TextStore) wants(mask SinkMask) bool {
	return s.sink != nil && s.sinkMask&mask != 0
}

// Destroy commits any composition and tears the store down. Teardown waits
// until the current lock session and raw key handling have finished.
func (s *TextStore) Destroy() {
	if s.destroyed {
		return
	}
	s.log.Debug("destroying text store", "locked", s.lock != LockNone, "key_depth", s.keys.depth)
	if s.comp != nil {
		if err := s.CommitComposition(false); err != nil {
			s.log.Warn("commit on destroy failed", "error", err)
		}
	}
	s.destroyed = true
	s.maybeRelease()
}

// Destroyed reports whether Destroy was called.
func (s *TextStore) Destroyed() bool {
	return s.destroyed
}

func (s *TextStore) maybeRelease() {
	if !s.destroyed || s.released || s.lock != LockNone || s.keys.depth > 0 {
		return
	}
	s.released = true
	s.svc.Registry.unregister(s.id)
	s.sink = nil
	s.mouse.Clear()
	s.content = nil
	s.sel = nil
	s.comp = nil
	s.actions = nil
	s.pending = pendingNotifications{}
	s.hasReturnedNoLayout = false
	s.waitingQueryLayout = false
	s.svc.Metrics.StoreReleased()
	s.log.Debug("text store released")
}
