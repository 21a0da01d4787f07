package textstore

// maxLayoutRetries is the default bound on idle-turn layout notifications
// sent while the document keeps answering rect queries with ErrLayoutNotReady.
const maxLayoutRetries = 8

// pendingNotifications holds document changes not yet reported to the sink.
type pendingNotifications struct {
	text      TextChange
	hasText   bool
	selection *SelectionChange
	layout    bool
}

// OnTextChanged is called by the document after its text changed.
func (s *TextStore) OnTextChanged(change TextChange) {
	if s.released {
		return
	}
	if s.pending.hasText {
		s.pending.text = s.pending.text.Merge(change)
	} else {
		s.pending.text = change
		s.pending.hasText = true
	}
	s.maybeFlushPendingNotifications()
}

// OnSelectionChanged is called by the document after its selection changed.
// Only the latest selection is kept.
func (s *TextStore) OnSelectionChanged(change SelectionChange) {
	if s.released {
		return
	}
	s.pending.selection = &change
	s.maybeFlushPendingNotifications()
}

// OnLayoutChanged is called by the document after it laid out its text.
func (s *TextStore) OnLayoutChanged() {
	if s.released {
		return
	}
	s.pending.layout = true
	s.maybeFlushPendingNotifications()
}

// OnCompositionEventsHandled is called by a remote document once it applied
// every composition event sent so far.
func (s *TextStore) OnCompositionEventsHandled() {
	if s.released {
		return
	}
	s.awaitingAck = false
	if !s.isReadLocked() && s.cache == cacheIdle {
		s.content = nil
	}
	s.maybeFlushPendingNotifications()
}

// batching reports whether notifications are only recorded for now.
func (s *TextStore) batching() bool {
	return s.cache != cacheIdle
}

// maybeFlushPendingNotifications tells the sink about recorded changes once
// nothing is in progress.
func (s *TextStore) maybeFlushPendingNotifications() {
	if s.released || s.isReadLocked() || s.batching() || s.awaitingAck {
		return
	}

	if d := s.deferred; d != deferNone {
		s.deferred = deferNone
		if err := s.commitCompositionInternal(d == deferCancel); err != nil {
			s.log.Warn("deferred composition commit failed", "discard", d == deferCancel, "error", err)
		}
		if s.released || s.isReadLocked() {
			return
		}
	}

	if s.comp == nil {
		s.content = nil
	}
	s.notifyTextChange()
	s.notifySelectionChange()

	if s.notifyingLayout {
		return
	}
	if s.pending.layout || (s.hasReturnedNoLayout && !s.layoutRetryScheduled) {
		s.pending.layout = false
		s.notifyLayoutChange()
	}
}

// notifyTextChange sends the merged text change. Changes made only by the
// composition are dropped; the service follows those through composition
// updates.
func (s *TextStore) notifyTextChange() {
	if !s.pending.hasText {
		return
	}
	change := s.pending.text
	s.pending.text = TextChange{}
	s.pending.hasText = false
	if change.CausedOnlyByComposition {
		return
	}
	// The selection is rebuilt from the next selection notification.
	s.sel = nil
	if !s.wants(MaskTextChange) {
		return
	}
	s.notifySink(Notification{Kind: NotifyText, Change: change})
}

// notifySelectionChange updates the selection cache from the latest
// document selection and tells the sink if it moved.
func (s *TextStore) notifySelectionChange() {
	change := s.pending.selection
	if change == nil {
		return
	}
	s.pending.selection = nil

	next := selectionState{sel: change.Selection, hasRange: !change.Empty}
	moved := s.sel == nil || *s.sel != next
	s.sel = &next
	if !moved || change.CausedByComposition || !s.wants(MaskSelectionChange) {
		return
	}
	s.notifySink(Notification{Kind: NotifySelection})
}

// notifyLayoutChange tells the sink the layout was recomputed. If a query
// was declined with ErrLayoutNotReady the service is expected to query
// again from the notification; when it still gets no layout a retry is
// posted for the next idle turn.
func (s *TextStore) notifyLayoutChange() {
	returnedNoLayout := s.hasReturnedNoLayout || s.waitingQueryLayout
	s.waitingQueryLayout = returnedNoLayout
	s.hasReturnedNoLayout = false
	if s.content != nil {
		s.content.onLayoutComputed()
	}

	if s.wants(MaskLayoutChange) {
		s.notifyingLayout = true
		s.notifySink(Notification{Kind: NotifyLayout})
		s.notifyingLayout = false
	}

	switch {
	case s.hasReturnedNoLayout:
		s.scheduleLayoutRetry()
	case s.waitingQueryLayout:
		// The service did not query again; stop expecting it to.
		s.waitingQueryLayout = false
	default:
		s.layoutRetries = 0
	}
}

func (s *TextStore) scheduleLayoutRetry() {
	if s.layoutRetryScheduled || s.destroyed {
		return
	}
	if s.layoutRetries >= s.svc.LayoutRetries {
		s.log.Warn("giving up layout notifications", "retries", s.layoutRetries)
		s.hasReturnedNoLayout = false
		s.layoutRetries = 0
		return
	}
	s.layoutRetries++
	s.layoutRetryScheduled = true
	id, registry := s.id, s.svc.Registry
	s.svc.Scheduler.PostIdle(func() {
		if st := registry.Lookup(id); st != nil {
			st.notifyLayoutChangeAgain()
		}
	})
}

func (s *TextStore) notifyLayoutChangeAgain() {
	s.layoutRetryScheduled = false
	if s.destroyed {
		s.hasReturnedNoLayout = false
		s.waitingQueryLayout = false
		return
	}
	if !s.hasReturnedNoLayout {
		return
	}
	// Still locked: the unlock will flush it.
	if s.isReadLocked() || s.batching() {
		return
	}
	s.notifyLayoutChange()
}

func (s *TextStore) notifySink(n Notification) {
	switch n.Kind {
	case NotifyText:
		s.sink.OnTextChange(n.Change)
	case NotifySelection:
		s.sink.OnSelectionChange()
	case NotifyLayout:
		s.sink.OnLayoutChange()
	}
	s.svc.Metrics.Notified(n.Kind.String())
	for _, o := range s.svc.Observers {
		o.Notified(s.id, n)
	}
}
