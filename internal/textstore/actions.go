package textstore

import (
	"errors"
	"fmt"
	"time"

	"gioui.org/io/key"

	"tsfbridge/internal/acp"
)

// ActionKind tags a PendingAction.
type ActionKind uint8

const (
	ActionCompositionStart ActionKind = iota
	ActionCompositionUpdate
	ActionCompositionEnd
	ActionSetSelection
	ActionForwardKey
)

var actionKindNames = [...]string{
	ActionCompositionStart:  "composition-start",
	ActionCompositionUpdate: "composition-update",
	ActionCompositionEnd:    "composition-end",
	ActionSetSelection:      "set-selection",
	ActionForwardKey:        "forward-key",
}

// String returns the kind name.
func (k ActionKind) String() string {
	if int(k) < len(actionKindNames) {
		return actionKindNames[k]
	}
	return "unknown"
}

// PendingAction is a change recorded during a lock session and replayed to
// the document when the session ends. Which fields are meaningful depends on
// Kind:
//
//	CompositionStart   Offset, Length, Data (text replaced), AdjustSelection
//	CompositionUpdate  Data (composition string), Ranges, Incomplete
//	CompositionEnd     Offset, Data (committed string)
//	SetSelection       Offset, Length, Reversed
//	ForwardKey         Key
type PendingAction struct {
	Kind ActionKind

	Offset int
	Length int
	Data   string

	Ranges     []StyledRange
	Incomplete bool

	AdjustSelection bool
	Reversed        bool

	Key key.Event
}

// Range returns [Offset, Offset+Length).
func (a PendingAction) Range() acp.Range {
	return acp.Range{Start: a.Offset, End: a.Offset + a.Length}
}

// PendingActions returns a copy of the queued actions.
func (s *TextStore) PendingActions() []PendingAction {
	return append([]PendingAction(nil), s.actions...)
}

// flushPendingActions replays the queue to the document in order and clears
// it. If the document goes away mid-way the rest is dropped.
func (s *TextStore) flushPendingActions() {
	if s.cache == cacheFlushing || len(s.actions) == 0 || s.released {
		return
	}
	prev := s.cache
	s.cache = cacheFlushing
	defer func() { s.cache = prev }()

	actions := s.actions
	s.actions = nil
	started := time.Now()
	sent, dropped := 0, 0
	updated, composed := false, false

	for i, a := range actions {
		err := s.dispatch(a)
		for _, o := range s.svc.Observers {
			o.ActionFlushed(s.id, a, err)
		}
		if errors.Is(err, ErrUnavailable) {
			dropped = len(actions) - i
			s.log.Warn("document unavailable during flush", "dropped", dropped, "action", a.Kind)
			s.invalidateCaches()
			break
		}
		if err != nil {
			s.log.Warn("document rejected action", "action", a.Kind, "error", err)
		}
		sent++
		switch a.Kind {
		case ActionCompositionUpdate:
			updated = true
			composed = true
		case ActionCompositionStart, ActionCompositionEnd:
			composed = true
		}
	}

	if c := s.content; c != nil {
		switch {
		case s.comp == nil:
			c.last = nil
		case updated:
			c.last = s.comp.snapshot()
		}
	}
	if composed && dropped == 0 && s.doc.Remote() {
		s.awaitingAck = true
	}
	s.svc.Metrics.Flushed(sent, dropped, time.Since(started))
	s.log.Debug("flushed pending actions", "sent", sent, "dropped", dropped)
}

func (s *TextStore) dispatch(a PendingAction) error {
	switch a.Kind {
	case ActionCompositionStart:
		if a.AdjustSelection {
			if err := s.doc.DispatchSetSelection(Selection{Range: a.Range()}); err != nil {
				return fmt.Errorf("select composition range: %w", err)
			}
		}
		return s.doc.DispatchStartComposition(a.Range())
	case ActionCompositionUpdate:
		if a.Incomplete {
			s.log.Warn("flushing incomplete composition update")
		}
		return s.doc.DispatchUpdateComposition(a.Data, a.Ranges)
	case ActionCompositionEnd:
		return s.doc.DispatchCommitComposition(a.Data)
	case ActionSetSelection:
		return s.doc.DispatchSetSelection(Selection{Range: a.Range(), Reversed: a.Reversed})
	case ActionForwardKey:
		return s.doc.DispatchKey(a.Key)
	}
	s.assertf(false, "unknown action kind %d", a.Kind)
	return nil
}
