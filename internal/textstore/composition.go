package textstore

import (
	"fmt"
	"slices"
	"sort"

	"tsfbridge/internal/acp"
)

// composition is the active composition string and its position in the
// content.
type composition struct {
	view  CompositionView
	start int
	text  []rune
}

func (c *composition) rng() acp.Range {
	return acp.Range{Start: c.start, End: c.start + len(c.text)}
}

func (c *composition) snapshot() *compositionSnapshot {
	return &compositionSnapshot{offset: c.start, text: slices.Clone(c.text)}
}

// Composing reports whether a composition is active.
func (s *TextStore) Composing() bool {
	return s.comp != nil
}

// CompositionRange returns the active composition's range.
func (s *TextStore) CompositionRange() (acp.Range, bool) {
	if s.comp == nil {
		return acp.Range{}, false
	}
	return s.comp.rng(), true
}

// OnCompositionStart is called by the service when it starts composing over
// the range of view.
func (s *TextStore) OnCompositionStart(view CompositionView) error {
	if view == nil {
		return fmt.Errorf("%w: nil composition view", ErrInvalidArgument)
	}
	return s.recordingSession(func() error {
		r, err := view.Extent()
		if err != nil {
			return fmt.Errorf("composition extent: %w", err)
		}
		return s.recordCompositionStart(view, r, false)
	})
}

// OnCompositionUpdate is called when the service changed the composition.
// A nil r means the update is incomplete and more changes follow.
func (s *TextStore) OnCompositionUpdate(view CompositionView, r *acp.Range) error {
	if err := s.checkView(view); err != nil {
		return err
	}
	return s.recordingSession(func() error {
		if r == nil {
			a := s.lastOrNewUpdate()
			a.Incomplete = true
			return nil
		}
		c, err := s.contentForService()
		if err != nil {
			return err
		}
		if !r.Valid() {
			return fmt.Errorf("%w: composition range %s", ErrInvalidArgument, *r)
		}
		if r.End > len(c.text) {
			return fmt.Errorf("%w: composition range %s past %d", ErrOutOfRange, *r, len(c.text))
		}
		if err := s.restartIfNecessary(*r); err != nil {
			return err
		}
		return s.recordCompositionUpdate()
	})
}

// OnCompositionEnd is called when the service committed or cancelled the
// composition of view.
func (s *TextStore) OnCompositionEnd(view CompositionView) error {
	if err := s.checkView(view); err != nil {
		return err
	}
	return s.recordingSession(s.recordCompositionEnd)
}

func (s *TextStore) checkView(view CompositionView) error {
	if s.comp == nil {
		return fmt.Errorf("%w: no active composition", ErrUnavailable)
	}
	if s.comp.view != view {
		return fmt.Errorf("%w: unknown composition view", ErrInvalidArgument)
	}
	return nil
}

// recordingSession runs fn. Outside a lock session the recorded actions are
// flushed as soon as fn returns.
func (s *TextStore) recordingSession(fn func() error) error {
	if s.canRecord() {
		return fn()
	}
	s.recordingWithoutLock = true
	err := fn()
	s.recordingWithoutLock = false

	s.flushPendingActions()
	if s.comp == nil {
		s.content = nil
	}
	s.maybeFlushPendingNotifications()
	s.maybeRelease()
	return err
}

// recordCompositionStart starts a composition over r. When the last pending
// action committed exactly r, that commit is retracted and the composition
// continues instead.
func (s *TextStore) recordCompositionStart(view CompositionView, r acp.Range, preserveSelection bool) error {
	if s.comp != nil {
		s.assertf(false, "composition start while composing %s", s.comp.rng())
		return fmt.Errorf("%w: composition already active", ErrInvalidArgument)
	}
	c, err := s.contentForService()
	if err != nil {
		return err
	}
	sel, err := s.selectionForService()
	if err != nil {
		return err
	}
	if !r.Valid() {
		return fmt.Errorf("%w: composition range %s", ErrInvalidArgument, r)
	}
	if r.End > len(c.text) {
		return fmt.Errorf("%w: composition range %s past %d", ErrOutOfRange, r, len(c.text))
	}

	s.completeLastActionIfIncomplete()

	if n := len(s.actions); n > 0 {
		last := s.actions[n-1]
		if last.Kind == ActionCompositionEnd && last.Offset == r.Start &&
			len([]rune(last.Data)) == r.Len() {
			s.actions = s.actions[:n-1]
			s.comp = &composition{view: view, start: last.Offset, text: []rune(last.Data)}
			s.log.Debug("composition restored over pending commit", "range", r)
			return nil
		}
	}

	s.maybeForwardKey()
	s.actions = append(s.actions, PendingAction{
		Kind:            ActionCompositionStart,
		Offset:          r.Start,
		Length:          r.Len(),
		Data:            string(c.text[r.Start:r.End]),
		AdjustSelection: !preserveSelection,
	})
	s.comp = &composition{view: view, start: r.Start, text: slices.Clone(c.text[r.Start:r.End])}
	if !preserveSelection {
		sel.set(Selection{Range: r, WritingMode: sel.sel.WritingMode})
	}
	s.log.Debug("composition started", "range", r, "preserve_selection", preserveSelection)
	return nil
}

// restartIfNecessary moves the composition to r when the service changed
// its range.
func (s *TextStore) restartIfNecessary(r acp.Range) error {
	if s.comp == nil {
		s.assertf(false, "restart without composition")
		return fmt.Errorf("%w: no active composition", ErrUnavailable)
	}
	if s.comp.rng() == r {
		return nil
	}
	return s.restartComposition(s.comp.view, r)
}

// restartComposition commits the part of the composition outside r and
// starts composing r, which keeps the overlapping text. Ranges sharing no offset, including ranges that only
// touch, commit the whole old composition.
func (s *TextStore) restartComposition(view CompositionView, r acp.Range) error {
	sel, err := s.selectionForService()
	if err != nil {
		return err
	}
	old := s.comp.rng()
	keep, overlaps := old.Overlap(r)
	s.log.Debug("restarting composition", "old", old, "new", r, "overlaps", overlaps)
	if !overlaps {
		if err := s.recordCompositionEnd(); err != nil {
			return err
		}
		return s.recordCompositionStart(view, r, true)
	}

	oldText := slices.Clone(s.comp.text)
	oldSel := *sel

	// Commit the old string without the part that keeps composing.
	kStart, kEnd := keep.Start-old.Start, keep.End-old.Start
	commit := slices.Concat(oldText[:kStart], oldText[kEnd:])
	if err := s.replaceTextWith(old.Start, old.Len(), commit); err != nil {
		return err
	}
	a := s.lastOrNewUpdate()
	a.Data = string(s.comp.text)
	a.Ranges = nil
	if n := len(s.comp.text); n > 0 {
		a.Ranges = []StyledRange{{Start: n, End: n, Kind: RangeCaret}}
	}
	a.Incomplete = false
	if err := s.recordCompositionEnd(); err != nil {
		return err
	}

	// The new composition covers r without the kept text, which is put
	// back where it was.
	start := acp.Range{Start: r.Start, End: r.End - keep.Len()}
	if err := s.recordCompositionStart(view, start, false); err != nil {
		return err
	}
	if err := s.replaceTextWith(keep.Start, 0, oldText[kStart:kEnd]); err != nil {
		return err
	}
	restored := oldSel
	if c := s.content; c != nil {
		restored.sel.Range = restored.sel.Range.Clamp(len(c.text))
	}
	s.sel = &restored
	return nil
}

// lastOrNewUpdate returns the trailing pending update, appending one if the
// queue does not end with an update.
func (s *TextStore) lastOrNewUpdate() *PendingAction {
	if n := len(s.actions); n > 0 && s.actions[n-1].Kind == ActionCompositionUpdate {
		return &s.actions[n-1]
	}
	s.maybeForwardKey()
	s.actions = append(s.actions, PendingAction{Kind: ActionCompositionUpdate, Incomplete: true})
	return &s.actions[len(s.actions)-1]
}

// recordCompositionUpdate records the composition string with its clause
// and caret ranges. A trailing pending update is overwritten in place.
func (s *TextStore) recordCompositionUpdate() error {
	if s.comp == nil {
		s.assertf(false, "composition update without composition")
		return fmt.Errorf("%w: no active composition", ErrUnavailable)
	}
	sel, err := s.selectionForService()
	if err != nil {
		return err
	}
	ranges := s.styledRanges(s.comp, sel)
	a := s.lastOrNewUpdate()
	a.Data = string(s.comp.text)
	a.Ranges = ranges
	a.Incomplete = false
	return nil
}

// styledRanges computes the clause and caret ranges of comp from the
// service's display attributes.
func (s *TextStore) styledRanges(comp *composition, sel *selectionState) []StyledRange {
	n := len(comp.text)
	if n == 0 {
		return nil
	}
	cr := comp.rng()
	ranges := []StyledRange{{Start: 0, End: n, Kind: RangeRawClause}}

	var attrs []DisplayAttribute
	if s.ctx != nil {
		var err error
		attrs, err = s.ctx.DisplayAttributes(cr)
		if err != nil {
			s.log.Warn("display attributes unavailable", "error", err)
			attrs = nil
		}
	}
	sort.SliceStable(attrs, func(i, j int) bool { return attrs[i].Range.Start < attrs[j].Range.Start })
	for _, attr := range attrs {
		start := min(max(attr.Range.Start, cr.Start), cr.End)
		end := max(min(attr.Range.End, cr.End), cr.Start)
		if end <= start {
			continue
		}
		// Every new clause runs to the end until the next one cuts it.
		next := StyledRange{Start: start - cr.Start, End: n, Kind: attr.Clause.kind(), Styled: attr.Styled}
		last := &ranges[len(ranges)-1]
		if last.Start == next.Start {
			*last = next
		} else {
			last.End = next.Start
			ranges = append(ranges, next)
		}
	}

	caret := n
	if sel.hasRange {
		selRange := sel.sel.Range
		// Services that never style their clauses select the whole
		// composition instead; paint it as a selected clause.
		if !selRange.IsCollapsed() && len(ranges) == 1 {
			only := &ranges[0]
			if !only.Styled && only.Start == selRange.Start-cr.Start && only.End == selRange.End-cr.Start {
				only.Kind = RangeSelectedRawClause
			}
		}
		caret = min(max(selRange.End-cr.Start, 0), n)
	}

	// A styled target clause paints its own caret.
	var target *StyledRange
	for i := range ranges {
		if ranges[i].isTarget() {
			target = &ranges[i]
			break
		}
	}
	if target == nil || !target.Styled || caret < target.Start || caret > target.End {
		ranges = append(ranges, StyledRange{Start: caret, End: caret, Kind: RangeCaret})
	}
	return ranges
}

// recordCompositionEnd commits the composition string. A composition that
// was restarted without changing anything leaves no actions behind except a
// selection change it implied.
func (s *TextStore) recordCompositionEnd() error {
	comp := s.comp
	if comp == nil {
		s.assertf(false, "composition end without composition")
		return fmt.Errorf("%w: no active composition", ErrUnavailable)
	}
	sel, err := s.selectionForService()
	if err != nil {
		return err
	}
	s.maybeForwardKey()
	if n := len(s.actions); n > 0 && s.actions[n-1].Kind == ActionCompositionUpdate && s.actions[n-1].Incomplete {
		s.actions = s.actions[:n-1]
	}

	end := PendingAction{Kind: ActionCompositionEnd, Offset: comp.start, Data: string(comp.text)}
	s.actions = append(s.actions, end)
	sel.collapseAt(comp.rng().End)
	s.comp = nil
	s.log.Debug("composition ended", "offset", end.Offset, "length", len(comp.text))

	for i := len(s.actions) - 2; i >= 0; i-- {
		a := s.actions[i]
		if a.Kind == ActionCompositionEnd {
			break
		}
		if a.Kind != ActionCompositionStart {
			continue
		}
		if a.Data != end.Data {
			break
		}
		s.actions = s.actions[:i]
		if a.AdjustSelection {
			s.actions = append(s.actions, PendingAction{
				Kind:   ActionSetSelection,
				Offset: a.Offset,
				Length: a.Length,
			})
		}
		s.log.Debug("dropped redundant composition", "offset", a.Offset)
		break
	}
	return nil
}

// completeLastActionIfIncomplete fills in a trailing incomplete update.
func (s *TextStore) completeLastActionIfIncomplete() {
	n := len(s.actions)
	if n == 0 || s.actions[n-1].Kind != ActionCompositionUpdate || !s.actions[n-1].Incomplete {
		return
	}
	if s.comp == nil {
		s.actions = s.actions[:n-1]
		return
	}
	if err := s.recordCompositionUpdate(); err != nil {
		s.log.Warn("completing composition update failed", "error", err)
	}
}

// CommitComposition asks the service to commit, or with discard to cancel,
// the active composition. While the document is locked the request waits
// for the session to end.
func (s *TextStore) CommitComposition(discard bool) error {
	if s.isReadLocked() {
		if s.deferred != deferNone {
			s.log.Warn("composition commit already deferred", "discard", discard)
			return nil
		}
		s.deferred = deferCommit
		if discard {
			s.deferred = deferCancel
		}
		return nil
	}
	return s.commitCompositionInternal(discard)
}

func (s *TextStore) commitCompositionInternal(discard bool) error {
	comp := s.comp
	if comp == nil {
		return nil
	}
	if discard && len(comp.text) > 0 {
		r := comp.rng()
		if err := s.replaceTextWith(r.Start, r.Len(), nil); err != nil {
			return err
		}
		if !s.destroyed && s.wants(MaskTextChange) {
			s.notifySink(Notification{Kind: NotifyText, Change: TextChange{Start: r.Start, OldEnd: r.End, NewEnd: r.Start}})
		}
	}
	if s.ctx == nil {
		return fmt.Errorf("%w: no input context to terminate composition", ErrUnavailable)
	}
	if err := s.ctx.TerminateComposition(comp.view); err != nil {
		return fmt.Errorf("terminate composition: %w", err)
	}
	return nil
}
