package textstore

import (
	"errors"
	"fmt"
	"image"
	"math"

	"gioui.org/f32"

	"tsfbridge/internal/acp"
)

// Rounding selects how GetOffsetAtPoint maps a point inside a character.
type Rounding uint8

const (
	// RoundDown returns the offset of the character under the point.
	RoundDown Rounding = iota
	// RoundNearest returns the caret position closest to the point.
	RoundNearest
)

// InsertFlags modifies InsertTextAtSelection.
type InsertFlags uint8

const (
	// InsertQueryOnly reports where the text would go without inserting.
	InsertQueryOnly InsertFlags = 1 << iota
	// InsertNoQuery inserts without computing the resulting range.
	InsertNoQuery
)

func (s *TextStore) requireRead() error {
	if !s.isReadLocked() {
		return ErrNoLock
	}
	return nil
}

func (s *TextStore) requireReadWrite() error {
	if !s.isReadWriteLocked() {
		return ErrNoLock
	}
	return nil
}

// GetText returns the text from start to end, or to the end of the content
// when end is -1. maxLen > 0 caps the number of runes returned. next is the
// offset following the returned text.
func (s *TextStore) GetText(start, end, maxLen int) (text string, next int, err error) {
	if err := s.requireRead(); err != nil {
		return "", 0, err
	}
	if start < 0 || end < -1 || (end != -1 && end < start) {
		return "", 0, fmt.Errorf("%w: get text [%d,%d)", ErrInvalidArgument, start, end)
	}
	c, err := s.contentForService()
	if err != nil {
		return "", 0, err
	}
	if start > len(c.text) || end > len(c.text) {
		return "", 0, fmt.Errorf("%w: get text [%d,%d) of %d", ErrOutOfRange, start, end, len(c.text))
	}
	if end == -1 {
		end = len(c.text)
	}
	if maxLen > 0 && end-start > maxLen {
		end = start + maxLen
	}
	return string(c.text[start:end]), end, nil
}

// GetSelection returns the current selection.
func (s *TextStore) GetSelection() (Selection, error) {
	if err := s.requireRead(); err != nil {
		return Selection{}, err
	}
	sel, err := s.selectionForService()
	if err != nil {
		return Selection{}, err
	}
	if !sel.hasRange {
		return Selection{}, ErrNoSelection
	}
	return sel.sel, nil
}

// GetEndOffset returns the length of the content.
func (s *TextStore) GetEndOffset() (int, error) {
	if err := s.requireRead(); err != nil {
		return 0, err
	}
	c, err := s.contentForService()
	if err != nil {
		return 0, err
	}
	return len(c.text), nil
}

// GetTextRect returns the bounding box of [start, end) clipped to the editor
// window. clipped is set when part of the box is outside the window.
// ErrLayoutNotReady is returned while the layout of the range is stale,
// unless the active processor is known to mishandle that answer, in which
// case the rect of the closest range with a valid layout is returned.
func (s *TextStore) GetTextRect(start, end int) (rect image.Rectangle, clipped bool, err error) {
	if err := s.requireRead(); err != nil {
		return image.Rectangle{}, false, err
	}
	r := acp.Range{Start: start, End: end}
	if !r.Valid() {
		return image.Rectangle{}, false, fmt.Errorf("%w: rect of %s", ErrInvalidArgument, r)
	}
	s.waitingQueryLayout = false

	c, err := s.contentForService()
	if err != nil {
		return image.Rectangle{}, false, err
	}
	if r.End > len(c.text) {
		return image.Rectangle{}, false, fmt.Errorf("%w: rect of %s in %d", ErrOutOfRange, r, len(c.text))
	}
	if c.layoutChangedAt(r.End) {
		processor := s.svc.Processors.ActiveProcessor()
		adjusted, answerNow := s.svc.Compat.Adjust(processor, r, s.layoutState(c))
		if !answerNow {
			return image.Rectangle{}, false, s.noLayout("rect", r)
		}
		s.svc.Metrics.Adjusted()
		s.log.Debug("answering stale rect query", "processor", s.svc.Compat.Name(processor), "query", r, "adjusted", adjusted)
		r = adjusted
	}

	if r.IsCollapsed() {
		rect, err = s.doc.QueryCaretRect(r.Start)
	} else {
		rect, err = s.doc.QueryTextRect(r)
	}
	if errors.Is(err, ErrLayoutNotReady) {
		return image.Rectangle{}, false, s.noLayout("rect", r)
	}
	if err != nil {
		return image.Rectangle{}, false, fmt.Errorf("query rect: %w", err)
	}
	// Services mishandle empty boxes.
	if rect.Dx() <= 0 {
		rect.Max.X = rect.Min.X + 1
	}
	if rect.Dy() <= 0 {
		rect.Max.Y = rect.Min.Y + 1
	}

	window, err := s.doc.QueryWindowRect()
	if err != nil {
		return image.Rectangle{}, false, fmt.Errorf("query window rect: %w", err)
	}
	visible := rect.Intersect(window)
	return visible, visible != rect, nil
}

// GetScreenRect returns the editor window bounds.
func (s *TextStore) GetScreenRect() (image.Rectangle, error) {
	if err := s.requireRead(); err != nil {
		return image.Rectangle{}, err
	}
	return s.doc.QueryWindowRect()
}

func (s *TextStore) noLayout(query string, r acp.Range) error {
	s.hasReturnedNoLayout = true
	s.svc.Metrics.NoLayout()
	s.log.Debug("layout not ready", "query", query, "range", r)
	return fmt.Errorf("%w: %s %s", ErrLayoutNotReady, query, r)
}

// GetOffsetAtPoint returns the offset at pt. Without nearest, a point
// outside every character fails with ErrInvalidArgument.
func (s *TextStore) GetOffsetAtPoint(pt f32.Point, rounding Rounding, nearest bool) (int, error) {
	if err := s.requireRead(); err != nil {
		return 0, err
	}
	if !finite(pt.X) || !finite(pt.Y) {
		return 0, fmt.Errorf("%w: point %v", ErrInvalidArgument, pt)
	}
	if rounding != RoundDown && rounding != RoundNearest {
		return 0, fmt.Errorf("%w: rounding %d", ErrInvalidArgument, rounding)
	}
	s.waitingQueryLayout = false

	if s.content != nil && s.content.layoutChanged() {
		return 0, s.noLayout("hit test", acp.Collapsed(s.content.minModified))
	}
	hit, err := s.doc.QueryCharAtPoint(pt)
	if errors.Is(err, ErrLayoutNotReady) {
		return 0, s.noLayout("hit test", acp.Range{})
	}
	if err != nil {
		return 0, fmt.Errorf("query char at point: %w", err)
	}
	if !nearest && hit.Offset < 0 {
		return 0, fmt.Errorf("%w: no character at %v", ErrInvalidArgument, pt)
	}
	if (rounding == RoundNearest || hit.Offset < 0) && hit.CaretOffset >= 0 {
		return hit.CaretOffset, nil
	}
	if hit.Offset < 0 {
		return 0, fmt.Errorf("%w: no character or caret near %v", ErrInvalidArgument, pt)
	}
	return hit.Offset, nil
}

func finite(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// SetSelection replaces the selection. During a composition the selection
// must stay inside it and the composition update is recorded again.
func (s *TextStore) SetSelection(sel Selection) error {
	if err := s.requireReadWrite(); err != nil {
		return err
	}
	if !sel.Range.Valid() {
		return fmt.Errorf("%w: selection %s", ErrInvalidArgument, sel.Range)
	}
	c, err := s.contentForService()
	if err != nil {
		return err
	}
	if sel.Range.End > len(c.text) {
		return fmt.Errorf("%w: selection %s in %d", ErrOutOfRange, sel.Range, len(c.text))
	}
	return s.setSelectionInternal(sel, true)
}

func (s *TextStore) setSelectionInternal(sel Selection, recordUpdate bool) error {
	cur, err := s.selectionForService()
	if err != nil {
		return err
	}
	if s.comp != nil {
		if recordUpdate {
			r, err := s.comp.view.Extent()
			if err != nil {
				return fmt.Errorf("composition extent: %w", err)
			}
			if err := s.restartIfNecessary(r); err != nil {
				return err
			}
		}
		if cr := s.comp.rng(); !cr.Encloses(sel.Range) {
			return fmt.Errorf("%w: selection %s outside composition %s", ErrInvalidArgument, sel.Range, cr)
		}
		cur.set(sel)
		if recordUpdate {
			return s.recordCompositionUpdate()
		}
		return nil
	}

	s.completeLastActionIfIncomplete()
	s.maybeForwardKey()
	s.actions = append(s.actions, PendingAction{
		Kind:     ActionSetSelection,
		Offset:   sel.Range.Start,
		Length:   sel.Range.Len(),
		Reversed: sel.Reversed,
	})
	cur.set(sel)
	return nil
}

// SetText replaces [start, end) with text. It is SetSelection followed by
// InsertTextAtSelection.
func (s *TextStore) SetText(start, end int, text string) (TextChange, error) {
	if err := s.requireReadWrite(); err != nil {
		return TextChange{}, err
	}
	r := acp.Range{Start: start, End: end}
	if !r.Valid() {
		return TextChange{}, fmt.Errorf("%w: set text %s", ErrInvalidArgument, r)
	}
	c, err := s.contentForService()
	if err != nil {
		return TextChange{}, err
	}
	if r.End > len(c.text) {
		return TextChange{}, fmt.Errorf("%w: set text %s in %d", ErrOutOfRange, r, len(c.text))
	}
	cur, err := s.selectionForService()
	if err != nil {
		return TextChange{}, err
	}
	if err := s.setSelectionInternal(Selection{Range: r, WritingMode: cur.sel.WritingMode}, true); err != nil {
		return TextChange{}, err
	}
	return s.insertTextAtSelectionInternal([]rune(text))
}

// InsertTextAtSelection replaces the selection with text and returns the
// range of the inserted text and the change made. With InsertQueryOnly
// nothing changes and the range the text would replace is returned.
func (s *TextStore) InsertTextAtSelection(text string, flags InsertFlags) (acp.Range, TextChange, error) {
	if flags&InsertQueryOnly != 0 {
		if err := s.requireRead(); err != nil {
			return acp.Range{}, TextChange{}, err
		}
		sel, err := s.selectionForService()
		if err != nil {
			return acp.Range{}, TextChange{}, err
		}
		if !sel.hasRange {
			return acp.Range{}, TextChange{}, ErrNoSelection
		}
		r := sel.sel.Range
		n := len([]rune(text))
		return r, TextChange{Start: r.Start, OldEnd: r.End, NewEnd: r.Start + n}, nil
	}

	if err := s.requireReadWrite(); err != nil {
		return acp.Range{}, TextChange{}, err
	}
	change, err := s.insertTextAtSelectionInternal([]rune(text))
	if err != nil {
		return acp.Range{}, TextChange{}, err
	}
	if flags&InsertNoQuery != 0 {
		return acp.Range{}, change, nil
	}
	return acp.Range{Start: change.Start, End: change.NewEnd}, change, nil
}

func (s *TextStore) insertTextAtSelectionInternal(text []rune) (TextChange, error) {
	if _, err := s.contentForService(); err != nil {
		return TextChange{}, err
	}
	sel, err := s.selectionForService()
	if err != nil {
		return TextChange{}, err
	}
	if !sel.hasRange {
		return TextChange{}, ErrNoSelection
	}
	old := sel.sel.Range

	if s.comp == nil {
		// Text inserted outside a composition reaches the document as a
		// composition committed at once.
		s.completeLastActionIfIncomplete()
		s.maybeForwardKey()
		s.actions = append(s.actions,
			PendingAction{Kind: ActionCompositionStart, Offset: old.Start, Length: old.Len(), AdjustSelection: true},
			PendingAction{Kind: ActionCompositionEnd, Offset: old.Start, Data: string(text)},
		)
	}
	if err := s.replaceSelectedTextWith(text); err != nil {
		return TextChange{}, err
	}
	if s.comp != nil {
		// Completed by the service's next update, or at unlock.
		s.lastOrNewUpdate().Incomplete = true
	}
	return TextChange{Start: old.Start, OldEnd: old.End, NewEnd: sel.sel.Range.End}, nil
}
