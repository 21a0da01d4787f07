package textstore

import (
	"image"

	"gioui.org/f32"
	"gioui.org/io/key"

	"tsfbridge/internal/acp"
)

// WritingMode hints how the selection's text flows.
type WritingMode uint8

const (
	Horizontal WritingMode = iota
	VerticalRL
	VerticalLR
)

// String returns the mode name.
func (m WritingMode) String() string {
	switch m {
	case VerticalRL:
		return "vertical-rl"
	case VerticalLR:
		return "vertical-lr"
	default:
		return "horizontal"
	}
}

// Selection is a selected range and its direction. Reversed means the active
// end is at Range.Start.
type Selection struct {
	Range       acp.Range
	Reversed    bool
	WritingMode WritingMode
}

// TextChange describes an edit as the replaced span [Start, OldEnd) of the
// old text becoming [Start, NewEnd) of the new text.
type TextChange struct {
	Start  int
	OldEnd int
	NewEnd int

	// CausedOnlyByComposition is set when every merged edit came from the
	// composition string.
	CausedOnlyByComposition bool
}

// Merge folds next, expressed in the coordinates of the text after c, into
// c. The result describes both edits against the text before c.
func (c TextChange) Merge(next TextChange) TextChange {
	return TextChange{
		Start:                   min(c.Start, next.Start),
		OldEnd:                  max(c.OldEnd, next.OldEnd-(c.NewEnd-c.OldEnd)),
		NewEnd:                  max(next.NewEnd, c.NewEnd+(next.NewEnd-next.OldEnd)),
		CausedOnlyByComposition: c.CausedOnlyByComposition && next.CausedOnlyByComposition,
	}
}

// SelectionChange is the document's report of a new selection.
type SelectionChange struct {
	Selection Selection
	// Empty is set when the document has no selection.
	Empty bool

	CausedByComposition bool
}

// CharHit answers a hit test. Offset is the character under the point and
// CaretOffset the caret position closest to it; either is -1 when unknown.
type CharHit struct {
	Offset      int
	Rect        image.Rectangle
	CaretOffset int
}

// Document is the editable text the store mirrors. Queries may fail with
// ErrLayoutNotReady; dispatches may fail with ErrUnavailable once the
// document has gone away. Replies from a remote document arrive later
// through the store's On* methods.
type Document interface {
	// QueryText returns the text in r. r.End may exceed the text length.
	QueryText(r acp.Range) (string, error)
	// QuerySelection returns ErrNoSelection when nothing is selected.
	QuerySelection() (Selection, error)
	QueryTextRect(r acp.Range) (image.Rectangle, error)
	QueryCaretRect(offset int) (image.Rectangle, error)
	QueryCharAtPoint(pt f32.Point) (CharHit, error)
	// QueryWindowRect returns the visible bounds of the editor.
	QueryWindowRect() (image.Rectangle, error)

	DispatchSetSelection(sel Selection) error
	// DispatchStartComposition starts a composition over r, which the
	// first update replaces.
	DispatchStartComposition(r acp.Range) error
	DispatchUpdateComposition(text string, ranges []StyledRange) error
	DispatchCommitComposition(text string) error
	// DispatchKey re-dispatches a key already handled by the input service.
	DispatchKey(ev key.Event) error

	// Remote reports whether dispatched events are applied asynchronously
	// and acknowledged with OnCompositionEventsHandled.
	Remote() bool
}

// SinkMask selects which change notifications a sink receives.
type SinkMask uint8

const (
	MaskTextChange SinkMask = 1 << iota
	MaskSelectionChange
	MaskLayoutChange

	MaskAll = MaskTextChange | MaskSelectionChange | MaskLayoutChange
)

// Sink is the input service's side of the protocol.
type Sink interface {
	// OnLockGranted runs the service's edit session. It may call back into
	// the store.
	OnLockGranted(level LockLevel) error
	OnTextChange(change TextChange)
	OnSelectionChange()
	OnLayoutChange()
}

// CompositionView is the service's handle on a composition.
type CompositionView interface {
	// Extent returns the range the service currently assigns to the
	// composition.
	Extent() (acp.Range, error)
}

// ClauseAttr is the conversion state the service attached to a span.
type ClauseAttr uint8

const (
	AttrInput ClauseAttr = iota
	AttrTargetConverted
	AttrConverted
	AttrTargetNotConverted
)

// DisplayAttribute is a span of the composition tagged by the service.
// Styled is set when the service supplies its own colors or underline.
type DisplayAttribute struct {
	Range  acp.Range
	Clause ClauseAttr
	Styled bool
}

// InputContext is the service-side context the store talks to outside of
// lock sessions.
type InputContext interface {
	// TerminateComposition asks the service to end view. The service
	// answers through OnCompositionEnd.
	TerminateComposition(view CompositionView) error
	// DisplayAttributes returns the attribute spans overlapping r.
	DisplayAttributes(r acp.Range) ([]DisplayAttribute, error)
	// KeyDown offers a raw key to the service.
	KeyDown(ev key.Event) (eaten bool, err error)
}

// RangeKind classifies a styled range of a composition update.
type RangeKind uint8

const (
	RangeRawClause RangeKind = iota
	RangeSelectedRawClause
	RangeConvertedClause
	RangeSelectedClause
	RangeCaret
)

var rangeKindNames = [...]string{
	RangeRawClause:         "raw",
	RangeSelectedRawClause: "selected-raw",
	RangeConvertedClause:   "converted",
	RangeSelectedClause:    "selected",
	RangeCaret:             "caret",
}

// String returns the kind name.
func (k RangeKind) String() string {
	if int(k) < len(rangeKindNames) {
		return rangeKindNames[k]
	}
	return "unknown"
}

func (a ClauseAttr) kind() RangeKind {
	switch a {
	case AttrTargetConverted:
		return RangeSelectedClause
	case AttrConverted:
		return RangeConvertedClause
	case AttrTargetNotConverted:
		return RangeSelectedRawClause
	default:
		return RangeRawClause
	}
}

// StyledRange is a span of the composition string, relative to its start.
type StyledRange struct {
	Start  int
	End    int
	Kind   RangeKind
	Styled bool
}

func (r StyledRange) isTarget() bool {
	return r.Kind == RangeSelectedClause || r.Kind == RangeSelectedRawClause
}
