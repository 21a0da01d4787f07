package textstore

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"tsfbridge/internal/acp"
	"tsfbridge/internal/compat"
)

// cacheState tracks what the store is doing with its caches. Any state but
// cacheIdle batches notifications.
type cacheState uint8

const (
	cacheIdle cacheState = iota
	// cacheInitializing: fetching content or selection from the document.
	cacheInitializing
	// cacheFlushing: replaying pending actions to the document.
	cacheFlushing
)

func (c cacheState) String() string {
	switch c {
	case cacheInitializing:
		return "initializing"
	case cacheFlushing:
		return "flushing"
	default:
		return "idle"
	}
}

// content is the text as the service believes it to be.
type content struct {
	text []rune
	// minModified is the first offset edited since the last layout, or -1.
	minModified int
	// last is the composition string as last sent to the document.
	last *compositionSnapshot
}

type compositionSnapshot struct {
	offset int
	text   []rune
}

func (c *content) layoutChanged() bool {
	return c.minModified >= 0
}

// layoutChangedAt reports whether the layout at offset is stale.
func (c *content) layoutChangedAt(offset int) bool {
	return c.minModified >= 0 && c.minModified <= offset
}

func (c *content) onLayoutComputed() {
	c.minModified = -1
}

// selectionState caches the document selection. hasRange is false when the
// document has no selection.
type selectionState struct {
	sel      Selection
	hasRange bool
}

func (ss *selectionState) set(sel Selection) {
	ss.sel = sel
	ss.hasRange = true
}

func (ss *selectionState) collapseAt(offset int) {
	ss.sel.Range = acp.Collapsed(offset)
	ss.sel.Reversed = false
	ss.hasRange = true
}

// contentForService returns the cached content, fetching it from the
// document once per lock cycle. A nested call made while the fetch is in
// progress gets the partial content instead of recursing.
func (s *TextStore) contentForService() (*content, error) {
	if s.content != nil {
		return s.content, nil
	}
	if s.cache == cacheInitializing {
		s.log.Warn("nested content initialization rejected")
		if s.partial != nil {
			return s.partial, nil
		}
		return &content{minModified: -1}, nil
	}
	if s.released {
		return nil, ErrUnavailable
	}

	prev := s.cache
	s.cache = cacheInitializing
	s.partial = &content{minModified: -1}
	defer func() {
		s.cache = prev
		s.partial = nil
	}()

	text, err := s.doc.QueryText(acp.Range{Start: 0, End: math.MaxInt32})
	if err != nil {
		return nil, fmt.Errorf("query text: %w", err)
	}
	c := s.partial
	c.text = []rune(text)
	if s.comp != nil {
		r := s.comp.rng()
		s.assertf(r.End <= len(c.text), "composition %s outside fetched text of length %d", r, len(c.text))
		c.last = s.comp.snapshot()
	}
	s.content = c
	return c, nil
}

// selectionForService returns the cached selection, fetching it from the
// document when needed.
func (s *TextStore) selectionForService() (*selectionState, error) {
	if s.sel != nil {
		return s.sel, nil
	}
	if s.cache == cacheInitializing {
		s.log.Warn("nested selection initialization rejected")
		return &selectionState{}, nil
	}
	if s.released {
		return nil, ErrUnavailable
	}

	prev := s.cache
	s.cache = cacheInitializing
	defer func() { s.cache = prev }()

	sel, err := s.doc.QuerySelection()
	switch {
	case errors.Is(err, ErrNoSelection):
		s.sel = &selectionState{}
	case err != nil:
		return nil, fmt.Errorf("query selection: %w", err)
	default:
		if !sel.Range.Valid() {
			return nil, fmt.Errorf("%w: document selection %s", ErrInvalidArgument, sel.Range)
		}
		s.sel = &selectionState{sel: sel, hasRange: true}
	}
	return s.sel, nil
}

// replaceTextWith replaces length runes at start and collapses the
// selection after the new text. During a composition the edit must fall
// inside the composition string, which is updated too.
func (s *TextStore) replaceTextWith(start, length int, repl []rune) error {
	c, err := s.contentForService()
	if err != nil {
		return err
	}
	sel, err := s.selectionForService()
	if err != nil {
		return err
	}
	end := start + length
	if start < 0 || length < 0 {
		return fmt.Errorf("%w: replace [%d,%d)", ErrInvalidArgument, start, end)
	}
	if end > len(c.text) {
		return fmt.Errorf("%w: replace [%d,%d) in text of length %d", ErrOutOfRange, start, end, len(c.text))
	}

	old := c.text[start:end]
	if !slices.Equal(old, repl) {
		first := -1
		if comp := s.comp; comp != nil {
			cr := comp.rng()
			if !cr.Encloses(acp.Range{Start: start, End: end}) {
				s.assertf(false, "edit [%d,%d) outside composition %s", start, end, cr)
				return fmt.Errorf("%w: edit outside composition %s", ErrInvalidArgument, cr)
			}
			rel := start - comp.start
			comp.text = slices.Concat(comp.text[:rel], repl, comp.text[rel+length:])
			// A service may rewrite the composition several times per
			// session; compare with what the document last laid out.
			switch {
			case c.last == nil:
				if d := acp.FirstDifference(old, repl); d >= 0 {
					first = start + d
				}
			case c.last.offset != comp.start:
				first = min(c.last.offset, comp.start)
			default:
				if d := acp.FirstDifference(comp.text, c.last.text); d >= 0 {
					first = comp.start + d
				}
			}
		} else if d := acp.FirstDifference(old, repl); d >= 0 {
			first = start + d
		}
		if first >= 0 && (c.minModified < 0 || first < c.minModified) {
			c.minModified = first
		}
		c.text = slices.Concat(c.text[:start], repl, c.text[end:])
	}
	sel.collapseAt(start + len(repl))
	return nil
}

// replaceSelectedTextWith replaces the selected text, or inserts at the
// caret.
func (s *TextStore) replaceSelectedTextWith(repl []rune) error {
	sel, err := s.selectionForService()
	if err != nil {
		return err
	}
	if !sel.hasRange {
		return ErrNoSelection
	}
	r := sel.sel.Range
	return s.replaceTextWith(r.Start, r.Len(), repl)
}

// invalidateCaches drops content and selection so both are fetched again.
func (s *TextStore) invalidateCaches() {
	s.content = nil
	s.sel = nil
}

// layoutState summarizes layout validity for the compat table.
func (s *TextStore) layoutState(c *content) compat.LayoutState {
	st := compat.LayoutState{MinModified: c.minModified}
	if s.comp != nil {
		st.Composition = s.comp.rng()
		st.Composing = true
	}
	if c.last != nil {
		st.LastComposition = acp.Range{Start: c.last.offset, End: c.last.offset + len(c.last.text)}
		st.HadComposition = true
	}
	if s.sel != nil && s.sel.hasRange {
		st.Selection = s.sel.sel.Range
		st.HasSelection = true
	}
	return st
}
