package tip

import (
	"fmt"

	"tsfbridge/internal/acp"
	"tsfbridge/internal/textstore"
)

// StartComposition starts composing over r. Call it from a read-write
// session.
func (s *Service) StartComposition(r acp.Range) (*View, error) {
	if s.view != nil {
		return nil, fmt.Errorf("%w: already composing", textstore.ErrInvalidArgument)
	}
	v := &View{r: r}
	s.view = v
	if err := s.store.OnCompositionStart(v); err != nil {
		s.view = nil
		return nil, err
	}
	return v, nil
}

// Compose replaces the composition string with text and puts the caret
// caret runes into it. Call it from a read-write session.
func (s *Service) Compose(text string, caret int) error {
	v := s.view
	if v == nil {
		return fmt.Errorf("%w: not composing", textstore.ErrInvalidArgument)
	}
	r := v.r
	if _, err := s.store.SetText(r.Start, r.End, text); err != nil {
		return fmt.Errorf("set composition text: %w", err)
	}
	v.r = acp.Range{Start: r.Start, End: r.Start + len([]rune(text))}
	if caret >= 0 {
		sel := textstore.Selection{Range: acp.Collapsed(r.Start + min(caret, v.r.Len()))}
		if err := s.store.SetSelection(sel); err != nil {
			return fmt.Errorf("set composition caret: %w", err)
		}
	}
	return s.store.OnCompositionUpdate(v, &v.r)
}

// Select selects [start, end) relative to the composition start, as a
// service does when it highlights the clause being converted.
func (s *Service) Select(start, end int) error {
	v := s.view
	if v == nil {
		return fmt.Errorf("%w: not composing", textstore.ErrInvalidArgument)
	}
	sel := textstore.Selection{Range: acp.Range{Start: v.r.Start + start, End: v.r.Start + end}}
	return s.store.SetSelection(sel)
}

// UpdateIncomplete reports an update whose range is not known yet.
func (s *Service) UpdateIncomplete() error {
	if s.view == nil {
		return fmt.Errorf("%w: not composing", textstore.ErrInvalidArgument)
	}
	return s.store.OnCompositionUpdate(s.view, nil)
}

// MoveComposition reports that the composition now covers r.
func (s *Service) MoveComposition(r acp.Range) error {
	v := s.view
	if v == nil {
		return fmt.Errorf("%w: not composing", textstore.ErrInvalidArgument)
	}
	v.r = r
	return s.store.OnCompositionUpdate(v, &v.r)
}

// EndComposition commits the composition.
func (s *Service) EndComposition() error {
	v := s.view
	if v == nil {
		return nil
	}
	s.view = nil
	return s.store.OnCompositionEnd(v)
}

// Type composes text from scratch at the selection and commits it in one
// read-write session.
func (s *Service) Type(text string) error {
	return s.Edit(textstore.LockReadWrite, func() error {
		sel, err := s.store.GetSelection()
		if err != nil {
			return err
		}
		if _, err := s.StartComposition(sel.Range); err != nil {
			return err
		}
		if err := s.Compose(text, len([]rune(text))); err != nil {
			return err
		}
		return s.EndComposition()
	})
}
