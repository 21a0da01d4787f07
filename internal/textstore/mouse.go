package textstore

import (
	"errors"
	"fmt"

	"gioui.org/f32"
	"gioui.org/io/pointer"

	"tsfbridge/internal/acp"
	"tsfbridge/internal/mouse"
)

// AdviseMouseSink asks for pointer events inside r.
func (s *TextStore) AdviseMouseSink(r acp.Range, sink mouse.Sink) (mouse.Cookie, error) {
	if s.released {
		return 0, ErrUnavailable
	}
	cookie, err := s.mouse.Advise(r, sink)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return cookie, nil
}

// UnadviseMouseSink removes a sink added by AdviseMouseSink.
func (s *TextStore) UnadviseMouseSink(cookie mouse.Cookie) error {
	if err := s.mouse.Unadvise(cookie); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return nil
}

// OnMouseButton routes a button event from the host to the mouse sinks
// whose range holds the character at pt. It reports whether a sink consumed
// the event.
func (s *TextStore) OnMouseButton(pt f32.Point, buttons pointer.Buttons) (bool, error) {
	if s.released || s.mouse.Len() == 0 {
		return false, nil
	}
	hit, err := s.doc.QueryCharAtPoint(pt)
	if errors.Is(err, ErrLayoutNotReady) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query char at point: %w", err)
	}
	if hit.Offset < 0 {
		return false, nil
	}
	quadrant := mouse.Quadrant(pt.X, float32(hit.Rect.Min.X), float32(hit.Rect.Max.X))
	return s.mouse.Dispatch(hit.Offset, quadrant, buttons), nil
}
