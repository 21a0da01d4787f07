// Package mouse tracks the text ranges an input-method service wants pointer
// events for.
package mouse

import (
	"errors"
	"fmt"

	"gioui.org/io/pointer"

	"tsfbridge/internal/acp"
)

var (
	// ErrInvalidRange is returned for negative or inverted ranges.
	ErrInvalidRange = errors.New("invalid mouse range")
	// ErrUnknownCookie is returned when unadvising a cookie that is not
	// active.
	ErrUnknownCookie = errors.New("unknown mouse sink cookie")
	// ErrNilSink is returned when advising without a sink.
	ErrNilSink = errors.New("nil mouse sink")
)

// Cookie identifies an advised sink. Cookies are small dense integers and
// are reused after Unadvise.
type Cookie uint32

// Sink receives pointer button events inside its range. quadrant is the
// horizontal quarter (0-3) of the character cell that was hit.
type Sink interface {
	OnMouseEvent(offset, quadrant int, buttons pointer.Buttons) (consumed bool)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(offset, quadrant int, buttons pointer.Buttons) bool

// OnMouseEvent calls f.
func (f SinkFunc) OnMouseEvent(offset, quadrant int, buttons pointer.Buttons) bool {
	return f(offset, quadrant, buttons)
}

type entry struct {
	rng  acp.Range
	sink Sink
}

func (e entry) active() bool {
	return e.sink != nil
}

// Registry holds at most one sink per cookie. It is not safe for concurrent
// use; the text store drives it from its single thread.
type Registry struct {
	entries []entry
}

// Advise registers sink for r and returns its cookie.
func (r *Registry) Advise(rng acp.Range, sink Sink) (Cookie, error) {
	if sink == nil {
		return 0, ErrNilSink
	}
	if !rng.Valid() {
		return 0, fmt.Errorf("%w: %s", ErrInvalidRange, rng)
	}
	for i, e := range r.entries {
		if !e.active() {
			r.entries[i] = entry{rng: rng, sink: sink}
			return Cookie(i), nil
		}
	}
	r.entries = append(r.entries, entry{rng: rng, sink: sink})
	return Cookie(len(r.entries) - 1), nil
}

// Unadvise removes the sink registered under cookie.
func (r *Registry) Unadvise(cookie Cookie) error {
	i := int(cookie)
	if i >= len(r.entries) || !r.entries[i].active() {
		return fmt.Errorf("%w: %d", ErrUnknownCookie, cookie)
	}
	r.entries[i] = entry{}
	// Trim trailing free slots so cookies stay dense.
	n := len(r.entries)
	for n > 0 && !r.entries[n-1].active() {
		n--
	}
	r.entries = r.entries[:n]
	return nil
}

// Dispatch forwards the event to every sink whose range contains offset,
// stopping at the first one that consumes it.
func (r *Registry) Dispatch(offset, quadrant int, buttons pointer.Buttons) bool {
	// Sinks may unadvise themselves while handling the event.
	for i := 0; i < len(r.entries); i++ {
		e := r.entries[i]
		if !e.active() || !e.rng.Contains(offset) {
			continue
		}
		if e.sink.OnMouseEvent(offset, quadrant, buttons) {
			return true
		}
	}
	return false
}

// Len returns the number of active sinks.
func (r *Registry) Len() int {
	n := 0
	for _, e := range r.entries {
		if e.active() {
			n++
		}
	}
	return n
}

// Clear drops every sink.
func (r *Registry) Clear() {
	r.entries = nil
}

// Quadrant returns which horizontal quarter of a character cell spanning
// [left, right) the x coordinate falls into.
func Quadrant(x, left, right float32) int {
	width := right - left
	if width <= 0 {
		return 0
	}
	q := int((x - left) * 4 / width)
	return min(max(q, 0), 3)
}
