// Package acp defines the flat character coordinate space shared by the text
// store, the compatibility table and the mouse registry.
//
// Offsets count Unicode code points, the same unit gioui.org/io/key uses for
// editor selections and snippets.
package acp

import (
	"fmt"

	"gioui.org/io/key"
)

// Range is a half-open [Start, End) span of offsets.
type Range struct {
	Start int
	End   int
}

// Collapsed returns a zero-length range at offset.
func Collapsed(offset int) Range {
	return Range{Start: offset, End: offset}
}

// FromKey converts a gio key.Range, normalizing inverted ranges.
func FromKey(r key.Range) Range {
	if r.Start > r.End {
		r.Start, r.End = r.End, r.Start
	}
	return Range{Start: r.Start, End: r.End}
}

// Key returns the range as a gio key.Range.
func (r Range) Key() key.Range {
	return key.Range{Start: r.Start, End: r.End}
}

// Len returns the number of offsets covered.
func (r Range) Len() int {
	return r.End - r.Start
}

// IsCollapsed reports whether the range is empty.
func (r Range) IsCollapsed() bool {
	return r.Start == r.End
}

// Valid reports whether the range is non-negative and not inverted.
func (r Range) Valid() bool {
	return r.Start >= 0 && r.Start <= r.End
}

// Contains reports whether offset lies in [Start, End).
func (r Range) Contains(offset int) bool {
	return r.Start <= offset && offset < r.End
}

// Encloses reports whether other lies completely inside r. Collapsed ranges
// at either edge count as enclosed.
func (r Range) Encloses(other Range) bool {
	return r.Start <= other.Start && other.End <= r.End
}

// Overlap returns the intersection of r and other. ok is false when the
// ranges share no offset; ranges that only touch at a boundary do not
// overlap.
func (r Range) Overlap(other Range) (Range, bool) {
	start := max(r.Start, other.Start)
	end := min(r.End, other.End)
	if start >= end {
		return Range{}, false
	}
	return Range{Start: start, End: end}, true
}

// Clamp limits the range to [0, length].
func (r Range) Clamp(length int) Range {
	r.Start = min(max(r.Start, 0), length)
	r.End = min(max(r.End, r.Start), length)
	return r
}

// Shift moves both ends by delta.
func (r Range) Shift(delta int) Range {
	return Range{Start: r.Start + delta, End: r.End + delta}
}

func (r Range) String() string {
	return fmt.Sprintf("[%d,%d)", r.Start, r.End)
}

// FirstDifference returns the index of the first rune at which a and b
// differ, or the length of the shorter slice when one is a prefix of the
// other. It returns -1 when both are equal.
func FirstDifference(a, b []rune) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	if len(a) == len(b) {
		return -1
	}
	return n
}
