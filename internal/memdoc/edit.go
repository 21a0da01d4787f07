package memdoc

import (
	"fmt"
	"slices"

	"gioui.org/io/key"

	"tsfbridge/internal/acp"
	"tsfbridge/internal/textstore"
)

// replace swaps r for text, moving the selection and composition the way
// an editor would, and returns the change.
func (d *Doc) replace(r acp.Range, text string) textstore.TextChange {
	runes := []rune(text)
	newEnd := r.Start + len(runes)
	adjust := func(pos int) int {
		switch {
		case newEnd < pos && pos <= r.End:
			return newEnd
		case r.End < pos:
			return pos + newEnd - r.End
		}
		return pos
	}
	d.sel.Range.Start = adjust(d.sel.Range.Start)
	d.sel.Range.End = adjust(d.sel.Range.End)
	if d.compose.Start != -1 {
		d.compose.Start = adjust(d.compose.Start)
		d.compose.End = adjust(d.compose.End)
	}
	d.text = slices.Concat(d.text[:r.Start], runes, d.text[r.End:])
	return textstore.TextChange{Start: r.Start, OldEnd: r.End, NewEnd: newEnd}
}

func (d *Doc) clamp(r acp.Range) acp.Range {
	return r.Clamp(len(d.text))
}

// reportText reports c, followed by the new layout unless layout is held
// back by SetLayoutPending.
func (d *Doc) reportText(c textstore.TextChange) {
	if d.listener == nil {
		return
	}
	d.listener.OnTextChanged(c)
	if !d.layoutPending {
		d.listener.OnLayoutChanged()
	}
}

func (d *Doc) reportSelection(byComposition bool) {
	if d.listener != nil {
		d.listener.OnSelectionChanged(textstore.SelectionChange{
			Selection:           d.sel,
			Empty:               !d.hasSel,
			CausedByComposition: byComposition,
		})
	}
}

// Edit replaces [start, end) with text as if typed by the user or changed by
// a script.
func (d *Doc) Edit(start, end int, text string) error {
	r := acp.Range{Start: start, End: end}
	if !r.Valid() || r.End > len(d.text) {
		return fmt.Errorf("%w: edit %s", textstore.ErrOutOfRange, r)
	}
	c := d.replace(r, text)
	d.reportText(c)
	d.reportSelection(false)
	return nil
}

// Select moves the selection as if the user did.
func (d *Doc) Select(sel textstore.Selection) error {
	if !sel.Range.Valid() || sel.Range.End > len(d.text) {
		return fmt.Errorf("%w: select %s", textstore.ErrOutOfRange, sel.Range)
	}
	d.sel, d.hasSel = sel, true
	d.reportSelection(false)
	return nil
}

// ClearSelection removes the selection.
func (d *Doc) ClearSelection() {
	d.hasSel = false
	d.reportSelection(false)
}

// send runs apply now, or queues it for Pump on a remote document.
func (d *Doc) send(cmd Command, apply func()) error {
	if d.closed {
		return textstore.ErrUnavailable
	}
	d.commands = append(d.commands, cmd)
	if d.remote {
		d.queue = append(d.queue, apply)
		return nil
	}
	apply()
	return nil
}

// Pending returns the number of commands a remote document has not
// applied yet.
func (d *Doc) Pending() int {
	return len(d.queue)
}

// Pump applies the queued commands of a remote document and acknowledges
// them. It returns how many were applied.
func (d *Doc) Pump() int {
	queue := d.queue
	d.queue = nil
	for _, apply := range queue {
		apply()
	}
	if len(queue) > 0 && d.listener != nil {
		d.listener.OnCompositionEventsHandled()
	}
	return len(queue)
}

// DispatchSetSelection implements textstore.Document.
func (d *Doc) DispatchSetSelection(sel textstore.Selection) error {
	return d.send(Command{Name: "select", Range: sel.Range}, func() {
		d.sel = textstore.Selection{Range: d.clamp(sel.Range), Reversed: sel.Reversed, WritingMode: d.sel.WritingMode}
		d.hasSel = true
		d.reportSelection(false)
	})
}

// DispatchStartComposition implements textstore.Document.
func (d *Doc) DispatchStartComposition(r acp.Range) error {
	return d.send(Command{Name: "start", Range: r}, func() {
		d.compose = d.clamp(r)
	})
}

// DispatchUpdateComposition implements textstore.Document.
func (d *Doc) DispatchUpdateComposition(text string, ranges []textstore.StyledRange) error {
	return d.send(Command{Name: "update", Text: text}, func() {
		if d.compose.Start < 0 {
			return
		}
		c := d.replace(d.clamp(d.compose), text)
		c.CausedOnlyByComposition = true
		start := d.compose.Start
		d.compose = acp.Range{Start: start, End: c.NewEnd}
		caret := acp.Collapsed(c.NewEnd)
		for _, r := range ranges {
			if r.Kind == textstore.RangeCaret {
				caret = acp.Range{Start: start + r.Start, End: start + r.End}
			}
		}
		d.sel = textstore.Selection{Range: d.clamp(caret), WritingMode: d.sel.WritingMode}
		d.hasSel = true
		d.reportText(c)
		d.reportSelection(true)
	})
}

// DispatchCommitComposition implements textstore.Document.
func (d *Doc) DispatchCommitComposition(text string) error {
	return d.send(Command{Name: "commit", Text: text}, func() {
		if d.compose.Start < 0 {
			return
		}
		c := d.replace(d.clamp(d.compose), text)
		c.CausedOnlyByComposition = true
		d.compose = acp.Range{Start: -1, End: -1}
		d.sel = textstore.Selection{Range: acp.Collapsed(c.NewEnd), WritingMode: d.sel.WritingMode}
		d.hasSel = true
		d.reportText(c)
		d.reportSelection(true)
	})
}

// DispatchKey implements textstore.Document. Keys are only recorded.
func (d *Doc) DispatchKey(ev key.Event) error {
	return d.send(Command{Name: "key", Key: ev}, func() {})
}
