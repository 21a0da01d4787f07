// Package memdoc is an in-memory document for the text store.
//
// Text is laid out on a fixed grid of monospaced cells so rect and hit-test
// queries have exact answers. In remote mode dispatched commands are queued
// as if sent to another process and only applied, and acknowledged, when
// Pump is called.
package memdoc

import (
	"fmt"
	"image"
	"slices"

	"gioui.org/f32"
	"gioui.org/io/key"

	"tsfbridge/internal/acp"
	"tsfbridge/internal/textstore"
)

// Listener receives the document's change reports. *textstore.TextStore
// implements it.
type Listener interface {
	OnTextChanged(change textstore.TextChange)
	OnSelectionChanged(change textstore.SelectionChange)
	OnLayoutChanged()
	OnCompositionEventsHandled()
}

// Layout sets the cell grid. Text wraps after Columns cells.
type Layout struct {
	CellWidth  int
	CellHeight int
	Columns    int
	// Window is the visible part of the grid.
	Window image.Rectangle
}

// DefaultLayout is an 80 column grid of 8x16 cells with a window showing
// 25 rows.
var DefaultLayout = Layout{
	CellWidth:  8,
	CellHeight: 16,
	Columns:    80,
	Window:     image.Rect(0, 0, 640, 400),
}

// Command is a command the document received, in arrival order.
type Command struct {
	Name  string
	Text  string
	Range acp.Range
	Key   key.Event
}

// Doc is the in-memory document.
type Doc struct {
	text   []rune
	sel    textstore.Selection
	hasSel bool
	// compose is the composition range, Start -1 when none.
	compose acp.Range

	layout        Layout
	layoutPending bool

	remote   bool
	queue    []func()
	listener Listener
	closed   bool

	commands []Command
}

// Option configures a Doc.
type Option func(*Doc)

// WithRemote makes the document apply commands only when pumped.
func WithRemote() Option {
	return func(d *Doc) { d.remote = true }
}

// WithLayout replaces the default layout.
func WithLayout(l Layout) Option {
	return func(d *Doc) { d.layout = l }
}

// New returns a document holding text with the caret at its end.
func New(text string, opts ...Option) *Doc {
	d := &Doc{
		text:    []rune(text),
		compose: acp.Range{Start: -1, End: -1},
		layout:  DefaultLayout,
		hasSel:  true,
	}
	d.sel = textstore.Selection{Range: acp.Collapsed(len(d.text))}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Attach sets the listener change reports go to.
func (d *Doc) Attach(l Listener) {
	d.listener = l
}

// Close makes every later command fail with textstore.ErrUnavailable.
func (d *Doc) Close() {
	d.closed = true
}

// Text returns the document text.
func (d *Doc) Text() string {
	return string(d.text)
}

// Selection returns the document selection.
func (d *Doc) Selection() (textstore.Selection, bool) {
	return d.sel, d.hasSel
}

// Composition returns the composition range.
func (d *Doc) Composition() (acp.Range, bool) {
	return d.compose, d.compose.Start >= 0
}

// Commands returns the commands received so far.
func (d *Doc) Commands() []Command {
	return slices.Clone(d.commands)
}

// ResetCommands forgets the received commands.
func (d *Doc) ResetCommands() {
	d.commands = nil
}

// Remote implements textstore.Document.
func (d *Doc) Remote() bool {
	return d.remote
}

// QueryText implements textstore.Document.
func (d *Doc) QueryText(r acp.Range) (string, error) {
	if d.closed {
		return "", textstore.ErrUnavailable
	}
	if r.Start < 0 || r.Start > len(d.text) {
		return "", fmt.Errorf("%w: text from %d", textstore.ErrOutOfRange, r.Start)
	}
	end := min(max(r.End, r.Start), len(d.text))
	return string(d.text[r.Start:end]), nil
}

// QuerySelection implements textstore.Document.
func (d *Doc) QuerySelection() (textstore.Selection, error) {
	if d.closed {
		return textstore.Selection{}, textstore.ErrUnavailable
	}
	if !d.hasSel {
		return textstore.Selection{}, textstore.ErrNoSelection
	}
	return d.sel, nil
}

// cellRect returns the cell of offset.
func (d *Doc) cellRect(offset int) image.Rectangle {
	l := d.layout
	col, row := offset%l.Columns, offset/l.Columns
	origin := image.Pt(col*l.CellWidth, row*l.CellHeight)
	return image.Rectangle{Min: origin, Max: origin.Add(image.Pt(l.CellWidth, l.CellHeight))}
}

// QueryTextRect implements textstore.Document.
func (d *Doc) QueryTextRect(r acp.Range) (image.Rectangle, error) {
	if d.closed {
		return image.Rectangle{}, textstore.ErrUnavailable
	}
	if d.layoutPending {
		return image.Rectangle{}, textstore.ErrLayoutNotReady
	}
	if !r.Valid() || r.End > len(d.text) {
		return image.Rectangle{}, fmt.Errorf("%w: rect of %s", textstore.ErrOutOfRange, r)
	}
	if r.IsCollapsed() {
		return d.caretRect(r.Start), nil
	}
	rect := d.cellRect(r.Start)
	for i := r.Start + 1; i < r.End; i++ {
		rect = rect.Union(d.cellRect(i))
	}
	return rect, nil
}

func (d *Doc) caretRect(offset int) image.Rectangle {
	c := d.cellRect(offset)
	c.Max.X = c.Min.X
	return c
}

// QueryCaretRect implements textstore.Document.
func (d *Doc) QueryCaretRect(offset int) (image.Rectangle, error) {
	if d.closed {
		return image.Rectangle{}, textstore.ErrUnavailable
	}
	if d.layoutPending {
		return image.Rectangle{}, textstore.ErrLayoutNotReady
	}
	if offset < 0 || offset > len(d.text) {
		return image.Rectangle{}, fmt.Errorf("%w: caret at %d", textstore.ErrOutOfRange, offset)
	}
	return d.caretRect(offset), nil
}

// QueryCharAtPoint implements textstore.Document.
func (d *Doc) QueryCharAtPoint(pt f32.Point) (textstore.CharHit, error) {
	if d.closed {
		return textstore.CharHit{}, textstore.ErrUnavailable
	}
	if d.layoutPending {
		return textstore.CharHit{}, textstore.ErrLayoutNotReady
	}
	hit := textstore.CharHit{Offset: -1, CaretOffset: -1}
	l := d.layout
	if pt.X < 0 || pt.Y < 0 {
		return hit, nil
	}
	col, row := int(pt.X)/l.CellWidth, int(pt.Y)/l.CellHeight
	if col >= l.Columns {
		return hit, nil
	}
	offset := row*l.Columns + col
	// The nearest caret is the closer edge of the cell, or the end of the
	// text below the last line.
	caret := offset
	if int(pt.X)%l.CellWidth*2 >= l.CellWidth {
		caret++
	}
	hit.CaretOffset = min(caret, len(d.text))
	if offset < len(d.text) {
		hit.Offset = offset
		hit.Rect = d.cellRect(offset)
	}
	return hit, nil
}

// QueryWindowRect implements textstore.Document.
func (d *Doc) QueryWindowRect() (image.Rectangle, error) {
	if d.closed {
		return image.Rectangle{}, textstore.ErrUnavailable
	}
	return d.layout.Window, nil
}

// SetLayoutPending makes rect queries fail with ErrLayoutNotReady until
// CompleteLayout is called.
func (d *Doc) SetLayoutPending() {
	d.layoutPending = true
}

// CompleteLayout finishes a pending layout and reports it.
func (d *Doc) CompleteLayout() {
	d.layoutPending = false
	if d.listener != nil {
		d.listener.OnLayoutChanged()
	}
}

var (
	_ textstore.Document = (*Doc)(nil)
	_ Listener           = (*textstore.TextStore)(nil)
)
