package memdoc

import (
	"image"
	"testing"

	"gioui.org/f32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tsfbridge/internal/acp"
	"tsfbridge/internal/textstore"
)

type recorder struct {
	texts      []textstore.TextChange
	selections []textstore.SelectionChange
	layouts    int
	acks       int
}

func (r *recorder) OnTextChanged(c textstore.TextChange) { r.texts = append(r.texts, c) }
func (r *recorder) OnSelectionChanged(c textstore.SelectionChange) { r.selections = append(r.selections, c) }
func (r *recorder) OnLayoutChanged() { r.layouts++ }
func (r *recorder) OnCompositionEventsHandled() { r.acks++ }

func TestEditAdjustsSelection(t *testing.T) {
	d := New("hello world")
	rec := &recorder{}
	d.Attach(rec)

	require.NoError(t, d.Select(textstore.Selection{Range: acp.Range{Start: 6, End: 11}}))
	require.NoError(t, d.Edit(0, 5, "hi"))

	assert.Equal(t, "hi world", d.Text())
	sel, ok := d.Selection()
	require.True(t, ok)
	assert.Equal(t, acp.Range{Start: 3, End: 8}, sel.Range)
	require.Len(t, rec.texts, 1)
	assert.Equal(t, textstore.TextChange{Start: 0, OldEnd: 5, NewEnd: 2}, rec.texts[0])
	assert.False(t, rec.selections[len(rec.selections)-1].CausedByComposition)
	assert.Equal(t, 1, rec.layouts)

	d.SetLayoutPending()
	require.NoError(t, d.Edit(0, 0, ">"))
	assert.Equal(t, 1, rec.layouts)
	d.CompleteLayout()
	assert.Equal(t, 2, rec.layouts)

	assert.ErrorIs(t, d.Edit(4, 20, "x"), textstore.ErrOutOfRange)
}

func TestCompositionLifecycle(t *testing.T) {
	d := New("abc")
	rec := &recorder{}
	d.Attach(rec)

	require.NoError(t, d.DispatchSetSelection(textstore.Selection{Range: acp.Range{Start: 1, End: 2}}))
	require.NoError(t, d.DispatchStartComposition(acp.Range{Start: 1, End: 2}))
	r, ok := d.Composition()
	require.True(t, ok)
	assert.Equal(t, acp.Range{Start: 1, End: 2}, r)

	require.NoError(t, d.DispatchUpdateComposition("xyz", []textstore.StyledRange{
		{Start: 0, End: 3, Kind: textstore.RangeRawClause},
		{Start: 1, End: 1, Kind: textstore.RangeCaret},
	}))
	assert.Equal(t, "axyzc", d.Text())
	r, _ = d.Composition()
	assert.Equal(t, acp.Range{Start: 1, End: 4}, r)
	sel, _ := d.Selection()
	assert.Equal(t, acp.Collapsed(2), sel.Range)
	last := rec.texts[len(rec.texts)-1]
	assert.True(t, last.CausedOnlyByComposition)

	require.NoError(t, d.DispatchCommitComposition("X"))
	assert.Equal(t, "aXc", d.Text())
	_, ok = d.Composition()
	assert.False(t, ok)
	sel, _ = d.Selection()
	assert.Equal(t, acp.Collapsed(2), sel.Range)

	var names []string
	for _, c := range d.Commands() {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"select", "start", "update", "commit"}, names)
}

func TestRemotePump(t *testing.T) {
	d := New("", WithRemote())
	rec := &recorder{}
	d.Attach(rec)

	require.NoError(t, d.DispatchStartComposition(acp.Range{}))
	require.NoError(t, d.DispatchUpdateComposition("a", nil))
	assert.Equal(t, "", d.Text())
	assert.Equal(t, 2, d.Pending())
	assert.True(t, d.Remote())

	assert.Equal(t, 2, d.Pump())
	assert.Equal(t, "a", d.Text())
	assert.Equal(t, 1, rec.acks)
	assert.Zero(t, d.Pump())
	assert.Equal(t, 1, rec.acks)
}

func TestClosed(t *testing.T) {
	d := New("abc")
	d.Close()
	_, err := d.QueryText(acp.Range{End: 3})
	assert.ErrorIs(t, err, textstore.ErrUnavailable)
	assert.ErrorIs(t, d.DispatchStartComposition(acp.Range{}), textstore.ErrUnavailable)
	assert.Empty(t, d.Commands())
}

func TestLayout(t *testing.T) {
	d := New("abcdef", WithLayout(Layout{CellWidth: 10, CellHeight: 20, Columns: 4, Window: image.Rect(0, 0, 40, 40)}))
	rec := &recorder{}
	d.Attach(rec)

	rect, err := d.QueryTextRect(acp.Range{Start: 1, End: 3})
	require.NoError(t, err)
	assert.Equal(t, image.Rect(10, 0, 30, 20), rect)

	rect, err = d.QueryTextRect(acp.Range{Start: 3, End: 5})
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 40, 40), rect)

	caret, err := d.QueryCaretRect(5)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(10, 20, 10, 40), caret)

	hit, err := d.QueryCharAtPoint(f32.Pt(16, 5))
	require.NoError(t, err)
	assert.Equal(t, 1, hit.Offset)
	assert.Equal(t, 2, hit.CaretOffset)

	hit, err = d.QueryCharAtPoint(f32.Pt(35, 25))
	require.NoError(t, err)
	assert.Equal(t, -1, hit.Offset)
	assert.Equal(t, 6, hit.CaretOffset)

	d.SetLayoutPending()
	_, err = d.QueryTextRect(acp.Range{End: 1})
	assert.ErrorIs(t, err, textstore.ErrLayoutNotReady)
	d.CompleteLayout()
	assert.Equal(t, 1, rec.layouts)
	_, err = d.QueryTextRect(acp.Range{End: 1})
	assert.NoError(t, err)
}
