package tip

import (
	"testing"

	"gioui.org/io/key"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tsfbridge/internal/acp"
	"tsfbridge/internal/memdoc"
	"tsfbridge/internal/textstore"
)

func newService(t *testing.T, text string) (*Service, *memdoc.Doc) {
	t.Helper()
	doc := memdoc.New(text)
	svc := New(nil)
	store, err := textstore.New(doc, svc, nil)
	require.NoError(t, err)
	doc.Attach(store)
	require.NoError(t, svc.Attach(store))
	return svc, doc
}

func TestType(t *testing.T) {
	svc, doc := newService(t, "go ")
	require.NoError(t, svc.Type("lang"))
	assert.Equal(t, "go lang", doc.Text())
	assert.Nil(t, svc.View())
	assert.False(t, svc.InSession())
}

func TestHelpersNeedComposition(t *testing.T) {
	svc, _ := newService(t, "")
	err := svc.Edit(textstore.LockReadWrite, func() error {
		assert.ErrorIs(t, svc.Compose("x", 1), textstore.ErrInvalidArgument)
		assert.ErrorIs(t, svc.Select(0, 0), textstore.ErrInvalidArgument)
		assert.ErrorIs(t, svc.UpdateIncomplete(), textstore.ErrInvalidArgument)
		assert.ErrorIs(t, svc.MoveComposition(acp.Range{}), textstore.ErrInvalidArgument)
		assert.NoError(t, svc.EndComposition())
		return nil
	})
	require.NoError(t, err)
}

func TestRejectedRequestDoesNotRun(t *testing.T) {
	svc, _ := newService(t, "")
	ran := false
	err := svc.Edit(textstore.LockRead, func() error {
		assert.True(t, svc.InSession())
		return svc.Edit(textstore.LockRead, func() error {
			ran = true
			return nil
		})
	})
	assert.ErrorIs(t, err, textstore.ErrLockConflict)
	assert.False(t, ran)
	assert.Empty(t, svc.sessions)
}

func TestTerminateForeignView(t *testing.T) {
	svc, _ := newService(t, "")
	assert.ErrorIs(t, svc.TerminateComposition(&View{}), textstore.ErrInvalidArgument)
	assert.Zero(t, svc.Terminated)
}

func TestKeyDown(t *testing.T) {
	svc, _ := newService(t, "")
	eaten, err := svc.KeyDown(key.Event{Name: "A"})
	require.NoError(t, err)
	assert.False(t, eaten)

	svc.KeyHandler = func(ev key.Event) (bool, error) { return ev.Name == "A", nil }
	eaten, err = svc.KeyDown(key.Event{Name: "A"})
	require.NoError(t, err)
	assert.True(t, eaten)
}

func TestDisplayAttributesOverlap(t *testing.T) {
	svc := New(nil)
	svc.SetDisplayAttributes(
		textstore.DisplayAttribute{Range: acp.Range{Start: 0, End: 2}},
		textstore.DisplayAttribute{Range: acp.Range{Start: 4, End: 6}},
	)
	attrs, err := svc.DisplayAttributes(acp.Range{Start: 1, End: 4})
	require.NoError(t, err)
	require.Len(t, attrs, 1)
	assert.Equal(t, acp.Range{Start: 0, End: 2}, attrs[0].Range)
}
