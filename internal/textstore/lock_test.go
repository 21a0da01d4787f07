package textstore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tsfbridge/internal/memdoc"
	"tsfbridge/internal/textstore"
	"tsfbridge/internal/tip"
)

func TestRequestLockWithoutSink(t *testing.T) {
	doc := memdoc.New("abc")
	store, err := textstore.New(doc, nil, nil)
	require.NoError(t, err)

	_, err = store.RequestLock(textstore.LockFlags{Level: textstore.LockRead})
	assert.ErrorIs(t, err, textstore.ErrUnavailable)

	_, err = textstore.New(nil, nil, nil)
	assert.ErrorIs(t, err, textstore.ErrInvalidArgument)
}

func TestRequestLockInvalidLevel(t *testing.T) {
	h := newHarness(t, "abc")
	_, err := h.store.RequestLock(textstore.LockFlags{Level: textstore.LockNone})
	assert.ErrorIs(t, err, textstore.ErrInvalidArgument)
}

func TestReadLockTwiceRejected(t *testing.T) {
	h := newHarness(t, "abc")
	var nested []error
	h.read(t, func() error {
		_, err := h.store.RequestLock(textstore.LockFlags{Level: textstore.LockRead})
		nested = append(nested, err)
		_, err = h.store.RequestLock(textstore.LockFlags{Level: textstore.LockReadWrite})
		nested = append(nested, err)
		return nil
	})
	require.Len(t, nested, 2)
	for _, err := range nested {
		assert.ErrorIs(t, err, textstore.ErrLockConflict)
	}
	assert.Equal(t, uint64(2), h.metrics.LocksRejected.Value())
}

func TestAsyncUpgradeRunsAfterRead(t *testing.T) {
	h := newHarness(t, "abc")
	var log []string
	var status textstore.LockStatus
	var second error

	h.read(t, func() error {
		log = append(log, "read")
		var err error
		status, err = h.tip.EditAsync(func() error {
			log = append(log, "write")
			_, err := h.store.SetText(0, 1, "X")
			return err
		})
		if err != nil {
			return err
		}
		_, second = h.tip.EditAsync(func() error {
			log = append(log, "second write")
			return nil
		})
		log = append(log, "read done")
		return nil
	})

	assert.Equal(t, textstore.LockQueued, status)
	assert.ErrorIs(t, second, textstore.ErrLockConflict)
	assert.Equal(t, []string{"read", "read done", "write"}, log)
	assert.Equal(t, "Xbc", h.doc.Text())
}

func TestProtocolRequiresLock(t *testing.T) {
	h := newHarness(t, "abc")

	_, _, err := h.store.GetText(0, -1, 0)
	assert.ErrorIs(t, err, textstore.ErrNoLock)
	assert.ErrorIs(t, err, textstore.ErrLockConflict)

	h.read(t, func() error {
		_, err := h.store.SetText(0, 1, "x")
		assert.ErrorIs(t, err, textstore.ErrNoLock)
		err = h.store.SetSelection(textstore.Selection{})
		assert.ErrorIs(t, err, textstore.ErrNoLock)
		_, _, err = h.store.InsertTextAtSelection("x", 0)
		assert.ErrorIs(t, err, textstore.ErrNoLock)

		r, change, err := h.store.InsertTextAtSelection("xy", textstore.InsertQueryOnly)
		require.NoError(t, err)
		assert.Equal(t, acpCollapsed(3), r)
		assert.Equal(t, textstore.TextChange{Start: 3, OldEnd: 3, NewEnd: 5}, change)
		return nil
	})
	assert.Equal(t, "abc", h.doc.Text())
}

func TestDestroyDuringSession(t *testing.T) {
	h := newHarness(t, "abc")
	h.write(t, func() error {
		if _, err := h.tip.StartComposition(acpCollapsed(3)); err != nil {
			return err
		}
		if err := h.tip.Compose("de", 2); err != nil {
			return err
		}
		h.store.Destroy()
		assert.True(t, h.store.Destroyed())
		assert.Equal(t, 1, h.registry.Len())
		return nil
	})

	assert.Equal(t, 0, h.registry.Len())
	assert.Equal(t, "abcde", h.doc.Text())
	_, composing := h.doc.Composition()
	assert.False(t, composing)
	assert.Equal(t, 1, h.tip.Terminated)
	assert.Nil(t, h.tip.View())

	_, err := h.store.RequestLock(textstore.LockFlags{Level: textstore.LockRead})
	assert.ErrorIs(t, err, textstore.ErrUnavailable)
}

func TestDestroyDuringRawKey(t *testing.T) {
	h := newHarness(t, "abc")
	h.tip.KeyHandler = func(ev keyEvent) (bool, error) {
		h.store.Destroy()
		assert.Equal(t, 1, h.registry.Len())
		return true, nil
	}
	eaten, err := h.store.HandleRawKey(keyEvent{Name: "A"})
	require.NoError(t, err)
	assert.True(t, eaten)
	assert.Equal(t, 0, h.registry.Len())

	eaten, err = h.store.HandleRawKey(keyEvent{Name: "B"})
	require.NoError(t, err)
	assert.False(t, eaten)
}

var _ textstore.Sink = (*tip.Service)(nil)
var _ textstore.InputContext = (*tip.Service)(nil)
