package textstore_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tsfbridge/internal/acp"
	"tsfbridge/internal/memdoc"
	"tsfbridge/internal/textstore"
)

func TestInsertTextAtSelection(t *testing.T) {
	h := newHarness(t, "hello")
	var (
		inserted acp.Range
		change   textstore.TextChange
	)
	h.write(t, func() error {
		var err error
		inserted, change, err = h.store.InsertTextAtSelection("!", 0)
		if err != nil {
			return err
		}
		text, next, err := h.store.GetText(0, -1, 0)
		require.NoError(t, err)
		assert.Equal(t, "hello!", text)
		assert.Equal(t, 6, next)
		sel, err := h.store.GetSelection()
		require.NoError(t, err)
		assert.Equal(t, acp.Collapsed(6), sel.Range)
		return nil
	})

	assert.Equal(t, acp.Range{Start: 5, End: 6}, inserted)
	assert.Equal(t, textstore.TextChange{Start: 5, OldEnd: 5, NewEnd: 6}, change)
	assert.Equal(t, "hello!", h.doc.Text())
	sel, _ := h.doc.Selection()
	assert.Equal(t, acp.Collapsed(6), sel.Range)
}

func TestSetTextRoundTrip(t *testing.T) {
	h := newHarness(t, "0123456789")
	h.write(t, func() error {
		change, err := h.store.SetText(2, 5, "XYZW")
		require.NoError(t, err)
		assert.Equal(t, textstore.TextChange{Start: 2, OldEnd: 5, NewEnd: 6}, change)

		text, next, err := h.store.GetText(2, 6, 0)
		require.NoError(t, err)
		assert.Equal(t, "XYZW", text)
		assert.Equal(t, 6, next)

		text, next, err = h.store.GetText(0, -1, 3)
		require.NoError(t, err)
		assert.Equal(t, "01X", text)
		assert.Equal(t, 3, next)

		_, err = h.store.SetText(4, 20, "x")
		assert.ErrorIs(t, err, textstore.ErrOutOfRange)
		_, err = h.store.SetText(4, 3, "x")
		assert.ErrorIs(t, err, textstore.ErrInvalidArgument)
		return nil
	})
	assert.Equal(t, "01XYZW56789", h.doc.Text())
}

func TestCompositionLifecycle(t *testing.T) {
	h := newHarness(t, "ab")
	h.write(t, func() error {
		if _, err := h.tip.StartComposition(acp.Collapsed(2)); err != nil {
			return err
		}
		if err := h.tip.Compose("かな", 2); err != nil {
			return err
		}
		r, ok := h.store.CompositionRange()
		require.True(t, ok)
		assert.Equal(t, acp.Range{Start: 2, End: 4}, r)
		return nil
	})
	assert.True(t, h.store.Composing())
	assert.Equal(t, "abかな", h.doc.Text())
	r, ok := h.doc.Composition()
	require.True(t, ok)
	assert.Equal(t, acp.Range{Start: 2, End: 4}, r)

	h.write(t, func() error {
		if err := h.tip.Compose("仮名", 2); err != nil {
			return err
		}
		return h.tip.EndComposition()
	})
	assert.False(t, h.store.Composing())
	assert.Equal(t, "ab仮名", h.doc.Text())
	_, ok = h.doc.Composition()
	assert.False(t, ok)

	want := []string{"select", "start", "update", "update", "commit"}
	if diff := cmp.Diff(want, commandNames(h.doc)); diff != "" {
		t.Errorf("commands (-want +got):\n%s", diff)
	}
	assert.Empty(t, h.store.PendingActions())
}

func TestFlushOrderAcrossReadSessions(t *testing.T) {
	h := newHarness(t, "hello")

	h.read(t, func() error {
		_, err := h.tip.StartComposition(acp.Range{Start: 0, End: 5})
		return err
	})
	h.read(t, func() error {
		v := h.tip.View()
		r := v.Range()
		return h.store.OnCompositionUpdate(v, &r)
	})
	assert.Empty(t, h.doc.Commands())
	want := []textstore.ActionKind{textstore.ActionCompositionStart, textstore.ActionCompositionUpdate}
	assert.Equal(t, want, actionKinds(h.store.PendingActions()))

	h.write(t, func() error {
		if err := h.tip.Compose("HELLO", 5); err != nil {
			return err
		}
		return h.tip.EndComposition()
	})

	if diff := cmp.Diff([]string{"select", "start", "update", "commit"}, commandNames(h.doc)); diff != "" {
		t.Errorf("commands (-want +got):\n%s", diff)
	}
	assert.Equal(t, "HELLO", h.doc.Text())
}

// vanishingDoc loses its window on the first composition update.
type vanishingDoc struct {
	*memdoc.Doc
	textQueries int
}

func (d *vanishingDoc) DispatchUpdateComposition(string, []textstore.StyledRange) error {
	return textstore.ErrUnavailable
}

func (d *vanishingDoc) QueryText(r acp.Range) (string, error) {
	d.textQueries++
	return d.Doc.QueryText(r)
}

func TestFlushDropsRestWhenDocumentVanishes(t *testing.T) {
	doc := memdoc.New("")
	front := &vanishingDoc{Doc: doc}
	h := newHarnessFor(t, doc, front)

	h.write(t, func() error {
		if _, err := h.tip.StartComposition(acp.Collapsed(0)); err != nil {
			return err
		}
		if err := h.tip.Compose("ab", 2); err != nil {
			return err
		}
		return h.tip.EndComposition()
	})

	// The update fails, so the commit behind it is never sent.
	if diff := cmp.Diff([]string{"select", "start"}, commandNames(h.doc)); diff != "" {
		t.Errorf("commands (-want +got):\n%s", diff)
	}
	assert.Empty(t, h.store.PendingActions())
	assert.Equal(t, uint64(1), h.metrics.ActionsFlushed.Value())
	assert.Equal(t, uint64(2), h.metrics.ActionsDropped.Value())

	// The locally composed text is gone; the next read asks the document.
	queries := front.textQueries
	h.read(t, func() error {
		text, _, err := h.store.GetText(0, -1, 0)
		assert.Equal(t, "", text)
		return err
	})
	assert.Greater(t, front.textQueries, queries)
}

func TestRestartOverPendingCommitMerges(t *testing.T) {
	h := newHarness(t, "hello")
	h.write(t, func() error {
		if _, err := h.tip.StartComposition(acp.Collapsed(5)); err != nil {
			return err
		}
		if err := h.tip.Compose("abc", 3); err != nil {
			return err
		}
		if err := h.tip.EndComposition(); err != nil {
			return err
		}
		require.Equal(t, textstore.ActionCompositionEnd, lastAction(h.store).Kind)

		if _, err := h.tip.StartComposition(acp.Range{Start: 5, End: 8}); err != nil {
			return err
		}
		kinds := actionKinds(h.store.PendingActions())
		assert.NotContains(t, kinds, textstore.ActionCompositionEnd)
		assert.Equal(t, 1, count(kinds, textstore.ActionCompositionStart))

		if err := h.tip.Compose("abd", 3); err != nil {
			return err
		}
		return h.tip.EndComposition()
	})

	var commits []string
	for _, c := range h.doc.Commands() {
		if c.Name == "commit" {
			commits = append(commits, c.Text)
		}
	}
	assert.Equal(t, []string{"abd"}, commits)
	assert.Equal(t, "helloabd", h.doc.Text())
}

func TestRepeatedUpdateIsNoop(t *testing.T) {
	h := newHarness(t, "01abc56")
	h.write(t, func() error {
		v, err := h.tip.StartComposition(acp.Range{Start: 2, End: 5})
		if err != nil {
			return err
		}
		r := acp.Range{Start: 2, End: 5}
		require.NoError(t, h.store.OnCompositionUpdate(v, &r))
		before := h.store.PendingActions()
		require.NoError(t, h.store.OnCompositionUpdate(v, &r))
		if diff := cmp.Diff(before, h.store.PendingActions()); diff != "" {
			t.Errorf("second update changed the queue (-before +after):\n%s", diff)
		}
		update := lastAction(h.store)
		assert.Equal(t, "abc", update.Data)
		return nil
	})
}

func TestRestartCommitsOutsideOverlap(t *testing.T) {
	h := newHarness(t, "")
	h.write(t, func() error {
		if _, err := h.tip.StartComposition(acp.Collapsed(0)); err != nil {
			return err
		}
		if err := h.tip.Compose("abcd", 4); err != nil {
			return err
		}
		// The service commits "ab" and keeps composing "cd".
		if err := h.tip.MoveComposition(acp.Range{Start: 2, End: 4}); err != nil {
			return err
		}
		r, ok := h.store.CompositionRange()
		require.True(t, ok)
		assert.Equal(t, acp.Range{Start: 2, End: 4}, r)
		text, _, err := h.store.GetText(0, -1, 0)
		require.NoError(t, err)
		assert.Equal(t, "abcd", text)
		return nil
	})

	assert.Equal(t, "abcd", h.doc.Text())
	r, ok := h.doc.Composition()
	require.True(t, ok)
	assert.Equal(t, acp.Range{Start: 2, End: 4}, r)

	var commits []string
	for _, c := range h.doc.Commands() {
		if c.Name == "commit" {
			commits = append(commits, c.Text)
		}
	}
	assert.Equal(t, []string{"ab"}, commits)
}

func TestRestartDisjointCommitsWholeComposition(t *testing.T) {
	h := newHarness(t, "xyz")
	h.write(t, func() error {
		if _, err := h.tip.StartComposition(acp.Collapsed(3)); err != nil {
			return err
		}
		if err := h.tip.Compose("ab", 2); err != nil {
			return err
		}
		// Touching ranges share no offset.
		if err := h.tip.MoveComposition(acp.Range{Start: 0, End: 3}); err != nil {
			return err
		}
		r, _ := h.store.CompositionRange()
		assert.Equal(t, acp.Range{Start: 0, End: 3}, r)
		sel, err := h.store.GetSelection()
		require.NoError(t, err)
		assert.Equal(t, acp.Collapsed(5), sel.Range)
		return nil
	})
	var commits []string
	for _, c := range h.doc.Commands() {
		if c.Name == "commit" {
			commits = append(commits, c.Text)
		}
	}
	assert.Equal(t, []string{"ab"}, commits)
	r, ok := h.doc.Composition()
	require.True(t, ok)
	assert.Equal(t, acp.Range{Start: 0, End: 3}, r)
}

func TestIncompleteUpdateCompletedAtUnlock(t *testing.T) {
	h := newHarness(t, "")
	h.write(t, func() error {
		if _, err := h.tip.StartComposition(acp.Collapsed(0)); err != nil {
			return err
		}
		if err := h.tip.Compose("a", 1); err != nil {
			return err
		}
		require.NoError(t, h.tip.UpdateIncomplete())
		assert.True(t, lastAction(h.store).Incomplete)
		return nil
	})
	cmds := h.doc.Commands()
	require.NotEmpty(t, cmds)
	last := cmds[len(cmds)-1]
	assert.Equal(t, "update", last.Name)
	assert.Equal(t, "a", last.Text)
}

func TestIncompleteUpdateDroppedAtEnd(t *testing.T) {
	h := newHarness(t, "")
	h.write(t, func() error {
		if _, err := h.tip.StartComposition(acp.Collapsed(0)); err != nil {
			return err
		}
		if err := h.tip.Compose("a", 1); err != nil {
			return err
		}
		require.NoError(t, h.tip.Select(0, 1))
		require.NoError(t, h.tip.UpdateIncomplete())
		return h.tip.EndComposition()
	})
	// The commit carries the final string; the superseded update is not
	// sent.
	assert.Equal(t, []string{"select", "start", "commit"}, commandNames(h.doc))
	assert.Equal(t, "a", h.doc.Text())
}

func TestStyledRanges(t *testing.T) {
	h := newHarness(t, "")
	h.tip.SetDisplayAttributes(
		textstore.DisplayAttribute{Range: acp.Range{Start: 0, End: 2}, Clause: textstore.AttrTargetConverted, Styled: true},
		textstore.DisplayAttribute{Range: acp.Range{Start: 2, End: 4}, Clause: textstore.AttrConverted},
	)
	h.write(t, func() error {
		if _, err := h.tip.StartComposition(acp.Collapsed(0)); err != nil {
			return err
		}
		if err := h.tip.Compose("漢字変換", 1); err != nil {
			return err
		}
		// The caret lies in the styled target clause, which paints it.
		want := []textstore.StyledRange{
			{Start: 0, End: 2, Kind: textstore.RangeSelectedClause, Styled: true},
			{Start: 2, End: 4, Kind: textstore.RangeConvertedClause},
		}
		if diff := cmp.Diff(want, lastAction(h.store).Ranges); diff != "" {
			t.Errorf("ranges (-want +got):\n%s", diff)
		}
		return nil
	})
}

func TestStyledRangesSameStartReplaces(t *testing.T) {
	h := newHarness(t, "")
	h.tip.SetDisplayAttributes(
		textstore.DisplayAttribute{Range: acp.Range{Start: 0, End: 2}, Clause: textstore.AttrTargetConverted},
		textstore.DisplayAttribute{Range: acp.Range{Start: 0, End: 3}, Clause: textstore.AttrConverted},
		textstore.DisplayAttribute{Range: acp.Range{Start: 5, End: 9}, Clause: textstore.AttrInput},
	)
	h.write(t, func() error {
		if _, err := h.tip.StartComposition(acp.Collapsed(0)); err != nil {
			return err
		}
		if err := h.tip.Compose("abcd", 1); err != nil {
			return err
		}
		// The later clause with the same start replaces the target; the
		// span past the composition is clipped away.
		want := []textstore.StyledRange{
			{Start: 0, End: 4, Kind: textstore.RangeConvertedClause},
			{Start: 1, End: 1, Kind: textstore.RangeCaret},
		}
		if diff := cmp.Diff(want, lastAction(h.store).Ranges); diff != "" {
			t.Errorf("ranges (-want +got):\n%s", diff)
		}
		return nil
	})
}

func TestStyledRangesCaretInUnstyledTarget(t *testing.T) {
	h := newHarness(t, "")
	h.tip.SetDisplayAttributes(
		textstore.DisplayAttribute{Range: acp.Range{Start: 0, End: 2}, Clause: textstore.AttrTargetConverted},
		textstore.DisplayAttribute{Range: acp.Range{Start: 2, End: 4}, Clause: textstore.AttrConverted},
	)
	h.write(t, func() error {
		if _, err := h.tip.StartComposition(acp.Collapsed(0)); err != nil {
			return err
		}
		if err := h.tip.Compose("abcd", 1); err != nil {
			return err
		}
		want := []textstore.StyledRange{
			{Start: 0, End: 2, Kind: textstore.RangeSelectedClause},
			{Start: 2, End: 4, Kind: textstore.RangeConvertedClause},
			{Start: 1, End: 1, Kind: textstore.RangeCaret},
		}
		if diff := cmp.Diff(want, lastAction(h.store).Ranges); diff != "" {
			t.Errorf("ranges (-want +got):\n%s", diff)
		}
		return nil
	})
}

func TestSelectionInsideComposition(t *testing.T) {
	h := newHarness(t, "")
	h.write(t, func() error {
		if _, err := h.tip.StartComposition(acp.Collapsed(0)); err != nil {
			return err
		}
		if err := h.tip.Compose("abc", 3); err != nil {
			return err
		}
		// A whole-composition selection from a service that never styles
		// its clauses paints as a selected clause. It is unstyled, so the
		// caret is still sent.
		require.NoError(t, h.tip.Select(0, 3))
		want := []textstore.StyledRange{
			{Start: 0, End: 3, Kind: textstore.RangeSelectedRawClause},
			{Start: 3, End: 3, Kind: textstore.RangeCaret},
		}
		if diff := cmp.Diff(want, lastAction(h.store).Ranges); diff != "" {
			t.Errorf("ranges (-want +got):\n%s", diff)
		}

		err := h.store.SetSelection(textstore.Selection{Range: acp.Range{Start: 0, End: 0}})
		require.NoError(t, err)
		_, err = h.store.SetText(0, 0, "x")
		require.NoError(t, err)
		return nil
	})
	sel, _ := h.doc.Selection()
	assert.Equal(t, acp.Collapsed(1), sel.Range)
}

func TestCommitCompositionDeferredWhileLocked(t *testing.T) {
	h := newHarness(t, "")
	h.write(t, func() error {
		if _, err := h.tip.StartComposition(acp.Collapsed(0)); err != nil {
			return err
		}
		if err := h.tip.Compose("ab", 2); err != nil {
			return err
		}
		require.NoError(t, h.store.CommitComposition(false))
		assert.True(t, h.store.Composing())
		assert.Equal(t, 0, h.tip.Terminated)
		return nil
	})
	assert.Equal(t, 1, h.tip.Terminated)
	assert.False(t, h.store.Composing())
	assert.Equal(t, "ab", h.doc.Text())
	_, composing := h.doc.Composition()
	assert.False(t, composing)
}

func TestCancelComposition(t *testing.T) {
	h := newHarness(t, "x")
	h.write(t, func() error {
		if _, err := h.tip.StartComposition(acp.Collapsed(1)); err != nil {
			return err
		}
		return h.tip.Compose("ab", 2)
	})
	h.tip.ResetNotifications()

	require.NoError(t, h.store.CommitComposition(true))
	assert.False(t, h.store.Composing())
	assert.Equal(t, "x", h.doc.Text())
	require.NotEmpty(t, h.tip.Notifications)
	first := h.tip.Notifications[0]
	assert.Equal(t, textstore.NotifyText, first.Kind)
	assert.Equal(t, textstore.TextChange{Start: 1, OldEnd: 3, NewEnd: 1}, first.Change)
}

func TestRawKeyForwardedBeforeComposition(t *testing.T) {
	h := newHarness(t, "")
	h.tip.KeyHandler = func(ev keyEvent) (bool, error) {
		if ev.Name != "K" {
			return false, nil
		}
		return true, h.tip.Type("k")
	}

	eaten, err := h.store.HandleRawKey(keyEvent{Name: "K"})
	require.NoError(t, err)
	assert.True(t, eaten)
	want := []string{"key", "select", "start", "update", "commit"}
	if diff := cmp.Diff(want, commandNames(h.doc)); diff != "" {
		t.Errorf("commands (-want +got):\n%s", diff)
	}
	assert.Equal(t, "k", h.doc.Text())

	h.doc.ResetCommands()
	eaten, err = h.store.HandleRawKey(keyEvent{Name: "Q"})
	require.NoError(t, err)
	assert.False(t, eaten)
	assert.Empty(t, h.doc.Commands())
}

func TestRawKeyEatenWithoutEdit(t *testing.T) {
	h := newHarness(t, "")
	h.tip.KeyHandler = func(keyEvent) (bool, error) { return true, nil }
	eaten, err := h.store.HandleRawKey(keyEvent{Name: "⇧"})
	require.NoError(t, err)
	assert.True(t, eaten)
	cmds := h.doc.Commands()
	require.Len(t, cmds, 1)
	assert.Equal(t, keyEvent{Name: "⇧"}, cmds[0].Key)
}

func TestInvariantsAcrossSessions(t *testing.T) {
	h := newHarness(t, "abc")
	check := func() {
		t.Helper()
		h.read(t, func() error {
			end, err := h.store.GetEndOffset()
			require.NoError(t, err)
			if r, ok := h.store.CompositionRange(); ok {
				assert.LessOrEqual(t, r.End, end)
				assert.True(t, r.Valid())
			}
			sel, err := h.store.GetSelection()
			require.NoError(t, err)
			assert.True(t, sel.Range.Valid())
			assert.LessOrEqual(t, sel.Range.End, end)
			return nil
		})
	}

	steps := []func() error{
		func() error { _, err := h.tip.StartComposition(acp.Range{Start: 1, End: 2}); return err },
		func() error { return h.tip.Compose("xyzw", 2) },
		func() error { return h.tip.Compose("", 0) },
		func() error { return h.tip.Compose("q", 1) },
		func() error { return h.tip.MoveComposition(acp.Range{Start: 0, End: 2}) },
		func() error { return h.tip.EndComposition() },
		func() error { _, err := h.store.SetText(0, 3, ""); return err },
	}
	for _, step := range steps {
		h.write(t, step)
		check()
	}
	assert.Equal(t, h.doc.Text(), mustText(t, h))
}

func mustText(t *testing.T, h *harness) string {
	t.Helper()
	var text string
	h.read(t, func() error {
		var err error
		text, _, err = h.store.GetText(0, -1, 0)
		return err
	})
	return text
}

func lastAction(s *textstore.TextStore) textstore.PendingAction {
	actions := s.PendingActions()
	if len(actions) == 0 {
		return textstore.PendingAction{}
	}
	return actions[len(actions)-1]
}

func count[T comparable](s []T, v T) int {
	n := 0
	for _, e := range s {
		if e == v {
			n++
		}
	}
	return n
}
