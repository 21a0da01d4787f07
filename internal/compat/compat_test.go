package compat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tsfbridge/internal/acp"
)

func TestAdjustUnknownProcessorDeclines(t *testing.T) {
	table := NewTable()
	st := LayoutState{MinModified: 3}

	got, answer := table.Adjust(ProcessorUnknown, acp.Range{Start: 5, End: 8}, st)
	assert.False(t, answer)
	assert.Equal(t, acp.Range{Start: 5, End: 8}, got)
}

func TestAdjustClipToKnownGood(t *testing.T) {
	table := NewTable()
	id := table.Register("test-tip", []Rule{{TriggerAlways, AdjustClipToKnownGood}})

	tests := []struct {
		name  string
		query acp.Range
		want  acp.Range
	}{
		{"after modified", acp.Range{Start: 5, End: 8}, acp.Range{Start: 0, End: 3}},
		{"straddling", acp.Range{Start: 1, End: 8}, acp.Range{Start: 1, End: 3}},
		{"before modified", acp.Range{Start: 0, End: 2}, acp.Range{Start: 0, End: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, answer := table.Adjust(id, tt.query, LayoutState{MinModified: 3})
			require.True(t, answer)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAdjustMSJapaneseIME(t *testing.T) {
	table := NewTable()
	st := LayoutState{
		MinModified:  4,
		Composition:  acp.Range{Start: 2, End: 6},
		Composing:    true,
		Selection:    acp.Collapsed(6),
		HasSelection: true,
	}

	// Whole composition query collapses to the first character, which is
	// still laid out.
	got, answer := table.Adjust(ProcessorMSJapaneseIME, acp.Range{Start: 2, End: 6}, st)
	require.True(t, answer)
	assert.Equal(t, acp.Collapsed(2), got)

	// Caret query at the selection falls back to the last unmodified
	// character.
	got, answer = table.Adjust(ProcessorMSJapaneseIME, acp.Collapsed(6), LayoutState{
		MinModified:  4,
		Selection:    acp.Collapsed(6),
		HasSelection: true,
	})
	require.True(t, answer)
	assert.Equal(t, acp.Collapsed(3), got)

	// Queries outside the composition are declined.
	_, answer = table.Adjust(ProcessorMSJapaneseIME, acp.Range{Start: 0, End: 8}, st)
	assert.False(t, answer)
}

func TestAdjustCompositionStartNeedsValidStart(t *testing.T) {
	table := NewTable()
	st := LayoutState{
		MinModified: 2,
		Composition: acp.Range{Start: 2, End: 5},
		Composing:   true,
	}
	_, answer := table.Adjust(ProcessorATOK2016, acp.Range{Start: 3, End: 4}, st)
	assert.False(t, answer, "composition start itself is stale")

	st.MinModified = 3
	got, answer := table.Adjust(ProcessorATOK2016, acp.Range{Start: 3, End: 4}, st)
	require.True(t, answer)
	assert.Equal(t, acp.Collapsed(2), got)
}

func TestAdjustClipToCompositionStart(t *testing.T) {
	table := NewTable()
	st := LayoutState{
		MinModified: 4,
		Composition: acp.Range{Start: 4, End: 7},
		Composing:   true,
	}
	// The composition start keeps its caret rect even though the
	// composition string itself is stale.
	got, answer := table.Adjust(ProcessorMSPinyin, acp.Range{Start: 5, End: 7}, st)
	require.True(t, answer)
	assert.Equal(t, acp.Collapsed(4), got)

	st.MinModified = 6
	got, answer = table.Adjust(ProcessorMSPinyin, acp.Range{Start: 2, End: 7}, st)
	require.True(t, answer)
	assert.Equal(t, acp.Range{Start: 2, End: 4}, got)

	_, answer = table.Adjust(ProcessorMSPinyin, acp.Range{Start: 5, End: 7}, LayoutState{MinModified: 4})
	assert.False(t, answer, "no composition to clip to")
}

func TestDisableAndRegister(t *testing.T) {
	table := NewTable()
	table.SetDisabled(ProcessorMSWubi, true)
	_, answer := table.Adjust(ProcessorMSWubi, acp.Range{Start: 0, End: 1}, LayoutState{
		MinModified: 0, Composing: true, Composition: acp.Range{Start: 0, End: 1},
	})
	assert.False(t, answer)

	id := table.Register("Custom-TIP", []Rule{{TriggerCaretOnly, AdjustBeforeModified}})
	assert.GreaterOrEqual(t, uint16(id), uint16(firstCustomProcessor))
	got, ok := table.Lookup("custom-tip")
	require.True(t, ok)
	assert.Equal(t, id, got)
	assert.Equal(t, "custom-tip", table.Name(id))

	again := table.Register("custom-tip", nil)
	assert.Equal(t, id, again)
	for _, e := range table.Entries() {
		assert.NotEqual(t, ProcessorMSWubi, e.ID)
	}
}

func TestParseNames(t *testing.T) {
	tr, err := ParseTrigger("Inside-Composition")
	require.NoError(t, err)
	assert.Equal(t, TriggerInsideComposition, tr)
	adj, err := ParseAdjustment("first-char")
	require.NoError(t, err)
	assert.Equal(t, AdjustFirstChar, adj)
	_, err = ParseTrigger("sometimes")
	assert.Error(t, err)
}
