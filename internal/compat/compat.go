// Package compat holds the table of input processors known to mishandle a
// "layout not ready" answer to text rectangle queries.
//
// Each entry names when a processor misbehaves (Trigger) and how the queried
// range should be narrowed so the text store can answer immediately with a
// rectangle whose layout is already known (Adjustment). New quirks are new
// rows, never new branches in the text store.
package compat

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"tsfbridge/internal/acp"
)

// ProcessorID identifies the active input processor. The zero value means
// the processor is unknown or has no quirks.
type ProcessorID uint16

const (
	ProcessorUnknown ProcessorID = iota
	ProcessorMSJapaneseIME
	ProcessorATOK2016
	ProcessorATOKLegacy
	ProcessorJapanist10
	ProcessorMSChangJie
	ProcessorMSQuick
	ProcessorFreeChangJie
	ProcessorMSPinyin
	ProcessorMSWubi
	ProcessorKoreanIS

	// firstCustomProcessor is the first ID handed out to processors
	// registered from configuration.
	firstCustomProcessor ProcessorID = 0x100
)

// Trigger selects which queries an entry applies to.
type Trigger uint8

const (
	// TriggerAlways applies to every query.
	TriggerAlways Trigger = iota
	// TriggerCaretOnly applies to collapsed queries at the collapsed
	// selection.
	TriggerCaretOnly
	// TriggerInsideComposition applies to queries wholly inside the active
	// composition.
	TriggerInsideComposition
	// TriggerWholeComposition applies to queries covering exactly the active
	// composition.
	TriggerWholeComposition
)

// Adjustment selects how a matching query is narrowed.
type Adjustment uint8

const (
	// AdjustClipToKnownGood narrows to the part of the query before the
	// first modified offset, or to the whole unmodified prefix when the
	// query lies completely after it.
	AdjustClipToKnownGood Adjustment = iota
	// AdjustFirstChar collapses a non-empty query to its start.
	AdjustFirstChar
	// AdjustBeforeModified collapses to the offset just before the first
	// modified character.
	AdjustBeforeModified
	// AdjustCompositionStart collapses to the composition start.
	AdjustCompositionStart
	// AdjustClipToCompositionStart ends the query at the composition start.
	AdjustClipToCompositionStart
)

var triggerNames = map[Trigger]string{
	TriggerAlways:            "always",
	TriggerCaretOnly:         "caret",
	TriggerInsideComposition: "inside-composition",
	TriggerWholeComposition:  "whole-composition",
}

var adjustmentNames = map[Adjustment]string{
	AdjustClipToKnownGood:        "clip-to-known-good",
	AdjustFirstChar:              "first-char",
	AdjustBeforeModified:         "before-modified",
	AdjustCompositionStart:       "composition-start",
	AdjustClipToCompositionStart: "clip-to-composition-start",
}

func (t Trigger) String() string {
	if s, ok := triggerNames[t]; ok {
		return s
	}
	return fmt.Sprintf("trigger(%d)", uint8(t))
}

func (a Adjustment) String() string {
	if s, ok := adjustmentNames[a]; ok {
		return s
	}
	return fmt.Sprintf("adjustment(%d)", uint8(a))
}

// ParseTrigger parses a trigger name as written in configuration.
func ParseTrigger(s string) (Trigger, error) {
	for t, name := range triggerNames {
		if strings.EqualFold(s, name) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown trigger: %s", s)
}

// ParseAdjustment parses an adjustment name as written in configuration.
func ParseAdjustment(s string) (Adjustment, error) {
	for a, name := range adjustmentNames {
		if strings.EqualFold(s, name) {
			return a, nil
		}
	}
	return 0, fmt.Errorf("unknown adjustment: %s", s)
}

// Rule is one quirk of one processor.
type Rule struct {
	Trigger    Trigger
	Adjustment Adjustment
}

// Entry is a row of the table.
type Entry struct {
	ID    ProcessorID
	Name  string
	Rules []Rule
}

// LayoutState is what the text store knows about layout validity when a
// query arrives.
type LayoutState struct {
	// MinModified is the first offset whose layout is stale, or -1.
	MinModified int

	// Composition is the active composition range; valid only when
	// Composing is set.
	Composition acp.Range
	Composing   bool

	// LastComposition is the composition range last sent to the document;
	// valid only when HadComposition is set.
	LastComposition acp.Range
	HadComposition  bool

	// Selection is the current selection; valid only when HasSelection.
	Selection    acp.Range
	HasSelection bool
}

// LayoutChangedAt reports whether the layout at offset is stale.
func (s LayoutState) LayoutChangedAt(offset int) bool {
	return s.MinModified >= 0 && s.MinModified <= offset
}

// builtin mirrors the processors observed to ignore or mishandle a declined
// rect query while positioning their candidate or suggestion windows.
var builtin = []Entry{
	{ID: ProcessorMSJapaneseIME, Name: "ms-japanese-ime", Rules: []Rule{
		{TriggerInsideComposition, AdjustFirstChar},
		{TriggerCaretOnly, AdjustBeforeModified},
	}},
	{ID: ProcessorATOK2016, Name: "atok-2016", Rules: []Rule{
		{TriggerInsideComposition, AdjustCompositionStart},
	}},
	{ID: ProcessorATOKLegacy, Name: "atok-legacy", Rules: []Rule{
		{TriggerInsideComposition, AdjustClipToKnownGood},
	}},
	{ID: ProcessorJapanist10, Name: "japanist-10", Rules: []Rule{
		{TriggerWholeComposition, AdjustCompositionStart},
	}},
	{ID: ProcessorMSChangJie, Name: "ms-changjie", Rules: []Rule{
		{TriggerAlways, AdjustClipToCompositionStart},
	}},
	{ID: ProcessorMSQuick, Name: "ms-quick", Rules: []Rule{
		{TriggerAlways, AdjustClipToCompositionStart},
	}},
	{ID: ProcessorFreeChangJie, Name: "free-changjie", Rules: []Rule{
		{TriggerAlways, AdjustClipToCompositionStart},
	}},
	{ID: ProcessorMSPinyin, Name: "ms-pinyin", Rules: []Rule{
		{TriggerAlways, AdjustClipToCompositionStart},
	}},
	{ID: ProcessorMSWubi, Name: "ms-wubi", Rules: []Rule{
		{TriggerAlways, AdjustClipToCompositionStart},
	}},
}

// Table maps processors to their quirks. It is safe for concurrent use so a
// configuration reload can replace rows while stores keep querying.
type Table struct {
	mu       sync.RWMutex
	entries  map[ProcessorID]Entry
	byName   map[string]ProcessorID
	disabled map[ProcessorID]bool
	nextID   ProcessorID
}

// NewTable returns a table holding the built-in entries.
func NewTable() *Table {
	t := &Table{
		entries:  make(map[ProcessorID]Entry),
		byName:   make(map[string]ProcessorID),
		disabled: make(map[ProcessorID]bool),
		nextID:   firstCustomProcessor,
	}
	for _, e := range builtin {
		t.entries[e.ID] = e
		t.byName[e.Name] = e.ID
	}
	// Registered for identity lookups only; its quirk lives in the
	// composition styling rules.
	t.byName["korean-is"] = ProcessorKoreanIS
	return t
}

// Lookup resolves a processor name to its ID.
func (t *Table) Lookup(name string) (ProcessorID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.byName[strings.ToLower(name)]
	return id, ok
}

// Name returns the registered name of id.
func (t *Table) Name(id ProcessorID) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for name, v := range t.byName {
		if v == id {
			return name
		}
	}
	return "unknown"
}

// Register adds or replaces the rules of a named processor and returns its
// ID. Unknown names receive a fresh ID.
func (t *Table) Register(name string, rules []Rule) ProcessorID {
	t.mu.Lock()
	defer t.mu.Unlock()
	name = strings.ToLower(name)
	id, ok := t.byName[name]
	if !ok {
		id = t.nextID
		t.nextID++
		t.byName[name] = id
	}
	t.entries[id] = Entry{ID: id, Name: name, Rules: append([]Rule(nil), rules...)}
	return id
}

// SetDisabled switches all quirks of a processor off or back on.
func (t *Table) SetDisabled(id ProcessorID, disabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if disabled {
		t.disabled[id] = true
	} else {
		delete(t.disabled, id)
	}
}

// Entries returns the enabled rows ordered by ID.
func (t *Table) Entries() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Entry, 0, len(t.entries))
	for id, e := range t.entries {
		if t.disabled[id] {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Adjust narrows a rect query for processors listed in the table. When
// mustAnswerNow is false the caller should decline the query normally and r
// is returned unchanged.
func (t *Table) Adjust(id ProcessorID, r acp.Range, st LayoutState) (acp.Range, bool) {
	if id == ProcessorUnknown {
		return r, false
	}
	t.mu.RLock()
	entry, ok := t.entries[id]
	disabled := t.disabled[id]
	t.mu.RUnlock()
	if !ok || disabled {
		return r, false
	}
	for _, rule := range entry.Rules {
		if !rule.Trigger.matches(r, st) {
			continue
		}
		adjusted, ok := rule.Adjustment.apply(r, st)
		if !ok {
			continue
		}
		return settle(adjusted, r.IsCollapsed(), st), true
	}
	return r, false
}

func (t Trigger) matches(r acp.Range, st LayoutState) bool {
	switch t {
	case TriggerAlways:
		return true
	case TriggerCaretOnly:
		return r.IsCollapsed() && st.HasSelection && st.Selection.IsCollapsed() &&
			st.Selection.End == r.End
	case TriggerInsideComposition:
		return st.Composing && st.Composition.Encloses(r)
	case TriggerWholeComposition:
		return st.Composing && st.Composition == r
	}
	return false
}

func (a Adjustment) apply(r acp.Range, st LayoutState) (acp.Range, bool) {
	switch a {
	case AdjustClipToKnownGood:
		if st.MinModified < 0 {
			return r, true
		}
		end := min(r.End, st.MinModified)
		start := r.Start
		if start >= end {
			start = 0
		}
		return acp.Range{Start: start, End: max(end, start)}, true
	case AdjustFirstChar:
		if r.IsCollapsed() {
			return r, false
		}
		return acp.Collapsed(r.Start), true
	case AdjustBeforeModified:
		if st.MinModified < 0 {
			return r, true
		}
		return acp.Collapsed(max(st.MinModified-1, 0)), true
	case AdjustCompositionStart:
		if !st.Composing || st.LayoutChangedAt(st.Composition.Start) {
			return r, false
		}
		return acp.Collapsed(st.Composition.Start), true
	case AdjustClipToCompositionStart:
		if !st.Composing {
			return r, false
		}
		end := st.Composition.Start
		return acp.Range{Start: min(r.Start, end), End: end}, true
	}
	return r, false
}

// settle moves an adjusted range that still starts on stale layout back to
// offsets whose rectangles are most likely cached: inside the last
// composition string when the query is inside the composition, otherwise the
// last unmodified character.
func settle(r acp.Range, collapsed bool, st LayoutState) acp.Range {
	if st.MinModified < 0 || !st.LayoutChangedAt(r.Start) {
		return r
	}
	lastUnmodified := max(st.MinModified-1, 0)
	if st.Composing && r.Start >= st.Composition.Start {
		maxCached := st.Composition.End
		if st.HadComposition {
			maxCached = min(maxCached, st.LastComposition.End)
		}
		r.Start = min(r.Start, maxCached)
	} else {
		r.Start = lastUnmodified
	}
	if collapsed {
		r.End = r.Start
	} else if st.LayoutChangedAt(r.End) && !(st.Composing && st.Composition.Encloses(acp.Collapsed(r.End))) {
		r.End = max(r.Start, lastUnmodified)
	}
	if r.End < r.Start {
		r.End = r.Start
	}
	return r
}
