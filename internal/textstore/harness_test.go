package textstore_test

import (
	"testing"

	"gioui.org/io/key"
	"github.com/stretchr/testify/require"

	"tsfbridge/internal/acp"
	"tsfbridge/internal/compat"
	"tsfbridge/internal/memdoc"
	"tsfbridge/internal/metrics"
	"tsfbridge/internal/textstore"
	"tsfbridge/internal/tip"
)

type processorVar struct{ id compat.ProcessorID }

func (p *processorVar) ActiveProcessor() compat.ProcessorID { return p.id }

type harness struct {
	doc       *memdoc.Doc
	tip       *tip.Service
	store     *textstore.TextStore
	idle      *textstore.IdleQueue
	registry  *textstore.Registry
	compat    *compat.Table
	processor *processorVar
	metrics   *metrics.StoreMetrics
}

func newHarness(t *testing.T, text string, opts ...memdoc.Option) *harness {
	t.Helper()
	doc := memdoc.New(text, opts...)
	return newHarnessFor(t, doc, doc)
}

// newHarnessFor builds a store over front, a wrapper around doc that may
// intercept some of its methods.
func newHarnessFor(t *testing.T, doc *memdoc.Doc, front textstore.Document) *harness {
	t.Helper()
	h := &harness{
		doc:       doc,
		tip:       tip.New(nil),
		idle:      &textstore.IdleQueue{},
		registry:  textstore.NewRegistry(),
		compat:    compat.NewTable(),
		processor: &processorVar{},
		metrics:   metrics.NewStoreMetrics(metrics.NewRegistry("tsfbridge", "")),
	}
	store, err := textstore.New(front, h.tip, &textstore.Services{
		Metrics:    h.metrics,
		Scheduler:  h.idle,
		Compat:     h.compat,
		Processors: h.processor,
		Registry:   h.registry,
	})
	require.NoError(t, err)
	h.store = store
	h.doc.Attach(store)
	require.NoError(t, h.tip.Attach(store))
	return h
}

func (h *harness) write(t *testing.T, fn func() error) {
	t.Helper()
	require.NoError(t, h.tip.Edit(textstore.LockReadWrite, fn))
}

func (h *harness) read(t *testing.T, fn func() error) {
	t.Helper()
	require.NoError(t, h.tip.Edit(textstore.LockRead, fn))
}

func commandNames(doc *memdoc.Doc) []string {
	var names []string
	for _, c := range doc.Commands() {
		names = append(names, c.Name)
	}
	return names
}

func actionKinds(actions []textstore.PendingAction) []textstore.ActionKind {
	var kinds []textstore.ActionKind
	for _, a := range actions {
		kinds = append(kinds, a.Kind)
	}
	return kinds
}

type keyEvent = key.Event

func acpCollapsed(offset int) acp.Range {
	return acp.Collapsed(offset)
}

