package script

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"unicode/utf8"

	"gioui.org/io/key"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"tsfbridge/internal/acp"
	"tsfbridge/internal/compat"
	"tsfbridge/internal/memdoc"
	"tsfbridge/internal/metrics"
	"tsfbridge/internal/textstore"
	"tsfbridge/internal/tip"
)

var errNames = []struct {
	name string
	err  error
}{
	{"lock-conflict", textstore.ErrLockConflict},
	{"invalid-argument", textstore.ErrInvalidArgument},
	{"out-of-range", textstore.ErrOutOfRange},
	{"no-selection", textstore.ErrNoSelection},
	{"layout-not-ready", textstore.ErrLayoutNotReady},
	{"unavailable", textstore.ErrUnavailable},
}

func errName(err error) string {
	if err == nil {
		return ""
	}
	for _, e := range errNames {
		if errors.Is(err, e.err) {
			return e.name
		}
	}
	return "other"
}

func checkErrName(name string) error {
	if name == "" {
		return nil
	}
	for _, e := range errNames {
		if e.name == name {
			return nil
		}
	}
	return fmt.Errorf("unknown error name %q", name)
}

// expectErr matches err against the named expectation.
func expectErr(want string, err error) error {
	got := errName(err)
	switch {
	case got == want:
		return nil
	case want == "":
		return err
	case err == nil:
		return fmt.Errorf("want error %s, got none", want)
	default:
		return fmt.Errorf("want error %s, got %w", want, err)
	}
}

var modifierNames = map[string]key.Modifiers{
	"ctrl":    key.ModCtrl,
	"command": key.ModCommand,
	"shift":   key.ModShift,
	"alt":     key.ModAlt,
	"super":   key.ModSuper,
}

// Runner runs scripts. The zero value works.
type Runner struct {
	Logger    *slog.Logger
	Compat    *compat.Table
	Metrics   *metrics.StoreMetrics
	Registry  *textstore.Registry
	Observers []textstore.Observer

	// LayoutRetries is passed to the stores; zero keeps their default.
	LayoutRetries int
	// Remote forces every document into remote mode.
	Remote bool
	// Processor is used by scripts that do not name one.
	Processor string
}

// Result summarizes a run.
type Result struct {
	Name     string
	Store    textstore.StoreID
	Steps    int
	Text     string
	Commands int
	Failures []string
}

// Passed reports whether every expectation held.
func (r *Result) Passed() bool {
	return len(r.Failures) == 0
}

type run struct {
	doc   *memdoc.Doc
	svc   *tip.Service
	store *textstore.TextStore
	idle  *textstore.IdleQueue
	log   *slog.Logger
	res   *Result

	rect       image.Rectangle
	commandsAt int
	notesAt    int
}

// Run replays s on a fresh document. The error reports a step that could
// not be carried out; unmet expectations are in the Result.
func (r *Runner) Run(s *Script) (*Result, error) {
	log := r.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	log = log.With("script", s.Name)

	table := r.Compat
	if table == nil {
		table = compat.NewTable()
	}
	proc, err := r.processor(s, table)
	if err != nil {
		return nil, err
	}

	var opts []memdoc.Option
	if s.Remote || r.Remote {
		opts = append(opts, memdoc.WithRemote())
	}
	x := &run{
		doc:  memdoc.New(s.Text, opts...),
		svc:  tip.New(log),
		idle: &textstore.IdleQueue{},
		log:  log,
		res:  &Result{Name: s.Name},
	}
	x.store, err = textstore.New(x.doc, x.svc, &textstore.Services{
		Logger:        log,
		Metrics:       r.Metrics,
		Scheduler:     x.idle,
		Compat:        table,
		Processors:    textstore.StaticProcessor(proc),
		Registry:      r.Registry,
		Observers:     r.Observers,
		LayoutRetries: r.LayoutRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.Name, err)
	}
	defer x.store.Destroy()
	x.res.Store = x.store.ID()
	x.doc.Attach(x.store)
	if err := x.svc.Attach(x.store); err != nil {
		return nil, fmt.Errorf("%s: %w", s.Name, err)
	}
	x.svc.RequeryLayout = s.RequeryLayout

	for i := range s.Steps {
		if err := x.step(i+1, &s.Steps[i]); err != nil {
			x.finish()
			return x.res, fmt.Errorf("%s: step %d: %w", s.Name, i+1, err)
		}
		x.res.Steps++
	}
	x.finish()
	log.Debug("script finished", "steps", x.res.Steps, "failures", len(x.res.Failures))
	return x.res, nil
}

func (r *Runner) processor(s *Script, table *compat.Table) (compat.ProcessorID, error) {
	name := s.Processor
	if name == "" {
		name = r.Processor
	}
	if len(s.Quirks) > 0 {
		rules := make([]compat.Rule, 0, len(s.Quirks))
		for _, q := range s.Quirks {
			trigger, err := compat.ParseTrigger(q.Trigger)
			if err != nil {
				return 0, fmt.Errorf("%s: %w", s.Name, err)
			}
			adj, err := compat.ParseAdjustment(q.Adjustment)
			if err != nil {
				return 0, fmt.Errorf("%s: %w", s.Name, err)
			}
			rules = append(rules, compat.Rule{Trigger: trigger, Adjustment: adj})
		}
		return table.Register(name, rules), nil
	}
	if name == "" {
		return compat.ProcessorUnknown, nil
	}
	id, ok := table.Lookup(name)
	if !ok {
		return 0, fmt.Errorf("%s: unknown processor %q", s.Name, name)
	}
	return id, nil
}

func (x *run) finish() {
	x.res.Text = x.doc.Text()
	x.res.Commands = len(x.doc.Commands())
}

func rng(v []int) acp.Range {
	return acp.Range{Start: v[0], End: v[1]}
}

func (x *run) step(n int, st *Step) error {
	switch {
	case st.Session != nil:
		return x.session(st.Session)
	case st.Type != nil:
		return x.svc.Type(*st.Type)
	case st.Edit != nil:
		return x.doc.Edit(st.Edit.Start, st.Edit.End, st.Edit.Text)
	case st.Select != nil:
		return x.doc.Select(textstore.Selection{Range: rng(st.Select)})
	case st.Key != nil:
		return x.key(st.Key)
	case st.Commit != nil:
		return x.store.CommitComposition(st.Commit.Discard)
	case st.Pump:
		x.log.Debug("pumped document", "commands", x.doc.Pump())
	case st.Idle:
		x.log.Debug("ran idle tasks", "tasks", x.idle.Run())
	case st.Layout == "pending":
		x.doc.SetLayoutPending()
	case st.Layout == "ready":
		x.doc.CompleteLayout()
	case st.Expect != nil:
		x.check(n, st.Expect)
	}
	return nil
}

func (x *run) session(se *Session) error {
	var opErr error
	fn := func() error {
		for i := range se.Ops {
			if err := x.op(&se.Ops[i]); err != nil {
				opErr = fmt.Errorf("op %d: %w", i+1, err)
				return opErr
			}
		}
		return nil
	}
	var err error
	if se.Async {
		_, err = x.svc.EditAsync(fn)
	} else {
		level := textstore.LockReadWrite
		if se.Lock == "read" {
			level = textstore.LockRead
		}
		err = x.svc.Edit(level, fn)
	}
	if opErr != nil {
		return opErr
	}
	return expectErr(se.Err, err)
}

func (x *run) op(op *Op) error {
	return expectErr(op.Err, x.call(op))
}

func (x *run) call(op *Op) error {
	switch {
	case op.Start != nil:
		_, err := x.svc.StartComposition(rng(op.Start))
		return err
	case op.StartAtSelection:
		sel, err := x.store.GetSelection()
		if err != nil {
			return err
		}
		_, err = x.svc.StartComposition(sel.Range)
		return err
	case op.Compose != nil:
		caret := utf8.RuneCountInString(op.Compose.Text)
		if op.Compose.Caret != nil {
			caret = *op.Compose.Caret
		}
		return x.svc.Compose(op.Compose.Text, caret)
	case op.Select != nil:
		return x.svc.Select(op.Select[0], op.Select[1])
	case op.SetSelection != nil:
		return x.store.SetSelection(textstore.Selection{Range: rng(op.SetSelection)})
	case op.SetText != nil:
		_, err := x.store.SetText(op.SetText.Start, op.SetText.End, op.SetText.Text)
		return err
	case op.Insert != nil:
		_, _, err := x.store.InsertTextAtSelection(*op.Insert, 0)
		return err
	case op.UpdateIncomplete:
		return x.svc.UpdateIncomplete()
	case op.Move != nil:
		return x.svc.MoveComposition(rng(op.Move))
	case op.End:
		return x.svc.EndComposition()
	case op.Rect != nil:
		rect, _, err := x.store.GetTextRect(op.Rect[0], op.Rect[1])
		if err == nil {
			x.rect = rect
		}
		return err
	case op.Session != nil:
		return x.session(op.Session)
	}
	return nil
}

func (x *run) key(k *Key) error {
	ev := key.Event{Name: key.Name(k.Name), State: key.Press}
	for _, m := range k.Modifiers {
		mod, ok := modifierNames[strings.ToLower(m)]
		if !ok {
			return fmt.Errorf("unknown modifier %q", m)
		}
		ev.Modifiers |= mod
	}
	x.svc.KeyHandler = func(key.Event) (bool, error) {
		if k.Type != "" {
			return true, x.svc.Type(k.Type)
		}
		return k.Eat, nil
	}
	defer func() { x.svc.KeyHandler = nil }()
	eaten, err := x.store.HandleRawKey(ev)
	x.log.Debug("raw key", "eaten", eaten)
	return err
}

func (x *run) check(n int, e *Expect) {
	compare := func(what string, want, got any) {
		if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
			x.res.Failures = append(x.res.Failures, fmt.Sprintf("step %d: %s (-want +got):\n%s", n, what, diff))
		}
	}
	if e.Text != nil {
		compare("text", *e.Text, x.doc.Text())
	}
	if e.Selection != nil {
		var got []int
		if sel, ok := x.doc.Selection(); ok {
			got = []int{sel.Range.Start, sel.Range.End}
		}
		compare("selection", e.Selection, got)
	}
	if e.Composition != nil {
		var got []int
		if r, ok := x.doc.Composition(); ok {
			got = []int{r.Start, r.End}
		}
		compare("composition", e.Composition, got)
	}
	if e.Commands != nil {
		cmds := x.doc.Commands()
		var got []string
		for _, c := range cmds[x.commandsAt:] {
			got = append(got, c.Name)
		}
		x.commandsAt = len(cmds)
		compare("commands", e.Commands, got)
	}
	if e.Notifications != nil {
		kinds := x.svc.Kinds()
		var got []string
		for _, k := range kinds[x.notesAt:] {
			got = append(got, k.String())
		}
		x.notesAt = len(kinds)
		compare("notifications", e.Notifications, got)
	}
	if e.Rect != nil {
		compare("rect", e.Rect, []int{x.rect.Min.X, x.rect.Min.Y, x.rect.Max.X, x.rect.Max.Y})
	}
	if e.Pending != nil {
		compare("pending commands", *e.Pending, x.doc.Pending())
	}
}
