// Package busmon publishes text store traffic as D-Bus signals so desktop
// tools can watch a session live. Signals carry kinds, offsets and lengths
// only, never document text.
package busmon

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"unicode/utf8"

	"github.com/godbus/dbus/v5"

	"tsfbridge/internal/textstore"
)

// Defaults used when Options leave them empty.
const (
	DefaultPath      = dbus.ObjectPath("/org/tsfbridge/Monitor")
	DefaultInterface = "org.tsfbridge.Monitor"
)

// Signal names, relative to the interface.
const (
	SignalActionFlushed = "ActionFlushed"
	SignalNotified      = "Notified"
)

// ErrInvalidPath is returned for malformed object paths.
var ErrInvalidPath = errors.New("busmon: invalid object path")

// Emitter sends a signal. *dbus.Conn implements it.
type Emitter interface {
	Emit(path dbus.ObjectPath, name string, values ...interface{}) error
}

// Options configure a Monitor.
type Options struct {
	Path      dbus.ObjectPath
	Interface string
	Logger    *slog.Logger
}

// Monitor is a textstore.Observer that emits a signal per observed event.
type Monitor struct {
	emitter Emitter
	path    dbus.ObjectPath
	iface   string
	log     *slog.Logger

	actions       atomic.Uint64
	notifications atomic.Uint64
	failed        atomic.Uint64
}

var _ textstore.Observer = (*Monitor)(nil)

// New returns a monitor emitting through e.
func New(e Emitter, opts Options) (*Monitor, error) {
	m := &Monitor{emitter: e, path: opts.Path, iface: opts.Interface, log: opts.Logger}
	if m.path == "" {
		m.path = DefaultPath
	}
	if !m.path.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, m.path)
	}
	if m.iface == "" {
		m.iface = DefaultInterface
	}
	if m.log == nil {
		m.log = slog.New(slog.DiscardHandler)
	}
	return m, nil
}

// Path returns the object path signals come from.
func (m *Monitor) Path() dbus.ObjectPath {
	return m.path
}

// ActionFlushed emits ActionFlushed(store t, kind s, offset i, length i,
// runes i, error s).
func (m *Monitor) ActionFlushed(id textstore.StoreID, a textstore.PendingAction, err error) {
	m.actions.Add(1)
	errText := ""
	if err != nil {
		errText = err.Error()
	}
	m.emit(SignalActionFlushed, uint64(id), a.Kind.String(),
		int32(a.Offset), int32(a.Length), int32(utf8.RuneCountInString(a.Data)), errText)
}

// Notified emits Notified(store t, kind s, start i, old_end i, new_end i,
// by_composition b).
func (m *Monitor) Notified(id textstore.StoreID, n textstore.Notification) {
	m.notifications.Add(1)
	m.emit(SignalNotified, uint64(id), n.Kind.String(),
		int32(n.Change.Start), int32(n.Change.OldEnd), int32(n.Change.NewEnd), n.Change.CausedOnlyByComposition)
}

func (m *Monitor) emit(signal string, values ...interface{}) {
	if err := m.emitter.Emit(m.path, m.iface+"."+signal, values...); err != nil {
		// Only the first failure is logged; a dead bus would flood the log.
		if m.failed.Add(1) == 1 {
			m.log.Warn("monitor signal failed", "signal", signal, "error", err)
		}
	}
}

// Stats is the exported method object; it answers Counts calls on the
// monitor's path.
type Stats struct {
	m *Monitor
}

// Counts returns the number of actions, notifications and failed emits.
func (s Stats) Counts() (uint64, uint64, uint64, *dbus.Error) {
	return s.m.actions.Load(), s.m.notifications.Load(), s.m.failed.Load(), nil
}

// Stats returns the method object for Export.
func (m *Monitor) Stats() Stats {
	return Stats{m: m}
}
