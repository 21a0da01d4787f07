// Package tip is a scripted input service. It drives a text store the way
// an input method does, through lock sessions, and records what the store
// tells it.
package tip

import (
	"errors"
	"fmt"
	"image"
	"log/slog"

	"gioui.org/io/key"

	"tsfbridge/internal/acp"
	"tsfbridge/internal/textstore"
)

// ErrNoSession is returned by the edit helpers when no session function is
// waiting for the lock.
var ErrNoSession = errors.New("tip: lock granted without a session")

// View is a composition owned by the service.
type View struct {
	r   acp.Range
	err error
}

// Extent implements textstore.CompositionView.
func (v *View) Extent() (acp.Range, error) {
	return v.r, v.err
}

// Range returns the range the service assigns to the composition.
func (v *View) Range() acp.Range {
	return v.r
}

// Move changes the view's range without telling the store, as a service
// does before reporting an update.
func (v *View) Move(r acp.Range) {
	v.r = r
}

// LayoutQuery is the result of a rect query made from a layout
// notification.
type LayoutQuery struct {
	Range acp.Range
	Rect  image.Rectangle
	Err   error
}

// Service implements textstore.Sink and textstore.InputContext.
type Service struct {
	store *textstore.TextStore
	log   *slog.Logger

	sessions []func(textstore.LockLevel) error
	level    textstore.LockLevel

	view  *View
	attrs []textstore.DisplayAttribute

	// KeyHandler decides which raw keys the service eats. Nil eats none.
	KeyHandler func(ev key.Event) (bool, error)
	// RequeryLayout makes the service ask for the composition rect on every
	// layout notification.
	RequeryLayout bool

	Notifications []textstore.Notification
	LayoutQueries []LayoutQuery
	Terminated    int
}

// New returns a service that logs to logger, or nowhere when it is nil.
func New(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{log: logger.With("component", "tip")}
}

// Attach advises the service's sink on store.
func (s *Service) Attach(store *textstore.TextStore) error {
	if err := store.AdviseSink(s, textstore.MaskAll); err != nil {
		return fmt.Errorf("advise sink: %w", err)
	}
	s.store = store
	return nil
}

// Store returns the attached store.
func (s *Service) Store() *textstore.TextStore {
	return s.store
}

// View returns the active composition view, or nil.
func (s *Service) View() *View {
	return s.view
}

// SetDisplayAttributes replaces the attribute spans the service reports.
func (s *Service) SetDisplayAttributes(attrs ...textstore.DisplayAttribute) {
	s.attrs = attrs
}

// Edit runs fn in a lock session of level.
func (s *Service) Edit(level textstore.LockLevel, fn func() error) error {
	_, err := s.request(textstore.LockFlags{Level: level}, fn)
	return err
}

// EditAsync requests a read-write session for fn that may be queued behind
// the current read session.
func (s *Service) EditAsync(fn func() error) (textstore.LockStatus, error) {
	return s.request(textstore.LockFlags{Level: textstore.LockReadWrite, Async: true}, fn)
}

func (s *Service) request(flags textstore.LockFlags, fn func() error) (textstore.LockStatus, error) {
	n := len(s.sessions)
	s.sessions = append(s.sessions, func(textstore.LockLevel) error { return fn() })
	status, err := s.store.RequestLock(flags)
	if err != nil && len(s.sessions) > n {
		// Rejected requests never run.
		s.sessions = s.sessions[:n]
	}
	return status, err
}

// OnLockGranted implements textstore.Sink.
func (s *Service) OnLockGranted(level textstore.LockLevel) error {
	if len(s.sessions) == 0 {
		return ErrNoSession
	}
	fn := s.sessions[0]
	s.sessions = s.sessions[1:]
	prev := s.level
	s.level = level
	defer func() { s.level = prev }()
	return fn(level)
}

// InSession reports whether a session function is running.
func (s *Service) InSession() bool {
	return s.level != textstore.LockNone
}

// OnTextChange implements textstore.Sink.
func (s *Service) OnTextChange(change textstore.TextChange) {
	s.Notifications = append(s.Notifications, textstore.Notification{Kind: textstore.NotifyText, Change: change})
}

// OnSelectionChange implements textstore.Sink.
func (s *Service) OnSelectionChange() {
	s.Notifications = append(s.Notifications, textstore.Notification{Kind: textstore.NotifySelection})
}

// OnLayoutChange implements textstore.Sink.
func (s *Service) OnLayoutChange() {
	s.Notifications = append(s.Notifications, textstore.Notification{Kind: textstore.NotifyLayout})
	if !s.RequeryLayout || s.view == nil {
		return
	}
	r := s.view.r
	err := s.Edit(textstore.LockRead, func() error {
		rect, _, err := s.store.GetTextRect(r.Start, r.End)
		s.LayoutQueries = append(s.LayoutQueries, LayoutQuery{Range: r, Rect: rect, Err: err})
		return nil
	})
	if err != nil {
		s.log.Debug("layout requery failed", "error", err)
	}
}

// ResetNotifications forgets the recorded notifications and queries.
func (s *Service) ResetNotifications() {
	s.Notifications = nil
	s.LayoutQueries = nil
}

// Kinds returns the kinds of the recorded notifications.
func (s *Service) Kinds() []textstore.NotificationKind {
	kinds := make([]textstore.NotificationKind, 0, len(s.Notifications))
	for _, n := range s.Notifications {
		kinds = append(kinds, n.Kind)
	}
	return kinds
}

// TerminateComposition implements textstore.InputContext.
func (s *Service) TerminateComposition(view textstore.CompositionView) error {
	v, ok := view.(*View)
	if !ok || v != s.view {
		return fmt.Errorf("%w: foreign composition view", textstore.ErrInvalidArgument)
	}
	s.Terminated++
	return s.EndComposition()
}

// DisplayAttributes implements textstore.InputContext.
func (s *Service) DisplayAttributes(r acp.Range) ([]textstore.DisplayAttribute, error) {
	var out []textstore.DisplayAttribute
	for _, a := range s.attrs {
		if _, ok := a.Range.Overlap(r); ok || r.Encloses(a.Range) {
			out = append(out, a)
		}
	}
	return out, nil
}

// KeyDown implements textstore.InputContext.
func (s *Service) KeyDown(ev key.Event) (bool, error) {
	if s.KeyHandler == nil {
		return false, nil
	}
	return s.KeyHandler(ev)
}
