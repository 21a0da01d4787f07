package textstore

import (
	"gioui.org/io/key"
)

// HandleRawKey offers ev to the input service. When the service eats the
// key the document receives it once as an already handled key, queued ahead
// of the composition changes it caused. Destroy calls made meanwhile are
// completed when the outermost HandleRawKey returns.
func (s *TextStore) HandleRawKey(ev key.Event) (bool, error) {
	if s.destroyed || s.ctx == nil {
		return false, nil
	}
	saved := s.keys
	s.keys.depth = saved.depth + 1
	s.keys.current = &ev
	s.keys.forwarded = false

	eaten, err := s.ctx.KeyDown(ev)
	if err == nil && eaten {
		s.maybeForwardKey()
	}

	s.keys.depth = saved.depth
	s.keys.current = saved.current
	s.keys.forwarded = saved.forwarded
	s.maybeRelease()
	if err != nil {
		return false, err
	}
	return eaten, nil
}

// maybeForwardKey forwards the key being handled, once. Inside a session it
// is queued; otherwise it goes to the document directly.
func (s *TextStore) maybeForwardKey() {
	if s.keys.current == nil || s.keys.forwarded || s.released {
		return
	}
	s.keys.forwarded = true
	ev := *s.keys.current
	if s.canRecord() {
		s.actions = append(s.actions, PendingAction{Kind: ActionForwardKey, Key: ev})
		return
	}
	err := s.doc.DispatchKey(ev)
	for _, o := range s.svc.Observers {
		o.ActionFlushed(s.id, PendingAction{Kind: ActionForwardKey, Key: ev}, err)
	}
	if err != nil {
		s.log.Warn("forwarding handled key failed", "key", ev.Name, "error", err)
	}
}
