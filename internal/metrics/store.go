package metrics

import "time"

// StoreMetrics holds the text store's metrics. A nil *StoreMetrics is valid
// and records nothing, so stores built without metrics need no checks.
type StoreMetrics struct {
	registry *Registry

	LocksGranted     *Counter
	LocksQueued      *Counter
	LocksRejected    *Counter
	ActionsFlushed   *Counter
	ActionsDropped   *Counter
	LayoutNotReady   *Counter
	CompatAdjusted   *Counter
	ActiveStores     *Gauge
	FlushDuration    *Histogram
	notificationsFor map[string]*Counter
}

var notificationKinds = []string{"text", "selection", "layout"}

// NewStoreMetrics registers the text store metrics in registry.
func NewStoreMetrics(registry *Registry) *StoreMetrics {
	m := &StoreMetrics{
		registry:         registry,
		LocksGranted:     registry.Counter("locks_granted_total", "Document locks granted to the input service", nil),
		LocksQueued:      registry.Counter("locks_queued_total", "Asynchronous read-write upgrades queued behind a read lock", nil),
		LocksRejected:    registry.Counter("locks_rejected_total", "Lock requests rejected as conflicting or unavailable", nil),
		ActionsFlushed:   registry.Counter("actions_flushed_total", "Pending actions sent to the document", nil),
		ActionsDropped:   registry.Counter("actions_dropped_total", "Pending actions dropped because the document went away", nil),
		LayoutNotReady:   registry.Counter("layout_not_ready_total", "Rect and hit-test queries answered with layout not ready", nil),
		CompatAdjusted:   registry.Counter("compat_adjusted_total", "Rect queries answered early for a processor with known quirks", nil),
		ActiveStores:     registry.Gauge("active_stores", "Text stores that have not been destroyed", nil),
		FlushDuration:    registry.Histogram("flush_duration_seconds", "Time spent flushing pending actions", nil, DurationBuckets),
		notificationsFor: make(map[string]*Counter),
	}
	for _, kind := range notificationKinds {
		m.notificationsFor[kind] = registry.Counter("notifications_total",
			"Change notifications delivered to the input service", Labels{"kind": kind})
	}
	return m
}

// Registry returns the registry the metrics live in.
func (m *StoreMetrics) Registry() *Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// LockGranted records a granted lock.
func (m *StoreMetrics) LockGranted() {
	if m != nil {
		m.LocksGranted.Inc()
	}
}

// LockQueued records a queued upgrade.
func (m *StoreMetrics) LockQueued() {
	if m != nil {
		m.LocksQueued.Inc()
	}
}

// LockRejected records a rejected request.
func (m *StoreMetrics) LockRejected() {
	if m != nil {
		m.LocksRejected.Inc()
	}
}

// Flushed records n actions sent and dropped actions lost in a flush that
// took d.
func (m *StoreMetrics) Flushed(sent, dropped int, d time.Duration) {
	if m == nil {
		return
	}
	m.ActionsFlushed.Add(uint64(sent))
	m.ActionsDropped.Add(uint64(dropped))
	m.FlushDuration.ObserveDuration(d)
}

// Notified records a notification of kind "text", "selection" or "layout".
func (m *StoreMetrics) Notified(kind string) {
	if m == nil {
		return
	}
	if c, ok := m.notificationsFor[kind]; ok {
		c.Inc()
	}
}

// NoLayout records a layout-not-ready answer.
func (m *StoreMetrics) NoLayout() {
	if m != nil {
		m.LayoutNotReady.Inc()
	}
}

// Adjusted records a compat adjustment.
func (m *StoreMetrics) Adjusted() {
	if m != nil {
		m.CompatAdjusted.Inc()
	}
}

// StoreCreated increments the active store gauge.
func (m *StoreMetrics) StoreCreated() {
	if m != nil {
		m.ActiveStores.Inc()
	}
}

// StoreReleased decrements the active store gauge.
func (m *StoreMetrics) StoreReleased() {
	if m != nil {
		m.ActiveStores.Dec()
	}
}
