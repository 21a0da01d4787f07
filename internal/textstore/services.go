package textstore

import (
	"log/slog"
	"sync"

	"tsfbridge/internal/compat"
	"tsfbridge/internal/metrics"
)

// Scheduler runs tasks on a later turn of the store's thread.
type Scheduler interface {
	PostIdle(task func())
}

// ProcessorSource reports the input processor currently active.
type ProcessorSource interface {
	ActiveProcessor() compat.ProcessorID
}

// StaticProcessor is a ProcessorSource that never changes.
type StaticProcessor compat.ProcessorID

// ActiveProcessor returns p.
func (p StaticProcessor) ActiveProcessor() compat.ProcessorID {
	return compat.ProcessorID(p)
}

// Observer sees every command the store sends to its document and every
// notification it sends to the input service.
type Observer interface {
	ActionFlushed(id StoreID, action PendingAction, err error)
	Notified(id StoreID, n Notification)
}

// NotificationKind names a notification sent to the sink.
type NotificationKind uint8

const (
	NotifyText NotificationKind = iota
	NotifySelection
	NotifyLayout
)

// String returns the kind name.
func (k NotificationKind) String() string {
	switch k {
	case NotifyText:
		return "text"
	case NotifySelection:
		return "selection"
	case NotifyLayout:
		return "layout"
	}
	return "unknown"
}

// Notification is a change notification delivered to the sink. Change is
// set for NotifyText only.
type Notification struct {
	Kind   NotificationKind
	Change TextChange
}

// Services carries the platform context shared by the stores of a process.
// Zero fields get working defaults from New.
type Services struct {
	Logger     *slog.Logger
	Metrics    *metrics.StoreMetrics
	Scheduler  Scheduler
	Compat     *compat.Table
	Processors ProcessorSource
	Registry   *Registry
	Observers  []Observer

	// LayoutRetries bounds the layout notifications sent while waiting for
	// a service that saw a not-ready answer. Zero means 8.
	LayoutRetries int
}

func (svc *Services) withDefaults() *Services {
	out := Services{}
	if svc != nil {
		out = *svc
	}
	if out.Logger == nil {
		out.Logger = slog.New(slog.DiscardHandler)
	}
	if out.Scheduler == nil {
		out.Scheduler = &IdleQueue{}
	}
	if out.Compat == nil {
		out.Compat = compat.NewTable()
	}
	if out.Processors == nil {
		out.Processors = StaticProcessor(compat.ProcessorUnknown)
	}
	if out.Registry == nil {
		out.Registry = NewRegistry()
	}
	if out.LayoutRetries <= 0 {
		out.LayoutRetries = maxLayoutRetries
	}
	return &out
}

// IdleQueue is a Scheduler that holds tasks until Run is called.
type IdleQueue struct {
	mu    sync.Mutex
	tasks []func()
}

// PostIdle queues task.
func (q *IdleQueue) PostIdle(task func()) {
	q.mu.Lock()
	q.tasks = append(q.tasks, task)
	q.mu.Unlock()
}

// Run executes the tasks queued so far and returns how many ran. Tasks
// queued while running wait for the next call.
func (q *IdleQueue) Run() int {
	q.mu.Lock()
	tasks := q.tasks
	q.tasks = nil
	q.mu.Unlock()
	for _, task := range tasks {
		task()
	}
	return len(tasks)
}

// Len returns the number of queued tasks.
func (q *IdleQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}
