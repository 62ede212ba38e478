package asyncflow

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// Scheduler mediates between an operation's Start and the moment its Start
// hook actually runs, implementing one of the submission policies of spec
// §4.E. Every Scheduler method is safe for concurrent use.
type Scheduler interface {
	// Policy is the scheduler's stable identifier, used in logs and tests
	// ("nowait", "queued", "cancel_previous" -- spec §4.E).
	Policy() string
	// Submit accepts op for scheduling. A non-nil error means op was
	// rejected outright (surfaced to the caller as a SchedulerRejection,
	// spec §7); a nil error only means op was accepted, not that it has
	// started.
	Submit(op Operation) error
	// StopAll cancels every operation currently queued or running under
	// this scheduler and waits for them to finish, aggregating any
	// failures (as opposed to cancellations) into the returned error.
	StopAll() error
	AddListener(l SchedulerListener)
	RemoveListener(l SchedulerListener)
}

// SchedulerListener is notified each time a scheduler accepts a submission
// (spec §4.E "scheduler listeners ... submit-only notification").
type SchedulerListener interface {
	OnOperationSubmitted(op Operation)
}

// SchedulerListenerFunc adapts a plain function to a SchedulerListener.
type SchedulerListenerFunc func(op Operation)

func (f SchedulerListenerFunc) OnOperationSubmitted(op Operation) { f(op) }

type schedulerListeners struct {
	mu        sync.Mutex
	listeners []SchedulerListener
}

func (s *schedulerListeners) add(l SchedulerListener) {
	if l == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *schedulerListeners) remove(l SchedulerListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.listeners {
		if existing == l {
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			return
		}
	}
}

func (s *schedulerListeners) snapshot() []SchedulerListener {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SchedulerListener, len(s.listeners))
	copy(out, s.listeners)
	return out
}

func (s *schedulerListeners) notify(logger Logger, op Operation) {
	for _, l := range s.snapshot() {
		listener := l
		safeInvoke(logger, func() { listener.OnOperationSubmitted(op) })
	}
}

// waitAndCollect cancels and waits for every op in ops, aggregating the
// failure cause of any that end up FAILED (a CANCELLED outcome is expected
// and not an error). Grounded on the teacher's go-multierror usage pattern
// carried forward from error.go.
func waitAndCollect(ops []Operation) error {
	for _, op := range ops {
		op.Cancel()
	}
	var result error
	for _, op := range ops {
		op.WaitForFinished()
		if op.State() == OpFailed {
			result = multierror.Append(result, fmt.Errorf("%s: %w", op.Name(), op.FailureCause()))
		}
	}
	return result
}

// NowaitScheduler starts every submitted operation immediately, with no
// queueing or mutual exclusion (spec §4.E "nowait: fire immediately,
// concurrently").
type NowaitScheduler struct {
	logger    Logger
	listeners schedulerListeners

	mu     sync.Mutex
	active map[Operation]struct{}
}

var _ Scheduler = (*NowaitScheduler)(nil)

func NewNowaitScheduler(logger Logger) *NowaitScheduler {
	if logger == nil {
		logger = NewLogger(LoggerScheduler)
	}
	return &NowaitScheduler{logger: logger, active: make(map[Operation]struct{})}
}

func (s *NowaitScheduler) Policy() string { return "nowait" }

func (s *NowaitScheduler) Submit(op Operation) error {
	s.mu.Lock()
	s.active[op] = struct{}{}
	s.mu.Unlock()

	s.listeners.notify(s.logger, op)

	op.AddStateChangeListener(OperationListenerFuncs{Finished: func(AsyncOperationStateChangeEvent) {
		s.mu.Lock()
		delete(s.active, op)
		s.mu.Unlock()
	}})

	op.permitToStart()
	return nil
}

func (s *NowaitScheduler) StopAll() error {
	s.mu.Lock()
	ops := make([]Operation, 0, len(s.active))
	for op := range s.active {
		ops = append(ops, op)
	}
	s.mu.Unlock()
	return waitAndCollect(ops)
}

func (s *NowaitScheduler) AddListener(l SchedulerListener)    { s.listeners.add(l) }
func (s *NowaitScheduler) RemoveListener(l SchedulerListener) { s.listeners.remove(l) }

// QueuedScheduler runs at most one operation at a time, queueing the rest
// FIFO (spec §4.E "queued: strict FIFO, one at a time").
type QueuedScheduler struct {
	logger    Logger
	listeners schedulerListeners

	mu     sync.Mutex
	active Operation
	queue  []Operation
}

var _ Scheduler = (*QueuedScheduler)(nil)

func NewQueuedScheduler(logger Logger) *QueuedScheduler {
	if logger == nil {
		logger = NewLogger(LoggerScheduler)
	}
	return &QueuedScheduler{logger: logger}
}

func (s *QueuedScheduler) Policy() string { return "queued" }

func (s *QueuedScheduler) Submit(op Operation) error {
	s.mu.Lock()
	startNow := s.active == nil
	if startNow {
		s.active = op
	} else {
		s.queue = append(s.queue, op)
	}
	s.mu.Unlock()

	s.listeners.notify(s.logger, op)

	op.AddStateChangeListener(OperationListenerFuncs{Finished: func(AsyncOperationStateChangeEvent) {
		s.advance(op)
	}})

	if startNow {
		op.permitToStart()
	}
	return nil
}

func (s *QueuedScheduler) advance(finished Operation) {
	s.mu.Lock()
	if s.active != finished {
		s.mu.Unlock()
		return
	}
	var next Operation
	if len(s.queue) > 0 {
		next = s.queue[0]
		s.queue = s.queue[1:]
	}
	s.active = next
	s.mu.Unlock()
	if next != nil {
		next.permitToStart()
	}
}

func (s *QueuedScheduler) StopAll() error {
	s.mu.Lock()
	ops := make([]Operation, 0, 1+len(s.queue))
	if s.active != nil {
		ops = append(ops, s.active)
	}
	ops = append(ops, s.queue...)
	s.queue = nil
	s.mu.Unlock()
	return waitAndCollect(ops)
}

func (s *QueuedScheduler) AddListener(l SchedulerListener)    { s.listeners.add(l) }
func (s *QueuedScheduler) RemoveListener(l SchedulerListener) { s.listeners.remove(l) }

// CancelPreviousScheduler cancels whatever operation is currently active
// the instant a new one is submitted, then starts the new one immediately
// without waiting for the old one to actually finish cancelling (spec
// §4.E "cancel_previous: supersede, don't queue").
type CancelPreviousScheduler struct {
	logger    Logger
	listeners schedulerListeners

	mu     sync.Mutex
	active Operation
}

var _ Scheduler = (*CancelPreviousScheduler)(nil)

func NewCancelPreviousScheduler(logger Logger) *CancelPreviousScheduler {
	if logger == nil {
		logger = NewLogger(LoggerScheduler)
	}
	return &CancelPreviousScheduler{logger: logger}
}

func (s *CancelPreviousScheduler) Policy() string { return "cancel_previous" }

func (s *CancelPreviousScheduler) Submit(op Operation) error {
	s.mu.Lock()
	prev := s.active
	s.active = op
	s.mu.Unlock()

	s.listeners.notify(s.logger, op)

	if prev != nil {
		prev.Cancel()
	}

	op.AddStateChangeListener(OperationListenerFuncs{Finished: func(AsyncOperationStateChangeEvent) {
		s.mu.Lock()
		if s.active == op {
			s.active = nil
		}
		s.mu.Unlock()
	}})

	op.permitToStart()
	return nil
}

func (s *CancelPreviousScheduler) StopAll() error {
	s.mu.Lock()
	op := s.active
	s.active = nil
	s.mu.Unlock()
	if op == nil {
		return nil
	}
	return waitAndCollect([]Operation{op})
}

func (s *CancelPreviousScheduler) AddListener(l SchedulerListener)    { s.listeners.add(l) }
func (s *CancelPreviousScheduler) RemoveListener(l SchedulerListener) { s.listeners.remove(l) }
