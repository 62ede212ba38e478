package asyncflow

import (
	"fmt"
	"sync"
	"time"
)

// reconciliationWindow is the bounded wait inserted inside
// NotifyOperationCompleted to absorb a late NotifyOperationStarted (spec
// §4.C, §5, §9). It is a package constant, not a configurable option, per
// spec §5 "implementations must expose no public API to change it."
const reconciliationWindow = 3 * time.Second

// Operation is the non-generic facet of AsyncOperation (spec §4.C) used by
// schedulers and combinators that drive child operations without needing
// their typed result.
type Operation interface {
	Name() string
	State() OperationState
	FailureCause() error
	Cancel()
	WaitForStarted() bool
	WaitForStartedTimeout(timeout time.Duration) bool
	WaitForFinished() bool
	WaitForFinishedTimeout(timeout time.Duration) bool
	AddStateChangeListener(l OperationListener)
	RemoveStateChangeListener(l OperationListener)

	// permitToStart is the scheduler-facing half of the submit/permit
	// handshake (spec §4.C, §4.E). It is unexported because only a
	// Scheduler in this package is meant to call it.
	permitToStart() bool
}

// OperationHooks are the user-supplied bodies driving a BaseOperation[R]
// (spec §9 Design Notes: "a template struct parameterized by two hook
// closures").
type OperationHooks[R any] struct {
	Name string
	// Start runs once the operation is permitted to start. It may either
	// run the body synchronously and return its outcome (a non-nil error
	// is translated to NotifyOperationFailed), or spawn a worker and
	// return nil immediately, with the worker calling the op's Notify*
	// methods itself (spec §4.C "permitToStart ... invokes startOperation
	// outside the lock; any thrown error is translated to
	// notifyOperationFailed").
	Start func(op *BaseOperation[R]) error
	// Stop is invoked by Cancel when the operation is RUNNING (spec §4.C).
	// It must return promptly; its job is to ask the body to stop, not to
	// wait for it. Cancel moves the operation to CANCELLED as soon as Stop
	// returns, so a later NotifyOperationCancelled from the body is ignored.
	Stop func()
}

// OperationOptions configures the ambient collaborators of a
// BaseOperation[R] (spec §6).
type OperationOptions struct {
	Executor  Executor
	Scheduler Scheduler
	Logger    Logger
}

// BaseOperation is the concrete AsyncOperation state machine (spec §4.C):
// a one-shot, cancellable computation with a typed result, tolerant of
// out-of-order start/completion notifications.
type BaseOperation[R any] struct {
	name      string
	startHook func(op *BaseOperation[R]) error
	stopHook  func()
	scheduler Scheduler

	mu          sync.Mutex
	cond        *sync.Cond
	state       opInternalState
	everRunning bool
	result      R
	cause       error

	listeners []OperationListener
	dispatch  *dispatchQueue
	logger    Logger
}

var _ Operation = (*BaseOperation[struct{}])(nil)

// NewOperation creates a BaseOperation[R] driven by hooks.
func NewOperation[R any](hooks OperationHooks[R], opts *OperationOptions) *BaseOperation[R] {
	if opts == nil {
		opts = &OperationOptions{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = NewLogger(LoggerAOP)
	}
	o := &BaseOperation[R]{
		name:      hooks.Name,
		startHook: hooks.Start,
		stopHook:  hooks.Stop,
		scheduler: opts.Scheduler,
		state:     opNotStarted,
		logger:    logger,
		dispatch:  newDispatchQueue(opts.Executor),
	}
	o.cond = sync.NewCond(&o.mu)
	return o
}

func (o *BaseOperation[R]) Name() string { return o.name }

// Start begins the operation (spec §4.C). Precondition: internal state is
// NOT_STARTED; a CANCELLED operation is permitted as an idempotent ignore.
// If a Scheduler is attached, Start submits the operation and returns once
// submission is acknowledged (not once the operation finishes); otherwise
// it calls permitToStart directly.
func (o *BaseOperation[R]) Start() error {
	o.mu.Lock()
	if o.state == opCancelled {
		o.mu.Unlock()
		return nil
	}
	if o.state != opNotStarted {
		cur := o.state.public()
		o.mu.Unlock()
		return illegalStateErrorf("operation %q: cannot start from %s", o.name, cur)
	}
	o.state = opScheduling
	o.cond.Broadcast()
	o.mu.Unlock()

	if o.scheduler != nil {
		if err := o.scheduler.Submit(o); err != nil {
			wrapped := schedulerRejectionErrorf(err)
			o.mu.Lock()
			if !o.state.terminal() {
				o.transitionLocked(opFailed, wrapped)
				o.cond.Broadcast()
			}
			o.mu.Unlock()
			return wrapped
		}
		return nil
	}

	o.permitToStart()
	return nil
}

// permitToStart is called by a Scheduler (or directly by Start when no
// Scheduler is attached). It transitions SCHEDULING->STARTING and invokes
// the Start hook outside the lock. If the operation is no longer SCHEDULING
// (for instance Cancel already moved it to CANCELLED), it returns false
// without a transition and without running the hook.
func (o *BaseOperation[R]) permitToStart() bool {
	o.mu.Lock()
	if o.state != opScheduling {
		o.mu.Unlock()
		return false
	}
	o.state = opStarting
	o.cond.Broadcast()
	o.mu.Unlock()

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("operation %q: panic in start hook: %v", o.name, r)
			}
		}()
		if o.startHook != nil {
			err = o.startHook(o)
		}
	}()

	if err != nil {
		o.NotifyOperationFailed(err)
	}
	return true
}

// Cancel requests cancellation (spec §4.C, §5). It is always safe to call,
// at any time, any number of times, and never throws. Cancelling before
// the body has started (NOT_STARTED/SCHEDULING/STARTING) transitions
// directly to CANCELLED without invoking the Stop hook. Cancelling a
// RUNNING operation invokes Stop and transitions to CANCELLED once it
// returns (synchronous cancellation, see DESIGN.md Open Questions).
func (o *BaseOperation[R]) Cancel() {
	o.mu.Lock()
	switch {
	case o.state.terminal():
		o.mu.Unlock()
		return
	case o.state == opNotStarted || o.state == opScheduling || o.state == opStarting:
		o.transitionLocked(opCancelled, nil)
		o.cond.Broadcast()
		o.mu.Unlock()
		return
	case o.state == opCancelling:
		// Already converging to CANCELLED; idempotent no-op (spec L2).
		o.mu.Unlock()
		return
	default: // opRunning
		o.state = opCancelling
		o.cond.Broadcast()
		o.mu.Unlock()
	}

	if o.stopHook != nil {
		safeInvoke(o.logger, o.stopHook)
	}

	o.mu.Lock()
	if !o.state.terminal() {
		o.transitionLocked(opCancelled, nil)
		o.cond.Broadcast()
	}
	o.mu.Unlock()
}

// NotifyOperationStarted is called by the body when its start prelude
// completes (spec §4.C). Ignored if the operation is no longer STARTING
// (it may already be terminal, having completed/failed/cancelled before
// this notification was processed -- spec's out-of-order tolerance).
func (o *BaseOperation[R]) NotifyOperationStarted() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != opStarting {
		return
	}
	o.transitionLocked(opRunning, nil)
	o.cond.Broadcast()
}

// NotifyOperationCompleted is called by the body with its result (spec
// §4.C). If the operation is still STARTING, this waits up to the
// reconciliation window for the STARTED notification that is expected to
// precede it; if that window elapses, the state is force-transitioned to
// RUNNING first (spec §7 ReconciliationTimeout, logged at warn), so
// observers always see {RUNNING, COMPLETED} in order (spec P6). Already
// terminal operations ignore the call (J4).
func (o *BaseOperation[R]) NotifyOperationCompleted(result R) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.terminal() {
		return
	}
	if o.state == opStarting {
		dl := deadline(reconciliationWindow)
		for o.state == opStarting {
			remain := remaining(dl)
			if remain <= 0 {
				break
			}
			condWaitTimeout(o.cond, remain)
		}
		if o.state == opStarting {
			o.logger.Warn("reconciliation window elapsed before started notification",
				"name", o.name, "window", reconciliationWindow)
			o.transitionLocked(opRunning, nil)
		}
	}
	if o.state != opRunning && o.state != opCancelling {
		return
	}
	o.result = result
	o.transitionLocked(opCompleted, nil)
	o.cond.Broadcast()
}

// NotifyOperationCancelled is called by the body (or a ThreadedOperation
// wrapper) to report cooperative cancellation (spec §4.C). Already
// CANCELLED operations ignore the call.
func (o *BaseOperation[R]) NotifyOperationCancelled() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.terminal() {
		return
	}
	o.transitionLocked(opCancelled, nil)
	o.cond.Broadcast()
}

// NotifyOperationFailed is called by the body (or permitToStart) to report
// a failure (spec §4.C). Already-terminal operations ignore the call.
func (o *BaseOperation[R]) NotifyOperationFailed(cause error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.terminal() {
		return
	}
	o.transitionLocked(opFailed, rootCause(cause))
	o.cond.Broadcast()
}

func (o *BaseOperation[R]) notStartedYet(s opInternalState) bool {
	return s == opNotStarted || s == opScheduling || s == opStarting
}

// WaitForStarted blocks until the operation has left its pre-start states
// (it may by then already be terminal).
func (o *BaseOperation[R]) WaitForStarted() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for o.notStartedYet(o.state) {
		o.cond.Wait()
	}
	return true
}

// WaitForStartedTimeout is WaitForStarted bounded by timeout.
func (o *BaseOperation[R]) WaitForStartedTimeout(timeout time.Duration) bool {
	dl := deadline(timeout)
	o.mu.Lock()
	defer o.mu.Unlock()
	for o.notStartedYet(o.state) {
		remain := remaining(dl)
		if remain <= 0 {
			return !o.notStartedYet(o.state)
		}
		condWaitTimeout(o.cond, remain)
	}
	return true
}

// WaitForFinished blocks until the operation reaches a terminal state.
func (o *BaseOperation[R]) WaitForFinished() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for !o.state.terminal() {
		o.cond.Wait()
	}
	return true
}

// WaitForFinishedTimeout is WaitForFinished bounded by timeout.
func (o *BaseOperation[R]) WaitForFinishedTimeout(timeout time.Duration) bool {
	dl := deadline(timeout)
	o.mu.Lock()
	defer o.mu.Unlock()
	for !o.state.terminal() {
		remain := remaining(dl)
		if remain <= 0 {
			return o.state.terminal()
		}
		condWaitTimeout(o.cond, remain)
	}
	return true
}

func (o *BaseOperation[R]) State() OperationState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.public()
}

func (o *BaseOperation[R]) FailureCause() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cause
}

// Result returns the typed result. It is only valid when State() ==
// OpCompleted; otherwise it returns an IllegalState error (spec J2).
func (o *BaseOperation[R]) Result() (R, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != opCompleted {
		var zero R
		return zero, illegalStateErrorf("operation %q: result not available in state %s", o.name, o.state.public())
	}
	return o.result, nil
}

// AddStateChangeListener registers l. If the operation has already reached
// RUNNING, a synthetic RUNNING event is dispatched to l first; if it has
// already reached a terminal state, the terminal event follows (spec J3,
// P4).
func (o *BaseOperation[R]) AddStateChangeListener(l OperationListener) {
	if l == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listeners = append(o.listeners, l)
	logger := o.logger
	if o.everRunning {
		event := AsyncOperationStateChangeEvent{Operation: o, ToState: OpRunning, Tag: newTag()}
		o.dispatch.enqueue(func() { safeInvoke(logger, func() { l.OnOperationStarted(event) }) })
	}
	if o.state.terminal() {
		event := AsyncOperationStateChangeEvent{Operation: o, ToState: o.state.public(), Cause: o.cause, Tag: newTag()}
		o.dispatch.enqueue(func() { safeInvoke(logger, func() { l.OnOperationFinished(event) }) })
	}
}

// RemoveStateChangeListener requires l to be a comparable value (typically
// a pointer) so it can be located by == among the registered listeners;
// see serviceListenerHandle in combinator_service.go for the
// pointer-identity pattern this implies when removal matters.
func (o *BaseOperation[R]) RemoveStateChangeListener(l OperationListener) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, existing := range o.listeners {
		if existing == l {
			o.listeners = append(o.listeners[:i], o.listeners[i+1:]...)
			return
		}
	}
}

// transitionLocked must be called with o.mu held. It updates the internal
// state and, if the public state changed, enqueues listener dispatch
// (started vs finished) onto the executor-backed queue, preserving
// per-operation total order.
func (o *BaseOperation[R]) transitionLocked(to opInternalState, cause error) {
	from := o.state.public()
	o.state = to
	if cause != nil {
		o.cause = cause
	}
	toPublic := to.public()
	if toPublic == OpRunning {
		o.everRunning = true
	}
	if from == toPublic {
		return
	}
	event := AsyncOperationStateChangeEvent{Operation: o, ToState: toPublic, Cause: cause, Tag: newTag()}
	listeners := make([]OperationListener, len(o.listeners))
	copy(listeners, o.listeners)
	logger := o.logger
	started := toPublic == OpRunning
	o.dispatch.enqueue(func() {
		for _, l := range listeners {
			listener := l
			if started {
				safeInvoke(logger, func() { listener.OnOperationStarted(event) })
			} else {
				safeInvoke(logger, func() { listener.OnOperationFinished(event) })
			}
		}
	})
}
