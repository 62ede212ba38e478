package asyncflow

import (
	"context"
	"sync"
	"time"
)

// FailureHandler is the user-supplied policy invoked by NotifyServiceFailed
// (spec §4.A). It receives the failure cause and returns the recovered
// state: ServiceRunning for a silent recovery, ServiceStopped for a clean
// stop, or ServiceFailed to record the failure. The default handler calls
// the Stop hook quietly (discarding any error it returns) and answers
// ServiceFailed.
type FailureHandler func(cause error) ServiceState

// Service represents a restartable activity with the three-state lifecycle
// of spec §3.1: STOPPED, RUNNING, FAILED.
type Service interface {
	Name() string
	Start() error
	Stop() error
	// NotifyServiceFailed is invoked by the subclass/body when it detects a
	// runtime failure that did not originate from the Stop hook returning
	// an error (spec §4.A).
	NotifyServiceFailed(cause error)
	// NotifyServiceInterrupted is invoked when the service's activity has
	// self-stopped outside of Stop (spec §4.A).
	NotifyServiceInterrupted()
	WaitForFinished() bool
	WaitForFinishedTimeout(timeout time.Duration) bool
	State() ServiceState
	IsRunning() bool
	IsStopped() bool
	IsFailed() bool
	FailureCause() error
	AddStateChangeListener(l ServiceListener)
	RemoveStateChangeListener(l ServiceListener)
}

// ServiceHooks are the user-supplied bodies driving a BaseService (spec §9
// Design Notes: "a template struct parameterized by two hook closures",
// replacing the source's inheritance hierarchy of Service subclasses).
type ServiceHooks struct {
	// Name is a friendly identifier used in logs.
	Name string
	// Start runs when the service transitions into STARTING. The service
	// becomes RUNNING, and Start() returns, only once this hook returns, so
	// it must return once the service is up; a long-running body belongs in
	// a goroutine (NewThreadedService's Start hook launches one and returns).
	Start ContextHook
	// Stop gracefully shuts the service down.
	Stop ContextHook
	// FailureHandler overrides the default failure-recovery policy.
	FailureHandler FailureHandler
}

// ServiceOptions configures the ambient collaborators of a BaseService
// (spec §6).
type ServiceOptions struct {
	Executor Executor
	Logger   Logger
}

// BaseService is the concrete Service state machine (spec §4.A).
type BaseService struct {
	hooks ServiceHooks

	mu    sync.Mutex
	cond  *sync.Cond
	state serviceInternalState
	cause error

	listeners []ServiceListener
	dispatch  *dispatchQueue
	logger    Logger
}

var _ Service = (*BaseService)(nil)

// NewService creates a BaseService driven by hooks. A nil opts (or a zero
// ServiceOptions) uses the package default Executor and a zerolog-backed
// Logger named "STARTABLE".
func NewService(hooks ServiceHooks, opts *ServiceOptions) *BaseService {
	if opts == nil {
		opts = &ServiceOptions{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = NewLogger(LoggerStartable)
	}
	if hooks.FailureHandler == nil {
		stop := hooks.Stop
		hooks.FailureHandler = func(error) ServiceState {
			if stop != nil {
				_ = stop(context.Background())
			}
			return ServiceFailed
		}
	}
	s := &BaseService{
		hooks:    hooks,
		state:    svcStopped,
		logger:   logger,
		dispatch: newDispatchQueue(opts.Executor),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *BaseService) Name() string { return s.hooks.Name }

// Start starts the service (spec §4.A). Precondition: public state is
// STOPPED or FAILED; otherwise returns an IllegalState error. On hook
// failure, the service transitions to FAILED and the (unwrapped) cause is
// both stored and returned synchronously to the caller.
func (s *BaseService) Start() error {
	s.mu.Lock()
	if s.state != svcStopped && s.state != svcFailed {
		cur := s.state.public()
		s.mu.Unlock()
		return illegalStateErrorf("service %q: cannot start from %s", s.hooks.Name, cur)
	}
	from := s.state.public()
	s.state = svcStarting
	s.logger.Debug("starting", "name", s.hooks.Name)
	s.mu.Unlock()

	var err error
	if s.hooks.Start != nil {
		err = s.hooks.Start(context.Background())
	}

	if err != nil {
		cause := rootCause(err)
		s.mu.Lock()
		s.state = svcFailed
		s.cause = cause
		s.emitLocked(from, ServiceFailed, cause)
		s.cond.Broadcast()
		s.mu.Unlock()
		s.logger.Error(cause, "start failed", "name", s.hooks.Name)
		return cause
	}

	s.mu.Lock()
	s.state = svcRunning
	s.emitLocked(from, ServiceRunning, nil)
	s.cond.Broadcast()
	s.mu.Unlock()
	s.logger.Info("started", "name", s.hooks.Name)
	return nil
}

// Stop gracefully shuts the service down (spec §4.A). If the public state
// is not RUNNING, Stop blocks until any in-flight STARTING/STOPPING/FAILING
// transition resolves and then returns nil without invoking the Stop hook.
func (s *BaseService) Stop() error {
	s.mu.Lock()
	for s.state.transient() {
		s.cond.Wait()
	}
	if s.state.public() != ServiceRunning {
		s.mu.Unlock()
		return nil
	}
	s.state = svcStopping
	s.logger.Debug("stopping", "name", s.hooks.Name)
	s.mu.Unlock()

	var err error
	if s.hooks.Stop != nil {
		err = s.hooks.Stop(context.Background())
	}

	if err != nil {
		cause := rootCause(err)
		s.mu.Lock()
		s.state = svcFailed
		s.cause = cause
		s.emitLocked(ServiceRunning, ServiceFailed, cause)
		s.cond.Broadcast()
		s.mu.Unlock()
		s.logger.Error(cause, "stop failed", "name", s.hooks.Name)
		return cause
	}

	s.mu.Lock()
	s.state = svcStopped
	s.emitLocked(ServiceRunning, ServiceStopped, nil)
	s.cond.Broadcast()
	s.mu.Unlock()
	s.logger.Info("stopped", "name", s.hooks.Name)
	return nil
}

// NotifyServiceFailed is invoked by the subclass when it detects runtime
// failure outside of a hook returning an error (spec §4.A). It waits out
// any transient state, then delegates to the FailureHandler policy:
//
//   - recovered == RUNNING: silent recovery, no event is emitted.
//   - recovered == STOPPED: transitions to STOPPED and emits {from->STOPPED}.
//   - recovered == FAILED (default): records cause, emits {from->FAILED}.
//
// Already-FAILED services ignore the call.
func (s *BaseService) NotifyServiceFailed(cause error) {
	s.mu.Lock()
	for s.state.transient() {
		s.cond.Wait()
	}
	if s.state == svcFailed {
		s.mu.Unlock()
		return
	}
	from := s.state.public()
	s.state = svcFailing
	s.mu.Unlock()

	recovered := s.hooks.FailureHandler(rootCause(cause))

	s.mu.Lock()
	switch recovered {
	case ServiceRunning:
		s.state = svcRunning
	case ServiceStopped:
		s.state = svcStopped
		s.emitLocked(from, ServiceStopped, nil)
	default:
		s.state = svcFailed
		s.cause = rootCause(cause)
		s.emitLocked(from, ServiceFailed, s.cause)
	}
	s.cond.Broadcast()
	s.mu.Unlock()
}

// NotifyServiceInterrupted is invoked when the service's activity has
// self-stopped outside of Stop (spec §4.A). If the service is RUNNING it
// transitions to STOPPED and emits {RUNNING->STOPPED}; otherwise ignored.
func (s *BaseService) NotifyServiceInterrupted() {
	s.mu.Lock()
	for s.state.transient() {
		s.cond.Wait()
	}
	if s.state.public() != ServiceRunning {
		s.mu.Unlock()
		return
	}
	s.state = svcStopped
	s.emitLocked(ServiceRunning, ServiceStopped, nil)
	s.cond.Broadcast()
	s.mu.Unlock()
}

// WaitForFinished blocks until the public state is STOPPED or FAILED.
func (s *BaseService) WaitForFinished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.state.public() == ServiceRunning {
		s.cond.Wait()
	}
	return true
}

// WaitForFinishedTimeout blocks until the public state is STOPPED or
// FAILED, or timeout elapses, returning false in the latter case.
func (s *BaseService) WaitForFinishedTimeout(timeout time.Duration) bool {
	dl := deadline(timeout)
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.state.public() == ServiceRunning {
		remain := remaining(dl)
		if remain <= 0 {
			return s.state.public() != ServiceRunning
		}
		condWaitTimeout(s.cond, remain)
	}
	return true
}

func (s *BaseService) State() ServiceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.public()
}

func (s *BaseService) IsRunning() bool { return s.State() == ServiceRunning }
func (s *BaseService) IsStopped() bool { return s.State() == ServiceStopped }
func (s *BaseService) IsFailed() bool  { return s.State() == ServiceFailed }

func (s *BaseService) FailureCause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

func (s *BaseService) AddStateChangeListener(l ServiceListener) {
	if l == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// RemoveStateChangeListener requires l to be a comparable value (a pointer
// or a plain struct/func value registered directly, not behind a fresh
// closure each call) so it can be located by == among the registered
// listeners; see serviceListenerHandle in combinator_service.go for the
// pointer-identity pattern used internally when removal matters.
func (s *BaseService) RemoveStateChangeListener(l ServiceListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.listeners {
		if existing == l {
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			return
		}
	}
}

// emitLocked must be called with s.mu held. It builds the event and submits
// listener dispatch to the executor-backed queue, preserving per-service
// total order (spec invariant I3).
func (s *BaseService) emitLocked(from, to ServiceState, cause error) {
	if from == to {
		return
	}
	event := ServiceStateChangeEvent{Service: s, From: from, To: to, Cause: cause, Tag: newTag()}
	listeners := make([]ServiceListener, len(s.listeners))
	copy(listeners, s.listeners)
	logger := s.logger
	s.dispatch.enqueue(func() {
		for _, l := range listeners {
			listener := l
			safeInvoke(logger, func() { listener.OnStateChanged(event) })
		}
	})
}
