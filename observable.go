package asyncflow

import (
	"sync"
	"time"
)

// ValueInfo is a snapshot of a Variable's value at the moment a listener
// observed it (spec §3.3), paired with a monotonic version so a listener
// can tell whether it has missed an update versus another.
type ValueInfo[T any] struct {
	Value   T
	Version uint64
}

// VariableListener is notified every time a Variable's value changes (spec
// §3.3, §6 listener protocol).
type VariableListener[T any] interface {
	OnValueChanged(info ValueInfo[T])
}

// VariableListenerFunc adapts a plain function to a VariableListener.
type VariableListenerFunc[T any] func(info ValueInfo[T])

func (f VariableListenerFunc[T]) OnValueChanged(info ValueInfo[T]) { f(info) }

// VariableOptions configures the ambient collaborators of a Variable (spec
// §6).
type VariableOptions struct {
	Executor Executor
	Logger   Logger
}

// Variable is an observable value cell (spec §3.3), grounded on the same
// generic result-cell idiom as FutureTask (other_examples' pkg/sync
// future.go) but mutable and repeatedly settable rather than one-shot, and
// sharing the lock-held-transition/dispatch-queue pattern of
// BaseService/BaseOperation so listener delivery order matches the order
// values were actually set in.
type Variable[T any] struct {
	mu        sync.Mutex
	cond      *sync.Cond
	value     T
	version   uint64
	listeners []VariableListener[T]
	dispatch  *dispatchQueue
	logger    Logger
}

// NewVariable creates a Variable holding initial.
func NewVariable[T any](initial T, opts *VariableOptions) *Variable[T] {
	if opts == nil {
		opts = &VariableOptions{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = NewLogger(LoggerVarSimple)
	}
	v := &Variable[T]{value: initial, logger: logger, dispatch: newDispatchQueue(opts.Executor)}
	v.cond = sync.NewCond(&v.mu)
	return v
}

// Get returns the current value.
func (v *Variable[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.value
}

// Info returns the current value together with its version.
func (v *Variable[T]) Info() ValueInfo[T] {
	v.mu.Lock()
	defer v.mu.Unlock()
	return ValueInfo[T]{Value: v.value, Version: v.version}
}

// Set updates the value, bumps the version, wakes every blocked Await, and
// dispatches the new ValueInfo to registered listeners in the order it was
// set (spec §3.3 invariant: listeners observe a total order of updates
// matching the order Set was actually called in, mirroring the per-entity
// ordering guarantee of Service/AsyncOperation events).
func (v *Variable[T]) Set(value T) {
	v.mu.Lock()
	v.value = value
	v.version++
	info := ValueInfo[T]{Value: value, Version: v.version}
	listeners := make([]VariableListener[T], len(v.listeners))
	copy(listeners, v.listeners)
	logger := v.logger
	v.dispatch.enqueue(func() {
		for _, l := range listeners {
			listener := l
			safeInvoke(logger, func() { listener.OnValueChanged(info) })
		}
	})
	v.cond.Broadcast()
	v.mu.Unlock()
}

// AddListener registers l. There is no replay of the current value to a
// newly added listener -- unlike Service/AsyncOperation's terminal-state
// replay (J3), a Variable has no notion of "finished", so there is nothing
// a late listener is owed beyond whatever Set calls happen from here on.
func (v *Variable[T]) AddListener(l VariableListener[T]) {
	if l == nil {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.listeners = append(v.listeners, l)
}

// RemoveListener requires l to be a comparable value (typically a pointer);
// see serviceListenerHandle in combinator_service.go for the pattern.
func (v *Variable[T]) RemoveListener(l VariableListener[T]) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i, existing := range v.listeners {
		if existing == l {
			v.listeners = append(v.listeners[:i], v.listeners[i+1:]...)
			return
		}
	}
}

// Await blocks until predicate holds for the current value, returning the
// satisfying value.
func (v *Variable[T]) Await(predicate func(T) bool) T {
	v.mu.Lock()
	defer v.mu.Unlock()
	for !predicate(v.value) {
		v.cond.Wait()
	}
	return v.value
}

// AwaitTimeout is Await bounded by timeout; ok is false if timeout elapsed
// without predicate ever holding.
func (v *Variable[T]) AwaitTimeout(predicate func(T) bool, timeout time.Duration) (value T, ok bool) {
	dl := deadline(timeout)
	v.mu.Lock()
	defer v.mu.Unlock()
	for !predicate(v.value) {
		remain := remaining(dl)
		if remain <= 0 {
			return v.value, predicate(v.value)
		}
		condWaitTimeout(v.cond, remain)
	}
	return v.value, true
}
