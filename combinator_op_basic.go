package asyncflow

import (
	"sync"
	"time"
)

// proxy wires inner's outcome onto op's own Notify* calls (spec §4.F):
// every combinator that delegates its entire body to exactly one inner
// operation forwards started/completed/cancelled/failed this way, so the
// wrapper's own listeners see a single coherent lifecycle regardless of
// how many layers of combinator sit between them and the real work.
func proxy[R any](op *BaseOperation[R], inner *BaseOperation[R]) {
	inner.AddStateChangeListener(OperationListenerFuncs{
		Started: func(AsyncOperationStateChangeEvent) {
			op.NotifyOperationStarted()
		},
		Finished: func(AsyncOperationStateChangeEvent) {
			switch inner.State() {
			case OpCompleted:
				result, _ := inner.Result()
				op.NotifyOperationCompleted(result)
			case OpCancelled:
				op.NotifyOperationCancelled()
			case OpFailed:
				op.NotifyOperationFailed(inner.FailureCause())
			}
		},
	})
}

// Nop returns an AsyncOperation[R] that completes immediately with value
// once started (spec §4.F), useful as a neutral element in Sequential and
// Concurrent compositions.
func Nop[R any](name string, value R, opts *OperationOptions) *BaseOperation[R] {
	return NewOperation(OperationHooks[R]{
		Name: name,
		Start: func(op *BaseOperation[R]) error {
			op.NotifyOperationStarted()
			op.NotifyOperationCompleted(value)
			return nil
		},
	}, opts)
}

// Idle returns an AsyncOperation[R] that starts and then runs forever until
// cancelled (spec §4.F), useful as a placeholder leaf in a combinator tree
// or as a deliberately-never-finishing child of OnFault/Backgrounded.
func Idle[R any](name string, opts *OperationOptions) *BaseOperation[R] {
	return NewOperation(OperationHooks[R]{
		Name:  name,
		Start: func(op *BaseOperation[R]) error { op.NotifyOperationStarted(); return nil },
		Stop:  func() {},
	}, opts)
}

// DelayedOptions configures Delayed, in addition to the shared
// OperationOptions.
type DelayedOptions struct {
	OperationOptions
	ScheduledExecutor ScheduledExecutor
}

// Delayed returns an AsyncOperation[R] that waits delay before starting
// inner, proxying inner's lifecycle as its own (spec §4.F). The wrapper
// reports RUNNING as soon as the delay begins (it is busy waiting, not
// idle), so cancelling during the delay runs the ordinary RUNNING->CANCEL
// path: the Stop hook cancels the pending timer before it ever fires inner.
// This is the combinator-level home for what spec §3.2 calls
// DELAYED_CANCELLING (see state.go).
func Delayed[R any](name string, inner *BaseOperation[R], delay time.Duration, opts *DelayedOptions) *BaseOperation[R] {
	if opts == nil {
		opts = &DelayedOptions{}
	}
	scheduledExecutor := opts.ScheduledExecutor
	if scheduledExecutor == nil {
		scheduledExecutor = DefaultScheduledExecutor
	}

	var mu sync.Mutex
	var timer Cancellable
	var fired bool

	start := func(op *BaseOperation[R]) error {
		op.NotifyOperationStarted()
		proxy(op, inner)
		mu.Lock()
		timer = scheduledExecutor.Schedule(delay, func() {
			mu.Lock()
			fired = true
			mu.Unlock()
			if err := inner.Start(); err != nil {
				op.NotifyOperationFailed(err)
			}
		})
		mu.Unlock()
		return nil
	}

	stop := func() {
		mu.Lock()
		t := timer
		wasFired := fired
		mu.Unlock()
		if t != nil && t.Cancel() {
			return
		}
		if wasFired {
			inner.Cancel()
		}
	}

	return NewOperation(OperationHooks[R]{Name: name, Start: start, Stop: stop}, &opts.OperationOptions)
}
