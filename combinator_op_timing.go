package asyncflow

import (
	"sync"
	"sync/atomic"
	"time"
)

// TimedOptions configures Timed, in addition to the shared
// OperationOptions.
type TimedOptions struct {
	OperationOptions
	ScheduledExecutor ScheduledExecutor
}

// TimedOperation is the AsyncOperation[R] returned by Timed. It adds
// IsTimedOut, so a caller can tell a completion reached via onTimeout apart
// from one inner produced on its own (spec §4.F, §8 scenario 6).
type TimedOperation[R any] struct {
	*BaseOperation[R]
	timedOut atomic.Bool
}

// IsTimedOut reports whether timeout elapsed before inner finished on its
// own. It is meaningful once the operation has reached a terminal state.
func (t *TimedOperation[R]) IsTimedOut() bool {
	return t.timedOut.Load()
}

// Timed returns an AsyncOperation[R] that runs inner, racing it against
// timeout (spec §4.F). If inner finishes first, its outcome becomes the
// wrapper's own. If timeout elapses first, inner is cancelled and, if
// onTimeout is non-nil, onTimeout() is started in its place and its result
// becomes the wrapper's; the wrapper always COMPLETES on a timeout (with
// onTimeout's result, or R's zero value if onTimeout is nil), it never
// fails with ErrOperationTimeout (spec §8 scenario 6). IsTimedOut reports
// which path was taken.
func Timed[R any](name string, inner *BaseOperation[R], timeout time.Duration, onTimeout func() *BaseOperation[R], opts *TimedOptions) *TimedOperation[R] {
	if opts == nil {
		opts = &TimedOptions{}
	}
	scheduledExecutor := opts.ScheduledExecutor
	if scheduledExecutor == nil {
		scheduledExecutor = DefaultScheduledExecutor
	}

	result := &TimedOperation[R]{}

	start := func(op *BaseOperation[R]) error {
		op.NotifyOperationStarted()

		// once arbitrates which of "inner finished" and "timeout elapsed"
		// gets to decide the wrapper's outcome -- whichever reaches it
		// first wins, the other branch becomes a no-op (spec §4.F).
		var once sync.Once
		var timer Cancellable

		inner.AddStateChangeListener(OperationListenerFuncs{Finished: func(AsyncOperationStateChangeEvent) {
			once.Do(func() {
				if timer != nil {
					timer.Cancel()
				}
				switch inner.State() {
				case OpCompleted:
					r, _ := inner.Result()
					op.NotifyOperationCompleted(r)
				case OpCancelled:
					op.NotifyOperationCancelled()
				case OpFailed:
					op.NotifyOperationFailed(inner.FailureCause())
				}
			})
		}})

		timer = scheduledExecutor.Schedule(timeout, func() {
			once.Do(func() {
				result.timedOut.Store(true)
				inner.Cancel()
				if onTimeout == nil {
					var zero R
					op.NotifyOperationCompleted(zero)
					return
				}
				fallback := onTimeout()
				fallback.AddStateChangeListener(OperationListenerFuncs{Finished: func(AsyncOperationStateChangeEvent) {
					var zero R
					if fallback.State() == OpCompleted {
						r, _ := fallback.Result()
						op.NotifyOperationCompleted(r)
						return
					}
					op.NotifyOperationCompleted(zero)
				}})
				if err := fallback.Start(); err != nil {
					var zero R
					op.NotifyOperationCompleted(zero)
				}
			})
		})

		return inner.Start()
	}

	stop := func() {
		inner.Cancel()
	}

	result.BaseOperation = NewOperation(OperationHooks[R]{Name: name, Start: start, Stop: stop}, &opts.OperationOptions)
	return result
}

// PeriodicOptions configures Periodic, in addition to the shared
// OperationOptions.
type PeriodicOptions struct {
	OperationOptions
	ScheduledExecutor ScheduledExecutor
}

// PeriodicForever, passed as count, runs Periodic with no tick limit: the
// loop continues until cancelled or a tick fails (spec §4.F).
const PeriodicForever = -1

// Periodic returns an AsyncOperation[R] that invokes factory to build and
// run a fresh inner operation, first after initDelay, then again every
// interDelay after each successful tick, completing the wrapper once count
// ticks have succeeded (spec §4.F: "Periodic(opFactory, initDelay,
// interDelay, count)"). Passing PeriodicForever for count runs until
// cancelled or a tick fails, never completing on its own. A tick that fails
// stops the loop and fails the wrapper with the same cause; a tick that is
// itself cancelled (as happens when Periodic is cancelled mid-tick) ends
// the loop quietly, since the wrapper's own cancellation already accounts
// for it. The wrapper's result is the last successful tick's result.
func Periodic[R any](name string, factory func() *BaseOperation[R], initDelay, interDelay time.Duration, count int, opts *PeriodicOptions) *BaseOperation[R] {
	if opts == nil {
		opts = &PeriodicOptions{}
	}
	scheduledExecutor := opts.ScheduledExecutor
	if scheduledExecutor == nil {
		scheduledExecutor = DefaultScheduledExecutor
	}

	var mu sync.Mutex
	var timer Cancellable
	var current *BaseOperation[R]
	var cancelled bool
	completedTicks := 0

	start := func(op *BaseOperation[R]) error {
		op.NotifyOperationStarted()

		var tick func()
		tick = func() {
			mu.Lock()
			if cancelled {
				mu.Unlock()
				return
			}
			next := factory()
			current = next
			mu.Unlock()

			next.AddStateChangeListener(OperationListenerFuncs{Finished: func(AsyncOperationStateChangeEvent) {
				switch next.State() {
				case OpFailed:
					op.NotifyOperationFailed(next.FailureCause())
					return
				case OpCancelled:
					return
				}

				result, _ := next.Result()

				mu.Lock()
				if cancelled {
					mu.Unlock()
					return
				}
				completedTicks++
				done := count != PeriodicForever && completedTicks >= count
				if !done {
					timer = scheduledExecutor.Schedule(interDelay, tick)
				}
				mu.Unlock()

				if done {
					op.NotifyOperationCompleted(result)
				}
			}})

			if err := next.Start(); err != nil {
				op.NotifyOperationFailed(err)
			}
		}

		if initDelay <= 0 {
			tick()
		} else {
			mu.Lock()
			timer = scheduledExecutor.Schedule(initDelay, tick)
			mu.Unlock()
		}
		return nil
	}

	stop := func() {
		mu.Lock()
		cancelled = true
		t := timer
		c := current
		mu.Unlock()
		if t != nil {
			t.Cancel()
		}
		if c != nil {
			c.Cancel()
		}
	}

	return NewOperation(OperationHooks[R]{Name: name, Start: start, Stop: stop}, &opts.OperationOptions)
}
