package asyncflow

import (
	"sync"

	"golang.org/x/sync/errgroup"
)

// Sequential returns an AsyncOperation[R] that runs each of steps in turn,
// building the next step only after the previous one completes (spec
// §4.F). The wrapper's result is the last step's result; a failing or
// cancelled step stops the chain and that outcome becomes the wrapper's
// own. An empty steps list completes immediately with R's zero value.
func Sequential[R any](name string, steps []func() *BaseOperation[R], opts *OperationOptions) *BaseOperation[R] {
	var mu sync.Mutex
	var current Operation
	var cancelled bool

	start := func(op *BaseOperation[R]) error {
		op.NotifyOperationStarted()

		if len(steps) == 0 {
			var zero R
			op.NotifyOperationCompleted(zero)
			return nil
		}

		var runStep func(idx int)
		runStep = func(idx int) {
			mu.Lock()
			if cancelled {
				mu.Unlock()
				return
			}
			step := steps[idx]()
			current = step
			mu.Unlock()

			step.AddStateChangeListener(OperationListenerFuncs{Finished: func(AsyncOperationStateChangeEvent) {
				switch step.State() {
				case OpCancelled:
					op.NotifyOperationCancelled()
				case OpFailed:
					op.NotifyOperationFailed(step.FailureCause())
				case OpCompleted:
					if idx+1 == len(steps) {
						result, _ := step.Result()
						op.NotifyOperationCompleted(result)
						return
					}
					runStep(idx + 1)
				}
			}})

			if err := step.Start(); err != nil {
				op.NotifyOperationFailed(err)
			}
		}
		runStep(0)
		return nil
	}

	stop := func() {
		mu.Lock()
		cancelled = true
		c := current
		mu.Unlock()
		if c != nil {
			c.Cancel()
		}
	}

	return NewOperation(OperationHooks[R]{Name: name, Start: start, Stop: stop}, opts)
}

// Concurrent returns an AsyncOperation[any] that starts every operation in
// ops at once and completes, with a nil result, the moment K of them reach
// any terminal state -- completed, failed, or cancelled all count toward
// the quorum alike (spec §4.F, §9: "K defaults to N"). Once the Kth child
// finishes, every sibling still running is cancelled; the parent itself
// never fails on account of a child's outcome. An empty ops list completes
// immediately. Fan-out is built on golang.org/x/sync/errgroup, one goroutine
// per child, each blocking on its own child's terminal notification.
func Concurrent[R any](name string, ops []*BaseOperation[R], k int, opts *OperationOptions) *BaseOperation[any] {
	if k <= 0 || k > len(ops) {
		k = len(ops)
	}

	start := func(op *BaseOperation[any]) error {
		op.NotifyOperationStarted()

		if len(ops) == 0 {
			op.NotifyOperationCompleted(nil)
			return nil
		}

		var mu sync.Mutex
		finished := 0
		var quorumOnce sync.Once
		var g errgroup.Group

		reachQuorum := func() {
			quorumOnce.Do(func() {
				for _, other := range ops {
					other.Cancel()
				}
				op.NotifyOperationCompleted(nil)
			})
		}

		for _, child := range ops {
			child := child
			g.Go(func() error {
				done := make(chan struct{})
				var once sync.Once
				signal := func() { once.Do(func() { close(done) }) }
				child.AddStateChangeListener(OperationListenerFuncs{Finished: func(AsyncOperationStateChangeEvent) {
					signal()
				}})
				if err := child.Start(); err != nil {
					signal()
				}
				<-done

				mu.Lock()
				finished++
				reached := finished >= k
				mu.Unlock()
				if reached {
					reachQuorum()
				}
				return nil
			})
		}

		go func() { _ = g.Wait() }()
		return nil
	}

	stop := func() {
		for _, child := range ops {
			child.Cancel()
		}
	}

	return NewOperation(OperationHooks[any]{Name: name, Start: start, Stop: stop}, opts)
}

// Backgrounded returns an AsyncOperation[R] that launches inner's Start on
// its own goroutine (spec §4.F), so the wrapper's own Start call never
// blocks on a synchronous inner body.
func Backgrounded[R any](name string, inner *BaseOperation[R], opts *OperationOptions) *BaseOperation[R] {
	start := func(op *BaseOperation[R]) error {
		op.NotifyOperationStarted()
		proxy(op, inner)
		go func() {
			if err := inner.Start(); err != nil {
				op.NotifyOperationFailed(err)
			}
		}()
		return nil
	}

	stop := func() {
		inner.Cancel()
	}

	return NewOperation(OperationHooks[R]{Name: name, Start: start, Stop: stop}, opts)
}

// OnFault returns an AsyncOperation[R] that runs primary, falling back to
// fallback(cause) if and only if primary fails (spec §4.F). A primary that
// completes or is cancelled propagates that outcome directly; the
// fallback's own outcome becomes the wrapper's outcome.
func OnFault[R any](name string, primary *BaseOperation[R], fallback func(cause error) *BaseOperation[R], opts *OperationOptions) *BaseOperation[R] {
	var mu sync.Mutex
	var current Operation = primary

	start := func(op *BaseOperation[R]) error {
		op.NotifyOperationStarted()

		primary.AddStateChangeListener(OperationListenerFuncs{Finished: func(AsyncOperationStateChangeEvent) {
			switch primary.State() {
			case OpCompleted:
				result, _ := primary.Result()
				op.NotifyOperationCompleted(result)
			case OpCancelled:
				op.NotifyOperationCancelled()
			case OpFailed:
				fb := fallback(primary.FailureCause())
				mu.Lock()
				current = fb
				mu.Unlock()
				proxy(op, fb)
				if err := fb.Start(); err != nil {
					op.NotifyOperationFailed(err)
				}
			}
		}})

		return primary.Start()
	}

	stop := func() {
		mu.Lock()
		c := current
		mu.Unlock()
		c.Cancel()
	}

	return NewOperation(OperationHooks[R]{Name: name, Start: start, Stop: stop}, opts)
}
