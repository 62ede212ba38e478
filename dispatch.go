package asyncflow

import "sync"

// dispatchQueue serializes callbacks submitted by a (possibly concurrent)
// producer onto a single logical consumer lane run through an Executor,
// guaranteeing FIFO delivery order even though an arbitrary Executor makes
// no ordering promise of its own (spec §5: "per-entity event order is
// total ... events are enqueued to the listener bus while the transition
// lock is held"). Only one drain goroutine is ever active per queue.
type dispatchQueue struct {
	executor Executor

	mu      sync.Mutex
	pending []func()
	running bool
}

func newDispatchQueue(executor Executor) *dispatchQueue {
	if executor == nil {
		executor = DefaultExecutor
	}
	return &dispatchQueue{executor: executor}
}

// enqueue appends task to the tail of the queue. Callers enqueue while
// holding their own entity's state lock, so enqueue order matches
// transition order.
func (q *dispatchQueue) enqueue(task func()) {
	q.mu.Lock()
	q.pending = append(q.pending, task)
	start := !q.running
	if start {
		q.running = true
	}
	q.mu.Unlock()
	if start {
		q.executor.Execute(q.drain)
	}
}

func (q *dispatchQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		task := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()
		task()
	}
}

// safeInvoke runs fn, recovering a panic and logging it at warn level
// instead of letting it escape (spec §7 ListenerFailure: "Caught and logged
// at warn; listener remains registered ... never propagates to the
// emitter").
func safeInvoke(logger Logger, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("listener panicked", "recover", r)
		}
	}()
	fn()
}
