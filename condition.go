package asyncflow

import (
	"sync"
	"time"
)

// Condition is a future-style predicate over a Service's or AsyncOperation's
// state (spec §4.H): it can be polled without blocking, or awaited with or
// without a timeout. It is built the same way BaseService/BaseOperation
// build their own waits -- a sync.Cond broadcast on every observed state
// change -- so it works against any Service/Operation implementation, not
// just the ones in this package.
type Condition struct {
	evaluate func() bool
	mu       sync.Mutex
	cond     *sync.Cond
}

func newCondition(evaluate func() bool) *Condition {
	c := &Condition{evaluate: evaluate}
	c.cond = sync.NewCond(&c.mu)
	return c
}

func (c *Condition) signal() {
	c.mu.Lock()
	c.cond.Broadcast()
	c.mu.Unlock()
}

// Evaluate reports whether the condition currently holds, without blocking.
func (c *Condition) Evaluate() bool {
	return c.evaluate()
}

// Await blocks until the condition holds.
func (c *Condition) Await() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for !c.evaluate() {
		c.cond.Wait()
	}
	return true
}

// AwaitTimeout blocks until the condition holds or timeout elapses,
// returning false in the latter case.
func (c *Condition) AwaitTimeout(timeout time.Duration) bool {
	dl := deadline(timeout)
	c.mu.Lock()
	defer c.mu.Unlock()
	for !c.evaluate() {
		remain := remaining(dl)
		if remain <= 0 {
			return c.evaluate()
		}
		condWaitTimeout(c.cond, remain)
	}
	return true
}

// ServiceStateIs returns a Condition that holds once svc's public state
// matches any of states (spec §4.H). The listener it registers on svc
// removes itself the first time the condition is satisfied -- once that
// happens, any future Await/AwaitTimeout call observes it immediately via
// Evaluate without needing another wakeup, so there is nothing left for the
// listener to watch for and no reason to keep it registered for svc's
// remaining lifetime.
func ServiceStateIs(svc Service, states ...ServiceState) *Condition {
	c := newCondition(func() bool {
		cur := svc.State()
		for _, s := range states {
			if cur == s {
				return true
			}
		}
		return false
	})
	var handle *serviceListenerHandle
	handle = &serviceListenerHandle{fn: func(ServiceStateChangeEvent) {
		c.signal()
		if c.Evaluate() {
			svc.RemoveStateChangeListener(handle)
		}
	}}
	svc.AddStateChangeListener(handle)
	return c
}

// operationListenerHandle wraps a closure behind a pointer so an
// AsyncOperation listener can later remove itself, for the same reason
// serviceListenerHandle exists: OperationListenerFuncs embeds func fields,
// which are not comparable, so == lookup inside RemoveStateChangeListener
// requires pointer identity instead.
type operationListenerHandle struct {
	started  func(AsyncOperationStateChangeEvent)
	finished func(AsyncOperationStateChangeEvent)
}

func (h *operationListenerHandle) OnOperationStarted(e AsyncOperationStateChangeEvent) {
	if h.started != nil {
		h.started(e)
	}
}

func (h *operationListenerHandle) OnOperationFinished(e AsyncOperationStateChangeEvent) {
	if h.finished != nil {
		h.finished(e)
	}
}

// OperationStateIs returns a Condition that holds once op's public state
// matches any of states (spec §4.H), with the same self-deregistering
// listener behavior as ServiceStateIs.
func OperationStateIs(op Operation, states ...OperationState) *Condition {
	c := newCondition(func() bool {
		cur := op.State()
		for _, s := range states {
			if cur == s {
				return true
			}
		}
		return false
	})
	var handle *operationListenerHandle
	onEvent := func(AsyncOperationStateChangeEvent) {
		c.signal()
		if c.Evaluate() {
			op.RemoveStateChangeListener(handle)
		}
	}
	handle = &operationListenerHandle{started: onEvent, finished: onEvent}
	op.AddStateChangeListener(handle)
	return c
}
