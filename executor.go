package asyncflow

import (
	"sync"
	"time"
)

// Executor is the dispatch collaborator (spec §6): something that can run a
// piece of work, asynchronously, so that listener callbacks never run on
// the state-transition thread (spec §4.C "executor-aware dispatch").
type Executor interface {
	Execute(task func())
}

// ExecutorFunc adapts a plain function to an Executor.
type ExecutorFunc func(task func())

func (f ExecutorFunc) Execute(task func()) { f(task) }

// goroutinePerTask is the package default Executor: every task runs on a
// fresh goroutine. It owns no pool and needs no shutdown, matching spec §5
// "no executor is owned by the framework unless explicitly created."
type goroutinePerTask struct{}

func (goroutinePerTask) Execute(task func()) {
	go task()
}

// DefaultExecutor is the zero-configuration Executor used when none is
// supplied to a Service/AsyncOperation/Scheduler.
var DefaultExecutor Executor = goroutinePerTask{}

// Cancellable is a handle to a pending scheduled task.
type Cancellable interface {
	// Cancel attempts to prevent the scheduled task from running. It
	// returns true if the task had not yet started.
	Cancel() bool
}

// ScheduledExecutor is the time-based collaborator used by the Timed,
// Delayed and Periodic combinators (spec §6): schedule a task to run after
// a delay, and get back a handle that can cancel it before it fires. Idle
// uses no timer: it runs until cancelled and never completes on its own.
type ScheduledExecutor interface {
	Schedule(delay time.Duration, task func()) Cancellable
}

type timerCancellable struct {
	timer *time.Timer
	ran   bool
	mu    sync.Mutex
}

func (c *timerCancellable) Cancel() bool {
	stopped := c.timer.Stop()
	c.mu.Lock()
	wasRun := c.ran
	c.mu.Unlock()
	return stopped && !wasRun
}

// stdTimerExecutor is the package default ScheduledExecutor, built directly
// on time.AfterFunc. Spec §1 places thread-pool implementations out of
// scope as an externally injected collaborator; this is the minimal default
// implementation of that collaborator (see DESIGN.md for why no
// third-party scheduler is wired in as the unconditional default).
type stdTimerExecutor struct{}

// DefaultScheduledExecutor is the zero-configuration ScheduledExecutor used
// by time-based combinators when none is supplied.
var DefaultScheduledExecutor ScheduledExecutor = stdTimerExecutor{}

func (stdTimerExecutor) Schedule(delay time.Duration, task func()) Cancellable {
	c := &timerCancellable{}
	c.timer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		c.ran = true
		c.mu.Unlock()
		task()
	})
	return c
}
