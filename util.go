package asyncflow

import (
	"context"
	"sync"
	"time"
)

// DropContext wraps a context-naive Hook as a ContextHook, discarding the
// context. Kept verbatim from the teacher's util.go.
func DropContext(hook Hook) ContextHook {
	if hook == nil {
		return nil
	}
	return func(ctx context.Context) error {
		return hook()
	}
}

// Wait returns a readiness probe that becomes ready after duration, useful
// for services with no other natural readiness signal. Kept verbatim from
// the teacher's util.go, generalized from a readiness-probe-only helper to
// general "wait before declaring ready" usage for any Service.
func Wait(duration time.Duration) func() <-chan error {
	return func() <-chan error {
		ch := make(chan error)
		go func() {
			<-time.After(duration)
			close(ch)
		}()
		return ch
	}
}

// deadline computes a monotonic deadline for a millisecond timeout, so that
// waitFor-style blocking calls survive spurious wakeups (spec §5 "Timeout
// semantics").
func deadline(timeout time.Duration) time.Time {
	return time.Now().Add(timeout)
}

func remaining(dl time.Time) time.Duration {
	d := time.Until(dl)
	if d < 0 {
		return 0
	}
	return d
}

// condWaitTimeout waits on cond for at most timeout, as sync.Cond has no
// native timed wait. It arms a one-shot timer that re-acquires cond's lock
// and broadcasts, unblocking a timed-out waiter alongside genuine state
// changes; callers distinguish the two by re-checking their predicate
// against a monotonic deadline (spec §5 "deadline that survives spurious
// wakeups").
func condWaitTimeout(cond *sync.Cond, timeout time.Duration) {
	timer := time.AfterFunc(timeout, func() {
		cond.L.Lock()
		cond.Broadcast()
		cond.L.Unlock()
	})
	defer timer.Stop()
	cond.Wait()
}
