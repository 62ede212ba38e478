package asyncflow

import (
	"context"
	"sync"
)

// ThreadCallback is handed to a ThreadedService's run function (spec §4.B).
// The worker must call NotifyStarted once its startup prelude has
// succeeded when ManualStartNotification is set; it should otherwise watch
// StopRequested (or poll IsStopPending) to cooperatively exit once the
// service has been asked to stop.
type ThreadCallback interface {
	NotifyStarted()
	StopRequested() <-chan struct{}
	IsStopPending() bool
}

type threadCallback struct {
	startedOnce sync.Once
	started     chan struct{}

	stopOnce      sync.Once
	stopRequested chan struct{}

	workerDone chan struct{}
}

func newThreadCallback() *threadCallback {
	return &threadCallback{
		started:       make(chan struct{}),
		stopRequested: make(chan struct{}),
		workerDone:    make(chan struct{}),
	}
}

func (c *threadCallback) NotifyStarted() {
	c.startedOnce.Do(func() { close(c.started) })
}

func (c *threadCallback) StopRequested() <-chan struct{} { return c.stopRequested }

func (c *threadCallback) IsStopPending() bool {
	select {
	case <-c.stopRequested:
		return true
	default:
		return false
	}
}

func (c *threadCallback) requestStop() {
	c.stopOnce.Do(func() { close(c.stopRequested) })
}

// ThreadRun is the blocking body of a ThreadedService. It is expected to
// run until either the service is asked to stop (observed via cb) or it
// fails on its own.
type ThreadRun func(ctx context.Context, cb ThreadCallback) error

// ThreadedServiceOptions configures a ThreadedService (spec §4.B).
type ThreadedServiceOptions struct {
	ServiceOptions
	// ManualStartNotification requires the worker to call
	// cb.NotifyStarted() once its startup prelude has succeeded; otherwise
	// the framework transitions to RUNNING as soon as the worker goroutine
	// is launched.
	ManualStartNotification bool
}

// NewThreadedService wraps a blocking run function as a Service (spec
// §4.B). Internally it is a BaseService whose Start hook launches a worker
// goroutine and (when ManualStartNotification is set) blocks until the
// worker signals started or exits early; whose Stop hook requests
// cooperative shutdown and waits for the worker to exit. A failure that
// surfaces after the service is up routes through NotifyServiceFailed /
// NotifyServiceInterrupted rather than a hook return value, exactly as
// spec §4.B's "exception before the start signal is surfaced as the start
// failure; after the start signal it routes through notifyServiceFailed."
func NewThreadedService(name string, run ThreadRun, opts *ThreadedServiceOptions) *BaseService {
	if opts == nil {
		opts = &ThreadedServiceOptions{}
	}

	var mu sync.Mutex
	var cb *threadCallback
	var svc *BaseService

	start := func(ctx context.Context) error {
		tc := newThreadCallback()
		mu.Lock()
		cb = tc
		mu.Unlock()

		result := make(chan error, 1)
		go func() {
			result <- run(ctx, tc)
		}()

		if opts.ManualStartNotification {
			select {
			case <-tc.started:
			case err := <-result:
				return err
			}
		}

		go func() {
			err := <-result
			// The worker has already exited at this point, so workerDone is
			// closed before notifying: the default FailureHandler re-enters
			// this same Stop hook, which waits on workerDone, and that would
			// deadlock against this goroutine if it were still the one left
			// to close it.
			wasStopRequested := tc.IsStopPending()
			close(tc.workerDone)
			if !wasStopRequested {
				if err != nil {
					svc.NotifyServiceFailed(err)
				} else {
					svc.NotifyServiceInterrupted()
				}
			}
		}()
		return nil
	}

	stop := func(ctx context.Context) error {
		mu.Lock()
		tc := cb
		mu.Unlock()
		if tc == nil {
			return nil
		}
		tc.requestStop()
		<-tc.workerDone
		return nil
	}

	svc = NewService(ServiceHooks{Name: name, Start: start, Stop: stop}, &opts.ServiceOptions)
	return svc
}
