package asyncflow

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

// wireFailureDependency arranges for parent to stop or fail whenever one of
// children unexpectedly leaves RUNNING on its own (spec §4.G: a composed
// service tracks its children's lifecycles, not just their own Start/Stop
// calls). Used by both NewCompositeService and NewConcurrentService.
func wireFailureDependency(parent *BaseService, children []Service) {
	for _, c := range children {
		child := c
		child.AddStateChangeListener(ServiceListenerFunc(func(event ServiceStateChangeEvent) {
			if !parent.IsRunning() {
				return
			}
			switch event.To {
			case ServiceStopped:
				_ = parent.Stop()
			case ServiceFailed:
				parent.NotifyServiceFailed(event.Cause)
			}
		}))
	}
}

// NewCompositeService composes children into a single Service (spec §4.G):
// Start launches every child concurrently and waits for all of them; if any
// child fails to start, the siblings that did start are stopped again
// before the failure is returned, so a failed Start never leaves orphaned
// RUNNING children behind (spec §8 scenario 8). Stop tears running children
// down in reverse order, aggregating failures with go-multierror. If a
// child later stops or fails on its own while the composite is RUNNING, the
// composite follows it (self-stops or fails in turn), per DESIGN.md's
// resolution of the "does a composite outlive an unsolicited child stop"
// open question.
func NewCompositeService(name string, children []Service, opts *ServiceOptions) *BaseService {
	start := func(ctx context.Context) error {
		var mu sync.Mutex
		var started []Service
		var g errgroup.Group
		for _, c := range children {
			child := c
			g.Go(func() error {
				if err := child.Start(); err != nil {
					return err
				}
				mu.Lock()
				started = append(started, child)
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			// Roll back whichever siblings did start: wireFailureDependency's
			// listener only reacts once the composite is already RUNNING, so
			// it can't be relied on to unwind a failed concurrent start.
			for i := len(started) - 1; i >= 0; i-- {
				_ = started[i].Stop()
			}
			return err
		}
		return nil
	}

	stop := func(ctx context.Context) error {
		var result error
		for i := len(children) - 1; i >= 0; i-- {
			if err := children[i].Stop(); err != nil {
				result = multierror.Append(result, fmt.Errorf("%s: %w", children[i].Name(), err))
			}
		}
		return result
	}

	svc := NewService(ServiceHooks{Name: name, Start: start, Stop: stop}, opts)
	wireFailureDependency(svc, children)
	return svc
}

// NewConcurrentService is NewCompositeService's sibling (spec §4.G): it
// differs only in that Stop tears children down concurrently rather than
// in reverse sequential order, for compositions with no shutdown ordering
// requirement between children.
func NewConcurrentService(name string, children []Service, opts *ServiceOptions) *BaseService {
	start := func(ctx context.Context) error {
		var mu sync.Mutex
		var started []Service
		var g errgroup.Group
		for _, c := range children {
			child := c
			g.Go(func() error {
				if err := child.Start(); err != nil {
					return err
				}
				mu.Lock()
				started = append(started, child)
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			var stopGroup errgroup.Group
			for _, s := range started {
				s := s
				stopGroup.Go(func() error { _ = s.Stop(); return nil })
			}
			_ = stopGroup.Wait()
			return err
		}
		return nil
	}

	stop := func(ctx context.Context) error {
		var mu sync.Mutex
		var result error
		var g errgroup.Group
		for _, c := range children {
			child := c
			g.Go(func() error {
				if err := child.Stop(); err != nil {
					mu.Lock()
					result = multierror.Append(result, fmt.Errorf("%s: %w", child.Name(), err))
					mu.Unlock()
				}
				return nil
			})
		}
		_ = g.Wait()
		return result
	}

	svc := NewService(ServiceHooks{Name: name, Start: start, Stop: stop}, opts)
	wireFailureDependency(svc, children)
	return svc
}

// serviceListenerHandle wraps a closure behind a pointer so it can be
// safely removed later: ServiceListenerFunc values (and any struct
// embedding func fields) are not comparable, so storing one directly and
// later comparing it back with == to find and remove it would panic at
// runtime (Go spec: comparing interface values panics if their shared
// dynamic type is not comparable). A pointer is always comparable, so
// Chain and SetFailureDependency register through one instead.
type serviceListenerHandle struct {
	fn func(ServiceStateChangeEvent)
}

func (h *serviceListenerHandle) OnStateChanged(e ServiceStateChangeEvent) { h.fn(e) }

// Chain arranges for downstream to start automatically whenever upstream
// becomes RUNNING, to stop whenever upstream stops, and to itself transition
// to FAILED (via NotifyServiceFailed) whenever upstream fails (spec §4.G
// "service chaining": a dependee's FAILED must propagate as a failure, not
// as an ordinary stop, so the dependent's own FailureCause reflects the
// real cause). It returns an unchain func that undoes the wiring -- the
// idiomatic Go shape for "set up something, get back how to tear it down"
// in place of a separate Unchain(token) call.
func Chain(upstream, downstream Service) (unchain func()) {
	listener := &serviceListenerHandle{fn: func(event ServiceStateChangeEvent) {
		switch event.To {
		case ServiceRunning:
			if downstream.State() == ServiceStopped {
				_ = downstream.Start()
			}
		case ServiceStopped:
			if downstream.State() == ServiceRunning {
				_ = downstream.Stop()
			}
		case ServiceFailed:
			if downstream.State() == ServiceRunning {
				downstream.NotifyServiceFailed(event.Cause)
			}
		}
	}}
	upstream.AddStateChangeListener(listener)
	return func() { upstream.RemoveStateChangeListener(listener) }
}

// SetFailureDependency registers dependents to themselves transition to
// FAILED (via NotifyServiceFailed, carrying parent's cause) whenever parent
// transitions to FAILED (spec §4.G) -- a failure propagates as a failure,
// not an ordinary Stop. It returns an unregister func.
func SetFailureDependency(parent Service, dependents ...Service) (unregister func()) {
	listener := &serviceListenerHandle{fn: func(event ServiceStateChangeEvent) {
		if event.To != ServiceFailed {
			return
		}
		for _, d := range dependents {
			if d.State() == ServiceRunning {
				d.NotifyServiceFailed(event.Cause)
			}
		}
	}}
	parent.AddStateChangeListener(listener)
	return func() { parent.RemoveStateChangeListener(listener) }
}
