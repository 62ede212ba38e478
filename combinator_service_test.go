package asyncflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCompositeServiceStartsAndStopsChildren(t *testing.T) {
	var mu sync.Mutex
	var startedOrder, stoppedOrder []string

	mk := func(name string) Service {
		return NewService(ServiceHooks{
			Name: name,
			Start: func(context.Context) error {
				mu.Lock()
				startedOrder = append(startedOrder, name)
				mu.Unlock()
				return nil
			},
			Stop: func(context.Context) error {
				mu.Lock()
				stoppedOrder = append(stoppedOrder, name)
				mu.Unlock()
				return nil
			},
		}, nil)
	}

	a, b := mk("a"), mk("b")
	composite := NewCompositeService("composite", []Service{a, b}, nil)

	assert.NoError(t, composite.Start())
	assert.True(t, composite.IsRunning())
	assert.ElementsMatch(t, []string{"a", "b"}, startedOrder)

	assert.NoError(t, composite.Stop())
	assert.True(t, composite.IsStopped())
	assert.Equal(t, []string{"b", "a"}, stoppedOrder)
}

func TestCompositeServiceFollowsChildFailure(t *testing.T) {
	boom := errors.New("boom")
	child := NewService(ServiceHooks{
		Name:  "child",
		Start: func(context.Context) error { return nil },
	}, nil)
	other := NewService(ServiceHooks{
		Name:  "other",
		Start: func(context.Context) error { return nil },
		Stop:  func(context.Context) error { return nil },
	}, nil)

	composite := NewCompositeService("composite", []Service{child, other}, nil)
	assert.NoError(t, composite.Start())

	child.NotifyServiceFailed(boom)
	assert.Eventually(t, func() bool { return composite.IsFailed() }, time.Second, time.Millisecond)
}

func TestConcurrentServiceStopsChildrenConcurrently(t *testing.T) {
	a := NewService(ServiceHooks{
		Name:  "a",
		Start: func(context.Context) error { return nil },
		Stop:  func(context.Context) error { return nil },
	}, nil)
	b := NewService(ServiceHooks{
		Name:  "b",
		Start: func(context.Context) error { return nil },
		Stop:  func(context.Context) error { return nil },
	}, nil)

	svc := NewConcurrentService("concurrent", []Service{a, b}, nil)
	assert.NoError(t, svc.Start())
	assert.NoError(t, svc.Stop())
	assert.True(t, a.IsStopped())
	assert.True(t, b.IsStopped())
}

func TestChainStartsDownstreamWhenUpstreamRuns(t *testing.T) {
	upstream := NewService(ServiceHooks{
		Name:  "up",
		Start: func(context.Context) error { return nil },
	}, nil)
	downstream := NewService(ServiceHooks{
		Name:  "down",
		Start: func(context.Context) error { return nil },
	}, nil)

	unchain := Chain(upstream, downstream)
	defer unchain()

	assert.NoError(t, upstream.Start())
	assert.Eventually(t, func() bool { return downstream.IsRunning() }, time.Second, time.Millisecond)
}

func TestChainStopsDownstreamWhenUpstreamStops(t *testing.T) {
	upstream := NewService(ServiceHooks{
		Name:  "up",
		Start: func(context.Context) error { return nil },
		Stop:  func(context.Context) error { return nil },
	}, nil)
	downstream := NewService(ServiceHooks{
		Name:  "down",
		Start: func(context.Context) error { return nil },
		Stop:  func(context.Context) error { return nil },
	}, nil)

	unchain := Chain(upstream, downstream)
	defer unchain()

	assert.NoError(t, upstream.Start())
	assert.Eventually(t, func() bool { return downstream.IsRunning() }, time.Second, time.Millisecond)

	assert.NoError(t, upstream.Stop())
	assert.Eventually(t, func() bool { return downstream.IsStopped() }, time.Second, time.Millisecond)
}

func TestChainFailsDownstreamWhenUpstreamFails(t *testing.T) {
	boom := errors.New("boom")
	upstream := NewService(ServiceHooks{
		Name:  "up",
		Start: func(context.Context) error { return nil },
	}, nil)
	downstream := NewService(ServiceHooks{
		Name:  "down",
		Start: func(context.Context) error { return nil },
		Stop:  func(context.Context) error { return nil },
	}, nil)

	unchain := Chain(upstream, downstream)
	defer unchain()

	assert.NoError(t, upstream.Start())
	assert.Eventually(t, func() bool { return downstream.IsRunning() }, time.Second, time.Millisecond)

	upstream.NotifyServiceFailed(boom)
	assert.Eventually(t, func() bool { return downstream.IsFailed() }, time.Second, time.Millisecond)
	assert.ErrorIs(t, downstream.FailureCause(), boom)
}

func TestSetFailureDependencyFailsDependents(t *testing.T) {
	boom := errors.New("boom")
	parent := NewService(ServiceHooks{
		Name:  "parent",
		Start: func(context.Context) error { return nil },
	}, nil)
	dependent := NewService(ServiceHooks{
		Name:  "dependent",
		Start: func(context.Context) error { return nil },
		Stop:  func(context.Context) error { return nil },
	}, nil)

	unregister := SetFailureDependency(parent, dependent)
	defer unregister()

	assert.NoError(t, parent.Start())
	assert.NoError(t, dependent.Start())

	parent.NotifyServiceFailed(boom)
	assert.Eventually(t, func() bool { return dependent.IsFailed() }, time.Second, time.Millisecond)
	assert.ErrorIs(t, dependent.FailureCause(), boom)
}

func TestCompositeServiceRollsBackSiblingsOnPartialStartFailure(t *testing.T) {
	boom := errors.New("boom")
	var mu sync.Mutex
	stopped := false

	ok := NewService(ServiceHooks{
		Name:  "ok",
		Start: func(context.Context) error { return nil },
		Stop: func(context.Context) error {
			mu.Lock()
			stopped = true
			mu.Unlock()
			return nil
		},
	}, nil)
	failing := NewService(ServiceHooks{
		Name:  "failing",
		Start: func(context.Context) error { return boom },
	}, nil)

	composite := NewCompositeService("composite", []Service{ok, failing}, nil)
	err := composite.Start()
	assert.Error(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, stopped)
	assert.True(t, ok.IsStopped())
}
