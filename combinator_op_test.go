package asyncflow

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNopCompletesImmediately(t *testing.T) {
	op := Nop("nop", 7, nil)
	rec := newOpRecorder()
	op.AddStateChangeListener(rec.listener())

	assert.NoError(t, op.Start())
	assert.Equal(t, OpCompleted, rec.wait())

	result, err := op.Result()
	assert.NoError(t, err)
	assert.Equal(t, 7, result)
}

func TestIdleRunsUntilCancelled(t *testing.T) {
	op := Idle[int]("idle", nil)
	rec := newOpRecorder()
	op.AddStateChangeListener(rec.listener())

	assert.NoError(t, op.Start())
	assert.Eventually(t, func() bool { return op.State() == OpRunning }, time.Second, time.Millisecond)

	op.Cancel()
	assert.Equal(t, OpCancelled, rec.wait())
}

func TestDelayedCancelBeforeInnerStarts(t *testing.T) {
	inner := Nop("inner", 1, nil)
	op := Delayed("delayed", inner, time.Hour, nil)
	rec := newOpRecorder()
	op.AddStateChangeListener(rec.listener())

	assert.NoError(t, op.Start())
	assert.Eventually(t, func() bool { return op.State() == OpRunning }, time.Second, time.Millisecond)

	op.Cancel()
	assert.Equal(t, OpCancelled, rec.wait())
	assert.Equal(t, OpNotStarted, inner.State())
}

func TestSequentialRunsStepsInOrder(t *testing.T) {
	var order []int
	mk := func(n int) func() *BaseOperation[int] {
		return func() *BaseOperation[int] {
			return NewOperation(OperationHooks[int]{
				Name: "step",
				Start: func(o *BaseOperation[int]) error {
					order = append(order, n)
					o.NotifyOperationStarted()
					o.NotifyOperationCompleted(n)
					return nil
				},
			}, nil)
		}
	}

	op := Sequential("seq", []func() *BaseOperation[int]{mk(1), mk(2), mk(3)}, nil)
	rec := newOpRecorder()
	op.AddStateChangeListener(rec.listener())

	assert.NoError(t, op.Start())
	assert.Equal(t, OpCompleted, rec.wait())

	result, err := op.Result()
	assert.NoError(t, err)
	assert.Equal(t, 3, result)
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestSequentialEmptyCompletesImmediately(t *testing.T) {
	op := Sequential[int]("empty", nil, nil)
	rec := newOpRecorder()
	op.AddStateChangeListener(rec.listener())

	assert.NoError(t, op.Start())
	assert.Equal(t, OpCompleted, rec.wait())
}

func TestConcurrentDefaultKWaitsForAll(t *testing.T) {
	var mu sync.Mutex
	finishedOrder := make([]int, 0, 3)
	mk := func(n int, delay time.Duration) *BaseOperation[int] {
		return NewOperation(OperationHooks[int]{
			Name: "child",
			Start: func(o *BaseOperation[int]) error {
				o.NotifyOperationStarted()
				go func() {
					time.Sleep(delay)
					mu.Lock()
					finishedOrder = append(finishedOrder, n)
					mu.Unlock()
					o.NotifyOperationCompleted(n)
				}()
				return nil
			},
		}, nil)
	}

	children := []*BaseOperation[int]{
		mk(1, 15*time.Millisecond),
		mk(2, 5*time.Millisecond),
		mk(3, 10*time.Millisecond),
	}
	op := Concurrent("all", children, 0, nil)

	rec := newOpRecorder()
	op.AddStateChangeListener(rec.listener())

	assert.NoError(t, op.Start())
	assert.Equal(t, OpCompleted, rec.wait())

	result, err := op.Result()
	assert.NoError(t, err)
	assert.Nil(t, result)
	for _, c := range children {
		assert.Equal(t, OpCompleted, c.State())
	}
}

func TestConcurrentQuorumCancelsRemainderOnceKFinish(t *testing.T) {
	boom := errors.New("boom")
	failing := NewOperation(OperationHooks[int]{
		Name: "failing",
		Start: func(o *BaseOperation[int]) error {
			o.NotifyOperationStarted()
			return boom
		},
	}, nil)
	slowOp := Idle[int]("slow", nil)

	op := Concurrent("quorum", []*BaseOperation[int]{failing, slowOp}, 1, nil)
	rec := newOpRecorder()
	op.AddStateChangeListener(rec.listener())

	assert.NoError(t, op.Start())
	assert.Equal(t, OpCompleted, rec.wait())

	result, err := op.Result()
	assert.NoError(t, err)
	assert.Nil(t, result)

	assert.Eventually(t, func() bool { return slowOp.State() == OpCancelled }, time.Second, time.Millisecond)
}

func TestTimedCompletesWithZeroValueOnTimeoutWithNoFallback(t *testing.T) {
	slow := Idle[int]("slow", nil)
	op := Timed("timed", slow, 10*time.Millisecond, nil, nil)
	rec := newOpRecorder()
	op.AddStateChangeListener(rec.listener())

	assert.NoError(t, op.Start())
	assert.Equal(t, OpCompleted, rec.wait())
	assert.True(t, op.IsTimedOut())
	assert.Equal(t, OpCancelled, slow.State())

	result, err := op.Result()
	assert.NoError(t, err)
	assert.Equal(t, 0, result)
}

func TestTimedRunsOnTimeoutFallback(t *testing.T) {
	slow := Idle[int]("slow", nil)
	fallbackStarted := false
	op := Timed("timed", slow, 10*time.Millisecond, func() *BaseOperation[int] {
		fallbackStarted = true
		return Nop("fallback", 42, nil)
	}, nil)
	rec := newOpRecorder()
	op.AddStateChangeListener(rec.listener())

	assert.NoError(t, op.Start())
	assert.Equal(t, OpCompleted, rec.wait())
	assert.True(t, op.IsTimedOut())
	assert.True(t, fallbackStarted)

	result, err := op.Result()
	assert.NoError(t, err)
	assert.Equal(t, 42, result)
}

func TestTimedNotTimedOutWhenInnerFinishesFirst(t *testing.T) {
	inner := Nop("fast", 7, nil)
	op := Timed("timed", inner, time.Hour, nil, nil)
	rec := newOpRecorder()
	op.AddStateChangeListener(rec.listener())

	assert.NoError(t, op.Start())
	assert.Equal(t, OpCompleted, rec.wait())
	assert.False(t, op.IsTimedOut())

	result, err := op.Result()
	assert.NoError(t, err)
	assert.Equal(t, 7, result)
}

func TestPeriodicStopsOnCancel(t *testing.T) {
	var mu sync.Mutex
	ticks := 0
	factory := func() *BaseOperation[int] {
		mu.Lock()
		ticks++
		n := ticks
		mu.Unlock()
		return Nop("tick", n, nil)
	}

	op := Periodic("periodic", factory, 0, 10*time.Millisecond, PeriodicForever, nil)
	rec := newOpRecorder()
	op.AddStateChangeListener(rec.listener())

	assert.NoError(t, op.Start())
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return ticks >= 2
	}, time.Second, time.Millisecond)

	op.Cancel()
	assert.Equal(t, OpCancelled, rec.wait())
}

func TestPeriodicCompletesAfterCount(t *testing.T) {
	var mu sync.Mutex
	ticks := 0
	factory := func() *BaseOperation[int] {
		mu.Lock()
		ticks++
		n := ticks
		mu.Unlock()
		return Nop("tick", n, nil)
	}

	op := Periodic("periodic", factory, 0, 5*time.Millisecond, 3, nil)
	rec := newOpRecorder()
	op.AddStateChangeListener(rec.listener())

	assert.NoError(t, op.Start())
	assert.Equal(t, OpCompleted, rec.wait())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, ticks)

	result, err := op.Result()
	assert.NoError(t, err)
	assert.Equal(t, 3, result)
}

func TestOnFaultFallsBackOnPrimaryFailure(t *testing.T) {
	boom := errors.New("boom")
	primary := NewOperation(OperationHooks[int]{
		Name: "primary",
		Start: func(o *BaseOperation[int]) error {
			o.NotifyOperationStarted()
			return boom
		},
	}, nil)

	op := OnFault("withFallback", primary, func(cause error) *BaseOperation[int] {
		return Nop("fallback", 99, nil)
	}, nil)

	rec := newOpRecorder()
	op.AddStateChangeListener(rec.listener())

	assert.NoError(t, op.Start())
	assert.Equal(t, OpCompleted, rec.wait())

	result, err := op.Result()
	assert.NoError(t, err)
	assert.Equal(t, 99, result)
}

func TestOnFaultSkipsFallbackOnSuccess(t *testing.T) {
	primary := Nop("primary", 1, nil)
	called := false

	op := OnFault("withFallback", primary, func(cause error) *BaseOperation[int] {
		called = true
		return Nop("fallback", 99, nil)
	}, nil)

	rec := newOpRecorder()
	op.AddStateChangeListener(rec.listener())

	assert.NoError(t, op.Start())
	assert.Equal(t, OpCompleted, rec.wait())
	assert.False(t, called)

	result, _ := op.Result()
	assert.Equal(t, 1, result)
}

func TestBackgroundedRunsInnerOnSeparateGoroutine(t *testing.T) {
	gate := make(chan struct{})
	inner := NewOperation(OperationHooks[int]{
		Name: "inner",
		Start: func(o *BaseOperation[int]) error {
			o.NotifyOperationStarted()
			<-gate
			o.NotifyOperationCompleted(3)
			return nil
		},
	}, nil)

	op := Backgrounded("bg", inner, nil)
	rec := newOpRecorder()
	op.AddStateChangeListener(rec.listener())

	assert.NoError(t, op.Start())
	close(gate)
	assert.Equal(t, OpCompleted, rec.wait())

	result, _ := op.Result()
	assert.Equal(t, 3, result)
}
