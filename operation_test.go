package asyncflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// opRecorder collects whether an Operation ever ran, and the state it
// finally settled on, synchronizing test goroutines on the Finished
// callback the same way stateRecorder does for Service in service_test.go.
type opRecorder struct {
	mu      sync.Mutex
	started bool
	final   OperationState
	done    chan struct{}
	once    sync.Once
}

func newOpRecorder() *opRecorder {
	return &opRecorder{done: make(chan struct{})}
}

func (r *opRecorder) listener() OperationListener {
	return OperationListenerFuncs{
		Started: func(AsyncOperationStateChangeEvent) {
			r.mu.Lock()
			r.started = true
			r.mu.Unlock()
		},
		Finished: func(event AsyncOperationStateChangeEvent) {
			r.mu.Lock()
			r.final = event.ToState
			r.mu.Unlock()
			r.once.Do(func() { close(r.done) })
		},
	}
}

func (r *opRecorder) wait() OperationState {
	<-r.done
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.final
}

func (r *opRecorder) wasStarted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

func TestOperationCompleteLifecycle(t *testing.T) {
	op := NewOperation(OperationHooks[int]{
		Name: "test",
		Start: func(o *BaseOperation[int]) error {
			o.NotifyOperationStarted()
			o.NotifyOperationCompleted(42)
			return nil
		},
	}, nil)

	rec := newOpRecorder()
	op.AddStateChangeListener(rec.listener())

	assert.NoError(t, op.Start())
	assert.Equal(t, OpCompleted, rec.wait())
	assert.True(t, rec.wasStarted())

	result, err := op.Result()
	assert.NoError(t, err)
	assert.Equal(t, 42, result)
}

func TestOperationStartFailure(t *testing.T) {
	cause := errors.New("boom")
	op := NewOperation(OperationHooks[int]{
		Name:  "test",
		Start: func(o *BaseOperation[int]) error { return cause },
	}, nil)

	rec := newOpRecorder()
	op.AddStateChangeListener(rec.listener())

	assert.NoError(t, op.Start())
	assert.Equal(t, OpFailed, rec.wait())
	assert.Equal(t, cause, op.FailureCause())

	_, err := op.Result()
	assert.True(t, IsIllegalState(err))
}

func TestOperationCancelBeforeStart(t *testing.T) {
	op := NewOperation(OperationHooks[int]{
		Name: "test",
		Start: func(o *BaseOperation[int]) error {
			o.NotifyOperationStarted()
			o.NotifyOperationCompleted(1)
			return nil
		},
	}, nil)

	op.Cancel()
	assert.Equal(t, OpCancelled, op.State())

	assert.NoError(t, op.Start())
	assert.Equal(t, OpCancelled, op.State())
}

// TestOperationReconciliationWaitsForLateStart exercises the case where
// NotifyOperationCompleted arrives while the operation is still internally
// STARTING: it must wait for the late NotifyOperationStarted rather than
// dropping straight to COMPLETED, so listeners always see RUNNING before a
// terminal event.
func TestOperationReconciliationWaitsForLateStart(t *testing.T) {
	op := NewOperation(OperationHooks[string]{
		Name: "test",
		Start: func(o *BaseOperation[string]) error {
			go func() {
				time.Sleep(20 * time.Millisecond)
				o.NotifyOperationStarted()
			}()
			o.NotifyOperationCompleted("done")
			return nil
		},
	}, nil)

	rec := newOpRecorder()
	op.AddStateChangeListener(rec.listener())

	assert.NoError(t, op.Start())
	assert.Equal(t, OpCompleted, rec.wait())
	assert.True(t, rec.wasStarted())

	result, err := op.Result()
	assert.NoError(t, err)
	assert.Equal(t, "done", result)
}

func TestOperationLateListenerReplaysTerminalState(t *testing.T) {
	op := NewOperation(OperationHooks[int]{
		Name: "test",
		Start: func(o *BaseOperation[int]) error {
			o.NotifyOperationStarted()
			o.NotifyOperationCompleted(5)
			return nil
		},
	}, nil)

	first := newOpRecorder()
	op.AddStateChangeListener(first.listener())
	assert.NoError(t, op.Start())
	assert.Equal(t, OpCompleted, first.wait())

	late := newOpRecorder()
	op.AddStateChangeListener(late.listener())
	assert.Equal(t, OpCompleted, late.wait())
	assert.True(t, late.wasStarted())
}

func TestThreadedOperationCancel(t *testing.T) {
	started := make(chan struct{})
	op := NewThreadedOperation[int]("test", func(ctx context.Context, token CancelToken) (int, error) {
		close(started)
		<-token.Done()
		return 0, OperationStopped
	}, nil)

	rec := newOpRecorder()
	op.AddStateChangeListener(rec.listener())

	assert.NoError(t, op.Start())
	<-started
	op.Cancel()
	assert.Equal(t, OpCancelled, rec.wait())
}

func TestThreadedOperationFailure(t *testing.T) {
	cause := errors.New("disk full")
	op := NewThreadedOperation[int]("test", func(ctx context.Context, token CancelToken) (int, error) {
		return 0, cause
	}, nil)

	rec := newOpRecorder()
	op.AddStateChangeListener(rec.listener())

	assert.NoError(t, op.Start())
	assert.Equal(t, OpFailed, rec.wait())
	assert.Equal(t, cause, op.FailureCause())
}
