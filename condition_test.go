package asyncflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestServiceStateIsAwait(t *testing.T) {
	svc := NewService(ServiceHooks{
		Name:  "test",
		Start: func(context.Context) error { return nil },
	}, nil)

	cond := ServiceStateIs(svc, ServiceRunning)
	assert.False(t, cond.Evaluate())

	go func() {
		time.Sleep(5 * time.Millisecond)
		_ = svc.Start()
	}()

	assert.True(t, cond.Await())
}

func TestServiceStateIsAwaitTimeout(t *testing.T) {
	svc := NewService(ServiceHooks{
		Name:  "test",
		Start: func(context.Context) error { return nil },
	}, nil)

	cond := ServiceStateIs(svc, ServiceFailed)
	assert.False(t, cond.AwaitTimeout(10*time.Millisecond))
}

func TestOperationStateIsAwait(t *testing.T) {
	op := NewOperation(OperationHooks[int]{
		Name: "test",
		Start: func(o *BaseOperation[int]) error {
			o.NotifyOperationStarted()
			go func() {
				time.Sleep(5 * time.Millisecond)
				o.NotifyOperationCompleted(1)
			}()
			return nil
		},
	}, nil)

	cond := OperationStateIs(op, OpCompleted, OpFailed, OpCancelled)
	assert.NoError(t, op.Start())
	assert.True(t, cond.Await())
}
