package asyncflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestVariableSetNotifiesListeners(t *testing.T) {
	v := NewVariable(0, nil)
	received := make(chan ValueInfo[int], 1)
	v.AddListener(VariableListenerFunc[int](func(info ValueInfo[int]) {
		received <- info
	}))

	v.Set(42)
	info := <-received
	assert.Equal(t, 42, info.Value)
	assert.Equal(t, uint64(1), info.Version)
	assert.Equal(t, 42, v.Get())
}

func TestVariableAwait(t *testing.T) {
	v := NewVariable(0, nil)
	go func() {
		time.Sleep(5 * time.Millisecond)
		v.Set(7)
	}()

	result := v.Await(func(n int) bool { return n == 7 })
	assert.Equal(t, 7, result)
}

func TestVariableAwaitTimeout(t *testing.T) {
	v := NewVariable(0, nil)
	_, ok := v.AwaitTimeout(func(n int) bool { return n == 99 }, 10*time.Millisecond)
	assert.False(t, ok)
}
