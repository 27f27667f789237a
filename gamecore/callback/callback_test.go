package callback

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWrap_RunsWhileOpen(t *testing.T) {
	scope := NewScope()
	count := 0
	fn := Wrap(scope, func() { count++ })

	fn()
	fn()
	assert.Equal(t, 2, count)
	scope.Close()
}

func TestWrap_NoopAfterClose(t *testing.T) {
	scope := NewScope()
	count := 0
	fn := Wrap(scope, func() { count++ })

	scope.Close()
	fn()
	assert.Equal(t, 0, count)
}

func TestWrap_NilCallback(t *testing.T) {
	scope := NewScope()
	assert.Nil(t, Wrap(scope, nil))
	assert.Nil(t, WrapRet[int](scope, nil, 0))
	scope.Close()
}

func TestWrapRet_DefaultAfterClose(t *testing.T) {
	scope := NewScope()
	fn := WrapRet1(scope, func(x int) int { return x * 2 }, -1)

	assert.Equal(t, 10, fn(5))
	scope.Close()
	assert.Equal(t, -1, fn(5))
}

func TestWrap2_PassesArguments(t *testing.T) {
	scope := NewScope()
	var gotA string
	var gotB int
	fn := Wrap2(scope, func(a string, b int) {
		gotA = a
		gotB = b
	})

	fn("hello", 3)
	assert.Equal(t, "hello", gotA)
	assert.Equal(t, 3, gotB)
	scope.Close()
}

func TestClose_BlocksWhileCallbackRuns(t *testing.T) {
	scope := NewScope()
	entered := make(chan struct{})
	release := make(chan struct{})
	fn := Wrap(scope, func() {
		close(entered)
		<-release
	})

	go fn()
	<-entered

	var closed atomic.Bool
	done := make(chan struct{})
	go func() {
		scope.Close()
		closed.Store(true)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	assert.False(t, closed.Load())

	close(release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return after callback finished")
	}
}

func TestConcurrentWrappedCallbacks(t *testing.T) {
	scope := NewScope()
	var count atomic.Int64
	fn := Wrap(scope, func() { count.Add(1) })

	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				fn()
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < 4; i++ {
		<-done
	}
	scope.Close()
	fn()

	assert.Equal(t, int64(400), count.Load())
}
