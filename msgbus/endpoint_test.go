package msgbus

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndpoint_HandlerReentrancyQueues(t *testing.T) {
	system := newTestSystem(t)
	endpoint, err := system.CreateEndpoint("self")
	require.NoError(t, err)
	defer endpoint.Close()

	var order []int
	SetHandler(endpoint, func(from EndpointID, message *int) {
		order = append(order, *message)
		if *message == 1 {
			// A message delivered while the handler runs is queued and
			// drained after it returns, not delivered recursively.
			require.True(t, Send(endpoint, endpoint.ID(), 2))
			order = append(order, -1)
		}
	})

	require.True(t, Send(endpoint, endpoint.ID(), 1))
	assert.Equal(t, []int{1, -1, 2}, order)
}

func TestEndpoint_QueueDrainsInOrder(t *testing.T) {
	system := newTestSystem(t)
	endpoint, err := system.CreateEndpoint("self")
	require.NoError(t, err)
	defer endpoint.Close()

	var order []int
	SetHandler(endpoint, func(from EndpointID, message *int) {
		order = append(order, *message)
		if *message == 1 {
			require.True(t, Send(endpoint, endpoint.ID(), 2))
			require.True(t, Send(endpoint, endpoint.ID(), 3))
		}
	})

	require.True(t, Send(endpoint, endpoint.ID(), 1))
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestEndpoint_HandlerClearsItself(t *testing.T) {
	system := newTestSystem(t)
	endpoint, err := system.CreateEndpoint("self")
	require.NoError(t, err)
	defer endpoint.Close()

	calls := 0
	SetHandler(endpoint, func(from EndpointID, message *int) {
		calls++
		ClearHandler[int](endpoint)
	})

	require.True(t, Send(endpoint, endpoint.ID(), 1))
	require.True(t, Send(endpoint, endpoint.ID(), 2))
	assert.Equal(t, 1, calls)
}

func TestEndpoint_HandlerReplacesItself(t *testing.T) {
	system := newTestSystem(t)
	endpoint, err := system.CreateEndpoint("self")
	require.NoError(t, err)
	defer endpoint.Close()

	var first, second int
	SetHandler(endpoint, func(from EndpointID, message *int) {
		first++
		SetHandler(endpoint, func(from EndpointID, message *int) {
			second++
		})
	})

	require.True(t, Send(endpoint, endpoint.ID(), 1))
	require.True(t, Send(endpoint, endpoint.ID(), 2))
	assert.Equal(t, 1, first)
	assert.Equal(t, 1, second)
}

func TestEndpoint_MultipleMessageTypes(t *testing.T) {
	system := newTestSystem(t)
	endpoint, err := system.CreateEndpoint("multi")
	require.NoError(t, err)
	defer endpoint.Close()

	var ints, strings int
	SetHandler(endpoint, func(from EndpointID, message *int) { ints++ })
	SetHandler(endpoint, func(from EndpointID, message *string) { strings++ })

	require.True(t, SystemSend(system, endpoint.ID(), 1))
	require.True(t, SystemSend(system, endpoint.ID(), "hello"))
	assert.Equal(t, 1, ints)
	assert.Equal(t, 1, strings)
}

func TestEndpoint_CloseWaitsForForeignHandler(t *testing.T) {
	system := newTestSystem(t)
	endpoint, err := system.CreateEndpoint("slow")
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})
	SetHandler(endpoint, func(from EndpointID, message *int) {
		close(entered)
		<-release
	})

	go SystemSend(system, endpoint.ID(), 1)
	<-entered

	var closed atomic.Bool
	done := make(chan struct{})
	go func() {
		endpoint.Close()
		closed.Store(true)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	assert.False(t, closed.Load())

	close(release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return after handler finished")
	}
	assert.Equal(t, EndpointTypeInvalid, system.GetEndpointType(endpoint.ID()))
}

func TestEndpoint_CloseFromOwnHandlerPanics(t *testing.T) {
	system := newTestSystem(t)
	endpoint, err := system.CreateEndpoint("doomed")
	require.NoError(t, err)

	var panicked atomic.Bool
	SetHandler(endpoint, func(from EndpointID, message *int) {
		defer func() {
			if recover() != nil {
				panicked.Store(true)
			}
		}()
		endpoint.Close()
	})

	require.True(t, SystemSend(system, endpoint.ID(), 1))
	assert.True(t, panicked.Load())
	endpoint.Close()
}

func TestEndpoint_SubscriberClosesSourceDuringDispatch(t *testing.T) {
	system := newTestSystem(t)

	source, err := system.CreateEndpoint("source")
	require.NoError(t, err)
	subscriber, err := system.CreateEndpoint("subscriber")
	require.NoError(t, err)
	defer subscriber.Close()

	// The subscriber's handler closes the source while this goroutine is
	// still dispatching into it: the source entry is converted to a channel
	// and erased when the dispatch unwinds.
	SetHandler(subscriber, func(from EndpointID, message *int) {
		source.Close()
	})
	require.True(t, subscriber.Subscribe(source.ID()))

	require.True(t, SystemSend(system, source.ID(), 1))
	assert.Equal(t, EndpointTypeInvalid, system.GetEndpointType(source.ID()))
}

func TestEndpoint_ConcurrentHandlersNeverOverlap(t *testing.T) {
	system := newTestSystem(t)
	endpoint, err := system.CreateEndpoint("serial")
	require.NoError(t, err)
	defer endpoint.Close()

	var active atomic.Int32
	var overlapped atomic.Bool
	var handled atomic.Int32
	SetHandler(endpoint, func(from EndpointID, message *int) {
		if active.Add(1) > 1 {
			overlapped.Store(true)
		}
		time.Sleep(time.Millisecond)
		active.Add(-1)
		handled.Add(1)
	})

	const senders = 8
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			SystemSend(system, endpoint.ID(), n)
		}(i)
	}
	wg.Wait()

	// Queued deliveries are drained by the goroutine holding the handler, so
	// give the drain a moment to finish.
	deadline := time.Now().Add(2 * time.Second)
	for handled.Load() < senders && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	assert.False(t, overlapped.Load())
	assert.Equal(t, int32(senders), handled.Load())
}
