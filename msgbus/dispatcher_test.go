package msgbus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playforge-studio/gamecore/gamecore/typekey"
)

type destroyable struct {
	destroyed *int32
	value     int
}

func (d *destroyable) DestroyValue() {
	*d.destroyed++
}

func TestPollingDispatcher_DeferredDelivery(t *testing.T) {
	dispatcher := NewPollingDispatcher()
	system, err := NewSystem(dispatcher)
	require.NoError(t, err)
	defer system.Close()
	defer dispatcher.Close()

	endpoint, err := system.CreateEndpoint("listener")
	require.NoError(t, err)
	defer endpoint.Close()

	var got []int
	SetHandler(endpoint, func(from EndpointID, message *int) {
		got = append(got, *message)
	})

	require.True(t, SystemSend(system, endpoint.ID(), 1))
	require.True(t, SystemSend(system, endpoint.ID(), 2))

	// Nothing is delivered until Update drains the queue.
	assert.Empty(t, got)
	dispatcher.Update()
	assert.Equal(t, []int{1, 2}, got)
}

func TestPollingDispatcher_FIFOOrder(t *testing.T) {
	dispatcher := NewPollingDispatcher()
	system, err := NewSystem(dispatcher)
	require.NoError(t, err)
	defer system.Close()
	defer dispatcher.Close()

	endpoint, err := system.CreateEndpoint("listener")
	require.NoError(t, err)
	defer endpoint.Close()

	var got []int
	SetHandler(endpoint, func(from EndpointID, message *int) {
		got = append(got, *message)
	})

	for i := 0; i < 20; i++ {
		require.True(t, SystemSend(system, endpoint.ID(), i))
	}
	dispatcher.Update()

	require.Len(t, got, 20)
	for i, value := range got {
		assert.Equal(t, i, value)
	}
}

func TestPollingDispatcher_HandlerSendsAreDrainedSameUpdate(t *testing.T) {
	dispatcher := NewPollingDispatcher()
	system, err := NewSystem(dispatcher)
	require.NoError(t, err)
	defer system.Close()
	defer dispatcher.Close()

	endpoint, err := system.CreateEndpoint("listener")
	require.NoError(t, err)
	defer endpoint.Close()

	var got []int
	SetHandler(endpoint, func(from EndpointID, message *int) {
		got = append(got, *message)
		if *message == 1 {
			require.True(t, Send(endpoint, endpoint.ID(), 2))
		}
	})

	require.True(t, SystemSend(system, endpoint.ID(), 1))
	dispatcher.Update()
	assert.Equal(t, []int{1, 2}, got)
}

func TestPollingDispatcher_CloseDestroysQueued(t *testing.T) {
	dispatcher := NewPollingDispatcher()
	system, err := NewSystem(dispatcher)
	require.NoError(t, err)
	defer system.Close()

	endpoint, err := system.CreateEndpoint("listener")
	require.NoError(t, err)
	defer endpoint.Close()

	var destroyed int32
	require.True(t, SystemSend(system, endpoint.ID(), destroyable{destroyed: &destroyed, value: 1}))
	require.True(t, SystemSend(system, endpoint.ID(), destroyable{destroyed: &destroyed, value: 2}))

	dispatcher.Close()
	assert.Equal(t, int32(2), destroyed)
}

func TestDispatcher_OneShotBinding(t *testing.T) {
	dispatcher := NewPollingDispatcher()
	system, err := NewSystem(dispatcher)
	require.NoError(t, err)
	defer system.Close()
	defer dispatcher.Close()

	// The same dispatcher cannot serve a second system.
	other, err := NewSystem(dispatcher)
	assert.Nil(t, other)
	var bound *DispatcherBoundError
	assert.ErrorAs(t, err, &bound)

	// But binding it again to its own system is fine.
	_, err = system.CreateEndpointWithDispatcher(dispatcher, "listener")
	assert.NoError(t, err)
}

func TestDispatcher_EndpointOverridesSystemDispatcher(t *testing.T) {
	systemDispatcher := NewPollingDispatcher()
	endpointDispatcher := NewPollingDispatcher()
	system, err := NewSystem(systemDispatcher)
	require.NoError(t, err)
	defer system.Close()
	defer systemDispatcher.Close()
	defer endpointDispatcher.Close()

	endpoint, err := system.CreateEndpointWithDispatcher(endpointDispatcher, "listener")
	require.NoError(t, err)
	defer endpoint.Close()

	var got []int
	SetHandler(endpoint, func(from EndpointID, message *int) {
		got = append(got, *message)
	})

	require.True(t, SystemSend(system, endpoint.ID(), 1))
	systemDispatcher.Update()
	assert.Empty(t, got)

	endpointDispatcher.Update()
	assert.Equal(t, []int{1}, got)
}

func TestDispatcher_BroadcastReroutesToEndpointDispatcher(t *testing.T) {
	endpointDispatcher := NewPollingDispatcher()
	system, err := NewSystem(nil)
	require.NoError(t, err)
	defer system.Close()
	defer endpointDispatcher.Close()

	direct, err := system.CreateEndpoint("direct")
	require.NoError(t, err)
	defer direct.Close()
	deferred, err := system.CreateEndpointWithDispatcher(endpointDispatcher, "deferred")
	require.NoError(t, err)
	defer deferred.Close()

	var mu sync.Mutex
	var directGot, deferredGot []int
	SetHandler(direct, func(from EndpointID, message *int) {
		mu.Lock()
		directGot = append(directGot, *message)
		mu.Unlock()
	})
	SetHandler(deferred, func(from EndpointID, message *int) {
		mu.Lock()
		deferredGot = append(deferredGot, *message)
		mu.Unlock()
	})

	// The broadcast walk delivers immediately to the direct endpoint and
	// re-enqueues a clone for the endpoint with its own dispatcher.
	require.True(t, SystemSend(system, BroadcastID, 9))
	assert.Equal(t, []int{9}, directGot)
	assert.Empty(t, deferredGot)

	endpointDispatcher.Update()
	assert.Equal(t, []int{9}, deferredGot)
}

func TestThreadedDispatcher_DeliversOnWorker(t *testing.T) {
	dispatcher := NewThreadedDispatcher()
	system, err := NewSystem(dispatcher)
	require.NoError(t, err)
	defer system.Close()

	endpoint, err := system.CreateEndpoint("listener")
	require.NoError(t, err)
	defer endpoint.Close()

	gotAll := make(chan struct{})
	var mu sync.Mutex
	var got []int
	SetHandler(endpoint, func(from EndpointID, message *int) {
		mu.Lock()
		got = append(got, *message)
		if len(got) == 3 {
			close(gotAll)
		}
		mu.Unlock()
	})

	require.True(t, SystemSend(system, endpoint.ID(), 1))
	require.True(t, SystemSend(system, endpoint.ID(), 2))
	require.True(t, SystemSend(system, endpoint.ID(), 3))

	select {
	case <-gotAll:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not deliver messages")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2, 3}, got)
	dispatcher.Cancel()
}

func TestThreadedDispatcher_CancelDrainsOnCaller(t *testing.T) {
	dispatcher := NewThreadedDispatcher()
	system, err := NewSystem(nil)
	require.NoError(t, err)
	defer system.Close()

	// Bind without making the dispatcher the delivery path, so messages can
	// pile up while the worker never races the assertions.
	require.True(t, dispatcher.BindSystem(system))

	endpoint, err := system.CreateEndpoint("listener")
	require.NoError(t, err)
	defer endpoint.Close()

	var mu sync.Mutex
	var got []int
	SetHandler(endpoint, func(from EndpointID, message *int) {
		mu.Lock()
		got = append(got, *message)
		mu.Unlock()
	})

	value := 5
	dispatcher.AddMessage(Message{
		From:    NoEndpointID,
		To:      endpoint.ID(),
		Type:    typekey.InfoFor[int](),
		Payload: &value,
	})

	dispatcher.Cancel()

	// Cancel joins the worker, so the message was delivered exactly once,
	// by the worker or by the caller-side drain.
	mu.Lock()
	assert.Equal(t, []int{5}, got)
	mu.Unlock()

	// After Cancel, added messages are destroyed, not dispatched.
	var destroyed int32
	dispatcher.AddMessage(Message{
		From:    NoEndpointID,
		To:      endpoint.ID(),
		Type:    typekey.InfoFor[destroyable](),
		Payload: &destroyable{destroyed: &destroyed},
	})
	assert.Equal(t, int32(1), destroyed)

	dispatcher.Cancel()
}
