package msgbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStack(t *testing.T, order StackOrder) (*System, *StackEndpoint) {
	t.Helper()
	system := newTestSystem(t)
	stack, err := NewStackEndpoint(system, order, "stack")
	require.NoError(t, err)
	t.Cleanup(stack.Close)
	return system, stack
}

func TestStackEndpoint_SingleBundle(t *testing.T) {
	system, stack := newTestStack(t, StackTopDown)

	count := 0
	handlers := NewStackHandlers()
	defer handlers.Close()
	SetStackHandler(handlers, func(from EndpointID, message *int) bool {
		count += *message
		return true
	})

	require.True(t, stack.Push(handlers))
	require.True(t, SystemSend(system, stack.ID(), 1))
	assert.Equal(t, 1, count)
}

func TestStackEndpoint_TopDownStopsAtFirstHandled(t *testing.T) {
	system, stack := newTestStack(t, StackTopDown)

	var order []string
	bottom := NewStackHandlers()
	defer bottom.Close()
	SetStackHandler(bottom, func(from EndpointID, message *int) bool {
		order = append(order, "bottom")
		return true
	})
	top := NewStackHandlers()
	defer top.Close()
	SetStackHandler(top, func(from EndpointID, message *int) bool {
		order = append(order, "top")
		return true
	})

	require.True(t, stack.Push(bottom))
	require.True(t, stack.Push(top))
	require.True(t, SystemSend(system, stack.ID(), 1))

	// Top-down: the most recently pushed bundle wins.
	assert.Equal(t, []string{"top"}, order)
}

func TestStackEndpoint_UnhandledFallsThrough(t *testing.T) {
	system, stack := newTestStack(t, StackTopDown)

	var order []string
	bottom := NewStackHandlers()
	defer bottom.Close()
	SetStackHandler(bottom, func(from EndpointID, message *int) bool {
		order = append(order, "bottom")
		return true
	})
	top := NewStackHandlers()
	defer top.Close()
	SetStackHandler(top, func(from EndpointID, message *int) bool {
		order = append(order, "top")
		return false
	})

	require.True(t, stack.Push(bottom))
	require.True(t, stack.Push(top))
	require.True(t, SystemSend(system, stack.ID(), 1))

	assert.Equal(t, []string{"top", "bottom"}, order)
}

func TestStackEndpoint_BottomUpOrder(t *testing.T) {
	system, stack := newTestStack(t, StackBottomUp)

	var order []string
	bottom := NewStackHandlers()
	defer bottom.Close()
	SetStackHandler(bottom, func(from EndpointID, message *int) bool {
		order = append(order, "bottom")
		return false
	})
	top := NewStackHandlers()
	defer top.Close()
	SetStackHandler(top, func(from EndpointID, message *int) bool {
		order = append(order, "top")
		return false
	})

	require.True(t, stack.Push(bottom))
	require.True(t, stack.Push(top))
	require.True(t, SystemSend(system, stack.ID(), 1))

	assert.Equal(t, []string{"bottom", "top"}, order)
}

func TestStackEndpoint_PerTypeOrderOverride(t *testing.T) {
	system, stack := newTestStack(t, StackTopDown)
	SetStackOrder[int](stack, StackBottomUp)

	var order []string
	bottom := NewStackHandlers()
	defer bottom.Close()
	SetStackHandler(bottom, func(from EndpointID, message *int) bool {
		order = append(order, "bottom-int")
		return false
	})
	SetStackHandler(bottom, func(from EndpointID, message *string) bool {
		order = append(order, "bottom-string")
		return false
	})
	top := NewStackHandlers()
	defer top.Close()
	SetStackHandler(top, func(from EndpointID, message *int) bool {
		order = append(order, "top-int")
		return false
	})
	SetStackHandler(top, func(from EndpointID, message *string) bool {
		order = append(order, "top-string")
		return false
	})

	require.True(t, stack.Push(bottom))
	require.True(t, stack.Push(top))

	require.True(t, SystemSend(system, stack.ID(), 1))
	assert.Equal(t, []string{"bottom-int", "top-int"}, order)

	order = nil
	require.True(t, SystemSend(system, stack.ID(), "s"))
	assert.Equal(t, []string{"top-string", "bottom-string"}, order)
}

func TestStackEndpoint_BundleWithoutTypePassesOn(t *testing.T) {
	system, stack := newTestStack(t, StackTopDown)

	var order []string
	bottom := NewStackHandlers()
	defer bottom.Close()
	SetStackHandler(bottom, func(from EndpointID, message *int) bool {
		order = append(order, "bottom")
		return true
	})
	top := NewStackHandlers()
	defer top.Close()
	SetStackHandler(top, func(from EndpointID, message *string) bool {
		order = append(order, "top")
		return true
	})

	require.True(t, stack.Push(bottom))
	require.True(t, stack.Push(top))
	require.True(t, SystemSend(system, stack.ID(), 1))

	assert.Equal(t, []string{"bottom"}, order)
}

func TestStackEndpoint_PushAttachedElsewhereFails(t *testing.T) {
	system, stack := newTestStack(t, StackTopDown)
	other, err := NewStackEndpoint(system, StackTopDown, "other")
	require.NoError(t, err)
	defer other.Close()

	handlers := NewStackHandlers()
	defer handlers.Close()
	SetStackHandler(handlers, func(from EndpointID, message *int) bool { return true })

	require.True(t, stack.Push(handlers))
	assert.False(t, other.Push(handlers))
	assert.False(t, stack.Push(handlers))
	assert.Same(t, stack, handlers.Stack())
}

func TestStackEndpoint_RemoveAllowsRepush(t *testing.T) {
	system, stack := newTestStack(t, StackTopDown)

	count := 0
	handlers := NewStackHandlers()
	defer handlers.Close()
	SetStackHandler(handlers, func(from EndpointID, message *int) bool {
		count++
		return true
	})

	require.True(t, stack.Push(handlers))
	require.True(t, SystemSend(system, stack.ID(), 1))
	assert.Equal(t, 1, count)

	require.True(t, stack.Remove(handlers))
	assert.Nil(t, handlers.Stack())
	require.True(t, SystemSend(system, stack.ID(), 1))
	assert.Equal(t, 1, count)

	require.True(t, stack.Push(handlers))
	require.True(t, SystemSend(system, stack.ID(), 1))
	assert.Equal(t, 2, count)
}

func TestStackEndpoint_ClosedBundleScrubbed(t *testing.T) {
	system, stack := newTestStack(t, StackTopDown)

	count := 0
	handlers := NewStackHandlers()
	SetStackHandler(handlers, func(from EndpointID, message *int) bool {
		count++
		return true
	})
	require.True(t, stack.Push(handlers))
	require.True(t, SystemSend(system, stack.ID(), 1))
	assert.Equal(t, 1, count)

	// A dead bundle is skipped and scrubbed on the next dispatch.
	handlers.Close()
	require.True(t, SystemSend(system, stack.ID(), 1))
	assert.Equal(t, 1, count)
}

func TestStackEndpoint_RemoveUnattachedFails(t *testing.T) {
	_, stack := newTestStack(t, StackTopDown)
	handlers := NewStackHandlers()
	defer handlers.Close()
	assert.False(t, stack.Remove(handlers))
	assert.False(t, stack.Remove(nil))
	assert.False(t, stack.Push(nil))
}
