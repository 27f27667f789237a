package msgbus

import (
	"sync"

	"github.com/playforge-studio/gamecore/gamecore/typekey"
	"github.com/playforge-studio/gamecore/gamecore/weakref"
)

// StackOrder specifies the direction a message walks a StackEndpoint's
// handler stack. Configurable per message type.
type StackOrder int

const (
	// StackTopDown walks from the most recently pushed bundle downward.
	StackTopDown StackOrder = iota
	// StackBottomUp walks from the oldest pushed bundle upward.
	StackBottomUp
)

type stackHandlerInfo struct {
	callback        func(from EndpointID, message any) bool
	registerMessage func(stack *StackEndpoint)
}

// StackHandlers is a bundle of message handlers that can be pushed onto a
// StackEndpoint.
//
// A bundle has a lifetime independent of any stack: it can be set up once
// and pushed or removed as needed. A bundle may be attached to at most one
// stack at a time.
//
// StackHandlers is thread-safe.
type StackHandlers struct {
	scope *weakref.Scope[StackHandlers]

	mu       sync.Mutex
	stack    *StackEndpoint
	handlers map[*typekey.Key]stackHandlerInfo
}

// NewStackHandlers creates an empty bundle.
func NewStackHandlers() *StackHandlers {
	h := &StackHandlers{
		handlers: make(map[*typekey.Key]stackHandlerInfo),
	}
	h.scope = weakref.NewScope(h)
	return h
}

// Close invalidates the bundle. Any stack holding it drops it on its next
// dispatch snapshot.
func (h *StackHandlers) Close() {
	h.scope.Invalidate()
}

// Stack returns the stack this bundle is attached to, or nil.
func (h *StackHandlers) Stack() *StackEndpoint {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stack
}

func (h *StackHandlers) setStack(stack *StackEndpoint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stack != nil && stack != nil {
		panic("msgbus: stack handlers attached to two stacks")
	}
	h.stack = stack
	if h.stack != nil {
		for _, info := range h.handlers {
			info.registerMessage(h.stack)
		}
	}
}

// SetStackHandler sets the bundle's handler for messages of type T. The
// handler returns true to mark the message handled, stopping the walk. A
// message type with no handler in the bundle passes to the next bundle.
func SetStackHandler[T any](h *StackHandlers, handler func(from EndpointID, message *T) bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[typekey.Get[T]()] = stackHandlerInfo{
		callback: func(from EndpointID, message any) bool {
			return handler(from, message.(*T))
		},
		registerMessage: func(stack *StackEndpoint) {
			registerStackMessage[T](stack)
		},
	}
	if h.stack != nil {
		registerStackMessage[T](h.stack)
	}
}

// ClearStackHandler removes the bundle's handler for messages of type T.
func ClearStackHandler[T any](h *StackHandlers) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.handlers, typekey.Get[T]())
}

// receive runs the bundle's handler for the keyed type, if any. The handler
// is moved out while it runs so it may clear or replace itself.
func (h *StackHandlers) receive(from EndpointID, key *typekey.Key, message any) bool {
	h.mu.Lock()
	info, ok := h.handlers[key]
	if !ok || info.callback == nil {
		h.mu.Unlock()
		return false
	}
	callback := info.callback
	info.callback = nil
	h.handlers[key] = info
	h.mu.Unlock()

	result := callback(from, message)

	h.mu.Lock()
	if current, ok := h.handlers[key]; ok && current.callback == nil {
		current.callback = callback
		h.handlers[key] = current
	}
	h.mu.Unlock()
	return result
}

type stackNode struct {
	handlers weakref.Ptr[StackHandlers]
	cached   *StackHandlers
}

type stackMessageInfo struct {
	order        StackOrder
	clearHandler func()
}

// StackEndpoint is an endpoint that dispatches each message through a stack
// of handler bundles instead of a single handler per type.
//
// When a message arrives it is offered to bundles in the configured order
// for its type; the first bundle whose handler returns true consumes it.
//
// StackEndpoint is thread-safe.
type StackEndpoint struct {
	defaultOrder StackOrder
	endpoint     *Endpoint

	mu       sync.Mutex
	stack    []stackNode
	messages map[*typekey.Key]*stackMessageInfo
}

// NewStackEndpoint creates a stack endpoint over a fresh endpoint of the
// given system.
func NewStackEndpoint(system *System, defaultOrder StackOrder, name string) (*StackEndpoint, error) {
	return NewStackEndpointWithDispatcher(system, defaultOrder, nil, name)
}

// NewStackEndpointWithDispatcher creates a stack endpoint whose underlying
// endpoint uses the given dispatcher.
func NewStackEndpointWithDispatcher(system *System, defaultOrder StackOrder,
	dispatcher Dispatcher, name string) (*StackEndpoint, error) {
	if system == nil {
		return nil, NewSystemClosedError("NewStackEndpoint")
	}
	endpoint, err := system.CreateEndpointWithDispatcher(dispatcher, name)
	if err != nil {
		return nil, err
	}
	return &StackEndpoint{
		defaultOrder: defaultOrder,
		endpoint:     endpoint,
		messages:     make(map[*typekey.Key]*stackMessageInfo),
	}, nil
}

// Close detaches every bundle and closes the underlying endpoint.
func (se *StackEndpoint) Close() {
	se.mu.Lock()
	for _, info := range se.messages {
		info.clearHandler()
	}
	se.messages = make(map[*typekey.Key]*stackMessageInfo)
	stack := se.stack
	se.stack = nil
	se.mu.Unlock()

	for _, node := range stack {
		if node.cached == nil {
			continue
		}
		lock := node.handlers.Lock()
		if handlers := lock.Get(); handlers != nil {
			handlers.setStack(nil)
		}
		lock.Release()
	}

	se.endpoint.Close()
}

// ID returns the underlying endpoint id.
func (se *StackEndpoint) ID() EndpointID { return se.endpoint.ID() }

// Name returns the underlying endpoint name.
func (se *StackEndpoint) Name() string { return se.endpoint.Name() }

// System returns a weak reference to the owning system.
func (se *StackEndpoint) System() weakref.Ptr[System] { return se.endpoint.System() }

// Subscribe passes through to the underlying endpoint.
func (se *StackEndpoint) Subscribe(source EndpointID) bool {
	return se.endpoint.Subscribe(source)
}

// Unsubscribe passes through to the underlying endpoint.
func (se *StackEndpoint) Unsubscribe(source EndpointID) {
	se.endpoint.Unsubscribe(source)
}

// IsSubscribed passes through to the underlying endpoint.
func (se *StackEndpoint) IsSubscribed(source EndpointID) bool {
	return se.endpoint.IsSubscribed(source)
}

// StackSend sends a message from the stack's underlying endpoint.
func StackSend[T any](se *StackEndpoint, to EndpointID, message T) bool {
	return Send(se.endpoint, to, message)
}

// SetStackOrder sets the walk order for messages of type T.
func SetStackOrder[T any](se *StackEndpoint, order StackOrder) {
	se.mu.Lock()
	defer se.mu.Unlock()
	messageInfoFor[T](se).order = order
}

// registerStackMessage ensures messages of type T route into the stack walk.
func registerStackMessage[T any](se *StackEndpoint) {
	se.mu.Lock()
	defer se.mu.Unlock()
	messageInfoFor[T](se)
}

// messageInfoFor returns (creating if needed) the per-type record, wiring
// the underlying endpoint handler on first use. Callers hold se.mu.
func messageInfoFor[T any](se *StackEndpoint) *stackMessageInfo {
	key := typekey.Get[T]()
	if info, ok := se.messages[key]; ok {
		return info
	}
	SetHandler(se.endpoint, func(from EndpointID, message *T) {
		se.handleMessage(from, key, message)
	})
	info := &stackMessageInfo{
		order:        se.defaultOrder,
		clearHandler: func() { ClearHandler[T](se.endpoint) },
	}
	se.messages[key] = info
	return info
}

// Push pushes a bundle onto the top of the stack. Fails if the bundle is
// already attached to a stack.
func (se *StackEndpoint) Push(handlers *StackHandlers) bool {
	if handlers == nil || handlers.Stack() != nil {
		return false
	}
	handlers.setStack(se)
	se.mu.Lock()
	se.stack = append(se.stack, stackNode{
		handlers: handlers.scope.NewPtr(),
		cached:   handlers,
	})
	se.mu.Unlock()
	return true
}

// Remove removes a bundle from anywhere in the stack. The slot is cleared
// immediately; the next dispatch snapshot drops it.
func (se *StackEndpoint) Remove(handlers *StackHandlers) bool {
	if handlers == nil || handlers.Stack() != se {
		return false
	}
	se.mu.Lock()
	for i := range se.stack {
		node := &se.stack[i]
		if node.cached != handlers {
			continue
		}
		lock := node.handlers.Lock()
		live := lock.Get() == handlers
		lock.Release()
		if live {
			node.handlers = weakref.Ptr[StackHandlers]{}
			node.cached = nil
			break
		}
	}
	se.mu.Unlock()
	handlers.setStack(nil)
	return true
}

// getHandlers snapshots the live bundles in walk order for the keyed type,
// scrubbing dead weak references out of the stack on the way.
func (se *StackEndpoint) getHandlers(key *typekey.Key) []weakref.Ptr[StackHandlers] {
	se.mu.Lock()
	defer se.mu.Unlock()
	info, ok := se.messages[key]
	if !ok {
		return nil
	}

	var begin, end, delta int
	if info.order == StackTopDown {
		begin, end, delta = len(se.stack)-1, -1, -1
	} else {
		begin, end, delta = 0, len(se.stack), 1
	}

	cleanStack := false
	handlers := make([]weakref.Ptr[StackHandlers], 0, len(se.stack))
	for i := begin; i != end; i += delta {
		node := &se.stack[i]
		if node.cached == nil {
			cleanStack = true
			continue
		}
		lock := node.handlers.Lock()
		dead := lock.Get() == nil
		lock.Release()
		if dead {
			node.cached = nil
			cleanStack = true
			continue
		}
		handlers = append(handlers, node.handlers)
	}

	if cleanStack {
		kept := se.stack[:0]
		for _, node := range se.stack {
			if node.cached != nil {
				kept = append(kept, node)
			}
		}
		se.stack = kept
	}
	return handlers
}

// handleMessage walks the stack snapshot until a bundle handles the message.
func (se *StackEndpoint) handleMessage(from EndpointID, key *typekey.Key, message any) {
	for _, ptr := range se.getHandlers(key) {
		lock := ptr.Lock()
		handlers := lock.Get()
		if handlers == nil {
			lock.Release()
			continue
		}
		handled := handlers.receive(from, key, message)
		lock.Release()
		if handled {
			break
		}
	}
}
