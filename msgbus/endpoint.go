package msgbus

import (
	"sync"
	"time"

	"github.com/playforge-studio/gamecore/gamecore/observability"
	"github.com/playforge-studio/gamecore/gamecore/typekey"
	"github.com/playforge-studio/gamecore/gamecore/weakref"
	"github.com/playforge-studio/gamecore/internal/goid"
)

// EndpointID uniquely identifies a message endpoint within a System.
type EndpointID uint64

const (
	// NoEndpointID represents the lack of an endpoint. Messages sent to it
	// go nowhere; messages received from it were sent directly through the
	// System.
	NoEndpointID EndpointID = 0

	// BroadcastID is the global broadcast channel. Every endpoint is
	// implicitly subscribed to it at creation, and may unsubscribe (and
	// resubscribe) as desired.
	BroadcastID EndpointID = 1
)

type queuedMessage struct {
	from    EndpointID
	info    *typekey.Info
	payload any
}

type genericHandler func(from EndpointID, message any)

// handlerEntry boxes a handler so the dispatch loop can move the function
// out while it runs and tell a restored handler apart from a replacement.
type handlerEntry struct {
	fn genericHandler
}

// Endpoint both sends and receives messages within a System.
//
// Endpoint is thread-safe. An endpoint may not be closed while one of its
// handlers is executing on the same goroutine.
type Endpoint struct {
	id     EndpointID
	name   string
	system weakref.Ptr[System]

	handlerMu        sync.Mutex
	handlerDone      *sync.Cond
	handlers         map[*typekey.Key]*handlerEntry
	callingHandler   bool
	callingGoroutine uint64
	queued           []queuedMessage
}

func newEndpoint(system *System, id EndpointID, name string) *Endpoint {
	e := &Endpoint{
		id:       id,
		name:     name,
		system:   system.weakPtr(),
		handlers: make(map[*typekey.Key]*handlerEntry),
	}
	e.handlerDone = sync.NewCond(&e.handlerMu)
	return e
}

// ID returns the unique id for this endpoint. Ids are never reused after an
// endpoint is closed.
func (e *Endpoint) ID() EndpointID { return e.id }

// Name returns the endpoint's optional display name. Names are not
// necessarily unique and exist for logging only.
func (e *Endpoint) Name() string { return e.name }

// System returns a weak reference to the owning system. If the system is
// gone, the endpoint is non-functional.
func (e *Endpoint) System() weakref.Ptr[System] { return e.system }

// Subscribe subscribes this endpoint to all messages sent to another
// endpoint (usually a channel). Circular subscriptions are valid; each
// endpoint receives a message once. Subscribing twice trivially succeeds.
func (e *Endpoint) Subscribe(source EndpointID) bool {
	lock := e.system.Lock()
	defer lock.Release()
	system := lock.Get()
	if system == nil {
		return false
	}
	return system.subscribe(source, e.id)
}

// Unsubscribe removes a subscription. Unsubscribing from the broadcast
// channel is valid.
func (e *Endpoint) Unsubscribe(source EndpointID) {
	lock := e.system.Lock()
	defer lock.Release()
	system := lock.Get()
	if system == nil {
		return
	}
	system.unsubscribe(source, e.id)
}

// IsSubscribed reports whether this endpoint is subscribed to source.
func (e *Endpoint) IsSubscribed(source EndpointID) bool {
	lock := e.system.Lock()
	defer lock.Release()
	system := lock.Get()
	if system == nil {
		return false
	}
	return system.isSubscribed(source, e.id)
}

// SetHandler sets the handler for messages of type T on the endpoint.
// Messages of a type with no handler are dropped by the endpoint.
func SetHandler[T any](e *Endpoint, handler func(from EndpointID, message *T)) {
	e.handlerMu.Lock()
	e.handlers[typekey.Get[T]()] = &handlerEntry{fn: func(from EndpointID, message any) {
		handler(from, message.(*T))
	}}
	e.handlerMu.Unlock()
}

// ClearHandler removes the handler for messages of type T.
func ClearHandler[T any](e *Endpoint) {
	e.handlerMu.Lock()
	delete(e.handlers, typekey.Get[T]())
	e.handlerMu.Unlock()
}

// Send sends a message from this endpoint.
//
// Delivery is generally asynchronous, as determined by the dispatcher of the
// receiving endpoint. Returns true if the message could be dispatched toward
// the destination; the destination may still be closed before delivery.
func Send[T any](e *Endpoint, to EndpointID, message T) bool {
	lock := e.system.Lock()
	defer lock.Release()
	system := lock.Get()
	if system == nil {
		return false
	}
	return system.doSend(e.id, to, typekey.InfoFor[T](), &message)
}

// receive delivers a message into the endpoint's handlers.
//
// If a handler is already executing on any goroutine, the message is cloned
// onto the endpoint's queue and drained by the handler loop already running.
// Otherwise the matching handler is moved out of the map (so it may replace
// or clear itself), invoked outside the endpoint lock, restored, and the
// queue drained.
func (e *Endpoint) receive(from EndpointID, info *typekey.Info, message any) {
	key := info.Key()
	queueIndex := 0

	e.handlerMu.Lock()
	defer e.handlerMu.Unlock()
	if e.callingHandler {
		e.queued = append(e.queued, queuedMessage{from: from, info: info, payload: info.Clone(message)})
		return
	}
	for {
		entry, ok := e.handlers[key]
		if !ok || entry.fn == nil {
			// No handler for this type: drop it and go on with the queue.
			if queueIndex >= len(e.queued) {
				break
			}
			next := e.queued[queueIndex]
			queueIndex++
			from, info, message = next.from, next.info, next.payload
			key = info.Key()
			continue
		}

		// Move the handler out of its entry so the callback may clear or
		// replace itself, then restore it unless that happened.
		handler := entry.fn
		entry.fn = nil
		e.callingHandler = true
		e.callingGoroutine = goid.Current()
		e.handlerMu.Unlock()
		start := time.Now()
		handler(from, message)
		observability.RecordHandlerDuration(e.name, time.Since(start).Seconds())
		e.handlerMu.Lock()
		e.callingHandler = false
		e.handlerDone.Broadcast()

		if current, ok := e.handlers[key]; ok && current == entry {
			entry.fn = handler
		}

		if queueIndex >= len(e.queued) {
			break
		}
		next := e.queued[queueIndex]
		queueIndex++
		from = next.from
		info = next.info
		key = info.Key()
		message = next.payload
	}

	for _, queued := range e.queued {
		queued.info.Destroy(queued.payload)
	}
	e.queued = nil
}

// Close shuts the endpoint down and removes it from the system.
//
// Close blocks while a handler is executing on another goroutine. Closing an
// endpoint from within its own handler is forbidden and panics.
func (e *Endpoint) Close() {
	e.handlerMu.Lock()
	if e.callingHandler {
		if e.callingGoroutine == goid.Current() {
			e.handlerMu.Unlock()
			panic("msgbus: closing endpoint within its own handler")
		}
		for e.callingHandler {
			e.handlerDone.Wait()
		}
	}
	e.handlers = make(map[*typekey.Key]*handlerEntry)
	e.handlerMu.Unlock()

	lock := e.system.Lock()
	defer lock.Release()
	system := lock.Get()
	if system == nil {
		return
	}
	system.removeEndpoint(e)
}
