// Package msgbus provides an asynchronous in-process publish/subscribe
// message system.
//
// Messages are sent and received through endpoints; any cloneable type can
// be a message. Channels group related messages: subscribing an endpoint to
// a channel (or to any other endpoint) forwards everything sent there.
// Delivery order and threading are owned by dispatchers, which can be set
// system-wide and overridden per endpoint.
package msgbus

import (
	"sync"

	"github.com/playforge-studio/gamecore/gamecore/logging"
	"github.com/playforge-studio/gamecore/gamecore/observability"
	"github.com/playforge-studio/gamecore/gamecore/typekey"
	"github.com/playforge-studio/gamecore/gamecore/weakref"
	"github.com/playforge-studio/gamecore/internal/goid"
)

// EndpointType describes what an endpoint id refers to.
type EndpointType int

const (
	// EndpointTypeInvalid means the id does not name a live registry entry.
	EndpointTypeInvalid EndpointType = iota
	// EndpointTypeEndpoint is an endpoint with typed handlers.
	EndpointTypeEndpoint
	// EndpointTypeChannel is a fan-out-only entry with no handlers.
	EndpointTypeChannel
)

type endpointIDSet map[EndpointID]struct{}

// endpointInfo is the registry record for one endpoint or channel.
type endpointInfo struct {
	name       string
	endpoint   *Endpoint
	dispatcher Dispatcher

	subscribers   endpointIDSet // endpoints subscribed to this entry
	subscriptions endpointIDSet // entries this endpoint is subscribed to

	// While a dispatch is in progress, subscribers cannot be changed safely,
	// so modifications are queued up and applied when the last dispatching
	// goroutine unwinds.
	dispatchGoroutines map[uint64]struct{}
	addSubscribers     endpointIDSet
	removeSubscribers  endpointIDSet
	eraseAfterDispatch bool
}

func newEndpointInfo(name string) *endpointInfo {
	return &endpointInfo{
		name:               name,
		subscribers:        make(endpointIDSet),
		subscriptions:      make(endpointIDSet),
		dispatchGoroutines: make(map[uint64]struct{}),
		addSubscribers:     make(endpointIDSet),
		removeSubscribers:  make(endpointIDSet),
	}
}

// System manages a set of message endpoints and channels with support for
// synchronous or asynchronous delivery.
//
// System is thread-safe.
type System struct {
	mu           sync.Mutex
	dispatchIdle *sync.Cond
	scope        *weakref.Scope[System]
	logger       logging.Logger
	dispatcher   Dispatcher
	nextID       EndpointID
	endpoints    map[EndpointID]*endpointInfo
	dispatchers  map[Dispatcher]int64
}

// NewSystem creates a message system.
//
// The optional dispatcher is used by default for every endpoint that has no
// dispatcher of its own. With a nil dispatcher messages are delivered
// immediately, inside the Send call; a default dispatcher is highly
// recommended, as it eliminates re-entrant delivery and gives handlers
// greater freedom. Returns an error if the dispatcher is already bound to
// another system.
func NewSystem(dispatcher Dispatcher) (*System, error) {
	s := &System{
		logger:      logging.ForComponent("msgbus"),
		nextID:      2, // 0 and 1 are reserved.
		endpoints:   make(map[EndpointID]*endpointInfo),
		dispatchers: make(map[Dispatcher]int64),
	}
	s.dispatchIdle = sync.NewCond(&s.mu)
	s.scope = weakref.NewScope(s)
	if dispatcher != nil {
		if !dispatcher.BindSystem(s) {
			s.scope.Invalidate()
			return nil, NewDispatcherBoundError("NewSystem")
		}
		s.dispatcher = dispatcher
		s.dispatchers[dispatcher] = 1
	}
	s.endpoints[BroadcastID] = newEndpointInfo("BroadcastChannel")
	return s, nil
}

// Close invalidates every weak reference to the system. Endpoints and
// dispatchers left behind become non-functional but safe to use.
func (s *System) Close() {
	s.scope.Invalidate()
}

func (s *System) weakPtr() weakref.Ptr[System] {
	return s.scope.NewPtr()
}

// CreateEndpoint creates a new unique endpoint that can send and receive
// messages. The name is optional and for debugging only. The new endpoint is
// subscribed to the broadcast channel.
func (s *System) CreateEndpoint(name string) (*Endpoint, error) {
	return s.CreateEndpointWithDispatcher(nil, name)
}

// CreateEndpointWithDispatcher creates an endpoint whose messages are
// delivered through the given dispatcher in preference to the system one.
// The dispatcher must be unbound or already bound to this system.
func (s *System) CreateEndpointWithDispatcher(dispatcher Dispatcher, name string) (*Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dispatcher != nil {
		if !dispatcher.BindSystem(s) {
			return nil, NewDispatcherBoundError("CreateEndpointWithDispatcher")
		}
		s.dispatchers[dispatcher]++
	}
	id := s.nextID
	s.nextID++
	endpoint := newEndpoint(s, id, name)
	info := newEndpointInfo(name)
	info.endpoint = endpoint
	info.dispatcher = dispatcher
	s.endpoints[id] = info
	s.logger.Debug("endpoint_created", "id", id, "name", name)

	info.subscriptions[BroadcastID] = struct{}{}
	broadcast := s.endpoints[BroadcastID]
	if len(broadcast.dispatchGoroutines) == 0 {
		broadcast.subscribers[id] = struct{}{}
	} else {
		broadcast.addSubscribers[id] = struct{}{}
	}
	return endpoint, nil
}

// removeEndpoint unregisters the endpoint, called from Endpoint.Close.
func (s *System) removeEndpoint(endpoint *Endpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.endpoints[endpoint.ID()]
	if !ok {
		return
	}
	if len(info.dispatchGoroutines) > 0 {
		if _, dispatchingHere := info.dispatchGoroutines[goid.Current()]; !dispatchingHere {
			// Closing the endpoint from a different goroutine: wait for the
			// current dispatches to complete first.
			for len(info.dispatchGoroutines) > 0 {
				s.dispatchIdle.Wait()
			}
		} else {
			// This goroutine is dispatching into the endpoint right now,
			// which only happens when a subscribed endpoint's handler closes
			// it (self-close is caught in Endpoint.Close). Convert the entry
			// to a channel and let the final unwinder erase it.
			info.endpoint = nil
			info.eraseAfterDispatch = true
		}
	}

	// The endpoint is unreachable now, so the dispatcher reference can be
	// dropped in all cases; queued messages to it are discarded on delivery.
	if info.dispatcher != nil {
		s.dispatchers[info.dispatcher]--
		if s.dispatchers[info.dispatcher] == 0 {
			delete(s.dispatchers, info.dispatcher)
		}
		info.dispatcher = nil
	}

	if !info.eraseAfterDispatch {
		delete(s.endpoints, endpoint.ID())
	}
	s.logger.Debug("endpoint_removed", "id", endpoint.ID())
}

// AddChannel adds a message channel which may be used to group related
// messages. Channels are owned by the system itself and have no handlers.
func (s *System) AddChannel(name string) EndpointID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.endpoints[id] = newEndpointInfo(name)
	s.logger.Debug("channel_added", "id", id, "name", name)
	return id
}

// RemoveChannel removes a channel. Returns false if the id does not name a
// channel, or names the broadcast channel (which cannot be removed).
func (s *System) RemoveChannel(channel EndpointID) bool {
	if channel == BroadcastID {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.endpoints[channel]
	if !ok {
		return false
	}
	if info.endpoint != nil {
		return false
	}
	if len(info.dispatchGoroutines) == 0 {
		delete(s.endpoints, channel)
	} else if info.eraseAfterDispatch {
		return false
	} else {
		info.eraseAfterDispatch = true
	}
	return true
}

// GetEndpointType returns what the id refers to, or EndpointTypeInvalid.
func (s *System) GetEndpointType(id EndpointID) EndpointType {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.endpoints[id]
	if !ok || info.eraseAfterDispatch {
		return EndpointTypeInvalid
	}
	if info.endpoint != nil {
		return EndpointTypeEndpoint
	}
	return EndpointTypeChannel
}

// IsValidEndpoint reports whether the id is valid to send to.
func (s *System) IsValidEndpoint(id EndpointID) bool {
	return s.GetEndpointType(id) != EndpointTypeInvalid
}

// subscribe records that subscriber receives everything sent to source.
func (s *System) subscribe(source, subscriber EndpointID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sourceInfo, ok := s.endpoints[source]
	if !ok {
		return false
	}
	subscriberInfo, ok := s.endpoints[subscriber]
	if !ok {
		return false
	}
	if _, ok := subscriberInfo.subscriptions[source]; ok {
		return true
	}
	subscriberInfo.subscriptions[source] = struct{}{}

	if len(sourceInfo.dispatchGoroutines) == 0 {
		sourceInfo.subscribers[subscriber] = struct{}{}
	} else if _, pendingRemove := sourceInfo.removeSubscribers[subscriber]; pendingRemove {
		delete(sourceInfo.removeSubscribers, subscriber)
	} else if _, present := sourceInfo.subscribers[subscriber]; !present {
		sourceInfo.addSubscribers[subscriber] = struct{}{}
	}
	return true
}

func (s *System) unsubscribe(source, subscriber EndpointID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	subscriberInfo, ok := s.endpoints[subscriber]
	if !ok {
		return
	}
	delete(subscriberInfo.subscriptions, source)

	sourceInfo, ok := s.endpoints[source]
	if !ok {
		return
	}
	if len(sourceInfo.dispatchGoroutines) == 0 {
		delete(sourceInfo.subscribers, subscriber)
	} else if _, pendingAdd := sourceInfo.addSubscribers[subscriber]; pendingAdd {
		delete(sourceInfo.addSubscribers, subscriber)
	} else if _, present := sourceInfo.subscribers[subscriber]; present {
		sourceInfo.removeSubscribers[subscriber] = struct{}{}
	}
}

func (s *System) isSubscribed(source, subscriber EndpointID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.endpoints[source]; !ok {
		return false
	}
	subscriberInfo, ok := s.endpoints[subscriber]
	if !ok {
		return false
	}
	_, ok = subscriberInfo.subscriptions[source]
	return ok
}

// SystemSend sends an anonymous message directly through the system. The
// receiving endpoints observe NoEndpointID as the originator.
func SystemSend[T any](s *System, to EndpointID, message T) bool {
	return s.doSend(NoEndpointID, to, typekey.InfoFor[T](), &message)
}

// doSend routes a message toward its destination: through the destination's
// dispatcher, through the system dispatcher, or immediately inline.
func (s *System) doSend(from, to EndpointID, info *typekey.Info, message any) bool {
	var dispatcher Dispatcher
	s.mu.Lock()
	toInfo, ok := s.endpoints[to]
	if !ok {
		s.mu.Unlock()
		observability.RecordMessageSent("none", false)
		return false
	}
	dispatcher = s.dispatcher
	if toInfo.dispatcher != nil {
		dispatcher = toInfo.dispatcher
	}
	s.mu.Unlock()

	// Only cloneable types can be sent as messages.
	if !info.CanClone() {
		observability.RecordMessageSent(dispatcherName(dispatcher), false)
		return false
	}
	if dispatcher != nil {
		dispatcher.AddMessage(Message{From: from, To: to, Type: info, Payload: info.Clone(message)})
	} else {
		visited := make(endpointIDSet)
		// The payload is not cloned for immediate dispatch, and not
		// destroyed at the end.
		s.dispatchImpl(visited, nil, from, to, info, message, false)
	}
	observability.RecordMessageSent(dispatcherName(dispatcher), true)
	return true
}

func dispatcherName(dispatcher Dispatcher) string {
	if dispatcher == nil {
		return "immediate"
	}
	return dispatcher.Name()
}

// doDispatch is called by a dispatcher to propagate a queued message.
func (s *System) doDispatch(dispatcher Dispatcher, message Message) {
	visited := make(endpointIDSet)
	s.dispatchImpl(visited, dispatcher, message.From, message.To, message.Type, message.Payload, true)
}

// dispatchImpl delivers a message to "to" and recursively to its
// subscribers. Returns false if the destination no longer exists.
func (s *System) dispatchImpl(visited endpointIDSet, dispatcher Dispatcher,
	from, to EndpointID, info *typekey.Info, message any, ownsMessage bool) bool {

	if _, seen := visited[to]; seen {
		return true
	}
	visited[to] = struct{}{}

	gid := goid.Current()

	s.mu.Lock()
	toInfo, ok := s.endpoints[to]
	if !ok || toInfo.eraseAfterDispatch {
		s.mu.Unlock()
		if ownsMessage {
			info.Destroy(message)
		}
		return false
	}
	if toInfo.dispatcher != dispatcher && toInfo.dispatcher != nil {
		// The destination wants its own dispatcher; re-enqueue there.
		target := toInfo.dispatcher
		s.mu.Unlock()
		target.AddMessage(Message{From: from, To: to, Type: info, Payload: info.Clone(message)})
		return true
	}
	toInfo.dispatchGoroutines[gid] = struct{}{}
	endpoint := toInfo.endpoint
	subscribers := make([]EndpointID, 0, len(toInfo.subscribers))
	for id := range toInfo.subscribers {
		subscribers = append(subscribers, id)
	}
	s.mu.Unlock()

	if endpoint != nil {
		endpoint.receive(from, info, message)
		observability.RecordMessageDispatched(dispatcherName(dispatcher))
	}
	var deleted []EndpointID
	for _, id := range subscribers {
		if !s.dispatchImpl(visited, dispatcher, from, id, info, message, false) {
			deleted = append(deleted, id)
		}
	}

	s.mu.Lock()
	for _, id := range deleted {
		delete(toInfo.subscribers, id)
	}
	delete(toInfo.dispatchGoroutines, gid)
	if len(toInfo.dispatchGoroutines) == 0 {
		if toInfo.eraseAfterDispatch {
			delete(s.endpoints, to)
		} else {
			for id := range toInfo.addSubscribers {
				toInfo.subscribers[id] = struct{}{}
			}
			clear(toInfo.addSubscribers)
			for id := range toInfo.removeSubscribers {
				delete(toInfo.subscribers, id)
			}
			clear(toInfo.removeSubscribers)
		}
		s.dispatchIdle.Broadcast()
	}
	s.mu.Unlock()

	if ownsMessage {
		info.Destroy(message)
	}
	return true
}
