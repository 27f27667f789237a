package msgbus

import (
	"sync"

	"github.com/playforge-studio/gamecore/gamecore/logging"
	"github.com/playforge-studio/gamecore/gamecore/typekey"
	"github.com/playforge-studio/gamecore/gamecore/weakref"
	"github.com/playforge-studio/gamecore/internal/goid"
)

// Message describes a message in transit: who sent it, where it is going,
// and the cloned payload the dispatcher owns until delivery.
type Message struct {
	From    EndpointID
	To      EndpointID
	Type    *typekey.Info
	Payload any
}

func (m Message) destroy() {
	if m.Type != nil {
		m.Type.Destroy(m.Payload)
	}
}

// Dispatcher is the algorithm used to asynchronously deliver messages sent
// from one endpoint to another.
//
// A dispatcher may serve an entire System (defining the default delivery
// behavior) and can be specialized per endpoint; an endpoint dispatcher is
// always used in preference to the system dispatcher. A dispatcher is bound
// to exactly one System for its lifetime; rebinding fails.
//
// Implementations embed DispatcherBase and must eventually hand every
// accepted message back through DispatcherBase.dispatch (or destroy it).
type Dispatcher interface {
	// AddMessage accepts a message for later delivery. The dispatcher owns
	// the cloned payload until it dispatches or destroys it.
	AddMessage(message Message)

	// BindSystem performs the one-shot association with a system. It returns
	// true if the dispatcher is now (or was already) bound to that system.
	BindSystem(system *System) bool

	// Name identifies the dispatcher kind in metrics.
	Name() string
}

// DispatcherBase carries the system binding shared by all dispatchers.
type DispatcherBase struct {
	mu     sync.Mutex
	system weakref.Ptr[System]
}

// BindSystem implements the one-shot binding contract.
func (b *DispatcherBase) BindSystem(system *System) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	lock := b.system.Lock()
	defer lock.Release()
	if system == nil || lock.Get() != nil {
		return lock.Get() == system
	}
	b.system = system.weakPtr()
	return true
}

// System returns the weak reference to the bound system.
func (b *DispatcherBase) System() weakref.Ptr[System] {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.system
}

// dispatch propagates a message through the bound system. The message is
// invalid after this call. If the system is gone the payload is destroyed.
func (b *DispatcherBase) dispatch(self Dispatcher, message Message) {
	lock := b.System().Lock()
	defer lock.Release()
	system := lock.Get()
	if system == nil {
		message.destroy()
		return
	}
	system.doDispatch(self, message)
}

// PollingDispatcher queues all messages until Update is called.
//
// This is the safest (but potentially slowest) dispatcher, as the calling
// code executes all queued handlers at a known point in time. Handlers are
// free to use the message system in any way (short of destroying the System
// or their own endpoint), as long as Update is called from outside a
// handler, for instance in the main game loop. For single-threaded
// applications this is generally the best choice.
type PollingDispatcher struct {
	DispatcherBase

	mu       sync.Mutex
	messages []Message
}

// NewPollingDispatcher creates an empty polling dispatcher.
func NewPollingDispatcher() *PollingDispatcher {
	return &PollingDispatcher{}
}

// Name implements Dispatcher.
func (d *PollingDispatcher) Name() string { return "polling" }

// AddMessage implements Dispatcher.
func (d *PollingDispatcher) AddMessage(message Message) {
	d.mu.Lock()
	d.messages = append(d.messages, message)
	d.mu.Unlock()
}

// Update dispatches all messages queued since the last Update, including
// messages enqueued by the handlers it runs.
func (d *PollingDispatcher) Update() {
	for {
		d.mu.Lock()
		messages := d.messages
		d.messages = nil
		d.mu.Unlock()
		if len(messages) == 0 {
			return
		}
		for _, message := range messages {
			d.dispatch(d, message)
		}
	}
}

// Close destroys any messages still queued.
func (d *PollingDispatcher) Close() {
	d.mu.Lock()
	messages := d.messages
	d.messages = nil
	d.mu.Unlock()
	for _, message := range messages {
		message.destroy()
	}
}

// ThreadedDispatcher processes messages from a worker goroutine as soon as
// they arrive.
//
// Handlers remain free to use the message system in any way (short of
// destroying the System or their own endpoint), and delivery latency is
// lower than polling since the worker is woken as messages arrive. All
// handlers reachable from this dispatcher must be safe to call from the
// worker goroutine.
//
// Cancel must be called before the bound System is destroyed if there is any
// chance of queued messages at that time.
type ThreadedDispatcher struct {
	DispatcherBase

	mu        sync.Mutex
	ready     *sync.Cond
	exit      bool
	messages  []Message
	workerID  uint64
	workerRun sync.WaitGroup
	logger    logging.Logger
}

// NewThreadedDispatcher creates the dispatcher and starts its worker
// goroutine.
func NewThreadedDispatcher() *ThreadedDispatcher {
	d := &ThreadedDispatcher{logger: logging.ForComponent("msgbus")}
	d.ready = sync.NewCond(&d.mu)
	started := make(chan struct{})
	d.workerRun.Add(1)
	go func() {
		defer d.workerRun.Done()
		d.mu.Lock()
		d.workerID = goid.Current()
		d.mu.Unlock()
		close(started)
		d.processMessages()
	}()
	<-started
	return d
}

// Name implements Dispatcher.
func (d *ThreadedDispatcher) Name() string { return "threaded" }

// AddMessage implements Dispatcher.
func (d *ThreadedDispatcher) AddMessage(message Message) {
	d.mu.Lock()
	if d.exit {
		d.mu.Unlock()
		message.destroy()
		return
	}
	d.messages = append(d.messages, message)
	d.ready.Signal()
	d.mu.Unlock()
}

// Cancel stops the worker goroutine and dispatches any remaining queued
// messages on the calling goroutine. No messages are dispatched after Cancel
// returns. Cancel must not be called from a handler running under this
// dispatcher.
func (d *ThreadedDispatcher) Cancel() {
	d.mu.Lock()
	if goid.Current() == d.workerID {
		d.mu.Unlock()
		panic("msgbus: cannot cancel ThreadedDispatcher from within its own handlers")
	}
	if d.exit {
		d.mu.Unlock()
		return
	}
	d.exit = true
	d.ready.Broadcast()
	d.mu.Unlock()

	d.workerRun.Wait()

	d.mu.Lock()
	messages := d.messages
	d.messages = nil
	d.mu.Unlock()
	for _, message := range messages {
		d.dispatch(d, message)
	}
}

// Close warns if the dispatcher is still running while bound to a live
// system, then cancels it; any messages still queued are dispatched on the
// calling goroutine by Cancel.
func (d *ThreadedDispatcher) Close() {
	lock := d.System().Lock()
	d.mu.Lock()
	if lock.Get() != nil && !d.exit {
		d.logger.Warn("threaded_dispatcher_closed_while_bound",
			"detail", "queued messages may be dropped; call Cancel before the system is destroyed")
	}
	d.mu.Unlock()
	lock.Release()
	d.Cancel()
}

func (d *ThreadedDispatcher) processMessages() {
	d.mu.Lock()
	for !d.exit {
		for !d.exit && len(d.messages) == 0 {
			d.ready.Wait()
		}
		messages := d.messages
		d.messages = nil
		d.mu.Unlock()
		for _, message := range messages {
			d.dispatch(d, message)
		}
		d.mu.Lock()
	}
	d.mu.Unlock()
}

var (
	_ Dispatcher = (*PollingDispatcher)(nil)
	_ Dispatcher = (*ThreadedDispatcher)(nil)
)
