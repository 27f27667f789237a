// Package gamectx provides the dynamic value store used to wire engine
// components together, along with the declarative contract layer that
// validates how components use it.
//
// A Context holds values keyed by type and an optional name. Only one
// anonymous value of each type may be stored, and only one value of each
// name (regardless of type) may be stored. A Validated wraps a Context with
// an ordered constraint list, enforcing preconditions at acquisition and
// postconditions at release.
//
// Context is thread-safe. There is no implied thread-safety for methods
// called on contained values: value hooks (assignment, destroy) always run
// outside the Context lock so they may legally re-enter the Context.
package gamectx

import (
	"sync"

	"github.com/playforge-studio/gamecore/gamecore/typekey"
	"github.com/playforge-studio/gamecore/gamecore/weakref"
)

type entryKey struct {
	name string
	key  *typekey.Key
}

type entry struct {
	info  *typekey.Info
	value any
	owned bool
}

// Store is implemented by Context and Validated so the generic accessor
// functions work uniformly over both.
type Store interface {
	lookup(name string, key *typekey.Key) any
	lookupLocal(name string, key *typekey.Key) any
	install(name string, info *typekey.Info, value any, owned bool) bool
	exists(name string, key *typekey.Key) bool
	nameExists(name string) bool
	isOwned(name string, key *typekey.Key) bool
	release(name string, key *typekey.Key) any
	clearKey(name string, key *typekey.Key) bool
	clearName(name string) bool
}

// Context is a thread-safe set of values keyed by type and optional name,
// with ownership semantics and a weakly-referenced parent for lookup
// fallback.
type Context struct {
	mu     sync.RWMutex
	scope  *weakref.Scope[Context]
	parent weakref.Ptr[Context]
	values map[entryKey]entry
	names  map[string]*typekey.Info
}

// NewContext creates an empty context.
func NewContext() *Context {
	c := &Context{
		values: make(map[entryKey]entry),
		names:  make(map[string]*typekey.Info),
	}
	c.scope = weakref.NewScope(c)
	return c
}

// Close invalidates all weak references to this context and resets it.
// Owners must call Close before discarding a context that was ever set as a
// parent.
func (c *Context) Close() {
	c.scope.Invalidate()
	c.Reset()
}

// WeakPtr returns a weak reference to this context, suitable for SetParent
// on a child.
func (c *Context) WeakPtr() weakref.Ptr[Context] {
	return c.scope.NewPtr()
}

// SetParent sets a parent context for this context.
//
// A parent context is consulted when a lookup in this context misses. Writes
// on this context hide the corresponding parent value without modifying it,
// and clearing a local value unhides the parent's value.
func (c *Context) SetParent(parent weakref.Ptr[Context]) {
	c.mu.Lock()
	c.parent = parent
	c.mu.Unlock()
}

// Parent returns the parent context reference.
func (c *Context) Parent() weakref.Ptr[Context] {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.parent
}

// Empty reports whether the context stores no values.
func (c *Context) Empty() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.values) == 0
}

// Reset removes every value from the context. Owned values have their
// destroy hooks run outside the lock.
func (c *Context) Reset() {
	var dead []entry
	c.mu.Lock()
	for _, e := range c.values {
		if e.owned {
			dead = append(dead, e)
		}
	}
	c.values = make(map[entryKey]entry)
	c.names = make(map[string]*typekey.Info)
	c.mu.Unlock()
	for _, e := range dead {
		e.info.Destroy(e.value)
	}
}

// setImpl is the single mutation path. A nil value removes the entry. All
// destroy hooks for displaced owned values run after the lock is released.
func (c *Context) setImpl(name string, info *typekey.Info, value any, owned bool) {
	var dead []entry

	c.mu.Lock()
	if name != "" {
		if oldInfo, ok := c.names[name]; ok && oldInfo.Key() != info.Key() {
			oldKey := entryKey{name: name, key: oldInfo.Key()}
			if old, ok := c.values[oldKey]; ok {
				if old.owned {
					dead = append(dead, old)
				}
				delete(c.values, oldKey)
			}
			delete(c.names, name)
		}
	}
	ek := entryKey{name: name, key: info.Key()}
	if old, ok := c.values[ek]; ok {
		// Identical value: ownership may transition without destruction.
		if old.owned && old.value != value {
			dead = append(dead, old)
		}
		delete(c.values, ek)
		if name != "" {
			delete(c.names, name)
		}
	}
	if value != nil {
		c.values[ek] = entry{info: info, value: value, owned: owned}
		if name != "" {
			c.names[name] = info
		}
	}
	c.mu.Unlock()

	for _, e := range dead {
		e.info.Destroy(e.value)
	}
}

// SetStored installs an erased value that was produced by info.Clone (or is
// otherwise known to match info's type). A value that does not match clears
// the slot instead; this is deliberate, not an error.
func (c *Context) SetStored(name string, info *typekey.Info, value any) {
	if info == nil {
		return
	}
	c.setImpl(name, info, info.Clone(value), true)
}

func (c *Context) lookup(name string, key *typekey.Key) any {
	c.mu.RLock()
	if e, ok := c.values[entryKey{name: name, key: key}]; ok {
		c.mu.RUnlock()
		return e.value
	}
	parent := c.parent.Lock()
	c.mu.RUnlock()
	defer parent.Release()
	if p := parent.Get(); p != nil {
		return p.lookup(name, key)
	}
	return nil
}

func (c *Context) lookupLocal(name string, key *typekey.Key) any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.values[entryKey{name: name, key: key}]; ok {
		return e.value
	}
	return nil
}

func (c *Context) install(name string, info *typekey.Info, value any, owned bool) bool {
	c.setImpl(name, info, value, owned)
	return true
}

func (c *Context) exists(name string, key *typekey.Key) bool {
	c.mu.RLock()
	if _, ok := c.values[entryKey{name: name, key: key}]; ok {
		c.mu.RUnlock()
		return true
	}
	parent := c.parent.Lock()
	c.mu.RUnlock()
	defer parent.Release()
	if p := parent.Get(); p != nil {
		return p.exists(name, key)
	}
	return false
}

func (c *Context) nameExists(name string) bool {
	if name == "" {
		return false
	}
	c.mu.RLock()
	if _, ok := c.names[name]; ok {
		c.mu.RUnlock()
		return true
	}
	parent := c.parent.Lock()
	c.mu.RUnlock()
	defer parent.Release()
	if p := parent.Get(); p != nil {
		return p.nameExists(name)
	}
	return false
}

func (c *Context) isOwned(name string, key *typekey.Key) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.values[entryKey{name: name, key: key}]
	return ok && e.owned
}

func (c *Context) release(name string, key *typekey.Key) any {
	c.mu.Lock()
	defer c.mu.Unlock()
	ek := entryKey{name: name, key: key}
	e, ok := c.values[ek]
	if !ok || !e.owned {
		return nil
	}
	delete(c.values, ek)
	if name != "" {
		delete(c.names, name)
	}
	return e.value
}

func (c *Context) clearKey(name string, key *typekey.Key) bool {
	c.setImpl(name, key.Info(), nil, false)
	return true
}

func (c *Context) clearName(name string) bool {
	if name == "" {
		return true
	}
	c.mu.RLock()
	info := c.names[name]
	c.mu.RUnlock()
	if info != nil {
		c.setImpl(name, info, nil, false)
	}
	return true
}

var _ Store = (*Context)(nil)

// SetNew installs a fresh owned value, replacing any prior entry at the same
// key. Use name "" for an anonymous value.
func SetNew[T any](s Store, name string, value T) bool {
	return s.install(name, typekey.InfoFor[T](), &value, true)
}

// SetOwned installs an existing instance with the store taking ownership.
// If the new value is the same instance as the old, only ownership changes;
// no destruction occurs. A nil value is equivalent to Clear.
func SetOwned[T any](s Store, name string, value *T) bool {
	if value == nil {
		return Clear[T](s, name)
	}
	return s.install(name, typekey.InfoFor[T](), value, true)
}

// SetPtr installs a borrowed pointer. The caller guarantees the pointee
// outlives the store's reference. A nil value is equivalent to Clear.
func SetPtr[T any](s Store, name string, value *T) bool {
	if value == nil {
		return Clear[T](s, name)
	}
	return s.install(name, typekey.Get[T]().PlaceholderInfo(), value, false)
}

// SetValue assigns onto a compatible existing entry if there is one, and
// installs a fresh owned value otherwise.
func SetValue[T any](s Store, name string, value T) bool {
	if ptr := s.lookupLocal(name, typekey.Get[T]()); ptr != nil {
		*ptr.(*T) = value
		return true
	}
	return s.install(name, typekey.InfoFor[T](), &value, true)
}

// GetPtr returns a pointer to the stored value, falling through to the
// parent on miss, or nil.
func GetPtr[T any](s Store, name string) *T {
	value := s.lookup(name, typekey.Get[T]())
	if value == nil {
		return nil
	}
	return value.(*T)
}

// GetValue returns a copy of the stored value, or the zero value.
func GetValue[T any](s Store, name string) T {
	if ptr := GetPtr[T](s, name); ptr != nil {
		return *ptr
	}
	var zero T
	return zero
}

// GetValueOrDefault returns a copy of the stored value, or def.
func GetValueOrDefault[T any](s Store, name string, def T) T {
	if ptr := GetPtr[T](s, name); ptr != nil {
		return *ptr
	}
	return def
}

// Exists reports whether a value of type T exists at the key.
func Exists[T any](s Store, name string) bool {
	return s.exists(name, typekey.Get[T]())
}

// ExistsKey reports whether a value of the keyed type exists at the name.
func ExistsKey(s Store, name string, key *typekey.Key) bool {
	return s.exists(name, key)
}

// NameExists reports whether any value with the given non-empty name exists.
func NameExists(s Store, name string) bool {
	return s.nameExists(name)
}

// Owned reports whether a value of type T exists and is owned by the store.
func Owned[T any](s Store, name string) bool {
	return s.isOwned(name, typekey.Get[T]())
}

// Release transfers ownership of the stored value to the caller. Returns nil
// if the entry is absent or not owned.
func Release[T any](s Store, name string) *T {
	value := s.release(name, typekey.Get[T]())
	if value == nil {
		return nil
	}
	return value.(*T)
}

// Clear removes any value of type T at the key, destroying it if owned.
func Clear[T any](s Store, name string) bool {
	return s.clearKey(name, typekey.Get[T]())
}

// ClearKey removes any value of the keyed type at the name.
func ClearKey(s Store, name string, key *typekey.Key) bool {
	return s.clearKey(name, key)
}

// ClearName removes any value stored under the given name.
func ClearName(s Store, name string) bool {
	return s.clearName(name)
}
