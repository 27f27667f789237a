// Package typekey provides a process-unique runtime identity for Go types.
//
// Every type T has exactly one *Key for the lifetime of the process,
// retrievable with Get[T](). A Key carries a mutable display name and, once
// InfoFor[T]() has been called, a pointer to the full type metadata used by
// the rest of the infrastructure to clone and destroy erased values.
//
// Keys for types whose metadata was never requested still work everywhere a
// Key is accepted; their metadata is a placeholder that refuses to clone or
// destroy.
package typekey

import (
	"reflect"
	"sync"
	"sync/atomic"
)

// Destroyable is implemented by stored values that need a teardown hook when
// their owning container removes them.
type Destroyable interface {
	DestroyValue()
}

// Key is the process-unique identity of a type.
//
// Keys are comparable by pointer. Two Get calls with the same type parameter
// always return the same *Key.
type Key struct {
	rtype reflect.Type

	nameMu sync.RWMutex
	name   string

	info        atomic.Pointer[Info]
	placeholder atomic.Pointer[Info]
}

// Info is the full metadata for a type: its Key plus the operations needed to
// manage erased values of the type.
type Info struct {
	key         *Key
	canDestroy  bool
	canClone    bool
	placeholder bool
	destroy     func(value any)
	clone       func(value any) any
}

var (
	registryMu sync.Mutex
	registry   = make(map[reflect.Type]*Key)
)

// Get returns the unique Key for T.
func Get[T any]() *Key {
	return keyFor(reflect.TypeOf((*T)(nil)).Elem())
}

func keyFor(rtype reflect.Type) *Key {
	registryMu.Lock()
	defer registryMu.Unlock()
	if key, ok := registry[rtype]; ok {
		return key
	}
	key := &Key{rtype: rtype}
	registry[rtype] = key
	return key
}

// InfoFor returns the full metadata for T, creating it on first use.
//
// Values of T are stored erased as *T. Clone copies the pointee; Destroy runs
// the value's DestroyValue hook if it has one.
func InfoFor[T any]() *Info {
	key := Get[T]()
	if info := key.info.Load(); info != nil {
		return info
	}
	info := &Info{
		key:        key,
		canDestroy: true,
		canClone:   true,
		destroy: func(value any) {
			if d, ok := value.(Destroyable); ok {
				d.DestroyValue()
			}
		},
		clone: func(value any) any {
			ptr, ok := value.(*T)
			if !ok || ptr == nil {
				return nil
			}
			copied := *ptr
			return &copied
		},
	}
	if key.info.CompareAndSwap(nil, info) {
		return info
	}
	return key.info.Load()
}

// Name returns the display name for the key. If no name was set, the Go type
// name is used.
func (k *Key) Name() string {
	k.nameMu.RLock()
	defer k.nameMu.RUnlock()
	if k.name != "" {
		return k.name
	}
	return k.rtype.String()
}

// SetName sets the display name for the key. Concurrent writers are
// serialised; the last writer wins and readers never observe a torn value.
func (k *Key) SetName(name string) {
	k.nameMu.Lock()
	k.name = name
	k.nameMu.Unlock()
}

// Info returns the full metadata for the key if InfoFor was called for its
// type, or the placeholder metadata otherwise.
func (k *Key) Info() *Info {
	if info := k.info.Load(); info != nil {
		return info
	}
	return k.PlaceholderInfo()
}

// PlaceholderInfo returns the placeholder metadata for the key. Placeholders
// cannot clone or destroy values.
func (k *Key) PlaceholderInfo() *Info {
	if info := k.placeholder.Load(); info != nil {
		return info
	}
	info := &Info{
		key:         k,
		placeholder: true,
		destroy:     func(any) {},
		clone:       func(any) any { return nil },
	}
	if k.placeholder.CompareAndSwap(nil, info) {
		return info
	}
	return k.placeholder.Load()
}

// Key returns the key this metadata describes.
func (i *Info) Key() *Key { return i.key }

// CanDestroy reports whether Destroy is functional for this metadata.
func (i *Info) CanDestroy() bool { return i.canDestroy }

// CanClone reports whether Clone is functional for this metadata.
func (i *Info) CanClone() bool { return i.canClone }

// IsPlaceholder reports whether this is placeholder metadata.
func (i *Info) IsPlaceholder() bool { return i.placeholder }

// Destroy runs the teardown hook for an erased value. Placeholders do
// nothing.
func (i *Info) Destroy(value any) {
	if value == nil {
		return
	}
	i.destroy(value)
}

// Clone copies an erased value. Placeholders return nil.
func (i *Info) Clone(value any) any {
	if value == nil {
		return nil
	}
	return i.clone(value)
}
