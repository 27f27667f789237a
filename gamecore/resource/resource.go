// Package resource provides a reference-counted, type-indexed cache of
// shared game resources.
//
// Resource managers are registered with a System for the resource types they
// control. Resources created or loaded through a manager are cached in the
// system and retrieved by id or name once visible. Strong references are
// held through Ptr and Set; when the last strong reference to an
// auto-release resource drops, the manager's release handler decides its
// fate.
package resource

import (
	"reflect"
	"sync/atomic"

	"github.com/playforge-studio/gamecore/gamecore/typekey"
)

// isNilValue reports whether a Value interface holds nothing, including a
// typed nil pointer returned by a loader.
func isNilValue(value Value) bool {
	if value == nil {
		return true
	}
	rv := reflect.ValueOf(value)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}

// ID uniquely identifies a resource within its system, per type.
type ID = uint64

// Flag alters a resource's lifecycle policy.
type Flag uint8

const (
	// AutoRelease invokes the manager's release handler when the last strong
	// reference to the resource drops.
	AutoRelease Flag = 1 << iota
	// AutoVisible makes the resource visible in the system cache when the
	// first strong reference to it is acquired.
	AutoVisible
)

// Value is implemented by every resource type by embedding Resource.
type Value interface {
	resourceBase() *Resource
}

// DependencyProvider is implemented by resources that reference other
// resources. Dependencies are discovered through the visitor so callers can
// avoid intermediate allocation.
type DependencyProvider interface {
	EachResourceDependency(visit func(dependency Value))
}

// TypeOf returns the type key for a resource type, for use with
// RegisterManager.
func TypeOf[T any]() *typekey.Key {
	return typekey.Get[T]()
}

// Entry is the identity minted by a manager for a new resource. A zero Entry
// is invalid.
type Entry struct {
	system *System
	key    *typekey.Key
	id     ID
}

// Valid reports whether the entry can be used to construct a resource.
func (e Entry) Valid() bool { return e.system != nil }

// Key returns the resource type key for the entry.
func (e Entry) Key() *typekey.Key { return e.key }

// ID returns the minted resource id.
func (e Entry) ID() ID { return e.id }

// Discard releases the entry's id reservation without constructing a
// resource. Discarding a used or invalid entry does nothing.
func (e Entry) Discard() {
	if e.system == nil {
		return
	}
	e.system.discardEntry(e.key, e.id)
}

// Resource is the base of every cached resource; embed it by value.
//
// After constructing the outer value, it must be handed to
// System.AddResource (loaders get this done by the load path) before strong
// references are taken.
type Resource struct {
	system *System
	key    *typekey.Key
	id     ID
	flags  Flag
	refs   atomic.Int64
	self   Value
}

// NewResource creates the embeddable base from a minted entry.
func NewResource(entry Entry, flags Flag) Resource {
	return Resource{
		system: entry.system,
		key:    entry.key,
		id:     entry.id,
		flags:  flags,
	}
}

func (r *Resource) resourceBase() *Resource { return r }

// ResourceID returns the resource's id.
func (r *Resource) ResourceID() ID { return r.id }

// ResourceType returns the resource's type key.
func (r *Resource) ResourceType() *typekey.Key { return r.key }

// ResourceSystem returns the owning system, or nil for an unbound resource.
func (r *Resource) ResourceSystem() *System { return r.system }

// ResourceName returns the name the resource was loaded or registered under,
// or "".
func (r *Resource) ResourceName() string {
	if r.system == nil {
		return ""
	}
	return r.system.resourceName(r.key, r.id)
}

// Visible reports whether the resource is visible in the system cache.
func (r *Resource) Visible() bool {
	if r.system == nil {
		return false
	}
	return r.system.isVisible(r.key, r.id)
}

// SetVisible makes the resource visible (or hides it) in the system cache.
func (r *Resource) SetVisible(visible bool) {
	if r.system == nil {
		return
	}
	r.system.setVisible(r.key, r.id, visible)
}

// RefCount returns the current number of strong references.
func (r *Resource) RefCount() int64 { return r.refs.Load() }

// addRef takes a strong reference. The first reference makes an auto-visible
// resource visible.
func (r *Resource) addRef() {
	if r.refs.Add(1) == 1 && r.flags&AutoVisible != 0 {
		r.SetVisible(true)
	}
}

// removeRef drops a strong reference. When the count reaches zero on an
// auto-release resource, the system routes it to the manager's release
// handler.
func (r *Resource) removeRef() {
	if r.refs.Add(-1) == 0 && r.flags&AutoRelease != 0 && r.system != nil {
		r.system.releaseResource(r.self)
	}
}
