package resource

import (
	"github.com/playforge-studio/gamecore/gamecore/logging"
	"github.com/playforge-studio/gamecore/gamecore/typekey"
)

// GenericLoader loads a resource of the given type by name, returning nil on
// failure.
type GenericLoader func(key *typekey.Key, name string) Value

// GenericReleaseHandler handles the last strong reference to a resource
// dropping.
type GenericReleaseHandler func(resource Value)

type managerCallbacks struct {
	loader  GenericLoader
	release GenericReleaseHandler
}

// Manager controls the lifecycle for one or more resource types.
//
// Every resource requires a manager to mint its identity, and auto-release
// resources are routed back through their manager when their last strong
// reference drops. Loaders and release handlers may only be installed before
// the manager is registered with a System; later installs are rejected.
//
// A Manager is thread-compatible to initialize and thread-safe once
// registered.
type Manager struct {
	system  *System
	types   map[*typekey.Key]struct{}
	typed   map[*typekey.Key]managerCallbacks
	loader  GenericLoader
	release GenericReleaseHandler
	logger  logging.Logger
}

// NewManager creates an unregistered manager.
func NewManager() *Manager {
	return &Manager{
		types:  make(map[*typekey.Key]struct{}),
		typed:  make(map[*typekey.Key]managerCallbacks),
		logger: logging.ForComponent("resource"),
	}
}

// System returns the system the manager is registered with, or nil.
func (m *Manager) System() *System { return m.system }

// InitLoader installs the loader for resources of type T. Only valid before
// registration, once per type.
func InitLoader[T Value](m *Manager, loader func(name string) T) {
	m.doInitLoader(typekey.Get[T](), func(_ *typekey.Key, name string) Value {
		resource := loader(name)
		if isNilValue(resource) {
			return nil
		}
		return resource
	})
}

// InitGenericLoader installs the loader used for types with no type-specific
// loader. Only valid before registration, once.
func (m *Manager) InitGenericLoader(loader GenericLoader) {
	if m.system != nil {
		m.logger.Error("loader_installed_after_registration")
		return
	}
	if m.loader != nil {
		m.logger.Error("generic_loader_already_installed")
		return
	}
	m.loader = loader
}

// InitReleaseHandler installs the release handler for resources of type T.
// Only valid before registration, once per type.
func InitReleaseHandler[T Value](m *Manager, handler func(resource T)) {
	m.doInitReleaseHandler(typekey.Get[T](), func(resource Value) {
		handler(resource.(T))
	})
}

// InitGenericReleaseHandler installs the release handler used for types with
// no type-specific handler. If never set, the generic behavior is to call
// MaybeDeleteResource. Only valid before registration, once.
func (m *Manager) InitGenericReleaseHandler(handler GenericReleaseHandler) {
	if m.system != nil {
		m.logger.Error("release_handler_installed_after_registration")
		return
	}
	if m.release != nil {
		m.logger.Error("generic_release_handler_already_installed")
		return
	}
	m.release = handler
}

func (m *Manager) doInitLoader(key *typekey.Key, loader GenericLoader) {
	if m.system != nil {
		m.logger.Error("loader_installed_after_registration", "type", key.Name())
		return
	}
	callbacks := m.typed[key]
	if callbacks.loader != nil {
		m.logger.Error("loader_already_installed", "type", key.Name())
		return
	}
	callbacks.loader = loader
	m.typed[key] = callbacks
}

func (m *Manager) doInitReleaseHandler(key *typekey.Key, handler GenericReleaseHandler) {
	if m.system != nil {
		m.logger.Error("release_handler_installed_after_registration", "type", key.Name())
		return
	}
	callbacks := m.typed[key]
	if callbacks.release != nil {
		m.logger.Error("release_handler_already_installed", "type", key.Name())
		return
	}
	callbacks.release = handler
	m.typed[key] = callbacks
}

// loaderFor returns the effective loader for a type, or nil.
func (m *Manager) loaderFor(key *typekey.Key) GenericLoader {
	if callbacks, ok := m.typed[key]; ok && callbacks.loader != nil {
		return callbacks.loader
	}
	return m.loader
}

// releaseHandlerFor returns the effective release handler for a type, or nil
// (meaning the default MaybeDeleteResource behavior).
func (m *Manager) releaseHandlerFor(key *typekey.Key) GenericReleaseHandler {
	if callbacks, ok := m.typed[key]; ok && callbacks.release != nil {
		return callbacks.release
	}
	return m.release
}

// NewEntry mints a fresh unique identity for a resource of type T. Returns
// an invalid entry if the manager is not registered for T with a system.
func NewEntry[T Value](m *Manager) Entry {
	return m.doNewEntry(typekey.Get[T](), 0)
}

// NewEntryWithID mints an identity with an explicit id. Returns an invalid
// entry if the manager is not registered for T, the id is zero, or the id is
// already in use.
//
// Use this only when the manager has taken complete responsibility for
// minting unique ids, or is reconstructing a resource under its previously
// minted id.
func NewEntryWithID[T Value](m *Manager, id ID) Entry {
	if id == 0 {
		return Entry{}
	}
	return m.doNewEntry(typekey.Get[T](), id)
}

func (m *Manager) doNewEntry(key *typekey.Key, id ID) Entry {
	if m.system == nil {
		m.logger.Error("entry_requested_before_registration", "type", key.Name())
		return Entry{}
	}
	if _, ok := m.types[key]; !ok {
		m.logger.Error("entry_requested_for_unregistered_type", "type", key.Name())
		return Entry{}
	}
	return m.system.newEntry(key, id)
}

// MaybeDeleteResource deletes the resource iff there are no strong
// references to it. Returns true if the resource was deleted; existing raw
// pointers to it become invalid.
func (m *Manager) MaybeDeleteResource(resource Value) bool {
	if resource == nil || m.system == nil {
		return false
	}
	return m.system.maybeDeleteResource(resource)
}
