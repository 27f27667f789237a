package resource

import (
	"sync"

	"github.com/playforge-studio/gamecore/gamecore/logging"
	"github.com/playforge-studio/gamecore/gamecore/observability"
	"github.com/playforge-studio/gamecore/gamecore/typekey"
)

type resourceKey struct {
	key *typekey.Key
	id  ID
}

type resourceTypeInfo struct {
	manager  *Manager
	nameToID map[string]ID
	idToName map[ID]string
}

type resourceInfo struct {
	resource Value
	visible  bool
}

// System manages a cache of shared resources and the managers that control
// them.
//
// The System must outlive any Set or Ptr that refers to a resource within
// it. Operations are serialised by a single lock; loaders and release
// handlers always run outside it so they may re-enter the system.
//
// System is thread-safe.
type System struct {
	mu        sync.Mutex
	logger    logging.Logger
	types     map[*typekey.Key]*resourceTypeInfo
	resources map[resourceKey]*resourceInfo
	reserved  map[resourceKey]struct{}
	nextID    ID
}

// NewSystem creates an empty resource system.
func NewSystem() *System {
	return &System{
		logger:    logging.ForComponent("resource"),
		types:     make(map[*typekey.Key]*resourceTypeInfo),
		resources: make(map[resourceKey]*resourceInfo),
		reserved:  make(map[resourceKey]struct{}),
		nextID:    1,
	}
}

// RegisterManager registers a manager for the given resource types.
//
// A manager can handle multiple types, but a type may only be registered
// against one manager. Returns true only if the manager could be registered
// for all the types; on failure nothing is registered. The first duplicate
// type is logged.
func (s *System) RegisterManager(manager *Manager, keys ...*typekey.Key) bool {
	if manager == nil || len(keys) == 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if manager.system != nil && manager.system != s {
		s.logger.Error("manager_registered_with_other_system")
		return false
	}
	for _, key := range keys {
		if _, ok := s.types[key]; ok {
			s.logger.Error("duplicate_type_registration", "type", key.Name())
			return false
		}
	}
	for _, key := range keys {
		s.types[key] = &resourceTypeInfo{
			manager:  manager,
			nameToID: make(map[string]ID),
			idToName: make(map[ID]string),
		}
		manager.types[key] = struct{}{}
	}
	manager.system = s
	return true
}

// newEntry mints an identity, reserving the id so it cannot be reused while
// outstanding.
func (s *System) newEntry(key *typekey.Key, id ID) Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == 0 {
		id = s.nextID
		s.nextID++
	} else {
		rk := resourceKey{key: key, id: id}
		if _, ok := s.reserved[rk]; ok {
			return Entry{}
		}
		if _, ok := s.resources[rk]; ok {
			return Entry{}
		}
	}
	s.reserved[resourceKey{key: key, id: id}] = struct{}{}
	return Entry{system: s, key: key, id: id}
}

func (s *System) discardEntry(key *typekey.Key, id ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rk := resourceKey{key: key, id: id}
	if _, ok := s.resources[rk]; ok {
		return
	}
	delete(s.reserved, rk)
}

// AddResource installs a constructed resource in the cache. Resources built
// by loaders are added automatically; resources constructed directly must be
// added before strong references are taken. The resource starts hidden
// unless already made visible.
func (s *System) AddResource(resource Value) {
	base := resource.resourceBase()
	if base.system != s {
		s.logger.Error("resource_added_to_wrong_system")
		return
	}
	s.mu.Lock()
	base.self = resource
	rk := resourceKey{key: base.key, id: base.id}
	if _, ok := s.resources[rk]; !ok {
		s.resources[rk] = &resourceInfo{resource: resource}
	}
	s.mu.Unlock()
}

// Get retrieves a visible resource by id, or a nil Ptr.
func Get[T Value](s *System, id ID) Ptr[T] {
	s.mu.Lock()
	value := s.findVisible(typekey.Get[T](), id)
	s.mu.Unlock()
	if value == nil {
		return Ptr[T]{}
	}
	return NewPtr(value.(T))
}

// GetByName retrieves a visible resource by the name it was loaded under, or
// a nil Ptr.
func GetByName[T Value](s *System, name string) Ptr[T] {
	key := typekey.Get[T]()
	s.mu.Lock()
	id := s.idFromName(key, name)
	value := s.findVisible(key, id)
	s.mu.Unlock()
	if value == nil {
		return Ptr[T]{}
	}
	return NewPtr(value.(T))
}

// Load returns the cached resource under the given name if it is visible,
// and otherwise invokes the type's loader (or the manager's generic loader)
// and caches the result. Loaded resources are not visible by default; they
// become visible explicitly or through AutoVisible.
func Load[T Value](s *System, name string) Ptr[T] {
	value := s.doLoad(typekey.Get[T](), name)
	if value == nil {
		return Ptr[T]{}
	}
	return NewPtr(value.(T))
}

// LoadIntoSet loads a resource and adds it, with its dependencies, to the
// set.
func LoadIntoSet[T Value](s *System, set *Set, name string) (result T) {
	if set == nil {
		return result
	}
	value := s.doLoad(typekey.Get[T](), name)
	if value == nil {
		return result
	}
	set.Add(value, true)
	return value.(T)
}

func (s *System) doLoad(key *typekey.Key, name string) Value {
	s.mu.Lock()
	typeInfo, ok := s.types[key]
	if !ok {
		s.mu.Unlock()
		s.logger.Error("load_for_unregistered_type", "type", key.Name())
		observability.RecordResourceLoad(key.Name(), "failed")
		return nil
	}
	if id, ok := typeInfo.nameToID[name]; ok {
		if value := s.findVisible(key, id); value != nil {
			s.mu.Unlock()
			observability.RecordResourceLoad(key.Name(), "cached")
			return value
		}
	}
	manager := typeInfo.manager
	s.mu.Unlock()

	loader := manager.loaderFor(key)
	if loader == nil {
		s.logger.Error("no_loader_for_type", "type", key.Name())
		observability.RecordResourceLoad(key.Name(), "failed")
		return nil
	}
	// The loader runs outside the system lock and may re-enter the system.
	value := loader(key, name)
	if isNilValue(value) {
		observability.RecordResourceLoad(key.Name(), "failed")
		return nil
	}
	base := value.resourceBase()

	s.mu.Lock()
	base.self = value
	rk := resourceKey{key: base.key, id: base.id}
	if _, ok := s.resources[rk]; !ok {
		s.resources[rk] = &resourceInfo{resource: value}
	}
	if name != "" {
		typeInfo.nameToID[name] = base.id
		typeInfo.idToName[base.id] = name
	}
	s.mu.Unlock()
	observability.RecordResourceLoad(key.Name(), "loaded")
	return value
}

// findVisible returns the cached resource if present and visible. Callers
// hold s.mu.
func (s *System) findVisible(key *typekey.Key, id ID) Value {
	info, ok := s.resources[resourceKey{key: key, id: id}]
	if !ok || !info.visible {
		return nil
	}
	return info.resource
}

func (s *System) idFromName(key *typekey.Key, name string) ID {
	typeInfo, ok := s.types[key]
	if !ok {
		return 0
	}
	return typeInfo.nameToID[name]
}

func (s *System) resourceName(key *typekey.Key, id ID) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	typeInfo, ok := s.types[key]
	if !ok {
		return ""
	}
	return typeInfo.idToName[id]
}

func (s *System) isVisible(key *typekey.Key, id ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.resources[resourceKey{key: key, id: id}]
	return ok && info.visible
}

func (s *System) setVisible(key *typekey.Key, id ID, visible bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if info, ok := s.resources[resourceKey{key: key, id: id}]; ok {
		info.visible = visible
	}
}

// releaseResource routes a resource whose last strong reference dropped to
// its manager's release handler. With no handler installed the resource is
// deleted. The handler runs outside the system lock.
func (s *System) releaseResource(resource Value) {
	if resource == nil {
		return
	}
	base := resource.resourceBase()

	s.mu.Lock()
	typeInfo, ok := s.types[base.key]
	s.mu.Unlock()
	if !ok {
		return
	}
	observability.RecordResourceRelease(base.key.Name())
	if handler := typeInfo.manager.releaseHandlerFor(base.key); handler != nil {
		handler(resource)
		return
	}
	typeInfo.manager.MaybeDeleteResource(resource)
}

// maybeDeleteResource removes the resource iff it has no strong references.
func (s *System) maybeDeleteResource(resource Value) bool {
	base := resource.resourceBase()
	s.mu.Lock()
	if base.refs.Load() != 0 {
		s.mu.Unlock()
		return false
	}
	s.removeResourceLocked(base)
	s.mu.Unlock()

	// Run the value's teardown hook outside the lock.
	if d, ok := resource.(typekey.Destroyable); ok {
		d.DestroyValue()
	}
	return true
}

func (s *System) removeResourceLocked(base *Resource) {
	rk := resourceKey{key: base.key, id: base.id}
	delete(s.resources, rk)
	delete(s.reserved, rk)
	if typeInfo, ok := s.types[base.key]; ok {
		if name, ok := typeInfo.idToName[base.id]; ok {
			delete(typeInfo.nameToID, name)
			delete(typeInfo.idToName, base.id)
		}
	}
	base.self = nil
}
