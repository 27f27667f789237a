package resource

// Set manages shared ownership over a collection of resources rooted at one
// system.
//
// Resources can be added and removed as desired; as long as the set exists,
// its resources will not be deleted by their managers. Only resources from
// one system can share a set. Go has no copy hooks, so sharing is explicit:
// Clone copies the set with fresh references, Release drops them all.
//
// A Set is thread-compatible; distinct sets referring to the same resources
// are safe relative to each other.
type Set struct {
	system    *System
	resources map[resourceKey]Value
}

// NewSet creates an empty set.
func NewSet() *Set {
	return &Set{resources: make(map[resourceKey]Value)}
}

// IsEmpty reports whether the set holds no resources.
func (s *Set) IsEmpty() bool { return len(s.resources) == 0 }

// Len returns the number of resources in the set.
func (s *Set) Len() int { return len(s.resources) }

// System returns the resource system common to all resources in the set, or
// nil for an empty set.
func (s *Set) System() *System { return s.system }

// GetFromSet retrieves a resource from the set by id, or the zero value.
func GetFromSet[T Value](s *Set, id ID) (result T) {
	value, ok := s.resources[resourceKey{key: TypeOf[T](), id: id}]
	if !ok {
		return result
	}
	return value.(T)
}

// GetFromSetByName retrieves a resource from the set by name, or the zero
// value.
func GetFromSetByName[T Value](s *Set, name string) (result T) {
	if s.system == nil {
		return result
	}
	key := TypeOf[T]()
	s.system.mu.Lock()
	id := s.system.idFromName(key, name)
	s.system.mu.Unlock()
	return GetFromSet[T](s, id)
}

// Each visits every resource in the set.
func (s *Set) Each(visit func(resource Value)) {
	for _, value := range s.resources {
		visit(value)
	}
}

// Add adds a resource to the set, if it is not in it already.
//
// With addDependencies true (strongly recommended), the resource's
// discoverable dependencies are added transitively; cycles are tolerated.
// Returns false if the resource or any dependency was not added.
func (s *Set) Add(resource Value, addDependencies bool) bool {
	if isNilValue(resource) {
		return false
	}
	return s.doAdd(resource, addDependencies)
}

func (s *Set) doAdd(resource Value, addDependencies bool) bool {
	base := resource.resourceBase()
	if s.system == nil {
		s.system = base.system
	} else if s.system != base.system {
		return false
	}
	rk := resourceKey{key: base.key, id: base.id}
	if _, ok := s.resources[rk]; !ok {
		s.resources[rk] = resource
		base.addRef()
		if addDependencies {
			return s.addDependencies(resource)
		}
	}
	return true
}

func (s *Set) addDependencies(resource Value) bool {
	provider, ok := resource.(DependencyProvider)
	if !ok {
		return true
	}
	success := true
	provider.EachResourceDependency(func(dependency Value) {
		if !isNilValue(dependency) {
			success = s.doAdd(dependency, true) && success
		}
	})
	return success
}

// Remove removes a resource from the set.
//
// With removeDependencies true, the resource's transitive dependencies are
// also removed where no other set member still depends on them. Returns true
// if the resource did not exist in the set or was removed; a resource other
// set members depend on cannot be removed.
func (s *Set) Remove(resource Value, removeDependencies bool) bool {
	if isNilValue(resource) {
		return true
	}
	base := resource.resourceBase()
	return s.doRemove(resourceKey{key: base.key, id: base.id}, removeDependencies)
}

// RemoveFromSet removes a resource by id.
func RemoveFromSet[T Value](s *Set, id ID, removeDependencies bool) bool {
	return s.doRemove(resourceKey{key: TypeOf[T](), id: id}, removeDependencies)
}

func (s *Set) doRemove(rk resourceKey, removeDependencies bool) bool {
	value, ok := s.resources[rk]
	if !ok {
		return true
	}
	if removeDependencies {
		return s.removeWithDependencies(value)
	}
	return s.removeResourceOnly(value)
}

func (s *Set) removeResourceOnly(resource Value) bool {
	// If any other resource in the set depends on this one, it cannot be
	// removed.
	for _, member := range s.resources {
		if member == resource {
			continue
		}
		if s.dependsOn(member, resource) {
			return false
		}
	}
	base := resource.resourceBase()
	delete(s.resources, resourceKey{key: base.key, id: base.id})
	base.removeRef()
	if len(s.resources) == 0 {
		s.system = nil
	}
	return true
}

func (s *Set) dependsOn(member, target Value) bool {
	provider, ok := member.(DependencyProvider)
	if !ok {
		return false
	}
	depends := false
	provider.EachResourceDependency(func(dependency Value) {
		if dependency == target {
			depends = true
		}
	})
	return depends
}

func (s *Set) removeWithDependencies(resource Value) bool {
	// The transitive closure of the removed root is the removal candidate
	// set, trimmed by everything still reachable from members outside it.
	toRemove := map[Value]struct{}{resource: {}}
	s.addAllDependencies(toRemove, resource)

	keep := make(map[Value]struct{})
	for _, member := range s.resources {
		if _, removing := toRemove[member]; removing {
			continue
		}
		if provider, ok := member.(DependencyProvider); ok {
			provider.EachResourceDependency(func(dependency Value) {
				if _, removing := toRemove[dependency]; removing {
					keep[dependency] = struct{}{}
				}
			})
		}
	}
	if len(keep) > 0 {
		allKeep := make(map[Value]struct{}, len(keep))
		for member := range keep {
			allKeep[member] = struct{}{}
		}
		for member := range keep {
			s.addAllDependencies(allKeep, member)
		}
		for member := range allKeep {
			delete(toRemove, member)
		}
	}

	// Unlink everything first so the set never references a resource that
	// release may delete.
	for member := range toRemove {
		base := member.resourceBase()
		delete(s.resources, resourceKey{key: base.key, id: base.id})
	}
	for member := range toRemove {
		member.resourceBase().removeRef()
	}
	if len(s.resources) == 0 {
		s.system = nil
	}
	return len(toRemove) > 0
}

func (s *Set) addAllDependencies(all map[Value]struct{}, resource Value) {
	provider, ok := resource.(DependencyProvider)
	if !ok {
		return
	}
	provider.EachResourceDependency(func(dependency Value) {
		base := dependency.resourceBase()
		if _, ok := s.resources[resourceKey{key: base.key, id: base.id}]; !ok {
			return
		}
		if _, seen := all[dependency]; !seen {
			all[dependency] = struct{}{}
			s.addAllDependencies(all, dependency)
		}
	})
}

// Clone returns a copy of the set holding fresh strong references to every
// member.
func (s *Set) Clone() *Set {
	clone := &Set{
		system:    s.system,
		resources: make(map[resourceKey]Value, len(s.resources)),
	}
	for rk, value := range s.resources {
		clone.resources[rk] = value
		value.resourceBase().addRef()
	}
	return clone
}

// Release drops every strong reference and empties the set.
func (s *Set) Release() {
	resources := s.resources
	s.resources = make(map[resourceKey]Value)
	s.system = nil
	for _, value := range resources {
		value.resourceBase().removeRef()
	}
}
