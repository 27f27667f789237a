package statemachine

import (
	"time"

	"github.com/playforge-studio/gamecore/gamecore/gamectx"
	"github.com/playforge-studio/gamecore/gamecore/typekey"
)

// StateID uniquely identifies a registered state type. The nil value
// (NoStateID) represents the absence of a state.
type StateID = *typekey.Key

// NoStateID represents no state.
var NoStateID StateID

// IDOf returns the StateID for a state type.
func IDOf[T any]() StateID {
	return typekey.Get[T]()
}

// StateName returns the display name for a state id. It always returns a
// valid value, even for NoStateID.
func StateName(id StateID) string {
	if id == NoStateID {
		return "none"
	}
	return id.Name()
}

// SetStateName sets the display name for a state type.
func SetStateName[T any](name string) {
	typekey.Get[T]().SetName(name)
}

// ListKind discriminates the three kinds of state list.
type ListKind int

const (
	// ListNone contains no states.
	ListNone ListKind = iota
	// ListAll implicitly includes all states.
	ListAll
	// ListExplicit includes exactly the listed states.
	ListExplicit
)

// StateList defines a set of StateIDs used to restrict valid parents and
// siblings of a state.
type StateList struct {
	Kind ListKind
	IDs  []StateID
}

// NoStates is the list containing no states.
var NoStates = StateList{Kind: ListNone}

// AllStates is the list implicitly containing every state.
var AllStates = StateList{Kind: ListAll}

// States builds an explicit state list.
func States(ids ...StateID) StateList {
	return StateList{Kind: ListExplicit, IDs: ids}
}

func (l StateList) contains(id StateID) bool {
	for _, candidate := range l.IDs {
		if candidate == id {
			return true
		}
	}
	return false
}

// Lifetime determines when a state instance is constructed and destroyed.
type Lifetime int

const (
	// LifetimeGlobal states are constructed at registration and destroyed
	// with the state machine.
	LifetimeGlobal Lifetime = iota
	// LifetimeActive states are constructed immediately before OnEnter and
	// destroyed after OnExit returns.
	LifetimeActive
)

// State is implemented by every game state. Embed BaseState to pick up no-op
// defaults for the callbacks and the machine-managed accessors.
type State interface {
	// OnInit is called once after the state's id and machine are bound,
	// immediately after construction.
	OnInit()

	// OnUpdate is called once every update tick while the state is active.
	// Parents are always updated before their child.
	OnUpdate(delta time.Duration)

	// OnEnter is called when the state is entered. A state is only entered
	// if its context contract is satisfied.
	OnEnter()

	// OnExit is called when the state is exited. An active-lifetime state is
	// destroyed immediately after OnExit returns.
	OnExit()

	// OnChildEnter is called immediately before a child state is entered.
	OnChildEnter(child StateID)

	// OnChildExit is called immediately after a child state has exited.
	OnChildExit(child StateID)

	base() *BaseState
}

// stateInfo is the registry record for a registered state.
type stateInfo struct {
	machine       *StateMachine
	id            StateID
	lifetime      Lifetime
	validParents  StateList
	validSiblings StateList
	constraints   []gamectx.Constraint
	factory       func() State

	instance State
	active   bool
	parent   *stateInfo
	child    *stateInfo
	updateID uint64
}

// BaseState supplies the machine-managed part of a State. All accessors are
// only meaningful after OnInit; parent and child accessors are only set
// while the state is active.
type BaseState struct {
	info    *stateInfo
	context gamectx.Validated
}

func (b *BaseState) base() *BaseState { return b }

// ID returns this state's id.
func (b *BaseState) ID() StateID {
	if b.info == nil {
		return NoStateID
	}
	return b.info.id
}

// Machine returns the owning state machine.
func (b *BaseState) Machine() *StateMachine {
	if b.info == nil {
		return nil
	}
	return b.info.machine
}

// Context returns the validated context bound to this state. It is valid
// from OnEnter until the state is exited, and only safe to access from state
// machine callbacks or while Update is not running.
func (b *BaseState) Context() *gamectx.Validated {
	return &b.context
}

// ParentID returns the id of this state's parent, or NoStateID.
func (b *BaseState) ParentID() StateID {
	if b.info == nil {
		return NoStateID
	}
	b.info.machine.mu.Lock()
	defer b.info.machine.mu.Unlock()
	if b.info.parent == nil {
		return NoStateID
	}
	return b.info.parent.id
}

// Parent returns this state's parent instance, or nil.
func (b *BaseState) Parent() State {
	if b.info == nil {
		return nil
	}
	b.info.machine.mu.Lock()
	defer b.info.machine.mu.Unlock()
	if b.info.parent == nil {
		return nil
	}
	return b.info.parent.instance
}

// ChildID returns the id of this state's active child, or NoStateID.
func (b *BaseState) ChildID() StateID {
	if b.info == nil {
		return NoStateID
	}
	b.info.machine.mu.Lock()
	defer b.info.machine.mu.Unlock()
	if b.info.child == nil {
		return NoStateID
	}
	return b.info.child.id
}

// Child returns this state's active child instance, or nil.
func (b *BaseState) Child() State {
	if b.info == nil {
		return nil
	}
	b.info.machine.mu.Lock()
	defer b.info.machine.mu.Unlock()
	if b.info.child == nil {
		return nil
	}
	return b.info.child.instance
}

// ChangeChildState requests a child change under this state. This state must
// be a valid parent per the child's ValidParents list.
func (b *BaseState) ChangeChildState(state StateID) bool {
	if b.info == nil {
		return false
	}
	return b.info.machine.ChangeState(b.ID(), state)
}

// ChangeState exits this state and switches to the given state under the
// same parent. The new state must be a valid sibling per this state's
// ValidSiblings list.
func (b *BaseState) ChangeState(state StateID) bool {
	if b.info == nil {
		return false
	}
	return b.info.machine.ChangeState(b.ParentID(), state)
}

// ExitState exits this state.
func (b *BaseState) ExitState() bool {
	if b.info == nil {
		return false
	}
	return b.info.machine.ChangeState(b.ParentID(), NoStateID)
}

// OnInit is a no-op default.
func (b *BaseState) OnInit() {}

// OnUpdate is a no-op default.
func (b *BaseState) OnUpdate(delta time.Duration) {}

// OnEnter is a no-op default.
func (b *BaseState) OnEnter() {}

// OnExit is a no-op default.
func (b *BaseState) OnExit() {}

// OnChildEnter is a no-op default.
func (b *BaseState) OnChildEnter(child StateID) {}

// OnChildExit is a no-op default.
func (b *BaseState) OnChildExit(child StateID) {}
