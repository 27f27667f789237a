// Package statemachine provides a hierarchical game state machine.
//
// States are registered by type with a lifetime, the sets of valid parents
// and siblings, and the context constraints the state requires. A single
// pending transition is applied during Update; requests issued before the
// next Update overwrite each other, with the superseded request traced as
// aborted. Every state callback runs outside the machine lock, so callbacks
// may freely request further transitions.
package statemachine

import (
	"strings"
	"sync"
	"time"

	"github.com/playforge-studio/gamecore/gamecore/gamectx"
	"github.com/playforge-studio/gamecore/gamecore/logging"
	"github.com/playforge-studio/gamecore/gamecore/observability"
)

// Options configures a state registration.
type Options struct {
	// Lifetime defaults to LifetimeGlobal.
	Lifetime Lifetime

	// ValidParents restricts which states may be this state's parent.
	// Defaults to AllStates.
	ValidParents *StateList

	// ValidSiblings restricts which states this state may switch to under
	// the same parent. Defaults to AllStates.
	ValidSiblings *StateList

	// Constraints declare the state's context contract.
	Constraints []gamectx.Constraint

	// Factory constructs the state instance. Defaults to a zero value of the
	// registered type.
	Factory func() State
}

// StateMachine manages a hierarchy of registered states over a shared
// validated context.
type StateMachine struct {
	mu       sync.Mutex
	updateMu sync.Mutex

	name    string
	context gamectx.Validated
	logger  logging.Logger

	traceLevel   TraceLevel
	traceHandler TraceHandler

	states   map[StateID]*stateInfo
	topState *stateInfo

	transition       bool
	transitionParent *stateInfo
	transitionState  *stateInfo

	updateID uint64
}

// New creates a state machine over the given validated context, taking
// ownership of the binding. Returns nil if the context is not valid.
func New(context *gamectx.Validated, logger logging.Logger) *StateMachine {
	if logger == nil {
		logger = logging.ForComponent("statemachine")
	}
	if !context.IsValid() {
		logger.Error("invalid_machine_context")
		return nil
	}
	sm := &StateMachine{
		name:       "default",
		logger:     logger,
		traceLevel: TraceLevelError,
		states:     make(map[StateID]*stateInfo),
	}
	sm.context.AssignFrom(context)
	sm.traceHandler = sm.logTrace
	return sm
}

// SetName sets the machine name used in metrics.
func (sm *StateMachine) SetName(name string) {
	sm.mu.Lock()
	sm.name = name
	sm.mu.Unlock()
}

// SetTraceLevel sets the amount of tracing produced.
func (sm *StateMachine) SetTraceLevel(level TraceLevel) {
	sm.mu.Lock()
	sm.traceLevel = level
	sm.mu.Unlock()
}

// SetTraceHandler replaces the trace handler. The default handler logs
// through the machine's logger.
func (sm *StateMachine) SetTraceHandler(handler TraceHandler) {
	sm.mu.Lock()
	sm.traceHandler = handler
	sm.mu.Unlock()
}

// AddTraceHandler composes a handler with the existing one; both receive
// every trace.
func (sm *StateMachine) AddTraceHandler(handler TraceHandler) {
	sm.mu.Lock()
	existing := sm.traceHandler
	sm.traceHandler = func(trace Trace) {
		existing(trace)
		handler(trace)
	}
	sm.mu.Unlock()
}

func (sm *StateMachine) logTrace(trace Trace) {
	if trace.IsError() {
		sm.logger.Error("state_trace", "trace", trace.String())
	} else {
		sm.logger.Info("state_trace", "trace", trace.String())
	}
}

// trace emits a record if the level is enabled. Callers hold sm.mu.
func (sm *StateMachine) trace(level TraceLevel, trace Trace) {
	if sm.traceLevel >= level && sm.traceHandler != nil {
		sm.traceHandler(trace)
	}
}

// Register registers the state type T with the machine. If the lifetime is
// global, the instance is constructed immediately and OnInit is invoked.
// Registering the same type twice logs a warning and is ignored.
func Register[T any](sm *StateMachine, opts Options) {
	id := IDOf[T]()
	factory := opts.Factory
	if factory == nil {
		factory = func() State {
			var state T
			return any(&state).(State)
		}
	}
	validParents := AllStates
	if opts.ValidParents != nil {
		validParents = *opts.ValidParents
	}
	validSiblings := AllStates
	if opts.ValidSiblings != nil {
		validSiblings = *opts.ValidSiblings
	}
	sm.doRegister(id, opts.Lifetime, validParents, validSiblings, opts.Constraints, factory)
}

func (sm *StateMachine) doRegister(id StateID, lifetime Lifetime,
	validParents, validSiblings StateList,
	constraints []gamectx.Constraint, factory func() State) {

	var info *stateInfo
	sm.mu.Lock()
	if _, ok := sm.states[id]; ok {
		sm.mu.Unlock()
		sm.logger.Warn("state_already_registered", "state", StateName(id))
		return
	}
	info = &stateInfo{
		machine:       sm,
		id:            id,
		lifetime:      lifetime,
		validParents:  validParents,
		validSiblings: validSiblings,
		constraints:   constraints,
		factory:       factory,
	}
	sm.states[id] = info
	sm.mu.Unlock()

	if lifetime == LifetimeGlobal {
		sm.createInstance(info)
	}
}

func (sm *StateMachine) createInstance(info *stateInfo) {
	info.instance = info.factory()
	info.instance.base().info = info
	info.instance.OnInit()
}

// IsRegistered reports whether the state is registered.
func (sm *StateMachine) IsRegistered(state StateID) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.states[state] != nil
}

// IsActive reports whether the state is currently active.
func (sm *StateMachine) IsActive(state StateID) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	info := sm.states[state]
	return info != nil && info.active
}

// GetState returns the live instance for a registered state, or nil.
func (sm *StateMachine) GetState(state StateID) State {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	info := sm.states[state]
	if info == nil {
		return nil
	}
	return info.instance
}

// GetRegisteredID resolves a registered state by display name.
func (sm *StateMachine) GetRegisteredID(name string) StateID {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	for id := range sm.states {
		if StateName(id) == name {
			return id
		}
	}
	return NoStateID
}

// TopStateID returns the id of the current top state, or NoStateID.
func (sm *StateMachine) TopStateID() StateID {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.topState == nil {
		return NoStateID
	}
	return sm.topState.id
}

// ChangeTopState requests a change of the top state.
func (sm *StateMachine) ChangeTopState(state StateID) bool {
	return sm.ChangeState(NoStateID, state)
}

// ChangeState requests that the active child of parent become state.
//
// The request is validated immediately but applied on the next Update. On
// any validation failure an error trace is emitted and this returns false
// without altering state. A repeated request before the next Update
// overwrites the pending one, emitting an abort trace.
func (sm *StateMachine) ChangeState(parent, state StateID) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	// If a transition is in progress, make sure it is different.
	if sm.transition {
		if parent == infoID(sm.transitionParent) && state == infoID(sm.transitionState) {
			return true
		}
	}

	// Validate the parent.
	var parentInfo *stateInfo
	if parent != NoStateID {
		parentInfo = sm.states[parent]
		if parentInfo == nil {
			sm.trace(TraceLevelError, Trace{TraceInvalidChangeParent, parent, state,
				"ChangeState", "parent state is not registered"})
			observability.RecordStateTransition("rejected")
			return false
		}
		if !parentInfo.active {
			sm.trace(TraceLevelError, Trace{TraceInvalidChangeParent, parent, state,
				"ChangeState", "parent state is not active"})
			observability.RecordStateTransition("rejected")
			return false
		}
	}

	// Validate the new state.
	var newInfo *stateInfo
	if state != NoStateID {
		newInfo = sm.states[state]
		if newInfo == nil {
			sm.trace(TraceLevelError, Trace{TraceInvalidChangeState, parent, state,
				"ChangeState", "new state is not registered"})
			observability.RecordStateTransition("rejected")
			return false
		}
		if newInfo.active {
			sm.trace(TraceLevelError, Trace{TraceInvalidChangeState, parent, state,
				"ChangeState", "new state is already active"})
			observability.RecordStateTransition("rejected")
			return false
		}
	}

	// Make sure that it is actually a change.
	if !sm.transition {
		if parent == NoStateID {
			if sm.topState == newInfo {
				return true
			}
		} else if parentInfo.child == newInfo {
			return true
		}
	}

	// Validate the new state against the current sibling.
	siblingInfo := sm.topState
	if parentInfo != nil {
		siblingInfo = parentInfo.child
	}
	if newInfo != nil && siblingInfo != nil && siblingInfo.validSiblings.Kind != ListAll {
		if !siblingInfo.validSiblings.contains(state) {
			sm.trace(TraceLevelError, Trace{TraceInvalidChangeSibling, parent, state,
				"ChangeState", "sibling state is not valid for new state"})
			observability.RecordStateTransition("rejected")
			return false
		}
	}

	// Validate the new state can be parented as requested.
	if parent != NoStateID && state != NoStateID && newInfo.validParents.Kind != ListAll {
		if !newInfo.validParents.contains(parent) {
			sm.trace(TraceLevelError, Trace{TraceInvalidChangeParent, parent, state,
				"ChangeState", "parent state is not valid for new state"})
			observability.RecordStateTransition("rejected")
			return false
		}
	}

	if sm.transition {
		sm.trace(TraceLevelInfo, Trace{TraceAbortChange,
			infoID(sm.transitionParent), infoID(sm.transitionState),
			"ChangeState", "abort due to new request"})
	}
	sm.trace(TraceLevelInfo, Trace{TraceRequestChange, parent, state,
		"ChangeState", "current=" + sm.currentStatePath()})
	observability.RecordStateTransition("requested")
	sm.transition = true
	sm.transitionParent = parentInfo
	sm.transitionState = newInfo
	return true
}

func infoID(info *stateInfo) StateID {
	if info == nil {
		return NoStateID
	}
	return info.id
}

// Update applies any pending transition and runs OnUpdate over the active
// chain, top state first. A recursive call from inside a state callback is
// detected, warned about, and ignored.
func (sm *StateMachine) Update(delta time.Duration) {
	if !sm.updateMu.TryLock() {
		sm.logger.Warn("recursive_update_ignored")
		return
	}
	start := time.Now()
	sm.doUpdate(delta)
	sm.updateMu.Unlock()
	observability.RecordStateUpdateDuration(sm.name, time.Since(start).Seconds())
}

func (sm *StateMachine) doUpdate(delta time.Duration) {
	sm.updateID++
	updateID := sm.updateID

	sm.mu.Lock()
	defer sm.mu.Unlock()
	for {
		needsUpdate := false

		// Process transitions.
		for sm.transition {
			sm.processTransition()
		}

		// Update states from top most to child.
		info := sm.topState
		for info != nil {
			if info.updateID != updateID {
				info.updateID = updateID
				sm.trace(TraceLevelVerbose, Trace{TraceOnUpdate, NoStateID, info.id,
					"Update", "path=" + sm.statePath(info.id, NoStateID)})
				instance := info.instance
				sm.mu.Unlock()
				instance.OnUpdate(delta)
				sm.mu.Lock()
			}
			if sm.transition {
				needsUpdate = true
				break
			}
			info = info.child
		}

		if !needsUpdate {
			return
		}
	}
}

// processTransition applies the pending transition. Callbacks into states
// run with sm.mu manually released, as they are allowed to request further
// state changes (anything except Update, which is guarded separately).
func (sm *StateMachine) processTransition() {
	// Cache the current request.
	parentInfo := sm.transitionParent
	newStateInfo := sm.transitionState

	// Find the deepest currently-active descendant.
	exitInfo := sm.topState
	if exitInfo != nil {
		for exitInfo.child != nil {
			exitInfo = exitInfo.child
		}
	}

	// Exit states leaf-first, abandoning the pass if a callback retargets
	// the transition.
	for exitInfo != parentInfo {
		sm.trace(TraceLevelInfo, Trace{TraceOnExit, NoStateID, exitInfo.id,
			"Update", "path=" + sm.statePath(exitInfo.id, NoStateID)})

		// Clear all the state first. Anything that happens related to the
		// instance now treats it as exited.
		exitParent := exitInfo.parent
		exitInfo.active = false
		exitInfo.parent = nil
		if exitParent != nil {
			exitParent.child = nil
		} else {
			sm.topState = nil
		}
		exitInfo.updateID = 0

		instance := exitInfo.instance
		sm.mu.Unlock()
		instance.OnExit()
		completed := instance.base().context.Complete()
		sm.mu.Lock()
		if !completed {
			sm.trace(TraceLevelError, Trace{TraceConstraintFailure, NoStateID,
				exitInfo.id, "Update", "exit context could not complete"})
		}

		if exitInfo.lifetime == LifetimeActive {
			exitInfo.instance = nil
		}

		// Now notify the parent that the child exited.
		if exitParent != nil {
			sm.trace(TraceLevelInfo, Trace{TraceOnChildExit, exitParent.id,
				exitInfo.id, "Update", "path=" + sm.statePath(exitInfo.id, NoStateID)})
			parentInstance := exitParent.instance
			sm.mu.Unlock()
			parentInstance.OnChildExit(exitInfo.id)
			sm.mu.Lock()
		}

		// If a new transition was queued, start over.
		if sm.transitionParent != parentInfo || sm.transitionState != newStateInfo {
			return
		}

		exitInfo = exitParent
	}

	// Is there a new state?
	if newStateInfo == nil {
		sm.trace(TraceLevelInfo, Trace{TraceCompleteChange, infoID(parentInfo),
			NoStateID, "Update", "path=" + sm.currentStatePath()})
		observability.RecordStateTransition("completed")
		sm.transition = false
		sm.transitionParent = nil
		sm.transitionState = nil
		return
	}

	// Validate the context for the new state.
	sm.mu.Unlock()
	newContext := gamectx.NewValidated(sm.context.Context(), newStateInfo.constraints...)
	sm.mu.Lock()
	if !newContext.IsValid() {
		sm.trace(TraceLevelError, Trace{TraceConstraintFailure, NoStateID,
			newStateInfo.id, "Update", "enter context is not valid"})
		sm.trace(TraceLevelInfo, Trace{TraceAbortChange, infoID(parentInfo),
			newStateInfo.id, "Update", "enter context is not valid"})
		observability.RecordStateTransition("aborted")
		sm.transition = false
		sm.transitionParent = nil
		sm.transitionState = nil
		return
	}

	// Notify the parent the new state is going to get created.
	if parentInfo != nil {
		sm.trace(TraceLevelInfo, Trace{TraceOnChildEnter, parentInfo.id,
			newStateInfo.id, "Update",
			"path=" + sm.statePath(parentInfo.id, newStateInfo.id)})
		parentInstance := parentInfo.instance
		sm.mu.Unlock()
		parentInstance.OnChildEnter(newStateInfo.id)
		sm.mu.Lock()
	}

	// Link the new state into place.
	newStateInfo.active = true
	newStateInfo.parent = parentInfo
	if parentInfo != nil {
		parentInfo.child = newStateInfo
	} else {
		sm.topState = newStateInfo
	}
	if newStateInfo.lifetime == LifetimeActive {
		sm.mu.Unlock()
		sm.createInstance(newStateInfo)
		sm.mu.Lock()
	}
	newStateInfo.instance.base().context.AssignFrom(newContext)

	// Notify the new state that it is entered.
	sm.trace(TraceLevelInfo, Trace{TraceOnEnter, NoStateID, newStateInfo.id,
		"Update", "path=" + sm.statePath(newStateInfo.id, NoStateID)})
	instance := newStateInfo.instance
	sm.mu.Unlock()
	instance.OnEnter()
	sm.mu.Lock()

	// Reset the transition only if it still refers to this request.
	if sm.transitionParent == parentInfo && sm.transitionState == newStateInfo {
		sm.trace(TraceLevelInfo, Trace{TraceCompleteChange, infoID(parentInfo),
			newStateInfo.id, "Update", "path=" + sm.currentStatePath()})
		observability.RecordStateTransition("completed")
		sm.transition = false
		sm.transitionParent = nil
		sm.transitionState = nil
	}
}

// Close tears down the machine: any active chain is exited, global instances
// are released, and the machine context is completed. Close must not be
// called while Update is running.
func (sm *StateMachine) Close() {
	if !sm.updateMu.TryLock() {
		panic("statemachine: Close called while Update is still running")
	}

	sm.ChangeState(NoStateID, NoStateID)
	sm.doUpdate(0)

	sm.mu.Lock()
	if sm.transition {
		sm.logger.Error("transition_queued_during_close")
	}
	oldStates := sm.states
	sm.states = make(map[StateID]*stateInfo)
	sm.mu.Unlock()

	for _, info := range oldStates {
		info.instance = nil
	}

	sm.updateMu.Unlock()

	if !sm.context.Complete() {
		sm.logger.Error("machine_context_incomplete_on_close")
	}
}

// statePath renders the active chain down to parent, then state, for traces.
// Callers hold sm.mu.
func (sm *StateMachine) statePath(parent, state StateID) string {
	var names []string
	if parent != NoStateID {
		current := sm.topState
		for current != nil && current.id != parent {
			names = append(names, StateName(current.id))
			current = current.child
		}
		names = append(names, StateName(parent))
	}
	if state != NoStateID {
		names = append(names, StateName(state))
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ".")
}

// currentStatePath renders the full active chain for traces. Callers hold
// sm.mu.
func (sm *StateMachine) currentStatePath() string {
	var names []string
	current := sm.topState
	for current != nil {
		names = append(names, StateName(current.id))
		current = current.child
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ".")
}
