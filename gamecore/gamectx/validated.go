package gamectx

import (
	"fmt"
	"sync"

	"github.com/playforge-studio/gamecore/gamecore/logging"
	"github.com/playforge-studio/gamecore/gamecore/observability"
	"github.com/playforge-studio/gamecore/gamecore/typekey"
)

// ErrorCallback receives every validation failure message. It is
// process-wide; exactly one is installed at a time.
type ErrorCallback func(message string)

var (
	errorCallbackMu sync.Mutex
	errorCallback   ErrorCallback
	errorLog        = logging.ForComponent("gamectx")
)

// SetGlobalErrorCallback installs the callback invoked on any validation
// error and returns the previously installed callback (nil if none). With no
// callback installed, errors are logged.
func SetGlobalErrorCallback(callback ErrorCallback) ErrorCallback {
	errorCallbackMu.Lock()
	defer errorCallbackMu.Unlock()
	previous := errorCallback
	errorCallback = callback
	return previous
}

func reportError(message string) {
	observability.RecordContextValidationError()
	errorCallbackMu.Lock()
	callback := errorCallback
	errorCallbackMu.Unlock()
	if callback != nil {
		callback(message)
		return
	}
	errorLog.Error("validation_failed", "message", message)
}

func describeKey(key *typekey.Key, name string) string {
	typeName := "unspecified-type"
	if key != nil {
		typeName = key.Name()
	}
	if name == "" {
		return typeName
	}
	return fmt.Sprintf("%s %s", typeName, name)
}

// Validated is a validated wrapper around a Context.
//
// As a Context can hold anything, its dynamic nature can hide bugs in the
// pre- and post-conditions of components that use it. Validated addresses
// this by enforcing the preconditions at acquisition and the postconditions
// at release, and by gating every read and write in between against the
// constraint list.
//
// The zero value is invalid; it completes trivially and generates no errors.
type Validated struct {
	ctx         *Context
	constraints []Constraint
}

// NewValidated acquires a Validated over ctx with the given constraints.
// On validation failure the result is invalid (IsValid reports false) and
// the error has been reported.
func NewValidated(ctx *Context, constraints ...Constraint) *Validated {
	v := &Validated{}
	v.Assign(ctx, constraints)
	return v
}

// IsValid reports whether the Validated holds a context. When false, all
// modification operations fail and reads behave as though the context is
// empty.
func (v *Validated) IsValid() bool { return v != nil && v.ctx != nil }

// Context returns the underlying context. Prefer the gated accessors; going
// through the raw context defeats the read/write safeguards.
func (v *Validated) Context() *Context { return v.ctx }

// Constraints returns the constraint list enforced by this Validated.
func (v *Validated) Constraints() []Constraint { return v.constraints }

// Assign binds the Validated to ctx under the given constraints.
//
// Validation is performed first: only a context meeting every in-required
// and in-optional constraint is accepted. If this Validated is currently
// valid it is completed before the new binding takes effect. On failure
// nothing is modified and this returns false.
func (v *Validated) Assign(ctx *Context, constraints []Constraint) bool {
	if ctx == nil {
		reportError("context passed to Validated was nil")
		return false
	}

	// Make sure all input requirements are met.
	for _, constraint := range constraints {
		if constraint.Presence != PresenceInRequired &&
			constraint.Presence != PresenceInOptional {
			continue
		}
		if ctx.exists(constraint.Name, constraint.Key) {
			continue
		}
		if constraint.Presence == PresenceInRequired {
			reportError(fmt.Sprintf("validation failed on constraint %s: value is missing", constraint))
			return false
		}
		if constraint.Name != "" && ctx.nameExists(constraint.Name) {
			reportError(fmt.Sprintf("validation failed on constraint %s: value is the wrong type", constraint))
			return false
		}
	}

	// All requirements are met, so complete any prior binding and install
	// defaults for missing optional inputs.
	if !v.Complete() {
		return false
	}
	for _, constraint := range constraints {
		if constraint.Presence == PresenceInOptional &&
			constraint.DefaultValue != nil &&
			!ctx.exists(constraint.Name, constraint.Key) {
			ctx.SetStored(constraint.Name, constraint.Info, constraint.DefaultValue)
		}
	}
	v.ctx = ctx
	v.constraints = constraints
	return true
}

// AssignShared binds the Validated to another Validated's context under a
// new constraint list.
func (v *Validated) AssignShared(other *Validated, constraints []Constraint) bool {
	if other == nil || other.ctx == nil {
		reportError("validated context passed to Validated was not valid")
		return false
	}
	return v.Assign(other.ctx, constraints)
}

// AssignFrom transfers the binding from another Validated, which becomes
// invalid. Any existing binding on this Validated is completed first, and
// the result of that completion is returned. To avoid unhandled completion
// failures, call and check Complete explicitly before transferring.
func (v *Validated) AssignFrom(other *Validated) bool {
	result := v.Complete()
	v.ctx = other.ctx
	v.constraints = other.constraints
	other.ctx = nil
	other.constraints = nil
	return result
}

// canComplete reports whether Complete would succeed without modifying
// anything. With report set, the first failure is reported as an error.
func (v *Validated) canComplete(report bool) bool {
	if v == nil || v.ctx == nil {
		return true
	}
	for _, constraint := range v.constraints {
		if constraint.Presence != PresenceOutRequired &&
			constraint.Presence != PresenceOutOptional {
			continue
		}
		if v.ctx.exists(constraint.Name, constraint.Key) {
			continue
		}
		if constraint.Presence == PresenceOutRequired {
			if report {
				reportError(fmt.Sprintf("validation failed on constraint %s: value is missing", constraint))
			}
			return false
		}
		if constraint.Name != "" && v.ctx.nameExists(constraint.Name) {
			if report {
				reportError(fmt.Sprintf("validation failed on constraint %s: value is the wrong type", constraint))
			}
			return false
		}
	}
	return true
}

// IsValidToComplete reports whether the context would complete without any
// errors.
func (v *Validated) IsValidToComplete() bool { return v.canComplete(false) }

// Complete applies every out-required, out-optional, and scoped constraint.
//
// On success the Validated is reset to the invalid state and this returns
// true. Otherwise this returns false and the underlying context is not
// modified. An invalid Validated completes trivially.
func (v *Validated) Complete() bool {
	if !v.canComplete(true) {
		return false
	}
	if v.ctx == nil {
		return true
	}
	for _, constraint := range v.constraints {
		switch constraint.Presence {
		case PresenceOutOptional:
			if constraint.DefaultValue != nil &&
				!v.ctx.exists(constraint.Name, constraint.Key) {
				v.ctx.SetStored(constraint.Name, constraint.Info, constraint.DefaultValue)
			}
		case PresenceScoped:
			v.ctx.clearKey(constraint.Name, constraint.Key)
		}
	}
	v.ctx = nil
	v.constraints = nil
	return true
}

// canRead reports whether a read of (name, key) is permitted. A nil key
// matches any constraint of the same name (used for name-only probes).
func (v *Validated) canRead(name string, key *typekey.Key) bool {
	if v == nil || v.ctx == nil {
		// Error was reported at acquisition.
		return false
	}
	for _, constraint := range v.constraints {
		if (key == nil || constraint.Key == key) && constraint.Name == name {
			return true
		}
	}
	reportError(fmt.Sprintf("attempt to read from %s", describeKey(key, name)))
	return false
}

// canWrite reports whether a write of (name, key) is permitted.
func (v *Validated) canWrite(name string, key *typekey.Key) bool {
	if v == nil || v.ctx == nil {
		// Error was reported at acquisition.
		return false
	}
	for _, constraint := range v.constraints {
		if (key != nil && constraint.Key != key) || constraint.Name != name {
			continue
		}
		switch constraint.Presence {
		case PresenceOutOptional, PresenceOutRequired, PresenceScoped:
			return true
		}
	}
	reportError(fmt.Sprintf("attempt to write to %s", describeKey(key, name)))
	return false
}

func (v *Validated) lookup(name string, key *typekey.Key) any {
	if !v.canRead(name, key) {
		return nil
	}
	return v.ctx.lookup(name, key)
}

func (v *Validated) lookupLocal(name string, key *typekey.Key) any {
	if !v.canWrite(name, key) {
		return nil
	}
	return v.ctx.lookupLocal(name, key)
}

func (v *Validated) install(name string, info *typekey.Info, value any, owned bool) bool {
	if !v.canWrite(name, info.Key()) {
		return false
	}
	return v.ctx.install(name, info, value, owned)
}

func (v *Validated) exists(name string, key *typekey.Key) bool {
	if !v.canRead(name, key) {
		return false
	}
	return v.ctx.exists(name, key)
}

func (v *Validated) nameExists(name string) bool {
	if !v.canRead(name, nil) {
		return false
	}
	return v.ctx.nameExists(name)
}

func (v *Validated) isOwned(name string, key *typekey.Key) bool {
	if !v.canRead(name, key) {
		return false
	}
	return v.ctx.isOwned(name, key)
}

func (v *Validated) release(name string, key *typekey.Key) any {
	if !v.canWrite(name, key) {
		return nil
	}
	return v.ctx.release(name, key)
}

func (v *Validated) clearKey(name string, key *typekey.Key) bool {
	if !v.canWrite(name, key) {
		return false
	}
	return v.ctx.clearKey(name, key)
}

func (v *Validated) clearName(name string) bool {
	if !v.canWrite(name, nil) {
		return false
	}
	return v.ctx.clearName(name)
}

var _ Store = (*Validated)(nil)

// Contract is a runtime carrier of an ordered constraint list, used to
// declare a component's context requirements as part of its API.
type Contract struct {
	constraints []Constraint
}

// NewContract creates a contract from the given constraints.
func NewContract(constraints ...Constraint) Contract {
	return Contract{constraints: constraints}
}

// Constraints returns the constraints this contract enforces.
func (c Contract) Constraints() []Constraint { return c.constraints }

// Apply acquires a Validated over ctx under this contract's constraints.
// The result may be invalid; check IsValid. The caller owns the release:
// the returned Validated must be completed (or discarded invalid).
func (c Contract) Apply(ctx *Context) *Validated {
	return NewValidated(ctx, c.constraints...)
}
