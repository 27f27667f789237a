package gamectx

import (
	"fmt"

	"github.com/playforge-studio/gamecore/gamecore/typekey"
)

// Presence determines when a constrained value may or must exist during the
// lifetime of a Validated context.
type Presence string

const (
	// PresenceInOptional values may be in the context at acquisition. If a
	// default is provided and the value is absent, the default is installed.
	PresenceInOptional Presence = "in-optional"
	// PresenceInRequired values must be in the context at acquisition.
	PresenceInRequired Presence = "in-required"
	// PresenceOutOptional values may be added to the context by release. If a
	// default is provided and the value is absent, the default is installed.
	PresenceOutOptional Presence = "out-optional"
	// PresenceOutRequired values must be in the context at release.
	PresenceOutRequired Presence = "out-required"
	// PresenceScoped values cannot exist beyond release; they are cleared
	// automatically.
	PresenceScoped Presence = "scoped"
)

// Constraint describes one possible value of a Validated context and how it
// is handled. Constraints are immutable records, designed to be created as
// package-level variables and shared.
type Constraint struct {
	// Presence setting for the value.
	Presence Presence

	// Key identifies the value's type. Nil is only meaningful inside
	// read-gating, where it matches any type of the same name.
	Key *typekey.Key

	// TypeName is used only for diagnostics.
	TypeName string

	// Name is the optional value name. If empty, the value is keyed by type
	// alone.
	Name string

	// DefaultValue is installed when an optional constraint is unmet. Only
	// meaningful for the two optional presences.
	DefaultValue any

	// Info is the full metadata used to clone DefaultValue. Set whenever
	// DefaultValue is set.
	Info *typekey.Info
}

// String renders the constraint for diagnostics, e.g. "in-required int size".
func (c Constraint) String() string {
	typeName := c.TypeName
	if typeName == "" {
		typeName = "unspecified-type"
	}
	if c.Name == "" {
		return fmt.Sprintf("%s %s", c.Presence, typeName)
	}
	return fmt.Sprintf("%s %s %s", c.Presence, typeName, c.Name)
}

func constraintFor[T any](presence Presence, name string) Constraint {
	key := typekey.Get[T]()
	return Constraint{
		Presence: presence,
		Key:      key,
		TypeName: key.Name(),
		Name:     name,
	}
}

func constraintWithDefault[T any](presence Presence, name string, def T) Constraint {
	c := constraintFor[T](presence, name)
	c.DefaultValue = &def
	c.Info = typekey.InfoFor[T]()
	return c
}

// InRequired declares a value that must exist at acquisition.
func InRequired[T any](name string) Constraint {
	return constraintFor[T](PresenceInRequired, name)
}

// InOptional declares a value that may exist at acquisition.
func InOptional[T any](name string) Constraint {
	return constraintFor[T](PresenceInOptional, name)
}

// InOptionalDefault declares a value that may exist at acquisition and is
// defaulted when absent.
func InOptionalDefault[T any](name string, def T) Constraint {
	return constraintWithDefault(PresenceInOptional, name, def)
}

// OutRequired declares a value that must exist at release.
func OutRequired[T any](name string) Constraint {
	return constraintFor[T](PresenceOutRequired, name)
}

// OutOptional declares a value that may exist at release.
func OutOptional[T any](name string) Constraint {
	return constraintFor[T](PresenceOutOptional, name)
}

// OutOptionalDefault declares a value that may exist at release and is
// defaulted when absent.
func OutOptionalDefault[T any](name string, def T) Constraint {
	return constraintWithDefault(PresenceOutOptional, name, def)
}

// Scoped declares a value that must not exist beyond release; it is cleared
// on release. Acquisition does not check whether it already exists.
func Scoped[T any](name string) Constraint {
	return constraintFor[T](PresenceScoped, name)
}
