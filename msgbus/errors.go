package msgbus

import (
	"fmt"
)

// DispatcherBoundError is returned when a dispatcher is already bound to a
// different message system.
type DispatcherBoundError struct {
	Operation string
}

func (e *DispatcherBoundError) Error() string {
	return fmt.Sprintf("%s: dispatcher is already bound to another message system", e.Operation)
}

// NewDispatcherBoundError creates a new DispatcherBoundError.
func NewDispatcherBoundError(operation string) *DispatcherBoundError {
	return &DispatcherBoundError{Operation: operation}
}

// SystemClosedError is returned when an operation requires a live message
// system but the system was already destroyed.
type SystemClosedError struct {
	Operation string
}

func (e *SystemClosedError) Error() string {
	return fmt.Sprintf("%s: message system is closed", e.Operation)
}

// NewSystemClosedError creates a new SystemClosedError.
func NewSystemClosedError(operation string) *SystemClosedError {
	return &SystemClosedError{Operation: operation}
}
