package statemachine

import "fmt"

// TraceType tags a trace record with the event it describes.
type TraceType string

const (
	TraceUnknown              TraceType = "Unknown"
	TraceInvalidChangeState   TraceType = "InvalidChangeState"
	TraceInvalidChangeParent  TraceType = "InvalidChangeParent"
	TraceInvalidChangeSibling TraceType = "InvalidChangeSibling"
	TraceConstraintFailure    TraceType = "ConstraintFailure"
	TraceRequestChange        TraceType = "RequestChange"
	TraceAbortChange          TraceType = "AbortChange"
	TraceCompleteChange       TraceType = "CompleteChange"
	TraceOnEnter              TraceType = "OnEnter"
	TraceOnExit               TraceType = "OnExit"
	TraceOnChildEnter         TraceType = "OnChildEnter"
	TraceOnChildExit          TraceType = "OnChildExit"
	TraceOnUpdate             TraceType = "OnUpdate"
)

// TraceLevel controls which trace records are produced.
type TraceLevel int

const (
	TraceLevelNone TraceLevel = iota
	TraceLevelError
	TraceLevelInfo
	TraceLevelVerbose
)

// Trace is a structured record of a state machine event.
type Trace struct {
	Type    TraceType
	Parent  StateID
	State   StateID
	Method  string
	Message string
}

// IsError reports whether the trace describes a failure.
func (t Trace) IsError() bool {
	switch t.Type {
	case TraceInvalidChangeState, TraceInvalidChangeParent,
		TraceInvalidChangeSibling, TraceConstraintFailure:
		return true
	}
	return false
}

// String renders the trace for logging.
func (t Trace) String() string {
	result := fmt.Sprintf("[GameState] %s: %s(", t.Method, t.Type)
	if t.Parent != NoStateID {
		result += fmt.Sprintf("p=%s,", StateName(t.Parent))
	}
	result += fmt.Sprintf("s=%s)", StateName(t.State))
	if t.Message != "" {
		result += " " + t.Message
	}
	return result
}

// TraceHandler receives trace records. Handlers run while the state machine
// lock is held and must not call back into the machine.
type TraceHandler func(trace Trace)
