package gamectx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureErrors installs a collecting error callback for the duration of the
// test and restores the previous one afterwards.
func captureErrors(t *testing.T) *[]string {
	t.Helper()
	var messages []string
	previous := SetGlobalErrorCallback(func(message string) {
		messages = append(messages, message)
	})
	t.Cleanup(func() { SetGlobalErrorCallback(previous) })
	return &messages
}

func TestValidated_DefaultsInstalled(t *testing.T) {
	errors := captureErrors(t)
	ctx := NewContext()
	defer ctx.Close()

	v := NewValidated(ctx,
		InOptionalDefault("width", 100),
		InOptionalDefault("height", 200),
	)
	require.True(t, v.IsValid())
	assert.Empty(t, *errors)

	assert.Equal(t, 100, GetValue[int](ctx, "width"))
	assert.Equal(t, 200, GetValue[int](ctx, "height"))

	assert.True(t, v.Complete())
}

func TestValidated_DefaultNotInstalledWhenPresent(t *testing.T) {
	ctx := NewContext()
	defer ctx.Close()
	SetNew(ctx, "width", 640)

	v := NewValidated(ctx, InOptionalDefault("width", 100))
	require.True(t, v.IsValid())
	assert.Equal(t, 640, GetValue[int](ctx, "width"))
	assert.True(t, v.Complete())
}

func TestValidated_InRequiredMissing(t *testing.T) {
	errors := captureErrors(t)
	ctx := NewContext()
	defer ctx.Close()

	v := NewValidated(ctx, InRequired[int]("size"))
	assert.False(t, v.IsValid())
	require.Len(t, *errors, 1)
	assert.Contains(t, (*errors)[0], "value is missing")
	assert.Contains(t, (*errors)[0], "in-required")
}

func TestValidated_InOptionalWrongType(t *testing.T) {
	errors := captureErrors(t)
	ctx := NewContext()
	defer ctx.Close()
	SetNew(ctx, "size", "not an int")

	v := NewValidated(ctx, InOptional[int]("size"))
	assert.False(t, v.IsValid())
	require.Len(t, *errors, 1)
	assert.Contains(t, (*errors)[0], "wrong type")
}

func TestValidated_NilContext(t *testing.T) {
	errors := captureErrors(t)
	v := NewValidated(nil)
	assert.False(t, v.IsValid())
	assert.Len(t, *errors, 1)
}

func TestValidated_ReadGating(t *testing.T) {
	errors := captureErrors(t)
	ctx := NewContext()
	defer ctx.Close()
	SetNew(ctx, "allowed", 1)
	SetNew(ctx, "forbidden", 2)

	v := NewValidated(ctx, InRequired[int]("allowed"))
	require.True(t, v.IsValid())

	assert.Equal(t, 1, GetValue[int](v, "allowed"))
	assert.Empty(t, *errors)

	// Reads outside the constraint list return the zero value and raise
	// exactly one error each; the context is untouched.
	assert.Equal(t, 0, GetValue[int](v, "forbidden"))
	assert.Len(t, *errors, 1)
	assert.Contains(t, (*errors)[0], "attempt to read")
	assert.Equal(t, 2, GetValue[int](ctx, "forbidden"))

	assert.True(t, v.Complete())
}

func TestValidated_WriteGating(t *testing.T) {
	errors := captureErrors(t)
	ctx := NewContext()
	defer ctx.Close()
	SetNew(ctx, "input", 1)

	v := NewValidated(ctx,
		InRequired[int]("input"),
		OutOptional[int]("output"),
	)
	require.True(t, v.IsValid())

	// Writes to read-only constraints are denied and leave the context
	// unchanged.
	assert.False(t, SetNew(v, "input", 9))
	assert.Len(t, *errors, 1)
	assert.Contains(t, (*errors)[0], "attempt to write")
	assert.Equal(t, 1, GetValue[int](ctx, "input"))

	// Writes to out constraints are permitted.
	assert.True(t, SetNew(v, "output", 3))
	assert.Equal(t, 3, GetValue[int](ctx, "output"))

	assert.True(t, v.Complete())
}

func TestValidated_NameOnlyProbe(t *testing.T) {
	ctx := NewContext()
	defer ctx.Close()
	SetNew(ctx, "probe", 1)

	v := NewValidated(ctx, InRequired[int]("probe"))
	require.True(t, v.IsValid())

	// A name probe matches any constraint with that name.
	assert.True(t, NameExists(v, "probe"))
	assert.True(t, v.Complete())
}

func TestValidated_OutRequiredMissing(t *testing.T) {
	errors := captureErrors(t)
	ctx := NewContext()
	defer ctx.Close()

	v := NewValidated(ctx, OutRequired[int]("result"))
	require.True(t, v.IsValid())
	assert.False(t, v.IsValidToComplete())

	assert.False(t, v.Complete())
	require.Len(t, *errors, 1)
	assert.Contains(t, (*errors)[0], "out-required")

	// Still valid; satisfy the constraint and complete.
	require.True(t, v.IsValid())
	SetNew(v, "result", 42)
	assert.True(t, v.IsValidToComplete())
	assert.True(t, v.Complete())
	assert.False(t, v.IsValid())
}

func TestValidated_OutOptionalDefaultOnComplete(t *testing.T) {
	ctx := NewContext()
	defer ctx.Close()

	v := NewValidated(ctx, OutOptionalDefault("result", 7))
	require.True(t, v.IsValid())
	assert.False(t, Exists[int](ctx, "result"))

	require.True(t, v.Complete())
	assert.Equal(t, 7, GetValue[int](ctx, "result"))
}

func TestValidated_ScopedClearedOnComplete(t *testing.T) {
	ctx := NewContext()
	defer ctx.Close()

	v := NewValidated(ctx, Scoped[int]("scratch"))
	require.True(t, v.IsValid())
	SetNew(v, "scratch", 1)
	assert.True(t, Exists[int](ctx, "scratch"))

	require.True(t, v.Complete())
	assert.False(t, Exists[int](ctx, "scratch"))
}

func TestValidated_CompleteInvalidTriviallySucceeds(t *testing.T) {
	var v Validated
	assert.True(t, v.Complete())
	assert.False(t, v.IsValid())
}

func TestValidated_AssignCompletesPriorBinding(t *testing.T) {
	ctx := NewContext()
	defer ctx.Close()

	v := NewValidated(ctx, Scoped[int]("scratch"))
	require.True(t, v.IsValid())
	SetNew(v, "scratch", 1)

	// Re-assignment completes the prior binding first, clearing the scoped
	// value.
	other := NewContext()
	defer other.Close()
	require.True(t, v.Assign(other, []Constraint{OutOptional[int]("out")}))
	assert.False(t, Exists[int](ctx, "scratch"))
	assert.Same(t, other, v.Context())

	assert.True(t, v.Complete())
}

func TestValidated_AssignFromTransfersBinding(t *testing.T) {
	ctx := NewContext()
	defer ctx.Close()
	SetNew(ctx, "input", 1)

	source := NewValidated(ctx, InRequired[int]("input"))
	require.True(t, source.IsValid())

	var target Validated
	assert.True(t, target.AssignFrom(source))
	assert.False(t, source.IsValid())
	assert.True(t, target.IsValid())
	assert.Equal(t, 1, GetValue[int](&target, "input"))

	assert.True(t, target.Complete())
}

func TestValidated_AssignShared(t *testing.T) {
	ctx := NewContext()
	defer ctx.Close()
	SetNew(ctx, "input", 5)

	outer := NewValidated(ctx, InRequired[int]("input"), OutOptional[int]("out"))
	require.True(t, outer.IsValid())

	var inner Validated
	require.True(t, inner.AssignShared(outer, []Constraint{InRequired[int]("input")}))
	assert.Equal(t, 5, GetValue[int](&inner, "input"))

	assert.True(t, inner.Complete())
	assert.True(t, outer.Complete())
}

func TestContract_Apply(t *testing.T) {
	ctx := NewContext()
	defer ctx.Close()
	SetNew(ctx, "size", 8)

	contract := NewContract(
		InRequired[int]("size"),
		InOptionalDefault("depth", 16),
	)
	v := contract.Apply(ctx)
	require.True(t, v.IsValid())
	assert.Equal(t, 8, GetValue[int](v, "size"))
	assert.Equal(t, 16, GetValue[int](ctx, "depth"))
	assert.Len(t, contract.Constraints(), 2)

	assert.True(t, v.Complete())
}

func TestConstraint_String(t *testing.T) {
	assert.Equal(t, "in-required int size", InRequired[int]("size").String())
	assert.Equal(t, "scoped int", Scoped[int]("").String())
}
