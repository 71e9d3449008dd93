package lumen

import (
	"errors"
	"fmt"
)

// Error categories. Resource, shader, validation and backend failures match
// one of them with errors.Is. Lifecycle errors are returned as their own
// sentinels, and surface failures wrap the surface's error.
var (
	// ErrValidation is the category of failures detected before any backend call.
	ErrValidation = errors.New("lumen: validation failed")

	// ErrAllocation is the category of failed resource allocations.
	ErrAllocation = errors.New("lumen: allocation failed")

	// ErrCompile is the category of shader stage compile failures.
	ErrCompile = errors.New("lumen: shader compile failed")

	// ErrLink is the category of program link failures.
	ErrLink = errors.New("lumen: program link failed")

	// ErrBackend is the category of failures surfaced from the backend.
	ErrBackend = errors.New("lumen: backend failure")
)

// Validation errors.
var (
	// ErrLayoutMismatch is returned when a vertex layout disagrees with a
	// buffer stride or with a program's declared inputs.
	ErrLayoutMismatch = fmt.Errorf("%w: layout mismatch", ErrValidation)

	// ErrUniformTypeMismatch is returned when a uniform value's type differs
	// from the slot's declared type.
	ErrUniformTypeMismatch = fmt.Errorf("%w: uniform type mismatch", ErrValidation)

	// ErrFramebufferIncomplete is returned when a framebuffer's attachments
	// are inconsistent.
	ErrFramebufferIncomplete = fmt.Errorf("%w: framebuffer incomplete", ErrValidation)

	// ErrUnsupportedFormat is returned when a texture format cannot back the
	// requested dimension.
	ErrUnsupportedFormat = fmt.Errorf("%w: unsupported texture format", ErrValidation)

	// ErrInvalidDimensions is returned for zero or over-limit texture sizes.
	ErrInvalidDimensions = fmt.Errorf("%w: invalid texture dimensions", ErrValidation)

	// ErrOutOfBounds is returned when an access exceeds a resource's extent.
	ErrOutOfBounds = fmt.Errorf("%w: out of bounds", ErrValidation)

	// ErrDataSize is returned when data is not a whole number of elements
	// or does not match the declared length.
	ErrDataSize = fmt.Errorf("%w: data size does not match layout", ErrValidation)

	// ErrProgramNotLinked is returned when shading with a program that is
	// not a live, linked program.
	ErrProgramNotLinked = fmt.Errorf("%w: program not linked", ErrValidation)

	// ErrUnknownUniform is returned for uniform names or slots the program
	// does not declare.
	ErrUnknownUniform = fmt.Errorf("%w: unknown uniform", ErrValidation)

	// ErrForeignContext is returned when a handle is used with a context
	// other than the one that created it.
	ErrForeignContext = fmt.Errorf("%w: handle belongs to another context", ErrValidation)

	// ErrTextureUnitsExhausted is returned when a pipeline binds more
	// textures than the backend has units.
	ErrTextureUnitsExhausted = fmt.Errorf("%w: texture units exhausted", ErrValidation)

	// ErrNilBackend is returned by NewContext without a backend.
	ErrNilBackend = fmt.Errorf("%w: nil backend", ErrValidation)
)

// Lifecycle errors.
var (
	// ErrReleased is returned when using or releasing a destroyed handle.
	ErrReleased = errors.New("lumen: handle released")

	// ErrContextClosed is returned for operations on a closed context.
	ErrContextClosed = errors.New("lumen: context closed")

	// ErrScopeOrder is returned when a gate is closed while a gate opened
	// after it is still open.
	ErrScopeOrder = errors.New("lumen: gates must close in reverse order of opening")

	// ErrScopeClosed is returned when using or closing a gate twice.
	ErrScopeClosed = errors.New("lumen: gate already closed")

	// ErrScopeState is returned when an operation is not valid in the
	// current gate state.
	ErrScopeState = errors.New("lumen: operation not valid in current gate state")
)

// AllocationError reports a failed resource allocation.
// It matches ErrAllocation, and ErrBackend unless Err is a validation error.
type AllocationError struct {
	Resource string
	Size     uint64
	Err      error
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("lumen: allocate %s (%d bytes): %v", e.Resource, e.Size, e.Err)
}

func (e *AllocationError) Unwrap() error { return e.Err }

// Is reports whether target is one of the categories of e. Failures
// rejected before reaching the backend do not match ErrBackend.
func (e *AllocationError) Is(target error) bool {
	switch target {
	case ErrAllocation:
		return true
	case ErrBackend:
		return !errors.Is(e.Err, ErrValidation)
	}
	return false
}

// StageCompileError reports a failed shader stage with the backend log.
type StageCompileError struct {
	Stage StageKind
	Log   string
}

func (e *StageCompileError) Error() string {
	return fmt.Sprintf("lumen: %s stage: %s", e.Stage, e.Log)
}

// Is reports whether target is ErrCompile.
func (e *StageCompileError) Is(target error) bool { return target == ErrCompile }

// ProgramLinkError reports a failed program link with the backend log.
type ProgramLinkError struct {
	Log string
}

func (e *ProgramLinkError) Error() string {
	return "lumen: link program: " + e.Log
}

// Is reports whether target is ErrLink.
func (e *ProgramLinkError) Is(target error) bool { return target == ErrLink }

// BackendError wraps an opaque failure from a backend call.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("lumen: backend %s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// Is reports whether target is ErrBackend.
func (e *BackendError) Is(target error) bool { return target == ErrBackend }

func backendErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &BackendError{Op: op, Err: err}
}
