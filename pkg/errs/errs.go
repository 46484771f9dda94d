// Package errs defines the error taxonomy shared by every stage of the mapping pipeline.
//
// Errors carry a Kind so callers can decide whether a failure is scoped to one channel,
// one subject or the whole run. Use errors.Is against the exported sentinels:
//
//	if errors.Is(err, errs.ErrDegenerateInput) { ... }
package errs

import (
	"fmt"
)

// Kind classifies a pipeline failure.
type Kind string

const (
	KindSchema                    Kind = "SCHEMA"
	KindDimensionMismatch         Kind = "DIMENSION_MISMATCH"
	KindAlignment                 Kind = "ALIGNMENT"
	KindDegenerateInput           Kind = "DEGENERATE_INPUT"
	KindMissingCollaboratorOutput Kind = "MISSING_COLLABORATOR_OUTPUT"
	KindConfiguration             Kind = "CONFIGURATION"
)

var (
	// ErrSchema is returned for malformed or unmatched spreadsheet columns.
	ErrSchema = New(KindSchema, "stimulation sheet does not follow the expected column schema")

	// ErrDimensionMismatch is returned when series or volumes that must agree in length or shape do not.
	ErrDimensionMismatch = New(KindDimensionMismatch, "series or volume dimensions do not match")

	// ErrAlignment is returned when volumes to be averaged do not share a voxel grid.
	// It also matches ErrDimensionMismatch.
	ErrAlignment = New(KindAlignment, "volumes are not aligned to the same voxel grid")

	// ErrDegenerateInput is returned when there is nothing to normalize against.
	ErrDegenerateInput = New(KindDegenerateInput, "no responsive stimulations, normalization is undefined")

	// ErrMissingCollaboratorOutput is returned when an external toolkit step did not produce its file.
	ErrMissingCollaboratorOutput = New(KindMissingCollaboratorOutput, "external toolkit did not produce the expected output")

	// ErrConfiguration is returned for invalid processing parameters.
	ErrConfiguration = New(KindConfiguration, "invalid configuration")
)

type Extras map[string]interface{}

type Error struct {
	Kind    Kind
	Message string
	Extras  *Extras
}

func New(kind Kind, message string) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
	}
}

// WithMessage returns a copy of e with a formatted message; e itself is not modified.
func (e Error) WithMessage(format string, parts ...interface{}) *Error {
	e.Message = fmt.Sprintf(format, parts...)
	return &e
}

// WithExtras returns a copy of e carrying extra structured context.
func (e Error) WithExtras(extras Extras) *Error {
	e.Extras = &extras
	return &e
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is reports whether target is an *Error of the same kind. Alignment errors are a
// specialization of dimension mismatches and match both.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind == e.Kind {
		return true
	}
	return e.Kind == KindAlignment && t.Kind == KindDimensionMismatch
}

// KindOf returns the Kind of the first *Error in err's chain, or "" when there is none.
func KindOf(err error) Kind {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			// github.com/pkg/errors wrappers expose Cause instead of Unwrap on older versions
			c, ok := err.(interface{ Cause() error })
			if !ok {
				return ""
			}
			err = c.Cause()
			continue
		}
		err = u.Unwrap()
	}
	return ""
}
