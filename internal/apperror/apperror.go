// Package apperror classifies request failures so transport code can tell
// client faults from server faults without inspecting message text.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the failure class of an Error.
type Kind int

const (
	// Pipeline covers preprocessing, inference, postprocessing and storage
	// failures. It is also the kind of any unclassified error.
	Pipeline Kind = iota
	// Validation is a client fault: bad extension, malformed JSON, no polygon.
	Validation
	// Metadata is an unreadable container field. It is recovered locally.
	Metadata
	// NotFound is a missing result file.
	NotFound
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case Metadata:
		return "metadata"
	case NotFound:
		return "not_found"
	default:
		return "pipeline"
	}
}

// Error carries a Kind, a client-facing message and the underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New returns an Error of the given kind.
func New(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Validationf returns a Validation error without a cause.
func Validationf(format string, args ...any) *Error {
	return New(Validation, nil, format, args...)
}

// Pipelinef wraps cause as a Pipeline error.
func Pipelinef(cause error, format string, args ...any) *Error {
	return New(Pipeline, cause, format, args...)
}

// KindOf returns the Kind of the first *Error in err's chain, or Pipeline.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Pipeline
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps err to a response status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case Validation:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
