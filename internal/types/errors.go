package types

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks bad input shape, rejected before it reaches the core.
	ErrValidation = errors.New("validation error")

	// ErrExtraction means the PDF could not be read. The document is marked
	// as errored and no chunks are created.
	ErrExtraction = errors.New("text extraction failed")

	// ErrServiceUnavailable means an external call exhausted its retries or
	// timed out. It is never reported as an empty result.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrMalformedGeneration means a structured generation failed validation.
	ErrMalformedGeneration = errors.New("malformed generation")

	// ErrDimensionMismatch is a configuration error: vectors no longer match
	// the dimensionality the index or gateway was set up with.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	ErrNotFound        = errors.New("not found")
	ErrUnsupportedType = errors.New("unsupported type")
)

// ServiceError wraps the last failure of an external service call.
type ServiceError struct {
	Service  string
	Attempts int
	Err      error
}

func (e *ServiceError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("%s unavailable after %d attempts: %v", e.Service, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s unavailable: %v", e.Service, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

func (e *ServiceError) Is(target error) bool { return target == ErrServiceUnavailable }

// GenerationError reports which part of a structured generation was invalid.
type GenerationError struct {
	Agent  string
	Reason string
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Agent, ErrMalformedGeneration, e.Reason)
}

func (e *GenerationError) Is(target error) bool { return target == ErrMalformedGeneration }

// DimensionError carries the expected and observed vector sizes.
type DimensionError struct {
	Expected int
	Got      int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("%s: expected %d, got %d", ErrDimensionMismatch, e.Expected, e.Got)
}

func (e *DimensionError) Is(target error) bool { return target == ErrDimensionMismatch }

// CheckDimensions returns a DimensionError when v does not have the expected
// length. An expected size of zero disables the check.
func CheckDimensions(expected int, v []float32) error {
	if expected > 0 && len(v) != expected {
		return &DimensionError{Expected: expected, Got: len(v)}
	}
	return nil
}
