package workflow

import (
	"context"
	"errors"

	"github.com/xhad/pdfchat/internal/models"
	"github.com/xhad/pdfchat/internal/types"
)

const (
	CodeServiceUnavailable  = "service_unavailable"
	CodeMalformedGeneration = "malformed_generation"
	CodeConfiguration       = "configuration"
	CodeCancelled           = "cancelled"
	CodeUnknownAgent        = "unknown_agent"
	CodeInternal            = "internal"
)

// errorInfo classifies err. A timed-out service call is service_unavailable,
// not cancelled, because the ServiceError is checked first.
func errorInfo(err error) models.ErrorInfo {
	code := CodeInternal
	switch {
	case err == nil:
	case errors.Is(err, types.ErrServiceUnavailable):
		code = CodeServiceUnavailable
	case errors.Is(err, types.ErrMalformedGeneration):
		code = CodeMalformedGeneration
	case errors.Is(err, ErrUnknownAgent):
		code = CodeUnknownAgent
	case errors.Is(err, types.ErrDimensionMismatch), errors.Is(err, types.ErrValidation):
		code = CodeConfiguration
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		code = CodeCancelled
	}

	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return models.ErrorInfo{Code: code, Message: msg}
}

func userMessage(code string) string {
	switch code {
	case CodeServiceUnavailable:
		return "The language or embedding service is unavailable right now. Please try again in a moment."
	case CodeMalformedGeneration:
		return "I couldn't produce a valid quiz from these documents. Please try again."
	case CodeUnknownAgent:
		return "Unknown agent type. Use one of: qa, summary, mcq."
	case CodeConfiguration:
		return "The document index is misconfigured. Please contact the administrator."
	case CodeCancelled:
		return "The request was cancelled."
	}
	return "I encountered an error while processing your request. Please try again."
}
