package domain

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when an image, run or transaction does not exist or is not owned by the caller
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument is returned for non-positive amounts, unsupported mime types and malformed input
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInsufficientCredits is returned when a balance cannot cover the requested amount
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrUpstreamGeneration wraps failures of the generative model provider
	ErrUpstreamGeneration = errors.New("upstream generation failure")

	// ErrStorage wraps blob download/upload/delete failures
	ErrStorage = errors.New("storage failure")

	// ErrCrashed marks a run terminated by an unexpected panic or a max-duration overrun
	ErrCrashed = errors.New("crashed")
)

// Error codes surfaced to API clients and stored on run rows
const (
	CodeNotFound            = "NOT_FOUND"
	CodeInvalidArgument     = "INVALID_ARGUMENT"
	CodeInsufficientCredits = "INSUFFICIENT_CREDITS"
	CodeUpstreamGeneration  = "UPSTREAM_GENERATION_FAILURE"
	CodeStorage             = "STORAGE_FAILURE"
	CodeCrashed             = "CRASHED"
	CodeInternal            = "INTERNAL"
)

// Code maps an error onto the client-visible error code
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrInvalidArgument):
		return CodeInvalidArgument
	case errors.Is(err, ErrInsufficientCredits):
		return CodeInsufficientCredits
	case errors.Is(err, ErrCrashed), errors.Is(err, context.DeadlineExceeded):
		return CodeCrashed
	case errors.Is(err, ErrUpstreamGeneration):
		return CodeUpstreamGeneration
	case errors.Is(err, ErrStorage):
		return CodeStorage
	default:
		return CodeInternal
	}
}

// PublicMessage returns the opaque message shown to clients for an error code.
// Raw provider errors never leave the service.
func PublicMessage(code string) string {
	switch code {
	case CodeNotFound:
		return "The requested resource was not found"
	case CodeInvalidArgument:
		return "The request is invalid"
	case CodeInsufficientCredits:
		return "Insufficient credits to restore photo"
	case CodeUpstreamGeneration:
		return "Photo restoration failed. No credits were charged"
	case CodeStorage:
		return "Photo could not be stored or retrieved. No credits were charged"
	case CodeCrashed:
		return "Photo restoration stopped unexpectedly. Contact support if your balance changed"
	default:
		return "Internal error"
	}
}
