package models

import (
	"context"
	"errors"
	"fmt"
)

// Error codes used in API responses and internal error handling.
const (
	ErrCodeTimeout      = "HARVEST_TIMEOUT"
	ErrCodeNavigation   = "NAVIGATION_FAILED"
	ErrCodeListNotFound = "LIST_NOT_FOUND"
	ErrCodeTabNotFound  = "TAB_NOT_FOUND"
	ErrCodeBrowserCrash = "BROWSER_CRASH"
	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodeRateLimited  = "RATE_LIMITED"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeBusy         = "HARVEST_IN_PROGRESS"
	ErrCodeInternal     = "INTERNAL_ERROR"

	// Downstream collaborators.
	ErrCodeSinkFailed  = "SINK_FAILED"
	ErrCodeAuthFailed  = "AUTH_FAILED"
	ErrCodeFetchFailed = "FETCH_FAILED"
)

// ErrorDetail is the structured error in API responses.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HarvestError is the internal error type carrying an error code.
// It implements the error interface and supports error wrapping via Unwrap.
type HarvestError struct {
	Code    string
	Message string
	Err     error // wrapped original error
}

func (e *HarvestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *HarvestError) Unwrap() error {
	return e.Err
}

// NewHarvestError creates a new HarvestError.
func NewHarvestError(code, message string, err error) *HarvestError {
	return &HarvestError{Code: code, Message: message, Err: err}
}

// ToDetail converts an internal error to an API-facing ErrorDetail.
func (e *HarvestError) ToDetail() *ErrorDetail {
	return &ErrorDetail{Code: e.Code, Message: e.Message}
}

// AsHarvestError returns err as a *HarvestError, classifying plain errors
// as internal ones. It returns nil for a nil error.
func AsHarvestError(err error) *HarvestError {
	if err == nil {
		return nil
	}
	var he *HarvestError
	if errors.As(err, &he) {
		return he
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewHarvestError(ErrCodeTimeout, "deadline exceeded", err)
	case errors.Is(err, context.Canceled):
		return NewHarvestError(ErrCodeTimeout, "run canceled", err)
	}
	return NewHarvestError(ErrCodeInternal, err.Error(), err)
}
