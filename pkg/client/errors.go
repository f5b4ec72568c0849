package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"google.golang.org/api/googleapi"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")
)

// ErrorClass represents a classification of Gmail API failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors (bad label, unknown message).
	ErrorClassClient ErrorClass = "client"

	// ErrorClassAuth represents 401 responses: the access token was rejected.
	ErrorClassAuth ErrorClass = "auth"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 and quota 403 responses.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

// Reasons Gmail reports on 403 responses caused by quota.
var rateLimitReasons = map[string]bool{
	"rateLimitExceeded":     true,
	"userRateLimitExceeded": true,
}

// APIError represents a Gmail API error with additional context.
type APIError struct {
	StatusCode int
	ErrorClass ErrorClass
	Message    string

	// Reason is the first reason reported by the API, if any.
	Reason string

	// RetryAfter is the server's requested backoff, if any.
	RetryAfter time.Duration

	Err error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Err != nil && e.StatusCode == 0 {
		return fmt.Sprintf("gmail %s error: %s: %v", e.ErrorClass, e.Message, e.Err)
	}
	return fmt.Sprintf("gmail %s error (status %d): %s", e.ErrorClass, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyError converts a transport error into an *APIError.
func classifyError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var gErr *googleapi.Error
	if !errors.As(err, &gErr) {
		msg := "request failed"
		if errors.Is(err, context.DeadlineExceeded) {
			msg = "request timed out"
		}
		return &APIError{ErrorClass: ErrorClassNetwork, Message: msg, Err: err}
	}

	out := &APIError{
		StatusCode: gErr.Code,
		Message:    gErr.Message,
		Err:        err,
	}
	if len(gErr.Errors) > 0 {
		out.Reason = gErr.Errors[0].Reason
	}
	if out.Message == "" {
		out.Message = http.StatusText(gErr.Code)
	}
	out.RetryAfter = parseRetryAfter(gErr.Header)

	switch {
	case gErr.Code == http.StatusTooManyRequests:
		out.ErrorClass = ErrorClassRateLimit
	case gErr.Code == http.StatusForbidden && rateLimitReasons[out.Reason]:
		out.ErrorClass = ErrorClassRateLimit
	case gErr.Code == http.StatusUnauthorized:
		out.ErrorClass = ErrorClassAuth
	case gErr.Code >= 400 && gErr.Code < 500:
		out.ErrorClass = ErrorClassClient
	case gErr.Code >= 500:
		out.ErrorClass = ErrorClassServer
	default:
		out.ErrorClass = ErrorClassNetwork
	}
	return out
}

func parseRetryAfter(h http.Header) time.Duration {
	if h == nil {
		return 0
	}
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassClient, ErrorClassAuth:
		// Retrying a rejected request or token cannot succeed.
		return false
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork:
		return true
	default:
		return false
	}
}
