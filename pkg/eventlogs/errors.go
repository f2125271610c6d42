// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package eventlogs

import (
	"errors"
	"fmt"
)

// Common errors returned by the library.
var (
	// ErrInvalidPath is returned when an input path is missing or has the wrong type.
	ErrInvalidPath = errors.New("invalid path")

	// ErrNoResults is returned when a response body has no results array.
	ErrNoResults = errors.New("response has no results")

	// ErrNoMatchingRecord is returned when no record matches the hash of an input file.
	ErrNoMatchingRecord = errors.New("there was no matching record in the database")

	// ErrUnauthorized is returned when the backend rejects the credentials.
	ErrUnauthorized = errors.New("unauthorized: check the application id and REST API key")

	// ErrNotFound is returned when the class or endpoint does not exist.
	ErrNotFound = errors.New("not found")

	// ErrRateLimited is returned when the request limit is exceeded.
	ErrRateLimited = errors.New("rate limited: too many requests")
)

// InvalidPathError describes a rejected input path.
type InvalidPathError struct {
	Path   string
	Reason string
}

func (e *InvalidPathError) Error() string {
	return fmt.Sprintf("the path %s %s", e.Path, e.Reason)
}

func (e *InvalidPathError) Unwrap() error {
	return ErrInvalidPath
}

// DownloadError wraps a failure while materializing a record.
type DownloadError struct {
	Record int // 1-based position in the record list
	Path   string
	Err    error
}

func (e *DownloadError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("record %d: %v", e.Record, e.Err)
	}
	return fmt.Sprintf("record %d: %s: %v", e.Record, e.Path, e.Err)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// VerificationError is returned when a downloaded model does not hash to
// the record's ending hash.
type VerificationError struct {
	Path     string
	Expected string
	Actual   string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("verification failed for %s: sha1 mismatch (expected %s, got %s)",
		e.Path, e.Expected, e.Actual)
}

// APIError represents a non-2xx answer from the backend or a file host.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
	URL        string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("API error %d (%s): %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Status)
}

// IsRetryable returns true if the error might succeed on retry.
func (e *APIError) IsRetryable() bool {
	switch e.StatusCode {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// Is implements errors.Is for common error comparisons.
func (e *APIError) Is(target error) bool {
	switch e.StatusCode {
	case 401, 403:
		return target == ErrUnauthorized
	case 404:
		return target == ErrNotFound
	case 429:
		return target == ErrRateLimited
	default:
		return false
	}
}
