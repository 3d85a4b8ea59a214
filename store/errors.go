// Package store provides the storage backend boundary for the datawriter.
//
// This file defines sentinel errors and the classifying wrapper for storage
// failures. The write-retry engine keys off the retryable/fatal split via
// IsRetryable; callers use errors.Is/errors.As rather than string matching.
package store

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for storage failure classification.
// Use errors.Is(err, ErrXxx) for typed assertions.
var (
	// ErrPermissionDenied indicates a permission/access failure (EACCES, 403).
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotFound indicates the target path/resource does not exist (ENOENT, 404).
	ErrNotFound = errors.New("not found")

	// ErrDiskFull indicates storage is out of space (ENOSPC).
	ErrDiskFull = errors.New("no space left on device")

	// ErrTimeout indicates an operation timed out.
	ErrTimeout = errors.New("operation timed out")

	// ErrThrottled indicates rate limiting (429, SlowDown).
	ErrThrottled = errors.New("rate limited")

	// ErrAuth indicates authentication failure (no credentials, expired token).
	ErrAuth = errors.New("authentication failed")

	// ErrAccessDenied indicates authorization failure (valid creds but no permission).
	ErrAccessDenied = errors.New("access denied")

	// ErrNetwork indicates a network-level failure (connection refused, DNS).
	ErrNetwork = errors.New("network error")

	// ErrMalformed indicates a record the backend cannot represent.
	ErrMalformed = errors.New("malformed record")

	// ErrUnavailable indicates the backend is not ready to accept writes.
	ErrUnavailable = errors.New("backend unavailable")
)

// StorageError wraps an underlying error with storage classification.
// It preserves the original error in the chain for inspection via errors.As.
type StorageError struct {
	// Kind is the sentinel error for classification (e.g., ErrTimeout).
	Kind error
	// Op is the operation that failed (e.g., "write", "prepare", "finish").
	Op string
	// Path is the storage path involved, if any.
	Path string
	// Err is the underlying error.
	Err error
}

func (e *StorageError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s %s: %v: %v", e.Op, e.Path, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As chain traversal.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target sentinel.
func (e *StorageError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// NewStorageError creates a classified storage error.
func NewStorageError(kind error, op, path string, err error) *StorageError {
	return &StorageError{
		Kind: kind,
		Op:   op,
		Path: path,
		Err:  err,
	}
}

// WrapWriteError classifies and wraps a write operation error.
// Returns nil if err is nil.
func WrapWriteError(err error, path string) error {
	if err == nil {
		return nil
	}
	return NewStorageError(classifyError(err), "write", path, err)
}

// WrapPrepareError classifies and wraps a run-preparation error.
// Returns nil if err is nil.
func WrapPrepareError(err error, path string) error {
	if err == nil {
		return nil
	}
	return NewStorageError(classifyError(err), "prepare", path, err)
}

// WrapFinishError classifies and wraps a run-finalize error.
// Returns nil if err is nil.
func WrapFinishError(err error, path string) error {
	if err == nil {
		return nil
	}
	return NewStorageError(classifyError(err), "finish", path, err)
}

// WrapInitError classifies and wraps a backend construction error.
// Returns nil if err is nil.
func WrapInitError(err error, backend string) error {
	if err == nil {
		return nil
	}
	return NewStorageError(classifyError(err), "init", backend, err)
}

// WrapReadError classifies and wraps a read-side query error.
// Returns nil if err is nil.
func WrapReadError(err error, path string) error {
	if err == nil {
		return nil
	}
	return NewStorageError(classifyError(err), "read", path, err)
}

// retryable sentinels: transient conditions the write engine may retry.
var retryable = []error{
	ErrTimeout,
	ErrThrottled,
	ErrNetwork,
	ErrDiskFull,
	ErrUnavailable,
}

// IsRetryable reports whether err represents a transient storage condition.
// Everything outside the explicit retryable set is treated as fatal for the
// record being written; unclassified errors do not warrant blind retry.
func IsRetryable(err error) bool {
	for _, sentinel := range retryable {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// classifyError determines the appropriate sentinel error for the given error.
// Classification is based on error type and message patterns.
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	// Already classified
	var storageErr *StorageError
	if errors.As(err, &storageErr) {
		return storageErr.Kind
	}
	for _, sentinel := range []error{
		ErrPermissionDenied, ErrNotFound, ErrDiskFull, ErrTimeout,
		ErrThrottled, ErrAuth, ErrAccessDenied, ErrNetwork,
		ErrMalformed, ErrUnavailable,
	} {
		if errors.Is(err, sentinel) {
			return sentinel
		}
	}

	// Check for typed errors first via errors.As
	var timeoutErr interface{ Timeout() bool }
	if errors.As(err, &timeoutErr) && timeoutErr.Timeout() {
		return ErrTimeout
	}

	errStr := err.Error()

	// Classify by error message patterns. Credential codes come before the
	// not-found case: AWS phrases them as "key does not exist".
	switch {
	// Auth errors
	case containsAny(errStr, "NoCredentialProviders", "credentials", "InvalidAccessKeyId",
		"SignatureDoesNotMatch", "ExpiredToken", "401", "Unauthorized"):
		return ErrAuth

	// Permission/access errors
	case containsAny(errStr, "permission denied", "EACCES", "access denied"):
		if containsAny(errStr, "AccessDenied", "Forbidden", "403") {
			return ErrAccessDenied
		}
		return ErrPermissionDenied

	// Access denied (AWS-specific)
	case containsAny(errStr, "AccessDenied", "Forbidden", "403"):
		return ErrAccessDenied

	// Not found errors
	case containsAny(errStr, "no such file", "does not exist", "not found", "ENOENT", "404", "NoSuchKey"):
		return ErrNotFound

	// Disk full errors
	case containsAny(errStr, "no space left", "disk full", "ENOSPC", "quota exceeded"):
		return ErrDiskFull

	// Timeout errors
	case containsAny(errStr, "timeout", "timed out", "deadline exceeded"):
		return ErrTimeout

	// Throttling errors
	case containsAny(errStr, "SlowDown", "rate exceeded", "throttl", "429", "TooManyRequests"):
		return ErrThrottled

	// Network errors
	case containsAny(errStr, "connection refused", "no route to host", "network unreachable",
		"DNS", "dial tcp", "i/o timeout"):
		return ErrNetwork

	default:
		return errors.New("storage error")
	}
}

// containsAny checks if s contains any of the substrings (case-insensitive).
func containsAny(s string, substrs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(lower, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}
