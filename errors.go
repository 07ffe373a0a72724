// errors.go: Error taxonomy for the strata time-series storage engine
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package strata

import (
	"fmt"
	"runtime"
	"time"

	"github.com/agilira/go-errors"
)

// Error codes for the strata engine, grouped by the taxonomy in the engine's
// error handling design: buffer overflow, invalid timestamp, compression,
// index, persistence, query, serialization/mmap, configuration.
const (
	// Ring buffer errors. BufferOverflow is reserved: capacity eviction is
	// the normal path and never produces an error; this code only surfaces
	// if internal accounting disagrees with the buffer's own invariants.
	ErrCodeBufferOverflow errors.ErrorCode = "STRATA_BUFFER_OVERFLOW"

	// InvalidTimestamp marks an out-of-range timestamp conversion on a
	// display/formatting path (not on the hot write path).
	ErrCodeInvalidTimestamp errors.ErrorCode = "STRATA_INVALID_TIMESTAMP"

	// CompressionError marks a codec failure while compressing or
	// decompressing a block.
	ErrCodeCompression errors.ErrorCode = "STRATA_COMPRESSION"

	// SerializationError marks malformed bytes encountered during decode.
	ErrCodeSerialization errors.ErrorCode = "STRATA_SERIALIZATION"

	// Index marks a malformed predicate combination reaching the indexes.
	ErrCodeIndex errors.ErrorCode = "STRATA_INDEX"

	// Persistence marks I/O, mmap, header validation, or checksum failures.
	ErrCodePersistence errors.ErrorCode = "STRATA_PERSISTENCE"

	// MemoryMap marks an upstream OS mmap/munmap/msync failure.
	ErrCodeMemoryMap errors.ErrorCode = "STRATA_MMAP"

	// Query marks a missing dependency needed to serve a query (e.g. an
	// index that could not be locked).
	ErrCodeQuery errors.ErrorCode = "STRATA_QUERY"

	// Configuration marks bad config values or a recovered panic that
	// stands in for Go's lack of mutex lock-poisoning semantics.
	ErrCodeConfiguration errors.ErrorCode = "STRATA_CONFIGURATION"
)

// NewEngineError creates a new engine error with standard context attached:
// component, timestamp, and caller location. Mirrors the donor logging
// library's NewLoggerError, renamed to this engine's vocabulary.
func NewEngineError(code errors.ErrorCode, message string) *errors.Error {
	err := errors.New(code, message).
		WithSeverity("error").
		WithContext("component", "strata_engine").
		WithContext("timestamp", time.Now().UTC())

	if pc, file, line, ok := runtime.Caller(1); ok {
		if fn := runtime.FuncForPC(pc); fn != nil {
			_ = err.WithContext("caller_func", fn.Name())
		}
		_ = err.WithContext("caller_file", file)
		_ = err.WithContext("caller_line", line)
	}

	return err
}

// NewEngineErrorWithField creates an engine error carrying the offending
// field name and value, for configuration-class validation failures.
func NewEngineErrorWithField(code errors.ErrorCode, message, field, value string) *errors.Error {
	return errors.NewWithField(code, message, field, value).
		WithSeverity("error").
		WithContext("component", "strata_engine").
		WithContext("timestamp", time.Now().UTC())
}

// WrapEngineError wraps an existing error (typically from the OS or a
// compression library) with engine-specific context.
func WrapEngineError(originalErr error, code errors.ErrorCode, message string) *errors.Error {
	err := errors.Wrap(originalErr, code, message).
		WithSeverity("error").
		WithContext("component", "strata_engine").
		WithContext("timestamp", time.Now().UTC())

	if pc, file, line, ok := runtime.Caller(1); ok {
		if fn := runtime.FuncForPC(pc); fn != nil {
			_ = err.WithContext("caller_func", fn.Name())
		}
		_ = err.WithContext("caller_file", file)
		_ = err.WithContext("caller_line", line)
	}

	return err
}

// IsRetryableError reports whether err is a retryable engine error.
func IsRetryableError(err error) bool {
	if e, ok := err.(*errors.Error); ok {
		return e.IsRetryable()
	}
	return false
}

// GetErrorCode extracts the error code from err, or "" if err is not an
// engine error.
func GetErrorCode(err error) errors.ErrorCode {
	if e, ok := err.(*errors.Error); ok {
		return e.ErrorCode()
	}
	return ""
}

// GetUserMessage extracts a human-readable message from err.
func GetUserMessage(err error) string {
	if e, ok := err.(*errors.Error); ok {
		return e.UserMessage()
	}
	return err.Error()
}

// IsEngineError reports whether err is an engine error carrying code.
func IsEngineError(err error, code errors.ErrorCode) bool {
	return errors.HasCode(err, code)
}

// RecoverWithError recovers from a panic in the calling goroutine and
// converts it into a Configuration-class engine error. Go's sync.Mutex has
// no lock-poisoning concept; this is the engine's stand-in for "lock
// poisoning surfaces as Configuration" (see §7 of the engine's error
// handling design): any panic while holding an engine lock is recovered
// here rather than propagated, and reported the same way poisoning would be.
func RecoverWithError(code errors.ErrorCode) *errors.Error {
	if r := recover(); r != nil {
		err := NewEngineError(code, fmt.Sprintf("panic recovered: %v", r))
		_ = err.WithContext("panic_value", r)
		_ = err.WithContext("recovery_time", time.Now().UTC())

		buf := make([]byte, 4096)
		n := runtime.Stack(buf, false)
		_ = err.WithContext("panic_stack", string(buf[:n]))

		return err
	}
	return nil
}

// SafeExecute runs fn, converting any panic into a Configuration-class
// error tagged with operation instead of letting it crash the process.
func SafeExecute(fn func() error, operation string) (err error) {
	defer func() {
		// recover() only stops a panic when called directly by the deferred
		// function, so it is called here rather than through RecoverWithError.
		if r := recover(); r != nil {
			recovered := NewEngineError(ErrCodeConfiguration, fmt.Sprintf("panic recovered: %v", r))
			_ = recovered.WithContext("panic_value", r)
			_ = recovered.WithContext("operation", operation)
			err = recovered
		}
	}()

	return fn()
}
