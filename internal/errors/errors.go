// Package errors provides structured error handling for portsweep operations.
// It defines error codes and the two error families the scanner surfaces:
// configuration errors, which are fatal before any network activity, and
// scan errors, which are scoped to a single host or to writing the report.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents different types of errors that can occur.
type ErrorCode string

const (
	// General errors.
	CodeUnknown       ErrorCode = "UNKNOWN"
	CodeValidation    ErrorCode = "VALIDATION"
	CodeConfiguration ErrorCode = "CONFIGURATION"
	CodeCanceled      ErrorCode = "CANCELED"

	// Target and scanning errors.
	CodeScanFailed       ErrorCode = "SCAN_FAILED"
	CodeTargetInvalid    ErrorCode = "TARGET_INVALID"
	CodeInterfaceInvalid ErrorCode = "INTERFACE_INVALID"
	CodePortRangeInvalid ErrorCode = "PORT_RANGE_INVALID"

	// File system errors.
	CodeFilePermission  ErrorCode = "FILE_PERMISSION"
	CodeDirectoryCreate ErrorCode = "DIRECTORY_CREATE"
	CodeOutputWrite     ErrorCode = "OUTPUT_WRITE"
)

// ScanError represents an error that occurred during scanning operations.
type ScanError struct {
	Code      ErrorCode
	Message   string
	Target    string
	Operation string
	Cause     error
}

// Error implements the error interface.
func (e *ScanError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Target != "" {
		msg = fmt.Sprintf("%s (target: %s)", msg, e.Target)
	}
	if e.Operation != "" {
		msg = fmt.Sprintf("%s (operation: %s)", msg, e.Operation)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ScanError) Unwrap() error {
	return e.Cause
}

// WithOperation records the operation that failed.
func (e *ScanError) WithOperation(op string) *ScanError {
	e.Operation = op
	return e
}

// WrapScanError wraps an existing error as a scan error.
func WrapScanError(code ErrorCode, message string, err error) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// WrapScanErrorWithTarget wraps an error with target information.
func WrapScanErrorWithTarget(code ErrorCode, message, target string, err error) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Target:  target,
		Cause:   err,
	}
}

// ConfigError represents configuration-related errors. Every ConfigError is
// raised before the scanner opens a socket.
type ConfigError struct {
	Code    ErrorCode
	Message string
	Field   string
	Value   interface{}
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Field != "" {
		msg = fmt.Sprintf("%s (field: %s)", msg, e.Field)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigFieldError creates a configuration error for a specific field.
func NewConfigFieldError(code ErrorCode, message, field string, value interface{}) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Field:   field,
		Value:   value,
	}
}

// WrapConfigError wraps an existing error as a configuration error.
func WrapConfigError(code ErrorCode, message string, err error) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Utility functions for common error operations

// IsCode checks if an error, or any error it wraps, has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}

// GetCode extracts the error code from an error chain if it has one.
func GetCode(err error) ErrorCode {
	var scanErr *ScanError
	if stderrors.As(err, &scanErr) {
		return scanErr.Code
	}
	var cfgErr *ConfigError
	if stderrors.As(err, &cfgErr) {
		return cfgErr.Code
	}
	return CodeUnknown
}

// IsConfigError reports whether err is a configuration error anywhere in its chain.
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return stderrors.As(err, &cfgErr)
}

// IsFatal reports whether err stopped the run before any host was scanned.
// Configuration errors anywhere in the chain are fatal.
func IsFatal(err error) bool {
	if IsConfigError(err) {
		return true
	}
	return GetCode(err) == CodeConfiguration
}

// Common error creation functions

// ErrInvalidTarget creates an error for an unparseable target range.
func ErrInvalidTarget(target string, err error) *ConfigError {
	e := WrapConfigError(CodeTargetInvalid, "Invalid target specification", err)
	e.Field = "ip-range"
	e.Value = target
	return e
}

// ErrInvalidInterface creates an error for an interface that cannot seed a scan range.
func ErrInvalidInterface(name string, err error) *ConfigError {
	e := WrapConfigError(CodeInterfaceInvalid, "Interface has no usable IPv4 address", err)
	e.Field = "interface"
	e.Value = name
	return e
}

// ErrInvalidPortRange creates an error for a malformed port range string.
func ErrInvalidPortRange(spec string, err error) *ConfigError {
	e := WrapConfigError(CodePortRangeInvalid, "Invalid port range", err)
	e.Field = "port-range"
	e.Value = spec
	return e
}

// ErrHostScanFailed creates an error for a host whose scan did not complete.
func ErrHostScanFailed(target string, err error) *ScanError {
	return WrapScanErrorWithTarget(CodeScanFailed, "Host scan failed", target, err)
}

// ErrConfigMissing creates an error for missing required configuration.
func ErrConfigMissing(field string) *ConfigError {
	return NewConfigFieldError(CodeConfiguration, "Required configuration field missing", field, nil)
}
