// Package errors provides standardized error codes for the gantry shell.
//
// Error codes follow the format {domain}.{error} where:
//   - domain: The subsystem that generated the error (launch, startup, bridge, ...)
//   - error: The specific error type within that domain
//
// These codes are stable and can be used by UI clients for programmatic
// error handling. Human-readable messages are provided alongside codes.
package errors

import (
	"errors"
	"fmt"
)

// Error codes by domain.
// These are stable identifiers that clients can rely on for error handling.
const (
	// Launch domain - preparing and spawning the backend process
	CodeLaunchPreflight = "launch.preflight"  // Required script or executable missing
	CodeLaunchSpawn     = "launch.spawn"      // OS refused to create the process
	CodeLaunchResolve   = "launch.resolve"    // Could not resolve the working directory
	CodeLaunchShutdown  = "launch.shut_down"  // Start requested while shutting down
	CodeLaunchPattern   = "launch.pattern"    // Port pattern failed to compile

	// Startup domain - the window between spawn and port discovery
	CodeStartupTimeout = "startup.timeout" // No port announced within the window
	CodeStartupExited  = "startup.exited"  // Backend exited before announcing a port

	// Bridge domain - the host/UI message channel
	CodeBridgeChannelDenied = "bridge.channel_denied" // Channel not on the allow-list
	CodeBridgeInvalidMsg    = "bridge.invalid_message" // Malformed or invalid message
	CodeBridgeRateLimited   = "bridge.rate_limited"    // Too many invokes per second
	CodeBridgeSendFailed    = "bridge.send_failed"     // Failed to send message

	// Config domain - shell configuration file errors
	CodeConfigNotFound = "config.not_found" // Explicit config path does not exist
	CodeConfigParse    = "config.parse"     // Config file could not be parsed

	// Storage domain - run history persistence errors
	CodeStorageOpenFailed  = "storage.open_failed"  // Database open failed
	CodeStorageQueryFailed = "storage.query_failed" // Database query failed
	CodeStorageNotFound    = "storage.not_found"    // Run record not found

	// General domain - catch-all errors
	CodeUnknown  = "error.unknown"  // Unknown error
	CodeInternal = "error.internal" // Internal shell error
)

// CodedError wraps an error with a stable error code.
// This allows errors to carry both a code for programmatic handling
// and a message for human consumption.
type CodedError struct {
	Code    string // Stable error code (e.g., "startup.timeout")
	Message string // Human-readable error message
	Cause   error  // Underlying error (may be nil)
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CodedError) Unwrap() error {
	return e.Cause
}

// New creates a new CodedError with the given code and message.
func New(code, message string) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new CodedError wrapping an existing error.
func Wrap(code, message string, cause error) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// GetCode extracts the error code from an error.
// If the error is a CodedError, returns its code.
// Falls back to CodeUnknown for unrecognized errors.
func GetCode(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}

	return CodeUnknown
}

// GetMessage extracts a human-readable message from an error.
// If the error is a CodedError, returns its message.
// Otherwise, returns the error's Error() string.
func GetMessage(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Message
	}

	return err.Error()
}

// ToCodeAndMessage extracts both code and message from an error.
// This is the primary function for converting errors to client responses.
func ToCodeAndMessage(err error) (code, message string) {
	if err == nil {
		return "", ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code, coded.Message
	}

	return CodeUnknown, err.Error()
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code string) bool {
	return GetCode(err) == code
}

// Common error constructors for frequently used error types.

// LaunchPreflight creates a "launch.preflight" error.
// The backend was not spawned because a required file is missing.
func LaunchPreflight(path string) *CodedError {
	return New(CodeLaunchPreflight, fmt.Sprintf("required file not found: %s", path))
}

// LaunchSpawn creates a "launch.spawn" error.
func LaunchSpawn(command string, cause error) *CodedError {
	return Wrap(CodeLaunchSpawn, fmt.Sprintf("failed to spawn %s", command), cause)
}

// StartupTimeout creates a "startup.timeout" error.
// The backend never announced its port within the startup window.
func StartupTimeout(timeoutMs int64) *CodedError {
	return New(CodeStartupTimeout, fmt.Sprintf("backend did not announce a port within %dms", timeoutMs))
}

// StartupExited creates a "startup.exited" error.
// The backend exited before a port could be discovered.
func StartupExited(exitCode int) *CodedError {
	return New(CodeStartupExited, fmt.Sprintf("backend exited with code %d before announcing a port", exitCode))
}

// ChannelDenied creates a "bridge.channel_denied" error.
// The channel is not on the allow-list and the request never reached a handler.
func ChannelDenied(channel string) *CodedError {
	return New(CodeBridgeChannelDenied, fmt.Sprintf("channel %q is not allowed", channel))
}

// InvalidMessage creates a "bridge.invalid_message" error.
func InvalidMessage(reason string) *CodedError {
	return New(CodeBridgeInvalidMsg, reason)
}

// RateLimited creates a "bridge.rate_limited" error.
func RateLimited() *CodedError {
	return New(CodeBridgeRateLimited, "too many requests")
}

// ShuttingDown creates a "launch.shut_down" error.
// Start was requested after the shell began quitting.
func ShuttingDown() *CodedError {
	return New(CodeLaunchShutdown, "shell is shutting down")
}

// Internal creates an "error.internal" error.
func Internal(message string, cause error) *CodedError {
	return Wrap(CodeInternal, message, cause)
}
