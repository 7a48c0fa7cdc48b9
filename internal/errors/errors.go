package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents stable error codes for all failure modes
type ErrorCode string

const (
	// InvalidArgument indicates invalid or conflicting inputs (empty roots, bad batch size)
	InvalidArgument ErrorCode = "INVALID_ARGUMENT"
	// TimeParse indicates a malformed timestamp
	TimeParse ErrorCode = "TIME_PARSE"
	// WindowRange indicates a window that does not fit in one calendar day
	WindowRange ErrorCode = "WINDOW_RANGE"
	// ToolNotFound indicates a required external tool is missing
	ToolNotFound ErrorCode = "TOOL_NOT_FOUND"
	// OSError indicates a filesystem or temporary-space failure
	OSError ErrorCode = "OS_ERROR"
	// ToolFailed indicates an external tool exited non-zero
	ToolFailed ErrorCode = "TOOL_FAILED"
	// Cancelled indicates the run observed cooperative cancellation
	Cancelled ErrorCode = "CANCELLED"
	// CacheUnavailable indicates the metadata cache could not be used
	CacheUnavailable ErrorCode = "CACHE_UNAVAILABLE"
	// InternalError indicates unexpected error
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// FixActionType represents the type of fix action
type FixActionType string

const (
	// RunCommand suggests running a command
	RunCommand FixActionType = "run-command"
	// InstallTool suggests installing a tool
	InstallTool FixActionType = "install-tool"
	// ChangeFlag suggests re-running with a different flag value
	ChangeFlag FixActionType = "change-flag"
)

// FixAction represents a suggested fix for an error
type FixAction struct {
	Type        FixActionType `json:"type"`
	Command     string        `json:"command,omitempty"`
	Description string        `json:"description,omitempty"`
	Tool        string        `json:"tool,omitempty"`
}

// PullError is an error with a stable code, a message and optional remediation hints.
type PullError struct {
	Code           ErrorCode   `json:"code"`
	Message        string      `json:"message"`
	SuggestedFixes []FixAction `json:"suggestedFixes,omitempty"`
	cause          error       // Underlying error (not exported to JSON)
}

// New creates a new PullError
func New(code ErrorCode, message string, cause error, fixes ...FixAction) *PullError {
	return &PullError{
		Code:           code,
		Message:        message,
		SuggestedFixes: fixes,
		cause:          cause,
	}
}

// Newf creates a PullError without a cause from a format string.
func Newf(code ErrorCode, format string, args ...interface{}) *PullError {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// Error implements the error interface
func (e *PullError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *PullError) Unwrap() error {
	return e.cause
}

// Hint returns the first suggested fix description, or "".
func (e *PullError) Hint() string {
	for _, fix := range e.SuggestedFixes {
		if fix.Description != "" {
			return fix.Description
		}
	}
	return ""
}

// CodeOf returns the code of the first PullError in err's chain.
// Errors that carry no code report InternalError; nil reports "".
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var pe *PullError
	if stderrors.As(err, &pe) {
		return pe.Code
	}
	return InternalError
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// Argument builds an InvalidArgument error.
func Argument(format string, args ...interface{}) *PullError {
	return Newf(InvalidArgument, format, args...)
}

// MissingTool builds a ToolNotFound error with install guidance.
func MissingTool(name string) *PullError {
	return New(ToolNotFound, fmt.Sprintf("'%s' not found in PATH", name), nil, GetSuggestedFixes(ToolNotFound)...)
}

// ToolExit builds a ToolFailed error for a tool that exited non-zero.
func ToolExit(tool string, exitCode int, stderr string, cause error) *PullError {
	msg := fmt.Sprintf("%s exited with status %d", tool, exitCode)
	if stderr != "" {
		msg += ": " + stderr
	}
	return New(ToolFailed, msg, cause)
}

// Filesystem builds an OSError. When tempConfigured is false the error
// suggests choosing an alternate temporary location.
func Filesystem(message string, cause error, tempConfigured bool) *PullError {
	if tempConfigured {
		return New(OSError, message, cause)
	}
	return New(OSError, message, cause, GetSuggestedFixes(OSError)...)
}

// Canceled wraps a context error as a Cancelled PullError.
func Canceled(stage string, cause error) *PullError {
	return New(Cancelled, "cancelled during "+stage, cause)
}

// ErrorActions maps error codes to suggested fix actions
var ErrorActions = map[ErrorCode][]FixAction{
	ToolNotFound: {
		{
			Type:        InstallTool,
			Tool:        "wireshark-cli",
			Description: "Install the Wireshark command-line tools (mergecap, editcap, capinfos, tshark)",
		},
		{
			Type:        RunCommand,
			Command:     "pcappuller tools",
			Description: "Show which tools were found",
		},
	},
	OSError: {
		{
			Type:        ChangeFlag,
			Command:     "--tmpdir /path/on/big/volume",
			Description: "Provide a larger temp location with --tmpdir /path/on/big/volume",
		},
	},
	CacheUnavailable: {
		{
			Type:        RunCommand,
			Command:     "pcappuller cache clear",
			Description: "Reset the metadata cache",
		},
	},
}

// GetSuggestedFixes returns suggested fixes for an error code
func GetSuggestedFixes(code ErrorCode) []FixAction {
	if fixes, ok := ErrorActions[code]; ok {
		return fixes
	}
	return nil
}
