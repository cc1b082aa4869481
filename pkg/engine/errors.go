package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents how a stage failure affects the rest of the run.
type ErrorClass string

const (
	// ErrorClassFatal stops the run. No later stage is attempted.
	ErrorClassFatal ErrorClass = "fatal"

	// ErrorClassRecoverable is recorded and the run continues with the next stage.
	ErrorClassRecoverable ErrorClass = "recoverable"
)

// StageError represents a classified stage failure with context.
type StageError struct {
	// Class is the error classification that drives the run.
	Class ErrorClass `json:"class"`

	// Code identifies the failure category for programmatic handling.
	Code string `json:"code"`

	// Message is the human-readable diagnostic.
	Message string `json:"message"`

	// Stage is the name of the stage that failed.
	Stage string `json:"stage,omitempty"`

	// Err is the underlying cause.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *StageError) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Stage != "" {
		return fmt.Sprintf("[%s] %s (stage=%s): %s", e.Class, e.Code, e.Stage, msg)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Class, e.Code, msg)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *StageError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a *StageError with the same class and code.
func (e *StageError) Is(target error) bool {
	t, ok := target.(*StageError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// Diagnostic returns the single line printed to the user before exiting.
func (e *StageError) Diagnostic() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// NewFatalError creates a failure that terminates the run.
func NewFatalError(code, message string, err error) *StageError {
	return &StageError{
		Class:   ErrorClassFatal,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewRecoverableError creates a failure that is logged while the run continues.
func NewRecoverableError(code, message string, err error) *StageError {
	return &StageError{
		Class:   ErrorClassRecoverable,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithStage adds the failing stage name.
func (e *StageError) WithStage(stage string) *StageError {
	e.Stage = stage
	return e
}

// WithDetail adds a detail field to the error context.
func (e *StageError) WithDetail(key string, value interface{}) *StageError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsFatal returns true if err carries a fatal classification.
func IsFatal(err error) bool {
	var e *StageError
	if errors.As(err, &e) {
		return e.Class == ErrorClassFatal
	}
	return false
}

// IsRecoverable returns true if err carries a recoverable classification.
func IsRecoverable(err error) bool {
	var e *StageError
	if errors.As(err, &e) {
		return e.Class == ErrorClassRecoverable
	}
	return false
}

// CodeOf returns the error code of the first StageError in the chain, or "".
func CodeOf(err error) string {
	var e *StageError
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Error codes, one per failure category.
const (
	ErrCodeResetFailed             = "RESET_FAILED"
	ErrCodeBootstrapFailed         = "BOOTSTRAP_FAILED"
	ErrCodeEnvCreateFailed         = "ENV_CREATE_FAILED"
	ErrCodeActivationScriptMissing = "ACTIVATION_SCRIPT_MISSING"
	ErrCodeActivationNotConfirmed  = "ACTIVATION_NOT_CONFIRMED"
	ErrCodeDependencyInstallFailed = "DEPENDENCY_INSTALL_FAILED"
	ErrCodeRuntimeInstallFailed    = "RUNTIME_INSTALL_FAILED"
	ErrCodePackageRestoreFailed    = "PACKAGE_RESTORE_FAILED"
	ErrCodeTargetDirMissing        = "TARGET_DIR_MISSING"
	ErrCodeCancelled               = "CANCELLED"
	ErrCodeInternal                = "INTERNAL_ERROR"
)
