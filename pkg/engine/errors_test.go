package engine

import (
	"errors"
	"fmt"
	"testing"
)

func TestStageErrorClassification(t *testing.T) {
	cause := errors.New("exit status 1")
	fatal := NewFatalError(ErrCodePackageRestoreFailed, "npm install failed", cause).WithStage("restore-frontend")
	wrapped := fmt.Errorf("provision: %w", fatal)

	if !IsFatal(wrapped) {
		t.Error("Expected wrapped fatal error to be fatal")
	}
	if IsRecoverable(wrapped) {
		t.Error("Expected wrapped fatal error not to be recoverable")
	}
	if CodeOf(wrapped) != ErrCodePackageRestoreFailed {
		t.Errorf("Unexpected code %q", CodeOf(wrapped))
	}
	if !errors.Is(wrapped, cause) {
		t.Error("Expected cause to be reachable through Unwrap")
	}
	if !errors.Is(wrapped, &StageError{Class: ErrorClassFatal, Code: ErrCodePackageRestoreFailed}) {
		t.Error("Expected errors.Is to match on class and code")
	}
	if errors.Is(wrapped, &StageError{Class: ErrorClassRecoverable, Code: ErrCodePackageRestoreFailed}) {
		t.Error("Expected errors.Is not to match a different class")
	}

	want := "[fatal] PACKAGE_RESTORE_FAILED (stage=restore-frontend): npm install failed: exit status 1"
	if fatal.Error() != want {
		t.Errorf("Error() = %q, want %q", fatal.Error(), want)
	}
	if fatal.Diagnostic() != "npm install failed: exit status 1" {
		t.Errorf("Unexpected diagnostic %q", fatal.Diagnostic())
	}
}

func TestStageErrorDetails(t *testing.T) {
	err := NewRecoverableError(ErrCodeBootstrapFailed, "get-pip failed", nil).
		WithDetail("exit_code", 2)

	if err.Details["exit_code"] != 2 {
		t.Errorf("Expected detail to be stored, got %v", err.Details)
	}
	if CodeOf(errors.New("plain")) != "" {
		t.Error("Expected empty code for a plain error")
	}
}
