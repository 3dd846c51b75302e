package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestErrorIncludesInternal(t *testing.T) {
	internal := stdErrors.New("boom")
	err := Wrap(internal, "failed")

	if err.Error() != "failed: boom" {
		t.Fatalf("unexpected error string: %s", err.Error())
	}
}

func TestWithInternalCopies(t *testing.T) {
	base := New("TEST", "test", 400)
	with := base.WithInternal(stdErrors.New("oops"))

	if with == base {
		t.Fatal("expected WithInternal to return a copy")
	}

	if base.Internal != nil {
		t.Fatal("expected original error to remain unchanged")
	}

	if with.Internal == nil {
		t.Fatal("expected internal error to be set")
	}
}

func TestWithMessageCopies(t *testing.T) {
	with := ErrValidation.WithMessage("project cannot be its own parent")

	if with == ErrValidation {
		t.Fatal("expected WithMessage to return a copy")
	}
	if with.Message != "project cannot be its own parent" {
		t.Fatalf("unexpected message: %s", with.Message)
	}
	if with.Code != ErrValidation.Code {
		t.Fatalf("expected code to be preserved, got %s", with.Code)
	}
}

func TestFromError(t *testing.T) {
	appErr := ErrNotFound
	if out := FromError(appErr); out != appErr {
		t.Fatal("expected FromError to return the same AppError instance")
	}

	raw := stdErrors.New("raw")
	out := FromError(raw)
	if out.Code != ErrInternalServer.Code {
		t.Fatalf("expected internal server code, got %s", out.Code)
	}
	if out.Internal == nil {
		t.Fatal("expected internal error to be attached")
	}
}

func TestNewBadRequest(t *testing.T) {
	err := NewBadRequest("invalid payload")
	if err.Code != ErrBadRequest.Code {
		t.Fatalf("expected %s, got %s", ErrBadRequest.Code, err.Code)
	}
	if err.Message != "invalid payload" {
		t.Fatalf("unexpected message: %s", err.Message)
	}
	if err.StatusCode != ErrBadRequest.StatusCode {
		t.Fatalf("unexpected status: %d", err.StatusCode)
	}
}

func TestIsValidation(t *testing.T) {
	if !IsValidation(NewValidation("cycle detected")) {
		t.Fatal("expected NewValidation errors to be recognised")
	}
	if !IsValidation(fmt.Errorf("wrapped: %w", NewValidation("guard"))) {
		t.Fatal("expected wrapped validation errors to be recognised")
	}
	if IsValidation(ErrForbidden) {
		t.Fatal("forbidden is not a validation error")
	}
	if IsValidation(stdErrors.New("plain")) {
		t.Fatal("plain errors are not validation errors")
	}
}
