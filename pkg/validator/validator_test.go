package validator

import (
	"testing"

	"github.com/go-playground/validator/v10"
)

type testPayload struct {
	Name       string `json:"name" validate:"required"`
	EntityType string `json:"entity_type" validate:"required,lowercase"`
	Depth      int    `json:"depth" validate:"gte=0"`
}

func TestValidateStructSuccess(t *testing.T) {
	payload := testPayload{
		Name:       "My Project",
		EntityType: "task",
		Depth:      2,
	}

	if err := ValidateStruct(payload); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidateStructFailures(t *testing.T) {
	payload := testPayload{
		Name:       "",
		EntityType: "Task",
		Depth:      -1,
	}

	err := ValidateStruct(payload)
	if err == nil {
		t.Fatal("expected validation error")
	}

	vErrs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}

	if len(vErrs) != 3 {
		t.Fatalf("expected 3 validation errors, got %d", len(vErrs))
	}

	foundEntityType := false
	for _, v := range vErrs {
		if v.Field == "entity_type" {
			foundEntityType = true
		}
	}

	if !foundEntityType {
		t.Fatal("expected entity_type field to be present in validation errors")
	}
}

func TestPrivilegeStateRule(t *testing.T) {
	type record struct {
		View string `json:"view" validate:"privilege_state"`
	}

	for _, state := range []string{"AL", "DE", "NE"} {
		if err := ValidateStruct(record{View: state}); err != nil {
			t.Fatalf("expected %q to validate, got %v", state, err)
		}
	}
	if err := ValidateStruct(record{View: "MAYBE"}); err == nil {
		t.Fatal("expected validation to fail for unknown state")
	}
}

func TestRegisterValidation(t *testing.T) {
	err := RegisterValidation("workbench", func(fl validator.FieldLevel) bool {
		return fl.Field().String() == "workbench"
	})
	if err != nil {
		t.Fatalf("register validation: %v", err)
	}

	type custom struct {
		Value string `validate:"workbench"`
	}

	if err := ValidateStruct(custom{Value: "workbench"}); err != nil {
		t.Fatalf("expected validation to pass, got %v", err)
	}
	if err := ValidateStruct(custom{Value: "other"}); err == nil {
		t.Fatal("expected validation to fail for non-matching value")
	}
}
