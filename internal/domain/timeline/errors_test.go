package timeline

import (
	"errors"
	"fmt"
	"testing"

	v "github.com/go-ozzo/ozzo-validation/v4"
)

func TestValidationError_Error(t *testing.T) {
	ve := &ValidationError{}
	ve.add("b", "second")
	ve.add("a", "first")
	want := "validation failed: a: first; b: second"
	if ve.Error() != want {
		t.Errorf("expected %q, got %q", want, ve.Error())
	}
}

func TestValidationError_MergeNested(t *testing.T) {
	ve := &ValidationError{}
	ve.merge("nodes[0].", v.Errors{
		"vitals": v.Errors{"spo2": errors.New("must be no greater than 100")},
		"id":     errors.New("must be no less than 0"),
	})
	if ve.Fields["nodes[0].vitals.spo2"] != "must be no greater than 100" {
		t.Errorf("unexpected fields %v", ve.Fields)
	}
	if ve.Fields["nodes[0].id"] != "must be no less than 0" {
		t.Errorf("unexpected fields %v", ve.Fields)
	}
}

func TestValidationError_MergePlainError(t *testing.T) {
	ve := &ValidationError{}
	ve.merge("value.", errors.New("bad"))
	if ve.Fields["value"] != "bad" {
		t.Errorf("unexpected fields %v", ve.Fields)
	}
	ve.merge("other.", nil)
	if len(ve.Fields) != 1 {
		t.Errorf("expected nil merge to be ignored, got %v", ve.Fields)
	}
}

func TestStorageErr(t *testing.T) {
	cause := errors.New("connection reset")
	err := storageErr("insert node", cause)
	if !IsStorage(err) {
		t.Fatalf("expected StorageError, got %T", err)
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause to be reachable through Unwrap")
	}
	if storageErr("outer", err) != err {
		t.Error("expected typed errors to pass through unchanged")
	}

	ve := newValidationError("name", "cannot be blank")
	if storageErr("op", ve) != error(ve) {
		t.Error("expected validation errors to pass through unchanged")
	}
	if !errors.Is(storageErr("op", fmt.Errorf("get: %w", ErrNotFound)), ErrNotFound) {
		t.Error("expected not found to pass through")
	}
	if storageErr("op", nil) != nil {
		t.Error("expected nil for nil error")
	}
	if !IsValidation(ve) || IsValidation(cause) {
		t.Error("IsValidation misclassified")
	}
}
