package timeline

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	v "github.com/go-ozzo/ozzo-validation/v4"
)

// ErrNotFound is returned by read accessors when the requested record does
// not exist. Mutators report a missing target as changed=false instead.
var ErrNotFound = errors.New("not found")

// ValidationError reports invariant violations detected before any write.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = map[string]string{}
	}
	e.Fields[field] = msg
}

func (e *ValidationError) empty() bool { return len(e.Fields) == 0 }

// merge flattens an ozzo validation.Errors (possibly nested) under prefix.
func (e *ValidationError) merge(prefix string, err error) {
	if err == nil {
		return
	}
	var errs v.Errors
	if !errors.As(err, &errs) {
		e.add(strings.TrimSuffix(prefix, "."), err.Error())
		return
	}
	for k, fe := range errs {
		if fe == nil {
			continue
		}
		var nested v.Errors
		if errors.As(fe, &nested) {
			e.merge(prefix+k+".", nested)
			continue
		}
		e.add(prefix+k, fe.Error())
	}
}

func newValidationError(field, msg string) *ValidationError {
	ve := &ValidationError{}
	ve.add(field, msg)
	return ve
}

// StorageError wraps a failure of the underlying store. The enclosing unit of
// work has been rolled back when it is returned.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *StorageError) Unwrap() error { return e.Err }

// storageErr wraps err unless it is already a typed domain error.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var ve *ValidationError
	var se *StorageError
	if errors.As(err, &ve) || errors.As(err, &se) || errors.Is(err, ErrNotFound) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsStorage reports whether err is a StorageError.
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
