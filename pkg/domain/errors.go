package domain

import (
	"errors"
	"fmt"
)

// ValidationError reports a record that fails a field-level requirement
// before it reaches storage, such as an empty product name.
type ValidationError struct {
	Entity EntityType
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Entity, e.Field, e.Reason)
}

// DuplicateError reports a uniqueness collision: a store name that already
// exists, or a product code that already exists in the same resolved store
// with no batches to merge.
type DuplicateError struct {
	Entity EntityType
	Key    string
}

func (e DuplicateError) Error() string {
	return fmt.Sprintf("%s %q already exists", e.Entity, e.Key)
}

// NotFoundError reports a lookup by id or code that yielded nothing.
type NotFoundError struct {
	Entity EntityType
	Key    string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.Key)
}

// StorageError wraps an underlying persistence or file IO failure.
type StorageError struct {
	Op  string
	Err error
}

func (e StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e StorageError) Unwrap() error { return e.Err }

// ImportIntegrityError reports a malformed backup artifact or a mid-import
// failure. When it is returned, no partial import remains in the destination.
type ImportIntegrityError struct {
	Reason string
	Err    error
}

func (e ImportIntegrityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("import integrity: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("import integrity: %s", e.Reason)
}

func (e ImportIntegrityError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is, or wraps, a NotFoundError.
func IsNotFound(err error) bool {
	var nf NotFoundError
	return errors.As(err, &nf)
}

// IsDuplicate reports whether err is, or wraps, a DuplicateError.
func IsDuplicate(err error) bool {
	var d DuplicateError
	return errors.As(err, &d)
}

// IsValidation reports whether err is, or wraps, a ValidationError.
func IsValidation(err error) bool {
	var v ValidationError
	return errors.As(err, &v)
}
