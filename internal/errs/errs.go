// Package errs defines the error taxonomy shared by every CRUD operation:
// database-mapped errors, validation errors and access-filter blocks.
package errs

import "fmt"

// DocumentNotFoundError is returned when a get/update/delete targets a
// document that does not exist.
type DocumentNotFoundError struct {
	Type string
	ID   string
}

func (e *DocumentNotFoundError) Error() string {
	return fmt.Sprintf("document not found: %s/%s", e.Type, e.ID)
}

// DuplicatePrimaryKeyError is returned when an insert collides on id.
type DuplicatePrimaryKeyError struct {
	PrimaryKey string
}

func (e *DuplicatePrimaryKeyError) Error() string {
	return fmt.Sprintf("duplicate primary key `%s`", e.PrimaryKey)
}

// DatabaseError wraps any database failure not matched by a more specific
// error kind.
type DatabaseError struct {
	Err error
}

func (e *DatabaseError) Error() string {
	return fmt.Sprintf("database error: %v", e.Err)
}

func (e *DatabaseError) Unwrap() error { return e.Err }

// InvalidArgumentsError is returned by the query transformer/bootstrap layer
// when caller-supplied arguments fail a basic shape check.
type InvalidArgumentsError struct {
	Message string
}

func (e *InvalidArgumentsError) Error() string { return e.Message }

// CRUDInvalidModelType is returned when a query names a model not present
// in the schema.
type CRUDInvalidModelType struct {
	Type string
}

func (e *CRUDInvalidModelType) Error() string {
	return fmt.Sprintf("invalid model type: %s", e.Type)
}

// CRUDInvalidParams is returned for malformed queries (missing id, bad
// offset/pageSize, unknown view, etc).
type CRUDInvalidParams struct {
	Message string
}

func (e *CRUDInvalidParams) Error() string { return e.Message }

// CRUDInvalidOperation is returned when the action field names an operation
// this engine does not support in the given context.
type CRUDInvalidOperation struct {
	Action string
}

func (e *CRUDInvalidOperation) Error() string {
	return fmt.Sprintf("invalid CRUD operation: %s", e.Action)
}

// FieldError is one entry of a CRUDValidationError.
type FieldError struct {
	Model   string
	Field   string
	Message string
}

// CRUDValidationError carries every field-level failure accumulated while
// validating a record against a model's field constraints.
type CRUDValidationError struct {
	Model       string
	Field       string
	FieldErrors []FieldError
}

func (e *CRUDValidationError) Error() string {
	if len(e.FieldErrors) == 1 {
		fe := e.FieldErrors[0]
		return fmt.Sprintf("validation failed for %s.%s: %s", fe.Model, fe.Field, fe.Message)
	}
	return fmt.Sprintf("validation failed for %s: %d field error(s)", e.Model, len(e.FieldErrors))
}

// BlockKind distinguishes a pre-access block from a post-access block.
type BlockKind string

const (
	BlockPre  BlockKind = "pre"
	BlockPost BlockKind = "post"
)

// CRUDBlockedError is raised when an access-filter hook rejects an
// invocation or subscription.
type CRUDBlockedError struct {
	Kind   BlockKind
	Reason error
}

func (e *CRUDBlockedError) Error() string {
	if e.Reason != nil {
		return fmt.Sprintf("blocked by %s access filter: %v", e.Kind, e.Reason)
	}
	return fmt.Sprintf("blocked by %s access filter", e.Kind)
}

func (e *CRUDBlockedError) Unwrap() error { return e.Reason }

// CRUDPublishNotAllowedError is raised when a client attempts to publish
// directly onto a CRUD-shaped channel.
type CRUDPublishNotAllowedError struct {
	Channel string
}

func (e *CRUDPublishNotAllowedError) Error() string {
	return fmt.Sprintf("publish not allowed on CRUD channel: %s", e.Channel)
}

// FailedToSubscribeToResourceChannel is raised to every buffered reader when
// the resource-channel subscription underlying a cache load fails.
type FailedToSubscribeToResourceChannel struct {
	Channel string
	Err     error
}

func (e *FailedToSubscribeToResourceChannel) Error() string {
	return fmt.Sprintf("failed to subscribe to resource channel %s: %v", e.Channel, e.Err)
}

func (e *FailedToSubscribeToResourceChannel) Unwrap() error { return e.Err }
