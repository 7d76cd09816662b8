package tabula

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Standard sentinel errors for common operations.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("tabula: entity not found")

	// ErrPersistFailed is returned by the OrFail variants when a save or
	// delete reported failure without a more specific error.
	ErrPersistFailed = errors.New("tabula: entity could not be persisted")

	// ErrTxStarted is returned when attempting to start a new transaction
	// within an existing transaction.
	ErrTxStarted = errors.New("tabula: cannot start a transaction within a transaction")

	// ErrInvalidFinder is returned for malformed dynamic finder calls.
	ErrInvalidFinder = errors.New("tabula: invalid finder call")
)

// NotFoundError represents an error when an entity is not found.
type NotFoundError struct {
	label string
	id    any // Optional: the key that was searched for
}

// Error returns the error string.
func (e *NotFoundError) Error() string {
	if e.id != nil {
		return fmt.Sprintf("tabula: %s not found (id=%v)", e.label, e.id)
	}
	return fmt.Sprintf("tabula: %s not found", e.label)
}

// Is reports whether the target error matches NotFoundError.
// This allows errors.Is(notFoundErr, ErrNotFound) to return true.
func (e *NotFoundError) Is(err error) bool {
	return err == ErrNotFound
}

// Label returns the table alias.
func (e *NotFoundError) Label() string {
	return e.label
}

// ID returns the key that was searched for, if available.
func (e *NotFoundError) ID() any {
	return e.id
}

// NewNotFoundError returns a new NotFoundError for the given table alias.
func NewNotFoundError(label string) *NotFoundError {
	return &NotFoundError{label: label}
}

// NewNotFoundErrorWithID returns a new NotFoundError with the key that was searched for.
func NewNotFoundErrorWithID(label string, id any) *NotFoundError {
	return &NotFoundError{label: label, id: id}
}

// IsNotFound returns true if the error is a NotFoundError.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var e *NotFoundError
	return errors.As(err, &e) || errors.Is(err, ErrNotFound)
}

// PersistenceFailedError is returned by SaveOrFail and DeleteOrFail when the
// underlying operation reported failure.
type PersistenceFailedError struct {
	Entity string // Table alias
	Op     string // "save" or "delete"
}

// Error returns the error string.
func (e *PersistenceFailedError) Error() string {
	return fmt.Sprintf("tabula: %s %s failed", e.Op, e.Entity)
}

// Is reports whether the target error is ErrPersistFailed.
func (e *PersistenceFailedError) Is(err error) bool {
	return err == ErrPersistFailed
}

// NewPersistenceFailedError returns a new PersistenceFailedError.
func NewPersistenceFailedError(entity, op string) *PersistenceFailedError {
	return &PersistenceFailedError{Entity: entity, Op: op}
}

// ConstraintError represents a database constraint violation error.
type ConstraintError struct {
	msg  string
	wrap error
}

// Error returns the error string.
func (e ConstraintError) Error() string {
	return fmt.Sprintf("tabula: constraint failed: %s", e.msg)
}

// Unwrap returns the underlying error.
func (e ConstraintError) Unwrap() error {
	return e.wrap
}

// NewConstraintError returns a new ConstraintError with the given message.
func NewConstraintError(msg string, wrap error) error {
	return ConstraintError{msg: msg, wrap: wrap}
}

// IsConstraintError returns true if the error is a ConstraintError.
func IsConstraintError(err error) bool {
	if err == nil {
		return false
	}
	var e ConstraintError
	return errors.As(err, &e)
}

// ValidationError is returned by SaveOrFail when an entity failed validation.
// Fields holds the messages recorded per field.
type ValidationError struct {
	Name   string              // Table alias
	Fields map[string][]string // Field errors
}

// Error returns the error string.
func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("tabula: validation failed for %s", e.Name)
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range slices.Sorted(maps.Keys(e.Fields)) {
		parts = append(parts, fmt.Sprintf("%s (%s)", f, strings.Join(e.Fields[f], ", ")))
	}
	return fmt.Sprintf("tabula: validation failed for %s: %s", e.Name, strings.Join(parts, "; "))
}

// NewValidationError returns a new ValidationError for the given table.
func NewValidationError(name string, fields map[string][]string) *ValidationError {
	return &ValidationError{Name: name, Fields: fields}
}

// IsValidationError returns true if the error is a ValidationError.
func IsValidationError(err error) bool {
	if err == nil {
		return false
	}
	var e *ValidationError
	return errors.As(err, &e)
}

// UnknownAssociationError is returned when an association alias is not
// declared on a table.
type UnknownAssociationError struct {
	Table string
	Name  string
}

// Error returns the error string.
func (e *UnknownAssociationError) Error() string {
	return fmt.Sprintf("tabula: %s is not associated with %s", e.Name, e.Table)
}

// IsUnknownAssociation returns true if the error is an UnknownAssociationError.
func IsUnknownAssociation(err error) bool {
	if err == nil {
		return false
	}
	var e *UnknownAssociationError
	return errors.As(err, &e)
}

// UnknownFinderError is returned when neither the table nor any of its
// behaviors provide the requested finder.
type UnknownFinderError struct {
	Table  string
	Finder string
}

// Error returns the error string.
func (e *UnknownFinderError) Error() string {
	return fmt.Sprintf("tabula: unknown finder method %q on %s", e.Finder, e.Table)
}

// IsUnknownFinder returns true if the error is an UnknownFinderError.
func IsUnknownFinder(err error) bool {
	if err == nil {
		return false
	}
	var e *UnknownFinderError
	return errors.As(err, &e)
}

// UnknownMethodError is returned by Table.Call for methods that are neither
// behavior methods nor dynamic finders.
type UnknownMethodError struct {
	Table  string
	Method string
}

// Error returns the error string.
func (e *UnknownMethodError) Error() string {
	return fmt.Sprintf("tabula: unknown method %q called on %s", e.Method, e.Table)
}

// IsUnknownMethod returns true if the error is an UnknownMethodError.
func IsUnknownMethod(err error) bool {
	if err == nil {
		return false
	}
	var e *UnknownMethodError
	return errors.As(err, &e)
}

// MissingKeyError is returned when an update or delete addresses an entity
// whose primary key is not fully populated.
type MissingKeyError struct {
	Table   string
	Op      string
	Missing []string // Primary key columns without a value
}

// Error returns the error string.
func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("tabula: all primary key value(s) are needed for %s %s, missing %s",
		e.Op, e.Table, strings.Join(e.Missing, ", "))
}

// IsMissingKey returns true if the error is a MissingKeyError.
func IsMissingKey(err error) bool {
	if err == nil {
		return false
	}
	var e *MissingKeyError
	return errors.As(err, &e)
}

// MissingTableError is returned when a table alias cannot be resolved.
type MissingTableError struct {
	Name string
}

// Error returns the error string.
func (e *MissingTableError) Error() string {
	return fmt.Sprintf("tabula: table %q could not be found", e.Name)
}

// IsMissingTable returns true if the error is a MissingTableError.
func IsMissingTable(err error) bool {
	if err == nil {
		return false
	}
	var e *MissingTableError
	return errors.As(err, &e)
}

// RollbackError wraps an error that occurred during a transaction rollback.
type RollbackError struct {
	Err error // Original error that triggered rollback
}

// Error returns the error string.
func (e *RollbackError) Error() string {
	return fmt.Sprintf("tabula: rollback failed: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *RollbackError) Unwrap() error {
	return e.Err
}

// AggregateError represents multiple errors collected during an operation.
type AggregateError struct {
	Errors []error
}

// Error returns the error string.
func (e *AggregateError) Error() string {
	if len(e.Errors) == 0 {
		return "tabula: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	var sb strings.Builder
	sb.WriteString("tabula: multiple errors:")
	for i, err := range e.Errors {
		fmt.Fprintf(&sb, "\n  [%d] %v", i+1, err)
	}
	return sb.String()
}

// Unwrap returns the collected errors.
func (e *AggregateError) Unwrap() []error {
	return e.Errors
}

// NewAggregateError returns a new AggregateError if there are errors,
// otherwise returns nil.
func NewAggregateError(errs ...error) error {
	var filtered []error
	for _, err := range errs {
		if err != nil {
			filtered = append(filtered, err)
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &AggregateError{Errors: filtered}
}

// QueryError wraps a query error with additional context.
type QueryError struct {
	Entity string // Table alias being queried
	Op     string // Operation (e.g., "select", "count", "exists")
	Err    error  // Underlying error
}

// Error returns the error string.
func (e *QueryError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("tabula: querying %s (%s): %v", e.Entity, e.Op, e.Err)
	}
	return fmt.Sprintf("tabula: querying %s: %v", e.Entity, e.Err)
}

// Unwrap returns the underlying error.
func (e *QueryError) Unwrap() error {
	return e.Err
}

// NewQueryError returns a new QueryError.
func NewQueryError(entity, op string, err error) *QueryError {
	return &QueryError{Entity: entity, Op: op, Err: err}
}

// IsQueryError returns true if the error is a QueryError.
func IsQueryError(err error) bool {
	if err == nil {
		return false
	}
	var e *QueryError
	return errors.As(err, &e)
}

// MutationError wraps a mutation error with additional context.
type MutationError struct {
	Entity string // Table alias being mutated
	Op     string // Operation (e.g., "insert", "update", "delete")
	Err    error  // Underlying error
}

// Error returns the error string.
func (e *MutationError) Error() string {
	return fmt.Sprintf("tabula: %s %s: %v", e.Op, e.Entity, e.Err)
}

// Unwrap returns the underlying error.
func (e *MutationError) Unwrap() error {
	return e.Err
}

// NewMutationError returns a new MutationError.
func NewMutationError(entity, op string, err error) *MutationError {
	return &MutationError{Entity: entity, Op: op, Err: err}
}

// IsMutationError returns true if the error is a MutationError.
func IsMutationError(err error) bool {
	if err == nil {
		return false
	}
	var e *MutationError
	return errors.As(err, &e)
}
