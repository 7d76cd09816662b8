// Package sqlgraph classifies database errors raised by the supported
// drivers into constraint violation kinds.
package sqlgraph

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"

	"github.com/syssam/tabula"
)

// IsConstraintError returns true if the error resulted from a database constraint violation.
func IsConstraintError(err error) bool {
	return tabula.IsConstraintError(err) ||
		IsUniqueConstraintError(err) ||
		IsForeignKeyConstraintError(err) ||
		IsCheckConstraintError(err)
}

// WrapConstraint wraps err with a tabula.ConstraintError if it resulted from
// a constraint violation. Other errors are returned unchanged.
func WrapConstraint(err error) error {
	if err == nil || tabula.IsConstraintError(err) {
		return err
	}
	if IsConstraintError(err) {
		return tabula.NewConstraintError(err.Error(), err)
	}
	return err
}

// errorCoder is an interface for database errors that provide error codes.
type errorCoder interface {
	Code() string
}

// sqlStateError is an interface for errors that provide SQLSTATE codes.
// Implemented by pgx and some MySQL drivers.
type sqlStateError interface {
	SQLState() string
}

// PostgreSQL SQLSTATE codes for constraint violations (Class 23).
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

// MySQL error numbers for constraint violations.
const (
	mysqlDuplicateEntry         = 1062
	mysqlForeignKeyParent       = 1451 // Cannot delete or update a parent row
	mysqlForeignKeyChild        = 1452 // Cannot add or update a child row
	mysqlCheckConstraintViolate = 3819
)

// kind describes one class of constraint violation across drivers.
type kind struct {
	pgCode   string
	mysqlNum []uint16
	messages []string
}

var (
	uniqueKind = kind{
		pgCode:   pgUniqueViolation,
		mysqlNum: []uint16{mysqlDuplicateEntry},
		messages: []string{
			"Error 1062",                 // MySQL (string fallback)
			"violates unique constraint", // Postgres (string fallback)
			"UNIQUE constraint failed",   // SQLite
		},
	}
	foreignKeyKind = kind{
		pgCode:   pgForeignKeyViolation,
		mysqlNum: []uint16{mysqlForeignKeyParent, mysqlForeignKeyChild},
		messages: []string{
			"Error 1451",                      // MySQL (Cannot delete or update a parent row)
			"Error 1452",                      // MySQL (Cannot add or update a child row)
			"violates foreign key constraint", // Postgres
			"FOREIGN KEY constraint failed",   // SQLite
		},
	}
	checkKind = kind{
		pgCode:   pgCheckViolation,
		mysqlNum: []uint16{mysqlCheckConstraintViolate},
		messages: []string{
			"Error 3819",                // MySQL
			"violates check constraint", // Postgres
			"CHECK constraint failed",   // SQLite
		},
	}
)

func (k kind) match(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == k.pgCode
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		for _, n := range k.mysqlNum {
			if myErr.Number == n {
				return true
			}
		}
		return false
	}
	if e, ok := asError[sqlStateError](err); ok && e.SQLState() == k.pgCode {
		return true
	}
	if e, ok := asError[errorCoder](err); ok && e.Code() == k.pgCode {
		return true
	}
	// Fallback to string matching for drivers that don't expose codes (SQLite).
	return containsAny(err.Error(), k.messages...)
}

// IsUniqueConstraintError reports if the error resulted from a DB uniqueness constraint violation.
// e.g. duplicate value in unique index.
func IsUniqueConstraintError(err error) bool {
	return uniqueKind.match(err)
}

// IsForeignKeyConstraintError reports if the error resulted from a database foreign-key constraint violation.
// e.g. parent row does not exist.
func IsForeignKeyConstraintError(err error) bool {
	return foreignKeyKind.match(err)
}

// IsCheckConstraintError reports if the error resulted from a database check constraint violation.
// e.g. a value does not satisfy a check condition.
func IsCheckConstraintError(err error) bool {
	return checkKind.match(err)
}

// asError attempts to extract an error implementing interface T from the error chain.
func asError[T any](err error) (T, bool) {
	var target T
	for err != nil {
		if e, ok := err.(T); ok {
			return e, true
		}
		err = errors.Unwrap(err)
	}
	return target, false
}

// containsAny returns true if s contains any of the substrings.
func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
