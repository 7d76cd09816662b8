package sqlgraph

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/tabula"
)

type stateErr string

func (e stateErr) Error() string    { return "state error " + string(e) }
func (e stateErr) SQLState() string { return string(e) }

func TestConstraintClassification(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		unique     bool
		foreignKey bool
		check      bool
	}{
		{name: "nil"},
		{name: "plain", err: errors.New("connection refused")},
		{name: "pq unique", err: &pq.Error{Code: "23505"}, unique: true},
		{name: "pq foreign key", err: &pq.Error{Code: "23503"}, foreignKey: true},
		{name: "pq check", err: &pq.Error{Code: "23514"}, check: true},
		{name: "pq other", err: &pq.Error{Code: "42P01", Message: "violates unique constraint"}},
		{name: "mysql duplicate", err: &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}, unique: true},
		{name: "mysql parent row", err: &mysql.MySQLError{Number: 1451}, foreignKey: true},
		{name: "mysql child row", err: &mysql.MySQLError{Number: 1452}, foreignKey: true},
		{name: "mysql check", err: &mysql.MySQLError{Number: 3819}, check: true},
		{name: "sqlstate", err: stateErr("23505"), unique: true},
		{name: "sqlite unique", err: errors.New("constraint failed: UNIQUE constraint failed: tags.name (2067)"), unique: true},
		{name: "sqlite foreign key", err: errors.New("FOREIGN KEY constraint failed"), foreignKey: true},
		{name: "sqlite check", err: errors.New("CHECK constraint failed: price"), check: true},
		{name: "wrapped", err: fmt.Errorf("insert: %w", &pq.Error{Code: "23505"}), unique: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.unique, IsUniqueConstraintError(tt.err))
			assert.Equal(t, tt.foreignKey, IsForeignKeyConstraintError(tt.err))
			assert.Equal(t, tt.check, IsCheckConstraintError(tt.err))
			assert.Equal(t, tt.unique || tt.foreignKey || tt.check, IsConstraintError(tt.err))
		})
	}
}

func TestWrapConstraint(t *testing.T) {
	require.NoError(t, WrapConstraint(nil))

	plain := errors.New("bad connection")
	require.Equal(t, plain, WrapConstraint(plain))

	dup := &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'a' for key 'name'"}
	err := WrapConstraint(dup)
	require.True(t, tabula.IsConstraintError(err))
	require.ErrorIs(t, err, dup)

	require.Equal(t, err, WrapConstraint(err))
}
