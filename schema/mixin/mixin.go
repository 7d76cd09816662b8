// Package mixin provides reusable column sets for table descriptions.
//
// A mixin is a set of columns (and optionally a primary key) that can be
// applied to multiple table descriptions:
//
//	t := mixin.Apply(schema.NewTable("articles"),
//		mixin.ID{},
//		mixin.Time{},
//	)
//
// Creating Custom Mixins:
//
// To create a custom mixin, embed Schema and override the methods you need:
//
//	type Audit struct {
//		mixin.Schema
//	}
//
//	func (Audit) Columns() []*schema.Column {
//		return []*schema.Column{
//			{Name: "created_by", Type: schema.TypeString, Nullable: true},
//			{Name: "modified_by", Type: schema.TypeString, Nullable: true},
//		}
//	}
package mixin

import (
	"github.com/syssam/tabula/schema"
)

// Mixin is a reusable set of columns.
type Mixin interface {
	// Columns returns the columns added by the mixin.
	Columns() []*schema.Column
	// PrimaryKey returns the primary key set by the mixin, if any.
	PrimaryKey() []string
}

// Schema is the default implementation for the Mixin interface.
// It should be embedded in all custom mixin definitions.
type Schema struct{}

// Columns returns the columns of the mixin.
func (Schema) Columns() []*schema.Column { return nil }

// PrimaryKey returns the primary key of the mixin.
func (Schema) PrimaryKey() []string { return nil }

var _ Mixin = (*Schema)(nil)

// Apply adds the columns of all mixins to t, in order. A later mixin that
// declares a primary key replaces an earlier one.
func Apply(t *schema.Table, mixins ...Mixin) *schema.Table {
	for _, m := range mixins {
		for _, c := range m.Columns() {
			t.AddColumn(c)
		}
		if pk := m.PrimaryKey(); len(pk) > 0 {
			t.SetPrimaryKey(pk...)
		}
	}
	return t
}

// ID adds an auto-increment integer primary key column named "id".
type ID struct {
	Schema
}

// Columns returns the id column.
func (ID) Columns() []*schema.Column {
	return []*schema.Column{
		{Name: "id", Type: schema.TypeInteger, AutoIncrement: true},
	}
}

// PrimaryKey returns the id column.
func (ID) PrimaryKey() []string { return []string{"id"} }

// UUID adds a uuid primary key column named "id". Keys are generated on
// insert by the uuid ID generator.
type UUID struct {
	Schema
}

// Columns returns the id column.
func (UUID) Columns() []*schema.Column {
	return []*schema.Column{
		{Name: "id", Type: schema.TypeUUID},
	}
}

// PrimaryKey returns the id column.
func (UUID) PrimaryKey() []string { return []string{"id"} }

// Time adds the created and modified timestamp columns maintained by
// the timestamp behavior.
type Time struct {
	Schema
}

// Columns returns the timestamp columns.
func (Time) Columns() []*schema.Column {
	return []*schema.Column{
		{Name: "created", Type: schema.TypeDateTime, Nullable: true},
		{Name: "modified", Type: schema.TypeDateTime, Nullable: true},
	}
}

// SoftDelete adds a nullable deleted column.
type SoftDelete struct {
	Schema
}

// Columns returns the soft delete column.
func (SoftDelete) Columns() []*schema.Column {
	return []*schema.Column{
		{Name: "deleted", Type: schema.TypeDateTime, Nullable: true},
	}
}

// TenantID adds the tenant column read by tenant privacy rules.
type TenantID struct {
	Schema
}

// Columns returns the tenant column.
func (TenantID) Columns() []*schema.Column {
	return []*schema.Column{
		{Name: "tenant_id", Type: schema.TypeString},
	}
}
