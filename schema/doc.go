// Package schema describes the shape of a database table as seen by a
// table: its columns and their abstract types, the primary key, and the
// named constraints.
//
// A description is either built in code:
//
//	t := schema.NewTable("articles").
//		AddColumn(&schema.Column{Name: "id", Type: schema.TypeInteger, AutoIncrement: true}).
//		AddColumn(&schema.Column{Name: "title", Type: schema.TypeString})
//	t.SetPrimaryKey("id")
//
// or converted from a raw column map, including constraint definitions
// under the special "_constraints" key:
//
//	t, err := schema.FromMap("articles", map[string]any{
//		"id":    map[string]any{"type": "integer", "autoIncrement": true},
//		"title": "string",
//		"_constraints": map[string]any{
//			"primary": map[string]any{"type": "primary", "columns": []string{"id"}},
//		},
//	})
//
// Tables without an explicit description introspect one from the
// database, see the dialect/sql/schema package.
package schema
