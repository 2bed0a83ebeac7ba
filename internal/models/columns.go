package models

import (
	"fmt"
	"reflect"

	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

// tables holds bun's parsed metadata for the models. Column names, keys and
// field paths do not depend on the dialect.
var tables = sqlitedialect.New().Tables()

// Table returns bun's metadata for a model struct or pointer.
func Table(model any) *schema.Table {
	return tables.Get(reflect.TypeOf(model))
}

// Column describes one bun-mapped struct field.
type Column struct {
	Name  string
	Type  reflect.Type
	PK    bool
	field *schema.Field
}

func columnOf(f *schema.Field) Column {
	return Column{Name: f.Name, Type: f.StructField.Type, PK: f.IsPK, field: f}
}

// Value returns the field backing c inside strct, allocating embedded
// pointers on the way.
func (c Column) Value(strct reflect.Value) reflect.Value {
	return c.field.Value(strct)
}

// Columns returns the bun columns of a model struct (or pointer to one),
// primary keys first.
func Columns(model any) []Column {
	t := Table(model)
	cols := make([]Column, 0, len(t.Fields))
	for _, f := range t.Fields {
		cols = append(cols, columnOf(f))
	}
	return cols
}

// ColumnByName looks up a column on a model.
func ColumnByName(model any, name string) (Column, bool) {
	f := Table(model).LookupField(name)
	if f == nil {
		return Column{}, false
	}
	return columnOf(f), true
}

// UpdateColumns lists the columns rewritten on conflict: every data column
// except the conflict key, created_at and skipupdate fields.
func UpdateColumns(r Record) []string {
	skip := map[string]bool{"created_at": true}
	for _, k := range r.ConflictColumns() {
		skip[k] = true
	}
	var out []string
	for _, f := range Table(r).DataFields {
		if skip[f.Name] || f.SkipUpdate() {
			continue
		}
		out = append(out, f.Name)
	}
	return out
}

// FieldByColumn returns the addressable field backing a column on a model pointer.
func FieldByColumn(model any, name string) (reflect.Value, error) {
	v := reflect.ValueOf(model)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return reflect.Value{}, fmt.Errorf("model must be a non-nil pointer, got %T", model)
	}
	col, ok := ColumnByName(model, name)
	if !ok {
		return reflect.Value{}, fmt.Errorf("%T has no column %q", model, name)
	}
	return col.Value(v.Elem()), nil
}
