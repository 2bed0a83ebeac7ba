package transform

import (
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/mkoziy/finsync/internal/models"
)

// Kind is the value semantics of a mapped column.
type Kind int

const (
	// KindTotal is a financial total; missing values become 0.
	KindTotal Kind = iota
	// KindEstimate is a forecast or optional figure; missing values stay NULL.
	KindEstimate
	// KindCount is an optional whole number.
	KindCount
	// KindInteger is a whole number; missing values become 0.
	KindInteger
	KindText
	KindDate
	KindPeriod
)

func (k Kind) String() string {
	switch k {
	case KindTotal:
		return "total"
	case KindEstimate:
		return "estimate"
	case KindCount:
		return "count"
	case KindInteger:
		return "integer"
	case KindText:
		return "text"
	case KindDate:
		return "date"
	case KindPeriod:
		return "period"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

var (
	float64Type  = reflect.TypeOf(float64(0))
	float64PType = reflect.TypeOf((*float64)(nil))
	int64Type    = reflect.TypeOf(int64(0))
	int64PType   = reflect.TypeOf((*int64)(nil))
	timeType     = reflect.TypeOf(time.Time{})
	periodType   = reflect.TypeOf(models.Period(""))
)

// accepts reports whether a Go field type can hold values of kind k.
func (k Kind) accepts(t reflect.Type) bool {
	switch k {
	case KindTotal:
		return t == float64Type
	case KindEstimate:
		return t == float64PType
	case KindCount:
		return t == int64PType
	case KindInteger:
		return t == int64Type
	case KindText:
		return t.Kind() == reflect.String && t != periodType
	case KindDate:
		return t == timeType
	case KindPeriod:
		return t == periodType
	}
	return false
}

// Field maps one canonical column from an ordered list of provider fields;
// the first non-null source wins.
type Field struct {
	Column  string
	Sources []string
	Kind    Kind
}

// Provenance is stamped on every record of a payload.
type Provenance struct {
	Source    string
	FetchedAt time.Time
	// Entity fills the ticker when the payload omits it.
	Entity string
	// Period fills the period column when the payload omits it.
	Period models.Period
}

// Schema is a declared, versioned mapping from one provider response shape
// to one canonical model.
type Schema struct {
	Name    string
	Version int
	Model   func() models.Record
	Fields  []Field
	// Derive computes derived columns after mapping.
	Derive func(rec models.Record)
	// Keep filters mapped records; nil keeps everything.
	Keep func(rec models.Record, meta Provenance) bool
	// AsOf marks snapshot payloads with no date of their own. Each record is
	// dated by the day it was fetched.
	AsOf bool
}

// SchemaError reports a mapping table that does not fit its model.
type SchemaError struct {
	Schema string
	Column string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("schema %s: %s", e.Schema, e.Reason)
	}
	return fmt.Sprintf("schema %s: column %s: %s", e.Schema, e.Column, e.Reason)
}

// Compiled is a validated schema ready to transform payloads.
type Compiled struct {
	schema Schema
	model  reflect.Type
	fields []compiledField
}

type compiledField struct {
	Field
	column models.Column
}

// Name returns "<name>@v<version>".
func (c *Compiled) Name() string {
	return fmt.Sprintf("%s@v%d", c.schema.Name, c.schema.Version)
}

// Compile validates s against its model's bun columns: every mapped column
// must exist with a Go type matching its kind, each column is mapped once,
// every conflict key except ticker is mapped (ticker and period may come from
// provenance, as may date for AsOf schemas), and the model must carry
// provenance columns.
func Compile(s Schema) (*Compiled, error) {
	if s.Name == "" {
		return nil, &SchemaError{Schema: "?", Reason: "name is required"}
	}
	if s.Model == nil {
		return nil, &SchemaError{Schema: s.Name, Reason: "model constructor is required"}
	}
	proto := s.Model()
	rt := reflect.TypeOf(proto)
	if rt == nil || rt.Kind() != reflect.Pointer || rt.Elem().Kind() != reflect.Struct {
		return nil, &SchemaError{Schema: s.Name, Reason: fmt.Sprintf("model must be a struct pointer, got %T", proto)}
	}

	c := &Compiled{schema: s, model: rt.Elem()}
	mapped := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		if mapped[f.Column] {
			return nil, &SchemaError{Schema: s.Name, Column: f.Column, Reason: "mapped twice"}
		}
		mapped[f.Column] = true

		if len(f.Sources) == 0 {
			return nil, &SchemaError{Schema: s.Name, Column: f.Column, Reason: "no source fields"}
		}
		col, ok := models.ColumnByName(proto, f.Column)
		if !ok {
			return nil, &SchemaError{Schema: s.Name, Column: f.Column, Reason: fmt.Sprintf("unknown column on %T", proto)}
		}
		if !f.Kind.accepts(col.Type) {
			return nil, &SchemaError{Schema: s.Name, Column: f.Column, Reason: fmt.Sprintf("kind %s does not fit Go type %s", f.Kind, col.Type)}
		}
		c.fields = append(c.fields, compiledField{Field: f, column: col})
	}

	for _, key := range proto.ConflictColumns() {
		if key == "ticker" || key == "period" || (key == "date" && s.AsOf) {
			if _, ok := models.ColumnByName(proto, key); !ok {
				return nil, &SchemaError{Schema: s.Name, Column: key, Reason: "key column missing from model"}
			}
			continue
		}
		if !mapped[key] {
			return nil, &SchemaError{Schema: s.Name, Column: key, Reason: "key column not mapped"}
		}
	}
	for _, col := range []string{"source", "fetched_at"} {
		if _, ok := models.ColumnByName(proto, col); !ok {
			return nil, &SchemaError{Schema: s.Name, Column: col, Reason: "provenance column missing from model"}
		}
	}
	return c, nil
}

var compiled sync.Map // "<name>@v<version>" -> *Compiled

// MustCompile compiles s and panics on error. Meant for package-level tables.
func MustCompile(s Schema) *Compiled {
	c, err := Compile(s)
	if err != nil {
		panic(err)
	}
	return c
}

func cachedCompile(s Schema) (*Compiled, error) {
	key := fmt.Sprintf("%s@v%d", s.Name, s.Version)
	if c, ok := compiled.Load(key); ok {
		return c.(*Compiled), nil
	}
	c, err := Compile(s)
	if err != nil {
		return nil, err
	}
	compiled.Store(key, c)
	return c, nil
}
