// Package types defines the builtin value types of the expression language
// and the casts between them.
package types

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/appbaseio/upgrade-assistant/model/registry"
)

// Column describes one column of a Datatable.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Datatable is a table of rows keyed by column name.
type Datatable struct {
	Columns []Column                 `json:"columns"`
	Rows    []map[string]interface{} `json:"rows"`
}

// TypeName implements registry.Typed.
func (*Datatable) TypeName() string { return "datatable" }

// MarshalJSON adds the type discriminator.
func (d *Datatable) MarshalJSON() ([]byte, error) {
	type plain Datatable
	return json.Marshal(struct {
		Type string `json:"type"`
		*plain
	}{"datatable", (*plain)(d)})
}

// PointSeriesColumn maps a point series dimension to the expression it was built from.
type PointSeriesColumn struct {
	Type       string `json:"type"`
	Role       string `json:"role"`
	Expression string `json:"expression"`
}

// PointSeries is a list of points whose coordinates are described by Columns.
type PointSeries struct {
	Columns map[string]PointSeriesColumn `json:"columns"`
	Rows    []map[string]interface{}     `json:"rows"`
}

// TypeName implements registry.Typed.
func (*PointSeries) TypeName() string { return "pointseries" }

// MarshalJSON adds the type discriminator.
func (p *PointSeries) MarshalJSON() ([]byte, error) {
	type plain PointSeries
	return json.Marshal(struct {
		Type string `json:"type"`
		*plain
	}{"pointseries", (*plain)(p)})
}

func constant(v registry.Value) registry.CastFn {
	return func(registry.Value) (registry.Value, error) { return v, nil }
}

// ToFloat returns v as a float64 for any numeric v.
func ToFloat(v registry.Value) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	}
	return 0, fmt.Errorf("%v is not a number", v)
}

// FormatNumber renders n the way expressions print numbers.
func FormatNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}

// redecode converts a decoded JSON object into target.
func redecode(v registry.Value, target interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, target)
}

// Builtins returns the definitions of the builtin types.
func Builtins() []*registry.TypeDef {
	return []*registry.TypeDef{
		{
			Name: "null",
			Help: "The absence of a value.",
			From: map[string]registry.CastFn{registry.Wildcard: constant(nil)},
		},
		{
			Name: "boolean",
			Help: "true or false.",
			From: map[string]registry.CastFn{
				"null": constant(false),
				"number": func(v registry.Value) (registry.Value, error) {
					n, err := ToFloat(v)
					return n != 0, err
				},
				"string": func(v registry.Value) (registry.Value, error) {
					return v.(string) != "", nil
				},
			},
			To: map[string]registry.CastFn{
				"number": func(v registry.Value) (registry.Value, error) {
					if v.(bool) {
						return 1.0, nil
					}
					return 0.0, nil
				},
				"string": func(v registry.Value) (registry.Value, error) {
					return strconv.FormatBool(v.(bool)), nil
				},
			},
		},
		{
			Name: "number",
			Help: "A 64 bit floating point number.",
			From: map[string]registry.CastFn{
				"null": constant(0.0),
				"string": func(v registry.Value) (registry.Value, error) {
					n, err := strconv.ParseFloat(v.(string), 64)
					if err != nil {
						return nil, fmt.Errorf("can not cast %q to a number", v)
					}
					return n, nil
				},
			},
			To: map[string]registry.CastFn{
				"string": func(v registry.Value) (registry.Value, error) {
					n, err := ToFloat(v)
					if err != nil {
						return nil, err
					}
					return FormatNumber(n), nil
				},
			},
			Validate: func(v registry.Value) error {
				_, err := ToFloat(v)
				return err
			},
		},
		{
			Name: "string",
			Help: "A string of text.",
			From: map[string]registry.CastFn{
				"null": constant(""),
			},
			To: map[string]registry.CastFn{
				"datatable": func(v registry.Value) (registry.Value, error) {
					return &Datatable{
						Columns: []Column{{Name: "value", Type: "string"}},
						Rows:    []map[string]interface{}{{"value": v}},
					}, nil
				},
			},
		},
		{
			Name: registry.ErrorTypeName,
			Help: "A failure carried as a value.",
		},
		{
			Name: "datatable",
			Help: "A table of typed columns.",
			From: map[string]registry.CastFn{
				"null": func(registry.Value) (registry.Value, error) {
					return &Datatable{Columns: []Column{}, Rows: []map[string]interface{}{}}, nil
				},
			},
			To: map[string]registry.CastFn{
				"pointseries": func(v registry.Value) (registry.Value, error) {
					table, err := AsDatatable(v)
					if err != nil {
						return nil, err
					}
					return datatableToPointSeries(table), nil
				},
			},
			Validate: func(v registry.Value) error {
				table, err := AsDatatable(v)
				if err != nil {
					return err
				}
				if table.Columns == nil || table.Rows == nil {
					return fmt.Errorf("datatables must have columns and rows")
				}
				return nil
			},
			Deserialize: func(v registry.Value) (registry.Value, error) {
				return AsDatatable(v)
			},
		},
		{
			Name: "pointseries",
			Help: "Points described by named dimensions and measures.",
			From: map[string]registry.CastFn{
				"null": func(registry.Value) (registry.Value, error) {
					return &PointSeries{Columns: map[string]PointSeriesColumn{}, Rows: []map[string]interface{}{}}, nil
				},
			},
			Deserialize: func(v registry.Value) (registry.Value, error) {
				return AsPointSeries(v)
			},
		},
	}
}

// Register adds the builtin types to r.
func Register(r *registry.TypeRegistry) error {
	for _, def := range Builtins() {
		if err := r.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// AsDatatable returns v as a datatable, decoding wire objects.
func AsDatatable(v registry.Value) (*Datatable, error) {
	switch t := v.(type) {
	case *Datatable:
		return t, nil
	case map[string]interface{}:
		table := &Datatable{}
		if err := redecode(t, table); err != nil {
			return nil, fmt.Errorf("invalid datatable: %v", err)
		}
		return table, nil
	}
	return nil, fmt.Errorf("%T is not a datatable", v)
}

// AsPointSeries returns v as a point series, decoding wire objects.
func AsPointSeries(v registry.Value) (*PointSeries, error) {
	switch t := v.(type) {
	case *PointSeries:
		return t, nil
	case map[string]interface{}:
		series := &PointSeries{}
		if err := redecode(t, series); err != nil {
			return nil, fmt.Errorf("invalid pointseries: %v", err)
		}
		return series, nil
	}
	return nil, fmt.Errorf("%T is not a pointseries", v)
}

// datatableToPointSeries keeps every column: numbers become measures and
// everything else a dimension.
func datatableToPointSeries(table *Datatable) *PointSeries {
	series := &PointSeries{
		Columns: make(map[string]PointSeriesColumn, len(table.Columns)),
		Rows:    make([]map[string]interface{}, 0, len(table.Rows)),
	}
	for _, col := range table.Columns {
		role := "dimension"
		if col.Type == "number" {
			role = "measure"
		}
		series.Columns[col.Name] = PointSeriesColumn{Type: col.Type, Role: role, Expression: col.Name}
	}
	for _, row := range table.Rows {
		point := make(map[string]interface{}, len(row))
		for k, v := range row {
			point[k] = v
		}
		series.Rows = append(series.Rows, point)
	}
	return series
}

// Names returns the sorted names of the types in r.
func Names(r *registry.TypeRegistry) []string {
	defs := r.All()
	names := make([]string, 0, len(defs))
	for _, def := range defs {
		names = append(names, def.Name)
	}
	sort.Strings(names)
	return names
}
