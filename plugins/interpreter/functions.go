package interpreter

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"strconv"
	"strings"

	es7 "github.com/olivere/elastic/v7"

	"github.com/appbaseio/upgrade-assistant/model/registry"
	"github.com/appbaseio/upgrade-assistant/model/types"
)

// handlerESClient is the Handlers key of the elasticsearch client.
const handlerESClient = "elasticsearchClient"

func noResolve() *bool {
	resolve := false
	return &resolve
}

// builtinFunctions returns the functions the server runs.
func builtinFunctions() []*registry.FnDef {
	return []*registry.FnDef{
		{
			Name:    "context",
			Help:    "Returns whatever it is passed.",
			Fn:      contextFn,
			Context: registry.ContextDef{},
		},
		{
			Name:    "eq",
			Type:    "boolean",
			Help:    "Returns whether the context is equal to the argument.",
			Context: registry.ContextDef{Types: []string{"boolean", "number", "string", "null"}},
			Args: map[string]*registry.ArgDef{
				"_": {
					Aliases:  []string{"value"},
					Types:    []string{"boolean", "number", "string", "null"},
					Required: true,
					Help:     "The value compared to the context.",
				},
			},
			Fn: eqFn,
		},
		{
			Name: "if",
			Help: "Runs then or else depending on the condition.",
			Args: map[string]*registry.ArgDef{
				"condition": {
					Aliases: []string{"_"},
					Types:   []string{"boolean"},
					Help:    "Whether to run then or else.",
				},
				"then": {Resolve: noResolve(), Help: "The value returned when the condition is true."},
				"else": {Resolve: noResolve(), Help: "The value returned when the condition is false."},
			},
			Fn: ifFn,
		},
		{
			Name:    "math",
			Type:    "number",
			Help:    "Aggregates a number or a column of a point series.",
			Context: registry.ContextDef{Types: []string{"number", "pointseries"}},
			Args: map[string]*registry.ArgDef{
				"_": {
					Aliases: []string{"fn"},
					Types:   []string{"string"},
					Default: "sum",
					Options: []interface{}{"sum", "mean", "min", "max", "count"},
					Help:    "The aggregation to apply.",
				},
				"column": {
					Types:   []string{"string"},
					Default: "y",
					Help:    "The point series column to aggregate.",
				},
			},
			Fn: mathFn,
		},
		{
			Name:    "string",
			Aliases: []string{"concat"},
			Type:    "string",
			Help:    "Concatenates every argument into a string.",
			Args: map[string]*registry.ArgDef{
				"_": {
					Types: []string{"string", "number", "boolean"},
					Multi: true,
					Help:  "The values to join.",
				},
			},
			Fn: stringFn,
		},
		{
			Name: "datatable",
			Type: "datatable",
			Help: "Builds a datatable from delimited text whose first line names the columns.",
			Args: map[string]*registry.ArgDef{
				"_": {
					Aliases:  []string{"data", "csv"},
					Types:    []string{"string"},
					Required: true,
					Help:     "The delimited text.",
				},
				"delimiter": {
					Types:   []string{"string"},
					Default: ",",
					Help:    "The field delimiter.",
				},
			},
			Fn: datatableFn,
		},
		{
			Name:    "pointseries",
			Type:    "pointseries",
			Help:    "Builds a point series from datatable columns.",
			Context: registry.ContextDef{Types: []string{"datatable"}},
			Args: map[string]*registry.ArgDef{
				"x": {Types: []string{"string"}, Help: "The column of the x dimension."},
				"y": {Types: []string{"string"}, Help: "The column of the y measure."},
			},
			Fn: pointseriesFn,
		},
		{
			Name:    "escount",
			Type:    "number",
			Help:    "Counts the documents matching a query string query.",
			Context: registry.ContextDef{Types: []string{"null"}},
			Args: map[string]*registry.ArgDef{
				"index": {
					Types:   []string{"string"},
					Default: "_all",
					Help:    "The indices to count in.",
				},
				"query": {
					Aliases: []string{"_", "q"},
					Types:   []string{"string"},
					Default: "-_index:.kibana",
					Help:    "A query string query.",
				},
			},
			Fn: escountFn,
		},
	}
}

func contextFn(_ context.Context, input registry.Value, _ registry.Args, _ registry.Handlers) (registry.Value, error) {
	return input, nil
}

func eqFn(_ context.Context, input registry.Value, args registry.Args, _ registry.Handlers) (registry.Value, error) {
	return input == args["_"], nil
}

func ifFn(ctx context.Context, input registry.Value, args registry.Args, _ registry.Handlers) (registry.Value, error) {
	branch := "else"
	if condition, _ := args["condition"].(bool); condition {
		branch = "then"
	}
	resolve, ok := args[branch].(registry.Resolver)
	if !ok {
		return input, nil
	}
	return resolve(ctx)
}

func mathFn(_ context.Context, input registry.Value, args registry.Args, _ registry.Handlers) (registry.Value, error) {
	op, _ := args["_"].(string)
	var values []float64
	switch v := input.(type) {
	case float64:
		values = []float64{v}
	default:
		series, err := types.AsPointSeries(input)
		if err != nil {
			return nil, err
		}
		column, _ := args["column"].(string)
		if _, ok := series.Columns[column]; !ok {
			return nil, fmt.Errorf("column %s does not exist", column)
		}
		for _, row := range series.Rows {
			n, err := types.ToFloat(row[column])
			if err != nil {
				return nil, fmt.Errorf("column %s: %v", column, err)
			}
			values = append(values, n)
		}
	}

	switch op {
	case "count":
		return float64(len(values)), nil
	case "sum":
		sum := 0.0
		for _, v := range values {
			sum += v
		}
		return sum, nil
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%s of an empty column", op)
	}
	switch op {
	case "mean":
		sum := 0.0
		for _, v := range values {
			sum += v
		}
		return sum / float64(len(values)), nil
	case "min":
		min := math.Inf(1)
		for _, v := range values {
			min = math.Min(min, v)
		}
		return min, nil
	case "max":
		max := math.Inf(-1)
		for _, v := range values {
			max = math.Max(max, v)
		}
		return max, nil
	}
	return nil, fmt.Errorf("unknown math function %q", op)
}

func stringFn(_ context.Context, _ registry.Value, args registry.Args, _ registry.Handlers) (registry.Value, error) {
	values, _ := args["_"].([]registry.Value)
	var sb strings.Builder
	for _, v := range values {
		switch t := v.(type) {
		case string:
			sb.WriteString(t)
		case float64:
			sb.WriteString(types.FormatNumber(t))
		default:
			sb.WriteString(fmt.Sprint(t))
		}
	}
	return sb.String(), nil
}

func datatableFn(_ context.Context, _ registry.Value, args registry.Args, _ registry.Handlers) (registry.Value, error) {
	data, _ := args["_"].(string)
	delimiter, _ := args["delimiter"].(string)
	if len([]rune(delimiter)) != 1 {
		return nil, fmt.Errorf("delimiter must be a single character, got %q", delimiter)
	}

	reader := csv.NewReader(strings.NewReader(data))
	reader.Comma = []rune(delimiter)[0]
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("invalid datatable data: %v", err)
	}
	table := &types.Datatable{Columns: []types.Column{}, Rows: []map[string]interface{}{}}
	if len(records) == 0 {
		return table, nil
	}

	header, body := records[0], records[1:]
	for i, name := range header {
		colType := "number"
		for _, record := range body {
			if _, err := strconv.ParseFloat(record[i], 64); err != nil {
				colType = "string"
				break
			}
		}
		table.Columns = append(table.Columns, types.Column{Name: name, Type: colType})
	}
	for _, record := range body {
		row := make(map[string]interface{}, len(header))
		for i, col := range table.Columns {
			if col.Type == "number" {
				row[col.Name], _ = strconv.ParseFloat(record[i], 64)
				continue
			}
			row[col.Name] = record[i]
		}
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}

func pointseriesFn(_ context.Context, input registry.Value, args registry.Args, _ registry.Handlers) (registry.Value, error) {
	table, err := types.AsDatatable(input)
	if err != nil {
		return nil, err
	}
	columnTypes := make(map[string]string, len(table.Columns))
	for _, col := range table.Columns {
		columnTypes[col.Name] = col.Type
	}

	series := &types.PointSeries{Columns: map[string]types.PointSeriesColumn{}, Rows: []map[string]interface{}{}}
	dimensions := []struct{ key, role string }{{"x", "dimension"}, {"y", "measure"}}
	for _, dim := range dimensions {
		column, ok := args[dim.key].(string)
		if !ok {
			continue
		}
		colType, ok := columnTypes[column]
		if !ok {
			return nil, fmt.Errorf("column %s does not exist", column)
		}
		series.Columns[dim.key] = types.PointSeriesColumn{Type: colType, Role: dim.role, Expression: column}
	}
	if len(series.Columns) == 0 {
		return nil, fmt.Errorf("pointseries requires an x or a y column")
	}
	for _, row := range table.Rows {
		point := make(map[string]interface{}, len(series.Columns))
		for key, col := range series.Columns {
			point[key] = row[col.Expression]
		}
		series.Rows = append(series.Rows, point)
	}
	return series, nil
}

func escountFn(ctx context.Context, _ registry.Value, args registry.Args, handlers registry.Handlers) (registry.Value, error) {
	client, ok := handlers[handlerESClient].(*es7.Client)
	if !ok || client == nil {
		return nil, fmt.Errorf("elasticsearch is not configured")
	}
	index, _ := args["index"].(string)
	query, _ := args["query"].(string)
	count, err := client.Count(strings.Split(index, ",")...).
		Query(es7.NewQueryStringQuery(query)).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	return float64(count), nil
}
