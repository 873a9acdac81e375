package replay

import (
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/robsok/dt-replay-demo/errors"
)

// rowFilter wraps a compiled CEL expression evaluated once per row after
// coercion. An empty expression disables filtering and Eval always returns
// true. Rows are exposed as `row` (map of column to value) plus `stream`
// (the stream id); an evaluation error or a non-boolean result rejects the
// row.
type rowFilter struct {
	prog    cel.Program
	enabled bool
}

func newRowFilter(stream, expr string) (rowFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return rowFilter{}, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("row", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("stream", cel.StringType),
	)
	if err != nil {
		return rowFilter{}, errors.WrapFatal(err, "StreamLoader", "newRowFilter", "create filter environment")
	}

	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return rowFilter{}, errors.WrapInvalid(iss.Err(), "StreamLoader", "newRowFilter",
			"parse filter for stream "+stream)
	}
	checked, iss := env.Check(ast)
	if iss != nil && iss.Err() != nil {
		return rowFilter{}, errors.WrapInvalid(iss.Err(), "StreamLoader", "newRowFilter",
			"check filter for stream "+stream)
	}
	prog, err := env.Program(checked)
	if err != nil {
		return rowFilter{}, errors.WrapInvalid(err, "StreamLoader", "newRowFilter",
			"compile filter for stream "+stream)
	}
	return rowFilter{prog: prog, enabled: true}, nil
}

// Eval reports whether the row passes the filter.
func (f rowFilter) Eval(stream string, fields map[string]any) bool {
	if !f.enabled {
		return true
	}
	out, _, err := f.prog.Eval(map[string]any{
		"row":    fields,
		"stream": stream,
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
