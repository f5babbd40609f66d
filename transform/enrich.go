package transform

import (
	"sort"
	"strconv"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/pkg/errors"

	"github.com/metrico/openlake/frame"
)

// Enricher is the typed custom-enrichment hook of the transform pipeline.
// It receives the batch after renames and casts and returns a batch with
// the same or additional columns.
type Enricher interface {
	Enrich(f *frame.Frame) (*frame.Frame, error)
}

// NoopEnricher is the default: no enrichment.
type NoopEnricher struct{}

func (NoopEnricher) Enrich(f *frame.Frame) (*frame.Frame, error) { return f, nil }

// ExprEnricher derives columns from per-row expressions. Expressions see
// the row's existing columns as variables; undefined variables evaluate to
// nil so drifting schemas do not break enrichment.
type ExprEnricher struct {
	names    []string
	programs map[string]*vm.Program
}

// NewExprEnricher compiles one expression per derived column. Columns are
// produced in lexical name order so the output is deterministic.
func NewExprEnricher(exprs map[string]string) (*ExprEnricher, error) {
	e := &ExprEnricher{programs: map[string]*vm.Program{}}
	for name, src := range exprs {
		prog, err := expr.Compile(src, expr.AllowUndefinedVariables())
		if err != nil {
			return nil, errors.Wrapf(err, "compile enrichment %q", name)
		}
		e.names = append(e.names, name)
		e.programs[name] = prog
	}
	sort.Strings(e.names)
	return e, nil
}

func (e *ExprEnricher) Enrich(f *frame.Frame) (*frame.Frame, error) {
	if len(e.names) == 0 {
		return f, nil
	}
	cols := f.Columns()
	for _, name := range e.names {
		prog := e.programs[name]
		values := make([]any, f.NumRows())
		for i := 0; i < f.NumRows(); i++ {
			env := make(map[string]any, len(cols))
			for _, c := range cols {
				v, ok := c.Value(i)
				if !ok {
					env[c.Name] = nil
					continue
				}
				env[c.Name] = v
			}
			out, err := expr.Run(prog, env)
			if err != nil {
				return nil, errors.Wrapf(err, "enrichment %q row %d", name, i)
			}
			values[i] = out
		}
		col, err := columnFromValues(name, values)
		if err != nil {
			return nil, errors.Wrapf(err, "enrichment %q", name)
		}
		if err := f.ReplaceColumn(col); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// columnFromValues infers the column type from the evaluated values,
// widening on mixed results.
func columnFromValues(name string, values []any) (*frame.Column, error) {
	var tp frame.DataType
	for _, v := range values {
		vt, ok := typeOf(v)
		if !ok {
			continue
		}
		if tp == nil {
			tp = vt
		} else {
			tp = frame.Widen(tp, vt)
		}
	}
	if tp == nil {
		tp = frame.String
	}
	col := frame.NewColumn(name, tp, len(values))
	for _, v := range values {
		col.Append(normalize(tp, v))
	}
	return col, nil
}

func typeOf(v any) (frame.DataType, bool) {
	switch v.(type) {
	case string:
		return frame.String, true
	case bool:
		return frame.Bool, true
	case int, int64:
		return frame.Int64, true
	case float64:
		return frame.Float64, true
	}
	return nil, false
}

// normalize adapts an evaluated value to the widened column type.
func normalize(tp frame.DataType, v any) any {
	if v == nil {
		return nil
	}
	switch tp.Name() {
	case frame.DATA_TYPE_NAME_STRING:
		switch x := v.(type) {
		case string:
			return x
		case bool:
			return strconv.FormatBool(x)
		case int:
			return strconv.Itoa(x)
		case int64:
			return strconv.FormatInt(x, 10)
		case float64:
			return strconv.FormatFloat(x, 'f', -1, 64)
		}
	case frame.DATA_TYPE_NAME_FLOAT64:
		switch x := v.(type) {
		case float64:
			return x
		case int:
			return float64(x)
		case int64:
			return float64(x)
		}
	case frame.DATA_TYPE_NAME_INT64:
		switch x := v.(type) {
		case int:
			return int64(x)
		case int64:
			return x
		}
	case frame.DATA_TYPE_NAME_BOOL:
		if x, ok := v.(bool); ok {
			return x
		}
	}
	return nil
}
