package frame

import (
	"github.com/pkg/errors"
)

// Field is one entry of a unified schema.
type Field struct {
	Name string
	Tp   DataType
}

// UnionFields computes the union-by-name schema over frames, in first-seen
// column order, widening types where frames disagree.
func UnionFields(frames []*Frame) []Field {
	var fields []Field
	index := map[string]int{}
	for _, f := range frames {
		for _, c := range f.Columns() {
			i, ok := index[c.Name]
			if !ok {
				index[c.Name] = len(fields)
				fields = append(fields, Field{Name: c.Name, Tp: c.Tp})
				continue
			}
			fields[i].Tp = Widen(fields[i].Tp, c.Tp)
		}
	}
	return fields
}

// Conform reshapes a frame to exactly the given fields: columns are
// reordered, missing columns are padded with nulls and mismatched types are
// relaxed cell-wise.
func Conform(f *Frame, fields []Field) (*Frame, error) {
	out := New()
	out.rows = f.NumRows()
	for _, field := range fields {
		src := f.Column(field.Name)
		if src == nil {
			col := NewColumn(field.Name, field.Tp, f.NumRows())
			for i := 0; i < f.NumRows(); i++ {
				col.AppendNull()
			}
			if err := out.AddColumn(col); err != nil {
				return nil, err
			}
			continue
		}
		col, err := CastColumn(src, field.Tp)
		if err != nil {
			return nil, err
		}
		if err := out.AddColumn(col); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// CastColumn relaxes a column to the target type. Same-type casts reuse the
// backing store; anything else converts cell-wise, degrading unparseable
// cells to null.
func CastColumn(src *Column, tp DataType) (*Column, error) {
	if src.Tp.Name() == tp.Name() {
		return src, nil
	}
	out := NewColumn(src.Name, tp, src.Len())
	for i := 0; i < src.Len(); i++ {
		s, ok := src.Render(i)
		if !ok {
			out.AppendNull()
			continue
		}
		v, ok := tp.ParseString(s)
		if !ok {
			out.AppendNull()
			continue
		}
		out.Append(v)
	}
	return out, nil
}

// ConcatRelaxed merges frames by column-name union with type relaxation:
// a column missing in one frame is padded with nulls, type mismatches widen
// to a common type. No rows are dropped.
func ConcatRelaxed(frames []*Frame) (*Frame, error) {
	if len(frames) == 0 {
		return New(), nil
	}
	fields := UnionFields(frames)
	out := New()
	rows := 0
	for _, f := range frames {
		rows += f.NumRows()
	}
	out.rows = rows
	for _, field := range fields {
		col := NewColumn(field.Name, field.Tp, rows)
		for _, f := range frames {
			conformed := f.Column(field.Name)
			if conformed == nil {
				for i := 0; i < f.NumRows(); i++ {
					col.AppendNull()
				}
				continue
			}
			casted, err := CastColumn(conformed, field.Tp)
			if err != nil {
				return nil, errors.Wrapf(err, "column %q", field.Name)
			}
			for i := 0; i < casted.Len(); i++ {
				v, ok := casted.Value(i)
				if !ok {
					col.AppendNull()
					continue
				}
				col.Append(v)
			}
		}
		if err := out.AddColumn(col); err != nil {
			return nil, err
		}
	}
	return out, nil
}
