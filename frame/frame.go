// Package frame is the in-memory columnar substrate of the ingestion
// pipeline: typed columns with validity masks, JSON record ingestion and
// arrow interop for parquet I/O.
package frame

import (
	"github.com/apache/arrow/go/v18/arrow"
	"github.com/apache/arrow/go/v18/arrow/array"
	"github.com/apache/arrow/go/v18/arrow/memory"
	"github.com/pkg/errors"
)

// Column is one named, typed column. Data holds the native slice for Tp,
// Valid marks non-null cells. Both always have the same length.
type Column struct {
	Name  string
	Tp    DataType
	Data  any
	Valid []bool
}

func NewColumn(name string, tp DataType, capacity int) *Column {
	return &Column{
		Name:  name,
		Tp:    tp,
		Data:  tp.MakeStore(capacity),
		Valid: make([]bool, 0, capacity),
	}
}

func (c *Column) Len() int { return c.Tp.Length(c.Data) }

func (c *Column) AppendNull() {
	c.Data = c.Tp.AppendNull(c.Data)
	c.Valid = append(c.Valid, false)
}

// Append appends a native value; a value of the wrong native type degrades
// to null.
func (c *Column) Append(v any) {
	if v == nil {
		c.AppendNull()
		return
	}
	data, ok := c.Tp.Append(c.Data, v)
	if !ok {
		c.AppendNull()
		return
	}
	c.Data = data
	c.Valid = append(c.Valid, true)
}

// Value returns the i-th native value and whether it is non-null.
func (c *Column) Value(i int) (any, bool) {
	if !c.Valid[i] {
		return nil, false
	}
	return c.Tp.Value(c.Data, i), true
}

// Render formats the i-th value as a string; null renders as "", false.
func (c *Column) Render(i int) (string, bool) {
	if !c.Valid[i] {
		return "", false
	}
	return c.Tp.Render(c.Data, i), true
}

// NullCount returns the number of null cells.
func (c *Column) NullCount() int {
	n := 0
	for _, v := range c.Valid {
		if !v {
			n++
		}
	}
	return n
}

// Frame is an ordered set of equally sized columns.
type Frame struct {
	cols   []*Column
	byName map[string]int
	rows   int
}

func New() *Frame {
	return &Frame{byName: map[string]int{}}
}

func (f *Frame) NumRows() int { return f.rows }
func (f *Frame) NumCols() int { return len(f.cols) }

func (f *Frame) Columns() []*Column { return f.cols }

func (f *Frame) Names() []string {
	names := make([]string, len(f.cols))
	for i, c := range f.cols {
		names[i] = c.Name
	}
	return names
}

func (f *Frame) Column(name string) *Column {
	i, ok := f.byName[name]
	if !ok {
		return nil
	}
	return f.cols[i]
}

func (f *Frame) HasColumn(name string) bool {
	_, ok := f.byName[name]
	return ok
}

func (f *Frame) AddColumn(c *Column) error {
	if _, ok := f.byName[c.Name]; ok {
		return errors.Errorf("duplicate column %q", c.Name)
	}
	if len(f.cols) == 0 && f.rows == 0 {
		f.rows = c.Len()
	} else if c.Len() != f.rows {
		return errors.Errorf("column %q length %d does not match frame height %d",
			c.Name, c.Len(), f.rows)
	}
	f.byName[c.Name] = len(f.cols)
	f.cols = append(f.cols, c)
	return nil
}

// ReplaceColumn swaps the column of the same name in place, or appends it.
func (f *Frame) ReplaceColumn(c *Column) error {
	i, ok := f.byName[c.Name]
	if !ok {
		return f.AddColumn(c)
	}
	if c.Len() != f.rows {
		return errors.Errorf("column %q length %d does not match frame height %d",
			c.Name, c.Len(), f.rows)
	}
	f.cols[i] = c
	return nil
}

func (f *Frame) Rename(old, new string) error {
	if old == new {
		return nil
	}
	i, ok := f.byName[old]
	if !ok {
		return nil
	}
	if _, dup := f.byName[new]; dup {
		return errors.Errorf("rename %q: column %q already exists", old, new)
	}
	delete(f.byName, old)
	f.byName[new] = i
	f.cols[i].Name = new
	return nil
}

// PromoteFirst moves the named column to position 0, keeping the relative
// order of the remaining columns.
func (f *Frame) PromoteFirst(name string) {
	i, ok := f.byName[name]
	if !ok || i == 0 {
		return
	}
	col := f.cols[i]
	copy(f.cols[1:i+1], f.cols[:i])
	f.cols[0] = col
	for j, c := range f.cols {
		f.byName[c.Name] = j
	}
}

// Schema builds the arrow schema matching the frame's column order.
func (f *Frame) Schema() *arrow.Schema {
	fields := make([]arrow.Field, len(f.cols))
	for i, c := range f.cols {
		fields[i] = arrow.Field{Name: c.Name, Type: c.Tp.ArrowDataType(), Nullable: true}
	}
	return arrow.NewSchema(fields, nil)
}

// ToRecord materializes the frame as one arrow record. The caller owns the
// returned record and must Release it.
func (f *Frame) ToRecord(mem memory.Allocator) (arrow.Record, error) {
	builder := array.NewRecordBuilder(mem, f.Schema())
	defer builder.Release()
	for i, c := range f.cols {
		if err := c.Tp.WriteToBatch(builder.Field(i), c.Data, c.Valid); err != nil {
			return nil, errors.Wrapf(err, "column %q", c.Name)
		}
	}
	return builder.NewRecord(), nil
}

// FromArrowTable converts a table read back from parquet. Only the arrow
// types this package writes are accepted.
func FromArrowTable(tbl arrow.Table) (*Frame, error) {
	f := New()
	f.rows = int(tbl.NumRows())
	schema := tbl.Schema()
	for i := 0; i < int(tbl.NumCols()); i++ {
		field := schema.Field(i)
		tp, err := FromArrowType(field.Type)
		if err != nil {
			return nil, errors.Wrapf(err, "column %q", field.Name)
		}
		col := NewColumn(field.Name, tp, f.rows)
		for _, chunk := range tbl.Column(i).Data().Chunks() {
			if err := appendArrowChunk(col, chunk); err != nil {
				return nil, errors.Wrapf(err, "column %q", field.Name)
			}
		}
		if err := f.AddColumn(col); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func appendArrowChunk(col *Column, chunk arrow.Array) error {
	switch arr := chunk.(type) {
	case *array.String:
		for i := 0; i < arr.Len(); i++ {
			if arr.IsNull(i) {
				col.AppendNull()
			} else {
				col.Append(arr.Value(i))
			}
		}
	case *array.Int64:
		for i := 0; i < arr.Len(); i++ {
			if arr.IsNull(i) {
				col.AppendNull()
			} else {
				col.Append(arr.Value(i))
			}
		}
	case *array.Float64:
		for i := 0; i < arr.Len(); i++ {
			if arr.IsNull(i) {
				col.AppendNull()
			} else {
				col.Append(arr.Value(i))
			}
		}
	case *array.Boolean:
		for i := 0; i < arr.Len(); i++ {
			if arr.IsNull(i) {
				col.AppendNull()
			} else {
				col.Append(arr.Value(i))
			}
		}
	case *array.Timestamp:
		tsType, ok := arr.DataType().(*arrow.TimestampType)
		if !ok {
			return errors.Errorf("unexpected timestamp array type %T", arr.DataType())
		}
		for i := 0; i < arr.Len(); i++ {
			if arr.IsNull(i) {
				col.AppendNull()
			} else {
				col.Append(arr.Value(i).ToTime(tsType.Unit).UTC())
			}
		}
	default:
		return errors.Errorf("unsupported arrow array %T", chunk)
	}
	return nil
}
