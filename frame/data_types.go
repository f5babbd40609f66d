package frame

import (
	"strconv"
	"strings"
	"time"

	"github.com/apache/arrow/go/v18/arrow"
	"github.com/apache/arrow/go/v18/arrow/array"
	"github.com/pkg/errors"
)

const DATA_TYPE_NAME_STRING = "VARCHAR"
const DATA_TYPE_NAME_INT64 = "BIGINT"
const DATA_TYPE_NAME_FLOAT64 = "DOUBLE"
const DATA_TYPE_NAME_BOOL = "BOOLEAN"
const DATA_TYPE_NAME_TIMESTAMP = "TIMESTAMP"

// DataType is the strategy for one column scalar type: it owns the backing
// store ([]T), the parquet/arrow mapping and the non-strict string parser.
type DataType interface {
	Name() string
	ArrowDataType() arrow.DataType
	MakeStore(capacity int) any
	AppendNull(store any) any
	// Append appends a native value. ok is false when v is not of the
	// store's native type.
	Append(store any, v any) (newStore any, ok bool)
	// ParseString parses s into the native type. ok is false when the
	// value cannot be parsed (the caller appends a null instead).
	ParseString(s string) (v any, ok bool)
	Length(store any) int
	Value(store any, i int) any
	// Render formats the i-th value for relaxed casts to VARCHAR.
	Render(store any, i int) string
	WriteToBatch(batch array.Builder, store any, valid []bool) error
}

var (
	String    DataType = stringType{}
	Int64     DataType = int64Type{}
	Float64   DataType = float64Type{}
	Bool      DataType = boolType{}
	Timestamp DataType = timestampType{}
)

// TimestampLayouts are tried in order when parsing timestamp cells. Socrata
// floating timestamps come first.
var TimestampLayouts = []string{
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func ParseTimestamp(s string) (time.Time, bool) {
	for _, layout := range TimestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// FromArrowType maps the arrow types this package writes back to a DataType.
func FromArrowType(dt arrow.DataType) (DataType, error) {
	switch dt.(type) {
	case *arrow.StringType:
		return String, nil
	case *arrow.Int64Type:
		return Int64, nil
	case *arrow.Float64Type:
		return Float64, nil
	case *arrow.BooleanType:
		return Bool, nil
	case *arrow.TimestampType:
		return Timestamp, nil
	}
	return nil, errors.Errorf("unsupported arrow data type: %s", dt)
}

type stringType struct{}

func (stringType) Name() string                  { return DATA_TYPE_NAME_STRING }
func (stringType) ArrowDataType() arrow.DataType { return arrow.BinaryTypes.String }
func (stringType) MakeStore(capacity int) any    { return make([]string, 0, capacity) }
func (stringType) AppendNull(store any) any      { return append(store.([]string), "") }
func (stringType) Append(store any, v any) (any, bool) {
	s, ok := v.(string)
	if !ok {
		return store, false
	}
	return append(store.([]string), s), true
}
func (stringType) ParseString(s string) (any, bool) { return s, true }
func (stringType) Length(store any) int             { return len(store.([]string)) }
func (stringType) Value(store any, i int) any       { return store.([]string)[i] }
func (stringType) Render(store any, i int) string   { return store.([]string)[i] }
func (stringType) WriteToBatch(batch array.Builder, store any, valid []bool) error {
	b, ok := batch.(*array.StringBuilder)
	if !ok {
		return errors.Errorf("expected string builder, got %T", batch)
	}
	b.AppendValues(store.([]string), valid)
	return nil
}

type int64Type struct{}

func (int64Type) Name() string                  { return DATA_TYPE_NAME_INT64 }
func (int64Type) ArrowDataType() arrow.DataType { return arrow.PrimitiveTypes.Int64 }
func (int64Type) MakeStore(capacity int) any    { return make([]int64, 0, capacity) }
func (int64Type) AppendNull(store any) any      { return append(store.([]int64), 0) }
func (int64Type) Append(store any, v any) (any, bool) {
	i, ok := v.(int64)
	if !ok {
		return store, false
	}
	return append(store.([]int64), i), true
}
func (int64Type) ParseString(s string) (any, bool) {
	i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return int64(0), false
	}
	return i, true
}
func (int64Type) Length(store any) int           { return len(store.([]int64)) }
func (int64Type) Value(store any, i int) any     { return store.([]int64)[i] }
func (int64Type) Render(store any, i int) string { return strconv.FormatInt(store.([]int64)[i], 10) }
func (int64Type) WriteToBatch(batch array.Builder, store any, valid []bool) error {
	b, ok := batch.(*array.Int64Builder)
	if !ok {
		return errors.Errorf("expected int64 builder, got %T", batch)
	}
	b.AppendValues(store.([]int64), valid)
	return nil
}

type float64Type struct{}

func (float64Type) Name() string                  { return DATA_TYPE_NAME_FLOAT64 }
func (float64Type) ArrowDataType() arrow.DataType { return arrow.PrimitiveTypes.Float64 }
func (float64Type) MakeStore(capacity int) any    { return make([]float64, 0, capacity) }
func (float64Type) AppendNull(store any) any      { return append(store.([]float64), 0) }
func (float64Type) Append(store any, v any) (any, bool) {
	switch f := v.(type) {
	case float64:
		return append(store.([]float64), f), true
	case int64:
		return append(store.([]float64), float64(f)), true
	}
	return store, false
}
func (float64Type) ParseString(s string) (any, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return float64(0), false
	}
	return f, true
}
func (float64Type) Length(store any) int       { return len(store.([]float64)) }
func (float64Type) Value(store any, i int) any { return store.([]float64)[i] }
func (float64Type) Render(store any, i int) string {
	return strconv.FormatFloat(store.([]float64)[i], 'f', -1, 64)
}
func (float64Type) WriteToBatch(batch array.Builder, store any, valid []bool) error {
	b, ok := batch.(*array.Float64Builder)
	if !ok {
		return errors.Errorf("expected float64 builder, got %T", batch)
	}
	b.AppendValues(store.([]float64), valid)
	return nil
}

type boolType struct{}

func (boolType) Name() string                  { return DATA_TYPE_NAME_BOOL }
func (boolType) ArrowDataType() arrow.DataType { return arrow.FixedWidthTypes.Boolean }
func (boolType) MakeStore(capacity int) any    { return make([]bool, 0, capacity) }
func (boolType) AppendNull(store any) any      { return append(store.([]bool), false) }
func (boolType) Append(store any, v any) (any, bool) {
	b, ok := v.(bool)
	if !ok {
		return store, false
	}
	return append(store.([]bool), b), true
}
func (boolType) ParseString(s string) (any, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y", "yes":
		return true, true
	case "n", "no":
		return false, true
	}
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return false, false
	}
	return b, true
}
func (boolType) Length(store any) int           { return len(store.([]bool)) }
func (boolType) Value(store any, i int) any     { return store.([]bool)[i] }
func (boolType) Render(store any, i int) string { return strconv.FormatBool(store.([]bool)[i]) }
func (boolType) WriteToBatch(batch array.Builder, store any, valid []bool) error {
	b, ok := batch.(*array.BooleanBuilder)
	if !ok {
		return errors.Errorf("expected boolean builder, got %T", batch)
	}
	b.AppendValues(store.([]bool), valid)
	return nil
}

type timestampType struct{}

func (timestampType) Name() string { return DATA_TYPE_NAME_TIMESTAMP }
func (timestampType) ArrowDataType() arrow.DataType {
	return &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}
}
func (timestampType) MakeStore(capacity int) any { return make([]time.Time, 0, capacity) }
func (timestampType) AppendNull(store any) any   { return append(store.([]time.Time), time.Time{}) }
func (timestampType) Append(store any, v any) (any, bool) {
	t, ok := v.(time.Time)
	if !ok {
		return store, false
	}
	return append(store.([]time.Time), t), true
}
func (timestampType) ParseString(s string) (any, bool) {
	t, ok := ParseTimestamp(s)
	if !ok {
		return time.Time{}, false
	}
	return t, true
}
func (timestampType) Length(store any) int       { return len(store.([]time.Time)) }
func (timestampType) Value(store any, i int) any { return store.([]time.Time)[i] }
func (timestampType) Render(store any, i int) string {
	return store.([]time.Time)[i].UTC().Format("2006-01-02T15:04:05.000")
}
func (timestampType) WriteToBatch(batch array.Builder, store any, valid []bool) error {
	b, ok := batch.(*array.TimestampBuilder)
	if !ok {
		return errors.Errorf("expected timestamp builder, got %T", batch)
	}
	times := store.([]time.Time)
	for i, t := range times {
		if !valid[i] {
			b.AppendNull()
			continue
		}
		b.Append(arrow.Timestamp(t.UnixMicro()))
	}
	return nil
}

// Widen returns the narrowest type both a and b relax to without data loss.
// Numeric pairs widen to DOUBLE, everything else falls back to VARCHAR.
func Widen(a, b DataType) DataType {
	if a.Name() == b.Name() {
		return a
	}
	n := a.Name() + "/" + b.Name()
	if n == DATA_TYPE_NAME_INT64+"/"+DATA_TYPE_NAME_FLOAT64 ||
		n == DATA_TYPE_NAME_FLOAT64+"/"+DATA_TYPE_NAME_INT64 {
		return Float64
	}
	return String
}
