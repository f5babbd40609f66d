package frame

import (
	"sort"
	"strconv"

	"github.com/pkg/errors"
)

// Record is one decoded API row: field name to scalar (string, float64,
// bool or nil). Nested JSON values arrive pre-rendered as strings.
type Record = map[string]any

// sortedKeys keeps column discovery deterministic regardless of map
// iteration order.
func sortedKeys(rec Record) []string {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func kindOf(v any) (DataType, bool) {
	switch v.(type) {
	case string:
		return String, true
	case float64:
		return Float64, true
	case bool:
		return Bool, true
	}
	return nil, false
}

// FromRecords builds a frame from raw API records. Column order is
// first-seen key order, column types are inferred per key and widened when
// records disagree (schema drift within a batch). Keys missing from a
// record become nulls.
func FromRecords(records []Record) (*Frame, error) {
	var order []string
	types := map[string]DataType{}
	for _, rec := range records {
		for _, k := range sortedKeys(rec) {
			v := rec[k]
			tp, ok := kindOf(v)
			if !ok {
				if v != nil {
					return nil, errors.Errorf("field %q: unsupported value type %T", k, v)
				}
			}
			prev, seen := types[k]
			if !seen {
				order = append(order, k)
				types[k] = tp // may be nil for all-null-so-far
				continue
			}
			if tp == nil {
				continue
			}
			if prev == nil {
				types[k] = tp
			} else {
				types[k] = Widen(prev, tp)
			}
		}
	}
	f := New()
	f.rows = len(records)
	for _, name := range order {
		tp := types[name]
		if tp == nil {
			tp = String
		}
		col := NewColumn(name, tp, len(records))
		for _, rec := range records {
			v, ok := rec[name]
			if !ok || v == nil {
				col.AppendNull()
				continue
			}
			col.Append(coerce(tp, v))
		}
		if err := f.AddColumn(col); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// coerce adapts a decoded JSON scalar to the column's widened type.
func coerce(tp DataType, v any) any {
	switch tp.Name() {
	case DATA_TYPE_NAME_STRING:
		switch x := v.(type) {
		case string:
			return x
		case float64:
			return strconv.FormatFloat(x, 'f', -1, 64)
		case bool:
			return strconv.FormatBool(x)
		}
	case DATA_TYPE_NAME_FLOAT64:
		if f, ok := v.(float64); ok {
			return f
		}
	case DATA_TYPE_NAME_BOOL:
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return v
}
