package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frameFromRecords(t *testing.T, recs []Record) *Frame {
	t.Helper()
	f, err := FromRecords(recs)
	require.NoError(t, err)
	return f
}

func singleColumnFrame(t *testing.T, name string, tp DataType, values []any) *Frame {
	t.Helper()
	col := NewColumn(name, tp, len(values))
	for _, v := range values {
		col.Append(v)
	}
	f := New()
	require.NoError(t, f.AddColumn(col))
	return f
}

func TestUnionFieldsKeepsFirstSeenOrder(t *testing.T) {
	a := frameFromRecords(t, []Record{{"id": "1", "name": "x"}})
	b := frameFromRecords(t, []Record{{"name": "y", "score": 1.5}})

	fields := UnionFields([]*Frame{a, b})
	names := make([]string, 0, len(fields))
	for _, fld := range fields {
		names = append(names, fld.Name)
	}
	assert.Equal(t, []string{"id", "name", "score"}, names)
}

func TestUnionFieldsWidensIntFloat(t *testing.T) {
	a := singleColumnFrame(t, "v", Int64, []any{int64(1)})
	b := singleColumnFrame(t, "v", Float64, []any{2.5})

	fields := UnionFields([]*Frame{a, b})
	require.Len(t, fields, 1)
	assert.Equal(t, DATA_TYPE_NAME_FLOAT64, fields[0].Tp.Name())
}

func TestUnionFieldsDisagreementFallsBackToString(t *testing.T) {
	a := frameFromRecords(t, []Record{{"v": 1.0}})
	b := frameFromRecords(t, []Record{{"v": true}})

	fields := UnionFields([]*Frame{a, b})
	require.Len(t, fields, 1)
	assert.Equal(t, DATA_TYPE_NAME_STRING, fields[0].Tp.Name())
}

func TestConcatRelaxedPadsMissingColumns(t *testing.T) {
	a := frameFromRecords(t, []Record{
		{"id": "1", "name": "x"},
		{"id": "2", "name": "y"},
	})
	b := frameFromRecords(t, []Record{
		{"id": "3", "score": 7.0},
	})

	merged, err := ConcatRelaxed([]*Frame{a, b})
	require.NoError(t, err)
	assert.Equal(t, 3, merged.NumRows())
	assert.Equal(t, []string{"id", "name", "score"}, merged.Names())

	name := merged.Column("name")
	require.NotNil(t, name)
	assert.Equal(t, 1, name.NullCount())

	score := merged.Column("score")
	require.NotNil(t, score)
	assert.Equal(t, 2, score.NullCount())
	v, ok := score.Value(2)
	require.True(t, ok)
	assert.Equal(t, 7.0, v)
}

func TestConcatRelaxedWidensAcrossFrames(t *testing.T) {
	a := singleColumnFrame(t, "v", Int64, []any{int64(2)})
	b := singleColumnFrame(t, "v", Float64, []any{3.5})

	merged, err := ConcatRelaxed([]*Frame{a, b})
	require.NoError(t, err)
	col := merged.Column("v")
	require.NotNil(t, col)
	assert.Equal(t, DATA_TYPE_NAME_FLOAT64, col.Tp.Name())

	v0, ok := col.Value(0)
	require.True(t, ok)
	assert.Equal(t, 2.0, v0)
}

func TestCastColumnUnparseableBecomesNull(t *testing.T) {
	f := frameFromRecords(t, []Record{{"v": "12"}, {"v": "nope"}})
	col, err := CastColumn(f.Column("v"), Int64)
	require.NoError(t, err)

	v0, ok := col.Value(0)
	require.True(t, ok)
	assert.Equal(t, int64(12), v0)
	_, ok = col.Value(1)
	assert.False(t, ok)
}
