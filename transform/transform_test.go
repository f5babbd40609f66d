package transform

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metrico/openlake/frame"
)

func TestSnakeCase(t *testing.T) {
	assert.Equal(t, "report_date", SnakeCase("Report Date"))
	assert.Equal(t, "unit_id", SnakeCase("Unit-ID"))
	assert.Equal(t, "pct_", SnakeCase("pct (%)"))
	// already-normalized names pass through untouched
	assert.Equal(t, "report_date", SnakeCase("report_date"))
}

func TestOrderToken(t *testing.T) {
	assert.Equal(t, "created_date", OrderToken("created_date DESC"))
	assert.Equal(t, "created_date", OrderToken("`created_date` ASC"))
	assert.Equal(t, "created_date", OrderToken("created_date"))
}

func mustFrame(t *testing.T, recs []frame.Record) *frame.Frame {
	t.Helper()
	f, err := frame.FromRecords(recs)
	require.NoError(t, err)
	return f
}

func TestTransformNormalizesAndCasts(t *testing.T) {
	f := mustFrame(t, []frame.Record{
		{"Report Date": "2024-03-01T10:00:00.000", "Unit Count": "12", "Ratio": "0.5"},
		{"Report Date": "2024-03-02T10:00:00.000", "Unit Count": "13", "Ratio": "0.75"},
	})
	cfg := &SchemaConfig{
		IntCols:   []string{"unit_count"},
		FloatCols: []string{"ratio"},
	}
	out, err := Transform(f, cfg, "report_date DESC", NoopEnricher{})
	require.NoError(t, err)

	// sort key first, its canonical mirror alongside
	assert.Equal(t, DateColumn, out.Names()[0])
	require.True(t, out.HasColumn("report_date"))
	assert.Equal(t, frame.DATA_TYPE_NAME_TIMESTAMP, out.Column("report_date").Tp.Name())
	assert.Equal(t, frame.DATA_TYPE_NAME_INT64, out.Column("unit_count").Tp.Name())
	assert.Equal(t, frame.DATA_TYPE_NAME_FLOAT64, out.Column("ratio").Tp.Name())

	v, ok := out.Column("report_date").Value(0)
	require.True(t, ok)
	ts, ok := v.(time.Time)
	require.True(t, ok)
	assert.Equal(t, 2024, ts.Year())
	assert.Equal(t, time.March, ts.Month())
}

func TestTransformRenameMapAppliesAfterSnakeCase(t *testing.T) {
	f := mustFrame(t, []frame.Record{{"Old Name": "v", "When": "2024-01-01T00:00:00.000"}})
	cfg := &SchemaConfig{
		RenameMap: map[string]string{"old_name": "new_name"},
	}
	out, err := Transform(f, cfg, "when", NoopEnricher{})
	require.NoError(t, err)
	assert.True(t, out.HasColumn("new_name"))
	assert.False(t, out.HasColumn("old_name"))
}

func TestTransformSynthesizesMissingDateColumn(t *testing.T) {
	f := mustFrame(t, []frame.Record{{"a": "1"}, {"a": "2"}})
	out, err := Transform(f, &SchemaConfig{}, "created_date", NoopEnricher{})
	require.NoError(t, err)

	require.True(t, out.HasColumn("created_date"))
	col := out.Column("created_date")
	assert.Equal(t, frame.DATA_TYPE_NAME_TIMESTAMP, col.Tp.Name())
	assert.Equal(t, out.NumRows(), col.NullCount())
	assert.Equal(t, DateColumn, out.Names()[0])
}

func TestTransformBadCastDegradesToNull(t *testing.T) {
	f := mustFrame(t, []frame.Record{
		{"n": "41", "d": "2024-01-01T00:00:00.000"},
		{"n": "not a number", "d": "2024-01-02T00:00:00.000"},
	})
	cfg := &SchemaConfig{IntCols: []string{"n"}}
	out, err := Transform(f, cfg, "d", NoopEnricher{})
	require.NoError(t, err)

	col := out.Column("n")
	v, ok := col.Value(0)
	require.True(t, ok)
	assert.Equal(t, int64(41), v)
	_, ok = col.Value(1)
	assert.False(t, ok)
}

func TestTransformSecondPassKeepsCellValues(t *testing.T) {
	f := mustFrame(t, []frame.Record{
		{"Report Date": "2024-03-01T10:00:00.000", "Unit Count": "12", "Note": "a"},
		{"Report Date": "2024-03-02T10:00:00.000", "Unit Count": "13", "Note": "b"},
	})
	cfg := &SchemaConfig{IntCols: []string{"unit_count"}}

	once, err := Transform(f, cfg, "report_date", NoopEnricher{})
	require.NoError(t, err)

	snapshot := map[string][]string{}
	for _, col := range once.Columns() {
		cells := make([]string, once.NumRows())
		for i := range cells {
			cells[i], _ = col.Render(i)
		}
		snapshot[col.Name] = cells
	}

	twice, err := Transform(once, cfg, "report_date", NoopEnricher{})
	require.NoError(t, err)

	assert.Equal(t, once.Names(), twice.Names())
	for _, col := range twice.Columns() {
		cells := make([]string, twice.NumRows())
		for i := range cells {
			cells[i], _ = col.Render(i)
		}
		assert.Equal(t, snapshot[col.Name], cells, col.Name)
	}
}

func TestExprEnricherAddsComputedColumn(t *testing.T) {
	f := mustFrame(t, []frame.Record{
		{"qty": 2.0, "price": 3.0, "d": "2024-01-01T00:00:00.000"},
	})
	enrich, err := NewExprEnricher(map[string]string{"total": "qty * price"})
	require.NoError(t, err)

	out, err := Transform(f, &SchemaConfig{}, "d", enrich)
	require.NoError(t, err)
	col := out.Column("total")
	require.NotNil(t, col)
	v, ok := col.Value(0)
	require.True(t, ok)
	assert.Equal(t, 6.0, v)
}
