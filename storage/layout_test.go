package storage

import (
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metrico/openlake/frame"
)

func testFrame(t *testing.T, recs []frame.Record) *frame.Frame {
	t.Helper()
	f, err := frame.FromRecords(recs)
	require.NoError(t, err)
	return f
}

func TestPathIsPureFunctionOfInputs(t *testing.T) {
	single, err := NewLayout("/lake/clean", ModeSingle)
	require.NoError(t, err)
	p, err := single.Path("crimes", PathOpts{})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/lake/clean", "crimes", "crimes.parquet"), p)

	flat, err := NewLayout("/lake/raw", ModeFlatChunk)
	require.NoError(t, err)
	p, err = flat.Path("crimes_raw", PathOpts{Batch: 3})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/lake/raw", "crimes_raw", "crimes_raw_3.parquet"), p)

	hive, err := NewLayout("/lake/raw", ModeHiveChunk)
	require.NoError(t, err)
	p, err = hive.Path("crimes_raw", PathOpts{Batch: 1, Year: 2024, Month: 3})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/lake/raw", "crimes_raw", "year=2024", "month=03", "crimes_raw_202403_1.parquet"), p)

	p, err = hive.Path("crimes_raw", PathOpts{Batch: 1, Year: 2024})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/lake/raw", "crimes_raw", "year=2024", "crimes_raw_2024_1.parquet"), p)
}

func TestPathModeRequirements(t *testing.T) {
	flat, err := NewLayout("/lake", ModeFlatChunk)
	require.NoError(t, err)
	_, err = flat.Path("a", PathOpts{})
	assert.Error(t, err)

	hive, err := NewLayout("/lake", ModeHiveChunk)
	require.NoError(t, err)
	_, err = hive.Path("a", PathOpts{Batch: 1})
	assert.Error(t, err)
	_, err = hive.Path("a", PathOpts{Year: 2024})
	assert.Error(t, err)
}

func TestUnknownModeRejected(t *testing.T) {
	_, err := NewLayout("/lake", Mode("partitioned"))
	assert.Error(t, err)
}

func TestWriteSingleRoundtrip(t *testing.T) {
	l, err := NewLayout(t.TempDir(), ModeSingle)
	require.NoError(t, err)

	in := testFrame(t, []frame.Record{
		{"id": "1", "amount": 10.5},
		{"id": "2", "amount": 11.0},
	})
	require.NoError(t, l.WriteSingle("sales", in))

	out, err := l.ReadSingle("sales")
	require.NoError(t, err)
	assert.Equal(t, 2, out.NumRows())
	assert.Equal(t, []string{"amount", "id"}, sortedNames(out))

	v, ok := out.Column("amount").Value(1)
	require.True(t, ok)
	assert.Equal(t, 11.0, v)
}

func TestWriteSinglePrunesAllNullColumns(t *testing.T) {
	l, err := NewLayout(t.TempDir(), ModeSingle)
	require.NoError(t, err)

	in := testFrame(t, []frame.Record{
		{"id": "1", "empty": nil},
		{"id": "2", "empty": nil},
	})
	require.NoError(t, l.WriteSingle("sales", in))

	out, err := l.ReadSingle("sales")
	require.NoError(t, err)
	assert.True(t, out.HasColumn("id"))
	assert.False(t, out.HasColumn("empty"))
}

func TestWriteSingleStreamedKeepsAllNullColumns(t *testing.T) {
	l, err := NewLayout(t.TempDir(), ModeSingle)
	require.NoError(t, err)

	frames := []*frame.Frame{
		testFrame(t, []frame.Record{{"id": "1", "empty": nil}}),
		testFrame(t, []frame.Record{{"id": "2", "empty": nil}}),
	}
	fields := frame.UnionFields(frames)
	require.NoError(t, l.WriteSingleStreamed("sales", fields, NewSliceSource(frames)))

	out, err := l.ReadSingle("sales")
	require.NoError(t, err)
	assert.Equal(t, 2, out.NumRows())
	assert.True(t, out.HasColumn("empty"))
	assert.Equal(t, 2, out.Column("empty").NullCount())
}

func TestWriteChunkRejectedInSingleMode(t *testing.T) {
	l, err := NewLayout(t.TempDir(), ModeSingle)
	require.NoError(t, err)
	f := testFrame(t, []frame.Record{{"id": "1"}})
	assert.Error(t, l.WriteChunk("a", 1, f, 0, 0))
}

func TestReadSingleMissingFile(t *testing.T) {
	l, err := NewLayout(t.TempDir(), ModeSingle)
	require.NoError(t, err)
	_, err = l.ReadSingle("absent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWriteChunkHiveRoundtrip(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLayout(dir, ModeHiveChunk)
	require.NoError(t, err)

	f := testFrame(t, []frame.Record{{"id": "1"}, {"id": "2"}, {"id": "3"}})
	require.NoError(t, l.WriteChunk("events_raw", 1, f, 2024, 7))

	path := filepath.Join(dir, "events_raw", "year=2024", "month=07", "events_raw_202407_1.parquet")
	out, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3, out.NumRows())
}

func sortedNames(f *frame.Frame) []string {
	names := append([]string(nil), f.Names()...)
	sort.Strings(names)
	return names
}
