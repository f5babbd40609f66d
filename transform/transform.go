// Package transform is the pure schema-normalization engine: column-name
// canonicalization, declared casts, enrichment and the canonical date
// column every clean output carries.
package transform

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"github.com/metrico/openlake/frame"
)

// DateColumn mirrors the dataset's ordering field in every clean output so
// downstream consumers can query any asset by time without knowing its
// domain-specific column name.
const DateColumn = "date_column"

// SchemaConfig declares the per-asset normalization: renames applied after
// snake-casing, and the destination columns requiring a cast.
type SchemaConfig struct {
	RenameMap map[string]string `yaml:"rename_map"`
	DateCols  []string          `yaml:"date_cols"`
	IntCols   []string          `yaml:"int_cols"`
	FloatCols []string          `yaml:"float_cols"`
	BoolCols  []string          `yaml:"bool_cols"`
}

var invalidChars = regexp.MustCompile(`[^0-9a-z_]+`)

// SnakeCase normalizes a column name to lowercase snake case. Idempotent.
func SnakeCase(name string) string {
	s := strings.ToLower(name)
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "-", "_")
	return invalidChars.ReplaceAllString(s, "")
}

// OrderToken extracts the column token from an ORDER BY expressions like
// "ts ASC", "`timestamp` DESC" or "\"TimeStamp\" asc".
func OrderToken(orderField string) string {
	token := strings.TrimSpace(orderField)
	if i := strings.IndexAny(token, " \t"); i >= 0 {
		token = token[:i]
	}
	return strings.Trim(token, "`\"")
}

// Transform normalizes one raw batch. Steps run in fixed order: snake-case
// names, rename map, declared casts, enrichment, canonical date column
// derivation. Pure: no I/O, deterministic for a given input.
func Transform(f *frame.Frame, cfg *SchemaConfig, orderField string, enrich Enricher) (*frame.Frame, error) {
	if cfg == nil {
		return nil, errors.New("schema config is required")
	}
	if orderField == "" {
		return nil, errors.New("order field is required")
	}
	if enrich == nil {
		enrich = NoopEnricher{}
	}

	// 1. snake-case every column name
	for _, name := range f.Names() {
		if err := f.Rename(name, SnakeCase(name)); err != nil {
			return nil, errors.Wrap(err, "normalize column names")
		}
	}

	// 2. configured renames (post-normalization keys)
	for old, new := range cfg.RenameMap {
		if err := f.Rename(old, new); err != nil {
			return nil, errors.Wrap(err, "apply rename map")
		}
	}

	// the ordering field is always treated as a date column
	token := SnakeCase(OrderToken(orderField))
	finalField := token
	if renamed, ok := cfg.RenameMap[token]; ok {
		finalField = renamed
	}
	dateCols := cfg.DateCols
	if !contains(dateCols, finalField) {
		dateCols = append(append([]string{}, dateCols...), finalField)
	}

	// 3. declared casts, non-strict: a cell that fails to parse becomes a
	// typed null, never an error for the batch
	casts := []struct {
		cols []string
		tp   frame.DataType
	}{
		{dateCols, frame.Timestamp},
		{cfg.IntCols, frame.Int64},
		{cfg.FloatCols, frame.Float64},
		{cfg.BoolCols, frame.Bool},
	}
	for _, c := range casts {
		for _, name := range c.cols {
			col := f.Column(name)
			if col == nil {
				continue
			}
			casted, err := frame.CastColumn(col, c.tp)
			if err != nil {
				return nil, errors.Wrapf(err, "cast column %q", name)
			}
			if err := f.ReplaceColumn(casted); err != nil {
				return nil, err
			}
		}
	}

	// 4. custom enrichment
	f, err := enrich.Enrich(f)
	if err != nil {
		return nil, errors.Wrap(err, "enrich")
	}

	// 5. canonical date column: synthesize the ordering field when the API
	// never returned it, mirror it into date_column, promote to first
	if !f.HasColumn(finalField) {
		col := frame.NewColumn(finalField, frame.Timestamp, f.NumRows())
		for i := 0; i < f.NumRows(); i++ {
			col.AppendNull()
		}
		if err := f.AddColumn(col); err != nil {
			return nil, err
		}
	}
	src := f.Column(finalField)
	mirror := &frame.Column{Name: DateColumn, Tp: src.Tp, Data: src.Data, Valid: src.Valid}
	if err := f.ReplaceColumn(mirror); err != nil {
		return nil, err
	}
	f.PromoteFirst(DateColumn)
	return f, nil
}

func contains(cols []string, name string) bool {
	for _, c := range cols {
		if c == name {
			return true
		}
	}
	return false
}
