package ingest

import (
	"context"
	"net/url"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/pkg/errors"

	"github.com/metrico/openlake/frame"
	"github.com/metrico/openlake/storage"
	"github.com/metrico/openlake/transform"
)

// rawMedium pages through the dataset with $limit/$offset and writes one
// flat chunk file per page. Paging stops at the first empty page.
func (a *Asset) rawMedium(ctx context.Context, rc *RunContext, res *Resources) error {
	limit := a.limit()
	total := 0
	batch := 1
	for offset := 0; ; offset += limit {
		params := url.Values{}
		params.Set("$limit", strconv.Itoa(limit))
		params.Set("$offset", strconv.Itoa(offset))
		if a.OrderField != "" {
			params.Set("$order", a.OrderField)
		}
		if a.WhereClause != "" {
			params.Set("$where", a.WhereClause)
		}
		for k, v := range a.ExtraParams {
			params.Set(k, v)
		}

		recs, err := res.Client.Fetch(ctx, a.Endpoint, params)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			break
		}
		f, err := frame.FromRecords(recs)
		if err != nil {
			return err
		}
		rc.Log.Infof("chunk %d: %d rows", batch, f.NumRows())
		if err := res.RawMedium.WriteChunk(a.RawKey(), batch, f, 0, 0); err != nil {
			return err
		}
		total += f.NumRows()
		batch++
	}
	rc.Record("row_count", total)
	rc.Record("chunk_count", batch-1)
	return nil
}

// cleanMedium transforms each raw chunk independently, unions the results
// by name with dtype relaxation and streams them into one clean file.
func (a *Asset) cleanMedium(ctx context.Context, rc *RunContext, res *Resources, enrich transform.Enricher) error {
	dir := res.RawMedium.AssetDir(a.RawKey())
	paths, err := filepath.Glob(filepath.Join(dir, "*.parquet"))
	if err != nil {
		return errors.Wrap(err, "glob raw chunks")
	}
	if len(paths) == 0 {
		rc.Log.Warnf("no raw chunks under %s, skipping", dir)
		return nil
	}
	sort.Strings(paths)

	frames := make([]*frame.Frame, 0, len(paths))
	total := 0
	for _, p := range paths {
		raw, err := storage.ReadFile(p)
		if err != nil {
			return err
		}
		clean, err := transform.Transform(raw, a.Schema, a.OrderField, enrich)
		if err != nil {
			return errors.Wrapf(err, "transform %s", filepath.Base(p))
		}
		total += clean.NumRows()
		frames = append(frames, clean)
	}
	rc.Record("row_count", total)
	fields := frame.UnionFields(frames)
	return res.CleanMedium.WriteSingleStreamed(a.Name, fields, storage.NewSliceSource(frames))
}
