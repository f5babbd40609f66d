package ingest

import (
	"context"
	"net/url"
	"strconv"

	"github.com/metrico/openlake/frame"
	"github.com/metrico/openlake/storage"
	"github.com/metrico/openlake/transform"
)

// rawSingle performs one bulk fetch capped at the row limit and writes the
// whole batch as the asset's single raw file.
func (a *Asset) rawSingle(ctx context.Context, rc *RunContext, res *Resources) error {
	params := url.Values{}
	params.Set("$limit", strconv.Itoa(a.limit()))
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
	f, err := frame.FromRecords(recs)
	if err != nil {
		return err
	}
	rc.Log.Infof("downloaded %d rows", f.NumRows())
	rc.Record("row_count", f.NumRows())
	return res.RawSingle.WriteSingle(a.RawKey(), f)
}

// cleanSingle reads the raw file back, normalizes it and streams the
// result into the clean layout without a second materialization.
func (a *Asset) cleanSingle(ctx context.Context, rc *RunContext, res *Resources, enrich transform.Enricher) error {
	raw, err := res.RawSingle.ReadSingle(a.RawKey())
	if err != nil {
		return err
	}
	clean, err := transform.Transform(raw, a.Schema, a.OrderField, enrich)
	if err != nil {
		return err
	}
	rc.Record("row_count", clean.NumRows())
	fields := frame.UnionFields([]*frame.Frame{clean})
	return res.CleanSingle.WriteSingleStreamed(a.Name, fields, storage.NewSliceSource([]*frame.Frame{clean}))
}
