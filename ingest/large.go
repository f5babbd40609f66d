package ingest

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/metrico/openlake/frame"
	"github.com/metrico/openlake/storage"
	"github.com/metrico/openlake/transform"
)

const windowTimeLayout = "2006-01-02T15:04:05"

// rawLarge downloads the dataset one calendar month at a time. Each window
// is paged independently and lands under year=YYYY/month=MM hive folders.
func (a *Asset) rawLarge(ctx context.Context, rc *RunContext, res *Resources) error {
	span, err := a.window()
	if err != nil {
		return err
	}
	token := transform.OrderToken(a.OrderField)
	limit := a.limit()
	total := 0

	cur := time.Date(span[0].Year(), span[0].Month(), 1, 0, 0, 0, 0, time.UTC)
	for cur.Before(span[1]) {
		next := cur.AddDate(0, 1, 0)
		where := fmt.Sprintf("%s >= '%s' AND %s < '%s'",
			token, cur.Format(windowTimeLayout), token, next.Format(windowTimeLayout))
		if a.WhereClause != "" {
			where = a.WhereClause + " AND " + where
		}

		rows, err := a.fetchWindow(ctx, rc, res, where, limit, cur)
		if err != nil {
			return errors.Wrapf(err, "window %s", cur.Format("2006-01"))
		}
		total += rows
		cur = next
	}
	rc.Record("row_count", total)
	return nil
}

// fetchWindow pages one monthly window. Chunk numbering restarts at 1 per
// window so files stay addressable within their partition folder.
func (a *Asset) fetchWindow(ctx context.Context, rc *RunContext, res *Resources, where string, limit int, win time.Time) (int, error) {
	total := 0
	batch := 1
	for offset := 0; ; offset += limit {
		params := url.Values{}
		params.Set("$limit", strconv.Itoa(limit))
		params.Set("$offset", strconv.Itoa(offset))
		params.Set("$where", where)
		if a.OrderField != "" {
			params.Set("$order", a.OrderField)
		}
		for k, v := range a.ExtraParams {
			params.Set(k, v)
		}

		recs, err := res.Client.Fetch(ctx, a.Endpoint, params)
		if err != nil {
			return total, err
		}
		if len(recs) == 0 {
			break
		}
		f, err := frame.FromRecords(recs)
		if err != nil {
			return total, err
		}
		rc.Log.Infof("window %s chunk %d: %d rows", win.Format("2006-01"), batch, f.NumRows())
		if err := res.RawLarge.WriteChunk(a.RawKey(), batch, f, win.Year(), int(win.Month())); err != nil {
			return total, err
		}
		total += f.NumRows()
		batch++
	}
	return total, nil
}

// cleanLarge consolidates raw hive partitions into clean ones. With monthly
// granularity each raw month folder becomes one clean file; with yearly
// granularity every month of a year is merged into a single file.
func (a *Asset) cleanLarge(ctx context.Context, rc *RunContext, res *Resources, enrich transform.Enricher) error {
	rawDir := res.RawLarge.AssetDir(a.RawKey())
	years, err := sortedSubdirs(rawDir, "year=")
	if err != nil {
		return err
	}
	if len(years) == 0 {
		rc.Log.Warnf("no raw partitions under %s, skipping", rawDir)
		return nil
	}

	total := 0
	for _, yd := range years {
		year, err := strconv.Atoi(strings.TrimPrefix(filepath.Base(yd), "year="))
		if err != nil {
			return errors.Wrapf(err, "partition folder %s", yd)
		}
		if a.granularity() == GranularityYear {
			rows, err := a.consolidatePartition(rc, res, collectParquet(yd), year, 0, enrich)
			if err != nil {
				return err
			}
			total += rows
			continue
		}
		months, err := sortedSubdirs(yd, "month=")
		if err != nil {
			return err
		}
		for _, md := range months {
			month, err := strconv.Atoi(strings.TrimPrefix(filepath.Base(md), "month="))
			if err != nil {
				return errors.Wrapf(err, "partition folder %s", md)
			}
			rows, err := a.consolidatePartition(rc, res, collectParquet(md), year, month, enrich)
			if err != nil {
				return err
			}
			total += rows
		}
	}
	rc.Record("row_count", total)
	return nil
}

// consolidatePartition transforms every chunk of one partition, merges them
// by column name with dtype relaxation and writes a single clean chunk.
func (a *Asset) consolidatePartition(rc *RunContext, res *Resources, paths []string, year, month int, enrich transform.Enricher) (int, error) {
	if len(paths) == 0 {
		return 0, nil
	}
	frames := make([]*frame.Frame, 0, len(paths))
	for _, p := range paths {
		raw, err := storage.ReadFile(p)
		if err != nil {
			return 0, err
		}
		clean, err := transform.Transform(raw, a.Schema, a.OrderField, enrich)
		if err != nil {
			return 0, errors.Wrapf(err, "transform %s", filepath.Base(p))
		}
		frames = append(frames, clean)
	}
	merged, err := frame.ConcatRelaxed(frames)
	if err != nil {
		return 0, err
	}
	return merged.NumRows(), res.CleanLarge.WriteChunk(a.Name, 1, merged, year, month)
}

func sortedSubdirs(dir, prefix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "read partition dir")
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), prefix) {
			dirs = append(dirs, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

func collectParquet(dir string) []string {
	var paths []string
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && strings.HasSuffix(path, ".parquet") {
			paths = append(paths, path)
		}
		return nil
	})
	sort.Strings(paths)
	return paths
}
