package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/metrico/openlake/ingest"
)

// Kind classifies the parquet layout found for an asset. Detection strictly
// prefers deeper hive layouts so partition columns survive registration.
type Kind string

const (
	KindHiveMonthly Kind = "hive_monthly"
	KindHiveYearly  Kind = "hive_yearly"
	KindFlat        Kind = "flat"
	KindDeep        Kind = "deep"
)

// Detection records where an asset's parquet files were found.
type Detection struct {
	Asset string `json:"asset"`
	Layer string `json:"layer"`
	Kind  Kind   `json:"kind"`
	Glob  string `json:"glob"`
	Files int    `json:"files"`
}

type Config struct {
	// Layers maps layer names onto directories, probed in SearchOrder.
	Layers        map[string]string
	SearchOrder   []string
	WarehousePath string
	Assets        []*ingest.Asset
}

type Options struct {
	Only []string
	// Exclude patterns match by substring, so one pattern can drop a
	// family of assets (e.g. "_raw").
	Exclude  []string
	AsTables bool
	Wipe     bool
}

func excluded(name string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(name, p) {
			return true
		}
	}
	return false
}

type Warehouse struct {
	cfg Config
	log *logrus.Entry
}

func New(cfg Config) *Warehouse {
	return &Warehouse{cfg: cfg, log: logrus.WithField("component", "warehouse")}
}

// detect probes one layer directory for an asset, returning the first
// matching layout in priority order or nil when nothing is there.
func detect(layer, dir, asset string) (*Detection, error) {
	base := filepath.Join(dir, asset)
	probes := []struct {
		kind    Kind
		pattern string
	}{
		{KindHiveMonthly, filepath.Join(base, "year=*", "month=*", "*.parquet")},
		{KindHiveYearly, filepath.Join(base, "year=*", "*.parquet")},
		{KindFlat, filepath.Join(base, "*.parquet")},
	}
	for _, p := range probes {
		matches, err := filepath.Glob(p.pattern)
		if err != nil {
			return nil, errors.Wrapf(err, "probe %s", asset)
		}
		if len(matches) > 0 {
			return &Detection{
				Asset: asset,
				Layer: layer,
				Kind:  p.kind,
				Glob:  filepath.ToSlash(p.pattern),
				Files: len(matches),
			}, nil
		}
	}
	// anything nested deeper than the known layouts
	count := 0
	_ = filepath.WalkDir(base, func(path string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() && strings.HasSuffix(path, ".parquet") {
			count++
		}
		return nil
	})
	if count > 0 {
		return &Detection{
			Asset: asset,
			Layer: layer,
			Kind:  KindDeep,
			Glob:  filepath.ToSlash(filepath.Join(base, "**", "*.parquet")),
			Files: count,
		}, nil
	}
	return nil, nil
}

// Autodetect walks the search order and returns the first layer holding
// parquet data for the asset.
func (w *Warehouse) Autodetect(asset string) (*Detection, error) {
	for _, layer := range w.cfg.SearchOrder {
		dir, ok := w.cfg.Layers[layer]
		if !ok || dir == "" {
			continue
		}
		det, err := detect(layer, dir, asset)
		if err != nil {
			return nil, err
		}
		if det != nil {
			return det, nil
		}
	}
	return nil, nil
}

// Select resolves detections for every configured asset, honoring the
// only/exclude filters. Assets with no data anywhere are skipped with a
// warning rather than failing the build.
func (w *Warehouse) Select(ctx context.Context, opts Options) ([]*Detection, error) {
	only := toSet(opts.Only)

	var mu sync.Mutex
	var dets []*Detection
	g, ctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(8)
	for _, a := range w.cfg.Assets {
		name := a.Name
		if len(only) > 0 && !only[name] {
			continue
		}
		if excluded(name, opts.Exclude) {
			continue
		}
		g.Go(func() error {
			if err := sem.Acquire(ctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			det, err := w.Autodetect(name)
			if err != nil {
				return err
			}
			if det == nil {
				w.log.Warnf("no parquet data found for %s, skipping", name)
				return nil
			}
			mu.Lock()
			dets = append(dets, det)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Slice(dets, func(i, j int) bool { return dets[i].Asset < dets[j].Asset })
	return dets, nil
}

// Build registers every selected asset in a fresh DuckDB file. The database
// is written under a temporary name and renamed into place so readers never
// observe a half-built warehouse.
func (w *Warehouse) Build(ctx context.Context, opts Options) ([]*Detection, error) {
	dets, err := w.Select(ctx, opts)
	if err != nil {
		return nil, err
	}

	if opts.Wipe {
		if err := os.Remove(w.cfg.WarehousePath); err != nil && !os.IsNotExist(err) {
			return nil, errors.Wrap(err, "wipe warehouse")
		}
	}
	if err := os.MkdirAll(filepath.Dir(w.cfg.WarehousePath), 0755); err != nil {
		return nil, errors.Wrap(err, "create warehouse dir")
	}

	tmpPath := w.cfg.WarehousePath + "." + uuid.New().String() + ".tmp"
	db, err := ConnectDuckDB(tmpPath)
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmpPath)

	if _, err := db.ExecContext(ctx, "INSTALL httpfs; LOAD httpfs;"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "load httpfs")
	}

	for _, det := range dets {
		if err := w.register(ctx, db, det, opts.AsTables); err != nil {
			db.Close()
			return nil, err
		}
	}
	if err := w.writeRegistry(ctx, db, dets); err != nil {
		db.Close()
		return nil, err
	}
	if err := db.Close(); err != nil {
		return nil, errors.Wrap(err, "close warehouse")
	}
	if err := os.Rename(tmpPath, w.cfg.WarehousePath); err != nil {
		return nil, errors.Wrap(err, "finalize warehouse")
	}
	w.log.Infof("registered %d assets into %s", len(dets), w.cfg.WarehousePath)
	return dets, nil
}

// registerQuery builds the DDL registering one asset. hive_partitioning and
// union_by_name are always on: non-hive globs simply yield no partition
// columns, and schema drift across files unions by name.
func registerQuery(det *Detection, asTable bool) string {
	object := "VIEW"
	if asTable {
		object = "TABLE"
	}
	return fmt.Sprintf(
		`CREATE OR REPLACE %s %q AS SELECT * FROM read_parquet('%s', hive_partitioning=true, union_by_name=true)`,
		object, det.Asset, det.Glob)
}

func (w *Warehouse) register(ctx context.Context, db *sql.DB, det *Detection, asTable bool) error {
	if _, err := db.ExecContext(ctx, registerQuery(det, asTable)); err != nil {
		return errors.Wrapf(err, "register %s", det.Asset)
	}
	w.log.Infof("%s <- %s (%s, %d files)", det.Asset, det.Layer, det.Kind, det.Files)
	return nil
}

// writeRegistry rebuilds the registry__assets table describing what was
// registered and when.
func (w *Warehouse) writeRegistry(ctx context.Context, db *sql.DB, dets []*Detection) error {
	_, err := db.ExecContext(ctx, `CREATE OR REPLACE TABLE registry__assets (
		asset_name VARCHAR, parquet_glob VARCHAR, detected_kind VARCHAR,
		layer VARCHAR, file_count INTEGER, registered_at TIMESTAMP)`)
	if err != nil {
		return errors.Wrap(err, "create registry")
	}
	now := time.Now().UTC()
	for _, det := range dets {
		_, err = db.ExecContext(ctx,
			`INSERT INTO registry__assets VALUES (?, ?, ?, ?, ?, ?)`,
			det.Asset, det.Glob, string(det.Kind), det.Layer, det.Files, now)
		if err != nil {
			return errors.Wrap(err, "fill registry")
		}
	}
	return nil
}

func toSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}
