package ingest

import (
	"context"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/metrico/openlake/storage"
)

// Unit is one schedulable operation at the orchestration boundary: a named
// step with declared upstream dependencies and a storage-resource group.
// The framework invoking it only needs "run this unit now" and a place to
// record metadata.
type Unit struct {
	Name        string
	DependsOn   []string
	Group       string
	Description string
	Tags        map[string]string
	Metadata    map[string]string
	Run         func(ctx context.Context, rc *RunContext) error
}

// RunContext carries the logging and metadata-reporting context the
// orchestration layer supplies to a unit.
type RunContext struct {
	Log   *logrus.Entry
	RunID uuid.UUID
	meta  map[string]any
}

func NewRunContext(unit string) *RunContext {
	id := uuid.New()
	return &RunContext{
		Log:   logrus.WithFields(logrus.Fields{"unit": unit, "run_id": id.String()}),
		RunID: id,
		meta:  map[string]any{},
	}
}

// Record reports a metadata value (row counts, chunk counts) for the run.
func (rc *RunContext) Record(key string, value any) {
	rc.meta[key] = value
}

func (rc *RunContext) Metadata() map[string]any { return rc.meta }

// Units builds the raw and clean units for one asset. Configuration
// mistakes are raised here, before any network activity.
func Units(a *Asset, res *Resources) ([]*Unit, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	enrich, err := a.enricher()
	if err != nil {
		return nil, err
	}

	var raw, clean func(ctx context.Context, rc *RunContext) error
	var group string
	switch a.Tier {
	case TierSingle:
		group = "single_file_assets"
		raw = func(ctx context.Context, rc *RunContext) error {
			return a.rawSingle(ctx, rc, res)
		}
		clean = func(ctx context.Context, rc *RunContext) error {
			return a.cleanSingle(ctx, rc, res, enrich)
		}
	case TierMedium:
		group = "medium_assets"
		raw = func(ctx context.Context, rc *RunContext) error {
			return a.rawMedium(ctx, rc, res)
		}
		clean = func(ctx context.Context, rc *RunContext) error {
			return a.cleanMedium(ctx, rc, res, enrich)
		}
	default:
		group = "large_assets"
		raw = func(ctx context.Context, rc *RunContext) error {
			return a.rawLarge(ctx, rc, res)
		}
		clean = func(ctx context.Context, rc *RunContext) error {
			return a.cleanLarge(ctx, rc, res, enrich)
		}
	}

	meta := map[string]string{"portal_url": a.PortalURL()}
	return []*Unit{
		{
			Name:        a.RawKey(),
			Group:       group,
			Description: "Unprocessed parquet from the data API.",
			Tags:        a.DefaultTags(),
			Metadata:    meta,
			Run:         raw,
		},
		{
			Name:        a.Name,
			DependsOn:   []string{a.RawKey()},
			Group:       group,
			Description: "Consolidated and transformed parquet.",
			Tags:        a.DefaultTags(),
			Metadata:    meta,
			Run:         clean,
		},
	}, nil
}

// RunUnits executes units sequentially, honoring declared dependencies.
// A failed unit aborts the remainder of its asset's chain.
func RunUnits(ctx context.Context, units []*Unit) error {
	done := map[string]bool{}
	for _, u := range units {
		for _, dep := range u.DependsOn {
			if !done[dep] {
				return errors.Errorf("unit %q: dependency %q has not completed", u.Name, dep)
			}
		}
		rc := NewRunContext(u.Name)
		rc.Log.Info("running")
		if err := u.Run(ctx, rc); err != nil {
			return errors.Wrapf(err, "unit %q", u.Name)
		}
		rc.Log.WithField("metadata", rc.Metadata()).Info("completed")
		done[u.Name] = true
	}
	return nil
}

// Stage is a resumption hint derived from filesystem presence. It is never
// used for correctness decisions: reruns recompute from raw regardless.
type Stage string

const (
	StageNotStarted    Stage = "not_started"
	StageRawComplete   Stage = "raw_complete"
	StageCleanComplete Stage = "clean_complete"
)

// StatusRecord is the derived per-asset state reported by the status
// endpoint and the run logs.
type StatusRecord struct {
	Asset      string `json:"asset"`
	Tier       Tier   `json:"tier"`
	Stage      Stage  `json:"stage"`
	RawFiles   int    `json:"raw_files"`
	CleanFiles int    `json:"clean_files"`
}

// Status infers the asset's stage from what is on disk.
func Status(a *Asset, res *Resources) StatusRecord {
	rec := StatusRecord{Asset: a.Name, Tier: a.Tier, Stage: StageNotStarted}
	rec.RawFiles = countParquet(res.rawLayout(a.Tier).AssetDir(a.RawKey()))
	rec.CleanFiles = countParquet(res.cleanLayout(a.Tier).AssetDir(a.Name))
	if rec.CleanFiles > 0 {
		rec.Stage = StageCleanComplete
	} else if rec.RawFiles > 0 {
		rec.Stage = StageRawComplete
	}
	return rec
}

func (res *Resources) rawLayout(t Tier) *storage.Layout {
	switch t {
	case TierSingle:
		return res.RawSingle
	case TierMedium:
		return res.RawMedium
	default:
		return res.RawLarge
	}
}

func (res *Resources) cleanLayout(t Tier) *storage.Layout {
	switch t {
	case TierSingle, TierMedium:
		return res.CleanSingle
	default:
		return res.CleanLarge
	}
}

func countParquet(dir string) int {
	n := 0
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && filepath.Ext(path) == ".parquet" {
			n++
		}
		return nil
	})
	return n
}
