// Package ingest implements the tiered ingestion strategies: single-shot,
// offset-paged and time-windowed/partitioned, each exposed as a raw and a
// clean unit for the orchestration layer.
package ingest

import (
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/metrico/openlake/fetch"
	"github.com/metrico/openlake/storage"
	"github.com/metrico/openlake/transform"
)

type Tier string

const (
	// one bulk fetch, one output file, for datasets below the row cap
	TierSingle Tier = "single"
	// offset-paged raw chunks, consolidated into one clean file
	TierMedium Tier = "medium"
	// monthly-windowed raw chunks, consolidated into clean partitions
	TierLarge Tier = "large"
)

const (
	GranularityMonth = "month"
	GranularityYear  = "year"

	// DefaultLimit is the single-tier row cap and the page size of the
	// paged tiers.
	DefaultLimit = 500_000
)

// Asset declares one dataset to ingest. Loaded from the datasets YAML.
type Asset struct {
	Name        string                  `yaml:"name"`
	Endpoint    string                  `yaml:"endpoint"`
	Tier        Tier                    `yaml:"tier"`
	OrderField  string                  `yaml:"order_field"`
	WhereClause string                  `yaml:"where"`
	ExtraParams map[string]string       `yaml:"extra_params"`
	Limit       int                     `yaml:"limit"`
	Schema      *transform.SchemaConfig `yaml:"schema"`
	Enrich      map[string]string       `yaml:"enrich"`
	Tags        map[string]string       `yaml:"tags"`

	// large tier only: RAW is always fetched in monthly windows between
	// these dates, CLEAN partitions monthly or yearly
	StartDate            string `yaml:"start_date"`
	EndDate              string `yaml:"end_date"`
	PartitionGranularity string `yaml:"partition_granularity"`
}

// RawKey names the raw stage of the asset; raw paths consistently use the
// _raw suffix across all tiers.
func (a *Asset) RawKey() string { return a.Name + "_raw" }

// PortalURL strips the API suffix for the dataset's portal page, recorded
// as unit metadata.
func (a *Asset) PortalURL() string {
	if strings.HasSuffix(a.Endpoint, ".geojson") {
		return strings.TrimSuffix(a.Endpoint, ".geojson")
	}
	return strings.TrimSuffix(a.Endpoint, ".json")
}

func (a *Asset) limit() int {
	if a.Limit > 0 {
		return a.Limit
	}
	return DefaultLimit
}

func (a *Asset) granularity() string {
	if a.PartitionGranularity == "" {
		return GranularityMonth
	}
	return a.PartitionGranularity
}

// Validate raises configuration mistakes synchronously, before any network
// or file I/O.
func (a *Asset) Validate() error {
	if a.Name == "" {
		return errors.New("asset name is required")
	}
	if a.Endpoint == "" {
		return errors.Errorf("asset %q: endpoint is required", a.Name)
	}
	switch a.Tier {
	case TierSingle, TierMedium, TierLarge:
	default:
		return errors.Errorf("asset %q: unknown tier %q", a.Name, a.Tier)
	}
	if a.Schema == nil {
		return errors.Errorf("asset %q: schema config is required", a.Name)
	}
	if a.OrderField == "" {
		return errors.Errorf("asset %q: order_field is required", a.Name)
	}
	if a.Tier == TierLarge {
		switch a.granularity() {
		case GranularityMonth, GranularityYear:
		default:
			return errors.Errorf("asset %q: partition_granularity must be %q or %q",
				a.Name, GranularityMonth, GranularityYear)
		}
		if _, err := a.window(); err != nil {
			return err
		}
	}
	return nil
}

// window parses the large-tier date span.
func (a *Asset) window() (span [2]time.Time, err error) {
	if a.StartDate == "" || a.EndDate == "" {
		return span, errors.Errorf("asset %q: start_date and end_date are required for the large tier", a.Name)
	}
	start, ok := parseDate(a.StartDate)
	if !ok {
		return span, errors.Errorf("asset %q: invalid start_date %q", a.Name, a.StartDate)
	}
	end, ok := parseDate(a.EndDate)
	if !ok {
		return span, errors.Errorf("asset %q: invalid end_date %q", a.Name, a.EndDate)
	}
	return [2]time.Time{start, end}, nil
}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range []string{"2006-01-02", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// enricher builds the asset's enrichment hook; no expressions means noop.
func (a *Asset) enricher() (transform.Enricher, error) {
	if len(a.Enrich) == 0 {
		return transform.NoopEnricher{}, nil
	}
	return transform.NewExprEnricher(a.Enrich)
}

// DefaultTags merges the standard ingestion tags with the asset's own.
func (a *Asset) DefaultTags() map[string]string {
	tags := map[string]string{"source": "socrata", "type": "ingestion"}
	for k, v := range a.Tags {
		tags[k] = v
	}
	return tags
}

// Resources are the dependency-injected collaborators each unit runs with:
// one fetch client per ingestion run and the per-tier storage layouts.
type Resources struct {
	Client *fetch.Client

	RawSingle   *storage.Layout
	CleanSingle *storage.Layout
	RawMedium   *storage.Layout
	CleanMedium *storage.Layout
	RawLarge    *storage.Layout
	CleanLarge  *storage.Layout
}

// NewResources wires the six layouts the tiers share: single raw/clean
// files, flat raw chunks with a single clean file, hive raw and clean
// partitions.
func NewResources(client *fetch.Client, rawDir, cleanDir string) (*Resources, error) {
	res := &Resources{Client: client}
	var err error
	if res.RawSingle, err = storage.NewLayout(rawDir, storage.ModeSingle); err != nil {
		return nil, err
	}
	if res.CleanSingle, err = storage.NewLayout(cleanDir, storage.ModeSingle); err != nil {
		return nil, err
	}
	if res.RawMedium, err = storage.NewLayout(rawDir, storage.ModeFlatChunk); err != nil {
		return nil, err
	}
	if res.CleanMedium, err = storage.NewLayout(cleanDir, storage.ModeSingle); err != nil {
		return nil, err
	}
	if res.RawLarge, err = storage.NewLayout(rawDir, storage.ModeHiveChunk); err != nil {
		return nil, err
	}
	if res.CleanLarge, err = storage.NewLayout(cleanDir, storage.ModeHiveChunk); err != nil {
		return nil, err
	}
	return res, nil
}
