package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/metrico/openlake/ingest"
)

// Paths names the data layers the pipeline reads and writes. Relative
// entries are resolved against the catalog file's own directory.
type Paths struct {
	Raw       string `yaml:"raw"`
	Clean     string `yaml:"clean"`
	Analytics string `yaml:"analytics"`
	Warehouse string `yaml:"warehouse"`
}

type Datasets struct {
	Paths       Paths           `yaml:"paths"`
	SearchOrder []string        `yaml:"search_order"`
	Assets      []*ingest.Asset `yaml:"assets"`
}

var validLayers = map[string]bool{"analytics": true, "clean": true, "raw": true}

// LoadDatasets reads the dataset catalog from a YAML file.
func LoadDatasets(filename string) (*Datasets, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "read datasets file")
	}

	var ds Datasets
	if err := yaml.Unmarshal(data, &ds); err != nil {
		return nil, errors.Wrap(err, "parse datasets file")
	}

	if len(ds.SearchOrder) == 0 {
		ds.SearchOrder = []string{"analytics", "clean", "raw"}
	}
	for _, layer := range ds.SearchOrder {
		if !validLayers[layer] {
			return nil, errors.Errorf("unknown search_order layer %q", layer)
		}
	}

	base := filepath.Dir(filename)
	ds.Paths.Raw = expandPath(ds.Paths.Raw, base)
	ds.Paths.Clean = expandPath(ds.Paths.Clean, base)
	ds.Paths.Analytics = expandPath(ds.Paths.Analytics, base)
	ds.Paths.Warehouse = expandPath(ds.Paths.Warehouse, base)

	for _, a := range ds.Assets {
		if err := a.Validate(); err != nil {
			return nil, err
		}
	}
	return &ds, nil
}

// Layer maps a search-order layer name onto its configured directory.
func (d *Datasets) Layer(name string) string {
	switch name {
	case "raw":
		return d.Paths.Raw
	case "clean":
		return d.Paths.Clean
	default:
		return d.Paths.Analytics
	}
}

// expandPath resolves env vars and "~" and anchors relative paths at base.
func expandPath(p, base string) string {
	if p == "" {
		return ""
	}
	p = os.ExpandEnv(p)
	if strings.HasPrefix(p, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(base, p)
	}
	return filepath.Clean(p)
}
