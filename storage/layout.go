// Package storage maps (asset, mode, partition) to parquet file paths and
// performs the physical reads and writes.
package storage

import (
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/metrico/openlake/frame"
)

type Mode string

const (
	// one file per asset, read + write, streamed writes supported
	ModeSingle Mode = "single"
	// many numbered files per asset, write-only
	ModeFlatChunk Mode = "flat_chunk"
	// numbered files under year=YYYY[/month=MM] directories, write-only
	ModeHiveChunk Mode = "hive_chunk"
)

// ErrNotFound is returned by ReadSingle when the target file is absent.
var ErrNotFound = errors.New("parquet file not found")

// Layout resolves and writes the physical lake layout for one base
// directory and one mode. Path construction is a pure function of its
// inputs, so reruns overwrite in place.
type Layout struct {
	baseDir string
	mode    Mode
	log     *logrus.Entry
}

func NewLayout(baseDir string, mode Mode) (*Layout, error) {
	switch mode {
	case ModeSingle, ModeFlatChunk, ModeHiveChunk:
	default:
		return nil, errors.Errorf("unknown layout mode %q", mode)
	}
	return &Layout{
		baseDir: baseDir,
		mode:    mode,
		log:     logrus.WithFields(logrus.Fields{"component": "storage", "mode": string(mode)}),
	}, nil
}

func (l *Layout) Mode() Mode      { return l.mode }
func (l *Layout) BaseDir() string { return l.baseDir }

// PathOpts carries the optional partition coordinates; zero means unset.
type PathOpts struct {
	Batch int
	Year  int
	Month int
}

// Path resolves the file path for an asset. Mode requirements:
// single needs no opts, flat_chunk needs Batch, hive_chunk needs Year and
// Batch (Month optional for yearly partitions).
func (l *Layout) Path(asset string, o PathOpts) (string, error) {
	switch l.mode {
	case ModeSingle:
		return filepath.Join(l.baseDir, asset, asset+".parquet"), nil
	case ModeFlatChunk:
		if o.Batch == 0 {
			return "", errors.Errorf("asset %q: batch required for %s mode", asset, l.mode)
		}
		return filepath.Join(l.baseDir, asset, fmt.Sprintf("%s_%d.parquet", asset, o.Batch)), nil
	default: // hive_chunk
		if o.Year == 0 {
			return "", errors.Errorf("asset %q: year required for %s mode", asset, l.mode)
		}
		if o.Batch == 0 {
			return "", errors.Errorf("asset %q: batch required for %s mode", asset, l.mode)
		}
		parts := []string{l.baseDir, asset, fmt.Sprintf("year=%04d", o.Year)}
		token := fmt.Sprintf("%04d", o.Year)
		if o.Month != 0 {
			parts = append(parts, fmt.Sprintf("month=%02d", o.Month))
			token += fmt.Sprintf("%02d", o.Month)
		}
		parts = append(parts, fmt.Sprintf("%s_%s_%d.parquet", asset, token, o.Batch))
		return filepath.Join(parts...), nil
	}
}

// AssetDir returns the directory holding an asset's files.
func (l *Layout) AssetDir(asset string) string {
	return filepath.Join(l.baseDir, asset)
}

// WriteChunk writes one numbered raw/clean chunk. Columns that are null
// across the whole batch are dropped before writing.
func (l *Layout) WriteChunk(asset string, batch int, f *frame.Frame, year, month int) error {
	if l.mode == ModeSingle {
		return errors.Errorf("WriteChunk not available in %q mode", ModeSingle)
	}
	path, err := l.Path(asset, PathOpts{Batch: batch, Year: year, Month: month})
	if err != nil {
		return err
	}
	pruned, dropped := dropAllNullColumns(f)
	if len(dropped) > 0 {
		l.log.WithField("asset", asset).Infof("dropped %d all-null columns: %v", len(dropped), dropped)
	}
	rows, err := writeParquet(path, singleSource(pruned))
	if err != nil {
		return errors.Wrapf(err, "write chunk %d of %q", batch, asset)
	}
	l.log.WithField("asset", asset).Infof("wrote %d rows -> %s", rows, path)
	return nil
}

// WriteSingle writes one materialized single-mode file, pruning all-null
// columns first.
func (l *Layout) WriteSingle(asset string, f *frame.Frame) error {
	if l.mode != ModeSingle {
		return errors.Errorf("WriteSingle only valid in %q mode", ModeSingle)
	}
	path, err := l.Path(asset, PathOpts{})
	if err != nil {
		return err
	}
	pruned, dropped := dropAllNullColumns(f)
	if len(dropped) > 0 {
		l.log.WithField("asset", asset).Infof("dropped %d all-null columns: %v", len(dropped), dropped)
	}
	rows, err := writeParquet(path, singleSource(pruned))
	if err != nil {
		return errors.Wrapf(err, "write single %q", asset)
	}
	l.log.WithField("asset", asset).Infof("wrote %d rows -> %s", rows, path)
	return nil
}

// tmpName gives writes a unique temporary sibling so a failed write never
// clobbers the destination.
func tmpName(path string) string {
	return path + "." + uuid.New().String() + ".tmp"
}
