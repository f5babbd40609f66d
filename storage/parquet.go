package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/apache/arrow/go/v18/arrow/memory"
	"github.com/apache/arrow/go/v18/parquet"
	"github.com/apache/arrow/go/v18/parquet/compress"
	pqfile "github.com/apache/arrow/go/v18/parquet/file"
	"github.com/apache/arrow/go/v18/parquet/pqarrow"
	"github.com/pkg/errors"

	"github.com/metrico/openlake/frame"
)

// FrameSource yields successive record batches for a streamed write.
// Next returns io.EOF when exhausted.
type FrameSource interface {
	Next() (*frame.Frame, error)
}

type sliceSource struct {
	frames []*frame.Frame
	i      int
}

func (s *sliceSource) Next() (*frame.Frame, error) {
	if s.i >= len(s.frames) {
		return nil, io.EOF
	}
	f := s.frames[s.i]
	s.i++
	return f, nil
}

func singleSource(f *frame.Frame) FrameSource {
	return &sliceSource{frames: []*frame.Frame{f}}
}

// NewSliceSource adapts already materialized frames to a FrameSource.
func NewSliceSource(frames []*frame.Frame) FrameSource {
	return &sliceSource{frames: frames}
}

// WriteSingleStreamed writes one single-mode file from a source of frames,
// one parquet record batch per frame, each conformed to the unified fields.
// Unlike the materialized writes no all-null pruning happens here: the
// constant-memory guarantee takes precedence and the frames are persisted
// exactly as produced.
func (l *Layout) WriteSingleStreamed(asset string, fields []frame.Field, src FrameSource) error {
	if l.mode != ModeSingle {
		return errors.Errorf("WriteSingleStreamed only valid in %q mode", ModeSingle)
	}
	path, err := l.Path(asset, PathOpts{})
	if err != nil {
		return err
	}
	rows, err := writeParquet(path, &conformingSource{src: src, fields: fields})
	if err != nil {
		return errors.Wrapf(err, "stream single %q", asset)
	}
	l.log.WithField("asset", asset).Infof("streamed %d rows -> %s", rows, path)
	return nil
}

type conformingSource struct {
	src    FrameSource
	fields []frame.Field
}

func (c *conformingSource) Next() (*frame.Frame, error) {
	f, err := c.src.Next()
	if err != nil {
		return nil, err
	}
	return frame.Conform(f, c.fields)
}

// writeParquet writes all frames of src into one zstd parquet file through
// a temporary sibling renamed over the destination, so failed writes never
// leave partial output in place. Returns the row count written.
func writeParquet(path string, src FrameSource) (int, error) {
	first, err := src.Next()
	if err == io.EOF {
		first = frame.New()
		err = nil
	}
	if err != nil {
		return 0, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return 0, err
	}
	tmp := tmpName(path)
	file, err := os.Create(tmp)
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp)

	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Zstd),
	)
	arrProps := pqarrow.NewArrowWriterProperties()
	writer, err := pqarrow.NewFileWriter(first.Schema(), file, writerProps, arrProps)
	if err != nil {
		file.Close()
		return 0, err
	}

	mem := memory.NewGoAllocator()
	rows := 0
	f := first
	for {
		rec, err := f.ToRecord(mem)
		if err != nil {
			writer.Close()
			return 0, err
		}
		if err := writer.Write(rec); err != nil {
			rec.Release()
			writer.Close()
			return 0, err
		}
		rows += f.NumRows()
		rec.Release()

		f, err = src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			writer.Close()
			return 0, err
		}
	}
	// Close flushes the footer and closes the underlying file
	if err := writer.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp, path); err != nil {
		return 0, err
	}
	return rows, nil
}

// ReadSingle loads the asset's single-mode file in full.
func (l *Layout) ReadSingle(asset string) (*frame.Frame, error) {
	if l.mode != ModeSingle {
		return nil, errors.Errorf("ReadSingle only valid in %q mode", ModeSingle)
	}
	path, err := l.Path(asset, PathOpts{})
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, errors.Wrapf(ErrNotFound, "%s", path)
	}
	f, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	l.log.WithField("asset", asset).Infof("loaded %d rows <- %s", f.NumRows(), path)
	return f, nil
}

// ReadFile loads one parquet file in full. Consolidation reads raw chunks
// directly through this, bypassing the per-mode layout contract.
func ReadFile(path string) (*frame.Frame, error) {
	rdr, err := pqfile.OpenParquetFile(path, false)
	if err != nil {
		return nil, errors.Wrapf(err, "open parquet %s", path)
	}
	defer rdr.Close()

	arrowRdr, err := pqarrow.NewFileReader(rdr, pqarrow.ArrowReadProperties{BatchSize: 64 * 1024}, memory.NewGoAllocator())
	if err != nil {
		return nil, errors.Wrapf(err, "read parquet %s", path)
	}
	tbl, err := arrowRdr.ReadTable(context.Background())
	if err != nil {
		return nil, errors.Wrapf(err, "read parquet %s", path)
	}
	defer tbl.Release()

	f, err := frame.FromArrowTable(tbl)
	if err != nil {
		return nil, errors.Wrapf(err, "convert parquet %s", path)
	}
	return f, nil
}

// dropAllNullColumns removes columns that carry no values at all, returning
// the pruned frame and the dropped names.
func dropAllNullColumns(f *frame.Frame) (*frame.Frame, []string) {
	var dropped []string
	keep := frame.New()
	for _, c := range f.Columns() {
		if c.NullCount() >= f.NumRows() {
			dropped = append(dropped, c.Name)
			continue
		}
		_ = keep.AddColumn(c)
	}
	if len(dropped) == 0 {
		return f, nil
	}
	return keep, dropped
}
