package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/sirupsen/logrus"
)

// Sink spills geometry record batches to parquet files in a private temporary directory.
// A Sink must not be used from several goroutines.
type Sink struct {
	dir    string
	files  []string
	schema *arrow.Schema
	rows   int64
	log    *logrus.Entry
}

// NewSink creates a sink below parent. An empty parent uses the system temp directory.
func NewSink(parent string) (*Sink, error) {
	dir, err := os.MkdirTemp(parent, "geom_batch_*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary directory: %w", err)
	}

	return &Sink{
		dir: dir,
		log: logrus.WithField("sink", dir),
	}, nil
}

// Add writes rec to its own parquet file. Every batch must share the schema of the first one.
func (s *Sink) Add(rec arrow.RecordBatch) error {
	if s.schema == nil {
		s.schema = rec.Schema()
	} else if !s.schema.Equal(rec.Schema()) {
		return fmt.Errorf("batch schema %s does not match sink schema %s", rec.Schema(), s.schema)
	}

	path := filepath.Join(s.dir, fmt.Sprintf("batch_%d.parquet", len(s.files)+1))
	if err := writeParquet(path, s.schema, []arrow.RecordBatch{rec}); err != nil {
		return err
	}

	s.files = append(s.files, path)
	s.rows += rec.NumRows()
	s.log.WithFields(logrus.Fields{"rows": rec.NumRows(), "file": path}).Debug("spilled batch")

	return nil
}

// Files returns the spilled files in write order.
func (s *Sink) Files() []string {
	return s.files
}

// Rows is the number of rows spilled so far.
func (s *Sink) Rows() int64 {
	return s.rows
}

// Merge concatenates every spilled file into a single parquet file and returns its path.
func (s *Sink) Merge(ctx context.Context) (string, error) {
	if len(s.files) == 0 {
		return "", fmt.Errorf("no parquet files to merge")
	}

	merged := filepath.Join(s.dir, fmt.Sprintf("merged_%d.parquet", time.Now().UnixNano()))
	f, err := os.Create(merged)
	if err != nil {
		return "", fmt.Errorf("failed to create merged parquet file: %w", err)
	}
	defer f.Close()

	// The writer takes the schema as read back, which carries the stored arrow schema.
	var w *pqarrow.FileWriter
	for _, path := range s.files {
		err := scan(ctx, path, memory.NewGoAllocator(), func(rec arrow.RecordBatch) error {
			if w == nil {
				var err error
				if w, err = newWriter(rec.Schema(), f); err != nil {
					return err
				}
			}
			return w.WriteBuffered(rec)
		})
		if err != nil {
			if w != nil {
				w.Close()
			}
			return "", fmt.Errorf("failed to merge %s: %w", path, err)
		}
	}
	if w == nil {
		return "", fmt.Errorf("spilled files hold no record batches")
	}

	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to close merged parquet file: %w", err)
	}

	s.log.WithField("files", len(s.files)).Info("merged spilled batches")
	return merged, nil
}

// Cleanup removes the sink directory and every file in it.
func (s *Sink) Cleanup() error {
	if s.dir != "" {
		return os.RemoveAll(s.dir)
	}
	return nil
}

// WriteFile writes record batches to a single parquet file.
func WriteFile(path string, recs []arrow.RecordBatch) error {
	if len(recs) == 0 {
		return fmt.Errorf("no record batches to write")
	}
	return writeParquet(path, recs[0].Schema(), recs)
}

// Load reads every record batch of a parquet file. The caller releases the batches.
func Load(ctx context.Context, path string, mem memory.Allocator) ([]arrow.RecordBatch, error) {
	var recs []arrow.RecordBatch
	err := scan(ctx, path, mem, func(rec arrow.RecordBatch) error {
		rec.Retain()
		recs = append(recs, rec)
		return nil
	})
	if err != nil {
		for _, r := range recs {
			r.Release()
		}
		return nil, err
	}
	return recs, nil
}

func newWriter(schema *arrow.Schema, f *os.File) (*pqarrow.FileWriter, error) {
	w, err := pqarrow.NewFileWriter(
		schema,
		f,
		parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Snappy)),
		pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	return w, nil
}

func writeParquet(path string, schema *arrow.Schema, recs []arrow.RecordBatch) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create parquet file: %w", err)
	}
	defer f.Close()

	w, err := newWriter(schema, f)
	if err != nil {
		return err
	}

	for _, rec := range recs {
		if err := w.WriteBuffered(rec); err != nil {
			w.Close()
			return fmt.Errorf("failed to write record batch: %w", err)
		}
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close parquet writer: %w", err)
	}
	return nil
}

// scan calls fn for every record batch of a parquet file. Batches are only valid during fn.
func scan(ctx context.Context, path string, mem memory.Allocator, fn func(arrow.RecordBatch) error) error {
	pf, err := file.OpenParquetFile(path, false)
	if err != nil {
		return fmt.Errorf("failed to open parquet file %s: %w", path, err)
	}
	defer pf.Close()

	reader, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{BatchSize: 10000}, mem)
	if err != nil {
		return fmt.Errorf("failed to create arrow reader for %s: %w", path, err)
	}

	rr, err := reader.GetRecordReader(ctx, nil, nil)
	if err != nil {
		return fmt.Errorf("failed to get record reader for %s: %w", path, err)
	}
	defer rr.Release()

	for rr.Next() {
		if err := fn(rr.RecordBatch()); err != nil {
			return err
		}
	}
	if err := rr.Err(); err != nil {
		return fmt.Errorf("error reading records from %s: %w", path, err)
	}

	return nil
}
