package recorder

import (
	"context"
	"fmt"
	"sync"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"
)

// ParquetSink appends tick rows to a local Parquet file.
type ParquetSink struct {
	mu   sync.Mutex
	file source.ParquetFile
	pw   *writer.ParquetWriter
}

// NewParquetSink creates (or truncates) path.
func NewParquetSink(path string) (*ParquetSink, error) {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return nil, fmt.Errorf("NewParquetSink: open %q: %w", path, err)
	}
	pw, err := writer.NewParquetWriter(fw, new(TickRow), 2)
	if err != nil {
		fw.Close()
		return nil, fmt.Errorf("NewParquetSink: %w", err)
	}
	pw.RowGroupSize = 256 * 1024
	pw.PageSize = 8 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	return &ParquetSink{file: fw, pw: pw}, nil
}

func (s *ParquetSink) Write(_ context.Context, row TickRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pw == nil {
		return fmt.Errorf("parquet sink closed")
	}
	if err := s.pw.Write(row); err != nil {
		return fmt.Errorf("parquet write: %w", err)
	}
	return nil
}

// Close flushes the footer. The file is unreadable until Close returns.
func (s *ParquetSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pw == nil {
		return nil
	}
	err := s.pw.WriteStop()
	s.pw = nil
	if cerr := s.file.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("parquet close: %w", err)
	}
	return nil
}

// ReadParquet loads every row written by a ParquetSink.
func ReadParquet(path string) ([]TickRow, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("ReadParquet: open %q: %w", path, err)
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(TickRow), 2)
	if err != nil {
		return nil, fmt.Errorf("ReadParquet: %w", err)
	}
	defer pr.ReadStop()

	rows := make([]TickRow, pr.GetNumRows())
	if len(rows) == 0 {
		return rows, nil
	}
	if err := pr.Read(&rows); err != nil {
		return nil, fmt.Errorf("ReadParquet: read rows: %w", err)
	}
	return rows, nil
}
