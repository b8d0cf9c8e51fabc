package importer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rowpane/rowpane/internal/dao"
	"github.com/rowpane/rowpane/internal/logger"
)

// WriteFunc writes one batch. Batches are disjoint slices of the input.
type WriteFunc func(ctx context.Context, batch []dao.Row) error

// Result accounts for every batch of one import.
type Result struct {
	Rows     int
	Batches  int
	Written  int // rows in successful batches
	Failed   int // failed batches
	Duration time.Duration
}

// BatchError is the first failed batch of an import.
type BatchError struct {
	Batch  int // 0-based
	Offset int // index of the first row of the batch
	Err    error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("import batch %d (rows %d+): %v", e.Batch+1, e.Offset+1, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// Batches splits rows into slices of at most size rows.
func Batches(rows []dao.Row, size int) [][]dao.Row {
	if size <= 0 {
		size = len(rows)
	}
	var out [][]dao.Row
	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		out = append(out, rows[start:end])
	}
	return out
}

// Run writes rows in batches with at most workers batches in flight. A
// failing batch does not cancel the others: every batch runs and is counted,
// and the error of the lowest failing batch is returned.
func Run(ctx context.Context, rows []dao.Row, batchSize, workers int, write WriteFunc, log *slog.Logger) (Result, error) {
	log = logger.OrDiscard(log)
	if workers <= 0 {
		workers = dao.DefaultImportWorkers
	}
	batches := Batches(rows, batchSize)
	res := Result{Rows: len(rows), Batches: len(batches)}
	start := time.Now()

	var (
		mu       sync.Mutex
		firstErr *BatchError
	)
	var g errgroup.Group
	g.SetLimit(workers)
	offset := 0
	for i, batch := range batches {
		i, batch, off := i, batch, offset
		offset += len(batch)
		g.Go(func() error {
			err := ctx.Err()
			if err == nil {
				err = write(ctx, batch)
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed++
				if firstErr == nil || i < firstErr.Batch {
					firstErr = &BatchError{Batch: i, Offset: off, Err: err}
				}
				log.Warn("Import batch failed", "batch", i+1, "rows", len(batch), "error", err)
				return nil
			}
			res.Written += len(batch)
			return nil
		})
	}
	_ = g.Wait()
	res.Duration = time.Since(start)

	if firstErr != nil {
		return res, firstErr
	}
	log.Debug("Import finished", "rows", res.Rows, "batches", res.Batches, "duration", res.Duration)
	return res, nil
}
