// Package recorder persists one row per routing cycle to Parquet files
// and QuestDB.
package recorder

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/signalsfoundry/leo-router/internal/logging"
	"github.com/signalsfoundry/leo-router/internal/routing"
)

// TickRow is the flattened form of a routing.RebuildReport.
type TickRow struct {
	TickMillis          int64  `parquet:"name=tick_ms, type=INT64"`
	Timestamp           int64  `parquet:"name=timestamp, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	Variant             string `parquet:"name=variant, type=BYTE_ARRAY, convertedtype=UTF8"`
	Links               int32  `parquet:"name=links, type=INT32, convertedtype=INT_32"`
	Entries             int32  `parquet:"name=entries, type=INT32, convertedtype=INT_32"`
	GroundAdded         int32  `parquet:"name=ground_added, type=INT32, convertedtype=INT_32"`
	GroundRemoved       int32  `parquet:"name=ground_removed, type=INT32, convertedtype=INT_32"`
	Partitions          int32  `parquet:"name=partitions, type=INT32, convertedtype=INT_32"`
	PropagationFailures int32  `parquet:"name=propagation_failures, type=INT32, convertedtype=INT_32"`
	CacheHit            bool   `parquet:"name=cache_hit, type=BOOLEAN"`
	DurationMicros      int64  `parquet:"name=duration_us, type=INT64"`
	Error               string `parquet:"name=error, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// Row flattens rep; the tick is measured from start.
func Row(start time.Time, rep routing.RebuildReport) TickRow {
	row := TickRow{
		TickMillis:          rep.SimTime.Sub(start).Milliseconds(),
		Timestamp:           rep.SimTime.UnixMilli(),
		Variant:             rep.Variant.String(),
		Links:               int32(rep.Links),
		Entries:             int32(rep.Entries),
		GroundAdded:         int32(rep.Churn.Added),
		GroundRemoved:       int32(rep.Churn.Removed),
		Partitions:          int32(rep.Partitions),
		PropagationFailures: int32(rep.Positions.Failed),
		CacheHit:            rep.CacheHit,
		DurationMicros:      rep.Duration.Microseconds(),
	}
	if rep.Err != nil {
		row.Error = rep.Err.Error()
	}
	return row
}

// Sink stores tick rows.
type Sink interface {
	Write(ctx context.Context, row TickRow) error
	Close(ctx context.Context) error
}

// Recorder fans routing reports out to its sinks. Sink failures are
// logged and counted; they never fail a routing cycle.
type Recorder struct {
	start time.Time
	sinks []Sink
	log   logging.Logger

	mu     sync.Mutex
	rows   int
	errors int
	closed bool
}

func New(start time.Time, log logging.Logger, sinks ...Sink) *Recorder {
	if log == nil {
		log = logging.Noop()
	}
	return &Recorder{start: start, sinks: sinks, log: log}
}

// Observe has the routing.Listener signature.
func (r *Recorder) Observe(rep routing.RebuildReport) {
	row := Row(r.start, rep)
	ctx := logging.ContextWithTick(context.Background(), uint64(max(row.TickMillis, 0)))

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.rows++
	for _, s := range r.sinks {
		if err := s.Write(ctx, row); err != nil {
			r.errors++
			r.log.Warn(ctx, "recorder sink write failed",
				logging.Int64("tick_ms", row.TickMillis),
				logging.Err(err),
			)
		}
	}
}

// Stats returns the number of observed reports and of failed sink writes.
func (r *Recorder) Stats() (rows, failures int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows, r.errors
}

// Close closes every sink and reports all of their errors.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	var errs []error
	for _, s := range r.sinks {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
