package recorder

import (
	"bufio"
	"context"
	"errors"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/signalsfoundry/leo-router/core"
	"github.com/signalsfoundry/leo-router/internal/logging"
	"github.com/signalsfoundry/leo-router/internal/routing"
)

var testStart = time.Unix(1619119189, 0).UTC()

func report(offset time.Duration, variant routing.Variant, links int) routing.RebuildReport {
	return routing.RebuildReport{
		Variant:   variant,
		SimTime:   testStart.Add(offset),
		Positions: core.MobilityReport{Updated: 9, Failed: 1},
		Churn:     core.Churn{Added: 2, Removed: 1},
		Links:     links,
		Entries:   links * 3,
		Duration:  1500 * time.Microsecond,
	}
}

func TestRowFromReport(t *testing.T) {
	rep := report(2500*time.Millisecond, routing.VariantPeriodic, 12)
	rep.Err = errors.New("boom")

	row := Row(testStart, rep)
	if row.TickMillis != 2500 || row.Timestamp != testStart.UnixMilli()+2500 {
		t.Fatalf("tick = %d ts = %d", row.TickMillis, row.Timestamp)
	}
	if row.Variant != "periodic" || row.Links != 12 || row.Entries != 36 {
		t.Fatalf("row = %+v", row)
	}
	if row.GroundAdded != 2 || row.GroundRemoved != 1 || row.PropagationFailures != 1 {
		t.Fatalf("churn columns = %+v", row)
	}
	if row.DurationMicros != 1500 || row.Error != "boom" {
		t.Fatalf("duration/error = %d %q", row.DurationMicros, row.Error)
	}
}

func TestParquetRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ticks.parquet")
	sink, err := NewParquetSink(path)
	if err != nil {
		t.Fatalf("NewParquetSink: %v", err)
	}
	rec := New(testStart, logging.Noop(), sink)
	rec.Observe(report(0, routing.VariantInitial, 12))
	rec.Observe(report(time.Second, routing.VariantPeriodic, 13))
	rec.Observe(report(2*time.Second, routing.VariantPeriodic, 11))
	if err := rec.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	rec.Observe(report(3*time.Second, routing.VariantPeriodic, 99))

	rows, err := ReadParquet(path)
	if err != nil {
		t.Fatalf("ReadParquet: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	if rows[0].Variant != "initial" || rows[1].TickMillis != 1000 || rows[2].Links != 11 {
		t.Fatalf("rows = %+v", rows)
	}
	if n, failed := rec.Stats(); n != 3 || failed != 0 {
		t.Fatalf("stats = %d, %d", n, failed)
	}
}

type failingSink struct{ closed bool }

func (f *failingSink) Write(context.Context, TickRow) error { return errors.New("disk full") }
func (f *failingSink) Close(context.Context) error {
	f.closed = true
	return errors.New("close failed")
}

func TestRecorderCountsSinkFailures(t *testing.T) {
	sink := &failingSink{}
	rec := New(testStart, nil, sink)
	rec.Observe(report(0, routing.VariantInitial, 1))
	rec.Observe(report(time.Second, routing.VariantPeriodic, 1))

	if n, failed := rec.Stats(); n != 2 || failed != 2 {
		t.Fatalf("stats = %d, %d; want 2, 2", n, failed)
	}
	if err := rec.Close(context.Background()); err == nil || !sink.closed {
		t.Fatalf("Close() = %v, closed = %v", err, sink.closed)
	}
	if err := rec.Close(context.Background()); err != nil {
		t.Fatalf("second Close() = %v", err)
	}
}

func TestQuestDBSinkWritesLine(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer lis.Close()

	lines := make(chan string, 1)
	go func() {
		conn, err := lis.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		line, _ := bufio.NewReader(conn).ReadString('\n')
		lines <- line
	}()

	ctx := context.Background()
	sink, err := NewQuestDBSink(ctx, lis.Addr().String())
	if err != nil {
		t.Fatalf("NewQuestDBSink: %v", err)
	}
	row := Row(testStart, report(time.Second, routing.VariantPeriodic, 12))
	if err := sink.Write(ctx, row); err != nil {
		t.Fatalf("Write: %v", err)
	}

	select {
	case line := <-lines:
		if !strings.HasPrefix(line, QuestDBTable+",variant=periodic,result=ok ") {
			t.Fatalf("line = %q", line)
		}
		if !strings.Contains(line, "links=12i") {
			t.Fatalf("links column missing from %q", line)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no ILP line received")
	}
	if err := sink.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
