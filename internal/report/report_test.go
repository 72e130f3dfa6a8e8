package report

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/signalsfoundry/leo-router/internal/recorder"
)

func sampleRows() []recorder.TickRow {
	return []recorder.TickRow{
		{TickMillis: 0, Variant: "initial", Links: 12, Entries: 168, DurationMicros: 1000},
		{TickMillis: 1000, Variant: "periodic", Links: 14, Entries: 210, GroundAdded: 2, DurationMicros: 3000, CacheHit: true},
		{TickMillis: 2000, Variant: "periodic", Links: 13, Entries: 190, GroundRemoved: 1, PropagationFailures: 1, DurationMicros: 2000, Error: "partial"},
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize(sampleRows())
	if s.Ticks != 3 || s.Failed != 1 || s.CacheHits != 1 {
		t.Fatalf("summary = %+v", s)
	}
	if s.MinLinks != 12 || s.MaxLinks != 14 {
		t.Fatalf("links range = [%d,%d]", s.MinLinks, s.MaxLinks)
	}
	if s.GroundAdded != 2 || s.GroundRemoved != 1 || s.PropagationFailures != 1 {
		t.Fatalf("churn = %+v", s)
	}
	if s.MeanRebuild != 2*time.Millisecond || s.MaxRebuild != 3*time.Millisecond {
		t.Fatalf("rebuild mean=%s max=%s", s.MeanRebuild, s.MaxRebuild)
	}
	if s.Span != 2*time.Second {
		t.Fatalf("span = %s", s.Span)
	}
	if (Summarize(nil) != Summary{}) {
		t.Fatalf("empty summary should be zero")
	}
}

func TestTimeline(t *testing.T) {
	series := Timeline(sampleRows())
	if len(series) != 3 {
		t.Fatalf("series = %d", len(series))
	}
	churn := series[2].Points
	if churn[0].Y != 0 || churn[1].Y != 2 || churn[2].Y != 3 {
		t.Fatalf("cumulative churn = %v", churn)
	}
	if series[0].Points[1].X != 1 || series[1].Points[1].Y != 2.1 {
		t.Fatalf("points = %v %v", series[0].Points, series[1].Points)
	}
}

func TestRenderPNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "timeline.png")
	if err := Render(sampleRows(), "2x4 grid", path); err != nil {
		t.Fatalf("Render: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		t.Fatalf("rendered file missing: %v", err)
	}
	if err := Render(nil, "empty", path); err == nil {
		t.Fatalf("expected error for empty rows")
	}
}
