// Package report renders recorded routing cycles.
package report

import (
	"fmt"
	"image/color"
	"time"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/signalsfoundry/leo-router/internal/recorder"
)

// Summary aggregates a run.
type Summary struct {
	Ticks               int
	Failed              int
	CacheHits           int
	MaxLinks            int
	MinLinks            int
	GroundAdded         int
	GroundRemoved       int
	PropagationFailures int
	MeanRebuild         time.Duration
	MaxRebuild          time.Duration
	Span                time.Duration
}

// Summarize folds rows, which must be in recording order.
func Summarize(rows []recorder.TickRow) Summary {
	var s Summary
	if len(rows) == 0 {
		return s
	}
	s.Ticks = len(rows)
	s.MinLinks = int(rows[0].Links)
	durations := make([]float64, 0, len(rows))
	for _, r := range rows {
		if r.Error != "" {
			s.Failed++
		}
		if r.CacheHit {
			s.CacheHits++
		}
		s.MaxLinks = max(s.MaxLinks, int(r.Links))
		s.MinLinks = min(s.MinLinks, int(r.Links))
		s.GroundAdded += int(r.GroundAdded)
		s.GroundRemoved += int(r.GroundRemoved)
		s.PropagationFailures += int(r.PropagationFailures)
		d := time.Duration(r.DurationMicros) * time.Microsecond
		s.MaxRebuild = max(s.MaxRebuild, d)
		durations = append(durations, float64(d))
	}
	s.MeanRebuild = time.Duration(stat.Mean(durations, nil))
	s.Span = time.Duration(rows[len(rows)-1].TickMillis-rows[0].TickMillis) * time.Millisecond
	return s
}

func (s Summary) String() string {
	return fmt.Sprintf("ticks=%d failed=%d cache_hits=%d links=[%d,%d] ground(+%d/-%d) propagation_failures=%d rebuild(mean=%s max=%s) span=%s",
		s.Ticks, s.Failed, s.CacheHits, s.MinLinks, s.MaxLinks, s.GroundAdded, s.GroundRemoved,
		s.PropagationFailures, s.MeanRebuild, s.MaxRebuild, s.Span)
}

// Series is one plotted line keyed by simulation seconds.
type Series struct {
	Name   string
	Points plotter.XYs
}

// Timeline extracts the plotted series: links, forwarding entries (per
// 100), and cumulative ground link changes.
func Timeline(rows []recorder.TickRow) []Series {
	links := make(plotter.XYs, len(rows))
	entries := make(plotter.XYs, len(rows))
	churn := make(plotter.XYs, len(rows))
	total := 0
	for i, r := range rows {
		x := float64(r.TickMillis) / 1000
		total += int(r.GroundAdded + r.GroundRemoved)
		links[i] = plotter.XY{X: x, Y: float64(r.Links)}
		entries[i] = plotter.XY{X: x, Y: float64(r.Entries) / 100}
		churn[i] = plotter.XY{X: x, Y: float64(total)}
	}
	return []Series{
		{Name: "links", Points: links},
		{Name: "entries/100", Points: entries},
		{Name: "ground changes", Points: churn},
	}
}

var palette = []color.Color{
	color.RGBA{R: 31, G: 119, B: 180, A: 255},
	color.RGBA{R: 255, G: 127, B: 14, A: 255},
	color.RGBA{R: 44, G: 160, B: 44, A: 255},
}

// Render writes the timeline to path; the extension (.png, .svg, .pdf)
// selects the format.
func Render(rows []recorder.TickRow, title, path string) error {
	if len(rows) == 0 {
		return fmt.Errorf("report.Render: no rows")
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "simulation time (s)"
	p.Y.Label.Text = "count"
	p.Add(plotter.NewGrid())

	for i, s := range Timeline(rows) {
		line, err := plotter.NewLine(s.Points)
		if err != nil {
			return fmt.Errorf("report.Render: %s: %w", s.Name, err)
		}
		line.Color = palette[i%len(palette)]
		line.Width = vg.Points(1.5)
		p.Add(line)
		p.Legend.Add(s.Name, line)
	}
	p.Legend.Top = true

	if err := p.Save(10*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("report.Render: save %q: %w", path, err)
	}
	return nil
}
