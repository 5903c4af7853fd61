// Package report summarises a finished run and renders the optional report
// files: summary JSON, PNG histograms, an HTML chart page and Prometheus
// textfile metrics.
package report

import (
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/parcelmerge/internal/db"
	"github.com/banshee-data/parcelmerge/internal/fsutil"
	"github.com/banshee-data/parcelmerge/internal/units"
	"github.com/banshee-data/parcelmerge/internal/vector"
)

// DefaultBins is the bucket count of every histogram.
const DefaultBins = 10

// Columns names the output attributes the summary reads.
type Columns struct {
	ParcelArea   string
	ProjectShare string
	CE           string
	Raster       string
}

// Bin is one histogram bucket, [Low, High).
type Bin struct {
	Low   float64 `json:"low"`
	High  float64 `json:"high"`
	Count int     `json:"count"`
}

// ShareStats describes the project_share column.
type ShareStats struct {
	Mean        float64 `json:"mean"`
	Median      float64 `json:"median"`
	WithProject float64 `json:"with_project"` // fraction of rows with share > 0
}

// ValueStats describes the sampled raster column.
type ValueStats struct {
	Column string  `json:"column"`
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Summary is the report of one run.
type Summary struct {
	RunID       string     `json:"run_id,omitempty"`
	GeneratedAt time.Time  `json:"generated_at"`
	Output      string     `json:"output"`
	Layer       string     `json:"layer"`
	Counts      db.Counts  `json:"counts"`
	AreaUnit    string     `json:"area_unit"`
	TotalArea   float64    `json:"total_area"`
	ProjectArea float64    `json:"project_area"`
	Share       ShareStats `json:"project_share"`
	ShareBins   []Bin      `json:"project_share_bins"`
	Raster      ValueStats `json:"raster"`
	RasterBins  []Bin      `json:"raster_bins"`
	Steps       []db.Step  `json:"steps,omitempty"`

	shares       []float64
	rasterValues []float64
}

// Summarize computes the layer-derived parts of a Summary: areas, the share
// and raster distributions, and the row, project and easement counts. The
// caller fills in the input counts, step timings and GeneratedAt.
func Summarize(l *vector.Layer, cols Columns, areaUnit string) *Summary {
	s := &Summary{
		Layer:    l.Name,
		AreaUnit: areaUnit,
		Raster:   ValueStats{Column: cols.Raster},
	}
	var totalM2, projectM2 float64
	for _, f := range l.Features {
		area, _ := Number(f.Attrs[cols.ParcelArea])
		share, hasShare := Number(f.Attrs[cols.ProjectShare])
		totalM2 += area
		if hasShare {
			s.shares = append(s.shares, share)
			projectM2 += area * share
			if share > 0 {
				s.Counts.ParcelsWithProject++
			}
		}
		if ce, ok := Number(f.Attrs[cols.CE]); ok && ce == 1 {
			s.Counts.ParcelsWithCE++
		}
		if v, ok := Number(f.Attrs[cols.Raster]); ok && !math.IsNaN(v) {
			s.rasterValues = append(s.rasterValues, v)
		}
	}
	s.Counts.RowsOut = l.Len()
	s.TotalArea = units.ConvertArea(totalM2, areaUnit)
	s.ProjectArea = units.ConvertArea(projectM2, areaUnit)

	sort.Float64s(s.shares)
	sort.Float64s(s.rasterValues)
	if n := len(s.shares); n > 0 {
		s.Share = ShareStats{
			Mean:        stat.Mean(s.shares, nil),
			Median:      stat.Quantile(0.5, stat.Empirical, s.shares, nil),
			WithProject: float64(s.Counts.ParcelsWithProject) / float64(n),
		}
	}
	s.ShareBins = Histogram(s.shares, 0, 1, DefaultBins)
	if n := len(s.rasterValues); n > 0 {
		s.Raster.Count = n
		s.Raster.Mean = stat.Mean(s.rasterValues, nil)
		s.Raster.Min = floats.Min(s.rasterValues)
		s.Raster.Max = floats.Max(s.rasterValues)
		s.RasterBins = Histogram(s.rasterValues, s.Raster.Min, s.Raster.Max, DefaultBins)
	}
	return s
}

// Histogram buckets sorted values into n equal bins spanning [lo, hi]. The
// top edge is inclusive so the maximum lands in the last bin.
func Histogram(sorted []float64, lo, hi float64, n int) []Bin {
	if n <= 0 {
		return nil
	}
	if hi <= lo {
		hi = lo + 1
	}
	dividers := floats.Span(make([]float64, n+1), lo, hi)
	edges := append([]float64(nil), dividers...)
	dividers[n] = math.Nextafter(hi, math.Inf(1))

	var in []float64
	for _, v := range sorted {
		if v >= lo && v <= hi {
			in = append(in, v)
		}
	}
	counts := stat.Histogram(nil, dividers, in, nil)
	bins := make([]Bin, n)
	for i := range bins {
		bins[i] = Bin{Low: edges[i], High: edges[i+1], Count: int(counts[i])}
	}
	return bins
}

// Number converts a numeric attribute value. Nil and non-numeric values
// report false.
func Number(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// Text renders the headline numbers for the CLI.
func (s *Summary) Text() string {
	return fmt.Sprintf(
		"rows=%d parcels_in=%d with_project=%d sampled=%d with_ce=%d area=%.2f%s project_area=%.2f%s share_mean=%.4f %s_mean=%.4f",
		s.Counts.RowsOut, s.Counts.ParcelsIn, s.Counts.ParcelsWithProject, s.Counts.ParcelsSampled,
		s.Counts.ParcelsWithCE, s.TotalArea, s.AreaUnit, s.ProjectArea, s.AreaUnit,
		s.Share.Mean, s.Raster.Column, s.Raster.Mean)
}

// WriteJSON writes the summary as indented JSON.
func WriteJSON(fsys fsutil.FileSystem, path string, s *Summary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	if err := fsys.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	if err := fsys.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}
