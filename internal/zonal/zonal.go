// Package zonal computes raster statistics over polygon zones.
//
// A cell belongs to a zone when its centre lies inside the polygon; cells
// that merely touch the polygon are not counted. Nodata and NaN cells are
// skipped.
package zonal

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/paulmach/orb"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/parcelmerge/internal/raster"
	"github.com/banshee-data/parcelmerge/internal/vector"
)

// Stat names one zonal statistic.
type Stat string

const (
	Count  Stat = "count"
	Min    Stat = "min"
	Max    Stat = "max"
	Mean   Stat = "mean"
	Sum    Stat = "sum"
	Std    Stat = "std"
	Median Stat = "median"
)

var known = map[Stat]bool{Count: true, Min: true, Max: true, Mean: true, Sum: true, Std: true, Median: true}

// ParseStats validates statistic names, dropping duplicates and keeping
// order. An empty list means just the mean.
func ParseStats(names []string) ([]Stat, error) {
	if len(names) == 0 {
		return []Stat{Mean}, nil
	}
	seen := map[Stat]bool{}
	var out []Stat
	for _, n := range names {
		s := Stat(strings.ToLower(strings.TrimSpace(n)))
		if !known[s] {
			return nil, fmt.Errorf("unknown zonal statistic %q", n)
		}
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out, nil
}

// Result holds the statistics of one zone. Every statistic other than count
// is undefined when no cell was counted.
type Result struct {
	Count  int
	values map[Stat]float64
}

// Get returns a statistic and whether it is defined.
func (r Result) Get(s Stat) (float64, bool) {
	if s == Count {
		return float64(r.Count), true
	}
	v, ok := r.values[s]
	return v, ok
}

// Compute samples g over the polygonal geometry zone.
func Compute(g *raster.Grid, zone orb.Geometry, nodata float64, stats []Stat) (Result, error) {
	if zone == nil || !vector.IsPolygonal(zone) {
		return Result{}, nil
	}
	w := g.WindowFor(zone.Bound())
	if w.Empty() {
		return Result{}, nil
	}
	cells, err := g.ReadWindow(w)
	if err != nil {
		return Result{}, fmt.Errorf("zonal window: %w", err)
	}

	var vals []float64
	for r := 0; r < w.Rows; r++ {
		for c := 0; c < w.Cols; c++ {
			v := cells[r*w.Cols+c]
			if g.IsNoData(v, nodata) {
				continue
			}
			if !vector.Contains(zone, g.CellCenter(w.Col+c, w.Row+r)) {
				continue
			}
			vals = append(vals, v)
		}
	}
	return summarize(vals, stats), nil
}

func summarize(vals []float64, stats []Stat) Result {
	res := Result{Count: len(vals)}
	if len(vals) == 0 {
		return res
	}
	res.values = make(map[Stat]float64, len(stats))
	for _, s := range stats {
		switch s {
		case Min:
			res.values[s] = floats.Min(vals)
		case Max:
			res.values[s] = floats.Max(vals)
		case Mean:
			res.values[s] = stat.Mean(vals, nil)
		case Sum:
			res.values[s] = floats.Sum(vals)
		case Std:
			res.values[s] = math.Sqrt(stat.PopVariance(vals, nil))
		case Median:
			res.values[s] = median(vals)
		}
	}
	return res
}

// median averages the two middle values of an even-length sample.
func median(vals []float64) float64 {
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
