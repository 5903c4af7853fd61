package vector

import (
	"fmt"
	"math"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/project"

	"github.com/banshee-data/parcelmerge/internal/crs"
)

// IsPolygonal reports whether g is a Polygon or MultiPolygon.
func IsPolygonal(g orb.Geometry) bool {
	switch g.(type) {
	case orb.Polygon, orb.MultiPolygon:
		return true
	}
	return false
}

// Area returns the planar area of a polygonal geometry in CRS units squared.
func Area(g orb.Geometry) float64 {
	if !IsPolygonal(g) {
		return 0
	}
	return math.Abs(planar.Area(g))
}

// Contains reports whether a polygonal geometry contains the point.
func Contains(g orb.Geometry, p orb.Point) bool {
	switch t := g.(type) {
	case orb.Polygon:
		return planar.PolygonContains(t, p)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(t, p)
	}
	return false
}

// TypeName returns the upper-case OGC geometry type name, e.g. "MULTIPOLYGON".
func TypeName(g orb.Geometry) string {
	if g == nil {
		return "GEOMETRY"
	}
	return strings.ToUpper(g.GeoJSONType())
}

// Transform returns a reprojected copy of g. The first coordinate that
// fails to transform aborts the copy.
func Transform(g orb.Geometry, tr *crs.Transformer) (orb.Geometry, error) {
	if g == nil {
		return nil, nil
	}
	clone := orb.Clone(g)
	if tr.Identity() {
		return clone, nil
	}
	var firstErr error
	out := project.Geometry(clone, func(p orb.Point) orb.Point {
		if firstErr != nil {
			return p
		}
		x, y, err := tr.Transform(p[0], p[1])
		if err != nil {
			firstErr = err
			return p
		}
		return orb.Point{x, y}
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

// Reproject returns a copy of the layer with every geometry in dst.
// Attribute maps are shared with the source layer.
func (l *Layer) Reproject(dst *crs.CRS) (*Layer, error) {
	tr, err := crs.NewTransformer(l.CRS, dst)
	if err != nil {
		return nil, fmt.Errorf("reproject %s: %w", l.Name, err)
	}
	out := &Layer{
		Name:     l.Name,
		CRS:      dst,
		Fields:   append([]Field(nil), l.Fields...),
		Features: make([]*Feature, len(l.Features)),
	}
	for i, f := range l.Features {
		g, err := Transform(f.Geometry, tr)
		if err != nil {
			return nil, fmt.Errorf("reproject %s feature %d: %w", l.Name, f.FID, err)
		}
		out.Features[i] = &Feature{FID: f.FID, Geometry: g, Attrs: f.Attrs}
	}
	return out, nil
}
