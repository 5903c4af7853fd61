package vector

import (
	"fmt"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	sfgeom "github.com/peterstace/simplefeatures/geom"
	"github.com/peterstace/simplefeatures/rtree"
)

// Index is an R-tree over a layer's feature envelopes, holding the overlay
// form of each geometry.
type Index struct {
	layer *Layer
	tree  *rtree.RTree
	geoms []sfgeom.Geometry
	valid []bool
}

// NewIndex builds an Index. Features without geometry are never returned by Search.
func NewIndex(l *Layer) (*Index, error) {
	ix := &Index{
		layer: l,
		geoms: make([]sfgeom.Geometry, len(l.Features)),
		valid: make([]bool, len(l.Features)),
	}
	items := make([]rtree.BulkItem, 0, len(l.Features))
	for i, f := range l.Features {
		if f.Geometry == nil {
			continue
		}
		g, err := toOverlay(f.Geometry)
		if err != nil {
			return nil, fmt.Errorf("layer %s feature %d: %w", l.Name, f.FID, err)
		}
		ix.geoms[i] = g
		ix.valid[i] = true
		items = append(items, rtree.BulkItem{Box: toBox(f.Geometry.Bound()), RecordID: i})
	}
	if len(items) > 0 {
		ix.tree = rtree.BulkLoad(items)
	}
	return ix, nil
}

// Layer returns the indexed layer.
func (ix *Index) Layer() *Layer {
	return ix.layer
}

// Search returns the indexes of features whose envelope intersects b, ascending.
func (ix *Index) Search(b orb.Bound) []int {
	if ix.tree == nil {
		return nil
	}
	var ids []int
	_ = ix.tree.RangeSearch(toBox(b), func(id int) error {
		ids = append(ids, id)
		return nil
	})
	sort.Ints(ids)
	return ids
}

func toBox(b orb.Bound) rtree.Box {
	return rtree.Box{MinX: b.Min[0], MinY: b.Min[1], MaxX: b.Max[0], MaxY: b.Max[1]}
}

func toOverlay(g orb.Geometry) (sfgeom.Geometry, error) {
	b, err := wkb.Marshal(g)
	if err != nil {
		return sfgeom.Geometry{}, fmt.Errorf("encode geometry: %w", err)
	}
	sg, err := sfgeom.UnmarshalWKB(b)
	if err != nil {
		return sfgeom.Geometry{}, fmt.Errorf("invalid geometry: %w", err)
	}
	return sg, nil
}

// Piece is the polygonal intersection of a left and a right feature.
type Piece struct {
	Left     int
	Right    int
	Area     float64
	Geometry sfgeom.Geometry
}

// Intersections overlays every left feature with the indexed right layer and
// returns the non-empty polygonal intersections, ordered by left then right index.
// Touching features (line or point intersections) produce no piece.
func Intersections(left *Layer, right *Index) ([]Piece, error) {
	var pieces []Piece
	for i, f := range left.Features {
		if f.Geometry == nil {
			continue
		}
		candidates := right.Search(f.Geometry.Bound())
		if len(candidates) == 0 {
			continue
		}
		a, err := toOverlay(f.Geometry)
		if err != nil {
			return nil, fmt.Errorf("layer %s feature %d: %w", left.Name, f.FID, err)
		}
		for _, j := range candidates {
			b := right.geoms[j]
			if !sfgeom.Intersects(a, b) {
				continue
			}
			inter, err := sfgeom.Intersection(a, b)
			if err != nil {
				return nil, fmt.Errorf("intersect %s %d with %s %d: %w",
					left.Name, f.FID, right.layer.Name, right.layer.Features[j].FID, err)
			}
			area := inter.Area()
			if area <= 0 {
				continue
			}
			pieces = append(pieces, Piece{Left: i, Right: j, Area: area, Geometry: inter})
		}
	}
	return pieces, nil
}

// UnionArea returns the area covered by the union of the pieces, counting
// overlapping pieces once.
func UnionArea(pieces []Piece) (float64, error) {
	switch len(pieces) {
	case 0:
		return 0, nil
	case 1:
		return pieces[0].Area, nil
	}
	u := pieces[0].Geometry
	for _, p := range pieces[1:] {
		var err error
		u, err = sfgeom.Union(u, p.Geometry)
		if err != nil {
			return 0, fmt.Errorf("union: %w", err)
		}
	}
	return u.Area(), nil
}

// IntersectsJoin returns, for every left feature, the indexes of right
// features whose geometry intersects it (touching included), ascending.
func IntersectsJoin(left *Layer, right *Index) ([][]int, error) {
	matches := make([][]int, len(left.Features))
	for i, f := range left.Features {
		if f.Geometry == nil {
			continue
		}
		candidates := right.Search(f.Geometry.Bound())
		if len(candidates) == 0 {
			continue
		}
		a, err := toOverlay(f.Geometry)
		if err != nil {
			return nil, fmt.Errorf("layer %s feature %d: %w", left.Name, f.FID, err)
		}
		for _, j := range candidates {
			if sfgeom.Intersects(a, right.geoms[j]) {
				matches[i] = append(matches[i], j)
			}
		}
	}
	return matches, nil
}
