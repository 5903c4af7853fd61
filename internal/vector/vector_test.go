package vector

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/parcelmerge/internal/crs"
	"github.com/banshee-data/parcelmerge/internal/testutil"
)

func mustCRS(t *testing.T, s string) *crs.CRS {
	t.Helper()
	c, err := crs.Parse(s)
	require.NoError(t, err)
	return c
}

func layerOf(t *testing.T, name string, polys ...orb.Polygon) *Layer {
	t.Helper()
	l := NewLayer(name, mustCRS(t, "EPSG:5070"))
	l.AddField(Field{Name: "id", Type: FieldInteger})
	for i, p := range polys {
		l.Features = append(l.Features, &Feature{
			FID:      int64(i + 1),
			Geometry: p,
			Attrs:    map[string]any{"id": int64(i + 1)},
		})
	}
	return l
}

func fieldNames(l *Layer) []string {
	names := make([]string, len(l.Fields))
	for i, f := range l.Fields {
		names[i] = f.Name
	}
	return names
}

func TestLayerSchema(t *testing.T) {
	t.Parallel()

	l := layerOf(t, "parcels", testutil.Square(0, 0, 1))
	l.AddField(Field{Name: "name", Type: FieldText})
	l.AddField(Field{Name: "area", Type: FieldReal})
	l.AddField(Field{Name: "name", Type: FieldBlob})
	l.Features[0].Set("name", "a")
	l.Features[0].Set("area", 1.0)

	assert.Equal(t, []string{"id", "name", "area"}, fieldNames(l))
	assert.Equal(t, FieldBlob, l.Fields[1].Type)

	require.NoError(t, l.RenameField("name", "label"))
	v, ok := l.Features[0].Get("label")
	assert.True(t, ok)
	assert.Equal(t, "a", v)
	_, ok = l.Features[0].Get("name")
	assert.False(t, ok)

	require.NoError(t, l.SelectFields("area", "label"))
	assert.Equal(t, []string{"area", "label"}, fieldNames(l))
	_, ok = l.Features[0].Get("id")
	assert.False(t, ok)

	assert.Error(t, l.SelectFields("missing"))
	assert.Error(t, l.RenameField("missing", "x"))

	l.DropField("area")
	assert.Equal(t, []string{"label"}, fieldNames(l))
}

func TestFieldTypeString(t *testing.T) {
	t.Parallel()

	tests := map[FieldType]string{
		FieldText:    "TEXT",
		FieldInteger: "INTEGER",
		FieldReal:    "REAL",
		FieldBlob:    "BLOB",
	}
	for ft, want := range tests {
		if got := ft.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", ft, got, want)
		}
	}
}

func TestFilterKeepsOrder(t *testing.T) {
	t.Parallel()

	l := layerOf(t, "p", testutil.Square(0, 0, 1), testutil.Square(2, 0, 1), testutil.Square(4, 0, 1))
	out := l.Filter(func(f *Feature) bool { return f.FID != 2 })
	require.Equal(t, 2, out.Len())
	assert.Equal(t, int64(1), out.Features[0].FID)
	assert.Equal(t, int64(3), out.Features[1].FID)
	assert.Equal(t, 3, l.Len())
}

func TestGeometryHelpers(t *testing.T) {
	t.Parallel()

	sq := testutil.Square(0, 0, 10)
	mp := orb.MultiPolygon{sq, testutil.Square(20, 0, 2)}

	assert.True(t, IsPolygonal(sq))
	assert.True(t, IsPolygonal(mp))
	assert.False(t, IsPolygonal(orb.Point{1, 1}))
	assert.False(t, IsPolygonal(nil))

	assert.InDelta(t, 100, Area(sq), 1e-9)
	assert.InDelta(t, 104, Area(mp), 1e-9)
	assert.Zero(t, Area(orb.LineString{{0, 0}, {1, 1}}))

	// Clockwise rings still give a positive area.
	cw := orb.Polygon{orb.Ring{{0, 0}, {0, 2}, {2, 2}, {2, 0}, {0, 0}}}
	assert.InDelta(t, 4, Area(cw), 1e-9)

	assert.True(t, Contains(sq, orb.Point{5, 5}))
	assert.False(t, Contains(sq, orb.Point{15, 5}))
	assert.True(t, Contains(mp, orb.Point{21, 1}))

	assert.Equal(t, "MULTIPOLYGON", TypeName(mp))
	assert.Equal(t, "POLYGON", TypeName(sq))
	assert.Equal(t, "GEOMETRY", TypeName(nil))
}

func TestBound(t *testing.T) {
	t.Parallel()

	l := layerOf(t, "p", testutil.Square(0, 0, 1), testutil.Square(5, 7, 1))
	l.Features = append(l.Features, &Feature{FID: 3})
	b := l.Bound()
	assert.Equal(t, orb.Point{0, 0}, b.Min)
	assert.Equal(t, orb.Point{6, 8}, b.Max)
}

func TestReproject(t *testing.T) {
	t.Parallel()

	wgs := mustCRS(t, "EPSG:4326")
	albers := mustCRS(t, "EPSG:5070")

	l := NewLayer("p", wgs)
	orig := testutil.Rect(-120.01, 38.99, -119.99, 39.01)
	l.Features = []*Feature{{FID: 1, Geometry: orig, Attrs: map[string]any{"a": 1}}, {FID: 2}}

	out, err := l.Reproject(albers)
	require.NoError(t, err)
	assert.True(t, out.CRS.Equal(albers))
	require.Equal(t, 2, out.Len())
	assert.Nil(t, out.Features[1].Geometry)

	// The source geometry is untouched.
	assert.Equal(t, -120.01, orig[0][0][0])

	// A 0.02 degree box near 39N is about 1.73 km x 2.22 km.
	area := Area(out.Features[0].Geometry)
	assert.InDelta(t, 3.84e6, area, 0.05e6)

	back, err := out.Reproject(wgs)
	require.NoError(t, err)
	got := back.Features[0].Geometry.(orb.Polygon)
	for i, p := range got[0] {
		assert.InDelta(t, orig[0][i][0], p[0], 1e-7)
		assert.InDelta(t, orig[0][i][1], p[1], 1e-7)
	}

	same, err := out.Reproject(albers)
	require.NoError(t, err)
	if diff := cmp.Diff(out.Features[0].Geometry, same.Features[0].Geometry); diff != "" {
		t.Errorf("identity reprojection changed geometry (-want +got):\n%s", diff)
	}
}

func TestReprojectUnknownCRS(t *testing.T) {
	t.Parallel()

	l := NewLayer("p", nil)
	_, err := l.Reproject(mustCRS(t, "EPSG:5070"))
	assert.ErrorIs(t, err, crs.ErrUnsupported)
}

func TestIndexSearch(t *testing.T) {
	t.Parallel()

	l := layerOf(t, "proj", testutil.Square(0, 0, 10), testutil.Square(100, 100, 10))
	l.Features = append(l.Features, &Feature{FID: 3})
	ix, err := NewIndex(l)
	require.NoError(t, err)

	assert.Equal(t, []int{0}, ix.Search(orb.Bound{Min: orb.Point{5, 5}, Max: orb.Point{6, 6}}))
	assert.Equal(t, []int{0, 1}, ix.Search(orb.Bound{Min: orb.Point{-1, -1}, Max: orb.Point{200, 200}}))
	assert.Empty(t, ix.Search(orb.Bound{Min: orb.Point{50, 50}, Max: orb.Point{60, 60}}))

	empty, err := NewIndex(NewLayer("none", nil))
	require.NoError(t, err)
	assert.Empty(t, empty.Search(orb.Bound{Max: orb.Point{1, 1}}))
}

func TestIntersections(t *testing.T) {
	t.Parallel()

	parcels := layerOf(t, "parcels",
		testutil.Square(0, 0, 10),  // half covered by A, quarter by B
		testutil.Square(20, 0, 10), // touches nothing
		testutil.Square(10, 0, 10), // shares an edge with parcel 0 and project A
	)
	projects := layerOf(t, "projects",
		testutil.Rect(-5, 0, 5, 10), // A
		testutil.Rect(0, 0, 5, 5),   // B, inside A
	)
	ix, err := NewIndex(projects)
	require.NoError(t, err)

	pieces, err := Intersections(parcels, ix)
	require.NoError(t, err)
	require.Len(t, pieces, 2)

	assert.Equal(t, 0, pieces[0].Left)
	assert.Equal(t, 0, pieces[0].Right)
	assert.InDelta(t, 50, pieces[0].Area, 1e-9)
	assert.Equal(t, 1, pieces[1].Right)
	assert.InDelta(t, 25, pieces[1].Area, 1e-9)

	covered, err := UnionArea(pieces)
	require.NoError(t, err)
	assert.InDelta(t, 50, covered, 1e-9)

	single, err := UnionArea(pieces[1:])
	require.NoError(t, err)
	assert.InDelta(t, 25, single, 1e-9)

	none, err := UnionArea(nil)
	require.NoError(t, err)
	assert.Zero(t, none)
}

func TestIntersectsJoin(t *testing.T) {
	t.Parallel()

	parcels := layerOf(t, "parcels",
		testutil.Square(0, 0, 10),
		testutil.Square(10, 0, 10),
		testutil.Square(50, 50, 1),
	)
	easements := layerOf(t, "ce",
		testutil.Square(9, 9, 2),  // overlaps both of the first two parcels
		testutil.Square(20, 0, 5), // touches parcel 1 along x=20
	)
	ix, err := NewIndex(easements)
	require.NoError(t, err)

	matches, err := IntersectsJoin(parcels, ix)
	require.NoError(t, err)
	want := [][]int{{0}, {0, 1}, nil}
	if diff := cmp.Diff(want, matches); diff != "" {
		t.Errorf("matches mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteGeoJSON(t *testing.T) {
	t.Parallel()

	l := layerOf(t, "out", testutil.Square(0, 0, 1))
	l.AddField(Field{Name: "project", Type: FieldText})
	l.Features[0].Set("project", "p1")
	l.Features = append(l.Features, &Feature{FID: 2, Attrs: map[string]any{"id": int64(2)}})

	var buf bytes.Buffer
	require.NoError(t, WriteGeoJSON(&buf, l))

	var doc struct {
		Type     string `json:"type"`
		Features []struct {
			ID         float64        `json:"id"`
			Properties map[string]any `json:"properties"`
			Geometry   struct {
				Type string `json:"type"`
			} `json:"geometry"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "FeatureCollection", doc.Type)
	require.Len(t, doc.Features, 1)
	assert.Equal(t, float64(1), doc.Features[0].ID)
	assert.Equal(t, "p1", doc.Features[0].Properties["project"])
	assert.Equal(t, "Polygon", doc.Features[0].Geometry.Type)
}
