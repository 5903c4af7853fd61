// Package testutil provides shared test helpers and on-disk fixtures.
//
// It depends only on third-party geometry libraries so that any package in
// the module can use it from its tests without an import cycle.
package testutil

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// AssertNear fails the test if got and want differ by more than tol.
func AssertNear(t *testing.T, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("got %v, want %v (tol %v)", got, want, tol)
	}
}

// Rect returns an axis-aligned rectangle with a closed counter-clockwise ring.
func Rect(minX, minY, maxX, maxY float64) orb.Polygon {
	return orb.Polygon{orb.Ring{
		{minX, minY}, {maxX, minY}, {maxX, maxY}, {minX, maxY}, {minX, minY},
	}}
}

// Square returns a size x size rectangle with its lower-left corner at (x, y).
func Square(x, y, size float64) orb.Polygon {
	return Rect(x, y, x+size, y+size)
}

// ASCIIGrid describes an ESRI ASCII grid fixture. Rows run north to south.
type ASCIIGrid struct {
	XLL, YLL float64
	CellSize float64
	NoData   float64
	Rows     [][]float64
	// PRJ, when set, is written to a sibling .prj file.
	PRJ string
}

// WriteASCIIGrid writes g to dir/name.asc and returns the path.
func WriteASCIIGrid(t *testing.T, dir, name string, g ASCIIGrid) string {
	t.Helper()
	if len(g.Rows) == 0 {
		t.Fatal("ascii grid fixture has no rows")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "ncols %d\n", len(g.Rows[0]))
	fmt.Fprintf(&b, "nrows %d\n", len(g.Rows))
	fmt.Fprintf(&b, "xllcorner %s\n", num(g.XLL))
	fmt.Fprintf(&b, "yllcorner %s\n", num(g.YLL))
	fmt.Fprintf(&b, "cellsize %s\n", num(g.CellSize))
	fmt.Fprintf(&b, "NODATA_value %s\n", num(g.NoData))
	for _, row := range g.Rows {
		vals := make([]string, len(row))
		for i, v := range row {
			vals[i] = num(v)
		}
		b.WriteString(strings.Join(vals, " "))
		b.WriteByte('\n')
	}
	path := filepath.Join(dir, name+".asc")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("write ascii grid: %v", err)
	}
	if g.PRJ != "" {
		if err := os.WriteFile(filepath.Join(dir, name+".prj"), []byte(g.PRJ), 0o644); err != nil {
			t.Fatalf("write prj: %v", err)
		}
	}
	return path
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Shapefile describes a polygon shapefile fixture with text attributes.
type Shapefile struct {
	Fields   []string
	Polygons []orb.Polygon
	// Attrs holds one row per polygon, one value per field.
	Attrs [][]string
	PRJ   string
}

// WriteShapefile writes s to dir/name.shp (plus .shx, .dbf and .prj) and
// returns the .shp path.
func WriteShapefile(t *testing.T, dir, name string, s Shapefile) string {
	t.Helper()
	path := filepath.Join(dir, name+".shp")
	w, err := shp.Create(path, shp.POLYGON)
	if err != nil {
		t.Fatalf("create shapefile: %v", err)
	}
	fields := make([]shp.Field, len(s.Fields))
	for i, f := range s.Fields {
		fields[i] = shp.StringField(f, 32)
	}
	if err := w.SetFields(fields); err != nil {
		t.Fatalf("set shapefile fields: %v", err)
	}
	for i, poly := range s.Polygons {
		parts := make([][]shp.Point, len(poly))
		for j, ring := range poly {
			// Shapefile outer rings are clockwise, holes counter-clockwise.
			cw := j == 0
			parts[j] = shpRing(ring, cw)
		}
		shape := shp.Polygon(*shp.NewPolyLine(parts))
		row := int(w.Write(&shape))
		for k := range s.Fields {
			if i < len(s.Attrs) && k < len(s.Attrs[i]) {
				if err := w.WriteAttribute(row, k, s.Attrs[i][k]); err != nil {
					t.Fatalf("write shapefile attribute: %v", err)
				}
			}
		}
	}
	w.Close()
	if s.PRJ != "" {
		if err := os.WriteFile(filepath.Join(dir, name+".prj"), []byte(s.PRJ), 0o644); err != nil {
			t.Fatalf("write prj: %v", err)
		}
	}
	return path
}

func shpRing(r orb.Ring, clockwise bool) []shp.Point {
	pts := make([]shp.Point, len(r))
	for i, p := range r {
		pts[i] = shp.Point{X: p[0], Y: p[1]}
	}
	if (r.Orientation() == orb.CW) != clockwise {
		for i, j := 0, len(pts)-1; i < j; i, j = i+1, j-1 {
			pts[i], pts[j] = pts[j], pts[i]
		}
	}
	return pts
}
