package testutil

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

func TestAssertNoError(t *testing.T) {
	t.Parallel()
	AssertNoError(t, nil)
}

func TestAssertError(t *testing.T) {
	t.Parallel()
	AssertError(t, errors.New("test error"))
}

func TestAssertNear(t *testing.T) {
	t.Parallel()
	AssertNear(t, 1.0000001, 1, 1e-6)
}

func TestSquare(t *testing.T) {
	t.Parallel()

	sq := Square(10, 20, 5)
	if got := planar.Area(sq); got != 25 {
		t.Errorf("area = %v, want 25", got)
	}
	ring := sq[0]
	if !ring.Closed() {
		t.Error("ring is not closed")
	}
	if ring.Orientation() != orb.CCW {
		t.Errorf("orientation = %v, want CCW", ring.Orientation())
	}
}

func TestWriteASCIIGrid(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := WriteASCIIGrid(t, dir, "whp", ASCIIGrid{
		XLL: 0, YLL: 0, CellSize: 10, NoData: -9999,
		Rows: [][]float64{{1, 2}, {3, -9999}},
		PRJ:  "GEOGCS[]",
	})
	data, err := os.ReadFile(path)
	AssertNoError(t, err)
	text := string(data)
	for _, want := range []string{"ncols 2", "nrows 2", "cellsize 10", "NODATA_value -9999", "3 -9999"} {
		if !strings.Contains(text, want) {
			t.Errorf("grid missing %q:\n%s", want, text)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "whp.prj")); err != nil {
		t.Errorf("prj not written: %v", err)
	}
}

func TestWriteShapefile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := WriteShapefile(t, dir, "ce", Shapefile{
		Fields:   []string{"unique_id", "owntype"},
		Polygons: []orb.Polygon{Square(0, 0, 1), Square(5, 5, 2)},
		Attrs:    [][]string{{"a", "FED"}, {"b", "PVT"}},
	})

	r, err := shp.Open(path)
	AssertNoError(t, err)
	defer r.Close()

	n := 0
	for r.Next() {
		_, shape := r.Shape()
		poly, ok := shape.(*shp.Polygon)
		if !ok {
			t.Fatalf("shape %d is %T, want *shp.Polygon", n, shape)
		}
		if poly.NumParts != 1 {
			t.Errorf("shape %d parts = %d, want 1", n, poly.NumParts)
		}
		n++
	}
	if n != 2 {
		t.Fatalf("read %d shapes, want 2", n)
	}
}
