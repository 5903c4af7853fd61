// Package raster reads single-band grids with windowed access.
//
// Supported formats are ESRI ASCII grids (.asc) and ESRI/ENVI raw grids
// (.flt and .bil with a .hdr header). ArcInfo binary grid directories are
// recognised and redirected to a converted sibling file when one exists.
// Builds tagged gdal read ArcInfo grids, and anything else GDAL opens,
// directly through github.com/airbusgeo/godal.
package raster

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/paulmach/orb"

	"github.com/banshee-data/parcelmerge/internal/crs"
	"github.com/banshee-data/parcelmerge/internal/monitoring"
)

// ErrUnsupportedFormat is returned for rasters no reader handles.
var ErrUnsupportedFormat = errors.New("raster: unsupported format")

// Transform places the grid: the origin is the outer corner of the
// top-left cell, rows run south.
type Transform struct {
	OriginX, OriginY      float64
	CellWidth, CellHeight float64
}

// Metadata describes a raster, mirroring the driver/dtype/size/nodata/crs/
// transform summary GIS tools print.
type Metadata struct {
	Path      string
	Driver    string
	DType     string
	Width     int
	Height    int
	Count     int
	NoData    *float64
	Transform Transform
	CRS       *crs.CRS
}

// Bounds returns the grid extent.
func (m Metadata) Bounds() orb.Bound {
	t := m.Transform
	return orb.Bound{
		Min: orb.Point{t.OriginX, t.OriginY - float64(m.Height)*t.CellHeight},
		Max: orb.Point{t.OriginX + float64(m.Width)*t.CellWidth, t.OriginY},
	}
}

// CellCenter returns the coordinate of the centre of a cell.
func (m Metadata) CellCenter(col, row int) orb.Point {
	t := m.Transform
	return orb.Point{
		t.OriginX + (float64(col)+0.5)*t.CellWidth,
		t.OriginY - (float64(row)+0.5)*t.CellHeight,
	}
}

// IsNoData reports whether v should be ignored given the nodata value. The
// nodata value is compared at the precision of the grid's data type, and NaN
// is always ignored.
func (m Metadata) IsNoData(v, nodata float64) bool {
	if math.IsNaN(v) {
		return true
	}
	if m.DType == "float32" {
		return float32(v) == float32(nodata)
	}
	return v == nodata
}

// String formats the metadata on one line.
func (m Metadata) String() string {
	nodata := "None"
	if m.NoData != nil {
		nodata = formatNum(*m.NoData)
	}
	ref := "None"
	if m.CRS != nil {
		ref = m.CRS.String()
	}
	t := m.Transform
	return fmt.Sprintf("driver=%s dtype=%s nodata=%s width=%d height=%d count=%d crs=%s transform=(%s, 0, %s, 0, %s, %s)",
		m.Driver, m.DType, nodata, m.Width, m.Height, m.Count, ref,
		formatNum(t.CellWidth), formatNum(t.OriginX), formatNum(-t.CellHeight), formatNum(t.OriginY))
}

// formatNum prints integral values without an exponent.
func formatNum(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Window is a rectangular block of cells.
type Window struct {
	Col, Row   int
	Cols, Rows int
}

// Empty reports whether the window holds no cells.
func (w Window) Empty() bool {
	return w.Cols <= 0 || w.Rows <= 0
}

// WindowFor returns the cells whose centres fall inside b, clipped to the grid.
func (m Metadata) WindowFor(b orb.Bound) Window {
	t := m.Transform
	col0 := int(math.Ceil((b.Min[0]-t.OriginX)/t.CellWidth - 0.5))
	col1 := int(math.Floor((b.Max[0]-t.OriginX)/t.CellWidth - 0.5))
	row0 := int(math.Ceil((t.OriginY-b.Max[1])/t.CellHeight - 0.5))
	row1 := int(math.Floor((t.OriginY-b.Min[1])/t.CellHeight - 0.5))
	col0, row0 = max(col0, 0), max(row0, 0)
	col1, row1 = min(col1, m.Width-1), min(row1, m.Height-1)
	if col1 < col0 || row1 < row0 {
		return Window{}
	}
	return Window{Col: col0, Row: row0, Cols: col1 - col0 + 1, Rows: row1 - row0 + 1}
}

type rowReader interface {
	// readRow fills dst with len(dst) cells of row starting at col.
	readRow(row, col int, dst []float64) error
	Close() error
}

// Grid is an open raster.
type Grid struct {
	Metadata
	rows rowReader
	wkt  string // CRS reported by the driver, when it reports one
}

// ReadWindow returns the window's cells in row-major order.
func (g *Grid) ReadWindow(w Window) ([]float64, error) {
	if w.Empty() {
		return nil, nil
	}
	if w.Col < 0 || w.Row < 0 || w.Col+w.Cols > g.Width || w.Row+w.Rows > g.Height {
		return nil, fmt.Errorf("window %+v outside %dx%d grid", w, g.Width, g.Height)
	}
	out := make([]float64, w.Cols*w.Rows)
	for r := 0; r < w.Rows; r++ {
		if err := g.rows.readRow(w.Row+r, w.Col, out[r*w.Cols:(r+1)*w.Cols]); err != nil {
			return nil, fmt.Errorf("read row %d of %s: %w", w.Row+r, g.Path, err)
		}
	}
	return out, nil
}

// Close releases the underlying file.
func (g *Grid) Close() error {
	return g.rows.Close()
}

// Options adjusts how a raster is opened.
type Options struct {
	// CRS, when set, is used instead of the CRS stored with the raster.
	CRS *crs.CRS
}

// Open opens a raster by path, choosing the reader from the extension.
func Open(path string) (*Grid, error) {
	return OpenWith(path, Options{})
}

// OpenWith opens a raster with options. A .prj that cannot be resolved is an
// error wrapping crs.ErrUnsupported unless opts.CRS is set.
func OpenWith(path string, opts Options) (*Grid, error) {
	g, prj, err := open(path)
	if err != nil {
		return nil, err
	}
	if opts.CRS != nil {
		g.CRS = opts.CRS
		return g, nil
	}
	if g.wkt != "" {
		g.CRS, err = crs.ParseWKT(g.wkt)
		if err != nil {
			err = unsupportedCRS(path, err)
		}
	} else {
		g.CRS, err = readPRJ(prj)
	}
	if err != nil {
		g.Close()
		return nil, fmt.Errorf("%w (set raster.crs to override)", err)
	}
	return g, nil
}

// open dispatches on the path and returns the grid plus the path of the
// .prj (or prj.adf) that describes it.
func open(path string) (*Grid, string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, "", fmt.Errorf("open raster: %w", err)
	}
	if info.IsDir() || strings.EqualFold(filepath.Ext(path), ".adf") {
		return openArcInfo(path, info.IsDir())
	}

	var g *Grid
	switch strings.ToLower(filepath.Ext(path)) {
	case ".asc":
		g, err = openASCII(path)
	case ".flt", ".bil":
		g, err = openEHdr(path)
	default:
		if !gdalEnabled {
			return nil, "", fmt.Errorf("%s: %w (use .asc, .flt or .bil; convert with gdal_translate)", path, ErrUnsupportedFormat)
		}
		g, err = openGDAL(path)
	}
	if err != nil {
		return nil, "", err
	}
	g.Path = path
	return g, strings.TrimSuffix(path, filepath.Ext(path)) + ".prj", nil
}

// Describe returns the metadata of a raster without keeping it open.
func Describe(path string) (Metadata, error) {
	return DescribeWith(path, Options{})
}

// DescribeWith is Describe with open options.
func DescribeWith(path string, opts Options) (Metadata, error) {
	g, err := OpenWith(path, opts)
	if err != nil {
		return Metadata{}, err
	}
	defer g.Close()
	return g.Metadata, nil
}

// openArcInfo handles an ArcInfo binary grid (a directory holding hdr.adf).
// With GDAL compiled in the grid is read directly; otherwise through a
// converted copy next to or inside the grid directory.
func openArcInfo(path string, isDir bool) (*Grid, string, error) {
	dir := path
	if !isDir {
		dir = filepath.Dir(path)
	}
	dir = filepath.Clean(dir)
	if _, err := os.Stat(filepath.Join(dir, "hdr.adf")); err != nil {
		return nil, "", fmt.Errorf("%s: %w (directory is not an ArcInfo grid)", path, ErrUnsupportedFormat)
	}
	prjADF := filepath.Join(dir, "prj.adf")

	if gdalEnabled {
		g, err := openGDAL(dir)
		if err != nil {
			return nil, "", err
		}
		g.Path = dir
		return g, prjADF, nil
	}

	var candidates []string
	for _, ext := range []string{".flt", ".bil", ".asc"} {
		candidates = append(candidates, dir+ext)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, "", fmt.Errorf("open raster: %w", err)
	}
	var inner []string
	for _, e := range entries {
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".flt", ".bil", ".asc":
			inner = append(inner, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(inner)
	candidates = append(candidates, inner...)

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			monitoring.Logf("[raster] %s is an ArcInfo grid; reading converted copy %s", dir, c)
			g, prj, err := open(c)
			if err != nil {
				return nil, "", err
			}
			if _, err := os.Stat(prj); err != nil {
				prj = prjADF
			}
			return g, prj, nil
		}
	}
	return nil, "", fmt.Errorf("%s is an ArcInfo binary grid: %w; build with -tags gdal or convert it first, e.g. gdal_translate -of EHdr %s %s.flt",
		dir, ErrUnsupportedFormat, dir, dir)
}

// readPRJ loads a .prj or prj.adf. A missing file yields a nil CRS.
func readPRJ(prj string) (*crs.CRS, error) {
	data, err := os.ReadFile(prj)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", prj, err)
	}
	c, err := crs.ParseWKT(string(data))
	if err != nil {
		return nil, unsupportedCRS(prj, err)
	}
	return c, nil
}

func unsupportedCRS(source string, err error) error {
	if errors.Is(err, crs.ErrUnsupported) {
		return fmt.Errorf("%s: %w", source, err)
	}
	return fmt.Errorf("%s: %v: %w", source, err, crs.ErrUnsupported)
}

// parseHeaderLine splits a "key value" header line and lower-cases the key.
func parseHeaderLine(line string) (string, string, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return "", "", false
	}
	return strings.ToLower(fields[0]), fields[1], true
}
