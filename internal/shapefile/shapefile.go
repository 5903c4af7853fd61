// Package shapefile loads ESRI polygon shapefiles into vector layers.
package shapefile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/banshee-data/parcelmerge/internal/crs"
	"github.com/banshee-data/parcelmerge/internal/monitoring"
	"github.com/banshee-data/parcelmerge/internal/vector"
)

// ErrNoShapefile is returned when a path does not name exactly one .shp file.
var ErrNoShapefile = errors.New("shapefile: no single .shp file")

// Resolve returns the .shp file for path, which may be the file itself or a
// directory holding exactly one shapefile.
func Resolve(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("shapefile: %w", err)
	}
	if !info.IsDir() {
		if !strings.EqualFold(filepath.Ext(path), ".shp") {
			return "", fmt.Errorf("%s: %w", path, ErrNoShapefile)
		}
		return path, nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return "", fmt.Errorf("shapefile: %w", err)
	}
	var found []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".shp") {
			found = append(found, filepath.Join(path, e.Name()))
		}
	}
	if len(found) != 1 {
		return "", fmt.Errorf("%s holds %d .shp files: %w", path, len(found), ErrNoShapefile)
	}
	return found[0], nil
}

// sibling finds base+ext, trying the lower and upper case extension.
func sibling(shpPath, ext string) (string, bool) {
	base := strings.TrimSuffix(shpPath, filepath.Ext(shpPath))
	for _, e := range []string{strings.ToLower(ext), strings.ToUpper(ext)} {
		p := base + e
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	return "", false
}

// ReadCRS parses the .prj next to a shapefile.
func ReadCRS(shpPath string) (*crs.CRS, error) {
	prj, ok := sibling(shpPath, ".prj")
	if !ok {
		return nil, fmt.Errorf("%s has no .prj: %w", shpPath, crs.ErrUnsupported)
	}
	data, err := os.ReadFile(prj)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", prj, err)
	}
	c, err := crs.ParseWKT(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", prj, err)
	}
	return c, nil
}

// Read loads every record of the shapefile at path. When ref is nil the CRS
// comes from the .prj file.
func Read(path string, ref *crs.CRS) (*vector.Layer, error) {
	shpPath, err := Resolve(path)
	if err != nil {
		return nil, err
	}
	if ref == nil {
		if ref, err = ReadCRS(shpPath); err != nil {
			return nil, err
		}
	}

	r, err := shp.Open(shpPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", shpPath, err)
	}
	defer r.Close()

	name := strings.TrimSuffix(filepath.Base(shpPath), filepath.Ext(shpPath))
	layer := vector.NewLayer(name, ref)
	dbf := r.Fields()
	for _, f := range dbf {
		layer.AddField(vector.Field{Name: fieldName(f), Type: fieldType(f)})
	}

	for r.Next() {
		row, shape := r.Shape()
		g, err := geometry(shape)
		if err != nil {
			return nil, fmt.Errorf("%s record %d: %w", shpPath, row, err)
		}
		f := &vector.Feature{FID: int64(row + 1), Geometry: g, Attrs: make(map[string]any, len(dbf))}
		for i, field := range dbf {
			name := fieldName(field)
			v, err := attrValue(r.ReadAttribute(row, i), fieldType(field))
			if err != nil {
				return nil, fmt.Errorf("%s record %d field %s: %w", shpPath, row, name, err)
			}
			f.Attrs[name] = v
		}
		layer.Features = append(layer.Features, f)
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", shpPath, err)
	}
	monitoring.Debugf("[shapefile] %s: %d records, %d fields, crs %s", shpPath, layer.Len(), len(layer.Fields), ref)
	return layer, nil
}

func fieldName(f shp.Field) string {
	return strings.TrimRight(string(f.Name[:]), "\x00 ")
}

func fieldType(f shp.Field) vector.FieldType {
	switch f.Fieldtype {
	case 'N':
		if f.Precision == 0 {
			return vector.FieldInteger
		}
		return vector.FieldReal
	case 'F':
		return vector.FieldReal
	case 'L':
		return vector.FieldInteger
	case 'D':
		return vector.FieldDate
	default:
		return vector.FieldText
	}
}

func attrValue(raw string, t vector.FieldType) (any, error) {
	s := strings.Trim(raw, " \x00")
	switch t {
	case vector.FieldInteger:
		switch strings.ToUpper(s) {
		case "", "?", "*":
			return nil, nil
		case "T", "Y":
			return int64(1), nil
		case "F", "N":
			return int64(0), nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			// Wide numeric columns can overflow int64 or carry a fraction.
			fv, ferr := strconv.ParseFloat(s, 64)
			if ferr != nil {
				return nil, err
			}
			return int64(fv), nil
		}
		return n, nil
	case vector.FieldReal:
		if s == "" || strings.Trim(s, "*") == "" {
			return nil, nil
		}
		return strconv.ParseFloat(s, 64)
	case vector.FieldDate:
		if s == "" || strings.Trim(s, "0") == "" {
			return nil, nil
		}
		d, err := time.Parse("20060102", s)
		if err != nil {
			return nil, err
		}
		return d.Format(vector.DateLayout), nil
	default:
		return s, nil
	}
}

func geometry(s shp.Shape) (orb.Geometry, error) {
	switch p := s.(type) {
	case *shp.Null:
		return nil, nil
	case *shp.Polygon:
		return assemble(p.Parts, p.Points), nil
	case *shp.PolygonZ:
		return assemble(p.Parts, p.Points), nil
	case *shp.PolygonM:
		return assemble(p.Parts, p.Points), nil
	default:
		return nil, fmt.Errorf("unsupported shape type %T", s)
	}
}

// assemble groups shapefile rings into polygons: clockwise rings are outer
// boundaries and counter-clockwise rings are holes of the outer ring that
// contains them.
func assemble(parts []int32, points []shp.Point) orb.Geometry {
	var (
		polys []orb.Polygon
		holes []orb.Ring
	)
	for i, start := range parts {
		end := int32(len(points))
		if i+1 < len(parts) {
			end = parts[i+1]
		}
		if start < 0 || end > int32(len(points)) || end-start < 4 {
			continue
		}
		ring := make(orb.Ring, 0, end-start)
		for _, pt := range points[start:end] {
			ring = append(ring, orb.Point{pt.X, pt.Y})
		}
		if ring.Orientation() == orb.CCW {
			holes = append(holes, ring)
			continue
		}
		polys = append(polys, orb.Polygon{ring})
	}

	for _, h := range holes {
		placed := false
		for i := range polys {
			if planar.RingContains(polys[i][0], h[0]) {
				polys[i] = append(polys[i], h)
				placed = true
				break
			}
		}
		if !placed {
			// A lone counter-clockwise ring is a badly wound outer ring.
			polys = append(polys, orb.Polygon{h})
		}
	}

	switch len(polys) {
	case 0:
		return nil
	case 1:
		return polys[0]
	}
	return orb.MultiPolygon(polys)
}
