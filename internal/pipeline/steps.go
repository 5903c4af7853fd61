package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/banshee-data/parcelmerge/internal/crs"
	"github.com/banshee-data/parcelmerge/internal/fsutil"
	"github.com/banshee-data/parcelmerge/internal/gpkg"
	"github.com/banshee-data/parcelmerge/internal/monitoring"
	"github.com/banshee-data/parcelmerge/internal/raster"
	"github.com/banshee-data/parcelmerge/internal/shapefile"
	"github.com/banshee-data/parcelmerge/internal/vector"
	"github.com/banshee-data/parcelmerge/internal/zonal"
)

// ErrNoParcels is returned when the parcel layer has no features.
var ErrNoParcels = errors.New("no parcels")

// Columns names the attributes the pipeline adds.
type Columns struct {
	ParcelID     string
	ParcelArea   string
	Project      string
	ProjectShare string
	Raster       string
	CE           string
	CEID         string
}

// DefaultColumns returns the merged_carb.gpkg column names.
func DefaultColumns() Columns {
	return Columns{
		ParcelID:     "parcel_id",
		ParcelArea:   "parcel_area",
		Project:      "project",
		ProjectShare: "project_share",
		Raster:       "whp_2014",
		CE:           "ce",
		CEID:         "ce_id",
	}
}

// LoadParcels reads the parcel layer, reprojects it to target and numbers
// the parcels 1..n in file order with their planar area.
func LoadParcels(ctx context.Context, path, layer string, target *crs.CRS, cols Columns) (*vector.Layer, error) {
	src, err := gpkg.ReadFile(ctx, path, layer)
	if err != nil {
		return nil, fmt.Errorf("load parcels: %w", err)
	}
	if src.Len() == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrNoParcels)
	}
	parcels, err := src.Reproject(target)
	if err != nil {
		return nil, fmt.Errorf("load parcels: %w", err)
	}

	parcels.AddField(vector.Field{Name: cols.ParcelID, Type: vector.FieldInteger})
	parcels.AddField(vector.Field{Name: cols.ParcelArea, Type: vector.FieldReal})
	missing := 0
	for i, f := range parcels.Features {
		if f.Geometry == nil {
			missing++
		}
		f.Set(cols.ParcelID, int64(i+1))
		f.Set(cols.ParcelArea, vector.Area(f.Geometry))
	}
	if missing > 0 {
		monitoring.Logf("[pipeline] warning: %d parcels have no geometry and will not be sampled", missing)
	}
	return parcels, nil
}

// LoadProjects reads the project layer, keeps polygonal features and
// reprojects them to target.
func LoadProjects(ctx context.Context, path, layer, projectField string, target *crs.CRS) (*vector.Layer, error) {
	src, err := gpkg.ReadFile(ctx, path, layer)
	if err != nil {
		return nil, fmt.Errorf("load projects: %w", err)
	}
	if !src.HasField(projectField) {
		return nil, fmt.Errorf("load projects: layer %s has no field %q", src.Name, projectField)
	}
	polygons := src.Filter(func(f *vector.Feature) bool { return vector.IsPolygonal(f.Geometry) })
	if dropped := src.Len() - polygons.Len(); dropped > 0 {
		monitoring.Debugf("[pipeline] projects: dropped %d non-polygon features", dropped)
	}
	projects, err := polygons.Reproject(target)
	if err != nil {
		return nil, fmt.Errorf("load projects: %w", err)
	}
	return projects, nil
}

// OverlayProjects intersects parcels with projects and sets, per parcel,
// the joined project ids and the share of the parcel covered by any
// project. Parcels without overlap get a NULL project and share 0. It
// returns the number of parcels with at least one project.
func OverlayProjects(parcels, projects *vector.Layer, projectField string, cols Columns) (int, error) {
	ix, err := vector.NewIndex(projects)
	if err != nil {
		return 0, fmt.Errorf("index projects: %w", err)
	}
	pieces, err := vector.Intersections(parcels, ix)
	if err != nil {
		return 0, fmt.Errorf("overlay: %w", err)
	}

	byParcel := make(map[int][]vector.Piece)
	for _, p := range pieces {
		// Intersections with an unidentified project are not attributed.
		if _, ok := projects.Features[p.Right].Get(projectField); !ok {
			continue
		}
		byParcel[p.Left] = append(byParcel[p.Left], p)
	}

	parcels.AddField(vector.Field{Name: cols.Project, Type: vector.FieldText})
	parcels.AddField(vector.Field{Name: cols.ProjectShare, Type: vector.FieldReal})
	matched := 0
	for i, f := range parcels.Features {
		ps := byParcel[i]
		if len(ps) == 0 {
			f.Set(cols.Project, nil)
			f.Set(cols.ProjectShare, 0.0)
			continue
		}
		matched++
		ids := make([]any, len(ps))
		for k, p := range ps {
			ids[k], _ = projects.Features[p.Right].Get(projectField)
		}
		f.Set(cols.Project, JoinProjectIDs(ids))

		covered, err := vector.UnionArea(ps)
		if err != nil {
			return 0, fmt.Errorf("parcel %v: %w", f.Attrs[cols.ParcelID], err)
		}
		area, _ := f.Attrs[cols.ParcelArea].(float64)
		f.Set(cols.ProjectShare, share(covered, area))
	}
	return matched, nil
}

func share(covered, area float64) float64 {
	if area <= 0 {
		return 0
	}
	s := covered / area
	switch {
	case s < 0:
		return 0
	case s > 1:
		return 1
	}
	return s
}

// DescribeRaster reads and logs the raster's metadata. A non-nil ref
// replaces the CRS stored with the raster.
func DescribeRaster(path string, ref *crs.CRS) (raster.Metadata, error) {
	md, err := raster.DescribeWith(path, raster.Options{CRS: ref})
	if err != nil {
		return raster.Metadata{}, err
	}
	monitoring.Logf("[pipeline] raster %s: %s", path, md)
	return md, nil
}

// SampleOptions controls SampleRaster.
type SampleOptions struct {
	NoData          float64
	UseHeaderNoData bool
	Stats           []zonal.Stat
	// CRS, when set, replaces the CRS stored with the raster.
	CRS *crs.CRS
}

// StatColumn names the column of an extra statistic.
func StatColumn(base string, s zonal.Stat) string {
	return base + "_" + string(s)
}

// SampleRaster computes zonal statistics of the raster for every parcel
// and returns the parcels whose mean is defined, in their original order.
// The mean goes to cols.Raster; other requested statistics go to
// "<cols.Raster>_<stat>".
func SampleRaster(ctx context.Context, parcels *vector.Layer, path string, opts SampleOptions, cols Columns) (*vector.Layer, error) {
	g, err := raster.OpenWith(path, raster.Options{CRS: opts.CRS})
	if err != nil {
		return nil, fmt.Errorf("sample raster: %w", err)
	}
	defer g.Close()

	nodata := opts.NoData
	if opts.UseHeaderNoData && g.NoData != nil {
		nodata = *g.NoData
	}

	gridCRS := g.CRS
	if gridCRS == nil {
		monitoring.Logf("[pipeline] raster %s has no CRS; assuming %s", path, parcels.CRS)
		gridCRS = parcels.CRS
	}
	tr, err := crs.NewTransformer(parcels.CRS, gridCRS)
	if err != nil {
		return nil, fmt.Errorf("sample raster: %w", err)
	}
	if !tr.Identity() {
		monitoring.Logf("[pipeline] sampling in raster CRS %s", gridCRS)
	}

	stats := []zonal.Stat{zonal.Mean}
	var extras []zonal.Stat
	for _, s := range opts.Stats {
		if s != zonal.Mean {
			stats = append(stats, s)
			extras = append(extras, s)
		}
	}
	parcels.AddField(vector.Field{Name: cols.Raster, Type: vector.FieldReal})
	for _, s := range extras {
		t := vector.FieldReal
		if s == zonal.Count {
			t = vector.FieldInteger
		}
		parcels.AddField(vector.Field{Name: StatColumn(cols.Raster, s), Type: t})
	}

	defined := make(map[*vector.Feature]bool, parcels.Len())
	for i, f := range parcels.Features {
		if i%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		zone, err := vector.Transform(f.Geometry, tr)
		if err != nil {
			return nil, fmt.Errorf("parcel %v: %w", f.Attrs[cols.ParcelID], err)
		}
		res, err := zonal.Compute(g, zone, nodata, stats)
		if err != nil {
			return nil, fmt.Errorf("parcel %v: %w", f.Attrs[cols.ParcelID], err)
		}
		mean, ok := res.Get(zonal.Mean)
		if !ok {
			continue
		}
		defined[f] = true
		f.Set(cols.Raster, mean)
		for _, s := range extras {
			v, ok := res.Get(s)
			switch {
			case !ok:
				f.Set(StatColumn(cols.Raster, s), nil)
			case s == zonal.Count:
				f.Set(StatColumn(cols.Raster, s), int64(v))
			default:
				f.Set(StatColumn(cols.Raster, s), v)
			}
		}
	}
	return parcels.Filter(func(f *vector.Feature) bool { return defined[f] }), nil
}

// EasementOptions controls LoadEasements.
type EasementOptions struct {
	CRS           *crs.CRS // overrides the .prj when set
	IDField       string
	ExcludeField  string
	ExcludeValues []string
}

// LoadEasements reads the easement shapefile, reprojects it, drops
// excluded owners and keeps only the id, renamed to cols.CEID.
func LoadEasements(path string, target *crs.CRS, opts EasementOptions, cols Columns) (*vector.Layer, error) {
	src, err := shapefile.Read(path, opts.CRS)
	if err != nil {
		return nil, fmt.Errorf("load easements: %w", err)
	}
	if !src.HasField(opts.IDField) {
		return nil, fmt.Errorf("load easements: %s has no field %q", src.Name, opts.IDField)
	}
	kept := src
	if len(opts.ExcludeValues) > 0 {
		if !src.HasField(opts.ExcludeField) {
			return nil, fmt.Errorf("load easements: %s has no field %q", src.Name, opts.ExcludeField)
		}
		exclude := make(map[string]bool, len(opts.ExcludeValues))
		for _, v := range opts.ExcludeValues {
			exclude[v] = true
		}
		kept = src.Filter(func(f *vector.Feature) bool {
			v, ok := f.Get(opts.ExcludeField)
			return !ok || !exclude[strings.TrimSpace(fmt.Sprint(v))]
		})
		monitoring.Debugf("[pipeline] easements: excluded %d of %d by %s", src.Len()-kept.Len(), src.Len(), opts.ExcludeField)
	}

	easements, err := kept.Reproject(target)
	if err != nil {
		return nil, fmt.Errorf("load easements: %w", err)
	}
	if err := easements.SelectFields(opts.IDField); err != nil {
		return nil, err
	}
	if err := easements.RenameField(opts.IDField, cols.CEID); err != nil {
		return nil, err
	}
	return easements, nil
}

// CEMatch is the easement join result of one parcel.
type CEMatch struct {
	CE  int64
	IDs []string
}

// JoinEasements flags every parcel that intersects at least one easement
// with a non-NULL id, keyed by parcel id. Easements without an id are
// ignored.
func JoinEasements(parcels, easements *vector.Layer, cols Columns) (map[int64]CEMatch, error) {
	ix, err := vector.NewIndex(easements)
	if err != nil {
		return nil, fmt.Errorf("index easements: %w", err)
	}
	matches, err := vector.IntersectsJoin(parcels, ix)
	if err != nil {
		return nil, fmt.Errorf("join easements: %w", err)
	}
	out := make(map[int64]CEMatch, parcels.Len())
	for i, f := range parcels.Features {
		id, _ := f.Attrs[cols.ParcelID].(int64)
		m := CEMatch{}
		for _, j := range matches[i] {
			if v, ok := easements.Features[j].Get(cols.CEID); ok {
				m.CE = 1
				m.IDs = append(m.IDs, FormatProjectID(v))
			}
		}
		out[id] = m
	}
	return out, nil
}

// Merge sets the easement flag (and optionally the easement ids) on every
// enriched parcel. Parcels missing from flags get ce = 0.
func Merge(enriched *vector.Layer, flags map[int64]CEMatch, cols Columns, keepIDs bool) int {
	enriched.AddField(vector.Field{Name: cols.CE, Type: vector.FieldInteger})
	if keepIDs {
		enriched.AddField(vector.Field{Name: cols.CEID, Type: vector.FieldText})
	}
	withCE := 0
	for _, f := range enriched.Features {
		id, _ := f.Attrs[cols.ParcelID].(int64)
		m := flags[id]
		f.Set(cols.CE, m.CE)
		if m.CE == 1 {
			withCE++
		}
		if keepIDs {
			if len(m.IDs) == 0 {
				f.Set(cols.CEID, nil)
			} else {
				f.Set(cols.CEID, strings.Join(m.IDs, ", "))
			}
		}
	}
	return withCE
}

// CheckOutput verifies the properties every output must have: no more rows
// than input parcels, shares within [0, 1] and ce in {0, 1}.
func CheckOutput(out *vector.Layer, parcelsIn int, cols Columns) error {
	if out.Len() > parcelsIn {
		return fmt.Errorf("output has %d rows but only %d parcels were loaded", out.Len(), parcelsIn)
	}
	for _, f := range out.Features {
		s, _ := f.Attrs[cols.ProjectShare].(float64)
		if s < 0 || s > 1 {
			return fmt.Errorf("parcel %v: %s %v outside [0, 1]", f.Attrs[cols.ParcelID], cols.ProjectShare, s)
		}
		ce, _ := f.Attrs[cols.CE].(int64)
		if ce != 0 && ce != 1 {
			return fmt.Errorf("parcel %v: %s %v not in {0, 1}", f.Attrs[cols.ParcelID], cols.CE, ce)
		}
	}
	return nil
}

// WriteOutput replaces the GeoPackage at path with the layer, and writes a
// GeoJSON copy when geojsonPath is set.
func WriteOutput(ctx context.Context, fsys fsutil.FileSystem, out *vector.Layer, path, table, geojsonPath string) error {
	if err := fsys.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := gpkg.WriteFile(ctx, path, table, out); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	if geojsonPath == "" {
		return nil
	}
	var buf bytes.Buffer
	if err := vector.WriteGeoJSON(&buf, out); err != nil {
		return fmt.Errorf("write geojson: %w", err)
	}
	if err := fsys.MkdirAll(filepath.Dir(geojsonPath), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := fsys.WriteFile(geojsonPath, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write geojson: %w", err)
	}
	return nil
}
