package config

import (
	"os"
	"path/filepath"

	"github.com/banshee-data/parcelmerge/internal/units"
)

func str(p *string, def string) string {
	if p == nil {
		return def
	}
	return *p
}

func flag(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// GetDataDir is the base for relative paths; default the working directory.
func (c *Config) GetDataDir() string { return str(c.DataDir, ".") }

// GetTargetCRS defaults to NAD83 / Conus Albers.
func (c *Config) GetTargetCRS() string { return str(c.TargetCRS, "EPSG:5070") }

func (i *Inputs) GetParcels() string       { return str(i.Parcels, "forest_parcels1km.gpkg") }
func (i *Inputs) GetParcelsLayer() string  { return str(i.ParcelsLayer, "") }
func (i *Inputs) GetProjects() string      { return str(i.Projects, "all_projects.gpkg") }
func (i *Inputs) GetProjectsLayer() string { return str(i.ProjectsLayer, "") }
func (i *Inputs) GetEasements() string     { return str(i.Easements, "NCED_08282020_shp") }
func (i *Inputs) GetEasementsCRS() string  { return str(i.EasementsCRS, "") }

func (i *Inputs) GetRaster() string {
	return str(i.Raster, "2014/RDS-2015-0047/Data/whp_2014_continuous/whp2014_cnt")
}

func (c *Columns) GetProjectField() string { return str(c.ProjectField, "project") }
func (c *Columns) GetParcelID() string     { return str(c.ParcelID, "parcel_id") }
func (c *Columns) GetParcelArea() string   { return str(c.ParcelArea, "parcel_area") }
func (c *Columns) GetProject() string      { return str(c.Project, "project") }
func (c *Columns) GetProjectShare() string { return str(c.ProjectShare, "project_share") }
func (c *Columns) GetCE() string           { return str(c.CE, "ce") }
func (c *Columns) GetCEID() string         { return str(c.CEID, "ce_id") }

func (r *Raster) GetColumn() string { return str(r.Column, "whp_2014") }

// GetNoData defaults to the sentinel of the WHP continuous grid.
func (r *Raster) GetNoData() float64 {
	if r.NoData == nil {
		return -2147483647
	}
	return *r.NoData
}

func (r *Raster) GetUseHeaderNoData() bool { return flag(r.UseHeaderNoData, false) }
func (r *Raster) GetCRS() string           { return str(r.CRS, "") }

func (e *Easements) GetIDField() string      { return str(e.IDField, "unique_id") }
func (e *Easements) GetExcludeField() string { return str(e.ExcludeField, "owntype") }
func (e *Easements) GetKeepIDs() bool        { return flag(e.KeepIDs, false) }

// GetExcludeValues defaults to dropping federal easements. An explicit empty
// list keeps everything.
func (e *Easements) GetExcludeValues() []string {
	if e.ExcludeValues == nil {
		return []string{"FED"}
	}
	return e.ExcludeValues
}

func (o *Output) GetPath() string    { return str(o.Path, "merged_carb.gpkg") }
func (o *Output) GetLayer() string   { return str(o.Layer, "alldata") }
func (o *Output) GetGeoJSON() string { return str(o.GeoJSON, "") }

func (r *Report) GetSummaryJSON() string { return str(r.SummaryJSON, "") }
func (r *Report) GetPlotDir() string     { return str(r.PlotDir, "") }
func (r *Report) GetHTML() string        { return str(r.HTML, "") }
func (r *Report) GetMetricsFile() string { return str(r.MetricsFile, "") }
func (r *Report) GetAreaUnit() string    { return str(r.AreaUnit, units.Hectares) }

func (l *Ledger) GetPath() string { return str(l.Path, "") }

func (f *Fetch) GetCacheDir() string {
	return str(f.CacheDir, filepath.Join(os.TempDir(), "parcelmerge-cache"))
}
func (f *Fetch) GetS3Region() string   { return str(f.S3Region, "") }
func (f *Fetch) GetS3Endpoint() string { return str(f.S3Endpoint, "") }
func (f *Fetch) GetS3PathStyle() bool  { return flag(f.S3PathStyle, false) }
