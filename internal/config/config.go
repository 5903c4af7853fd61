// Package config loads the run configuration.
//
// Every field is a pointer (or a nil-able slice) so that partial files are
// safe. The Get* accessors carry the defaults: the merged_carb.gpkg run
// over forest_parcels1km.gpkg, all_projects.gpkg, the 2014 WHP grid and
// the NCED easements.
package config

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/banshee-data/parcelmerge/internal/crs"
	"github.com/banshee-data/parcelmerge/internal/fsutil"
	"github.com/banshee-data/parcelmerge/internal/units"
	"github.com/banshee-data/parcelmerge/internal/zonal"
)

// DefaultConfigPath is the checked-in defaults file, kept in sync with the
// Get* accessors by tests.
const DefaultConfigPath = "config/parcelmerge.defaults.json"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PARCELMERGE_"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Config is the root run configuration.
type Config struct {
	DataDir   *string `json:"data_dir,omitempty" yaml:"data_dir,omitempty" env:"DATA_DIR"`
	TargetCRS *string `json:"target_crs,omitempty" yaml:"target_crs,omitempty" env:"TARGET_CRS"`

	Inputs    Inputs    `json:"inputs" yaml:"inputs" envPrefix:"INPUTS_"`
	Columns   Columns   `json:"columns" yaml:"columns" envPrefix:"COLUMNS_"`
	Raster    Raster    `json:"raster" yaml:"raster" envPrefix:"RASTER_"`
	Easements Easements `json:"easements" yaml:"easements" envPrefix:"EASEMENTS_"`
	Output    Output    `json:"output" yaml:"output" envPrefix:"OUTPUT_"`
	Report    Report    `json:"report" yaml:"report" envPrefix:"REPORT_"`
	Ledger    Ledger    `json:"ledger" yaml:"ledger" envPrefix:"LEDGER_"`
	Fetch     Fetch     `json:"fetch" yaml:"fetch" envPrefix:"FETCH_"`
}

// Inputs names the four input datasets. Relative paths are resolved against
// DataDir; s3:// and http(s):// URLs are fetched first.
type Inputs struct {
	Parcels       *string `json:"parcels,omitempty" yaml:"parcels,omitempty" env:"PARCELS"`
	ParcelsLayer  *string `json:"parcels_layer,omitempty" yaml:"parcels_layer,omitempty" env:"PARCELS_LAYER"`
	Projects      *string `json:"projects,omitempty" yaml:"projects,omitempty" env:"PROJECTS"`
	ProjectsLayer *string `json:"projects_layer,omitempty" yaml:"projects_layer,omitempty" env:"PROJECTS_LAYER"`
	Raster        *string `json:"raster,omitempty" yaml:"raster,omitempty" env:"RASTER"`
	Easements     *string `json:"easements,omitempty" yaml:"easements,omitempty" env:"EASEMENTS"`
	EasementsCRS  *string `json:"easements_crs,omitempty" yaml:"easements_crs,omitempty" env:"EASEMENTS_CRS"`
}

// Columns names the attributes read and written.
type Columns struct {
	ProjectField *string `json:"project_field,omitempty" yaml:"project_field,omitempty" env:"PROJECT_FIELD"`
	ParcelID     *string `json:"parcel_id,omitempty" yaml:"parcel_id,omitempty" env:"PARCEL_ID"`
	ParcelArea   *string `json:"parcel_area,omitempty" yaml:"parcel_area,omitempty" env:"PARCEL_AREA"`
	Project      *string `json:"project,omitempty" yaml:"project,omitempty" env:"PROJECT"`
	ProjectShare *string `json:"project_share,omitempty" yaml:"project_share,omitempty" env:"PROJECT_SHARE"`
	CE           *string `json:"ce,omitempty" yaml:"ce,omitempty" env:"CE"`
	CEID         *string `json:"ce_id,omitempty" yaml:"ce_id,omitempty" env:"CE_ID"`
}

// Raster controls zonal sampling.
type Raster struct {
	Column          *string  `json:"column,omitempty" yaml:"column,omitempty" env:"COLUMN"`
	NoData          *float64 `json:"nodata,omitempty" yaml:"nodata,omitempty" env:"NODATA"`
	UseHeaderNoData *bool    `json:"use_header_nodata,omitempty" yaml:"use_header_nodata,omitempty" env:"USE_HEADER_NODATA"`
	Stats           []string `json:"stats,omitempty" yaml:"stats,omitempty" env:"STATS" envSeparator:","`
	// CRS, when set, is used instead of the raster's .prj.
	CRS *string `json:"crs,omitempty" yaml:"crs,omitempty" env:"CRS"`
}

// Easements controls conservation-easement filtering and joining.
type Easements struct {
	IDField       *string  `json:"id_field,omitempty" yaml:"id_field,omitempty" env:"ID_FIELD"`
	ExcludeField  *string  `json:"exclude_field,omitempty" yaml:"exclude_field,omitempty" env:"EXCLUDE_FIELD"`
	ExcludeValues []string `json:"exclude_values,omitempty" yaml:"exclude_values,omitempty" env:"EXCLUDE_VALUES" envSeparator:","`
	KeepIDs       *bool    `json:"keep_ids,omitempty" yaml:"keep_ids,omitempty" env:"KEEP_IDS"`
}

// Output names the result files.
type Output struct {
	Path    *string `json:"path,omitempty" yaml:"path,omitempty" env:"PATH"`
	Layer   *string `json:"layer,omitempty" yaml:"layer,omitempty" env:"LAYER"`
	GeoJSON *string `json:"geojson,omitempty" yaml:"geojson,omitempty" env:"GEOJSON"`
}

// Report names the optional report files. Empty disables each one.
type Report struct {
	SummaryJSON *string `json:"summary_json,omitempty" yaml:"summary_json,omitempty" env:"SUMMARY_JSON"`
	PlotDir     *string `json:"plot_dir,omitempty" yaml:"plot_dir,omitempty" env:"PLOT_DIR"`
	HTML        *string `json:"html,omitempty" yaml:"html,omitempty" env:"HTML"`
	MetricsFile *string `json:"metrics_file,omitempty" yaml:"metrics_file,omitempty" env:"METRICS_FILE"`
	AreaUnit    *string `json:"area_unit,omitempty" yaml:"area_unit,omitempty" env:"AREA_UNIT"`
}

// Ledger locates the run ledger database. Empty disables it.
type Ledger struct {
	Path *string `json:"path,omitempty" yaml:"path,omitempty" env:"PATH"`
}

// Fetch configures downloads of remote inputs.
type Fetch struct {
	CacheDir    *string `json:"cache_dir,omitempty" yaml:"cache_dir,omitempty" env:"CACHE_DIR"`
	S3Region    *string `json:"s3_region,omitempty" yaml:"s3_region,omitempty" env:"S3_REGION"`
	S3Endpoint  *string `json:"s3_endpoint,omitempty" yaml:"s3_endpoint,omitempty" env:"S3_ENDPOINT"`
	S3PathStyle *bool   `json:"s3_path_style,omitempty" yaml:"s3_path_style,omitempty" env:"S3_PATH_STYLE"`
}

// Helper functions to create pointers
func ptrString(v string) *string    { return &v }
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }

// Empty returns a Config with every field unset.
func Empty() *Config {
	return &Config{}
}

// Load reads a JSON or YAML config file and applies PARCELMERGE_*
// environment overrides.
func Load(path string) (*Config, error) {
	return LoadFS(fsutil.OSFileSystem{}, path, nil)
}

// LoadFS is Load over an explicit filesystem and environment. A nil environ
// uses the process environment. An empty path skips the file.
func LoadFS(fsys fsutil.FileSystem, path string, environ map[string]string) (*Config, error) {
	cfg := Empty()
	if path != "" {
		if err := cfg.readFile(fsys, path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(environ); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) readFile(fsys fsutil.FileSystem, path string) error {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	info, err := fsys.Stat(cleanPath)
	if err != nil {
		return fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}
	data, err := fsys.ReadFile(cleanPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if ext == ".json" {
		if err := json.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse config JSON: %w", err)
		}
		return nil
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config YAML: %w", err)
	}
	return nil
}

// ApplyEnv overrides fields from PARCELMERGE_* variables. A nil environ uses
// the process environment.
func (c *Config) ApplyEnv(environ map[string]string) error {
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(c, opts); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate checks the values that are set.
func (c *Config) Validate() error {
	if _, err := crs.Parse(c.GetTargetCRS()); err != nil {
		return fmt.Errorf("target_crs %q: %w", c.GetTargetCRS(), err)
	}
	if c.Inputs.EasementsCRS != nil && *c.Inputs.EasementsCRS != "" {
		if _, err := crs.Parse(*c.Inputs.EasementsCRS); err != nil {
			return fmt.Errorf("inputs.easements_crs %q: %w", *c.Inputs.EasementsCRS, err)
		}
	}
	if c.Raster.CRS != nil && *c.Raster.CRS != "" {
		if _, err := crs.Parse(*c.Raster.CRS); err != nil {
			return fmt.Errorf("raster.crs %q: %w", *c.Raster.CRS, err)
		}
	}
	for name, v := range map[string]string{
		"inputs.parcels":   c.Inputs.GetParcels(),
		"inputs.projects":  c.Inputs.GetProjects(),
		"inputs.raster":    c.Inputs.GetRaster(),
		"inputs.easements": c.Inputs.GetEasements(),
		"output.path":      c.Output.GetPath(),
		"output.layer":     c.Output.GetLayer(),
		"raster.column":    c.Raster.GetColumn(),
	} {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%s must not be empty", name)
		}
	}
	if ext := strings.ToLower(filepath.Ext(c.Output.GetPath())); ext != ".gpkg" {
		return fmt.Errorf("output.path must end in .gpkg, got %q", c.Output.GetPath())
	}
	if nd := c.Raster.GetNoData(); math.IsNaN(nd) || math.IsInf(nd, 0) {
		return fmt.Errorf("raster.nodata must be finite, got %v", nd)
	}
	if _, err := zonal.ParseStats(c.Raster.Stats); err != nil {
		return fmt.Errorf("raster.stats: %w", err)
	}
	if u := c.Report.GetAreaUnit(); !units.IsValidArea(u) {
		return fmt.Errorf("report.area_unit %q: must be one of %s", u, units.GetValidAreaUnitsString())
	}
	if ep := c.Fetch.GetS3Endpoint(); ep != "" {
		u, err := url.Parse(ep)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("fetch.s3_endpoint %q is not an absolute URL", ep)
		}
	}
	return nil
}

// Effective returns a copy with every default filled in, for logging and
// the run ledger.
func (c *Config) Effective() *Config {
	stats, _ := zonal.ParseStats(c.Raster.Stats)
	statNames := make([]string, len(stats))
	for i, s := range stats {
		statNames[i] = string(s)
	}
	return &Config{
		DataDir:   ptrString(c.GetDataDir()),
		TargetCRS: ptrString(c.GetTargetCRS()),
		Inputs: Inputs{
			Parcels:       ptrString(c.Inputs.GetParcels()),
			ParcelsLayer:  ptrString(c.Inputs.GetParcelsLayer()),
			Projects:      ptrString(c.Inputs.GetProjects()),
			ProjectsLayer: ptrString(c.Inputs.GetProjectsLayer()),
			Raster:        ptrString(c.Inputs.GetRaster()),
			Easements:     ptrString(c.Inputs.GetEasements()),
			EasementsCRS:  ptrString(c.Inputs.GetEasementsCRS()),
		},
		Columns: Columns{
			ProjectField: ptrString(c.Columns.GetProjectField()),
			ParcelID:     ptrString(c.Columns.GetParcelID()),
			ParcelArea:   ptrString(c.Columns.GetParcelArea()),
			Project:      ptrString(c.Columns.GetProject()),
			ProjectShare: ptrString(c.Columns.GetProjectShare()),
			CE:           ptrString(c.Columns.GetCE()),
			CEID:         ptrString(c.Columns.GetCEID()),
		},
		Raster: Raster{
			Column:          ptrString(c.Raster.GetColumn()),
			NoData:          ptrFloat64(c.Raster.GetNoData()),
			UseHeaderNoData: ptrBool(c.Raster.GetUseHeaderNoData()),
			Stats:           statNames,
			CRS:             ptrString(c.Raster.GetCRS()),
		},
		Easements: Easements{
			IDField:       ptrString(c.Easements.GetIDField()),
			ExcludeField:  ptrString(c.Easements.GetExcludeField()),
			ExcludeValues: c.Easements.GetExcludeValues(),
			KeepIDs:       ptrBool(c.Easements.GetKeepIDs()),
		},
		Output: Output{
			Path:    ptrString(c.Output.GetPath()),
			Layer:   ptrString(c.Output.GetLayer()),
			GeoJSON: ptrString(c.Output.GetGeoJSON()),
		},
		Report: Report{
			SummaryJSON: ptrString(c.Report.GetSummaryJSON()),
			PlotDir:     ptrString(c.Report.GetPlotDir()),
			HTML:        ptrString(c.Report.GetHTML()),
			MetricsFile: ptrString(c.Report.GetMetricsFile()),
			AreaUnit:    ptrString(c.Report.GetAreaUnit()),
		},
		Ledger: Ledger{Path: ptrString(c.Ledger.GetPath())},
		Fetch: Fetch{
			CacheDir:    ptrString(c.Fetch.GetCacheDir()),
			S3Region:    ptrString(c.Fetch.GetS3Region()),
			S3Endpoint:  ptrString(c.Fetch.GetS3Endpoint()),
			S3PathStyle: ptrBool(c.Fetch.GetS3PathStyle()),
		},
	}
}

// JSON renders the effective configuration.
func (c *Config) JSON() string {
	data, err := json.Marshal(c.Effective())
	if err != nil {
		return "{}"
	}
	return string(data)
}

// MustLoadDefaultConfig loads DefaultConfigPath from the working directory
// or one of its parents. Panics if the file cannot be loaded; intended for
// test setup.
func MustLoadDefaultConfig() *Config {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from cmd/parcelmerge/
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if cfg, err := LoadFS(fsutil.OSFileSystem{}, path, map[string]string{}); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}
