package config

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/parcelmerge/internal/fsutil"
)

func TestDefaults(t *testing.T) {
	cfg := Empty()
	if got := cfg.GetTargetCRS(); got != "EPSG:5070" {
		t.Errorf("GetTargetCRS() = %q, want EPSG:5070", got)
	}
	if got := cfg.Output.GetPath(); got != "merged_carb.gpkg" {
		t.Errorf("Output.GetPath() = %q", got)
	}
	if got := cfg.Output.GetLayer(); got != "alldata" {
		t.Errorf("Output.GetLayer() = %q", got)
	}
	if got := cfg.Raster.GetNoData(); got != -2147483647 {
		t.Errorf("Raster.GetNoData() = %v", got)
	}
	if got := cfg.Easements.GetExcludeValues(); len(got) != 1 || got[0] != "FED" {
		t.Errorf("Easements.GetExcludeValues() = %v", got)
	}
	if got := cfg.Columns.GetProjectShare(); got != "project_share" {
		t.Errorf("Columns.GetProjectShare() = %q", got)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestExplicitEmptyExcludeValues(t *testing.T) {
	cfg := Empty()
	cfg.Easements.ExcludeValues = []string{}
	if got := cfg.Easements.GetExcludeValues(); len(got) != 0 {
		t.Errorf("explicit empty list should keep all easements, got %v", got)
	}
}

// The checked-in defaults file must agree with the Get* accessors.
func TestDefaultsFileMatchesAccessors(t *testing.T) {
	loaded := MustLoadDefaultConfig()
	if diff := cmp.Diff(Empty().Effective(), loaded.Effective()); diff != "" {
		t.Errorf("defaults file drifted from accessors (-accessors +file):\n%s", diff)
	}
}

func TestLoadJSON(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	body := `{"target_crs": "EPSG:3310", "raster": {"stats": ["mean", "median"]}, "output": {"layer": "parcels"}}`
	if err := fsys.WriteFile("/cfg/run.json", []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFS(fsys, "/cfg/run.json", map[string]string{})
	if err != nil {
		t.Fatalf("LoadFS: %v", err)
	}
	if cfg.GetTargetCRS() != "EPSG:3310" {
		t.Errorf("TargetCRS = %q", cfg.GetTargetCRS())
	}
	if cfg.Output.GetLayer() != "parcels" {
		t.Errorf("Layer = %q", cfg.Output.GetLayer())
	}
	if cfg.Output.GetPath() != "merged_carb.gpkg" {
		t.Errorf("unset Path should keep default, got %q", cfg.Output.GetPath())
	}
	if len(cfg.Raster.Stats) != 2 {
		t.Errorf("Stats = %v", cfg.Raster.Stats)
	}
}

func TestLoadYAML(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	body := "data_dir: /data\neasements:\n  keep_ids: true\n  exclude_values: []\nraster:\n  nodata: -9999\n"
	if err := fsys.WriteFile("/cfg/run.yaml", []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFS(fsys, "/cfg/run.yaml", map[string]string{})
	if err != nil {
		t.Fatalf("LoadFS: %v", err)
	}
	if cfg.GetDataDir() != "/data" {
		t.Errorf("DataDir = %q", cfg.GetDataDir())
	}
	if !cfg.Easements.GetKeepIDs() {
		t.Error("KeepIDs should be true")
	}
	if got := cfg.Easements.GetExcludeValues(); len(got) != 0 {
		t.Errorf("ExcludeValues = %v, want empty", got)
	}
	if cfg.Raster.GetNoData() != -9999 {
		t.Errorf("NoData = %v", cfg.Raster.GetNoData())
	}
}

func TestLoadExampleYAML(t *testing.T) {
	path := filepath.Join("..", "..", "config", "parcelmerge.example.yaml")
	if _, err := os.Stat(path); err != nil {
		t.Skip("example config not found")
	}
	cfg, err := LoadFS(fsutil.OSFileSystem{}, path, map[string]string{})
	if err != nil {
		t.Fatalf("example config should load: %v", err)
	}
	if cfg.Inputs.GetEasementsCRS() != "EPSG:4269" {
		t.Errorf("EasementsCRS = %q", cfg.Inputs.GetEasementsCRS())
	}
}

func TestEnvOverrides(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	if err := fsys.WriteFile("/cfg/run.json", []byte(`{"output": {"layer": "from_file"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	environ := map[string]string{
		"PARCELMERGE_DATA_DIR":                 "/mnt/inputs",
		"PARCELMERGE_OUTPUT_LAYER":             "from_env",
		"PARCELMERGE_RASTER_STATS":             "mean,max",
		"PARCELMERGE_RASTER_NODATA":            "-1",
		"PARCELMERGE_EASEMENTS_KEEP_IDS":       "true",
		"PARCELMERGE_EASEMENTS_EXCLUDE_VALUES": "FED,STAT",
		"UNRELATED_OUTPUT_LAYER":               "ignored",
	}
	cfg, err := LoadFS(fsys, "/cfg/run.json", environ)
	if err != nil {
		t.Fatalf("LoadFS: %v", err)
	}
	if cfg.GetDataDir() != "/mnt/inputs" {
		t.Errorf("DataDir = %q", cfg.GetDataDir())
	}
	if cfg.Output.GetLayer() != "from_env" {
		t.Errorf("env should win over file, got %q", cfg.Output.GetLayer())
	}
	if diff := cmp.Diff([]string{"mean", "max"}, cfg.Raster.Stats); diff != "" {
		t.Errorf("Stats mismatch:\n%s", diff)
	}
	if cfg.Raster.GetNoData() != -1 {
		t.Errorf("NoData = %v", cfg.Raster.GetNoData())
	}
	if !cfg.Easements.GetKeepIDs() {
		t.Error("KeepIDs should be true")
	}
	if diff := cmp.Diff([]string{"FED", "STAT"}, cfg.Easements.GetExcludeValues()); diff != "" {
		t.Errorf("ExcludeValues mismatch:\n%s", diff)
	}
}

func TestLoadErrors(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	_ = fsys.WriteFile("/cfg/run.toml", []byte("x = 1"), 0o644)
	_ = fsys.WriteFile("/cfg/bad.json", []byte("{"), 0o644)
	_ = fsys.WriteFile("/cfg/bad.yaml", []byte("raster: [unclosed"), 0o644)
	_ = fsys.WriteFile("/cfg/big.json", []byte(strings.Repeat(" ", maxFileSize+1)), 0o644)
	_ = fsys.WriteFile("/cfg/crs.json", []byte(`{"target_crs": "EPSG:1"}`), 0o644)

	tests := []struct {
		name string
		path string
		want string
	}{
		{"extension", "/cfg/run.toml", "extension"},
		{"missing", "/cfg/missing.json", "stat"},
		{"bad json", "/cfg/bad.json", "JSON"},
		{"bad yaml", "/cfg/bad.yaml", "YAML"},
		{"too large", "/cfg/big.json", "too large"},
		{"invalid crs", "/cfg/crs.json", "target_crs"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFS(fsys, tt.path, map[string]string{})
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should mention %q", err, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"output extension", func(c *Config) { c.Output.Path = ptrString("out.shp") }, "output.path"},
		{"empty layer", func(c *Config) { c.Output.Layer = ptrString(" ") }, "output.layer"},
		{"empty column", func(c *Config) { c.Raster.Column = ptrString("") }, "raster.column"},
		{"unknown stat", func(c *Config) { c.Raster.Stats = []string{"mode"} }, "raster.stats"},
		{"nan nodata", func(c *Config) { c.Raster.NoData = ptrFloat64(math.NaN()) }, "nodata"},
		{"easement crs", func(c *Config) { c.Inputs.EasementsCRS = ptrString("EPSG:9999") }, "easements_crs"},
		{"raster crs", func(c *Config) { c.Raster.CRS = ptrString("not-a-crs") }, "raster.crs"},
		{"area unit", func(c *Config) { c.Report.AreaUnit = ptrString("furlongs") }, "area_unit"},
		{"endpoint", func(c *Config) { c.Fetch.S3Endpoint = ptrString("minio:9000") }, "s3_endpoint"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Empty()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should mention %q", err, tt.want)
			}
		})
	}
}

func TestJSONIsEffective(t *testing.T) {
	cfg := Empty()
	cfg.Raster.Stats = []string{"MEAN", "mean", "Std"}
	var decoded Config
	if err := json.Unmarshal([]byte(cfg.JSON()), &decoded); err != nil {
		t.Fatalf("JSON() should round-trip: %v", err)
	}
	if decoded.Output.Path == nil || *decoded.Output.Path != "merged_carb.gpkg" {
		t.Errorf("effective config should carry defaults, got %v", decoded.Output.Path)
	}
	if diff := cmp.Diff([]string{"mean", "std"}, decoded.Raster.Stats); diff != "" {
		t.Errorf("stats should be normalised:\n%s", diff)
	}
}
