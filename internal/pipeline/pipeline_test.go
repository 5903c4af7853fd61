package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/parcelmerge/internal/config"
	"github.com/banshee-data/parcelmerge/internal/crs"
	"github.com/banshee-data/parcelmerge/internal/db"
	"github.com/banshee-data/parcelmerge/internal/fsutil"
	"github.com/banshee-data/parcelmerge/internal/gpkg"
	tu "github.com/banshee-data/parcelmerge/internal/testutil"
	"github.com/banshee-data/parcelmerge/internal/timeutil"
	"github.com/banshee-data/parcelmerge/internal/vector"
)

const whpNoData = -2147483647

// writeInputs lays out a small run in dir: four parcels, three polygon
// projects plus a line, a 10 m WHP grid and three easements.
func writeInputs(t *testing.T, dir string) {
	t.Helper()
	ctx := context.Background()
	ref := albers(t)

	parcels := layerOf(t, "forest_parcels", []orb.Geometry{
		tu.Square(0, 0, 20),     // projects 3 and 7, WHP 5, easement
		tu.Square(40, 0, 20),    // project 7, WHP 9, only a federal easement
		tu.Square(200, 200, 20), // off the grid
		tu.Square(0, 60, 20),    // nodata cells
	}, []map[string]any{
		{"name": "north fork"}, {"name": "ridge"}, {"name": "far"}, {"name": "gap"},
	})
	require.NoError(t, gpkg.WriteFile(ctx, filepath.Join(dir, "forest_parcels1km.gpkg"), "forest_parcels", parcels))

	projects := layerOf(t, "all_projects", []orb.Geometry{
		tu.Rect(10, 0, 30, 20),
		tu.Rect(0, 0, 20, 10),
		tu.Rect(40, 0, 60, 20),
		orb.LineString{{0, 0}, {60, 20}},
	}, []map[string]any{
		{"project": int64(7)}, {"project": int64(3)}, {"project": int64(7)}, {"project": int64(99)},
	})
	require.NoError(t, gpkg.WriteFile(ctx, filepath.Join(dir, "all_projects.gpkg"), "all_projects", projects))

	rows := make([][]float64, 10)
	for r := range rows {
		rows[r] = make([]float64, 10)
		for c := range rows[r] {
			switch {
			case (r == 2 || r == 3) && c < 2:
				rows[r][c] = whpNoData
			case c == 4 || c == 5:
				rows[r][c] = 9
			default:
				rows[r][c] = 5
			}
		}
	}
	tu.WriteASCIIGrid(t, dir, "whp", tu.ASCIIGrid{CellSize: 10, NoData: whpNoData, Rows: rows, PRJ: ref.WKT()})

	ceDir := filepath.Join(dir, "NCED_08282020_shp")
	require.NoError(t, os.MkdirAll(ceDir, 0o755))
	tu.WriteShapefile(t, ceDir, "NCED_Polygons", tu.Shapefile{
		Fields:   []string{"unique_id", "owntype"},
		Polygons: []orb.Polygon{tu.Rect(15, 15, 25, 25), tu.Rect(45, 5, 50, 10), tu.Rect(200, 200, 205, 205)},
		Attrs:    [][]string{{"ce-1", "PVT"}, {"ce-2", "FED"}, {"ce-3", "PVT"}},
		PRJ:      ref.WKT(),
	})
}

func testConfig(dir string) *config.Config {
	cfg := config.Empty()
	cfg.DataDir = &dir
	raster := "whp.asc"
	cfg.Inputs.Raster = &raster
	return cfg
}

func TestRunEndToEnd(t *testing.T) {
	dir := t.TempDir()
	writeInputs(t, dir)

	cfg := testConfig(dir)
	summary, geojson, plots := "report/summary.json", "merged_carb.geojson", "report/plots"
	cfg.Output.GeoJSON = &geojson
	cfg.Report.SummaryJSON = &summary
	cfg.Report.PlotDir = &plots

	ledger, err := db.NewDB(filepath.Join(dir, "ledger.db"))
	require.NoError(t, err)
	defer ledger.Close()

	r, err := New(cfg)
	require.NoError(t, err)
	r.Ledger = ledger

	res, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "merged_carb.gpkg"), res.OutputPath)
	assert.Equal(t, db.Counts{
		ParcelsIn:          4,
		ProjectsIn:         3,
		ParcelsWithProject: 2,
		ParcelsSampled:     2,
		EasementsIn:        2,
		ParcelsWithCE:      1,
		RowsOut:            2,
	}, res.Counts)
	assert.Equal(t, "AAIGrid", res.Raster.Driver)

	out, err := gpkg.ReadFile(context.Background(), res.OutputPath, "alldata")
	require.NoError(t, err)

	names := make([]string, len(out.Fields))
	for i, f := range out.Fields {
		names[i] = f.Name
	}
	assert.Equal(t, []string{"name", "parcel_id", "parcel_area", "project", "project_share", "whp_2014", "ce"}, names)
	assert.Equal(t, "EPSG:5070", out.CRS.String())

	// Testable properties.
	require.LessOrEqual(t, out.Len(), res.Counts.ParcelsIn)
	for _, f := range out.Features {
		s := f.Attrs["project_share"].(float64)
		assert.GreaterOrEqual(t, s, 0.0)
		assert.LessOrEqual(t, s, 1.0)
		assert.Contains(t, []int64{0, 1}, f.Attrs["ce"].(int64))
	}

	first, second := out.Features[0].Attrs, out.Features[1].Attrs
	assert.Equal(t, "north fork", first["name"])
	assert.Equal(t, int64(1), first["parcel_id"])
	assert.InDelta(t, 400, first["parcel_area"], 1e-6)
	assert.Equal(t, "3, 7", first["project"])
	assert.InDelta(t, 0.75, first["project_share"], 1e-9)
	assert.InDelta(t, 5, first["whp_2014"], 1e-9)
	assert.Equal(t, int64(1), first["ce"])

	assert.Equal(t, int64(2), second["parcel_id"])
	assert.Equal(t, "7", second["project"])
	assert.InDelta(t, 1, second["project_share"], 1e-9)
	assert.InDelta(t, 9, second["whp_2014"], 1e-9)
	assert.Equal(t, int64(0), second["ce"], "federal easements are excluded")

	// Side outputs.
	var fc struct {
		Features []json.RawMessage `json:"features"`
	}
	data, err := os.ReadFile(filepath.Join(dir, geojson))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &fc))
	assert.Len(t, fc.Features, 2)
	assert.FileExists(t, filepath.Join(dir, summary))
	assert.FileExists(t, filepath.Join(dir, plots, "project_share_hist.png"))
	require.NotNil(t, res.Summary)
	assert.InDelta(t, 0.875, res.Summary.Share.Mean, 1e-9)

	// Ledger.
	run, err := ledger.GetRun(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, db.StatusCompleted, run.Status)
	assert.Equal(t, res.Counts, run.Counts)
	assert.Equal(t, res.OutputPath, run.OutputPath)
	stepNames := make([]string, len(run.Steps))
	for i, s := range run.Steps {
		stepNames[i] = s.Name
	}
	assert.Equal(t, []string{
		"load_parcels", "load_projects", "overlay_projects", "describe_raster",
		"sample_raster", "load_easements", "join_easements", "merge", "write_output",
	}, stepNames)
}

func TestRunStepTimings(t *testing.T) {
	dir := t.TempDir()
	writeInputs(t, dir)

	r, err := New(testConfig(dir))
	require.NoError(t, err)
	start := time.Date(2020, 8, 28, 12, 0, 0, 0, time.UTC)
	r.Clock = timeutil.NewTickingClock(start, time.Second)

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Steps, 9)
	for _, s := range res.Steps {
		assert.Equal(t, time.Second, s.Duration, s.Name)
	}
	// One read for the run, one per step, one for the summary stamp.
	assert.Equal(t, start.Add(10*time.Second), res.Summary.GeneratedAt)
	assert.Equal(t, 11*time.Second, res.Duration)
}

func TestRunReplacesOutputAndKeepsIDs(t *testing.T) {
	dir := t.TempDir()
	writeInputs(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "merged_carb.gpkg"), []byte("stale"), 0o644))

	cfg := testConfig(dir)
	keep := true
	cfg.Easements.KeepIDs = &keep
	cfg.Raster.Stats = []string{"mean", "count"}

	r, err := New(cfg)
	require.NoError(t, err)
	res, err := r.Run(context.Background())
	require.NoError(t, err)

	out, err := gpkg.ReadFile(context.Background(), res.OutputPath, "alldata")
	require.NoError(t, err)
	require.Equal(t, 2, out.Len())
	assert.Equal(t, "ce-1", out.Features[0].Attrs["ce_id"])
	assert.Nil(t, out.Features[1].Attrs["ce_id"])
	assert.Equal(t, int64(4), out.Features[0].Attrs["whp_2014_count"])
}

func TestRunFailureIsRecorded(t *testing.T) {
	dir := t.TempDir()
	writeInputs(t, dir)
	require.NoError(t, os.Remove(filepath.Join(dir, "whp.asc")))

	ledger, err := db.NewDB(filepath.Join(dir, "ledger.db"))
	require.NoError(t, err)
	defer ledger.Close()

	r, err := New(testConfig(dir))
	require.NoError(t, err)
	r.Ledger = ledger

	res, err := r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "describe_raster")

	run, err := ledger.GetRun(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, db.StatusFailed, run.Status)
	assert.Equal(t, 4, run.Counts.ParcelsIn, "counts up to the failing step are kept")
	assert.NotEmpty(t, run.Error)
	assert.NoFileExists(t, filepath.Join(dir, "merged_carb.gpkg"))
}

func TestRunRasterCRSOverride(t *testing.T) {
	dir := t.TempDir()
	writeInputs(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "whp.prj"), []byte(`PROJCS["truncated"`), 0o644))

	r, err := New(testConfig(dir))
	require.NoError(t, err)
	_, err = r.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, crs.ErrUnsupported)

	cfg := testConfig(dir)
	override := "EPSG:5070"
	cfg.Raster.CRS = &override
	r, err = New(cfg)
	require.NoError(t, err)
	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "EPSG:5070", res.Raster.CRS.String())
	assert.Equal(t, 2, res.Counts.ParcelsSampled)
}

func TestRunCancelled(t *testing.T) {
	dir := t.TempDir()
	writeInputs(t, dir)
	r, err := New(testConfig(dir))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Run(ctx)
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
}

func TestRunRejectsEscapingInput(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	escape := "../elsewhere/parcels.gpkg"
	cfg.Inputs.Parcels = &escape
	r, err := New(cfg)
	require.NoError(t, err)
	_, err = r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parcels")
}

func TestLoadParcelsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.gpkg")
	require.NoError(t, gpkg.WriteFile(context.Background(), path, "parcels", vector.NewLayer("parcels", albers(t))))
	_, err := LoadParcels(context.Background(), path, "", albers(t), DefaultColumns())
	assert.ErrorIs(t, err, ErrNoParcels)
}

func TestLoadParcelsReprojects(t *testing.T) {
	dir := t.TempDir()
	wgs84, err := crs.Parse("EPSG:4326")
	require.NoError(t, err)
	l := vector.NewLayer("parcels", wgs84)
	l.Features = []*vector.Feature{
		{FID: 10, Geometry: tu.Rect(-120.01, 39.0, -120.0, 39.01)},
		{FID: 20, Geometry: nil},
	}
	path := filepath.Join(dir, "p.gpkg")
	require.NoError(t, gpkg.WriteFile(context.Background(), path, "parcels", l))

	parcels, err := LoadParcels(context.Background(), path, "", albers(t), DefaultColumns())
	require.NoError(t, err)
	require.Equal(t, 2, parcels.Len())
	assert.Equal(t, int64(1), parcels.Features[0].Attrs["parcel_id"])
	assert.Equal(t, int64(2), parcels.Features[1].Attrs["parcel_id"])
	// 0.01 x 0.01 degrees at 39N is roughly 866 m x 1111 m.
	assert.InDelta(t, 962_000, parcels.Features[0].Attrs["parcel_area"], 15_000)
	assert.Equal(t, 0.0, parcels.Features[1].Attrs["parcel_area"])
}

func TestRunStampsLedgerAndMetricsFromClock(t *testing.T) {
	dir := t.TempDir()
	writeInputs(t, dir)

	cfg := testConfig(dir)
	metrics := "textfile/parcelmerge.prom"
	cfg.Report.MetricsFile = &metrics

	ledger, err := db.NewDB(filepath.Join(dir, "ledger.db"))
	require.NoError(t, err)
	defer ledger.Close()

	r, err := New(cfg)
	require.NoError(t, err)
	at := time.Date(2019, 11, 8, 6, 30, 0, 0, time.UTC)
	fsys := fsutil.NewMemoryFileSystem()
	r.Ledger = ledger
	r.Clock = timeutil.NewMockClock(at)
	r.FS = fsys

	res, err := r.Run(context.Background())
	require.NoError(t, err)

	run, err := ledger.GetRun(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.True(t, at.Equal(run.StartedAt), "started_at %s", run.StartedAt)
	require.NotNil(t, run.FinishedAt)
	assert.True(t, at.Equal(*run.FinishedAt), "finished_at %s", *run.FinishedAt)
	assert.Equal(t, at, res.Summary.GeneratedAt)

	data, err := fsys.ReadFile(filepath.Join(dir, metrics))
	require.NoError(t, err)
	assert.Contains(t, string(data), "parcelmerge_last_run_timestamp_seconds 1.5731946e+09")
	assert.NoFileExists(t, filepath.Join(dir, metrics))
}
