package report

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/parcelmerge/internal/crs"
	"github.com/banshee-data/parcelmerge/internal/db"
	"github.com/banshee-data/parcelmerge/internal/fsutil"
	tu "github.com/banshee-data/parcelmerge/internal/testutil"
	"github.com/banshee-data/parcelmerge/internal/units"
	"github.com/banshee-data/parcelmerge/internal/vector"
)

var cols = Columns{ParcelArea: "parcel_area", ProjectShare: "project_share", CE: "ce", Raster: "whp_2014"}

func outputLayer(t *testing.T) *vector.Layer {
	t.Helper()
	albers, err := crs.Parse("EPSG:5070")
	require.NoError(t, err)
	l := vector.NewLayer("alldata", albers)
	rows := []struct {
		share float64
		ce    int64
		whp   float64
	}{
		{0, 0, 10},
		{0.5, 1, 20},
		{1, 0, 30},
	}
	for i, r := range rows {
		l.Features = append(l.Features, &vector.Feature{
			FID:      int64(i + 1),
			Geometry: tu.Square(float64(i)*1000, 0, 1000),
			Attrs: map[string]any{
				"parcel_area":   1_000_000.0,
				"project_share": r.share,
				"ce":            r.ce,
				"whp_2014":      r.whp,
			},
		})
	}
	return l
}

func TestSummarize(t *testing.T) {
	s := Summarize(outputLayer(t), cols, units.Hectares)

	assert.Equal(t, 3, s.Counts.RowsOut)
	assert.Equal(t, 2, s.Counts.ParcelsWithProject)
	assert.Equal(t, 1, s.Counts.ParcelsWithCE)
	assert.InDelta(t, 300, s.TotalArea, 1e-9)
	assert.InDelta(t, 150, s.ProjectArea, 1e-9)
	assert.InDelta(t, 0.5, s.Share.Mean, 1e-12)
	assert.InDelta(t, 0.5, s.Share.Median, 1e-12)
	assert.InDelta(t, 2.0/3.0, s.Share.WithProject, 1e-12)
	assert.Equal(t, ValueStats{Column: "whp_2014", Count: 3, Mean: 20, Min: 10, Max: 30}, s.Raster)

	require.Len(t, s.ShareBins, DefaultBins)
	assert.Equal(t, 1, s.ShareBins[0].Count)
	total := 0
	for _, b := range s.ShareBins {
		total += b.Count
	}
	assert.Equal(t, 3, total)
	assert.Equal(t, 1, s.ShareBins[9].Count, "share of exactly 1 lands in the last bin")
	require.Len(t, s.RasterBins, DefaultBins)
	assert.Equal(t, 1, s.RasterBins[9].Count)
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(vector.NewLayer("alldata", nil), cols, units.SquareMetres)
	assert.Zero(t, s.Counts.RowsOut)
	assert.Zero(t, s.Share.Mean)
	assert.Empty(t, s.RasterBins)
	for _, b := range s.ShareBins {
		assert.Zero(t, b.Count)
	}
}

func TestHistogram(t *testing.T) {
	bins := Histogram([]float64{1, 1, 2, 5, 9}, 1, 9, 4)
	require.Len(t, bins, 4)
	got := []int{bins[0].Count, bins[1].Count, bins[2].Count, bins[3].Count}
	assert.Equal(t, []int{3, 0, 1, 1}, got)
	assert.Equal(t, 1.0, bins[0].Low)
	assert.Equal(t, 9.0, bins[3].High)

	flat := Histogram([]float64{4, 4}, 4, 4, 2)
	assert.Equal(t, 2, flat[0].Count, "degenerate range widens to one unit")

	assert.Nil(t, Histogram([]float64{1}, 0, 1, 0))
}

func TestNumber(t *testing.T) {
	tests := []struct {
		in   any
		want float64
		ok   bool
	}{
		{1.5, 1.5, true},
		{float32(2), 2, true},
		{int64(3), 3, true},
		{4, 4, true},
		{true, 1, true},
		{nil, 0, false},
		{"5", 0, false},
	}
	for _, tt := range tests {
		got, ok := Number(tt.in)
		assert.Equal(t, tt.ok, ok, "%v", tt.in)
		assert.Equal(t, tt.want, got, "%v", tt.in)
	}
}

func TestWriteJSON(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	s := Summarize(outputLayer(t), cols, units.Hectares)
	s.RunID = "run-1"
	s.Counts.ParcelsIn = 4

	require.NoError(t, WriteJSON(fsys, "/out/report/summary.json", s))
	data, err := fsys.ReadFile("/out/report/summary.json")
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "run-1", decoded["run_id"])
	counts := decoded["counts"].(map[string]any)
	assert.Equal(t, 4.0, counts["parcels_in"])
	assert.Equal(t, 3.0, counts["rows_out"])
	assert.NotContains(t, string(data), "rasterValues")
}

func TestWriteHTML(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	s := Summarize(outputLayer(t), cols, units.Hectares)
	require.NoError(t, WriteHTML(fsys, "/out/index.html", s))
	data, err := fsys.ReadFile("/out/index.html")
	require.NoError(t, err)
	html := string(data)
	assert.Contains(t, html, "Parcel counts")
	assert.Contains(t, html, "Project share")
	assert.Contains(t, html, "whp_2014")
}

func TestWritePlots(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	s := Summarize(outputLayer(t), cols, units.Hectares)
	files, err := WritePlots(fsys, "/out/plots", s)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, filepath.Join("/out/plots", "project_share_hist.png"), files[0])
	assert.Equal(t, filepath.Join("/out/plots", "whp_2014_hist.png"), files[1])

	png, err := fsys.ReadFile(files[0])
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(png), "\x89PNG"), "plot should be a PNG")

	empty := Summarize(vector.NewLayer("alldata", nil), cols, units.Hectares)
	files, err = WritePlots(fsys, "/out/empty", empty)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestMetrics(t *testing.T) {
	s := Summarize(outputLayer(t), cols, units.Hectares)
	s.Counts.ParcelsIn = 5
	s.Steps = []db.Step{{Name: "overlay", Count: 3, Duration: 1500 * time.Millisecond}}
	s.GeneratedAt = time.Unix(1_700_000_000, 0)

	reg := Registry(s)
	expected := `
# HELP parcelmerge_step_duration_seconds Wall time of each step of the last run.
# TYPE parcelmerge_step_duration_seconds gauge
parcelmerge_step_duration_seconds{step="overlay"} 1.5
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "parcelmerge_step_duration_seconds"))

	n, err := testutil.GatherAndCount(reg, "parcelmerge_rows")
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	fsys := fsutil.NewMemoryFileSystem()
	path := filepath.Join("/var/lib/node_exporter", "textfile", "parcelmerge.prom")
	require.NoError(t, WriteMetrics(fsys, path, s))
	data, err := fsys.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `parcelmerge_rows{stage="parcels_in"} 5`)
	assert.Contains(t, string(data), "parcelmerge_last_run_timestamp_seconds 1.7e+09")
	assert.Contains(t, string(data), "# TYPE parcelmerge_rows gauge")
}
