package report

import (
	"bytes"
	"fmt"
	"path/filepath"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/parcelmerge/internal/fsutil"
)

// RenderHTML renders the summary as a page of bar charts.
func RenderHTML(s *Summary) ([]byte, error) {
	page := components.NewPage()
	page.PageTitle = "parcelmerge run"
	page.AddCharts(
		countsChart(s),
		binChart("Project share", "share of parcel area", s.ShareBins),
	)
	if len(s.RasterBins) > 0 {
		page.AddCharts(binChart(s.Raster.Column, "zonal mean", s.RasterBins))
	}

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteHTML renders the summary page to path.
func WriteHTML(fsys fsutil.FileSystem, path string, s *Summary) error {
	data, err := RenderHTML(s)
	if err != nil {
		return err
	}
	if err := fsys.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	return fsys.WriteFile(path, data, 0o644)
}

func countsChart(s *Summary) *charts.Bar {
	x := []string{"Parcels in", "With project", "Sampled", "With CE", "Rows out"}
	y := []opts.BarData{
		{Value: s.Counts.ParcelsIn},
		{Value: s.Counts.ParcelsWithProject},
		{Value: s.Counts.ParcelsSampled},
		{Value: s.Counts.ParcelsWithCE},
		{Value: s.Counts.RowsOut},
	}
	subtitle := s.GeneratedAt.Format("2006-01-02 15:04:05 MST")
	if s.RunID != "" {
		subtitle = "run " + s.RunID + " " + subtitle
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: "Parcel counts", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(x).
		AddSeries("parcels", y,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)
	return bar
}

func binChart(title, xName string, bins []Bin) *charts.Bar {
	x := make([]string, len(bins))
	y := make([]opts.BarData, len(bins))
	for i, b := range bins {
		x[i] = fmt.Sprintf("%.3g-%.3g", b.Low, b.High)
		y[i] = opts.BarData{Value: b.Count}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: title}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: xName, NameLocation: "middle", NameGap: 30}),
		charts.WithYAxisOpts(opts.YAxis{Name: "parcels"}),
	)
	bar.SetXAxis(x).AddSeries("parcels", y)
	return bar
}
