package report

import (
	"bytes"
	"fmt"
	"image/color"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/parcelmerge/internal/fsutil"
	"github.com/banshee-data/parcelmerge/internal/security"
)

// WritePlots renders PNG histograms of the share and raster columns into
// dir and returns the files written. Empty columns are skipped.
func WritePlots(fsys fsutil.FileSystem, dir string, s *Summary) ([]string, error) {
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create plot dir: %w", err)
	}

	var written []string
	charts := []struct {
		name   string
		title  string
		xLabel string
		values []float64
	}{
		{"project_share", "Project share per parcel", "Share of parcel area", s.shares},
		{s.Raster.Column, fmt.Sprintf("%s per parcel", s.Raster.Column), "Zonal mean", s.rasterValues},
	}
	for _, c := range charts {
		if len(c.values) == 0 {
			continue
		}
		file := filepath.Join(dir, security.SanitizeFilename(c.name)+"_hist.png")
		if err := writeHistogram(fsys, file, c.title, c.xLabel, c.values); err != nil {
			return written, fmt.Errorf("%s: %w", c.name, err)
		}
		written = append(written, file)
	}
	return written, nil
}

func writeHistogram(fsys fsutil.FileSystem, file, title, xLabel string, values []float64) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = xLabel
	p.Y.Label.Text = "Parcels"

	h, err := plotter.NewHist(plotter.Values(values), DefaultBins)
	if err != nil {
		return err
	}
	h.FillColor = color.RGBA{R: 49, G: 104, B: 142, A: 255}
	p.Add(h)

	wt, err := p.WriterTo(8*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return err
	}
	return fsys.WriteFile(file, buf.Bytes(), 0o644)
}
