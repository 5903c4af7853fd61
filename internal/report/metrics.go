package report

import (
	"bytes"
	"fmt"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/banshee-data/parcelmerge/internal/fsutil"
)

// Registry builds a registry holding the summary as gauges, for the node
// exporter textfile collector.
func Registry(s *Summary) *prometheus.Registry {
	reg := prometheus.NewRegistry()

	rows := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "parcelmerge",
		Name:      "rows",
		Help:      "Row counts of the last run by stage.",
	}, []string{"stage"})
	rows.WithLabelValues("parcels_in").Set(float64(s.Counts.ParcelsIn))
	rows.WithLabelValues("projects_in").Set(float64(s.Counts.ProjectsIn))
	rows.WithLabelValues("parcels_with_project").Set(float64(s.Counts.ParcelsWithProject))
	rows.WithLabelValues("parcels_sampled").Set(float64(s.Counts.ParcelsSampled))
	rows.WithLabelValues("easements_in").Set(float64(s.Counts.EasementsIn))
	rows.WithLabelValues("parcels_with_ce").Set(float64(s.Counts.ParcelsWithCE))
	rows.WithLabelValues("rows_out").Set(float64(s.Counts.RowsOut))

	steps := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "parcelmerge",
		Name:      "step_duration_seconds",
		Help:      "Wall time of each step of the last run.",
	}, []string{"step"})
	for _, st := range s.Steps {
		steps.WithLabelValues(st.Name).Set(st.Duration.Seconds())
	}

	shareMean := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "parcelmerge",
		Name:      "project_share_mean",
		Help:      "Mean project share over output rows.",
	})
	shareMean.Set(s.Share.Mean)

	rasterMean := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "parcelmerge",
		Name:      "raster_mean",
		Help:      "Mean of the sampled raster column over output rows.",
	}, []string{"column"})
	rasterMean.WithLabelValues(s.Raster.Column).Set(s.Raster.Mean)

	completed := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "parcelmerge",
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix time the last run's report was generated.",
	})
	completed.Set(float64(s.GeneratedAt.Unix()))

	reg.MustRegister(rows, steps, shareMean, rasterMean, completed)
	return reg
}

// WriteMetrics writes the summary gauges in the Prometheus text format.
func WriteMetrics(fsys fsutil.FileSystem, path string, s *Summary) error {
	mfs, err := Registry(s).Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	var buf bytes.Buffer
	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return fmt.Errorf("encode metrics: %w", err)
		}
	}
	if err := fsys.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	if err := fsys.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
