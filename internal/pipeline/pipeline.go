// Package pipeline runs the parcel enrichment: load parcels and projects,
// overlay them, sample the hazard raster, join conservation easements, and
// write the merged layer.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/parcelmerge/internal/config"
	"github.com/banshee-data/parcelmerge/internal/crs"
	"github.com/banshee-data/parcelmerge/internal/db"
	"github.com/banshee-data/parcelmerge/internal/fetch"
	"github.com/banshee-data/parcelmerge/internal/fsutil"
	"github.com/banshee-data/parcelmerge/internal/monitoring"
	"github.com/banshee-data/parcelmerge/internal/raster"
	"github.com/banshee-data/parcelmerge/internal/report"
	"github.com/banshee-data/parcelmerge/internal/security"
	"github.com/banshee-data/parcelmerge/internal/timeutil"
	"github.com/banshee-data/parcelmerge/internal/vector"
	"github.com/banshee-data/parcelmerge/internal/zonal"
)

// Result describes a finished run.
type Result struct {
	RunID       string
	OutputPath  string
	GeoJSONPath string
	Raster      raster.Metadata
	Counts      db.Counts
	Steps       []db.Step
	Duration    time.Duration
	Summary     *report.Summary
}

// Runner executes one configured run.
type Runner struct {
	cfg     *config.Config
	target  *crs.CRS
	cols    Columns
	stats   []zonal.Stat
	ceCRS   *crs.CRS
	gridCRS *crs.CRS

	// Ledger, when set, records the run.
	Ledger *db.DB
	// Resolver stages s3:// inputs; nil builds one from the fetch config.
	Resolver *fetch.Resolver
	// FS receives the output side files (GeoJSON, reports).
	FS fsutil.FileSystem
	// Clock times the steps and stamps the summary.
	Clock timeutil.Clock

	steps []db.Step
}

// New validates cfg and prepares a runner.
func New(cfg *config.Config) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	target, err := crs.Parse(cfg.GetTargetCRS())
	if err != nil {
		return nil, err
	}
	stats, err := zonal.ParseStats(cfg.Raster.Stats)
	if err != nil {
		return nil, err
	}
	var ceCRS, gridCRS *crs.CRS
	if s := cfg.Inputs.GetEasementsCRS(); s != "" {
		if ceCRS, err = crs.Parse(s); err != nil {
			return nil, err
		}
	}
	if s := cfg.Raster.GetCRS(); s != "" {
		if gridCRS, err = crs.Parse(s); err != nil {
			return nil, err
		}
	}
	return &Runner{
		cfg:     cfg,
		target:  target,
		stats:   stats,
		ceCRS:   ceCRS,
		gridCRS: gridCRS,
		cols: Columns{
			ParcelID:     cfg.Columns.GetParcelID(),
			ParcelArea:   cfg.Columns.GetParcelArea(),
			Project:      cfg.Columns.GetProject(),
			ProjectShare: cfg.Columns.GetProjectShare(),
			Raster:       cfg.Raster.GetColumn(),
			CE:           cfg.Columns.GetCE(),
			CEID:         cfg.Columns.GetCEID(),
		},
		FS:    fsutil.OSFileSystem{},
		Clock: timeutil.RealClock{},
	}, nil
}

// inputs are the resolved local paths of one run.
type inputs struct {
	parcels, projects, raster, easements string
	output, geojson                      string
}

func (r *Runner) resolve(ctx context.Context) (inputs, error) {
	if r.Resolver == nil {
		f := &r.cfg.Fetch
		r.Resolver = fetch.NewResolver(fetch.Options{
			CacheDir:  f.GetCacheDir(),
			Region:    f.GetS3Region(),
			Endpoint:  f.GetS3Endpoint(),
			PathStyle: f.GetS3PathStyle(),
		})
	}
	dataDir := r.cfg.GetDataDir()
	input := func(name, p string) (string, error) {
		resolved, err := security.ResolvePath(p, dataDir)
		if err != nil {
			return "", fmt.Errorf("%s: %w", name, err)
		}
		local, err := r.Resolver.Resolve(ctx, resolved)
		if err != nil {
			return "", fmt.Errorf("%s: %w", name, err)
		}
		return local, nil
	}
	output := func(name, p string) (string, error) {
		if p == "" {
			return "", nil
		}
		if security.IsRemote(p) {
			return "", fmt.Errorf("%s: remote outputs are not supported: %s", name, p)
		}
		resolved, err := security.ResolvePath(p, dataDir)
		if err != nil {
			return "", fmt.Errorf("%s: %w", name, err)
		}
		return resolved, nil
	}

	var in inputs
	var err error
	if in.parcels, err = input("parcels", r.cfg.Inputs.GetParcels()); err != nil {
		return in, err
	}
	if in.projects, err = input("projects", r.cfg.Inputs.GetProjects()); err != nil {
		return in, err
	}
	if in.raster, err = input("raster", r.cfg.Inputs.GetRaster()); err != nil {
		return in, err
	}
	if in.easements, err = input("easements", r.cfg.Inputs.GetEasements()); err != nil {
		return in, err
	}
	if in.output, err = output("output", r.cfg.Output.GetPath()); err != nil {
		return in, err
	}
	if in.geojson, err = output("geojson", r.cfg.Output.GetGeoJSON()); err != nil {
		return in, err
	}
	return in, nil
}

// step runs fn as a named step, checking ctx first and logging the row
// count and duration.
func (r *Runner) step(ctx context.Context, name string, fn func() (int, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := r.Clock.Now()
	n, err := fn()
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	d := r.Clock.Since(start)
	r.steps = append(r.steps, db.Step{Name: name, Count: n, Duration: d})
	monitoring.Logf("[pipeline] %s: %d rows (%s)", name, n, d.Round(time.Millisecond))
	return nil
}

// Run executes every step in order. With a ledger the run is recorded
// as running first, then completed or failed.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	start := r.Clock.Now()
	r.steps = nil
	res := &Result{}

	if r.Ledger != nil {
		r.Ledger.Clock = r.Clock
		id, err := r.Ledger.StartRun(ctx, r.cfg.JSON())
		if err != nil {
			return nil, fmt.Errorf("ledger: %w", err)
		}
		res.RunID = id
		monitoring.Logf("[pipeline] run %s started", id)
	}

	err := r.run(ctx, res)
	res.Steps = r.steps
	res.Duration = r.Clock.Since(start)

	if r.Ledger != nil {
		// Record the outcome even when ctx was cancelled.
		o := db.Outcome{Counts: res.Counts, OutputPath: res.OutputPath, Steps: res.Steps, Duration: res.Duration, Err: err}
		if lerr := r.Ledger.FinishRun(context.WithoutCancel(ctx), res.RunID, o); lerr != nil {
			err = errors.Join(err, fmt.Errorf("ledger: %w", lerr))
		}
	}
	if err != nil {
		return res, err
	}
	monitoring.Logf("[pipeline] wrote %d rows to %s in %s", res.Counts.RowsOut, res.OutputPath, res.Duration.Round(time.Millisecond))
	return res, nil
}

func (r *Runner) run(ctx context.Context, res *Result) error {
	in, err := r.resolve(ctx)
	if err != nil {
		return fmt.Errorf("resolve inputs: %w", err)
	}

	var parcels, projects, enriched, easements *vector.Layer
	var flags map[int64]CEMatch
	counts := &res.Counts

	if err := r.step(ctx, "load_parcels", func() (int, error) {
		var err error
		parcels, err = LoadParcels(ctx, in.parcels, r.cfg.Inputs.GetParcelsLayer(), r.target, r.cols)
		if err != nil {
			return 0, err
		}
		counts.ParcelsIn = parcels.Len()
		return counts.ParcelsIn, nil
	}); err != nil {
		return err
	}

	if err := r.step(ctx, "load_projects", func() (int, error) {
		var err error
		projects, err = LoadProjects(ctx, in.projects, r.cfg.Inputs.GetProjectsLayer(), r.cfg.Columns.GetProjectField(), r.target)
		if err != nil {
			return 0, err
		}
		counts.ProjectsIn = projects.Len()
		return counts.ProjectsIn, nil
	}); err != nil {
		return err
	}

	if err := r.step(ctx, "overlay_projects", func() (int, error) {
		n, err := OverlayProjects(parcels, projects, r.cfg.Columns.GetProjectField(), r.cols)
		counts.ParcelsWithProject = n
		return n, err
	}); err != nil {
		return err
	}

	if err := r.step(ctx, "describe_raster", func() (int, error) {
		var err error
		res.Raster, err = DescribeRaster(in.raster, r.gridCRS)
		return res.Raster.Width * res.Raster.Height, err
	}); err != nil {
		return err
	}

	if err := r.step(ctx, "sample_raster", func() (int, error) {
		var err error
		enriched, err = SampleRaster(ctx, parcels, in.raster, SampleOptions{
			NoData:          r.cfg.Raster.GetNoData(),
			UseHeaderNoData: r.cfg.Raster.GetUseHeaderNoData(),
			Stats:           r.stats,
			CRS:             r.gridCRS,
		}, r.cols)
		if err != nil {
			return 0, err
		}
		counts.ParcelsSampled = enriched.Len()
		return counts.ParcelsSampled, nil
	}); err != nil {
		return err
	}

	if err := r.step(ctx, "load_easements", func() (int, error) {
		var err error
		easements, err = LoadEasements(in.easements, r.target, EasementOptions{
			CRS:           r.ceCRS,
			IDField:       r.cfg.Easements.GetIDField(),
			ExcludeField:  r.cfg.Easements.GetExcludeField(),
			ExcludeValues: r.cfg.Easements.GetExcludeValues(),
		}, r.cols)
		if err != nil {
			return 0, err
		}
		counts.EasementsIn = easements.Len()
		return counts.EasementsIn, nil
	}); err != nil {
		return err
	}

	if err := r.step(ctx, "join_easements", func() (int, error) {
		var err error
		flags, err = JoinEasements(parcels, easements, r.cols)
		return len(flags), err
	}); err != nil {
		return err
	}

	if err := r.step(ctx, "merge", func() (int, error) {
		counts.ParcelsWithCE = Merge(enriched, flags, r.cols, r.cfg.Easements.GetKeepIDs())
		counts.RowsOut = enriched.Len()
		return counts.RowsOut, CheckOutput(enriched, counts.ParcelsIn, r.cols)
	}); err != nil {
		return err
	}

	if err := r.step(ctx, "write_output", func() (int, error) {
		enriched.Name = r.cfg.Output.GetLayer()
		if err := WriteOutput(ctx, r.FS, enriched, in.output, r.cfg.Output.GetLayer(), in.geojson); err != nil {
			return 0, err
		}
		res.OutputPath = in.output
		res.GeoJSONPath = in.geojson
		return enriched.Len(), nil
	}); err != nil {
		return err
	}

	return r.writeReports(res, enriched)
}

func (r *Runner) writeReports(res *Result, out *vector.Layer) error {
	s := report.Summarize(out, report.Columns{
		ParcelArea:   r.cols.ParcelArea,
		ProjectShare: r.cols.ProjectShare,
		CE:           r.cols.CE,
		Raster:       r.cols.Raster,
	}, r.cfg.Report.GetAreaUnit())
	s.RunID = res.RunID
	s.GeneratedAt = r.Clock.Now().UTC()
	s.Output = res.OutputPath
	s.Counts = res.Counts
	s.Steps = append([]db.Step(nil), r.steps...)
	res.Summary = s
	monitoring.Logf("[pipeline] summary: %s", s.Text())

	rc := &r.cfg.Report
	dataDir := r.cfg.GetDataDir()
	resolve := func(p string) (string, error) { return security.ResolvePath(p, dataDir) }

	if p := rc.GetSummaryJSON(); p != "" {
		path, err := resolve(p)
		if err == nil {
			err = report.WriteJSON(r.FS, path, s)
		}
		if err != nil {
			return fmt.Errorf("summary json: %w", err)
		}
	}
	if p := rc.GetPlotDir(); p != "" {
		dir, err := resolve(p)
		if err != nil {
			return fmt.Errorf("plots: %w", err)
		}
		files, err := report.WritePlots(r.FS, dir, s)
		if err != nil {
			return fmt.Errorf("plots: %w", err)
		}
		monitoring.Debugf("[pipeline] wrote %d plots to %s", len(files), dir)
	}
	if p := rc.GetHTML(); p != "" {
		path, err := resolve(p)
		if err == nil {
			err = report.WriteHTML(r.FS, path, s)
		}
		if err != nil {
			return fmt.Errorf("html report: %w", err)
		}
	}
	if p := rc.GetMetricsFile(); p != "" {
		path, err := resolve(p)
		if err == nil {
			err = report.WriteMetrics(r.FS, path, s)
		}
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}
	return nil
}
