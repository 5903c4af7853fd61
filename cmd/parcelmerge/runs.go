package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/parcelmerge/internal/db"
	"github.com/banshee-data/parcelmerge/internal/units"
)

func newRunsCmd(g *globalFlags) *cobra.Command {
	var (
		limit    int
		timezone string
	)
	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List recorded runs, or show one with its steps",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			path := cfg.Ledger.GetPath()
			if path == "" {
				return errors.New("no ledger configured: pass --ledger or set ledger.path")
			}
			if timezone != "" && !units.IsTimezoneValid(timezone) {
				return fmt.Errorf("unknown timezone %q", timezone)
			}
			ledger, err := db.NewDB(path)
			if err != nil {
				return fmt.Errorf("open ledger: %w", err)
			}
			defer ledger.Close()

			ctx := cmd.Context()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			defer w.Flush()

			if len(args) == 1 {
				run, err := ledger.GetRun(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "run\t%s\n", run.ID)
				fmt.Fprintf(w, "status\t%s\n", run.Status)
				fmt.Fprintf(w, "started\t%s\n", formatTime(run.StartedAt, timezone))
				fmt.Fprintf(w, "output\t%s\n", run.OutputPath)
				fmt.Fprintf(w, "rows\t%d of %d parcels\n", run.Counts.RowsOut, run.Counts.ParcelsIn)
				if run.Error != "" {
					fmt.Fprintf(w, "error\t%s\n", run.Error)
				}
				for _, s := range run.Steps {
					fmt.Fprintf(w, "  %s\t%d\t%s\n", s.Name, s.Count, s.Duration)
				}
				return nil
			}

			runs, err := ledger.ListRuns(ctx, limit)
			if err != nil {
				return err
			}
			fmt.Fprintln(w, "RUN\tSTARTED\tSTATUS\tROWS\tDURATION\tOUTPUT")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
					r.ID, formatTime(r.StartedAt, timezone), r.Status, r.Counts.RowsOut, r.Duration, r.OutputPath)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to list")
	cmd.Flags().StringVar(&timezone, "timezone", "", "display times in this tz database zone (default UTC)")
	return cmd
}

func formatTime(t time.Time, tz string) string {
	local, err := units.ConvertTime(t, tz)
	if err != nil {
		local = t
	}
	return local.Format("2006-01-02 15:04:05 MST")
}
