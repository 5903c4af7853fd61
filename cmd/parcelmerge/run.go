package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/banshee-data/parcelmerge/internal/db"
	"github.com/banshee-data/parcelmerge/internal/monitoring"
	"github.com/banshee-data/parcelmerge/internal/pipeline"
)

func newRunCmd(g *globalFlags) *cobra.Command {
	var (
		dataDir string
		output  string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the merge and write the output GeoPackage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			if dataDir != "" {
				cfg.DataDir = &dataDir
			}
			if output != "" {
				// Flag paths are relative to the working directory.
				abs, err := filepath.Abs(output)
				if err != nil {
					return err
				}
				cfg.Output.Path = &abs
			}

			r, err := pipeline.New(cfg)
			if err != nil {
				return err
			}
			if p := cfg.Ledger.GetPath(); p != "" {
				ledger, err := db.NewDB(p)
				if err != nil {
					return fmt.Errorf("open ledger: %w", err)
				}
				defer ledger.Close()
				r.Ledger = ledger
			}
			monitoring.Debugf("[parcelmerge] config: %s", cfg.JSON())

			res, err := r.Run(cmd.Context())
			if err != nil {
				if res != nil && res.RunID != "" {
					return fmt.Errorf("run %s: %w", res.RunID, err)
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d rows)\n", res.OutputPath, res.Counts.RowsOut)
			if res.Summary != nil {
				fmt.Fprintln(cmd.OutOrStdout(), res.Summary.Text())
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&dataDir, "data-dir", "d", "", "base directory of the inputs (overrides data_dir)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output GeoPackage (overrides output.path)")
	return cmd
}
