package main

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/banshee-data/parcelmerge/internal/config"
	"github.com/banshee-data/parcelmerge/internal/monitoring"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	ledgerPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "parcelmerge",
		Short: "Merge forest parcels with CARB projects, WHP and conservation easements",
		Long: `parcelmerge runs the forest parcel enrichment once: it overlays CARB
offset projects on the parcels, samples wildfire hazard potential per parcel,
flags conservation easements and writes merged_carb.gpkg (layer alldata).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			log.SetOutput(cmd.ErrOrStderr())
			monitoring.SetLogger(log.Printf)
			monitoring.SetVerbose(g.verbose)
		},
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "config file (.json, .yaml or .yml)")
	root.PersistentFlags().StringVar(&g.ledgerPath, "ledger", "", "run ledger database (overrides ledger.path)")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newRunCmd(g),
		newInspectCmd(),
		newRunsCmd(g),
		newVersionCmd(),
	)
	return root
}

// loadConfig reads the config file (if any) plus PARCELMERGE_* overrides.
func (g *globalFlags) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	if g.ledgerPath != "" {
		cfg.Ledger.Path = &g.ledgerPath
	}
	return cfg, nil
}
