package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/banshee-data/parcelmerge/internal/crs"
	"github.com/banshee-data/parcelmerge/internal/pipeline"
)

func newInspectCmd() *cobra.Command {
	var (
		asJSON  bool
		crsFlag string
	)
	cmd := &cobra.Command{
		Use:   "inspect <raster>",
		Short: "Print a raster's metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var ref *crs.CRS
			if crsFlag != "" {
				var err error
				if ref, err = crs.Parse(crsFlag); err != nil {
					return fmt.Errorf("--crs %q: %w", crsFlag, err)
				}
			}
			md, err := pipeline.DescribeRaster(args[0], ref)
			if err != nil {
				return err
			}
			if !asJSON {
				fmt.Fprintln(cmd.OutOrStdout(), md)
				return nil
			}
			crsName := ""
			if md.CRS != nil {
				crsName = md.CRS.String()
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"path":      md.Path,
				"driver":    md.Driver,
				"dtype":     md.DType,
				"width":     md.Width,
				"height":    md.Height,
				"count":     md.Count,
				"nodata":    md.NoData,
				"crs":       crsName,
				"transform": []float64{md.Transform.CellWidth, 0, md.Transform.OriginX, 0, -md.Transform.CellHeight, md.Transform.OriginY},
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output JSON")
	cmd.Flags().StringVar(&crsFlag, "crs", "", "CRS to assume instead of the raster's .prj, e.g. EPSG:5070")
	return cmd
}
