package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/geofetch/geofetch/internal/regions"
)

func newCollectionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "collections",
		Short: "List the known data collections",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}

			registry, err := loadRegistry(cfg)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tCATALOG ID\tSATELLITE\tNATIVE RESOLUTION")
			for _, name := range registry.Names() {
				coll := registry.Get(name)
				if coll == nil {
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%.0fm\n", coll.Name, coll.ID, coll.Satellite, coll.NativeResolution)
			}
			return w.Flush()
		},
	}
}

func newRegionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "regions",
		Short: "List the regions available for --region",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}

			regionStore := regions.NewStore()
			if err := regionStore.LoadDir(cfg.Regions.Dir); err != nil {
				return err
			}
			if regionStore.Count() == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no regions loaded, set GEOFETCH_REGIONS_DIR")
				return nil
			}

			for _, name := range regionStore.Names() {
				region, err := regionStore.Get(name)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", region.Name, region.BBox)
			}
			return nil
		},
	}
}
