package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/LeonardoBeccarini/flow-monitor/internal/config"
)

func zonesCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "zones",
		Short: "Print the controller's zone map",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			rc, err := newRachio(cfg)
			if err != nil {
				return err
			}
			dev, err := findDevice(cmd.Context(), rc, cfg.RachioDevice)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "ZONE\tNAME\tID\n")
			for _, z := range dev.ZoneInfos() {
				fmt.Fprintf(tw, "%d\t%s\t%s\n", z.Number, z.Name, z.ID)
			}
			return tw.Flush()
		},
	}
}
