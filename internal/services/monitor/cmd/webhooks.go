package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/LeonardoBeccarini/flow-monitor/internal/config"
)

func webhooksCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhooks",
		Short: "Inspect or remove the controller's webhooks",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered webhooks",
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
			hooks, err := rc.ListWebhooks(cmd.Context(), dev.ID)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "ID\tURL\tEVENTS\n")
			for _, h := range hooks {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", h.ID, h.URL, strings.Join(h.EventTypes, ","))
			}
			return tw.Flush()
		},
	})

	var yes bool
	del := &cobra.Command{
		Use:   "delete",
		Short: "Delete every webhook on the controller",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return fmt.Errorf("refusing to delete webhooks without --yes")
			}
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
			if err := rc.DeleteWebhooks(cmd.Context(), dev.ID); err != nil {
				return err
			}
			fmt.Printf("deleted webhooks on %s\n", dev.Name)
			return nil
		},
	}
	del.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	cmd.AddCommand(del)
	return cmd
}
