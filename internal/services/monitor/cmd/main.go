package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	var cfgPath string
	rootCmd := &cobra.Command{
		Use:     "flow-monitor",
		Short:   "Correlate Rachio zone runs with water meter readings",
		Version: Version,
	}
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", os.Getenv("CONFIG_FILE"), "YAML file overlaying the environment")

	serve := serveCmd(&cfgPath)
	rootCmd.AddCommand(serve)
	rootCmd.AddCommand(zonesCmd(&cfgPath))
	rootCmd.AddCommand(webhooksCmd(&cfgPath))
	rootCmd.AddCommand(configCmd(&cfgPath))
	// no subcommand means serve
	rootCmd.RunE = serve.RunE
	rootCmd.Flags().AddFlagSet(serve.Flags())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
