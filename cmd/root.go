package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xamircastel/xafra-ads-v5-sub000/cmd/worker"
)

var (
	cfgPath string
	rootCmd = &cobra.Command{
		Use:   "xafra-ads",
		Short: "Ad redirect, tracking and postback service",
	}
)

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "path to YAML config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(worker.NewWorkerCmd())
}
