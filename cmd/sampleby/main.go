package main

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const (
	version = "0.3.0"
)

var configFile string

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "sampleby",
		Short:         "Time-series storage with SAMPLE BY bucketing",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to a YAML configuration file")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newExplainCmd())
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.WithError(err).Error("sampleby failed")
		os.Exit(1)
	}
}
