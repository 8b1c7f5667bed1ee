// Package cmd wires the godispatch command line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/godispatch/cmd/run"
)

var cfgFile string

// rootCmd is the base command.
var rootCmd = &cobra.Command{
	Use:   "godispatch",
	Short: "Job execution and schedule orchestration daemon",
	Long: `godispatch runs the orchestration core of a content-ingestion
platform: a priority-based job executor gated on system resources, a
cron-driven scheduler, and a feedback-driven schedule optimizer.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initEnv)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./config.yaml if present)")
	rootCmd.AddCommand(run.Command(&cfgFile))
	rootCmd.AddCommand(versionCmd)
}

// initEnv loads a local .env file when present so environment overrides
// work in development.
func initEnv() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "warning: could not load .env: %v\n", err)
	}
	if cfgFile == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			cfgFile = "config.yaml"
		}
	}
}
