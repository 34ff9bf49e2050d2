// marcus is an agent coordination server: it owns a task board, hands
// ready tasks to registered agents under leases, tracks progress and
// blockers, and mirrors state to a kanban backend.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"marcus/internal/config"
	"marcus/internal/logging"
)

var (
	cfgPath string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "marcus",
	Short: "marcus - agent coordination server",
	Long: `marcus coordinates a fleet of autonomous coding agents over a shared
task board. Agents pull work instead of being pushed it: each request is
answered with the best ready task, a lease, and an assembled context of
everything upstream of that task.

State is durable; the kanban board (Planka, GitHub, Linear) is a mirror,
never the source of truth.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		return logging.Initialize(level, cfg.Logging.Development)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "marcus.yaml", "Config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(diagnoseCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the marcus version",
	Run: func(cmd *cobra.Command, args []string) {
		version := config.DefaultConfig().Version
		if cfg, err := config.Load(cfgPath); err == nil {
			version = cfg.Version
		}
		fmt.Printf("marcus %s\n", version)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
