package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/galaxyhq/galaxy/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "galaxy",
	Short: "Galaxy - distributed task constellation orchestrator",
	Long: `Galaxy executes constellations: DAGs of tasks dispatched to remote
agent devices over WebSocket sessions. The DAG can be rewritten
mid-flight by a planning agent in response to intermediate results.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		levelStr, _ := cmd.Flags().GetString("log-level")
		jsonOut, _ := cmd.Flags().GetBool("log-json")
		log.Init(log.Config{
			Level:      log.Level(levelStr),
			JSONOutput: jsonOut,
		})
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Galaxy version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Emit JSON logs instead of console output")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(applyCmd)
}
