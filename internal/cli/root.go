// File path: internal/cli/root.go

// Package cli implements the excavator command-line surface. Subcommands
// either run the daemon in-process (serve) or act as thin HTTP clients of
// a running daemon. Exit codes: 0 ok, 1 generic failure, 2 daemon
// unreachable.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// ExitCode computes the process exit code for an Execute error.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUnreachable):
		return 2
	default:
		return 1
	}
}

var configPath string

var rootCmd = &cobra.Command{
	Use:   "excavator",
	Short: "Cognitive archaeology over your file tree and AI conversation archives",
	Long: `Excavator continuously indexes your documents and conversational-AI
exports, extracts entities, embeds content for semantic search, and
correlates everything to surface patterns you implicitly know but have
never written down.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (default ~/.excavator/config.yaml)")
	rootCmd.AddCommand(
		serveCmd,
		stopCmd,
		restartCmd,
		pingCmd,
		statusCmd,
		healthCmd,
		initCmd,
		queryCmd,
		discoveriesCmd,
		feedbackCmd,
		entitiesCmd,
		patternsCmd,
		correlateCmd,
		excavateCmd,
		jobsCmd,
		logsCmd,
		dashboardCmd,
	)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func printJSON(v interface{}) {
	fmt.Fprintln(os.Stdout, mustJSON(v))
}
