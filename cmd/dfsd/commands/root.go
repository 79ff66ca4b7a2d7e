// Package commands implements the dfsd CLI.
package commands

import (
	"github.com/spf13/cobra"
)

// Version information injected at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "dfsd",
	Short: "dfsd - resumable chunked file ingestion service",
	Long: `dfsd ingests large files in fixed-size chunks: clients initialize an
upload, send chunks in any order with retries, and finalize with a completion
call that publishes the assembled object. Configuration comes from the
environment; see "dfsd serve --help".`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}
