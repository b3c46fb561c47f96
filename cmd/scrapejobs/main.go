package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:           "scrapejobs",
	Short:         "Run and track asynchronous scrape jobs",
	Long:          "scrapejobs runs scrape jobs in the background behind a small JSON API and polls them from the command line until they complete or fail.",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// reportedError marks an error that was already shown to the user.
type reportedError struct {
	err error
}

func (e reportedError) Error() string { return e.err.Error() }
func (e reportedError) Unwrap() error { return e.err }

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(scrapeCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(resultsCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var reported reportedError
		if !errors.As(err, &reported) {
			printError("%v", err)
		}
		os.Exit(1)
	}
}
