// Package cli provides the command-line interface for ia-get.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ia-tools/ia-get/internal/logging"
	"github.com/ia-tools/ia-get/internal/version"
)

var (
	// Global flags
	verbose bool

	// Global logger
	logger *logging.Logger

	// Global context for signal handling
	rootContext context.Context
	cancelFunc  context.CancelFunc
)

// NewRootCmd creates the root command. With an identifier argument the
// root command itself runs a download; subcommands cover the rest.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ia-get <identifier|url>",
		Short: "Download files from Internet Archive items",
		Long: `ia-get ` + version.Version + ` - Built: ` + version.BuildTime + `
Concurrent, resumable downloader for Internet Archive items.

Accepts a bare identifier, a details URL, or a metadata URL:
  ia-get commute_by_bike
  ia-get https://archive.org/details/commute_by_bike

Interrupted runs resume from the saved session; partially downloaded
files continue from where they stopped.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger = logging.NewDefault()
			if verbose {
				logging.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			return runDownload(cmd.Context(), args[0])
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (shows debug messages)")
	rootCmd.Version = version.Version + " (" + version.BuildTime + ")"

	addDownloadFlags(rootCmd)
	rootCmd.AddCommand(newExtractCmd())

	return rootCmd
}

// Execute runs the CLI with signal-driven cancellation.
func Execute() error {
	rootContext, cancelFunc = context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		for sig := range sigChan {
			if sig != nil {
				fmt.Fprintf(os.Stderr, "\nReceived %v, finishing in-flight work and saving session...\n", sig)
				cancelFunc()
			}
		}
	}()

	rootCmd := NewRootCmd()
	rootCmd.SetContext(rootContext)
	err := rootCmd.Execute()

	signal.Stop(sigChan)
	close(sigChan)

	return err
}
