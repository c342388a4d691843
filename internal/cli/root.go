// Package cli provides the command-line interface for mmrag.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/raphaelgruber/mmrag/internal/client"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose   bool
	serverURL string

	apiClient *client.Client
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "mmrag",
	Short: "Multi-modal ingestion and question answering",
	Long: `mmrag ingests videos, audio, documents and images, turns them into
searchable chunks with summaries, and answers questions over them.

The CLI talks to a running mmrag-server. Set MMRAG_SERVER_URL or --server
to point it somewhere other than http://localhost:8484.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		apiClient = client.New(serverURL)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "server URL (default $MMRAG_SERVER_URL or http://localhost:8484)")

	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(summaryCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(suggestCmd)
	rootCmd.AddCommand(typesCmd)
	rootCmd.AddCommand(usageCmd)
}

// interactive reports whether stdout is a terminal that can host the progress UI.
func interactive() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func jobRef(id string) string {
	return fmt.Sprintf("mmrag jobs %s", id)
}
