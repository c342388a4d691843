package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/raphaelgruber/mmrag/internal/metrics"
	"github.com/raphaelgruber/mmrag/internal/models"
	"github.com/spf13/cobra"
)

var usageDetailed bool

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show server statistics",
	Long: `Show server version, uptime, job counters and operation timings.

Examples:
  mmrag usage
  mmrag usage --detailed`,
	RunE: runUsage,
}

var typesCmd = &cobra.Command{
	Use:   "types",
	Short: "List supported content types and file extensions",
	Args:  cobra.NoArgs,
	RunE:  runTypes,
}

func init() {
	usageCmd.Flags().BoolVar(&usageDetailed, "detailed", false, "include per-operation timings")
}

func runUsage(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	version, err := apiClient.Health(ctx)
	if err != nil {
		return fmt.Errorf("server not reachable at %s: %w", apiClient.Endpoint(), err)
	}
	snap, err := apiClient.Metrics(ctx)
	if err != nil {
		return fmt.Errorf("get metrics: %w", err)
	}
	printStats(cmd.OutOrStdout(), version, snap, usageDetailed)
	return nil
}

func printStats(out io.Writer, version string, snap *metrics.Snapshot, detailed bool) {
	uptime := time.Duration(snap.UptimeSeconds * float64(time.Second)).Round(time.Second)
	fmt.Fprintf(out, "Server %s (version %s), up %s\n", apiClient.Endpoint(), version, uptime)
	fmt.Fprintf(out, "═══════════════════════════════════════\n\n")

	if len(snap.Jobs) == 0 {
		fmt.Fprintln(out, "No jobs processed yet")
	} else {
		fmt.Fprintf(out, "%-10s %10s %10s %10s\n", "TYPE", "COMPLETED", "FAILED", "CHUNKS")
		types := make([]string, 0, len(snap.Jobs))
		for t := range snap.Jobs {
			types = append(types, t)
		}
		sort.Strings(types)
		for _, t := range types {
			c := snap.Jobs[t]
			fmt.Fprintf(out, "%-10s %10d %10d %10d\n", t, c.Completed, c.Failed, c.Chunks)
		}
	}

	if !detailed || len(snap.Operations) == 0 {
		return
	}
	fmt.Fprintf(out, "\n%-28s %8s %8s %10s %10s %10s\n", "OPERATION", "COUNT", "ERRORS", "AVG", "MAX", "TOKENS")
	for _, name := range snap.OperationNames() {
		op := snap.Operations[name]
		fmt.Fprintf(out, "%-28s %8d %8d %10s %10s %10d\n", name, op.Count, op.Errors,
			fmtMillis(op.AvgTimeMs), fmtMillis(float64(op.MaxTimeMs)), op.TotalInputTokens+op.TotalOutputTokens)
	}
}

func fmtMillis(ms float64) string {
	return time.Duration(ms * float64(time.Millisecond)).Round(time.Millisecond).String()
}

func runTypes(cmd *cobra.Command, args []string) error {
	types, err := apiClient.Types(cmd.Context())
	if err != nil {
		return fmt.Errorf("get types: %w", err)
	}
	out := cmd.OutOrStdout()
	for _, m := range types.Types {
		exts := types.Extensions[m]
		if exts == nil {
			exts = models.SupportedExtensions[m]
		}
		fmt.Fprintf(out, "%-9s %s\n", m, strings.Join(exts, ", "))
	}
	return nil
}
