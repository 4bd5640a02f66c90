package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/mselser95/blue-liquidator/internal/app"
	"github.com/mselser95/blue-liquidator/internal/liquidator"
	"github.com/mselser95/blue-liquidator/pkg/types"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run a single liquidation cycle and print its report",
	Long: `Runs exactly one discovery and liquidation cycle with the full pipeline,
including bundle submission, then exits. The cycle report is printed to stdout.

Examples:
  # One cycle against the Morpho API
  go run . cycle

  # One cycle over WATCH_POSITIONS, printed as JSON
  go run . cycle --source onchain --format json`,
	RunE: runCycle,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(cycleCmd)
	cycleCmd.Flags().StringP("source", "s", "", "Discovery source override: api or onchain")
	cycleCmd.Flags().StringP("format", "f", "table", "Output format: table, json")
}

func runCycle(cmd *cobra.Command, _ []string) error {
	format, _ := cmd.Flags().GetString("format")
	if format != "table" && format != "json" {
		return fmt.Errorf("invalid format: %s (valid: table, json)", format)
	}

	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	source, _ := cmd.Flags().GetString("source")

	application, err := app.New(cfg, logger, &app.Options{DiscoverySource: source, DisableHTTP: true})
	if err != nil {
		return fmt.Errorf("create app: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.PollInterval+2*cfg.SubmissionWaitTimeout)
	defer cancel()

	report, err := application.RunOnce(ctx)
	if err != nil {
		return err
	}

	if format == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	printReport(os.Stdout, report)
	return nil
}

func printReport(w io.Writer, report *liquidator.CycleReport) {
	fmt.Fprintf(w, "=== Cycle %s ===\n\n", report.ID)
	fmt.Fprintf(w, "Started:  %s\n", report.StartedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Duration: %s\n\n", report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))

	if report.Skipped != "" {
		fmt.Fprintf(w, "Skipped: %s\n", report.Skipped)
		return
	}

	if len(report.Results) == 0 {
		fmt.Fprintf(w, "No liquidatable positions\n")
		return
	}

	counts := make(map[types.PositionStatus]int)
	for _, r := range report.Results {
		counts[r.Status]++

		fmt.Fprintf(w, "Market:   %s\n", shortHash(r.MarketID.Hex()))
		fmt.Fprintf(w, "  Borrower: %s\n", r.Borrower.Hex())
		fmt.Fprintf(w, "  Status:   %s\n", r.Status)
		if r.Reason != "" {
			fmt.Fprintf(w, "  Reason:   %s\n", r.Reason)
		}
		if r.NetProfitUSD != "" {
			fmt.Fprintf(w, "  Profit:   $%s\n", r.NetProfitUSD)
		}
		if r.IncludedBlock != 0 {
			fmt.Fprintf(w, "  Block:    %d\n", r.IncludedBlock)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "=== Summary ===\n")
	fmt.Fprintf(w, "Liquidated:     %d\n", counts[types.StatusLiquidated])
	fmt.Fprintf(w, "Not profitable: %d\n", counts[types.StatusNotProfitable])
	fmt.Fprintf(w, "Failed:         %d\n", counts[types.StatusFailed])
}

func shortHash(h string) string {
	if len(h) <= 14 {
		return h
	}
	return h[:10] + "..." + h[len(h)-4:]
}
