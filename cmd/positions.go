package cmd

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/mselser95/blue-liquidator/internal/accrual"
	"github.com/mselser95/blue-liquidator/internal/app"
	"github.com/mselser95/blue-liquidator/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var positionsCmd = &cobra.Command{
	Use:   "positions",
	Short: "List candidate positions and whether they are liquidatable now",
	Long: `Fetches positions from the configured discovery source, accrues interest
up to now and prints which ones can be liquidated. Nothing is submitted.

Examples:
  # Table of every candidate
  go run . positions

  # Only positions that are liquidatable after accrual
  go run . positions --liquidatable-only

  # Export to CSV
  go run . positions --format csv > positions.csv`,
	RunE: runPositions,
}

//nolint:gochecknoglobals // Cobra boilerplate
var (
	liquidatableOnly bool
	outputFormat     string
	positionsSource  string
)

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(positionsCmd)

	positionsCmd.Flags().BoolVar(&liquidatableOnly, "liquidatable-only", false, "Show only liquidatable positions")
	positionsCmd.Flags().StringVar(&outputFormat, "format", "table", "Output format: table, json, csv")
	positionsCmd.Flags().StringVarP(&positionsSource, "source", "s", "", "Discovery source override: api or onchain")
}

// PositionRow is one evaluated candidate.
type PositionRow struct {
	MarketID     string `json:"market_id"`
	Borrower     string `json:"borrower"`
	Collateral   string `json:"collateral"`
	Loan         string `json:"loan"`
	Liquidatable bool   `json:"liquidatable"`
	Seizable     string `json:"seizable,omitempty"`
	SeizableUSD  string `json:"seizable_usd,omitempty"`
	Error        string `json:"error,omitempty"`
}

func runPositions(_ *cobra.Command, _ []string) error {
	err := validateFormat(outputFormat)
	if err != nil {
		return err
	}

	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	if positionsSource != "" {
		cfg.DiscoverySource = positionsSource
		err = cfg.Validate()
		if err != nil {
			return fmt.Errorf("validate config: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	snapshot, err := app.Discover(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("discover positions: %w", err)
	}

	accruer := accrual.New(accrual.Config{RequirePrices: cfg.Profile.RequirePrices})
	rows := evaluateRows(accruer, snapshot, time.Now())
	if liquidatableOnly {
		rows = filterLiquidatable(rows)
	}

	return displayRows(os.Stdout, rows, outputFormat)
}

func validateFormat(format string) error {
	validFormats := map[string]bool{"table": true, "json": true, "csv": true}
	if !validFormats[format] {
		return fmt.Errorf("invalid format: %s (valid: table, json, csv)", format)
	}
	return nil
}

type positionAccruer interface {
	Accrue(snap types.PositionSnapshot, now time.Time) (*types.AccruedResult, error)
}

// evaluateRows accrues every position and returns liquidatable rows first.
func evaluateRows(accruer positionAccruer, snapshot *types.Snapshot, now time.Time) []PositionRow {
	rows := make([]PositionRow, 0, len(snapshot.Positions))
	for _, pos := range snapshot.Positions {
		pos.CollateralToken, _ = snapshot.Prices.Resolve(pos.CollateralToken)
		pos.LoanToken, _ = snapshot.Prices.Resolve(pos.LoanToken)

		row := PositionRow{
			MarketID:   pos.Market.ID.Hex(),
			Borrower:   pos.Position.Owner.Hex(),
			Collateral: pos.CollateralToken.Symbol,
			Loan:       pos.LoanToken.Symbol,
		}

		result, err := accruer.Accrue(pos, now)
		if err != nil {
			row.Error = err.Error()
			rows = append(rows, row)
			continue
		}

		row.Liquidatable = result.Liquidatable
		if result.Liquidatable && result.SeizableCollateral != nil {
			row.Seizable = decimal.NewFromBigInt(result.SeizableCollateral,
				-int32(pos.CollateralToken.Decimals)).String()
			if usd, err := types.ToUSD(result.SeizableCollateral, pos.CollateralToken); err == nil {
				row.SeizableUSD = types.FormatUSD(usd)
			}
		}
		rows = append(rows, row)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Liquidatable && !rows[j].Liquidatable
	})
	return rows
}

func filterLiquidatable(rows []PositionRow) (filtered []PositionRow) {
	for _, row := range rows {
		if row.Liquidatable {
			filtered = append(filtered, row)
		}
	}
	return filtered
}

func displayRows(w io.Writer, rows []PositionRow, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	case "csv":
		return displayCSV(w, rows)
	}

	displayTable(w, rows)
	return nil
}

func displayTable(w io.Writer, rows []PositionRow) {
	if len(rows) == 0 {
		fmt.Fprintf(w, "No positions found\n")
		return
	}

	liquidatable := 0
	for _, row := range rows {
		status := "HEALTHY"
		switch {
		case row.Error != "":
			status = "ERROR"
		case row.Liquidatable:
			status = "LIQUIDATABLE"
			liquidatable++
		}

		fmt.Fprintf(w, "Market: %s (%s/%s)\n", shortHash(row.MarketID), row.Collateral, row.Loan)
		fmt.Fprintf(w, "  Borrower: %s\n", row.Borrower)
		fmt.Fprintf(w, "  Status:   %s\n", status)
		if row.Seizable != "" {
			fmt.Fprintf(w, "  Seizable: %s %s", row.Seizable, row.Collateral)
			if row.SeizableUSD != "" {
				fmt.Fprintf(w, " ($%s)", row.SeizableUSD)
			}
			fmt.Fprintln(w)
		}
		if row.Error != "" {
			fmt.Fprintf(w, "  Error:    %s\n", row.Error)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "=== Summary ===\n")
	fmt.Fprintf(w, "Positions:    %d\n", len(rows))
	fmt.Fprintf(w, "Liquidatable: %d\n", liquidatable)
}

func displayCSV(w io.Writer, rows []PositionRow) error {
	writer := csv.NewWriter(w)

	err := writer.Write([]string{"market_id", "borrower", "collateral", "loan", "liquidatable", "seizable", "seizable_usd", "error"})
	if err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, row := range rows {
		err = writer.Write([]string{
			row.MarketID,
			row.Borrower,
			row.Collateral,
			row.Loan,
			strconv.FormatBool(row.Liquidatable),
			row.Seizable,
			row.SeizableUSD,
			row.Error,
		})
		if err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}
