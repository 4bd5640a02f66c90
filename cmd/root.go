package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var rootCmd = &cobra.Command{
	Use:   "blue-liquidator",
	Short: "Morpho Blue liquidation bot",
	Long: `Morpho Blue liquidation bot that polls for unhealthy borrow positions,
recomputes their health with accrued interest, checks that liquidating them
pays for gas and slippage, and lands the liquidation as a private bundle.

Configuration is read from the environment (and a .env file if present).`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
