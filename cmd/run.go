package cmd

import (
	"fmt"

	"github.com/mselser95/blue-liquidator/internal/app"
	"github.com/mselser95/blue-liquidator/pkg/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

//nolint:gochecknoglobals // Cobra boilerplate
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the liquidation bot",
	Long: `Starts the liquidation loop, which on every poll interval will:
1. Fetch candidate positions from the Morpho API or watched on-chain positions
2. Accrue interest and drop positions that are still healthy
3. Quote the collateral swap and check profitability
4. Assemble, sign and submit the liquidation bundle to the relay

Use --source to override DISCOVERY_SOURCE for this run.`,
	RunE: runBot,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringP("source", "s", "", "Discovery source override: api or onchain")
}

func runBot(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	source, _ := cmd.Flags().GetString("source")

	application, err := app.New(cfg, logger, &app.Options{DiscoverySource: source})
	if err != nil {
		return fmt.Errorf("create app: %w", err)
	}

	err = application.Run()
	if err != nil {
		return fmt.Errorf("run app: %w", err)
	}

	return nil
}

// loadRuntime loads the environment config and builds the logger for it.
func loadRuntime() (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := config.NewLogger(cfg.LogLevel, cfg.Profile.Name)
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}

	return cfg, logger, nil
}
