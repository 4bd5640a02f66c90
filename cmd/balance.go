package cmd

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"os"
	"time"

	"github.com/mselser95/blue-liquidator/pkg/chain"
	"github.com/mselser95/blue-liquidator/pkg/config"
	"github.com/mselser95/blue-liquidator/pkg/wallet"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Check the liquidator wallet balances",
	Long: `Display the liquidator wallet's current holdings:
- Native balance (for gas)
- Funding token balance (for repaying debt)
- Funding token allowance to the Morpho contract

A missing allowance is not fatal; the bot adds an approval to the bundle when needed.`,
	RunE: runBalance,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(balanceCmd)
}

type balanceSheet struct {
	Address   string
	Native    *big.Int
	Funding   *big.Int
	Allowance *big.Int
}

func runBalance(_ *cobra.Command, _ []string) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	signer, err := chain.NewKeySigner(cfg.WalletPrivateKey, big.NewInt(cfg.ChainID))
	if err != nil {
		return fmt.Errorf("parse wallet key: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	chainClient, err := chain.Dial(ctx, cfg.RPCURL, logger)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", cfg.Profile.Name, err)
	}
	defer chainClient.Close()

	client, err := wallet.NewClient(chainClient, cfg.FundingToken.Address, logger)
	if err != nil {
		return fmt.Errorf("create wallet client: %w", err)
	}

	balances, err := client.GetBalances(ctx, signer.Address())
	if err != nil {
		return fmt.Errorf("get balances: %w", err)
	}

	allowance, err := client.Allowance(ctx, cfg.FundingToken.Address, signer.Address(), cfg.Profile.MorphoAddress)
	if err != nil {
		return fmt.Errorf("get allowance: %w", err)
	}

	printBalanceSheet(os.Stdout, cfg, balanceSheet{
		Address:   signer.Address().Hex(),
		Native:    balances.Native,
		Funding:   balances.Funding,
		Allowance: allowance,
	})
	return nil
}

func printBalanceSheet(w io.Writer, cfg *config.Config, sheet balanceSheet) {
	fmt.Fprintf(w, "=== Wallet Balance Sheet (%s) ===\n\n", cfg.Profile.Name)
	fmt.Fprintf(w, "Address: %s\n\n", sheet.Address)

	fmt.Fprintf(w, "Native Balance: %.6f\n", wallet.ToFloat(sheet.Native, 18))
	fmt.Fprintf(w, "%s Balance: %.2f\n", cfg.FundingToken.Symbol, wallet.ToFloat(sheet.Funding, cfg.FundingToken.Decimals))

	if sheet.Allowance.Cmp(unlimitedThreshold()) > 0 {
		fmt.Fprintf(w, "%s Allowance: Unlimited\n", cfg.FundingToken.Symbol)
	} else {
		fmt.Fprintf(w, "%s Allowance: %.2f\n", cfg.FundingToken.Symbol,
			wallet.ToFloat(sheet.Allowance, cfg.FundingToken.Decimals))
	}

	fmt.Fprintf(w, "\n=== Summary ===\n")
	minNative := new(big.Float).Mul(big.NewFloat(cfg.GasGuardMinNative), big.NewFloat(1e18))
	if new(big.Float).SetInt(sheet.Native).Cmp(minNative) < 0 {
		fmt.Fprintf(w, "Gas: LOW (below %.4f native)\n", cfg.GasGuardMinNative)
	} else {
		fmt.Fprintf(w, "Gas: OK\n")
	}
	if sheet.Allowance.Sign() == 0 {
		fmt.Fprintf(w, "Approval: missing, bundles will include an approve transaction\n")
	}
}

// unlimitedThreshold treats anything above 2^128 as an unlimited approval.
func unlimitedThreshold() *big.Int {
	return new(big.Int).Lsh(big.NewInt(1), 128)
}
