package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// TokenConfig is a token supplied through the environment.
type TokenConfig struct {
	Address  common.Address
	Decimals uint8
	Symbol   string
}

// Config holds all application configuration.
type Config struct {
	// Application
	LogLevel string
	HTTPPort string

	// Chain
	ChainID  int64
	Profile  ChainProfile
	RPCURL   string
	RelayURL string

	// Keys are only read here and handed to the signer capability.
	WalletPrivateKey string
	RelayAuthKey     string

	// Discovery
	PollInterval     time.Duration
	DiscoverySource  string // "api" or "onchain"
	MorphoAPIURL     string
	WhitelistTTL     time.Duration
	WatchPositions   []string // onchain source: "<market-id>:<borrower>"
	StaticPricesUSD  map[common.Address]*big.Int
	RefreshOnChain   bool
	MaxPositionsPoll int

	// Swaps
	ParaSwapAPIURL    string
	MaxSlippageBps    int     // scale 1/10000
	MaxPriceImpactPct float64 // scale 1/100
	FundingToken      TokenConfig
	PayoutToken       TokenConfig

	// Profitability
	MinProfitUSD     *big.Int // USD scaled by 1e18
	MinProfitUSDText string
	GasLimitBudget   uint64

	// Submission
	PriorityFeeWei        *big.Int
	FeeHeadroomBlocks     int
	TargetBlockOffsets    []uint64
	SubmissionWaitTimeout time.Duration

	// Gas guard
	GasGuardEnabled         bool
	GasGuardCheckInterval   time.Duration
	GasGuardMinNative       float64
	GasGuardSpendMultiplier float64
	GasGuardHysteresisRatio float64

	// Wallet tracker
	WalletPollInterval time.Duration

	// Cycle lock
	RedisAddr     string
	RedisPassword string
	CycleLockTTL  time.Duration

	// Storage
	StorageMode  string // "postgres" or "console"
	PostgresHost string
	PostgresPort string
	PostgresUser string
	PostgresPass string
	PostgresDB   string
	PostgresSSL  string
}

// DefaultTargetBlockOffsets is the spread of future blocks a bundle is submitted for.
//
//nolint:gochecknoglobals // Read-only default
var DefaultTargetBlockOffsets = []uint64{1, 2, 3, 5, 8, 13, 21}

// CycleLockMargin is the slack the cycle lock keeps beyond one bundle wait,
// covering discovery and evaluation before submission starts.
const CycleLockMargin = time.Minute

// LoadFromEnv loads configuration from environment variables with defaults.
// A .env file in the working directory is honoured when present.
func LoadFromEnv() (*Config, error) {
	_ = godotenv.Load()

	chainID := getInt64OrDefault("CHAIN_ID", 1)
	profile, err := ProfileForChain(chainID)
	if err != nil {
		return nil, fmt.Errorf("resolve chain profile: %w", err)
	}

	minProfitText := getEnvOrDefault("MIN_PROFIT_USD", "10")
	minProfit, err := ParseUSD(minProfitText)
	if err != nil {
		return nil, fmt.Errorf("parse MIN_PROFIT_USD: %w", err)
	}

	prices, err := parsePriceTable(os.Getenv("STATIC_PRICES_USD"))
	if err != nil {
		return nil, fmt.Errorf("parse STATIC_PRICES_USD: %w", err)
	}

	walletKey := os.Getenv("ETH_WALLET_PRIVATE_KEY")

	cfg := &Config{
		// Application defaults
		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),
		HTTPPort: getEnvOrDefault("HTTP_PORT", "8080"),

		// Chain defaults
		ChainID:  chainID,
		Profile:  profile,
		RPCURL:   getEnvOrDefault("RPC_URL", profile.RPCURL),
		RelayURL: getEnvOrDefault("RELAY_URL", profile.RelayURL),

		WalletPrivateKey: walletKey,
		RelayAuthKey:     getEnvOrDefault("FLASHBOTS_AUTH_KEY", walletKey),

		// Discovery defaults
		PollInterval:     getDurationOrDefault("POLL_INTERVAL", 10*time.Second),
		DiscoverySource:  getEnvOrDefault("DISCOVERY_SOURCE", "api"),
		MorphoAPIURL:     getEnvOrDefault("MORPHO_API_URL", "https://blue-api.morpho.org/graphql"),
		WhitelistTTL:     getDurationOrDefault("WHITELIST_TTL", 300*time.Second),
		WatchPositions:   getListOrDefault("WATCH_POSITIONS", nil),
		StaticPricesUSD:  prices,
		RefreshOnChain:   getBoolOrDefault("REFRESH_ON_CHAIN", true),
		MaxPositionsPoll: getIntOrDefault("MAX_POSITIONS_PER_POLL", 500),

		// Swap defaults
		ParaSwapAPIURL:    getEnvOrDefault("PARASWAP_API_URL", "https://api.paraswap.io"),
		MaxSlippageBps:    getIntOrDefault("MAX_SLIPPAGE_BPS", 50),
		MaxPriceImpactPct: getFloat64OrDefault("MAX_PRICE_IMPACT_PCT", 2),
		FundingToken: TokenConfig{
			Address:  common.HexToAddress(getEnvOrDefault("FUNDING_TOKEN_ADDRESS", "0xA0b86991c6218b36c1d19d4a2E9Eb0cE3606eB48")),
			Decimals: uint8(getIntOrDefault("FUNDING_TOKEN_DECIMALS", 6)),
			Symbol:   getEnvOrDefault("FUNDING_TOKEN_SYMBOL", "USDC"),
		},
		PayoutToken: TokenConfig{
			Address:  common.HexToAddress(getEnvOrDefault("PAYOUT_TOKEN_ADDRESS", "0xA0b86991c6218b36c1d19d4a2E9Eb0cE3606eB48")),
			Decimals: uint8(getIntOrDefault("PAYOUT_TOKEN_DECIMALS", 6)),
			Symbol:   getEnvOrDefault("PAYOUT_TOKEN_SYMBOL", "USDC"),
		},

		// Profitability defaults
		MinProfitUSD:     minProfit,
		MinProfitUSDText: minProfitText,
		GasLimitBudget:   uint64(getInt64OrDefault("GAS_LIMIT_BUDGET", 1_200_000)),

		// Submission defaults
		PriorityFeeWei:        big.NewInt(getInt64OrDefault("PRIORITY_FEE_WEI", 1<<9)),
		FeeHeadroomBlocks:     getIntOrDefault("FEE_HEADROOM_BLOCKS", 1),
		TargetBlockOffsets:    getUint64ListOrDefault("TARGET_BLOCK_OFFSETS", DefaultTargetBlockOffsets),
		SubmissionWaitTimeout: getDurationOrDefault("SUBMISSION_WAIT_TIMEOUT", 5*time.Minute),

		// Gas guard defaults
		GasGuardEnabled:         getBoolOrDefault("GAS_GUARD_ENABLED", true),
		GasGuardCheckInterval:   getDurationOrDefault("GAS_GUARD_CHECK_INTERVAL", time.Minute),
		GasGuardMinNative:       getFloat64OrDefault("GAS_GUARD_MIN_NATIVE", 0.05),
		GasGuardSpendMultiplier: getFloat64OrDefault("GAS_GUARD_SPEND_MULTIPLIER", 3),
		GasGuardHysteresisRatio: getFloat64OrDefault("GAS_GUARD_HYSTERESIS_RATIO", 1.5),

		WalletPollInterval: getDurationOrDefault("WALLET_POLL_INTERVAL", 30*time.Second),

		// Cycle lock defaults
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		CycleLockTTL:  getDurationOrDefault("CYCLE_LOCK_TTL", 10*time.Minute),

		// Storage defaults
		StorageMode:  getEnvOrDefault("STORAGE_MODE", "console"),
		PostgresHost: getEnvOrDefault("POSTGRES_HOST", "localhost"),
		PostgresPort: getEnvOrDefault("POSTGRES_PORT", "5432"),
		PostgresUser: getEnvOrDefault("POSTGRES_USER", "liquidator"),
		PostgresPass: getEnvOrDefault("POSTGRES_PASSWORD", "liquidator"),
		PostgresDB:   getEnvOrDefault("POSTGRES_DB", "blue_liquidator"),
		PostgresSSL:  getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
	}

	err = cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks that configuration values are valid.
func (c *Config) Validate() error {
	if c.HTTPPort == "" {
		return fmt.Errorf("HTTP_PORT cannot be empty")
	}

	if c.RPCURL == "" {
		return fmt.Errorf("RPC_URL cannot be empty")
	}

	if c.RelayURL == "" {
		return fmt.Errorf("RELAY_URL cannot be empty")
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive, got %s", c.PollInterval)
	}

	if c.DiscoverySource != "api" && c.DiscoverySource != "onchain" {
		return fmt.Errorf("DISCOVERY_SOURCE must be 'api' or 'onchain', got %q", c.DiscoverySource)
	}

	if c.DiscoverySource == "onchain" && len(c.WatchPositions) == 0 {
		return fmt.Errorf("WATCH_POSITIONS cannot be empty when DISCOVERY_SOURCE is 'onchain'")
	}

	if c.MaxSlippageBps < 0 || c.MaxSlippageBps > 10000 {
		return fmt.Errorf("MAX_SLIPPAGE_BPS must be between 0 and 10000, got %d", c.MaxSlippageBps)
	}

	if c.MaxPriceImpactPct <= 0 || c.MaxPriceImpactPct > 100 {
		return fmt.Errorf("MAX_PRICE_IMPACT_PCT must be between 0 and 100, got %f", c.MaxPriceImpactPct)
	}

	if c.MinProfitUSD == nil || c.MinProfitUSD.Sign() < 0 {
		return fmt.Errorf("MIN_PROFIT_USD cannot be negative, got %q", c.MinProfitUSDText)
	}

	if c.GasLimitBudget == 0 {
		return fmt.Errorf("GAS_LIMIT_BUDGET must be positive")
	}

	if c.PriorityFeeWei == nil || c.PriorityFeeWei.Sign() < 0 {
		return fmt.Errorf("PRIORITY_FEE_WEI cannot be negative")
	}

	if c.FeeHeadroomBlocks < 0 {
		return fmt.Errorf("FEE_HEADROOM_BLOCKS cannot be negative, got %d", c.FeeHeadroomBlocks)
	}

	if len(c.TargetBlockOffsets) == 0 {
		return fmt.Errorf("TARGET_BLOCK_OFFSETS cannot be empty")
	}

	for _, offset := range c.TargetBlockOffsets {
		if offset == 0 {
			return fmt.Errorf("TARGET_BLOCK_OFFSETS must be positive")
		}
	}

	if c.SubmissionWaitTimeout <= 0 {
		return fmt.Errorf("SUBMISSION_WAIT_TIMEOUT must be positive, got %s", c.SubmissionWaitTimeout)
	}

	if c.GasGuardEnabled && (c.GasGuardMinNative <= 0 || c.GasGuardSpendMultiplier <= 0) {
		return fmt.Errorf("GAS_GUARD_MIN_NATIVE and GAS_GUARD_SPEND_MULTIPLIER must be positive")
	}

	if c.GasGuardEnabled && c.GasGuardHysteresisRatio < 1.0 {
		return fmt.Errorf("GAS_GUARD_HYSTERESIS_RATIO must be >= 1.0, got %f", c.GasGuardHysteresisRatio)
	}

	if c.WalletPollInterval <= 0 {
		return fmt.Errorf("WALLET_POLL_INTERVAL must be positive, got %s", c.WalletPollInterval)
	}

	if c.RedisAddr != "" && c.CycleLockTTL < c.SubmissionWaitTimeout+CycleLockMargin {
		return fmt.Errorf("CYCLE_LOCK_TTL must be at least SUBMISSION_WAIT_TIMEOUT + %s, got %s for a %s wait",
			CycleLockMargin, c.CycleLockTTL, c.SubmissionWaitTimeout)
	}

	if c.StorageMode != "console" && c.StorageMode != "postgres" {
		return fmt.Errorf("STORAGE_MODE must be 'console' or 'postgres', got %q", c.StorageMode)
	}

	return nil
}

// ParseUSD converts a decimal USD amount such as "12.5" into a 1e18-scaled integer.
func ParseUSD(value string) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return nil, fmt.Errorf("invalid decimal %q: %w", value, err)
	}
	return d.Shift(18).BigInt(), nil
}

// parsePriceTable reads "0xToken=1.00,0xOther=2500" into a price map.
func parsePriceTable(value string) (map[common.Address]*big.Int, error) {
	prices := make(map[common.Address]*big.Int)
	if strings.TrimSpace(value) == "" {
		return prices, nil
	}

	for _, entry := range strings.Split(value, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), "=", 2)
		if len(parts) != 2 || !common.IsHexAddress(parts[0]) {
			return nil, fmt.Errorf("invalid price entry %q", entry)
		}

		price, err := ParseUSD(parts[1])
		if err != nil {
			return nil, err
		}
		prices[common.HexToAddress(parts[0])] = price
	}

	return prices, nil
}

func getEnvOrDefault(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getInt64OrDefault(key string, defaultValue int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intVal, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getFloat64OrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	floatVal, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}

	return floatVal
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	boolVal, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}

	return boolVal
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}

	return duration
}

func getListOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var items []string
	for _, item := range strings.Split(value, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			items = append(items, item)
		}
	}

	return items
}

func getUint64ListOrDefault(key string, defaultValue []uint64) []uint64 {
	items := getListOrDefault(key, nil)
	if len(items) == 0 {
		return defaultValue
	}

	values := make([]uint64, 0, len(items))
	for _, item := range items {
		v, err := strconv.ParseUint(item, 10, 64)
		if err != nil {
			return defaultValue
		}
		values = append(values, v)
	}

	return values
}
