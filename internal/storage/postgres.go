package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/mselser95/blue-liquidator/pkg/types"
	"go.uber.org/zap"
)

// Schema creates the results table when it does not exist.
const Schema = `
CREATE TABLE IF NOT EXISTS liquidation_results (
	id             UUID PRIMARY KEY,
	cycle_id       TEXT        NOT NULL,
	borrower       TEXT        NOT NULL,
	market_id      TEXT        NOT NULL,
	status         TEXT        NOT NULL,
	reason         TEXT        NOT NULL DEFAULT '',
	net_profit_usd NUMERIC,
	included_block BIGINT,
	evaluated_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS liquidation_results_borrower_idx ON liquidation_results (borrower, market_id);
`

// PostgresStorage implements Storage using PostgreSQL.
type PostgresStorage struct {
	db     *sql.DB
	logger *zap.Logger
}

// PostgresConfig holds PostgreSQL configuration.
type PostgresConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
	SSLMode  string
	Logger   *zap.Logger
}

// NewPostgresStorage connects to PostgreSQL and ensures the schema exists.
func NewPostgresStorage(ctx context.Context, cfg *PostgresConfig) (*PostgresStorage, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.PingContext(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	storage := &PostgresStorage{
		db:     db,
		logger: cfg.Logger,
	}

	err = storage.EnsureSchema(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}

	cfg.Logger.Info("postgres-storage-connected",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database))

	return storage, nil
}

// EnsureSchema creates the results table if needed.
func (p *PostgresStorage) EnsureSchema(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, Schema)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// StoreResult inserts one position result.
func (p *PostgresStorage) StoreResult(ctx context.Context, cycleID string, result *types.PositionResult) error {
	query := `
		INSERT INTO liquidation_results (
			id, cycle_id, borrower, market_id, status, reason,
			net_profit_usd, included_block, evaluated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	var netProfit sql.NullString
	if result.NetProfitUSD != "" {
		netProfit = sql.NullString{String: result.NetProfitUSD, Valid: true}
	}

	var includedBlock sql.NullInt64
	if result.IncludedBlock != 0 {
		includedBlock = sql.NullInt64{Int64: int64(result.IncludedBlock), Valid: true}
	}

	id := uuid.New().String()

	_, err := p.db.ExecContext(ctx, query,
		id,
		cycleID,
		result.Borrower.Hex(),
		result.MarketID.Hex(),
		string(result.Status),
		result.Reason,
		netProfit,
		includedBlock,
		result.EvaluatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}

	p.logger.Debug("result-stored",
		zap.String("result-id", id),
		zap.String("borrower", result.Borrower.Hex()),
		zap.String("status", string(result.Status)))

	return nil
}

// Close closes the database connection.
func (p *PostgresStorage) Close() error {
	p.logger.Info("closing-postgres-storage")
	return p.db.Close()
}
