package storage

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/mselser95/blue-liquidator/pkg/types"
	"go.uber.org/zap"
)

func testResult(status types.PositionStatus) *types.PositionResult {
	return &types.PositionResult{
		Borrower:     common.HexToAddress("0x00000000000000000000000000000000000000b0"),
		MarketID:     common.HexToHash("0x01"),
		Status:       status,
		Reason:       "insufficient profit",
		NetProfitUSD: "-10.00",
		EvaluatedAt:  time.Unix(1_700_000_000, 0),
	}
}

func TestConsoleStorage_StoreResult(t *testing.T) {
	var buf bytes.Buffer
	storage := &ConsoleStorage{out: &buf, logger: zap.NewNop()}

	err := storage.StoreResult(context.Background(), "0123456789abcdef", testResult(types.StatusNotProfitable))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	output := buf.String()
	for _, want := range []string{"NOT_PROFITABLE", "insufficient profit", "$-10.00", "cycle=01234567"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, output)
		}
	}
}

func TestConsoleStorage_Close(t *testing.T) {
	storage := NewConsoleStorage(zap.NewNop())

	if err := storage.Close(); err != nil {
		t.Errorf("expected no error on close, got %v", err)
	}
}

func TestPostgresStorage_StoreResult(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	storage := &PostgresStorage{db: db, logger: zap.NewNop()}
	result := testResult(types.StatusLiquidated)
	result.Reason = ""
	result.NetProfitUSD = "15.00"
	result.IncludedBlock = 101

	mock.ExpectExec("INSERT INTO liquidation_results").
		WithArgs(
			sqlmock.AnyArg(), // id
			"cycle-1",
			result.Borrower.Hex(),
			result.MarketID.Hex(),
			"LIQUIDATED",
			"",
			sql.NullString{String: "15.00", Valid: true},
			sql.NullInt64{Int64: 101, Valid: true},
			result.EvaluatedAt,
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = storage.StoreResult(context.Background(), "cycle-1", result)
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresStorage_StoreResultNulls(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	storage := &PostgresStorage{db: db, logger: zap.NewNop()}
	result := testResult(types.StatusFailed)
	result.NetProfitUSD = ""

	mock.ExpectExec("INSERT INTO liquidation_results").
		WithArgs(
			sqlmock.AnyArg(), "cycle-2", sqlmock.AnyArg(), sqlmock.AnyArg(), "FAILED",
			"insufficient profit", sql.NullString{}, sql.NullInt64{}, sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := storage.StoreResult(context.Background(), "cycle-2", result); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresStorage_StoreResultError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	storage := &PostgresStorage{db: db, logger: zap.NewNop()}

	mock.ExpectExec("INSERT INTO liquidation_results").
		WillReturnError(errors.New("connection reset"))

	err = storage.StoreResult(context.Background(), "cycle-3", testResult(types.StatusFailed))
	if err == nil || !strings.Contains(err.Error(), "insert result") {
		t.Errorf("expected wrapped insert error, got %v", err)
	}
}

func TestPostgresStorage_EnsureSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	storage := &PostgresStorage{db: db, logger: zap.NewNop()}

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS liquidation_results")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := storage.EnsureSchema(context.Background()); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresStorage_Close(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	mock.ExpectClose()

	storage := &PostgresStorage{db: db, logger: zap.NewNop()}
	if err := storage.Close(); err != nil {
		t.Errorf("expected no error on close, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
