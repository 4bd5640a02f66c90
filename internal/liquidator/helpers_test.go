package liquidator

import (
	"testing"

	"github.com/mselser95/blue-liquidator/internal/testutil"
	"github.com/mselser95/blue-liquidator/pkg/wallet"
	"go.uber.org/zap"
)

func mustWallet(t *testing.T, backend *testutil.MockChain) *wallet.Client {
	t.Helper()

	client, err := wallet.NewClient(backend, testutil.DAIAddress, zap.NewNop())
	if err != nil {
		t.Fatalf("wallet client: %v", err)
	}
	return client
}
