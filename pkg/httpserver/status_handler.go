package httpserver

import (
	"net/http"

	"github.com/goccy/go-json"
	"github.com/mselser95/blue-liquidator/internal/circuitbreaker"
	"github.com/mselser95/blue-liquidator/pkg/wallet"
	"go.uber.org/zap"
)

// WalletSource exposes the last wallet snapshot.
type WalletSource interface {
	Last() *wallet.Snapshot
}

// GuardSource exposes the gas guard state.
type GuardSource interface {
	GetStatus() circuitbreaker.Status
}

// StatusResponse is the body of GET /api/status. Sections are omitted when
// the component is disabled or has not reported yet.
type StatusResponse struct {
	Wallet   *wallet.Snapshot       `json:"wallet,omitempty"`
	GasGuard *circuitbreaker.Status `json:"gas_guard,omitempty"`
}

// StatusHandler serves the wallet and gas guard state.
type StatusHandler struct {
	wallet WalletSource
	guard  GuardSource
	logger *zap.Logger
}

// NewStatusHandler creates a status handler. Either source may be nil.
func NewStatusHandler(w WalletSource, g GuardSource, logger *zap.Logger) *StatusHandler {
	return &StatusHandler{wallet: w, guard: g, logger: logger}
}

// HandleStatus handles GET /api/status.
func (h *StatusHandler) HandleStatus(w http.ResponseWriter, _ *http.Request) {
	var resp StatusResponse
	if h.wallet != nil {
		resp.Wallet = h.wallet.Last()
	}
	if h.guard != nil {
		status := h.guard.GetStatus()
		resp.GasGuard = &status
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	err := json.NewEncoder(w).Encode(resp)
	if err != nil {
		h.logger.Error("status-encode-failed", zap.Error(err))
	}
}
