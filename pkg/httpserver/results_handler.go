package httpserver

import (
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/mselser95/blue-liquidator/internal/liquidator"
	"github.com/mselser95/blue-liquidator/pkg/types"
	"go.uber.org/zap"
)

// ReportSource exposes the most recent cycle report.
type ReportSource interface {
	LastReport() *liquidator.CycleReport
}

// ResultsHandler serves the per-position results of the last cycle.
type ResultsHandler struct {
	reports ReportSource
	logger  *zap.Logger
}

// NewResultsHandler creates a new results handler.
func NewResultsHandler(reports ReportSource, logger *zap.Logger) *ResultsHandler {
	return &ResultsHandler{
		reports: reports,
		logger:  logger,
	}
}

// ErrorResponse represents an HTTP error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HandleResults handles GET /api/results?status=<STATUS> requests.
func (h *ResultsHandler) HandleResults(w http.ResponseWriter, r *http.Request) {
	report := h.reports.LastReport()
	if report == nil {
		h.writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "no cycle has completed yet"})
		return
	}

	status := types.PositionStatus(strings.ToUpper(r.URL.Query().Get("status")))
	switch status {
	case "":
		h.writeJSON(w, http.StatusOK, report)
		return
	case types.StatusLiquidated, types.StatusNotProfitable, types.StatusFailed:
	default:
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "unknown status: " + string(status)})
		return
	}

	filtered := *report
	filtered.Results = make([]types.PositionResult, 0, len(report.Results))
	for _, result := range report.Results {
		if result.Status == status {
			filtered.Results = append(filtered.Results, result)
		}
	}

	h.writeJSON(w, http.StatusOK, &filtered)
}

func (h *ResultsHandler) writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	err := json.NewEncoder(w).Encode(body)
	if err != nil {
		h.logger.Error("failed-to-encode-response", zap.Error(err))
	}
}
