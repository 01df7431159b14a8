package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/wgomg/pulsegen/internal/feedback"
	"github.com/wgomg/pulsegen/internal/pipeline"
	"github.com/wgomg/pulsegen/internal/trends"
	"github.com/wgomg/pulsegen/internal/utils"
	"github.com/wgomg/pulsegen/internal/utils/httputils"
)

const serviceName = "PulseGen Backend"

// Analyzer builds a trend report for an app over a set of dates.
type Analyzer interface {
	Analyze(ctx context.Context, appName string, dates []string) (*pipeline.Report, error)
}

// HealthChecker reports whether a backend the analysis depends on is usable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type Handler struct {
	logger   *utils.Logger
	analyzer Analyzer
	checker  HealthChecker
}

// NewHandler builds the handler. checker may be nil.
func NewHandler(logger *utils.Logger, analyzer Analyzer, checker HealthChecker) *Handler {
	return &Handler{
		logger:   logger,
		analyzer: analyzer,
		checker:  checker,
	}
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if h.checker != nil {
		if err := h.checker.HealthCheck(r.Context()); err != nil {
			reqID := utils.RequestID(r.Context())
			h.logger.Warn(&reqID, "Health check failed: %v", err)
			httputils.JSONResponse(w, http.StatusServiceUnavailable, HealthResponse{
				Status:  "degraded",
				Service: serviceName,
				Error:   err.Error(),
			})
			return
		}
	}
	httputils.JSONResponse(w, http.StatusOK, HealthResponse{Status: "ok", Service: serviceName})
}

func (h *Handler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	reqID := utils.RequestID(r.Context())

	report, err := h.analyze(r)
	if err != nil {
		h.logger.Error(&reqID, "Analysis failed: %v", err)
		httputils.HandleError(w, err)
		return
	}

	if err := httputils.JSONResponse(w, http.StatusOK, report); err != nil {
		h.logger.Error(&reqID, "Error sending response: %v", err)
	}
}

func (h *Handler) HandleAnalyzeCSV(w http.ResponseWriter, r *http.Request) {
	reqID := utils.RequestID(r.Context())

	report, err := h.analyze(r)
	if err != nil {
		h.logger.Error(&reqID, "Analysis failed: %v", err)
		httputils.HandleError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="trend_analysis.csv"`)
	if err := trends.WriteCSV(w, report.TrendResult()); err != nil {
		h.logger.Error(&reqID, "Error writing CSV: %v", err)
	}
}

// analyze decodes the request and runs the analysis. Returned errors are
// ready for httputils.HandleError.
func (h *Handler) analyze(r *http.Request) (*pipeline.Report, error) {
	reqID := utils.RequestID(r.Context())

	if _, err := httputils.LogRequestBody(r, h.logger, reqID); err != nil {
		return nil, httputils.NewHTTPError(http.StatusBadRequest, "Failed to read request body")
	}

	var req AnalyzeRequest
	if err := httputils.DecodeJSON(r, &req); err != nil {
		return nil, err
	}

	h.logger.Info(&reqID, "Received analysis request: app=%s, dates=%v", req.AppName, req.Dates)

	if req.AppName == mockAppName {
		return mockReport(req.Dates), nil
	}

	report, err := h.analyzer.Analyze(r.Context(), req.AppName, req.Dates)
	if errors.Is(err, feedback.ErrAppNotFound) {
		return nil, httputils.NewHTTPError(http.StatusNotFound, fmt.Sprintf("App '%s' not found.", req.AppName))
	}
	if err != nil {
		return nil, err
	}
	return report, nil
}
