package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/wooai/wooai/internal/chart"
	"github.com/wooai/wooai/internal/query"
)

type convertChartRequest struct {
	Config chart.Config  `json:"config"`
	Target string        `json:"target"`
	Data   []query.Row   `json:"data"`
	Intent *chart.Intent `json:"intent"`
}

func handleConvertChart(w http.ResponseWriter, r *http.Request) {
	if _, err := tenantFromRequest(r); err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "TENANT_REQUIRED", err.Error(), false, nil)
		return
	}

	var req convertChartRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid chart conversion body", false, map[string]any{"details": err.Error()})
		return
	}
	target, err := chart.ParseType(req.Target)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "UNKNOWN_CHART_TYPE", err.Error(), false, nil)
		return
	}

	var result *query.Result
	if req.Data != nil {
		result = &query.Result{Rows: req.Data}
	}
	converted, err := chart.Convert(req.Config, target, result, req.Intent)
	if errors.Is(err, chart.ErrInsufficientShape) {
		writeError(r.Context(), w, http.StatusUnprocessableEntity, "INSUFFICIENT_SHAPE", "the data cannot be shown as that chart type", false, nil)
		return
	}
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "CONVERSION_FAILED", err.Error(), false, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"config":  converted,
	})
}
