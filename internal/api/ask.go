package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/wooai/wooai/internal/pipeline"
)

const maxQuestionLength = 2000

type askRequest struct {
	Question       string `json:"question"`
	ConversationID string `json:"conversation_id"`
}

type askResponse struct {
	Success bool `json:"success"`
	pipeline.Answer
}

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ASK_NOT_CONFIGURED", "question answering is not configured", false, nil)
		return
	}

	tenantID, err := tenantFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "TENANT_REQUIRED", err.Error(), false, nil)
		return
	}
	if err := requireRole(r, "query_reader"); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var req askRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid ask request body", false, map[string]any{"details": err.Error()})
		return
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}
	if utf8.RuneCountInString(question) > maxQuestionLength {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_TOO_LONG", "question must be at most 2000 characters", false, nil)
		return
	}

	answer, err := deps.Pipeline.Ask(r.Context(), pipeline.Question{
		TenantID:       tenantID,
		Tier:           tierFromRequest(r),
		Text:           question,
		ConversationID: strings.TrimSpace(req.ConversationID),
	})
	if err != nil {
		writePipelineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, askResponse{Success: true, Answer: answer})
}

func writePipelineError(w http.ResponseWriter, r *http.Request, err error) {
	var pipeErr *pipeline.Error
	if !errors.As(err, &pipeErr) {
		writeError(r.Context(), w, http.StatusInternalServerError, string(pipeline.KindInternalError), pipeline.KindInternalError.Message(), false, nil)
		return
	}

	var extra map[string]any
	retryable := false
	switch pipeErr.Kind {
	case pipeline.KindRateLimitExceeded:
		seconds := int(math.Ceil(pipeErr.RetryAfter.Seconds()))
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		extra = map[string]any{"retryAfter": seconds}
		retryable = true
	case pipeline.KindTranslationUnavailable, pipeline.KindQueryTimeout:
		retryable = true
	}
	writeError(r.Context(), w, pipeErr.Kind.HTTPStatus(), string(pipeErr.Kind), pipeErr.Kind.Message(), retryable, extra)
}
