package api

import (
	"errors"
	"net/http"

	"github.com/wooai/wooai/internal/conversation"
)

func handleGetConversation(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Conversations == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CONVERSATIONS_NOT_CONFIGURED", "conversation store is not configured", false, nil)
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

	conv, err := deps.Conversations.Get(r.Context(), tenantID, r.PathValue("id"))
	if errors.Is(err, conversation.ErrNotFound) {
		writeError(r.Context(), w, http.StatusNotFound, "CONVERSATION_NOT_FOUND", "conversation not found", false, nil)
		return
	}
	if err != nil {
		if deps.Logger != nil {
			deps.Logger.ErrorContext(r.Context(), "load conversation failed", "tenant_id", tenantID, "error", err)
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "CONVERSATION_FETCH_FAILED", "failed to load conversation", true, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"conversation": conv,
	})
}
