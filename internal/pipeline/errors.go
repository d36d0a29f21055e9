package pipeline

import (
	"fmt"
	"net/http"
	"time"
)

// Kind classifies every way a question can fail. Each failure maps to
// exactly one kind.
type Kind string

const (
	KindRateLimitExceeded         Kind = "RateLimitExceeded"
	KindTranslationUnavailable    Kind = "TranslationUnavailable"
	KindMalformedModelOutput      Kind = "MalformedModelOutput"
	KindNotReadOnly               Kind = "NotReadOnly"
	KindMultipleStatements        Kind = "MultipleStatements"
	KindMissingTenantScope        Kind = "MissingTenantScope"
	KindQueryTimeout              Kind = "QueryTimeout"
	KindExecutionPermissionDenied Kind = "ExecutionPermissionDenied"
	KindConversationNotFound      Kind = "ConversationNotFound"
	KindInternalError             Kind = "InternalError"
)

func (k Kind) HTTPStatus() int {
	switch k {
	case KindRateLimitExceeded:
		return http.StatusTooManyRequests
	case KindTranslationUnavailable, KindMalformedModelOutput:
		return http.StatusBadGateway
	case KindNotReadOnly, KindMultipleStatements, KindMissingTenantScope:
		return http.StatusUnprocessableEntity
	case KindQueryTimeout:
		return http.StatusGatewayTimeout
	case KindConversationNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Message is the text shown to the store owner. It never reveals the
// generated query or the underlying cause.
func (k Kind) Message() string {
	switch k {
	case KindRateLimitExceeded:
		return "You have reached your question limit. Please try again later."
	case KindTranslationUnavailable:
		return "The assistant is temporarily unavailable. Please try again."
	case KindMalformedModelOutput:
		return "The assistant could not understand that question. Try rephrasing it."
	case KindNotReadOnly, KindMultipleStatements, KindMissingTenantScope:
		return "That question cannot be answered safely. Try rephrasing it."
	case KindQueryTimeout:
		return "That question took too long to answer. Try narrowing it down."
	case KindConversationNotFound:
		return "Conversation not found."
	default:
		return "Something went wrong while answering your question."
	}
}

// Error is a failed question. Err is kept for logs only.
type Error struct {
	Kind       Kind
	Stage      string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Stage, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func fail(stage string, kind Kind, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Err: err}
}
