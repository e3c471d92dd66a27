package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/efisher/reviewflow/internal/domain/model"
	"github.com/efisher/reviewflow/internal/domain/port/driven"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// webhookResponse is the acknowledgement body for webhook deliveries.
type webhookResponse struct {
	Status         string `json:"status"` // "accepted", "ignored", or "duplicate".
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// InlineCommentResponse is the JSON representation of one inline comment.
type InlineCommentResponse struct {
	Path     string `json:"path"`
	Position int    `json:"position"`
	Body     string `json:"body"`
}

// ResultResponse is the JSON representation of a stored review result.
type ResultResponse struct {
	IdempotencyKey string                  `json:"idempotency_key"`
	Repository     string                  `json:"repository"`
	PRNumber       int                     `json:"pr_number"`
	HeadSHA        string                  `json:"head_sha"`
	ModeUsed       string                  `json:"mode_used"`
	Degraded       bool                    `json:"degraded"`
	Summary        string                  `json:"summary"`
	InlineComments []InlineCommentResponse `json:"inline_comments"`
	UnmappedCount  int                     `json:"unmapped_count"`
	NotReviewed    []string                `json:"not_reviewed"`
	CreatedAt      string                  `json:"created_at"`
}

// toResultResponse converts a domain review result to its JSON representation.
func toResultResponse(result model.ReviewResult) ResultResponse {
	comments := make([]InlineCommentResponse, 0, len(result.InlineComments))
	for _, c := range result.InlineComments {
		comments = append(comments, InlineCommentResponse{
			Path:     c.Path,
			Position: c.Position,
			Body:     c.Body,
		})
	}

	notReviewed := result.NotReviewed
	if notReviewed == nil {
		notReviewed = []string{}
	}

	return ResultResponse{
		IdempotencyKey: result.IdempotencyKey,
		Repository:     result.Repo,
		PRNumber:       result.PRNumber,
		HeadSHA:        result.HeadSHA,
		ModeUsed:       string(result.ModeUsed),
		Degraded:       result.Degraded,
		Summary:        result.SummaryText,
		InlineComments: comments,
		UnmappedCount:  result.UnmappedCount,
		NotReviewed:    notReviewed,
		CreatedAt:      result.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// DeadLetterResponse is the JSON representation of a dead-lettered message.
type DeadLetterResponse struct {
	ID             string `json:"id"`
	Queue          string `json:"queue"`
	IdempotencyKey string `json:"idempotency_key"`
	Repository     string `json:"repository"`
	PRNumber       int    `json:"pr_number"`
	HeadSHA        string `json:"head_sha"`
	Reason         string `json:"reason"`
	ReceiveCount   int    `json:"receive_count"`
	FailedAt       string `json:"failed_at"`
}

// toDeadLetterResponse converts a dead letter to its JSON representation.
func toDeadLetterResponse(dl driven.DeadLetter) DeadLetterResponse {
	return DeadLetterResponse{
		ID:             dl.ID,
		Queue:          dl.Queue,
		IdempotencyKey: dl.Message.IdempotencyKey,
		Repository:     dl.Message.Repo,
		PRNumber:       dl.Message.PRNumber,
		HeadSHA:        dl.Message.HeadSHA,
		Reason:         dl.Reason,
		ReceiveCount:   dl.ReceiveCount,
		FailedAt:       dl.FailedAt.UTC().Format(time.RFC3339),
	}
}
