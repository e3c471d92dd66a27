// Package httphandler is the HTTP driving adapter: webhook ingress plus the
// small operator API for results, dead letters, and health.
package httphandler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/efisher/reviewflow/internal/domain/port/driven"
)

// Handler is the HTTP driving adapter that serves the webhook and REST API.
type Handler struct {
	queue         driven.WorkQueue
	ledger        driven.IdempotencyLedger
	results       driven.ResultStore
	deadLetters   driven.DeadLetterStore
	webhookSecret []byte
	logger        *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(
	queue driven.WorkQueue,
	ledger driven.IdempotencyLedger,
	results driven.ResultStore,
	deadLetters driven.DeadLetterStore,
	webhookSecret []byte,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		queue:         queue,
		ledger:        ledger,
		results:       results,
		deadLetters:   deadLetters,
		webhookSecret: webhookSecret,
		logger:        logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /webhook", h.Webhook)
	mux.HandleFunc("GET /api/v1/repos/{owner}/{repo}/results/{number}", h.GetResults)
	mux.HandleFunc("GET /api/v1/deadletters", h.ListDeadLetters)
	mux.HandleFunc("GET /api/v1/health", h.Health)

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// GetResults returns the stored review results for a pull request, newest first.
func (h *Handler) GetResults(w http.ResponseWriter, r *http.Request) {
	owner := r.PathValue("owner")
	repo := r.PathValue("repo")
	numberStr := r.PathValue("number")

	number, err := strconv.Atoi(numberStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid PR number")
		return
	}

	repoFullName := owner + "/" + repo

	results, err := h.results.GetByPR(r.Context(), repoFullName, number)
	if err != nil {
		h.logger.Error("failed to list results", "repo", repoFullName, "number", number, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]ResultResponse, 0, len(results))
	for _, result := range results {
		resp = append(resp, toResultResponse(result))
	}

	writeJSON(w, http.StatusOK, resp)
}

// ListDeadLetters returns every dead-lettered message for operator triage.
func (h *Handler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	letters, err := h.deadLetters.ListDeadLetters(r.Context())
	if err != nil {
		h.logger.Error("failed to list dead letters", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]DeadLetterResponse, 0, len(letters))
	for _, dl := range letters {
		resp = append(resp, toDeadLetterResponse(dl))
	}

	writeJSON(w, http.StatusOK, resp)
}

// Health reports service liveness and a storage probe.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK

	// The ledger read doubles as a database reachability probe.
	if _, _, err := h.ledger.Get(r.Context(), "health-probe"); err != nil {
		h.logger.Error("health probe failed", "error", err)
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]string{"status": status})
}

// supportedActions are the pull request actions that trigger a review.
var supportedActions = map[string]bool{
	"opened":           true,
	"synchronize":      true,
	"reopened":         true,
	"ready_for_review": true,
}

// eventFromAction builds the domain event type string, e.g. "pull_request.opened".
func eventFromAction(action string) string {
	return "pull_request." + action
}
