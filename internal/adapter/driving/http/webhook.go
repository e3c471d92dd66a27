package httphandler

import (
	"io"
	"net/http"
	"time"

	gh "github.com/google/go-github/v82/github"

	"github.com/efisher/reviewflow/internal/application"
	"github.com/efisher/reviewflow/internal/domain/model"
	"github.com/efisher/reviewflow/internal/domain/port/driven"
)

// maxWebhookBytes bounds webhook payload size before signature verification.
const maxWebhookBytes = 1 << 20

// Webhook is the ingress for pull request events. It verifies the HMAC
// signature, filters to the actions that trigger a review, short-circuits
// deliveries whose review already completed, and enqueues the rest.
//
// The endpoint stays stateless: a delivery not yet marked done is always
// enqueued, and the worker-side ledger collapses any duplicates that slip
// through. 500 is returned only when the enqueue itself fails, so the sender
// redelivers.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBytes)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable payload")
		return
	}

	signature := r.Header.Get(gh.SHA256SignatureHeader)
	if err := gh.ValidateSignature(signature, payload, h.webhookSecret); err != nil {
		h.logger.Warn("webhook signature rejected",
			"delivery_id", gh.DeliveryID(r),
			"remote_addr", r.RemoteAddr,
		)
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	eventType := gh.WebHookType(r)
	if eventType != "pull_request" {
		writeJSON(w, http.StatusOK, webhookResponse{Status: "ignored"})
		return
	}

	parsed, err := gh.ParseWebHook(eventType, payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed payload")
		return
	}
	prEvent, ok := parsed.(*gh.PullRequestEvent)
	if !ok {
		writeJSON(w, http.StatusOK, webhookResponse{Status: "ignored"})
		return
	}

	action := prEvent.GetAction()
	pr := prEvent.GetPullRequest()
	if !supportedActions[action] || pr.GetDraft() {
		writeJSON(w, http.StatusOK, webhookResponse{Status: "ignored"})
		return
	}

	event := model.InboundEvent{
		SourceID:   gh.DeliveryID(r),
		EventType:  eventFromAction(action),
		Repo:       prEvent.GetRepo().GetFullName(),
		PRNumber:   prEvent.GetNumber(),
		HeadSHA:    pr.GetHead().GetSHA(),
		Title:      pr.GetTitle(),
		Branch:     pr.GetHead().GetRef(),
		Body:       pr.GetBody(),
		RawPayload: payload,
	}
	if event.Repo == "" || event.PRNumber == 0 || event.HeadSHA == "" {
		writeError(w, http.StatusBadRequest, "missing pull request data")
		return
	}

	key := event.IdempotencyKey()

	state, found, err := h.ledger.Get(r.Context(), key)
	if err != nil {
		// Dedup here is an optimization; the worker-side ledger is the
		// authority. Enqueue anyway.
		h.logger.Warn("ledger lookup failed at ingress", "key", key, "error", err)
	} else if found && state == model.LedgerDone {
		h.logger.Info("duplicate delivery for processed event",
			"delivery_id", event.SourceID,
			"repo", event.Repo,
			"pr_number", event.PRNumber,
		)
		writeJSON(w, http.StatusOK, webhookResponse{Status: "duplicate", IdempotencyKey: key})
		return
	}

	msg := driven.QueueMessage{
		IdempotencyKey: key,
		Repo:           event.Repo,
		PRNumber:       event.PRNumber,
		HeadSHA:        event.HeadSHA,
		EventType:      event.EventType,
		EnqueuedAt:     time.Now().UTC(),
	}
	if err := h.queue.Enqueue(r.Context(), application.QueueReviews, msg); err != nil {
		h.logger.Error("enqueue failed", "key", key, "error", err)
		writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}

	h.logger.Info("review event accepted",
		"delivery_id", event.SourceID,
		"repo", event.Repo,
		"pr_number", event.PRNumber,
		"head_sha", event.HeadSHA,
		"event_type", event.EventType,
	)
	writeJSON(w, http.StatusAccepted, webhookResponse{Status: "accepted", IdempotencyKey: key})
}
