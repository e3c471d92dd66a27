package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// InboundEvent is a verified, filtered webhook delivery. It is created at the
// ingress, used to derive the idempotency key and the queue message, and
// discarded after enqueue.
type InboundEvent struct {
	SourceID   string // Delivery ID assigned by the sending platform.
	EventType  string // e.g. "pull_request.opened", "pull_request.synchronize".
	Repo       string // "owner/repo".
	PRNumber   int
	HeadSHA    string
	Title      string
	Branch     string
	Body       string
	RawPayload []byte
}

// IdempotencyKey derives the deterministic processing key for this event.
// Two deliveries describing the same PR state transition (same repo, number,
// head SHA, and event type) always produce the same key, which is what lets
// the ledger collapse redeliveries into a single processed review.
func (e InboundEvent) IdempotencyKey() string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s#%d@%s:%s", e.Repo, e.PRNumber, e.HeadSHA, e.EventType))
	return hex.EncodeToString(sum[:])
}
