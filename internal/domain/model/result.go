package model

import "time"

// InlineComment is one resolved inline comment addressed by diff position.
type InlineComment struct {
	Path     string
	Position int // Position ordinal within the file's diff, platform convention.
	Body     string
}

// PlacementDecision records what the placement engine decided for one finding.
type PlacementDecision struct {
	Finding  ReviewFinding
	Position int // Resolved position ordinal; 0 when not placed.
	Outcome  PlacementOutcome
}

// ReviewResult is the aggregate output of one processed event. It is created
// once per successfully processed event and never mutated after publish.
type ReviewResult struct {
	IdempotencyKey string
	Repo           string
	PRNumber       int
	HeadSHA        string
	SummaryText    string
	InlineComments []InlineComment
	Decisions      []PlacementDecision
	UnmappedCount  int
	NotReviewed    []string // Files skipped under the file/byte budget.
	ModeUsed       CommentMode
	Degraded       bool // True when strict_inline fell back to summary-only.
	CreatedAt      time.Time
}
