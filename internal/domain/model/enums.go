package model

import "fmt"

// CommentMode controls how review findings are delivered to the pull request.
type CommentMode string

const (
	// ModeSummaryOnly folds every finding into a single summary comment.
	ModeSummaryOnly CommentMode = "summary_only"
	// ModeInlineBestEffort places findings inline where possible and demotes
	// the rest to the summary.
	ModeInlineBestEffort CommentMode = "inline_best_effort"
	// ModeStrictInline places findings inline only if every finding maps to a
	// diff position; otherwise the whole result degrades to summary-only.
	ModeStrictInline CommentMode = "strict_inline"
)

// ParseCommentMode validates a configured comment mode string.
func ParseCommentMode(s string) (CommentMode, error) {
	switch CommentMode(s) {
	case ModeSummaryOnly, ModeInlineBestEffort, ModeStrictInline:
		return CommentMode(s), nil
	}
	return "", fmt.Errorf("invalid comment mode %q: expected summary_only, inline_best_effort, or strict_inline", s)
}

// LedgerState is the processing state of an idempotency record.
type LedgerState string

const (
	LedgerPending LedgerState = "pending"
	LedgerDone    LedgerState = "done"
	LedgerFailed  LedgerState = "failed"
)

// PlacementOutcome describes what the placement engine did with one finding.
type PlacementOutcome string

const (
	PlacementPlaced  PlacementOutcome = "placed"
	PlacementDropped PlacementOutcome = "dropped"
	PlacementDemoted PlacementOutcome = "demoted_to_summary"
)

// Severity classifies how serious a review finding is.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityMajor    Severity = "major"
	SeverityMinor    Severity = "minor"
	SeverityInfo     Severity = "info"
)

// NormalizeSeverity maps free-form model output onto a known severity,
// defaulting to info for anything unrecognized.
func NormalizeSeverity(s string) Severity {
	switch Severity(s) {
	case SeverityCritical, SeverityMajor, SeverityMinor, SeverityInfo:
		return Severity(s)
	}
	return SeverityInfo
}

// SeverityRank orders severities for summary grouping, most serious first.
func SeverityRank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityMajor:
		return 1
	case SeverityMinor:
		return 2
	default:
		return 3
	}
}
