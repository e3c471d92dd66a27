// Package placement decides, per configured comment mode, which review
// findings become inline comments and which fold into the summary.
//
// The engine is a pure function over its inputs: findings, the per-file diff
// position indexes, and the files skipped under budget. It performs no I/O
// and requires no locking.
package placement

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/efisher/reviewflow/internal/diffmap"
	"github.com/efisher/reviewflow/internal/domain/model"
)

// Decide resolves each finding against the position indexes and assembles the
// ReviewResult for the given mode.
//
// summary_only never attempts inline placement. inline_best_effort places
// what it can and demotes the rest with an explicit note. strict_inline is
// all-or-nothing: a single unmappable finding degrades the entire result to
// summary-only, flagged as degraded so the applied mode stays observable.
func Decide(mode model.CommentMode, findings []model.ReviewFinding, indexes map[string]*diffmap.FileIndex, notReviewed []string) model.ReviewResult {
	result := model.ReviewResult{
		ModeUsed:    mode,
		NotReviewed: notReviewed,
		CreatedAt:   time.Now().UTC(),
	}

	decisions := resolve(findings, indexes)

	switch mode {
	case model.ModeSummaryOnly:
		for i := range decisions {
			decisions[i].Outcome = model.PlacementDemoted
		}
	case model.ModeStrictInline:
		if unmappedCount(decisions) > 0 {
			// All-or-nothing: a partially annotated review is worse than a
			// complete summary.
			for i := range decisions {
				decisions[i].Outcome = model.PlacementDemoted
			}
			result.ModeUsed = model.ModeSummaryOnly
			result.Degraded = true
		}
	case model.ModeInlineBestEffort:
		// Keep per-finding outcomes as resolved.
	}

	for _, d := range decisions {
		if d.Outcome == model.PlacementPlaced {
			result.InlineComments = append(result.InlineComments, model.InlineComment{
				Path:     d.Finding.FilePath,
				Position: d.Position,
				Body:     commentBody(d.Finding),
			})
		}
	}

	result.Decisions = decisions
	result.UnmappedCount = unmappedCount(decisions)
	result.SummaryText = buildSummary(decisions, notReviewed, result.Degraded)

	return result
}

// resolve looks up each finding's line hint in its file's index.
func resolve(findings []model.ReviewFinding, indexes map[string]*diffmap.FileIndex) []model.PlacementDecision {
	decisions := make([]model.PlacementDecision, 0, len(findings))
	for _, f := range findings {
		d := model.PlacementDecision{Finding: f, Outcome: model.PlacementDemoted}
		if idx, ok := indexes[f.FilePath]; ok && f.LineHint > 0 {
			if pos, ok := idx.Position(f.LineHint); ok {
				d.Position = pos
				d.Outcome = model.PlacementPlaced
			}
		}
		decisions = append(decisions, d)
	}
	return decisions
}

func unmappedCount(decisions []model.PlacementDecision) int {
	n := 0
	for _, d := range decisions {
		if d.Position == 0 {
			n++
		}
	}
	return n
}

// commentBody formats one inline comment.
func commentBody(f model.ReviewFinding) string {
	return fmt.Sprintf("**%s** (%s): %s", f.Severity, f.Category, f.Message)
}

// buildSummary renders the summary comment: findings grouped by severity,
// demoted findings annotated, skipped files listed explicitly rather than
// silently dropped.
func buildSummary(decisions []model.PlacementDecision, notReviewed []string, degraded bool) string {
	var b strings.Builder
	b.WriteString("## Automated review\n\n")

	if degraded {
		b.WriteString("_Strict inline mode degraded to summary-only: not every finding could be pinned to a diff line._\n\n")
	}

	if len(decisions) == 0 {
		b.WriteString("No findings.\n")
	}

	sorted := make([]model.PlacementDecision, len(decisions))
	copy(sorted, decisions)
	sort.SliceStable(sorted, func(i, j int) bool {
		return model.SeverityRank(sorted[i].Finding.Severity) < model.SeverityRank(sorted[j].Finding.Severity)
	})

	var lastSeverity model.Severity
	for _, d := range sorted {
		f := d.Finding
		if f.Severity != lastSeverity {
			fmt.Fprintf(&b, "### %s\n", strings.ToUpper(string(f.Severity)))
			lastSeverity = f.Severity
		}
		fmt.Fprintf(&b, "- `%s:%d` [%s] %s", f.FilePath, f.LineHint, f.Category, f.Message)
		if d.Outcome == model.PlacementDemoted && d.Position == 0 {
			b.WriteString(" _(could not pinpoint line)_")
		}
		b.WriteString("\n")
	}

	if len(notReviewed) > 0 {
		b.WriteString("\n### Not reviewed\n")
		b.WriteString("The following files exceeded the review budget and were not analyzed:\n")
		for _, path := range notReviewed {
			fmt.Fprintf(&b, "- `%s`\n", path)
		}
	}

	return b.String()
}
