// Package application contains use-case orchestration services.
package application

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/efisher/reviewflow/internal/domain/model"
	"github.com/efisher/reviewflow/internal/domain/port/driven"
)

// Stage labels one step of the review pipeline for observability.
type Stage string

const (
	StageStart            Stage = "start"
	StagePlanning         Stage = "planning"
	StageReviewing        Stage = "reviewing"
	StageDone             Stage = "done"
	StageDegradedFallback Stage = "degraded_fallback"
)

// OrchestratorConfig selects the models and the review budget.
//
// When both PlannerModel and ReviewerModel are set the pipeline runs two
// stages: the planner triages which changed files deserve deep review, then
// the reviewer analyzes only those. With only ReviewerModel set the planner
// stage is skipped and every budgeted file goes straight to review.
type OrchestratorConfig struct {
	PlannerModel    string
	ReviewerModel   string
	MaxFiles        int // Most files sent to the reviewer per run.
	MaxDiffBytes    int // Cumulative patch-size cap across reviewed files.
	MaxOutputTokens int
}

// ReviewOutcome is the orchestrator's result for one pull request.
type ReviewOutcome struct {
	Findings    []model.ReviewFinding
	NotReviewed []string // Files skipped under the file/byte budget.
	Stages      []Stage  // Transition path actually taken, for logging.
	Fallback    bool     // Reviewer output stayed unparsable after a re-prompt.
}

// Orchestrator drives the planner/reviewer model pipeline for one pull
// request's changed files.
type Orchestrator struct {
	models driven.ModelClient
	cfg    OrchestratorConfig
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(models driven.ModelClient, cfg OrchestratorConfig) *Orchestrator {
	return &Orchestrator{models: models, cfg: cfg}
}

const plannerInstructions = `You are triaging a pull request for automated code review.
Given the list of changed files with their change sizes, select the files most worth a deep review.
Respond with only a JSON object of the form {"files": ["path1", "path2"]}.
Prefer source code over generated files, lockfiles, and vendored code.`

const reviewerInstructions = `You are an automated code reviewer. Analyze the unified diffs below.
Respond with only a JSON array; each element must be an object with keys:
"file" (string, path as shown), "line" (integer, line number in the new version of the file),
"severity" (one of critical, major, minor, info), "category" (short string), "message" (string).
Report only genuine issues. An empty array is a valid response.`

const reviewerReprompt = `Your previous response could not be parsed.
Respond again with ONLY the JSON array described, no prose, no markdown fences.`

// Review runs the pipeline over the pull request's changed files.
//
// A planner failure is not fatal: the pipeline falls back to reviewing every
// budgeted file. A reviewer transport error is returned to the caller so the
// queue can retry the whole event. Reviewer output that stays unparsable
// after one stricter re-prompt sets Fallback instead of failing.
func (o *Orchestrator) Review(ctx context.Context, files []driven.ChangedFile) (ReviewOutcome, error) {
	outcome := ReviewOutcome{Stages: []Stage{StageStart}}

	reviewable, skipped := o.applyBudget(files)
	outcome.NotReviewed = skipped
	if len(reviewable) == 0 {
		outcome.Stages = append(outcome.Stages, StageDone)
		return outcome, nil
	}

	if o.cfg.PlannerModel != "" {
		outcome.Stages = append(outcome.Stages, StagePlanning)
		reviewable = o.plan(ctx, reviewable)
		if len(reviewable) == 0 {
			outcome.Stages = append(outcome.Stages, StageDone)
			return outcome, nil
		}
	}

	outcome.Stages = append(outcome.Stages, StageReviewing)
	findings, fallback, err := o.review(ctx, reviewable)
	if err != nil {
		return outcome, err
	}
	outcome.Findings = findings
	outcome.Fallback = fallback
	if fallback {
		outcome.Stages = append(outcome.Stages, StageDegradedFallback)
	} else {
		outcome.Stages = append(outcome.Stages, StageDone)
	}
	return outcome, nil
}

// applyBudget filters out files without a reviewable patch and enforces the
// file-count and cumulative-byte caps. Excluded files are reported so the
// summary can name them.
func (o *Orchestrator) applyBudget(files []driven.ChangedFile) ([]driven.ChangedFile, []string) {
	var reviewable []driven.ChangedFile
	var skipped []string
	totalBytes := 0

	for _, f := range files {
		if f.Patch == "" || f.Status == "removed" {
			// Binary and deleted files carry nothing to annotate.
			continue
		}
		overFiles := o.cfg.MaxFiles > 0 && len(reviewable) >= o.cfg.MaxFiles
		overBytes := o.cfg.MaxDiffBytes > 0 && totalBytes+len(f.Patch) > o.cfg.MaxDiffBytes
		if overFiles || overBytes {
			skipped = append(skipped, f.Path)
			continue
		}
		reviewable = append(reviewable, f)
		totalBytes += len(f.Patch)
	}
	return reviewable, skipped
}

// plan asks the planner model to triage the file list. Any planner failure
// falls back to reviewing every candidate; triage is an optimization, not a
// gate the review depends on.
func (o *Orchestrator) plan(ctx context.Context, files []driven.ChangedFile) []driven.ChangedFile {
	var b strings.Builder
	for _, f := range files {
		fmt.Fprintf(&b, "%s (%s, +%d -%d)\n", f.Path, f.Status, f.Additions, f.Deletions)
	}

	resp, err := o.models.Complete(ctx, driven.ModelRequest{
		Model:           o.cfg.PlannerModel,
		Instructions:    plannerInstructions,
		DiffPayload:     b.String(),
		MaxOutputTokens: o.cfg.MaxOutputTokens,
	})
	if err != nil {
		slog.Warn("planner call failed, reviewing all files", "error", err)
		return files
	}

	var selection model.PlanSelection
	if err := json.Unmarshal([]byte(extractJSON(resp.RawText, '{', '}')), &selection); err != nil {
		slog.Warn("planner output unparsable, reviewing all files", "error", err)
		return files
	}

	byPath := make(map[string]driven.ChangedFile, len(files))
	for _, f := range files {
		byPath[f.Path] = f
	}

	var selected []driven.ChangedFile
	for _, path := range selection.Files {
		if f, ok := byPath[path]; ok {
			selected = append(selected, f)
		}
	}
	if selected == nil {
		// Paths the planner invented are dropped; an all-invented selection
		// is treated as an unusable plan rather than an empty review.
		if len(selection.Files) > 0 {
			slog.Warn("planner selected only unknown paths, reviewing all files")
			return files
		}
	}
	return selected
}

// review sends the diffs to the reviewer model and parses the findings.
// Unparsable output earns one stricter re-prompt before giving up.
func (o *Orchestrator) review(ctx context.Context, files []driven.ChangedFile) ([]model.ReviewFinding, bool, error) {
	payload := buildDiffPayload(files)

	resp, err := o.models.Complete(ctx, driven.ModelRequest{
		Model:           o.cfg.ReviewerModel,
		Instructions:    reviewerInstructions,
		DiffPayload:     payload,
		MaxOutputTokens: o.cfg.MaxOutputTokens,
	})
	if err != nil {
		return nil, false, fmt.Errorf("reviewer call: %w", err)
	}

	findings, err := parseFindings(resp.RawText)
	if err == nil {
		return findings, false, nil
	}
	slog.Warn("reviewer output unparsable, re-prompting", "error", err)

	resp, err = o.models.Complete(ctx, driven.ModelRequest{
		Model:           o.cfg.ReviewerModel,
		Instructions:    reviewerInstructions + "\n" + reviewerReprompt,
		DiffPayload:     payload,
		MaxOutputTokens: o.cfg.MaxOutputTokens,
	})
	if err != nil {
		return nil, false, fmt.Errorf("reviewer re-prompt call: %w", err)
	}

	findings, err = parseFindings(resp.RawText)
	if err != nil {
		slog.Warn("reviewer output unparsable after re-prompt, degrading", "error", err)
		return nil, true, nil
	}
	return findings, false, nil
}

// buildDiffPayload renders the reviewed files as one prompt document.
func buildDiffPayload(files []driven.ChangedFile) string {
	var b strings.Builder
	for _, f := range files {
		fmt.Fprintf(&b, "### File: %s (%s)\n```diff\n%s\n```\n\n", f.Path, f.Status, f.Patch)
	}
	return b.String()
}

// rawFinding is the reviewer model's JSON contract.
type rawFinding struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Severity string `json:"severity"`
	Category string `json:"category"`
	Message  string `json:"message"`
}

// parseFindings parses the reviewer response tolerantly: markdown fences and
// surrounding prose are stripped, severities normalized, and entries without
// a file or message dropped.
func parseFindings(raw string) ([]model.ReviewFinding, error) {
	body := extractJSON(raw, '[', ']')
	if body == "" {
		return nil, fmt.Errorf("no JSON array in reviewer output")
	}

	var parsed []rawFinding
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		return nil, fmt.Errorf("decode findings: %w", err)
	}

	var findings []model.ReviewFinding
	for _, f := range parsed {
		if f.File == "" || f.Message == "" {
			continue
		}
		findings = append(findings, model.ReviewFinding{
			FilePath: f.File,
			LineHint: f.Line,
			Severity: model.NormalizeSeverity(f.Severity),
			Category: f.Category,
			Message:  f.Message,
		})
	}
	return findings, nil
}

// extractJSON returns the outermost open..close span of the text, tolerating
// markdown fences and prose around it. Returns "" when no span exists.
func extractJSON(raw string, open, closing byte) string {
	start := strings.IndexByte(raw, open)
	end := strings.LastIndexByte(raw, closing)
	if start < 0 || end <= start {
		return ""
	}
	return raw[start : end+1]
}
