package driven

import (
	"context"

	"github.com/efisher/reviewflow/internal/domain/model"
)

// ChangedFile is one file touched by a pull request, with its unified-diff
// patch as served by the hosting platform.
type ChangedFile struct {
	Path      string
	Patch     string // Hunks only, no file header; empty for binary files.
	Status    string // "added", "modified", "removed", "renamed".
	Additions int
	Deletions int
}

// PullRequestReader defines the driven port for reading PR change content.
// Kept separate from ReviewPublisher following the Interface Segregation
// Principle.
type PullRequestReader interface {
	// ListChangedFiles returns every file touched by the pull request.
	ListChangedFiles(ctx context.Context, repo string, prNumber int) ([]ChangedFile, error)
}

// PublishRequest is the input to ReviewPublisher.PublishReview.
type PublishRequest struct {
	Repo     string
	PRNumber int
	HeadSHA  string
	Summary  string
	Comments []model.InlineComment
}

// PublishReport describes what actually landed on the pull request.
type PublishReport struct {
	InlinePosted   int
	InlineRejected int // Comments the hosting API refused (e.g. bad position).
}

// RunState is the run-status marker visible on the pull request.
type RunState string

const (
	RunPending RunState = "pending"
	RunSuccess RunState = "success"
	RunError   RunState = "error"
)

// ReviewPublisher defines the driven port for posting review output back to
// the source-hosting platform. A rejected inline comment must not abort
// posting of the remaining comments or the summary.
type ReviewPublisher interface {
	PublishReview(ctx context.Context, req PublishRequest) (PublishReport, error)

	// SetRunStatus sets the run-status marker on the head commit.
	SetRunStatus(ctx context.Context, repo, sha string, state RunState, description string) error
}
