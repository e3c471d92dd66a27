// Package github implements the PullRequestReader and ReviewPublisher ports
// using the go-github library.
package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
	gh "github.com/google/go-github/v82/github"
	"github.com/gregjones/httpcache"

	"github.com/efisher/reviewflow/internal/domain/port/driven"
)

// statusContext is the run-status marker name shown on the head commit.
const statusContext = "reviewflow/review"

// Compile-time interface satisfaction checks.
var (
	_ driven.PullRequestReader = (*Client)(nil)
	_ driven.ReviewPublisher   = (*Client)(nil)
)

// Client implements the driven.PullRequestReader and driven.ReviewPublisher
// ports using the go-github library.
type Client struct {
	gh *gh.Client
}

// NewClient creates a new GitHub API client with the following transport stack:
//  1. httpcache (ETag-based conditional request caching)
//  2. go-github-ratelimit (secondary rate limit middleware, sleeps on 429)
//  3. go-github (GitHub REST API client with PAT auth)
func NewClient(token string) *Client {
	cacheTransport := httpcache.NewMemoryCacheTransport()
	rateLimitClient := github_ratelimit.NewClient(cacheTransport)
	client := gh.NewClient(rateLimitClient).WithAuthToken(token)

	return &Client{gh: client}
}

// NewClientWithHTTPClient creates a Client with a custom http.Client and base URL.
// This constructor is intended for testing, allowing injection of an httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL string) (*Client, error) {
	client := gh.NewClient(httpClient)

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	client.BaseURL = u

	return &Client{gh: client}, nil
}

// ListChangedFiles returns every file touched by the pull request. It handles
// pagination automatically and maps go-github types using GetXxx() helper
// methods to avoid nil pointer panics.
func (c *Client) ListChangedFiles(ctx context.Context, repoFullName string, prNumber int) ([]driven.ChangedFile, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	opts := &gh.ListOptions{PerPage: 100}
	var files []driven.ChangedFile

	for {
		commitFiles, resp, err := c.gh.PullRequests.ListFiles(ctx, owner, repo, prNumber, opts)
		if err != nil {
			return nil, fmt.Errorf("listing files for %s#%d (page %d): %w", repoFullName, prNumber, opts.Page, err)
		}

		logRateLimit(resp, repoFullName+"/list-files", opts.Page, len(commitFiles))

		for _, f := range commitFiles {
			files = append(files, driven.ChangedFile{
				Path:      f.GetFilename(),
				Patch:     f.GetPatch(),
				Status:    f.GetStatus(),
				Additions: f.GetAdditions(),
				Deletions: f.GetDeletions(),
			})
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	if files == nil {
		files = []driven.ChangedFile{}
	}
	return files, nil
}

// PublishReview posts the review to the pull request. It first tries a single
// batched review (summary body plus all inline comments). When the API rejects
// the batch with a 422 (typically one stale position), it falls back to posting
// each inline comment individually so one bad position cannot sink the rest,
// then posts the summary as an issue comment.
func (c *Client) PublishReview(ctx context.Context, req driven.PublishRequest) (driven.PublishReport, error) {
	owner, repo, err := splitRepo(req.Repo)
	if err != nil {
		return driven.PublishReport{}, err
	}

	if len(req.Comments) == 0 {
		if err := c.postSummaryComment(ctx, owner, repo, req.PRNumber, req.Summary); err != nil {
			return driven.PublishReport{}, err
		}
		return driven.PublishReport{}, nil
	}

	review := &gh.PullRequestReviewRequest{
		CommitID: gh.Ptr(req.HeadSHA),
		Event:    gh.Ptr("COMMENT"),
		Body:     gh.Ptr(req.Summary),
	}
	for _, comment := range req.Comments {
		review.Comments = append(review.Comments, &gh.DraftReviewComment{
			Path:     gh.Ptr(comment.Path),
			Position: gh.Ptr(comment.Position),
			Body:     gh.Ptr(comment.Body),
		})
	}

	_, resp, err := c.gh.PullRequests.CreateReview(ctx, owner, repo, req.PRNumber, review)
	if err == nil {
		logRateLimit(resp, req.Repo+"/create-review", 0, len(req.Comments))
		return driven.PublishReport{InlinePosted: len(req.Comments)}, nil
	}
	if !isUnprocessable(err) {
		return driven.PublishReport{}, fmt.Errorf("creating review for %s#%d: %w", req.Repo, req.PRNumber, err)
	}

	slog.Warn("batched review rejected, retrying comments individually",
		"repo", req.Repo,
		"pr_number", req.PRNumber,
		"comments", len(req.Comments),
	)

	var report driven.PublishReport
	for _, comment := range req.Comments {
		prComment := &gh.PullRequestComment{
			Body:     gh.Ptr(comment.Body),
			Path:     gh.Ptr(comment.Path),
			Position: gh.Ptr(comment.Position),
			CommitID: gh.Ptr(req.HeadSHA),
		}
		_, _, err := c.gh.PullRequests.CreateComment(ctx, owner, repo, req.PRNumber, prComment)
		switch {
		case err == nil:
			report.InlinePosted++
		case isUnprocessable(err):
			report.InlineRejected++
			slog.Warn("inline comment rejected",
				"repo", req.Repo,
				"pr_number", req.PRNumber,
				"path", comment.Path,
				"position", comment.Position,
			)
		default:
			return report, fmt.Errorf("creating comment on %s#%d %s: %w", req.Repo, req.PRNumber, comment.Path, err)
		}
	}

	if err := c.postSummaryComment(ctx, owner, repo, req.PRNumber, req.Summary); err != nil {
		return report, err
	}
	return report, nil
}

// SetRunStatus sets the run-status marker on the head commit.
func (c *Client) SetRunStatus(ctx context.Context, repoFullName, sha string, state driven.RunState, description string) error {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return err
	}

	status := gh.RepoStatus{
		State:       gh.Ptr(string(state)),
		Description: gh.Ptr(description),
		Context:     gh.Ptr(statusContext),
	}
	_, resp, err := c.gh.Repositories.CreateStatus(ctx, owner, repo, sha, status)
	if err != nil {
		return fmt.Errorf("setting status %s on %s@%s: %w", state, repoFullName, sha, err)
	}

	logRateLimit(resp, repoFullName+"/create-status", 0, 1)
	return nil
}

// postSummaryComment adds the PR-level summary via the Issues API.
func (c *Client) postSummaryComment(ctx context.Context, owner, repo string, prNumber int, body string) error {
	comment := &gh.IssueComment{Body: gh.Ptr(body)}
	_, resp, err := c.gh.Issues.CreateComment(ctx, owner, repo, prNumber, comment)
	if err != nil {
		return fmt.Errorf("creating summary comment on %s/%s#%d: %w", owner, repo, prNumber, err)
	}

	logRateLimit(resp, owner+"/"+repo+"/create-comment", 0, 1)
	return nil
}

// isUnprocessable reports whether the API refused the request body (422),
// which for review comments means a position that does not exist in the diff.
func isUnprocessable(err error) bool {
	var ghErr *gh.ErrorResponse
	return errors.As(err, &ghErr) &&
		ghErr.Response != nil &&
		ghErr.Response.StatusCode == http.StatusUnprocessableEntity
}

// logRateLimit records rate limit headers from an API response and warns when
// the remaining budget runs low.
func logRateLimit(resp *gh.Response, endpoint string, page, count int) {
	if resp == nil {
		return
	}

	slog.Debug("github api call",
		"endpoint", endpoint,
		"page", page,
		"count", count,
		"rate_remaining", resp.Rate.Remaining,
		"rate_limit", resp.Rate.Limit,
	)

	if resp.Rate.Remaining < 100 {
		slog.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset_in", time.Until(resp.Rate.Reset.Time).Round(time.Second),
		)
	}
}

// splitRepo splits an "owner/repo" full name.
func splitRepo(fullName string) (string, string, error) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo name %q: expected owner/repo", fullName)
	}
	return parts[0], parts[1], nil
}
