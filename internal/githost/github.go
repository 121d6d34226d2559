package githost

import (
	"context"
	"fmt"

	"github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"
)

// GithubClient implements Client against github.com (or an enterprise host)
// via go-github, paired with a static-token oauth2 http.Client, the same
// pairing used across the retrieval pack's other agent-orchestration repos.
type GithubClient struct {
	gh    *github.Client
	owner string
	repo  string
	base  string // main branch to target PRs against
}

// NewGithubClient constructs a GithubClient for owner/repo, authenticated
// with token (a pre-resolved credential per §6's Environment list — this
// package never handles auth UX itself).
func NewGithubClient(ctx context.Context, owner, repo, base, token string) *GithubClient {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := oauth2.NewClient(ctx, ts)
	return &GithubClient{gh: github.NewClient(httpClient), owner: owner, repo: repo, base: base}
}

// ListOpenIssues fetches every open issue (pull requests excluded).
func (c *GithubClient) ListOpenIssues(ctx context.Context) ([]Issue, error) {
	var out []Issue
	opts := &github.IssueListByRepoOptions{
		State:       "open",
		ListOptions: github.ListOptions{PerPage: 100},
	}
	for {
		issues, resp, err := c.gh.Issues.ListByRepo(ctx, c.owner, c.repo, opts)
		if err != nil {
			return nil, fmt.Errorf("list open issues: %w", err)
		}
		for _, iss := range issues {
			if iss.IsPullRequest() {
				continue
			}
			out = append(out, Issue{
				Number: iss.GetNumber(),
				Title:  iss.GetTitle(),
				Body:   iss.GetBody(),
				URL:    iss.GetHTMLURL(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

// CloseIssue closes the given issue number.
func (c *GithubClient) CloseIssue(ctx context.Context, number int) error {
	state := "closed"
	_, _, err := c.gh.Issues.Edit(ctx, c.owner, c.repo, number, &github.IssueRequest{State: &state})
	if err != nil {
		return fmt.Errorf("close issue #%d: %w", number, err)
	}
	return nil
}

// CreatePullRequest opens a PR from branch against the configured base.
func (c *GithubClient) CreatePullRequest(ctx context.Context, branch, title, body string) (*PullRequest, error) {
	pr, _, err := c.gh.PullRequests.Create(ctx, c.owner, c.repo, &github.NewPullRequest{
		Title: &title,
		Head:  &branch,
		Base:  &c.base,
		Body:  &body,
	})
	if err != nil {
		return nil, fmt.Errorf("create pull request: %w", err)
	}
	return &PullRequest{URL: pr.GetHTMLURL(), Number: pr.GetNumber()}, nil
}
