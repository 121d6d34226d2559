package githost

import (
	"context"
	"errors"
)

// NoopClient satisfies Client when no repo_owner/repo_name/token is
// configured. External sync simply sees an empty issue list every tick
// rather than the orchestrator needing a nil check at every call site;
// CreatePullRequest fails, since no pull request can be opened.
type NoopClient struct{}

func (NoopClient) ListOpenIssues(ctx context.Context) ([]Issue, error) { return nil, nil }
func (NoopClient) CloseIssue(ctx context.Context, number int) error    { return nil }
func (NoopClient) CreatePullRequest(ctx context.Context, branch, title, body string) (*PullRequest, error) {
	return nil, errors.New("no code host client configured, cannot create pull request")
}
