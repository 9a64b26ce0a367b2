// Package github looks up published launcher releases on GitHub.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"

	"github.com/clean-dependency-project/fundlaunch/internal/version"
)

// Sentinel errors for GitHub operations.
var (
	ErrInvalidRepo     = errors.New("repository must be in format 'owner/repo'")
	ErrReleaseNotFound = errors.New("release not found")
)

// Release is the subset of a GitHub release the launcher reports.
type Release struct {
	Tag         string
	Name        string
	URL         string
	PublishedAt time.Time
	Prerelease  bool
}

// Update describes how the running build compares with the latest release.
type Update struct {
	Current   string
	Latest    *Release
	Available bool
}

// Client wraps the GitHub API client for release lookups.
type Client struct {
	client *github.Client
	owner  string
	repo   string
}

// NewClient creates a new GitHub API client for the specified repository.
// Token is optional; anonymous requests are subject to lower rate limits.
// Repository must be in the format "owner/repo".
func NewClient(token, repository string) (*Client, error) {
	owner, repo, err := parseRepository(repository)
	if err != nil {
		return nil, err
	}

	client := github.NewClient(nil)
	if token != "" {
		client = client.WithAuthToken(token)
	}

	return &Client{
		client: client,
		owner:  owner,
		repo:   repo,
	}, nil
}

// Repository returns the "owner/repo" the client queries.
func (c *Client) Repository() string {
	return c.owner + "/" + c.repo
}

// LatestRelease returns the most recent non-draft, non-prerelease release.
// Returns ErrReleaseNotFound if the repository has none.
func (c *Client) LatestRelease(ctx context.Context) (*Release, error) {
	if c.client == nil || c.owner == "" || c.repo == "" {
		return nil, fmt.Errorf("client not initialized: use NewClient to create instances")
	}

	rel, resp, err := c.client.Repositories.GetLatestRelease(ctx, c.owner, c.repo)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, ErrReleaseNotFound
		}
		return nil, fmt.Errorf("failed to get latest release of %s: %w", c.Repository(), err)
	}
	return convert(rel), nil
}

// CheckForUpdate compares current against the latest release tag.
// A current version of "dev" or "" is always reported as outdated.
func (c *Client) CheckForUpdate(ctx context.Context, current string) (*Update, error) {
	latest, err := c.LatestRelease(ctx)
	if err != nil {
		return nil, err
	}

	u := &Update{Current: current, Latest: latest}
	if current == "" || current == "dev" {
		u.Available = true
		return u, nil
	}

	cmp, err := version.Compare(current, latest.Tag)
	if err != nil {
		return nil, fmt.Errorf("failed to compare %s with %s: %w", current, latest.Tag, err)
	}
	u.Available = cmp < 0
	return u, nil
}

func convert(rel *github.RepositoryRelease) *Release {
	return &Release{
		Tag:         rel.GetTagName(),
		Name:        rel.GetName(),
		URL:         rel.GetHTMLURL(),
		PublishedAt: rel.GetPublishedAt().Time,
		Prerelease:  rel.GetPrerelease(),
	}
}

// parseRepository splits a repository string into owner and repo.
// Returns an error if the format is invalid.
func parseRepository(repository string) (owner, repo string, err error) {
	if repository == "" {
		return "", "", ErrInvalidRepo
	}

	parts := strings.Split(repository, "/")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("%w: got %s", ErrInvalidRepo, repository)
	}

	owner = strings.TrimSpace(parts[0])
	repo = strings.TrimSpace(parts[1])

	if owner == "" || repo == "" {
		return "", "", fmt.Errorf("%w: owner or repo is empty", ErrInvalidRepo)
	}

	return owner, repo, nil
}
