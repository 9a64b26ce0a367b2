package github

import (
	"net/http"
	"net/url"

	"github.com/google/go-github/v57/github"
)

// NewTestClient creates a GitHub client pointed at baseURL, typically an
// httptest.Server.
func NewTestClient(httpClient *http.Client, baseURL, repository string) (*Client, error) {
	owner, repo, err := parseRepository(repository)
	if err != nil {
		return nil, err
	}

	ghClient := github.NewClient(httpClient)

	parsedURL, err := url.Parse(baseURL + "/")
	if err != nil {
		return nil, err
	}
	ghClient.BaseURL = parsedURL
	ghClient.UploadURL = parsedURL

	return &Client{
		client: ghClient,
		owner:  owner,
		repo:   repo,
	}, nil
}
