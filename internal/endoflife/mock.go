package endoflife

import (
	"context"
	"fmt"
	"time"
)

// MockClient implements Client interface for testing
type MockClient struct {
	Releases []Release
	Err      error
}

// NewMockClient creates a new mock client with a small Python lifecycle table
func NewMockClient() *MockClient {
	return &MockClient{Releases: generateMockReleases()}
}

func (m *MockClient) GetProductInfo(ctx context.Context, product string) (*ProductInfo, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return &ProductInfo{
		SchemaVersion: "1.0",
		GeneratedAt:   time.Now().Format(time.RFC3339),
		LastModified:  time.Now().Format(time.RFC3339),
		Result: Product{
			Name:     product,
			Label:    fmt.Sprintf("Mock %s", product),
			Category: "lang",
			Releases: m.Releases,
		},
	}, nil
}

func (m *MockClient) CycleStatus(ctx context.Context, product, cycle string) (*VersionInfo, error) {
	info, err := m.GetProductInfo(ctx, product)
	if err != nil {
		return nil, err
	}
	return FindCycle(info, cycle)
}

func generateMockReleases() []Release {
	eol38 := "2024-10-07"
	eol312 := "2028-10-31"

	maintained := Release{Name: "3.12", Label: "3.12", ReleaseDate: "2023-10-02", IsMaintained: true, EOLFrom: &eol312}
	maintained.Latest.Name = "3.12.7"

	eol := Release{Name: "3.8", Label: "3.8", ReleaseDate: "2019-10-14", IsEOL: true, IsEOAS: true, EOLFrom: &eol38}
	eol.Latest.Name = "3.8.20"

	security := Release{Name: "3.10", Label: "3.10", ReleaseDate: "2021-10-04", IsEOAS: true, IsMaintained: true}
	security.Latest.Name = "3.10.15"

	return []Release{maintained, security, eol}
}
