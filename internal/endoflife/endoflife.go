// Package endoflife provides integration with the endoflife.date API
// for checking the lifecycle of the interpreter the launcher selected.
package endoflife

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const (
	// DefaultBaseURL is the default endoflife.date API base URL
	DefaultBaseURL = "https://endoflife.date/api/v1"

	// DefaultTimeout is the default HTTP client timeout
	DefaultTimeout = 10 * time.Second

	// DefaultUserAgent is the default User-Agent header
	DefaultUserAgent = "fundlaunch/1.0"
)

// Custom error types for better error handling
var (
	// ErrProductNotFound indicates the requested product was not found
	ErrProductNotFound = fmt.Errorf("product not found")

	// ErrCycleNotFound indicates the product has no such release cycle
	ErrCycleNotFound = fmt.Errorf("release cycle not found")

	// ErrInvalidResponse indicates the API response was invalid
	ErrInvalidResponse = fmt.Errorf("invalid API response")

	// ErrNetworkError indicates a network-related error
	ErrNetworkError = fmt.Errorf("network error")
)

// ErrAPIError represents an API-specific error
type ErrAPIError struct {
	StatusCode int
	Message    string
	Product    string
}

func (e ErrAPIError) Error() string {
	if e.Product != "" {
		return fmt.Sprintf("API error for product %s: %d %s", e.Product, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error: %d %s", e.StatusCode, e.Message)
}

func (e ErrAPIError) Is(target error) bool {
	if target == ErrProductNotFound && e.StatusCode == 404 {
		return true
	}
	if target == ErrInvalidResponse && e.StatusCode >= 400 && e.StatusCode < 500 {
		return true
	}
	if target == ErrNetworkError && (e.StatusCode == 0 || e.StatusCode >= 500) {
		return true
	}
	return false
}

// ProductInfo represents the product information from endoflife.date API
type ProductInfo struct {
	SchemaVersion string  `json:"schema_version"`
	GeneratedAt   string  `json:"generated_at"`
	LastModified  string  `json:"last_modified"`
	Result        Product `json:"result"`
}

// Product is the "result" object of a product response.
type Product struct {
	Name     string    `json:"name"`
	Label    string    `json:"label"`
	Category string    `json:"category"`
	Links    Links     `json:"links,omitempty"`
	Releases []Release `json:"releases"`
}

// Links represents related links
type Links struct {
	HTML          string `json:"html,omitempty"`
	ReleasePolicy string `json:"releasePolicy,omitempty"`
}

// Release represents a single release cycle from the API
type Release struct {
	Name         string  `json:"name"`
	Label        string  `json:"label"`
	ReleaseDate  string  `json:"releaseDate"`
	IsLTS        bool    `json:"isLts"`
	IsEOAS       bool    `json:"isEoas"`
	EOASFrom     *string `json:"eoasFrom"`
	IsEOL        bool    `json:"isEol"`
	EOLFrom      *string `json:"eolFrom"`
	IsMaintained bool    `json:"isMaintained"`
	Latest       struct {
		Name string `json:"name"`
		Date string `json:"date"`
		Link string `json:"link"`
	} `json:"latest"`
}

// VersionInfo is the lifecycle status of one release cycle
type VersionInfo struct {
	Product      string
	Cycle        string
	LatestPatch  string
	IsLTS        bool
	IsEOL        bool
	IsEOAS       bool // End of Active Support - indicates security-only releases
	IsMaintained bool
	EOLDate      string
	ReleaseDate  string
}

// IsSecurityOnly returns true if this version only receives security fixes.
func (v *VersionInfo) IsSecurityOnly() bool {
	return v.IsEOAS && !v.IsEOL && v.IsMaintained
}

// GetLifecycleStatus returns a human-readable lifecycle status string
func (v *VersionInfo) GetLifecycleStatus() string {
	if v.IsEOL {
		return "End of Life"
	}
	if v.IsSecurityOnly() {
		return "Security Support Only"
	}
	if v.IsMaintained {
		return "Active Support"
	}
	return "Unknown"
}

// Client defines the interface for endoflife.date API client
type Client interface {
	// GetProductInfo retrieves product information for a given product
	GetProductInfo(ctx context.Context, product string) (*ProductInfo, error)

	// CycleStatus returns the lifecycle of one release cycle (e.g. "3.12")
	CycleStatus(ctx context.Context, product, cycle string) (*VersionInfo, error)
}

// HTTPClient defines the interface for HTTP operations
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds configuration for the endoflife client
type Config struct {
	BaseURL    string
	UserAgent  string
	Timeout    time.Duration
	HTTPClient HTTPClient
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		BaseURL:   DefaultBaseURL,
		UserAgent: DefaultUserAgent,
		Timeout:   DefaultTimeout,
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// client implements the Client interface
type client struct {
	config Config
}

// NewClient creates a new endoflife.date API client
func NewClient(config Config) Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.UserAgent == "" {
		config.UserAgent = DefaultUserAgent
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{
			Timeout: config.Timeout,
		}
	}

	return &client{config: config}
}

// GetProductInfo retrieves product information for a given product
func (c *client) GetProductInfo(ctx context.Context, product string) (*ProductInfo, error) {
	if product == "" {
		return nil, ErrAPIError{
			StatusCode: 400,
			Message:    "product name cannot be empty",
			Product:    product,
		}
	}

	apiURL, err := url.JoinPath(c.config.BaseURL, "products", product)
	if err != nil {
		return nil, fmt.Errorf("failed to construct API URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.config.UserAgent)

	resp, err := c.config.HTTPClient.Do(req)
	if err != nil {
		return nil, ErrAPIError{
			StatusCode: 0,
			Message:    err.Error(),
			Product:    product,
		}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, ErrAPIError{
			StatusCode: resp.StatusCode,
			Message:    resp.Status,
			Product:    product,
		}
	}

	var productInfo ProductInfo
	if err := json.NewDecoder(resp.Body).Decode(&productInfo); err != nil {
		return nil, ErrAPIError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("failed to decode response: %v", err),
			Product:    product,
		}
	}

	return &productInfo, nil
}

// CycleStatus looks up a release cycle of product by name.
func (c *client) CycleStatus(ctx context.Context, product, cycle string) (*VersionInfo, error) {
	info, err := c.GetProductInfo(ctx, product)
	if err != nil {
		return nil, fmt.Errorf("failed to get product info for %s: %w", product, err)
	}
	return FindCycle(info, cycle)
}

// FindCycle extracts the lifecycle of cycle from a product response.
func FindCycle(info *ProductInfo, cycle string) (*VersionInfo, error) {
	for _, release := range info.Result.Releases {
		if release.Name != cycle {
			continue
		}
		v := &VersionInfo{
			Product:      info.Result.Name,
			Cycle:        release.Name,
			LatestPatch:  release.Latest.Name,
			IsLTS:        release.IsLTS,
			IsEOL:        release.IsEOL,
			IsEOAS:       release.IsEOAS,
			IsMaintained: release.IsMaintained,
			ReleaseDate:  release.ReleaseDate,
		}
		if release.EOLFrom != nil {
			v.EOLDate = *release.EOLFrom
		}
		return v, nil
	}
	return nil, fmt.Errorf("%w: %s %s", ErrCycleNotFound, info.Result.Name, cycle)
}
