// Package nosana provides clients for the Nosana node and dashboard APIs.
//
// Each fetch performs exactly one HTTP call with a bounded timeout and
// returns either a decoded payload or a *FetchError. Clients never retry;
// retry policy belongs to the caller.
//
// Endpoints:
//
//	GET https://<address>.node.k8s.prd.nos.ci/node/info        node runtime state
//	GET <dashboard>/api/nodes/<address>/specs                  hardware specs
//	GET <dashboard>/api/markets                                market catalog
//	GET <dashboard>/api/jobs?limit=10&offset=0&node=<address>  recent jobs
package nosana

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultNodeURLTemplate is where a node serves its own info endpoint.
	DefaultNodeURLTemplate = "https://{address}.node.k8s.prd.nos.ci"

	// DefaultDashboardURL is the Nosana dashboard backend.
	DefaultDashboardURL = "https://dashboard.k8s.prd.nos.ci"

	maxBodyBytes = 4 << 20
)

// ClientConfig holds configuration for the endpoint clients.
type ClientConfig struct {
	// NodeURLTemplate is the base URL of a node; "{address}" is replaced with
	// the node address (default: DefaultNodeURLTemplate)
	NodeURLTemplate string

	// DashboardURL is the dashboard API base URL (default: DefaultDashboardURL)
	DashboardURL string

	// Timeout bounds every request (default: 10s)
	Timeout time.Duration

	// RateLimit is the dashboard request budget per second (default: 5)
	RateLimit float64

	// RateBurst is the dashboard burst size (default: 10)
	RateBurst int

	// JobsLimit is the page size for the jobs endpoint (default: 10)
	JobsLimit int

	// UserAgent is sent with every request (optional)
	UserAgent string

	// HTTPClient overrides the default client (optional)
	HTTPClient *http.Client
}

// Client talks to the node and dashboard APIs. It is safe for concurrent use
// and is shared by all monitored nodes so the dashboard limiter is global.
type Client struct {
	nodeURLTemplate string
	dashboardURL    string
	timeout         time.Duration
	jobsLimit       int
	userAgent       string
	httpClient      *http.Client

	// limiter throttles dashboard calls only; node info goes to each node.
	limiter *rate.Limiter
}

// NewClient creates a new Nosana API client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.NodeURLTemplate == "" {
		cfg.NodeURLTemplate = DefaultNodeURLTemplate
	}
	if cfg.DashboardURL == "" {
		cfg.DashboardURL = DefaultDashboardURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 5
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = 10
	}
	if cfg.JobsLimit == 0 {
		cfg.JobsLimit = 10
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		nodeURLTemplate: strings.TrimRight(cfg.NodeURLTemplate, "/"),
		dashboardURL:    strings.TrimRight(cfg.DashboardURL, "/"),
		timeout:         cfg.Timeout,
		jobsLimit:       cfg.JobsLimit,
		userAgent:       cfg.UserAgent,
		httpClient:      httpClient,
		limiter:         rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
	}
}

// Timeout returns the per-request timeout.
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// nodeBaseURL expands the node URL template for address.
func (c *Client) nodeBaseURL(address string) string {
	return strings.ReplaceAll(c.nodeURLTemplate, "{address}", address)
}

// get performs one GET and hands the body to decode. Dashboard requests wait
// on the shared limiter first; a wait that cannot finish before the deadline
// fails as rate limited without touching the network.
func (c *Client) get(ctx context.Context, source, url string, limited bool, decode func([]byte) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if limited {
		if err := c.limiter.Wait(ctx); err != nil {
			return &FetchError{Source: source, Kind: KindRateLimited, Err: err}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return &FetchError{Source: source, Kind: KindUnreachable, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &FetchError{Source: source, Kind: KindUnreachable, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return &FetchError{Source: source, Kind: KindRateLimited, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &FetchError{Source: source, Kind: KindUnreachable, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &FetchError{Source: source, Kind: KindUnreachable, Err: fmt.Errorf("failed to read body: %w", err)}
	}

	if err := decode(body); err != nil {
		var fe *FetchError
		if errors.As(err, &fe) {
			return fe
		}
		return &FetchError{Source: source, Kind: KindInvalidPayload, Err: err}
	}
	return nil
}
