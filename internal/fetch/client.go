// Package fetch is the opaque-fetch layer: it retrieves provider pages
// through the provider's proxy pool and maps failures onto the engine's
// error taxonomy. Parsing lives in the searcher; this file only moves bytes.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/proxy"

	"github.com/sadewadee/source-orchestrator/internal/domain"
	"github.com/sadewadee/source-orchestrator/internal/logging"
	"github.com/sadewadee/source-orchestrator/internal/proxypool"
)

// defaultUserAgent keeps providers from rejecting the default Go client
// signature outright
const defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// maxBodyBytes caps how much of a provider response is read
const maxBodyBytes = 4 << 20

// Config wires the client. Pools, Metrics and OnChallenge may be nil.
type Config struct {
	Pools     *proxypool.Manager
	Timeout   time.Duration
	UserAgent string

	// OnChallenge fires when a provider serves an anti-abuse challenge
	// instead of content
	OnChallenge func(providerID string, statusCode int)
}

// Client issues provider requests. One shared instance serves all providers;
// per-proxy transports are cached for connection reuse.
type Client struct {
	pools       *proxypool.Manager
	timeout     time.Duration
	userAgent   string
	onChallenge func(string, int)
	log         zerolog.Logger

	mu      sync.Mutex
	clients map[string]*http.Client
	direct  *http.Client
}

// Response is one fetched provider page
type Response struct {
	StatusCode int
	Body       []byte
	ProxyID    string
	Elapsed    time.Duration
}

// New creates a client
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = domain.DefaultSearchTimeout
	}

	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}

	return &Client{
		pools:       cfg.Pools,
		timeout:     cfg.Timeout,
		userAgent:   cfg.UserAgent,
		onChallenge: cfg.OnChallenge,
		log:         logging.WithComponent("Fetcher"),
		clients:     make(map[string]*http.Client),
	}
}

// Fetch retrieves rawURL on behalf of the provider. A proxy is selected from
// the provider's pool when one exists; its health is updated from the
// outcome. Errors follow the engine taxonomy.
func (c *Client) Fetch(ctx context.Context, providerID, rawURL string) (*Response, error) {
	endpoint := c.selectProxy(providerID)

	httpClient, err := c.clientFor(endpoint)
	if err != nil {
		return nil, &domain.TransportError{ProviderID: providerID, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &domain.TransportError{ProviderID: providerID, Err: err}
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	start := time.Now()

	resp, err := httpClient.Do(req)
	elapsed := time.Since(start)

	if err != nil {
		c.recordProxy(ctx, providerID, endpoint, false, elapsed)

		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &domain.TimeoutError{ProviderID: providerID, After: c.timeout}
		}

		return nil, &domain.TransportError{ProviderID: providerID, Err: err}
	}

	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		c.recordProxy(ctx, providerID, endpoint, false, elapsed)

		return nil, &domain.TransportError{ProviderID: providerID, Err: err}
	}

	out := &Response{
		StatusCode: resp.StatusCode,
		Body:       body,
		Elapsed:    elapsed,
	}
	if endpoint != nil {
		out.ProxyID = endpoint.ID
	}

	if challenged(resp.StatusCode, body) {
		c.recordProxy(ctx, providerID, endpoint, false, elapsed)

		if c.onChallenge != nil {
			c.onChallenge(providerID, resp.StatusCode)
		}

		c.log.Warn().Str("provider", providerID).Int("status", resp.StatusCode).
			Msg("provider served an anti-abuse challenge")

		return out, &domain.ThrottleError{ProviderID: providerID, StatusCode: resp.StatusCode}
	}

	if resp.StatusCode >= 400 {
		c.recordProxy(ctx, providerID, endpoint, false, elapsed)

		return out, &domain.TransportError{
			ProviderID: providerID,
			Err:        fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	c.recordProxy(ctx, providerID, endpoint, true, elapsed)

	return out, nil
}

// Probe checks provider connectivity with a single fetch of the base URL.
// Satisfies the health monitor's prober contract, so probes exercise the
// same proxies searches will.
func (c *Client) Probe(ctx context.Context, provider *domain.ProviderDescriptor) (int64, error) {
	resp, err := c.Fetch(ctx, provider.ID, provider.BaseURL)
	if resp == nil {
		return 0, err
	}

	return resp.Elapsed.Milliseconds(), err
}

// selectProxy picks an endpoint from the provider's pool. No pool or an
// exhausted pool means a direct connection.
func (c *Client) selectProxy(providerID string) *domain.ProxyEndpoint {
	if c.pools == nil {
		return nil
	}

	endpoint, err := c.pools.Select(providerID)
	if err != nil {
		return nil
	}

	return endpoint
}

// recordProxy feeds the outcome back to the pool when a proxy was used
func (c *Client) recordProxy(ctx context.Context, providerID string, endpoint *domain.ProxyEndpoint, success bool, elapsed time.Duration) {
	if c.pools == nil || endpoint == nil {
		return
	}

	c.pools.RecordUsage(ctx, providerID, endpoint.ID, success, elapsed)
}

// clientFor returns a cached http.Client for the endpoint, building the
// proxied transport on first use
func (c *Client) clientFor(endpoint *domain.ProxyEndpoint) (*http.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if endpoint == nil {
		if c.direct == nil {
			c.direct = &http.Client{Timeout: c.timeout}
		}

		return c.direct, nil
	}

	if cached, ok := c.clients[endpoint.ID]; ok {
		return cached, nil
	}

	transport, err := transportFor(endpoint)
	if err != nil {
		return nil, err
	}

	client := &http.Client{Timeout: c.timeout, Transport: transport}
	c.clients[endpoint.ID] = client

	return client, nil
}

// transportFor dials through the endpoint. HTTP proxies use the standard
// Proxy hook; SOCKS5 replaces the dialer.
func transportFor(endpoint *domain.ProxyEndpoint) (*http.Transport, error) {
	transport := &http.Transport{
		MaxIdleConns:        20,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	if endpoint.Scheme == "socks5" {
		var auth *proxy.Auth
		if endpoint.Username != "" {
			auth = &proxy.Auth{User: endpoint.Username, Password: endpoint.Password}
		}

		dialer, err := proxy.SOCKS5("tcp", endpoint.Addr(), auth, proxy.Direct)
		if err != nil {
			return nil, err
		}

		if contextDialer, ok := dialer.(proxy.ContextDialer); ok {
			transport.DialContext = contextDialer.DialContext
		}

		return transport, nil
	}

	transport.Proxy = http.ProxyURL(endpoint.URL())

	return transport, nil
}

// challengeMarkers are lowercase fragments that identify anti-bot
// interstitials regardless of status code
var challengeMarkers = [][]byte{
	[]byte("just a moment"),
	[]byte("cf-chl"),
	[]byte("cf-browser-verification"),
	[]byte("ddos protection"),
	[]byte("checking your browser"),
	[]byte("captcha"),
}

// challenged reports whether the response is an anti-abuse challenge rather
// than content
func challenged(status int, body []byte) bool {
	if status == http.StatusTooManyRequests {
		return true
	}

	if status != http.StatusForbidden && status != http.StatusServiceUnavailable {
		return false
	}

	lowered := bytes.ToLower(body)

	for _, marker := range challengeMarkers {
		if bytes.Contains(lowered, marker) {
			return true
		}
	}

	// a bare 403/503 with no challenge page still reads as throttling
	return len(bytes.TrimSpace(body)) == 0
}
