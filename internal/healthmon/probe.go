package healthmon

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/sadewadee/source-orchestrator/internal/domain"
)

// HTTPProber checks a provider with a plain GET of its base URL, no proxy.
// The engine normally substitutes a prober that routes through the
// provider's proxy pool; this one covers direct setups and tests.
type HTTPProber struct {
	client *http.Client
}

// NewHTTPProber creates a prober. A nil client gets a default with the
// probe timeout applied.
func NewHTTPProber(client *http.Client) *HTTPProber {
	if client == nil {
		client = &http.Client{Timeout: domain.ProbeTimeout}
	}

	return &HTTPProber{client: client}
}

// Probe requests the provider's base URL and treats any status below 400 as
// success. Challenge and throttle statuses map to ThrottleError so health
// accounting can tell them apart from plain transport failures.
func (p *HTTPProber) Probe(ctx context.Context, provider *domain.ProviderDescriptor) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, provider.BaseURL, nil)
	if err != nil {
		return 0, &domain.TransportError{ProviderID: provider.ID, Err: err}
	}

	start := time.Now()

	resp, err := p.client.Do(req)
	ms := time.Since(start).Milliseconds()

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ms, &domain.TimeoutError{ProviderID: provider.ID, After: domain.ProbeTimeout}
		}

		return ms, &domain.TransportError{ProviderID: provider.ID, Err: err}
	}

	defer resp.Body.Close()

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode < 400:
		return ms, nil
	case resp.StatusCode == http.StatusForbidden ||
		resp.StatusCode == http.StatusTooManyRequests ||
		resp.StatusCode == http.StatusServiceUnavailable:
		return ms, &domain.ThrottleError{ProviderID: provider.ID, StatusCode: resp.StatusCode}
	default:
		return ms, &domain.TransportError{
			ProviderID: provider.ID,
			Err:        errors.New(http.StatusText(resp.StatusCode)),
		}
	}
}
