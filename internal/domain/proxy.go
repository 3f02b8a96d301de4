package domain

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"
)

// SelectionStrategy picks how a proxy is chosen from a provider's pool
type SelectionStrategy string

const (
	StrategyRoundRobin SelectionStrategy = "round_robin"
	StrategyRandom     SelectionStrategy = "random"
	StrategyBestHealth SelectionStrategy = "best_health"
)

// ValidStrategy reports whether s names a known selection strategy
func ValidStrategy(s SelectionStrategy) bool {
	switch s {
	case StrategyRoundRobin, StrategyRandom, StrategyBestHealth:
		return true
	default:
		return false
	}
}

// ProxyEndpoint is a single egress endpoint inside a provider's pool.
// Endpoints are never deleted automatically, only deactivated.
type ProxyEndpoint struct {
	ID         string    `json:"id"`
	ProviderID string    `json:"provider_id"`
	Scheme     string    `json:"scheme"`
	Host       string    `json:"host"`
	Port       int       `json:"port"`
	Username   string    `json:"username,omitempty"`
	Password   string    `json:"-"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

// Addr returns the host:port of the endpoint
func (p *ProxyEndpoint) Addr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// URL renders the endpoint as a proxy URL including credentials
func (p *ProxyEndpoint) URL() *url.URL {
	u := &url.URL{
		Scheme: p.Scheme,
		Host:   p.Addr(),
	}

	if p.Username != "" {
		if p.Password != "" {
			u.User = url.UserPassword(p.Username, p.Password)
		} else {
			u.User = url.User(p.Username)
		}
	}

	return u
}

// ProxyHealth tracks the rolling quality of one endpoint (1:1 with
// ProxyEndpoint). Mutated only by the proxy manager.
type ProxyHealth struct {
	ProxyID          string    `json:"proxy_id"`
	ConsecutiveFails int       `json:"consecutive_fails"`
	SuccessCount     int       `json:"success_count"`
	FailureCount     int       `json:"failure_count"`
	AvgResponseMs    float64   `json:"avg_response_ms"`
	Score            float64   `json:"score"`
	Healthy          bool      `json:"healthy"`
	LastUsedAt       time.Time `json:"last_used_at"`
}

// SuccessRate returns the fraction of recorded usages that succeeded
func (h *ProxyHealth) SuccessRate() float64 {
	total := h.SuccessCount + h.FailureCount
	if total == 0 {
		return 1.0
	}

	return float64(h.SuccessCount) / float64(total)
}

// ProxyConfig is the caller-supplied definition of a new endpoint
type ProxyConfig struct {
	Scheme   string `json:"scheme"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// Validate checks the config before an endpoint is created
func (c *ProxyConfig) Validate() error {
	switch c.Scheme {
	case "http", "https", "socks5":
	case "":
		return fmt.Errorf("proxy scheme is required")
	default:
		return fmt.Errorf("unsupported proxy scheme %q", c.Scheme)
	}

	if c.Host == "" {
		return fmt.Errorf("proxy host is required")
	}

	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("proxy port %d out of range", c.Port)
	}

	return nil
}

// ProxyFailureThreshold deactivates an endpoint once its consecutive failure
// count reaches it
const ProxyFailureThreshold = 3
