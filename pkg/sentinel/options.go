package sentinel

import (
	"strings"
	"time"

	"github.com/samvad-hq/sentinel-go/pkg/httpclient"
)

// Option configures a Client during New.
type Option func(*Client) error

// WithHTTPClient replaces the default resty transport. The timeout option has
// no effect on an injected client.
func WithHTTPClient(hc httpclient.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return invalidConfig("nil http client")
		}
		c.http = hc
		return nil
	}
}

// WithTimeout bounds each request made by the default transport.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return invalidConfig("timeout must be positive")
		}
		c.timeout = d
		return nil
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) error {
		if ua = strings.TrimSpace(ua); ua != "" {
			c.userAgent = ua
		}
		return nil
	}
}

// WithTenant sets the X-Tenant header sent with chat completions.
func WithTenant(tenant string) Option {
	return func(c *Client) error {
		if tenant = strings.TrimSpace(tenant); tenant == "" {
			return invalidConfig("tenant must not be empty")
		}
		c.tenant = tenant
		return nil
	}
}
