// Package webtool gives the assistant guarded outbound HTTP: rate
// limited, circuit broken, traced, and size capped, for fetching pages
// and JSON APIs it is asked about.
package webtool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/AdmissionsAI/kai-engine/pkg/resilience"
)

const maxBodyBytes = 10 << 20 // 10 MiB

var allowedMethods = map[string]bool{
	http.MethodGet:  true,
	http.MethodHead: true,
}

// Response is a fetched page or API reply with the body fully read.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// URL is the final URL after redirects.
	URL string
}

// ClientOpts configures the outbound client.
type ClientOpts struct {
	Timeout   time.Duration
	UserAgent string
}

// Client is a guarded outbound HTTP client. All requests share one rate
// limiter and one circuit breaker, so a misbehaving upstream throttles
// the whole tool rather than each call discovering it separately.
type Client struct {
	http      *http.Client
	limiter   *rate.Limiter
	breaker   *resilience.Breaker
	userAgent string
}

// NewClient creates a Client with tracing and sane limits.
func NewClient(opts ClientOpts) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "kai-engine/1.0"
	}
	return &Client{
		http: &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter:   rate.NewLimiter(rate.Every(200*time.Millisecond), 5),
		breaker:   resilience.NewBreaker(resilience.DefaultBreakerOpts),
		userAgent: opts.UserAgent,
	}
}

// Call performs one guarded request. Only GET and HEAD against http or
// https URLs are allowed; a non-2xx status is not an error, it is the
// caller's to interpret.
func (c *Client) Call(ctx context.Context, method, rawURL string) (*Response, error) {
	if !allowedMethods[method] {
		return nil, fmt.Errorf("webtool: method %s not allowed", method)
	}
	if err := validateURL(rawURL); err != nil {
		return nil, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("webtool: rate limit wait: %w", err)
	}

	var resp *Response
	err := c.breaker.Call(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
		if err != nil {
			return fmt.Errorf("webtool: build request: %w", err)
		}
		req.Header.Set("User-Agent", c.userAgent)

		res, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("webtool: %s %s: %w", method, rawURL, err)
		}
		defer res.Body.Close()

		body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
		if err != nil {
			return fmt.Errorf("webtool: read body: %w", err)
		}
		resp = &Response{
			StatusCode: res.StatusCode,
			Header:     res.Header,
			Body:       body,
			URL:        res.Request.URL.String(),
		}
		// 5xx counts against the breaker; the upstream is unhealthy.
		if res.StatusCode >= 500 {
			return fmt.Errorf("webtool: %s %s: upstream status %d", method, rawURL, res.StatusCode)
		}
		return nil
	})
	if err != nil && resp != nil && resp.StatusCode >= 500 {
		// The caller still gets the response body alongside the error.
		return resp, err
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// FetchJSON GETs a URL and decodes its body into out.
func (c *Client) FetchJSON(ctx context.Context, rawURL string, out any) error {
	resp, err := c.Call(ctx, http.MethodGet, rawURL)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webtool: GET %s: status %d", rawURL, resp.StatusCode)
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("webtool: decode %s: %w", rawURL, err)
	}
	return nil
}

func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("webtool: invalid url %q: %w", rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("webtool: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("webtool: url %q has no host", rawURL)
	}
	return nil
}
