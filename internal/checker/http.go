package checker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/y0f/primotiming/internal/primo"
	"github.com/y0f/primotiming/internal/storage"
)

// pnxs responses carry full records and facets, so allow large bodies.
const maxBodyRead = 16 << 20

// Options configures an HTTPClient.
type Options struct {
	Scheme          string
	Domain          string
	Params          []primo.Param
	Timeout         time.Duration
	ProxyURL        string
	RateLimitPerSec float64 // 0 disables pacing
	AllowPrivate    bool    // permit connections to private and loopback addresses

	// DialContext replaces the default net.Dialer, mainly for tests.
	DialContext func(ctx context.Context, network, addr string) (net.Conn, error)
}

// HTTPClient measures the search latency of Primo targets.
type HTTPClient struct {
	scheme  string
	domain  string
	params  []primo.Param
	timeout time.Duration
	limiter *rate.Limiter
	client  *http.Client
}

func NewHTTPClient(opts Options) (*HTTPClient, error) {
	if opts.Scheme == "" {
		opts.Scheme = "https"
	}
	if opts.Timeout <= 0 {
		return nil, errors.New("timeout must be positive")
	}

	base := opts.DialContext
	if base == nil {
		base = newDialer(opts.Timeout, opts.AllowPrivate).DialContext
	}
	proxyURL, proxyDial, err := transportProxy(opts.ProxyURL, base)
	if err != nil {
		return nil, err
	}

	transport := &http.Transport{
		DialContext:       base,
		DisableKeepAlives: true,
	}
	if proxyURL != nil {
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	if proxyDial != nil {
		transport.DialContext = proxyDial
	}

	c := &HTTPClient{
		scheme:  opts.Scheme,
		domain:  opts.Domain,
		params:  append([]primo.Param(nil), opts.Params...),
		timeout: opts.Timeout,
		client:  &http.Client{Transport: transport},
	}
	if opts.RateLimitPerSec > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimitPerSec), 1)
	}
	return c, nil
}

// Measure issues one search for keyword against t and times it from dispatch
// until the body is fully read. A nil keyword searches for the empty string.
//
// Exceeding the timeout is not an error: the result has TimedOut set and a
// zero duration. Every other failure, including a non-2xx status or a body
// that is not JSON, is returned as an error.
func (c *HTTPClient) Measure(ctx context.Context, t *storage.Target, keyword *storage.Keyword) (*Result, error) {
	var text string
	if keyword != nil {
		text = keyword.Text
	}
	rawURL := primo.SearchURL(c.scheme, c.domain, t, c.params, text)

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		if timedOut(ctx, reqCtx, err) {
			return timeoutResult(rawURL), nil
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyRead))
	elapsed := time.Since(start)
	if err != nil {
		if timedOut(ctx, reqCtx, err) {
			return timeoutResult(rawURL), nil
		}
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, URL: rawURL}
	}

	diag, err := extractTimelog(body)
	if err != nil {
		return nil, err
	}

	return &Result{
		Duration:    elapsed.Seconds(),
		StatusCode:  resp.StatusCode,
		Diagnostics: diag,
		URL:         rawURL,
	}, nil
}

// timedOut reports whether err comes from the per-request deadline rather
// than from cancellation of the caller's context.
func timedOut(parent, req context.Context, err error) bool {
	if parent.Err() != nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(req.Err(), context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func timeoutResult(rawURL string) *Result {
	return &Result{TimedOut: true, Diagnostics: emptyDiagnostics, URL: rawURL}
}

func extractTimelog(body []byte) (json.RawMessage, error) {
	var payload struct {
		Timelog json.RawMessage `json:"timelog"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(payload.Timelog) == 0 || string(payload.Timelog) == "null" {
		return emptyDiagnostics, nil
	}
	return payload.Timelog, nil
}
