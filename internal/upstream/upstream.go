package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultTimeout = 5 * time.Second

// Responses are buffered whole so they can be cached and compared;
// the cap only guards against a runaway upstream.
const maxResponseBytes = 64 * 1024 * 1024

type Client struct {
	base      *url.URL
	transport http.RoundTripper
	timeout   time.Duration
}

func New(baseURL string, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("upstream: parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("upstream: base url %q must be absolute", baseURL)
	}
	dialer := &net.Dialer{Timeout: timeout}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ResponseHeaderTimeout: timeout,
		IdleConnTimeout:       30 * time.Second,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   16,
		ForceAttemptHTTP2:     true,
	}
	return &Client{base: base, transport: transport, timeout: timeout}, nil
}

type Result struct {
	Status int
	Header http.Header
	Body   []byte
}

func (r Result) OK() bool {
	return r.Status >= http.StatusOK && r.Status < http.StatusMultipleChoices
}

// Resolve returns the absolute upstream URL for a widget-relative
// path; already-absolute URLs pass through unchanged.
func (c *Client) Resolve(pathAndQuery string) string {
	if c == nil || c.base == nil {
		return pathAndQuery
	}
	if strings.HasPrefix(pathAndQuery, "http://") || strings.HasPrefix(pathAndQuery, "https://") {
		return pathAndQuery
	}
	ref, err := url.Parse(pathAndQuery)
	if err != nil {
		return c.base.String()
	}
	return c.base.ResolveReference(ref).String()
}

func (c *Client) Timeout() time.Duration {
	if c == nil {
		return DefaultTimeout
	}
	return c.timeout
}

// Do performs one bounded attempt against the upstream. Exceeding the
// timeout surfaces as a timeout error; callers treat any returned
// error as a network-class failure.
func (c *Client) Do(ctx context.Context, method, target string, header http.Header, body []byte) (Result, error) {
	if c == nil {
		return Result{}, errors.New("upstream: nil client")
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.Resolve(target), reader)
	if err != nil {
		return Result{}, fmt.Errorf("upstream: build request: %w", err)
	}
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	resp, err := c.transport.RoundTrip(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Result{}, err
	}
	return Result{Status: resp.StatusCode, Header: resp.Header.Clone(), Body: data}, nil
}
