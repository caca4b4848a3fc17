// Package gateway provides the HTTP transport shared by all provider
// collectors. It keeps a cookie jar across requests because both portals
// set session cookies on the first HTML fetch and expect them back on
// subsequent JSON calls.
package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
)

// Request describes a single upstream call. Headers are applied verbatim
// so captured browser headers (User-Agent, Cookie, Referer) pass through
// unchanged.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    string
}

// Response is the raw upstream reply. Non-2xx statuses are returned here
// rather than as errors: callers decide whether a status is a page-level
// failure, a missing document, or a setup fault.
type Response struct {
	Status   int
	Body     []byte
	FinalURL string
}

// IsSuccess reports whether the status code is in the 2xx range.
func (r *Response) IsSuccess() bool {
	return r.Status >= 200 && r.Status < 300
}

// Doer executes one HTTP exchange.
type Doer interface {
	Do(ctx context.Context, req Request) (*Response, error)
}

// Client is the production Doer. No timeout is set on the underlying
// client; callers bound each exchange through the request context.
type Client struct {
	http *http.Client
}

// NewClient returns a Client with a fresh in-memory cookie jar.
func NewClient() *Client {
	jar, _ := cookiejar.New(nil)
	return &Client{
		http: &http.Client{Jar: jar},
	}
}

var _ Doer = (*Client)(nil)

// Do performs the exchange and drains the full response body. Transport
// failures (DNS, refused connections, context cancellation) are errors;
// any HTTP status, including 4xx and 5xx, produces a Response.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if req.Body != "" {
		body = strings.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &Response{
		Status:   resp.StatusCode,
		Body:     data,
		FinalURL: resp.Request.URL.String(),
	}, nil
}
