package smartcare

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// DefaultHTTPTimeout bounds a single fetch when none is configured.
	DefaultHTTPTimeout = 5 * time.Second

	// maxBodySize caps how much of a response body is read.
	maxBodySize = 1 << 20 // 1 MiB
)

// Fetcher retrieves the raw device list from the SmartCare endpoint.
type Fetcher interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// HTTPFetcher issues GET requests to a fixed URL.
//
// Thread Safety: safe for concurrent use.
type HTTPFetcher struct {
	url       string
	client    *http.Client
	userAgent string
}

// NewHTTPFetcher creates a fetcher for url. A timeout <= 0 selects
// DefaultHTTPTimeout.
func NewHTTPFetcher(url string, timeout time.Duration, userAgent string) *HTTPFetcher {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	return &HTTPFetcher{
		url:       url,
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
	}
}

// URL returns the endpoint being polled.
func (f *HTTPFetcher) URL() string {
	return f.url
}

// Fetch performs one GET and returns the full body.
//
// Errors wrap ErrNetwork for transport failures and oversized bodies, and
// ErrHTTPStatus for non-2xx responses.
func (f *HTTPFetcher) Fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %w", ErrNetwork, err)
	}
	req.Header.Set("Accept", "application/json")
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a little so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck // best effort
		return nil, fmt.Errorf("%w: %s", ErrHTTPStatus, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %w", ErrNetwork, err)
	}
	if len(body) > maxBodySize {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", ErrNetwork, maxBodySize)
	}

	return body, nil
}
