// Package fetch provides the HTTP client used by all aggregators: retrying
// GETs with browser-like headers, per-host rate limiting, and a skip signal
// for upstream 4xx responses.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/dkoeder/gleaner/internal/config"
	"github.com/dkoeder/gleaner/internal/metrics"
)

// maxBodyBytes bounds how much of a response we are willing to read.
const maxBodyBytes = 20 << 20 // 20 MiB

// SkipError signals that the current article should be dropped silently: the
// upstream answered with a 4xx, so retrying or failing the run is pointless.
type SkipError struct {
	StatusCode int
	URL        string
}

func (e *SkipError) Error() string {
	return fmt.Sprintf("fetch %s: status %d, skipping article", e.URL, e.StatusCode)
}

// IsSkip reports whether err carries a SkipError anywhere in its chain.
func IsSkip(err error) bool {
	var se *SkipError
	return errors.As(err, &se)
}

// Client is a retrying HTTP fetcher. All outgoing requests carry the
// configured User-Agent and a Referer derived from the target's origin, and
// requests to the same host are spaced by the host interval.
type Client struct {
	httpClient     *http.Client
	hosts          *HostLimiter
	userAgent      string
	articleTimeout time.Duration
	imageTimeout   time.Duration
	maxRetries     int
	backoffUnit    time.Duration
}

// NewClient creates a Client from the fetcher configuration.
func NewClient(cfg config.FetchConfig) *Client {
	return &Client{
		httpClient:     &http.Client{},
		hosts:          NewHostLimiter(cfg.HostInterval),
		userAgent:      cfg.UserAgent,
		articleTimeout: cfg.ArticleTimeout,
		imageTimeout:   cfg.ImageTimeout,
		maxRetries:     cfg.MaxRetries,
		backoffUnit:    time.Second,
	}
}

// Get fetches a URL with the article timeout and returns the body bytes and
// the response Content-Type.
func (c *Client) Get(ctx context.Context, rawURL string) ([]byte, string, error) {
	return c.get(ctx, rawURL, c.articleTimeout)
}

// GetImage fetches a URL with the shorter image timeout.
func (c *Client) GetImage(ctx context.Context, rawURL string) ([]byte, string, error) {
	return c.get(ctx, rawURL, c.imageTimeout)
}

// GetDocument fetches a URL and parses the response as HTML.
func (c *Client) GetDocument(ctx context.Context, rawURL string) (*goquery.Document, error) {
	body, _, err := c.Get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: parse html: %w", rawURL, err)
	}
	return doc, nil
}

func (c *Client) get(ctx context.Context, rawURL string, timeout time.Duration) ([]byte, string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, "", fmt.Errorf("fetch: parse url %q: %w", rawURL, err)
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(1<<uint(attempt)) * c.backoffUnit
			select {
			case <-ctx.Done():
				return nil, "", ctx.Err()
			case <-time.After(delay):
			}
		}

		if err := c.hosts.Wait(ctx, parsed.Host); err != nil {
			return nil, "", err
		}

		body, contentType, err := c.doOnce(ctx, parsed, timeout)
		if err == nil {
			return body, contentType, nil
		}
		if IsSkip(err) {
			return nil, "", err
		}
		lastErr = err
		slog.Debug("fetch retrying", "url", rawURL, "attempt", attempt+1, "err", err)
	}

	metrics.RecordFetchError(parsed.Host)
	return nil, "", fmt.Errorf("fetch %s: retries exhausted: %w", rawURL, lastErr)
}

func (c *Client) doOnce(ctx context.Context, u *url.URL, timeout time.Duration) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("fetch: build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Referer", u.Scheme+"://"+u.Host+"/")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch %s: %w", u, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, "", &SkipError{StatusCode: resp.StatusCode, URL: u.String()}
	case resp.StatusCode >= 500:
		return nil, "", fmt.Errorf("fetch %s: status %d", u, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, "", fmt.Errorf("fetch %s: read body: %w", u, err)
	}
	return body, resp.Header.Get("Content-Type"), nil
}
