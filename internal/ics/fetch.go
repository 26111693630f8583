package ics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	appLog "taskfeed/internal/log"
)

const (
	defaultTimeout      = 20 * time.Second
	defaultMaxBodyBytes = 8 << 20
)

var (
	// ErrEmptyURL is returned when Fetch is called without a feed URL.
	ErrEmptyURL = errors.New("feed URL is empty")
	// ErrBodyTooLarge is wrapped in a *TransportError when a response is
	// longer than the fetcher's body limit.
	ErrBodyTooLarge = errors.New("response body too large")
)

// TransportError reports a network failure or a non-2xx response while
// fetching a feed. StatusCode is 0 when no response was received.
type TransportError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: unexpected status %d %s", redactURL(e.URL), e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("fetch %s: %v", redactURL(e.URL), e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Fetcher retrieves raw calendar text over HTTP with a bounded timeout.
// It does not retry and does not send conditional headers; freshness is
// handled by the feed cache.
type Fetcher struct {
	client  *http.Client
	maxBody int64
}

// NewFetcher creates a Fetcher whose requests are bounded by timeout and
// which rejects response bodies longer than maxBody bytes. Zero values pick
// defaults.
func NewFetcher(timeout time.Duration, maxBody int64) *Fetcher {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return NewFetcherWithClient(&http.Client{Timeout: timeout}, maxBody)
}

// NewFetcherWithClient lets tests inject a client (e.g. httptest's).
func NewFetcherWithClient(client *http.Client, maxBody int64) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	return &Fetcher{client: client, maxBody: maxBody}
}

// Fetch performs a single GET against rawURL and returns the body.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, ErrEmptyURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &TransportError{URL: rawURL, Err: err}
	}
	req.Header.Set("Accept", "text/calendar, text/plain;q=0.9, */*;q=0.1")

	appLog.Debug("ics fetch start", "url", redactURL(rawURL))

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &TransportError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Drain a little so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, &TransportError{
			URL:        rawURL,
			StatusCode: resp.StatusCode,
			Err:        errors.New(resp.Status),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
	if err != nil {
		return nil, &TransportError{URL: rawURL, Err: err}
	}
	// A partial calendar would replace the last good snapshot, so an
	// oversized body is a failed fetch.
	if int64(len(body)) > f.maxBody {
		return nil, &TransportError{
			URL: rawURL,
			Err: fmt.Errorf("%w: exceeds %d bytes", ErrBodyTooLarge, f.maxBody),
		}
	}

	appLog.Info("ics fetch success", "url", redactURL(rawURL), "status", resp.StatusCode, "bytes", len(body))
	return body, nil
}

// redactURL hides sensitive parts of a feed URL for logging purposes.
// Private calendar links usually carry the secret in the path or query:
//
//	https://example.com/path/to/private.ics?token=abcd
//	-> https://example.com/...(redacted)
func redactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	parsed, err := url.Parse(u)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "ics://...(redacted)"
	}
	return parsed.Scheme + "://" + parsed.Host + redactedSuffix
}

// RedactURL exposes redactURL to other packages that log feed URLs.
func RedactURL(u string) string { return redactURL(u) }
