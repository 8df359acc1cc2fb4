// Package fetch performs bounded outbound HTTP GET requests for code modules.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ruteri/ledger-factory-backend/common"
)

// ErrResponseTooLarge is returned when a response body exceeds the requested limit.
var ErrResponseTooLarge = errors.New("response body exceeds size limit")

// Response is a completed outbound HTTP response after the transform hook ran.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Transform rewrites a raw response before it is returned to the caller.
type Transform func(*Response) *Response

// StripHeaders drops every response header, keeping status and body.
func StripHeaders(r *Response) *Response {
	return &Response{
		Status:  r.Status,
		Headers: http.Header{},
		Body:    r.Body,
	}
}

// Fetcher performs a bounded GET request.
type Fetcher interface {
	Get(ctx context.Context, url string, maxBytes int64, transform Transform) (*Response, error)
}

// Error is a transport level failure of an outbound request.
type Error struct {
	URL string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("Failed to fetch %s: %v", e.URL, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// StatusError is returned when the response status is not 200.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("Failed to fetch %s: HTTP status %d", e.URL, e.Status)
}

// HTTPFetcher implements Fetcher on top of an http.Client.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
	log       *slog.Logger
}

// NewHTTPFetcher creates a fetcher with the given request timeout.
func NewHTTPFetcher(timeout time.Duration, log *slog.Logger) *HTTPFetcher {
	return &HTTPFetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: fmt.Sprintf("%s/%s", common.PackageName, common.Version),
		log:       log,
	}
}

// Get issues a GET request and reads at most maxBytes of body.
// The transform, if any, is applied before the response is returned.
func (f *HTTPFetcher) Get(ctx context.Context, url string, maxBytes int64, transform Transform) (*Response, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &Error{URL: url, Err: err}
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &Error{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.ContentLength > maxBytes {
		return nil, &Error{URL: url, Err: ErrResponseTooLarge}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, &Error{URL: url, Err: err}
	}
	if int64(len(body)) > maxBytes {
		return nil, &Error{URL: url, Err: ErrResponseTooLarge}
	}

	result := &Response{
		Status:  resp.StatusCode,
		Headers: resp.Header.Clone(),
		Body:    body,
	}
	if transform != nil {
		result = transform(result)
	}

	f.log.Debug("Fetched remote resource",
		slog.String("url", url),
		slog.Int("status", result.Status),
		slog.Int("size", len(result.Body)),
		slog.Duration("duration", time.Since(start)))

	return result, nil
}
