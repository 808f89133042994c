// Package fetch performs timed, content-type-validated HTTP GETs for feed
// documents and linked pages.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// Kind classifies a fetch failure.
type Kind string

const (
	KindUnknown     Kind = "network_unknown"
	KindAbort       Kind = "network_abort"
	KindTimeout     Kind = "network_timeout"
	KindStatus      Kind = "http_status"
	KindContentType Kind = "invalid_content_type"
)

// Error is a classified fetch failure.
type Error struct {
	Kind        Kind
	URL         string
	Status      int    // set when Kind is KindStatus
	ContentType string // set when Kind is KindContentType

	err error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindStatus:
		return fmt.Sprintf("fetching %s: unexpected status %d", e.URL, e.Status)
	case KindContentType:
		return fmt.Sprintf("fetching %s: unacceptable content type %q", e.URL, e.ContentType)
	default:
		return fmt.Sprintf("fetching %s: %s: %s", e.URL, e.Kind, e.err)
	}
}

func (e *Error) Unwrap() error { return e.err }

// Document is the raw result of a successful fetch.
type Document struct {
	Body []byte
	// FinalURL is the request URL after any redirects.
	FinalURL    string
	ContentType string
	// LastModified is the verbatim Last-Modified header, empty if absent.
	LastModified string
}

// Accept header values and the content types each implies.
const (
	AcceptFeed = "application/rss+xml, application/atom+xml, application/xml, text/xml"
	AcceptHTML = "text/html, application/xhtml+xml"
)

var (
	// FeedTypes matches the content types a feed endpoint may declare.
	// Matched case-insensitively as substrings, so plain "text/xml" and
	// parameterized "application/rss+xml; charset=utf-8" both pass.
	FeedTypes = []string{"xml"}
	// HTMLTypes matches linked article pages.
	HTMLTypes = []string{"html"}
)

// Feeds can be large but not unbounded.
const maxBodyBytes = 10 << 20

// Client issues credential-free GETs with redirect following and HTTP
// caching semantics left to the transport.
type Client struct {
	userAgent string
	http      *http.Client
}

func New(userAgent string) *Client {
	return &Client{
		userAgent: userAgent,
		// No cookie jar: requests carry no credentials.
		http: &http.Client{},
	}
}

// Get fetches url within timeout and validates the response's declared
// content type against acceptedTypes. Failures come back as *Error with a
// classified Kind.
func (c *Client) Get(ctx context.Context, url string, timeout time.Duration, accept string, acceptedTypes []string) (Document, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Document{}, &Error{Kind: KindUnknown, URL: url, err: err}
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return Document{}, &Error{Kind: classify(ctx, err), URL: url, err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Document{}, &Error{Kind: KindStatus, URL: url, Status: resp.StatusCode}
	}

	contentType := resp.Header.Get("Content-Type")
	if !acceptable(contentType, acceptedTypes) {
		return Document{}, &Error{Kind: KindContentType, URL: url, ContentType: contentType}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Document{}, &Error{Kind: classify(ctx, err), URL: url, err: err}
	}

	finalURL := url
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return Document{
		Body:         body,
		FinalURL:     finalURL,
		ContentType:  contentType,
		LastModified: resp.Header.Get("Last-Modified"),
	}, nil
}

// Feed fetches a feed document.
func (c *Client) Feed(ctx context.Context, url string, timeout time.Duration) (Document, error) {
	return c.Get(ctx, url, timeout, AcceptFeed, FeedTypes)
}

// Page fetches a linked HTML page.
func (c *Client) Page(ctx context.Context, url string, timeout time.Duration) (Document, error) {
	return c.Get(ctx, url, timeout, AcceptHTML, HTMLTypes)
}

func classify(ctx context.Context, err error) Kind {
	// The request context cancels for two reasons: our own deadline, or
	// the caller aborting the batch. Tell them apart by the cause.
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		return KindAbort
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindUnknown
}

func acceptable(contentType string, accepted []string) bool {
	ct := strings.ToLower(contentType)
	for _, want := range accepted {
		if strings.Contains(ct, strings.ToLower(want)) {
			return true
		}
	}
	return false
}
