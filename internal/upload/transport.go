// Package upload pushes produced variants to templated destinations.
package upload

import (
	"context"
	"fmt"
	"net/url"
)

// Transport stores one encoded variant at url.
type Transport interface {
	Put(ctx context.Context, url string, contentType string, body []byte) error
}

// UploadError reports a failed PUT of one variant.
type UploadError struct {
	URL        string
	StatusCode int
	Body       string
	Err        error
}

func (e *UploadError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("upload PUT %s failed: %v", e.URL, e.Err)
	case e.Body != "":
		return fmt.Sprintf("upload PUT %s failed with status %d: %s", e.URL, e.StatusCode, e.Body)
	default:
		return fmt.Sprintf("upload PUT %s failed with status %d", e.URL, e.StatusCode)
	}
}

func (e *UploadError) Unwrap() error { return e.Err }

// SchemeRouter dispatches to a transport by URL scheme.
type SchemeRouter struct {
	transports map[string]Transport
}

// NewSchemeRouter creates an empty router.
func NewSchemeRouter() *SchemeRouter {
	return &SchemeRouter{transports: make(map[string]Transport)}
}

// Handle registers t for the given schemes.
func (r *SchemeRouter) Handle(t Transport, schemes ...string) *SchemeRouter {
	for _, s := range schemes {
		r.transports[s] = t
	}
	return r
}

// Supports reports whether rawURL has a registered scheme.
func (r *SchemeRouter) Supports(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	_, ok := r.transports[u.Scheme]
	return ok
}

// Put implements Transport.
func (r *SchemeRouter) Put(ctx context.Context, rawURL string, contentType string, body []byte) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return &UploadError{URL: rawURL, Err: fmt.Errorf("invalid url: %w", err)}
	}
	t, ok := r.transports[u.Scheme]
	if !ok {
		return &UploadError{URL: rawURL, Err: fmt.Errorf("unsupported scheme %q", u.Scheme)}
	}
	return t.Put(ctx, rawURL, contentType, body)
}
