package upload

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"
)

// maxErrorBody bounds how much of a failed response is kept.
const maxErrorBody = 4 << 10

// HTTPTransport uploads with an HTTP PUT.
type HTTPTransport struct {
	httpClient *http.Client
}

// NewHTTPTransport creates a transport with the given request timeout.
func NewHTTPTransport(timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// NewHTTPTransportWithClient creates a transport with a custom HTTP client.
func NewHTTPTransportWithClient(httpClient *http.Client) *HTTPTransport {
	return &HTTPTransport{httpClient: httpClient}
}

// Put implements Transport.
func (t *HTTPTransport) Put(ctx context.Context, url string, contentType string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return &UploadError{URL: url, Err: err}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return &UploadError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &UploadError{URL: url, StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
