package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tendant/simple-resize-pipeline/pkg/pipeline"
)

// ErrUpload is returned by ResizeBatch when the server resized the image
// but failed to upload at least one variant.
var ErrUpload = errors.New("upload failed")

// Client is an HTTP client for the resize service
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new resize client
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// NewWithHTTPClient creates a new resize client with a custom HTTP client
func NewWithHTTPClient(baseURL string, httpClient *http.Client) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
	}
}

// StatusError is a response with an unexpected status code.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// RunStatus is the state of an async run
type RunStatus struct {
	RunID      string     `json:"run_id"`
	Workflow   string     `json:"workflow,omitempty"`
	State      string     `json:"state"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Process enqueues a resize of stored content
func (c *Client) Process(ctx context.Context, req pipeline.ProcessRequest) (*pipeline.ProcessResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/process", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	// 200 when the server runs workflows inline
	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var processResp pipeline.ProcessResponse
	if err := json.NewDecoder(resp.Body).Decode(&processResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &processResp, nil
}

// Status fetches the state of a run returned by Process
func (c *Client) Status(ctx context.Context, runID string) (*RunStatus, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/runs/"+url.PathEscape(runID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var status RunStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &status, nil
}

// Resize resizes image to a single size and returns the encoded variant.
// The result is nil when the server found the resize not worth producing.
func (c *Client) Resize(ctx context.Context, image []byte, contentType, size string, minDifference *float64) ([]byte, *pipeline.ResizeResult, error) {
	resp, err := c.postImage(ctx, image, contentType, []string{size}, minDifference, "")
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent:
		return nil, nil, nil
	case http.StatusOK:
	default:
		return nil, nil, statusError(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read image: %w", err)
	}

	result := &pipeline.ResizeResult{Size: len(data)}
	for header, dst := range map[string]*int{
		"X-Width":   &result.Width,
		"X-Height":  &result.Height,
		"X-Quality": &result.Quality,
	} {
		if *dst, err = strconv.Atoi(resp.Header.Get(header)); err != nil {
			return nil, nil, fmt.Errorf("invalid %s header: %w", header, err)
		}
	}
	return data, result, nil
}

// ResizeBatch resizes image to every size and has the server upload each
// variant to uploadURL. On upload failure the produced results are
// returned together with an error wrapping ErrUpload.
func (c *Client) ResizeBatch(ctx context.Context, image []byte, contentType string, sizes []string, uploadURL string, minDifference *float64) ([]pipeline.ResizeResult, error) {
	if uploadURL == "" {
		return nil, errors.New("upload URL is required")
	}
	resp, err := c.postImage(ctx, image, contentType, sizes, minDifference, uploadURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var results []pipeline.ResizeResult
		if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		return results, nil
	case http.StatusBadGateway:
		var failure struct {
			Results []pipeline.ResizeResult `json:"results"`
			Error   string                  `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&failure); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		return failure.Results, fmt.Errorf("%w: %s", ErrUpload, failure.Error)
	default:
		return nil, statusError(resp)
	}
}

func (c *Client) postImage(ctx context.Context, image []byte, contentType string, sizes []string, minDifference *float64, uploadURL string) (*http.Response, error) {
	q := url.Values{"size": sizes}
	if minDifference != nil {
		q.Set("diff", strconv.FormatFloat(*minDifference, 'f', -1, 64))
	}
	if uploadURL != "" {
		q.Set("upload-url", uploadURL)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/resize?"+q.Encode(), bytes.NewReader(image))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Accept", contentType)
	httpReq.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
}
