package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/tendant/simple-resize-pipeline/pkg/pipeline"
)

// HTTPDerivedWriter stores resized variants via the simple-content HTTP API
type HTTPDerivedWriter struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPDerivedWriter creates a new HTTP-based derived content writer
func NewHTTPDerivedWriter(baseURL string) *HTTPDerivedWriter {
	return &HTTPDerivedWriter{
		baseURL:    baseURL,
		httpClient: &http.Client{},
	}
}

type derivedItem struct {
	ID             string `json:"id"`
	DerivationType string `json:"derivation_type"`
	Variant        string `json:"variant"`
}

type createDerivedRequest struct {
	ParentID       string   `json:"parent_id"`
	DerivationType string   `json:"derivation_type"`
	Variant        string   `json:"variant"`
	FileName       string   `json:"file_name"`
	MimeType       string   `json:"mime_type,omitempty"`
	Tags           []string `json:"tags"`
	ContentData    string   `json:"content_data"` // base64
}

// ListVariants implements VariantStore
func (dw *HTTPDerivedWriter) ListVariants(ctx context.Context, contentID string) ([]string, error) {
	q := url.Values{}
	q.Set("derivation_type", pipeline.DerivedTypeResized)
	endpoint := fmt.Sprintf("%s/api/v1/contents/%s/derived?%s", dw.baseURL, contentID, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := dw.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list derived content: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list derived failed with status %d", resp.StatusCode)
	}

	var items []derivedItem
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("failed to decode derived list: %w", err)
	}

	var variants []string
	for _, d := range items {
		if d.DerivationType == pipeline.DerivedTypeResized {
			variants = append(variants, d.Variant)
		}
	}
	return variants, nil
}

// PutVariant implements VariantStore
func (dw *HTTPDerivedWriter) PutVariant(ctx context.Context, contentID string, variant string, r io.Reader, meta VariantMeta) (string, error) {
	fileName := meta.FileName
	if fileName == "" {
		fileName = VariantFileName(variant, meta.ContentType)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read content: %w", err)
	}

	jsonData, err := json.Marshal(createDerivedRequest{
		ParentID:       contentID,
		DerivationType: pipeline.DerivedTypeResized,
		Variant:        variant,
		FileName:       fileName,
		MimeType:       meta.ContentType,
		Tags:           []string{pipeline.DerivedTypeResized, variant},
		ContentData:    base64.StdEncoding.EncodeToString(data),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/v1/contents/%s/derived", dw.baseURL, contentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := dw.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to create derived content: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("create derived failed with status %d: %s", resp.StatusCode, string(body))
	}

	var created derivedItem
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("no ID in response")
	}

	return created.ID, nil
}
