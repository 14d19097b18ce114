package pipeline

// ProcessRequest represents a request to resize stored content asynchronously
type ProcessRequest struct {
	ContentID     string            `json:"content_id"`
	Job           string            `json:"job"` // resize
	Sizes         []string          `json:"sizes"`
	UploadURL     string            `json:"upload_url,omitempty"`
	ContentType   string            `json:"content_type,omitempty"`
	MinDifference *float64          `json:"min_difference,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// ProcessResponse represents the response from triggering processing
type ProcessResponse struct {
	RunID           string `json:"run_id"`
	DedupeSeenCount int    `json:"dedupe_seen_count"`
}

// ResizeResult describes one produced variant. Size is the encoded byte
// length of the variant, not of the source image.
type ResizeResult struct {
	Width   int `json:"width"`
	Height  int `json:"height"`
	Size    int `json:"size"`
	Quality int `json:"quality"`
}

// JobType constants
const (
	JobResize = "resize"
)

// DerivedType constants (match simple-content conventions)
const (
	DerivedTypeResized = "resized"
)

// Supported output content types
const (
	ContentTypeJPEG = "image/jpeg"
	ContentTypePNG  = "image/png"
)

// DefaultMinDifference is used when no threshold is given or it cannot be parsed.
const DefaultMinDifference = 0.20
