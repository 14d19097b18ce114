package resize

import (
	"fmt"

	"github.com/tendant/simple-resize-pipeline/pkg/pipeline"
)

// Validation error locations
const (
	LocationBody    = "body"
	LocationQuery   = "query"
	LocationHeaders = "headers"
)

// ValidationError rejects caller input: a malformed image, size or missing
// parameter. Location and Field name where the problem is.
type ValidationError struct {
	Location string
	Field    string
	Message  string
	Err      error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Location, e.Field, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Location, e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Details renders the error as {"<location>": {"<field>": "<message>"}}.
func (e *ValidationError) Details() map[string]map[string]string {
	return map[string]map[string]string{
		e.Location: {e.Field: e.Message},
	}
}

// NewValidationError creates a ValidationError without a cause.
func NewValidationError(location, field, message string) *ValidationError {
	return &ValidationError{Location: location, Field: field, Message: message}
}

// Validation messages
const (
	ErrRequired = "Required"
	ErrBadImage = "Something wrong with incoming image"
	ErrBadSize  = `Incorrect size format. It should be "${width}x${height}q${quality}"`
)

// UnsupportedContentType is the message for an output format the codec cannot write.
func UnsupportedContentType(contentType string) string {
	return fmt.Sprintf("Content type %q is not supported", contentType)
}

// ParseSizes parses size values reported under location/field. Missing or
// malformed sizes are a *ValidationError.
func ParseSizes(location, field string, values []string) ([]pipeline.SizeSpec, error) {
	if len(values) == 0 {
		return nil, NewValidationError(location, field, ErrRequired)
	}
	specs, err := pipeline.ParseSizes(values)
	if err != nil {
		return nil, &ValidationError{Location: location, Field: field, Message: ErrBadSize, Err: err}
	}
	return specs, nil
}

// OutputCodec returns the codec for an output content type. An empty or
// unsupported type is a *ValidationError under location/field.
func OutputCodec(location, field, contentType string) (*ImagingCodec, error) {
	if contentType == "" {
		return nil, NewValidationError(location, field, ErrRequired)
	}
	codec, err := NewCodec(contentType)
	if err != nil {
		return nil, &ValidationError{Location: location, Field: field, Message: UnsupportedContentType(contentType), Err: err}
	}
	return codec, nil
}

// ProcessingError reports a codec failure on an accepted size after the
// source decoded successfully. It aborts the whole batch.
type ProcessingError struct {
	Spec pipeline.SizeSpec
	Op   string
	Err  error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Op, e.Spec, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }
