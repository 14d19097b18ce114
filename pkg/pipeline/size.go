package pipeline

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var sizePattern = regexp.MustCompile(`^(\d*)x(\d*)?q(\d+)$`)

// SizeSpec is one requested output variant. A nil Width or Height leaves
// that axis unconstrained; both nil means re-encode at the original size.
type SizeSpec struct {
	Width   *int
	Height  *int
	Quality int
}

// NewSizeSpec builds a SizeSpec. A width or height of 0 or less leaves that
// axis unconstrained. This differs from ParseSize, where an explicit "0"
// is a constrained axis (the resize clamps it to 1 pixel); build the struct
// directly to express that.
func NewSizeSpec(width, height, quality int) SizeSpec {
	s := SizeSpec{Quality: quality}
	if width > 0 {
		s.Width = &width
	}
	if height > 0 {
		s.Height = &height
	}
	return s
}

// ParseSize parses the "<width?>x<height?>q<quality>" form.
func ParseSize(str string) (SizeSpec, error) {
	m := sizePattern.FindStringSubmatch(str)
	if m == nil {
		return SizeSpec{}, fmt.Errorf("could not parse size %q", str)
	}

	width, err := parseOptionalInt(m[1])
	if err != nil {
		return SizeSpec{}, fmt.Errorf("could not parse size %q: %w", str, err)
	}
	height, err := parseOptionalInt(m[2])
	if err != nil {
		return SizeSpec{}, fmt.Errorf("could not parse size %q: %w", str, err)
	}
	quality, err := strconv.Atoi(m[3])
	if err != nil {
		return SizeSpec{}, fmt.Errorf("could not parse size %q: %w", str, err)
	}

	return SizeSpec{Width: width, Height: height, Quality: quality}, nil
}

// ParseSizes parses every entry, stopping at the first malformed one.
func ParseSizes(values []string) ([]SizeSpec, error) {
	specs := make([]SizeSpec, 0, len(values))
	for _, v := range values {
		spec, err := ParseSize(v)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func parseOptionalInt(s string) (*int, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// HasWidth reports whether the width axis is constrained.
func (s SizeSpec) HasWidth() bool { return s.Width != nil }

// HasHeight reports whether the height axis is constrained.
func (s SizeSpec) HasHeight() bool { return s.Height != nil }

// String renders the canonical textual form, e.g. "100xq80".
func (s SizeSpec) String() string {
	var b strings.Builder
	if s.Width != nil {
		b.WriteString(strconv.Itoa(*s.Width))
	}
	b.WriteByte('x')
	if s.Height != nil {
		b.WriteString(strconv.Itoa(*s.Height))
	}
	b.WriteByte('q')
	b.WriteString(strconv.Itoa(s.Quality))
	return b.String()
}

// ParseMinDifference parses a fractional threshold, falling back to
// DefaultMinDifference when raw is empty or not a number.
func ParseMinDifference(raw string) float64 {
	return ParseMinDifferenceOr(raw, DefaultMinDifference)
}

// ParseMinDifferenceOr is ParseMinDifference with a caller supplied fallback.
func ParseMinDifferenceOr(raw string, fallback float64) float64 {
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return fallback
	}
	return v
}
