package resize

import (
	"math"

	"github.com/tendant/simple-resize-pipeline/pkg/pipeline"
)

// Outcome is the result of resizing for one size. When Resized is false no
// variant should be emitted and the other fields carry no meaning.
type Outcome struct {
	Resized bool
	Spec    pipeline.SizeSpec
	Width   int
	Height  int
	Quality int
	Size    int
	Payload []byte
}

// NotResized is returned when a resize is not worth producing.
var NotResized = Outcome{}

// Result returns the public record for a produced variant.
func (o Outcome) Result() pipeline.ResizeResult {
	return pipeline.ResizeResult{
		Width:   o.Width,
		Height:  o.Height,
		Size:    o.Size,
		Quality: o.Quality,
	}
}

// Decide computes whether an image of origWidth x origHeight should be
// resized for spec and to which dimensions. The closer axis binds and the
// other one follows the original aspect ratio. A resize is skipped when the
// binding axis would shrink by less than minDifference of its original size.
func Decide(origWidth, origHeight int, spec pipeline.SizeSpec, minDifference float64) Outcome {
	if origWidth <= 0 || origHeight <= 0 {
		return NotResized
	}

	if !spec.HasWidth() && !spec.HasHeight() {
		return Outcome{
			Resized: true,
			Spec:    spec,
			Width:   origWidth,
			Height:  origHeight,
			Quality: spec.Quality,
		}
	}

	// An absent axis never binds: it neither lowers the fractional delta
	// nor wins the binding-axis comparison.
	var widthDelta, heightDelta int
	fraction := math.Inf(1)
	if spec.HasWidth() {
		widthDelta = origWidth - *spec.Width
		fraction = math.Min(fraction, float64(widthDelta)/float64(origWidth))
	}
	if spec.HasHeight() {
		heightDelta = origHeight - *spec.Height
		fraction = math.Min(fraction, float64(heightDelta)/float64(origHeight))
	}

	if fraction < minDifference {
		return NotResized
	}

	widthBinds := spec.HasWidth() && (!spec.HasHeight() || widthDelta < heightDelta)

	var width, height int
	if widthBinds {
		width = *spec.Width
		height = scale(origHeight, width, origWidth)
	} else {
		height = *spec.Height
		width = scale(origWidth, height, origHeight)
	}

	return Outcome{
		Resized: true,
		Spec:    spec,
		Width:   max(width, 1),
		Height:  max(height, 1),
		Quality: spec.Quality,
	}
}

// scale returns round(value * num / den).
func scale(value, num, den int) int {
	return int(math.Round(float64(value) * float64(num) / float64(den)))
}
