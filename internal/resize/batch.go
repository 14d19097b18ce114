package resize

import (
	"context"
	"errors"
	"fmt"
	"image"
	"iter"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/tendant/simple-resize-pipeline/pkg/pipeline"
)

// Resizer turns one source image into resized variants while holding a
// permit of the shared gate.
type Resizer struct {
	gate *Gate
}

// NewResizer creates a resizer bounded by gate.
func NewResizer(gate *Gate) *Resizer {
	return &Resizer{gate: gate}
}

// Gate returns the gate bounding this resizer.
func (r *Resizer) Gate() *Gate { return r.gate }

// Batch is one decoded source image with its pending sizes, widest first.
// A Batch holds a gate permit until its outcomes are exhausted or Close is
// called; callers should always defer Close.
type Batch struct {
	codec   Codec
	source  image.Image
	width   int
	height  int
	plan    []Outcome
	release func()

	mu     sync.Mutex
	used   bool
	closed bool
}

// Open acquires a gate permit, decodes data once and plans every spec.
// A decode failure is a *ValidationError and leaves no permit held.
func (r *Resizer) Open(ctx context.Context, codec Codec, data []byte, specs []pipeline.SizeSpec, minDifference float64) (*Batch, error) {
	if len(data) == 0 {
		return nil, NewValidationError(LocationBody, "image", ErrRequired)
	}

	release, err := r.gate.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire resize permit: %w", err)
	}

	source, err := codec.Decode(data)
	if err != nil {
		release()
		return nil, &ValidationError{Location: LocationBody, Field: "image", Message: ErrBadImage, Err: err}
	}

	b := source.Bounds()
	plan := make([]Outcome, 0, len(specs))
	for _, spec := range specs {
		outcome := Decide(b.Dx(), b.Dy(), spec, minDifference)
		log.Debug().
			Str("size", spec.String()).
			Int("orig_width", b.Dx()).
			Int("orig_height", b.Dy()).
			Bool("resized", outcome.Resized).
			Int("width", outcome.Width).
			Int("height", outcome.Height).
			Msg("Resize decision")
		plan = append(plan, outcome)
	}
	sort.SliceStable(plan, func(i, j int) bool {
		return plan[i].Width > plan[j].Width
	})

	return &Batch{
		codec:   codec,
		source:  source,
		width:   b.Dx(),
		height:  b.Dy(),
		plan:    plan,
		release: release,
	}, nil
}

// SourceSize returns the decoded source dimensions.
func (b *Batch) SourceSize() (width, height int) {
	return b.width, b.height
}

// Skipped returns how many specs fell under the threshold.
func (b *Batch) Skipped() int {
	n := 0
	for _, o := range b.plan {
		if !o.Resized {
			n++
		}
	}
	return n
}

// Exclude drops planned variants for which drop returns true, before any of
// them is encoded. It returns how many were dropped and does nothing once
// Outcomes has started.
func (b *Batch) Exclude(drop func(Outcome) bool) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.used || b.closed {
		return 0
	}

	kept := b.plan[:0]
	n := 0
	for _, o := range b.plan {
		if o.Resized && drop(o) {
			n++
			continue
		}
		kept = append(kept, o)
	}
	b.plan = kept
	return n
}

// Outcomes yields produced variants widest first, encoding each one only
// when it is pulled. Skipped sizes are never yielded. The first error ends
// the sequence. The permit is released as soon as iteration stops.
// Outcomes can be ranged over only once.
func (b *Batch) Outcomes() iter.Seq2[Outcome, error] {
	return func(yield func(Outcome, error) bool) {
		b.mu.Lock()
		if b.used || b.closed {
			b.mu.Unlock()
			yield(NotResized, errors.New("batch outcomes already consumed"))
			return
		}
		b.used = true
		b.mu.Unlock()

		defer b.Close()

		for _, planned := range b.plan {
			if !planned.Resized {
				continue
			}
			outcome, err := b.produce(planned)
			if err != nil {
				yield(NotResized, err)
				return
			}
			if !yield(outcome, nil) {
				return
			}
		}
	}
}

// Close releases the gate permit and drops the decoded image. It is safe
// to call more than once.
func (b *Batch) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.release()
	b.source = nil
}

func (b *Batch) produce(planned Outcome) (Outcome, error) {
	resized, err := b.codec.Resize(b.source, planned.Width, planned.Height)
	if err != nil {
		return NotResized, &ProcessingError{Spec: planned.Spec, Op: "resize", Err: err}
	}
	if resized == nil {
		return NotResized, &ProcessingError{Spec: planned.Spec, Op: "resize", Err: errors.New("codec returned no image")}
	}

	payload, err := b.codec.Encode(resized, planned.Quality)
	if err != nil {
		return NotResized, &ProcessingError{Spec: planned.Spec, Op: "encode", Err: err}
	}

	planned.Payload = payload
	planned.Size = len(payload)
	return planned, nil
}

// ResizeOne resizes data for a single spec. A skipped size returns
// NotResized with a nil error.
func (r *Resizer) ResizeOne(ctx context.Context, codec Codec, data []byte, spec pipeline.SizeSpec, minDifference float64) (Outcome, error) {
	batch, err := r.Open(ctx, codec, data, []pipeline.SizeSpec{spec}, minDifference)
	if err != nil {
		return NotResized, err
	}
	defer batch.Close()

	for outcome, err := range batch.Outcomes() {
		if err != nil {
			return NotResized, err
		}
		return outcome, nil
	}
	return NotResized, nil
}
