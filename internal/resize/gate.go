package resize

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// DefaultGateSize is the number of batches allowed to decode, resize and
// encode at the same time.
const DefaultGateSize = 3

// Gate bounds how many resize batches run concurrently. One Gate is shared
// by every request for the lifetime of the process.
type Gate struct {
	sem   *semaphore.Weighted
	size  int
	inUse atomic.Int64
}

// NewGate creates a gate with size permits. Sizes below 1 fall back to
// DefaultGateSize.
func NewGate(size int) *Gate {
	if size < 1 {
		size = DefaultGateSize
	}
	return &Gate{
		sem:  semaphore.NewWeighted(int64(size)),
		size: size,
	}
}

// Acquire waits for a permit. The returned release func must be called once
// the CPU-heavy work finishes; extra calls are no-ops. Acquire fails only
// when ctx is done before a permit frees.
func (g *Gate) Acquire(ctx context.Context) (release func(), err error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	g.inUse.Add(1)

	var once sync.Once
	return func() {
		once.Do(func() {
			g.inUse.Add(-1)
			g.sem.Release(1)
		})
	}, nil
}

// Size returns the number of permits.
func (g *Gate) Size() int { return g.size }

// InUse returns the number of permits currently held.
func (g *Gate) InUse() int { return int(g.inUse.Load()) }
