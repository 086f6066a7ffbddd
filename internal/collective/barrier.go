package collective

import (
	"context"
	"fmt"
	"sync"
)

// Barrier is a reusable rendezvous point for a fixed number of goroutines.
type Barrier struct {
	mu      sync.Mutex
	parties int
	waiting int
	release chan struct{}
}

// NewBarrier creates a barrier for parties goroutines.
func NewBarrier(parties int) *Barrier {
	return &Barrier{
		parties: parties,
		release: make(chan struct{}),
	}
}

// Wait blocks until parties goroutines have called Wait for the current
// generation, or ctx is done. A cancelled waiter leaves the barrier broken for
// that generation; callers are expected to abandon the whole group.
func (b *Barrier) Wait(ctx context.Context) error {
	b.mu.Lock()
	release := b.release
	b.waiting++
	if b.waiting == b.parties {
		b.waiting = 0
		b.release = make(chan struct{})
		b.mu.Unlock()
		close(release)
		return nil
	}
	b.mu.Unlock()

	select {
	case <-release:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("barrier wait abandoned: %w", ctx.Err())
	}
}
