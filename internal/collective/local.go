package collective

import (
	"context"
	"fmt"
	"sync"

	"github.com/dyluth/diffuse/internal/partition"
)

// LocalGroup connects size ranks running as goroutines in one process.
//
// Ranks write their contribution into a shared staging buffer at the slot's
// displacement, wait on a barrier, then copy every slot into their own receive
// buffer. Staging buffers alternate by round parity: a rank that races ahead to
// round k+1 writes the other buffer, and cannot reach round k+2 until every
// rank has finished reading round k.
type LocalGroup struct {
	size    int
	barrier *Barrier

	stageOnce sync.Once
	staging   [2][]byte

	start      *Start
	startReady chan struct{}
}

// NewLocalGroup creates an in-process group of size ranks.
func NewLocalGroup(size int) (*LocalGroup, error) {
	if size < 1 {
		return nil, fmt.Errorf("group size must be at least 1, got %d", size)
	}
	return &LocalGroup{
		size:       size,
		barrier:    NewBarrier(size),
		startReady: make(chan struct{}),
	}, nil
}

// Size returns the number of ranks in the group.
func (g *LocalGroup) Size() int {
	return g.size
}

// Comm returns the communicator for rank.
func (g *LocalGroup) Comm(rank int) (*LocalComm, error) {
	if rank < 0 || rank >= g.size {
		return nil, fmt.Errorf("rank %d out of range [0, %d)", rank, g.size)
	}
	return &LocalComm{group: g, rank: rank}, nil
}

// LocalComm is one rank's view of a LocalGroup.
type LocalComm struct {
	group *LocalGroup
	rank  int
}

var _ Communicator = (*LocalComm)(nil)

func (c *LocalComm) Rank() int { return c.rank }
func (c *LocalComm) Size() int { return c.group.size }

// Broadcast publishes the root's payload and hands every other rank a private
// copy of the image.
func (c *LocalComm) Broadcast(ctx context.Context, start *Start) (*Start, error) {
	g := c.group
	if c.rank == Root {
		if start == nil {
			return nil, fmt.Errorf("root rank must supply a start payload")
		}
		g.start = start
		close(g.startReady)
		return start, nil
	}

	select {
	case <-g.startReady:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for start signal: %w", ctx.Err())
	}

	out := &Start{Failed: g.start.Failed, Reason: g.start.Reason}
	if g.start.Image != nil {
		out.Image = g.start.Image.Clone()
	}
	return out, nil
}

// AllGatherV exchanges this round's effective rows with every other rank.
func (c *LocalComm) AllGatherV(ctx context.Context, round int, send, recv []byte, table partition.Table) error {
	if err := checkBuffers(c.rank, send, recv, table); err != nil {
		return err
	}

	g := c.group
	g.stageOnce.Do(func() {
		g.staging[0] = make([]byte, len(recv))
		g.staging[1] = make([]byte, len(recv))
	})
	stage := g.staging[round%2]

	slot := table.Slot(c.rank)
	copy(stage[slot.Displacement:slot.Displacement+slot.Count], send)

	if err := g.barrier.Wait(ctx); err != nil {
		return fmt.Errorf("round %d: %w", round, err)
	}

	for _, s := range table.Slots {
		copy(recv[s.Displacement:s.Displacement+s.Count], stage[s.Displacement:s.Displacement+s.Count])
	}
	return nil
}

// Close is a no-op; the group holds no external resources.
func (c *LocalComm) Close() error {
	return nil
}
