package collective

import (
	"context"
	"time"

	"github.com/dyluth/diffuse/internal/partition"
)

// WithTimeout bounds every Broadcast and AllGatherV call of comm by d.
// A non-positive d returns comm unchanged.
func WithTimeout(comm Communicator, d time.Duration) Communicator {
	if d <= 0 {
		return comm
	}
	return &timeoutComm{Communicator: comm, timeout: d}
}

type timeoutComm struct {
	Communicator
	timeout time.Duration
}

func (c *timeoutComm) Broadcast(ctx context.Context, start *Start) (*Start, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.Communicator.Broadcast(ctx, start)
}

func (c *timeoutComm) AllGatherV(ctx context.Context, round int, send, recv []byte, table partition.Table) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.Communicator.AllGatherV(ctx, round, send, recv, table)
}
