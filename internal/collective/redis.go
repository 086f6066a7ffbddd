package collective

import (
	"context"
	"fmt"

	"github.com/dyluth/diffuse/internal/partition"
	"github.com/dyluth/diffuse/pkg/raster"
	"github.com/dyluth/diffuse/pkg/rendezvous"
)

// RedisComm is one rank of a group whose ranks are separate processes
// sharing a Redis server.
type RedisComm struct {
	client *rendezvous.Client
	rank   int
	size   int
}

var _ Communicator = (*RedisComm)(nil)

// NewRedisComm wraps client as rank of a group of size ranks.
// The communicator takes ownership of the client and closes it on Close.
func NewRedisComm(client *rendezvous.Client, rank, size int) (*RedisComm, error) {
	if size < 1 {
		return nil, fmt.Errorf("group size must be at least 1, got %d", size)
	}
	if rank < 0 || rank >= size {
		return nil, fmt.Errorf("rank %d out of range [0, %d)", rank, size)
	}
	return &RedisComm{client: client, rank: rank, size: size}, nil
}

func (c *RedisComm) Rank() int { return c.rank }
func (c *RedisComm) Size() int { return c.size }

// Client returns the underlying rendezvous client.
func (c *RedisComm) Client() *rendezvous.Client { return c.client }

// Broadcast publishes the start payload from the root or waits for it on
// every other rank.
func (c *RedisComm) Broadcast(ctx context.Context, start *Start) (*Start, error) {
	if c.rank == Root {
		if start == nil {
			return nil, fmt.Errorf("root rank must supply a start payload")
		}
		return start, c.publish(ctx, start)
	}
	return c.receive(ctx)
}

func (c *RedisComm) publish(ctx context.Context, start *Start) error {
	if err := c.client.Reset(ctx); err != nil {
		return err
	}

	if start.Failed {
		signal := &rendezvous.StartSignal{Status: rendezvous.StartStatusFailed, Reason: start.Reason}
		return c.client.PublishStart(ctx, signal, nil, c.size)
	}

	if start.Image == nil {
		return fmt.Errorf("start payload has neither an image nor a failure")
	}
	signal := &rendezvous.StartSignal{
		Status: rendezvous.StartStatusOK,
		Width:  start.Image.Width,
		Height: start.Image.Height,
	}
	return c.client.PublishStart(ctx, signal, start.Image.Pix, c.size)
}

func (c *RedisComm) receive(ctx context.Context) (*Start, error) {
	signal, err := c.client.AwaitStart(ctx, c.rank)
	if err != nil {
		return nil, err
	}
	if signal.Status == rendezvous.StartStatusFailed {
		return &Start{Failed: true, Reason: signal.Reason}, nil
	}

	pix, err := c.client.FetchImage(ctx, signal.Width*signal.Height*raster.Channels)
	if err != nil {
		return nil, err
	}
	img, err := raster.FromPixels(signal.Width, signal.Height, pix)
	if err != nil {
		return nil, fmt.Errorf("invalid broadcast image: %w", err)
	}
	return &Start{Image: img}, nil
}

// AllGatherV stores this rank's rows, waits for every peer, then copies each
// rank's rows into recv at its displacement.
func (c *RedisComm) AllGatherV(ctx context.Context, round int, send, recv []byte, table partition.Table) error {
	if err := checkBuffers(c.rank, send, recv, table); err != nil {
		return err
	}
	if table.Size() != c.size {
		return fmt.Errorf("%w: table has %d slots, group has %d ranks", ErrSizeMismatch, table.Size(), c.size)
	}

	if err := c.client.Contribute(ctx, round, c.rank, c.size, send); err != nil {
		return err
	}
	if err := c.client.AwaitPeers(ctx, round, c.rank, c.size); err != nil {
		return err
	}

	slices, err := c.client.FetchSlices(ctx, round, c.size)
	if err != nil {
		return err
	}
	for _, s := range table.Slots {
		data := slices[s.Rank]
		if len(data) != s.Count {
			return fmt.Errorf("%w: rank %d sent %d bytes in round %d, table expects %d",
				ErrSizeMismatch, s.Rank, len(data), round, s.Count)
		}
		copy(recv[s.Displacement:s.Displacement+s.Count], data)
	}
	return nil
}

// Close releases the Redis connection.
func (c *RedisComm) Close() error {
	return c.client.Close()
}
