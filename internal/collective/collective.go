// Package collective defines the group communication primitives the diffusion
// driver relies on: a one-time start broadcast from the coordinator and a
// per-round variable-length all-gather.
//
// Two implementations exist. LocalGroup runs every rank as a goroutine in one
// process and exchanges through shared staging buffers. RedisComm runs each
// rank as a separate process and exchanges through a Redis server.
package collective

import (
	"context"
	"errors"
	"fmt"

	"github.com/dyluth/diffuse/internal/partition"
	"github.com/dyluth/diffuse/pkg/raster"
)

// Root is the coordinator rank. It alone performs file I/O.
const Root = 0

var (
	// ErrCoordinatorFailed is returned on every non-root rank when the
	// coordinator signalled that it could not load the input or write the
	// output.
	ErrCoordinatorFailed = errors.New("coordinator failed")

	// ErrSizeMismatch is returned when a buffer does not match the exchange table.
	ErrSizeMismatch = errors.New("buffer size does not match exchange table")
)

// Start is the payload of the startup broadcast. Either Image is set, or
// Failed is true and Reason explains why.
type Start struct {
	Failed bool
	Reason string
	Image  *raster.Image
}

// Communicator is one rank's handle on a fixed-size worker group.
// Every rank must call the collective methods the same number of times with
// the same round numbers and the same exchange table.
type Communicator interface {
	Rank() int
	Size() int

	// Broadcast distributes the root's start payload to every rank. Non-root
	// callers pass nil. Every rank receives its own copy of the image.
	Broadcast(ctx context.Context, start *Start) (*Start, error)

	// AllGatherV contributes send (this rank's effective rows) and fills every
	// rank's slot of recv at the displacement recorded in table. It returns
	// only after all ranks have contributed for round.
	AllGatherV(ctx context.Context, round int, send, recv []byte, table partition.Table) error

	Close() error
}

// Bootstrap runs the startup broadcast. The root passes the loaded image, or
// the error that prevented loading it; other ranks pass nil for both.
//
// If the root failed, every rank returns an error and no rank may proceed to
// AllGatherV.
func Bootstrap(ctx context.Context, comm Communicator, img *raster.Image, loadErr error) (*raster.Image, error) {
	if comm.Rank() == Root {
		start := &Start{Image: img}
		if loadErr != nil {
			start = &Start{Failed: true, Reason: loadErr.Error()}
		}
		if _, err := comm.Broadcast(ctx, start); err != nil {
			return nil, fmt.Errorf("failed to broadcast start signal: %w", err)
		}
		if loadErr != nil {
			return nil, loadErr
		}
		return img, nil
	}

	start, err := comm.Broadcast(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to receive start signal: %w", err)
	}
	if start.Failed {
		return nil, fmt.Errorf("%w: %s", ErrCoordinatorFailed, start.Reason)
	}
	return start.Image, nil
}

// checkBuffers validates a contribution against the table before any data moves.
func checkBuffers(rank int, send, recv []byte, table partition.Table) error {
	if err := table.Check(rank, len(send)); err != nil {
		return fmt.Errorf("%w: %v", ErrSizeMismatch, err)
	}
	if len(recv) != table.TotalBytes() {
		return fmt.Errorf("%w: receive buffer is %d bytes, table expects %d", ErrSizeMismatch, len(recv), table.TotalBytes())
	}
	return nil
}
