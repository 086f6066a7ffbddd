// Package median implements a 3x3 per-channel median filter. Like the
// diffusion driver it can run in one worker or split rows across a worker
// group, but it is a single pass with one exchange and no feedback loop.
package median

import (
	"context"
	"fmt"
	"runtime"
	"slices"

	"github.com/dyluth/diffuse/internal/collective"
	"github.com/dyluth/diffuse/internal/partition"
	"github.com/dyluth/diffuse/pkg/raster"
	"golang.org/x/sync/errgroup"
)

// Value returns the median of channel c over the 3x3 neighbourhood of the
// interior pixel (y, x).
func Value(src *raster.Image, y, x, c int) uint8 {
	var window [9]uint8
	i := 0
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			window[i] = src.At(y+dy, x+dx, c)
			i++
		}
	}
	slices.Sort(window[:])
	return window[4]
}

// Apply writes Value for every interior column and channel of rows
// [rowStart, rowEnd) of src into dst. src is never written.
func Apply(src, dst *raster.Image, rowStart, rowEnd int) {
	for y := rowStart; y < rowEnd; y++ {
		for x := 1; x < src.Width-1; x++ {
			for c := 0; c < raster.Channels; c++ {
				dst.Set(y, x, c, Value(src, y, x, c))
			}
		}
	}
}

// Serial filters img in a single worker. Border pixels are copied unchanged.
// The input image is not modified.
func Serial(img *raster.Image) (*raster.Image, error) {
	if err := img.Validate(); err != nil {
		return nil, fmt.Errorf("invalid input image: %w", err)
	}
	out := img.Clone()
	Apply(img, out, 1, img.Height-1)
	return out, nil
}

// Filter runs comm's share of the filter and gathers every rank's rows.
// img must be the full input as seen by every rank. threads bounds the
// goroutines used for this rank's rows; zero means GOMAXPROCS.
func Filter(ctx context.Context, img *raster.Image, comm collective.Communicator, threads int) (*raster.Image, error) {
	if err := img.Validate(); err != nil {
		return nil, fmt.Errorf("invalid input image: %w", err)
	}
	part, err := partition.Plan(img.Height, comm.Size(), comm.Rank())
	if err != nil {
		return nil, err
	}
	table, err := partition.BuildTable(img.Width, img.Height, comm.Size())
	if err != nil {
		return nil, err
	}

	scratch := img.Clone()
	start, end := part.EffectiveStart(), part.EffectiveEnd()
	if err := applyRows(img, scratch, start, end, threads); err != nil {
		return nil, err
	}

	send := []byte{}
	if end > start {
		send = scratch.Rows(start, end)
	}

	out := img.Clone()
	if err := comm.AllGatherV(ctx, 0, send, out.Pix, table); err != nil {
		return nil, fmt.Errorf("median exchange: %w", err)
	}
	return out, nil
}

// RunLocal filters img with workers in-process ranks and returns the
// coordinator's result.
func RunLocal(ctx context.Context, img *raster.Image, workers, threads int) (*raster.Image, error) {
	if err := img.Validate(); err != nil {
		return nil, fmt.Errorf("invalid input image: %w", err)
	}
	if err := partition.Validate(img.Height, workers); err != nil {
		return nil, err
	}
	if threads < 0 {
		return nil, fmt.Errorf("%w: threads must not be negative, got %d", partition.ErrInvalidConfig, threads)
	}

	group, err := collective.NewLocalGroup(workers)
	if err != nil {
		return nil, err
	}

	results := make([]*raster.Image, workers)
	g, gctx := errgroup.WithContext(ctx)
	for rank := 0; rank < workers; rank++ {
		g.Go(func() error {
			comm, err := group.Comm(rank)
			if err != nil {
				return err
			}
			defer comm.Close()

			var in *raster.Image
			if rank == collective.Root {
				in = img
			}
			start, err := collective.Bootstrap(gctx, comm, in, nil)
			if err != nil {
				return fmt.Errorf("rank %d: %w", rank, err)
			}
			out, err := Filter(gctx, start, comm, threads)
			if err != nil {
				return fmt.Errorf("rank %d: %w", rank, err)
			}
			results[rank] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results[collective.Root], nil
}

func applyRows(src, dst *raster.Image, start, end, threads int) error {
	rows := end - start
	if rows <= 0 {
		return nil
	}
	if threads <= 0 {
		threads = runtime.GOMAXPROCS(0)
	}
	threads = min(threads, rows)

	chunk := (rows + threads - 1) / threads
	var g errgroup.Group
	g.SetLimit(threads)
	for lo := start; lo < end; lo += chunk {
		hi := min(lo+chunk, end)
		g.Go(func() error {
			Apply(src, dst, lo, hi)
			return nil
		})
	}
	return g.Wait()
}
