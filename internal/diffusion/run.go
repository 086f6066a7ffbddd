package diffusion

import (
	"context"
	"fmt"

	"github.com/dyluth/diffuse/internal/collective"
	"github.com/dyluth/diffuse/internal/partition"
	"github.com/dyluth/diffuse/internal/stencil"
	"github.com/dyluth/diffuse/pkg/raster"
	"golang.org/x/sync/errgroup"
)

// Serial runs the denoiser in a single worker without any exchange. It is the
// reference every distributed run must reproduce byte for byte.
func Serial(img *raster.Image, params Params) (*raster.Image, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if err := img.Validate(); err != nil {
		return nil, fmt.Errorf("invalid input image: %w", err)
	}

	current := img.Clone()
	scratch := img.Clone()
	for i := 0; i < params.Iterations; i++ {
		copy(scratch.Pix, current.Pix)
		stencil.Apply(current, scratch, 1, img.Height-1, params.Alpha)
		copy(current.Pix, scratch.Pix)
	}
	return current, nil
}

// RunLocal runs workers drivers as goroutines of this process, connected by an
// in-process collective group, and returns the coordinator's final image.
// The input image is not modified.
func RunLocal(ctx context.Context, img *raster.Image, params Params, workers int, opts ...Option) (*raster.Image, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if err := img.Validate(); err != nil {
		return nil, fmt.Errorf("invalid input image: %w", err)
	}
	if err := partition.Validate(img.Height, workers); err != nil {
		return nil, err
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

			d, err := NewDriver(start, comm, params, opts...)
			if err != nil {
				return fmt.Errorf("rank %d: %w", rank, err)
			}
			out, err := d.Run(gctx)
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
