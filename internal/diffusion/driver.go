package diffusion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dyluth/diffuse/internal/collective"
	"github.com/dyluth/diffuse/internal/partition"
	"github.com/dyluth/diffuse/internal/stencil"
	"github.com/dyluth/diffuse/pkg/raster"
	"golang.org/x/sync/errgroup"
)

// ErrDriverDone is returned by Step once every iteration has run.
var ErrDriverDone = errors.New("driver has completed all iterations")

// Driver runs the rounds of one worker.
//
// Each round copies the current snapshot into scratch, writes the stencil
// result for the worker's effective rows into scratch, then all-gathers every
// worker's effective rows into the current snapshot. The snapshot read by the
// stencil is never written during the same round.
type Driver struct {
	comm   collective.Communicator
	part   partition.Partition
	table  partition.Table
	params Params

	current *raster.Image
	scratch *raster.Image

	state    State
	round    int
	started  time.Time
	observer Observer
}

// NewDriver creates the driver for comm's rank. img must be the full input
// image as seen by every rank; the driver works on its own copy.
func NewDriver(img *raster.Image, comm collective.Communicator, params Params, opts ...Option) (*Driver, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
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

	d := &Driver{
		comm:    comm,
		part:    part,
		table:   table,
		params:  params,
		current: img.Clone(),
		scratch: img.Clone(),
		state:   StateInit,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// State returns the driver's lifecycle phase.
func (d *Driver) State() State { return d.state }

// Round returns the number of completed rounds.
func (d *Driver) Round() int { return d.round }

// Partition returns the band this driver owns.
func (d *Driver) Partition() partition.Partition { return d.part }

// Image returns the current snapshot. It is only stable between rounds.
func (d *Driver) Image() *raster.Image { return d.current }

// Run executes every remaining round and returns the final image.
func (d *Driver) Run(ctx context.Context) (*raster.Image, error) {
	for d.state != StateDone {
		if err := d.Step(ctx); err != nil {
			return nil, err
		}
	}
	return d.current, nil
}

// Step executes one round: local update followed by the global exchange.
func (d *Driver) Step(ctx context.Context) error {
	if d.state == StateDone {
		return ErrDriverDone
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.state == StateInit {
		d.started = time.Now()
		d.state = StateRound
	}

	if err := d.scratch.CopyFrom(d.current); err != nil {
		return err
	}

	start, end := d.part.EffectiveStart(), d.part.EffectiveEnd()
	if err := updateRows(d.current, d.scratch, start, end, d.params); err != nil {
		return fmt.Errorf("round %d: %w", d.round, err)
	}

	var send []byte
	if end > start {
		send = d.scratch.Rows(start, end)
	} else {
		send = []byte{}
	}

	if err := d.comm.AllGatherV(ctx, d.round, send, d.current.Pix, d.table); err != nil {
		return fmt.Errorf("round %d exchange: %w", d.round, err)
	}

	d.round++
	if d.observer != nil {
		d.observer(Progress{
			Rank:       d.comm.Rank(),
			Round:      d.round,
			Iterations: d.params.Iterations,
			Elapsed:    time.Since(d.started),
		})
	}
	if d.round == d.params.Iterations {
		d.state = StateDone
	}
	return nil
}

// updateRows applies the stencil to rows [start, end) of src, writing dst.
// Rows are split into contiguous chunks processed concurrently; the call
// returns once every chunk is written.
func updateRows(src, dst *raster.Image, start, end int, params Params) error {
	rows := end - start
	if rows <= 0 {
		return nil
	}

	threads := params.threads()
	if threads > rows {
		threads = rows
	}
	if threads == 1 {
		stencil.Apply(src, dst, start, end, params.Alpha)
		return nil
	}

	chunk := (rows + threads - 1) / threads
	var g errgroup.Group
	g.SetLimit(threads)
	for lo := start; lo < end; lo += chunk {
		hi := min(lo+chunk, end)
		g.Go(func() error {
			stencil.Apply(src, dst, lo, hi, params.Alpha)
			return nil
		})
	}
	return g.Wait()
}
