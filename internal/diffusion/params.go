// Package diffusion drives the iterative denoiser. A Driver owns one worker's
// view of the image and alternates a local stencil pass over its band with a
// global exchange that makes every worker's rows visible to every other.
package diffusion

import (
	"fmt"
	"runtime"
	"time"

	"github.com/dyluth/diffuse/internal/partition"
)

// ErrInvalidConfig is returned for parameters rejected before any computation.
var ErrInvalidConfig = partition.ErrInvalidConfig

// Params controls a run. Alpha is not range-checked: values outside [0, 1]
// extrapolate and the result is clamped per channel.
type Params struct {
	Alpha      float32
	Iterations int
	Threads    int // goroutines per worker for the stencil pass; 0 means GOMAXPROCS
}

// Validate checks the parameters.
func (p Params) Validate() error {
	if p.Iterations <= 0 {
		return fmt.Errorf("%w: iterations must be positive, got %d", ErrInvalidConfig, p.Iterations)
	}
	if p.Threads < 0 {
		return fmt.Errorf("%w: threads must not be negative, got %d", ErrInvalidConfig, p.Threads)
	}
	return nil
}

func (p Params) threads() int {
	if p.Threads > 0 {
		return p.Threads
	}
	return runtime.GOMAXPROCS(0)
}

// State is the lifecycle phase of a Driver.
type State int

const (
	StateInit State = iota
	StateRound
	StateDone
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateRound:
		return "round"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Progress is reported to an Observer after every completed exchange.
type Progress struct {
	Rank       int
	Round      int // completed rounds, 1-based
	Iterations int
	Elapsed    time.Duration // since the first round started
}

// Observer receives progress from a Driver. It is called on the driver's
// goroutine and must not block for long.
type Observer func(Progress)

// Option configures a Driver.
type Option func(*Driver)

// WithObserver registers fn to be called after every round. With RunLocal the
// same observer is shared by every rank and must be safe for concurrent use.
func WithObserver(fn Observer) Option {
	return func(d *Driver) {
		d.observer = fn
	}
}
