package rank

import (
	"fmt"
	"strconv"

	"github.com/dyluth/diffuse/internal/diffusion"
)

// Args are the four positional inputs every run takes.
type Args struct {
	InputPath  string
	OutputPath string
	Alpha      float32
	Iterations int
}

// Usage is the positional argument synopsis.
const Usage = "<input.ppm> <output.ppm> <alpha> <iterations>"

// ParseArgs parses and validates the positional arguments.
// Errors wrap diffusion.ErrInvalidConfig.
func ParseArgs(args []string) (Args, error) {
	if len(args) != 4 {
		return Args{}, fmt.Errorf("%w: expected 4 arguments (%s), got %d", diffusion.ErrInvalidConfig, Usage, len(args))
	}

	alpha, err := strconv.ParseFloat(args[2], 32)
	if err != nil {
		return Args{}, fmt.Errorf("%w: alpha %q is not a number", diffusion.ErrInvalidConfig, args[2])
	}

	iterations, err := strconv.Atoi(args[3])
	if err != nil {
		return Args{}, fmt.Errorf("%w: iterations %q is not an integer", diffusion.ErrInvalidConfig, args[3])
	}
	if iterations <= 0 {
		return Args{}, fmt.Errorf("%w: iterations must be positive, got %d", diffusion.ErrInvalidConfig, iterations)
	}

	return Args{
		InputPath:  args[0],
		OutputPath: args[1],
		Alpha:      float32(alpha),
		Iterations: iterations,
	}, nil
}

// Params returns the diffusion parameters for these arguments.
func (a Args) Params(threads int) diffusion.Params {
	return diffusion.Params{Alpha: a.Alpha, Iterations: a.Iterations, Threads: threads}
}
