// Package partition splits an image into horizontal bands, one per worker, and
// derives the exchange table every worker needs to reassemble the full image.
//
// All functions are pure: every worker computes the same plan for every rank
// from (height, workers) alone, so no communication is needed to agree on it.
package partition

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig marks a worker/image combination that cannot be planned.
var ErrInvalidConfig = errors.New("invalid configuration")

// Partition is one worker's band of rows.
type Partition struct {
	Rank       int
	TotalRows  int // image height
	LocalStart int // first row owned by this rank
	LocalRows  int // number of rows owned by this rank
}

// Validate checks that height rows can be split across workers so that every
// rank owns at least one row.
func Validate(height, workers int) error {
	if height < 1 {
		return fmt.Errorf("%w: image height must be positive, got %d", ErrInvalidConfig, height)
	}
	if workers < 1 {
		return fmt.Errorf("%w: worker count must be at least 1, got %d", ErrInvalidConfig, workers)
	}
	if workers > height {
		return fmt.Errorf("%w: worker count %d exceeds image height %d", ErrInvalidConfig, workers, height)
	}
	return nil
}

// Plan returns the band owned by rank. Rows are split as evenly as possible;
// the first height%workers ranks receive one extra row.
func Plan(height, workers, rank int) (Partition, error) {
	if err := Validate(height, workers); err != nil {
		return Partition{}, err
	}
	if rank < 0 || rank >= workers {
		return Partition{}, fmt.Errorf("%w: rank %d out of range [0, %d)", ErrInvalidConfig, rank, workers)
	}

	base := height / workers
	extra := height % workers

	p := Partition{Rank: rank, TotalRows: height}
	if rank < extra {
		p.LocalRows = base + 1
		p.LocalStart = rank * p.LocalRows
	} else {
		p.LocalRows = base
		p.LocalStart = rank*base + extra
	}
	return p, nil
}

// LocalEnd is one past the last row owned by the rank.
func (p Partition) LocalEnd() int {
	return p.LocalStart + p.LocalRows
}

// EffectiveStart is the first row this rank updates (row 0 is a border row).
func (p Partition) EffectiveStart() int {
	return max(p.LocalStart, 1)
}

// EffectiveEnd is one past the last row this rank updates (the last image row
// is a border row).
func (p Partition) EffectiveEnd() int {
	return min(p.LocalEnd(), p.TotalRows-1)
}

// EffectiveRows is the number of rows in the effective region. Bands that lie
// entirely on a border row have zero effective rows.
func (p Partition) EffectiveRows() int {
	return max(p.EffectiveEnd()-p.EffectiveStart(), 0)
}

func (p Partition) String() string {
	return fmt.Sprintf("rank %d rows [%d,%d) effective [%d,%d)",
		p.Rank, p.LocalStart, p.LocalEnd(), p.EffectiveStart(), p.EffectiveStart()+p.EffectiveRows())
}
