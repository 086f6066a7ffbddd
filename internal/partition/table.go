package partition

import (
	"fmt"

	"github.com/samber/lo"
)

// BytesPerPixel is the RGB stride used for counts and displacements.
const BytesPerPixel = 3

// Slot describes where one rank's contribution lands in the gathered image.
// Count and Displacement are in bytes.
type Slot struct {
	Rank           int `json:"rank"`
	LocalStart     int `json:"local_start"`
	LocalEnd       int `json:"local_end"`
	EffectiveStart int `json:"effective_start"`
	EffectiveEnd   int `json:"effective_end"`
	Count          int `json:"count"`
	Displacement   int `json:"displacement"`
}

// Table is the recvcounts/displacements table for an all-gather, indexed by rank.
type Table struct {
	Width  int
	Height int
	Slots  []Slot
}

// BuildTable computes the exchange slot of every rank.
func BuildTable(width, height, workers int) (Table, error) {
	if width < 1 {
		return Table{}, fmt.Errorf("%w: image width must be positive, got %d", ErrInvalidConfig, width)
	}
	if err := Validate(height, workers); err != nil {
		return Table{}, err
	}

	rowBytes := width * BytesPerPixel
	slots := lo.Map(lo.Range(workers), func(rank int, _ int) Slot {
		// Validate above guarantees Plan succeeds for every rank.
		p, _ := Plan(height, workers, rank)
		effStart := p.EffectiveStart()
		effEnd := effStart + p.EffectiveRows()
		return Slot{
			Rank:           rank,
			LocalStart:     p.LocalStart,
			LocalEnd:       p.LocalEnd(),
			EffectiveStart: effStart,
			EffectiveEnd:   effEnd,
			Count:          (effEnd - effStart) * rowBytes,
			Displacement:   effStart * rowBytes,
		}
	})

	return Table{Width: width, Height: height, Slots: slots}, nil
}

// Size is the number of ranks in the table.
func (t Table) Size() int {
	return len(t.Slots)
}

// Slot returns the slot of rank.
func (t Table) Slot(rank int) Slot {
	return t.Slots[rank]
}

// TotalBytes is the full image size the table addresses.
func (t Table) TotalBytes() int {
	return t.Width * t.Height * BytesPerPixel
}

// GatheredBytes is the sum of all counts: the interior rows of the image.
func (t Table) GatheredBytes() int {
	return lo.SumBy(t.Slots, func(s Slot) int { return s.Count })
}

// Recvcounts returns the per-rank byte counts.
func (t Table) Recvcounts() []int {
	return lo.Map(t.Slots, func(s Slot, _ int) int { return s.Count })
}

// Displacements returns the per-rank byte offsets.
func (t Table) Displacements() []int {
	return lo.Map(t.Slots, func(s Slot, _ int) int { return s.Displacement })
}

// Check verifies that a contribution of n bytes from rank matches the table.
func (t Table) Check(rank, n int) error {
	if rank < 0 || rank >= len(t.Slots) {
		return fmt.Errorf("rank %d out of range [0, %d)", rank, len(t.Slots))
	}
	if want := t.Slots[rank].Count; n != want {
		return fmt.Errorf("rank %d contributed %d bytes, table expects %d", rank, n, want)
	}
	return nil
}
