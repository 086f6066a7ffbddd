// Package report renders partition tables and round progress for the CLI.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/dyluth/diffuse/internal/partition"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
)

// OutputFormat specifies how command output is rendered.
type OutputFormat string

const (
	// OutputFormatDefault renders human-readable tables and lines
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSONL renders one JSON object per line
	OutputFormatJSONL OutputFormat = "jsonl"
)

// ParseOutputFormat validates a user-supplied format name.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(s); f {
	case OutputFormatDefault, OutputFormatJSONL:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format: %s (must be 'default' or 'jsonl')", s)
	}
}

// WritePlan renders the exchange table in the requested format.
func WritePlan(w io.Writer, table partition.Table, format OutputFormat) error {
	switch format {
	case OutputFormatDefault:
		return FormatPlanTable(w, table)
	case OutputFormatJSONL:
		return FormatPlanJSONL(w, table)
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}

// FormatPlanTable writes one table row per rank followed by a summary line.
func FormatPlanTable(w io.Writer, table partition.Table) error {
	fmt.Fprintf(w, "Plan for %dx%d image across %d workers:\n\n", table.Width, table.Height, table.Size())

	tw := tablewriter.NewWriter(w)
	tw.Header("RANK", "ROWS", "EFFECTIVE", "RECVCOUNT", "DISPLACEMENT")
	for _, s := range table.Slots {
		row := []string{
			strconv.Itoa(s.Rank),
			formatRange(s.LocalStart, s.LocalEnd),
			formatRange(s.EffectiveStart, s.EffectiveEnd),
			strconv.Itoa(s.Count),
			strconv.Itoa(s.Displacement),
		}
		if err := tw.Append(row); err != nil {
			return fmt.Errorf("failed to append plan row: %w", err)
		}
	}
	if err := tw.Render(); err != nil {
		return fmt.Errorf("failed to render plan table: %w", err)
	}

	idle := lo.CountBy(table.Slots, func(s partition.Slot) bool { return s.Count == 0 })
	fmt.Fprintf(w, "\n%d of %d bytes exchanged per round", table.GatheredBytes(), table.TotalBytes())
	if idle > 0 {
		fmt.Fprintf(w, " (%d %s with no interior rows)", idle, pluralize(idle, "rank", "ranks"))
	}
	fmt.Fprintln(w)
	return nil
}

// FormatPlanJSONL writes each slot as a single JSON object on its own line.
func FormatPlanJSONL(w io.Writer, table partition.Table) error {
	enc := json.NewEncoder(w)
	for _, s := range table.Slots {
		if err := enc.Encode(s); err != nil {
			return fmt.Errorf("failed to encode slot %d: %w", s.Rank, err)
		}
	}
	return nil
}

func formatRange(start, end int) string {
	if end <= start {
		return "-"
	}
	return fmt.Sprintf("[%d,%d)", start, end)
}

func pluralize(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
