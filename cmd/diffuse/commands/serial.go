package commands

import (
	"fmt"
	"time"

	"github.com/dyluth/diffuse/internal/diffusion"
	"github.com/dyluth/diffuse/internal/printer"
	"github.com/dyluth/diffuse/internal/rank"
	"github.com/spf13/cobra"
)

var serialCmd = &cobra.Command{
	Use:   "serial " + rank.Usage,
	Short: "Denoise an image in a single worker without exchange",
	Long: `Denoise an image with the single-worker reference implementation.

Distributed runs must reproduce this output byte for byte, which makes it
the baseline for checking 'diffuse run' and 'rank' results.`,
	RunE: runSerial,
}

func init() {
	rootCmd.AddCommand(serialCmd)
}

func runSerial(cmd *cobra.Command, args []string) error {
	totalStart := time.Now()

	parsed, err := parseRunArgs(args)
	if err != nil {
		return err
	}

	img, err := loadInput(parsed.InputPath)
	if err != nil {
		return err
	}

	computeStart := time.Now()
	out, err := diffusion.Serial(img, parsed.Params(1))
	if err != nil {
		return fmt.Errorf("serial run failed: %w", err)
	}
	printer.Timing("Computation time", time.Since(computeStart))

	if err := writeOutput(parsed.OutputPath, out); err != nil {
		return err
	}
	printer.Timing("Total execution time", time.Since(totalStart))

	return nil
}
