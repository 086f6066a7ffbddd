package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dyluth/diffuse/internal/median"
	"github.com/dyluth/diffuse/internal/partition"
	"github.com/dyluth/diffuse/internal/printer"
	"github.com/spf13/cobra"
)

var (
	medianWorkers int
	medianThreads int
)

var medianCmd = &cobra.Command{
	Use:   "median <input.ppm> <output.ppm>",
	Short: "Denoise an image with a 3x3 median filter",
	Long: `Apply a 3x3 per-channel median filter to a binary PPM (P6) image.

The filter is the classical baseline for salt-and-pepper noise. Rows are
split across --workers in-process workers exactly like 'diffuse run', with a
single exchange at the end. Border pixels are copied unchanged.

Examples:
  diffuse median noisy.ppm median.ppm --workers 4`,
	Args: cobra.ExactArgs(2),
	RunE: runMedian,
}

func init() {
	medianCmd.Flags().IntVarP(&medianWorkers, "workers", "w", 0, "Number of workers (default from config, 1)")
	medianCmd.Flags().IntVarP(&medianThreads, "threads", "t", 0, "Filter goroutines per worker (default from config, GOMAXPROCS)")
	rootCmd.AddCommand(medianCmd)
}

func runMedian(cmd *cobra.Command, args []string) error {
	totalStart := time.Now()

	cfg, err := loadConfig()
	if err != nil {
		return printer.Error("invalid configuration", err.Error(), []string{fmt.Sprintf("Check %s or pass --config <path>", configPath)})
	}
	workers := cfg.Workers()
	if cmd.Flags().Changed("workers") {
		workers = medianWorkers
	}
	threads := cfg.Threads()
	if cmd.Flags().Changed("threads") {
		threads = medianThreads
	}

	img, err := loadInput(args[0])
	if err != nil {
		return err
	}

	computeStart := time.Now()
	out, err := median.RunLocal(context.Background(), img, workers, threads)
	if err != nil {
		if errors.Is(err, partition.ErrInvalidConfig) {
			return printer.Error(
				"invalid median configuration",
				err.Error(),
				[]string{
					"Use at most one worker per image row",
					"Pass positive --workers and non-negative --threads values",
				},
			)
		}
		return fmt.Errorf("median filter failed: %w", err)
	}
	printer.Timing("Computation time", time.Since(computeStart))

	if err := writeOutput(args[1], out); err != nil {
		return err
	}
	printer.Timing("Total execution time", time.Since(totalStart))

	return nil
}
