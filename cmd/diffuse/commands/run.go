package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dyluth/diffuse/internal/diffusion"
	"github.com/dyluth/diffuse/internal/printer"
	"github.com/dyluth/diffuse/internal/rank"
	"github.com/dyluth/diffuse/pkg/raster"
	"github.com/spf13/cobra"
)

var (
	runWorkers int
	runThreads int
	runVerbose bool
)

var runCmd = &cobra.Command{
	Use:   "run " + rank.Usage,
	Short: "Denoise an image with in-process workers",
	Long: `Denoise a binary PPM (P6) image.

The image rows are split across --workers workers running in this process.
Every iteration each worker updates its own rows, then all workers exchange
their rows so the next iteration sees the whole image. The output is
identical to 'diffuse serial' for any worker count.

Examples:
  # Four workers, 100 iterations
  diffuse run noisy.ppm clean.ppm 0.2 100 --workers 4

  # Worker and thread counts from diffuse.yml
  diffuse run noisy.ppm clean.ppm 0.2 100 --config diffuse.yml`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().IntVarP(&runWorkers, "workers", "w", 0, "Number of workers (default from config, 1)")
	runCmd.Flags().IntVarP(&runThreads, "threads", "t", 0, "Stencil goroutines per worker (default from config, GOMAXPROCS)")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Print progress after every iteration")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	totalStart := time.Now()

	parsed, err := parseRunArgs(args)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return printer.Error(
			"invalid configuration",
			err.Error(),
			[]string{fmt.Sprintf("Check %s or pass --config <path>", configPath)},
		)
	}

	workers := cfg.Workers()
	if cmd.Flags().Changed("workers") {
		workers = runWorkers
	}
	threads := cfg.Threads()
	if cmd.Flags().Changed("threads") {
		threads = runThreads
	}

	img, err := loadInput(parsed.InputPath)
	if err != nil {
		return err
	}

	var opts []diffusion.Option
	if runVerbose {
		opts = append(opts, diffusion.WithObserver(func(p diffusion.Progress) {
			if p.Rank == 0 {
				printer.Step("Round %d/%d complete (%dms)\n", p.Round, p.Iterations, p.Elapsed.Milliseconds())
			}
		}))
	}

	computeStart := time.Now()
	out, err := diffusion.RunLocal(context.Background(), img, parsed.Params(threads), workers, opts...)
	if err != nil {
		if errors.Is(err, diffusion.ErrInvalidConfig) {
			return printer.Error(
				"invalid run configuration",
				err.Error(),
				[]string{
					"Use at most one worker per image row",
					"Pass positive --workers and non-negative --threads values",
				},
			)
		}
		return fmt.Errorf("run failed: %w", err)
	}
	printer.Timing("Computation time", time.Since(computeStart))

	if err := writeOutput(parsed.OutputPath, out); err != nil {
		return err
	}
	printer.Timing("Total execution time", time.Since(totalStart))

	return nil
}

// parseRunArgs parses the four positional arguments shared by run and serial.
func parseRunArgs(args []string) (rank.Args, error) {
	parsed, err := rank.ParseArgs(args)
	if err != nil {
		return rank.Args{}, printer.Error(
			"invalid arguments",
			err.Error(),
			[]string{fmt.Sprintf("Usage: diffuse run %s", rank.Usage)},
		)
	}
	return parsed, nil
}

func loadInput(path string) (*raster.Image, error) {
	img, err := raster.ReadFile(path)
	if err != nil {
		if errors.Is(err, raster.ErrFormat) {
			return nil, printer.Error(
				"unsupported input image",
				err.Error(),
				[]string{"Only binary PPM (P6) images with maxval 255 are supported"},
			)
		}
		return nil, printer.Error(
			"failed to read input image",
			err.Error(),
			[]string{"Check that the input path exists and is readable"},
		)
	}
	return img, nil
}

func writeOutput(path string, img *raster.Image) error {
	if err := raster.WriteFile(path, img); err != nil {
		return printer.Error(
			"failed to write output image",
			err.Error(),
			[]string{"Check that the output directory exists and is writable"},
		)
	}
	return nil
}
