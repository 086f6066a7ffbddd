package commands

import (
	"strconv"

	"github.com/dyluth/diffuse/internal/noise"
	"github.com/dyluth/diffuse/internal/printer"
	"github.com/spf13/cobra"
)

var noiseSeed uint64

var noiseCmd = &cobra.Command{
	Use:   "noise <input.ppm> <output.ppm> <probability>",
	Short: "Add salt-and-pepper noise to an image",
	Long: `Add salt-and-pepper noise to a binary PPM (P6) image.

Each pixel independently turns white with probability p/2 and black with
probability p/2. The probability must be between 0 and 1. The output depends
only on the input and --seed, so noisy test images can be reproduced.

Examples:
  diffuse noise clean.ppm noisy.ppm 0.05
  diffuse noise clean.ppm noisy.ppm 0.05 --seed 1234`,
	Args: cobra.ExactArgs(3),
	RunE: runNoise,
}

func init() {
	noiseCmd.Flags().Uint64Var(&noiseSeed, "seed", 1, "Random seed")
	rootCmd.AddCommand(noiseCmd)
}

func runNoise(cmd *cobra.Command, args []string) error {
	prob, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		return printer.Error(
			"invalid arguments",
			"noise probability "+strconv.Quote(args[2])+" is not a number",
			[]string{"Usage: diffuse noise <input.ppm> <output.ppm> <probability>"},
		)
	}
	if err := noise.ValidateProbability(prob); err != nil {
		return printer.Error("invalid arguments", err.Error(), []string{"Pass a probability such as 0.05"})
	}

	img, err := loadInput(args[0])
	if err != nil {
		return err
	}

	out, err := noise.SaltAndPepper(img, prob, noiseSeed)
	if err != nil {
		return err
	}
	if err := writeOutput(args[1], out); err != nil {
		return err
	}

	printer.Success("Salt-and-pepper noise added (p=%g, seed=%d)\n", prob, noiseSeed)
	return nil
}
