// Package noise adds salt-and-pepper noise to images, producing test inputs
// for the denoisers. Randomness comes only from the seed passed in, so the
// same seed always yields the same image.
package noise

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/dyluth/diffuse/pkg/raster"
)

// ErrInvalidProbability is returned for a probability outside [0, 1].
var ErrInvalidProbability = errors.New("noise probability must be between 0 and 1")

// ValidateProbability rejects probabilities outside [0, 1], including NaN.
func ValidateProbability(prob float64) error {
	if !(prob >= 0 && prob <= 1) {
		return fmt.Errorf("%w, got %v", ErrInvalidProbability, prob)
	}
	return nil
}

// SaltAndPepper returns a copy of img in which each pixel independently
// becomes white with probability prob/2 and black with probability prob/2.
// All three channels of an affected pixel are set together.
func SaltAndPepper(img *raster.Image, prob float64, seed uint64) (*raster.Image, error) {
	if err := ValidateProbability(prob); err != nil {
		return nil, err
	}
	if err := img.Validate(); err != nil {
		return nil, fmt.Errorf("invalid input image: %w", err)
	}

	rng := rand.New(rand.NewPCG(seed, seed))
	out := img.Clone()
	for y := 0; y < out.Height; y++ {
		for x := 0; x < out.Width; x++ {
			r := rng.Float64()
			switch {
			case r < prob/2:
				out.SetPixel(y, x, 255, 255, 255)
			case r < prob:
				out.SetPixel(y, x, 0, 0, 0)
			}
		}
	}
	return out, nil
}
