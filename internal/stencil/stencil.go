// Package stencil implements the edge-aware diffusion update for a single
// interior pixel channel.
//
// Each output value depends only on the snapshot it reads from, never on other
// outputs of the same round, so the update can be applied to any set of pixels
// in any order or in parallel.
package stencil

import (
	"math"

	"github.com/dyluth/diffuse/pkg/raster"
)

const (
	// Sigma is the width of the Gaussian intensity kernel.
	Sigma float32 = 20.0

	// Threshold is the edge strength above which a pixel is replaced by the
	// smoothed value instead of blended toward it.
	Threshold float32 = 20.0
)

// twoSigmaSq is 2*Sigma^2, computed in single precision.
var twoSigmaSq = 2 * Sigma * Sigma

// Weight returns the Gaussian weight of a neighbour whose intensity differs
// from the centre by diff.
func Weight(diff float32) float32 {
	return float32(math.Exp(float64(-(diff * diff) / twoSigmaSq)))
}

// Update computes the next value of channel c at (y, x). Only interior pixels
// (1 <= y <= Height-2, 1 <= x <= Width-2) are valid inputs.
//
// Arithmetic is single precision. Explicit float32 conversions keep the
// compiler from fusing multiply-adds, so results are identical on every
// architecture.
func Update(snap *raster.Image, y, x, c int, alpha float32) uint8 {
	w := snap.Width
	pix := snap.Pix
	idx := (y*w+x)*raster.Channels + c
	center := float32(pix[idx])

	neighbors := [4]float32{
		float32(pix[idx-w*raster.Channels]), // up
		float32(pix[idx+w*raster.Channels]), // down
		float32(pix[idx-raster.Channels]),   // left
		float32(pix[idx+raster.Channels]),   // right
	}

	var weightSum, weighted float32
	for _, n := range neighbors {
		wt := Weight(n - center)
		weightSum += wt
		weighted += float32(wt * n)
	}

	smooth := weighted / weightSum
	edge := smooth - center
	if edge < 0 {
		edge = -edge
	}

	var result float32
	if edge > Threshold {
		result = smooth
	} else {
		result = center + float32(alpha*(smooth-center))
	}

	return clamp(result)
}

// Apply writes Update for every interior column and channel of rows
// [rowStart, rowEnd) of src into dst. src is never written.
func Apply(src, dst *raster.Image, rowStart, rowEnd int, alpha float32) {
	for y := rowStart; y < rowEnd; y++ {
		for x := 1; x < src.Width-1; x++ {
			base := (y*src.Width + x) * raster.Channels
			for c := 0; c < raster.Channels; c++ {
				dst.Pix[base+c] = Update(src, y, x, c, alpha)
			}
		}
	}
}

// clamp limits v to [0, 255] and truncates toward zero.
func clamp(v float32) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
