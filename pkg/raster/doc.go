// Package raster provides the in-memory RGB pixel grid that every diffusion
// component operates on, plus a codec for the binary PPM (P6) format.
//
// # Layout
//
// Pixels are stored as interleaved R,G,B bytes in row-major order, top row first:
//
//	offset(y, x, c) = (y*Width + x)*3 + c
//
// The buffer length is always Width*Height*3 and is never resized after
// construction. A contiguous run of rows is therefore a contiguous byte range,
// which is what lets the exchange protocol address a worker's band as a single
// (displacement, count) pair.
//
// # Usage Example
//
//	img, err := raster.ReadFile("noisy.ppm")
//	if err != nil {
//		log.Fatal(err)
//	}
//	img.Set(0, 0, raster.Red, 255)
//	if err := raster.WriteFile("out.ppm", img); err != nil {
//		log.Fatal(err)
//	}
package raster
