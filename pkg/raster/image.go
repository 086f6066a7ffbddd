package raster

import (
	"fmt"
	"math"
)

// Channels is the number of interleaved channels per pixel.
const Channels = 3

// Channel indices within a pixel.
const (
	Red   = 0
	Green = 1
	Blue  = 2
)

// MaxPixels caps Width*Height so that a header can never request more than
// 768 MiB of pixel data.
const MaxPixels = 1 << 28

// Image is a fixed-size RGB raster.
// Pix holds Width*Height*Channels bytes, row-major, channels interleaved.
type Image struct {
	Width  int
	Height int
	Pix    []uint8
}

// New allocates a zeroed image. Both dimensions must be positive.
func New(width, height int) (*Image, error) {
	if err := checkDimensions(width, height); err != nil {
		return nil, err
	}

	return &Image{
		Width:  width,
		Height: height,
		Pix:    make([]uint8, width*height*Channels),
	}, nil
}

// FromPixels wraps an existing pixel buffer after checking its length.
// The buffer is used directly, not copied.
func FromPixels(width, height int, pix []uint8) (*Image, error) {
	img := &Image{Width: width, Height: height, Pix: pix}
	if err := img.Validate(); err != nil {
		return nil, err
	}
	return img, nil
}

// Validate checks the dimension and buffer length invariants.
func (m *Image) Validate() error {
	if err := checkDimensions(m.Width, m.Height); err != nil {
		return err
	}

	if want := m.Width * m.Height * Channels; len(m.Pix) != want {
		return fmt.Errorf("pixel buffer length %d does not match %dx%d RGB image (want %d)", len(m.Pix), m.Width, m.Height, want)
	}

	return nil
}

// checkDimensions rejects non-positive sizes and sizes whose byte count would
// overflow int or exceed MaxPixels.
func checkDimensions(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid image dimensions %dx%d: width and height must be positive", width, height)
	}
	if width > math.MaxInt/Channels/height || width*height > MaxPixels {
		return fmt.Errorf("invalid image dimensions %dx%d: more than %d pixels", width, height, MaxPixels)
	}
	return nil
}

// Len returns the size of the pixel buffer in bytes.
func (m *Image) Len() int {
	return m.Width * m.Height * Channels
}

// RowBytes returns the number of bytes in one row.
func (m *Image) RowBytes() int {
	return m.Width * Channels
}

// Offset returns the index of channel c of pixel (y, x) in Pix.
func (m *Image) Offset(y, x, c int) int {
	return (y*m.Width+x)*Channels + c
}

// At returns channel c of pixel (y, x).
func (m *Image) At(y, x, c int) uint8 {
	return m.Pix[m.Offset(y, x, c)]
}

// Set stores v in channel c of pixel (y, x).
func (m *Image) Set(y, x, c int, v uint8) {
	m.Pix[m.Offset(y, x, c)] = v
}

// SetPixel stores all three channels of pixel (y, x).
func (m *Image) SetPixel(y, x int, r, g, b uint8) {
	i := m.Offset(y, x, 0)
	m.Pix[i] = r
	m.Pix[i+1] = g
	m.Pix[i+2] = b
}

// Rows returns the contiguous byte range covering rows [start, end).
// The returned slice aliases Pix.
func (m *Image) Rows(start, end int) []byte {
	rb := m.RowBytes()
	return m.Pix[start*rb : end*rb]
}

// Clone returns a deep copy of the image.
func (m *Image) Clone() *Image {
	pix := make([]uint8, len(m.Pix))
	copy(pix, m.Pix)
	return &Image{Width: m.Width, Height: m.Height, Pix: pix}
}

// CopyFrom overwrites m with the pixels of src. Dimensions must match.
func (m *Image) CopyFrom(src *Image) error {
	if src.Width != m.Width || src.Height != m.Height {
		return fmt.Errorf("cannot copy %dx%d image into %dx%d image", src.Width, src.Height, m.Width, m.Height)
	}
	copy(m.Pix, src.Pix)
	return nil
}

// Fill sets every pixel to the given colour.
func (m *Image) Fill(r, g, b uint8) {
	for i := 0; i < len(m.Pix); i += Channels {
		m.Pix[i] = r
		m.Pix[i+1] = g
		m.Pix[i+2] = b
	}
}
